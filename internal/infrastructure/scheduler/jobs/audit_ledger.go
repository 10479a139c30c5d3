package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/housecup/points-engine/internal/application/query"
	"github.com/housecup/points-engine/internal/domain/shared"
	"github.com/housecup/points-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// AUDIT LEDGER JOB
// ══════════════════════════════════════════════════════════════════════════════

// Auditor rebuilds the aggregates from the ledger and reports drift.
type Auditor interface {
	AuditLedger(ctx context.Context) (*query.AuditReport, error)
}

// AuditLedgerName is the job's registered name.
const AuditLedgerName = "audit_ledger"

// AuditLedgerJob runs the ledger audit and publishes one event per drifted
// counter. It never repairs.
type AuditLedgerJob struct {
	auditor   Auditor
	publisher shared.EventPublisher
	logger    *slog.Logger
	timeout   time.Duration
}

// NewAuditLedgerJob creates the job. publisher may be nil.
func NewAuditLedgerJob(auditor Auditor, publisher shared.EventPublisher, log *slog.Logger, timeout time.Duration) *AuditLedgerJob {
	if log == nil {
		log = slog.Default()
	}
	return &AuditLedgerJob{
		auditor:   auditor,
		publisher: publisher,
		logger:    log.With(logger.Component("job"), slog.String("job", AuditLedgerName)),
		timeout:   timeout,
	}
}

// Name implements scheduler.Job.
func (j *AuditLedgerJob) Name() string { return AuditLedgerName }

// Description implements scheduler.Job.
func (j *AuditLedgerJob) Description() string {
	return "Rebuilds counters from the award and purchase ledgers and reports drift"
}

// Run implements scheduler.Job. Drift is not an error: the job succeeded in
// finding it.
func (j *AuditLedgerJob) Run(ctx context.Context) error {
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	report, err := j.auditor.AuditLedger(ctx)
	if err != nil {
		return err
	}
	if j.publisher == nil {
		return nil
	}
	for _, d := range report.Drifts {
		ev := shared.NewLedgerDriftEvent(d.Kind, d.ID, d.Counter, d.Stored, d.Expected, report.CheckedAt)
		if err := j.publisher.Publish(ev); err != nil {
			j.logger.Warn("publish drift event failed", slog.String("id", d.ID), logger.Err(err))
		}
	}
	return nil
}
