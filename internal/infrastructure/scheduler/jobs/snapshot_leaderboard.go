// Package jobs contains the engine's scheduled jobs.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/housecup/points-engine/internal/domain/leaderboard"
	"github.com/housecup/points-engine/internal/domain/shared"
	"github.com/housecup/points-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT LEADERBOARD JOB
// ══════════════════════════════════════════════════════════════════════════════

// SnapshotSource ranks every scope as of now.
type SnapshotSource interface {
	Snapshots(ctx context.Context) ([]leaderboard.Snapshot, error)
}

// SnapshotLeaderboardJob stores the current ranking of every scope. The
// stored snapshot is what later rankings compare against for trends.
type SnapshotLeaderboardJob struct {
	source    SnapshotSource
	store     leaderboard.SnapshotStore
	publisher shared.EventPublisher
	logger    *slog.Logger
	timeout   time.Duration
}

// NewSnapshotLeaderboardJob creates the job. publisher may be nil.
func NewSnapshotLeaderboardJob(
	source SnapshotSource,
	store leaderboard.SnapshotStore,
	publisher shared.EventPublisher,
	log *slog.Logger,
	timeout time.Duration,
) *SnapshotLeaderboardJob {
	if log == nil {
		log = slog.Default()
	}
	return &SnapshotLeaderboardJob{
		source:    source,
		store:     store,
		publisher: publisher,
		logger:    log.With(logger.Component("job"), slog.String("job", SnapshotLeaderboardName)),
		timeout:   timeout,
	}
}

// SnapshotLeaderboardName is the job's registered name.
const SnapshotLeaderboardName = "snapshot_leaderboard"

// Name implements scheduler.Job.
func (j *SnapshotLeaderboardJob) Name() string { return SnapshotLeaderboardName }

// Description implements scheduler.Job.
func (j *SnapshotLeaderboardJob) Description() string {
	return "Stores the current house and student rankings as the trend baseline"
}

// Run implements scheduler.Job. Every scope is attempted; failures are
// joined into the returned error.
func (j *SnapshotLeaderboardJob) Run(ctx context.Context) error {
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	snaps, err := j.source.Snapshots(ctx)
	if err != nil {
		return fmt.Errorf("compute snapshots: %w", err)
	}

	var errs []error
	saved := 0
	for _, snap := range snaps {
		if err := j.store.Save(ctx, snap); err != nil {
			errs = append(errs, fmt.Errorf("save %s: %w", snap.Scope, err))
			continue
		}
		saved++
		if j.publisher != nil {
			if err := j.publisher.Publish(shared.NewSnapshotTakenEvent(string(snap.Scope), len(snap.Ranks), snap.TakenAt)); err != nil {
				j.logger.Warn("publish snapshot event failed", slog.String("scope", string(snap.Scope)), logger.Err(err))
			}
		}
	}

	j.logger.Info("leaderboard snapshots stored", "saved", saved, "scopes", len(snaps))
	return errors.Join(errs...)
}
