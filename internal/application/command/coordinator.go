// Package command contains the write side of the engine. Every state change
// goes through the Coordinator, which runs it as one store transaction,
// retries it when a concurrent commit wins the race, and publishes the
// resulting events only after the commit succeeded.
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/housecup/points-engine/internal/domain/ledger"
	"github.com/housecup/points-engine/internal/domain/shared"
	"github.com/housecup/points-engine/internal/infrastructure/metrics"
	"github.com/housecup/points-engine/pkg/logger"
	"github.com/housecup/points-engine/pkg/retry"
	"github.com/housecup/points-engine/pkg/uid"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// CoordinatorConfig controls the conflict retry loop.
type CoordinatorConfig struct {
	// MaxAttempts is the number of transaction attempts before giving up
	// with ErrContention. Default: 4.
	MaxAttempts int

	// InitialBackoff is the delay after the first conflict. Default: 5ms.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential backoff. Default: 200ms.
	MaxBackoff time.Duration

	// Jitter randomises each delay by ±Jitter. Default: 0.5.
	Jitter float64
}

// DefaultCoordinatorConfig returns the default retry settings.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		MaxAttempts:    4,
		InitialBackoff: 5 * time.Millisecond,
		MaxBackoff:     200 * time.Millisecond,
		Jitter:         0.5,
	}
}

// Option customises a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the time source used for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// WithIDGenerator overrides how ledger event and item ids are generated.
func WithIDGenerator(newID func() string) Option {
	return func(c *Coordinator) {
		c.newID = newID
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// COORDINATOR
// ══════════════════════════════════════════════════════════════════════════════

// Coordinator is the only holder of write access to the ledger store.
type Coordinator struct {
	store     ledger.Store
	catalog   ledger.Catalog
	publisher shared.EventPublisher
	logger    *slog.Logger
	config    CoordinatorConfig

	now   func() time.Time
	newID func() string
}

// NewCoordinator creates a Coordinator. catalog may be nil if catalog
// commands are not served; publisher may be nil in tools that do not fan
// out events.
func NewCoordinator(
	store ledger.Store,
	catalog ledger.Catalog,
	publisher shared.EventPublisher,
	log *slog.Logger,
	config CoordinatorConfig,
	opts ...Option,
) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	defaults := DefaultCoordinatorConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = defaults.InitialBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}
	if config.Jitter < 0 {
		config.Jitter = 0
	}

	c := &Coordinator{
		store:     store,
		catalog:   catalog,
		publisher: publisher,
		logger:    log.With(logger.Component("coordinator")),
		config:    config,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uid.NewOrdered,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// txBody is one attempt of an operation. It returns the events to publish
// once the attempt has committed.
type txBody func(ctx context.Context, tx ledger.Tx) ([]shared.Event, error)

// execute runs body in a transaction, retrying on ErrConflict. Events from
// the committed attempt are published after the commit; events from failed
// attempts are discarded.
func (c *Coordinator) execute(ctx context.Context, op string, body txBody) error {
	start := time.Now()
	log := c.logger.With(logger.Operation(op))

	var events []shared.Event
	attempts := 0
	policy := retry.Policy{
		MaxAttempts: c.config.MaxAttempts,
		Initial:     c.config.InitialBackoff,
		Max:         c.config.MaxBackoff,
		Jitter:      c.config.Jitter,
		RetryIf:     shared.IsConflict,
		OnRetry: func(attempt int, _ error, delay time.Duration) {
			log.Debug("transaction conflict, retrying", logger.Attempt(attempt), slog.Duration("backoff", delay))
		},
	}

	err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		attempts = attempt
		events = nil
		err := c.store.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
			ev, err := body(ctx, tx)
			if err != nil {
				return err
			}
			events = ev
			return nil
		})
		if shared.IsConflict(err) {
			metrics.ConflictsTotal.WithLabelValues(op).Inc()
		}
		return err
	})

	switch {
	case err == nil:
	case retry.IsExhausted(err) && shared.IsConflict(err):
		log.Warn("giving up after repeated conflicts", logger.Attempt(attempts))
		err = shared.WrapError("ledger", op, shared.ErrContention,
			fmt.Sprintf("gave up after %d conflicting attempts", attempts), err)
	case shared.IsConflict(err) && ctx.Err() != nil:
		// Cancelled while backing off between attempts.
		err = ctx.Err()
	}

	metrics.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	metrics.OperationsTotal.WithLabelValues(op, outcome(err)).Inc()

	if err != nil {
		if outcome(err) == metrics.OutcomeError {
			log.Error("operation failed", logger.Err(err), logger.Latency(time.Since(start)))
		}
		return err
	}

	c.publish(log, events)
	return nil
}

// publish hands committed events to the bus. The commit already happened,
// so a failed publish is logged and not returned.
func (c *Coordinator) publish(log *slog.Logger, events []shared.Event) {
	if c.publisher == nil {
		return
	}
	for _, ev := range events {
		if err := c.publisher.Publish(ev); err != nil {
			log.Warn("failed to publish event",
				slog.String("event_type", string(ev.EventType())),
				slog.String("aggregate_id", ev.AggregateID()),
				logger.Err(err),
			)
		}
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case shared.IsContention(err):
		return metrics.OutcomeContention
	case shared.IsValidation(err), shared.IsPrecondition(err), shared.IsNotFound(err),
		shared.IsForbidden(err), shared.IsAlreadyExists(err):
		return metrics.OutcomeRejected
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return metrics.OutcomeRejected
	default:
		return metrics.OutcomeError
	}
}
