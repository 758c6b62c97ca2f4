package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/boddenberg/phase-lifecycle-go/internal/domain"
	"github.com/boddenberg/phase-lifecycle-go/internal/infra/observability"
	"github.com/boddenberg/phase-lifecycle-go/internal/port"
	"github.com/boddenberg/phase-lifecycle-go/internal/program"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// errNoChange rolls back a unit that turned out to need no write, so the
// subscriber lock taken at the start of the transaction leaves no trace.
var errNoChange = errors.New("no change")

type unitResult int

const (
	unitSkipped unitResult = iota
	unitUpdated
	unitFailed
)

// TransitionScheduler advances every active subscriber to the phase the
// blueprint (or the early-exit rule) expects. Each subscriber is one unit
// committed in its own transaction; a failing unit is counted and the batch
// moves on.
type TransitionScheduler struct {
	store      port.PhaseStore
	blueprint  *program.Blueprint
	clock      port.Clock
	archiver   port.RunArchiver
	dispatcher *NotificationDispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	workers    int

	// runMu keeps runs from overlapping when the loop and the admin trigger
	// fire together.
	runMu sync.Mutex
}

// SchedulerOption configures optional collaborators.
type SchedulerOption func(*TransitionScheduler)

// WithArchiver stores every run report through a.
func WithArchiver(a port.RunArchiver) SchedulerOption {
	return func(s *TransitionScheduler) { s.archiver = a }
}

// WithDispatcher drains the notification outbox after each run.
func WithDispatcher(d *NotificationDispatcher) SchedulerOption {
	return func(s *TransitionScheduler) { s.dispatcher = d }
}

// NewTransitionScheduler creates the scheduler. workers bounds the number of
// subscribers processed concurrently.
func NewTransitionScheduler(
	store port.PhaseStore,
	blueprint *program.Blueprint,
	clock port.Clock,
	workers int,
	metrics *observability.Metrics,
	logger *zap.Logger,
	opts ...SchedulerOption,
) *TransitionScheduler {
	if workers < 1 {
		workers = 1
	}
	s := &TransitionScheduler{
		store:     store,
		blueprint: blueprint,
		clock:     clock,
		workers:   workers,
		metrics:   metrics,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run evaluates every active subscriber once. Per-subscriber failures are
// only counted; the error is non-nil only when the subscriber list cannot be
// read, in which case nothing was processed.
//
// Cancelling ctx stops new units from starting. Units already inside their
// transaction commit or roll back as a whole.
func (s *TransitionScheduler) Run(ctx context.Context) (domain.RunReport, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	ctx, span := tracer.Start(ctx, "TransitionScheduler.Run")
	defer span.End()

	now := s.clock.Now()
	report := domain.RunReport{RunID: uuid.New().String(), StartedAt: now}
	span.SetAttributes(attribute.String("run.id", report.RunID))
	log := s.logger.With(zap.String("run_id", report.RunID))

	subs, err := s.store.FindActiveSubscribers(ctx)
	if err != nil {
		report.FinishedAt = s.clock.Now()
		s.metrics.RecordRun(report, "aborted")
		span.RecordError(err)
		log.Error("scheduler run aborted: cannot list subscribers", zap.Error(err))

		var ie *domain.ErrInfrastructure
		if !errors.As(err, &ie) {
			err = &domain.ErrInfrastructure{Op: "scheduler: list subscribers", Err: err}
		}
		return report, err
	}

	var updated, skipped, failed atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(s.workers)
	for i := range subs {
		if ctx.Err() != nil {
			report.Cancelled = true
			break
		}
		sub := subs[i]
		g.Go(func() error {
			switch s.processSubscriber(ctx, log, sub, now) {
			case unitUpdated:
				updated.Add(1)
			case unitFailed:
				failed.Add(1)
			default:
				skipped.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Updated = int(updated.Load())
	report.Skipped = int(skipped.Load())
	report.Failed = int(failed.Load())
	report.Processed = report.Updated + report.Skipped + report.Failed
	report.FinishedAt = s.clock.Now()

	outcome := "completed"
	if report.Cancelled {
		outcome = "cancelled"
	}
	s.metrics.RecordRun(report, outcome)
	span.SetAttributes(
		attribute.Int("run.processed", report.Processed),
		attribute.Int("run.updated", report.Updated),
		attribute.Int("run.failed", report.Failed),
	)
	log.Info("scheduler run finished",
		zap.String("outcome", outcome),
		zap.Int("subscribers", len(subs)),
		zap.Int("processed", report.Processed),
		zap.Int("updated", report.Updated),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
	)

	s.afterRun(ctx, log, report)
	return report, nil
}

// afterRun archives the report and drains the outbox, whatever the run
// changed: the outbox also holds override and onboarding notifications and
// earlier failed deliveries. Neither affects the report.
func (s *TransitionScheduler) afterRun(ctx context.Context, log *zap.Logger, report domain.RunReport) {
	if s.archiver != nil {
		archiveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		if err := s.archiver.Archive(archiveCtx, report); err != nil {
			s.metrics.IncrExternalError("archive")
			log.Warn("failed to archive run report", zap.Error(err))
		}
		cancel()
	}
	if s.dispatcher != nil && ctx.Err() == nil {
		if _, err := s.dispatcher.Drain(ctx); err != nil {
			log.Warn("outbox drain failed", zap.Error(err))
		}
	}
}

func (s *TransitionScheduler) processSubscriber(ctx context.Context, log *zap.Logger, snapshot domain.Subscriber, now time.Time) unitResult {
	ctx, span := tracer.Start(ctx, "TransitionScheduler.processSubscriber",
		trace.WithAttributes(attribute.String("subscriber.id", snapshot.ID)))
	defer span.End()

	if snapshot.IsPhaseManual {
		return unitSkipped
	}

	var (
		decision program.Decision
		plan     program.TransitionPlan
	)
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx port.PhaseTx) error {
		sub, err := tx.LockSubscriber(ctx, snapshot.ID)
		if err != nil {
			return err
		}
		// The snapshot may be stale: a coach can lock the subscriber between
		// the listing and this transaction.
		if sub.IsPhaseManual || !sub.IsActive {
			return errNoChange
		}
		history, err := tx.GetPhaseHistory(ctx, sub.ID)
		if err != nil {
			return err
		}
		current := domain.ActivePhase(history)
		if current == nil {
			log.Warn("active subscriber has no active phase", zap.String("subscriber_id", sub.ID))
			return errNoChange
		}

		decision, err = s.blueprint.Decide(sub, current, now)
		if err != nil {
			return err
		}
		if !decision.Transition {
			return errNoChange
		}

		plan, err = applyTransition(ctx, tx, sub, history, decision.Target, now, program.TransitionOptions{
			Duration: durations(s.blueprint.Catalog(), sub.Tier),
		})
		return err
	})

	switch {
	case errors.Is(err, errNoChange):
		return unitSkipped
	case err != nil:
		span.RecordError(err)
		log.Error("phase transition failed",
			zap.String("subscriber_id", snapshot.ID),
			zap.Bool("conflict", isConflict(err)),
			zap.Error(err),
		)
		return unitFailed
	}

	s.metrics.IncrTransition(plan.Previous.Type, plan.Activated.Type, decision.Reason)
	log.Info("phase transition committed",
		zap.String("subscriber_id", snapshot.ID),
		zap.String("phase_from", string(plan.Previous.Type)),
		zap.String("phase_to", string(plan.Activated.Type)),
		zap.String("reason", decision.Reason),
		zap.String("phase_id", plan.Activated.ID),
	)
	return unitUpdated
}

// Start runs the scheduler every interval until ctx is done. runNow triggers
// a run before the first tick.
func (s *TransitionScheduler) Start(ctx context.Context, interval time.Duration, runNow bool) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if runNow {
		s.runLogged(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler loop stopped")
			return
		case <-ticker.C:
			s.runLogged(ctx)
		}
	}
}

func (s *TransitionScheduler) runLogged(ctx context.Context) {
	if _, err := s.Run(ctx); err != nil {
		s.logger.Error("scheduled run failed", zap.Error(err))
	}
}
