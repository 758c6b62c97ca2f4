package service

import (
	"context"
	"strings"
	"time"

	"github.com/boddenberg/phase-lifecycle-go/internal/domain"
	"github.com/boddenberg/phase-lifecycle-go/internal/infra/observability"
	"github.com/boddenberg/phase-lifecycle-go/internal/infra/resilience"
	"github.com/boddenberg/phase-lifecycle-go/internal/port"
	"github.com/boddenberg/phase-lifecycle-go/internal/program"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// OverrideService holds the coach operations that take a subscriber out of
// (or back into) scheduler control. Each call is one transaction that locks
// the subscriber; a concurrency conflict is retried with fresh reads.
type OverrideService struct {
	store   port.PhaseStore
	catalog *program.Catalog
	clock   port.Clock
	retry   resilience.Config
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewOverrideService creates the service. Only MaxRetries and
// InitialBackoff of retry are used.
func NewOverrideService(
	store port.PhaseStore,
	catalog *program.Catalog,
	clock port.Clock,
	retry resilience.Config,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *OverrideService {
	retry.Retryable = isConflict
	return &OverrideService{
		store:   store,
		catalog: catalog,
		clock:   clock,
		retry:   retry,
		metrics: metrics,
		logger:  logger,
	}
}

// EnableManualMode freezes the subscriber's phase until DisableManualMode.
func (o *OverrideService) EnableManualMode(ctx context.Context, subscriberID, reason string) (*domain.Subscriber, error) {
	ctx, span := tracer.Start(ctx, "OverrideService.EnableManualMode")
	defer span.End()
	span.SetAttributes(attribute.String("subscriber.id", subscriberID))

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, &domain.ErrValidation{Field: "reason", Message: "required"}
	}

	var out *domain.Subscriber
	err := o.mutate(ctx, "enable_manual", subscriberID, func(ctx context.Context, tx port.PhaseTx, sub *domain.Subscriber, _ []domain.PhaseRecord, now time.Time) error {
		sub.IsPhaseManual = true
		sub.ManualPhaseReason = reason
		sub.UpdatedAt = now
		if err := tx.UpdateSubscriber(ctx, sub); err != nil {
			return err
		}
		out = sub
		return tx.EnqueueNotification(ctx, domain.Notification{
			ID:           uuid.New().String(),
			SubscriberID: sub.ID,
			Title:        "Suivi personnalisé",
			Body:         "Votre coach pilote désormais vos phases.",
			Category:     domain.NotificationManualMode,
			CreatedAt:    now,
		})
	})
	if err != nil {
		return nil, err
	}

	o.logger.Info("manual mode enabled",
		zap.String("subscriber_id", subscriberID),
		zap.String("reason", reason),
	)
	return out, nil
}

// DisableManualMode hands the subscriber back to the scheduler, which picks
// it up on its next run.
func (o *OverrideService) DisableManualMode(ctx context.Context, subscriberID string) (*domain.Subscriber, error) {
	ctx, span := tracer.Start(ctx, "OverrideService.DisableManualMode")
	defer span.End()
	span.SetAttributes(attribute.String("subscriber.id", subscriberID))

	var out *domain.Subscriber
	err := o.mutate(ctx, "disable_manual", subscriberID, func(ctx context.Context, tx port.PhaseTx, sub *domain.Subscriber, _ []domain.PhaseRecord, now time.Time) error {
		sub.IsPhaseManual = false
		sub.ManualPhaseReason = ""
		sub.UpdatedAt = now
		out = sub
		return tx.UpdateSubscriber(ctx, sub)
	})
	if err != nil {
		return nil, err
	}

	o.logger.Info("manual mode disabled", zap.String("subscriber_id", subscriberID))
	return out, nil
}

// ForcePhase ends the active record and starts a new manual record of type
// phase right away.
//
// Forcing a phase always enables manual mode as well: the scheduler would
// otherwise move the subscriber back to the blueprint phase on its next run.
// Only DisableManualMode releases it.
func (o *OverrideService) ForcePhase(ctx context.Context, subscriberID string, phase domain.PhaseType, note string) (*domain.PhaseRecord, error) {
	ctx, span := tracer.Start(ctx, "OverrideService.ForcePhase")
	defer span.End()
	span.SetAttributes(
		attribute.String("subscriber.id", subscriberID),
		attribute.String("phase.target", string(phase)),
	)

	target, err := domain.ParsePhaseType(string(phase))
	if err != nil {
		return nil, err
	}

	var plan program.TransitionPlan
	err = o.mutate(ctx, "force_phase", subscriberID, func(ctx context.Context, tx port.PhaseTx, sub *domain.Subscriber, history []domain.PhaseRecord, now time.Time) error {
		if !sub.IsPhaseManual {
			sub.IsPhaseManual = true
			sub.ManualPhaseReason = "phase forced to " + string(target)
		}
		var err error
		plan, err = applyTransition(ctx, tx, sub, history, target, now, program.TransitionOptions{
			Manual:    true,
			AdminNote: note,
			Duration:  durations(o.catalog, sub.Tier),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	o.metrics.IncrTransition(plan.Previous.Type, plan.Activated.Type, program.ReasonManual)
	o.logger.Info("phase forced",
		zap.String("subscriber_id", subscriberID),
		zap.String("phase_from", string(plan.Previous.Type)),
		zap.String("phase_to", string(plan.Activated.Type)),
		zap.String("phase_id", plan.Activated.ID),
	)
	return &plan.Activated, nil
}

type mutation func(ctx context.Context, tx port.PhaseTx, sub *domain.Subscriber, history []domain.PhaseRecord, now time.Time) error

// mutate runs fn in a transaction holding the subscriber lock, after checking
// that the subscriber and its active phase exist. Conflicts are retried.
func (o *OverrideService) mutate(ctx context.Context, operation, subscriberID string, fn mutation) error {
	start := time.Now()
	defer func() {
		o.metrics.RecordRequestDuration("override_"+operation, time.Since(start))
	}()

	err := resilience.RetryWithBackoff(ctx, o.retry, func() error {
		return o.store.RunInTx(ctx, func(ctx context.Context, tx port.PhaseTx) error {
			sub, err := tx.LockSubscriber(ctx, subscriberID)
			if err != nil {
				return err
			}
			history, err := tx.GetPhaseHistory(ctx, subscriberID)
			if err != nil {
				return err
			}
			if _, err := activeOrNotFound(subscriberID, history); err != nil {
				return err
			}
			return fn(ctx, tx, sub, history, o.clock.Now())
		})
	})
	if err != nil {
		outcome := "error"
		if isConflict(err) {
			outcome = "conflict"
		}
		o.metrics.IncrOverride(operation, outcome)
		o.logger.Warn("override failed",
			zap.String("operation", operation),
			zap.String("subscriber_id", subscriberID),
			zap.Error(err),
		)
		return err
	}
	o.metrics.IncrOverride(operation, "ok")
	return nil
}
