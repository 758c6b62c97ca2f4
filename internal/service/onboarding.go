package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/boddenberg/phase-lifecycle-go/internal/domain"
	"github.com/boddenberg/phase-lifecycle-go/internal/infra/observability"
	"github.com/boddenberg/phase-lifecycle-go/internal/port"
	"github.com/boddenberg/phase-lifecycle-go/internal/program"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// OnboardingService registers subscribers, lays out their phase plan and
// records the data the scheduler decides on.
type OnboardingService struct {
	store   port.PhaseStore
	catalog *program.Catalog
	clock   port.Clock
	metrics *observability.Metrics
	logger  *zap.Logger
}

func NewOnboardingService(
	store port.PhaseStore,
	catalog *program.Catalog,
	clock port.Clock,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *OnboardingService {
	return &OnboardingService{
		store:   store,
		catalog: catalog,
		clock:   clock,
		metrics: metrics,
		logger:  logger,
	}
}

// Register creates a subscriber. The tier must exist in the catalog and the
// biometrics must be positive.
func (o *OnboardingService) Register(ctx context.Context, sub domain.Subscriber) (*domain.Subscriber, error) {
	ctx, span := tracer.Start(ctx, "OnboardingService.Register")
	defer span.End()

	sub.ID = strings.TrimSpace(sub.ID)
	if sub.ID == "" {
		return nil, &domain.ErrValidation{Field: "id", Message: "required"}
	}
	if _, err := o.catalog.Tier(sub.Tier); err != nil {
		return nil, err
	}
	switch {
	case sub.StartWeightKg <= 0:
		return nil, &domain.ErrValidation{Field: "start_weight_kg", Message: "must be positive"}
	case sub.TargetWeightKg <= 0:
		return nil, &domain.ErrValidation{Field: "target_weight_kg", Message: "must be positive"}
	case sub.HeightCm <= 0:
		return nil, &domain.ErrValidation{Field: "height_cm", Message: "must be positive"}
	}

	_, err := o.store.GetSubscriber(ctx, sub.ID)
	if err == nil {
		return nil, &domain.ErrValidation{Field: "id", Message: "subscriber " + sub.ID + " already registered"}
	}
	var nf *domain.ErrNotFound
	if !errors.As(err, &nf) {
		return nil, err
	}

	now := o.clock.Now()
	sub.IsActive = true
	sub.IsPhaseManual = false
	sub.ManualPhaseReason = ""
	sub.CurrentPhaseID = ""
	sub.Version = 0
	sub.CreatedAt = now
	sub.UpdatedAt = now
	if err := o.store.SaveSubscriber(ctx, &sub); err != nil {
		return nil, err
	}

	o.logger.Info("subscriber registered",
		zap.String("subscriber_id", sub.ID),
		zap.String("tier", string(sub.Tier)),
	)
	return &sub, nil
}

// StartProgram writes the subscriber's planned phase records, the first one
// active, and anchors the blueprint at start (now when nil). A subscriber
// that already has a history is left untouched and its history returned.
func (o *OnboardingService) StartProgram(ctx context.Context, subscriberID string, start *time.Time) ([]domain.PhaseRecord, error) {
	ctx, span := tracer.Start(ctx, "OnboardingService.StartProgram")
	defer span.End()
	span.SetAttributes(attribute.String("subscriber.id", subscriberID))

	began := time.Now()
	defer func() {
		o.metrics.RecordRequestDuration("start_program", time.Since(began))
	}()

	now := o.clock.Now()
	anchor := now
	if start != nil {
		anchor = start.UTC()
	}
	if anchor.After(now) {
		return nil, &domain.ErrValidation{Field: "start_date", Message: "must not be in the future"}
	}

	var records []domain.PhaseRecord
	err := o.store.RunInTx(ctx, func(ctx context.Context, tx port.PhaseTx) error {
		sub, err := tx.LockSubscriber(ctx, subscriberID)
		if err != nil {
			return err
		}
		history, err := tx.GetPhaseHistory(ctx, subscriberID)
		if err != nil {
			return err
		}
		if len(history) > 0 {
			records = history
			return errNoChange
		}

		records, err = o.catalog.PlanPhases(subscriberID, sub.Tier, anchor, now)
		if err != nil {
			return err
		}
		for _, rec := range records {
			if err := tx.CreatePhaseRecord(ctx, rec); err != nil {
				return err
			}
		}
		active := domain.ActivePhase(records)
		sub.PlanStartDate = &anchor
		sub.CurrentPhaseID = active.ID
		sub.UpdatedAt = now
		if err := tx.UpdateSubscriber(ctx, sub); err != nil {
			return err
		}
		return tx.EnqueueNotification(ctx, phaseChangeNotification(sub.ID, *active, now))
	})
	switch {
	case errors.Is(err, errNoChange):
		o.logger.Debug("program already started", zap.String("subscriber_id", subscriberID))
		return records, nil
	case err != nil:
		return nil, err
	}

	o.logger.Info("program started",
		zap.String("subscriber_id", subscriberID),
		zap.Time("plan_start", anchor),
		zap.Int("phases", len(records)),
	)
	return records, nil
}

// RecordWeighIn stores the latest weight, which the early-exit rule reads on
// the next scheduler run.
func (o *OnboardingService) RecordWeighIn(ctx context.Context, subscriberID string, weightKg float64, at *time.Time) (*domain.Subscriber, error) {
	ctx, span := tracer.Start(ctx, "OnboardingService.RecordWeighIn")
	defer span.End()

	if weightKg <= 0 {
		return nil, &domain.ErrValidation{Field: "weight_kg", Message: "must be positive"}
	}
	now := o.clock.Now()
	when := now
	if at != nil {
		when = at.UTC()
	}

	var out *domain.Subscriber
	err := o.store.RunInTx(ctx, func(ctx context.Context, tx port.PhaseTx) error {
		sub, err := tx.LockSubscriber(ctx, subscriberID)
		if err != nil {
			return err
		}
		if sub.LatestWeighInAt != nil && when.Before(*sub.LatestWeighInAt) {
			return &domain.ErrValidation{Field: "measured_at", Message: "older than the latest weigh-in"}
		}
		w := weightKg
		sub.LatestWeightKg = &w
		sub.LatestWeighInAt = &when
		sub.UpdatedAt = now
		out = sub
		return tx.UpdateSubscriber(ctx, sub)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GrantChannel opens a channel for the subscriber regardless of its phase.
func (o *OnboardingService) GrantChannel(ctx context.Context, grant domain.ChannelGrant) error {
	ctx, span := tracer.Start(ctx, "OnboardingService.GrantChannel")
	defer span.End()

	known := false
	for _, ch := range domain.AllChannels {
		if grant.Channel == ch {
			known = true
			break
		}
	}
	if !known {
		return &domain.ErrValidation{Field: "channel", Message: "unknown channel '" + string(grant.Channel) + "'"}
	}
	if _, err := o.store.GetSubscriber(ctx, grant.SubscriberID); err != nil {
		return err
	}
	if err := o.store.SaveChannelGrant(ctx, grant); err != nil {
		return err
	}

	o.logger.Info("channel grant saved",
		zap.String("subscriber_id", grant.SubscriberID),
		zap.String("channel", string(grant.Channel)),
		zap.Bool("active", grant.Active),
	)
	return nil
}
