package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/boddenberg/phase-lifecycle-go/internal/domain"
	"github.com/boddenberg/phase-lifecycle-go/internal/port"
	"github.com/boddenberg/phase-lifecycle-go/internal/program"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("service/lifecycle")

// ============================================================
// Shared phase-switch plumbing
// ============================================================

var phaseLabels = map[domain.PhaseType]string{
	domain.PhaseDetox:         "Détox",
	domain.PhaseDetoxVIP:      "Détox VIP",
	domain.PhaseEquilibre:     "Équilibre",
	domain.PhaseConsolidation: "Consolidation",
	domain.PhaseEntretien:     "Entretien",
}

// applyTransition plans and writes one phase switch through tx: record
// updates (the completed record first), the optional new record, the
// subscriber pointer and the outbox notification. sub must come from
// tx.LockSubscriber.
func applyTransition(
	ctx context.Context,
	tx port.PhaseTx,
	sub *domain.Subscriber,
	history []domain.PhaseRecord,
	target domain.PhaseType,
	now time.Time,
	opts program.TransitionOptions,
) (program.TransitionPlan, error) {
	plan, err := program.PlanTransition(history, target, now, opts)
	if err != nil {
		return program.TransitionPlan{}, err
	}

	for _, rec := range plan.Updates {
		if err := tx.UpdatePhaseRecord(ctx, rec); err != nil {
			return program.TransitionPlan{}, fmt.Errorf("update phase record %s: %w", rec.ID, err)
		}
	}
	if plan.Create != nil {
		if err := tx.CreatePhaseRecord(ctx, *plan.Create); err != nil {
			return program.TransitionPlan{}, fmt.Errorf("create phase record: %w", err)
		}
	}

	sub.CurrentPhaseID = plan.Activated.ID
	sub.UpdatedAt = now
	if err := tx.UpdateSubscriber(ctx, sub); err != nil {
		return program.TransitionPlan{}, fmt.Errorf("update subscriber: %w", err)
	}

	if err := tx.EnqueueNotification(ctx, phaseChangeNotification(sub.ID, plan.Activated, now)); err != nil {
		return program.TransitionPlan{}, fmt.Errorf("enqueue notification: %w", err)
	}
	return plan, nil
}

func phaseChangeNotification(subscriberID string, activated domain.PhaseRecord, now time.Time) domain.Notification {
	label := phaseLabels[activated.Type]
	return domain.Notification{
		ID:           uuid.New().String(),
		SubscriberID: subscriberID,
		Title:        "Nouvelle phase : " + label,
		Body:         fmt.Sprintf("Votre phase %s commence aujourd'hui.", label),
		Category:     domain.NotificationPhaseChange,
		CreatedAt:    now,
	}
}

// durations returns the planned length of freshly created records for tier.
func durations(c *program.Catalog, tier domain.SubscriptionTier) func(domain.PhaseType) time.Duration {
	cfg, err := c.Tier(tier)
	if err != nil {
		return nil
	}
	return cfg.PhaseDuration
}

// activeOrNotFound returns the active record of history.
func activeOrNotFound(subscriberID string, history []domain.PhaseRecord) (*domain.PhaseRecord, error) {
	current := domain.ActivePhase(history)
	if current == nil {
		return nil, &domain.ErrNotFound{Resource: "active_phase", ID: subscriberID}
	}
	return current, nil
}

func isConflict(err error) bool {
	var cc *domain.ErrConcurrencyConflict
	return errors.As(err, &cc)
}
