package program

import (
	"sort"
	"time"

	"github.com/boddenberg/phase-lifecycle-go/internal/domain"

	"github.com/google/uuid"
)

// PlanPhases lays out the full phase chain of a new subscriber starting at
// start: detox + equilibre for every session, consolidation, then entretien.
// The first record is active; every other record is planned. Records are
// contiguous: each starts exactly where the previous one is planned to end.
func (c *Catalog) PlanPhases(subscriberID string, tier domain.SubscriptionTier, start, now time.Time) ([]domain.PhaseRecord, error) {
	cfg, err := c.Tier(tier)
	if err != nil {
		return nil, err
	}

	var records []domain.PhaseRecord
	cursor := start
	add := func(t domain.PhaseType, session int) {
		end := cursor.Add(cfg.PhaseDuration(t))
		records = append(records, domain.PhaseRecord{
			ID:             uuid.New().String(),
			SubscriberID:   subscriberID,
			Type:           t,
			SessionNumber:  session,
			Status:         domain.PhaseStatusPlanned,
			StartDate:      cursor,
			PlannedEndDate: end,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
		cursor = end
	}

	for s := 1; s <= cfg.Sessions; s++ {
		add(cfg.Phases.DetoxPhase, s)
		add(domain.PhaseEquilibre, s)
	}
	if cfg.ConsolidationWeeks > 0 {
		add(domain.PhaseConsolidation, 0)
	}
	add(domain.PhaseEntretien, 0)

	records[0].Status = domain.PhaseStatusActive
	return records, nil
}

// ============================================================
// Transition planning
// ============================================================

// TransitionOptions parameterises PlanTransition.
type TransitionOptions struct {
	// Manual marks the activated record as a coach override and always
	// creates a fresh record instead of promoting a planned one.
	Manual    bool
	AdminNote string
	// Duration gives the planned length of a freshly created record.
	Duration func(domain.PhaseType) time.Duration
}

// TransitionPlan lists the record mutations of one phase switch. Applying all
// of them in one transaction keeps exactly one active record.
type TransitionPlan struct {
	Previous  domain.PhaseRecord
	Activated domain.PhaseRecord
	// Updates holds every existing record whose fields changed, including
	// Previous and, when promoted, Activated.
	Updates []domain.PhaseRecord
	// Create is set when the activated record is new.
	Create *domain.PhaseRecord
}

// PlanTransition computes the mutations that move a subscriber from its active
// record to target at now.
//
// The active record is completed. Without Manual, the first planned record of
// type target is promoted: planned records before it are cancelled, it is
// re-anchored to start at now and later planned records shift by the same
// amount. Otherwise a new record starting at now is created and the planned
// chain is pushed back behind it when it would overlap.
func PlanTransition(history []domain.PhaseRecord, target domain.PhaseType, now time.Time, opts TransitionOptions) (TransitionPlan, error) {
	current := domain.ActivePhase(history)
	if current == nil {
		id := ""
		if len(history) > 0 {
			id = history[0].SubscriberID
		}
		return TransitionPlan{}, &domain.ErrNotFound{Resource: "active_phase", ID: id}
	}
	if now.Before(current.StartDate) {
		return TransitionPlan{}, &domain.ErrValidation{Field: "now", Message: "precedes the active phase start"}
	}

	var plan TransitionPlan
	prev := *current
	end := now
	prev.Status = domain.PhaseStatusCompleted
	prev.ActualEndDate = &end
	prev.UpdatedAt = now
	plan.Previous = prev
	plan.Updates = append(plan.Updates, prev)

	planned := make([]domain.PhaseRecord, 0, len(history))
	for _, r := range history {
		if r.IsPlanned() {
			planned = append(planned, r)
		}
	}
	sort.SliceStable(planned, func(i, j int) bool {
		return planned[i].StartDate.Before(planned[j].StartDate)
	})

	idx := -1
	if !opts.Manual {
		for i, r := range planned {
			if r.Type == target {
				idx = i
				break
			}
		}
	}

	if idx >= 0 {
		for _, r := range planned[:idx] {
			r.Status = domain.PhaseStatusCancelled
			r.ActualEndDate = &end
			r.UpdatedAt = now
			plan.Updates = append(plan.Updates, r)
		}
		delta := now.Sub(planned[idx].StartDate)
		for i, r := range planned[idx:] {
			r.StartDate = r.StartDate.Add(delta)
			r.PlannedEndDate = r.PlannedEndDate.Add(delta)
			r.UpdatedAt = now
			if i == 0 {
				r.Status = domain.PhaseStatusActive
				plan.Activated = r
			}
			plan.Updates = append(plan.Updates, r)
		}
		return plan, nil
	}

	duration := EntretienHorizon
	if opts.Duration != nil {
		duration = opts.Duration(target)
	}
	created := domain.PhaseRecord{
		ID:               uuid.New().String(),
		SubscriberID:     current.SubscriberID,
		Type:             target,
		SessionNumber:    current.SessionNumber,
		Status:           domain.PhaseStatusActive,
		StartDate:        now,
		PlannedEndDate:   now.Add(duration),
		IsManualOverride: opts.Manual,
		AdminNote:        opts.AdminNote,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	plan.Create = &created
	plan.Activated = created

	if len(planned) > 0 && planned[0].StartDate.Before(created.PlannedEndDate) {
		delta := created.PlannedEndDate.Sub(planned[0].StartDate)
		for _, r := range planned {
			r.StartDate = r.StartDate.Add(delta)
			r.PlannedEndDate = r.PlannedEndDate.Add(delta)
			r.UpdatedAt = now
			plan.Updates = append(plan.Updates, r)
		}
	}
	return plan, nil
}
