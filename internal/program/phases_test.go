package program_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boddenberg/phase-lifecycle-go/internal/domain"
	"github.com/boddenberg/phase-lifecycle-go/internal/program"
)

func activeCount(records []domain.PhaseRecord) int {
	n := 0
	for _, r := range records {
		if r.IsActive() {
			n++
		}
	}
	return n
}

// apply folds a transition plan into history the way a store would.
func apply(history []domain.PhaseRecord, plan program.TransitionPlan) []domain.PhaseRecord {
	out := make([]domain.PhaseRecord, len(history))
	copy(out, history)
	for _, u := range plan.Updates {
		for i := range out {
			if out[i].ID == u.ID {
				out[i] = u
			}
		}
	}
	if plan.Create != nil {
		out = append(out, *plan.Create)
	}
	return out
}

func assertMonotonic(t *testing.T, records []domain.PhaseRecord) {
	t.Helper()
	var live []domain.PhaseRecord
	for _, r := range records {
		if r.Status != domain.PhaseStatusCancelled {
			live = append(live, r)
		}
	}
	for i := 1; i < len(live); i++ {
		for j := 0; j < i; j++ {
			a, b := live[j], live[i]
			if a.StartDate.After(b.StartDate) {
				a, b = b, a
			}
			assert.False(t, b.StartDate.Before(a.EndDate()), "%s overlaps %s", b.Type, a.Type)
		}
	}
}

func TestPlanPhases_Standard3M(t *testing.T) {
	records, err := program.DefaultCatalog().PlanPhases("sub-1", domain.TierStandard3M, day0, day0)
	require.NoError(t, err)

	types := make([]domain.PhaseType, len(records))
	for i, r := range records {
		types[i] = r.Type
		assert.Equal(t, "sub-1", r.SubscriberID)
		assert.NotEmpty(t, r.ID)
		if i > 0 {
			assert.Equal(t, records[i-1].PlannedEndDate, r.StartDate)
			assert.Equal(t, domain.PhaseStatusPlanned, r.Status)
		}
	}
	assert.Equal(t, []domain.PhaseType{
		domain.PhaseDetox, domain.PhaseEquilibre,
		domain.PhaseDetox, domain.PhaseEquilibre,
		domain.PhaseConsolidation, domain.PhaseEntretien,
	}, types)
	assert.Equal(t, domain.PhaseStatusActive, records[0].Status)
	assert.Equal(t, 1, activeCount(records))
	assert.Equal(t, day0.AddDate(0, 0, 14), records[0].PlannedEndDate)
	assert.Equal(t, 2, records[3].SessionNumber)
}

func TestPlanPhases_UnknownTier(t *testing.T) {
	_, err := program.DefaultCatalog().PlanPhases("sub-1", "GOLD", day0, day0)
	var ve *domain.ErrValidation
	assert.True(t, errors.As(err, &ve))
}

func TestPlanTransition_PromotesPlannedRecord(t *testing.T) {
	history, err := program.DefaultCatalog().PlanPhases("sub-1", domain.TierStandard3M, day0, day0)
	require.NoError(t, err)
	now := day0.AddDate(0, 0, 15)

	plan, err := program.PlanTransition(history, domain.PhaseEquilibre, now, program.TransitionOptions{})
	require.NoError(t, err)

	assert.Nil(t, plan.Create)
	assert.Equal(t, history[1].ID, plan.Activated.ID)
	assert.Equal(t, now, plan.Activated.StartDate)
	assert.Equal(t, domain.PhaseStatusCompleted, plan.Previous.Status)
	require.NotNil(t, plan.Previous.ActualEndDate)
	assert.Equal(t, now, *plan.Previous.ActualEndDate)

	after := apply(history, plan)
	assert.Equal(t, 1, activeCount(after))
	assertMonotonic(t, after)
}

func TestPlanTransition_EarlyExitCancelsSkippedRecords(t *testing.T) {
	history, err := program.DefaultCatalog().PlanPhases("sub-1", domain.TierStandard3M, day0, day0)
	require.NoError(t, err)
	now := day0.AddDate(0, 0, 20)
	history = apply(history, mustPlan(t, history, domain.PhaseEquilibre, day0.AddDate(0, 0, 14), program.TransitionOptions{}))

	plan, err := program.PlanTransition(history, domain.PhaseConsolidation, now, program.TransitionOptions{})
	require.NoError(t, err)
	after := apply(history, plan)

	cancelled := 0
	for _, r := range after {
		if r.Status == domain.PhaseStatusCancelled {
			cancelled++
		}
	}
	assert.Equal(t, 2, cancelled)
	assert.Equal(t, domain.PhaseConsolidation, domain.ActivePhase(after).Type)
	assert.Equal(t, 1, activeCount(after))
	assertMonotonic(t, after)
}

func TestPlanTransition_ManualCreatesRecordAndShiftsChain(t *testing.T) {
	history, err := program.DefaultCatalog().PlanPhases("sub-1", domain.TierStandard3M, day0, day0)
	require.NoError(t, err)
	cfg, err := program.DefaultCatalog().Tier(domain.TierStandard3M)
	require.NoError(t, err)
	now := day0.AddDate(0, 0, 3)

	plan, err := program.PlanTransition(history, domain.PhaseConsolidation, now, program.TransitionOptions{
		Manual:    true,
		AdminNote: "plateau",
		Duration:  cfg.PhaseDuration,
	})
	require.NoError(t, err)

	require.NotNil(t, plan.Create)
	assert.True(t, plan.Create.IsManualOverride)
	assert.Equal(t, "plateau", plan.Create.AdminNote)
	assert.Equal(t, now.Add(6*7*24*time.Hour), plan.Create.PlannedEndDate)

	after := apply(history, plan)
	assert.Equal(t, 1, activeCount(after))
	assertMonotonic(t, after)
}

func TestPlanTransition_NoActivePhase(t *testing.T) {
	_, err := program.PlanTransition(nil, domain.PhaseEquilibre, day0, program.TransitionOptions{})
	var nf *domain.ErrNotFound
	assert.True(t, errors.As(err, &nf))
}

func mustPlan(t *testing.T, history []domain.PhaseRecord, target domain.PhaseType, now time.Time, opts program.TransitionOptions) program.TransitionPlan {
	t.Helper()
	plan, err := program.PlanTransition(history, target, now, opts)
	require.NoError(t, err)
	return plan
}

func TestLoadCatalog_Rejects(t *testing.T) {
	cases := map[string]string{
		"unknown family": "tiers:\n  - tier: X\n    family: nope\n    sessions: 1\n    pace_kg_per_month: 5\n",
		"zero sessions": "families:\n  f: {detox_phase: DETOX, detox_weeks: 2, equilibre_weeks: 4}\n" +
			"tiers:\n  - tier: X\n    family: f\n    sessions: 0\n    pace_kg_per_month: 5\n",
		"bad detox phase": "families:\n  f: {detox_phase: EQUILIBRE, detox_weeks: 2, equilibre_weeks: 4}\n" +
			"tiers:\n  - tier: X\n    family: f\n    sessions: 1\n    pace_kg_per_month: 5\n",
		"not yaml": "tiers: [",
	}
	for name, doc := range cases {
		_, err := program.LoadCatalog([]byte(doc))
		assert.Error(t, err, name)
	}
}

func TestDefaultCatalog_AllTiers(t *testing.T) {
	tiers := program.DefaultCatalog().Tiers()
	assert.Len(t, tiers, 6)
	for _, cfg := range tiers {
		assert.Equal(t, 6, cfg.Phases.SessionWeeks(), cfg.Tier)
		assert.Equal(t, program.EntretienHorizon, cfg.PhaseDuration(domain.PhaseEntretien))
	}
}
