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

var day0 = time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

func input(start, target float64) program.ProjectionInput {
	return program.ProjectionInput{
		StartWeightKg:  start,
		HeightCm:       170,
		TargetWeightKg: target,
		StartDate:      day0,
		Tier:           domain.TierStandard6M,
	}
}

func sumTargets(plans []domain.SessionPlan) float64 {
	var s float64
	for _, p := range plans {
		s += p.TargetLossKg
	}
	return s
}

func TestProject_NinetyToSixtyFive(t *testing.T) {
	plans, err := program.Project(input(90, 65))
	require.NoError(t, err)
	require.Len(t, plans, 4)

	assert.InDelta(t, 7.8125, plans[0].TargetLossKg, 1e-9)
	assert.InDelta(t, 6.7708333, plans[1].TargetLossKg, 1e-6)
	assert.InDelta(t, 5.7291667, plans[2].TargetLossKg, 1e-6)
	assert.InDelta(t, 4.6875, plans[3].TargetLossKg, 1e-9)
	assert.Greater(t, plans[0].TargetLossKg, plans[3].TargetLossKg)
	assert.InDelta(t, 25.0, sumTargets(plans), 1e-9)
	assert.InDelta(t, 65.0, plans[3].ProjectedEndWeightKg, 1e-9)

	for _, p := range plans {
		assert.Equal(t, domain.SessionLoss, p.Kind)
	}
}

func TestProject_SumAndMonotonicity(t *testing.T) {
	cases := []struct{ start, target float64 }{
		{70, 66}, {80, 72.5}, {100, 82}, {120, 85}, {150, 80}, {63.3, 61.1},
	}
	for _, c := range cases {
		plans, err := program.Project(input(c.start, c.target))
		require.NoError(t, err)
		require.NotEmpty(t, plans)

		assert.InDelta(t, c.start-c.target, sumTargets(plans), 1e-9, "start=%v target=%v", c.start, c.target)
		for i := 1; i < len(plans); i++ {
			assert.GreaterOrEqual(t, plans[i-1].TargetLossKg, plans[i].TargetLossKg-1e-9)
		}
	}
}

func TestProject_SingleSession(t *testing.T) {
	plans, err := program.Project(input(70, 66))
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, 4.0, plans[0].TargetLossKg)
}

func TestProject_ExactMultipleDoesNotAddSession(t *testing.T) {
	plans, err := program.Project(input(82.5, 75))
	require.NoError(t, err)
	assert.Len(t, plans, 1)
}

func TestProject_AlreadyAtGoal(t *testing.T) {
	plans, err := program.Project(input(65, 65))
	require.NoError(t, err)
	require.Len(t, plans, 1)

	p := plans[0]
	assert.Equal(t, domain.SessionConsolidation, p.Kind)
	assert.Zero(t, p.TargetLossKg)
	assert.Equal(t, day0, p.StartDate)
	assert.Equal(t, day0.AddDate(0, 0, program.SessionDays-1), p.EndDate)
}

func TestProject_SessionCadence(t *testing.T) {
	plans, err := program.Project(input(90, 65))
	require.NoError(t, err)

	for i, p := range plans {
		assert.Equal(t, i+1, p.Number)
		assert.Equal(t, p.StartDate.AddDate(0, 0, program.SessionDays-1), p.EndDate)
		if i > 0 {
			assert.Equal(t, plans[i-1].EndDate.AddDate(0, 0, 1), p.StartDate)
		}
		require.Len(t, p.Phases, 2)
		assert.Equal(t, domain.PhaseDetox, p.Phases[0].Type)
		assert.Equal(t, p.StartDate.AddDate(0, 0, 13), p.Phases[0].EndDate)
		assert.Equal(t, p.EndDate, p.Phases[1].EndDate)
	}
	assert.InDelta(t, 22.5, plans[3].ProjectedBMI, 0.05)
}

func TestProject_Validation(t *testing.T) {
	bad := []program.ProjectionInput{
		{StartWeightKg: 0, HeightCm: 170, TargetWeightKg: 60, StartDate: day0, Tier: domain.TierVIP3M},
		{StartWeightKg: 80, HeightCm: -1, TargetWeightKg: 60, StartDate: day0, Tier: domain.TierVIP3M},
		{StartWeightKg: 80, HeightCm: 170, TargetWeightKg: 0, StartDate: day0, Tier: domain.TierVIP3M},
		{StartWeightKg: 80, HeightCm: 170, TargetWeightKg: 60, Tier: domain.TierVIP3M},
		{StartWeightKg: 80, HeightCm: 170, TargetWeightKg: 60, StartDate: day0, Tier: "GOLD"},
	}
	for _, in := range bad {
		_, err := program.Project(in)
		var ve *domain.ErrValidation
		assert.True(t, errors.As(err, &ve), "input %+v: %v", in, err)
	}
}
