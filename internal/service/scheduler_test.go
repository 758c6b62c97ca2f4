package service_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boddenberg/phase-lifecycle-go/internal/domain"
	"github.com/boddenberg/phase-lifecycle-go/internal/infra/memstore"
)

func TestRun_AdvancesToBlueprintPhase(t *testing.T) {
	h := newHarness(t)
	h.enroll(t, "s1", domain.TierStandard3M)
	detox := h.active(t, "s1")
	require.Equal(t, domain.PhaseDetox, detox.Type)

	h.clock.Advance(15 * day)
	report, err := h.scheduler.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.Updated)
	assert.Zero(t, report.Failed)
	assert.NotEmpty(t, report.RunID)

	now := h.clock.Now()
	current := h.active(t, "s1")
	assert.Equal(t, domain.PhaseEquilibre, current.Type)
	assert.True(t, current.StartDate.Equal(now))
	assert.False(t, current.IsManualOverride)

	for _, r := range h.history(t, "s1") {
		if r.ID == detox.ID {
			assert.Equal(t, domain.PhaseStatusCompleted, r.Status)
			require.NotNil(t, r.ActualEndDate)
			assert.True(t, r.ActualEndDate.Equal(now))
		}
	}
	assert.Equal(t, current.ID, h.subscriber(t, "s1").CurrentPhaseID)

	// Onboarding and the transition each enqueued one notification, both
	// drained after the run.
	assert.Equal(t, 2, h.notifier.count())
	require.Len(t, h.archiver.reports, 1)
	assert.Equal(t, report.RunID, h.archiver.reports[0].RunID)
}

func TestRun_IsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.enroll(t, "s1", domain.TierStandard3M)
	h.clock.Advance(15 * day)

	_, err := h.scheduler.Run(context.Background())
	require.NoError(t, err)
	history := h.history(t, "s1")
	sub := h.subscriber(t, "s1")

	report, err := h.scheduler.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Processed)
	assert.Zero(t, report.Updated)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, history, h.history(t, "s1"))
	assert.Equal(t, sub, h.subscriber(t, "s1"), "a no-op unit leaves no version bump behind")
}

func TestRun_ManualSubscriberIsUntouched(t *testing.T) {
	h := newHarness(t)
	h.enroll(t, "s1", domain.TierStandard3M)
	_, err := h.override.EnableManualMode(context.Background(), "s1", "injury, pause the program")
	require.NoError(t, err)

	h.clock.Advance(15 * day)
	history := h.history(t, "s1")
	sub := h.subscriber(t, "s1")

	report, err := h.scheduler.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, report.Updated)
	assert.Equal(t, history, h.history(t, "s1"))
	assert.Equal(t, sub, h.subscriber(t, "s1"))
}

func TestRun_EarlyExitFromEquilibre(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.enroll(t, "s1", domain.TierStandard3M)

	h.clock.Advance(15 * day)
	_, err := h.scheduler.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.PhaseEquilibre, h.active(t, "s1").Type)

	_, err = h.onboarding.RecordWeighIn(ctx, "s1", 64.5, nil)
	require.NoError(t, err)
	h.clock.Advance(day)

	report, err := h.scheduler.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Updated)

	current := h.active(t, "s1")
	assert.Equal(t, domain.PhaseConsolidation, current.Type)
	assert.True(t, current.StartDate.Equal(h.clock.Now()))

	var cancelled []domain.PhaseType
	for _, r := range h.history(t, "s1") {
		if r.Status == domain.PhaseStatusCancelled {
			cancelled = append(cancelled, r.Type)
		}
	}
	assert.Equal(t, []domain.PhaseType{domain.PhaseDetox, domain.PhaseEquilibre}, cancelled,
		"the second session is skipped")
}

func TestRun_NoEarlyExitOutsideEquilibre(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.enroll(t, "s1", domain.TierStandard3M)
	_, err := h.onboarding.RecordWeighIn(ctx, "s1", 60, nil)
	require.NoError(t, err)

	h.clock.Advance(3 * day)
	report, err := h.scheduler.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, domain.PhaseDetox, h.active(t, "s1").Type)
}

func TestRun_FailedUnitDoesNotStopBatch(t *testing.T) {
	h := newHarness(t)
	for _, id := range []string{"s1", "s2", "s3"} {
		h.enroll(t, id, domain.TierStandard3M)
	}
	h.clock.Advance(15 * day)

	h.store.FailOn(memstore.OpUpdatePhase, "s2", errors.New("disk full"))
	history := h.history(t, "s2")
	sub := h.subscriber(t, "s2")

	report, err := h.scheduler.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, report.Processed)
	assert.Equal(t, 2, report.Updated)
	assert.Equal(t, 1, report.Failed)

	assert.Equal(t, history, h.history(t, "s2"), "failed transition is rolled back")
	assert.Equal(t, sub, h.subscriber(t, "s2"))
	assert.Equal(t, domain.PhaseEquilibre, h.active(t, "s1").Type)
	assert.Equal(t, domain.PhaseEquilibre, h.active(t, "s3").Type)

	stats := h.metrics.SchedulerSnapshot()
	assert.Equal(t, int64(1), stats.Failed)
}

func TestRun_ListFailureAbortsRun(t *testing.T) {
	h := newHarness(t)
	h.enroll(t, "s1", domain.TierStandard3M)
	h.store.FailOn(memstore.OpFindActive, "", errors.New("connection refused"))

	report, err := h.scheduler.Run(context.Background())

	var ie *domain.ErrInfrastructure
	require.ErrorAs(t, err, &ie)
	assert.Zero(t, report.Processed)
	assert.Zero(t, report.Updated)
	assert.Equal(t, int64(1), h.metrics.SchedulerSnapshot().AbortedRuns)
}

func TestRun_CancelledBeforeStartProcessesNothing(t *testing.T) {
	h := newHarness(t)
	for _, id := range []string{"s1", "s2"} {
		h.enroll(t, id, domain.TierStandard3M)
	}
	h.clock.Advance(15 * day)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := h.scheduler.Run(ctx)
	require.NoError(t, err)
	assert.True(t, report.Cancelled)
	assert.Zero(t, report.Processed)
	assert.Equal(t, domain.PhaseDetox, h.active(t, "s1").Type)
}

func TestRun_SingleActivePhaseOverWholeProgram(t *testing.T) {
	h := newHarness(t)
	var ids []string
	for i := 0; i < 12; i++ {
		id := fmt.Sprintf("s%02d", i)
		tier := domain.TierStandard3M
		if i%2 == 1 {
			tier = domain.TierVIP3M
		}
		h.enroll(t, id, tier)
		ids = append(ids, id)
	}

	for w := 1; w <= 24; w++ {
		h.clock.Set(day0.Add(time.Duration(w)*7*day + time.Hour))
		report, err := h.scheduler.Run(context.Background())
		require.NoError(t, err)
		require.Zero(t, report.Failed, "week %d", w)

		for _, id := range ids {
			h.active(t, id)
			assertNonOverlapping(t, h.history(t, id))
		}
	}
	for _, id := range ids {
		assert.Equal(t, domain.PhaseEntretien, h.active(t, id).Type, id)
	}
}

func TestStart_StopsWithContext(t *testing.T) {
	h := newHarness(t)
	h.enroll(t, "s1", domain.TierStandard3M)
	h.clock.Advance(15 * day)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.scheduler.Start(ctx, time.Hour, true)
		close(done)
	}()

	require.Eventually(t, func() bool {
		history, err := h.store.GetPhaseHistory(context.Background(), "s1")
		if err != nil {
			return false
		}
		current := domain.ActivePhase(history)
		return current != nil && current.Type == domain.PhaseEquilibre
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler loop did not stop")
	}
}

func TestRun_DrainsOutboxWithoutUpdates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.enroll(t, "s1", domain.TierStandard3M)
	_, err := h.override.ForcePhase(ctx, "s1", domain.PhaseConsolidation, "")
	require.NoError(t, err)

	report, err := h.scheduler.Run(ctx)
	require.NoError(t, err)
	require.Zero(t, report.Updated)

	assert.Equal(t, 2, h.notifier.count(), "onboarding and forced phase")
	pending, err := h.store.ListPendingNotifications(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRun_RetriesFailedDeliveriesOnQuietRuns(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.enroll(t, "s1", domain.TierStandard3M)
	h.clock.Advance(15 * day)

	h.notifier.setErr(errors.New("sink down"))
	report, err := h.scheduler.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Updated)
	require.Zero(t, h.notifier.count())

	h.notifier.setErr(nil)
	report, err = h.scheduler.Run(ctx)
	require.NoError(t, err)
	require.Zero(t, report.Updated)

	assert.Equal(t, 2, h.notifier.count())
	pending, err := h.store.ListPendingNotifications(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDispatcherStart_DrainsOnTicks(t *testing.T) {
	h := newHarness(t)
	h.enroll(t, "s1", domain.TierStandard3M)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.dispatcher.Start(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return h.notifier.count() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher loop did not stop")
	}
}

// assertNonOverlapping checks that live records follow each other in time.
func assertNonOverlapping(t *testing.T, history []domain.PhaseRecord) {
	t.Helper()
	var live []domain.PhaseRecord
	for _, r := range history {
		if r.Status != domain.PhaseStatusCancelled {
			live = append(live, r)
		}
	}
	sort.SliceStable(live, func(i, j int) bool { return live[i].StartDate.Before(live[j].StartDate) })
	for i := 1; i < len(live); i++ {
		prev := live[i-1]
		assert.False(t, live[i].StartDate.Before(prev.EndDate()),
			"%s %s starts before %s %s ends", live[i].Type, live[i].ID, prev.Type, prev.ID)
	}
}
