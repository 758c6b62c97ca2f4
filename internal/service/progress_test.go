package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boddenberg/phase-lifecycle-go/internal/domain"
	"github.com/boddenberg/phase-lifecycle-go/internal/infra/memstore"
)

const detoxContent = `{"title":"Semaine détox","allowed_foods":["légumes verts"],"daily_routine":["eau tiède citronnée"],"hydration_l":2}`

func TestProgress_AssemblesReadModel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.enroll(t, "s1", domain.TierStandard3M)
	_, err := h.progress.PutContent(ctx, domain.PhaseDetox, json.RawMessage(detoxContent))
	require.NoError(t, err)

	// One day before equilibre starts: inside the anticipation window.
	h.clock.Advance(13 * day)
	got, err := h.progress.Progress(ctx, "s1")
	require.NoError(t, err)

	assert.Equal(t, "s1", got.SubscriberID)
	require.Len(t, got.Sessions, 4, "90 -> 65 kg is four sessions")
	require.NotNil(t, got.Phases.Current)
	assert.Equal(t, domain.PhaseDetox, got.Phases.Current.Type)
	require.NotNil(t, got.Phases.Upcoming)
	assert.Equal(t, domain.PhaseEquilibre, got.Phases.Upcoming.Type)
	assert.Equal(t, []domain.ChannelAccess{
		{Channel: domain.ChannelDetox, Status: domain.ChannelActive},
		{Channel: domain.ChannelECE, Status: domain.ChannelAnticipated, UnlockAt: &got.Phases.Upcoming.StartDate},
	}, got.Channels)

	require.Len(t, got.Content, 1, "equilibre has no content yet")
	detox, ok := got.Content[0].(domain.DetoxContent)
	require.True(t, ok)
	assert.Equal(t, "Semaine détox", detox.Title)
	assert.False(t, got.ManualMode)
	assert.True(t, got.GeneratedAt.Equal(h.clock.Now()))
}

func TestProjection_IsCachedPerSnapshot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.enroll(t, "s1", domain.TierStandard3M)

	first, err := h.progress.Projection(ctx, "s1")
	require.NoError(t, err)
	second, err := h.progress.Projection(ctx, "s1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.InDelta(t, 0.5, h.metrics.SchedulerSnapshot().ProjectionHitRate, 1e-9)

	var total float64
	for _, s := range first {
		total += s.TargetLossKg
	}
	assert.InDelta(t, 25.0, total, 1e-9)
}

func TestProgress_NotFoundAndStoreErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var nf *domain.ErrNotFound
	_, err := h.progress.Progress(ctx, "ghost")
	require.ErrorAs(t, err, &nf)
	_, err = h.progress.Phases(ctx, "ghost")
	require.ErrorAs(t, err, &nf)
	_, err = h.progress.Channels(ctx, "ghost")
	require.ErrorAs(t, err, &nf)

	h.enroll(t, "s1", domain.TierStandard3M)
	boom := errors.New("grants unavailable")
	h.store.FailOn(memstore.OpListChannelGrants, "s1", boom)
	_, err = h.progress.Progress(ctx, "s1")
	assert.ErrorIs(t, err, boom)
}

func TestChannels_GrantExpandsChannel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.enroll(t, "s1", domain.TierStandard3M)
	require.NoError(t, h.onboarding.GrantChannel(ctx, domain.ChannelGrant{
		SubscriberID: "s1", Channel: domain.ChannelECE, Active: true, GrantedBy: "coach-1",
	}))

	channels, err := h.progress.Channels(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, channels, 2)
	assert.Equal(t, domain.ChannelActive, channels[0].Status)
	assert.Equal(t, domain.ChannelExpanded, channels[1].Status)
}

func TestPutContent_RejectsWrongShape(t *testing.T) {
	h := newHarness(t)

	_, err := h.progress.PutContent(context.Background(), domain.PhaseEntretien, json.RawMessage(detoxContent))

	var ve *domain.ErrValidation
	require.ErrorAs(t, err, &ve)
}

func TestDispatcher_KeepsFailedNotificationsPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.enroll(t, "s1", domain.TierStandard3M)
	h.enroll(t, "s2", domain.TierStandard3M)

	h.notifier.setErr(errors.New("sink down"))
	delivered, err := h.dispatcher.Drain(ctx)
	require.NoError(t, err)
	assert.Zero(t, delivered)

	pending, err := h.store.ListPendingNotifications(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	h.notifier.setErr(nil)
	delivered, err = h.dispatcher.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, delivered)

	pending, err = h.store.ListPendingNotifications(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)

	stats := h.metrics.SchedulerSnapshot()
	assert.Equal(t, int64(2), stats.NotificationsSent)
	assert.Equal(t, int64(2), stats.NotificationErrors)
}

func TestDispatcher_ListFailure(t *testing.T) {
	h := newHarness(t)
	h.store.FailOn(memstore.OpListNotifications, "", errors.New("outbox unreachable"))

	_, err := h.dispatcher.Drain(context.Background())
	assert.Error(t, err)
}
