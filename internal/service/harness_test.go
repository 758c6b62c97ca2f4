package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/boddenberg/phase-lifecycle-go/internal/domain"
	"github.com/boddenberg/phase-lifecycle-go/internal/infra/cache"
	"github.com/boddenberg/phase-lifecycle-go/internal/infra/clock"
	"github.com/boddenberg/phase-lifecycle-go/internal/infra/memstore"
	"github.com/boddenberg/phase-lifecycle-go/internal/infra/observability"
	"github.com/boddenberg/phase-lifecycle-go/internal/infra/resilience"
	"github.com/boddenberg/phase-lifecycle-go/internal/program"
	"github.com/boddenberg/phase-lifecycle-go/internal/service"
)

// day0 is a Monday.
var day0 = time.Date(2026, 1, 5, 7, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

type harness struct {
	store      *memstore.Store
	clock      *clock.Fixed
	metrics    *observability.Metrics
	notifier   *recordingNotifier
	archiver   *recordingArchiver
	scheduler  *service.TransitionScheduler
	override   *service.OverrideService
	onboarding *service.OnboardingService
	progress   *service.ProgressService
	dispatcher *service.NotificationDispatcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		store:    memstore.New(),
		clock:    clock.NewFixed(day0),
		metrics:  observability.NewMetrics(),
		notifier: &recordingNotifier{},
		archiver: &recordingArchiver{},
	}
	logger := zap.NewNop()
	catalog := program.DefaultCatalog()

	h.dispatcher = service.NewNotificationDispatcher(h.store, h.notifier, h.clock, 4, 100, h.metrics, logger)
	h.scheduler = service.NewTransitionScheduler(h.store, program.NewBlueprint(catalog), h.clock, 4, h.metrics, logger,
		service.WithArchiver(h.archiver),
		service.WithDispatcher(h.dispatcher),
	)
	h.override = service.NewOverrideService(h.store, catalog, h.clock,
		resilience.Config{MaxRetries: 2, InitialBackoff: time.Millisecond}, h.metrics, logger)
	h.onboarding = service.NewOnboardingService(h.store, catalog, h.clock, h.metrics, logger)

	projections := cache.New[[]domain.SessionPlan](time.Hour, cache.WithClock(h.clock.Now), cache.WithoutJanitor())
	h.progress = service.NewProgressService(h.store, catalog, h.clock, projections, h.metrics, logger)
	return h
}

// enroll registers a subscriber starting at the current clock and lays out
// its program.
func (h *harness) enroll(t *testing.T, id string, tier domain.SubscriptionTier) {
	t.Helper()
	ctx := context.Background()

	_, err := h.onboarding.Register(ctx, domain.Subscriber{
		ID:             id,
		Tier:           tier,
		StartWeightKg:  90,
		TargetWeightKg: 65,
		HeightCm:       170,
	})
	require.NoError(t, err)
	_, err = h.onboarding.StartProgram(ctx, id, nil)
	require.NoError(t, err)
}

func (h *harness) history(t *testing.T, id string) []domain.PhaseRecord {
	t.Helper()
	out, err := h.store.GetPhaseHistory(context.Background(), id)
	require.NoError(t, err)
	return out
}

func (h *harness) subscriber(t *testing.T, id string) *domain.Subscriber {
	t.Helper()
	sub, err := h.store.GetSubscriber(context.Background(), id)
	require.NoError(t, err)
	return sub
}

func (h *harness) active(t *testing.T, id string) domain.PhaseRecord {
	t.Helper()
	history := h.history(t, id)
	var found []domain.PhaseRecord
	for _, r := range history {
		if r.IsActive() {
			found = append(found, r)
		}
	}
	require.Len(t, found, 1, "subscriber %s must have exactly one active phase", id)
	return found[0]
}

// ============================================================
// Fakes
// ============================================================

type recordingNotifier struct {
	mu   sync.Mutex
	sent []domain.Notification
	err  error
}

func (r *recordingNotifier) Notify(_ context.Context, n domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingNotifier) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

type recordingArchiver struct {
	mu      sync.Mutex
	reports []domain.RunReport
}

func (r *recordingArchiver) Archive(_ context.Context, report domain.RunReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
	return nil
}
