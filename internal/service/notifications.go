package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/boddenberg/phase-lifecycle-go/internal/domain"
	"github.com/boddenberg/phase-lifecycle-go/internal/infra/observability"
	"github.com/boddenberg/phase-lifecycle-go/internal/infra/resilience"
	"github.com/boddenberg/phase-lifecycle-go/internal/port"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ============================================================
// Outbox dispatch
// ============================================================

// NotificationDispatcher delivers pending outbox entries to the notifier.
// An entry is marked delivered only after the notifier accepted it, so a
// failed delivery is retried on the next drain.
type NotificationDispatcher struct {
	store    port.PhaseStore
	notifier port.Notifier
	clock    port.Clock
	bulkhead *resilience.Bulkhead
	batch    int
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewNotificationDispatcher creates a dispatcher sending at most
// maxConcurrency notifications at once and batch per drain.
func NewNotificationDispatcher(
	store port.PhaseStore,
	notifier port.Notifier,
	clock port.Clock,
	maxConcurrency, batch int,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *NotificationDispatcher {
	return &NotificationDispatcher{
		store:    store,
		notifier: notifier,
		clock:    clock,
		bulkhead: resilience.NewBulkhead(maxConcurrency),
		batch:    batch,
		metrics:  metrics,
		logger:   logger,
	}
}

// Drain sends one batch of pending notifications and returns how many were
// delivered. Individual delivery failures are logged and counted only.
func (d *NotificationDispatcher) Drain(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "NotificationDispatcher.Drain")
	defer span.End()

	pending, err := d.store.ListPendingNotifications(ctx, d.batch)
	if err != nil {
		return 0, fmt.Errorf("list pending notifications: %w", err)
	}
	span.SetAttributes(attribute.Int("notifications.pending", len(pending)))

	var delivered atomic.Int64
	g, gCtx := errgroup.WithContext(ctx)
	for _, n := range pending {
		g.Go(func() error {
			if err := d.bulkhead.Acquire(gCtx); err != nil {
				return err
			}
			defer d.bulkhead.Release()

			if d.deliver(gCtx, n) {
				delivered.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()
	return int(delivered.Load()), err
}

// Start drains the outbox every interval until ctx is done.
func (d *NotificationDispatcher) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("outbox dispatcher stopped")
			return
		case <-ticker.C:
			if _, err := d.Drain(ctx); err != nil && ctx.Err() == nil {
				d.logger.Warn("outbox drain failed", zap.Error(err))
			}
		}
	}
}

func (d *NotificationDispatcher) deliver(ctx context.Context, n domain.Notification) bool {
	log := d.logger.With(
		zap.String("notification_id", n.ID),
		zap.String("subscriber_id", n.SubscriberID),
	)
	if err := d.notifier.Notify(ctx, n); err != nil {
		d.metrics.IncrNotification("failed")
		d.metrics.IncrExternalError("notifier")
		log.Warn("notification delivery failed", zap.Error(err))
		return false
	}
	if err := d.store.MarkNotificationDelivered(ctx, n.ID, d.clock.Now()); err != nil {
		// Delivered but still pending: the sink sees it again on the next drain.
		d.metrics.IncrNotification("failed")
		log.Error("failed to mark notification delivered", zap.Error(err))
		return false
	}
	d.metrics.IncrNotification("delivered")
	return true
}

// ============================================================
// Log-only sink
// ============================================================

// LogNotifier is the notifier used when no delivery backend is configured.
type LogNotifier struct {
	logger *zap.Logger
}

var _ port.Notifier = (*LogNotifier)(nil)

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Notify(_ context.Context, n domain.Notification) error {
	l.logger.Info("notification",
		zap.String("notification_id", n.ID),
		zap.String("subscriber_id", n.SubscriberID),
		zap.String("category", string(n.Category)),
		zap.String("title", n.Title),
	)
	return nil
}
