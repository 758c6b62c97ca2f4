package supabase

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/boddenberg/phase-lifecycle-go/internal/domain"
	"github.com/boddenberg/phase-lifecycle-go/internal/port"

	"go.opentelemetry.io/otel/attribute"
)

var _ port.Notifier = (*Client)(nil)

// notificationRow maps the notifications table columns.
type notificationRow struct {
	ID           string    `json:"id"`
	SubscriberID string    `json:"subscriber_id"`
	Title        string    `json:"title"`
	Body         string    `json:"body"`
	Category     string    `json:"category"`
	IsRead       bool      `json:"is_read"`
	CreatedAt    time.Time `json:"created_at"`
}

// Notify inserts the notification into the notifications table. The row id
// is the outbox id, so a retried delivery is rejected as a duplicate (409)
// instead of showing twice; that case counts as delivered.
func (c *Client) Notify(ctx context.Context, n domain.Notification) error {
	ctx, span := tracer.Start(ctx, "Supabase.Notify")
	defer span.End()
	span.SetAttributes(
		attribute.String("subscriber.id", n.SubscriberID),
		attribute.String("notification.category", string(n.Category)),
	)

	_, err := c.do(ctx, http.MethodPost, "notifications", notificationRow{
		ID:           n.ID,
		SubscriberID: n.SubscriberID,
		Title:        n.Title,
		Body:         n.Body,
		Category:     string(n.Category),
		CreatedAt:    n.CreatedAt,
	})
	var se *StatusError
	if errors.As(err, &se) && se.Status == http.StatusConflict {
		return nil
	}
	if err != nil {
		span.RecordError(err)
		return &domain.ErrExternalService{Service: "supabase/notifications", Err: err}
	}
	return nil
}

// Ping checks that the PostgREST endpoint answers.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.send(ctx, http.MethodGet, "notifications?select=id&limit=1", nil)
	return err
}
