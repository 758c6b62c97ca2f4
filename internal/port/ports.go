// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"
	"encoding/json"
	"time"

	"github.com/boddenberg/phase-lifecycle-go/internal/domain"
)

// PhaseStore is the persisted lifecycle state: subscribers, their phase
// records, channel grants, phase content and the notification outbox.
// Implemented by the Mongo adapter and the in-memory store.
type PhaseStore interface {
	// Subscribers
	FindActiveSubscribers(ctx context.Context) ([]domain.Subscriber, error)
	GetSubscriber(ctx context.Context, subscriberID string) (*domain.Subscriber, error)
	SaveSubscriber(ctx context.Context, sub *domain.Subscriber) error

	// Phase records
	GetPhaseHistory(ctx context.Context, subscriberID string) ([]domain.PhaseRecord, error)

	// Channel grants
	ListChannelGrants(ctx context.Context, subscriberID string) ([]domain.ChannelGrant, error)
	SaveChannelGrant(ctx context.Context, grant domain.ChannelGrant) error

	// Phase content, validated on write
	GetPhaseContent(ctx context.Context, phase domain.PhaseType) (domain.PhaseContent, error)
	PutPhaseContent(ctx context.Context, phase domain.PhaseType, raw json.RawMessage) error

	// Notification outbox
	ListPendingNotifications(ctx context.Context, limit int) ([]domain.Notification, error)
	MarkNotificationDelivered(ctx context.Context, notificationID string, at time.Time) error

	// RunInTx runs fn in a single transaction. Any error returned by fn rolls
	// back every write made through tx.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx PhaseTx) error) error

	Ping(ctx context.Context) error
}

// PhaseTx is the write surface available inside a transaction.
type PhaseTx interface {
	// LockSubscriber reads the subscriber and claims it for the rest of the
	// transaction. A concurrent transaction holding the same subscriber makes
	// one of them fail with domain.ErrConcurrencyConflict.
	LockSubscriber(ctx context.Context, subscriberID string) (*domain.Subscriber, error)
	GetPhaseHistory(ctx context.Context, subscriberID string) ([]domain.PhaseRecord, error)
	CreatePhaseRecord(ctx context.Context, rec domain.PhaseRecord) error
	UpdatePhaseRecord(ctx context.Context, rec domain.PhaseRecord) error
	UpdateSubscriber(ctx context.Context, sub *domain.Subscriber) error
	EnqueueNotification(ctx context.Context, n domain.Notification) error
}

// Notifier delivers a notification to the subscriber. Delivery guarantees
// belong to the implementation.
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification) error
}

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

// RunArchiver keeps a durable copy of scheduler run reports.
type RunArchiver interface {
	Archive(ctx context.Context, report domain.RunReport) error
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}
