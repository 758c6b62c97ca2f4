package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/boddenberg/phase-lifecycle-go/internal/domain"
	"github.com/boddenberg/phase-lifecycle-go/internal/port"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("mongo")

// Store implements port.PhaseStore on MongoDB.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	logger *zap.Logger
}

var _ port.PhaseStore = (*Store)(nil)

// NewStore returns a store bound to database name.
func NewStore(client *mongo.Client, name string, logger *zap.Logger) *Store {
	return &Store{client: client, db: client.Database(name), logger: logger}
}

func (s *Store) coll(name string) *mongo.Collection {
	return s.db.Collection(name)
}

// Database exposes the database handle, for index setup.
func (s *Store) Database() *mongo.Database {
	return s.db
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// ============================================================
// Subscribers
// ============================================================

func (s *Store) FindActiveSubscribers(ctx context.Context) ([]domain.Subscriber, error) {
	ctx, span := tracer.Start(ctx, "Mongo.FindActiveSubscribers")
	defer span.End()

	cur, err := s.coll(subscribersCollection).Find(ctx, bson.M{"isActive": true},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, infraErr("find active subscribers", err)
	}
	defer cur.Close(ctx)

	var docs []subscriberDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, infraErr("decode subscribers", err)
	}
	out := make([]domain.Subscriber, 0, len(docs))
	for _, d := range docs {
		out = append(out, *d.toDomain())
	}
	span.SetAttributes(attribute.Int("subscribers.count", len(out)))
	return out, nil
}

func (s *Store) GetSubscriber(ctx context.Context, subscriberID string) (*domain.Subscriber, error) {
	ctx, span := tracer.Start(ctx, "Mongo.GetSubscriber")
	defer span.End()
	return getSubscriber(ctx, s.coll(subscribersCollection), subscriberID)
}

func getSubscriber(ctx context.Context, c *mongo.Collection, id string) (*domain.Subscriber, error) {
	var doc subscriberDoc
	if err := c.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, &domain.ErrNotFound{Resource: "subscriber", ID: id}
		}
		return nil, infraErr("get subscriber", err)
	}
	return doc.toDomain(), nil
}

// SaveSubscriber upserts the subscriber outside of any transaction.
func (s *Store) SaveSubscriber(ctx context.Context, sub *domain.Subscriber) error {
	ctx, span := tracer.Start(ctx, "Mongo.SaveSubscriber")
	defer span.End()

	_, err := s.coll(subscribersCollection).ReplaceOne(ctx, bson.M{"_id": sub.ID}, toSubscriberDoc(sub),
		options.Replace().SetUpsert(true))
	if err != nil {
		return infraErr("save subscriber", err)
	}
	return nil
}

// ============================================================
// Phase records
// ============================================================

func (s *Store) GetPhaseHistory(ctx context.Context, subscriberID string) ([]domain.PhaseRecord, error) {
	ctx, span := tracer.Start(ctx, "Mongo.GetPhaseHistory")
	defer span.End()
	return phaseHistory(ctx, s.coll(phasesCollection), subscriberID)
}

func phaseHistory(ctx context.Context, c *mongo.Collection, subscriberID string) ([]domain.PhaseRecord, error) {
	cur, err := c.Find(ctx, bson.M{"subscriberId": subscriberID},
		options.Find().SetSort(bson.D{{Key: "startDate", Value: 1}, {Key: "createdAt", Value: 1}}))
	if err != nil {
		return nil, infraErr("find phase history", err)
	}
	defer cur.Close(ctx)

	var docs []phaseDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, infraErr("decode phase history", err)
	}
	out := make([]domain.PhaseRecord, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toDomain())
	}
	return out, nil
}

// ============================================================
// Channel grants
// ============================================================

func (s *Store) ListChannelGrants(ctx context.Context, subscriberID string) ([]domain.ChannelGrant, error) {
	ctx, span := tracer.Start(ctx, "Mongo.ListChannelGrants")
	defer span.End()

	cur, err := s.coll(grantsCollection).Find(ctx, bson.M{"subscriberId": subscriberID})
	if err != nil {
		return nil, infraErr("find channel grants", err)
	}
	defer cur.Close(ctx)

	var docs []grantDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, infraErr("decode channel grants", err)
	}
	out := make([]domain.ChannelGrant, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toDomain())
	}
	return out, nil
}

func (s *Store) SaveChannelGrant(ctx context.Context, grant domain.ChannelGrant) error {
	doc := toGrantDoc(grant)
	_, err := s.coll(grantsCollection).ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return infraErr("save channel grant", err)
	}
	return nil
}

// ============================================================
// Phase content
// ============================================================

// GetPhaseContent re-validates the stored document on read, so content
// written by other tools cannot reach callers in an unexpected shape.
func (s *Store) GetPhaseContent(ctx context.Context, phase domain.PhaseType) (domain.PhaseContent, error) {
	ctx, span := tracer.Start(ctx, "Mongo.GetPhaseContent")
	defer span.End()

	var doc contentDoc
	if err := s.coll(contentCollection).FindOne(ctx, bson.M{"_id": string(phase)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, &domain.ErrNotFound{Resource: "phase_content", ID: string(phase)}
		}
		return nil, infraErr("get phase content", err)
	}
	raw, err := bson.MarshalExtJSON(doc.Body, false, false)
	if err != nil {
		return nil, infraErr("encode phase content", err)
	}
	return domain.DecodePhaseContent(phase, raw)
}

func (s *Store) PutPhaseContent(ctx context.Context, phase domain.PhaseType, raw json.RawMessage) error {
	if _, err := domain.DecodePhaseContent(phase, raw); err != nil {
		return err
	}
	var body bson.M
	if err := bson.UnmarshalExtJSON(raw, false, &body); err != nil {
		return &domain.ErrValidation{Field: "content", Message: err.Error()}
	}
	doc := contentDoc{Phase: string(phase), Body: body, UpdatedAt: time.Now().UTC()}
	_, err := s.coll(contentCollection).ReplaceOne(ctx, bson.M{"_id": doc.Phase}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return infraErr("put phase content", err)
	}
	return nil
}

// ============================================================
// Notification outbox
// ============================================================

func (s *Store) ListPendingNotifications(ctx context.Context, limit int) ([]domain.Notification, error) {
	ctx, span := tracer.Start(ctx, "Mongo.ListPendingNotifications")
	defer span.End()

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.coll(notificationsCollection).Find(ctx, bson.M{"deliveredAt": nil}, opts)
	if err != nil {
		return nil, infraErr("find pending notifications", err)
	}
	defer cur.Close(ctx)

	var docs []notificationDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, infraErr("decode notifications", err)
	}
	out := make([]domain.Notification, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toDomain())
	}
	return out, nil
}

func (s *Store) MarkNotificationDelivered(ctx context.Context, notificationID string, at time.Time) error {
	res, err := s.coll(notificationsCollection).UpdateOne(ctx,
		bson.M{"_id": notificationID},
		bson.M{"$set": bson.M{"deliveredAt": at}},
	)
	if err != nil {
		return infraErr("mark notification delivered", err)
	}
	if res.MatchedCount == 0 {
		return &domain.ErrNotFound{Resource: "notification", ID: notificationID}
	}
	return nil
}

// ============================================================
// Errors
// ============================================================

// writeConflictCode is the server code of a write conflict between two
// transactions touching the same document.
const writeConflictCode = 112

// classify maps driver errors to domain errors. Duplicate keys on the
// one-active-phase index and transaction write conflicts both mean another
// writer got to the subscriber first.
func classify(subscriberID string, err error) error {
	if err == nil {
		return nil
	}
	var (
		nf *domain.ErrNotFound
		ve *domain.ErrValidation
		cc *domain.ErrConcurrencyConflict
	)
	if errors.As(err, &nf) || errors.As(err, &ve) || errors.As(err, &cc) {
		return err
	}
	if mongo.IsDuplicateKeyError(err) {
		return &domain.ErrConcurrencyConflict{Resource: "phase_record", ID: subscriberID}
	}
	var se mongo.ServerError
	if errors.As(err, &se) {
		if se.HasErrorCode(writeConflictCode) || se.HasErrorLabel("TransientTransactionError") {
			return &domain.ErrConcurrencyConflict{Resource: "subscriber", ID: subscriberID}
		}
	}
	return infraErr("transaction", err)
}

func infraErr(op string, err error) error {
	return &domain.ErrInfrastructure{Op: fmt.Sprintf("mongo: %s", op), Err: err}
}
