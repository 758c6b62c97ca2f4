package mongo

import (
	"context"
	"errors"

	"github.com/boddenberg/phase-lifecycle-go/internal/domain"
	"github.com/boddenberg/phase-lifecycle-go/internal/port"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
	"go.uber.org/zap"
)

// RunInTx runs fn inside a snapshot transaction with majority writes. The
// driver retries the whole callback on transient transaction errors; what
// still fails is mapped to domain errors.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx port.PhaseTx) error) error {
	ctx, span := tracer.Start(ctx, "Mongo.RunInTx")
	defer span.End()

	sess, err := s.client.StartSession()
	if err != nil {
		return infraErr("start session", err)
	}
	defer sess.EndSession(ctx)

	txOpts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())

	tx := &mongoTx{store: s}
	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		tx.subscriberID = ""
		return nil, fn(sc, tx)
	}, txOpts)
	if err != nil {
		span.RecordError(err)
		s.logger.Debug("mongo transaction aborted",
			zap.String("subscriber_id", tx.subscriberID),
			zap.Error(err),
		)
		return classify(tx.subscriberID, err)
	}
	return nil
}

// mongoTx routes every call through the session context handed to fn, which
// binds it to the running transaction.
type mongoTx struct {
	store        *Store
	subscriberID string
}

// LockSubscriber bumps the subscriber's version. The write makes any other
// transaction touching the same subscriber abort with a write conflict.
func (tx *mongoTx) LockSubscriber(ctx context.Context, subscriberID string) (*domain.Subscriber, error) {
	tx.subscriberID = subscriberID

	var doc subscriberDoc
	err := tx.store.coll(subscribersCollection).FindOneAndUpdate(ctx,
		bson.M{"_id": subscriberID},
		bson.M{"$inc": bson.M{"version": 1}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, &domain.ErrNotFound{Resource: "subscriber", ID: subscriberID}
		}
		return nil, err
	}
	return doc.toDomain(), nil
}

func (tx *mongoTx) GetPhaseHistory(ctx context.Context, subscriberID string) ([]domain.PhaseRecord, error) {
	return phaseHistory(ctx, tx.store.coll(phasesCollection), subscriberID)
}

func (tx *mongoTx) CreatePhaseRecord(ctx context.Context, rec domain.PhaseRecord) error {
	_, err := tx.store.coll(phasesCollection).InsertOne(ctx, toPhaseDoc(rec))
	return err
}

func (tx *mongoTx) UpdatePhaseRecord(ctx context.Context, rec domain.PhaseRecord) error {
	res, err := tx.store.coll(phasesCollection).ReplaceOne(ctx, bson.M{"_id": rec.ID}, toPhaseDoc(rec))
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return &domain.ErrNotFound{Resource: "phase_record", ID: rec.ID}
	}
	return nil
}

// UpdateSubscriber replaces the subscriber only if its version still matches
// the one read by LockSubscriber.
func (tx *mongoTx) UpdateSubscriber(ctx context.Context, sub *domain.Subscriber) error {
	res, err := tx.store.coll(subscribersCollection).ReplaceOne(ctx,
		bson.M{"_id": sub.ID, "version": sub.Version},
		toSubscriberDoc(sub),
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return &domain.ErrConcurrencyConflict{Resource: "subscriber", ID: sub.ID}
	}
	return nil
}

func (tx *mongoTx) EnqueueNotification(ctx context.Context, n domain.Notification) error {
	_, err := tx.store.coll(notificationsCollection).InsertOne(ctx, toNotificationDoc(n))
	return err
}
