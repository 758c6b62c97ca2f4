package mongo

import (
	"context"
	"fmt"

	"github.com/boddenberg/phase-lifecycle-go/internal/domain"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureIndexes creates the indexes every collection relies on. Creating an
// index that already exists with the same definition is a no-op.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	specs := map[string][]mongo.IndexModel{
		subscribersCollection: {
			{Keys: bson.D{{Key: "isActive", Value: 1}}},
		},
		phasesCollection: {
			{Keys: bson.D{{Key: "subscriberId", Value: 1}, {Key: "startDate", Value: 1}}},
			{
				Keys: bson.D{{Key: "subscriberId", Value: 1}},
				Options: options.Index().
					SetName("one_active_phase_per_subscriber").
					SetUnique(true).
					SetPartialFilterExpression(bson.M{"status": string(domain.PhaseStatusActive)}),
			},
		},
		grantsCollection: {
			{Keys: bson.D{{Key: "subscriberId", Value: 1}}},
		},
		notificationsCollection: {
			{Keys: bson.D{{Key: "deliveredAt", Value: 1}, {Key: "createdAt", Value: 1}}},
		},
	}

	for coll, models := range specs {
		if _, err := db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", coll, err)
		}
	}
	return nil
}
