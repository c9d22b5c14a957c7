// README: Ride store backed by MongoDB; version-filtered update with the event pushed into the same document.
package ride

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"rideshare/internal/types"
)

const ridesCollection = "rides"

type MongoStore struct {
	collection *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{collection: db.Collection(ridesCollection)}
}

// EnsureIndexes creates the participant indexes history queries rely on.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "rider_id", Value: 1}, {Key: "requested_at", Value: -1}}},
		{Keys: bson.D{{Key: "driver_id", Value: 1}, {Key: "requested_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create ride indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) Get(ctx context.Context, id types.ID) (*Ride, error) {
	var r Ride
	opts := options.FindOne().SetProjection(bson.M{"events": 0})
	err := s.collection.FindOne(ctx, bson.M{"_id": string(id)}, opts).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ride: %w", err)
	}
	return &r, nil
}

func (s *MongoStore) ConditionalSave(ctx context.Context, r *Ride, expectedVersion int64, ev Event) (*Ride, error) {
	saved := r.Clone()
	saved.Version = expectedVersion + 1
	ev.Version = saved.Version

	if expectedVersion == 0 {
		doc, err := toDocument(saved)
		if err != nil {
			return nil, err
		}
		doc = append(doc, bson.E{Key: "events", Value: bson.A{ev}})
		if _, err := s.collection.InsertOne(ctx, doc); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return nil, ErrVersionConflict
			}
			return nil, fmt.Errorf("failed to create ride: %w", err)
		}
		return saved, nil
	}

	set := bson.M{
		"status":        saved.Status,
		"driver_id":     saved.DriverID,
		"fare":          saved.Fare,
		"cancel_reason": saved.CancelReason,
		"estimate":      saved.Estimate,
		"accepted_at":   saved.AcceptedAt,
		"started_at":    saved.StartedAt,
		"completed_at":  saved.CompletedAt,
		"cancelled_at":  saved.CancelledAt,
		"updated_at":    saved.UpdatedAt,
		"version":       saved.Version,
	}
	res, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": string(saved.ID), "version": expectedVersion},
		bson.M{"$set": set, "$push": bson.M{"events": ev}},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update ride: %w", err)
	}
	if res.MatchedCount == 1 {
		return saved, nil
	}

	n, err := s.collection.CountDocuments(ctx, bson.M{"_id": string(saved.ID)})
	if err != nil {
		return nil, fmt.Errorf("failed to check ride: %w", err)
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	return nil, ErrVersionConflict
}

func (s *MongoStore) ListByParticipant(ctx context.Context, actorID types.ID, role Role) ([]*Ride, error) {
	var field string
	switch role {
	case RoleRider:
		field = "rider_id"
	case RoleDriver:
		field = "driver_id"
	default:
		return nil, fmt.Errorf("unknown role %q", role)
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "requested_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetProjection(bson.M{"events": 0})
	cursor, err := s.collection.Find(ctx, bson.M{field: string(actorID)}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list rides: %w", err)
	}
	defer cursor.Close(ctx)

	out := make([]*Ride, 0)
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode rides: %w", err)
	}
	return out, nil
}

func toDocument(r *Ride) (bson.D, error) {
	raw, err := bson.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode ride: %w", err)
	}
	var doc bson.D
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to encode ride: %w", err)
	}
	return doc, nil
}
