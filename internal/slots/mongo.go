package slots

import (
	"context"
	"errors"
	"fmt"
	"time"

	"medslots/pkg/config"
	"medslots/pkg/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const CollectionName = "Slots"

// slotDocument stores one non-available slot. Releasing a slot deletes its
// document, so absence means available.
type slotDocument struct {
	ID        string     `bson:"_id"`
	Slot      model.Slot `bson:",inline"`
	UpdatedAt time.Time  `bson:"updated_at"`
}

type MongoStore struct {
	cfg        *config.Config
	calendar   *Calendar
	collection *mongo.Collection
}

func NewMongoStore(cfg *config.Config, calendar *Calendar) *MongoStore {
	db := cfg.Client.Mongo.Database(cfg.MongoDatabaseName)
	return &MongoStore{
		cfg:        cfg,
		calendar:   calendar,
		collection: db.Collection(CollectionName),
	}
}

func (s *MongoStore) withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.(mongo.SessionContext); ok {
		return ctx, func() {}
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		return context.WithDeadline(ctx, deadline)
	}
	return context.WithTimeout(ctx, timeout)
}

func (s *MongoStore) Get(ctx context.Context, staffID, date string) ([]model.Slot, error) {
	if _, err := s.calendar.Ranges(staffID, date); err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx, s.cfg.ReadTimeout)
	defer cancel()

	cursor, err := s.collection.Find(ctx, bson.M{"staff_id": staffID, "date": date})
	if err != nil {
		return nil, fmt.Errorf("find slots: %w", err)
	}
	defer cursor.Close(ctx)

	held := make(map[string]model.Slot)
	for cursor.Next(ctx) {
		var doc slotDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode slot: %w", err)
		}
		held[doc.Slot.TimeRange] = normalize(doc.Slot)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate slots: %w", err)
	}
	return s.calendar.Grid(staffID, date, held)
}

func (s *MongoStore) Lookup(ctx context.Context, key model.SlotKey) (model.Slot, error) {
	if !s.calendar.Contains(key) {
		return model.Slot{}, ErrOutsideGrid
	}
	return s.load(ctx, key)
}

func (s *MongoStore) load(ctx context.Context, key model.SlotKey) (model.Slot, error) {
	ctx, cancel := s.withTimeout(ctx, s.cfg.ReadTimeout)
	defer cancel()

	var doc slotDocument
	err := s.collection.FindOne(ctx, bson.M{"_id": key.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.AvailableSlot(key), nil
	}
	if err != nil {
		return model.Slot{}, fmt.Errorf("find slot %s: %w", key, err)
	}
	return normalize(doc.Slot), nil
}

func (s *MongoStore) TryTransition(ctx context.Context, t Transition) (model.Slot, error) {
	if err := t.validate(); err != nil {
		return model.Slot{}, err
	}
	if !s.calendar.Contains(t.Key) {
		return model.Slot{}, ErrOutsideGrid
	}

	wctx, cancel := s.withTimeout(ctx, s.cfg.WriteTimeout)
	defer cancel()

	next := t.apply(model.AvailableSlot(t.Key))
	id := t.Key.String()

	var matched bool
	switch {
	case t.From == model.SlotAvailable:
		// Upsert on a document that is locked elsewhere collides on _id.
		_, err := s.collection.UpdateOne(wctx,
			bson.M{"_id": id, "state": model.SlotAvailable},
			bson.M{"$set": bson.M{
				"staff_id":       next.StaffID,
				"date":           next.Date,
				"time_range":     next.TimeRange,
				"state":          next.State,
				"held_by":        next.HeldBy,
				"appointment_id": next.AppointmentID,
				"locked_until":   next.LockedUntil,
				"updated_at":     t.Now,
			}},
			options.Update().SetUpsert(true),
		)
		if err != nil && !mongo.IsDuplicateKeyError(err) {
			return model.Slot{}, fmt.Errorf("lock slot %s: %w", id, err)
		}
		matched = err == nil

	case t.To == model.SlotAvailable:
		res, err := s.collection.DeleteOne(wctx, s.expectFilter(t))
		if err != nil {
			return model.Slot{}, fmt.Errorf("release slot %s: %w", id, err)
		}
		matched = res.DeletedCount == 1

	default:
		res, err := s.collection.UpdateOne(wctx, s.expectFilter(t), bson.M{
			"$set":   bson.M{"state": model.SlotConfirmed, "updated_at": t.Now},
			"$unset": bson.M{"held_by": "", "locked_until": ""},
		})
		if err != nil {
			return model.Slot{}, fmt.Errorf("confirm slot %s: %w", id, err)
		}
		matched = res.MatchedCount == 1
		next.AppointmentID = t.AppointmentID
	}

	if !matched {
		current, err := s.load(ctx, t.Key)
		if err != nil {
			return model.Slot{}, err
		}
		return model.Slot{}, &ConflictError{Current: current}
	}
	return next, nil
}

func (s *MongoStore) expectFilter(t Transition) bson.M {
	filter := bson.M{
		"_id":            t.Key.String(),
		"state":          t.From,
		"appointment_id": t.AppointmentID,
	}
	if t.RequireLive {
		filter["locked_until"] = bson.M{"$gt": t.Now}
	}
	return filter
}

func (s *MongoStore) ExpiredLocks(ctx context.Context, now time.Time, limit int) ([]model.Slot, error) {
	ctx, cancel := s.withTimeout(ctx, s.cfg.ReadTimeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "locked_until", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := s.collection.Find(ctx, bson.M{
		"state":        model.SlotLocked,
		"locked_until": bson.M{"$lte": now},
	}, opts)
	if err != nil {
		return nil, fmt.Errorf("find expired locks: %w", err)
	}
	defer cursor.Close(ctx)

	var expired []model.Slot
	for cursor.Next(ctx) {
		var doc slotDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode slot: %w", err)
		}
		expired = append(expired, normalize(doc.Slot))
	}
	return expired, cursor.Err()
}

// normalize maps stored times back to UTC so values compare equal to the
// ones produced in process.
func normalize(s model.Slot) model.Slot {
	if s.LockedUntil != nil {
		t := s.LockedUntil.UTC()
		s.LockedUntil = &t
	}
	return s
}
