package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	reservationserrors "medslots/internal/reservations/errors"
	"medslots/pkg/config"
	"medslots/pkg/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	CollectionName = "Appointments"
)

// StatusUpdate describes a status change applied by UpdateStatus.
type StatusUpdate struct {
	To     model.AppointmentStatus
	Reason model.ReleaseReason
	At     time.Time
}

type AppointmentRepository interface {
	// Create fails with ErrActiveLockExists when the user already holds a lock.
	Create(ctx context.Context, appointment *model.Appointment) error
	FindByID(ctx context.Context, id string) (*model.Appointment, error)
	FindLockedByUser(ctx context.Context, userID string) (*model.Appointment, error)
	FindConfirmedByUser(ctx context.Context, userID, staffID, date string) ([]*model.Appointment, error)
	// UpdateStatus moves an appointment from one status to another, failing
	// with ErrStatusChanged when the current status is not from.
	UpdateStatus(ctx context.Context, id string, from model.AppointmentStatus, update StatusUpdate) (*model.Appointment, error)
}

type mongoAppointmentRepository struct {
	cfg        *config.Config
	collection *mongo.Collection
}

func NewMongoAppointmentRepository(cfg *config.Config) AppointmentRepository {
	db := cfg.Client.Mongo.Database(cfg.MongoDatabaseName)
	return &mongoAppointmentRepository{
		cfg:        cfg,
		collection: db.Collection(CollectionName),
	}
}

// withTimeout wraps the context with a timeout if not already in a transaction.
func (r *mongoAppointmentRepository) withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.(mongo.SessionContext); ok {
		return ctx, func() {}
	}

	deadline, hasDeadline := ctx.Deadline()
	if !hasDeadline {
		return context.WithTimeout(ctx, timeout)
	}

	remaining := time.Until(deadline)
	if remaining < timeout {
		return context.WithTimeout(ctx, remaining)
	}

	return context.WithTimeout(ctx, timeout)
}

func (r *mongoAppointmentRepository) Create(ctx context.Context, appointment *model.Appointment) error {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	if _, err := r.collection.InsertOne(ctx, appointment); err != nil {
		// the only unique index besides _id is the partial one on locked appointments per user
		if mongo.IsDuplicateKeyError(err) {
			return reservationserrors.ErrActiveLockExists
		}
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *mongoAppointmentRepository) FindByID(ctx context.Context, id string) (*model.Appointment, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *mongoAppointmentRepository) FindLockedByUser(ctx context.Context, userID string) (*model.Appointment, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	return r.findOne(ctx, bson.M{"user_id": userID, "status": model.StatusLocked})
}

func (r *mongoAppointmentRepository) findOne(ctx context.Context, filter bson.M) (*model.Appointment, error) {
	var appointment model.Appointment
	err := r.collection.FindOne(ctx, filter).Decode(&appointment)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, reservationserrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find appointment: %w", err)
	}
	return normalize(&appointment), nil
}

func (r *mongoAppointmentRepository) FindConfirmedByUser(ctx context.Context, userID, staffID, date string) ([]*model.Appointment, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	cursor, err := r.collection.Find(ctx, bson.M{
		"user_id":  userID,
		"staff_id": staffID,
		"date":     date,
		"status":   model.StatusConfirmed,
	}, options.Find().SetSort(bson.D{{Key: "time_range", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find confirmed appointments: %w", err)
	}
	defer cursor.Close(ctx)

	var appointments []*model.Appointment
	if err := cursor.All(ctx, &appointments); err != nil {
		return nil, fmt.Errorf("decode confirmed appointments: %w", err)
	}
	for _, a := range appointments {
		normalize(a)
	}
	return appointments, nil
}

func (r *mongoAppointmentRepository) UpdateStatus(ctx context.Context, id string, from model.AppointmentStatus, update StatusUpdate) (*model.Appointment, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	set := bson.M{"status": update.To, "updated_at": update.At}
	unset := bson.M{"locked_until": ""}
	switch update.To {
	case model.StatusConfirmed:
		set["confirmed_at"] = update.At
	case model.StatusCancelled:
		set["cancelled_at"] = update.At
		set["cancel_reason"] = update.Reason
	}

	var updated model.Appointment
	err := r.collection.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": from},
		bson.M{"$set": set, "$unset": unset},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if _, findErr := r.findOne(ctx, bson.M{"_id": id}); errors.Is(findErr, reservationserrors.ErrNotFound) {
			return nil, reservationserrors.ErrNotFound
		}
		return nil, reservationserrors.ErrStatusChanged
	}
	if err != nil {
		return nil, fmt.Errorf("update appointment status: %w", err)
	}
	return normalize(&updated), nil
}

func normalize(a *model.Appointment) *model.Appointment {
	utc := func(t *time.Time) *time.Time {
		if t == nil {
			return nil
		}
		u := t.UTC()
		return &u
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	a.LockedUntil = utc(a.LockedUntil)
	a.ConfirmedAt = utc(a.ConfirmedAt)
	a.CancelledAt = utc(a.CancelledAt)
	return a
}
