package repository

import (
	"context"
	"testing"
	"time"

	reservationserrors "medslots/internal/reservations/errors"
	"medslots/pkg/client"
	"medslots/pkg/config"
	"medslots/pkg/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

const appointmentsNamespace = "medslots.Appointments"

func newMockMongoRepository(mt *mtest.T) AppointmentRepository {
	return NewMongoAppointmentRepository(&config.Config{
		Client:            &client.Client{Mongo: mt.Client},
		MongoDatabaseName: "medslots",
		ReadTimeout:       time.Second,
		WriteTimeout:      time.Second,
	})
}

func appointmentDoc(id string, status model.AppointmentStatus) bson.D {
	return bson.D{
		{Key: "_id", Value: id},
		{Key: "user_id", Value: "userX"},
		{Key: "session_id", Value: "tab"},
		{Key: "staff_id", Value: "staffD"},
		{Key: "date", Value: "2024-06-01"},
		{Key: "time_range", Value: "09:00-09:30"},
		{Key: "status", Value: string(status)},
		{Key: "created_at", Value: now},
		{Key: "updated_at", Value: now},
	}
}

func TestMongoRepository_Create(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("inserts the appointment", func(mt *mtest.T) {
		repo := newMockMongoRepository(mt)
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		require.NoError(mt, repo.Create(context.Background(), lockedAppointment("a1", "userX", "09:00-09:30")))

		started := mt.GetStartedEvent()
		require.NotNil(mt, started)
		assert.Equal(mt, "insert", started.CommandName)
		assert.Equal(mt, "a1", started.Command.Lookup("documents", "0", "_id").StringValue())
	})

	mt.Run("duplicate key means the user already holds a lock", func(mt *mtest.T) {
		repo := newMockMongoRepository(mt)
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index:   0,
			Code:    11000,
			Message: "E11000 duplicate key error collection: medslots.Appointments index: user_id_locked",
		}))

		err := repo.Create(context.Background(), lockedAppointment("a2", "userX", "10:00-10:30"))
		assert.ErrorIs(mt, err, reservationserrors.ErrActiveLockExists)
	})
}

func TestMongoRepository_UpdateStatus(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	at := now.Add(time.Minute)

	mt.Run("moves the status only from the expected one", func(mt *mtest.T) {
		repo := newMockMongoRepository(mt)
		updated := append(appointmentDoc("a1", model.StatusConfirmed), bson.E{Key: "confirmed_at", Value: at})
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "value", Value: updated}))

		appt, err := repo.UpdateStatus(context.Background(), "a1", model.StatusLocked, StatusUpdate{To: model.StatusConfirmed, At: at})
		require.NoError(mt, err)
		assert.Equal(mt, model.StatusConfirmed, appt.Status)
		require.NotNil(mt, appt.ConfirmedAt)
		assert.True(mt, at.Equal(*appt.ConfirmedAt))
		assert.Nil(mt, appt.LockedUntil)

		started := mt.GetStartedEvent()
		require.NotNil(mt, started)
		assert.Equal(mt, "findAndModify", started.CommandName)
		query := started.Command.Lookup("query").Document()
		assert.Equal(mt, "a1", query.Lookup("_id").StringValue())
		assert.Equal(mt, string(model.StatusLocked), query.Lookup("status").StringValue())
		_, err = started.Command.Lookup("update", "$unset").Document().LookupErr("locked_until")
		assert.NoError(mt, err)
		assert.True(mt, started.Command.Lookup("new").Boolean())
	})

	mt.Run("lost race reports the status changed", func(mt *mtest.T) {
		repo := newMockMongoRepository(mt)
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "value", Value: nil}),
			mtest.CreateCursorResponse(0, appointmentsNamespace, mtest.FirstBatch, appointmentDoc("a1", model.StatusCancelled)),
		)

		_, err := repo.UpdateStatus(context.Background(), "a1", model.StatusLocked, StatusUpdate{To: model.StatusConfirmed, At: at})
		assert.ErrorIs(mt, err, reservationserrors.ErrStatusChanged)
	})

	mt.Run("unknown appointment is not found", func(mt *mtest.T) {
		repo := newMockMongoRepository(mt)
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "value", Value: nil}),
			mtest.CreateCursorResponse(0, appointmentsNamespace, mtest.FirstBatch),
		)

		_, err := repo.UpdateStatus(context.Background(), "missing", model.StatusLocked, StatusUpdate{
			To: model.StatusCancelled, Reason: model.ReasonUser, At: at,
		})
		assert.ErrorIs(mt, err, reservationserrors.ErrNotFound)
	})
}

func TestMongoRepository_FindLockedByUser(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("filters on the locked status", func(mt *mtest.T) {
		repo := newMockMongoRepository(mt)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, appointmentsNamespace, mtest.FirstBatch, appointmentDoc("a1", model.StatusLocked)))

		appt, err := repo.FindLockedByUser(context.Background(), "userX")
		require.NoError(mt, err)
		assert.Equal(mt, "a1", appt.ID)
		assert.Equal(mt, time.UTC, appt.CreatedAt.Location())

		started := mt.GetStartedEvent()
		require.NotNil(mt, started)
		filter := started.Command.Lookup("filter").Document()
		assert.Equal(mt, "userX", filter.Lookup("user_id").StringValue())
		assert.Equal(mt, string(model.StatusLocked), filter.Lookup("status").StringValue())
	})

	mt.Run("no lock is not found", func(mt *mtest.T) {
		repo := newMockMongoRepository(mt)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, appointmentsNamespace, mtest.FirstBatch))

		_, err := repo.FindLockedByUser(context.Background(), "userX")
		assert.ErrorIs(mt, err, reservationserrors.ErrNotFound)
	})
}
