package slots

import (
	"context"
	"testing"
	"time"

	"medslots/pkg/client"
	"medslots/pkg/config"
	"medslots/pkg/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

const slotsNamespace = "medslots.Slots"

func newMockMongoStore(mt *mtest.T) *MongoStore {
	calendar, err := NewCalendar(fallbackSchedule, nil)
	require.NoError(mt, err)
	return NewMongoStore(&config.Config{
		Client:            &client.Client{Mongo: mt.Client},
		MongoDatabaseName: "medslots",
		ReadTimeout:       time.Second,
		WriteTimeout:      time.Second,
	}, calendar)
}

func lockedSlotDoc(appointmentID, user string, until time.Time) bson.D {
	return bson.D{
		{Key: "_id", Value: testKey.String()},
		{Key: "staff_id", Value: testKey.StaffID},
		{Key: "date", Value: testKey.Date},
		{Key: "time_range", Value: testKey.TimeRange},
		{Key: "state", Value: string(model.SlotLocked)},
		{Key: "held_by", Value: bson.D{{Key: "user_id", Value: user}, {Key: "session_id", Value: "tab"}}},
		{Key: "appointment_id", Value: appointmentID},
		{Key: "locked_until", Value: until},
		{Key: "updated_at", Value: t0},
	}
}

// updateQuery returns the filter of the first statement of an update command.
func updateQuery(mt *mtest.T) bson.Raw {
	started := mt.GetStartedEvent()
	require.NotNil(mt, started)
	require.Equal(mt, "update", started.CommandName)
	return started.Command.Lookup("updates", "0", "q").Document()
}

func TestMongoStore_Transitions(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	until := t0.Add(5 * time.Minute)

	mt.Run("lock upserts only over an available slot", func(mt *mtest.T) {
		store := newMockMongoStore(mt)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}))

		locked, err := store.TryTransition(context.Background(), lockTransition("a1", "userX", until))
		require.NoError(mt, err)
		assert.Equal(mt, model.SlotLocked, locked.State)
		assert.Equal(mt, "a1", locked.AppointmentID)

		started := mt.GetStartedEvent()
		require.NotNil(mt, started)
		update := started.Command.Lookup("updates", "0")
		q := update.Document().Lookup("q").Document()
		assert.Equal(mt, testKey.String(), q.Lookup("_id").StringValue())
		assert.Equal(mt, string(model.SlotAvailable), q.Lookup("state").StringValue())
		assert.True(mt, update.Document().Lookup("upsert").Boolean())
	})

	mt.Run("duplicate key on lock reports the current holder", func(mt *mtest.T) {
		store := newMockMongoStore(mt)
		mt.AddMockResponses(
			mtest.CreateWriteErrorsResponse(mtest.WriteError{Index: 0, Code: 11000, Message: "E11000 duplicate key error"}),
			mtest.CreateCursorResponse(0, slotsNamespace, mtest.FirstBatch, lockedSlotDoc("a9", "userY", until)),
		)

		_, err := store.TryTransition(context.Background(), lockTransition("a1", "userX", until))
		ce, ok := AsConflict(err)
		require.True(mt, ok, "expected conflict, got %v", err)
		assert.Equal(mt, "a9", ce.Current.AppointmentID)
		require.NotNil(mt, ce.Current.HeldBy)
		assert.Equal(mt, "userY", ce.Current.HeldBy.UserID)
		assert.True(mt, until.Equal(*ce.Current.LockedUntil))
	})

	mt.Run("other write errors are not conflicts", func(mt *mtest.T) {
		store := newMockMongoStore(mt)
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{Code: 2, Name: "BadValue", Message: "bad value"}))

		_, err := store.TryTransition(context.Background(), lockTransition("a1", "userX", until))
		require.Error(mt, err)
		assert.NotErrorIs(mt, err, ErrConflict)
	})

	mt.Run("confirm requires a live lease held by the appointment", func(mt *mtest.T) {
		store := newMockMongoStore(mt)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 1}))

		now := t0.Add(time.Minute)
		confirmed, err := store.TryTransition(context.Background(), Transition{
			Key: testKey, From: model.SlotLocked, To: model.SlotConfirmed, AppointmentID: "a1", RequireLive: true, Now: now,
		})
		require.NoError(mt, err)
		assert.Equal(mt, model.SlotConfirmed, confirmed.State)
		assert.Equal(mt, "a1", confirmed.AppointmentID)
		assert.Nil(mt, confirmed.LockedUntil)

		q := updateQuery(mt)
		assert.Equal(mt, string(model.SlotLocked), q.Lookup("state").StringValue())
		assert.Equal(mt, "a1", q.Lookup("appointment_id").StringValue())
		assert.True(mt, now.Equal(q.Lookup("locked_until", "$gt").Time()))
	})

	mt.Run("confirm on a lapsed lease is a conflict", func(mt *mtest.T) {
		store := newMockMongoStore(mt)
		lapsed := t0.Add(-time.Minute)
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}, bson.E{Key: "nModified", Value: 0}),
			mtest.CreateCursorResponse(0, slotsNamespace, mtest.FirstBatch, lockedSlotDoc("a1", "userX", lapsed)),
		)

		_, err := store.TryTransition(context.Background(), Transition{
			Key: testKey, From: model.SlotLocked, To: model.SlotConfirmed, AppointmentID: "a1", RequireLive: true, Now: t0,
		})
		ce, ok := AsConflict(err)
		require.True(mt, ok, "expected conflict, got %v", err)
		assert.Equal(mt, model.SlotLocked, ce.Current.State)
		assert.True(mt, lapsed.Equal(*ce.Current.LockedUntil))
	})

	mt.Run("release deletes the matching document", func(mt *mtest.T) {
		store := newMockMongoStore(mt)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}))

		released, err := store.TryTransition(context.Background(), Transition{
			Key: testKey, From: model.SlotLocked, To: model.SlotAvailable, AppointmentID: "a1", Now: t0,
		})
		require.NoError(mt, err)
		assert.Equal(mt, model.AvailableSlot(testKey), released)

		started := mt.GetStartedEvent()
		require.NotNil(mt, started)
		assert.Equal(mt, "delete", started.CommandName)
		q := started.Command.Lookup("deletes", "0", "q").Document()
		assert.Equal(mt, "a1", q.Lookup("appointment_id").StringValue())
		_, err = q.LookupErr("locked_until")
		assert.Error(mt, err, "release must not depend on the lease")
	})

	mt.Run("release by a stale appointment is a conflict", func(mt *mtest.T) {
		store := newMockMongoStore(mt)
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}),
			mtest.CreateCursorResponse(0, slotsNamespace, mtest.FirstBatch),
		)

		_, err := store.TryTransition(context.Background(), Transition{
			Key: testKey, From: model.SlotLocked, To: model.SlotAvailable, AppointmentID: "gone", Now: t0,
		})
		ce, ok := AsConflict(err)
		require.True(mt, ok, "expected conflict, got %v", err)
		assert.Equal(mt, model.SlotAvailable, ce.Current.State)
	})

	mt.Run("outside the calendar never reaches the database", func(mt *mtest.T) {
		store := newMockMongoStore(mt)
		outside := lockTransition("a1", "userX", until)
		outside.Key.TimeRange = "07:00-07:30"

		_, err := store.TryTransition(context.Background(), outside)
		assert.ErrorIs(mt, err, ErrOutsideGrid)
		assert.Nil(mt, mt.GetStartedEvent())
	})
}

func TestMongoStore_ExpiredLocks(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("scans lapsed locks oldest first", func(mt *mtest.T) {
		store := newMockMongoStore(mt)
		first := t0.Add(-2 * time.Minute)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, slotsNamespace, mtest.FirstBatch,
			lockedSlotDoc("a1", "userX", first),
		))

		expired, err := store.ExpiredLocks(context.Background(), t0, 10)
		require.NoError(mt, err)
		require.Len(mt, expired, 1)
		assert.Equal(mt, "a1", expired[0].AppointmentID)
		assert.Equal(mt, time.UTC, expired[0].LockedUntil.Location())

		started := mt.GetStartedEvent()
		require.NotNil(mt, started)
		assert.Equal(mt, "find", started.CommandName)
		filter := started.Command.Lookup("filter").Document()
		assert.Equal(mt, string(model.SlotLocked), filter.Lookup("state").StringValue())
		assert.True(mt, t0.Equal(filter.Lookup("locked_until", "$lte").Time()))
		assert.Equal(mt, int64(1), started.Command.Lookup("sort", "locked_until").AsInt64())
		assert.Equal(mt, int64(10), started.Command.Lookup("limit").AsInt64())
	})
}
