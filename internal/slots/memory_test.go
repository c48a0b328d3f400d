package slots

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"medslots/pkg/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *MemoryStore {
	t.Helper()
	calendar, err := NewCalendar(fallbackSchedule, nil)
	require.NoError(t, err)
	return NewMemoryStore(calendar)
}

var (
	testKey = model.SlotKey{StaffID: "staffD", Date: "2024-06-03", TimeRange: "09:00-09:30"}
	t0      = time.Date(2024, 6, 3, 8, 0, 0, 0, time.UTC)
)

func lockTransition(appointmentID, user string, until time.Time) Transition {
	return Transition{
		Key:           testKey,
		From:          model.SlotAvailable,
		To:            model.SlotLocked,
		AppointmentID: appointmentID,
		Holder:        model.Holder{UserID: user, SessionID: "tab"},
		LockedUntil:   until,
		Now:           t0,
	}
}

func TestMemoryStore_Lifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	until := t0.Add(5 * time.Minute)

	locked, err := store.TryTransition(ctx, lockTransition("a1", "userX", until))
	require.NoError(t, err)
	assert.Equal(t, model.SlotLocked, locked.State)
	assert.Equal(t, "a1", locked.AppointmentID)
	assert.Equal(t, until, *locked.LockedUntil)

	_, err = store.TryTransition(ctx, lockTransition("a2", "userY", until))
	ce, ok := AsConflict(err)
	require.True(t, ok)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, "a1", ce.Current.AppointmentID)

	// a stale appointment id cannot move the slot
	_, err = store.TryTransition(ctx, Transition{Key: testKey, From: model.SlotLocked, To: model.SlotAvailable, AppointmentID: "a2", Now: t0})
	assert.ErrorIs(t, err, ErrConflict)

	confirmed, err := store.TryTransition(ctx, Transition{
		Key: testKey, From: model.SlotLocked, To: model.SlotConfirmed, AppointmentID: "a1", RequireLive: true, Now: t0.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, model.SlotConfirmed, confirmed.State)
	assert.Nil(t, confirmed.HeldBy)
	assert.Nil(t, confirmed.LockedUntil)

	got, err := store.Lookup(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, confirmed, got)
}

func TestMemoryStore_ConfirmRequiresLiveLease(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	until := t0.Add(5 * time.Minute)

	_, err := store.TryTransition(ctx, lockTransition("a1", "userX", until))
	require.NoError(t, err)

	_, err = store.TryTransition(ctx, Transition{
		Key: testKey, From: model.SlotLocked, To: model.SlotConfirmed, AppointmentID: "a1", RequireLive: true, Now: until,
	})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestMemoryStore_RejectsInvalidTransitions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.TryTransition(ctx, Transition{Key: testKey, From: model.SlotConfirmed, To: model.SlotAvailable, AppointmentID: "a1"})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = store.TryTransition(ctx, Transition{Key: testKey, From: model.SlotAvailable, To: model.SlotLocked})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	outside := lockTransition("a1", "userX", t0.Add(time.Minute))
	outside.Key.TimeRange = "18:00-18:30"
	_, err = store.TryTransition(ctx, outside)
	assert.ErrorIs(t, err, ErrOutsideGrid)

	_, err = store.Lookup(ctx, outside.Key)
	assert.ErrorIs(t, err, ErrOutsideGrid)
}

func TestMemoryStore_ConcurrentLocksSingleWinner(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("a%d", i)
			if _, err := store.TryTransition(ctx, lockTransition(id, id, t0.Add(time.Minute))); err == nil {
				mu.Lock()
				winners = append(winners, id)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	require.Len(t, winners, 1)
	got, err := store.Lookup(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, winners[0], got.AppointmentID)
}

func (s *MemoryStore) heldCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cells)
}

func TestMemoryStore_ReleasedSlotsAreNotRetained(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.TryTransition(ctx, lockTransition("a1", "userX", t0.Add(time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, 1, store.heldCount())

	_, err = store.TryTransition(ctx, Transition{Key: testKey, From: model.SlotLocked, To: model.SlotAvailable, AppointmentID: "a1", Now: t0})
	require.NoError(t, err)
	assert.Equal(t, 0, store.heldCount())

	got, err := store.Lookup(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, model.AvailableSlot(testKey), got)

	// a losing attempt on a free slot leaves nothing behind either
	_, err = store.TryTransition(ctx, Transition{Key: testKey, From: model.SlotLocked, To: model.SlotAvailable, AppointmentID: "a1", Now: t0})
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 0, store.heldCount())

	_, err = store.TryTransition(ctx, lockTransition("a2", "userY", t0.Add(time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, 1, store.heldCount())
}

func TestMemoryStore_LockReleaseChurnKeepsOneHolder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		failures []string
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for round := 0; round < 50; round++ {
				id := fmt.Sprintf("a%d-%d", i, round)
				if _, err := store.TryTransition(ctx, lockTransition(id, id, t0.Add(time.Minute))); err != nil {
					continue
				}
				got, err := store.Lookup(ctx, testKey)
				if err != nil || got.AppointmentID != id {
					mu.Lock()
					failures = append(failures, fmt.Sprintf("%s saw %s", id, got.AppointmentID))
					mu.Unlock()
				}
				if _, err := store.TryTransition(ctx, Transition{Key: testKey, From: model.SlotLocked, To: model.SlotAvailable, AppointmentID: id, Now: t0}); err != nil {
					mu.Lock()
					failures = append(failures, fmt.Sprintf("%s release: %v", id, err))
					mu.Unlock()
				}
			}
		}(i)
	}
	wg.Wait()

	assert.Empty(t, failures)
	assert.Equal(t, 0, store.heldCount())
}

func TestMemoryStore_ExpiredLocks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	later := lockTransition("late", "userY", t0.Add(3*time.Minute))
	later.Key.TimeRange = "10:00-10:30"
	_, err := store.TryTransition(ctx, later)
	require.NoError(t, err)
	_, err = store.TryTransition(ctx, lockTransition("early", "userX", t0.Add(time.Minute)))
	require.NoError(t, err)

	expired, err := store.ExpiredLocks(ctx, t0, 10)
	require.NoError(t, err)
	assert.Empty(t, expired)

	expired, err = store.ExpiredLocks(ctx, t0.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "early", expired[0].AppointmentID)

	expired, err = store.ExpiredLocks(ctx, t0.Add(time.Hour), 1)
	require.NoError(t, err)
	require.Len(t, expired, 1, "limit applies")
	assert.Equal(t, "early", expired[0].AppointmentID, "oldest first")
}

func TestMemoryStore_GetReturnsFullGrid(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.TryTransition(ctx, lockTransition("a1", "userX", t0.Add(time.Minute)))
	require.NoError(t, err)

	grid, err := store.Get(ctx, "staffD", "2024-06-03")
	require.NoError(t, err)
	require.Len(t, grid, 6)
	assert.Equal(t, model.SlotLocked, grid[0].State)
	assert.Equal(t, model.SlotAvailable, grid[1].State)

	grid, err = store.Get(ctx, "staffD", "2024-06-01")
	require.NoError(t, err)
	assert.Empty(t, grid)
}
