package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"medslots/internal/reservations/repository"
	"medslots/internal/reservations/validator"
	"medslots/internal/slots"
	"medslots/pkg/config"
	"medslots/pkg/logger"
	"medslots/pkg/model"

	"github.com/stretchr/testify/require"
)

const (
	testStaff = "staffD"
	testDate  = "2024-06-01"
	testTTL   = 5 * time.Minute
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingPublisher struct {
	mu      sync.Mutex
	events  []model.SlotEvent
	notices map[model.Holder][]model.SlotEvent
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{notices: make(map[model.Holder][]model.SlotEvent)}
}

func (p *recordingPublisher) Publish(_ context.Context, event model.SlotEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) Notify(_ context.Context, recipient model.Holder, event model.SlotEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notices[recipient] = append(p.notices[recipient], event)
}

func (p *recordingPublisher) Events() []model.SlotEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.SlotEvent(nil), p.events...)
}

func (p *recordingPublisher) Notices(holder model.Holder) []model.SlotEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.SlotEvent(nil), p.notices[holder]...)
}

type testEnv struct {
	manager   *Manager
	store     *slots.MemoryStore
	repo      repository.AppointmentRepository
	publisher *recordingPublisher
	clock     *fakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	calendar, err := slots.NewCalendar(slots.Schedule{
		StartOfDay:  "09:00",
		EndOfDay:    "17:00",
		SlotMinutes: 30,
		WorkingDays: []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"},
	}, nil)
	require.NoError(t, err)

	log := logger.NewDiscard()
	cfg := &config.Config{Log: log, LockTTL: testTTL}

	env := &testEnv{
		store:     slots.NewMemoryStore(calendar),
		repo:      repository.NewMemoryAppointmentRepository(),
		publisher: newRecordingPublisher(),
		clock:     newFakeClock(),
	}
	env.manager = NewManager(
		env.store,
		env.repo,
		validator.NewReservationValidator(log),
		env.publisher,
		nil,
		cfg,
		WithClock(env.clock.Now),
	)
	return env
}

func (e *testEnv) reaper() *Reaper {
	return NewReaper(ReaperConfig{Interval: time.Second, Clock: e.clock.Now}, e.store, e.manager, logger.NewDiscard(), nil)
}

func (e *testEnv) slot(t *testing.T, timeRange string) model.Slot {
	t.Helper()
	slot, err := e.store.Lookup(context.Background(), model.SlotKey{StaffID: testStaff, Date: testDate, TimeRange: timeRange})
	require.NoError(t, err)
	return slot
}

func request(user, session, timeRange string) *model.ReservationRequest {
	return &model.ReservationRequest{
		UserID:    user,
		SessionID: session,
		StaffID:   testStaff,
		Date:      testDate,
		TimeRange: timeRange,
	}
}
