package slots

import (
	"context"
	"sort"
	"sync"
	"time"

	"medslots/pkg/model"
)

type cell struct {
	mu   sync.Mutex
	slot model.Slot

	// retired cells have been removed from the index and must not be written.
	retired bool
}

// MemoryStore keeps slot state in process. Each slot has its own mutex;
// the index lock is only held to find, create or drop a cell. Only held
// slots keep a cell, so memory follows the number of live holds.
type MemoryStore struct {
	calendar *Calendar

	mu    sync.RWMutex
	cells map[model.SlotKey]*cell
}

func NewMemoryStore(calendar *Calendar) *MemoryStore {
	return &MemoryStore{
		calendar: calendar,
		cells:    make(map[model.SlotKey]*cell),
	}
}

func (s *MemoryStore) cell(key model.SlotKey) *cell {
	s.mu.RLock()
	c, ok := s.cells[key]
	s.mu.RUnlock()
	if ok {
		return c
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok = s.cells[key]; ok {
		return c
	}
	c = &cell{slot: model.AvailableSlot(key)}
	s.cells[key] = c
	return c
}

func (s *MemoryStore) peek(key model.SlotKey) (model.Slot, bool) {
	s.mu.RLock()
	c, ok := s.cells[key]
	s.mu.RUnlock()
	if !ok {
		return model.Slot{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slot, true
}

func (s *MemoryStore) Get(ctx context.Context, staffID, date string) ([]model.Slot, error) {
	ranges, err := s.calendar.Ranges(staffID, date)
	if err != nil {
		return nil, err
	}
	held := make(map[string]model.Slot)
	for _, r := range ranges {
		key := model.SlotKey{StaffID: staffID, Date: date, TimeRange: r}
		if slot, ok := s.peek(key); ok && slot.State != model.SlotAvailable {
			held[r] = slot
		}
	}
	return s.calendar.Grid(staffID, date, held)
}

func (s *MemoryStore) Lookup(ctx context.Context, key model.SlotKey) (model.Slot, error) {
	if !s.calendar.Contains(key) {
		return model.Slot{}, ErrOutsideGrid
	}
	if slot, ok := s.peek(key); ok {
		return slot, nil
	}
	return model.AvailableSlot(key), nil
}

func (s *MemoryStore) TryTransition(ctx context.Context, t Transition) (model.Slot, error) {
	if err := t.validate(); err != nil {
		return model.Slot{}, err
	}
	if !s.calendar.Contains(t.Key) {
		return model.Slot{}, ErrOutsideGrid
	}
	if err := ctx.Err(); err != nil {
		return model.Slot{}, err
	}

	for {
		c := s.cell(t.Key)
		c.mu.Lock()
		if c.retired {
			c.mu.Unlock()
			continue
		}
		slot, err := s.transition(c, t)
		c.mu.Unlock()
		return slot, err
	}
}

// transition runs with c.mu held. A cell left available is dropped from
// the index; absence means available.
func (s *MemoryStore) transition(c *cell, t Transition) (model.Slot, error) {
	var err error
	if t.matches(c.slot) {
		c.slot = t.apply(c.slot)
	} else {
		err = &ConflictError{Current: c.slot}
	}
	if c.slot.State == model.SlotAvailable {
		s.mu.Lock()
		delete(s.cells, t.Key)
		c.retired = true
		s.mu.Unlock()
	}
	if err != nil {
		return model.Slot{}, err
	}
	return c.slot, nil
}

func (s *MemoryStore) ExpiredLocks(ctx context.Context, now time.Time, limit int) ([]model.Slot, error) {
	s.mu.RLock()
	cells := make([]*cell, 0, len(s.cells))
	for _, c := range s.cells {
		cells = append(cells, c)
	}
	s.mu.RUnlock()

	var expired []model.Slot
	for _, c := range cells {
		c.mu.Lock()
		slot := c.slot
		c.mu.Unlock()
		if slot.State == model.SlotLocked && slot.LockedUntil != nil && !now.Before(*slot.LockedUntil) {
			expired = append(expired, slot)
		}
	}

	sort.Slice(expired, func(i, j int) bool {
		return expired[i].LockedUntil.Before(*expired[j].LockedUntil)
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	return expired, nil
}

