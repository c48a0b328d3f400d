package repository

import (
	"context"
	"sort"
	"sync"

	reservationserrors "medslots/internal/reservations/errors"
	"medslots/pkg/model"
)

// memoryAppointmentRepository mirrors the Mongo repository, including the
// uniqueness of locked appointments per user.
type memoryAppointmentRepository struct {
	mu           sync.RWMutex
	appointments map[string]*model.Appointment
	lockedByUser map[string]string
}

func NewMemoryAppointmentRepository() AppointmentRepository {
	return &memoryAppointmentRepository{
		appointments: make(map[string]*model.Appointment),
		lockedByUser: make(map[string]string),
	}
}

func (r *memoryAppointmentRepository) Create(ctx context.Context, appointment *model.Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if appointment.Status == model.StatusLocked {
		if _, held := r.lockedByUser[appointment.UserID]; held {
			return reservationserrors.ErrActiveLockExists
		}
		r.lockedByUser[appointment.UserID] = appointment.ID
	}
	stored := *appointment
	r.appointments[appointment.ID] = &stored
	return nil
}


func (r *memoryAppointmentRepository) FindByID(ctx context.Context, id string) (*model.Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, reservationserrors.ErrNotFound
	}
	out := *a
	return &out, nil
}

func (r *memoryAppointmentRepository) FindLockedByUser(ctx context.Context, userID string) (*model.Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.lockedByUser[userID]
	if !ok {
		return nil, reservationserrors.ErrNotFound
	}
	out := *r.appointments[id]
	return &out, nil
}

func (r *memoryAppointmentRepository) FindConfirmedByUser(ctx context.Context, userID, staffID, date string) ([]*model.Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*model.Appointment
	for _, a := range r.appointments {
		if a.UserID == userID && a.StaffID == staffID && a.Date == date && a.Status == model.StatusConfirmed {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TimeRange < out[j].TimeRange })
	return out, nil
}

func (r *memoryAppointmentRepository) UpdateStatus(ctx context.Context, id string, from model.AppointmentStatus, update StatusUpdate) (*model.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, reservationserrors.ErrNotFound
	}
	if a.Status != from {
		return nil, reservationserrors.ErrStatusChanged
	}

	next := *a
	next.Status = update.To
	next.UpdatedAt = update.At
	next.LockedUntil = nil
	at := update.At
	switch update.To {
	case model.StatusConfirmed:
		next.ConfirmedAt = &at
	case model.StatusCancelled:
		next.CancelledAt = &at
		next.CancelReason = update.Reason
	}

	if from == model.StatusLocked && r.lockedByUser[a.UserID] == id {
		delete(r.lockedByUser, a.UserID)
	}
	r.appointments[id] = &next

	out := next
	return &out, nil
}
