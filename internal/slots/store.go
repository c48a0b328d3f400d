package slots

import (
	"context"
	"errors"
	"fmt"
	"time"

	"medslots/pkg/model"
)

var (
	// ErrConflict is returned when the slot is not in the expected state.
	ErrConflict = errors.New("slot state changed")

	ErrOutsideGrid = errors.New("slot is not part of the staff calendar")

	ErrInvalidTransition = errors.New("invalid slot transition")
)

// ConflictError carries the state that made a transition fail.
type ConflictError struct {
	Current model.Slot
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("slot %s is %s", e.Current.Key(), e.Current.State)
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// AsConflict extracts the ConflictError from err, if any.
func AsConflict(err error) (*ConflictError, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// Transition describes one compare-and-set step on a slot.
//
// When From is not available the slot must also currently reference
// AppointmentID, so a stale caller cannot move a newer lease.
// RequireLive additionally demands Now < LockedUntil of the current lease.
type Transition struct {
	Key           model.SlotKey
	From          model.SlotState
	To            model.SlotState
	AppointmentID string
	Holder        model.Holder
	LockedUntil   time.Time
	RequireLive   bool
	Now           time.Time
}

func (t Transition) validate() error {
	switch {
	case t.From == model.SlotAvailable && t.To == model.SlotLocked:
		if t.AppointmentID == "" || t.Holder.UserID == "" || t.LockedUntil.IsZero() {
			return fmt.Errorf("%w: lock needs appointment, holder and lease", ErrInvalidTransition)
		}
	case t.From == model.SlotLocked && (t.To == model.SlotAvailable || t.To == model.SlotConfirmed):
		if t.AppointmentID == "" {
			return fmt.Errorf("%w: appointment id required", ErrInvalidTransition)
		}
	default:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.From, t.To)
	}
	return nil
}

// matches reports whether current satisfies the transition's expectations.
func (t Transition) matches(current model.Slot) bool {
	if current.State != t.From {
		return false
	}
	if t.From == model.SlotAvailable {
		return true
	}
	if current.AppointmentID != t.AppointmentID {
		return false
	}
	if t.RequireLive {
		if current.LockedUntil == nil || !t.Now.Before(*current.LockedUntil) {
			return false
		}
	}
	return true
}

// apply returns the slot that results from the transition.
func (t Transition) apply(current model.Slot) model.Slot {
	switch t.To {
	case model.SlotLocked:
		holder := t.Holder
		until := t.LockedUntil
		next := model.AvailableSlot(t.Key)
		next.State = model.SlotLocked
		next.HeldBy = &holder
		next.AppointmentID = t.AppointmentID
		next.LockedUntil = &until
		return next
	case model.SlotConfirmed:
		next := model.AvailableSlot(t.Key)
		next.State = model.SlotConfirmed
		next.AppointmentID = current.AppointmentID
		return next
	default:
		return model.AvailableSlot(t.Key)
	}
}

// Store is the canonical owner of slot state.
type Store interface {
	// Get returns the full ordered grid for a staff member on a date.
	Get(ctx context.Context, staffID, date string) ([]model.Slot, error)
	Lookup(ctx context.Context, key model.SlotKey) (model.Slot, error)
	// TryTransition is the only way to mutate a slot.
	TryTransition(ctx context.Context, t Transition) (model.Slot, error)
	// ExpiredLocks lists locked slots whose lease ended at or before now.
	ExpiredLocks(ctx context.Context, now time.Time, limit int) ([]model.Slot, error)
}
