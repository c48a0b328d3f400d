package service

import (
	"errors"
	"fmt"
	"time"

	"medslots/internal/slots"
	apperrors "medslots/pkg/errors"
)

// Category classifies why a reservation cannot proceed.
type Category string

const (
	CategoryNone                 Category = ""
	CategoryValidationRejected   Category = "validation_rejected"
	CategorySelfLockedElsewhere  Category = "self_locked_elsewhere"
	CategorySelfConfirmedOverlap Category = "self_confirmed_overlap"
	CategoryForeignLock          Category = "foreign_lock"
	CategoryForeignConfirmed     Category = "foreign_confirmed"
)

// Resolvable reports whether the requester can clear the conflict themselves.
func (c Category) Resolvable() bool {
	return c == CategorySelfLockedElsewhere
}

// ConflictError is returned by Reserve when the slot cannot be taken.
type ConflictError struct {
	Category   Category
	Resolvable bool
	// Final is set when an automatic resolution was already attempted.
	Final bool

	ExistingAppointmentID string
	AppointmentDate       string
	ExistingStaffID       string
	ExistingTimeRange     string
	LockedUntil           *time.Time
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("reservation conflict: %s", e.Category)
}

func (e *ConflictError) Unwrap() error {
	return slots.ErrConflict
}

func (e *ConflictError) message() string {
	switch e.Category {
	case CategorySelfLockedElsewhere:
		return "You already hold another slot. Release it to take this one."
	case CategorySelfConfirmedOverlap:
		return "You already have a confirmed appointment with this staff member on this date."
	case CategoryForeignLock:
		return "This slot is currently being reserved by someone else."
	case CategoryForeignConfirmed:
		return "This slot is already booked."
	default:
		return "The slot is not available."
	}
}

func (e *ConflictError) AppError() *apperrors.AppError {
	details := map[string]any{
		"category":   string(e.Category),
		"resolvable": e.Resolvable,
	}
	if e.ExistingAppointmentID != "" {
		details["existingAppointmentId"] = e.ExistingAppointmentID
	}
	if e.AppointmentDate != "" {
		details["appointmentDate"] = e.AppointmentDate
	}
	if e.ExistingStaffID != "" {
		details["existingStaffId"] = e.ExistingStaffID
	}
	if e.ExistingTimeRange != "" {
		details["existingTimeRange"] = e.ExistingTimeRange
	}
	if e.LockedUntil != nil {
		details["lockedUntil"] = e.LockedUntil.Format(time.RFC3339)
	}
	return apperrors.Conflict(e.message()).WithDetails(details)
}

// AsConflictError extracts a reservation conflict from err.
func AsConflictError(err error) (*ConflictError, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// Verdict is the result of a read-only pre-flight check.
type Verdict struct {
	OK       bool           `json:"ok"`
	Category Category       `json:"category,omitempty"`
	Message  string         `json:"message,omitempty"`
	Conflict *ConflictError `json:"-"`
	Fields   map[string]any `json:"fields,omitempty"`
}

// Err converts a negative verdict into the error Reserve would return.
func (v Verdict) Err() error {
	switch {
	case v.OK:
		return nil
	case v.Conflict != nil:
		return v.Conflict
	default:
		return apperrors.Validation(v.Message, v.Fields)
	}
}
