package errors

import "errors"

var (
	ErrNotFound = errors.New("appointment not found")

	ErrInvalidID = errors.New("invalid appointment ID format")

	// ErrActiveLockExists is returned when a user already holds a locked appointment.
	ErrActiveLockExists = errors.New("user already holds a locked appointment")

	// ErrStatusChanged is returned when a status transition finds an unexpected status.
	ErrStatusChanged = errors.New("appointment status changed")
)
