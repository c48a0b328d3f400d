package model

import "time"

type AppointmentStatus string

const (
	StatusLocked    AppointmentStatus = "locked"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
)

type ReleaseReason string

const (
	ReasonUser    ReleaseReason = "user"
	ReasonExpired ReleaseReason = "expired"
)

type Appointment struct {
	ID           string            `json:"id" bson:"_id"`
	UserID       string            `json:"user_id" bson:"user_id"`
	SessionID    string            `json:"session_id" bson:"session_id"`
	StaffID      string            `json:"staff_id" bson:"staff_id"`
	Date         string            `json:"date" bson:"date"`
	TimeRange    string            `json:"time_range" bson:"time_range"`
	Status       AppointmentStatus `json:"status" bson:"status"`
	LockedUntil  *time.Time        `json:"locked_until,omitempty" bson:"locked_until,omitempty"`
	CancelReason ReleaseReason     `json:"cancel_reason,omitempty" bson:"cancel_reason,omitempty"`
	CreatedAt    time.Time         `json:"created_at" bson:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at" bson:"updated_at"`
	ConfirmedAt  *time.Time        `json:"confirmed_at,omitempty" bson:"confirmed_at,omitempty"`
	CancelledAt  *time.Time        `json:"cancelled_at,omitempty" bson:"cancelled_at,omitempty"`
}

func (a *Appointment) SlotKey() SlotKey {
	return SlotKey{StaffID: a.StaffID, Date: a.Date, TimeRange: a.TimeRange}
}

func (a *Appointment) Holder() Holder {
	return Holder{UserID: a.UserID, SessionID: a.SessionID}
}

func (a *Appointment) IsTerminal() bool {
	return a.Status == StatusConfirmed || a.Status == StatusCancelled
}

// ReservationRequest asks for one slot on behalf of one user session.
type ReservationRequest struct {
	UserID          string `json:"user_id" validate:"required,max=128"`
	SessionID       string `json:"session_id" validate:"required,max=128"`
	StaffID         string `json:"staff_id" validate:"required,max=128"`
	Date            string `json:"date" validate:"required,datetime=2006-01-02"`
	TimeRange       string `json:"time_range" validate:"required,time_range"`
	ResolveConflict bool   `json:"resolve_conflict,omitempty"`
}

func (r *ReservationRequest) SlotKey() SlotKey {
	return SlotKey{StaffID: r.StaffID, Date: r.Date, TimeRange: r.TimeRange}
}

func (r *ReservationRequest) Holder() Holder {
	return Holder{UserID: r.UserID, SessionID: r.SessionID}
}
