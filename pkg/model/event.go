package model

import "time"

type EventKind string

const (
	EventSlotLocked    EventKind = "slot_locked"
	EventSlotReleased  EventKind = "slot_released"
	EventSlotConfirmed EventKind = "slot_confirmed"
	EventGridSnapshot  EventKind = "grid_snapshot"
	// EventLockReleased is delivered only to the session that owned the lock.
	EventLockReleased EventKind = "lock_released"
)

type SlotEvent struct {
	ID            string        `json:"id"`
	Kind          EventKind     `json:"type"`
	StaffID       string        `json:"staff_id"`
	Date          string        `json:"date,omitempty"`
	TimeRange     string        `json:"time_range,omitempty"`
	AppointmentID string        `json:"appointment_id,omitempty"`
	LockedUntil   *time.Time    `json:"locked_until,omitempty"`
	Reason        ReleaseReason `json:"reason,omitempty"`
	Recipient     *Holder       `json:"recipient,omitempty"`
	Slots         []Slot        `json:"slots,omitempty"`
	OccurredAt    time.Time     `json:"occurred_at"`
}

func (e SlotEvent) SlotKey() SlotKey {
	return SlotKey{StaffID: e.StaffID, Date: e.Date, TimeRange: e.TimeRange}
}
