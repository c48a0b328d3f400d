package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type SlotState string

const (
	SlotAvailable SlotState = "available"
	SlotLocked    SlotState = "locked"
	SlotConfirmed SlotState = "confirmed"
)

const DateLayout = "2006-01-02"

// SlotKey identifies one grid position of one staff member on one date.
type SlotKey struct {
	StaffID   string `json:"staff_id" bson:"staff_id"`
	Date      string `json:"date" bson:"date"`
	TimeRange string `json:"time_range" bson:"time_range"`
}

func (k SlotKey) String() string {
	return k.StaffID + "|" + k.Date + "|" + k.TimeRange
}

type Holder struct {
	UserID    string `json:"user_id" bson:"user_id"`
	SessionID string `json:"session_id" bson:"session_id"`
}

// Slot is one grid entry. An available slot carries no holder, appointment or lease.
type Slot struct {
	StaffID       string     `json:"staff_id" bson:"staff_id"`
	Date          string     `json:"date" bson:"date"`
	TimeRange     string     `json:"time_range" bson:"time_range"`
	State         SlotState  `json:"state" bson:"state"`
	HeldBy        *Holder    `json:"held_by,omitempty" bson:"held_by,omitempty"`
	AppointmentID string     `json:"appointment_id,omitempty" bson:"appointment_id,omitempty"`
	LockedUntil   *time.Time `json:"locked_until,omitempty" bson:"locked_until,omitempty"`
}

func (s Slot) Key() SlotKey {
	return SlotKey{StaffID: s.StaffID, Date: s.Date, TimeRange: s.TimeRange}
}

func AvailableSlot(key SlotKey) Slot {
	return Slot{
		StaffID:   key.StaffID,
		Date:      key.Date,
		TimeRange: key.TimeRange,
		State:     SlotAvailable,
	}
}

// TimeRange is a half-open interval of minutes since midnight.
type TimeRange struct {
	Start int
	End   int
}

// ParseTimeRange parses "HH:MM-HH:MM".
func ParseTimeRange(s string) (TimeRange, error) {
	from, to, ok := strings.Cut(s, "-")
	if !ok {
		return TimeRange{}, fmt.Errorf("time range %q must be HH:MM-HH:MM", s)
	}
	start, err := ParseClock(from)
	if err != nil {
		return TimeRange{}, err
	}
	end, err := ParseClock(to)
	if err != nil {
		return TimeRange{}, err
	}
	if end <= start {
		return TimeRange{}, fmt.Errorf("time range %q ends before it starts", s)
	}
	return TimeRange{Start: start, End: end}, nil
}

func (r TimeRange) String() string {
	return FormatClock(r.Start) + "-" + FormatClock(r.End)
}

// ParseClock parses "HH:MM" into minutes since midnight.
func ParseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(s, ":")
	if !ok || len(hh) != 2 || len(mm) != 2 {
		return 0, fmt.Errorf("clock %q must be HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 24 {
		return 0, fmt.Errorf("clock %q has an invalid hour", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("clock %q has an invalid minute", s)
	}
	return h*60 + m, nil
}

func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
