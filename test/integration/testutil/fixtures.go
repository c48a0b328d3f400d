package testutil

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StaffID returns a staff id unique to one test, so tests never share a grid.
func StaffID() string {
	return "staff-" + uuid.NewString()[:8]
}

// NextWorkingDate is the next Monday, a working day under the default
// calendar.
func NextWorkingDate() string {
	d := time.Now().UTC().AddDate(0, 0, 1)
	for d.Weekday() != time.Monday {
		d = d.AddDate(0, 0, 1)
	}
	return d.Format("2006-01-02")
}

type ReservationBuilder struct {
	req map[string]any
}

func NewReservation(staffID, date string) *ReservationBuilder {
	return &ReservationBuilder{
		req: map[string]any{
			"staff_id":   staffID,
			"date":       date,
			"time_range": "09:00-09:30",
		},
	}
}

func (b *ReservationBuilder) At(timeRange string) *ReservationBuilder {
	b.req["time_range"] = timeRange
	return b
}

func (b *ReservationBuilder) ResolvingConflicts() *ReservationBuilder {
	b.req["resolve_conflict"] = true
	return b
}

func (b *ReservationBuilder) Build() map[string]any {
	out := make(map[string]any, len(b.req))
	for k, v := range b.req {
		out[k] = v
	}
	return out
}

func SlotsPath(staffID, date string) string {
	return fmt.Sprintf("/api/v1/staff/%s/slots?date=%s", staffID, date)
}

func AppointmentPath(id, action string) string {
	if action == "" {
		return "/api/v1/appointments/id/" + id
	}
	return "/api/v1/appointments/id/" + id + "/" + action
}
