package slots

import (
	"fmt"
	"strings"
	"time"

	"medslots/pkg/model"

	"github.com/BurntSushi/toml"
)

// Schedule is the working pattern of one staff member.
type Schedule struct {
	StartOfDay  string   `toml:"start_of_day"`
	EndOfDay    string   `toml:"end_of_day"`
	SlotMinutes int      `toml:"slot_minutes"`
	WorkingDays []string `toml:"working_days"`
}

type calendarFile struct {
	Default Schedule            `toml:"default"`
	Staff   map[string]Schedule `toml:"staff"`
}

type compiledSchedule struct {
	days   map[time.Weekday]bool
	ranges []string
	index  map[string]struct{}
}

// Calendar enumerates the fixed slot grid. Unknown staff get the default schedule.
type Calendar struct {
	def   compiledSchedule
	staff map[string]compiledSchedule
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

func NewCalendar(def Schedule, staff map[string]Schedule) (*Calendar, error) {
	compiledDef, err := compile(def)
	if err != nil {
		return nil, fmt.Errorf("default schedule: %w", err)
	}
	c := &Calendar{def: compiledDef, staff: make(map[string]compiledSchedule, len(staff))}
	for id, s := range staff {
		compiled, err := compile(inherit(s, def))
		if err != nil {
			return nil, fmt.Errorf("schedule for staff %q: %w", id, err)
		}
		c.staff[id] = compiled
	}
	return c, nil
}

// LoadCalendar reads a TOML calendar file. Fields missing from the file's
// default section are taken from fallback.
func LoadCalendar(path string, fallback Schedule) (*Calendar, error) {
	var f calendarFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("decode calendar %s: %w", path, err)
	}
	return NewCalendar(inherit(f.Default, fallback), f.Staff)
}

// ParseCalendar is LoadCalendar for in-memory TOML.
func ParseCalendar(data string, fallback Schedule) (*Calendar, error) {
	var f calendarFile
	if _, err := toml.Decode(data, &f); err != nil {
		return nil, fmt.Errorf("decode calendar: %w", err)
	}
	return NewCalendar(inherit(f.Default, fallback), f.Staff)
}

func inherit(s, parent Schedule) Schedule {
	if s.StartOfDay == "" {
		s.StartOfDay = parent.StartOfDay
	}
	if s.EndOfDay == "" {
		s.EndOfDay = parent.EndOfDay
	}
	if s.SlotMinutes == 0 {
		s.SlotMinutes = parent.SlotMinutes
	}
	if s.WorkingDays == nil {
		s.WorkingDays = parent.WorkingDays
	}
	return s
}

func compile(s Schedule) (compiledSchedule, error) {
	start, err := model.ParseClock(s.StartOfDay)
	if err != nil {
		return compiledSchedule{}, err
	}
	end, err := model.ParseClock(s.EndOfDay)
	if err != nil {
		return compiledSchedule{}, err
	}
	if end <= start {
		return compiledSchedule{}, fmt.Errorf("end_of_day %s must be after start_of_day %s", s.EndOfDay, s.StartOfDay)
	}
	if s.SlotMinutes <= 0 {
		return compiledSchedule{}, fmt.Errorf("slot_minutes must be positive, got %d", s.SlotMinutes)
	}

	cs := compiledSchedule{
		days:  make(map[time.Weekday]bool, len(s.WorkingDays)),
		index: make(map[string]struct{}),
	}
	for _, d := range s.WorkingDays {
		wd, ok := weekdays[strings.ToLower(strings.TrimSpace(d))]
		if !ok {
			return compiledSchedule{}, fmt.Errorf("unknown working day %q", d)
		}
		cs.days[wd] = true
	}
	for t := start; t+s.SlotMinutes <= end; t += s.SlotMinutes {
		r := model.TimeRange{Start: t, End: t + s.SlotMinutes}.String()
		cs.ranges = append(cs.ranges, r)
		cs.index[r] = struct{}{}
	}
	return cs, nil
}

func (c *Calendar) schedule(staffID string) compiledSchedule {
	if s, ok := c.staff[staffID]; ok {
		return s
	}
	return c.def
}

// Ranges returns the ordered time ranges offered on date. A non-working day
// yields an empty grid.
func (c *Calendar) Ranges(staffID, date string) ([]string, error) {
	day, err := time.Parse(model.DateLayout, date)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", date, err)
	}
	s := c.schedule(staffID)
	if !s.days[day.Weekday()] {
		return nil, nil
	}
	return s.ranges, nil
}

// Contains reports whether key is a real grid position.
func (c *Calendar) Contains(key model.SlotKey) bool {
	day, err := time.Parse(model.DateLayout, key.Date)
	if err != nil {
		return false
	}
	s := c.schedule(key.StaffID)
	if !s.days[day.Weekday()] {
		return false
	}
	_, ok := s.index[key.TimeRange]
	return ok
}

// Grid synthesizes the full grid from the slots that are not available.
func (c *Calendar) Grid(staffID, date string, held map[string]model.Slot) ([]model.Slot, error) {
	ranges, err := c.Ranges(staffID, date)
	if err != nil {
		return nil, err
	}
	grid := make([]model.Slot, 0, len(ranges))
	for _, r := range ranges {
		if s, ok := held[r]; ok {
			grid = append(grid, s)
			continue
		}
		grid = append(grid, model.AvailableSlot(model.SlotKey{StaffID: staffID, Date: date, TimeRange: r}))
	}
	return grid, nil
}
