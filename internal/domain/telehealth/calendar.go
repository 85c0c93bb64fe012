package telehealth

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

type incrementSet map[int]bool

// StaffCalendar is an in-memory view of one staff member's availability and
// commitments, used to test candidate times without touching the database.
type StaffCalendar struct {
	Settings StaffSettings

	loc       *time.Location
	weekly    map[time.Weekday]incrementSet
	available map[string]incrementSet
	busy      map[string]incrementSet
	bookings  []*Booking
}

// NewStaffCalendar builds a calendar from stored rows. Canceled bookings and
// rows for other staff are ignored.
func NewStaffCalendar(settings StaffSettings, weekly []AvailabilitySlot, exceptions []*AvailabilityException, bookings []*Booking) (*StaffCalendar, error) {
	loc, err := loadLocation(settings.Timezone)
	if err != nil {
		return nil, fmt.Errorf("staff %s: %w", settings.StaffUserID, err)
	}
	c := &StaffCalendar{
		Settings:  settings,
		loc:       loc,
		weekly:    make(map[time.Weekday]incrementSet),
		available: make(map[string]incrementSet),
		busy:      make(map[string]incrementSet),
	}
	for _, w := range weekly {
		if w.StaffUserID != settings.StaffUserID {
			continue
		}
		day := time.Weekday(w.DayOfWeek)
		if c.weekly[day] == nil {
			c.weekly[day] = make(incrementSet)
		}
		c.weekly[day][w.BookingWindowID] = true
	}
	for _, e := range exceptions {
		if e.StaffUserID != settings.StaffUserID {
			continue
		}
		target := c.available
		if e.IsBusy {
			target = c.busy
		}
		if target[e.ExceptionDate] == nil {
			target[e.ExceptionDate] = make(incrementSet)
		}
		for id := e.BookingWindowIDStart; id <= e.BookingWindowIDEnd; id++ {
			target[e.ExceptionDate][id] = true
		}
	}
	for _, b := range bookings {
		if b.StaffUserID == settings.StaffUserID && b.Status != StatusCanceled {
			c.bookings = append(c.bookings, b)
		}
	}
	return c, nil
}

// IsFree reports whether every increment of [start, end) is available in the
// staff member's zone, none is blocked by a busy exception, and no booking
// overlaps.
func (c *StaffCalendar) IsFree(start, end time.Time) bool {
	for t := start; t.Before(end); t = t.Add(IncrementMinutes * time.Minute) {
		lt := t.In(c.loc)
		date := lt.Format(DateLayout)
		id := (lt.Hour()*60+lt.Minute())/IncrementMinutes + 1
		if c.busy[date][id] {
			return false
		}
		if !c.weekly[lt.Weekday()][id] && !c.available[date][id] {
			return false
		}
	}
	for _, b := range c.bookings {
		if b.Overlaps(start, end) {
			return false
		}
	}
	return true
}

// TimeSlot is a bookable candidate offered to a client.
type TimeSlot struct {
	TargetDate           string      `json:"target_date"`
	BookingWindowIDStart int         `json:"booking_window_id_start_time"`
	BookingWindowIDEnd   int         `json:"booking_window_id_end_time"`
	StartTime            string      `json:"start_time"`
	EndTime              string      `json:"end_time"`
	StartAt              time.Time   `json:"start_at"`
	EndAt                time.Time   `json:"end_at"`
	StaffUserIDs         []uuid.UUID `json:"staff_user_ids"`
}

type TimeSelectParams struct {
	Request        QueueRequest
	Now            time.Time
	LeadTime       time.Duration
	StepMinutes    int
	ClientBookings []*Booking
	Staff          []*StaffCalendar
}

// SelectTimes walks the client's local target day and returns every
// candidate with at least one free staff member, in start order.
func SelectTimes(p TimeSelectParams) ([]TimeSlot, error) {
	loc, err := loadLocation(p.Request.Timezone)
	if err != nil {
		return nil, err
	}
	day, err := parseDate(p.Request.TargetDate)
	if err != nil {
		return nil, err
	}
	step := p.StepMinutes
	if step <= 0 {
		step = 15
	}
	duration := time.Duration(p.Request.DurationMinutes) * time.Minute
	earliest := p.Now.Add(p.LeadTime)

	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
	dayEnd := dayStart.AddDate(0, 0, 1)

	var slots []TimeSlot
	for start := dayStart; start.Before(dayEnd); start = start.Add(time.Duration(step) * time.Minute) {
		end := start.Add(duration)
		if start.Before(earliest) || end.After(dayEnd) {
			continue
		}
		window, ok := utcWindow(start, p.Request.DurationMinutes)
		if !ok {
			continue
		}
		if overlapsAny(p.ClientBookings, start, end) {
			continue
		}

		var free []uuid.UUID
		for _, cal := range p.Staff {
			if !cal.Settings.HasProfession(p.Request.ProfessionType) {
				continue
			}
			if cal.IsFree(start, end) {
				free = append(free, cal.Settings.StaffUserID)
			}
		}
		if len(free) == 0 {
			continue
		}
		sortIDs(free)

		window.StartTime = start.In(loc).Format("15:04")
		window.EndTime = end.In(loc).Format("15:04")
		window.StaffUserIDs = free
		slots = append(slots, window)
	}
	return slots, nil
}

// utcWindow maps a start instant to UTC increments. It fails when the
// booking would not fit inside a single UTC day.
func utcWindow(start time.Time, durationMinutes int) (TimeSlot, bool) {
	u := start.UTC()
	minute := u.Hour()*60 + u.Minute()
	if minute%IncrementMinutes != 0 || u.Second() != 0 || u.Nanosecond() != 0 {
		return TimeSlot{}, false
	}
	startID := minute/IncrementMinutes + 1
	endID := startID + durationMinutes/IncrementMinutes - 1
	if endID > IncrementsPerDay {
		return TimeSlot{}, false
	}
	return TimeSlot{
		TargetDate:           u.Format(DateLayout),
		BookingWindowIDStart: startID,
		BookingWindowIDEnd:   endID,
		StartAt:              u,
		EndAt:                u.Add(time.Duration(durationMinutes) * time.Minute),
	}, true
}

// BookingWindow resolves a UTC date and start increment into concrete
// instants and the inclusive end increment.
func BookingWindow(targetDate string, startID, durationMinutes int) (start, end time.Time, endID int, err error) {
	day, err := parseDate(targetDate)
	if err != nil {
		return time.Time{}, time.Time{}, 0, err
	}
	if !ValidIncrement(startID) {
		return time.Time{}, time.Time{}, 0, fmt.Errorf("%w: booking_window_id_start_time must be between 1 and %d", ErrValidation, IncrementsPerDay)
	}
	if !validDurations[durationMinutes] {
		return time.Time{}, time.Time{}, 0, fmt.Errorf("%w: invalid duration %d", ErrValidation, durationMinutes)
	}
	endID = startID + durationMinutes/IncrementMinutes - 1
	if endID > IncrementsPerDay {
		return time.Time{}, time.Time{}, 0, fmt.Errorf("%w: booking would cross midnight UTC", ErrValidation)
	}
	start = day.Add(time.Duration((startID-1)*IncrementMinutes) * time.Minute)
	end = start.Add(time.Duration(durationMinutes) * time.Minute)
	return start, end, endID, nil
}

func overlapsAny(bookings []*Booking, start, end time.Time) bool {
	for _, b := range bookings {
		if b.Status != StatusCanceled && b.Overlaps(start, end) {
			return true
		}
	}
	return false
}

func sortIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i][:], ids[j][:]) < 0 })
}

// mergeWindows folds weekly increments back into contiguous clock windows
// ordered by day then start.
func mergeWindows(slots []AvailabilitySlot) []AvailabilityWindow {
	byDay := make(map[int][]int)
	for _, s := range slots {
		byDay[s.DayOfWeek] = append(byDay[s.DayOfWeek], s.BookingWindowID)
	}
	days := make([]int, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
	}
	sort.Ints(days)

	var out []AvailabilityWindow
	for _, d := range days {
		ids := byDay[d]
		sort.Ints(ids)
		for i := 0; i < len(ids); {
			j := i
			for j+1 < len(ids) && ids[j+1] <= ids[j]+1 {
				j++
			}
			start, end, _ := ClockRange(ids[i], ids[j])
			out = append(out, AvailabilityWindow{
				DayOfWeek:            d,
				StartTime:            start,
				EndTime:              end,
				BookingWindowIDStart: ids[i],
				BookingWindowIDEnd:   ids[j],
			})
			i = j + 1
		}
	}
	return out
}

// expandWindows validates windows and returns the distinct weekly increments
// they cover. Overlapping windows merge.
func expandWindows(staffID uuid.UUID, windows []AvailabilityWindow) ([]AvailabilitySlot, error) {
	seen := make(map[[2]int]bool)
	var out []AvailabilitySlot
	for i, w := range windows {
		if w.DayOfWeek < 0 || w.DayOfWeek > 6 {
			return nil, fmt.Errorf("%w: windows[%d].day_of_week must be 0 (Sunday) to 6", ErrValidation, i)
		}
		startID, endID, err := RangeFromClock(w.StartTime, w.EndTime)
		if err != nil {
			return nil, fmt.Errorf("windows[%d]: %w", i, err)
		}
		for id := startID; id <= endID; id++ {
			key := [2]int{w.DayOfWeek, id}
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, AvailabilitySlot{StaffUserID: staffID, DayOfWeek: w.DayOfWeek, BookingWindowID: id})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DayOfWeek != out[j].DayOfWeek {
			return out[i].DayOfWeek < out[j].DayOfWeek
		}
		return out[i].BookingWindowID < out[j].BookingWindowID
	})
	return out, nil
}
