package telehealth

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	IncrementMinutes = 5
	IncrementsPerDay = 24 * 60 / IncrementMinutes
	minutesPerDay    = 24 * 60
)

// TimeIncrement is one row of lookup_booking_time_increments. Increment id
// covers minutes [(id-1)*5, id*5) of the day.
type TimeIncrement struct {
	ID        int    `json:"id"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

var increments = buildIncrements()

func buildIncrements() []TimeIncrement {
	out := make([]TimeIncrement, IncrementsPerDay)
	for i := range out {
		id := i + 1
		out[i] = TimeIncrement{
			ID:        id,
			StartTime: FormatClock((id - 1) * IncrementMinutes),
			EndTime:   FormatClock(id * IncrementMinutes),
		}
	}
	return out
}

// Increments returns a copy of the full increment table.
func Increments() []TimeIncrement {
	out := make([]TimeIncrement, len(increments))
	copy(out, increments)
	return out
}

// ValidIncrement reports whether id is a valid increment id.
func ValidIncrement(id int) bool {
	return id >= 1 && id <= IncrementsPerDay
}

// IncrementAt returns the id of the increment containing minuteOfDay.
func IncrementAt(minuteOfDay int) (int, error) {
	if minuteOfDay < 0 || minuteOfDay >= minutesPerDay {
		return 0, fmt.Errorf("%w: minute of day %d out of range", ErrValidation, minuteOfDay)
	}
	return minuteOfDay/IncrementMinutes + 1, nil
}

// FormatClock renders a minute of day as HH:MM. 1440 wraps to 00:00.
func FormatClock(minuteOfDay int) string {
	m := minuteOfDay % minutesPerDay
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

// ParseClock parses HH:MM into a minute of day. 24:00 parses to 1440 and is
// only meaningful as an end bound.
func ParseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(hh) == 0 || len(hh) > 2 || len(mm) != 2 {
		return 0, fmt.Errorf("%w: invalid clock time %q, expected HH:MM", ErrValidation, s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid clock time %q", ErrValidation, s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid clock time %q", ErrValidation, s)
	}
	if h < 0 || h > 24 || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("%w: clock time %q out of range", ErrValidation, s)
	}
	return h*60 + m, nil
}

// RangeFromClock converts a [start, end) clock window into an inclusive
// increment id range. Both bounds must fall on 5-minute boundaries. An end of
// 00:00 or 24:00 means end of day.
func RangeFromClock(start, end string) (startID, endID int, err error) {
	s, err := ParseClock(start)
	if err != nil {
		return 0, 0, err
	}
	e, err := ParseClock(end)
	if err != nil {
		return 0, 0, err
	}
	if e == 0 {
		e = minutesPerDay
	}
	if s >= minutesPerDay {
		return 0, 0, fmt.Errorf("%w: start time %q must be before 24:00", ErrValidation, start)
	}
	if s%IncrementMinutes != 0 || e%IncrementMinutes != 0 {
		return 0, 0, fmt.Errorf("%w: times must fall on %d-minute boundaries", ErrValidation, IncrementMinutes)
	}
	if e <= s {
		return 0, 0, fmt.Errorf("%w: end time %q must be after start time %q", ErrValidation, end, start)
	}
	return s/IncrementMinutes + 1, e / IncrementMinutes, nil
}

// ClockRange is the inverse of RangeFromClock.
func ClockRange(startID, endID int) (start, end string, err error) {
	if !ValidIncrement(startID) || !ValidIncrement(endID) || endID < startID {
		return "", "", fmt.Errorf("%w: invalid increment range %d-%d", ErrValidation, startID, endID)
	}
	return FormatClock((startID - 1) * IncrementMinutes), FormatClock(endID * IncrementMinutes), nil
}
