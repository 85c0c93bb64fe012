package telehealth

import (
	"errors"
	"testing"
)

func TestIncrements_Table(t *testing.T) {
	all := Increments()
	if len(all) != 288 {
		t.Fatalf("expected 288 increments, got %d", len(all))
	}
	first, last := all[0], all[len(all)-1]
	if first.ID != 1 || first.StartTime != "00:00" || first.EndTime != "00:05" {
		t.Errorf("unexpected first increment %+v", first)
	}
	if last.ID != 288 || last.StartTime != "23:55" || last.EndTime != "00:00" {
		t.Errorf("unexpected last increment %+v", last)
	}
	for i, inc := range all {
		if inc.ID != i+1 {
			t.Fatalf("increment %d has id %d", i, inc.ID)
		}
	}
}

func TestIncrements_ReturnsCopy(t *testing.T) {
	a := Increments()
	a[0].StartTime = "mutated"
	if Increments()[0].StartTime != "00:00" {
		t.Error("caller mutation leaked into the shared table")
	}
}

func TestIncrementAt(t *testing.T) {
	tests := []struct {
		minute int
		want   int
	}{
		{0, 1},
		{4, 1},
		{5, 2},
		{9 * 60, 109},
		{23*60 + 59, 288},
	}
	for _, tt := range tests {
		got, err := IncrementAt(tt.minute)
		if err != nil {
			t.Fatalf("IncrementAt(%d): %v", tt.minute, err)
		}
		if got != tt.want {
			t.Errorf("IncrementAt(%d) = %d, want %d", tt.minute, got, tt.want)
		}
	}
	if _, err := IncrementAt(1440); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for 1440, got %v", err)
	}
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"00:00", 0, false},
		{"9:30", 570, false},
		{"23:55", 1435, false},
		{"24:00", 1440, false},
		{"24:05", 0, true},
		{"12:60", 0, true},
		{"1230", 0, true},
		{"ab:cd", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseClock(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("expected ErrValidation, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRangeFromClock(t *testing.T) {
	tests := []struct {
		name            string
		start, end      string
		wantStart, want int
		wantErr         bool
	}{
		{"morning", "09:00", "12:00", 109, 144, false},
		{"single increment", "09:00", "09:05", 109, 109, false},
		{"midnight end", "22:00", "00:00", 265, 288, false},
		{"24:00 end", "22:00", "24:00", 265, 288, false},
		{"whole day", "00:00", "00:00", 1, 288, false},
		{"off boundary", "09:02", "10:00", 0, 0, true},
		{"reversed", "10:00", "09:00", 0, 0, true},
		{"empty window", "10:00", "10:00", 0, 0, true},
		{"start at 24:00", "24:00", "24:00", 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, e, err := RangeFromClock(tt.start, tt.end)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("expected ErrValidation, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if s != tt.wantStart || e != tt.want {
				t.Errorf("got %d-%d, want %d-%d", s, e, tt.wantStart, tt.want)
			}
		})
	}
}

func TestClockRange_RoundTrip(t *testing.T) {
	start, end, err := ClockRange(109, 144)
	if err != nil {
		t.Fatal(err)
	}
	if start != "09:00" || end != "12:00" {
		t.Errorf("got %s-%s", start, end)
	}
	if _, _, err := ClockRange(10, 9); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for reversed range, got %v", err)
	}
	if _, _, err := ClockRange(0, 3); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for id 0, got %v", err)
	}
}
