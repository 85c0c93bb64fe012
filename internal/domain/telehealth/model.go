package telehealth

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DateLayout is the wire and storage format for calendar dates.
const DateLayout = "2006-01-02"

// Booking statuses.
const (
	StatusPending        = "Pending"
	StatusAccepted       = "Accepted"
	StatusInProgress     = "In Progress"
	StatusDocumentReview = "Document Review"
	StatusCompleted      = "Completed"
	StatusCanceled       = "Canceled"
)

// Reporter roles recorded in the status history.
const (
	ReporterClient = "client"
	ReporterStaff  = "staff"
	ReporterAdmin  = "admin"
	ReporterSystem = "system"
	ReporterWheel  = "wheel"
)

// Payment ledger entry types.
const (
	PaymentCharge = "charge"
	PaymentRefund = "refund"
)

var validDurations = map[int]bool{20: true, 30: true, 40: true, 50: true, 60: true}

var validMedicalGenders = map[string]bool{"m": true, "f": true, "np": true}

const defaultDuration = 20

type StaffSettings struct {
	StaffUserID      uuid.UUID `json:"staff_user_id"`
	Timezone         string    `json:"timezone"`
	AutoConfirm      bool      `json:"auto_confirm"`
	Professions      []string  `json:"professions"`
	ConsultRate      float64   `json:"consult_rate"`
	WheelClinicianID *string   `json:"wheel_clinician_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (s *StaffSettings) HasProfession(p string) bool {
	for _, have := range s.Professions {
		if have == p {
			return true
		}
	}
	return false
}

// AvailabilitySlot is one weekly increment of staff-local availability.
type AvailabilitySlot struct {
	StaffUserID     uuid.UUID `json:"staff_user_id"`
	DayOfWeek       int       `json:"day_of_week"`
	BookingWindowID int       `json:"booking_window_id"`
}

// AvailabilityWindow is the request and response shape for weekly
// availability. End time is exclusive; the end increment is inclusive.
type AvailabilityWindow struct {
	DayOfWeek            int    `json:"day_of_week"`
	StartTime            string `json:"start_time"`
	EndTime              string `json:"end_time"`
	BookingWindowIDStart int    `json:"booking_window_id_start_time,omitempty"`
	BookingWindowIDEnd   int    `json:"booking_window_id_end_time,omitempty"`
}

type AvailabilityException struct {
	ID                   uuid.UUID `json:"id"`
	StaffUserID          uuid.UUID `json:"staff_user_id"`
	ExceptionDate        string    `json:"exception_date"`
	BookingWindowIDStart int       `json:"exception_booking_window_id_start_time"`
	BookingWindowIDEnd   int       `json:"exception_booking_window_id_end_time"`
	StartTime            string    `json:"start_time"`
	EndTime              string    `json:"end_time"`
	IsBusy               bool      `json:"is_busy"`
	CreatedAt            time.Time `json:"created_at"`
}

// QueueRequest is a client's entry in the queue pool.
type QueueRequest struct {
	ID              uuid.UUID `json:"id"`
	ClientUserID    uuid.UUID `json:"client_user_id"`
	ProfessionType  string    `json:"profession_type"`
	TargetDate      string    `json:"target_date"`
	Priority        bool      `json:"priority"`
	DurationMinutes int       `json:"duration_minutes"`
	Timezone        string    `json:"timezone"`
	PaymentMethodID *string   `json:"payment_method_id,omitempty"`
	MedicalGender   string    `json:"medical_gender"`
	CreatedAt       time.Time `json:"created_at"`
}

type Booking struct {
	ID                   uuid.UUID  `json:"id"`
	ClientUserID         uuid.UUID  `json:"client_user_id"`
	StaffUserID          uuid.UUID  `json:"staff_user_id"`
	TargetDate           string     `json:"target_date"`
	BookingWindowIDStart int        `json:"booking_window_id_start_time"`
	BookingWindowIDEnd   int        `json:"booking_window_id_end_time"`
	StartAt              time.Time  `json:"start_at"`
	EndAt                time.Time  `json:"end_at"`
	Status               string     `json:"status"`
	ProfessionType       string     `json:"profession_type"`
	DurationMinutes      int        `json:"duration_minutes"`
	ClientTimezone       string     `json:"client_timezone"`
	StaffTimezone        string     `json:"staff_timezone"`
	ConsultRate          float64    `json:"consult_rate"`
	PaymentMethodID      *string    `json:"payment_method_id,omitempty"`
	Charged              bool       `json:"charged"`
	ExternalBookingID    *string    `json:"external_booking_id,omitempty"`
	ReminderSentAt       *time.Time `json:"reminder_sent_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// Overlaps reports whether the booking intersects [start, end).
func (b *Booking) Overlaps(start, end time.Time) bool {
	return b.StartAt.Before(end) && b.EndAt.After(start)
}

// StatusChange is one append-only row of a booking's status history.
type StatusChange struct {
	ID           int64      `json:"id"`
	BookingID    uuid.UUID  `json:"booking_id"`
	Status       string     `json:"status"`
	ReporterID   *uuid.UUID `json:"reporter_id,omitempty"`
	ReporterRole string     `json:"reporter_role"`
	Reason       *string    `json:"reason,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

type Payment struct {
	ID              uuid.UUID `json:"id"`
	BookingID       uuid.UUID `json:"booking_id"`
	Type            string    `json:"type"`
	Amount          float64   `json:"amount"`
	PaymentMethodID *string   `json:"payment_method_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// BookingFilter narrows booking listings. Zero values are ignored.
type BookingFilter struct {
	ClientUserID *uuid.UUID
	StaffUserID  *uuid.UUID
	Status       string
	From         *time.Time
	To           *time.Time
}

func parseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid date %q, expected YYYY-MM-DD", ErrValidation, s)
	}
	return d, nil
}

func loadLocation(tz string) (*time.Location, error) {
	if tz == "" {
		return nil, fmt.Errorf("%w: timezone is required", ErrValidation)
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown timezone %q", ErrValidation, tz)
	}
	return loc, nil
}

// localToday returns the calendar date of now in loc.
func localToday(now time.Time, loc *time.Location) string {
	return now.In(loc).Format(DateLayout)
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
