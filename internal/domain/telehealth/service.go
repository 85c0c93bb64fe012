package telehealth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/smartfuturesg/modobio-web-sub003/internal/platform/db"
	"github.com/smartfuturesg/modobio-web-sub003/internal/platform/events"
	"github.com/smartfuturesg/modobio-web-sub003/internal/platform/wheel"
)

type Config struct {
	LeadTime     time.Duration
	StepMinutes  int
	ReminderLead time.Duration
}

// Repositories groups the stores the service depends on.
type Repositories struct {
	Settings     SettingsRepository
	Availability AvailabilityRepository
	Queue        QueueRepository
	Bookings     BookingRepository
	History      HistoryRepository
	Payments     PaymentRepository
}

type Service struct {
	settings     SettingsRepository
	availability AvailabilityRepository
	queue        QueueRepository
	bookings     BookingRepository
	history      HistoryRepository
	payments     PaymentRepository

	tx        db.Transactor
	publisher events.Publisher
	wheel     wheel.Client
	cfg       Config
	logger    zerolog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

func NewService(repos Repositories, tx db.Transactor, pub events.Publisher, wc wheel.Client, cfg Config, logger zerolog.Logger) *Service {
	if cfg.StepMinutes <= 0 {
		cfg.StepMinutes = 15
	}
	if cfg.ReminderLead <= 0 {
		cfg.ReminderLead = 30 * time.Minute
	}
	if wc == nil {
		wc = wheel.NoopClient{}
	}
	if pub == nil {
		pub = events.NewLogPublisher(logger)
	}
	return &Service{
		settings:     repos.Settings,
		availability: repos.Availability,
		queue:        repos.Queue,
		bookings:     repos.Bookings,
		history:      repos.History,
		payments:     repos.Payments,
		tx:           tx,
		publisher:    pub,
		wheel:        wc,
		cfg:          cfg,
		logger:       logger.With().Str("component", "telehealth").Logger(),
		tracer:       otel.Tracer("odyssey/telehealth"),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// -- Staff settings --

func (s *Service) PutStaffSettings(ctx context.Context, st *StaffSettings) error {
	if st.StaffUserID == uuid.Nil {
		return fmt.Errorf("%w: staff_user_id is required", ErrValidation)
	}
	if st.Timezone == "" {
		st.Timezone = "UTC"
	}
	if _, err := loadLocation(st.Timezone); err != nil {
		return err
	}
	if len(st.Professions) == 0 {
		return fmt.Errorf("%w: at least one profession is required", ErrValidation)
	}
	if st.ConsultRate < 0 {
		return fmt.Errorf("%w: consult_rate must not be negative", ErrValidation)
	}
	if st.WheelClinicianID != nil && *st.WheelClinicianID == "" {
		st.WheelClinicianID = nil
	}
	return s.settings.Upsert(ctx, st)
}

func (s *Service) GetStaffSettings(ctx context.Context, staffID uuid.UUID) (*StaffSettings, error) {
	return s.settings.Get(ctx, staffID)
}

func (s *Service) requireSettings(ctx context.Context, staffID uuid.UUID) (*StaffSettings, error) {
	st, err := s.settings.Get(ctx, staffID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrSettingsRequired
	}
	return st, err
}

// -- Weekly availability --

// PutWeeklyAvailability replaces the staff member's whole week.
func (s *Service) PutWeeklyAvailability(ctx context.Context, staffID uuid.UUID, windows []AvailabilityWindow) ([]AvailabilityWindow, error) {
	if _, err := s.requireSettings(ctx, staffID); err != nil {
		return nil, err
	}
	slots, err := expandWindows(staffID, windows)
	if err != nil {
		return nil, err
	}
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		return s.availability.ReplaceWeekly(ctx, staffID, slots)
	})
	if err != nil {
		return nil, err
	}
	return mergeWindows(slots), nil
}

func (s *Service) GetWeeklyAvailability(ctx context.Context, staffID uuid.UUID) ([]AvailabilityWindow, error) {
	slots, err := s.availability.ListWeekly(ctx, []uuid.UUID{staffID})
	if err != nil {
		return nil, err
	}
	windows := mergeWindows(slots)
	if windows == nil {
		windows = []AvailabilityWindow{}
	}
	return windows, nil
}

// -- Availability exceptions --

func (s *Service) CreateException(ctx context.Context, e *AvailabilityException) error {
	st, err := s.requireSettings(ctx, e.StaffUserID)
	if err != nil {
		return err
	}
	loc, err := loadLocation(st.Timezone)
	if err != nil {
		return err
	}
	if _, err := parseDate(e.ExceptionDate); err != nil {
		return err
	}
	if e.ExceptionDate < localToday(s.now(), loc) {
		return fmt.Errorf("%w: exception_date %s is in the past", ErrValidation, e.ExceptionDate)
	}
	if e.StartTime != "" || e.EndTime != "" {
		e.BookingWindowIDStart, e.BookingWindowIDEnd, err = RangeFromClock(e.StartTime, e.EndTime)
		if err != nil {
			return err
		}
	}
	if !ValidIncrement(e.BookingWindowIDStart) || !ValidIncrement(e.BookingWindowIDEnd) ||
		e.BookingWindowIDEnd < e.BookingWindowIDStart {
		return fmt.Errorf("%w: a valid exception window is required", ErrValidation)
	}
	e.StartTime, e.EndTime, _ = ClockRange(e.BookingWindowIDStart, e.BookingWindowIDEnd)
	return s.availability.CreateException(ctx, e)
}

// ListExceptions returns exceptions dated today or later in the staff
// member's zone.
func (s *Service) ListExceptions(ctx context.Context, staffID uuid.UUID) ([]*AvailabilityException, error) {
	st, err := s.requireSettings(ctx, staffID)
	if err != nil {
		return nil, err
	}
	loc, err := loadLocation(st.Timezone)
	if err != nil {
		return nil, err
	}
	items, err := s.availability.ListExceptions(ctx, []uuid.UUID{staffID}, localToday(s.now(), loc), "")
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*AvailabilityException{}
	}
	return items, nil
}

func (s *Service) DeleteException(ctx context.Context, staffID, id uuid.UUID) error {
	return s.availability.DeleteException(ctx, staffID, id)
}

// -- Queue --

// AddToQueue validates q and stores it as the client's only request,
// replacing any previous one.
func (s *Service) AddToQueue(ctx context.Context, q *QueueRequest) error {
	if q.ClientUserID == uuid.Nil {
		return fmt.Errorf("%w: client_user_id is required", ErrValidation)
	}
	if q.ProfessionType == "" {
		return fmt.Errorf("%w: profession_type is required", ErrValidation)
	}
	if q.TargetDate == "" {
		return fmt.Errorf("%w: target_date is required", ErrValidation)
	}
	if _, err := parseDate(q.TargetDate); err != nil {
		return err
	}
	if q.Timezone == "" {
		q.Timezone = "UTC"
	}
	loc, err := loadLocation(q.Timezone)
	if err != nil {
		return err
	}
	if q.TargetDate < localToday(s.now(), loc) {
		return fmt.Errorf("%w: target_date %s is before today in %s", ErrValidation, q.TargetDate, q.Timezone)
	}
	if q.DurationMinutes == 0 {
		q.DurationMinutes = defaultDuration
	}
	if !validDurations[q.DurationMinutes] {
		return fmt.Errorf("%w: duration_minutes must be one of 20, 30, 40, 50, 60", ErrValidation)
	}
	if q.MedicalGender == "" {
		q.MedicalGender = "np"
	}
	if !validMedicalGenders[q.MedicalGender] {
		return fmt.Errorf("%w: medical_gender must be m, f or np", ErrValidation)
	}
	if q.PaymentMethodID != nil && *q.PaymentMethodID == "" {
		q.PaymentMethodID = nil
	}

	if err := s.queue.Upsert(ctx, q); err != nil {
		return err
	}
	s.publish(ctx, events.RKQueueAdded, events.QueueEvent{
		EventID:        events.NewEventID(),
		QueueID:        q.ID,
		ClientUserID:   q.ClientUserID,
		ProfessionType: q.ProfessionType,
		TargetDate:     q.TargetDate,
		Priority:       q.Priority,
		OccurredAt:     s.now(),
	})
	return nil
}

func (s *Service) GetQueueRequest(ctx context.Context, clientID uuid.UUID) (*QueueRequest, error) {
	return s.queue.GetByClient(ctx, clientID)
}

func (s *Service) RemoveFromQueue(ctx context.Context, clientID uuid.UUID) error {
	return s.queue.DeleteByClient(ctx, clientID)
}

func (s *Service) ListQueue(ctx context.Context, profession string, limit, offset int) ([]*QueueRequest, int, error) {
	return s.queue.List(ctx, profession, limit, offset)
}

func (s *Service) NextInQueue(ctx context.Context, profession string) (*QueueRequest, error) {
	return s.queue.Next(ctx, profession)
}

// -- Time selection --

// SelectTimes matches the client's queue request against the calendars of
// every staff member with the requested profession.
func (s *Service) SelectTimes(ctx context.Context, clientID uuid.UUID) ([]TimeSlot, error) {
	ctx, span := s.tracer.Start(ctx, "telehealth.SelectTimes")
	defer span.End()

	req, err := s.queue.GetByClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("telehealth.profession", req.ProfessionType),
		attribute.String("telehealth.target_date", req.TargetDate),
	)

	loc, err := loadLocation(req.Timezone)
	if err != nil {
		return nil, err
	}
	day, err := parseDate(req.TargetDate)
	if err != nil {
		return nil, err
	}
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
	to := from.AddDate(0, 0, 1).Add(time.Duration(req.DurationMinutes) * time.Minute)

	staff, err := s.settings.ListByProfession(ctx, req.ProfessionType)
	if err != nil {
		return nil, err
	}
	calendars, clientBookings, err := s.loadCalendars(ctx, staff, clientID, from, to)
	if err != nil {
		return nil, err
	}

	slots, err := SelectTimes(TimeSelectParams{
		Request:        *req,
		Now:            s.now(),
		LeadTime:       s.cfg.LeadTime,
		StepMinutes:    s.cfg.StepMinutes,
		ClientBookings: clientBookings,
		Staff:          calendars,
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("telehealth.slots", len(slots)))
	if slots == nil {
		slots = []TimeSlot{}
	}
	return slots, nil
}

// loadCalendars reads weekly rows, exceptions and bookings for staff over
// [from, to) and returns one calendar per staff member plus the client's own
// active bookings in the same range.
func (s *Service) loadCalendars(ctx context.Context, staff []*StaffSettings, clientID uuid.UUID, from, to time.Time) ([]*StaffCalendar, []*Booking, error) {
	ids := make([]uuid.UUID, 0, len(staff)+1)
	for _, st := range staff {
		ids = append(ids, st.StaffUserID)
	}

	var weekly []AvailabilitySlot
	var exceptions []*AvailabilityException
	if len(staff) > 0 {
		var err error
		weekly, err = s.availability.ListWeekly(ctx, ids)
		if err != nil {
			return nil, nil, err
		}
		// Staff-local dates can sit a day either side of the UTC range.
		exceptions, err = s.availability.ListExceptions(ctx, ids,
			from.UTC().AddDate(0, 0, -1).Format(DateLayout), to.UTC().AddDate(0, 0, 1).Format(DateLayout))
		if err != nil {
			return nil, nil, err
		}
	}

	participants := ids
	if clientID != uuid.Nil {
		participants = append(participants, clientID)
	}
	bookings, err := s.bookings.ListActive(ctx, participants, from, to)
	if err != nil {
		return nil, nil, err
	}

	var clientBookings []*Booking
	for _, b := range bookings {
		if b.ClientUserID == clientID {
			clientBookings = append(clientBookings, b)
		}
	}

	calendars := make([]*StaffCalendar, 0, len(staff))
	for _, st := range staff {
		cal, err := NewStaffCalendar(*st, weekly, exceptions, bookings)
		if err != nil {
			s.logger.Warn().Err(err).Str("staff_user_id", st.StaffUserID.String()).Msg("skipping staff calendar")
			continue
		}
		calendars = append(calendars, cal)
	}
	return calendars, clientBookings, nil
}

// publish sends an event after the fact. Broker failures are logged and do
// not fail the request.
func (s *Service) publish(ctx context.Context, routingKey string, v any) {
	if err := s.publisher.Publish(ctx, routingKey, v); err != nil {
		s.logger.Error().Err(err).Str("routing_key", routingKey).Msg("failed to publish event")
	}
}
