package telehealth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/smartfuturesg/modobio-web-sub003/internal/platform/db"
	"github.com/smartfuturesg/modobio-web-sub003/internal/platform/events"
	"github.com/smartfuturesg/modobio-web-sub003/internal/platform/wheel"
)

// -- Mock Repositories --

type mockSettingsRepo struct {
	items map[uuid.UUID]*StaffSettings
}

func newMockSettingsRepo() *mockSettingsRepo {
	return &mockSettingsRepo{items: make(map[uuid.UUID]*StaffSettings)}
}

func (m *mockSettingsRepo) Upsert(_ context.Context, s *StaffSettings) error {
	now := time.Now()
	if old, ok := m.items[s.StaffUserID]; ok {
		s.CreatedAt = old.CreatedAt
	} else {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	cp := *s
	m.items[s.StaffUserID] = &cp
	return nil
}

func (m *mockSettingsRepo) Get(_ context.Context, staffID uuid.UUID) (*StaffSettings, error) {
	s, ok := m.items[staffID]
	if !ok {
		return nil, fmt.Errorf("staff settings: %w", ErrNotFound)
	}
	cp := *s
	return &cp, nil
}

func (m *mockSettingsRepo) ListByProfession(_ context.Context, profession string) ([]*StaffSettings, error) {
	var out []*StaffSettings
	for _, s := range m.items {
		if s.HasProfession(profession) {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

type mockAvailabilityRepo struct {
	weekly     map[uuid.UUID][]AvailabilitySlot
	exceptions map[uuid.UUID]*AvailabilityException
}

func newMockAvailabilityRepo() *mockAvailabilityRepo {
	return &mockAvailabilityRepo{
		weekly:     make(map[uuid.UUID][]AvailabilitySlot),
		exceptions: make(map[uuid.UUID]*AvailabilityException),
	}
}

func (m *mockAvailabilityRepo) ReplaceWeekly(_ context.Context, staffID uuid.UUID, slots []AvailabilitySlot) error {
	m.weekly[staffID] = append([]AvailabilitySlot(nil), slots...)
	return nil
}

func (m *mockAvailabilityRepo) ListWeekly(_ context.Context, staffIDs []uuid.UUID) ([]AvailabilitySlot, error) {
	var out []AvailabilitySlot
	for _, id := range staffIDs {
		out = append(out, m.weekly[id]...)
	}
	return out, nil
}

func (m *mockAvailabilityRepo) CreateException(_ context.Context, e *AvailabilityException) error {
	e.ID = uuid.New()
	e.CreatedAt = time.Now()
	cp := *e
	m.exceptions[e.ID] = &cp
	return nil
}

func (m *mockAvailabilityRepo) ListExceptions(_ context.Context, staffIDs []uuid.UUID, from, to string) ([]*AvailabilityException, error) {
	want := make(map[uuid.UUID]bool, len(staffIDs))
	for _, id := range staffIDs {
		want[id] = true
	}
	var out []*AvailabilityException
	for _, e := range m.exceptions {
		if !want[e.StaffUserID] || e.ExceptionDate < from || (to != "" && e.ExceptionDate > to) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExceptionDate != out[j].ExceptionDate {
			return out[i].ExceptionDate < out[j].ExceptionDate
		}
		return out[i].BookingWindowIDStart < out[j].BookingWindowIDStart
	})
	return out, nil
}

func (m *mockAvailabilityRepo) DeleteException(_ context.Context, staffID, id uuid.UUID) error {
	e, ok := m.exceptions[id]
	if !ok || e.StaffUserID != staffID {
		return fmt.Errorf("availability exception: %w", ErrNotFound)
	}
	delete(m.exceptions, id)
	return nil
}

type mockQueueRepo struct {
	items map[uuid.UUID]*QueueRequest
	seq   int
}

func newMockQueueRepo() *mockQueueRepo {
	return &mockQueueRepo{items: make(map[uuid.UUID]*QueueRequest)}
}

func (m *mockQueueRepo) Upsert(_ context.Context, q *QueueRequest) error {
	m.seq++
	q.ID = uuid.New()
	q.CreatedAt = time.Date(2030, 1, 1, 0, 0, m.seq, 0, time.UTC)
	cp := *q
	m.items[q.ClientUserID] = &cp
	return nil
}

func (m *mockQueueRepo) GetByClient(_ context.Context, clientID uuid.UUID) (*QueueRequest, error) {
	q, ok := m.items[clientID]
	if !ok {
		return nil, ErrNoQueueRequest
	}
	cp := *q
	return &cp, nil
}

func (m *mockQueueRepo) DeleteByClient(_ context.Context, clientID uuid.UUID) error {
	if _, ok := m.items[clientID]; !ok {
		return ErrNoQueueRequest
	}
	delete(m.items, clientID)
	return nil
}

func (m *mockQueueRepo) sorted(profession string) []*QueueRequest {
	var out []*QueueRequest
	for _, q := range m.items {
		if profession == "" || q.ProfessionType == profession {
			cp := *q
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Priority != b.Priority {
			return a.Priority
		}
		if a.TargetDate != b.TargetDate {
			return a.TargetDate < b.TargetDate
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return out
}

func (m *mockQueueRepo) List(_ context.Context, profession string, limit, offset int) ([]*QueueRequest, int, error) {
	all := m.sorted(profession)
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *mockQueueRepo) Next(_ context.Context, profession string) (*QueueRequest, error) {
	all := m.sorted(profession)
	if len(all) == 0 {
		return nil, fmt.Errorf("queue request: %w", ErrNotFound)
	}
	return all[0], nil
}

func (m *mockQueueRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	var n int64
	for id, q := range m.items {
		loc, err := time.LoadLocation(q.Timezone)
		if err != nil {
			continue
		}
		if q.TargetDate < localToday(now, loc) {
			delete(m.items, id)
			n++
		}
	}
	return n, nil
}

type mockBookingRepo struct {
	items  map[uuid.UUID]*Booking
	locked [][]uuid.UUID
}

func newMockBookingRepo() *mockBookingRepo {
	return &mockBookingRepo{items: make(map[uuid.UUID]*Booking)}
}

func (m *mockBookingRepo) put(b *Booking) {
	cp := *b
	m.items[b.ID] = &cp
}

func (m *mockBookingRepo) LockParticipants(_ context.Context, ids ...uuid.UUID) error {
	m.locked = append(m.locked, ids)
	return nil
}

func (m *mockBookingRepo) Create(_ context.Context, b *Booking) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	b.CreatedAt = time.Now()
	b.UpdatedAt = b.CreatedAt
	m.put(b)
	return nil
}

func (m *mockBookingRepo) GetByID(_ context.Context, id uuid.UUID) (*Booking, error) {
	b, ok := m.items[id]
	if !ok {
		return nil, fmt.Errorf("booking: %w", ErrNotFound)
	}
	cp := *b
	return &cp, nil
}

func (m *mockBookingRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return m.GetByID(ctx, id)
}

func (m *mockBookingRepo) GetByExternalID(_ context.Context, externalID string) (*Booking, error) {
	for _, b := range m.items {
		if b.ExternalBookingID != nil && *b.ExternalBookingID == externalID {
			cp := *b
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("booking: %w", ErrNotFound)
}

func (m *mockBookingRepo) Update(_ context.Context, b *Booking) error {
	if _, ok := m.items[b.ID]; !ok {
		return fmt.Errorf("booking: %w", ErrNotFound)
	}
	b.UpdatedAt = time.Now()
	m.put(b)
	return nil
}

func (m *mockBookingRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.items[id]; !ok {
		return fmt.Errorf("booking: %w", ErrNotFound)
	}
	delete(m.items, id)
	return nil
}

func (m *mockBookingRepo) List(_ context.Context, f BookingFilter, limit, offset int) ([]*Booking, int, error) {
	var out []*Booking
	for _, b := range m.items {
		if f.ClientUserID != nil && b.ClientUserID != *f.ClientUserID {
			continue
		}
		if f.StaffUserID != nil && b.StaffUserID != *f.StaffUserID {
			continue
		}
		if f.Status != "" && b.Status != f.Status {
			continue
		}
		if f.From != nil && b.EndAt.Before(*f.From) {
			continue
		}
		if f.To != nil && !b.StartAt.Before(*f.To) {
			continue
		}
		cp := *b
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAt.After(out[j].StartAt) })
	return out, len(out), nil
}

func (m *mockBookingRepo) ListActive(_ context.Context, userIDs []uuid.UUID, from, to time.Time) ([]*Booking, error) {
	want := make(map[uuid.UUID]bool, len(userIDs))
	for _, id := range userIDs {
		want[id] = true
	}
	var out []*Booking
	for _, b := range m.items {
		if b.Status == StatusCanceled || !b.Overlaps(from, to) {
			continue
		}
		if want[b.StaffUserID] || want[b.ClientUserID] {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockBookingRepo) CountByStaffOnDate(_ context.Context, staffIDs []uuid.UUID, targetDate string) (map[uuid.UUID]int, error) {
	counts := make(map[uuid.UUID]int)
	for _, id := range staffIDs {
		counts[id] = 0
	}
	for _, b := range m.items {
		if _, ok := counts[b.StaffUserID]; ok && b.TargetDate == targetDate && b.Status != StatusCanceled {
			counts[b.StaffUserID]++
		}
	}
	return counts, nil
}

func (m *mockBookingRepo) ListStalePending(_ context.Context, now time.Time) ([]*Booking, error) {
	var out []*Booking
	for _, b := range m.items {
		if b.Status == StatusPending && !b.StartAt.After(now) {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockBookingRepo) ListDueReminders(_ context.Context, now, until time.Time) ([]*Booking, error) {
	var out []*Booking
	for _, b := range m.items {
		if b.Status == StatusAccepted && b.ReminderSentAt == nil && b.StartAt.After(now) && !b.StartAt.After(until) {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockBookingRepo) MarkReminded(_ context.Context, id uuid.UUID, at time.Time) error {
	b, ok := m.items[id]
	if !ok {
		return fmt.Errorf("booking: %w", ErrNotFound)
	}
	b.ReminderSentAt = &at
	return nil
}

type mockHistoryRepo struct {
	rows []*StatusChange
	// failOn makes Append fail for that status.
	failOn string
}

func (m *mockHistoryRepo) Append(_ context.Context, h *StatusChange) error {
	if m.failOn != "" && h.Status == m.failOn {
		return errors.New("db write failed")
	}
	h.ID = int64(len(m.rows) + 1)
	h.CreatedAt = time.Now()
	cp := *h
	m.rows = append(m.rows, &cp)
	return nil
}

func (m *mockHistoryRepo) ListByBooking(_ context.Context, bookingID uuid.UUID) ([]*StatusChange, error) {
	var out []*StatusChange
	for _, h := range m.rows {
		if h.BookingID == bookingID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *mockHistoryRepo) statuses(bookingID uuid.UUID) []string {
	var out []string
	for _, h := range m.rows {
		if h.BookingID == bookingID {
			out = append(out, h.Status)
		}
	}
	return out
}

type mockPaymentRepo struct {
	rows []*Payment
	err  error
}

func (m *mockPaymentRepo) Create(_ context.Context, p *Payment) error {
	if m.err != nil {
		return m.err
	}
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	m.rows = append(m.rows, p)
	return nil
}

func (m *mockPaymentRepo) ListByBooking(_ context.Context, bookingID uuid.UUID) ([]*Payment, error) {
	var out []*Payment
	for _, p := range m.rows {
		if p.BookingID == bookingID {
			out = append(out, p)
		}
	}
	return out, nil
}

// -- Publisher and Wheel fakes --

type published struct {
	key   string
	event any
}

type recordingPublisher struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, routingKey string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, published{key: routingKey, event: v})
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.sent))
	for i, s := range p.sent {
		out[i] = s.key
	}
	return out
}

func (p *recordingPublisher) bookingEvents(key string) []events.BookingEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.BookingEvent
	for _, s := range p.sent {
		if ev, ok := s.event.(events.BookingEvent); ok && s.key == key {
			out = append(out, ev)
		}
	}
	return out
}

type fakeWheel struct {
	created   []wheel.ConsultRequest
	canceled  []string
	createErr error
	cancelErr error
}

func (f *fakeWheel) CreateConsult(_ context.Context, req wheel.ConsultRequest) (*wheel.Consult, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, req)
	return &wheel.Consult{
		ID:         fmt.Sprintf("wc_%d", len(f.created)),
		ExternalID: req.ExternalID.String(),
		Status:     "assigned",
	}, nil
}

func (f *fakeWheel) CancelConsult(_ context.Context, consultID string) error {
	f.canceled = append(f.canceled, consultID)
	return f.cancelErr
}

// -- Fixture --

const profDoctor = "medical_doctor"

// monday is a Monday outside any DST change in the zones used by tests.
var monday = time.Date(2030, 3, 4, 0, 0, 0, 0, time.UTC)

type fixture struct {
	svc          *Service
	settings     *mockSettingsRepo
	availability *mockAvailabilityRepo
	queue        *mockQueueRepo
	bookings     *mockBookingRepo
	history      *mockHistoryRepo
	payments     *mockPaymentRepo
	pub          *recordingPublisher
	wheel        *fakeWheel
	now          time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		settings:     newMockSettingsRepo(),
		availability: newMockAvailabilityRepo(),
		queue:        newMockQueueRepo(),
		bookings:     newMockBookingRepo(),
		history:      &mockHistoryRepo{},
		payments:     &mockPaymentRepo{},
		pub:          &recordingPublisher{},
		wheel:        &fakeWheel{},
		now:          monday.Add(-24 * time.Hour),
	}
	f.svc = NewService(Repositories{
		Settings:     f.settings,
		Availability: f.availability,
		Queue:        f.queue,
		Bookings:     f.bookings,
		History:      f.history,
		Payments:     f.payments,
	}, db.NopTransactor{}, f.pub, f.wheel, Config{
		LeadTime:     2 * time.Hour,
		StepMinutes:  15,
		ReminderLead: 30 * time.Minute,
	}, zerolog.Nop())
	f.svc.now = func() time.Time { return f.now }
	return f
}

// addStaff stores settings and a weekly window for a new staff member.
func (f *fixture) addStaff(t *testing.T, tz string, autoConfirm bool, windows ...AvailabilityWindow) uuid.UUID {
	t.Helper()
	id := uuid.New()
	err := f.svc.PutStaffSettings(context.Background(), &StaffSettings{
		StaffUserID: id,
		Timezone:    tz,
		AutoConfirm: autoConfirm,
		Professions: []string{profDoctor},
		ConsultRate: 120,
	})
	if err != nil {
		t.Fatalf("PutStaffSettings: %v", err)
	}
	if len(windows) > 0 {
		if _, err := f.svc.PutWeeklyAvailability(context.Background(), id, windows); err != nil {
			t.Fatalf("PutWeeklyAvailability: %v", err)
		}
	}
	return id
}

// enqueue adds a Monday request for a new client.
func (f *fixture) enqueue(t *testing.T, tz string, duration int) uuid.UUID {
	t.Helper()
	id := uuid.New()
	err := f.svc.AddToQueue(context.Background(), &QueueRequest{
		ClientUserID:    id,
		ProfessionType:  profDoctor,
		TargetDate:      monday.Format(DateLayout),
		DurationMinutes: duration,
		Timezone:        tz,
	})
	if err != nil {
		t.Fatalf("AddToQueue: %v", err)
	}
	return id
}

func clientActor(id uuid.UUID) Actor {
	return Actor{UserID: &id, Role: ReporterClient}
}

// mondayMorning is 09:00-12:00 on Mondays.
var mondayMorning = AvailabilityWindow{DayOfWeek: int(time.Monday), StartTime: "09:00", EndTime: "12:00"}
