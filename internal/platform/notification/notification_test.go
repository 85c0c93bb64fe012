package notification

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/smartfuturesg/modobio-web-sub003/internal/platform/cache"
	"github.com/smartfuturesg/modobio-web-sub003/internal/platform/events"
)

func TestTemplateEngine_RegisterAndRender(t *testing.T) {
	eng := NewTemplateEngine()
	eng.RegisterTemplate(Template{
		ID:      "test-tpl",
		Subject: "Hello {{name}}",
		Body:    "Dear {{name}}, your code is {{code}}.",
		Type:    TypeEmail,
	})

	n, err := eng.Render("test-tpl", map[string]string{
		"name": "Alice",
		"code": "1234",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.Subject != "Hello Alice" {
		t.Errorf("subject = %q, want %q", n.Subject, "Hello Alice")
	}
	if n.Body != "Dear Alice, your code is 1234." {
		t.Errorf("body = %q, want %q", n.Body, "Dear Alice, your code is 1234.")
	}
	if n.TemplateID != "test-tpl" || n.Type != TypeEmail {
		t.Errorf("unexpected template metadata: %+v", n)
	}
}

func TestTemplateEngine_RenderMissing(t *testing.T) {
	eng := NewTemplateEngine()
	if _, err := eng.Render("nonexistent", nil); err == nil {
		t.Fatal("expected error for missing template, got nil")
	}
}

func TestTemplateEngine_BuiltInTemplates(t *testing.T) {
	eng := NewTemplateEngine()
	for _, id := range []string{TplBookingCreated, TplBookingAccepted, TplBookingCanceled, TplBookingReminder, TplReminderSMS} {
		n, err := eng.Render(id, map[string]string{
			"booking_id": "b-1",
			"date":       "Mon, Mar 2 2026",
			"time":       "9:00 AM",
			"timezone":   "America/Denver",
			"reason":     "",
			"profession": "dietitian",
		})
		if err != nil {
			t.Errorf("built-in template %q not found: %v", id, err)
			continue
		}
		if strings.Contains(n.Subject+n.Body, "{{") {
			t.Errorf("template %q left placeholders: %q", id, n.Subject+n.Body)
		}
	}
}

func TestTemplateEngine_RenderMissingKey(t *testing.T) {
	eng := NewTemplateEngine()
	eng.RegisterTemplate(Template{ID: "partial", Body: "{{a}} and {{b}}", Type: TypeSMS})

	n, err := eng.Render("partial", map[string]string{"a": "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.Body != "x and {{b}}" {
		t.Errorf("body = %q", n.Body)
	}
}

func TestSend_Channels(t *testing.T) {
	email := &MockEmailSender{}
	sms := &MockSMSSender{}
	ctx := context.Background()

	if err := Send(ctx, email, sms, Notification{Type: TypeEmail, Recipient: "a@x", Subject: "s", Body: "b"}); err != nil {
		t.Fatal(err)
	}
	if err := Send(ctx, email, sms, Notification{Type: TypeSMS, Recipient: "+1555", Body: "b"}); err != nil {
		t.Fatal(err)
	}
	if err := Send(ctx, email, sms, Notification{Type: "push"}); err == nil {
		t.Error("expected error for unsupported type")
	}
	if len(email.Calls()) != 1 || email.Calls()[0].To != "a@x" {
		t.Errorf("email calls = %+v", email.Calls())
	}
	if len(sms.Calls()) != 1 || sms.Calls()[0].To != "+1555" {
		t.Errorf("sms calls = %+v", sms.Calls())
	}
}

func TestLogSender(t *testing.T) {
	var buf strings.Builder
	s := NewLogSender(zerolog.New(&buf))
	_ = s.SendEmail(context.Background(), "u1", "subj", "body")
	_ = s.SendSMS(context.Background(), "u1", "body")
	out := buf.String()
	if !strings.Contains(out, `"channel":"email"`) || !strings.Contains(out, `"channel":"sms"`) {
		t.Errorf("unexpected log output: %s", out)
	}
}

func bookingEvent(status string) events.BookingEvent {
	return events.BookingEvent{
		EventID:        "evt-1",
		BookingID:      uuid.New(),
		ClientUserID:   uuid.New(),
		StaffUserID:    uuid.New(),
		ProfessionType: "medical_doctor",
		Status:         status,
		StartAt:        time.Date(2026, 3, 2, 16, 0, 0, 0, time.UTC),
		EndAt:          time.Date(2026, 3, 2, 16, 20, 0, 0, time.UTC),
		ClientTimezone: "America/Denver",
		StaffTimezone:  "America/New_York",
	}
}

func newTestDispatcher() (*Dispatcher, *MockEmailSender, *MockSMSSender) {
	email := &MockEmailSender{}
	sms := &MockSMSSender{}
	return NewDispatcher(email, sms, NewTemplateEngine(), nil, zerolog.Nop()), email, sms
}

func TestDispatcher_Created(t *testing.T) {
	d, email, sms := newTestDispatcher()
	ev := bookingEvent("Pending")
	body, _ := json.Marshal(ev)

	if err := d.Handle(context.Background(), events.RKBookingCreated, body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	calls := email.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 emails, got %d", len(calls))
	}
	if calls[0].To != ev.ClientUserID.String() || calls[1].To != ev.StaffUserID.String() {
		t.Errorf("unexpected recipients: %+v", calls)
	}
	// 16:00 UTC is 9:00 AM in Denver and 11:00 AM in New York.
	if !strings.Contains(calls[0].Body, "9:00 AM") || !strings.Contains(calls[1].Body, "11:00 AM") {
		t.Errorf("expected times in recipient zones: %q / %q", calls[0].Body, calls[1].Body)
	}
	if !strings.Contains(calls[0].Body, "medical doctor") {
		t.Errorf("expected profession in body: %q", calls[0].Body)
	}
	if len(sms.Calls()) != 0 {
		t.Errorf("expected no sms, got %d", len(sms.Calls()))
	}
}

func TestDispatcher_StatusChanged(t *testing.T) {
	tests := []struct {
		status string
		emails int
	}{
		{"Accepted", 1},
		{"Canceled", 2},
		{"Completed", 0},
		{"In Progress", 0},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			d, email, _ := newTestDispatcher()
			body, _ := json.Marshal(bookingEvent(tt.status))
			if err := d.Handle(context.Background(), events.RKBookingStatusChanged, body); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := len(email.Calls()); got != tt.emails {
				t.Errorf("emails = %d, want %d", got, tt.emails)
			}
		})
	}
}

func TestDispatcher_Reminder(t *testing.T) {
	d, email, sms := newTestDispatcher()
	body, _ := json.Marshal(bookingEvent("Accepted"))

	if err := d.Handle(context.Background(), events.RKBookingReminder, body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(email.Calls()) != 2 || len(sms.Calls()) != 1 {
		t.Errorf("emails=%d sms=%d, want 2 and 1", len(email.Calls()), len(sms.Calls()))
	}
}

func TestDispatcher_SendFailureReturnsError(t *testing.T) {
	email := &MockEmailSender{ShouldFail: true, FailError: "smtp down"}
	d := NewDispatcher(email, &MockSMSSender{}, NewTemplateEngine(), nil, zerolog.Nop())
	body, _ := json.Marshal(bookingEvent("Pending"))

	err := d.Handle(context.Background(), events.RKBookingCreated, body)
	if err == nil || !strings.Contains(err.Error(), "smtp down") {
		t.Fatalf("expected send error, got %v", err)
	}
}

func TestDispatcher_MalformedDropped(t *testing.T) {
	d, email, _ := newTestDispatcher()
	if err := d.Handle(context.Background(), events.RKBookingCreated, []byte("{not json")); err != nil {
		t.Errorf("malformed payload should be dropped, got %v", err)
	}
	if len(email.Calls()) != 0 {
		t.Error("expected no sends")
	}
}

type failingContacts struct{}

func (failingContacts) Contact(context.Context, uuid.UUID) (Contact, error) {
	return Contact{}, errors.New("directory unavailable")
}

type emailOnlyContacts struct{}

func (emailOnlyContacts) Contact(_ context.Context, id uuid.UUID) (Contact, error) {
	return Contact{Email: id.String() + "@example.com"}, nil
}

func TestDispatcher_ContactResolution(t *testing.T) {
	body, _ := json.Marshal(bookingEvent("Accepted"))

	d := NewDispatcher(&MockEmailSender{}, &MockSMSSender{}, NewTemplateEngine(), failingContacts{}, zerolog.Nop())
	if err := d.Handle(context.Background(), events.RKBookingReminder, body); err == nil {
		t.Error("expected contact resolution error")
	}

	email := &MockEmailSender{}
	sms := &MockSMSSender{}
	d = NewDispatcher(email, sms, NewTemplateEngine(), emailOnlyContacts{}, zerolog.Nop())
	if err := d.Handle(context.Background(), events.RKBookingReminder, body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sms.Calls()) != 0 {
		t.Error("expected sms skipped without a phone number")
	}
	if len(email.Calls()) != 2 || !strings.HasSuffix(email.Calls()[0].To, "@example.com") {
		t.Errorf("unexpected emails: %+v", email.Calls())
	}
}

// flakySMS fails its first call only.
type flakySMS struct {
	MockSMSSender
	failed bool
}

func (f *flakySMS) SendSMS(ctx context.Context, to, body string) error {
	if !f.failed {
		f.failed = true
		return errors.New("sms gateway down")
	}
	return f.MockSMSSender.SendSMS(ctx, to, body)
}

func TestDispatcher_RedeliveryDoesNotRepeatSends(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	email := &MockEmailSender{}
	sms := &flakySMS{}
	d := NewDispatcher(email, sms, NewTemplateEngine(), nil, zerolog.Nop()).
		WithClaims(cache.NewIdempotencyStore(rdb, "notify:delivery:", time.Hour))
	body, _ := json.Marshal(bookingEvent("Accepted"))
	ctx := context.Background()

	err := d.Handle(ctx, events.RKBookingReminder, body)
	if err == nil || !strings.Contains(err.Error(), "sms gateway down") {
		t.Fatalf("expected sms failure, got %v", err)
	}
	if len(email.Calls()) != 2 {
		t.Fatalf("expected 2 emails on first delivery, got %d", len(email.Calls()))
	}

	if err := d.Handle(ctx, events.RKBookingReminder, body); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if len(email.Calls()) != 2 {
		t.Errorf("emails repeated on redelivery: got %d, want 2", len(email.Calls()))
	}
	if len(sms.Calls()) != 1 {
		t.Errorf("expected the failed sms to be retried once, got %d", len(sms.Calls()))
	}

	if err := d.Handle(ctx, events.RKBookingReminder, body); err != nil {
		t.Fatalf("third delivery: %v", err)
	}
	if len(email.Calls()) != 2 || len(sms.Calls()) != 1 {
		t.Errorf("third delivery sent again: emails=%d sms=%d", len(email.Calls()), len(sms.Calls()))
	}
}

func TestDispatcher_ClaimsKeyedPerEvent(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	email := &MockEmailSender{}
	d := NewDispatcher(email, &MockSMSSender{}, NewTemplateEngine(), nil, zerolog.Nop()).
		WithClaims(cache.NewIdempotencyStore(rdb, "notify:delivery:", time.Hour))

	ev := bookingEvent("Canceled")
	body, _ := json.Marshal(ev)
	if err := d.Handle(context.Background(), events.RKBookingStatusChanged, body); err != nil {
		t.Fatal(err)
	}
	ev.EventID = "evt-2"
	body, _ = json.Marshal(ev)
	if err := d.Handle(context.Background(), events.RKBookingStatusChanged, body); err != nil {
		t.Fatal(err)
	}
	if len(email.Calls()) != 4 {
		t.Errorf("distinct events should each notify: got %d emails, want 4", len(email.Calls()))
	}
}
