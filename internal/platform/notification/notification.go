// Package notification renders booking notifications and delivers them over
// email and SMS.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// NotificationType represents the channel used to deliver a notification.
type NotificationType string

const (
	TypeEmail NotificationType = "email"
	TypeSMS   NotificationType = "sms"
)

// Template IDs for booking notifications.
const (
	TplBookingCreated  = "booking-created"
	TplBookingAccepted = "booking-accepted"
	TplBookingCanceled = "booking-canceled"
	TplBookingReminder = "booking-reminder"
	TplReminderSMS     = "booking-reminder-sms"
)

// Notification is a single rendered outbound message.
type Notification struct {
	Type       NotificationType `json:"type"`
	Recipient  string           `json:"recipient"`
	Subject    string           `json:"subject,omitempty"`
	Body       string           `json:"body"`
	TemplateID string           `json:"template_id,omitempty"`
}

// EmailSender is the interface for sending email messages.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SMSSender is the interface for sending SMS messages.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// Template defines a reusable notification template.
type Template struct {
	ID      string           `json:"id"`
	Subject string           `json:"subject"`
	Body    string           `json:"body"`
	Type    NotificationType `json:"type"`
}

// TemplateEngine manages notification templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the booking templates
// pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      TplBookingCreated,
			Subject: "Telehealth booking requested for {{date}}",
			Body:    "Your {{profession}} appointment on {{date}} at {{time}} ({{timezone}}) has been requested. Booking {{booking_id}}.",
			Type:    TypeEmail,
		},
		{
			ID:      TplBookingAccepted,
			Subject: "Telehealth booking confirmed for {{date}}",
			Body:    "Your telehealth appointment on {{date}} at {{time}} ({{timezone}}) is confirmed. Booking {{booking_id}}.",
			Type:    TypeEmail,
		},
		{
			ID:      TplBookingCanceled,
			Subject: "Telehealth booking canceled",
			Body:    "The telehealth appointment on {{date}} at {{time}} ({{timezone}}) was canceled. {{reason}}",
			Type:    TypeEmail,
		},
		{
			ID:      TplBookingReminder,
			Subject: "Upcoming telehealth appointment at {{time}}",
			Body:    "Reminder: your telehealth appointment starts on {{date}} at {{time}} ({{timezone}}). Booking {{booking_id}}.",
			Type:    TypeEmail,
		},
		{
			ID:   TplReminderSMS,
			Body: "ModoBio: telehealth appointment at {{time}} {{timezone}} on {{date}}.",
			Type: TypeSMS,
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render looks up a template by ID and performs {{key}} replacement using the
// supplied data map. Keys present in the template but absent from data are left
// as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (Notification, error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return Notification{}, fmt.Errorf("template %q not found", templateID)
	}

	subject := t.Subject
	body := t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return Notification{
		Type:       t.Type,
		Subject:    subject,
		Body:       strings.TrimSpace(body),
		TemplateID: t.ID,
	}, nil
}

// Send dispatches n through the channel matching its type.
func Send(ctx context.Context, email EmailSender, sms SMSSender, n Notification) error {
	switch n.Type {
	case TypeEmail:
		return email.SendEmail(ctx, n.Recipient, n.Subject, n.Body)
	case TypeSMS:
		return sms.SendSMS(ctx, n.Recipient, n.Body)
	default:
		return fmt.Errorf("unsupported notification type: %s", n.Type)
	}
}

// LogSender implements both sender interfaces by writing to the log. It stands
// in for the SMTP and SMS gateways.
type LogSender struct {
	logger zerolog.Logger
}

func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger.With().Str("component", "notification").Logger()}
}

func (s *LogSender) SendEmail(_ context.Context, to, subject, body string) error {
	s.logger.Info().Str("channel", "email").Str("to", to).Str("subject", subject).Int("body_len", len(body)).Msg("notification sent")
	return nil
}

func (s *LogSender) SendSMS(_ context.Context, to, body string) error {
	s.logger.Info().Str("channel", "sms").Str("to", to).Int("body_len", len(body)).Msg("notification sent")
	return nil
}

// EmailCall records a single call to SendEmail.
type EmailCall struct {
	To      string
	Subject string
	Body    string
}

// MockEmailSender is a test double for EmailSender.
type MockEmailSender struct {
	mu         sync.Mutex
	calls      []EmailCall
	ShouldFail bool
	FailError  string
}

// SendEmail records the call and optionally returns an error.
func (m *MockEmailSender) SendEmail(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, EmailCall{To: to, Subject: subject, Body: body})
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of recorded email calls.
func (m *MockEmailSender) Calls() []EmailCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EmailCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// SMSCall records a single call to SendSMS.
type SMSCall struct {
	To   string
	Body string
}

// MockSMSSender is a test double for SMSSender.
type MockSMSSender struct {
	mu         sync.Mutex
	calls      []SMSCall
	ShouldFail bool
	FailError  string
}

// SendSMS records the call and optionally returns an error.
func (m *MockSMSSender) SendSMS(_ context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, SMSCall{To: to, Body: body})
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of recorded SMS calls.
func (m *MockSMSSender) Calls() []SMSCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SMSCall, len(m.calls))
	copy(out, m.calls)
	return out
}
