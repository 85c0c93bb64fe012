package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/smartfuturesg/modobio-web-sub003/internal/platform/events"
)

// Contact holds the delivery addresses for a user.
type Contact struct {
	Email string
	Phone string
}

// ContactResolver looks up where to deliver a user's notifications.
type ContactResolver interface {
	Contact(ctx context.Context, userID uuid.UUID) (Contact, error)
}

// UserIDContacts addresses users by id. The log senders accept any address,
// so this is enough until an account directory is wired in.
type UserIDContacts struct{}

func (UserIDContacts) Contact(_ context.Context, userID uuid.UUID) (Contact, error) {
	return Contact{Email: userID.String(), Phone: userID.String()}, nil
}

// DeliveryClaims records which deliveries went out so a redelivered event
// does not notify the same user twice.
type DeliveryClaims interface {
	Claim(ctx context.Context, id string) (bool, error)
	Release(ctx context.Context, id string) error
}

// Dispatcher turns booking events into notifications. Its Handle method is an
// events.Handler.
type Dispatcher struct {
	email     EmailSender
	sms       SMSSender
	templates *TemplateEngine
	contacts  ContactResolver
	claims    DeliveryClaims
	logger    zerolog.Logger
}

func NewDispatcher(email EmailSender, sms SMSSender, tpl *TemplateEngine, contacts ContactResolver, logger zerolog.Logger) *Dispatcher {
	if contacts == nil {
		contacts = UserIDContacts{}
	}
	return &Dispatcher{
		email:     email,
		sms:       sms,
		templates: tpl,
		contacts:  contacts,
		logger:    logger.With().Str("component", "notification_dispatcher").Logger(),
	}
}

// WithClaims makes each delivery go out at most once per event.
func (d *Dispatcher) WithClaims(c DeliveryClaims) *Dispatcher {
	d.claims = c
	return d
}

type delivery struct {
	userID   uuid.UUID
	timezone string
	template string
}

// Handle renders and sends the notifications for one event. Undecodable
// payloads are logged and dropped. Delivery failures are returned so the
// message can be retried; with claims configured, deliveries that already
// succeeded are not repeated.
func (d *Dispatcher) Handle(ctx context.Context, routingKey string, body []byte) error {
	ev, err := events.Decode[events.BookingEvent](body)
	if err != nil {
		d.logger.Error().Err(err).Str("routing_key", routingKey).Msg("dropping malformed event")
		return nil
	}

	plan := d.plan(routingKey, ev)
	if len(plan) == 0 {
		return nil
	}

	var errs []error
	for _, p := range plan {
		if err := d.deliverOnce(ctx, ev, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) plan(routingKey string, ev events.BookingEvent) []delivery {
	client := func(tpl string) delivery { return delivery{ev.ClientUserID, ev.ClientTimezone, tpl} }
	staff := func(tpl string) delivery { return delivery{ev.StaffUserID, ev.StaffTimezone, tpl} }

	switch routingKey {
	case events.RKBookingCreated:
		return []delivery{client(TplBookingCreated), staff(TplBookingCreated)}
	case events.RKBookingStatusChanged:
		switch ev.Status {
		case "Accepted":
			return []delivery{client(TplBookingAccepted)}
		case "Canceled":
			return []delivery{client(TplBookingCanceled), staff(TplBookingCanceled)}
		}
	case events.RKBookingReminder:
		return []delivery{client(TplBookingReminder), client(TplReminderSMS), staff(TplBookingReminder)}
	}
	return nil
}

func (d *Dispatcher) deliverOnce(ctx context.Context, ev events.BookingEvent, p delivery) error {
	if d.claims == nil || ev.EventID == "" {
		return d.deliver(ctx, ev, p)
	}
	key := ev.EventID + ":" + p.template + ":" + p.userID.String()
	ok, err := d.claims.Claim(ctx, key)
	if err != nil {
		return fmt.Errorf("claim delivery: %w", err)
	}
	if !ok {
		d.logger.Debug().Str("event_id", ev.EventID).Str("template", p.template).
			Str("user_id", p.userID.String()).Msg("already delivered, skipping")
		return nil
	}
	if err := d.deliver(ctx, ev, p); err != nil {
		if rerr := d.claims.Release(context.WithoutCancel(ctx), key); rerr != nil {
			d.logger.Error().Err(rerr).Str("event_id", ev.EventID).Msg("failed to release delivery claim")
		}
		return err
	}
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, ev events.BookingEvent, p delivery) error {
	contact, err := d.contacts.Contact(ctx, p.userID)
	if err != nil {
		return fmt.Errorf("resolve contact %s: %w", p.userID, err)
	}

	n, err := d.templates.Render(p.template, templateData(ev, p.timezone))
	if err != nil {
		return err
	}
	switch n.Type {
	case TypeEmail:
		n.Recipient = contact.Email
	case TypeSMS:
		n.Recipient = contact.Phone
	}
	if n.Recipient == "" {
		d.logger.Debug().Str("user_id", p.userID.String()).Str("template", p.template).Msg("no address, skipping")
		return nil
	}

	if err := Send(ctx, d.email, d.sms, n); err != nil {
		return fmt.Errorf("send %s to %s: %w", p.template, p.userID, err)
	}
	return nil
}

// templateData renders the booking time in the recipient's zone.
func templateData(ev events.BookingEvent, timezone string) map[string]string {
	loc, err := time.LoadLocation(timezone)
	if err != nil || timezone == "" {
		loc = time.UTC
		timezone = "UTC"
	}
	start := ev.StartAt.In(loc)
	reason := ev.Reason
	if reason != "" {
		reason = "Reason: " + reason
	}
	profession := strings.ReplaceAll(ev.ProfessionType, "_", " ")
	if profession == "" {
		profession = "telehealth"
	}
	return map[string]string{
		"booking_id": ev.BookingID.String(),
		"date":       start.Format("Mon, Jan 2 2006"),
		"time":       start.Format("3:04 PM"),
		"timezone":   timezone,
		"reason":     reason,
		"profession": profession,
	}
}
