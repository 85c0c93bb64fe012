// Package events carries booking lifecycle events over a RabbitMQ topic
// exchange.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Routing keys.
const (
	RKBookingCreated       = "telehealth.booking.created"
	RKBookingStatusChanged = "telehealth.booking.status_changed"
	RKBookingReminder      = "telehealth.booking.reminder"
	RKQueueAdded           = "telehealth.queue.added"
)

// BookingEvent is the payload for every telehealth.booking.* key.
type BookingEvent struct {
	EventID        string    `json:"event_id"`
	BookingID      uuid.UUID `json:"booking_id"`
	ClientUserID   uuid.UUID `json:"client_user_id"`
	StaffUserID    uuid.UUID `json:"staff_user_id"`
	ProfessionType string    `json:"profession_type,omitempty"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previous_status,omitempty"`
	ReporterRole   string    `json:"reporter_role,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	StartAt        time.Time `json:"start_at"`
	EndAt          time.Time `json:"end_at"`
	ClientTimezone string    `json:"client_timezone,omitempty"`
	StaffTimezone  string    `json:"staff_timezone,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// QueueEvent is published when a client joins the queue pool.
type QueueEvent struct {
	EventID        string    `json:"event_id"`
	QueueID        uuid.UUID `json:"queue_id"`
	ClientUserID   uuid.UUID `json:"client_user_id"`
	ProfessionType string    `json:"profession_type"`
	TargetDate     string    `json:"target_date"`
	Priority       bool      `json:"priority"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Publisher sends JSON events keyed by routing key.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, v any) error
	Close() error
}

// Decode unmarshals a delivery body into T.
func Decode[T any](body []byte) (T, error) {
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		return v, fmt.Errorf("decode event: %w", err)
	}
	return v, nil
}

// NewEventID returns a fresh id for an event payload.
func NewEventID() string { return uuid.NewString() }

// LogPublisher writes events to the log instead of a broker. It is used when
// no RabbitMQ URL is configured.
type LogPublisher struct {
	logger zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, routingKey string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	p.logger.Info().Str("routing_key", routingKey).RawJSON("event", b).Msg("event published")
	return nil
}

func (p *LogPublisher) Close() error { return nil }
