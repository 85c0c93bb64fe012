package telehealth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/smartfuturesg/modobio-web-sub003/internal/platform/webhook"
)

// WheelSignatureHeader carries "sha256=<hex>" over the raw request body.
const WheelSignatureHeader = "X-Wheel-Signature"

// Wheel consult lifecycle events and the booking status each one drives.
var wheelEventStatus = map[string]string{
	"consult.assigned":  StatusAccepted,
	"consult.started":   StatusInProgress,
	"consult.finished":  StatusDocumentReview,
	"consult.completed": StatusCompleted,
	"consult.canceled":  StatusCanceled,
	"consult.rejected":  StatusCanceled,
}

type WheelEvent struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	ConsultID  string    `json:"consult_id"`
	ExternalID string    `json:"external_id"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// WheelOutcome describes what happened to an inbound event.
type WheelOutcome string

const (
	WheelApplied   WheelOutcome = "applied"
	WheelIgnored   WheelOutcome = "ignored"
	WheelDuplicate WheelOutcome = "duplicate"
)

// ApplyWheelEvent maps a Wheel consult event onto the booking it refers to.
// Unknown event types, repeated statuses and transitions the state machine
// does not allow are ignored.
func (s *Service) ApplyWheelEvent(ctx context.Context, ev WheelEvent) (WheelOutcome, error) {
	to, ok := wheelEventStatus[ev.EventType]
	if !ok {
		s.logger.Debug().Str("event_type", ev.EventType).Msg("ignoring wheel event")
		return WheelIgnored, nil
	}

	id, err := s.resolveWheelBooking(ctx, ev)
	if err != nil {
		return "", err
	}

	reason := ev.Reason
	if reason == "" {
		reason = ev.EventType
	}
	_, err = s.transition(ctx, id, func(b *Booking) (Actor, error) {
		if b.ExternalBookingID == nil && ev.ConsultID != "" {
			consultID := ev.ConsultID
			b.ExternalBookingID = &consultID
		}
		return WheelActor, nil
	}, to, reason)
	switch {
	case errors.Is(err, ErrNoStatusChange), errors.Is(err, ErrInvalidTransition):
		s.logger.Warn().Err(err).
			Str("booking_id", id.String()).
			Str("event_type", ev.EventType).
			Msg("wheel event did not change booking")
		return WheelIgnored, nil
	case err != nil:
		return "", err
	}
	return WheelApplied, nil
}

func (s *Service) resolveWheelBooking(ctx context.Context, ev WheelEvent) (uuid.UUID, error) {
	if ev.ConsultID != "" {
		b, err := s.bookings.GetByExternalID(ctx, ev.ConsultID)
		if err == nil {
			return b.ID, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return uuid.Nil, err
		}
	}
	if id, err := uuid.Parse(ev.ExternalID); err == nil {
		if _, err := s.bookings.GetByID(ctx, id); err != nil {
			return uuid.Nil, err
		}
		return id, nil
	}
	return uuid.Nil, fmt.Errorf("wheel consult %q: %w", ev.ConsultID, ErrNotFound)
}

// IdempotencyStore claims event ids so retried deliveries are processed once.
type IdempotencyStore interface {
	Claim(ctx context.Context, id string) (bool, error)
	Release(ctx context.Context, id string) error
}

// AlwaysClaim is used when no Redis is configured.
type AlwaysClaim struct{}

func (AlwaysClaim) Claim(context.Context, string) (bool, error) { return true, nil }
func (AlwaysClaim) Release(context.Context, string) error       { return nil }

type WheelWebhookHandler struct {
	svc    *Service
	idem   IdempotencyStore
	secret string
	logger zerolog.Logger
}

func NewWheelWebhookHandler(svc *Service, idem IdempotencyStore, secret string, logger zerolog.Logger) *WheelWebhookHandler {
	if idem == nil {
		idem = AlwaysClaim{}
	}
	return &WheelWebhookHandler{
		svc:    svc,
		idem:   idem,
		secret: secret,
		logger: logger.With().Str("component", "wheel_webhook").Logger(),
	}
}

// RegisterRoutes mounts the webhook. It must sit outside JWT auth; requests
// are authenticated by signature instead.
func (h *WheelWebhookHandler) RegisterRoutes(g *echo.Group) {
	g.POST("/telehealth/wheel/webhook", h.Receive, webhook.RequireSignature(WheelSignatureHeader, h.secret))
}

func (h *WheelWebhookHandler) Receive(c echo.Context) error {
	var ev WheelEvent
	if err := c.Bind(&ev); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid event payload")
	}
	if ev.EventID == "" || ev.EventType == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "event_id and event_type are required")
	}

	ctx := c.Request().Context()
	claimed, err := h.idem.Claim(ctx, ev.EventID)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "idempotency store unavailable")
	}
	if !claimed {
		return c.JSON(http.StatusOK, map[string]string{"status": string(WheelDuplicate)})
	}

	outcome, err := h.svc.ApplyWheelEvent(ctx, ev)
	if err != nil {
		if relErr := h.idem.Release(context.WithoutCancel(ctx), ev.EventID); relErr != nil {
			h.logger.Warn().Err(relErr).Str("event_id", ev.EventID).Msg("failed to release idempotency key")
		}
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": string(outcome)})
}
