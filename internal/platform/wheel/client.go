// Package wheel talks to the Wheel clinician network, which staffs consults
// for practitioners that are not employed directly.
package wheel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

var (
	// ErrRejected is returned when Wheel refuses a request (4xx).
	ErrRejected = errors.New("wheel: request rejected")
	// ErrUnavailable is returned when Wheel keeps failing after retries.
	ErrUnavailable = errors.New("wheel: service unavailable")
)

// ConsultRequest asks Wheel to schedule a consult with one of its clinicians.
type ConsultRequest struct {
	ExternalID     uuid.UUID `json:"external_id"`
	ClinicianID    string    `json:"clinician_id"`
	PatientID      uuid.UUID `json:"patient_id"`
	ProfessionType string    `json:"profession_type"`
	StartAt        time.Time `json:"start_at"`
	EndAt          time.Time `json:"end_at"`
	Timezone       string    `json:"timezone"`
}

// Consult is Wheel's view of a scheduled consult.
type Consult struct {
	ID         string `json:"id"`
	ExternalID string `json:"external_id"`
	Status     string `json:"status"`
}

// Client is the subset of the Wheel API used for bookings.
type Client interface {
	CreateConsult(ctx context.Context, req ConsultRequest) (*Consult, error)
	CancelConsult(ctx context.Context, consultID string) error
}

type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries uint64
}

// HTTPClient calls the Wheel REST API.
type HTTPClient struct {
	http       *resty.Client
	maxRetries uint64
	newBackOff func() backoff.BackOff
}

func NewHTTPClient(cfg Config) *HTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	r := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetAuthToken(cfg.APIKey).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")

	return &HTTPClient{
		http:       r,
		maxRetries: cfg.MaxRetries,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			b.MaxElapsedTime = 15 * time.Second
			return b
		},
	}
}

func (c *HTTPClient) CreateConsult(ctx context.Context, req ConsultRequest) (*Consult, error) {
	var out Consult
	err := c.do(ctx, func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetBody(req).
			SetResult(&out).
			Post("/v1/consults")
	})
	if err != nil {
		return nil, fmt.Errorf("create consult: %w", err)
	}
	if out.ID == "" {
		return nil, fmt.Errorf("create consult: %w: empty consult id", ErrRejected)
	}
	return &out, nil
}

func (c *HTTPClient) CancelConsult(ctx context.Context, consultID string) error {
	err := c.do(ctx, func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetPathParam("id", consultID).
			Post("/v1/consults/{id}/cancel")
	})
	if err != nil {
		return fmt.Errorf("cancel consult %s: %w", consultID, err)
	}
	return nil
}

// do retries transport errors and 5xx responses with exponential backoff.
// 4xx responses are permanent.
func (c *HTTPClient) do(ctx context.Context, call func() (*resty.Response, error)) error {
	var lastStatus int
	op := func() error {
		resp, err := call()
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		lastStatus = resp.StatusCode()
		switch {
		case resp.StatusCode() >= http.StatusInternalServerError:
			return fmt.Errorf("status %d", resp.StatusCode())
		case resp.IsError():
			return backoff.Permanent(fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode(), resp.String()))
		}
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), c.maxRetries), ctx)
	err := backoff.Retry(op, b)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrRejected) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v (last status %d)", ErrUnavailable, err, lastStatus)
}

// NoopClient is used when no Wheel endpoint is configured. It never creates a
// consult.
type NoopClient struct{}

func (NoopClient) CreateConsult(context.Context, ConsultRequest) (*Consult, error) { return nil, nil }

func (NoopClient) CancelConsult(context.Context, string) error { return nil }

// New returns an HTTP client when a base URL is configured and a no-op client
// otherwise.
func New(cfg Config) Client {
	if cfg.BaseURL == "" {
		return NoopClient{}
	}
	return NewHTTPClient(cfg)
}
