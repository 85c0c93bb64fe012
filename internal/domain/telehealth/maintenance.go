package telehealth

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/smartfuturesg/modobio-web-sub003/internal/platform/cache"
	"github.com/smartfuturesg/modobio-web-sub003/internal/platform/events"
)

const (
	maintenanceLockKey = "telehealth:maintenance"
	staleReason        = "not confirmed before start"
)

type SweepResult struct {
	ExpiredQueue    int64 `json:"expired_queue"`
	CanceledPending int   `json:"canceled_pending"`
	Reminded        int   `json:"reminded"`
}

// Sweep expires past queue requests, cancels pending bookings whose start
// has passed and publishes reminders for accepted bookings starting soon.
// Per-booking failures are logged and skipped. The sweep stops early once ctx
// is done.
func (s *Service) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	now := s.now()

	n, err := s.queue.DeleteExpired(ctx, now)
	if err != nil {
		return res, err
	}
	res.ExpiredQueue = n

	stale, err := s.bookings.ListStalePending(ctx, now)
	if err != nil {
		return res, err
	}
	for _, b := range stale {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		_, err := s.transition(ctx, b.ID, func(*Booking) (Actor, error) { return SystemActor, nil }, StatusCanceled, staleReason)
		if err != nil {
			if !errors.Is(err, ErrNoStatusChange) && !errors.Is(err, ErrInvalidTransition) {
				s.logger.Error().Err(err).Str("booking_id", b.ID.String()).Msg("failed to cancel stale booking")
			}
			continue
		}
		res.CanceledPending++
	}

	due, err := s.bookings.ListDueReminders(ctx, now, now.Add(s.cfg.ReminderLead))
	if err != nil {
		return res, err
	}
	for _, b := range due {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := s.publisher.Publish(ctx, events.RKBookingReminder, s.bookingEvent(b, b.Status, "", ReporterSystem, "")); err != nil {
			s.logger.Error().Err(err).Str("booking_id", b.ID.String()).Msg("failed to publish reminder")
			continue
		}
		if err := s.bookings.MarkReminded(ctx, b.ID, now); err != nil {
			s.logger.Error().Err(err).Str("booking_id", b.ID.String()).Msg("failed to mark reminder sent")
			continue
		}
		res.Reminded++
	}
	return res, nil
}

// Sweeper runs Sweep on an interval. With a locker, only the replica holding
// the Redis lock sweeps on a given tick.
type Sweeper struct {
	svc      *Service
	locker   *cache.Locker
	interval time.Duration
	logger   zerolog.Logger
}

func NewSweeper(svc *Service, locker *cache.Locker, interval time.Duration, logger zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		svc:      svc,
		locker:   locker,
		interval: interval,
		logger:   logger.With().Str("component", "telehealth_sweeper").Logger(),
	}
}

// RunOnce performs a single sweep. ran is false when another replica holds
// the lock. The lock is not released; it expires shortly before the next
// tick so at most one replica sweeps per interval. The sweep is cut off when
// the lock expires.
func (w *Sweeper) RunOnce(ctx context.Context) (res SweepResult, ran bool, err error) {
	ttl := w.interval * 9 / 10
	if w.locker != nil {
		_, err := w.locker.TryLock(ctx, maintenanceLockKey, ttl)
		if errors.Is(err, cache.ErrLockHeld) {
			return res, false, nil
		}
		if err != nil {
			return res, false, err
		}
	}

	sweepCtx, cancel := context.WithTimeout(ctx, ttl)
	defer cancel()
	res, err = w.svc.Sweep(sweepCtx)
	if err != nil {
		return res, true, err
	}
	if res.ExpiredQueue > 0 || res.CanceledPending > 0 || res.Reminded > 0 {
		w.logger.Info().
			Int64("expired_queue", res.ExpiredQueue).
			Int("canceled_pending", res.CanceledPending).
			Int("reminded", res.Reminded).
			Msg("maintenance sweep")
	}
	return res, true, nil
}

// Start sweeps every interval until ctx is cancelled.
func (w *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
				w.logger.Error().Err(err).Msg("maintenance sweep failed")
			}
		}
	}
}
