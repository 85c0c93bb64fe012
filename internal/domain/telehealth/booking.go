package telehealth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/smartfuturesg/modobio-web-sub003/internal/platform/auth"
	"github.com/smartfuturesg/modobio-web-sub003/internal/platform/events"
	"github.com/smartfuturesg/modobio-web-sub003/internal/platform/wheel"
)

type CreateBookingRequest struct {
	ClientUserID         uuid.UUID  `json:"client_user_id"`
	StaffUserID          *uuid.UUID `json:"staff_user_id,omitempty"`
	TargetDate           string     `json:"target_date"`
	BookingWindowIDStart int        `json:"booking_window_id_start_time"`
}

// transitionResult carries the work left for after the transaction commits.
type transitionResult struct {
	booking       *Booking
	previous      string
	actor         Actor
	reason        string
	cancelConsult string

	// createdConsult is the Wheel consult opened inside the transaction. It
	// is canceled if the transaction does not commit.
	createdConsult string
}

// consultCharge prices a consult from an hourly rate, rounded to cents.
func consultCharge(hourlyRate float64, durationMinutes int) float64 {
	return math.Round(hourlyRate*float64(durationMinutes)/60*100) / 100
}

// CreateBooking books the client's queued request at the given UTC start
// increment. Without an explicit staff member, the free staff member with
// the fewest bookings that day is chosen, ties broken by id.
func (s *Service) CreateBooking(ctx context.Context, actor Actor, req CreateBookingRequest) (*Booking, error) {
	ctx, span := s.tracer.Start(ctx, "telehealth.CreateBooking")
	defer span.End()

	if req.ClientUserID == uuid.Nil {
		return nil, fmt.Errorf("%w: client_user_id is required", ErrValidation)
	}
	if req.TargetDate == "" {
		return nil, fmt.Errorf("%w: target_date is required", ErrValidation)
	}

	qr, err := s.queue.GetByClient(ctx, req.ClientUserID)
	if err != nil {
		return nil, err
	}
	start, end, endID, err := BookingWindow(req.TargetDate, req.BookingWindowIDStart, qr.DurationMinutes)
	if err != nil {
		return nil, err
	}
	if start.Before(s.now().Add(s.cfg.LeadTime)) {
		return nil, fmt.Errorf("%w: bookings must start at least %s from now", ErrValidation, s.cfg.LeadTime)
	}

	var candidates []*StaffSettings
	if req.StaffUserID != nil {
		st, err := s.settings.Get(ctx, *req.StaffUserID)
		if err != nil {
			return nil, err
		}
		if !st.HasProfession(qr.ProfessionType) {
			return nil, fmt.Errorf("%w: staff does not offer %s", ErrValidation, qr.ProfessionType)
		}
		candidates = []*StaffSettings{st}
	} else {
		candidates, err = s.settings.ListByProfession(ctx, qr.ProfessionType)
		if err != nil {
			return nil, err
		}
	}
	if len(candidates) == 0 {
		return nil, ErrSlotUnavailable
	}

	var created *Booking
	var accepted *transitionResult
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		lockIDs := []uuid.UUID{req.ClientUserID}
		for _, c := range candidates {
			lockIDs = append(lockIDs, c.StaffUserID)
		}
		if err := s.bookings.LockParticipants(ctx, lockIDs...); err != nil {
			return err
		}

		calendars, clientBookings, err := s.loadCalendars(ctx, candidates, req.ClientUserID, start, end)
		if err != nil {
			return err
		}
		if overlapsAny(clientBookings, start, end) {
			return fmt.Errorf("%w: client already has a booking at that time", ErrOverlap)
		}

		var free []uuid.UUID
		byID := make(map[uuid.UUID]*StaffSettings, len(calendars))
		for _, cal := range calendars {
			if cal.IsFree(start, end) {
				free = append(free, cal.Settings.StaffUserID)
				byID[cal.Settings.StaffUserID] = &cal.Settings
			}
		}
		if len(free) == 0 {
			return ErrSlotUnavailable
		}
		staffID, err := s.pickStaff(ctx, free, req.TargetDate)
		if err != nil {
			return err
		}
		st := byID[staffID]

		b := &Booking{
			ID:                   uuid.New(),
			ClientUserID:         req.ClientUserID,
			StaffUserID:          staffID,
			TargetDate:           req.TargetDate,
			BookingWindowIDStart: req.BookingWindowIDStart,
			BookingWindowIDEnd:   endID,
			StartAt:              start,
			EndAt:                end,
			Status:               StatusPending,
			ProfessionType:       qr.ProfessionType,
			DurationMinutes:      qr.DurationMinutes,
			ClientTimezone:       qr.Timezone,
			StaffTimezone:        st.Timezone,
			ConsultRate:          consultCharge(st.ConsultRate, qr.DurationMinutes),
			PaymentMethodID:      qr.PaymentMethodID,
		}
		if err := s.bookings.Create(ctx, b); err != nil {
			return fmt.Errorf("create booking: %w", err)
		}
		if err := s.appendHistory(ctx, b, actor, ""); err != nil {
			return err
		}
		if err := s.queue.DeleteByClient(ctx, req.ClientUserID); err != nil {
			return fmt.Errorf("remove queue request: %w", err)
		}

		if st.AutoConfirm {
			accepted, err = s.applyTransition(ctx, b, SystemActor, StatusAccepted, "auto confirmed")
			if err != nil {
				return err
			}
		}
		created = b
		return nil
	})
	if err != nil {
		s.compensateConsult(ctx, accepted)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.String("telehealth.booking_id", created.ID.String()))
	s.logger.Info().
		Str("booking_id", created.ID.String()).
		Str("staff_user_id", created.StaffUserID.String()).
		Str("status", created.Status).
		Msg("booking created")

	ev := s.bookingEvent(created, StatusPending, "", actor.Role, "")
	s.publish(ctx, events.RKBookingCreated, ev)
	if accepted != nil {
		s.afterTransition(ctx, accepted)
	}
	return created, nil
}

// pickStaff returns the staff member with the fewest active bookings on the
// UTC date, ties broken by id.
func (s *Service) pickStaff(ctx context.Context, free []uuid.UUID, targetDate string) (uuid.UUID, error) {
	if len(free) == 1 {
		return free[0], nil
	}
	counts, err := s.bookings.CountByStaffOnDate(ctx, free, targetDate)
	if err != nil {
		return uuid.Nil, fmt.Errorf("count staff bookings: %w", err)
	}
	best := free[0]
	for _, id := range free[1:] {
		switch {
		case counts[id] < counts[best]:
			best = id
		case counts[id] == counts[best] && bytes.Compare(id[:], best[:]) < 0:
			best = id
		}
	}
	return best, nil
}

// GetBooking returns the booking if p may see it.
func (s *Service) GetBooking(ctx context.Context, p *auth.Principal, id uuid.UUID) (*Booking, error) {
	b, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := ActorFor(p, b); err != nil {
		return nil, err
	}
	return b, nil
}

// ListBookings scopes the filter to the caller: clients see only their own
// bookings and staff only theirs.
func (s *Service) ListBookings(ctx context.Context, p *auth.Principal, f BookingFilter, limit, offset int) ([]*Booking, int, error) {
	if p == nil {
		return nil, 0, ErrForbidden
	}
	if f.Status != "" && !ValidStatus(f.Status) {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrValidation, f.Status)
	}
	if !p.IsAdmin() && !p.HasRole(auth.RoleSystem) {
		id := p.UserID
		if p.HasRole(auth.RoleStaff) {
			if f.StaffUserID != nil && *f.StaffUserID != id {
				return nil, 0, fmt.Errorf("%w: staff may only list their own bookings", ErrForbidden)
			}
			f.StaffUserID = &id
		} else {
			if f.ClientUserID != nil && *f.ClientUserID != id {
				return nil, 0, fmt.Errorf("%w: clients may only list their own bookings", ErrForbidden)
			}
			f.ClientUserID = &id
		}
	}
	items, total, err := s.bookings.List(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	if items == nil {
		items = []*Booking{}
	}
	return items, total, nil
}

// DeleteBooking hard-deletes a booking and, by cascade, its history.
func (s *Service) DeleteBooking(ctx context.Context, id uuid.UUID) error {
	if err := s.bookings.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Warn().Str("booking_id", id.String()).Msg("booking hard-deleted")
	return nil
}

func (s *Service) StatusHistory(ctx context.Context, p *auth.Principal, id uuid.UUID) ([]*StatusChange, error) {
	if _, err := s.GetBooking(ctx, p, id); err != nil {
		return nil, err
	}
	items, err := s.history.ListByBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*StatusChange{}
	}
	return items, nil
}

// Payments returns the booking's charge and refund ledger, oldest first.
func (s *Service) Payments(ctx context.Context, p *auth.Principal, id uuid.UUID) ([]*Payment, error) {
	if _, err := s.GetBooking(ctx, p, id); err != nil {
		return nil, err
	}
	items, err := s.payments.ListByBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*Payment{}
	}
	return items, nil
}

// TransitionBooking moves a booking to a new status on behalf of p.
func (s *Service) TransitionBooking(ctx context.Context, p *auth.Principal, id uuid.UUID, to, reason string) (*Booking, error) {
	return s.transition(ctx, id, func(b *Booking) (Actor, error) { return ActorFor(p, b) }, to, reason)
}

// transition locks the booking, applies the change and runs the
// post-commit side effects.
func (s *Service) transition(ctx context.Context, id uuid.UUID, resolve func(*Booking) (Actor, error), to, reason string) (*Booking, error) {
	ctx, span := s.tracer.Start(ctx, "telehealth.TransitionBooking")
	defer span.End()
	span.SetAttributes(attribute.String("telehealth.booking_id", id.String()), attribute.String("telehealth.to", to))

	var res *transitionResult
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		b, err := s.bookings.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		actor, err := resolve(b)
		if err != nil {
			return err
		}
		res, err = s.applyTransition(ctx, b, actor, to, reason)
		return err
	})
	if err != nil {
		s.compensateConsult(ctx, res)
		if !errors.Is(err, ErrNoStatusChange) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return nil, err
	}
	s.afterTransition(ctx, res)
	return res.booking, nil
}

// applyTransition validates and persists a status change inside the
// caller's transaction. On error the partial result is still returned so the
// caller can undo remote side effects.
func (s *Service) applyTransition(ctx context.Context, b *Booking, actor Actor, to, reason string) (*transitionResult, error) {
	if err := CheckTransition(actor, b, to); err != nil {
		return nil, err
	}
	res := &transitionResult{booking: b, previous: b.Status, actor: actor, reason: reason}

	switch to {
	case StatusAccepted:
		if err := s.onAccept(ctx, b, actor, res); err != nil {
			return res, err
		}
	case StatusCanceled:
		if b.Charged {
			if err := s.payments.Create(ctx, &Payment{
				BookingID:       b.ID,
				Type:            PaymentRefund,
				Amount:          b.ConsultRate,
				PaymentMethodID: b.PaymentMethodID,
			}); err != nil {
				return res, fmt.Errorf("record refund: %w", err)
			}
			b.Charged = false
		}
		if actor.Role != ReporterWheel && b.ExternalBookingID != nil {
			res.cancelConsult = *b.ExternalBookingID
		}
	}

	b.Status = to
	if err := s.bookings.Update(ctx, b); err != nil {
		return res, fmt.Errorf("update booking: %w", err)
	}
	if err := s.appendHistory(ctx, b, actor, reason); err != nil {
		return res, err
	}
	return res, nil
}

func (s *Service) onAccept(ctx context.Context, b *Booking, actor Actor, res *transitionResult) error {
	if actor.Role != ReporterWheel && b.ExternalBookingID == nil {
		st, err := s.settings.Get(ctx, b.StaffUserID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if st != nil && st.WheelClinicianID != nil {
			consult, err := s.wheel.CreateConsult(ctx, wheel.ConsultRequest{
				ExternalID:     b.ID,
				ClinicianID:    *st.WheelClinicianID,
				PatientID:      b.ClientUserID,
				ProfessionType: b.ProfessionType,
				StartAt:        b.StartAt,
				EndAt:          b.EndAt,
				Timezone:       b.ClientTimezone,
			})
			if err != nil {
				return fmt.Errorf("%w: %v", ErrProvider, err)
			}
			if consult != nil {
				b.ExternalBookingID = &consult.ID
				res.createdConsult = consult.ID
			}
		}
	}
	if !b.Charged && b.PaymentMethodID != nil && b.ConsultRate > 0 {
		if err := s.payments.Create(ctx, &Payment{
			BookingID:       b.ID,
			Type:            PaymentCharge,
			Amount:          b.ConsultRate,
			PaymentMethodID: b.PaymentMethodID,
		}); err != nil {
			return fmt.Errorf("record charge: %w", err)
		}
		b.Charged = true
	}
	return nil
}

func (s *Service) appendHistory(ctx context.Context, b *Booking, actor Actor, reason string) error {
	if err := s.history.Append(ctx, &StatusChange{
		BookingID:    b.ID,
		Status:       b.Status,
		ReporterID:   actor.UserID,
		ReporterRole: actor.Role,
		Reason:       strPtr(reason),
	}); err != nil {
		return fmt.Errorf("append status history: %w", err)
	}
	return nil
}

// afterTransition publishes the change and cancels the remote consult when
// needed. Both are best effort.
func (s *Service) afterTransition(ctx context.Context, res *transitionResult) {
	b := res.booking
	s.logger.Info().
		Str("booking_id", b.ID.String()).
		Str("from", res.previous).
		Str("to", b.Status).
		Str("reporter_role", res.actor.Role).
		Msg("booking status changed")

	s.publish(ctx, events.RKBookingStatusChanged, s.bookingEvent(b, b.Status, res.previous, res.actor.Role, res.reason))

	if res.cancelConsult != "" {
		if err := s.wheel.CancelConsult(ctx, res.cancelConsult); err != nil {
			s.logger.Error().Err(err).
				Str("booking_id", b.ID.String()).
				Str("consult_id", res.cancelConsult).
				Msg("failed to cancel wheel consult")
		}
	}
}

// compensateConsult cancels a consult opened by a transaction that did not
// commit.
func (s *Service) compensateConsult(ctx context.Context, res *transitionResult) {
	if res == nil || res.createdConsult == "" {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := s.wheel.CancelConsult(ctx, res.createdConsult); err != nil {
		s.logger.Error().Err(err).
			Str("booking_id", res.booking.ID.String()).
			Str("consult_id", res.createdConsult).
			Msg("failed to cancel orphaned wheel consult")
		return
	}
	s.logger.Warn().
		Str("booking_id", res.booking.ID.String()).
		Str("consult_id", res.createdConsult).
		Msg("wheel consult canceled after rollback")
}

func (s *Service) bookingEvent(b *Booking, status, previous, role, reason string) events.BookingEvent {
	return events.BookingEvent{
		EventID:        events.NewEventID(),
		BookingID:      b.ID,
		ClientUserID:   b.ClientUserID,
		StaffUserID:    b.StaffUserID,
		ProfessionType: b.ProfessionType,
		Status:         status,
		PreviousStatus: previous,
		ReporterRole:   role,
		Reason:         reason,
		StartAt:        b.StartAt,
		EndAt:          b.EndAt,
		ClientTimezone: b.ClientTimezone,
		StaffTimezone:  b.StaffTimezone,
		OccurredAt:     s.now(),
	}
}
