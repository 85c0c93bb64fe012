package telehealth

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/smartfuturesg/modobio-web-sub003/internal/platform/auth"
)

var transitions = map[string]map[string]bool{
	StatusPending: {
		StatusAccepted: true,
		StatusCanceled: true,
	},
	StatusAccepted: {
		StatusInProgress:     true,
		StatusDocumentReview: true,
		StatusCompleted:      true,
		StatusCanceled:       true,
	},
	StatusInProgress: {
		StatusDocumentReview: true,
		StatusCompleted:      true,
		StatusCanceled:       true,
	},
	StatusDocumentReview: {
		StatusCompleted: true,
	},
	StatusCompleted: {},
	StatusCanceled:  {},
}

// ValidStatus reports whether s is a known booking status.
func ValidStatus(s string) bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to string) bool {
	return transitions[from][to]
}

// IsTerminal reports whether no transition leaves s.
func IsTerminal(s string) bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// Actor is whoever drives a status change, resolved relative to the booking.
type Actor struct {
	UserID *uuid.UUID
	Role   string
}

var (
	SystemActor = Actor{Role: ReporterSystem}
	WheelActor  = Actor{Role: ReporterWheel}
)

// ActorFor resolves the principal's role on b. Admin wins over participant
// roles. Non-participants are forbidden.
func ActorFor(p *auth.Principal, b *Booking) (Actor, error) {
	if p == nil {
		return Actor{}, ErrForbidden
	}
	id := p.UserID
	switch {
	case p.IsAdmin():
		return Actor{UserID: &id, Role: ReporterAdmin}, nil
	case p.HasRole(auth.RoleSystem):
		return Actor{UserID: &id, Role: ReporterSystem}, nil
	case id == b.StaffUserID && p.HasRole(auth.RoleStaff):
		return Actor{UserID: &id, Role: ReporterStaff}, nil
	case id == b.ClientUserID:
		return Actor{UserID: &id, Role: ReporterClient}, nil
	}
	return Actor{}, fmt.Errorf("%w: not a participant of booking %s", ErrForbidden, b.ID)
}

// CheckTransition validates moving b to status `to` on behalf of actor.
func CheckTransition(actor Actor, b *Booking, to string) error {
	if !ValidStatus(to) {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, to)
	}
	if b.Status == to {
		return ErrNoStatusChange
	}
	if actor.Role == ReporterClient {
		if to != StatusCanceled {
			return fmt.Errorf("%w: clients may only cancel bookings", ErrForbidden)
		}
		if b.Status != StatusPending && b.Status != StatusAccepted {
			return fmt.Errorf("%w: clients may only cancel pending or accepted bookings", ErrInvalidTransition)
		}
	}
	if !CanTransition(b.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, b.Status, to)
	}
	return nil
}
