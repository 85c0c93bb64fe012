package telehealth

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type SettingsRepository interface {
	Upsert(ctx context.Context, s *StaffSettings) error
	Get(ctx context.Context, staffID uuid.UUID) (*StaffSettings, error)
	ListByProfession(ctx context.Context, profession string) ([]*StaffSettings, error)
}

type AvailabilityRepository interface {
	ReplaceWeekly(ctx context.Context, staffID uuid.UUID, slots []AvailabilitySlot) error
	ListWeekly(ctx context.Context, staffIDs []uuid.UUID) ([]AvailabilitySlot, error)
	CreateException(ctx context.Context, e *AvailabilityException) error
	ListExceptions(ctx context.Context, staffIDs []uuid.UUID, from, to string) ([]*AvailabilityException, error)
	DeleteException(ctx context.Context, staffID, id uuid.UUID) error
}

type QueueRepository interface {
	// Upsert stores q as the client's only queue request.
	Upsert(ctx context.Context, q *QueueRequest) error
	GetByClient(ctx context.Context, clientID uuid.UUID) (*QueueRequest, error)
	DeleteByClient(ctx context.Context, clientID uuid.UUID) error
	List(ctx context.Context, profession string, limit, offset int) ([]*QueueRequest, int, error)
	Next(ctx context.Context, profession string) (*QueueRequest, error)
	// DeleteExpired removes requests whose target date is before the
	// client's local date at now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type BookingRepository interface {
	// LockParticipants takes transaction-scoped advisory locks on each id.
	LockParticipants(ctx context.Context, ids ...uuid.UUID) error
	Create(ctx context.Context, b *Booking) error
	GetByID(ctx context.Context, id uuid.UUID) (*Booking, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Booking, error)
	GetByExternalID(ctx context.Context, externalID string) (*Booking, error)
	Update(ctx context.Context, b *Booking) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f BookingFilter, limit, offset int) ([]*Booking, int, error)
	// ListActive returns non-canceled bookings overlapping [from, to) where
	// any of userIDs is the staff member or the client.
	ListActive(ctx context.Context, userIDs []uuid.UUID, from, to time.Time) ([]*Booking, error)
	CountByStaffOnDate(ctx context.Context, staffIDs []uuid.UUID, targetDate string) (map[uuid.UUID]int, error)
	ListStalePending(ctx context.Context, now time.Time) ([]*Booking, error)
	ListDueReminders(ctx context.Context, now, until time.Time) ([]*Booking, error)
	MarkReminded(ctx context.Context, id uuid.UUID, at time.Time) error
}

// HistoryRepository is append-only.
type HistoryRepository interface {
	Append(ctx context.Context, h *StatusChange) error
	ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]*StatusChange, error)
}

type PaymentRepository interface {
	Create(ctx context.Context, p *Payment) error
	ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]*Payment, error)
}
