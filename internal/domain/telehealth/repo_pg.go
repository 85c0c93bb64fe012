package telehealth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smartfuturesg/modobio-web-sub003/internal/platform/db"
)

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// =========== Staff Settings Repository ===========

type settingsRepoPG struct{ pool *pgxpool.Pool }

func NewSettingsRepoPG(pool *pgxpool.Pool) SettingsRepository { return &settingsRepoPG{pool: pool} }

func (r *settingsRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const settingsCols = `staff_user_id, timezone, auto_confirm, professions, consult_rate,
	wheel_clinician_id, created_at, updated_at`

func scanSettings(row pgx.Row) (*StaffSettings, error) {
	var s StaffSettings
	err := row.Scan(&s.StaffUserID, &s.Timezone, &s.AutoConfirm, &s.Professions, &s.ConsultRate,
		&s.WheelClinicianID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if s.Professions == nil {
		s.Professions = []string{}
	}
	return &s, nil
}

func (r *settingsRepoPG) Upsert(ctx context.Context, s *StaffSettings) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO telehealth_staff_settings (staff_user_id, timezone, auto_confirm, professions,
			consult_rate, wheel_clinician_id)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (staff_user_id) DO UPDATE SET
			timezone = EXCLUDED.timezone,
			auto_confirm = EXCLUDED.auto_confirm,
			professions = EXCLUDED.professions,
			consult_rate = EXCLUDED.consult_rate,
			wheel_clinician_id = EXCLUDED.wheel_clinician_id,
			updated_at = NOW()
		RETURNING created_at, updated_at`,
		s.StaffUserID, s.Timezone, s.AutoConfirm, s.Professions, s.ConsultRate, s.WheelClinicianID,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
}

func (r *settingsRepoPG) Get(ctx context.Context, staffID uuid.UUID) (*StaffSettings, error) {
	s, err := scanSettings(r.conn(ctx).QueryRow(ctx,
		`SELECT `+settingsCols+` FROM telehealth_staff_settings WHERE staff_user_id = $1`, staffID))
	return s, notFound(err, "staff settings")
}

func (r *settingsRepoPG) list(ctx context.Context, where string, arg interface{}) ([]*StaffSettings, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+settingsCols+` FROM telehealth_staff_settings WHERE `+where+` ORDER BY staff_user_id`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*StaffSettings
	for rows.Next() {
		s, err := scanSettings(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

func (r *settingsRepoPG) ListByProfession(ctx context.Context, profession string) ([]*StaffSettings, error) {
	return r.list(ctx, `$1 = ANY(professions)`, profession)
}

// =========== Availability Repository ===========

type availabilityRepoPG struct{ pool *pgxpool.Pool }

func NewAvailabilityRepoPG(pool *pgxpool.Pool) AvailabilityRepository {
	return &availabilityRepoPG{pool: pool}
}

func (r *availabilityRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

// ReplaceWeekly deletes and re-inserts the staff member's week. Callers wrap
// it in a transaction.
func (r *availabilityRepoPG) ReplaceWeekly(ctx context.Context, staffID uuid.UUID, slots []AvailabilitySlot) error {
	if _, err := r.conn(ctx).Exec(ctx, `DELETE FROM telehealth_staff_availability WHERE staff_user_id = $1`, staffID); err != nil {
		return err
	}
	if len(slots) == 0 {
		return nil
	}
	days := make([]int, len(slots))
	ids := make([]int, len(slots))
	for i, s := range slots {
		days[i] = s.DayOfWeek
		ids[i] = s.BookingWindowID
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO telehealth_staff_availability (staff_user_id, day_of_week, booking_window_id)
		SELECT $1, d, w FROM UNNEST($2::smallint[], $3::smallint[]) AS t(d, w)`,
		staffID, days, ids)
	return err
}

func (r *availabilityRepoPG) ListWeekly(ctx context.Context, staffIDs []uuid.UUID) ([]AvailabilitySlot, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT staff_user_id, day_of_week, booking_window_id
		FROM telehealth_staff_availability
		WHERE staff_user_id = ANY($1::uuid[])
		ORDER BY staff_user_id, day_of_week, booking_window_id`, uuidStrings(staffIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []AvailabilitySlot
	for rows.Next() {
		var s AvailabilitySlot
		if err := rows.Scan(&s.StaffUserID, &s.DayOfWeek, &s.BookingWindowID); err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

const exceptionCols = `id, staff_user_id, exception_date, exception_booking_window_id_start_time,
	exception_booking_window_id_end_time, is_busy, created_at`

func scanException(row pgx.Row) (*AvailabilityException, error) {
	var e AvailabilityException
	var date time.Time
	if err := row.Scan(&e.ID, &e.StaffUserID, &date, &e.BookingWindowIDStart,
		&e.BookingWindowIDEnd, &e.IsBusy, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.ExceptionDate = date.Format(DateLayout)
	e.StartTime, e.EndTime, _ = ClockRange(e.BookingWindowIDStart, e.BookingWindowIDEnd)
	return &e, nil
}

func (r *availabilityRepoPG) CreateException(ctx context.Context, e *AvailabilityException) error {
	date, err := parseDate(e.ExceptionDate)
	if err != nil {
		return err
	}
	e.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO telehealth_staff_availability_exceptions (id, staff_user_id, exception_date,
			exception_booking_window_id_start_time, exception_booking_window_id_end_time, is_busy)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at`,
		e.ID, e.StaffUserID, date, e.BookingWindowIDStart, e.BookingWindowIDEnd, e.IsBusy,
	).Scan(&e.CreatedAt)
}

func (r *availabilityRepoPG) ListExceptions(ctx context.Context, staffIDs []uuid.UUID, from, to string) ([]*AvailabilityException, error) {
	query := `SELECT ` + exceptionCols + ` FROM telehealth_staff_availability_exceptions
		WHERE staff_user_id = ANY($1::uuid[]) AND exception_date >= $2`
	fromDate, err := parseDate(from)
	if err != nil {
		return nil, err
	}
	args := []interface{}{uuidStrings(staffIDs), fromDate}
	if to != "" {
		toDate, err := parseDate(to)
		if err != nil {
			return nil, err
		}
		query += ` AND exception_date <= $3`
		args = append(args, toDate)
	}
	query += ` ORDER BY exception_date, exception_booking_window_id_start_time`

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*AvailabilityException
	for rows.Next() {
		e, err := scanException(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func (r *availabilityRepoPG) DeleteException(ctx context.Context, staffID, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM telehealth_staff_availability_exceptions WHERE id = $1 AND staff_user_id = $2`, id, staffID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("availability exception: %w", ErrNotFound)
	}
	return nil
}

// =========== Queue Repository ===========

type queueRepoPG struct{ pool *pgxpool.Pool }

func NewQueueRepoPG(pool *pgxpool.Pool) QueueRepository { return &queueRepoPG{pool: pool} }

func (r *queueRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const queueCols = `id, client_user_id, profession_type, target_date, priority, duration_minutes,
	timezone, payment_method_id, medical_gender, created_at`

const queueOrder = ` ORDER BY priority DESC, target_date ASC, created_at ASC`

func scanQueue(row pgx.Row) (*QueueRequest, error) {
	var q QueueRequest
	var date time.Time
	if err := row.Scan(&q.ID, &q.ClientUserID, &q.ProfessionType, &date, &q.Priority, &q.DurationMinutes,
		&q.Timezone, &q.PaymentMethodID, &q.MedicalGender, &q.CreatedAt); err != nil {
		return nil, err
	}
	q.TargetDate = date.Format(DateLayout)
	return &q, nil
}

func (r *queueRepoPG) Upsert(ctx context.Context, q *QueueRequest) error {
	date, err := parseDate(q.TargetDate)
	if err != nil {
		return err
	}
	q.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO telehealth_queue_client_pool (id, client_user_id, profession_type, target_date,
			priority, duration_minutes, timezone, payment_method_id, medical_gender)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (client_user_id) DO UPDATE SET
			id = EXCLUDED.id,
			profession_type = EXCLUDED.profession_type,
			target_date = EXCLUDED.target_date,
			priority = EXCLUDED.priority,
			duration_minutes = EXCLUDED.duration_minutes,
			timezone = EXCLUDED.timezone,
			payment_method_id = EXCLUDED.payment_method_id,
			medical_gender = EXCLUDED.medical_gender,
			created_at = NOW()
		RETURNING created_at`,
		q.ID, q.ClientUserID, q.ProfessionType, date, q.Priority, q.DurationMinutes,
		q.Timezone, q.PaymentMethodID, q.MedicalGender,
	).Scan(&q.CreatedAt)
}

func (r *queueRepoPG) GetByClient(ctx context.Context, clientID uuid.UUID) (*QueueRequest, error) {
	q, err := scanQueue(r.conn(ctx).QueryRow(ctx,
		`SELECT `+queueCols+` FROM telehealth_queue_client_pool WHERE client_user_id = $1`, clientID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoQueueRequest
	}
	return q, err
}

func (r *queueRepoPG) DeleteByClient(ctx context.Context, clientID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM telehealth_queue_client_pool WHERE client_user_id = $1`, clientID)
	return err
}

func (r *queueRepoPG) List(ctx context.Context, profession string, limit, offset int) ([]*QueueRequest, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM telehealth_queue_client_pool WHERE ($1 = '' OR profession_type = $1)`, profession,
	).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+queueCols+` FROM telehealth_queue_client_pool WHERE ($1 = '' OR profession_type = $1)`+
			queueOrder+` LIMIT $2 OFFSET $3`, profession, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*QueueRequest
	for rows.Next() {
		q, err := scanQueue(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, q)
	}
	return items, total, rows.Err()
}

func (r *queueRepoPG) Next(ctx context.Context, profession string) (*QueueRequest, error) {
	q, err := scanQueue(r.conn(ctx).QueryRow(ctx,
		`SELECT `+queueCols+` FROM telehealth_queue_client_pool WHERE ($1 = '' OR profession_type = $1)`+
			queueOrder+` LIMIT 1`, profession))
	return q, notFound(err, "queue")
}

func (r *queueRepoPG) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		DELETE FROM telehealth_queue_client_pool
		WHERE target_date < ($1::timestamptz AT TIME ZONE timezone)::date`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// =========== Booking Repository ===========

type bookingRepoPG struct{ pool *pgxpool.Pool }

func NewBookingRepoPG(pool *pgxpool.Pool) BookingRepository { return &bookingRepoPG{pool: pool} }

func (r *bookingRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const bookingCols = `id, client_user_id, staff_user_id, target_date, booking_window_id_start_time,
	booking_window_id_end_time, start_at, end_at, status, profession_type, duration_minutes,
	client_timezone, staff_timezone, consult_rate, payment_method_id, charged, external_booking_id,
	reminder_sent_at, created_at, updated_at`

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	var date time.Time
	if err := row.Scan(&b.ID, &b.ClientUserID, &b.StaffUserID, &date, &b.BookingWindowIDStart,
		&b.BookingWindowIDEnd, &b.StartAt, &b.EndAt, &b.Status, &b.ProfessionType, &b.DurationMinutes,
		&b.ClientTimezone, &b.StaffTimezone, &b.ConsultRate, &b.PaymentMethodID, &b.Charged, &b.ExternalBookingID,
		&b.ReminderSentAt, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	b.TargetDate = date.Format(DateLayout)
	return &b, nil
}

func (r *bookingRepoPG) queryBookings(ctx context.Context, sql string, args ...interface{}) ([]*Booking, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, b)
	}
	return items, rows.Err()
}

func (r *bookingRepoPG) LockParticipants(ctx context.Context, ids ...uuid.UUID) error {
	if db.TxFromContext(ctx) == nil {
		return fmt.Errorf("lock participants: no transaction on context")
	}
	sorted := append([]uuid.UUID(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return bytes.Compare(sorted[i][:], sorted[j][:]) < 0 })
	var prev uuid.UUID
	for i, id := range sorted {
		if i > 0 && id == prev {
			continue
		}
		prev = id
		if _, err := r.conn(ctx).Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, id.String()); err != nil {
			return fmt.Errorf("lock %s: %w", id, err)
		}
	}
	return nil
}

func (r *bookingRepoPG) Create(ctx context.Context, b *Booking) error {
	date, err := parseDate(b.TargetDate)
	if err != nil {
		return err
	}
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO telehealth_bookings (id, client_user_id, staff_user_id, target_date,
			booking_window_id_start_time, booking_window_id_end_time, start_at, end_at, status,
			profession_type, duration_minutes, client_timezone, staff_timezone, consult_rate,
			payment_method_id, charged, external_booking_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		RETURNING created_at, updated_at`,
		b.ID, b.ClientUserID, b.StaffUserID, date, b.BookingWindowIDStart, b.BookingWindowIDEnd,
		b.StartAt, b.EndAt, b.Status, b.ProfessionType, b.DurationMinutes, b.ClientTimezone,
		b.StaffTimezone, b.ConsultRate, b.PaymentMethodID, b.Charged, b.ExternalBookingID,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
}

func (r *bookingRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	b, err := scanBooking(r.conn(ctx).QueryRow(ctx, `SELECT `+bookingCols+` FROM telehealth_bookings WHERE id = $1`, id))
	return b, notFound(err, "booking")
}

func (r *bookingRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Booking, error) {
	b, err := scanBooking(r.conn(ctx).QueryRow(ctx,
		`SELECT `+bookingCols+` FROM telehealth_bookings WHERE id = $1 FOR UPDATE`, id))
	return b, notFound(err, "booking")
}

func (r *bookingRepoPG) GetByExternalID(ctx context.Context, externalID string) (*Booking, error) {
	b, err := scanBooking(r.conn(ctx).QueryRow(ctx,
		`SELECT `+bookingCols+` FROM telehealth_bookings WHERE external_booking_id = $1`, externalID))
	return b, notFound(err, "booking")
}

func (r *bookingRepoPG) Update(ctx context.Context, b *Booking) error {
	return r.conn(ctx).QueryRow(ctx, `
		UPDATE telehealth_bookings SET status=$2, charged=$3, external_booking_id=$4,
			reminder_sent_at=$5, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		b.ID, b.Status, b.Charged, b.ExternalBookingID, b.ReminderSentAt,
	).Scan(&b.UpdatedAt)
}

func (r *bookingRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM telehealth_bookings WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("booking: %w", ErrNotFound)
	}
	return nil
}

// bookingSearch builds the filtered dataset shared by the list and count
// queries.
func bookingSearch(f BookingFilter) *goqu.SelectDataset {
	ds := goqu.Dialect("postgres").From("telehealth_bookings").Prepared(true)
	var conds []goqu.Expression
	if f.ClientUserID != nil {
		conds = append(conds, goqu.C("client_user_id").Eq(f.ClientUserID.String()))
	}
	if f.StaffUserID != nil {
		conds = append(conds, goqu.C("staff_user_id").Eq(f.StaffUserID.String()))
	}
	if f.Status != "" {
		conds = append(conds, goqu.C("status").Eq(f.Status))
	}
	if f.From != nil {
		conds = append(conds, goqu.C("start_at").Gte(*f.From))
	}
	if f.To != nil {
		conds = append(conds, goqu.C("start_at").Lt(*f.To))
	}
	if len(conds) > 0 {
		ds = ds.Where(conds...)
	}
	return ds
}

func (r *bookingRepoPG) List(ctx context.Context, f BookingFilter, limit, offset int) ([]*Booking, int, error) {
	ds := bookingSearch(f)

	countSQL, countArgs, err := ds.Select(goqu.COUNT("*")).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build count query: %w", err)
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	listSQL, args, err := ds.Select(goqu.L(bookingCols)).
		Order(goqu.C("start_at").Desc(), goqu.C("id").Asc()).
		Limit(uint(limit)).
		Offset(uint(offset)).
		ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build list query: %w", err)
	}
	items, err := r.queryBookings(ctx, listSQL, args...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *bookingRepoPG) ListActive(ctx context.Context, userIDs []uuid.UUID, from, to time.Time) ([]*Booking, error) {
	return r.queryBookings(ctx, `
		SELECT `+bookingCols+` FROM telehealth_bookings
		WHERE status <> 'Canceled' AND start_at < $3 AND end_at > $2
			AND (staff_user_id = ANY($1::uuid[]) OR client_user_id = ANY($1::uuid[]))
		ORDER BY start_at`, uuidStrings(userIDs), from, to)
}

func (r *bookingRepoPG) CountByStaffOnDate(ctx context.Context, staffIDs []uuid.UUID, targetDate string) (map[uuid.UUID]int, error) {
	date, err := parseDate(targetDate)
	if err != nil {
		return nil, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT staff_user_id, COUNT(*) FROM telehealth_bookings
		WHERE staff_user_id = ANY($1::uuid[]) AND target_date = $2 AND status <> 'Canceled'
		GROUP BY staff_user_id`, uuidStrings(staffIDs), date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[uuid.UUID]int, len(staffIDs))
	for rows.Next() {
		var id uuid.UUID
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

func (r *bookingRepoPG) ListStalePending(ctx context.Context, now time.Time) ([]*Booking, error) {
	return r.queryBookings(ctx, `
		SELECT `+bookingCols+` FROM telehealth_bookings
		WHERE status = 'Pending' AND start_at <= $1
		ORDER BY start_at`, now)
}

func (r *bookingRepoPG) ListDueReminders(ctx context.Context, now, until time.Time) ([]*Booking, error) {
	return r.queryBookings(ctx, `
		SELECT `+bookingCols+` FROM telehealth_bookings
		WHERE status = 'Accepted' AND reminder_sent_at IS NULL AND start_at > $1 AND start_at <= $2
		ORDER BY start_at`, now, until)
}

func (r *bookingRepoPG) MarkReminded(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE telehealth_bookings SET reminder_sent_at = $2, updated_at = NOW() WHERE id = $1`, id, at)
	return err
}

// =========== History Repository ===========

type historyRepoPG struct{ pool *pgxpool.Pool }

func NewHistoryRepoPG(pool *pgxpool.Pool) HistoryRepository { return &historyRepoPG{pool: pool} }

func (r *historyRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

func (r *historyRepoPG) Append(ctx context.Context, h *StatusChange) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO telehealth_booking_status (booking_id, status, reporter_id, reporter_role, reason, created_at)
		VALUES ($1,$2,$3,$4,$5, clock_timestamp())
		RETURNING id, created_at`,
		h.BookingID, h.Status, h.ReporterID, h.ReporterRole, h.Reason,
	).Scan(&h.ID, &h.CreatedAt)
}

func (r *historyRepoPG) ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]*StatusChange, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, booking_id, status, reporter_id, reporter_role, reason, created_at
		FROM telehealth_booking_status WHERE booking_id = $1
		ORDER BY created_at ASC, id ASC`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*StatusChange
	for rows.Next() {
		var h StatusChange
		if err := rows.Scan(&h.ID, &h.BookingID, &h.Status, &h.ReporterID, &h.ReporterRole, &h.Reason, &h.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &h)
	}
	return items, rows.Err()
}

// =========== Payment Repository ===========

type paymentRepoPG struct{ pool *pgxpool.Pool }

func NewPaymentRepoPG(pool *pgxpool.Pool) PaymentRepository { return &paymentRepoPG{pool: pool} }

func (r *paymentRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

func (r *paymentRepoPG) Create(ctx context.Context, p *Payment) error {
	p.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO telehealth_booking_payments (id, booking_id, type, amount, payment_method_id)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at`,
		p.ID, p.BookingID, p.Type, p.Amount, p.PaymentMethodID,
	).Scan(&p.CreatedAt)
}

func (r *paymentRepoPG) ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]*Payment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, booking_id, type, amount, payment_method_id, created_at
		FROM telehealth_booking_payments WHERE booking_id = $1
		ORDER BY created_at`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.BookingID, &p.Type, &p.Amount, &p.PaymentMethodID, &p.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &p)
	}
	return items, rows.Err()
}
