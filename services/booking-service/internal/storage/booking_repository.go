package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/vkovalenko/groomly/libs/db"
	"github.com/vkovalenko/groomly/services/booking-service/internal/model"
	"github.com/vkovalenko/groomly/services/booking-service/internal/outbox"
)

type BookingRepository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewBookingRepository(pool *db.Pool, outboxRepo *outbox.Repository) *BookingRepository {
	return &BookingRepository{pool: pool, outbox: outboxRepo}
}

// BusyInterval is an existing booking expanded to the duration of its own
// service. Unresolvable durations (service row gone) default to 60 minutes.
type BusyInterval struct {
	StartsAt        time.Time
	DurationMinutes int
}

// ListBusyIntervals returns the non-cancelled appointments whose start falls
// in [dayStartUTC, dayEndUTC), sorted ascending so the availability scan can
// run with a single forward cursor. Pending rows block the slot too.
func (r *BookingRepository) ListBusyIntervals(ctx context.Context, masterID int64, dayStartUTC, dayEndUTC time.Time) ([]BusyInterval, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT a.starts_at, COALESCE(s.duration_minutes, 60)
		FROM appointments a
		LEFT JOIN services s ON s.id = a.service_id
		WHERE a.master_id = $1
			AND a.status <> 'cancelled'
			AND a.starts_at >= $2
			AND a.starts_at < $3
		ORDER BY a.starts_at
	`, masterID, dayStartUTC, dayEndUTC)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BusyInterval
	for rows.Next() {
		var b BusyInterval
		if err := rows.Scan(&b.StartsAt, &b.DurationMinutes); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// CreateAppointment performs the single atomic insert that decides a booking
// race, and records the lifecycle event in the same transaction. The
// uq_appointments_slot partial unique index on (master_id, starts_at) over
// non-cancelled rows is the serialization point; a 23505 from it surfaces
// through IsConflict. There is deliberately no pre-check here: the
// availability read is advisory only.
func (r *BookingRepository) CreateAppointment(ctx context.Context, appt *model.Appointment, evt outbox.Event) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO appointments
			(master_id, service_id, client_id, client_username, client_name, client_phone,
			pet_name, pet_breed, comment, starts_at, status, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`, appt.MasterID, appt.ServiceID, appt.ClientID, appt.ClientUsername, appt.ClientName,
		appt.ClientPhone, appt.PetName, appt.PetBreed, appt.Comment, appt.StartsAt,
		appt.Status, appt.IdempotencyKey).Scan(&id)
	if err != nil {
		return 0, err
	}

	if err := r.outbox.Insert(ctx, tx, evt); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return id, nil
}

func (r *BookingRepository) GetAppointment(ctx context.Context, masterID, appointmentID int64) (model.Appointment, error) {
	var a model.Appointment
	err := r.pool.QueryRow(ctx, `
		SELECT a.id, a.master_id, a.service_id, a.client_id, COALESCE(a.client_username, ''),
			a.client_name, a.client_phone, a.pet_name, COALESCE(a.pet_breed, ''), COALESCE(a.comment, ''),
			a.starts_at, a.status, a.reminder_5h_sent, a.reminder_1h_sent, a.idempotency_key, a.created_at,
			COALESCE(s.name, ''), COALESCE(s.price::float8, 0)
		FROM appointments a
		LEFT JOIN services s ON s.id = a.service_id
		WHERE a.id = $1 AND a.master_id = $2
	`, appointmentID, masterID).Scan(
		&a.ID, &a.MasterID, &a.ServiceID, &a.ClientID, &a.ClientUsername,
		&a.ClientName, &a.ClientPhone, &a.PetName, &a.PetBreed, &a.Comment,
		&a.StartsAt, &a.Status, &a.Reminder5hSent, &a.Reminder1hSent, &a.IdempotencyKey, &a.CreatedAt,
		&a.ServiceName, &a.ServicePrice,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	return a, nil
}

func (r *BookingRepository) ListByMaster(ctx context.Context, masterID int64, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT a.id, a.master_id, a.service_id, a.client_id, COALESCE(a.client_username, ''),
			a.client_name, a.client_phone, a.pet_name, COALESCE(a.pet_breed, ''), COALESCE(a.comment, ''),
			a.starts_at, a.status, a.reminder_5h_sent, a.reminder_1h_sent, a.idempotency_key, a.created_at,
			COALESCE(s.name, ''), COALESCE(s.price::float8, 0)
		FROM appointments a
		LEFT JOIN services s ON s.id = a.service_id
		WHERE a.master_id = $1
		ORDER BY a.starts_at
		LIMIT $2
	`, masterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Appointment
	for rows.Next() {
		var a model.Appointment
		if err := rows.Scan(
			&a.ID, &a.MasterID, &a.ServiceID, &a.ClientID, &a.ClientUsername,
			&a.ClientName, &a.ClientPhone, &a.PetName, &a.PetBreed, &a.Comment,
			&a.StartsAt, &a.Status, &a.Reminder5hSent, &a.Reminder1hSent, &a.IdempotencyKey, &a.CreatedAt,
			&a.ServiceName, &a.ServicePrice,
		); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

var statusTransitions = map[string][]string{
	model.StatusConfirmed: {model.StatusPending},
	model.StatusCancelled: {model.StatusPending, model.StatusConfirmed},
	model.StatusCompleted: {model.StatusConfirmed},
}

var ErrInvalidTransition = errors.New("invalid status transition")

// UpdateStatus moves an appointment owned by masterID into newStatus and
// records the lifecycle event in the same transaction. The allowed-from set is
// enforced in the WHERE clause so a stale client cannot, say, confirm a
// cancelled appointment.
func (r *BookingRepository) UpdateStatus(ctx context.Context, masterID, appointmentID int64, newStatus string, evt outbox.Event) error {
	allowedFrom, ok := statusTransitions[newStatus]
	if !ok {
		return ErrInvalidTransition
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE appointments
		SET status = $3
		WHERE id = $1 AND master_id = $2 AND status = ANY($4)
	`, appointmentID, masterID, newStatus, allowedFrom)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}

	if err := r.outbox.Insert(ctx, tx, evt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// IsConflict reports a Postgres unique violation (23505), i.e. the slot lost
// a booking race.
func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
