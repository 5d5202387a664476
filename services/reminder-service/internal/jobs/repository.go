package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/vkovalenko/groomly/libs/db"
)

// ReminderKind selects which sent-flag guards a send.
type ReminderKind string

const (
	Reminder5h ReminderKind = "5h"
	Reminder1h ReminderKind = "1h"
)

// Reminder is one confirmed appointment joined with everything a reminder
// message needs.
type Reminder struct {
	AppointmentID  int64
	MasterID       int64
	ClientID       int64
	ClientName     string
	PetName        string
	StartsAt       time.Time
	Reminder5hSent bool
	Reminder1hSent bool
	ServiceName    string
	SalonName      string
	Timezone       string
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListUpcomingConfirmed returns confirmed appointments starting in [from, to)
// that still have at least one reminder pending.
func (r *Repository) ListUpcomingConfirmed(ctx context.Context, from, to time.Time) ([]Reminder, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT a.id, a.master_id, a.client_id, a.client_name, a.pet_name, a.starts_at,
			a.reminder_5h_sent, a.reminder_1h_sent,
			COALESCE(s.name, ''), COALESCE(m.salon_name, ''), m.timezone
		FROM appointments a
		JOIN masters m ON m.telegram_id = a.master_id
		LEFT JOIN services s ON s.id = a.service_id
		WHERE a.status = 'confirmed'
			AND a.starts_at >= $1
			AND a.starts_at < $2
			AND (NOT a.reminder_5h_sent OR NOT a.reminder_1h_sent)
		ORDER BY a.starts_at
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Reminder
	for rows.Next() {
		var rem Reminder
		if err := rows.Scan(
			&rem.AppointmentID, &rem.MasterID, &rem.ClientID, &rem.ClientName, &rem.PetName, &rem.StartsAt,
			&rem.Reminder5hSent, &rem.Reminder1hSent,
			&rem.ServiceName, &rem.SalonName, &rem.Timezone,
		); err != nil {
			return nil, err
		}
		out = append(out, rem)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// SetReminderSent flips the flag only when it is still false, so a concurrent
// worker that already sent cannot be double-counted. Returns whether this call
// won the flip.
func (r *Repository) SetReminderSent(ctx context.Context, appointmentID int64, kind ReminderKind) (bool, error) {
	var column string
	switch kind {
	case Reminder5h:
		column = "reminder_5h_sent"
	case Reminder1h:
		column = "reminder_1h_sent"
	default:
		return false, fmt.Errorf("unknown reminder kind %q", kind)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET `+column+` = true
		WHERE id = $1 AND NOT `+column+`
	`, appointmentID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
