package rollup

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/vkovalenko/groomly/libs/db"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Apply increments the day's counter for the transition. Revenue accrues only
// on completion, the moment the money actually changed hands.
func (r *Repository) Apply(ctx context.Context, kind Kind, masterID int64, day time.Time, price float64) error {
	var booked, confirmed, cancelled, completed int
	var revenue float64
	switch kind {
	case KindBooked:
		booked = 1
	case KindConfirmed:
		confirmed = 1
	case KindCancelled:
		cancelled = 1
	case KindCompleted:
		completed = 1
		revenue = price
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO daily_stats
			(master_id, day, booked_count, confirmed_count, cancelled_count, completed_count, completed_revenue)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (master_id, day) DO UPDATE
		SET booked_count = daily_stats.booked_count + EXCLUDED.booked_count,
			confirmed_count = daily_stats.confirmed_count + EXCLUDED.confirmed_count,
			cancelled_count = daily_stats.cancelled_count + EXCLUDED.cancelled_count,
			completed_count = daily_stats.completed_count + EXCLUDED.completed_count,
			completed_revenue = daily_stats.completed_revenue + EXCLUDED.completed_revenue,
			updated_at = now()
	`, masterID, day, booked, confirmed, cancelled, completed, revenue)
	return err
}

// IsPremium reports whether the master has the paid plan. Unknown masters are
// simply not premium; the dashboard gate does not care why.
func (r *Repository) IsPremium(ctx context.Context, masterID int64) (bool, error) {
	var premium bool
	err := r.pool.QueryRow(ctx, `
		SELECT is_premium FROM masters WHERE telegram_id = $1
	`, masterID).Scan(&premium)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return premium, nil
}

type DayStats struct {
	Day       time.Time
	Booked    int
	Confirmed int
	Cancelled int
	Completed int
	Revenue   float64
}

func (r *Repository) Range(ctx context.Context, masterID int64, from, to time.Time) ([]DayStats, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT day, booked_count, confirmed_count, cancelled_count, completed_count, completed_revenue::float8
		FROM daily_stats
		WHERE master_id = $1 AND day >= $2 AND day <= $3
		ORDER BY day
	`, masterID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DayStats
	for rows.Next() {
		var d DayStats
		if err := rows.Scan(&d.Day, &d.Booked, &d.Confirmed, &d.Cancelled, &d.Completed, &d.Revenue); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}
