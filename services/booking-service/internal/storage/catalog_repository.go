package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/vkovalenko/groomly/libs/db"
	"github.com/vkovalenko/groomly/services/booking-service/internal/model"
)

// CatalogRepository serves the public read surface: master profiles, active
// service catalogs and the weekly schedule skeleton.
type CatalogRepository struct {
	pool *db.Pool
}

func NewCatalogRepository(pool *db.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

func (r *CatalogRepository) GetMaster(ctx context.Context, masterID int64) (model.Master, error) {
	var m model.Master
	err := r.pool.QueryRow(ctx, `
		SELECT telegram_id, COALESCE(username, ''), COALESCE(full_name, ''), COALESCE(salon_name, ''),
			COALESCE(phone, ''), COALESCE(address, ''), COALESCE(description, ''), COALESCE(avatar_url, ''),
			timezone, is_premium, created_at
		FROM masters
		WHERE telegram_id = $1
	`, masterID).Scan(
		&m.TelegramID,
		&m.Username,
		&m.FullName,
		&m.SalonName,
		&m.Phone,
		&m.Address,
		&m.Description,
		&m.AvatarURL,
		&m.Timezone,
		&m.IsPremium,
		&m.CreatedAt,
	)
	if err != nil {
		return model.Master{}, err
	}
	return m, nil
}

func (r *CatalogRepository) ListActiveServices(ctx context.Context, masterID int64) ([]model.Service, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, master_id, name, COALESCE(description, ''), price::float8, duration_minutes, is_active, created_at
		FROM services
		WHERE master_id = $1 AND is_active
		ORDER BY id
	`, masterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Service
	for rows.Next() {
		var s model.Service
		if err := rows.Scan(&s.ID, &s.MasterID, &s.Name, &s.Description, &s.Price, &s.DurationMinutes, &s.IsActive, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// GetActiveService resolves a service only when it is active and owned by the
// given master. Booking and availability both re-validate ownership here
// instead of trusting ids from the request body.
func (r *CatalogRepository) GetActiveService(ctx context.Context, masterID, serviceID int64) (model.Service, error) {
	var s model.Service
	err := r.pool.QueryRow(ctx, `
		SELECT id, master_id, name, COALESCE(description, ''), price::float8, duration_minutes, is_active, created_at
		FROM services
		WHERE id = $1 AND master_id = $2 AND is_active
	`, serviceID, masterID).Scan(&s.ID, &s.MasterID, &s.Name, &s.Description, &s.Price, &s.DurationMinutes, &s.IsActive, &s.CreatedAt)
	if err != nil {
		return model.Service{}, err
	}
	return s, nil
}

func (r *CatalogRepository) ListWorkingHours(ctx context.Context, masterID int64) ([]model.WorkingHourRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, master_id, day_of_week, start_minute, end_minute, slot_minutes
		FROM working_hours
		WHERE master_id = $1
		ORDER BY day_of_week
	`, masterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.WorkingHourRule
	for rows.Next() {
		var w model.WorkingHourRule
		if err := rows.Scan(&w.ID, &w.MasterID, &w.DayOfWeek, &w.StartMinute, &w.EndMinute, &w.SlotMinutes); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// GetWorkingHourRule returns the authoritative rule for one ISO weekday.
// The (master_id, day_of_week) unique constraint keeps it single.
func (r *CatalogRepository) GetWorkingHourRule(ctx context.Context, masterID int64, isoWeekday int) (model.WorkingHourRule, error) {
	var w model.WorkingHourRule
	err := r.pool.QueryRow(ctx, `
		SELECT id, master_id, day_of_week, start_minute, end_minute, slot_minutes
		FROM working_hours
		WHERE master_id = $1 AND day_of_week = $2
	`, masterID, isoWeekday).Scan(&w.ID, &w.MasterID, &w.DayOfWeek, &w.StartMinute, &w.EndMinute, &w.SlotMinutes)
	if err != nil {
		return model.WorkingHourRule{}, err
	}
	return w, nil
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
