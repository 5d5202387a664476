package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/vkovalenko/groomly/libs/db"
)

// FreeActiveServiceLimit caps the active catalog for non-premium masters.
const FreeActiveServiceLimit = 10

var (
	ErrNotFound     = errors.New("not found")
	ErrServiceLimit = errors.New("active service limit reached")
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

type MasterProfile struct {
	TelegramID  int64
	Username    string
	FullName    string
	SalonName   string
	Phone       string
	Address     string
	Description string
	AvatarURL   string
	Timezone    string
	IsPremium   bool
	CreatedAt   time.Time
}

// GetOrCreateMaster registers a master on first verified login. Username and
// full name come from the signed initData, so later logins refresh them.
func (r *Repository) GetOrCreateMaster(ctx context.Context, telegramID int64, username, fullName string) (MasterProfile, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO masters (telegram_id, username, full_name)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''))
		ON CONFLICT (telegram_id) DO UPDATE
		SET username = COALESCE(NULLIF(EXCLUDED.username, ''), masters.username),
			full_name = COALESCE(NULLIF(EXCLUDED.full_name, ''), masters.full_name)
	`, telegramID, username, fullName)
	if err != nil {
		return MasterProfile{}, err
	}
	return r.getMaster(ctx, telegramID)
}

func (r *Repository) getMaster(ctx context.Context, telegramID int64) (MasterProfile, error) {
	var p MasterProfile
	err := r.pool.QueryRow(ctx, `
		SELECT telegram_id, COALESCE(username, ''), COALESCE(full_name, ''), COALESCE(salon_name, ''),
			COALESCE(phone, ''), COALESCE(address, ''), COALESCE(description, ''), COALESCE(avatar_url, ''),
			timezone, is_premium, created_at
		FROM masters
		WHERE telegram_id = $1
	`, telegramID).Scan(
		&p.TelegramID, &p.Username, &p.FullName, &p.SalonName,
		&p.Phone, &p.Address, &p.Description, &p.AvatarURL,
		&p.Timezone, &p.IsPremium, &p.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return MasterProfile{}, ErrNotFound
	}
	if err != nil {
		return MasterProfile{}, err
	}
	return p, nil
}

type ProfileUpdate struct {
	SalonName   string
	FullName    string
	Phone       string
	Address     string
	Description string
	AvatarURL   string
	Timezone    string
}

func (r *Repository) UpdateMasterProfile(ctx context.Context, telegramID int64, u ProfileUpdate) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE masters
		SET salon_name = NULLIF($2, ''),
			full_name = NULLIF($3, ''),
			phone = NULLIF($4, ''),
			address = NULLIF($5, ''),
			description = NULLIF($6, ''),
			avatar_url = NULLIF($7, ''),
			timezone = $8
		WHERE telegram_id = $1
	`, telegramID, u.SalonName, u.FullName, u.Phone, u.Address, u.Description, u.AvatarURL, u.Timezone)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type Service struct {
	ID              int64
	MasterID        int64
	Name            string
	Description     string
	Price           float64
	DurationMinutes int
	IsActive        bool
	CreatedAt       time.Time
}

func (r *Repository) ListServices(ctx context.Context, masterID int64) ([]Service, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, master_id, name, COALESCE(description, ''), price::float8, duration_minutes, is_active, created_at
		FROM services
		WHERE master_id = $1
		ORDER BY id
	`, masterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Service
	for rows.Next() {
		var s Service
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

// CreateService inserts a new active service. The free-tier cap is enforced
// under a row lock on the master, so concurrent creates cannot slip past it.
func (r *Repository) CreateService(ctx context.Context, masterID int64, name, description string, price float64, durationMinutes int) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var isPremium bool
	err = tx.QueryRow(ctx, `
		SELECT is_premium FROM masters WHERE telegram_id = $1 FOR UPDATE
	`, masterID).Scan(&isPremium)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}

	if !isPremium {
		var active int
		if err := tx.QueryRow(ctx, `
			SELECT count(*) FROM services WHERE master_id = $1 AND is_active
		`, masterID).Scan(&active); err != nil {
			return 0, err
		}
		if active >= FreeActiveServiceLimit {
			return 0, ErrServiceLimit
		}
	}

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO services (master_id, name, description, price, duration_minutes)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5)
		RETURNING id
	`, masterID, name, description, price, durationMinutes).Scan(&id)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return id, nil
}

func (r *Repository) UpdateService(ctx context.Context, masterID, serviceID int64, name, description string, price float64, durationMinutes int) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE services
		SET name = $3, description = NULLIF($4, ''), price = $5, duration_minutes = $6
		WHERE id = $1 AND master_id = $2
	`, serviceID, masterID, name, description, price, durationMinutes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateService soft-deletes: history keeps referencing the row, and the
// service stops appearing in the public catalog and the availability math.
func (r *Repository) DeactivateService(ctx context.Context, masterID, serviceID int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE services
		SET is_active = false
		WHERE id = $1 AND master_id = $2 AND is_active
	`, serviceID, masterID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type WorkingHourRule struct {
	DayOfWeek   int
	StartMinute int
	EndMinute   int
	SlotMinutes int
}

func (r *Repository) ListWorkingHours(ctx context.Context, masterID int64) ([]WorkingHourRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT day_of_week, start_minute, end_minute, slot_minutes
		FROM working_hours
		WHERE master_id = $1
		ORDER BY day_of_week
	`, masterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WorkingHourRule
	for rows.Next() {
		var w WorkingHourRule
		if err := rows.Scan(&w.DayOfWeek, &w.StartMinute, &w.EndMinute, &w.SlotMinutes); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// ReplaceWorkingHours swaps the whole weekly schedule in one transaction, so
// readers never observe a half-updated week.
func (r *Repository) ReplaceWorkingHours(ctx context.Context, masterID int64, rules []WorkingHourRule) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM working_hours WHERE master_id = $1`, masterID); err != nil {
		return err
	}
	for _, rule := range rules {
		if _, err := tx.Exec(ctx, `
			INSERT INTO working_hours (master_id, day_of_week, start_minute, end_minute, slot_minutes)
			VALUES ($1, $2, $3, $4, $5)
		`, masterID, rule.DayOfWeek, rule.StartMinute, rule.EndMinute, rule.SlotMinutes); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// IsMasterPremium is consulted before persisting schedule granularity.
func (r *Repository) IsMasterPremium(ctx context.Context, masterID int64) (bool, error) {
	var isPremium bool
	err := r.pool.QueryRow(ctx, `
		SELECT is_premium FROM masters WHERE telegram_id = $1
	`, masterID).Scan(&isPremium)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotFound
	}
	return isPremium, err
}
