package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/vkovalenko/groomly/libs/db"
)

var (
	ErrDuplicateProviderEvent = errors.New("duplicate provider event")
	ErrMasterNotFound         = errors.New("master not found")
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// ProviderEvent is one raw webhook delivery. The (provider,
// provider_event_id) unique constraint makes replays harmless.
type ProviderEvent struct {
	Provider        string
	ProviderEventID string
	EventType       string
	Payload         []byte
}

// RecordEvent stores a provider event we observe but do not act on.
func (r *Repository) RecordEvent(ctx context.Context, evt ProviderEvent) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO billing_provider_events (provider, provider_event_id, event_type, payload)
		VALUES ($1, $2, $3, $4)
	`, evt.Provider, evt.ProviderEventID, evt.EventType, evt.Payload)
	return mapDuplicate(err)
}

// ApplyPremiumChange records the provider event and flips the master's
// premium flag in one transaction, so a replayed webhook can never apply the
// change twice.
func (r *Repository) ApplyPremiumChange(ctx context.Context, evt ProviderEvent, masterID int64, premium bool) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO billing_provider_events (provider, provider_event_id, event_type, payload)
		VALUES ($1, $2, $3, $4)
	`, evt.Provider, evt.ProviderEventID, evt.EventType, evt.Payload)
	if err != nil {
		return mapDuplicate(err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE masters
		SET is_premium = $2
		WHERE telegram_id = $1
	`, masterID, premium)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMasterNotFound
	}
	return tx.Commit(ctx)
}

func mapDuplicate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateProviderEvent
	}
	return err
}
