package repository

import (
	"context"
	"fmt"
	"time"
)

// ProcessedEventRepositoryImpl implements ProcessedEventRepository on PostgreSQL
type ProcessedEventRepositoryImpl struct {
	db  DBTX
	now func() time.Time
}

// NewProcessedEventRepository creates a new processed event repository
func NewProcessedEventRepository(db DBTX) *ProcessedEventRepositoryImpl {
	return &ProcessedEventRepositoryImpl{db: db, now: time.Now}
}

// Exists reports whether the key was marked and has not expired
func (r *ProcessedEventRepositoryImpl) Exists(ctx context.Context, key string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM processed_events WHERE event_key = $1 AND expires_at > $2)`
	var exists bool
	if err := r.db.QueryRow(ctx, query, key, r.now()).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check processed event: %w", err)
	}
	return exists, nil
}

// Mark records the key; re-marking extends the retention window
func (r *ProcessedEventRepositoryImpl) Mark(ctx context.Context, key string, ttl time.Duration) error {
	now := r.now()
	query := `
		INSERT INTO processed_events (event_key, processed_at, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_key) DO UPDATE SET expires_at = EXCLUDED.expires_at
	`
	if _, err := r.db.Exec(ctx, query, key, now, now.Add(ttl)); err != nil {
		return fmt.Errorf("failed to mark processed event: %w", err)
	}
	return nil
}

// Purge deletes keys that expired before the given time
func (r *ProcessedEventRepositoryImpl) Purge(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM processed_events WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge processed events: %w", err)
	}
	return tag.RowsAffected(), nil
}
