package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bivex/entitlement-sync/internal/domain/entity"
	domainErrors "github.com/bivex/entitlement-sync/internal/domain/errors"
	"github.com/bivex/entitlement-sync/internal/domain/valueobject"
)

const (
	pgUniqueViolation = "23505"

	constraintExternalID = "ux_subscription_records_platform_external"
	constraintPrimaryKey = "subscription_records_pkey"
)

const subscriptionColumns = `
	user_id, plan, status, platform, external_subscription_id, period_end_at,
	cancel_at_period_end, last_event_at, version, created_at, updated_at`

// SubscriptionRepositoryImpl implements SubscriptionRepository on PostgreSQL
type SubscriptionRepositoryImpl struct {
	db DBTX
}

// NewSubscriptionRepository creates a new subscription repository
func NewSubscriptionRepository(db DBTX) *SubscriptionRepositoryImpl {
	return &SubscriptionRepositoryImpl{db: db}
}

// GetByUserID retrieves the record for a user
func (r *SubscriptionRepositoryImpl) GetByUserID(ctx context.Context, userID string) (*entity.SubscriptionRecord, error) {
	query := `SELECT` + subscriptionColumns + `
		FROM subscription_records
		WHERE user_id = $1`
	return r.scanOne(r.db.QueryRow(ctx, query, userID))
}

// GetByExternalID retrieves the record joined to a platform subscription id
func (r *SubscriptionRepositoryImpl) GetByExternalID(ctx context.Context, platform valueobject.Platform, externalID string) (*entity.SubscriptionRecord, error) {
	query := `SELECT` + subscriptionColumns + `
		FROM subscription_records
		WHERE platform = $1 AND external_subscription_id = $2`
	return r.scanOne(r.db.QueryRow(ctx, query, string(platform), externalID))
}

// Create inserts a new record at version 1
func (r *SubscriptionRepositoryImpl) Create(ctx context.Context, record *entity.SubscriptionRecord) error {
	query := `
		INSERT INTO subscription_records (
			user_id, plan, status, platform, external_subscription_id, period_end_at,
			cancel_at_period_end, last_event_at, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, $9, $10)
	`
	_, err := r.db.Exec(ctx, query,
		record.UserID,
		string(record.Plan),
		string(record.Status),
		string(record.Platform),
		nullableString(record.ExternalSubscriptionID),
		record.PeriodEndAt,
		record.CancelAtPeriodEnd,
		record.LastEventAt,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		return mapWriteError(err)
	}
	return nil
}

// ConditionalUpdate writes next only if the stored version equals expectedVersion
func (r *SubscriptionRepositoryImpl) ConditionalUpdate(ctx context.Context, userID string, expectedVersion int64, next *entity.SubscriptionRecord) error {
	query := `
		UPDATE subscription_records
		SET plan = $3,
			status = $4,
			platform = $5,
			external_subscription_id = $6,
			period_end_at = $7,
			cancel_at_period_end = $8,
			last_event_at = $9,
			version = version + 1,
			updated_at = $10
		WHERE user_id = $1 AND version = $2
	`
	tag, err := r.db.Exec(ctx, query,
		userID,
		expectedVersion,
		string(next.Plan),
		string(next.Status),
		string(next.Platform),
		nullableString(next.ExternalSubscriptionID),
		next.PeriodEndAt,
		next.CancelAtPeriodEnd,
		next.LastEventAt,
		next.UpdatedAt,
	)
	if err != nil {
		return mapWriteError(err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrConcurrencyConflict
	}
	return nil
}

// ListExpiring lists records whose period ended before now and still grant access
func (r *SubscriptionRepositoryImpl) ListExpiring(ctx context.Context, now time.Time, limit int) ([]*entity.SubscriptionRecord, error) {
	query := `SELECT` + subscriptionColumns + `
		FROM subscription_records
		WHERE status IN ('active', 'at_risk', 'canceled')
		  AND period_end_at < $1
		ORDER BY period_end_at
		LIMIT $2`
	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring subscriptions: %w", err)
	}
	defer rows.Close()

	var records []*entity.SubscriptionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *SubscriptionRepositoryImpl) scanOne(row pgx.Row) (*entity.SubscriptionRecord, error) {
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domainErrors.ErrSubscriptionNotFound
	}
	return rec, err
}

func scanRecord(row pgx.Row) (*entity.SubscriptionRecord, error) {
	var (
		rec                    entity.SubscriptionRecord
		plan, status, platform string
		externalID             *string
	)
	err := row.Scan(
		&rec.UserID,
		&plan,
		&status,
		&platform,
		&externalID,
		&rec.PeriodEndAt,
		&rec.CancelAtPeriodEnd,
		&rec.LastEventAt,
		&rec.Version,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if rec.Plan, err = valueobject.NewPlanType(plan); err != nil {
		return nil, fmt.Errorf("subscription record %s: %w: %q", rec.UserID, err, plan)
	}
	if rec.Status, err = valueobject.NewSubscriptionStatus(status); err != nil {
		return nil, fmt.Errorf("subscription record %s: %w: %q", rec.UserID, err, status)
	}
	if rec.Platform, err = valueobject.NewPlatform(platform); err != nil {
		return nil, fmt.Errorf("subscription record %s: %w: %q", rec.UserID, err, platform)
	}
	if externalID != nil {
		rec.ExternalSubscriptionID = *externalID
	}
	return &rec, nil
}

// mapWriteError turns unique violations into domain errors
func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		switch pgErr.ConstraintName {
		case constraintExternalID:
			return domainErrors.ErrExternalIDTaken
		case constraintPrimaryKey:
			return domainErrors.ErrConcurrencyConflict
		}
	}
	return fmt.Errorf("failed to write subscription record: %w", err)
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
