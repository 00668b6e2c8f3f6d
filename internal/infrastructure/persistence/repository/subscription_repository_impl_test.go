package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bivex/entitlement-sync/internal/domain/entity"
	domainErrors "github.com/bivex/entitlement-sync/internal/domain/errors"
	"github.com/bivex/entitlement-sync/internal/domain/valueobject"
)

var recordColumns = []string{
	"user_id", "plan", "status", "platform", "external_subscription_id", "period_end_at",
	"cancel_at_period_end", "last_event_at", "version", "created_at", "updated_at",
}

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }

func TestSubscriptionRepository_GetByExternalID(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	end := now.Add(30 * 24 * time.Hour)
	rows := pgxmock.NewRows(recordColumns).AddRow(
		"user-1", "monthly", "active", "stripe", strPtr("sub_1"), timePtr(end),
		false, timePtr(now), int64(3), now, now,
	)
	pool.ExpectQuery("FROM subscription_records").
		WithArgs("stripe", "sub_1").
		WillReturnRows(rows)

	repo := NewSubscriptionRepository(pool)
	rec, err := repo.GetByExternalID(context.Background(), valueobject.PlatformStripe, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", rec.UserID)
	assert.Equal(t, valueobject.PlanMonthly, rec.Plan)
	assert.Equal(t, valueobject.StatusActive, rec.Status)
	assert.Equal(t, "sub_1", rec.ExternalSubscriptionID)
	assert.Equal(t, int64(3), rec.Version)
	assert.True(t, end.Equal(*rec.PeriodEndAt))
	require.NoError(t, pool.ExpectationsWereMet())
}

func TestSubscriptionRepository_GetByUserID_UnknownStatus(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	rows := pgxmock.NewRows(recordColumns).AddRow(
		"user-1", "monthly", "suspended", "stripe", strPtr("sub_1"), timePtr(now),
		false, timePtr(now), int64(1), now, now,
	)
	pool.ExpectQuery("FROM subscription_records").
		WithArgs("user-1").
		WillReturnRows(rows)

	repo := NewSubscriptionRepository(pool)
	_, err = repo.GetByUserID(context.Background(), "user-1")
	assert.ErrorIs(t, err, valueobject.ErrInvalidSubscriptionStatus)
	assert.ErrorContains(t, err, "suspended")
	require.NoError(t, pool.ExpectationsWereMet())
}

func TestSubscriptionRepository_GetByUserID_NotFound(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	pool.ExpectQuery("FROM subscription_records").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows(recordColumns))

	repo := NewSubscriptionRepository(pool)
	_, err = repo.GetByUserID(context.Background(), "missing")
	assert.ErrorIs(t, err, domainErrors.ErrSubscriptionNotFound)
	require.NoError(t, pool.ExpectationsWereMet())
}

func TestSubscriptionRepository_ConditionalUpdate(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	next := &entity.SubscriptionRecord{
		UserID:                 "user-1",
		Plan:                   valueobject.PlanMonthly,
		Status:                 valueobject.StatusAtRisk,
		Platform:               valueobject.PlatformStripe,
		ExternalSubscriptionID: "sub_1",
		PeriodEndAt:            timePtr(now.Add(time.Hour)),
		LastEventAt:            timePtr(now),
		UpdatedAt:              now,
	}

	t.Run("version matches", func(t *testing.T) {
		pool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer pool.Close()

		pool.ExpectExec("UPDATE subscription_records").
			WithArgs("user-1", int64(2), "monthly", "at_risk", "stripe", strPtr("sub_1"),
				next.PeriodEndAt, false, next.LastEventAt, now).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		repo := NewSubscriptionRepository(pool)
		require.NoError(t, repo.ConditionalUpdate(context.Background(), "user-1", 2, next))
		require.NoError(t, pool.ExpectationsWereMet())
	})

	t.Run("version moved", func(t *testing.T) {
		pool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer pool.Close()

		pool.ExpectExec("UPDATE subscription_records").
			WithArgs("user-1", int64(2), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		repo := NewSubscriptionRepository(pool)
		err = repo.ConditionalUpdate(context.Background(), "user-1", 2, next)
		assert.ErrorIs(t, err, domainErrors.ErrConcurrencyConflict)
	})
}

func TestSubscriptionRepository_Create_UniqueViolations(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	rec := &entity.SubscriptionRecord{
		UserID:                 "user-2",
		Plan:                   valueobject.PlanMonthly,
		Status:                 valueobject.StatusActive,
		Platform:               valueobject.PlatformStripe,
		ExternalSubscriptionID: "sub_1",
		PeriodEndAt:            timePtr(now.Add(time.Hour)),
		CreatedAt:              now,
		UpdatedAt:              now,
	}

	tests := []struct {
		name       string
		constraint string
		want       error
	}{
		{name: "external id taken", constraint: "ux_subscription_records_platform_external", want: domainErrors.ErrExternalIDTaken},
		{name: "user already has record", constraint: "subscription_records_pkey", want: domainErrors.ErrConcurrencyConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer pool.Close()

			pool.ExpectExec("INSERT INTO subscription_records").
				WithArgs("user-2", "monthly", "active", "stripe", strPtr("sub_1"), rec.PeriodEndAt,
					false, (*time.Time)(nil), now, now).
				WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: tt.constraint})

			repo := NewSubscriptionRepository(pool)
			err = repo.Create(context.Background(), rec)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSubscriptionRepository_ListExpiring(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	yesterday := now.Add(-24 * time.Hour)
	rows := pgxmock.NewRows(recordColumns).
		AddRow("user-1", "monthly", "active", "stripe", strPtr("sub_1"), timePtr(yesterday),
			false, (*time.Time)(nil), int64(1), now, now).
		AddRow("user-2", "yearly", "canceled", "apple", strPtr("1000"), timePtr(yesterday),
			true, timePtr(yesterday), int64(5), now, now)
	pool.ExpectQuery("FROM subscription_records").WithArgs(now, 100).WillReturnRows(rows)

	repo := NewSubscriptionRepository(pool)
	records, err := repo.ListExpiring(context.Background(), now, 100)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, valueobject.PlatformApple, records[1].Platform)
	assert.True(t, records[1].CancelAtPeriodEnd)
	assert.Nil(t, records[0].LastEventAt)
}

func TestProcessedEventRepository(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	repo := NewProcessedEventRepository(pool)
	repo.now = func() time.Time { return now }

	pool.ExpectQuery("SELECT EXISTS").WithArgs("stripe:evt_1", now).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	pool.ExpectExec("INSERT INTO processed_events").WithArgs("stripe:evt_1", now, now.Add(time.Hour)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	pool.ExpectExec("DELETE FROM processed_events").WithArgs(now).
		WillReturnResult(pgxmock.NewResult("DELETE", 7))

	exists, err := repo.Exists(context.Background(), "stripe:evt_1")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, repo.Mark(context.Background(), "stripe:evt_1", time.Hour))

	n, err := repo.Purge(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	require.NoError(t, pool.ExpectationsWereMet())
}

func TestProcessedEventRepository_ExistsError(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	pool.ExpectQuery("SELECT EXISTS").WillReturnError(errors.New("conn reset"))

	_, err = NewProcessedEventRepository(pool).Exists(context.Background(), "k")
	assert.Error(t, err)
}
