//go:build integration

package integration

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bivex/entitlement-sync/internal/domain/entity"
	"github.com/bivex/entitlement-sync/internal/domain/service"
	"github.com/bivex/entitlement-sync/internal/domain/valueobject"
	infrarepo "github.com/bivex/entitlement-sync/internal/infrastructure/persistence/repository"
	"github.com/bivex/entitlement-sync/tests/testutil"
)

func TestPipelineConcurrentDeliveries(t *testing.T) {
	ctx := context.Background()

	dbContainer, err := testutil.SetupTestDBContainer(ctx, t)
	require.NoError(t, err)
	defer dbContainer.Teardown(ctx, t)

	subs := infrarepo.NewSubscriptionRepository(dbContainer.Pool)
	events := infrarepo.NewProcessedEventRepository(dbContainer.Pool)
	engine := service.NewReconciliationEngine(subs, zap.NewNop(), service.WithMaxAttempts(50))
	pipeline := service.NewEventPipeline(service.NewEventDeduplicator(events, time.Hour), engine, zap.NewNop())

	records := testutil.NewRecordFactory()
	factory := testutil.NewEventFactory()

	t.Run("out of order renewals converge on the newest", func(t *testing.T) {
		rec := records.Active(valueobject.PlatformStripe, valueobject.PlanMonthly, time.Hour)
		require.NoError(t, subs.Create(ctx, rec))

		base := time.Now().UTC().Truncate(time.Microsecond)
		const n = 8
		var g errgroup.Group
		for i := 0; i < n; i++ {
			ev := factory.For(rec, entity.EventRenewed, base.Add(time.Duration(i)*time.Minute))
			end := base.Add(time.Duration(i+30) * 24 * time.Hour)
			ev.PeriodEndAt = &end
			g.Go(func() error {
				_, err := pipeline.Ingest(ctx, ev)
				return err
			})
		}
		require.NoError(t, g.Wait())

		got, err := subs.GetByUserID(ctx, rec.UserID)
		require.NoError(t, err)
		assert.Equal(t, valueobject.StatusActive, got.Status)
		assert.True(t, base.Add(time.Duration(n-1+30)*24*time.Hour).Equal(*got.PeriodEndAt))
		assert.True(t, base.Add(time.Duration(n-1)*time.Minute).Equal(*got.LastEventAt))
	})

	t.Run("redelivered event is applied once", func(t *testing.T) {
		rec := records.Active(valueobject.PlatformApple, valueobject.PlanYearly, time.Hour)
		require.NoError(t, subs.Create(ctx, rec))

		ev := factory.For(rec, entity.EventRenewalFailed, time.Now().UTC().Truncate(time.Microsecond))
		var g errgroup.Group
		for i := 0; i < 5; i++ {
			g.Go(func() error {
				_, err := pipeline.Ingest(ctx, ev)
				return err
			})
		}
		require.NoError(t, g.Wait())

		got, err := subs.GetByUserID(ctx, rec.UserID)
		require.NoError(t, err)
		assert.Equal(t, valueobject.StatusAtRisk, got.Status)
		assert.Equal(t, int64(2), got.Version)

		result, err := pipeline.Ingest(ctx, ev)
		require.NoError(t, err)
		assert.Equal(t, service.OutcomeDuplicate, result.Outcome)
	})

	t.Run("cross platform events do not touch each other", func(t *testing.T) {
		stripeRec := records.Active(valueobject.PlatformStripe, valueobject.PlanMonthly, time.Hour)
		appleRec := records.Active(valueobject.PlatformApple, valueobject.PlanMonthly, time.Hour)
		require.NoError(t, subs.Create(ctx, stripeRec))
		require.NoError(t, subs.Create(ctx, appleRec))

		ev := factory.For(appleRec, entity.EventExpired, time.Now())
		ev.ExternalID = stripeRec.ExternalSubscriptionID
		ev.UserID = ""
		result, err := pipeline.Ingest(ctx, ev)
		require.NoError(t, err)
		assert.Equal(t, service.OutcomeOrphaned, result.Outcome, fmt.Sprintf("%+v", result))

		got, err := subs.GetByUserID(ctx, stripeRec.UserID)
		require.NoError(t, err)
		assert.Equal(t, valueobject.StatusActive, got.Status)
	})

	t.Run("sweep expires lapsed records", func(t *testing.T) {
		require.NoError(t, testutil.TruncateAll(ctx, dbContainer.Pool))
		lapsed := records.Lapsed(valueobject.StatusActive, time.Minute)
		require.NoError(t, subs.Create(ctx, lapsed))

		report, err := service.NewExpirySweeper(subs, engine, zap.NewNop(), 10).Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Expired)

		got, err := subs.GetByUserID(ctx, lapsed.UserID)
		require.NoError(t, err)
		assert.Equal(t, valueobject.StatusExpired, got.Status)
	})
}
