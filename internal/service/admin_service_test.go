package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/spencook/subscriptions-reference-app-sub001/internal/domain"
	"github.com/spencook/subscriptions-reference-app-sub001/internal/infra/postgresql/migrations"
	"github.com/spencook/subscriptions-reference-app-sub001/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newAdminService(t *testing.T) (*AdminService, *repository.GormTrackerRepo, *repository.GormJobRepo) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, migrations.Migrate(db))

	trackers := repository.NewGormTrackerRepo(db)
	jobs := repository.NewGormJobRepo(db)
	svc, err := NewAdminService(trackers, jobs, nil)
	require.NoError(t, err)
	return svc, trackers, jobs
}

func TestAdminServiceCompleteTracker(t *testing.T) {
	t.Parallel()

	svc, trackers, _ := newAdminService(t)
	ctx := context.Background()

	tracker, err := trackers.FindOrCreate(ctx, domain.TrackerKey{
		Shop:              "shop-one.myshopify.com",
		ContractID:        "c-1",
		BillingCycleIndex: 1,
		FailureReason:     "INSUFFICIENT_FUNDS",
	})
	require.NoError(t, err)

	completed, err := svc.CompleteTracker(ctx, tracker.ID)
	require.NoError(t, err)
	require.NotNil(t, completed.CompletedAt)

	_, err = svc.CompleteTracker(ctx, tracker.ID)
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = svc.CompleteTracker(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.CompleteTracker(ctx, " ")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestAdminServiceListTrackersFiltersOpen(t *testing.T) {
	t.Parallel()

	svc, trackers, _ := newAdminService(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		_, err := trackers.FindOrCreate(ctx, domain.TrackerKey{
			Shop:              "shop-one.myshopify.com",
			ContractID:        fmt.Sprintf("c-%d", i),
			BillingCycleIndex: 1,
			FailureReason:     "INSUFFICIENT_FUNDS",
		})
		require.NoError(t, err)
	}
	listed, total, err := svc.ListTrackers(ctx, repository.TrackerListParams{Shop: " shop-one.myshopify.com "})
	require.NoError(t, err)
	require.EqualValues(t, 3, total)

	_, err = svc.CompleteTracker(ctx, listed[0].ID)
	require.NoError(t, err)

	open := true
	openTrackers, openTotal, err := svc.ListTrackers(ctx, repository.TrackerListParams{Shop: "shop-one.myshopify.com", Open: &open})
	require.NoError(t, err)
	assert.EqualValues(t, 2, openTotal)
	for _, tracker := range openTrackers {
		assert.Nil(t, tracker.CompletedAt)
	}

	got, err := svc.GetTracker(ctx, listed[1].ID)
	require.NoError(t, err)
	assert.Equal(t, listed[1].ContractID, got.ContractID)
}

func TestAdminServiceListJobs(t *testing.T) {
	t.Parallel()

	svc, _, jobs := newAdminService(t)
	ctx := context.Background()

	rebill, err := domain.NewRebillJob("shop-one.myshopify.com", "c-1", testOriginTime)
	require.NoError(t, err)
	require.NoError(t, jobs.Create(ctx, &rebill))

	inventory := domain.NewInventoryMerchantNotificationJob("shop-one.myshopify.com")
	require.NoError(t, jobs.Create(ctx, &inventory))
	require.NoError(t, jobs.MarkFailed(ctx, inventory.ID, "boom"))

	failed := domain.JobStatusFailed
	listed, total, err := svc.ListJobs(ctx, repository.JobListParams{Status: &failed})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	assert.Equal(t, inventory.ID, listed[0].ID)

	got, err := svc.GetJob(ctx, rebill.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobKindRebill, got.Kind)

	_, err = svc.GetJob(ctx, "")
	assert.ErrorIs(t, err, domain.ErrValidation)
}
