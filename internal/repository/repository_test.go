package repository_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

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

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, migrations.Migrate(db))
	return db
}

func testKey(reason string) domain.TrackerKey {
	return domain.TrackerKey{
		Shop:              "shop-one.myshopify.com",
		ContractID:        "gid://shopify/SubscriptionContract/1",
		BillingCycleIndex: 2,
		FailureReason:     reason,
	}
}

func TestTrackerRepoFindOrCreateReturnsSameRow(t *testing.T) {
	t.Parallel()

	repo := repository.NewGormTrackerRepo(newTestDB(t))
	ctx := context.Background()

	first, err := repo.FindOrCreate(ctx, testKey("INSUFFICIENT_FUNDS"))
	require.NoError(t, err)
	second, err := repo.FindOrCreate(ctx, testKey("INSUFFICIENT_FUNDS"))
	require.NoError(t, err)
	other, err := repo.FindOrCreate(ctx, testKey("PAYMENT_METHOD_DECLINED"))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.NotEqual(t, first.ID, other.ID)
	assert.Nil(t, first.CompletedAt)

	_, total, err := repo.List(ctx, repository.TrackerListParams{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
}

func TestTrackerRepoFindOrCreateConcurrent(t *testing.T) {
	t.Parallel()

	repo := repository.NewGormTrackerRepo(newTestDB(t))
	ctx := context.Background()

	ids := make([]string, 8)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tracker, err := repo.FindOrCreate(ctx, testKey("INSUFFICIENT_FUNDS"))
			if err == nil {
				ids[i] = tracker.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestTrackerRepoFindOrCreateValidatesKey(t *testing.T) {
	t.Parallel()

	repo := repository.NewGormTrackerRepo(newTestDB(t))
	_, err := repo.FindOrCreate(context.Background(), testKey(""))
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestTrackerRepoMarkCompletedIsMonotonic(t *testing.T) {
	t.Parallel()

	repo := repository.NewGormTrackerRepo(newTestDB(t))
	ctx := context.Background()

	tracker, err := repo.FindOrCreate(ctx, testKey("INSUFFICIENT_FUNDS"))
	require.NoError(t, err)

	require.NoError(t, repo.MarkCompleted(ctx, tracker))
	require.NotNil(t, tracker.CompletedAt)
	completedAt := *tracker.CompletedAt

	time.Sleep(5 * time.Millisecond)
	again, err := repo.FindOrCreate(ctx, testKey("INSUFFICIENT_FUNDS"))
	require.NoError(t, err)
	require.NoError(t, repo.MarkCompleted(ctx, again))
	require.True(t, again.IsCompleted())
	assert.True(t, completedAt.Equal(*again.CompletedAt))

	err = repo.MarkCompleted(ctx, &domain.DunningTracker{ID: uuid.NewString()})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTrackerRepoClaimAttempt(t *testing.T) {
	t.Parallel()

	repo := repository.NewGormTrackerRepo(newTestDB(t))
	ctx := context.Background()

	tracker, err := repo.FindOrCreate(ctx, testKey("INSUFFICIENT_FUNDS"))
	require.NoError(t, err)

	claimed, err := repo.ClaimAttempt(ctx, tracker.ID, 1)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = repo.ClaimAttempt(ctx, tracker.ID, 1)
	require.NoError(t, err)
	assert.False(t, claimed)

	require.NoError(t, repo.ReleaseAttempt(ctx, tracker.ID, 1))
	claimed, err = repo.ClaimAttempt(ctx, tracker.ID, 1)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = repo.ClaimAttempt(ctx, tracker.ID, 2)
	require.NoError(t, err)
	assert.True(t, claimed)

	stored, err := repo.GetByID(ctx, tracker.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastClaimedAttempt)
	assert.Equal(t, 2, *stored.LastClaimedAttempt)
}

func TestTrackerRepoCompleteByID(t *testing.T) {
	t.Parallel()

	repo := repository.NewGormTrackerRepo(newTestDB(t))
	ctx := context.Background()

	tracker, err := repo.FindOrCreate(ctx, testKey("INSUFFICIENT_FUNDS"))
	require.NoError(t, err)

	completed, err := repo.CompleteByID(ctx, tracker.ID)
	require.NoError(t, err)
	assert.NotNil(t, completed.CompletedAt)

	_, err = repo.CompleteByID(ctx, tracker.ID)
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = repo.CompleteByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTrackerRepoListOpen(t *testing.T) {
	t.Parallel()

	repo := repository.NewGormTrackerRepo(newTestDB(t))
	ctx := context.Background()

	inventory, err := repo.FindOrCreate(ctx, testKey("INSUFFICIENT_INVENTORY"))
	require.NoError(t, err)
	closed, err := repo.FindOrCreate(ctx, testKey("INVENTORY_ALLOCATIONS_NOT_FOUND"))
	require.NoError(t, err)
	require.NoError(t, repo.MarkCompleted(ctx, closed))
	_, err = repo.FindOrCreate(ctx, testKey("INSUFFICIENT_FUNDS"))
	require.NoError(t, err)

	open, err := repo.ListOpen(ctx, "shop-one.myshopify.com", domain.InventoryFailureReasons())
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, inventory.ID, open[0].ID)

	all, err := repo.ListOpen(ctx, "shop-one.myshopify.com", nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	isOpen := false
	_, total, err := repo.List(ctx, repository.TrackerListParams{Open: &isOpen})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestJobRepoLifecycle(t *testing.T) {
	t.Parallel()

	repo := repository.NewGormJobRepo(newTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	job, err := domain.NewRebillJob("shop-one.myshopify.com", "gid://shopify/SubscriptionContract/1", now)
	require.NoError(t, err)
	job.MaxAttempts = 3
	job.RunAt = now.Add(-time.Minute)
	require.NoError(t, repo.Create(ctx, &job))
	require.NotEmpty(t, job.ID)
	assert.Equal(t, domain.JobStatusPending, job.Status)

	future := domain.NewInventoryMerchantNotificationJob("shop-one.myshopify.com")
	future.RunAt = now.Add(time.Hour)
	require.NoError(t, repo.Create(ctx, &future))

	due, err := repo.GetDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, job.ID, due[0].ID)

	require.NoError(t, repo.MarkQueued(ctx, job.ID))
	assert.ErrorIs(t, repo.MarkQueued(ctx, job.ID), domain.ErrConflict)

	locked, err := repo.LockForRunning(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, locked)
	assert.Equal(t, domain.JobStatusRunning, locked.Status)
	assert.Equal(t, 1, locked.Attempts)

	again, err := repo.LockForRunning(ctx, job.ID)
	require.NoError(t, err)
	assert.Nil(t, again)

	require.NoError(t, repo.Reschedule(ctx, job.ID, now.Add(time.Minute), "commerce unavailable"))
	stored, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, stored.Status)
	require.NotNil(t, stored.LastError)
	assert.Equal(t, "commerce unavailable", *stored.LastError)

	var payload domain.RebillPayload
	require.NoError(t, stored.DecodePayload(&payload))
	assert.Equal(t, "gid://shopify/SubscriptionContract/1", payload.ContractID)

	require.NoError(t, repo.MarkDone(ctx, job.ID))
	stored, err = repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusDone, stored.Status)

	done, err := repo.LockForRunning(ctx, job.ID)
	require.NoError(t, err)
	assert.Nil(t, done)

	_, err = repo.LockForRunning(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestJobRepoMarkFailedAndList(t *testing.T) {
	t.Parallel()

	repo := repository.NewGormJobRepo(newTestDB(t))
	ctx := context.Background()

	job := domain.NewInventoryMerchantNotificationJob("shop-two.myshopify.com")
	require.NoError(t, repo.Create(ctx, &job))
	require.NoError(t, repo.MarkFailed(ctx, job.ID, "notifier rejected"))

	status := domain.JobStatusFailed
	jobs, total, err := repo.List(ctx, repository.JobListParams{Status: &status})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, jobs, 1)
	assert.Equal(t, "notifier rejected", *jobs[0].LastError)

	kind := domain.JobKindRebill
	_, total, err = repo.List(ctx, repository.JobListParams{Kind: &kind})
	require.NoError(t, err)
	assert.Zero(t, total)

	assert.ErrorIs(t, repo.MarkDone(ctx, uuid.NewString()), domain.ErrNotFound)
}

func TestJobRepoCreateRejectsInvalidJob(t *testing.T) {
	t.Parallel()

	repo := repository.NewGormJobRepo(newTestDB(t))
	err := repo.Create(context.Background(), &domain.Job{Kind: "unknown", Shop: "shop"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestJobRepoRequeueStale(t *testing.T) {
	t.Parallel()

	repo := repository.NewGormJobRepo(newTestDB(t))
	ctx := context.Background()

	job := domain.NewInventoryMerchantNotificationJob("shop-one.myshopify.com")
	require.NoError(t, repo.Create(ctx, &job))
	require.NoError(t, repo.MarkQueued(ctx, job.ID))

	count, err := repo.RequeueStale(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, count)

	count, err = repo.RequeueStale(ctx, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	stored, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, stored.Status)
}

func TestReposReadBackTimestamps(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()

	trackers := repository.NewGormTrackerRepo(db)
	tracker, err := trackers.FindOrCreate(ctx, testKey("INSUFFICIENT_FUNDS"))
	require.NoError(t, err)
	_, err = trackers.CompleteByID(ctx, tracker.ID)
	require.NoError(t, err)

	storedTracker, err := trackers.GetByID(ctx, tracker.ID)
	require.NoError(t, err)
	require.NotNil(t, storedTracker.CompletedAt)
	assert.False(t, storedTracker.CompletedAt.IsZero())

	jobs := repository.NewGormJobRepo(db)
	runAt := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	job := domain.NewInventoryMerchantNotificationJob("shop-one.myshopify.com")
	job.RunAt = runAt
	require.NoError(t, jobs.Create(ctx, &job))

	storedJob, err := jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, runAt.Equal(storedJob.RunAt))
}
