package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/spencook/subscriptions-reference-app-sub001/internal/commerce"
	"github.com/spencook/subscriptions-reference-app-sub001/internal/domain"
	"github.com/spencook/subscriptions-reference-app-sub001/internal/queue"
	"github.com/spencook/subscriptions-reference-app-sub001/internal/repository"
)

type fakeJobRepo struct {
	createFn         func(ctx context.Context, job *domain.Job) error
	getDueFn         func(ctx context.Context, now time.Time, limit int) ([]domain.Job, error)
	markQueuedFn     func(ctx context.Context, id string) error
	lockForRunningFn func(ctx context.Context, id string) (*domain.Job, error)
	markDoneFn       func(ctx context.Context, id string) error
	rescheduleFn     func(ctx context.Context, id string, runAt time.Time, lastError string) error
	markFailedFn     func(ctx context.Context, id string, lastError string) error
	requeueStaleFn   func(ctx context.Context, olderThan time.Time) (int64, error)
}

func (f *fakeJobRepo) Create(ctx context.Context, job *domain.Job) error {
	if f.createFn != nil {
		return f.createFn(ctx, job)
	}
	if job.ID == "" {
		job.ID = "job-1"
	}
	return nil
}

func (f *fakeJobRepo) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	return nil, domain.ErrNotFound
}

func (f *fakeJobRepo) GetDue(ctx context.Context, now time.Time, limit int) ([]domain.Job, error) {
	if f.getDueFn != nil {
		return f.getDueFn(ctx, now, limit)
	}
	return nil, nil
}

func (f *fakeJobRepo) MarkQueued(ctx context.Context, id string) error {
	if f.markQueuedFn != nil {
		return f.markQueuedFn(ctx, id)
	}
	return nil
}

func (f *fakeJobRepo) LockForRunning(ctx context.Context, id string) (*domain.Job, error) {
	if f.lockForRunningFn != nil {
		return f.lockForRunningFn(ctx, id)
	}
	return nil, nil
}

func (f *fakeJobRepo) MarkDone(ctx context.Context, id string) error {
	if f.markDoneFn != nil {
		return f.markDoneFn(ctx, id)
	}
	return nil
}

func (f *fakeJobRepo) Reschedule(ctx context.Context, id string, runAt time.Time, lastError string) error {
	if f.rescheduleFn != nil {
		return f.rescheduleFn(ctx, id, runAt, lastError)
	}
	return nil
}

func (f *fakeJobRepo) MarkFailed(ctx context.Context, id string, lastError string) error {
	if f.markFailedFn != nil {
		return f.markFailedFn(ctx, id, lastError)
	}
	return nil
}

func (f *fakeJobRepo) RequeueStale(ctx context.Context, olderThan time.Time) (int64, error) {
	if f.requeueStaleFn != nil {
		return f.requeueStaleFn(ctx, olderThan)
	}
	return 0, nil
}

func (f *fakeJobRepo) List(ctx context.Context, params repository.JobListParams) ([]domain.Job, int64, error) {
	return nil, 0, nil
}

type fakePublisher struct {
	mu        sync.Mutex
	published []queue.JobMessage
	publishFn func(ctx context.Context, queueName string, msg queue.Message) error
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, msg queue.Message) error {
	if f.publishFn != nil {
		if err := f.publishFn(ctx, queueName, msg); err != nil {
			return err
		}
	}
	if jobMsg, ok := msg.(queue.JobMessage); ok {
		f.mu.Lock()
		f.published = append(f.published, jobMsg)
		f.mu.Unlock()
	}
	return nil
}

func (f *fakePublisher) Close() error { return nil }

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queueName string, handler queue.DeliveryHandler) error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.DeliveryHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	return nil
}

func (f *fakeConsumer) Close() error { return nil }

type fakeLocker struct {
	acquire  bool
	err      error
	released []string
}

func (f *fakeLocker) TryAcquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	return f.acquire, f.err
}

func (f *fakeLocker) Release(ctx context.Context, name string) error {
	f.released = append(f.released, name)
	return nil
}

type fakeBilling struct {
	createFn func(ctx context.Context, shop string, contractID string, idempotencyKey string, originTime time.Time) (commerce.BillingAttempt, error)
}

func (f *fakeBilling) BillingAttemptCreate(ctx context.Context, shop string, contractID string, idempotencyKey string, originTime time.Time) (commerce.BillingAttempt, error) {
	if f.createFn != nil {
		return f.createFn(ctx, shop, contractID, idempotencyKey, originTime)
	}
	return commerce.BillingAttempt{ID: "attempt-1"}, nil
}

type fakeTrackerLister struct {
	listOpenFn func(ctx context.Context, shop string, failureReasons []string) ([]domain.DunningTracker, error)
}

func (f *fakeTrackerLister) ListOpen(ctx context.Context, shop string, failureReasons []string) ([]domain.DunningTracker, error) {
	if f.listOpenFn != nil {
		return f.listOpenFn(ctx, shop, failureReasons)
	}
	return nil, nil
}

type sentNotification struct {
	shop       string
	customerID string
	input      domain.TemplateInput
}

type fakeNotifier struct {
	customer []sentNotification
	merchant []sentNotification
}

func (f *fakeNotifier) SendCustomer(ctx context.Context, shop string, customerID string, input domain.TemplateInput) bool {
	f.customer = append(f.customer, sentNotification{shop: shop, customerID: customerID, input: input})
	return true
}

func (f *fakeNotifier) SendMerchant(ctx context.Context, shop string, input domain.TemplateInput) bool {
	f.merchant = append(f.merchant, sentNotification{shop: shop, input: input})
	return true
}
