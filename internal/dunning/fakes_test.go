package dunning

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spencook/subscriptions-reference-app-sub001/internal/domain"
)

// call records one side effect so tests can assert on ordering.
type call struct {
	name string
	args []any
}

type recorder struct {
	mu    sync.Mutex
	calls []call
}

func (r *recorder) record(name string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{name: name, args: args})
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.calls))
	for _, c := range r.calls {
		names = append(names, c.name)
	}
	return names
}

func (r *recorder) count(name string) int {
	n := 0
	for _, got := range r.names() {
		if got == name {
			n++
		}
	}
	return n
}

type memoryTrackerStore struct {
	mu        sync.Mutex
	rows      map[domain.TrackerKey]*domain.DunningTracker
	claims    map[string]int
	nextID    int
	now       func() time.Time
	findErr   error
	createdFn func(key domain.TrackerKey)
}

func newMemoryTrackerStore(now func() time.Time) *memoryTrackerStore {
	return &memoryTrackerStore{
		rows:   make(map[domain.TrackerKey]*domain.DunningTracker),
		claims: make(map[string]int),
		now:    now,
	}
}

func (s *memoryTrackerStore) FindOrCreate(ctx context.Context, key domain.TrackerKey) (*domain.DunningTracker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.findErr != nil {
		return nil, s.findErr
	}
	if existing, ok := s.rows[key]; ok {
		copied := *existing
		return &copied, nil
	}

	s.nextID++
	tracker := &domain.DunningTracker{
		ID:                fmt.Sprintf("tracker-%d", s.nextID),
		Shop:              key.Shop,
		ContractID:        key.ContractID,
		BillingCycleIndex: key.BillingCycleIndex,
		FailureReason:     key.FailureReason,
		CreatedAt:         s.now(),
		UpdatedAt:         s.now(),
	}
	s.rows[key] = tracker
	if s.createdFn != nil {
		s.createdFn(key)
	}
	copied := *tracker
	return &copied, nil
}

func (s *memoryTrackerStore) MarkCompleted(ctx context.Context, tracker *domain.DunningTracker) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[tracker.Key()]
	if !ok {
		return domain.ErrNotFound
	}
	if row.CompletedAt == nil {
		completedAt := s.now()
		row.CompletedAt = &completedAt
	}
	tracker.CompletedAt = row.CompletedAt
	return nil
}

func (s *memoryTrackerStore) rowCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func (s *memoryTrackerStore) get(key domain.TrackerKey) *domain.DunningTracker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[key]
}

type claimingTrackerStore struct {
	*memoryTrackerStore
}

func (s claimingTrackerStore) ClaimAttempt(ctx context.Context, trackerID string, attemptsCount int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.claims[trackerID]; ok && last >= attemptsCount {
		return false, nil
	}
	s.claims[trackerID] = attemptsCount
	return true, nil
}

func (s claimingTrackerStore) ReleaseAttempt(ctx context.Context, trackerID string, attemptsCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claims[trackerID] == attemptsCount {
		s.claims[trackerID] = attemptsCount - 1
	}
	return nil
}

type fakeContracts struct {
	rec            *recorder
	cancelErr      error
	pauseErr       error
	failErr        error
	scheduleErr    error
	lastEdit       domain.BillingCycleScheduleEdit
	lastCycleIndex int
	pausedWithMail bool
}

func (f *fakeContracts) Cancel(ctx context.Context, shop string, contractID string) error {
	f.rec.record("cancel", shop, contractID)
	return f.cancelErr
}

func (f *fakeContracts) Pause(ctx context.Context, shop string, contractID string, sendCustomerEmail bool) error {
	f.rec.record("pause", shop, contractID, sendCustomerEmail)
	f.pausedWithMail = sendCustomerEmail
	return f.pauseErr
}

func (f *fakeContracts) Fail(ctx context.Context, shop string, contractID string) error {
	f.rec.record("fail", shop, contractID)
	return f.failErr
}

func (f *fakeContracts) ScheduleEdit(ctx context.Context, shop string, contractID string, cycleIndex int, edit domain.BillingCycleScheduleEdit) error {
	f.rec.record("scheduleEdit", shop, contractID, cycleIndex)
	f.lastEdit = edit
	f.lastCycleIndex = cycleIndex
	return f.scheduleErr
}

type fakeNotifier struct {
	rec               *recorder
	customerInputs    []domain.TemplateInput
	merchantInputs    []domain.TemplateInput
	customerRecipient string
}

func (f *fakeNotifier) SendCustomer(ctx context.Context, shop string, customerID string, input domain.TemplateInput) bool {
	f.rec.record("sendCustomer", input.Name)
	f.customerInputs = append(f.customerInputs, input)
	f.customerRecipient = customerID
	return true
}

func (f *fakeNotifier) SendMerchant(ctx context.Context, shop string, input domain.TemplateInput) bool {
	f.rec.record("sendMerchant", input.Name)
	f.merchantInputs = append(f.merchantInputs, input)
	return true
}

type enqueued struct {
	job  domain.Job
	opts domain.EnqueueOptions
}

type fakeJobs struct {
	rec      *recorder
	err      error
	enqueued []enqueued
}

func (f *fakeJobs) Enqueue(ctx context.Context, job domain.Job, opts domain.EnqueueOptions) error {
	f.rec.record("enqueue", job.Kind.String())
	if f.err != nil {
		return f.err
	}
	f.enqueued = append(f.enqueued, enqueued{job: job, opts: opts})
	return nil
}

type harness struct {
	now       time.Time
	rec       *recorder
	trackers  *memoryTrackerStore
	contracts *fakeContracts
	notifier  *fakeNotifier
	jobs      *fakeJobs
}

func newHarness() *harness {
	h := &harness{
		now: time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC),
		rec: &recorder{},
	}
	h.trackers = newMemoryTrackerStore(h.clock)
	h.contracts = &fakeContracts{rec: h.rec}
	h.notifier = &fakeNotifier{rec: h.rec}
	h.jobs = &fakeJobs{rec: h.rec}
	return h
}

func (h *harness) clock() time.Time { return h.now }

func (h *harness) collaborators() Collaborators {
	return Collaborators{
		Trackers:  h.trackers,
		Contracts: h.contracts,
		Notifier:  h.notifier,
		Jobs:      h.jobs,
		Now:       h.clock,
	}
}

const (
	testShop       = "shop-one.myshopify.com"
	testContractID = "gid://shopify/SubscriptionContract/1"
	testCustomerID = "gid://shopify/Customer/7"
)

func failedAttempts(n int, code domain.BillingAttemptErrorCode, lastOrigin time.Time) []domain.BillingAttempt {
	attempts := make([]domain.BillingAttempt, 0, n)
	for i := 0; i < n; i++ {
		attempts = append(attempts, domain.BillingAttempt{
			ID:         fmt.Sprintf("attempt-%d", i+1),
			Ready:      true,
			OriginTime: lastOrigin.Add(-time.Duration(n-1-i) * 24 * time.Hour),
			ErrorCode:  code,
		})
	}
	return attempts
}

func paymentInput(attempts int, lastOrigin time.Time) Input {
	return Input{
		Shop: testShop,
		Contract: domain.SubscriptionContract{
			ID:         testContractID,
			Status:     domain.ContractStatusActive,
			CustomerID: testCustomerID,
		},
		BillingCycle: domain.BillingCycle{
			CycleIndex: 3,
			Status:     domain.BillingCycleStatusUnbilled,
			Attempts:   failedAttempts(attempts, domain.ErrorCodeInsufficientFunds, lastOrigin),
		},
		Settings: domain.Settings{
			RetryAttempts:            3,
			DaysBetweenRetryAttempts: 2,
			OnFailure:                domain.OnFailureCancel,
		},
		FailureReason: domain.ErrorCodeInsufficientFunds.String(),
	}
}

func inventoryInput(attempts int, lastOrigin time.Time) Input {
	in := paymentInput(attempts, lastOrigin)
	in.BillingCycle.Attempts = failedAttempts(attempts, domain.ErrorCodeInsufficientInventory, lastOrigin)
	in.FailureReason = domain.ErrorCodeInsufficientInventory.String()
	return in
}

func keyOf(in Input) domain.TrackerKey {
	return domain.TrackerKey{
		Shop:              in.Shop,
		ContractID:        in.Contract.ID,
		BillingCycleIndex: in.BillingCycle.CycleIndex,
		FailureReason:     in.FailureReason,
	}
}
