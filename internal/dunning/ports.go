package dunning

import (
	"context"
	"fmt"
	"time"

	"github.com/spencook/subscriptions-reference-app-sub001/internal/domain"
	"go.uber.org/zap"
)

// TrackerStore is the durable idempotency ledger. FindOrCreate must be safe
// to call redundantly for the same key.
type TrackerStore interface {
	FindOrCreate(ctx context.Context, key domain.TrackerKey) (*domain.DunningTracker, error)
	MarkCompleted(ctx context.Context, tracker *domain.DunningTracker) error
}

// AttemptClaimer atomically records that an attempt count has been acted on.
// ClaimAttempt returns false when another invocation already claimed the same
// or a later attempt count. ReleaseAttempt undoes a claim whose action failed
// so a redelivered trigger can act again.
type AttemptClaimer interface {
	ClaimAttempt(ctx context.Context, trackerID string, attemptsCount int) (bool, error)
	ReleaseAttempt(ctx context.Context, trackerID string, attemptsCount int) error
}

// ContractMutator performs contract mutations against the commerce platform.
// Rejections are returned as errors.
type ContractMutator interface {
	Cancel(ctx context.Context, shop string, contractID string) error
	Pause(ctx context.Context, shop string, contractID string, sendCustomerEmail bool) error
	Fail(ctx context.Context, shop string, contractID string) error
	ScheduleEdit(ctx context.Context, shop string, contractID string, cycleIndex int, edit domain.BillingCycleScheduleEdit) error
}

// Notifier sends template notifications. Implementations log failures and
// report them through the return value; they never fail the caller.
type Notifier interface {
	SendCustomer(ctx context.Context, shop string, customerID string, input domain.TemplateInput) bool
	SendMerchant(ctx context.Context, shop string, input domain.TemplateInput) bool
}

// JobScheduler accepts jobs for at-least-once execution.
type JobScheduler interface {
	Enqueue(ctx context.Context, job domain.Job, opts domain.EnqueueOptions) error
}

// Collaborators bundles everything the engine and its actions talk to.
type Collaborators struct {
	Trackers  TrackerStore
	Contracts ContractMutator
	Notifier  Notifier
	Jobs      JobScheduler
	Now       func() time.Time
	Logger    *zap.Logger
}

func (c Collaborators) withDefaults() (Collaborators, error) {
	if c.Contracts == nil {
		return c, fmt.Errorf("contract mutator is required")
	}
	if c.Notifier == nil {
		return c, fmt.Errorf("notifier is required")
	}
	if c.Jobs == nil {
		return c, fmt.Errorf("job scheduler is required")
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c, nil
}
