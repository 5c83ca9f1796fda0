package commerce

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spencook/subscriptions-reference-app-sub001/internal/domain"
	"go.uber.org/zap"
)

const (
	contractCancelMutation = `mutation subscriptionContractCancel($subscriptionContractId: ID!) {
  subscriptionContractCancel(subscriptionContractId: $subscriptionContractId) {
    contract { id status customer { id } }
    userErrors { field message code }
  }
}`

	contractPauseMutation = `mutation subscriptionContractPause($subscriptionContractId: ID!) {
  subscriptionContractPause(subscriptionContractId: $subscriptionContractId) {
    contract { id status customer { id } }
    userErrors { field message code }
  }
}`

	contractFailMutation = `mutation subscriptionContractFail($subscriptionContractId: ID!) {
  subscriptionContractFail(subscriptionContractId: $subscriptionContractId) {
    contract { id status customer { id } }
    userErrors { field message code }
  }
}`

	billingCycleScheduleEditMutation = `mutation subscriptionBillingCycleScheduleEdit($billingCycleInput: SubscriptionBillingCycleInput!, $input: SubscriptionBillingCycleScheduleEditInput!) {
  subscriptionBillingCycleScheduleEdit(billingCycleInput: $billingCycleInput, input: $input) {
    billingCycle { cycleIndex skipped }
    userErrors { field message code }
  }
}`

	billingAttemptCreateMutation = `mutation subscriptionBillingAttemptCreate($subscriptionContractId: ID!, $subscriptionBillingAttemptInput: SubscriptionBillingAttemptInput!) {
  subscriptionBillingAttemptCreate(subscriptionContractId: $subscriptionContractId, subscriptionBillingAttemptInput: $subscriptionBillingAttemptInput) {
    subscriptionBillingAttempt { id ready errorCode errorMessage }
    userErrors { field message code }
  }
}`
)

type contractNode struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Customer *struct {
		ID string `json:"id"`
	} `json:"customer"`
}

type contractPayload struct {
	Contract   *contractNode `json:"contract"`
	UserErrors []UserError   `json:"userErrors"`
}

type billingCyclePayload struct {
	BillingCycle *struct {
		CycleIndex int  `json:"cycleIndex"`
		Skipped    bool `json:"skipped"`
	} `json:"billingCycle"`
	UserErrors []UserError `json:"userErrors"`
}

type billingAttemptPayload struct {
	BillingAttempt *struct {
		ID           string `json:"id"`
		Ready        bool   `json:"ready"`
		ErrorCode    string `json:"errorCode"`
		ErrorMessage string `json:"errorMessage"`
	} `json:"subscriptionBillingAttempt"`
	UserErrors []UserError `json:"userErrors"`
}

// JobEnqueuer schedules follow-up work triggered by a mutation.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, job domain.Job, opts domain.EnqueueOptions) error
}

// Contracts performs contract mutations. A mutation with user errors fails
// with *UserErrorsError and is logged with the full list.
type Contracts struct {
	client *Client
	jobs   JobEnqueuer
	logger *zap.Logger
}

func NewContracts(client *Client, jobs JobEnqueuer, logger *zap.Logger) (*Contracts, error) {
	if client == nil {
		return nil, fmt.Errorf("commerce client is required")
	}
	if jobs == nil {
		return nil, fmt.Errorf("job enqueuer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Contracts{client: client, jobs: jobs, logger: logger}, nil
}

func (c *Contracts) Cancel(ctx context.Context, shop string, contractID string) error {
	_, err := c.contractMutation(ctx, shop, contractID, "subscriptionContractCancel", contractCancelMutation)
	return err
}

func (c *Contracts) Fail(ctx context.Context, shop string, contractID string) error {
	_, err := c.contractMutation(ctx, shop, contractID, "subscriptionContractFail", contractFailMutation)
	return err
}

// Pause pauses the contract and, when asked to, enqueues the customer
// notification for the customer returned by the platform.
func (c *Contracts) Pause(ctx context.Context, shop string, contractID string, sendCustomerEmail bool) error {
	contract, err := c.contractMutation(ctx, shop, contractID, "subscriptionContractPause", contractPauseMutation)
	if err != nil {
		return err
	}
	if !sendCustomerEmail || contract.Customer == nil || contract.Customer.ID == "" {
		return nil
	}

	job, err := domain.NewCustomerPausedJob(shop, contract.ID, contract.Customer.ID)
	if err != nil {
		return err
	}
	if err := c.jobs.Enqueue(ctx, job, domain.EnqueueOptions{}); err != nil {
		return fmt.Errorf("failed to enqueue paused notification for contract %s: %w", contractID, err)
	}
	return nil
}

func (c *Contracts) ScheduleEdit(ctx context.Context, shop string, contractID string, cycleIndex int, edit domain.BillingCycleScheduleEdit) error {
	variables := map[string]any{
		"billingCycleInput": map[string]any{
			"contractId": contractID,
			"selector":   map[string]any{"index": cycleIndex},
		},
		"input": map[string]any{
			"skip":   edit.Skip,
			"reason": string(edit.Reason),
		},
	}

	var data struct {
		Payload *billingCyclePayload `json:"subscriptionBillingCycleScheduleEdit"`
	}
	if err := c.client.Do(ctx, shop, billingCycleScheduleEditMutation, variables, &data); err != nil {
		return err
	}
	if data.Payload == nil {
		return ErrMissingPayload
	}
	if err := c.checkUserErrors(shop, contractID, "subscriptionBillingCycleScheduleEdit", data.Payload.UserErrors); err != nil {
		return err
	}
	if data.Payload.BillingCycle == nil {
		return ErrMissingPayload
	}
	return nil
}

// BillingAttempt is the platform's answer to a rebill request.
type BillingAttempt struct {
	ID           string
	Ready        bool
	ErrorCode    string
	ErrorMessage string
}

// BillingAttemptCreate asks the platform to charge the contract again. The
// idempotency key makes redelivered jobs safe.
func (c *Contracts) BillingAttemptCreate(ctx context.Context, shop string, contractID string, idempotencyKey string, originTime time.Time) (BillingAttempt, error) {
	if strings.TrimSpace(idempotencyKey) == "" {
		return BillingAttempt{}, fmt.Errorf("%w: idempotency key is required", domain.ErrValidation)
	}

	input := map[string]any{"idempotencyKey": idempotencyKey}
	if !originTime.IsZero() {
		input["originTime"] = originTime.UTC().Format(time.RFC3339)
	}
	variables := map[string]any{
		"subscriptionContractId":          contractID,
		"subscriptionBillingAttemptInput": input,
	}

	var data struct {
		Payload *billingAttemptPayload `json:"subscriptionBillingAttemptCreate"`
	}
	if err := c.client.Do(ctx, shop, billingAttemptCreateMutation, variables, &data); err != nil {
		return BillingAttempt{}, err
	}
	if data.Payload == nil {
		return BillingAttempt{}, ErrMissingPayload
	}
	if err := c.checkUserErrors(shop, contractID, "subscriptionBillingAttemptCreate", data.Payload.UserErrors); err != nil {
		return BillingAttempt{}, err
	}
	if data.Payload.BillingAttempt == nil {
		return BillingAttempt{}, ErrMissingPayload
	}

	attempt := data.Payload.BillingAttempt
	return BillingAttempt{
		ID:           attempt.ID,
		Ready:        attempt.Ready,
		ErrorCode:    attempt.ErrorCode,
		ErrorMessage: attempt.ErrorMessage,
	}, nil
}

func (c *Contracts) contractMutation(ctx context.Context, shop string, contractID string, operation string, mutation string) (*contractNode, error) {
	if strings.TrimSpace(contractID) == "" {
		return nil, fmt.Errorf("%w: contract id is required", domain.ErrValidation)
	}

	var data map[string]*contractPayload
	variables := map[string]any{"subscriptionContractId": contractID}
	if err := c.client.Do(ctx, shop, mutation, variables, &data); err != nil {
		return nil, err
	}

	payload := data[operation]
	if payload == nil {
		return nil, ErrMissingPayload
	}
	if err := c.checkUserErrors(shop, contractID, operation, payload.UserErrors); err != nil {
		return nil, err
	}
	if payload.Contract == nil {
		return nil, ErrMissingPayload
	}
	return payload.Contract, nil
}

func (c *Contracts) checkUserErrors(shop string, contractID string, operation string, userErrors []UserError) error {
	if len(userErrors) == 0 {
		return nil
	}

	err := &UserErrorsError{Operation: operation, Errors: userErrors}
	c.logger.Error("commerce mutation rejected",
		zap.String("shop", shop),
		zap.String("contractId", contractID),
		zap.String("operation", operation),
		zap.Any("userErrors", userErrors),
	)
	return err
}
