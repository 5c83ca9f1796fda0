package dunning

import (
	"context"
	"fmt"
	"time"

	"github.com/spencook/subscriptions-reference-app-sub001/internal/domain"
	"go.uber.org/zap"
)

const (
	day             = 24 * time.Hour
	finalDateLayout = "2006-01-02"
)

// RetryParams are the inputs of the retry stage.
type RetryParams struct {
	Shop                     string
	Contract                 domain.SubscriptionContract
	LastAttempt              domain.BillingAttempt
	DaysBetweenRetryAttempts int
	BillingCycleIndex        int
	SendCustomerEmail        bool
}

// RetryAction schedules the next rebill, warns the customer and marks the
// contract failed. Steps run in order and stop at the first error.
type RetryAction struct {
	contracts ContractMutator
	notifier  Notifier
	jobs      JobScheduler
	now       func() time.Time
	logger    *zap.Logger
}

func NewRetryAction(c Collaborators) (*RetryAction, error) {
	c, err := c.withDefaults()
	if err != nil {
		return nil, err
	}
	return &RetryAction{
		contracts: c.Contracts,
		notifier:  c.Notifier,
		jobs:      c.Jobs,
		now:       c.Now,
		logger:    c.Logger,
	}, nil
}

func (a *RetryAction) Run(ctx context.Context, p RetryParams) error {
	if err := scheduleRebill(ctx, a.jobs, a.now(), p.Shop, p.Contract.ID, p.LastAttempt, p.DaysBetweenRetryAttempts); err != nil {
		return err
	}

	if p.SendCustomerEmail {
		a.notifier.SendCustomer(ctx, p.Shop, p.Contract.CustomerID, domain.TemplateInput{
			Name: domain.TemplateCustomerPaymentFailureRetry,
			Variables: map[string]any{
				"contractId":        p.Contract.ID,
				"billingCycleIndex": p.BillingCycleIndex,
			},
		})
	}

	if err := a.contracts.Fail(ctx, p.Shop, p.Contract.ID); err != nil {
		return fmt.Errorf("failed to mark contract %s as failed: %w", p.Contract.ID, err)
	}

	a.logger.Info("retry dunning completed",
		zap.String("shop", p.Shop),
		zap.String("contractId", p.Contract.ID),
		zap.Int("billingCycleIndex", p.BillingCycleIndex),
	)
	return nil
}

// PenultimateParams are the inputs of the last-warning stage.
type PenultimateParams struct {
	Shop                     string
	Contract                 domain.SubscriptionContract
	LastAttempt              domain.BillingAttempt
	DaysBetweenRetryAttempts int
	BillingCycleIndex        int
	SendCustomerEmail        bool
	DunningStatus            domain.DunningStatus
}

// PenultimateAction schedules the last rebill and warns the customer of the
// final charge date. The contract is failed before the email goes out.
type PenultimateAction struct {
	contracts ContractMutator
	notifier  Notifier
	jobs      JobScheduler
	now       func() time.Time
	logger    *zap.Logger
}

func NewPenultimateAction(c Collaborators) (*PenultimateAction, error) {
	c, err := c.withDefaults()
	if err != nil {
		return nil, err
	}
	return &PenultimateAction{
		contracts: c.Contracts,
		notifier:  c.Notifier,
		jobs:      c.Jobs,
		now:       c.Now,
		logger:    c.Logger,
	}, nil
}

func (a *PenultimateAction) Run(ctx context.Context, p PenultimateParams) error {
	now := a.now()
	if err := scheduleRebill(ctx, a.jobs, now, p.Shop, p.Contract.ID, p.LastAttempt, p.DaysBetweenRetryAttempts); err != nil {
		return err
	}

	if err := a.contracts.Fail(ctx, p.Shop, p.Contract.ID); err != nil {
		return fmt.Errorf("failed to mark contract %s as failed: %w", p.Contract.ID, err)
	}

	finalChargeDate, err := FinalChargeDate(now, p.DaysBetweenRetryAttempts)
	if err != nil {
		return err
	}

	if p.SendCustomerEmail {
		a.notifier.SendCustomer(ctx, p.Shop, p.Contract.CustomerID, domain.TemplateInput{
			Name: domain.TemplateCustomerPaymentFailureLastAttempt,
			Variables: map[string]any{
				"contractId":      p.Contract.ID,
				"finalChargeDate": finalChargeDate,
				"dunningStatus":   p.DunningStatus.String(),
			},
		})
	}

	a.logger.Info("penultimate dunning completed",
		zap.String("shop", p.Shop),
		zap.String("contractId", p.Contract.ID),
		zap.String("finalChargeDate", finalChargeDate),
	)
	return nil
}

// FinalChargeDate returns the UTC calendar date, days after now.
func FinalChargeDate(now time.Time, days int) (string, error) {
	if days < 0 {
		return "", fmt.Errorf("%w: cannot compute final charge date %d days ahead", domain.ErrValidation, days)
	}
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d+days, 0, 0, 0, 0, time.UTC).Format(finalDateLayout), nil
}

// FinalParams are the inputs of the terminal stage.
type FinalParams struct {
	Shop                      string
	Contract                  domain.SubscriptionContract
	BillingCycleIndex         int
	OnFailure                 domain.OnFailure
	SendCustomerEmail         bool
	MerchantEmailTemplateName string
	SuppressMerchantEmail     bool
	// AllowSkip is false for failure domains where skipping the cycle is not
	// a supported terminal action.
	AllowSkip bool
}

// sendsMerchantEmail reports whether the merchant is notified. The inventory
// failure template is never sent from here; inventory failures notify the
// merchant through a batched job instead.
func (p FinalParams) sendsMerchantEmail() bool {
	if p.SuppressMerchantEmail {
		return false
	}
	return p.MerchantEmailTemplateName != domain.TemplateMerchantInventoryFailure
}

// FinalAction applies the shop's terminal policy and notifies both parties.
type FinalAction struct {
	contracts ContractMutator
	notifier  Notifier
	logger    *zap.Logger
}

func NewFinalAction(c Collaborators) (*FinalAction, error) {
	c, err := c.withDefaults()
	if err != nil {
		return nil, err
	}
	return &FinalAction{
		contracts: c.Contracts,
		notifier:  c.Notifier,
		logger:    c.Logger,
	}, nil
}

func (a *FinalAction) Run(ctx context.Context, p FinalParams) error {
	switch p.OnFailure {
	case domain.OnFailureCancel:
		if err := a.contracts.Cancel(ctx, p.Shop, p.Contract.ID); err != nil {
			return fmt.Errorf("failed to cancel contract %s: %w", p.Contract.ID, err)
		}
	case domain.OnFailurePause:
		if err := a.contracts.Pause(ctx, p.Shop, p.Contract.ID, p.SendCustomerEmail); err != nil {
			return fmt.Errorf("failed to pause contract %s: %w", p.Contract.ID, err)
		}
	case domain.OnFailureSkip:
		if !p.AllowSkip {
			a.logger.Warn("skip is not supported for this failure domain, contract left unchanged",
				zap.String("shop", p.Shop),
				zap.String("contractId", p.Contract.ID),
				zap.Int("billingCycleIndex", p.BillingCycleIndex),
			)
			break
		}
		edit := domain.BillingCycleScheduleEdit{
			Reason: domain.BillingCycleEditReasonMerchantInitiated,
			Skip:   true,
		}
		if err := a.contracts.ScheduleEdit(ctx, p.Shop, p.Contract.ID, p.BillingCycleIndex, edit); err != nil {
			return fmt.Errorf("failed to skip billing cycle %d of contract %s: %w", p.BillingCycleIndex, p.Contract.ID, err)
		}
	default:
		return fmt.Errorf("%w: unsupported onFailure %q", domain.ErrValidation, p.OnFailure)
	}

	dunningStatus := p.OnFailure.DunningStatus()

	if p.SendCustomerEmail {
		a.notifier.SendCustomer(ctx, p.Shop, p.Contract.CustomerID, domain.TemplateInput{
			Name: domain.TemplateCustomerPaymentFailure,
			Variables: map[string]any{
				"contractId":    p.Contract.ID,
				"dunningStatus": dunningStatus.String(),
			},
		})
	}

	if p.sendsMerchantEmail() {
		a.notifier.SendMerchant(ctx, p.Shop, domain.TemplateInput{
			Name: p.MerchantEmailTemplateName,
			Variables: map[string]any{
				"contractId":        p.Contract.ID,
				"billingCycleIndex": p.BillingCycleIndex,
				"dunningStatus":     dunningStatus.String(),
			},
		})
	}

	a.logger.Info("final dunning completed",
		zap.String("shop", p.Shop),
		zap.String("contractId", p.Contract.ID),
		zap.String("onFailure", p.OnFailure.String()),
	)
	return nil
}

func scheduleRebill(
	ctx context.Context,
	jobs JobScheduler,
	now time.Time,
	shop string,
	contractID string,
	lastAttempt domain.BillingAttempt,
	days int,
) error {
	job, err := domain.NewRebillJob(shop, contractID, lastAttempt.OriginTime)
	if err != nil {
		return err
	}

	runAt := now.Add(time.Duration(days) * day)
	opts := domain.EnqueueOptions{ScheduleTimeSeconds: runAt.Unix()}
	if err := jobs.Enqueue(ctx, job, opts); err != nil {
		return fmt.Errorf("failed to schedule rebill for contract %s: %w", contractID, err)
	}
	return nil
}
