package dunning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spencook/subscriptions-reference-app-sub001/internal/domain"
	"go.uber.org/zap"
)

// Input is one failed billing attempt as seen by the trigger.
type Input struct {
	Shop          string
	Contract      domain.SubscriptionContract
	BillingCycle  domain.BillingCycle
	Settings      domain.Settings
	FailureReason string
}

// Result reports what an evaluation did.
type Result struct {
	Outcome   Outcome
	TrackerID string
	// Duplicate is set in atomic claim mode when another evaluation already
	// acted on the same attempt count; no action ran.
	Duplicate bool
}

type Option func(*Engine)

func WithClaimMode(mode ClaimMode) Option {
	return func(e *Engine) {
		e.claimMode = mode
	}
}

// Engine decides and runs the escalation stage for a failed billing cycle.
type Engine struct {
	variant     Variant
	trackers    TrackerStore
	claimer     AttemptClaimer
	jobs        JobScheduler
	retry       *RetryAction
	penultimate *PenultimateAction
	final       *FinalAction
	claimMode   ClaimMode
	now         func() time.Time
	logger      *zap.Logger
}

func NewPaymentEngine(c Collaborators, opts ...Option) (*Engine, error) {
	return newEngine(VariantPayment, c, opts...)
}

func NewInventoryEngine(c Collaborators, opts ...Option) (*Engine, error) {
	return newEngine(VariantInventory, c, opts...)
}

func newEngine(variant Variant, c Collaborators, opts ...Option) (*Engine, error) {
	if c.Trackers == nil {
		return nil, fmt.Errorf("tracker store is required")
	}
	c, err := c.withDefaults()
	if err != nil {
		return nil, err
	}

	retry, err := NewRetryAction(c)
	if err != nil {
		return nil, err
	}
	penultimate, err := NewPenultimateAction(c)
	if err != nil {
		return nil, err
	}
	final, err := NewFinalAction(c)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		variant:     variant,
		trackers:    c.Trackers,
		jobs:        c.Jobs,
		retry:       retry,
		penultimate: penultimate,
		final:       final,
		claimMode:   ClaimModeFindOrCreate,
		now:         c.Now,
		logger:      c.Logger.With(zap.String("variant", variant.String())),
	}
	for _, opt := range opts {
		opt(e)
	}

	if !e.claimMode.IsValid() {
		return nil, fmt.Errorf("invalid claim mode %q", e.claimMode)
	}
	if e.claimMode == ClaimModeAtomic {
		claimer, ok := c.Trackers.(AttemptClaimer)
		if !ok {
			return nil, fmt.Errorf("atomic claim mode requires a tracker store that can claim attempts")
		}
		e.claimer = claimer
	}

	return e, nil
}

// Evaluate runs the guards in order, records progress on the tracker and
// dispatches to exactly one escalation action.
func (e *Engine) Evaluate(ctx context.Context, in Input) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := validateInput(in); err != nil {
		return Result{}, err
	}

	logger := e.logger.With(
		zap.String("shop", in.Shop),
		zap.String("contractId", in.Contract.ID),
		zap.Int("billingCycleIndex", in.BillingCycle.CycleIndex),
	)

	if !in.BillingCycle.AllAttemptsReady() {
		logger.Info("billing attempt not ready, skipping dunning")
		return Result{Outcome: OutcomeBillingAttemptNotReady}, nil
	}

	failureReason := strings.TrimSpace(in.FailureReason)
	if failureReason == "" {
		failureReason = in.BillingCycle.FailureReason().String()
	}
	if failureReason == "" {
		return Result{}, fmt.Errorf("%w: failure reason is required", domain.ErrValidation)
	}
	if in.BillingCycle.AttemptsCount() == 0 {
		return Result{}, fmt.Errorf("%w: billing cycle %d has no billing attempts", domain.ErrValidation, in.BillingCycle.CycleIndex)
	}
	logger = logger.With(zap.String("failureReason", failureReason))

	tracker, err := e.trackers.FindOrCreate(ctx, domain.TrackerKey{
		Shop:              in.Shop,
		ContractID:        in.Contract.ID,
		BillingCycleIndex: in.BillingCycle.CycleIndex,
		FailureReason:     failureReason,
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to find or create dunning tracker: %w", err)
	}
	result := Result{TrackerID: tracker.ID}
	logger = logger.With(zap.String("trackerId", tracker.ID))

	if e.variant == VariantInventory {
		expected := in.BillingCycle.BillingAttemptExpectedDate
		if expected != nil && expected.After(e.now()) {
			if err := e.complete(ctx, tracker); err != nil {
				return result, err
			}
			logger.Info("billing attempt expected date is in the future", zap.Time("expectedDate", *expected))
			result.Outcome = OutcomeExpectedDateInFuture
			return result, nil
		}
	}

	if in.BillingCycle.IsBilled() {
		if err := e.complete(ctx, tracker); err != nil {
			return result, err
		}
		logger.Info("billing cycle already billed")
		result.Outcome = OutcomeBillingCycleAlreadyBilled
		return result, nil
	}

	if in.Contract.Status.IsTerminal() {
		if err := e.complete(ctx, tracker); err != nil {
			return result, err
		}
		logger.Info("contract in terminal status", zap.String("status", in.Contract.Status.String()))
		result.Outcome = OutcomeContractInTerminalStatus
		return result, nil
	}

	if e.variant == VariantInventory && in.Settings.InventoryNotificationFrequency == domain.NotificationFrequencyImmediately {
		job := domain.NewInventoryMerchantNotificationJob(in.Shop)
		if err := e.jobs.Enqueue(ctx, job, domain.EnqueueOptions{}); err != nil {
			return result, fmt.Errorf("failed to enqueue inventory merchant notification: %w", err)
		}
	}

	policy := e.policy(in.Settings)
	attemptsCount := in.BillingCycle.AttemptsCount()
	lastAttempt, _ := in.BillingCycle.LastAttempt()
	logger = logger.With(
		zap.Int("attemptsCount", attemptsCount),
		zap.Int("retryAttempts", policy.retryAttempts),
	)

	stage := stageFor(attemptsCount, policy.retryAttempts)
	result.Outcome = stage

	if stage == OutcomeFinalAttemptDunning {
		// The tracker closes before the terminal action runs and stays closed
		// if the action fails.
		if err := e.complete(ctx, tracker); err != nil {
			return result, err
		}
	}

	if e.claimer != nil {
		claimed, err := e.claimer.ClaimAttempt(ctx, tracker.ID, attemptsCount)
		if err != nil {
			return result, fmt.Errorf("failed to claim dunning attempt: %w", err)
		}
		if !claimed {
			logger.Info("dunning attempt already claimed by another evaluation", zap.String("outcome", stage.String()))
			result.Duplicate = true
			return result, nil
		}
	}

	switch stage {
	case OutcomeFinalAttemptDunning:
		err = e.final.Run(ctx, FinalParams{
			Shop:                      in.Shop,
			Contract:                  in.Contract,
			BillingCycleIndex:         in.BillingCycle.CycleIndex,
			OnFailure:                 in.Settings.OnFailure,
			SendCustomerEmail:         policy.sendCustomerEmail,
			MerchantEmailTemplateName: policy.merchantTemplate,
			SuppressMerchantEmail:     policy.suppressMerchantEmail,
			AllowSkip:                 policy.allowSkip,
		})
	case OutcomePenultimateAttemptDunning:
		err = e.penultimate.Run(ctx, PenultimateParams{
			Shop:                     in.Shop,
			Contract:                 in.Contract,
			LastAttempt:              lastAttempt,
			DaysBetweenRetryAttempts: policy.daysBetweenRetryAttempts,
			BillingCycleIndex:        in.BillingCycle.CycleIndex,
			SendCustomerEmail:        policy.sendCustomerEmail,
			DunningStatus:            in.Settings.OnFailure.DunningStatus(),
		})
	default:
		err = e.retry.Run(ctx, RetryParams{
			Shop:                     in.Shop,
			Contract:                 in.Contract,
			LastAttempt:              lastAttempt,
			DaysBetweenRetryAttempts: policy.daysBetweenRetryAttempts,
			BillingCycleIndex:        in.BillingCycle.CycleIndex,
			SendCustomerEmail:        policy.sendCustomerEmail,
		})
	}
	if err != nil {
		logger.Error("dunning action failed", zap.String("outcome", stage.String()), zap.Error(err))
		if e.claimer != nil {
			if releaseErr := e.claimer.ReleaseAttempt(ctx, tracker.ID, attemptsCount); releaseErr != nil {
				logger.Error("failed to release dunning attempt claim", zap.Error(releaseErr))
			}
		}
		return result, err
	}

	logger.Info("dunning evaluated", zap.String("outcome", stage.String()))
	return result, nil
}

func (e *Engine) complete(ctx context.Context, tracker *domain.DunningTracker) error {
	if err := e.trackers.MarkCompleted(ctx, tracker); err != nil {
		return fmt.Errorf("failed to mark dunning tracker %s completed: %w", tracker.ID, err)
	}
	return nil
}

// stageFor maps the attempt count onto the escalation stage.
func stageFor(attemptsCount int, retryAttempts int) Outcome {
	switch {
	case attemptsCount >= retryAttempts:
		return OutcomeFinalAttemptDunning
	case attemptsCount == retryAttempts-1:
		return OutcomePenultimateAttemptDunning
	default:
		return OutcomeRetryDunning
	}
}

type variantPolicy struct {
	retryAttempts            int
	daysBetweenRetryAttempts int
	sendCustomerEmail        bool
	merchantTemplate         string
	suppressMerchantEmail    bool
	allowSkip                bool
}

func (e *Engine) policy(settings domain.Settings) variantPolicy {
	if e.variant == VariantInventory {
		return variantPolicy{
			retryAttempts:            settings.EffectiveInventoryRetryAttempts(),
			daysBetweenRetryAttempts: settings.EffectiveInventoryDaysBetweenRetryAttempts(),
			merchantTemplate:         domain.TemplateMerchantInventoryFailure,
			suppressMerchantEmail:    true,
		}
	}
	return variantPolicy{
		retryAttempts:            settings.RetryAttempts,
		daysBetweenRetryAttempts: settings.DaysBetweenRetryAttempts,
		sendCustomerEmail:        true,
		merchantTemplate:         domain.TemplateMerchantPaymentFailure,
		allowSkip:                true,
	}
}

func validateInput(in Input) error {
	if strings.TrimSpace(in.Shop) == "" {
		return fmt.Errorf("%w: shop is required", domain.ErrValidation)
	}
	if err := in.Contract.Validate(); err != nil {
		return err
	}
	if err := in.BillingCycle.Validate(); err != nil {
		return err
	}
	return in.Settings.Validate()
}
