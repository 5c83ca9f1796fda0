package service

import (
	"context"
	"fmt"
	"time"

	"github.com/spencook/subscriptions-reference-app-sub001/internal/domain"
	"github.com/spencook/subscriptions-reference-app-sub001/internal/dunning"
	"github.com/spencook/subscriptions-reference-app-sub001/internal/observability"
	"github.com/spencook/subscriptions-reference-app-sub001/internal/settings"
	"go.uber.org/zap"
)

// Evaluator runs one dunning evaluation.
type Evaluator interface {
	Evaluate(ctx context.Context, in dunning.Input) (dunning.Result, error)
}

// Evaluation is the result of handling one billing failure.
type Evaluation struct {
	Outcome   dunning.Outcome `json:"outcome,omitempty"`
	TrackerID string          `json:"trackerId,omitempty"`
	Variant   dunning.Variant `json:"variant"`
	Duplicate bool            `json:"duplicate,omitempty"`
}

// BillingFailureService routes a billing failure to the payment or inventory
// engine and resolves the shop's settings.
type BillingFailureService struct {
	payment   Evaluator
	inventory Evaluator
	settings  settings.Provider
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

func NewBillingFailureService(
	payment Evaluator,
	inventory Evaluator,
	provider settings.Provider,
	logger *zap.Logger,
) (*BillingFailureService, error) {
	if payment == nil {
		return nil, fmt.Errorf("payment evaluator is required")
	}
	if inventory == nil {
		return nil, fmt.Errorf("inventory evaluator is required")
	}
	if provider == nil {
		return nil, fmt.Errorf("settings provider is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &BillingFailureService{
		payment:   payment,
		inventory: inventory,
		settings:  provider,
		logger:    logger,
		now:       time.Now,
	}, nil
}

func (s *BillingFailureService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// VariantFor picks the engine for a failure reason.
func VariantFor(reason domain.BillingAttemptErrorCode) dunning.Variant {
	if reason.IsInventoryFailure() {
		return dunning.VariantInventory
	}
	return dunning.VariantPayment
}

func (s *BillingFailureService) Handle(ctx context.Context, event domain.BillingFailureEvent) (Evaluation, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := event.Validate(); err != nil {
		return Evaluation{}, err
	}

	reason := event.FailureReason()
	variant := VariantFor(reason)
	evaluation := Evaluation{Variant: variant}

	shopSettings, err := s.resolveSettings(ctx, event)
	if err != nil {
		s.metrics.IncDunningError(variant.String())
		return evaluation, err
	}

	engine := s.payment
	if variant == dunning.VariantInventory {
		engine = s.inventory
	}

	start := s.now()
	result, err := engine.Evaluate(ctx, dunning.Input{
		Shop:          event.Shop,
		Contract:      event.Contract,
		BillingCycle:  event.BillingCycle,
		Settings:      shopSettings,
		FailureReason: reason.String(),
	})
	s.metrics.ObserveDunningEvaluation(variant.String(), s.now().Sub(start))

	evaluation.Outcome = result.Outcome
	evaluation.TrackerID = result.TrackerID
	evaluation.Duplicate = result.Duplicate

	if err != nil {
		s.metrics.IncDunningError(variant.String())
		observability.WithContextLogger(s.logger, ctx).Error("billing failure evaluation failed",
			append(
				observability.DunningFields(event.Shop, event.Contract.ID, event.BillingCycle.CycleIndex, reason.String(), variant.String()),
				zap.Error(err),
			)...,
		)
		return evaluation, err
	}

	s.metrics.IncDunningOutcome(variant.String(), result.Outcome.String())
	return evaluation, nil
}

func (s *BillingFailureService) resolveSettings(ctx context.Context, event domain.BillingFailureEvent) (domain.Settings, error) {
	if event.Settings != nil {
		return *event.Settings, nil
	}

	resolved, err := s.settings.Resolve(ctx, event.Shop)
	if err != nil {
		return domain.Settings{}, fmt.Errorf("failed to resolve settings for shop %s: %w", event.Shop, err)
	}
	if err := resolved.Validate(); err != nil {
		return domain.Settings{}, err
	}
	return resolved, nil
}
