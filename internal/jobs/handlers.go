package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/spencook/subscriptions-reference-app-sub001/internal/commerce"
	"github.com/spencook/subscriptions-reference-app-sub001/internal/domain"
	"github.com/spencook/subscriptions-reference-app-sub001/internal/observability"
	"go.uber.org/zap"
)

type BillingAttempter interface {
	BillingAttemptCreate(ctx context.Context, shop string, contractID string, idempotencyKey string, originTime time.Time) (commerce.BillingAttempt, error)
}

type OpenTrackerLister interface {
	ListOpen(ctx context.Context, shop string, failureReasons []string) ([]domain.DunningTracker, error)
}

type Notifier interface {
	SendCustomer(ctx context.Context, shop string, customerID string, input domain.TemplateInput) bool
	SendMerchant(ctx context.Context, shop string, input domain.TemplateInput) bool
}

// HandlerDeps are the collaborators of the built-in job handlers.
type HandlerDeps struct {
	Billing  BillingAttempter
	Trackers OpenTrackerLister
	Notifier Notifier
	Logger   *zap.Logger
}

// Handlers returns the handler for every job kind.
func Handlers(deps HandlerDeps) (map[domain.JobKind]Handler, error) {
	if deps.Billing == nil {
		return nil, fmt.Errorf("billing attempter is required")
	}
	if deps.Trackers == nil {
		return nil, fmt.Errorf("tracker lister is required")
	}
	if deps.Notifier == nil {
		return nil, fmt.Errorf("notifier is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	return map[domain.JobKind]Handler{
		domain.JobKindRebill:                        RebillHandler(deps.Billing, deps.Logger),
		domain.JobKindInventoryMerchantNotification: InventoryMerchantNotificationHandler(deps.Trackers, deps.Notifier, deps.Logger),
		domain.JobKindCustomerPausedNotification:    CustomerPausedHandler(deps.Notifier, deps.Logger),
	}, nil
}

// RebillHandler creates a new billing attempt for the contract. The job id is
// the idempotency key, so a redelivered job does not charge twice.
func RebillHandler(billing BillingAttempter, logger *zap.Logger) HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, job domain.Job) error {
		var payload domain.RebillPayload
		if err := job.DecodePayload(&payload); err != nil {
			return err
		}
		if payload.ContractID == "" {
			return fmt.Errorf("%w: rebill job %s has no contract id", domain.ErrValidation, job.ID)
		}

		attempt, err := billing.BillingAttemptCreate(ctx, job.Shop, payload.ContractID, job.ID, payload.OriginTime)
		if err != nil {
			return fmt.Errorf("rebill contract %s: %w", payload.ContractID, err)
		}

		fields := []zap.Field{
			zap.String("shop", job.Shop),
			zap.String("contractId", payload.ContractID),
			zap.String("billingAttemptId", attempt.ID),
			zap.Bool("ready", attempt.Ready),
		}
		if attempt.ErrorCode != "" {
			fields = append(fields, zap.String("errorCode", attempt.ErrorCode), zap.String("errorMessage", attempt.ErrorMessage))
		}
		observability.WithContextLogger(logger, ctx).Info("billing attempt created", fields...)
		return nil
	}
}

// InventoryMerchantNotificationHandler tells the merchant which contracts are
// currently failing on inventory.
func InventoryMerchantNotificationHandler(trackers OpenTrackerLister, notifier Notifier, logger *zap.Logger) HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, job domain.Job) error {
		open, err := trackers.ListOpen(ctx, job.Shop, domain.InventoryFailureReasons())
		if err != nil {
			return fmt.Errorf("list open inventory trackers: %w", err)
		}

		contractIDs := make([]string, 0, len(open))
		seen := make(map[string]struct{}, len(open))
		for _, tracker := range open {
			if _, ok := seen[tracker.ContractID]; ok {
				continue
			}
			seen[tracker.ContractID] = struct{}{}
			contractIDs = append(contractIDs, tracker.ContractID)
		}

		log := observability.WithContextLogger(logger, ctx).With(zap.String("shop", job.Shop))
		if len(contractIDs) == 0 {
			log.Info("no open inventory failures, merchant notification skipped")
			return nil
		}

		notifier.SendMerchant(ctx, job.Shop, domain.TemplateInput{
			Name: domain.TemplateMerchantInventoryFailure,
			Variables: map[string]any{
				"contractIds": contractIDs,
				"count":       len(contractIDs),
			},
		})
		log.Info("merchant inventory notification sent", zap.Int("contracts", len(contractIDs)))
		return nil
	}
}

// CustomerPausedHandler tells the customer their subscription was paused.
func CustomerPausedHandler(notifier Notifier, logger *zap.Logger) HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, job domain.Job) error {
		var payload domain.CustomerPausedPayload
		if err := job.DecodePayload(&payload); err != nil {
			return err
		}

		notifier.SendCustomer(ctx, job.Shop, payload.CustomerID, domain.TemplateInput{
			Name:      domain.TemplateCustomerSubscriptionPaused,
			Variables: map[string]any{"contractId": payload.ContractID},
		})
		observability.WithContextLogger(logger, ctx).Info("customer paused notification handled",
			zap.String("shop", job.Shop),
			zap.String("contractId", payload.ContractID),
		)
		return nil
	}
}
