package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/spencook/subscriptions-reference-app-sub001/internal/domain"
	"github.com/spencook/subscriptions-reference-app-sub001/internal/observability"
	"github.com/spencook/subscriptions-reference-app-sub001/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minTriggerConcurrency = 1

// BillingFailureHandler handles one billing failure event.
type BillingFailureHandler interface {
	Handle(ctx context.Context, event domain.BillingFailureEvent) (Evaluation, error)
}

// TriggerConsumer evaluates billing failures delivered on the trigger queue.
// Handler errors requeue the delivery; events that can never be evaluated
// are dead-lettered.
type TriggerConsumer struct {
	handler     BillingFailureHandler
	consumer    queue.Consumer
	concurrency int
	logger      *zap.Logger
}

func NewTriggerConsumer(handler BillingFailureHandler, consumer queue.Consumer, concurrency int, logger *zap.Logger) (*TriggerConsumer, error) {
	if handler == nil {
		return nil, fmt.Errorf("billing failure handler is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if concurrency < minTriggerConcurrency {
		concurrency = minTriggerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &TriggerConsumer{
		handler:     handler,
		consumer:    consumer,
		concurrency: concurrency,
		logger:      logger,
	}, nil
}

func (c *TriggerConsumer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < c.concurrency; i++ {
		consumerID := i + 1

		g.Go(func() error {
			c.logger.Info("trigger consumer started", zap.Int("consumerId", consumerID))

			err := c.consumer.Consume(groupCtx, queue.BillingFailureQueue, queue.BillingFailureHandler(c.process))
			if err != nil {
				c.logger.Error("trigger consumer stopped with error",
					zap.Int("consumerId", consumerID),
					zap.Error(err),
				)
				return err
			}

			c.logger.Info("trigger consumer stopped", zap.Int("consumerId", consumerID))
			return nil
		})
	}

	return g.Wait()
}

func (c *TriggerConsumer) process(ctx context.Context, msg queue.BillingFailureMessage) error {
	correlationID := msg.CorrelationID
	if correlationID == "" {
		correlationID = msg.EventID
	}
	ctx = observability.WithCorrelationID(ctx, correlationID)

	evaluation, err := c.handler.Handle(ctx, msg.BillingFailureEvent)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			return fmt.Errorf("%w: event %s: %v", queue.ErrInvalidMessage, msg.EventID, err)
		}
		return fmt.Errorf("failed to evaluate event %s: %w", msg.EventID, err)
	}

	observability.WithContextLogger(c.logger, ctx).Info("billing failure evaluated",
		zap.String("eventId", msg.EventID),
		zap.String("variant", evaluation.Variant.String()),
		zap.String("outcome", evaluation.Outcome.String()),
		zap.Bool("duplicate", evaluation.Duplicate),
	)
	return nil
}
