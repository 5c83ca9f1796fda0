package jobs

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/spencook/subscriptions-reference-app-sub001/internal/commerce"
	"github.com/spencook/subscriptions-reference-app-sub001/internal/domain"
	"github.com/spencook/subscriptions-reference-app-sub001/internal/observability"
	"github.com/spencook/subscriptions-reference-app-sub001/internal/queue"
	"github.com/spencook/subscriptions-reference-app-sub001/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	minWorkerConcurrency = 1
	maxRetryDelay        = 60 * time.Second
	baseRetryDelay       = time.Second
	maxRetryJitterMillis = 250
)

const (
	resultDone    = "done"
	resultRetried = "retried"
	resultFailed  = "failed"
)

// Handler runs one job. Jobs are delivered at least once, so handlers must
// be safe to run twice for the same job.
type Handler interface {
	Handle(ctx context.Context, job domain.Job) error
}

type HandlerFunc func(ctx context.Context, job domain.Job) error

func (f HandlerFunc) Handle(ctx context.Context, job domain.Job) error {
	return f(ctx, job)
}

// Worker consumes the job queue and runs the handler registered for each
// job kind.
type Worker struct {
	jobs        repository.JobRepository
	consumer    queue.Consumer
	handlers    map[domain.JobKind]Handler
	logger      *zap.Logger
	metrics     *observability.Metrics
	concurrency int
	now         func() time.Time
	randIntn    func(n int) int
}

func NewWorker(
	jobs repository.JobRepository,
	consumer queue.Consumer,
	handlers map[domain.JobKind]Handler,
	concurrency int,
	logger *zap.Logger,
) (*Worker, error) {
	if jobs == nil {
		return nil, fmt.Errorf("job repository is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if len(handlers) == 0 {
		return nil, fmt.Errorf("at least one job handler is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Worker{
		jobs:        jobs,
		consumer:    consumer,
		handlers:    handlers,
		logger:      logger,
		concurrency: concurrency,
		now:         func() time.Time { return time.Now().UTC() },
		randIntn:    rand.Intn,
	}, nil
}

func (w *Worker) SetMetrics(metrics *observability.Metrics) {
	if w == nil {
		return
	}
	w.metrics = metrics
}

// Start consumes the job queue with the configured concurrency until ctx is
// cancelled.
func (w *Worker) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			w.logger.Info("job worker started", zap.Int("workerId", workerID))

			err := w.consumer.Consume(groupCtx, queue.JobQueue, queue.JobHandler(w.process))
			if err != nil {
				w.logger.Error("job worker stopped with error",
					zap.Int("workerId", workerID),
					zap.Error(err),
				)
				return err
			}

			w.logger.Info("job worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

func (w *Worker) process(ctx context.Context, msg queue.JobMessage) error {
	if msg.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, msg.CorrelationID)
	}
	logger := observability.WithContextLogger(w.logger, ctx).With(zap.String("jobId", msg.JobID))

	job, err := w.jobs.LockForRunning(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warn("job not found during lock, skipping")
			return nil
		}
		return fmt.Errorf("failed to lock job for running: %w", err)
	}

	// Nil means finished or already running elsewhere.
	if job == nil {
		return nil
	}

	kind := job.Kind.String()
	logger = logger.With(
		zap.String("kind", kind),
		zap.String("shop", job.Shop),
		zap.Int("attempt", job.Attempts),
	)

	handler, ok := w.handlers[job.Kind]
	if !ok {
		logger.Error("no handler registered for job kind")
		if err := w.jobs.MarkFailed(ctx, job.ID, "no handler for kind "+kind); err != nil {
			return fmt.Errorf("failed to mark job failed: %w", err)
		}
		w.metrics.IncJobProcessed(kind, resultFailed)
		return nil
	}

	w.metrics.IncWorkerInFlight(kind)
	defer w.metrics.DecWorkerInFlight(kind)

	start := w.now()
	runErr := handler.Handle(ctx, *job)
	w.metrics.ObserveJobDuration(kind, w.now().Sub(start))

	if runErr == nil {
		if err := w.jobs.MarkDone(ctx, job.ID); err != nil {
			return fmt.Errorf("failed to mark job done: %w", err)
		}
		w.metrics.IncJobProcessed(kind, resultDone)
		logger.Info("job done")
		return nil
	}

	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	retryable := isRetryable(runErr)
	if retryable && job.Attempts < maxAttempts {
		nextRunAt := w.now().Add(w.computeRetryDelay(job.Attempts))
		if err := w.jobs.Reschedule(ctx, job.ID, nextRunAt, runErr.Error()); err != nil {
			return fmt.Errorf("failed to reschedule job: %w", err)
		}
		w.metrics.IncJobProcessed(kind, resultRetried)
		logger.Warn("job failed, rescheduled", zap.Time("runAt", nextRunAt), zap.Error(runErr))
		return nil
	}

	if err := w.jobs.MarkFailed(ctx, job.ID, runErr.Error()); err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	w.metrics.IncJobProcessed(kind, resultFailed)
	logger.Error("job failed",
		zap.Bool("retriesExhausted", retryable),
		zap.Error(runErr),
	)
	return nil
}

func (w *Worker) computeRetryDelay(attemptNumber int) time.Duration {
	if attemptNumber < 1 {
		attemptNumber = 1
	}

	delay := baseRetryDelay
	for i := 1; i < attemptNumber; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			delay = maxRetryDelay
			break
		}
	}

	jitterMillis := 0
	if w.randIntn != nil && maxRetryJitterMillis > 0 {
		jitterMillis = w.randIntn(maxRetryJitterMillis + 1)
	}

	return delay + time.Duration(jitterMillis)*time.Millisecond
}

// isRetryable treats rejected input and permanent platform answers as final.
// Anything else, including storage errors, is retried.
func isRetryable(err error) bool {
	if errors.Is(err, domain.ErrValidation) || errors.Is(err, commerce.ErrMissingPayload) {
		return false
	}

	var userErrs *commerce.UserErrorsError
	if errors.As(err, &userErrs) {
		return false
	}

	var providerErr *commerce.ProviderError
	if errors.As(err, &providerErr) {
		return commerce.IsTransient(err)
	}
	return true
}
