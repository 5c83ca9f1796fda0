package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spencook/subscriptions-reference-app-sub001/internal/domain"
	"github.com/spencook/subscriptions-reference-app-sub001/internal/observability"
	"github.com/spencook/subscriptions-reference-app-sub001/internal/queue"
	"github.com/spencook/subscriptions-reference-app-sub001/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultScanInterval = 5 * time.Second
	defaultScanLimit    = 100
	defaultMaxAttempts  = 5
	defaultStaleAfter   = 10 * time.Minute

	scannerLockName = "jobs-scanner"
)

// Locker is a cross-replica lease. The scanner skips a tick when another
// replica holds it.
type Locker interface {
	TryAcquire(ctx context.Context, name string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name string) error
}

type SchedulerOptions struct {
	Interval    time.Duration
	Limit       int
	MaxAttempts int
	// StaleAfter is how long a job may sit in QUEUED before the scanner
	// assumes its message was lost and publishes it again.
	StaleAfter time.Duration
	Locker     Locker
	Logger     *zap.Logger
}

// Scheduler persists jobs and publishes them to the job queue once due.
type Scheduler struct {
	jobs        repository.JobRepository
	publisher   queue.Publisher
	locker      Locker
	logger      *zap.Logger
	metrics     *observability.Metrics
	interval    time.Duration
	limit       int
	maxAttempts int
	staleAfter  time.Duration
	now         func() time.Time
}

func NewScheduler(jobs repository.JobRepository, publisher queue.Publisher, opts SchedulerOptions) (*Scheduler, error) {
	if jobs == nil {
		return nil, fmt.Errorf("job repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultScanInterval
	}
	if opts.Limit <= 0 {
		opts.Limit = defaultScanLimit
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = defaultStaleAfter
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Scheduler{
		jobs:        jobs,
		publisher:   publisher,
		locker:      opts.Locker,
		logger:      opts.Logger,
		interval:    opts.Interval,
		limit:       opts.Limit,
		maxAttempts: opts.MaxAttempts,
		staleAfter:  opts.StaleAfter,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *Scheduler) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Enqueue persists job as PENDING and publishes it right away when it is
// already due. A failed publish is not an error: the row stays PENDING and
// the scanner picks it up.
func (s *Scheduler) Enqueue(ctx context.Context, job domain.Job, opts domain.EnqueueOptions) error {
	now := s.now()
	job.Status = domain.JobStatusPending
	job.Attempts = 0
	job.RunAt = opts.RunAt(now)
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = s.maxAttempts
	}

	if err := s.jobs.Create(ctx, &job); err != nil {
		return fmt.Errorf("failed to persist %s job: %w", job.Kind, err)
	}
	s.metrics.IncJobScheduled(job.Kind.String())

	logger := observability.WithContextLogger(s.logger, ctx).With(
		zap.String("jobId", job.ID),
		zap.String("kind", job.Kind.String()),
		zap.String("shop", job.Shop),
	)
	if job.RunAt.After(now) {
		logger.Info("job scheduled", zap.Time("runAt", job.RunAt))
		return nil
	}

	if err := s.dispatch(ctx, job); err != nil {
		logger.Warn("job publish failed, left for scanner", zap.Error(err))
		return nil
	}
	logger.Info("job enqueued")
	return nil
}

func (s *Scheduler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.scan(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("job scanner initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.scan(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("job scanner scan failed", zap.Error(err))
			}
		}
	}
}

func (s *Scheduler) scan(ctx context.Context) error {
	if s.locker != nil {
		acquired, err := s.locker.TryAcquire(ctx, scannerLockName, s.interval)
		if err != nil {
			return fmt.Errorf("failed to acquire scanner lease: %w", err)
		}
		if !acquired {
			return nil
		}
		defer func() {
			if err := s.locker.Release(context.WithoutCancel(ctx), scannerLockName); err != nil {
				s.logger.Warn("failed to release scanner lease", zap.Error(err))
			}
		}()
	}

	now := s.now()
	requeued, err := s.jobs.RequeueStale(ctx, now.Add(-s.staleAfter))
	if err != nil {
		return fmt.Errorf("failed to requeue stale jobs: %w", err)
	}
	if requeued > 0 {
		s.logger.Warn("stale queued jobs reset to pending", zap.Int64("count", requeued))
	}

	due, err := s.jobs.GetDue(ctx, now, s.limit)
	if err != nil {
		return fmt.Errorf("failed to fetch due jobs: %w", err)
	}

	for i := range due {
		if err := s.dispatch(ctx, due[i]); err != nil {
			s.logger.Error("failed to enqueue due job",
				zap.String("jobId", due[i].ID),
				zap.String("kind", due[i].Kind.String()),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (s *Scheduler) dispatch(ctx context.Context, job domain.Job) error {
	correlationID, _ := observability.CorrelationIDFromContext(ctx)
	msg := queue.JobMessage{
		JobID:         job.ID,
		Kind:          job.Kind,
		CorrelationID: correlationID,
	}
	if err := s.publisher.Publish(ctx, queue.JobQueue, msg); err != nil {
		return err
	}

	err := s.jobs.MarkQueued(ctx, job.ID)
	if errors.Is(err, domain.ErrConflict) {
		s.logger.Info("job status changed before queue mark", zap.String("jobId", job.ID))
		return nil
	}
	return err
}
