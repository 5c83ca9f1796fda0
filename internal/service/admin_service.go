package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/spencook/subscriptions-reference-app-sub001/internal/domain"
	"github.com/spencook/subscriptions-reference-app-sub001/internal/repository"
	"go.uber.org/zap"
)

// AdminService backs the tracker and job admin surfaces.
type AdminService struct {
	trackers repository.TrackerRepository
	jobs     repository.JobRepository
	logger   *zap.Logger
}

func NewAdminService(trackers repository.TrackerRepository, jobs repository.JobRepository, logger *zap.Logger) (*AdminService, error) {
	if trackers == nil {
		return nil, fmt.Errorf("tracker repository is required")
	}
	if jobs == nil {
		return nil, fmt.Errorf("job repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminService{trackers: trackers, jobs: jobs, logger: logger}, nil
}

func (s *AdminService) ListTrackers(ctx context.Context, params repository.TrackerListParams) ([]domain.DunningTracker, int64, error) {
	params.Shop = strings.TrimSpace(params.Shop)
	return s.trackers.List(ctx, params)
}

func (s *AdminService) GetTracker(ctx context.Context, id string) (*domain.DunningTracker, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: tracker id is required", domain.ErrValidation)
	}
	return s.trackers.GetByID(ctx, id)
}

// CompleteTracker closes an open tracker by hand. Closing an already closed
// tracker is a conflict.
func (s *AdminService) CompleteTracker(ctx context.Context, id string) (*domain.DunningTracker, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: tracker id is required", domain.ErrValidation)
	}

	tracker, err := s.trackers.CompleteByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.logger.Info("dunning tracker completed manually",
		zap.String("trackerId", tracker.ID),
		zap.String("shop", tracker.Shop),
		zap.String("contractId", tracker.ContractID),
	)
	return tracker, nil
}

func (s *AdminService) ListJobs(ctx context.Context, params repository.JobListParams) ([]domain.Job, int64, error) {
	params.Shop = strings.TrimSpace(params.Shop)
	return s.jobs.List(ctx, params)
}

func (s *AdminService) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: job id is required", domain.ErrValidation)
	}
	return s.jobs.GetByID(ctx, id)
}
