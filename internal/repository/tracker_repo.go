package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/spencook/subscriptions-reference-app-sub001/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TrackerListParams struct {
	Shop          string
	ContractID    string
	FailureReason string
	Open          *bool
	Page          int
	PageSize      int
}

type TrackerRepository interface {
	FindOrCreate(ctx context.Context, key domain.TrackerKey) (*domain.DunningTracker, error)
	MarkCompleted(ctx context.Context, tracker *domain.DunningTracker) error
	ClaimAttempt(ctx context.Context, trackerID string, attemptsCount int) (bool, error)
	ReleaseAttempt(ctx context.Context, trackerID string, attemptsCount int) error
	GetByID(ctx context.Context, id string) (*domain.DunningTracker, error)
	CompleteByID(ctx context.Context, id string) (*domain.DunningTracker, error)
	ListOpen(ctx context.Context, shop string, failureReasons []string) ([]domain.DunningTracker, error)
	List(ctx context.Context, params TrackerListParams) ([]domain.DunningTracker, int64, error)
}

type GormTrackerRepo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormTrackerRepo(db *gorm.DB) *GormTrackerRepo {
	return &GormTrackerRepo{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

var trackerKeyColumns = []clause.Column{
	{Name: "shop"},
	{Name: "contract_id"},
	{Name: "billing_cycle_index"},
	{Name: "failure_reason"},
}

// FindOrCreate inserts the tracker unless the key already exists and then
// reads the surviving row, so concurrent callers converge on one record.
func (r *GormTrackerRepo) FindOrCreate(ctx context.Context, key domain.TrackerKey) (*domain.DunningTracker, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	now := r.now()
	model := &TrackerModel{
		ID:                uuid.NewString(),
		Shop:              key.Shop,
		ContractID:        key.ContractID,
		BillingCycleIndex: key.BillingCycleIndex,
		FailureReason:     key.FailureReason,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: trackerKeyColumns, DoNothing: true}).
		Create(model).Error
	if err != nil {
		return nil, err
	}

	var existing TrackerModel
	err = r.db.WithContext(ctx).
		Where("shop = ? AND contract_id = ? AND billing_cycle_index = ? AND failure_reason = ?",
			key.Shop, key.ContractID, key.BillingCycleIndex, key.FailureReason).
		First(&existing).Error
	if err != nil {
		return nil, err
	}
	return trackerModelToDomain(&existing), nil
}

// MarkCompleted sets completed_at once. A tracker that is already completed
// keeps its original timestamp.
func (r *GormTrackerRepo) MarkCompleted(ctx context.Context, tracker *domain.DunningTracker) error {
	if tracker == nil {
		return domain.ErrNotFound
	}
	if tracker.IsCompleted() {
		return nil
	}

	now := r.now()
	result := r.db.WithContext(ctx).
		Model(&TrackerModel{}).
		Where("id = ? AND completed_at IS NULL", tracker.ID).
		Updates(map[string]any{
			"completed_at": now,
			"updated_at":   now,
		})
	if result.Error != nil {
		return result.Error
	}

	current, err := r.GetByID(ctx, tracker.ID)
	if err != nil {
		return err
	}
	*tracker = *current
	return nil
}

// ClaimAttempt records attemptsCount as acted on. It reports false when the
// same or a later attempt count was claimed before.
func (r *GormTrackerRepo) ClaimAttempt(ctx context.Context, trackerID string, attemptsCount int) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&TrackerModel{}).
		Where("id = ? AND (last_claimed_attempt IS NULL OR last_claimed_attempt < ?)", trackerID, attemptsCount).
		Updates(map[string]any{
			"last_claimed_attempt": attemptsCount,
			"updated_at":           r.now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *GormTrackerRepo) ReleaseAttempt(ctx context.Context, trackerID string, attemptsCount int) error {
	var previous any
	if attemptsCount > 1 {
		previous = attemptsCount - 1
	}
	return r.db.WithContext(ctx).
		Model(&TrackerModel{}).
		Where("id = ? AND last_claimed_attempt = ?", trackerID, attemptsCount).
		Updates(map[string]any{
			"last_claimed_attempt": previous,
			"updated_at":           r.now(),
		}).Error
}

func (r *GormTrackerRepo) GetByID(ctx context.Context, id string) (*domain.DunningTracker, error) {
	var model TrackerModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return trackerModelToDomain(&model), nil
}

// CompleteByID closes a tracker from an operator request. It returns
// ErrConflict when the tracker was already completed.
func (r *GormTrackerRepo) CompleteByID(ctx context.Context, id string) (*domain.DunningTracker, error) {
	now := r.now()
	result := r.db.WithContext(ctx).
		Model(&TrackerModel{}).
		Where("id = ? AND completed_at IS NULL", id).
		Updates(map[string]any{
			"completed_at": now,
			"updated_at":   now,
		})
	if result.Error != nil {
		return nil, result.Error
	}

	tracker, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if result.RowsAffected == 0 {
		return tracker, domain.ErrConflict
	}
	return tracker, nil
}

func (r *GormTrackerRepo) ListOpen(ctx context.Context, shop string, failureReasons []string) ([]domain.DunningTracker, error) {
	query := r.db.WithContext(ctx).
		Where("shop = ? AND completed_at IS NULL", shop)
	if len(failureReasons) > 0 {
		query = query.Where("failure_reason IN ?", failureReasons)
	}

	var models []TrackerModel
	if err := query.Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}

	trackers := make([]domain.DunningTracker, 0, len(models))
	for i := range models {
		trackers = append(trackers, *trackerModelToDomain(&models[i]))
	}
	return trackers, nil
}

func (r *GormTrackerRepo) List(ctx context.Context, params TrackerListParams) ([]domain.DunningTracker, int64, error) {
	query := r.db.WithContext(ctx).Model(&TrackerModel{})

	if params.Shop != "" {
		query = query.Where("shop = ?", params.Shop)
	}
	if params.ContractID != "" {
		query = query.Where("contract_id = ?", params.ContractID)
	}
	if params.FailureReason != "" {
		query = query.Where("failure_reason = ?", params.FailureReason)
	}
	if params.Open != nil {
		if *params.Open {
			query = query.Where("completed_at IS NULL")
		} else {
			query = query.Where("completed_at IS NOT NULL")
		}
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset, limit := pageBounds(params.Page, params.PageSize)

	var models []TrackerModel
	err := query.
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	trackers := make([]domain.DunningTracker, 0, len(models))
	for i := range models {
		trackers = append(trackers, *trackerModelToDomain(&models[i]))
	}

	return trackers, total, nil
}
