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

type JobListParams struct {
	Status   *domain.JobStatus
	Kind     *domain.JobKind
	Shop     string
	Page     int
	PageSize int
}

type JobRepository interface {
	Create(ctx context.Context, job *domain.Job) error
	GetByID(ctx context.Context, id string) (*domain.Job, error)
	GetDue(ctx context.Context, now time.Time, limit int) ([]domain.Job, error)
	MarkQueued(ctx context.Context, id string) error
	LockForRunning(ctx context.Context, id string) (*domain.Job, error)
	MarkDone(ctx context.Context, id string) error
	Reschedule(ctx context.Context, id string, runAt time.Time, lastError string) error
	MarkFailed(ctx context.Context, id string, lastError string) error
	RequeueStale(ctx context.Context, olderThan time.Time) (int64, error)
	List(ctx context.Context, params JobListParams) ([]domain.Job, int64, error)
}

type GormJobRepo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormJobRepo(db *gorm.DB) *GormJobRepo {
	return &GormJobRepo{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (r *GormJobRepo) Create(ctx context.Context, job *domain.Job) error {
	if job == nil {
		return domain.ErrValidation
	}
	if err := job.Validate(); err != nil {
		return err
	}

	now := r.now()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = domain.JobStatusPending
	}
	if job.RunAt.IsZero() {
		job.RunAt = now
	}
	job.RunAt = job.RunAt.UTC()
	job.CreatedAt = now
	job.UpdatedAt = now

	model := jobModelFromDomain(job)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	*job = *jobModelToDomain(model)
	return nil
}

func (r *GormJobRepo) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	var model JobModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return jobModelToDomain(&model), nil
}

func (r *GormJobRepo) GetDue(ctx context.Context, now time.Time, limit int) ([]domain.Job, error) {
	var models []JobModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND run_at <= ?", domain.JobStatusPending, now.UTC()).
		Order("run_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	jobs := make([]domain.Job, 0, len(models))
	for i := range models {
		jobs = append(jobs, *jobModelToDomain(&models[i]))
	}
	return jobs, nil
}

// MarkQueued moves a pending job to QUEUED after its message was published.
// It returns ErrConflict when the job already left PENDING.
func (r *GormJobRepo) MarkQueued(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&JobModel{}).
		Where("id = ? AND status = ?", id, domain.JobStatusPending).
		Updates(map[string]any{
			"status":     domain.JobStatusQueued,
			"updated_at": r.now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

// LockForRunning claims a job for execution and counts the attempt. It
// returns nil without error when the job is finished or already running.
func (r *GormJobRepo) LockForRunning(ctx context.Context, id string) (*domain.Job, error) {
	var locked *domain.Job
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model JobModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&model, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}

		switch model.Status {
		case domain.JobStatusDone, domain.JobStatusFailed, domain.JobStatusRunning:
			return nil
		}

		model.Status = domain.JobStatusRunning
		model.Attempts++
		model.UpdatedAt = r.now()
		err = tx.Model(&JobModel{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"status":     model.Status,
				"attempts":   model.Attempts,
				"updated_at": model.UpdatedAt,
			}).Error
		if err != nil {
			return err
		}
		locked = jobModelToDomain(&model)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return locked, nil
}

func (r *GormJobRepo) MarkDone(ctx context.Context, id string) error {
	return r.setTerminal(ctx, id, domain.JobStatusDone, nil)
}

func (r *GormJobRepo) MarkFailed(ctx context.Context, id string, lastError string) error {
	return r.setTerminal(ctx, id, domain.JobStatusFailed, &lastError)
}

func (r *GormJobRepo) setTerminal(ctx context.Context, id string, status domain.JobStatus, lastError *string) error {
	updates := map[string]any{
		"status":     status,
		"updated_at": r.now(),
	}
	if lastError != nil {
		updates["last_error"] = *lastError
	}
	result := r.db.WithContext(ctx).
		Model(&JobModel{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Reschedule returns a job to PENDING so the scanner publishes it again at runAt.
func (r *GormJobRepo) Reschedule(ctx context.Context, id string, runAt time.Time, lastError string) error {
	result := r.db.WithContext(ctx).
		Model(&JobModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     domain.JobStatusPending,
			"run_at":     runAt.UTC(),
			"last_error": lastError,
			"updated_at": r.now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// RequeueStale resets jobs stuck in QUEUED since before olderThan, covering
// messages lost between publish and consume.
func (r *GormJobRepo) RequeueStale(ctx context.Context, olderThan time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&JobModel{}).
		Where("status = ? AND updated_at < ?", domain.JobStatusQueued, olderThan.UTC()).
		Updates(map[string]any{
			"status":     domain.JobStatusPending,
			"updated_at": r.now(),
		})
	return result.RowsAffected, result.Error
}

func (r *GormJobRepo) List(ctx context.Context, params JobListParams) ([]domain.Job, int64, error) {
	query := r.db.WithContext(ctx).Model(&JobModel{})

	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Kind != nil {
		query = query.Where("kind = ?", *params.Kind)
	}
	if params.Shop != "" {
		query = query.Where("shop = ?", params.Shop)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset, limit := pageBounds(params.Page, params.PageSize)

	var models []JobModel
	err := query.
		Order("run_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	jobs := make([]domain.Job, 0, len(models))
	for i := range models {
		jobs = append(jobs, *jobModelToDomain(&models[i]))
	}
	return jobs, total, nil
}
