package repository

import (
	"time"

	"github.com/spencook/subscriptions-reference-app-sub001/internal/domain"
)

// TrackerModel is the persistence model for the dunning_trackers table.
type TrackerModel struct {
	ID                 string `gorm:"type:uuid;primaryKey"`
	Shop               string `gorm:"type:varchar(255);not null;uniqueIndex:idx_dunning_trackers_key,priority:1"`
	ContractID         string `gorm:"type:varchar(255);not null;uniqueIndex:idx_dunning_trackers_key,priority:2"`
	BillingCycleIndex  int    `gorm:"not null;uniqueIndex:idx_dunning_trackers_key,priority:3"`
	FailureReason      string `gorm:"type:varchar(64);not null;uniqueIndex:idx_dunning_trackers_key,priority:4"`
	CompletedAt        *time.Time
	LastClaimedAttempt *int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (TrackerModel) TableName() string {
	return "dunning_trackers"
}

// JobModel is the persistence model for the scheduled_jobs table.
type JobModel struct {
	ID          string           `gorm:"type:uuid;primaryKey"`
	Kind        domain.JobKind   `gorm:"type:varchar(64);not null"`
	Shop        string           `gorm:"type:varchar(255);not null"`
	Payload     string           `gorm:"type:jsonb;not null"`
	Status      domain.JobStatus `gorm:"type:varchar(20);not null"`
	Attempts    int              `gorm:"not null;default:0"`
	MaxAttempts int              `gorm:"not null;default:5"`
	RunAt       time.Time        `gorm:"not null"`
	LastError   *string          `gorm:"type:text"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (JobModel) TableName() string {
	return "scheduled_jobs"
}

func trackerModelFromDomain(t *domain.DunningTracker) *TrackerModel {
	if t == nil {
		return nil
	}

	return &TrackerModel{
		ID:                 t.ID,
		Shop:               t.Shop,
		ContractID:         t.ContractID,
		BillingCycleIndex:  t.BillingCycleIndex,
		FailureReason:      t.FailureReason,
		CompletedAt:        t.CompletedAt,
		LastClaimedAttempt: t.LastClaimedAttempt,
		CreatedAt:          t.CreatedAt,
		UpdatedAt:          t.UpdatedAt,
	}
}

func trackerModelToDomain(m *TrackerModel) *domain.DunningTracker {
	if m == nil {
		return nil
	}

	return &domain.DunningTracker{
		ID:                 m.ID,
		Shop:               m.Shop,
		ContractID:         m.ContractID,
		BillingCycleIndex:  m.BillingCycleIndex,
		FailureReason:      m.FailureReason,
		CompletedAt:        m.CompletedAt,
		LastClaimedAttempt: m.LastClaimedAttempt,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

func jobModelFromDomain(j *domain.Job) *JobModel {
	if j == nil {
		return nil
	}

	payload := string(j.Payload)
	if payload == "" {
		payload = "{}"
	}

	return &JobModel{
		ID:          j.ID,
		Kind:        j.Kind,
		Shop:        j.Shop,
		Payload:     payload,
		Status:      j.Status,
		Attempts:    j.Attempts,
		MaxAttempts: j.MaxAttempts,
		RunAt:       j.RunAt,
		LastError:   j.LastError,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}
}

func jobModelToDomain(m *JobModel) *domain.Job {
	if m == nil {
		return nil
	}

	return &domain.Job{
		ID:          m.ID,
		Kind:        m.Kind,
		Shop:        m.Shop,
		Payload:     []byte(m.Payload),
		Status:      m.Status,
		Attempts:    m.Attempts,
		MaxAttempts: m.MaxAttempts,
		RunAt:       m.RunAt,
		LastError:   m.LastError,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func pageBounds(page int, pageSize int) (int, int) {
	page = max(page, 1)
	if pageSize < 1 {
		pageSize = 50
	}
	pageSize = min(pageSize, 100)
	return (page - 1) * pageSize, pageSize
}
