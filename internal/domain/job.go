package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// JobKind identifies the handler of a scheduled job.
type JobKind string

const (
	JobKindRebill                        JobKind = "rebill"
	JobKindInventoryMerchantNotification JobKind = "inventory_merchant_notification"
	JobKindCustomerPausedNotification    JobKind = "customer_paused_notification"
)

func (k JobKind) String() string { return string(k) }

func (k JobKind) IsValid() bool {
	switch k {
	case JobKindRebill, JobKindInventoryMerchantNotification, JobKindCustomerPausedNotification:
		return true
	}
	return false
}

// JobStatus represents the lifecycle state of a scheduled job.
type JobStatus string

const (
	JobStatusPending JobStatus = "PENDING"
	JobStatusQueued  JobStatus = "QUEUED"
	JobStatusRunning JobStatus = "RUNNING"
	JobStatusDone    JobStatus = "DONE"
	JobStatusFailed  JobStatus = "FAILED"
)

func (s JobStatus) String() string { return string(s) }

func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusQueued, JobStatusRunning, JobStatusDone, JobStatusFailed:
		return true
	}
	return false
}

func ParseJobStatusFromString(s string) (JobStatus, error) {
	st := JobStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid job status %q", ErrValidation, s)
	}
	return st, nil
}

// Job is a unit of deferred work. Delivery is at-least-once, so handlers
// must tolerate running the same job twice.
type Job struct {
	ID          string          `json:"id"`
	Kind        JobKind         `json:"kind"`
	Shop        string          `json:"shop"`
	Payload     json.RawMessage `json:"payload"`
	Status      JobStatus       `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	RunAt       time.Time       `json:"runAt"`
	LastError   *string         `json:"lastError,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

func (j *Job) Validate() error {
	if !j.Kind.IsValid() {
		return fmt.Errorf("%w: invalid job kind %q", ErrValidation, j.Kind)
	}
	if strings.TrimSpace(j.Shop) == "" {
		return fmt.Errorf("%w: job shop is required", ErrValidation)
	}
	if len(j.Payload) > 0 && !json.Valid(j.Payload) {
		return fmt.Errorf("%w: job payload is not valid JSON", ErrValidation)
	}
	return nil
}

// RebillPayload re-attempts billing for a contract, anchored at the failed attempt's origin time.
type RebillPayload struct {
	ContractID string    `json:"contractId"`
	OriginTime time.Time `json:"originTime"`
}

// CustomerPausedPayload tells a customer their subscription was paused.
type CustomerPausedPayload struct {
	ContractID string `json:"contractId"`
	CustomerID string `json:"customerId"`
}

func NewRebillJob(shop string, contractID string, originTime time.Time) (Job, error) {
	payload, err := json.Marshal(RebillPayload{ContractID: contractID, OriginTime: originTime})
	if err != nil {
		return Job{}, fmt.Errorf("failed to marshal rebill payload: %w", err)
	}
	return Job{Kind: JobKindRebill, Shop: shop, Payload: payload}, nil
}

func NewInventoryMerchantNotificationJob(shop string) Job {
	return Job{Kind: JobKindInventoryMerchantNotification, Shop: shop, Payload: json.RawMessage(`{}`)}
}

func NewCustomerPausedJob(shop string, contractID string, customerID string) (Job, error) {
	payload, err := json.Marshal(CustomerPausedPayload{ContractID: contractID, CustomerID: customerID})
	if err != nil {
		return Job{}, fmt.Errorf("failed to marshal customer paused payload: %w", err)
	}
	return Job{Kind: JobKindCustomerPausedNotification, Shop: shop, Payload: payload}, nil
}

// DecodePayload unmarshals the job payload into v.
func (j *Job) DecodePayload(v any) error {
	if len(j.Payload) == 0 {
		return fmt.Errorf("%w: job %s has no payload", ErrValidation, j.ID)
	}
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("%w: job %s payload: %v", ErrValidation, j.ID, err)
	}
	return nil
}

// EnqueueOptions controls when a job becomes due. A zero ScheduleTimeSeconds
// means as soon as possible.
type EnqueueOptions struct {
	ScheduleTimeSeconds int64
}

func (o EnqueueOptions) RunAt(now time.Time) time.Time {
	if o.ScheduleTimeSeconds <= 0 {
		return now
	}
	return time.Unix(o.ScheduleTimeSeconds, 0).UTC()
}
