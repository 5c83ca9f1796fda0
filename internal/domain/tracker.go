package domain

import (
	"fmt"
	"strings"
	"time"
)

// TrackerKey uniquely identifies the dunning process of one failed cycle.
type TrackerKey struct {
	Shop              string
	ContractID        string
	BillingCycleIndex int
	FailureReason     string
}

func (k TrackerKey) Validate() error {
	if strings.TrimSpace(k.Shop) == "" {
		return fmt.Errorf("%w: shop is required", ErrValidation)
	}
	if strings.TrimSpace(k.ContractID) == "" {
		return fmt.Errorf("%w: contract id is required", ErrValidation)
	}
	if k.BillingCycleIndex < 0 {
		return fmt.Errorf("%w: billing cycle index must not be negative", ErrValidation)
	}
	if strings.TrimSpace(k.FailureReason) == "" {
		return fmt.Errorf("%w: failure reason is required", ErrValidation)
	}
	return nil
}

func (k TrackerKey) String() string {
	return fmt.Sprintf("%s/%s/%d/%s", k.Shop, k.ContractID, k.BillingCycleIndex, k.FailureReason)
}

// DunningTracker is the idempotency record for a TrackerKey. Once CompletedAt
// is set it is never cleared.
type DunningTracker struct {
	ID                 string     `json:"id"`
	Shop               string     `json:"shop"`
	ContractID         string     `json:"contractId"`
	BillingCycleIndex  int        `json:"billingCycleIndex"`
	FailureReason      string     `json:"failureReason"`
	CompletedAt        *time.Time `json:"completedAt,omitempty"`
	LastClaimedAttempt *int       `json:"lastClaimedAttempt,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

func (t DunningTracker) Key() TrackerKey {
	return TrackerKey{
		Shop:              t.Shop,
		ContractID:        t.ContractID,
		BillingCycleIndex: t.BillingCycleIndex,
		FailureReason:     t.FailureReason,
	}
}

func (t DunningTracker) IsCompleted() bool { return t.CompletedAt != nil }
