package domain

import (
	"fmt"
	"strings"
)

// ContractStatus represents the lifecycle state of a subscription contract.
type ContractStatus string

const (
	ContractStatusActive    ContractStatus = "ACTIVE"
	ContractStatusPaused    ContractStatus = "PAUSED"
	ContractStatusFailed    ContractStatus = "FAILED"
	ContractStatusCancelled ContractStatus = "CANCELLED"
	ContractStatusExpired   ContractStatus = "EXPIRED"
)

func (s ContractStatus) String() string { return string(s) }

func (s ContractStatus) IsValid() bool {
	switch s {
	case ContractStatusActive, ContractStatusPaused, ContractStatusFailed, ContractStatusCancelled, ContractStatusExpired:
		return true
	}
	return false
}

// IsTerminal reports whether no further billing or escalation is possible.
func (s ContractStatus) IsTerminal() bool {
	return s == ContractStatusCancelled || s == ContractStatusExpired
}

func ParseContractStatusFromString(s string) (ContractStatus, error) {
	st := ContractStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid contract status %q", ErrValidation, s)
	}
	return st, nil
}

// SubscriptionContract is a snapshot of the contract taken when billing failed.
type SubscriptionContract struct {
	ID         string         `json:"id"`
	Status     ContractStatus `json:"status"`
	CustomerID string         `json:"customerId,omitempty"`
}

func (c SubscriptionContract) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("%w: contract id is required", ErrValidation)
	}
	if !c.Status.IsValid() {
		return fmt.Errorf("%w: invalid contract status %q", ErrValidation, c.Status)
	}
	return nil
}
