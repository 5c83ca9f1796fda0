package domain

import (
	"fmt"
	"strings"
	"time"
)

// BillingCycleStatus is the billing state of a single cycle.
type BillingCycleStatus string

const (
	BillingCycleStatusUnbilled BillingCycleStatus = "UNBILLED"
	BillingCycleStatusBilled   BillingCycleStatus = "BILLED"
)

func (s BillingCycleStatus) String() string { return string(s) }

// BillingAttemptErrorCode classifies why a billing attempt failed. The value
// is also used as the tracker failure reason.
type BillingAttemptErrorCode string

const (
	ErrorCodePaymentMethodDeclined        BillingAttemptErrorCode = "PAYMENT_METHOD_DECLINED"
	ErrorCodeInsufficientFunds            BillingAttemptErrorCode = "INSUFFICIENT_FUNDS"
	ErrorCodeExpiredPaymentMethod         BillingAttemptErrorCode = "EXPIRED_PAYMENT_METHOD"
	ErrorCodePaymentMethodNotFound        BillingAttemptErrorCode = "PAYMENT_METHOD_NOT_FOUND"
	ErrorCodeAuthenticationError          BillingAttemptErrorCode = "AUTHENTICATION_ERROR"
	ErrorCodeInsufficientInventory        BillingAttemptErrorCode = "INSUFFICIENT_INVENTORY"
	ErrorCodeInventoryAllocationsNotFound BillingAttemptErrorCode = "INVENTORY_ALLOCATIONS_NOT_FOUND"
	ErrorCodeUnexpectedError              BillingAttemptErrorCode = "UNEXPECTED_ERROR"
)

func (c BillingAttemptErrorCode) String() string { return string(c) }

// IsInventoryFailure reports whether the code belongs to the inventory failure domain.
func (c BillingAttemptErrorCode) IsInventoryFailure() bool {
	return c == ErrorCodeInsufficientInventory || c == ErrorCodeInventoryAllocationsNotFound
}

// InventoryFailureReasons lists the error codes handled by inventory dunning.
func InventoryFailureReasons() []string {
	return []string{
		ErrorCodeInsufficientInventory.String(),
		ErrorCodeInventoryAllocationsNotFound.String(),
	}
}

// BillingAttempt is one concrete charge attempt for a billing cycle.
type BillingAttempt struct {
	ID           string                  `json:"id,omitempty"`
	Ready        bool                    `json:"ready"`
	OriginTime   time.Time               `json:"originTime"`
	ErrorCode    BillingAttemptErrorCode `json:"errorCode,omitempty"`
	ErrorMessage string                  `json:"errorMessage,omitempty"`
}

// BillingCycle is a snapshot of one scheduled charge occurrence and its attempts.
// Attempts are append-only, ordered oldest first.
type BillingCycle struct {
	CycleIndex                 int                `json:"cycleIndex"`
	Status                     BillingCycleStatus `json:"status"`
	BillingAttemptExpectedDate *time.Time         `json:"billingAttemptExpectedDate,omitempty"`
	Attempts                   []BillingAttempt   `json:"billingAttempts"`
}

func (c BillingCycle) AttemptsCount() int { return len(c.Attempts) }

func (c BillingCycle) IsBilled() bool { return c.Status == BillingCycleStatusBilled }

// AllAttemptsReady reports false as soon as one attempt is still processing.
func (c BillingCycle) AllAttemptsReady() bool {
	for _, attempt := range c.Attempts {
		if !attempt.Ready {
			return false
		}
	}
	return true
}

func (c BillingCycle) LastAttempt() (BillingAttempt, bool) {
	if len(c.Attempts) == 0 {
		return BillingAttempt{}, false
	}
	return c.Attempts[len(c.Attempts)-1], true
}

// FailureReason returns the error code of the most recent attempt.
func (c BillingCycle) FailureReason() BillingAttemptErrorCode {
	last, ok := c.LastAttempt()
	if !ok {
		return ""
	}
	return last.ErrorCode
}

func (c BillingCycle) Validate() error {
	if c.CycleIndex < 0 {
		return fmt.Errorf("%w: billing cycle index must not be negative", ErrValidation)
	}
	if strings.TrimSpace(c.Status.String()) == "" {
		return fmt.Errorf("%w: billing cycle status is required", ErrValidation)
	}
	return nil
}

// BillingCycleEditReason is the audit reason sent with a schedule edit.
type BillingCycleEditReason string

const BillingCycleEditReasonMerchantInitiated BillingCycleEditReason = "MERCHANT_INITIATED"

// BillingCycleScheduleEdit changes the schedule of a single billing cycle.
type BillingCycleScheduleEdit struct {
	Reason BillingCycleEditReason `json:"reason"`
	Skip   bool                   `json:"skip"`
}
