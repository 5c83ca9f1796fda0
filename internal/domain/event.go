package domain

import (
	"fmt"
	"strings"
)

// BillingFailureEvent is the trigger input: one billing cycle whose latest
// attempt failed. Settings are optional and resolved per shop when absent.
type BillingFailureEvent struct {
	Shop         string               `json:"shop"`
	Contract     SubscriptionContract `json:"contract"`
	BillingCycle BillingCycle         `json:"billingCycle"`
	Settings     *Settings            `json:"settings,omitempty"`
}

func (e BillingFailureEvent) Validate() error {
	if strings.TrimSpace(e.Shop) == "" {
		return fmt.Errorf("%w: shop is required", ErrValidation)
	}
	if err := e.Contract.Validate(); err != nil {
		return err
	}
	if err := e.BillingCycle.Validate(); err != nil {
		return err
	}
	if e.Settings != nil {
		return e.Settings.Validate()
	}
	return nil
}

// FailureReason is the error code of the latest billing attempt.
func (e BillingFailureEvent) FailureReason() BillingAttemptErrorCode {
	return e.BillingCycle.FailureReason()
}
