package domain

import (
	"fmt"
	"strings"
)

// OnFailure is the terminal action taken once the retry budget is exhausted.
type OnFailure string

const (
	OnFailureCancel OnFailure = "cancel"
	OnFailurePause  OnFailure = "pause"
	OnFailureSkip   OnFailure = "skip"
)

func (o OnFailure) String() string { return string(o) }

func (o OnFailure) IsValid() bool {
	switch o {
	case OnFailureCancel, OnFailurePause, OnFailureSkip:
		return true
	}
	return false
}

func ParseOnFailureFromString(s string) (OnFailure, error) {
	o := OnFailure(strings.ToLower(strings.TrimSpace(s)))
	if !o.IsValid() {
		return "", fmt.Errorf("%w: invalid onFailure %q", ErrValidation, s)
	}
	return o, nil
}

// DunningStatus is the customer-facing description of the terminal action.
type DunningStatus string

const (
	DunningStatusCanceled DunningStatus = "CANCELED"
	DunningStatusPaused   DunningStatus = "PAUSED"
	DunningStatusSkipped  DunningStatus = "SKIPPED"
)

func (s DunningStatus) String() string { return string(s) }

func (o OnFailure) DunningStatus() DunningStatus {
	switch o {
	case OnFailureCancel:
		return DunningStatusCanceled
	case OnFailurePause:
		return DunningStatusPaused
	case OnFailureSkip:
		return DunningStatusSkipped
	default:
		return ""
	}
}

// NotificationFrequency controls how often merchants hear about inventory failures.
type NotificationFrequency string

const (
	NotificationFrequencyImmediately NotificationFrequency = "immediately"
	NotificationFrequencyWeekly      NotificationFrequency = "weekly"
	NotificationFrequencyMonthly     NotificationFrequency = "monthly"
)

func (f NotificationFrequency) IsValid() bool {
	switch f {
	case NotificationFrequencyImmediately, NotificationFrequencyWeekly, NotificationFrequencyMonthly:
		return true
	}
	return false
}

// Transitional defaults applied while shops have not configured inventory dunning.
const (
	DefaultInventoryRetryAttempts            = 5
	DefaultInventoryDaysBetweenRetryAttempts = 1
)

// Settings is a shop's dunning policy.
type Settings struct {
	RetryAttempts                     int                   `json:"retryAttempts" yaml:"retryAttempts"`
	DaysBetweenRetryAttempts          int                   `json:"daysBetweenRetryAttempts" yaml:"daysBetweenRetryAttempts"`
	OnFailure                         OnFailure             `json:"onFailure" yaml:"onFailure"`
	InventoryRetryAttempts            *int                  `json:"inventoryRetryAttempts,omitempty" yaml:"inventoryRetryAttempts,omitempty"`
	InventoryDaysBetweenRetryAttempts *int                  `json:"inventoryDaysBetweenRetryAttempts,omitempty" yaml:"inventoryDaysBetweenRetryAttempts,omitempty"`
	InventoryNotificationFrequency    NotificationFrequency `json:"inventoryNotificationFrequency,omitempty" yaml:"inventoryNotificationFrequency,omitempty"`
}

func (s Settings) Validate() error {
	if s.RetryAttempts < 0 {
		return fmt.Errorf("%w: retryAttempts must not be negative", ErrValidation)
	}
	if s.DaysBetweenRetryAttempts < 0 {
		return fmt.Errorf("%w: daysBetweenRetryAttempts must not be negative", ErrValidation)
	}
	if !s.OnFailure.IsValid() {
		return fmt.Errorf("%w: invalid onFailure %q", ErrValidation, s.OnFailure)
	}
	if s.InventoryRetryAttempts != nil && *s.InventoryRetryAttempts < 0 {
		return fmt.Errorf("%w: inventoryRetryAttempts must not be negative", ErrValidation)
	}
	if s.InventoryDaysBetweenRetryAttempts != nil && *s.InventoryDaysBetweenRetryAttempts < 0 {
		return fmt.Errorf("%w: inventoryDaysBetweenRetryAttempts must not be negative", ErrValidation)
	}
	if s.InventoryNotificationFrequency != "" && !s.InventoryNotificationFrequency.IsValid() {
		return fmt.Errorf("%w: invalid inventoryNotificationFrequency %q", ErrValidation, s.InventoryNotificationFrequency)
	}
	return nil
}

func (s Settings) EffectiveInventoryRetryAttempts() int {
	if s.InventoryRetryAttempts == nil {
		return DefaultInventoryRetryAttempts
	}
	return *s.InventoryRetryAttempts
}

func (s Settings) EffectiveInventoryDaysBetweenRetryAttempts() int {
	if s.InventoryDaysBetweenRetryAttempts == nil {
		return DefaultInventoryDaysBetweenRetryAttempts
	}
	return *s.InventoryDaysBetweenRetryAttempts
}
