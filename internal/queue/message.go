package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spencook/subscriptions-reference-app-sub001/internal/domain"
)

// BillingFailureMessage is the broker payload of a dunning trigger.
type BillingFailureMessage struct {
	EventID       string `json:"eventId"`
	CorrelationID string `json:"correlationId,omitempty"`
	domain.BillingFailureEvent
}

func (m BillingFailureMessage) Validate() error {
	if strings.TrimSpace(m.EventID) == "" {
		return fmt.Errorf("eventId is required")
	}
	return m.BillingFailureEvent.Validate()
}

func (m BillingFailureMessage) MessageID() string { return m.EventID }

func (m BillingFailureMessage) Correlation() string { return m.CorrelationID }

// JobMessage tells a worker that a scheduled job is due.
type JobMessage struct {
	JobID         string         `json:"jobId"`
	Kind          domain.JobKind `json:"kind"`
	CorrelationID string         `json:"correlationId,omitempty"`
}

func (m JobMessage) Validate() error {
	if strings.TrimSpace(m.JobID) == "" {
		return fmt.Errorf("jobId is required")
	}
	if !m.Kind.IsValid() {
		return fmt.Errorf("invalid job kind %q", m.Kind)
	}
	return nil
}

func (m JobMessage) MessageID() string { return m.JobID }

func (m JobMessage) Correlation() string { return m.CorrelationID }

// BillingFailureHandler decodes trigger deliveries for fn.
func BillingFailureHandler(fn func(ctx context.Context, msg BillingFailureMessage) error) DeliveryHandler {
	return func(ctx context.Context, d Delivery) error {
		var msg BillingFailureMessage
		if err := decode(d, &msg); err != nil {
			return err
		}
		if msg.CorrelationID == "" {
			msg.CorrelationID = d.CorrelationID
		}
		return fn(ctx, msg)
	}
}

// JobHandler decodes job deliveries for fn.
func JobHandler(fn func(ctx context.Context, msg JobMessage) error) DeliveryHandler {
	return func(ctx context.Context, d Delivery) error {
		var msg JobMessage
		if err := decode(d, &msg); err != nil {
			return err
		}
		if msg.CorrelationID == "" {
			msg.CorrelationID = d.CorrelationID
		}
		return fn(ctx, msg)
	}
}

func decode(d Delivery, msg Message) error {
	if err := json.Unmarshal(d.Body, msg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return nil
}
