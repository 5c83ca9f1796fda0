package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spencook/subscriptions-reference-app-sub001/internal/domain"
	"go.uber.org/zap"
)

const defaultTimeout = 10 * time.Second

type Recipient string

const (
	RecipientCustomer Recipient = "customer"
	RecipientMerchant Recipient = "merchant"
)

type notificationRequest struct {
	Shop       string         `json:"shop"`
	Recipient  Recipient      `json:"recipient"`
	CustomerID string         `json:"customerId,omitempty"`
	Template   string         `json:"template"`
	Variables  map[string]any `json:"variables,omitempty"`
}

// Outcome is reported once per send attempt.
type Outcome func(recipient Recipient, template string, delivered bool)

// HTTPNotifier posts template notifications to the notification service.
// Failures are logged and reported as false, never returned.
type HTTPNotifier struct {
	client   *resty.Client
	endpoint string
	outcome  Outcome
	logger   *zap.Logger
}

func NewHTTPNotifier(endpoint string, logger *zap.Logger) (*HTTPNotifier, error) {
	client := resty.New()
	client.SetTimeout(defaultTimeout)
	client.SetRetryCount(0)

	return NewHTTPNotifierWithClient(endpoint, client, logger)
}

func NewHTTPNotifierWithClient(endpoint string, client *resty.Client, logger *zap.Logger) (*HTTPNotifier, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("notifier endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid notifier endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultTimeout)
	}
	client.SetRetryCount(0)
	if logger == nil {
		logger = zap.NewNop()
	}

	return &HTTPNotifier{
		client:   client,
		endpoint: trimmedEndpoint,
		logger:   logger,
	}, nil
}

// OnOutcome registers a callback, typically a metrics counter.
func (n *HTTPNotifier) OnOutcome(fn Outcome) {
	n.outcome = fn
}

func (n *HTTPNotifier) SendCustomer(ctx context.Context, shop string, customerID string, input domain.TemplateInput) bool {
	if strings.TrimSpace(customerID) == "" {
		n.logger.Warn("customer notification skipped, no customer id",
			zap.String("shop", shop),
			zap.String("template", input.Name),
		)
		n.report(RecipientCustomer, input.Name, false)
		return false
	}
	return n.send(ctx, notificationRequest{
		Shop:       shop,
		Recipient:  RecipientCustomer,
		CustomerID: customerID,
		Template:   input.Name,
		Variables:  input.Variables,
	})
}

func (n *HTTPNotifier) SendMerchant(ctx context.Context, shop string, input domain.TemplateInput) bool {
	return n.send(ctx, notificationRequest{
		Shop:      shop,
		Recipient: RecipientMerchant,
		Template:  input.Name,
		Variables: input.Variables,
	})
}

func (n *HTTPNotifier) send(ctx context.Context, req notificationRequest) bool {
	logger := n.logger.With(
		zap.String("shop", req.Shop),
		zap.String("recipient", string(req.Recipient)),
		zap.String("template", req.Template),
	)

	response, err := n.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		Post(n.endpoint)
	if err != nil {
		logger.Error("notification request failed", zap.Error(err))
		n.report(req.Recipient, req.Template, false)
		return false
	}

	statusCode := response.StatusCode()
	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		logger.Error("notification rejected",
			zap.Int("statusCode", statusCode),
			zap.String("body", strings.TrimSpace(response.String())),
		)
		n.report(req.Recipient, req.Template, false)
		return false
	}

	logger.Debug("notification sent")
	n.report(req.Recipient, req.Template, true)
	return true
}

func (n *HTTPNotifier) report(recipient Recipient, template string, delivered bool) {
	if n.outcome != nil {
		n.outcome(recipient, template, delivered)
	}
}
