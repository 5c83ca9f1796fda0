package domain

// Notification template handles understood by the notifier.
const (
	TemplateCustomerPaymentFailureRetry       = "SUBSCRIPTION_PAYMENT_FAILURE_RETRY"
	TemplateCustomerPaymentFailureLastAttempt = "SUBSCRIPTION_PAYMENT_FAILURE_LAST_ATTEMPT"
	TemplateCustomerPaymentFailure            = "SUBSCRIPTION_PAYMENT_FAILURE"
	TemplateCustomerSubscriptionPaused        = "SUBSCRIPTION_PAUSED"
	TemplateMerchantPaymentFailure            = "SUBSCRIPTION_PAYMENT_FAILURE_MERCHANT"
	TemplateMerchantInventoryFailure          = "SUBSCRIPTION_INVENTORY_FAILURE_MERCHANT"
)

// TemplateInput selects a notification template and its variables.
type TemplateInput struct {
	Name      string         `json:"name"`
	Variables map[string]any `json:"variables,omitempty"`
}
