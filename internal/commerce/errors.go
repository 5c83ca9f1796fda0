package commerce

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrMissingPayload is returned when a mutation response carries neither a
// payload nor user errors.
var ErrMissingPayload = errors.New("commerce: mutation returned no payload")

// ProviderError classifies commerce API call failures as transient/permanent.
type ProviderError struct {
	StatusCode int
	Message    string
	Transient  bool
	Cause      error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "commerce error")

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// UserError is one business-rule rejection reported by the platform.
type UserError struct {
	Field   []string `json:"field"`
	Message string   `json:"message"`
	Code    string   `json:"code,omitempty"`
}

func (u UserError) String() string {
	var b strings.Builder
	if len(u.Field) > 0 {
		b.WriteString(strings.Join(u.Field, "."))
		b.WriteString(": ")
	}
	b.WriteString(u.Message)
	if u.Code != "" {
		fmt.Fprintf(&b, " (%s)", u.Code)
	}
	return b.String()
}

// UserErrorsError is returned when a mutation reports non-empty userErrors.
type UserErrorsError struct {
	Operation string
	Errors    []UserError
}

func (e *UserErrorsError) Error() string {
	if e == nil {
		return "<nil>"
	}
	messages := make([]string, 0, len(e.Errors))
	for _, u := range e.Errors {
		messages = append(messages, u.String())
	}
	return fmt.Sprintf("%s rejected: %s", e.Operation, strings.Join(messages, "; "))
}

// IsTransient reports whether an error should be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var userErrs *UserErrorsError
	if errors.As(err, &userErrs) {
		return false
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}
