package commerce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spencook/subscriptions-reference-app-sub001/internal/ratelimit"
	"go.uber.org/zap"
)

const (
	defaultTimeout     = 15 * time.Second
	accessTokenHeader  = "X-Shopify-Access-Token"
	throttledErrorCode = "THROTTLED"
)

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

// Client is a GraphQL client for the commerce platform admin API. Every call
// waits on the per-shop rate limiter first.
type Client struct {
	http        *resty.Client
	urlTemplate string
	accessToken string
	limiter     ratelimit.RateLimiter
	logger      *zap.Logger
}

type ClientOptions struct {
	// URLTemplate has one %s verb for the shop domain.
	URLTemplate string
	AccessToken string
	Limiter     ratelimit.RateLimiter
	HTTPClient  *resty.Client
	Logger      *zap.Logger
}

func NewClient(opts ClientOptions) (*Client, error) {
	urlTemplate := strings.TrimSpace(opts.URLTemplate)
	if urlTemplate == "" {
		return nil, fmt.Errorf("commerce url template is required")
	}
	if strings.Count(urlTemplate, "%s") != 1 {
		return nil, fmt.Errorf("commerce url template must contain exactly one %%s")
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = resty.New()
	}
	if httpClient.GetClient().Timeout == 0 {
		httpClient.SetTimeout(defaultTimeout)
	}
	httpClient.SetRetryCount(0)

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		http:        httpClient,
		urlTemplate: urlTemplate,
		accessToken: opts.AccessToken,
		limiter:     opts.Limiter,
		logger:      logger,
	}, nil
}

// Do runs one GraphQL operation against the shop and decodes the data
// object into out.
func (c *Client) Do(ctx context.Context, shop string, query string, variables map[string]any, out any) error {
	if c == nil || c.http == nil {
		return fmt.Errorf("commerce client is not initialized")
	}
	shop = strings.TrimSpace(shop)
	if shop == "" {
		return fmt.Errorf("shop is required")
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, shop); err != nil {
			return fmt.Errorf("commerce rate limit wait: %w", err)
		}
	}

	request := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(graphQLRequest{Query: query, Variables: variables})
	if c.accessToken != "" {
		request.SetHeader(accessTokenHeader, c.accessToken)
	}

	response, err := request.Post(fmt.Sprintf(c.urlTemplate, shop))
	if err != nil {
		return &ProviderError{
			Message:   "commerce request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}

	statusCode := response.StatusCode()
	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		return &ProviderError{
			StatusCode: statusCode,
			Message:    errorMessage(statusCode, strings.TrimSpace(response.String())),
			Transient:  isTransientHTTPStatus(statusCode),
		}
	}

	var envelope graphQLResponse
	if err := json.Unmarshal(response.Body(), &envelope); err != nil {
		return &ProviderError{
			StatusCode: statusCode,
			Message:    "invalid graphql response",
			Cause:      err,
		}
	}
	if len(envelope.Errors) > 0 {
		return graphQLErrorsToProviderError(statusCode, envelope.Errors)
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return ErrMissingPayload
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("decode graphql data: %w", err)
	}
	return nil
}

func graphQLErrorsToProviderError(statusCode int, errs []graphQLError) error {
	messages := make([]string, 0, len(errs))
	transient := false
	for _, e := range errs {
		messages = append(messages, e.Message)
		if e.Extensions.Code == throttledErrorCode {
			transient = true
		}
	}
	return &ProviderError{
		StatusCode: statusCode,
		Message:    "graphql errors: " + strings.Join(messages, "; "),
		Transient:  transient,
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func errorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("commerce returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}
