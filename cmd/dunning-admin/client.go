package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spencook/subscriptions-reference-app-sub001/internal/domain"
	"github.com/spencook/subscriptions-reference-app-sub001/internal/service"
)

const clientTimeout = 30 * time.Second

type apiError struct {
	Error string `json:"error"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

type trackerList struct {
	Data []domain.DunningTracker `json:"data"`
	Meta listMeta                `json:"meta"`
}

type jobList struct {
	Data []domain.Job `json:"data"`
	Meta listMeta     `json:"meta"`
}

// adminClient talks to the engine's HTTP admin surface.
type adminClient struct {
	http *resty.Client
}

func newAdminClient(baseURL string) (*adminClient, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid api url %q: %w", baseURL, err)
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(clientTimeout).
		SetHeader("Accept", "application/json")
	return &adminClient{http: client}, nil
}

func (c *adminClient) listTrackers(ctx context.Context, query url.Values) (trackerList, error) {
	var out trackerList
	err := c.do(ctx, "GET", "/v1/trackers", query, nil, &out)
	return out, err
}

func (c *adminClient) completeTracker(ctx context.Context, id string) (domain.DunningTracker, error) {
	var out domain.DunningTracker
	err := c.do(ctx, "POST", "/v1/trackers/"+url.PathEscape(id)+"/complete", nil, nil, &out)
	return out, err
}

func (c *adminClient) listJobs(ctx context.Context, query url.Values) (jobList, error) {
	var out jobList
	err := c.do(ctx, "GET", "/v1/jobs", query, nil, &out)
	return out, err
}

func (c *adminClient) getJob(ctx context.Context, id string) (domain.Job, error) {
	var out domain.Job
	err := c.do(ctx, "GET", "/v1/jobs/"+url.PathEscape(id), nil, nil, &out)
	return out, err
}

func (c *adminClient) evaluate(ctx context.Context, event json.RawMessage, correlationID string) (service.Evaluation, error) {
	var out service.Evaluation
	req := c.http.R()
	if correlationID != "" {
		req.SetHeader("X-Correlation-ID", correlationID)
	}
	err := c.send(ctx, req, "POST", "/v1/billing-failures", nil, []byte(event), &out)
	return out, err
}

func (c *adminClient) do(ctx context.Context, method string, path string, query url.Values, body any, out any) error {
	return c.send(ctx, c.http.R(), method, path, query, body, out)
}

func (c *adminClient) send(ctx context.Context, req *resty.Request, method string, path string, query url.Values, body any, out any) error {
	var apiErr apiError
	req.SetContext(ctx).SetResult(out).SetError(&apiErr)
	if query != nil {
		req.SetQueryParamsFromValues(query)
	}
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		message := apiErr.Error
		if message == "" {
			message = strings.TrimSpace(resp.String())
		}
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode(), message)
	}
	return nil
}
