package handler

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/spencook/subscriptions-reference-app-sub001/internal/domain"
	"github.com/spencook/subscriptions-reference-app-sub001/internal/observability"
	"github.com/spencook/subscriptions-reference-app-sub001/internal/repository"
	"github.com/spencook/subscriptions-reference-app-sub001/internal/service"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
	maxPageSize     = 100

	headerCorrelationID = "X-Correlation-ID"
)

type BillingFailureService interface {
	Handle(ctx context.Context, event domain.BillingFailureEvent) (service.Evaluation, error)
}

type AdminService interface {
	ListTrackers(ctx context.Context, params repository.TrackerListParams) ([]domain.DunningTracker, int64, error)
	GetTracker(ctx context.Context, id string) (*domain.DunningTracker, error)
	CompleteTracker(ctx context.Context, id string) (*domain.DunningTracker, error)
	ListJobs(ctx context.Context, params repository.JobListParams) ([]domain.Job, int64, error)
	GetJob(ctx context.Context, id string) (*domain.Job, error)
}

type DunningHandler struct {
	billing BillingFailureService
	admin   AdminService
}

func NewDunningHandler(billing BillingFailureService, admin AdminService) (*DunningHandler, error) {
	if billing == nil {
		return nil, fmt.Errorf("billing failure service is required")
	}
	if admin == nil {
		return nil, fmt.Errorf("admin service is required")
	}
	return &DunningHandler{billing: billing, admin: admin}, nil
}

func RegisterDunningRoutes(router fiber.Router, billing BillingFailureService, admin AdminService) error {
	h, err := NewDunningHandler(billing, admin)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/billing-failures", h.EvaluateBillingFailure)
	v1.Get("/trackers", h.ListTrackers)
	v1.Get("/trackers/:id", h.GetTracker)
	v1.Post("/trackers/:id/complete", h.CompleteTracker)
	v1.Get("/jobs", h.ListJobs)
	v1.Get("/jobs/:id", h.GetJob)

	return nil
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

type listTrackersResponse struct {
	Data []domain.DunningTracker `json:"data"`
	Meta listMeta                `json:"meta"`
}

type listJobsResponse struct {
	Data []domain.Job `json:"data"`
	Meta listMeta     `json:"meta"`
}

// EvaluateBillingFailure runs the dunning engine synchronously for one event.
func (h *DunningHandler) EvaluateBillingFailure(c *fiber.Ctx) error {
	var event domain.BillingFailureEvent
	if err := c.BodyParser(&event); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	ctx := context.Context(c.Context())
	if correlationID := requestCorrelationID(c); correlationID != "" {
		ctx = observability.WithCorrelationID(ctx, correlationID)
	}

	evaluation, err := h.billing.Handle(ctx, event)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(evaluation)
}

func (h *DunningHandler) ListTrackers(c *fiber.Ctx) error {
	page, pageSize, err := parsePagination(c)
	if err != nil {
		return err
	}

	params := repository.TrackerListParams{
		Shop:          strings.TrimSpace(c.Query("shop")),
		ContractID:    strings.TrimSpace(c.Query("contractId")),
		FailureReason: strings.TrimSpace(c.Query("failureReason")),
		Page:          page,
		PageSize:      pageSize,
	}
	if raw := strings.TrimSpace(c.Query("open")); raw != "" {
		open, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("%w: open must be a boolean", domain.ErrValidation)
		}
		params.Open = &open
	}

	trackers, total, err := h.admin.ListTrackers(c.Context(), params)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(listTrackersResponse{
		Data: trackers,
		Meta: listMeta{Page: page, PageSize: pageSize, Total: total},
	})
}

func (h *DunningHandler) GetTracker(c *fiber.Ctx) error {
	tracker, err := h.admin.GetTracker(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(tracker)
}

func (h *DunningHandler) CompleteTracker(c *fiber.Ctx) error {
	tracker, err := h.admin.CompleteTracker(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(tracker)
}

func (h *DunningHandler) ListJobs(c *fiber.Ctx) error {
	page, pageSize, err := parsePagination(c)
	if err != nil {
		return err
	}

	params := repository.JobListParams{
		Shop:     strings.TrimSpace(c.Query("shop")),
		Page:     page,
		PageSize: pageSize,
	}
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		status, err := domain.ParseJobStatusFromString(raw)
		if err != nil {
			return err
		}
		params.Status = &status
	}
	if raw := strings.TrimSpace(c.Query("kind")); raw != "" {
		kind := domain.JobKind(strings.ToLower(raw))
		if !kind.IsValid() {
			return fmt.Errorf("%w: invalid job kind %q", domain.ErrValidation, raw)
		}
		params.Kind = &kind
	}

	jobs, total, err := h.admin.ListJobs(c.Context(), params)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(listJobsResponse{
		Data: jobs,
		Meta: listMeta{Page: page, PageSize: pageSize, Total: total},
	})
}

func (h *DunningHandler) GetJob(c *fiber.Ctx) error {
	job, err := h.admin.GetJob(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(job)
}

func parsePagination(c *fiber.Ctx) (int, int, error) {
	page := defaultPage
	if raw := strings.TrimSpace(c.Query("page")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return 0, 0, fmt.Errorf("%w: page must be a positive integer", domain.ErrValidation)
		}
		page = parsed
	}

	pageSize := defaultPageSize
	if raw := strings.TrimSpace(c.Query("pageSize")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return 0, 0, fmt.Errorf("%w: pageSize must be a positive integer", domain.ErrValidation)
		}
		pageSize = parsed
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	return page, pageSize, nil
}

func requestCorrelationID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(headerCorrelationID)); value != "" {
		return value
	}
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	if value, ok := c.Locals("requestid").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}
