package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/model-bridge/backend/internal/analysis"
	"github.com/model-bridge/backend/internal/experiment"
	"github.com/model-bridge/backend/internal/middleware/validation"
	"github.com/model-bridge/backend/internal/storage/models"
	apperrors "github.com/model-bridge/backend/pkg/errors"
)

type AssignmentCounter interface {
	AssignmentCounts(ctx context.Context, experimentID string) (map[string]int64, error)
}

type ExperimentHandler struct {
	manager *experiment.Manager
	counter AssignmentCounter
}

// NewExperimentHandler builds the handler; counter may be nil when no cache
// is configured.
func NewExperimentHandler(manager *experiment.Manager, counter AssignmentCounter) *ExperimentHandler {
	return &ExperimentHandler{
		manager: manager,
		counter: counter,
	}
}

type createTestRequest struct {
	Name                    string              `json:"name" validate:"required,max=200"`
	Description             string              `json:"description" validate:"max=2000"`
	TestType                string              `json:"test_type"`
	Variants                models.Variants     `json:"variants" validate:"required"`
	TrafficSplit            models.TrafficSplit `json:"traffic_split" validate:"required"`
	SuccessMetrics          []string            `json:"success_metrics"`
	StatisticalSignificance float64             `json:"statistical_significance" validate:"gte=0,lt=1"`
	SignificanceMethod      string              `json:"significance_method" validate:"omitempty,oneof=threshold two_proportion_z"`
	DurationDays            int                 `json:"duration_days" validate:"gte=0"`
	AutoActivate            bool                `json:"auto_activate"`
}

func (h *ExperimentHandler) CreateTest(c *fiber.Ctx) error {
	org, err := organizationID(c)
	if err != nil {
		return respondError(c, err)
	}

	var req createTestRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	if err := validation.Struct(req); err != nil {
		return respondError(c, err)
	}

	exp, err := h.manager.Create(c.UserContext(), experiment.CreateRequest{
		OrganizationID:        org,
		CreatedBy:             actor(c),
		Name:                  req.Name,
		Description:           req.Description,
		TestType:              models.TestType(req.TestType),
		Variants:              req.Variants,
		TrafficSplit:          req.TrafficSplit,
		SuccessMetrics:        req.SuccessMetrics,
		SignificanceThreshold: req.StatisticalSignificance,
		SignificanceMethod:    models.SignificanceMethod(req.SignificanceMethod),
		DurationDays:          req.DurationDays,
		AutoActivate:          req.AutoActivate,
	})
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(exp)
}

func (h *ExperimentHandler) ListTests(c *fiber.Ctx) error {
	org, err := organizationID(c)
	if err != nil {
		return respondError(c, err)
	}

	status := models.ExperimentStatus(c.Query("status"))
	switch status {
	case "", models.StatusDraft, models.StatusActive, models.StatusStopped, models.StatusCompleted:
	default:
		return respondError(c, apperrors.BadRequestWithDetails("unknown status filter", map[string]interface{}{
			"status": string(status),
		}))
	}

	limit := c.QueryInt("limit", 0)
	if limit < 0 {
		return respondError(c, apperrors.BadRequest("limit must not be negative"))
	}

	experiments, err := h.manager.List(c.UserContext(), models.ExperimentFilter{
		OrganizationID: org,
		Status:         status,
		Limit:          limit,
	})
	if err != nil {
		return respondError(c, err)
	}
	if experiments == nil {
		experiments = []*models.Experiment{}
	}

	return c.JSON(fiber.Map{
		"tests": experiments,
		"count": len(experiments),
	})
}

func (h *ExperimentHandler) GetTest(c *fiber.Ctx) error {
	org, err := organizationID(c)
	if err != nil {
		return respondError(c, err)
	}

	exp, err := h.manager.Get(c.UserContext(), org, c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(exp)
}

type transitionFunc func(ctx context.Context, organizationID, id, actor string) (*models.Experiment, error)

func (h *ExperimentHandler) transition(c *fiber.Ctx, fn transitionFunc) error {
	org, err := organizationID(c)
	if err != nil {
		return respondError(c, err)
	}

	exp, err := fn(c.UserContext(), org, c.Params("id"), actor(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(exp)
}

func (h *ExperimentHandler) ActivateTest(c *fiber.Ctx) error {
	return h.transition(c, h.manager.Activate)
}

func (h *ExperimentHandler) StopTest(c *fiber.Ctx) error {
	return h.transition(c, h.manager.Stop)
}

func (h *ExperimentHandler) CompleteTest(c *fiber.Ctx) error {
	return h.transition(c, h.manager.Complete)
}

func (h *ExperimentHandler) analyze(c *fiber.Ctx) (*analysis.Result, error) {
	org, err := organizationID(c)
	if err != nil {
		return nil, err
	}
	return h.manager.Analyze(c.UserContext(), org, c.Params("id"))
}

func (h *ExperimentHandler) GetResults(c *fiber.Ctx) error {
	result, err := h.analyze(c)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(result)
}

func (h *ExperimentHandler) GetReport(c *fiber.Ctx) error {
	result, err := h.analyze(c)
	if err != nil {
		return respondError(c, err)
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.SendString(analysis.RenderReport(result))
}

func (h *ExperimentHandler) GetAssignmentCounts(c *fiber.Ctx) error {
	if h.counter == nil {
		return respondError(c, apperrors.NotFound("assignment counters are not enabled"))
	}

	org, err := organizationID(c)
	if err != nil {
		return respondError(c, err)
	}

	exp, err := h.manager.Get(c.UserContext(), org, c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}

	counts, err := h.counter.AssignmentCounts(c.UserContext(), exp.ID)
	if err != nil {
		return respondError(c, err)
	}

	// report every variant, including ones nobody was assigned to yet
	out := make(map[string]int64, len(exp.Variants))
	var total int64
	for _, key := range exp.Variants.Keys() {
		out[key] = counts[key]
		total += counts[key]
	}

	return c.JSON(fiber.Map{
		"test_id":     exp.ID,
		"assignments": out,
		"total":       total,
	})
}
