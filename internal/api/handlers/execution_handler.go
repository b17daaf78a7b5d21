package handlers

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"

	"github.com/model-bridge/backend/internal/experiment"
	"github.com/model-bridge/backend/internal/middleware/validation"
	"github.com/model-bridge/backend/internal/runner"
	apperrors "github.com/model-bridge/backend/pkg/errors"
)

type ExecutionHandler struct {
	manager *experiment.Manager
	runner  *runner.Runner
}

// NewExecutionHandler builds the handler; r is nil when LLM execution is
// disabled, in which case only assignments are served.
func NewExecutionHandler(manager *experiment.Manager, r *runner.Runner) *ExecutionHandler {
	return &ExecutionHandler{
		manager: manager,
		runner:  r,
	}
}

type executeRequest struct {
	TestID    string          `json:"test_id" validate:"required"`
	SubjectID string          `json:"subject_id" validate:"required"`
	Input     json.RawMessage `json:"input"`
	Run       bool            `json:"run"`
}

// Execute assigns the subject to a variant and, when run is set, executes
// that variant and records the outcome.
func (h *ExecutionHandler) Execute(c *fiber.Ctx) error {
	org, err := organizationID(c)
	if err != nil {
		return respondError(c, err)
	}

	var req executeRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	if err := validation.Struct(req); err != nil {
		return respondError(c, err)
	}
	if req.Run && h.runner == nil {
		return respondError(c, apperrors.BadRequest("variant execution is not enabled on this server"))
	}

	a, err := h.manager.RequestAssignment(c.UserContext(), org, req.TestID, req.SubjectID, req.Input)
	if err != nil {
		return respondError(c, err)
	}

	resp := fiber.Map{"assignment": a}
	if req.Run {
		exec, err := h.runner.Execute(c.UserContext(), org, a)
		if err != nil {
			return respondError(c, err)
		}
		resp["execution"] = exec
	}

	return c.JSON(resp)
}

type resultRequest struct {
	TestID  string              `json:"test_id" validate:"required"`
	Variant string              `json:"variant" validate:"required"`
	Metrics map[string]*float64 `json:"metrics"`
	Success bool                `json:"success"`
}

// RecordResult stores an externally measured outcome. Null metric values are
// dropped.
func (h *ExecutionHandler) RecordResult(c *fiber.Ctx) error {
	org, err := organizationID(c)
	if err != nil {
		return respondError(c, err)
	}

	var req resultRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	if err := validation.Struct(req); err != nil {
		return respondError(c, err)
	}

	values := make(map[string]float64, len(req.Metrics))
	for name, v := range req.Metrics {
		if v != nil {
			values[name] = *v
		}
	}

	obs, err := h.manager.RecordObservation(c.UserContext(), experiment.ObservationRequest{
		OrganizationID: org,
		ExperimentID:   req.TestID,
		Variant:        req.Variant,
		Metrics:        values,
		Success:        req.Success,
	})
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(obs)
}
