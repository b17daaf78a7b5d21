package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/model-bridge/backend/internal/experiment"
	"github.com/model-bridge/backend/internal/llm"
	"github.com/model-bridge/backend/internal/metrics"
	"github.com/model-bridge/backend/internal/storage/models"
	apperrors "github.com/model-bridge/backend/pkg/errors"
	"github.com/model-bridge/backend/pkg/logger"
)

type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

type Judge interface {
	Judge(ctx context.Context, model, prompt, response string) (*llm.QualityScore, error)
}

type Experiments interface {
	Get(ctx context.Context, organizationID, id string) (*models.Experiment, error)
	RecordObservation(ctx context.Context, req experiment.ObservationRequest) (*models.Observation, error)
}

type VariantConfig struct {
	Model               string   `json:"model"`
	SystemPrompt        string   `json:"system_prompt"`
	Temperature         *float32 `json:"temperature"`
	MaxTokens           int      `json:"max_tokens"`
	PromptCostPer1K     *float64 `json:"prompt_cost_per_1k"`
	CompletionCostPer1K *float64 `json:"completion_cost_per_1k"`
}

func (c VariantConfig) pricing(defaults llm.Pricing) *llm.Pricing {
	if c.PromptCostPer1K == nil && c.CompletionCostPer1K == nil {
		return nil
	}
	p := defaults
	if c.PromptCostPer1K != nil {
		p.PromptPer1K = *c.PromptCostPer1K
	}
	if c.CompletionCostPer1K != nil {
		p.CompletionPer1K = *c.CompletionCostPer1K
	}
	return &p
}

type Options struct {
	// JudgeModel enables quality_score grading when set and a Judge is given.
	JudgeModel string
	Pricing    llm.Pricing
}

type Runner struct {
	experiments Experiments
	completer   Completer
	judge       Judge
	opts        Options
}

func New(experiments Experiments, completer Completer, judge Judge, opts Options) *Runner {
	return &Runner{
		experiments: experiments,
		completer:   completer,
		judge:       judge,
		opts:        opts,
	}
}

type Execution struct {
	Output      string              `json:"output,omitempty"`
	Error       string              `json:"error,omitempty"`
	Observation *models.Observation `json:"observation"`
}

// Execute runs the variant a was assigned to against its input and records an
// observation. Provider failures are recorded as unsuccessful observations,
// not returned as errors.
func (r *Runner) Execute(ctx context.Context, organizationID string, a *models.Assignment) (*Execution, error) {
	exp, err := r.experiments.Get(ctx, organizationID, a.ExperimentID)
	if err != nil {
		return nil, err
	}

	variant, ok := exp.Variants.Get(a.Variant)
	if !ok {
		return nil, apperrors.InvalidConfiguration("variant is not part of the experiment", map[string]interface{}{
			"experiment_id": exp.ID,
			"variant":       a.Variant,
		})
	}

	cfg, err := ParseVariantConfig(variant.Config)
	if err != nil {
		return nil, apperrors.InvalidConfiguration(err.Error(), map[string]interface{}{
			"variant": variant.Key,
		})
	}

	prompt, err := PromptFromInput(a.Input)
	if err != nil {
		return nil, apperrors.BadRequest(err.Error())
	}

	start := time.Now()
	resp, callErr := r.completer.Complete(ctx, llm.CompletionRequest{
		Model:        cfg.Model,
		SystemPrompt: cfg.SystemPrompt,
		UserPrompt:   prompt,
		Temperature:  cfg.Temperature,
		MaxTokens:    cfg.MaxTokens,
		Pricing:      cfg.pricing(r.opts.Pricing),
	})
	elapsed := time.Since(start)

	model := cfg.Model
	if model == "" {
		model = "default"
	}
	metrics.VariantExecutionDuration.WithLabelValues(model).Observe(elapsed.Seconds())

	values := map[string]float64{
		models.MetricResponseTime: float64(elapsed.Microseconds()) / 1000,
	}
	exec := &Execution{}
	success := false

	if callErr != nil {
		exec.Error = callErr.Error()
		logger.Warn("Variant execution failed",
			zap.String("experiment_id", exp.ID),
			zap.String("variant", variant.Key),
			zap.Error(callErr),
		)
	} else {
		exec.Output = resp.Content
		success = strings.TrimSpace(resp.Content) != ""
		values[models.MetricTokens] = float64(resp.Usage.TotalTokens)
		values[models.MetricCost] = resp.Cost

		if success && r.judge != nil && r.opts.JudgeModel != "" {
			score, err := r.judge.Judge(ctx, r.opts.JudgeModel, prompt, resp.Content)
			if err != nil {
				logger.Warn("Quality scoring failed",
					zap.String("experiment_id", exp.ID),
					zap.String("variant", variant.Key),
					zap.Error(err),
				)
			} else {
				values[models.MetricQualityScore] = score.Score
			}
		}
	}

	obs, err := r.experiments.RecordObservation(ctx, experiment.ObservationRequest{
		OrganizationID: organizationID,
		ExperimentID:   exp.ID,
		Variant:        variant.Key,
		Metrics:        values,
		Success:        success,
	})
	if err != nil {
		return nil, err
	}
	exec.Observation = obs

	return exec, nil
}

// ParseVariantConfig decodes a variant config. An empty or null config runs
// the client's default model.
func ParseVariantConfig(raw json.RawMessage) (VariantConfig, error) {
	var cfg VariantConfig
	if len(raw) == 0 || string(raw) == "null" {
		return cfg, nil
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("variant config is not an LLM configuration: %w", err)
	}
	if cfg.MaxTokens < 0 {
		return cfg, fmt.Errorf("max_tokens must not be negative")
	}
	return cfg, nil
}

// PromptFromInput accepts a JSON string, an object with a "prompt" field, or
// any other JSON value, which is sent verbatim.
func PromptFromInput(input json.RawMessage) (string, error) {
	trimmed := strings.TrimSpace(string(input))
	if trimmed == "" || trimmed == "null" {
		return "", fmt.Errorf("input is required to execute a variant")
	}

	var s string
	if err := json.Unmarshal(input, &s); err == nil {
		return s, nil
	}

	var obj struct {
		Prompt *string `json:"prompt"`
	}
	if err := json.Unmarshal(input, &obj); err == nil && obj.Prompt != nil {
		return *obj.Prompt, nil
	}

	return trimmed, nil
}
