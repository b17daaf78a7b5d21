package runner

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/model-bridge/backend/internal/experiment"
	"github.com/model-bridge/backend/internal/llm"
	"github.com/model-bridge/backend/internal/storage/memory"
	"github.com/model-bridge/backend/internal/storage/models"
	apperrors "github.com/model-bridge/backend/pkg/errors"
)

type fakeCompleter struct {
	requests []llm.CompletionRequest
	resp     *llm.CompletionResponse
	err      error
}

func (f *fakeCompleter) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

type fakeJudge struct {
	score float64
	err   error
	calls int
}

func (f *fakeJudge) Judge(ctx context.Context, model, prompt, response string) (*llm.QualityScore, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &llm.QualityScore{Score: f.score}, nil
}

func setup(t *testing.T) (*experiment.Manager, *memory.Store, *models.Assignment) {
	t.Helper()
	ctx := context.Background()

	store := memory.NewStore()
	manager := experiment.NewManager(store, experiment.Options{})

	exp, err := manager.Create(ctx, experiment.CreateRequest{
		OrganizationID: "org-1",
		Name:           "cheap vs smart",
		TestType:       models.TestTypeCostOptimization,
		Variants: models.Variants{
			{Key: "cheap", Config: json.RawMessage(`{"model":"mini","system_prompt":"be brief","temperature":0,"prompt_cost_per_1k":0.5}`)},
			{Key: "smart", Config: json.RawMessage(`{"model":"large","max_tokens":512}`)},
		},
		TrafficSplit: models.TrafficSplit{{Variant: "cheap", Weight: 1}, {Variant: "smart", Weight: 0}},
		AutoActivate: true,
	})
	require.NoError(t, err)

	a, err := manager.RequestAssignment(ctx, "org-1", exp.ID, "user-1", json.RawMessage(`{"prompt":"summarize this"}`))
	require.NoError(t, err)
	require.Equal(t, "cheap", a.Variant)

	return manager, store, a
}

func TestExecuteRecordsObservation(t *testing.T) {
	manager, store, a := setup(t)
	completer := &fakeCompleter{resp: &llm.CompletionResponse{
		Content: "short summary",
		Usage:   llm.Usage{PromptTokens: 20, CompletionTokens: 10, TotalTokens: 30},
		Cost:    0.004,
	}}
	judge := &fakeJudge{score: 0.9}

	r := New(manager, completer, judge, Options{
		JudgeModel: "judge",
		Pricing:    llm.Pricing{PromptPer1K: 1, CompletionPer1K: 2},
	})

	exec, err := r.Execute(context.Background(), "org-1", a)
	require.NoError(t, err)

	assert.Equal(t, "short summary", exec.Output)
	assert.Empty(t, exec.Error)
	require.NotNil(t, exec.Observation)
	assert.True(t, exec.Observation.Success)
	assert.Equal(t, "cheap", exec.Observation.Variant)
	assert.Equal(t, 30.0, exec.Observation.Metrics[models.MetricTokens])
	assert.InDelta(t, 0.004, exec.Observation.Metrics[models.MetricCost], 1e-12)
	assert.InDelta(t, 0.9, exec.Observation.Metrics[models.MetricQualityScore], 1e-12)
	assert.Contains(t, exec.Observation.Metrics, models.MetricResponseTime)
	assert.Equal(t, 1, judge.calls)

	require.Len(t, completer.requests, 1)
	req := completer.requests[0]
	assert.Equal(t, "mini", req.Model)
	assert.Equal(t, "be brief", req.SystemPrompt)
	assert.Equal(t, "summarize this", req.UserPrompt)
	require.NotNil(t, req.Temperature)
	assert.Equal(t, float32(0), *req.Temperature)
	require.NotNil(t, req.Pricing)
	assert.Equal(t, llm.Pricing{PromptPer1K: 0.5, CompletionPer1K: 2}, *req.Pricing)

	observations, err := store.LoadObservations(context.Background(), a.ExperimentID)
	require.NoError(t, err)
	assert.Len(t, observations, 1)
}

func TestExecuteRecordsProviderFailure(t *testing.T) {
	manager, _, a := setup(t)
	completer := &fakeCompleter{err: errors.New("upstream unavailable")}
	judge := &fakeJudge{score: 1}

	exec, err := New(manager, completer, judge, Options{JudgeModel: "judge"}).Execute(context.Background(), "org-1", a)
	require.NoError(t, err)

	assert.Contains(t, exec.Error, "upstream unavailable")
	assert.False(t, exec.Observation.Success)
	assert.NotContains(t, exec.Observation.Metrics, models.MetricCost)
	assert.Contains(t, exec.Observation.Metrics, models.MetricResponseTime)
	assert.Zero(t, judge.calls)
}

func TestExecuteJudgeFailureKeepsObservation(t *testing.T) {
	manager, _, a := setup(t)
	completer := &fakeCompleter{resp: &llm.CompletionResponse{Content: "ok"}}
	judge := &fakeJudge{err: errors.New("bad json")}

	exec, err := New(manager, completer, judge, Options{JudgeModel: "judge"}).Execute(context.Background(), "org-1", a)
	require.NoError(t, err)

	assert.True(t, exec.Observation.Success)
	assert.NotContains(t, exec.Observation.Metrics, models.MetricQualityScore)
}

func TestExecuteWithoutJudge(t *testing.T) {
	manager, _, a := setup(t)
	completer := &fakeCompleter{resp: &llm.CompletionResponse{Content: "   "}}

	exec, err := New(manager, completer, nil, Options{}).Execute(context.Background(), "org-1", a)
	require.NoError(t, err)

	assert.False(t, exec.Observation.Success, "blank output is not a success")
	assert.Nil(t, completer.requests[0].Pricing)
}

func TestExecuteScopesByOrganization(t *testing.T) {
	manager, _, a := setup(t)
	completer := &fakeCompleter{resp: &llm.CompletionResponse{Content: "ok"}}

	_, err := New(manager, completer, nil, Options{}).Execute(context.Background(), "org-2", a)
	assert.True(t, apperrors.IsNotFound(err))
	assert.Empty(t, completer.requests)
}

func TestExecuteRequiresInput(t *testing.T) {
	manager, _, a := setup(t)
	a.Input = nil

	_, err := New(manager, &fakeCompleter{}, nil, Options{}).Execute(context.Background(), "org-1", a)
	assert.True(t, apperrors.IsValidation(err))
}

func TestParseVariantConfig(t *testing.T) {
	cfg, err := ParseVariantConfig(nil)
	require.NoError(t, err)
	assert.Empty(t, cfg.Model)

	cfg, err = ParseVariantConfig(json.RawMessage(`{"model":"gpt-4o","max_tokens":100}`))
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", cfg.Model)
	assert.Equal(t, 100, cfg.MaxTokens)
	assert.Nil(t, cfg.Temperature)

	_, err = ParseVariantConfig(json.RawMessage(`"gpt-4o"`))
	assert.Error(t, err)

	_, err = ParseVariantConfig(json.RawMessage(`{"max_tokens":-1}`))
	assert.Error(t, err)
}

func TestPromptFromInput(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"string", `"hello"`, "hello", false},
		{"prompt field", `{"prompt":"hi there","user":"u1"}`, "hi there", false},
		{"other object", `{"question":"why"}`, `{"question":"why"}`, false},
		{"empty", ``, "", true},
		{"null", `null`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PromptFromInput(json.RawMessage(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
