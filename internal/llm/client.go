package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/model-bridge/backend/internal/metrics"
	"github.com/model-bridge/backend/pkg/circuitbreaker"
	"github.com/model-bridge/backend/pkg/logger"
	"github.com/model-bridge/backend/pkg/retry"
)

var ErrEmptyCompletion = errors.New("completion returned no choices")

type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
	Pricing     Pricing
}

// Pricing is USD per 1000 tokens.
type Pricing struct {
	PromptPer1K     float64
	CompletionPer1K float64
}

func (p Pricing) Cost(u Usage) float64 {
	return float64(u.PromptTokens)/1000*p.PromptPer1K + float64(u.CompletionTokens)/1000*p.CompletionPer1K
}

type Client struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	pricing     Pricing
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

type CompletionRequest struct {
	// Model falls back to the client default when empty.
	Model        string
	SystemPrompt string
	UserPrompt   string
	Temperature  *float32
	MaxTokens    int
	Pricing      *Pricing
}

type CompletionResponse struct {
	Content string
	Model   string
	Usage   Usage
	Cost    float64
	Latency time.Duration
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

func NewClient(cfg Config) *Client {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	cb := circuitbreaker.NewCircuitBreaker("llm", circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		IsFailure:        isProviderFailure,
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
		Logger: logger.GetLogger(),
	})

	retryConfig := retry.Config{
		Name:           "llm",
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		ShouldRetry:    shouldRetry,
		Logger:         logger.GetLogger(),
	}

	logger.Info("LLM client initialized",
		zap.String("model", cfg.Model),
		zap.String("base_url", clientConfig.BaseURL),
	)

	return &Client{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     timeout,
		pricing:     cfg.Pricing,
		cb:          cb,
		retryConfig: retryConfig,
	}
}

// statusOf extracts the HTTP status from go-openai errors, 0 when unknown.
func statusOf(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

// Client errors other than rate limiting will fail the same way again.
func isClientError(err error) bool {
	status := statusOf(err)
	return status >= 400 && status < 500 && status != http.StatusTooManyRequests
}

func shouldRetry(err error) bool {
	return retry.Transient(err) && !isClientError(err)
}

func isProviderFailure(err error) bool {
	return err != nil && !isClientError(err) && !errors.Is(err, context.Canceled)
}

func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	model := req.Model
	if model == "" {
		model = c.model
	}

	temperature := c.temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	pricing := c.pricing
	if req.Pricing != nil {
		pricing = *req.Pricing
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.UserPrompt,
	})

	var result *CompletionResponse

	err := c.cb.Execute(ctx, func(ctx context.Context) error {
		return retry.Do(ctx, c.retryConfig, func(ctx context.Context) error {
			start := time.Now()
			resp, err := c.client.CreateChatCompletion(
				ctx,
				openai.ChatCompletionRequest{
					Model:       model,
					Messages:    messages,
					Temperature: temperature,
					MaxTokens:   maxTokens,
				},
			)
			if err != nil {
				return fmt.Errorf("failed to create completion: %w", err)
			}
			if len(resp.Choices) == 0 {
				return retry.Permanent(ErrEmptyCompletion)
			}

			usage := Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			}
			result = &CompletionResponse{
				Content: resp.Choices[0].Message.Content,
				Model:   model,
				Usage:   usage,
				Cost:    pricing.Cost(usage),
				Latency: time.Since(start),
			}

			logger.Debug("LLM completion generated",
				zap.String("model", model),
				zap.Int("prompt_tokens", usage.PromptTokens),
				zap.Int("completion_tokens", usage.CompletionTokens),
			)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.LLMTokensUsed.WithLabelValues(model, "prompt").Add(float64(result.Usage.PromptTokens))
	metrics.LLMTokensUsed.WithLabelValues(model, "completion").Add(float64(result.Usage.CompletionTokens))
	metrics.LLMCost.WithLabelValues(model).Add(result.Cost)

	return result, nil
}

const judgePrompt = `You are an AI evaluation expert. Rate how well the response answers the prompt.

Consider relevance, accuracy and completeness.

Return JSON only:
{"score": 0.85, "reasoning": "short explanation"}

score is between 0 and 1.`

type QualityScore struct {
	Score     float64 `json:"score"`
	Reasoning string  `json:"reasoning"`
}

// Judge asks model to grade response against prompt.
func (c *Client) Judge(ctx context.Context, model, prompt, response string) (*QualityScore, error) {
	temperature := float32(0.1)
	resp, err := c.Complete(ctx, CompletionRequest{
		Model:        model,
		SystemPrompt: judgePrompt,
		UserPrompt:   fmt.Sprintf("Prompt: %s\n\nResponse: %s\n\nEvaluate the response.", prompt, response),
		Temperature:  &temperature,
		MaxTokens:    300,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate response: %w", err)
	}

	return parseQualityScore(resp.Content)
}

// parseQualityScore reads the first JSON object in content; models often wrap
// it in prose or code fences.
func parseQualityScore(content string) (*QualityScore, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON object in judge output")
	}

	var score QualityScore
	if err := json.Unmarshal([]byte(content[start:end+1]), &score); err != nil {
		return nil, fmt.Errorf("failed to parse judge output: %w", err)
	}
	if math.IsNaN(score.Score) || score.Score < 0 || score.Score > 1 {
		return nil, fmt.Errorf("judge score %v out of range", score.Score)
	}
	return &score, nil
}
