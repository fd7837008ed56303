package agents

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// DefaultBaseURL is the OpenRouter endpoint; any OpenAI-compatible API works
const DefaultBaseURL = "https://openrouter.ai/api/v1"

// ErrNoAPIKey is returned without a network call when no key is configured
var ErrNoAPIKey = errors.New("LLM API key not set")

// ErrEmptyCompletion is returned when the model answers with no text
var ErrEmptyCompletion = errors.New("LLM returned an empty completion")

var (
	llmRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storyforge_llm_requests_total",
			Help: "Requests sent to the LLM API by operation and status.",
		},
		[]string{"model", "operation", "status"},
	)
	llmRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storyforge_llm_request_duration_seconds",
			Help:    "LLM API request durations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model", "operation"},
	)
	llmTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storyforge_llm_tokens_total",
			Help: "Tokens reported by the LLM API, split into prompt and completion.",
		},
		[]string{"model", "kind"},
	)
)

// Config holds the LLM connection settings
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	// HistoryWindow is how many recent narrative entries are replayed to the model
	HistoryWindow int
	// HTTPTimeout caps a single HTTP exchange; the engine applies its own deadline too
	HTTPTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Model == "" {
		c.Model = "gpt-4o"
	}
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = 6
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 60 * time.Second
	}
}

// OpenRouterClient sends chat completions to an OpenAI-compatible API
type OpenRouterClient struct {
	api    *openai.Client
	apiKey string
	model  string
	logger *zap.Logger
}

// NewOpenRouterClient creates a client for the configured endpoint
func NewOpenRouterClient(cfg Config, logger *zap.Logger) *OpenRouterClient {
	cfg.applyDefaults()

	apiConfig := openai.DefaultConfig(cfg.APIKey)
	apiConfig.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	apiConfig.HTTPClient = &http.Client{
		Timeout:   cfg.HTTPTimeout,
		Transport: attributionTransport{base: http.DefaultTransport},
	}

	return &OpenRouterClient{
		api:    openai.NewClientWithConfig(apiConfig),
		apiKey: cfg.APIKey,
		model:  cfg.Model,
		logger: logger.Named("llm"),
	}
}

// attributionTransport adds the headers OpenRouter uses to attribute traffic
type attributionTransport struct {
	base http.RoundTripper
}

func (t attributionTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("HTTP-Referer", "https://storyforge.local")
	req.Header.Set("X-Title", "StoryForge")
	return t.base.RoundTrip(req)
}

// CompletionRequest is one chat completion call
type CompletionRequest struct {
	Operation   string
	Messages    []openai.ChatCompletionMessage
	Temperature float32
	MaxTokens   int
}

// CreateCompletion calls the API and returns the first choice's text
func (c *OpenRouterClient) CreateCompletion(ctx context.Context, req CompletionRequest) (string, error) {
	if c.apiKey == "" {
		llmRequests.WithLabelValues(c.model, req.Operation, "skipped").Inc()
		return "", ErrNoAPIKey
	}

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	took := time.Since(start)
	llmRequestDuration.WithLabelValues(c.model, req.Operation).Observe(took.Seconds())

	if err != nil {
		llmRequests.WithLabelValues(c.model, req.Operation, "error").Inc()
		c.logger.Warn("LLM request failed",
			zap.String("operation", req.Operation), zap.Duration("took", took), zap.Error(err))
		return "", fmt.Errorf("%s completion failed: %w", req.Operation, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		llmRequests.WithLabelValues(c.model, req.Operation, "empty").Inc()
		return "", ErrEmptyCompletion
	}

	llmRequests.WithLabelValues(c.model, req.Operation, "success").Inc()
	if resp.Usage.TotalTokens > 0 {
		llmTokens.WithLabelValues(c.model, "prompt").Add(float64(resp.Usage.PromptTokens))
		llmTokens.WithLabelValues(c.model, "completion").Add(float64(resp.Usage.CompletionTokens))
	}
	c.logger.Debug("LLM request completed",
		zap.String("operation", req.Operation),
		zap.Duration("took", took),
		zap.Int("totalTokens", resp.Usage.TotalTokens),
	)
	return resp.Choices[0].Message.Content, nil
}
