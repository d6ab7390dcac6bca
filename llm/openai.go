package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kestrelqa/kestrel/types"
)

// OpenAIConfig configures the OpenAI-compatible client.
type OpenAIConfig struct {
	// APIKey authenticates every request.
	APIKey string

	// BaseURL is the API root (e.g. "https://api.openai.com"). Any
	// OpenAI-compatible endpoint works.
	BaseURL string

	// DefaultModel is used when a request leaves Model empty.
	DefaultModel string

	// Timeout is the per-request HTTP timeout. Defaults to 60s.
	Timeout time.Duration

	// RequestsPerSecond rate-limits outgoing calls; 0 disables limiting.
	RequestsPerSecond float64

	// OnRequest, when set, is invoked after every completion attempt with
	// its model, duration, and outcome.
	OnRequest func(model string, duration time.Duration, err error)
}

// OpenAIClient implements Client against the OpenAI Chat Completions API.
type OpenAIClient struct {
	cfg     OpenAIConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewOpenAIClient creates a client.
func NewOpenAIClient(cfg OpenAIConfig, logger *zap.Logger) *OpenAIClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &OpenAIClient{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		logger:  logger.With(zap.String("component", "llm_client")),
	}
}

type chatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float32         `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Complete implements Client.
func (c *OpenAIClient) Complete(ctx context.Context, req *CompletionRequest) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limiter: %w", err)
		}
	}

	model := req.Model
	if model == "" {
		model = c.cfg.DefaultModel
	}

	body := chatCompletionRequest{
		Model:       model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.JSONMode {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", types.NewError(types.ErrValidation, "failed to encode completion request").WithCause(err)
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	start := time.Now()
	var reqErr error
	if c.cfg.OnRequest != nil {
		defer func() { c.cfg.OnRequest(model, time.Since(start), reqErr) }()
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		reqErr = types.NewError(types.ErrTransient, "completion request failed").WithCause(err)
		return "", reqErr
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		reqErr = mapHTTPError(resp.StatusCode, readErrorMessage(resp.Body))
		return "", reqErr
	}

	var decoded chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		reqErr = types.NewError(types.ErrTransient, "failed to decode completion response").WithCause(err)
		return "", reqErr
	}
	if len(decoded.Choices) == 0 {
		reqErr = types.NewError(types.ErrValidation, "completion response has no choices")
		return "", reqErr
	}

	c.logger.Debug("completion finished",
		zap.String("model", model),
		zap.Duration("duration", time.Since(start)),
		zap.String("finish_reason", decoded.Choices[0].FinishReason))

	return decoded.Choices[0].Message.Content, nil
}

// mapHTTPError maps an HTTP status to a coded error with the right
// retryability.
func mapHTTPError(status int, msg string) *types.Error {
	switch status {
	case http.StatusTooManyRequests:
		return types.Errorf(types.ErrTransient, "rate limit: %s", msg)
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return types.Errorf(types.ErrTransient, "%d upstream error: %s", status, msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return types.Errorf(types.ErrFatal, "authentication rejected: %s", msg)
	default:
		if status >= 500 {
			return types.Errorf(types.ErrTransient, "%d upstream error: %s", status, msg)
		}
		return types.Errorf(types.ErrFatal, "completion rejected (%d): %s", status, msg)
	}
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func readErrorMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return "unreadable error body"
	}
	var decoded apiError
	if err := json.Unmarshal(raw, &decoded); err == nil && decoded.Error.Message != "" {
		return decoded.Error.Message
	}
	return strings.TrimSpace(string(raw))
}
