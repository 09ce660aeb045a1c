package llmclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/config"
)

const defaultGroqEndpoint = "https://api.groq.com"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// GroqClient is a ReasoningProvider backed by Groq's OpenAI-compatible chat API.
type GroqClient struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
	cfg        config.LLMConfig
	logger     *zap.Logger

	backoffFactory func() backoff.BackOff
}

var _ schemas.ReasoningProvider = (*GroqClient)(nil)

// -- Chat completion wire types --

type groqMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type groqResponseFormat struct {
	Type string `json:"type"`
}

type groqRequest struct {
	Model          string              `json:"model"`
	Messages       []groqMessage       `json:"messages"`
	Temperature    float32             `json:"temperature"`
	TopP           float32             `json:"top_p,omitempty"`
	MaxTokens      int                 `json:"max_tokens,omitempty"`
	ResponseFormat *groqResponseFormat `json:"response_format,omitempty"`
}

type groqResponse struct {
	Choices []struct {
		Message      groqMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// NewGroqClient initializes the client. cfg.Endpoint overrides the API host.
func NewGroqClient(cfg config.LLMConfig, logger *zap.Logger) (*GroqClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Groq API key is required (set llm.api_key or GROQ_API_KEY)")
	}
	if cfg.Model == "" {
		cfg.Model = config.DefaultModel(config.ProviderGroq)
	}
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = defaultGroqEndpoint
	}

	return &GroqClient{
		apiKey:         cfg.APIKey,
		endpoint:       endpoint + "/openai/v1/chat/completions",
		httpClient:     &http.Client{Timeout: cfg.APITimeout},
		cfg:            cfg,
		logger:         logger.Named("llm.groq"),
		backoffFactory: defaultBackoff(cfg.APITimeout),
	}, nil
}

// defaultBackoff retries within the api_timeout budget.
func defaultBackoff(budget time.Duration) func() backoff.BackOff {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 500 * time.Millisecond
		b.MaxInterval = 10 * time.Second
		b.MaxElapsedTime = budget
		return b
	}
}

// Name implements schemas.ReasoningProvider.
func (c *GroqClient) Name() string { return string(config.ProviderGroq) }

func (c *GroqClient) buildRequest(conv schemas.Conversation) groqRequest {
	return groqRequest{
		Model: c.cfg.Model,
		Messages: []groqMessage{
			{Role: "system", Content: systemInstruction(conv)},
			{Role: "user", Content: userPrompt(conv)},
		},
		Temperature:    c.cfg.Temperature,
		TopP:           c.cfg.TopP,
		MaxTokens:      c.cfg.MaxTokens,
		ResponseFormat: &groqResponseFormat{Type: "json_object"},
	}
}

// Decide sends the conversation and parses the reply into an action.
func (c *GroqClient) Decide(ctx context.Context, conv schemas.Conversation) (schemas.Action, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.APITimeout)
	defer cancel()

	body, err := json.Marshal(c.buildRequest(conv))
	if err != nil {
		return schemas.Action{}, &schemas.ProviderError{Provider: c.Name(), Code: schemas.ProviderErrTransport, Err: fmt.Errorf("failed to marshal request payload: %w", err)}
	}

	var content string
	operation := func() error {
		httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

		start := time.Now()
		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			if callCtx.Err() != nil {
				return backoff.Permanent(err)
			}
			c.logger.Warn("Network error during Groq request, retrying", zap.Error(err))
			return fmt.Errorf("failed to execute HTTP request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return c.handleAPIError(resp.StatusCode, respBody)
		}

		var payload groqResponse
		if err := json.Unmarshal(respBody, &payload); err != nil {
			return backoff.Permanent(&schemas.ProviderError{Provider: c.Name(), Code: schemas.ProviderErrInvalidResponse, Err: fmt.Errorf("failed to decode response payload: %w", err)})
		}
		if len(payload.Choices) == 0 {
			return backoff.Permanent(&schemas.ProviderError{Provider: c.Name(), Code: schemas.ProviderErrInvalidResponse, Err: errors.New("no choices returned")})
		}
		choice := payload.Choices[0]
		if choice.FinishReason == "content_filter" {
			return backoff.Permanent(&schemas.ProviderError{Provider: c.Name(), Code: schemas.ProviderErrSafetyRefusal, Err: errors.New("response withheld by content filter")})
		}

		c.logger.Debug("Groq generation complete",
			zap.Duration("duration", time.Since(start)),
			zap.String("model", c.cfg.Model),
			zap.Int("prompt_tokens", payload.Usage.PromptTokens),
			zap.Int("completion_tokens", payload.Usage.CompletionTokens),
			zap.Int("total_tokens", payload.Usage.TotalTokens),
		)
		content = choice.Message.Content
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(c.backoffFactory(), callCtx)); err != nil {
		return schemas.Action{}, callError(c.Name(), ctx, callCtx, err)
	}
	return parseDecision(c.Name(), content)
}

func (c *GroqClient) handleAPIError(statusCode int, body []byte) error {
	c.logger.Warn("Groq API returned error status", zap.Int("status", statusCode), zap.String("response", truncateBody(body)))
	err := fmt.Errorf("groq API error: status %d, body: %s", statusCode, truncateBody(body))
	if retryableStatus(statusCode) {
		return err
	}
	return backoff.Permanent(err)
}

func truncateBody(body []byte) string {
	const limit = 512
	if len(body) <= limit {
		return string(body)
	}
	return string(body[:limit]) + "..."
}
