package llmclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/config"
)

// blockingFinishReasons end a generation without usable content for policy reasons.
var blockingFinishReasons = map[genai.FinishReason]bool{
	genai.FinishReasonSafety:            true,
	genai.FinishReasonBlocklist:         true,
	genai.FinishReasonProhibitedContent: true,
	genai.FinishReasonSPII:              true,
	genai.FinishReasonRecitation:        true,
}

// GeminiClient is a ReasoningProvider backed by the Gemini API.
type GeminiClient struct {
	client *genai.Client
	cfg    config.LLMConfig
	logger *zap.Logger

	backoffFactory func() backoff.BackOff
}

var _ schemas.ReasoningProvider = (*GeminiClient)(nil)

// NewGeminiClient builds the SDK client. cfg.Endpoint overrides the API base URL.
func NewGeminiClient(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required (set llm.api_key or GOOGLE_API_KEY)")
	}
	if cfg.Model == "" {
		cfg.Model = config.DefaultModel(config.ProviderGemini)
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.Endpoint != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.Endpoint}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{
		client:         client,
		cfg:            cfg,
		logger:         logger.Named("llm.gemini"),
		backoffFactory: defaultBackoff(cfg.APITimeout),
	}, nil
}

// Name implements schemas.ReasoningProvider.
func (c *GeminiClient) Name() string { return string(config.ProviderGemini) }

func (c *GeminiClient) generateConfig(conv schemas.Conversation) *genai.GenerateContentConfig {
	gc := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemInstruction(conv), genai.RoleUser),
		Temperature:       genai.Ptr(c.cfg.Temperature),
		ResponseMIMEType:  "application/json",
	}
	if c.cfg.TopP > 0 {
		gc.TopP = genai.Ptr(c.cfg.TopP)
	}
	if c.cfg.MaxTokens > 0 {
		gc.MaxOutputTokens = int32(c.cfg.MaxTokens)
	}
	return gc
}

// Decide asks the model for the next action.
func (c *GeminiClient) Decide(ctx context.Context, conv schemas.Conversation) (schemas.Action, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.APITimeout)
	defer cancel()

	contents := []*genai.Content{genai.NewContentFromText(userPrompt(conv), genai.RoleUser)}
	gc := c.generateConfig(conv)

	var text string
	operation := func() error {
		start := time.Now()
		resp, err := c.client.Models.GenerateContent(callCtx, c.cfg.Model, contents, gc)
		if err != nil {
			var apiErr genai.APIError
			if errors.As(err, &apiErr) && retryableStatus(apiErr.Code) {
				c.logger.Warn("Transient Gemini API error, retrying", zap.Int("status", apiErr.Code), zap.Error(err))
				return err
			}
			return backoff.Permanent(err)
		}

		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" &&
			resp.PromptFeedback.BlockReason != genai.BlockedReasonUnspecified {
			return backoff.Permanent(&schemas.ProviderError{
				Provider: c.Name(),
				Code:     schemas.ProviderErrSafetyRefusal,
				Err:      fmt.Errorf("prompt blocked (reason: %s)", resp.PromptFeedback.BlockReason),
			})
		}
		if len(resp.Candidates) == 0 {
			return backoff.Permanent(&schemas.ProviderError{Provider: c.Name(), Code: schemas.ProviderErrInvalidResponse, Err: errors.New("no candidates returned")})
		}
		if reason := resp.Candidates[0].FinishReason; blockingFinishReasons[reason] {
			return backoff.Permanent(&schemas.ProviderError{
				Provider: c.Name(),
				Code:     schemas.ProviderErrSafetyRefusal,
				Err:      fmt.Errorf("generation stopped (reason: %s)", reason),
			})
		}

		fields := []zap.Field{zap.Duration("duration", time.Since(start)), zap.String("model", c.cfg.Model)}
		if u := resp.UsageMetadata; u != nil {
			fields = append(fields,
				zap.Int32("prompt_tokens", u.PromptTokenCount),
				zap.Int32("completion_tokens", u.CandidatesTokenCount),
				zap.Int32("total_tokens", u.TotalTokenCount),
			)
		}
		c.logger.Debug("Gemini generation complete", fields...)

		text = resp.Text()
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(c.backoffFactory(), callCtx)); err != nil {
		return schemas.Action{}, callError(c.Name(), ctx, callCtx, err)
	}
	return parseDecision(c.Name(), text)
}
