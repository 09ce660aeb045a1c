package llmclient

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/config"
)

// NewProvider builds the configured reasoning provider, rate limited when
// requests_per_minute is set.
func NewProvider(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (schemas.ReasoningProvider, error) {
	var (
		provider schemas.ReasoningProvider
		err      error
	)
	switch config.LLMProvider(strings.ToLower(string(cfg.Provider))) {
	case config.ProviderGemini:
		provider, err = NewGeminiClient(ctx, cfg, logger)
	case config.ProviderGroq:
		provider, err = NewGroqClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: %v", cfg.Provider, config.SupportedProviders)
	}
	if err != nil {
		return nil, err
	}

	if cfg.RequestsPerMinute > 0 {
		logger.Debug("Rate limiting reasoning provider", zap.Int("requests_per_minute", cfg.RequestsPerMinute))
	}
	return NewRateLimited(provider, cfg.RequestsPerMinute), nil
}
