package llmclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/webpilot/internal/config"
)

func TestNewProvider(t *testing.T) {
	logger, _ := setupTestLogger(t)
	ctx := context.Background()

	t.Run("Gemini", func(t *testing.T) {
		p, err := NewProvider(ctx, getValidLLMConfig(config.ProviderGemini), logger)
		require.NoError(t, err)
		_, ok := p.(*GeminiClient)
		assert.True(t, ok, "expected *GeminiClient, got %T", p)
	})

	t.Run("GroqCaseInsensitive", func(t *testing.T) {
		p, err := NewProvider(ctx, getValidLLMConfig("GROQ"), logger)
		require.NoError(t, err)
		_, ok := p.(*GroqClient)
		assert.True(t, ok, "expected *GroqClient, got %T", p)
	})

	t.Run("RateLimited", func(t *testing.T) {
		cfg := getValidLLMConfig(config.ProviderGroq)
		cfg.RequestsPerMinute = 30
		p, err := NewProvider(ctx, cfg, logger)
		require.NoError(t, err)
		_, ok := p.(*RateLimited)
		assert.True(t, ok)
		assert.Equal(t, "groq", p.Name())
	})

	t.Run("UnknownProvider", func(t *testing.T) {
		_, err := NewProvider(ctx, getValidLLMConfig("openai"), logger)
		require.Error(t, err)
		assert.Equal(t, "unknown or unsupported LLM provider configured: 'openai'. Supported: [gemini groq]", err.Error())
	})

	t.Run("MissingKey", func(t *testing.T) {
		cfg := getValidLLMConfig(config.ProviderGemini)
		cfg.APIKey = ""
		_, err := NewProvider(ctx, cfg, logger)
		require.Error(t, err)
	})
}
