package llmclient

import (
	"context"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/config"
)

// MockProvider is a mock implementation of schemas.ReasoningProvider.
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Name() string {
	return m.Called().String(0)
}

func (m *MockProvider) Decide(ctx context.Context, conv schemas.Conversation) (schemas.Action, error) {
	args := m.Called(ctx, conv)
	return args.Get(0).(schemas.Action), args.Error(1)
}

// setupTestLogger returns a logger whose output can be asserted on.
func setupTestLogger(t *testing.T) (*zap.Logger, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	return zap.New(core), logs
}

// getValidLLMConfig returns a valid LLMConfig for testing purposes.
func getValidLLMConfig(provider config.LLMProvider) config.LLMConfig {
	return config.LLMConfig{
		Provider:    provider,
		APIKey:      "test-api-key",
		Model:       "test-model",
		APITimeout:  5 * time.Second,
		Temperature: 0.4,
		TopP:        1.0,
		MaxTokens:   1024,
	}
}

// fastBackoff retries immediately, a bounded number of times.
func fastBackoff(retries uint64) func() backoff.BackOff {
	return func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, retries)
	}
}

// testConversation is a minimal but complete conversation.
func testConversation() schemas.Conversation {
	return schemas.Conversation{
		Messages: []schemas.Message{
			{Role: schemas.RolePolicy, Content: "You operate a browser."},
			{Role: schemas.RoleTask, Content: "Find the price."},
			{Role: schemas.RoleHistory, Content: "1. navigate(https://example.com) -> ok"},
			{Role: schemas.RoleObservation, Content: "URL: https://example.com"},
		},
	}
}

const navigateDecision = `{"thought": "open the shop", "action": "navigate", "parameters": {"url": "https://shop.example.com"}}`
