package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/agent"
	"github.com/xkilldash9x/webpilot/internal/browser"
	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/llmclient"
	"github.com/xkilldash9x/webpilot/internal/observability"
	"github.com/xkilldash9x/webpilot/internal/store"
)

// componentFactory builds the services a command needs. live is false for
// commands that never consult the reasoning provider, so they work without an
// API key.
type componentFactory func(ctx context.Context, cfg *config.Config, logger *zap.Logger, live bool) (*components, error)

// components holds the initialized services for one command invocation.
type components struct {
	Agent   *agent.Agent
	Store   schemas.MemoryStore
	Metrics *observability.Metrics
}

// Shutdown releases the memory store.
func (c *components) Shutdown(logger *zap.Logger) {
	if c == nil || c.Store == nil {
		return
	}
	if err := c.Store.Close(); err != nil {
		logger.Warn("Error during memory store shutdown", zap.Error(err))
	}
}

// buildComponents handles dependency injection for the real runtime.
func buildComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, live bool) (*components, error) {
	c := &components{}

	memory, err := store.New(ctx, cfg.Memory, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize memory store: %w", err)
	}
	c.Store = memory

	var provider schemas.ReasoningProvider
	if live {
		provider, err = llmclient.NewProvider(ctx, cfg.LLM, logger)
		if err != nil {
			return c, fmt.Errorf("failed to initialize reasoning provider: %w", err)
		}
	}

	if cfg.Metrics.Enabled {
		c.Metrics = observability.NewMetrics()
	}

	limits := browser.Limits{MaxChars: cfg.Agent.ObservationMaxChars, MaxElements: cfg.Agent.MaxElements}
	newBrowser := browser.NewFactory(cfg.Browser, limits, logger)

	c.Agent = agent.New(newBrowser, provider, memory, logger, c.Metrics)
	return c, nil
}
