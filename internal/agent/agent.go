package agent

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/observability"
	"github.com/xkilldash9x/webpilot/internal/store"
)

// Agent is the entry point for running tasks and replaying recorded sessions.
// Each call gets its own browser and its own state; nothing carries over
// between calls except what the memory store holds.
type Agent struct {
	graph  *Graph
	replay *ReplayGraph
	store  schemas.MemoryStore
	logger *zap.Logger
}

// New wires an Agent. store may be nil, in which case nothing is memorized
// and replay is unavailable. metrics may be nil.
func New(newBrowser schemas.BrowserFactory, provider schemas.ReasoningProvider, memory schemas.MemoryStore, logger *zap.Logger, metrics *observability.Metrics) *Agent {
	return &Agent{
		graph:  NewGraph(newBrowser, provider, memory, logger, metrics),
		replay: NewReplayGraph(newBrowser, memory, logger, metrics),
		store:  memory,
		logger: logger.Named("agent"),
	}
}

// Run drives the browser through task until the provider finishes it, the
// budget runs out, or the session fails.
func (a *Agent) Run(ctx context.Context, task string, opts Options) *Result {
	a.logger.Info("Agent is commencing run.",
		zap.String("task", task),
		zap.Int("max_iterations", opts.MaxIterations),
		zap.Bool("memorize", opts.Memorize),
	)
	return a.graph.Run(ctx, task, opts)
}

// Replay re-executes a recorded session step by step.
func (a *Agent) Replay(ctx context.Context, sessionID string, opts ReplayOptions) *Result {
	a.logger.Info("Agent is replaying session.", zap.String("session", sessionID))
	return a.replay.Run(ctx, sessionID, opts)
}

// Sessions lists the recorded sessions, oldest first.
func (a *Agent) Sessions(ctx context.Context) ([]schemas.SessionSummary, error) {
	if a.store == nil {
		return nil, errors.New("no memory store configured")
	}
	return a.store.List(ctx)
}

// Memory renders the session catalog as text.
func (a *Agent) Memory(ctx context.Context) (string, error) {
	summaries, err := a.Sessions(ctx)
	if err != nil {
		return "", err
	}
	return store.FormatCatalog(summaries), nil
}
