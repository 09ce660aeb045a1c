package agent

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/observability"
)

// ReplayGraph re-enacts a recorded session against a fresh browser without
// consulting a reasoning provider. It terminates on finish, on the budget, or
// once the recorded steps are exhausted.
type ReplayGraph struct {
	newBrowser schemas.BrowserFactory
	store      schemas.MemoryStore
	logger     *zap.Logger
	metrics    *observability.Metrics
}

// NewReplayGraph creates the replay graph.
func NewReplayGraph(newBrowser schemas.BrowserFactory, store schemas.MemoryStore, logger *zap.Logger, metrics *observability.Metrics) *ReplayGraph {
	return &ReplayGraph{
		newBrowser: newBrowser,
		store:      store,
		logger:     logger,
		metrics:    metrics,
	}
}

// Run replays sessionID. An unknown session yields a NotFound result without
// a browser ever being opened.
func (g *ReplayGraph) Run(ctx context.Context, sessionID string, opts ReplayOptions) *Result {
	opts = opts.withDefaults()
	logger := g.logger.Named("agent.replay").With(zap.String("session", sessionID))

	if g.store == nil {
		return g.loadFailure(sessionID, errors.New("no memory store configured"), logger)
	}
	record, err := g.store.Load(ctx, sessionID)
	if errors.Is(err, schemas.ErrSessionNotFound) {
		logger.Info("Replay requested for unknown session")
		g.metrics.RunFinished(modeReplay, outcomeNotFound)
		return &Result{SessionID: sessionID, NotFound: true}
	}
	if err != nil {
		return g.loadFailure(sessionID, fmt.Errorf("failed to load session: %w", err), logger)
	}

	st, skipped := newReplayState(record, opts)
	logger.Info("Replaying session",
		zap.String("input", st.Input),
		zap.Int("steps", len(st.Steps)),
		zap.Int("skipped_steps", skipped),
	)
	if len(st.Steps) == 0 {
		return g.result(st, termination{outcome: outcomeCompleted}, logger)
	}

	var (
		browser schemas.BrowserHandle
		exec    *Executor
		last    StepOutcome
		term    termination
	)

	state := stateStart
	for state != stateEnd {
		var next graphState
		switch state {
		case stateStart:
			browser = g.newBrowser()
			if err := browser.Open(ctx); err != nil {
				term = termination{outcome: outcomeFatal, err: fmt.Errorf("failed to open browser: %w", err)}
				next = stateEnd
				break
			}
			exec = NewExecutor(browser, nil, nil, g.logger, g.metrics)
			next = stateDecideAndAct

		case stateDecideAndAct:
			recorded := len(st.History)
			last = guardStep(logger, func() StepOutcome { return exec.ReplayStep(ctx, st) })
			if len(st.History) == recorded {
				last.Step = exec.RecordReplayAbort(st, last.Err)
			}
			st.Iterations++
			next = stateCheckTermination

		case stateCheckTermination:
			term, next = checkTermination(ctx, browser, last, st.exhausted(), st.Iterations, opts.MaxIterations)
		}
		logger.Debug("Replay transition",
			zap.Stringer("from", state),
			zap.Stringer("to", next),
			zap.Int("step_index", st.CurrentStepIndex),
		)
		state = next
	}

	closeBrowser(browser, logger)
	return g.result(st, term, logger)
}

func (g *ReplayGraph) loadFailure(sessionID string, err error, logger *zap.Logger) *Result {
	term := termination{outcome: outcomeFatal, err: err}
	res := &Result{SessionID: sessionID}
	applyTermination(res, term)
	g.metrics.RunFinished(modeReplay, term.outcome)
	logRunFinished(logger, res, term)
	return res
}

func (g *ReplayGraph) result(st *ReplayState, term termination, logger *zap.Logger) *Result {
	res := &Result{
		SessionID:   st.SessionID,
		ScrapedData: st.ScrapedData,
		Iterations:  st.Iterations,
		History:     st.History,
		FinalState:  st,
	}
	if st.outputSet {
		res.Output, res.outputSet = st.Output, true
	}
	applyTermination(res, term)

	g.metrics.RunFinished(modeReplay, term.outcome)
	logRunFinished(logger, res, term)
	return res
}
