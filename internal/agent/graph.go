package agent

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/observability"
)

// graphState is a node of the orchestration state machine.
type graphState int

const (
	stateStart graphState = iota
	stateDecideAndAct
	stateCheckTermination
	stateEnd
)

func (s graphState) String() string {
	switch s {
	case stateStart:
		return "START"
	case stateDecideAndAct:
		return "DECIDE_AND_ACT"
	case stateCheckTermination:
		return "CHECK_TERMINATION"
	case stateEnd:
		return "END"
	default:
		return fmt.Sprintf("graphState(%d)", int(s))
	}
}

// Run outcomes, as reported to metrics and logs.
const (
	outcomeFinished  = "finished"
	outcomeCompleted = "completed"
	outcomeTruncated = "truncated"
	outcomeFatal     = "fatal"
	outcomeNotFound  = "not_found"
)

// termination records why a graph reached END.
type termination struct {
	outcome string
	err     error
}

// Graph sequences live executor steps into a bounded loop:
// START -> DECIDE_AND_ACT -> CHECK_TERMINATION -> (DECIDE_AND_ACT | END).
type Graph struct {
	newBrowser schemas.BrowserFactory
	provider   schemas.ReasoningProvider
	store      schemas.MemoryStore
	logger     *zap.Logger
	metrics    *observability.Metrics
}

// NewGraph creates the live orchestration graph. Every Run obtains a fresh
// browser from newBrowser.
func NewGraph(newBrowser schemas.BrowserFactory, provider schemas.ReasoningProvider, store schemas.MemoryStore, logger *zap.Logger, metrics *observability.Metrics) *Graph {
	return &Graph{
		newBrowser: newBrowser,
		provider:   provider,
		store:      store,
		logger:     logger,
		metrics:    metrics,
	}
}

// Run drives one task to completion. It always returns a Result and always
// closes the browser it opened.
func (g *Graph) Run(ctx context.Context, task string, opts Options) *Result {
	opts = opts.withDefaults()
	st := newRunState(newID(), task, opts)
	logger := g.logger.Named("agent.graph").With(zap.String("session", st.SessionID))

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
			exec = NewExecutor(browser, g.provider, g.store, g.logger, g.metrics)
			next = stateDecideAndAct

		case stateDecideAndAct:
			recorded := len(st.History)
			last = guardStep(logger, func() StepOutcome { return exec.Step(ctx, st) })
			if len(st.History) == recorded {
				last.Step = exec.RecordAbort(ctx, st, last.Err)
			}
			st.Iterations++
			next = stateCheckTermination

		case stateCheckTermination:
			term, next = checkTermination(ctx, browser, last, false, st.Iterations, opts.MaxIterations)
		}
		logger.Debug("Graph transition",
			zap.Stringer("from", state),
			zap.Stringer("to", next),
			zap.Int("iteration", st.Iterations),
		)
		state = next
	}

	closeBrowser(browser, logger)
	return g.result(st, term, logger)
}

func (g *Graph) result(st *RunState, term termination, logger *zap.Logger) *Result {
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

	g.metrics.RunFinished(modeLive, term.outcome)
	logRunFinished(logger, res, term)
	return res
}

// checkTermination decides whether the loop continues. A finish decision wins
// over every other condition, including a budget breach on the same iteration.
func checkTermination(ctx context.Context, browser schemas.BrowserHandle, last StepOutcome, exhausted bool, iterations, maxIterations int) (termination, graphState) {
	switch {
	case last.Finished:
		return termination{outcome: outcomeFinished}, stateEnd
	case last.Fatal:
		return termination{outcome: outcomeFatal, err: last.Err}, stateEnd
	case ctx.Err() != nil:
		return termination{outcome: outcomeFatal, err: fmt.Errorf("run interrupted: %w", ctx.Err())}, stateEnd
	}

	if last.Step.Error != nil && last.Step.Error.Type == "action" && !browser.Alive(ctx) {
		err := &schemas.SessionError{Op: "check", Err: errors.New("browser session is no longer usable")}
		return termination{outcome: outcomeFatal, err: err}, stateEnd
	}

	switch {
	case exhausted:
		return termination{outcome: outcomeCompleted}, stateEnd
	case iterations >= maxIterations:
		return termination{outcome: outcomeTruncated}, stateEnd
	}
	return termination{}, stateDecideAndAct
}

// guardStep runs one executor step, converting a panic into a fatal outcome.
func guardStep(logger *zap.Logger, step func() StepOutcome) (out StepOutcome) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic recovered during step",
				zap.Any("panic_value", r),
				zap.Stack("stack"),
			)
			out = StepOutcome{Fatal: true, Err: fmt.Errorf("panic during step: %v", r)}
		}
	}()
	return step()
}

// closeBrowser tears the session down. Errors are logged, never returned.
func closeBrowser(browser schemas.BrowserHandle, logger *zap.Logger) {
	if browser == nil {
		return
	}
	if err := browser.Close(); err != nil {
		logger.Warn("Error during browser teardown", zap.Error(err))
	}
}

func applyTermination(res *Result, term termination) {
	switch term.outcome {
	case outcomeTruncated:
		res.Truncated = true
	case outcomeFatal:
		res.Fatal = true
		res.Err = term.err
	}
}

func logRunFinished(logger *zap.Logger, res *Result, term termination) {
	fields := []zap.Field{
		zap.String("outcome", term.outcome),
		zap.Int("iterations", res.Iterations),
		zap.Int("scraped_records", len(res.ScrapedData)),
		zap.Bool("has_output", res.outputSet),
	}
	if term.err != nil {
		logger.Error("Run ended on a fatal error", append(fields, zap.Error(term.err))...)
		return
	}
	logger.Info("Run finished", fields...)
}
