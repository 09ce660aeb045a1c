package agent

import (
	"encoding/json"
	"time"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/config"
)

const (
	defaultMaxIterations  = 100
	defaultFaultTolerance = 3
	defaultHistoryWindow  = 12
)

// Options are the read-only settings of one live run.
type Options struct {
	MaxIterations      int
	WaitBetweenActions time.Duration
	Memorize           bool
	ScreenshotEachStep bool
	ScreenshotDir      string
	Verbose            bool
	// OutputSchema, when set, describes the records extract must produce.
	OutputSchema json.RawMessage
	// MaxConsecutiveProviderFaults ends the run once that many decisions in a
	// row have failed.
	MaxConsecutiveProviderFaults int
	// HistoryWindow is the number of most recent steps rendered in full.
	HistoryWindow int
}

// ReplayOptions are the read-only settings of one replay.
type ReplayOptions struct {
	MaxIterations      int
	WaitBetweenActions time.Duration
	ScreenshotEachStep bool
	ScreenshotDir      string
	Verbose            bool
}

// OptionsFromConfig maps the agent section of the configuration onto run options.
func OptionsFromConfig(cfg config.AgentConfig) Options {
	return Options{
		MaxIterations:                cfg.MaxIterations,
		WaitBetweenActions:           cfg.WaitBetweenActions,
		Memorize:                     cfg.Memorize,
		ScreenshotEachStep:           cfg.ScreenshotEachStep,
		ScreenshotDir:                config.ExpandPath(cfg.ScreenshotDir),
		Verbose:                      cfg.Verbose,
		MaxConsecutiveProviderFaults: cfg.MaxConsecutiveProviderFaults,
		HistoryWindow:                cfg.HistoryWindow,
	}
}

// ReplayOptionsFromConfig maps the agent section of the configuration onto replay options.
func ReplayOptionsFromConfig(cfg config.AgentConfig) ReplayOptions {
	return ReplayOptions{
		MaxIterations:      cfg.MaxIterations,
		WaitBetweenActions: cfg.ReplayWaitBetweenActions,
		ScreenshotEachStep: cfg.ScreenshotEachStep,
		ScreenshotDir:      config.ExpandPath(cfg.ScreenshotDir),
		Verbose:            cfg.Verbose,
	}
}

func (o Options) withDefaults() Options {
	if o.MaxIterations <= 0 {
		o.MaxIterations = defaultMaxIterations
	}
	if o.MaxConsecutiveProviderFaults <= 0 {
		o.MaxConsecutiveProviderFaults = defaultFaultTolerance
	}
	if o.HistoryWindow <= 0 {
		o.HistoryWindow = defaultHistoryWindow
	}
	if o.WaitBetweenActions < 0 {
		o.WaitBetweenActions = 0
	}
	return o
}

func (o ReplayOptions) withDefaults() ReplayOptions {
	if o.MaxIterations <= 0 {
		o.MaxIterations = defaultMaxIterations
	}
	if o.WaitBetweenActions < 0 {
		o.WaitBetweenActions = 0
	}
	return o
}

// RunState is the live execution context. It is owned by a single Graph.Run
// call and discarded once the Result is built.
type RunState struct {
	SessionID   string         `json:"session"`
	Input       string         `json:"input"`
	History     []schemas.Step `json:"history"`
	ScrapedData []any          `json:"scraped_data"`
	Output      any            `json:"output,omitempty"`
	Iterations  int            `json:"iteration_count"`

	// Observation is the latest page snapshot. It is replaced every
	// iteration, never accumulated.
	Observation *schemas.Observation `json:"-"`

	// ProviderFaults counts consecutive failed decisions.
	ProviderFaults int `json:"-"`

	Options Options `json:"-"`

	outputSet bool
	finished  bool
}

func newRunState(sessionID, input string, opts Options) *RunState {
	return &RunState{
		SessionID:   sessionID,
		Input:       input,
		History:     []schemas.Step{},
		ScrapedData: []any{},
		Options:     opts,
	}
}

// setOutput records the terminal output. Only the first call has an effect.
func (s *RunState) setOutput(v any) {
	if s.outputSet {
		return
	}
	s.Output = v
	s.outputSet = true
}

// ReplayState mirrors RunState for a replay, plus a cursor into the recorded
// steps. Steps is never modified.
type ReplayState struct {
	SessionID        string         `json:"session"`
	Input            string         `json:"input"`
	Steps            []schemas.Step `json:"steps"`
	CurrentStepIndex int            `json:"current_step_index"`
	History          []schemas.Step `json:"step_results"`
	ScrapedData      []any          `json:"scraped_data"`
	Output           any            `json:"output,omitempty"`
	Iterations       int            `json:"iteration_count"`

	Options ReplayOptions `json:"-"`

	outputSet bool
	finished  bool
}

// newReplayState keeps only the recorded steps that carry an action; steps
// recorded for failed decisions have nothing to dispatch.
func newReplayState(record *schemas.SessionRecord, opts ReplayOptions) (*ReplayState, int) {
	steps := make([]schemas.Step, 0, len(record.Steps))
	for _, s := range record.Steps {
		if s.Action.Kind != "" {
			steps = append(steps, s)
		}
	}
	return &ReplayState{
		SessionID:   record.Session,
		Input:       record.Input,
		Steps:       steps,
		History:     []schemas.Step{},
		ScrapedData: []any{},
		Options:     opts,
	}, len(record.Steps) - len(steps)
}

func (s *ReplayState) setOutput(v any) {
	if s.outputSet {
		return
	}
	s.Output = v
	s.outputSet = true
}

// exhausted reports whether every recorded step has been consumed.
func (s *ReplayState) exhausted() bool {
	return s.CurrentStepIndex >= len(s.Steps)
}

// StepOutcome is what one executor iteration reports back to its graph.
type StepOutcome struct {
	Step schemas.Step
	// Finished is set when the step was a finish decision.
	Finished bool
	// Fatal is set when the run cannot continue; Err explains why.
	Fatal bool
	Err   error
}

// Result is what a run or replay hands back to its caller. A Result is always
// produced, including on fatal paths.
type Result struct {
	SessionID   string
	Output      any
	ScrapedData []any
	Iterations  int
	History     []schemas.Step

	// Truncated is set when the iteration budget ended the run.
	Truncated bool
	// Fatal is set when the run ended on an unrecoverable error.
	Fatal bool
	// NotFound is set when a replay names an unknown session.
	NotFound bool
	Err      error

	// FinalState holds the whole run state; it is a *RunState for live runs
	// and a *ReplayState for replays.
	FinalState any

	outputSet bool
}

// sessionNotFound is the value of a replay over an unknown session.
const sessionNotFound = "Session not found"

// Value returns the output when one was produced, otherwise the final state.
func (r *Result) Value() any {
	switch {
	case r.NotFound:
		return sessionNotFound
	case r.outputSet:
		return r.Output
	default:
		return r.FinalState
	}
}

// HasOutput reports whether the run produced an output of its own.
func (r *Result) HasOutput() bool { return r.outputSet }
