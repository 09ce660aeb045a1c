package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/observability"
)

const (
	modeLive   = "live"
	modeReplay = "replay"

	persistTimeout = 10 * time.Second
)

var (
	newID = uuid.NewString
	now   = func() time.Time { return time.Now().UTC() }
)

// dispatchResult is what a handler reports for a completed action.
type dispatchResult struct {
	result  *schemas.StepResult
	records []any
}

// actionHandler dispatches one validated action to the browser.
type actionHandler func(ctx context.Context, action schemas.Action) (dispatchResult, error)

// Executor performs exactly one iteration of a run or a replay against the
// browser it was built for.
type Executor struct {
	browser  schemas.BrowserHandle
	provider schemas.ReasoningProvider
	store    schemas.MemoryStore
	logger   *zap.Logger
	metrics  *observability.Metrics
	handlers map[schemas.ActionKind]actionHandler
}

// NewExecutor wires an executor. provider may be nil for replays; store may be
// nil when nothing is memorized.
func NewExecutor(browser schemas.BrowserHandle, provider schemas.ReasoningProvider, store schemas.MemoryStore, logger *zap.Logger, metrics *observability.Metrics) *Executor {
	e := &Executor{
		browser:  browser,
		provider: provider,
		store:    store,
		logger:   logger.Named("agent.executor"),
		metrics:  metrics,
		handlers: make(map[schemas.ActionKind]actionHandler),
	}
	e.registerHandlers()
	return e
}

func (e *Executor) registerHandlers() {
	e.handlers[schemas.ActionNavigate] = e.handleNavigate
	e.handlers[schemas.ActionClick] = e.handleClick
	e.handlers[schemas.ActionType] = e.handleType
	e.handlers[schemas.ActionScroll] = e.handleScroll
	e.handlers[schemas.ActionExtract] = e.handleExtract
	e.handlers[schemas.ActionWait] = e.handleWait
	e.handlers[schemas.ActionFinish] = e.handleFinish
}

// Step runs one live iteration: observe, decide, dispatch, record. It always
// appends exactly one step to st.History.
func (e *Executor) Step(ctx context.Context, st *RunState) StepOutcome {
	start := time.Now()
	step := schemas.Step{ID: newID(), Index: len(st.History)}

	// 1. Observe. Only a lost session is fatal here; any other failure is
	// shown to the provider in place of the page.
	obs, obsErr := e.browser.Observe(ctx)
	if obsErr == nil {
		st.Observation = &obs
		step.ObservationBefore = obs.Summary()
	} else {
		st.Observation = nil
		if fatal := fatalCause(ctx, obsErr); fatal != nil {
			step.Error = schemas.NewStepError(fatal)
			return StepOutcome{Step: e.record(ctx, st, step, start), Fatal: true, Err: fatal}
		}
		e.logger.Warn("Page observation failed", zap.String("session", st.SessionID), zap.Error(obsErr))
	}

	// 2. Decide.
	action, err := e.decide(ctx, st, obsErr)
	if err != nil {
		if fatal := fatalCause(ctx, err); fatal != nil {
			step.Error = schemas.NewStepError(fatal)
			return StepOutcome{Step: e.record(ctx, st, step, start), Fatal: true, Err: fatal}
		}
		st.ProviderFaults++
		step.Error = schemas.NewStepError(err)

		out := StepOutcome{Step: e.record(ctx, st, step, start)}
		if st.ProviderFaults >= st.Options.MaxConsecutiveProviderFaults {
			out.Fatal = true
			out.Err = fmt.Errorf("reasoning provider failed %d times in a row: %w", st.ProviderFaults, err)
			return out
		}
		e.pace(ctx, st.Options.WaitBetweenActions)
		return out
	}
	st.ProviderFaults = 0
	step.Action = action

	// 3. Dispatch.
	schema, err := parseRecordSchema(st.Options.OutputSchema)
	if err != nil {
		e.logger.Warn("Ignoring unusable output schema", zap.Error(err))
		schema = nil
	}
	res, err := e.execute(ctx, action, schema)
	step.Result = res.result
	step.Error = schemas.NewStepError(err)

	out := StepOutcome{Step: step}
	if fatal := fatalCause(ctx, err); fatal != nil {
		out.Fatal, out.Err = true, fatal
	}

	// 4. Accumulate.
	if err == nil {
		switch action.Kind {
		case schemas.ActionExtract:
			st.ScrapedData = append(st.ScrapedData, res.records...)
		case schemas.ActionFinish:
			if v, ok := finishOutput(action, st.ScrapedData); ok {
				st.setOutput(v)
			}
			st.finished = true
			out.Finished = true
		}
	}

	if st.Options.ScreenshotEachStep && !out.Fatal {
		step.Result = withScreenshot(step.Result, e.screenshot(ctx, st.Options.ScreenshotDir, st.SessionID, step.Index))
	}

	// 5. Record, then pace.
	out.Step = e.record(ctx, st, step, start)
	if !out.Finished && !out.Fatal {
		e.pace(ctx, st.Options.WaitBetweenActions)
	}
	return out
}

// ReplayStep dispatches the next recorded step. Failures are recorded and the
// replay moves on; nothing is asked to repair them.
func (e *Executor) ReplayStep(ctx context.Context, st *ReplayState) StepOutcome {
	start := time.Now()
	recorded := st.Steps[st.CurrentStepIndex]
	st.CurrentStepIndex++

	action := recorded.Action
	step := schemas.Step{
		ID:     newID(),
		Index:  len(st.History),
		Action: action,
	}

	// Observe the live page, not the recorded one, so a replay against a
	// changed layout shows what it actually acted on.
	obs, obsErr := e.browser.Observe(ctx)
	if obsErr == nil {
		step.ObservationBefore = obs.Summary()
	} else {
		if fatal := fatalCause(ctx, obsErr); fatal != nil {
			step.Error = schemas.NewStepError(fatal)
			return StepOutcome{Step: e.recordReplay(st, step, start), Fatal: true, Err: fatal}
		}
		e.logger.Warn("Page observation failed", zap.String("session", st.SessionID), zap.Error(obsErr))
	}

	res, err := e.execute(ctx, action, nil)
	step.Result = res.result
	step.Error = schemas.NewStepError(err)

	out := StepOutcome{}
	if fatal := fatalCause(ctx, err); fatal != nil {
		out.Fatal, out.Err = true, fatal
	}
	if err == nil {
		switch action.Kind {
		case schemas.ActionExtract:
			st.ScrapedData = append(st.ScrapedData, res.records...)
		case schemas.ActionFinish:
			if v, ok := finishOutput(action, st.ScrapedData); ok {
				st.setOutput(v)
			}
			st.finished = true
			out.Finished = true
		}
	}

	if st.Options.ScreenshotEachStep && !out.Fatal {
		step.Result = withScreenshot(step.Result, e.screenshot(ctx, st.Options.ScreenshotDir, st.SessionID, step.Index))
	}

	out.Step = e.recordReplay(st, step, start)
	if !out.Finished && !out.Fatal {
		e.pace(ctx, st.Options.WaitBetweenActions)
	}
	return out
}

// decide asks the provider for the next action and validates it. An invalid
// decision is a provider fault, never dispatched.
func (e *Executor) decide(ctx context.Context, st *RunState, obsErr error) (schemas.Action, error) {
	if e.provider == nil {
		return schemas.Action{}, errors.New("no reasoning provider configured")
	}
	action, err := e.provider.Decide(ctx, buildConversation(st, obsErr))
	if err == nil {
		if verr := action.Validate(); verr != nil {
			err = &schemas.ProviderError{Provider: e.provider.Name(), Code: schemas.ProviderErrInvalidDecision, Err: verr}
		}
	}
	if err != nil {
		code := "UNKNOWN"
		var providerErr *schemas.ProviderError
		if errors.As(err, &providerErr) {
			code = string(providerErr.Code)
		}
		e.metrics.ProviderFault(e.provider.Name(), code)
		e.logger.Warn("Reasoning provider fault",
			zap.String("session", st.SessionID),
			zap.String("provider", e.provider.Name()),
			zap.String("code", code),
			zap.Int("consecutive_faults", st.ProviderFaults+1),
			zap.Error(err),
		)
		return schemas.Action{}, err
	}
	return action, nil
}

// execute validates and dispatches one action, checking extracted records
// against schema when one is given.
func (e *Executor) execute(ctx context.Context, action schemas.Action, schema *recordSchema) (dispatchResult, error) {
	err := action.Validate()
	var res dispatchResult
	if err == nil {
		handler, ok := e.handlers[action.Kind]
		if !ok {
			err = &schemas.ActionError{Action: action.Kind, Code: schemas.ErrCodeUnknownAction, Reason: "no handler registered"}
		} else {
			res, err = handler(ctx, action)
		}
	}
	if err == nil && action.Kind == schemas.ActionExtract {
		if serr := schema.check(res.records); serr != nil {
			res = dispatchResult{}
			err = &schemas.ActionError{Action: action.Kind, Code: schemas.ErrCodeSchemaMismatch, Reason: "records do not match the output schema", Err: serr}
		}
	}

	if err != nil {
		var actionErr *schemas.ActionError
		if errors.As(err, &actionErr) {
			e.metrics.ActionError(string(action.Kind), string(actionErr.Code))
		}
		e.logger.Debug("Action failed", zap.String("action", action.Summary()), zap.Error(err))
	}
	return res, err
}

// record timestamps the step, appends it to the history, and persists it when
// memorization is on. The append for a step completes before the next step
// starts, even if ctx is already cancelled.
func (e *Executor) record(ctx context.Context, st *RunState, step schemas.Step, start time.Time) schemas.Step {
	step.Timestamp = now()
	st.History = append(st.History, step)
	e.logStep(modeLive, st.SessionID, st.Options.Verbose, step, time.Since(start))

	if !st.Options.Memorize || e.store == nil {
		return step
	}
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := e.store.Append(persistCtx, st.SessionID, st.Input, step); err != nil {
		e.logger.Error("Failed to persist step",
			zap.String("session", st.SessionID),
			zap.Int("index", step.Index),
			zap.Error(err),
		)
	}
	return step
}

// recordReplay timestamps a replayed step and appends it to the history.
// Replays are never persisted.
func (e *Executor) recordReplay(st *ReplayState, step schemas.Step, start time.Time) schemas.Step {
	step.Timestamp = now()
	st.History = append(st.History, step)
	e.logStep(modeReplay, st.SessionID, st.Options.Verbose, step, time.Since(start))
	return step
}

// RecordAbort records a live iteration that ended without recording a step
// of its own, such as one cut short by a panic.
func (e *Executor) RecordAbort(ctx context.Context, st *RunState, cause error) schemas.Step {
	step := schemas.Step{ID: newID(), Index: len(st.History), Error: schemas.NewStepError(cause)}
	return e.record(ctx, st, step, time.Now())
}

// RecordReplayAbort is RecordAbort for a replayed iteration.
func (e *Executor) RecordReplayAbort(st *ReplayState, cause error) schemas.Step {
	step := schemas.Step{ID: newID(), Index: len(st.History), Error: schemas.NewStepError(cause)}
	return e.recordReplay(st, step, time.Now())
}

func (e *Executor) logStep(mode, session string, verbose bool, step schemas.Step, elapsed time.Duration) {
	kind := string(step.Action.Kind)
	if kind == "" {
		kind = "none"
	}
	e.metrics.ObserveStep(mode, kind, elapsed)

	level := zapcore.DebugLevel
	if verbose {
		level = zapcore.InfoLevel
	}
	ce := e.logger.Check(level, "Step completed")
	if ce == nil {
		return
	}
	fields := []zap.Field{
		zap.String("mode", mode),
		zap.String("session", session),
		zap.Int("index", step.Index),
		zap.String("action", step.Action.Summary()),
		zap.Duration("elapsed", elapsed),
	}
	if step.Action.Thought != "" {
		fields = append(fields, zap.String("thought", step.Action.Thought))
	}
	if step.Result != nil && step.Result.Message != "" {
		fields = append(fields, zap.String("result", step.Result.Message))
	}
	if step.Error != nil {
		fields = append(fields, zap.String("error", stepErrorLine(step.Error)))
	}
	ce.Write(fields...)
}

// screenshot writes a PNG to <dir>/<session>/<index>.png and returns its path,
// or "" when the capture failed.
func (e *Executor) screenshot(ctx context.Context, dir, session string, index int) string {
	if dir == "" {
		dir = "screenshots"
	}
	png, err := e.browser.Screenshot(ctx)
	if err != nil {
		e.logger.Warn("Screenshot failed", zap.String("session", session), zap.Int("index", index), zap.Error(err))
		return ""
	}
	path := filepath.Join(dir, session, fmt.Sprintf("%d.png", index))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		e.logger.Warn("Failed to create screenshot directory", zap.String("path", path), zap.Error(err))
		return ""
	}
	if err := os.WriteFile(path, png, 0o644); err != nil {
		e.logger.Warn("Failed to write screenshot", zap.String("path", path), zap.Error(err))
		return ""
	}
	return path
}

// pace sleeps between iterations. Cancellation cuts it short; the graph
// notices the cancelled context on its next check.
func (e *Executor) pace(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// fatalCause returns the error that ends the run, or nil when err is nil or
// recoverable by the normal step error path.
func fatalCause(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("run interrupted: %w", ctxErr)
	}
	var sessionErr *schemas.SessionError
	if errors.As(err, &sessionErr) {
		return err
	}
	return nil
}

// finishOutput picks the terminal output of a finish action. An empty payload
// falls back to the scraped data, if there is any.
func finishOutput(action schemas.Action, scraped []any) (any, bool) {
	if !isEmptyOutput(action.Output) {
		return action.Output, true
	}
	if len(scraped) > 0 {
		out := make([]any, len(scraped))
		copy(out, scraped)
		return out, true
	}
	return nil, false
}

func isEmptyOutput(v any) bool {
	switch o := v.(type) {
	case nil:
		return true
	case string:
		return o == ""
	case []any:
		return len(o) == 0
	case map[string]any:
		return len(o) == 0
	}
	return false
}

func withScreenshot(r *schemas.StepResult, path string) *schemas.StepResult {
	if path == "" {
		return r
	}
	if r == nil {
		r = &schemas.StepResult{}
	}
	r.Screenshot = path
	return r
}

// -- Action Handlers --

func (e *Executor) handleNavigate(ctx context.Context, a schemas.Action) (dispatchResult, error) {
	if err := e.browser.Navigate(ctx, a.URL); err != nil {
		return dispatchResult{}, err
	}
	return dispatchResult{result: &schemas.StepResult{URL: a.URL, Message: "navigated to " + a.URL}}, nil
}

func (e *Executor) handleClick(ctx context.Context, a schemas.Action) (dispatchResult, error) {
	if err := e.browser.Click(ctx, schemas.ClickTargetOf(a)); err != nil {
		return dispatchResult{}, err
	}
	target := a.Selector
	if target == "" {
		target = fmt.Sprintf("(%.0f, %.0f)", *a.X, *a.Y)
	}
	return dispatchResult{result: &schemas.StepResult{Message: "clicked " + target}}, nil
}

func (e *Executor) handleType(ctx context.Context, a schemas.Action) (dispatchResult, error) {
	if err := e.browser.Type(ctx, a.Text, a.Selector, a.Submit); err != nil {
		return dispatchResult{}, err
	}
	target := a.Selector
	if target == "" {
		target = "the focused element"
	}
	msg := fmt.Sprintf("typed %d characters into %s", len([]rune(a.Text)), target)
	if a.Submit {
		msg += " and submitted"
	}
	return dispatchResult{result: &schemas.StepResult{Message: msg}}, nil
}

func (e *Executor) handleScroll(ctx context.Context, a schemas.Action) (dispatchResult, error) {
	if err := e.browser.Scroll(ctx, a.Direction, a.Amount); err != nil {
		return dispatchResult{}, err
	}
	return dispatchResult{result: &schemas.StepResult{Message: "scrolled " + string(a.Direction)}}, nil
}

// handleExtract records the data carried by the decision when present and
// otherwise pulls records from the page.
func (e *Executor) handleExtract(ctx context.Context, a schemas.Action) (dispatchResult, error) {
	if a.Data != nil {
		records := a.Records()
		return dispatchResult{
			result:  &schemas.StepResult{Message: fmt.Sprintf("recorded %d records", len(records)), Records: records},
			records: records,
		}, nil
	}

	extracted, err := e.browser.Extract(ctx, a.Selector)
	if err != nil {
		return dispatchResult{}, err
	}
	records := extracted.Records
	if len(records) == 0 && extracted.Text != "" {
		records = []any{extracted.Text}
	}
	return dispatchResult{
		result:  &schemas.StepResult{Message: fmt.Sprintf("extracted %d records", len(records)), Records: records},
		records: records,
	}, nil
}

func (e *Executor) handleWait(ctx context.Context, a schemas.Action) (dispatchResult, error) {
	if err := e.browser.Wait(ctx, time.Duration(a.DurationMs)*time.Millisecond); err != nil {
		return dispatchResult{}, err
	}
	return dispatchResult{result: &schemas.StepResult{Message: fmt.Sprintf("waited %dms", a.DurationMs)}}, nil
}

func (e *Executor) handleFinish(_ context.Context, _ schemas.Action) (dispatchResult, error) {
	return dispatchResult{result: &schemas.StepResult{Message: "finished"}}, nil
}
