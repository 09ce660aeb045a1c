package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/store"
)

// recordSession stores steps under a new session and returns its id.
func recordSession(t *testing.T, memory schemas.MemoryStore, input string, actions ...schemas.Action) string {
	t.Helper()
	id := newID()
	for i, a := range actions {
		step := schemas.Step{ID: newID(), Index: i, Action: a, Timestamp: time.Now().UTC()}
		require.NoError(t, memory.Append(context.Background(), id, input, step))
	}
	return id
}

func dispatchedActions(history []schemas.Step) []schemas.Action {
	out := make([]schemas.Action, len(history))
	for i, s := range history {
		out[i] = s.Action
	}
	return out
}

func TestReplayGraph_Fidelity(t *testing.T) {
	memory := store.NewMemoryStore()
	recorded := []schemas.Action{
		{Kind: schemas.ActionNavigate, URL: "https://example.com/a"},
		{Kind: schemas.ActionExtract, Selector: "h1"},
		{Kind: schemas.ActionFinish},
	}
	id := recordSession(t, memory, "title of A", recorded...)

	factory := &fakeFactory{prepare: func(b *fakeBrowser) {
		b.records = []any{map[string]any{"text": "Page A"}}
	}}
	g := NewReplayGraph(factory.New, memory, zaptest.NewLogger(t), nil)

	res := g.Run(context.Background(), id, ReplayOptions{})

	assert.False(t, res.Fatal)
	assert.False(t, res.Truncated)
	assert.Equal(t, 3, res.Iterations, "replay stops exactly after the recorded steps")
	if diff := cmp.Diff(recorded, dispatchedActions(res.History)); diff != "" {
		t.Errorf("replayed actions differ from the recording (-want +got):\n%s", diff)
	}
	assert.Equal(t, []any{map[string]any{"text": "Page A"}}, res.ScrapedData)
	assert.Equal(t, []any{map[string]any{"text": "Page A"}}, res.Value())

	browser := factory.last()
	want := []schemas.Action{
		{Kind: schemas.ActionNavigate, URL: "https://example.com/a"},
		{Kind: schemas.ActionExtract, Selector: "h1"},
	}
	if diff := cmp.Diff(want, browser.actions()); diff != "" {
		t.Errorf("browser primitives differ (-want +got):\n%s", diff)
	}
	assert.Equal(t, 1, browser.closes)
}

func TestReplayGraph_SessionNotFound(t *testing.T) {
	factory := &fakeFactory{}
	g := NewReplayGraph(factory.New, store.NewMemoryStore(), zaptest.NewLogger(t), nil)

	res := g.Run(context.Background(), "unknown-id", ReplayOptions{})

	assert.True(t, res.NotFound)
	assert.False(t, res.Fatal)
	assert.Equal(t, "Session not found", res.Value())
	assert.Equal(t, 0, factory.count(), "no browser is created for an unknown session")
}

func TestReplayGraph_LoadFailure(t *testing.T) {
	memory := new(MockStore)
	memory.On("Load", context.Background(), "abc").Return(nil, errors.New("connection refused")).Once()
	factory := &fakeFactory{}
	g := NewReplayGraph(factory.New, memory, zaptest.NewLogger(t), nil)

	res := g.Run(context.Background(), "abc", ReplayOptions{})

	assert.True(t, res.Fatal)
	assert.False(t, res.NotFound)
	assert.ErrorContains(t, res.Err, "connection refused")
	assert.Equal(t, 0, factory.count())
	memory.AssertExpectations(t)
}

func TestReplayGraph_ExhaustedWithoutFinish(t *testing.T) {
	memory := store.NewMemoryStore()
	id := recordSession(t, memory, "scroll",
		schemas.Action{Kind: schemas.ActionScroll, Direction: schemas.ScrollDown},
		schemas.Action{Kind: schemas.ActionScroll, Direction: schemas.ScrollUp},
	)
	factory := &fakeFactory{}
	g := NewReplayGraph(factory.New, memory, zaptest.NewLogger(t), nil)

	res := g.Run(context.Background(), id, ReplayOptions{})

	assert.False(t, res.Fatal)
	assert.False(t, res.Truncated)
	assert.Equal(t, 2, res.Iterations)
	state, ok := res.Value().(*ReplayState)
	require.True(t, ok)
	assert.Equal(t, "scroll", state.Input)
	assert.Equal(t, 2, state.CurrentStepIndex)
}

func TestReplayGraph_FailedActionDoesNotStopReplay(t *testing.T) {
	memory := store.NewMemoryStore()
	id := recordSession(t, memory, "click then finish",
		schemas.Action{Kind: schemas.ActionClick, Selector: "#moved"},
		schemas.Action{Kind: schemas.ActionFinish, Output: "done"},
	)
	factory := &fakeFactory{prepare: func(b *fakeBrowser) {
		b.failures[schemas.ActionClick] = &schemas.ActionError{Action: schemas.ActionClick, Code: schemas.ErrCodeElementNotFound, Reason: "layout changed"}
	}}
	g := NewReplayGraph(factory.New, memory, zaptest.NewLogger(t), nil)

	res := g.Run(context.Background(), id, ReplayOptions{})

	assert.False(t, res.Fatal)
	assert.Equal(t, "done", res.Value())
	require.Len(t, res.History, 2)
	require.NotNil(t, res.History[0].Error)
	assert.Equal(t, string(schemas.ErrCodeElementNotFound), res.History[0].Error.Code)
}

func TestReplayGraph_PanicStepIsRecorded(t *testing.T) {
	memory := store.NewMemoryStore()
	id := recordSession(t, memory, "scroll then boom",
		schemas.Action{Kind: schemas.ActionNavigate, URL: "https://example.com/"},
		schemas.Action{Kind: schemas.ActionScroll, Direction: schemas.ScrollDown},
		schemas.Action{Kind: schemas.ActionFinish, Output: "never"},
	)
	factory := &fakeFactory{prepare: func(b *fakeBrowser) { b.panicOn = schemas.ActionScroll }}
	g := NewReplayGraph(factory.New, memory, zaptest.NewLogger(t), nil)

	res := g.Run(context.Background(), id, ReplayOptions{})

	require.True(t, res.Fatal)
	assert.Equal(t, 2, res.Iterations)
	require.Len(t, res.History, 2)
	require.NotNil(t, res.History[1].Error)
	assert.Equal(t, "internal", res.History[1].Error.Type)
	assert.Equal(t, 1, factory.last().closes)
}

func TestReplayGraph_Budget(t *testing.T) {
	memory := store.NewMemoryStore()
	id := recordSession(t, memory, "long",
		schemas.Action{Kind: schemas.ActionWait},
		schemas.Action{Kind: schemas.ActionWait},
		schemas.Action{Kind: schemas.ActionWait},
	)
	factory := &fakeFactory{}
	g := NewReplayGraph(factory.New, memory, zaptest.NewLogger(t), nil)

	res := g.Run(context.Background(), id, ReplayOptions{MaxIterations: 2})

	assert.True(t, res.Truncated)
	assert.Equal(t, 2, res.Iterations)
}

func TestReplayGraph_OnlyFaultsRecorded(t *testing.T) {
	memory := store.NewMemoryStore()
	id := recordSession(t, memory, "nothing useful", schemas.Action{})
	factory := &fakeFactory{}
	g := NewReplayGraph(factory.New, memory, zaptest.NewLogger(t), nil)

	res := g.Run(context.Background(), id, ReplayOptions{})

	assert.False(t, res.Fatal)
	assert.Equal(t, 0, res.Iterations)
	assert.Equal(t, 0, factory.count())
}

func TestReplayGraph_NoStore(t *testing.T) {
	g := NewReplayGraph((&fakeFactory{}).New, nil, zaptest.NewLogger(t), nil)
	res := g.Run(context.Background(), "abc", ReplayOptions{})
	assert.True(t, res.Fatal)
	assert.ErrorContains(t, res.Err, "no memory store configured")
}
