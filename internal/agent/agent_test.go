package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/store"
)

func TestAgent_RunAndReplay(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zapcore.InfoLevel)
	memory := store.NewMemoryStore()
	factory := &fakeFactory{}
	provider := newScriptedProvider(navigate("https://example.com/"), finish("done"))

	a := New(factory.New, provider, memory, zap.New(core), nil)

	res := a.Run(ctx, "open example", Options{MaxIterations: 5, Memorize: true})
	require.False(t, res.Fatal)
	assert.Equal(t, "done", res.Value())
	assert.Equal(t, 1, logs.FilterMessage("Agent is commencing run.").Len())

	replayed := a.Replay(ctx, res.SessionID, ReplayOptions{})
	assert.False(t, replayed.Fatal)
	assert.Equal(t, "done", replayed.Value())
	assert.Equal(t, res.SessionID, replayed.SessionID)

	entries := logs.FilterMessage("Agent is replaying session.").All()
	require.Len(t, entries, 1)
	assert.Equal(t, res.SessionID, entries[0].ContextMap()["session"])
}

func TestAgent_Sessions(t *testing.T) {
	ctx := context.Background()
	memory := store.NewMemoryStore()
	a := New((&fakeFactory{}).New, newScriptedProvider(finish("x")), memory, zap.NewNop(), nil)

	out, err := a.Memory(ctx)
	require.NoError(t, err)
	assert.Equal(t, "No memory found", out)

	first := a.Run(ctx, "first task", Options{Memorize: true})
	second := a.Run(ctx, "second task", Options{Memorize: true})

	summaries, err := a.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, first.SessionID, summaries[0].Session)
	assert.Equal(t, "second task", summaries[1].Input)

	out, err = a.Memory(ctx)
	require.NoError(t, err)
	assert.Contains(t, out, "Session: "+first.SessionID+"\nInput: first task\n")
	assert.Contains(t, out, "Session: "+second.SessionID+"\nInput: second task\n")
}

func TestAgent_RunWithoutMemorize(t *testing.T) {
	ctx := context.Background()
	memory := store.NewMemoryStore()
	a := New((&fakeFactory{}).New, newScriptedProvider(finish("x")), memory, zap.NewNop(), nil)

	res := a.Run(ctx, "ephemeral", Options{})
	require.False(t, res.Fatal)

	_, err := memory.Load(ctx, res.SessionID)
	assert.True(t, errors.Is(err, schemas.ErrSessionNotFound))
}

func TestAgent_NoStore(t *testing.T) {
	a := New((&fakeFactory{}).New, newScriptedProvider(finish("x")), nil, zap.NewNop(), nil)

	_, err := a.Sessions(context.Background())
	assert.Error(t, err)
	_, err = a.Memory(context.Background())
	assert.Error(t, err)

	// Memorize without a store is a no-op rather than a failure.
	res := a.Run(context.Background(), "no store", Options{Memorize: true})
	assert.False(t, res.Fatal)
	assert.Equal(t, "x", res.Value())
}
