package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// fakeClock makes created_at deterministic: each call advances one second.
func fakeClock(t *testing.T) {
	t.Helper()
	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	calls := 0
	orig := now
	now = func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * time.Second)
	}
	t.Cleanup(func() { now = orig })
}

func testStep(index int, kind schemas.ActionKind) schemas.Step {
	step := schemas.Step{
		ID:                "step-" + string(rune('a'+index)),
		Index:             index,
		Action:            schemas.Action{Kind: kind, Thought: "because"},
		ObservationBefore: &schemas.ObservationSummary{URL: "https://example.com", Title: "Example"},
		Result:            &schemas.StepResult{URL: "https://example.com/next"},
		Timestamp:         time.Date(2026, 10, 1, 12, 0, index, 0, time.UTC),
	}
	switch kind {
	case schemas.ActionNavigate:
		step.Action.URL = "https://example.com"
	case schemas.ActionExtract:
		step.Action.Data = []any{map[string]any{"price": "9.99"}}
		step.Result.Records = []any{map[string]any{"price": "9.99"}}
	case schemas.ActionClick:
		step.Action.Selector = "#missing"
		step.Result = nil
		step.Error = &schemas.StepError{Type: "action", Code: string(schemas.ErrCodeElementNotFound), Message: "no element"}
	}
	return step
}

// runStoreContract exercises the MemoryStore contract against any backend.
func runStoreContract(t *testing.T, s schemas.MemoryStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("EmptyCatalog", func(t *testing.T) {
		summaries, err := s.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, summaries)

		_, err = s.Load(ctx, "unknown")
		assert.ErrorIs(t, err, schemas.ErrSessionNotFound)
	})

	t.Run("AppendAndLoad", func(t *testing.T) {
		require.NoError(t, s.Append(ctx, "s1", "find the price", testStep(0, schemas.ActionNavigate)))
		require.NoError(t, s.Append(ctx, "s1", "ignored on later appends", testStep(1, schemas.ActionClick)))
		require.NoError(t, s.Append(ctx, "s1", "find the price", testStep(2, schemas.ActionExtract)))

		rec, err := s.Load(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, "s1", rec.Session)
		assert.Equal(t, "find the price", rec.Input)
		assert.False(t, rec.CreatedAt.IsZero())
		require.Len(t, rec.Steps, 3)

		kinds := []schemas.ActionKind{rec.Steps[0].Action.Kind, rec.Steps[1].Action.Kind, rec.Steps[2].Action.Kind}
		assert.Equal(t, []schemas.ActionKind{schemas.ActionNavigate, schemas.ActionClick, schemas.ActionExtract}, kinds)

		assert.Equal(t, "https://example.com", rec.Steps[0].Action.URL)
		assert.Nil(t, rec.Steps[0].Error)
		require.NotNil(t, rec.Steps[1].Error)
		assert.Equal(t, "ELEMENT_NOT_FOUND", rec.Steps[1].Error.Code)
		assert.Len(t, rec.Steps[2].Action.Records(), 1)
		assert.True(t, rec.Steps[2].Timestamp.Equal(testStep(2, schemas.ActionExtract).Timestamp))
	})

	t.Run("ListOrderedByCreation", func(t *testing.T) {
		require.NoError(t, s.Append(ctx, "s2", "second task", testStep(0, schemas.ActionNavigate)))
		require.NoError(t, s.Append(ctx, "s3", "third task", testStep(0, schemas.ActionNavigate)))

		summaries, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, summaries, 3)
		assert.Equal(t, "s1", summaries[0].Session)
		assert.Equal(t, "s2", summaries[1].Session)
		assert.Equal(t, "s3", summaries[2].Session)
		assert.Equal(t, "second task", summaries[1].Input)
		assert.True(t, summaries[0].CreatedAt.Before(summaries[2].CreatedAt))
	})

	t.Run("SessionsAreIndependent", func(t *testing.T) {
		rec, err := s.Load(ctx, "s2")
		require.NoError(t, err)
		assert.Len(t, rec.Steps, 1)
	})
}
