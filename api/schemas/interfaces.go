package schemas

import (
	"context"
	"time"
)

// BrowserHandle owns one browser session with a single active page.
// Every action mutates real browser state; there is no rollback.
type BrowserHandle interface {
	// Open launches or attaches to a browser. It fails with *SessionError when
	// neither succeeds within the configured bound.
	Open(ctx context.Context) error
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, target ClickTarget) error
	// Type sends text to the element matched by selector, or to the focused
	// element when selector is empty.
	Type(ctx context.Context, text, selector string, submit bool) error
	Scroll(ctx context.Context, direction ScrollDirection, amount int) error
	Extract(ctx context.Context, selector string) (ExtractResult, error)
	Wait(ctx context.Context, d time.Duration) error
	Screenshot(ctx context.Context) ([]byte, error)
	Observe(ctx context.Context) (Observation, error)
	// Alive reports whether the session can still accept actions.
	Alive(ctx context.Context) bool
	// Close releases page, context, and session in that order. Safe to call
	// more than once; teardown errors are logged, not returned.
	Close() error
}

// BrowserFactory produces a fresh, unopened handle for each run.
type BrowserFactory func() BrowserHandle

// ReasoningProvider turns a conversation into exactly one validated action.
// Failures are reported as *ProviderError.
type ReasoningProvider interface {
	Name() string
	Decide(ctx context.Context, conv Conversation) (Action, error)
}

// MemoryStore is the append-only, session-keyed log of runs.
type MemoryStore interface {
	// Append persists one more step, creating the session on first append.
	Append(ctx context.Context, sessionID, input string, step Step) error
	// Load returns ErrSessionNotFound for unknown ids.
	Load(ctx context.Context, sessionID string) (*SessionRecord, error)
	// List returns the catalog ordered by creation time.
	List(ctx context.Context) ([]SessionSummary, error)
	Close() error
}
