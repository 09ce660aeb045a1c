package cmd

import (
	"bytes"
	"context"
	"io"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/agent"
	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/observability"
)

func TestMain(m *testing.M) {
	// The global logger is initialized once; keep it quiet so command output
	// is the only thing on the test's buffers.
	observability.Initialize(config.LoggerConfig{Level: "fatal", Format: "console"}, zapcore.AddSync(io.Discard))
	code := m.Run()
	observability.ResetForTest()
	os.Exit(code)
}

// stubBrowser is a BrowserHandle that accepts every action.
type stubBrowser struct{ url string }

func (b *stubBrowser) Open(context.Context) error { b.url = "about:blank"; return nil }
func (b *stubBrowser) Navigate(_ context.Context, url string) error {
	b.url = url
	return nil
}
func (b *stubBrowser) Click(context.Context, schemas.ClickTarget) error            { return nil }
func (b *stubBrowser) Type(context.Context, string, string, bool) error            { return nil }
func (b *stubBrowser) Scroll(context.Context, schemas.ScrollDirection, int) error { return nil }
func (b *stubBrowser) Extract(context.Context, string) (schemas.ExtractResult, error) {
	return schemas.ExtractResult{Records: []any{map[string]any{"title": "Stub"}}}, nil
}
func (b *stubBrowser) Wait(context.Context, time.Duration) error  { return nil }
func (b *stubBrowser) Screenshot(context.Context) ([]byte, error) { return []byte("png"), nil }
func (b *stubBrowser) Observe(context.Context) (schemas.Observation, error) {
	return schemas.Observation{URL: b.url, Title: "Stub"}, nil
}
func (b *stubBrowser) Alive(context.Context) bool { return true }
func (b *stubBrowser) Close() error               { return nil }

// stubProvider returns its actions in order, then keeps returning the last.
type stubProvider struct {
	actions []schemas.Action
	err     error
	calls   int
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Decide(context.Context, schemas.Conversation) (schemas.Action, error) {
	if p.err != nil {
		return schemas.Action{}, p.err
	}
	a := p.actions[min(p.calls, len(p.actions)-1)]
	p.calls++
	return a, nil
}

// testHarness builds commands on stub components and records the
// configuration each invocation resolved.
type testHarness struct {
	provider *stubProvider
	memory   schemas.MemoryStore
	lastCfg  *config.Config
	lastLive bool
}

func (h *testHarness) factory(ctx context.Context, cfg *config.Config, logger *zap.Logger, live bool) (*components, error) {
	h.lastCfg, h.lastLive = cfg, live
	newBrowser := func() schemas.BrowserHandle { return &stubBrowser{} }
	return &components{
		Agent: agent.New(newBrowser, h.provider, h.memory, logger, nil),
		Store: h.memory,
	}, nil
}

// execute runs the command tree with args and returns stdout and stderr.
func (h *testHarness) execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	root := newRootCmd(h.factory)
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}
