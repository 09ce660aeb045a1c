package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// fakeBrowser is an in-memory BrowserHandle that logs every dispatched
// primitive as the action that would have produced it.
type fakeBrowser struct {
	mu sync.Mutex

	openErr error
	// failures maps an action kind to the error its primitive returns.
	failures map[schemas.ActionKind]error
	// records is what Extract returns.
	records []any
	dead    bool
	// panicOn makes the primitive for that action kind panic.
	panicOn schemas.ActionKind

	url        string
	dispatched []schemas.Action
	opens      int
	closes     int
}

var _ schemas.BrowserHandle = (*fakeBrowser)(nil)

func newFakeBrowser() *fakeBrowser {
	return &fakeBrowser{url: "about:blank", failures: map[schemas.ActionKind]error{}}
}

func (b *fakeBrowser) do(ctx context.Context, a schemas.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dispatched = append(b.dispatched, a)
	if b.panicOn != "" && a.Kind == b.panicOn {
		panic(fmt.Sprintf("fake browser panic on %s", a.Kind))
	}
	if err := b.failures[a.Kind]; err != nil {
		return err
	}
	if a.Kind == schemas.ActionNavigate {
		b.url = a.URL
	}
	return nil
}

func (b *fakeBrowser) Open(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opens++
	return b.openErr
}

func (b *fakeBrowser) Navigate(ctx context.Context, url string) error {
	return b.do(ctx, schemas.Action{Kind: schemas.ActionNavigate, URL: url})
}

func (b *fakeBrowser) Click(ctx context.Context, target schemas.ClickTarget) error {
	a := schemas.Action{Kind: schemas.ActionClick, Selector: target.Selector}
	if target.UseCoordinates {
		x, y := target.X, target.Y
		a.X, a.Y = &x, &y
	}
	return b.do(ctx, a)
}

func (b *fakeBrowser) Type(ctx context.Context, text, selector string, submit bool) error {
	return b.do(ctx, schemas.Action{Kind: schemas.ActionType, Text: text, Selector: selector, Submit: submit})
}

func (b *fakeBrowser) Scroll(ctx context.Context, direction schemas.ScrollDirection, amount int) error {
	return b.do(ctx, schemas.Action{Kind: schemas.ActionScroll, Direction: direction, Amount: amount})
}

func (b *fakeBrowser) Extract(ctx context.Context, selector string) (schemas.ExtractResult, error) {
	if err := b.do(ctx, schemas.Action{Kind: schemas.ActionExtract, Selector: selector}); err != nil {
		return schemas.ExtractResult{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]any, len(b.records))
	copy(out, b.records)
	return schemas.ExtractResult{Records: out}, nil
}

func (b *fakeBrowser) Wait(ctx context.Context, d time.Duration) error {
	return b.do(ctx, schemas.Action{Kind: schemas.ActionWait, DurationMs: int(d / time.Millisecond)})
}

func (b *fakeBrowser) Screenshot(ctx context.Context) ([]byte, error) {
	return []byte("\x89PNG fake"), nil
}

func (b *fakeBrowser) Observe(ctx context.Context) (schemas.Observation, error) {
	if err := ctx.Err(); err != nil {
		return schemas.Observation{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return schemas.Observation{
		URL:   b.url,
		Title: "Fake page",
		Text:  "Welcome",
		Elements: []schemas.Element{
			{Selector: "#go", Tag: "button", Text: "Go"},
		},
		CapturedAt: time.Now().UTC(),
	}, nil
}

func (b *fakeBrowser) Alive(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.dead && b.closes == 0
}

func (b *fakeBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closes++
	return nil
}

func (b *fakeBrowser) actions() []schemas.Action {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]schemas.Action, len(b.dispatched))
	copy(out, b.dispatched)
	return out
}

// fakeFactory hands out one fakeBrowser per run and remembers them.
type fakeFactory struct {
	mu       sync.Mutex
	prepare  func(*fakeBrowser)
	browsers []*fakeBrowser
}

func (f *fakeFactory) New() schemas.BrowserHandle {
	b := newFakeBrowser()
	if f.prepare != nil {
		f.prepare(b)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.browsers = append(f.browsers, b)
	return b
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.browsers)
}

func (f *fakeFactory) last() *fakeBrowser {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.browsers[len(f.browsers)-1]
}

// decision is one scripted provider reply.
type decision struct {
	action schemas.Action
	err    error
	run    func()
	panic  bool
}

// scriptedProvider replays a fixed list of decisions; once the list is used
// up it keeps repeating the last one.
type scriptedProvider struct {
	mu     sync.Mutex
	script []decision
	convs  []schemas.Conversation
}

var _ schemas.ReasoningProvider = (*scriptedProvider)(nil)

func newScriptedProvider(script ...decision) *scriptedProvider {
	return &scriptedProvider{script: script}
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Decide(ctx context.Context, conv schemas.Conversation) (schemas.Action, error) {
	p.mu.Lock()
	n := len(p.convs)
	p.convs = append(p.convs, conv)
	d := p.script[min(n, len(p.script)-1)]
	p.mu.Unlock()

	if d.run != nil {
		d.run()
	}
	if d.panic {
		panic(fmt.Sprintf("scripted panic at call %d", n))
	}
	return d.action, d.err
}

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.convs)
}

func (p *scriptedProvider) conversation(i int) schemas.Conversation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.convs[i]
}

// -- Decision helpers --

func navigate(url string) decision {
	return decision{action: schemas.Action{Kind: schemas.ActionNavigate, URL: url}}
}

func click(selector string) decision {
	return decision{action: schemas.Action{Kind: schemas.ActionClick, Selector: selector}}
}

func extract(records ...any) decision {
	return decision{action: schemas.Action{Kind: schemas.ActionExtract, Data: records}}
}

func finish(output any) decision {
	return decision{action: schemas.Action{Kind: schemas.ActionFinish, Output: output}}
}

func providerFault(code schemas.ProviderErrorCode) decision {
	return decision{err: &schemas.ProviderError{Provider: "scripted", Code: code, Err: fmt.Errorf("scripted %s", code)}}
}
