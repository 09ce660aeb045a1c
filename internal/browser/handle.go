package browser

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/browser/stealth"
	"github.com/xkilldash9x/webpilot/internal/config"
)

// Limits bounds the size of page observations.
type Limits struct {
	MaxChars    int
	MaxElements int
}

// DefaultLimits applies when the caller leaves Limits zero.
var DefaultLimits = Limits{MaxChars: 8000, MaxElements: 60}

// settleDelay is the quiet period after a mutating action before the page is
// considered stable.
var settleDelay = 300 * time.Millisecond

// shutdownTimeout bounds each phase of teardown.
var shutdownTimeout = 10 * time.Second

// Handle is a chromedp-backed browser session with exactly one active page.
// It is owned by a single run and is not reused.
type Handle struct {
	cfg     config.BrowserConfig
	limits  Limits
	logger  *zap.Logger
	persona stealth.Persona

	mu            sync.Mutex
	opened        bool
	closed        bool
	allocated     bool
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	pageCtx       context.Context
	pageCancel    context.CancelFunc
}

var _ schemas.BrowserHandle = (*Handle)(nil)

// New builds an unopened handle. The persona is resolved here so the identity
// is fixed for the lifetime of the session.
func New(cfg config.BrowserConfig, limits Limits, logger *zap.Logger) *Handle {
	if limits.MaxChars <= 0 {
		limits.MaxChars = DefaultLimits.MaxChars
	}
	if limits.MaxElements <= 0 {
		limits.MaxElements = DefaultLimits.MaxElements
	}
	return &Handle{
		cfg:     cfg,
		limits:  limits,
		logger:  logger.Named("browser"),
		persona: resolvePersona(cfg, rand.New(rand.NewSource(time.Now().UnixNano()))),
	}
}

// NewFactory returns a schemas.BrowserFactory producing fresh handles.
func NewFactory(cfg config.BrowserConfig, limits Limits, logger *zap.Logger) schemas.BrowserFactory {
	return func() schemas.BrowserHandle {
		return New(cfg, limits, logger)
	}
}

func resolvePersona(cfg config.BrowserConfig, r *rand.Rand) stealth.Persona {
	switch {
	case cfg.UserAgent != "":
		return stealth.DefaultPersona.WithUserAgent(cfg.UserAgent)
	case cfg.RandomUserAgent:
		return stealth.DefaultPersona.WithUserAgent(stealth.RandomUserAgent(cfg.BrowserType, r))
	default:
		return stealth.DefaultPersona
	}
}

// Open launches a local browser or attaches to ws_endpoint, then prepares a
// single page in its own browser context. The whole sequence is bounded by
// connect_timeout.
func (h *Handle) Open(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return &schemas.SessionError{Op: "open", Err: errors.New("handle already closed")}
	}
	if h.opened {
		return nil
	}

	// The allocator outlives ctx; only the connect phase is bounded by it.
	var allocCtx context.Context
	if h.cfg.WSEndpoint != "" {
		h.logger.Info("Attaching to remote browser", zap.String("endpoint", h.cfg.WSEndpoint))
		allocCtx, h.allocCancel = chromedp.NewRemoteAllocator(context.Background(), h.cfg.WSEndpoint)
	} else {
		execPath, err := resolveExecutable(h.cfg)
		if err != nil {
			return &schemas.SessionError{Op: "open", Err: err}
		}
		h.logger.Info("Launching browser",
			zap.String("type", h.cfg.BrowserType),
			zap.Bool("headless", h.cfg.Headless),
			zap.String("executable", execPath),
		)
		opts := execAllocatorOptions(launchFlags(h.cfg, h.persona.UserAgent), execPath)
		allocCtx, h.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	}

	h.browserCtx, h.browserCancel = chromedp.NewContext(allocCtx,
		chromedp.WithLogf(h.logger.Sugar().Debugf),
		chromedp.WithErrorf(h.logger.Sugar().Debugf),
	)

	timeout := h.cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	// The first Run allocates the browser and must not carry a deadline, or
	// the deadline would tear the browser down later. Bound it from outside.
	done := make(chan connectResult, 1)
	go func() {
		done <- h.connect(h.browserCtx)
	}()

	var res connectResult
	select {
	case res = <-done:
	case <-time.After(timeout):
		res.err = fmt.Errorf("browser did not become ready within %s", timeout)
		go discardLateConnect(done)
	case <-ctx.Done():
		res.err = ctx.Err()
		go discardLateConnect(done)
	}

	h.allocated = res.allocated
	h.pageCtx, h.pageCancel = res.pageCtx, res.pageCancel
	if res.err != nil {
		h.teardown()
		h.closed = true
		return &schemas.SessionError{Op: "open", Err: res.err}
	}

	h.opened = true
	h.logger.Debug("Browser session ready", zap.String("user_agent", h.persona.UserAgent))
	return nil
}

// connectResult is what a connect attempt leaves behind for teardown.
type connectResult struct {
	allocated  bool
	pageCtx    context.Context
	pageCancel context.CancelFunc
	err        error
}

// connect allocates the browser on browserCtx, then opens the working page in
// a browser context of its own. The page must be created after allocation so
// that it inherits the browser instead of allocating a second one.
func (h *Handle) connect(browserCtx context.Context) connectResult {
	if err := chromedp.Run(browserCtx); err != nil {
		return connectResult{err: err}
	}
	pageCtx, pageCancel := chromedp.NewContext(browserCtx, chromedp.WithNewBrowserContext())
	return connectResult{
		allocated:  true,
		pageCtx:    pageCtx,
		pageCancel: pageCancel,
		err:        chromedp.Run(pageCtx, h.setupTasks()),
	}
}

// discardLateConnect releases the page of a connect attempt that finished
// after Open gave up on it.
func discardLateConnect(done <-chan connectResult) {
	if res := <-done; res.pageCancel != nil {
		res.pageCancel()
	}
}

func (h *Handle) setupTasks() chromedp.Tasks {
	tasks := chromedp.Tasks{stealth.Apply(h.persona, h.logger)}
	if h.cfg.Viewport.Width > 0 && h.cfg.Viewport.Height > 0 {
		tasks = append(tasks, chromedp.EmulateViewport(int64(h.cfg.Viewport.Width), int64(h.cfg.Viewport.Height)))
	}
	return append(tasks,
		chromedp.Navigate("about:blank"),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// session returns the page context, or a SessionError if the handle is not usable.
func (h *Handle) session(op schemas.ActionKind) (context.Context, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.opened || h.closed {
		return nil, &schemas.SessionError{Op: string(op), Err: errors.New("browser session is not open")}
	}
	if err := h.pageCtx.Err(); err != nil {
		return nil, &schemas.SessionError{Op: string(op), Err: err}
	}
	return h.pageCtx, nil
}

// Alive reports whether the page still answers a trivial evaluation.
func (h *Handle) Alive(ctx context.Context) bool {
	page, err := h.session("alive")
	if err != nil {
		return false
	}
	probeCtx, cancel := withTimeout(page, ctx, 5*time.Second)
	defer cancel()

	var one int
	if err := chromedp.Run(probeCtx, chromedp.Evaluate("1", &one)); err != nil {
		h.logger.Debug("Liveness probe failed", zap.Error(err))
		return false
	}
	return one == 1
}

// Close releases the page, its browser context, and the browser, in that
// order. It never returns an error: teardown runs on every exit path and
// failures are only logged.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.teardown()
	return nil
}

func (h *Handle) teardown() {
	if h.pageCtx != nil {
		// Closes the tab and disposes the browser context created for it.
		h.shutdown("page", func() error {
			err := chromedp.Cancel(h.pageCtx)
			h.pageCancel()
			return err
		})
	}
	if h.browserCtx != nil {
		h.shutdown("browser", func() error {
			// A context that never allocated still holds its allocation slot;
			// its cancel func releases the slot, and Cancel would take it first.
			if !h.allocated {
				h.browserCancel()
				return nil
			}
			ctx, cancel := context.WithTimeout(h.browserCtx, shutdownTimeout)
			defer cancel()
			err := chromedp.Cancel(ctx)
			h.browserCancel()
			return err
		})
	}
	// Idempotent, and kills a launched process that ignored the graceful close.
	if h.allocCancel != nil {
		h.allocCancel()
	}
	if h.opened {
		h.logger.Info("Browser session closed")
	}
}

// shutdown runs one teardown phase, giving up after shutdownTimeout.
func (h *Handle) shutdown(phase string, fn func() error) {
	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(shutdownTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			h.logger.Warn("Error during browser shutdown", zap.String("phase", phase), zap.Error(err))
		}
	case <-timer.C:
		h.logger.Warn("Browser shutdown timed out, proceeding forcefully",
			zap.String("phase", phase),
			zap.Duration("timeout", shutdownTimeout),
		)
	}
}
