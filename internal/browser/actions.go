package browser

import (
	"context"
	"errors"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

func (h *Handle) actionTimeout() time.Duration {
	if h.cfg.ActionTimeout > 0 {
		return h.cfg.ActionTimeout
	}
	return 30 * time.Second
}

func (h *Handle) navigationTimeout() time.Duration {
	if h.cfg.NavigationTimeout > 0 {
		return h.cfg.NavigationTimeout
	}
	return 60 * time.Second
}

// run executes tasks against the page under the given bound and classifies
// any failure.
func (h *Handle) run(ctx context.Context, kind schemas.ActionKind, d time.Duration, tasks ...chromedp.Action) error {
	page, err := h.session(kind)
	if err != nil {
		return err
	}
	runCtx, cancel := withTimeout(page, ctx, d)
	defer cancel()
	return classify(page, kind, chromedp.Run(runCtx, tasks...))
}

// stabilize waits for the document body and a short quiet period. A page that
// never settles is not an action failure; only cancellation is reported.
func (h *Handle) stabilize(ctx context.Context) error {
	if err := h.run(ctx, "stabilize", h.actionTimeout(), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var sessionErr *schemas.SessionError
		if errors.As(err, &sessionErr) {
			return err
		}
		h.logger.Debug("Page did not stabilize", zap.Error(err))
	}
	return sleep(ctx, settleDelay)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Navigate loads url in the page and waits for it to stabilize.
func (h *Handle) Navigate(ctx context.Context, url string) error {
	h.logger.Debug("Navigating", zap.String("url", url))
	if err := h.run(ctx, schemas.ActionNavigate, h.navigationTimeout(), chromedp.Navigate(url)); err != nil {
		return err
	}
	return h.stabilize(ctx)
}

// probe reports ELEMENT_NOT_FOUND or INVALID_PARAMETERS up front, rather than
// letting a query wait out the whole action timeout.
func (h *Handle) probe(ctx context.Context, kind schemas.ActionKind, selector string) error {
	script, err := invoke(probeSelectorScript, selector)
	if err != nil {
		return &schemas.ActionError{Action: kind, Code: schemas.ErrCodeInvalidParameters, Reason: "selector could not be encoded", Err: err}
	}
	var status string
	if err := h.run(ctx, kind, h.actionTimeout(), chromedp.Evaluate(script, &status)); err != nil {
		return err
	}
	switch status {
	case "missing":
		return elementNotFound(kind, selector)
	case "invalid":
		return &schemas.ActionError{Action: kind, Code: schemas.ErrCodeInvalidParameters, Reason: "selector is not valid CSS: " + selector}
	}
	return nil
}

// Click clicks the first element matching the target selector, or the given
// viewport position.
func (h *Handle) Click(ctx context.Context, target schemas.ClickTarget) error {
	if target.UseCoordinates {
		if err := h.run(ctx, schemas.ActionClick, h.actionTimeout(), chromedp.MouseClickXY(target.X, target.Y)); err != nil {
			return err
		}
		return h.stabilize(ctx)
	}

	if err := h.probe(ctx, schemas.ActionClick, target.Selector); err != nil {
		return err
	}
	err := h.run(ctx, schemas.ActionClick, h.actionTimeout(),
		chromedp.ScrollIntoView(target.Selector, chromedp.ByQuery),
		chromedp.WaitVisible(target.Selector, chromedp.ByQuery),
		chromedp.Click(target.Selector, chromedp.ByQuery),
	)
	if err != nil {
		return err
	}
	return h.stabilize(ctx)
}

// Type sends text to the element matched by selector, or to whatever holds
// focus when selector is empty. With submit, Enter is pressed afterwards.
func (h *Handle) Type(ctx context.Context, text, selector string, submit bool) error {
	var tasks chromedp.Tasks
	if selector != "" {
		if err := h.probe(ctx, schemas.ActionType, selector); err != nil {
			return err
		}
		keys := text
		if submit {
			keys += kb.Enter
		}
		tasks = chromedp.Tasks{
			chromedp.ScrollIntoView(selector, chromedp.ByQuery),
			chromedp.Focus(selector, chromedp.ByQuery),
			chromedp.SendKeys(selector, keys, chromedp.ByQuery),
		}
	} else {
		tasks = chromedp.Tasks{input.InsertText(text)}
		if submit {
			tasks = append(tasks, chromedp.KeyEvent(kb.Enter))
		}
	}

	if err := h.run(ctx, schemas.ActionType, h.actionTimeout(), tasks); err != nil {
		return err
	}
	if submit {
		return h.stabilize(ctx)
	}
	return nil
}

// Scroll moves the viewport. A zero amount scrolls by one viewport height.
func (h *Handle) Scroll(ctx context.Context, direction schemas.ScrollDirection, amount int) error {
	script, err := invoke(scrollScript, map[string]any{"direction": direction, "amount": amount})
	if err != nil {
		return &schemas.ActionError{Action: schemas.ActionScroll, Code: schemas.ErrCodeInvalidParameters, Reason: "scroll arguments could not be encoded", Err: err}
	}
	var offset float64
	if err := h.run(ctx, schemas.ActionScroll, h.actionTimeout(), chromedp.Evaluate(script, &offset)); err != nil {
		return err
	}
	h.logger.Debug("Scrolled", zap.String("direction", string(direction)), zap.Float64("offset", offset))
	return sleep(ctx, settleDelay)
}

type extractResponse struct {
	Status  string           `json:"status"`
	Records []map[string]any `json:"records"`
}

// Extract reads the elements matched by selector into records. Without a
// selector it returns a single record describing the whole page.
func (h *Handle) Extract(ctx context.Context, selector string) (schemas.ExtractResult, error) {
	script, err := invoke(extractScript, map[string]any{"selector": selector, "maxChars": h.limits.MaxChars})
	if err != nil {
		return schemas.ExtractResult{}, &schemas.ActionError{Action: schemas.ActionExtract, Code: schemas.ErrCodeInvalidParameters, Reason: "selector could not be encoded", Err: err}
	}

	var resp extractResponse
	if err := h.run(ctx, schemas.ActionExtract, h.actionTimeout(), chromedp.Evaluate(script, &resp)); err != nil {
		return schemas.ExtractResult{}, err
	}
	switch resp.Status {
	case "missing":
		return schemas.ExtractResult{}, elementNotFound(schemas.ActionExtract, selector)
	case "invalid":
		return schemas.ExtractResult{}, &schemas.ActionError{Action: schemas.ActionExtract, Code: schemas.ErrCodeInvalidParameters, Reason: "selector is not valid CSS: " + selector}
	}

	result := schemas.ExtractResult{Records: make([]any, 0, len(resp.Records))}
	for _, r := range resp.Records {
		result.Records = append(result.Records, r)
	}
	if selector == "" && len(resp.Records) == 1 {
		if text, ok := resp.Records[0]["text"].(string); ok {
			result.Text = text
		}
	}
	return result, nil
}

// Wait pauses for d without touching the page.
func (h *Handle) Wait(ctx context.Context, d time.Duration) error {
	if _, err := h.session(schemas.ActionWait); err != nil {
		return err
	}
	if err := sleep(ctx, d); err != nil {
		return &schemas.ActionError{Action: schemas.ActionWait, Code: schemas.ErrCodeExecutionFailure, Reason: "wait interrupted", Err: err}
	}
	return nil
}

// Screenshot captures the visible viewport as PNG.
func (h *Handle) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := h.run(ctx, "screenshot", h.actionTimeout(), chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}
