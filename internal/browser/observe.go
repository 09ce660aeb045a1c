package browser

import (
	"context"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

type observeResponse struct {
	URL       string            `json:"url"`
	Title     string            `json:"title"`
	Text      string            `json:"text"`
	Truncated bool              `json:"truncated"`
	Elements  []schemas.Element `json:"elements"`
}

// Observe captures the page as the reasoning provider sees it: location,
// title, visible text bounded by MaxChars, and up to MaxElements interactive
// elements with selectors that can be acted on.
func (h *Handle) Observe(ctx context.Context) (schemas.Observation, error) {
	script, err := invoke(observeScript, map[string]int{
		"maxChars":    h.limits.MaxChars,
		"maxElements": h.limits.MaxElements,
	})
	if err != nil {
		return schemas.Observation{}, err
	}

	var resp observeResponse
	if err := h.run(ctx, "observe", h.actionTimeout(), chromedp.Evaluate(script, &resp)); err != nil {
		return schemas.Observation{}, err
	}

	text, cut := clip(resp.Text, h.limits.MaxChars)
	elements := resp.Elements
	if len(elements) > h.limits.MaxElements {
		elements = elements[:h.limits.MaxElements]
	}
	return schemas.Observation{
		URL:        resp.URL,
		Title:      resp.Title,
		Text:       text,
		Elements:   elements,
		Truncated:  resp.Truncated || cut,
		CapturedAt: time.Now().UTC(),
	}, nil
}

// clip bounds s to n runes. The page slices by UTF-16 units, so this is the
// authoritative limit.
func clip(s string, n int) (string, bool) {
	if n <= 0 {
		return s, false
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i], true
		}
		count++
	}
	return s, false
}
