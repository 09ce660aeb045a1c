package schemas

import "time"

// Observation is a snapshot of the current page handed to the reasoning provider.
// It is replaced on every iteration, never accumulated.
type Observation struct {
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	Text       string    `json:"text"`
	Elements   []Element `json:"elements,omitempty"`
	Truncated  bool      `json:"truncated,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
}

// Summary keeps only what a Step needs to stay debuggable.
func (o Observation) Summary() *ObservationSummary {
	return &ObservationSummary{URL: o.URL, Title: o.Title}
}

// ObservationSummary is the recorded form of the observation preceding a step.
type ObservationSummary struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// Element is an interactive element of the page with a selector that can be
// passed back in a click, type, or extract action.
type Element struct {
	Selector string `json:"selector"`
	Tag      string `json:"tag"`
	Role     string `json:"role,omitempty"`
	Text     string `json:"text,omitempty"`
	Href     string `json:"href,omitempty"`
}

// ExtractResult is the observation delta produced by an extract primitive.
type ExtractResult struct {
	Records []any  `json:"records"`
	Text    string `json:"text,omitempty"`
}

// ClickTarget addresses a click either by CSS selector or by viewport coordinates.
type ClickTarget struct {
	Selector       string
	X, Y           float64
	UseCoordinates bool
}

// ClickTargetOf builds the target of a click action.
func ClickTargetOf(a Action) ClickTarget {
	if a.Selector == "" && a.HasCoordinates() {
		return ClickTarget{X: *a.X, Y: *a.Y, UseCoordinates: true}
	}
	return ClickTarget{Selector: a.Selector}
}
