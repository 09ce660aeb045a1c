package schemas

import (
	"fmt"
	"net/url"
	"strings"
)

// ActionKind is one entry of the closed action vocabulary the agent can dispatch.
type ActionKind string

const (
	ActionNavigate ActionKind = "navigate"
	ActionClick    ActionKind = "click"
	ActionType     ActionKind = "type"
	ActionScroll   ActionKind = "scroll"
	ActionExtract  ActionKind = "extract"
	ActionWait     ActionKind = "wait"
	ActionFinish   ActionKind = "finish"
)

// ActionKinds lists the vocabulary in the order it is presented to reasoning providers.
var ActionKinds = []ActionKind{
	ActionNavigate, ActionClick, ActionType, ActionScroll, ActionExtract, ActionWait, ActionFinish,
}

// IsValid reports whether k belongs to the vocabulary.
func (k ActionKind) IsValid() bool {
	for _, known := range ActionKinds {
		if k == known {
			return true
		}
	}
	return false
}

// ScrollDirection is the direction argument of a scroll action.
type ScrollDirection string

const (
	ScrollUp     ScrollDirection = "up"
	ScrollDown   ScrollDirection = "down"
	ScrollTop    ScrollDirection = "top"
	ScrollBottom ScrollDirection = "bottom"
)

// MaxWaitMs caps the duration of a single wait action.
const MaxWaitMs = 60000

// Action is one structured decision: a kind plus the parameters that kind requires.
// It is both what a reasoning provider returns and what a Step records, so a
// recorded action can be dispatched again verbatim during replay.
type Action struct {
	Kind    ActionKind `json:"kind"`
	Thought string     `json:"thought,omitempty"`

	// navigate
	URL string `json:"url,omitempty"`

	// click, type, extract
	Selector string `json:"selector,omitempty"`

	// click by coordinates
	X *float64 `json:"x,omitempty"`
	Y *float64 `json:"y,omitempty"`

	// type
	Text   string `json:"text,omitempty"`
	Submit bool   `json:"submit,omitempty"`

	// scroll
	Direction ScrollDirection `json:"direction,omitempty"`
	Amount    int             `json:"amount,omitempty"`

	// extract: records already pulled out of the observation by the model.
	Data any `json:"data,omitempty"`

	// wait
	DurationMs int `json:"duration_ms,omitempty"`

	// finish
	Output any `json:"output,omitempty"`
}

// HasCoordinates reports whether a click targets a viewport position rather than a selector.
func (a Action) HasCoordinates() bool {
	return a.X != nil && a.Y != nil
}

// Validate checks that the action belongs to the vocabulary and carries the
// parameters its kind requires. The returned error is an *ActionError with
// code UNKNOWN_ACTION_TYPE or INVALID_PARAMETERS.
func (a Action) Validate() error {
	invalid := func(format string, args ...any) error {
		return &ActionError{Action: a.Kind, Code: ErrCodeInvalidParameters, Reason: fmt.Sprintf(format, args...)}
	}

	switch a.Kind {
	case ActionNavigate:
		if strings.TrimSpace(a.URL) == "" {
			return invalid("navigate requires a url")
		}
		u, err := url.Parse(a.URL)
		if err != nil {
			return invalid("navigate url %q is malformed: %v", a.URL, err)
		}
		switch u.Scheme {
		case "http", "https":
			if u.Host == "" {
				return invalid("navigate url %q has no host", a.URL)
			}
		case "about", "file", "data":
		default:
			return invalid("navigate url %q must be absolute (http or https)", a.URL)
		}
	case ActionClick:
		if strings.TrimSpace(a.Selector) == "" && !a.HasCoordinates() {
			return invalid("click requires a selector or both x and y coordinates")
		}
		if a.HasCoordinates() && (*a.X < 0 || *a.Y < 0) {
			return invalid("click coordinates must be non-negative")
		}
	case ActionType:
		if a.Text == "" {
			return invalid("type requires text")
		}
	case ActionScroll:
		switch a.Direction {
		case ScrollUp, ScrollDown, ScrollTop, ScrollBottom:
		default:
			return invalid("scroll direction %q is not one of up, down, top, bottom", a.Direction)
		}
		if a.Amount < 0 {
			return invalid("scroll amount must be non-negative")
		}
	case ActionExtract:
	case ActionWait:
		if a.DurationMs < 0 || a.DurationMs > MaxWaitMs {
			return invalid("wait duration_ms must be between 0 and %d", MaxWaitMs)
		}
	case ActionFinish:
	default:
		return &ActionError{Action: a.Kind, Code: ErrCodeUnknownAction, Reason: fmt.Sprintf("unknown action kind %q", a.Kind)}
	}
	return nil
}

// Summary renders the action on a single line for history prompts and logs.
func (a Action) Summary() string {
	switch a.Kind {
	case ActionNavigate:
		return fmt.Sprintf("navigate(%s)", a.URL)
	case ActionClick:
		if a.Selector != "" {
			return fmt.Sprintf("click(%s)", a.Selector)
		}
		if a.HasCoordinates() {
			return fmt.Sprintf("click(x=%.0f, y=%.0f)", *a.X, *a.Y)
		}
		return "click()"
	case ActionType:
		target := a.Selector
		if target == "" {
			target = "<focused>"
		}
		return fmt.Sprintf("type(%q -> %s)", truncate(a.Text, 60), target)
	case ActionScroll:
		return fmt.Sprintf("scroll(%s, %d)", a.Direction, a.Amount)
	case ActionExtract:
		if a.Selector != "" {
			return fmt.Sprintf("extract(%s)", a.Selector)
		}
		return "extract()"
	case ActionWait:
		return fmt.Sprintf("wait(%dms)", a.DurationMs)
	case ActionFinish:
		return "finish()"
	case "":
		return "<no decision>"
	default:
		return string(a.Kind) + "()"
	}
}

// Records normalizes the Data payload of an extract action: an array yields one
// record per element, any other non-nil value yields a single record.
func (a Action) Records() []any {
	switch v := a.Data.(type) {
	case nil:
		return nil
	case []any:
		out := make([]any, len(v))
		copy(out, v)
		return out
	default:
		return []any{v}
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
