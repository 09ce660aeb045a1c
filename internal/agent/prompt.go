package agent

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// maxSummaryLines caps the one-line summaries of steps older than the window.
const maxSummaryLines = 40

const policyPrompt = `You are webpilot, an autonomous agent that completes tasks in a real web browser.
You work in a loop. Each turn you receive the task, the steps taken so far, and the current page, and you answer with exactly one action.

Guidelines:
- Work toward the task with as few actions as possible. Navigate directly when you know the URL.
- Address elements with the selectors listed under the current page's interactive elements.
- Use extract to record the data the task asks for. Put the records in "data", following the output schema when one is given.
- Every action changes the real page and cannot be undone.
- Call finish once the task is complete. Put the final answer in "output", or leave it empty to return the extracted data.`

const errorHandlingPrompt = `When the previous step failed, its error code tells you why:
- ELEMENT_NOT_FOUND: the selector matched nothing. Pick another selector, scroll, or navigate elsewhere.
- INVALID_PARAMETERS: the action was malformed. Correct the parameters.
- SCHEMA_MISMATCH: the extracted records did not follow the output schema. Extract again with the required fields.
- TIMEOUT_ERROR: the page was slow. Consider a wait before trying something else.
- NAVIGATION_ERROR: the URL could not be loaded. Check the URL or go back.
- DETACHED_PAGE: the element disappeared while you acted on it. Observe again and retry with a fresh selector.
- EXECUTION_FAILURE: the browser rejected the action. Try a different approach.
Never repeat a failed action unchanged.`

// buildConversation assembles the context for the next decision.
func buildConversation(st *RunState, obsErr error) schemas.Conversation {
	var observation string
	switch {
	case obsErr != nil:
		observation = fmt.Sprintf("The page could not be observed: %v", obsErr)
	case st.Observation != nil:
		observation = renderObservation(*st.Observation)
	default:
		observation = "No page has been observed yet."
	}

	return schemas.Conversation{
		Messages: []schemas.Message{
			{Role: schemas.RolePolicy, Content: policyPrompt},
			{Role: schemas.RolePolicy, Content: errorHandlingPrompt},
			{Role: schemas.RoleTask, Content: st.Input},
			{Role: schemas.RoleHistory, Content: renderHistory(st.History, st.Options.HistoryWindow)},
			{Role: schemas.RoleObservation, Content: observation},
		},
		OutputSchema: st.Options.OutputSchema,
	}
}

// renderHistory keeps the last window steps in full and folds older ones into
// one line each, dropping the oldest beyond maxSummaryLines.
func renderHistory(steps []schemas.Step, window int) string {
	if len(steps) == 0 {
		return "No actions taken yet."
	}
	if window <= 0 {
		window = defaultHistoryWindow
	}

	var b strings.Builder
	recent := steps
	if len(steps) > window {
		older := steps[:len(steps)-window]
		recent = steps[len(steps)-window:]

		if omitted := len(older) - maxSummaryLines; omitted > 0 {
			fmt.Fprintf(&b, "(%d earlier steps omitted)\n", omitted)
			older = older[omitted:]
		}
		for _, s := range older {
			fmt.Fprintf(&b, "%d. %s -> %s\n", s.Index+1, s.Action.Summary(), outcomeLabel(s))
		}
		b.WriteString("\n")
	}

	for i, s := range recent {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Step %d: %s\n", s.Index+1, s.Action.Summary())
		if s.Action.Thought != "" {
			fmt.Fprintf(&b, "  Thought: %s\n", s.Action.Thought)
		}
		if s.Result != nil {
			if s.Result.Message != "" {
				fmt.Fprintf(&b, "  Result: %s\n", s.Result.Message)
			}
			if s.Result.URL != "" {
				fmt.Fprintf(&b, "  Page: %s\n", s.Result.URL)
			}
		}
		if s.Error != nil {
			fmt.Fprintf(&b, "  Error: %s\n", stepErrorLine(s.Error))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func outcomeLabel(s schemas.Step) string {
	if s.Error == nil {
		return "ok"
	}
	if s.Error.Code != "" {
		return "failed (" + s.Error.Code + ")"
	}
	return "failed"
}

func stepErrorLine(e *schemas.StepError) string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// renderObservation renders the page snapshot the provider decides on.
func renderObservation(obs schemas.Observation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "URL: %s\n", obs.URL)
	if obs.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", obs.Title)
	}

	b.WriteString("\nVisible text:\n")
	if strings.TrimSpace(obs.Text) == "" {
		b.WriteString("(none)\n")
	} else {
		b.WriteString(obs.Text)
		b.WriteString("\n")
	}
	if obs.Truncated {
		b.WriteString("[page content truncated]\n")
	}

	b.WriteString("\nInteractive elements:\n")
	if len(obs.Elements) == 0 {
		b.WriteString("(none)")
	}
	for _, el := range obs.Elements {
		b.WriteString("- ")
		b.WriteString(el.Selector)
		b.WriteString(" <")
		b.WriteString(el.Tag)
		if el.Role != "" {
			b.WriteString(" role=")
			b.WriteString(el.Role)
		}
		b.WriteString(">")
		if el.Text != "" {
			fmt.Fprintf(&b, " %q", el.Text)
		}
		if el.Href != "" {
			b.WriteString(" -> ")
			b.WriteString(el.Href)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
