package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/llmutil"
)

// decisionFormat is appended to the policy so every provider is asked for the
// same envelope.
const decisionFormat = `Respond with exactly one JSON object and nothing else:
{"thought": "<short reasoning>", "action": "<navigate|click|type|scroll|extract|wait|finish>", "parameters": {...}}

Parameters per action:
- navigate: {"url": "<absolute url>"}
- click: {"selector": "<css selector>"} or {"x": <number>, "y": <number>}
- type: {"text": "<text>", "selector": "<css selector, optional>", "submit": <bool, optional>}
- scroll: {"direction": "up|down|top|bottom", "amount": <pixels, optional>}
- extract: {"selector": "<css selector, optional>", "data": <records taken from the page>}
- wait: {"duration_ms": <milliseconds>}
- finish: {"output": <final answer or result>}

Use selectors exactly as listed in the observation. If the previous step failed, choose a different approach.`

// decisionEnvelope is the wire form of a decision.
type decisionEnvelope struct {
	Thought    string         `json:"thought"`
	Action     string         `json:"action"`
	Parameters schemas.Action `json:"parameters"`
}

// systemInstruction renders the policy messages, the decision format, and the
// optional output schema.
func systemInstruction(conv schemas.Conversation) string {
	var b strings.Builder
	if policy := conv.Policy(); policy != "" {
		b.WriteString(policy)
		b.WriteString("\n\n")
	}
	b.WriteString(decisionFormat)
	if len(conv.OutputSchema) > 0 {
		b.WriteString("\n\nRecords passed in extract.data and the finish output must conform to this JSON schema:\n")
		b.Write(conv.OutputSchema)
	}
	return b.String()
}

var turnHeadings = map[schemas.Role]string{
	schemas.RoleTask:        "TASK",
	schemas.RoleHistory:     "HISTORY",
	schemas.RoleObservation: "CURRENT PAGE",
}

// userPrompt renders the non-policy turns, in order, as one user message.
func userPrompt(conv schemas.Conversation) string {
	var sections []string
	for _, m := range conv.Turns() {
		heading, ok := turnHeadings[m.Role]
		if !ok {
			heading = strings.ToUpper(string(m.Role))
		}
		sections = append(sections, fmt.Sprintf("## %s\n%s", heading, m.Content))
	}
	return strings.Join(sections, "\n\n")
}

// parseDecision turns raw model text into a validated action.
func parseDecision(provider, text string) (schemas.Action, error) {
	if strings.TrimSpace(text) == "" {
		return schemas.Action{}, &schemas.ProviderError{Provider: provider, Code: schemas.ProviderErrInvalidResponse, Err: errors.New("empty response")}
	}
	env, err := llmutil.ParseJSONResponse[decisionEnvelope](text)
	if err != nil {
		return schemas.Action{}, &schemas.ProviderError{Provider: provider, Code: schemas.ProviderErrInvalidDecision, Err: err}
	}

	action := env.Parameters
	kind := strings.ToLower(strings.TrimSpace(env.Action))
	if kind != "" {
		action.Kind = schemas.ActionKind(kind)
	}
	if env.Thought != "" {
		action.Thought = env.Thought
	}
	if action.Kind == "" {
		return schemas.Action{}, &schemas.ProviderError{Provider: provider, Code: schemas.ProviderErrInvalidDecision, Err: errors.New("decision names no action")}
	}
	if err := action.Validate(); err != nil {
		return schemas.Action{}, &schemas.ProviderError{Provider: provider, Code: schemas.ProviderErrInvalidDecision, Err: err}
	}
	return action, nil
}

// callError classifies a failed call made under callCtx, derived from parent.
func callError(provider string, parent, callCtx context.Context, err error) error {
	var providerErr *schemas.ProviderError
	if errors.As(err, &providerErr) {
		return err
	}
	if parent.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return &schemas.ProviderError{Provider: provider, Code: schemas.ProviderErrTimeout, Err: err}
	}
	return &schemas.ProviderError{Provider: provider, Code: schemas.ProviderErrTransport, Err: err}
}

// retryableStatus reports whether a status code is worth another attempt.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
