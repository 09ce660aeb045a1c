package schemas

import (
	"encoding/json"
	"strings"
)

// Role tags a message of the conversation handed to a reasoning provider.
type Role string

const (
	RolePolicy      Role = "policy"
	RoleTask        Role = "task"
	RoleHistory     Role = "history"
	RoleObservation Role = "observation"
)

// Message is one role-tagged entry of a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Conversation is the ordered context for a single decision. OutputSchema, when
// present, describes the shape extract payloads must follow.
type Conversation struct {
	Messages     []Message       `json:"messages"`
	OutputSchema json.RawMessage `json:"output_schema,omitempty"`
}

// Policy concatenates the policy messages.
func (c Conversation) Policy() string {
	var parts []string
	for _, m := range c.Messages {
		if m.Role == RolePolicy {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Turns returns every non-policy message in order.
func (c Conversation) Turns() []Message {
	out := make([]Message, 0, len(c.Messages))
	for _, m := range c.Messages {
		if m.Role != RolePolicy {
			out = append(out, m)
		}
	}
	return out
}
