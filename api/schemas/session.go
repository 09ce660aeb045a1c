package schemas

import "time"

// Step is one completed loop iteration, the unit persisted to a MemoryStore.
// A Step is immutable once recorded.
type Step struct {
	ID                string              `json:"id"`
	Index             int                 `json:"index"`
	Action            Action              `json:"action"`
	ObservationBefore *ObservationSummary `json:"observation_before,omitempty"`
	Result            *StepResult         `json:"result_after,omitempty"`
	Error             *StepError          `json:"error"`
	Timestamp         time.Time           `json:"timestamp"`
}

// Failed reports whether the step recorded an error.
func (s Step) Failed() bool { return s.Error != nil }

// StepResult describes the page after the action was dispatched.
type StepResult struct {
	URL        string `json:"url,omitempty"`
	Title      string `json:"title,omitempty"`
	Message    string `json:"message,omitempty"`
	Records    []any  `json:"records,omitempty"`
	Screenshot string `json:"screenshot,omitempty"`
}

// SessionRecord is the durable, replayable record of one run.
type SessionRecord struct {
	Session   string    `json:"session"`
	Input     string    `json:"input"`
	CreatedAt time.Time `json:"created_at"`
	Steps     []Step    `json:"steps"`
}

// Summary drops the steps of the record.
func (r SessionRecord) Summary() SessionSummary {
	return SessionSummary{Session: r.Session, Input: r.Input, CreatedAt: r.CreatedAt}
}

// SessionSummary is one entry of the session catalog.
type SessionSummary struct {
	Session   string    `json:"session"`
	Input     string    `json:"input"`
	CreatedAt time.Time `json:"created_at"`
}
