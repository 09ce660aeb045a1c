package schemas

import (
	"errors"
	"fmt"
)

// ErrSessionNotFound is returned by a MemoryStore when a session id is unknown.
var ErrSessionNotFound = errors.New("session not found")

// ErrorCode classifies why a browser action failed.
type ErrorCode string

const (
	ErrCodeElementNotFound   ErrorCode = "ELEMENT_NOT_FOUND"
	ErrCodeTimeout           ErrorCode = "TIMEOUT_ERROR"
	ErrCodeNavigation        ErrorCode = "NAVIGATION_ERROR"
	ErrCodeInvalidParameters ErrorCode = "INVALID_PARAMETERS"
	ErrCodeUnknownAction     ErrorCode = "UNKNOWN_ACTION_TYPE"
	ErrCodeExecutionFailure  ErrorCode = "EXECUTION_FAILURE"
	ErrCodeDetachedPage      ErrorCode = "DETACHED_PAGE"
	ErrCodeSchemaMismatch    ErrorCode = "SCHEMA_MISMATCH"
)

// ActionError reports a browser action that could not be completed. It is
// recorded into the step and fed back to the reasoning provider.
type ActionError struct {
	Action ActionKind
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *ActionError) Error() string {
	msg := fmt.Sprintf("%s action failed (%s): %s", e.Action, e.Code, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ActionError) Unwrap() error { return e.Err }

// SessionError reports that the browser session itself is unusable. It is fatal to a run.
type SessionError struct {
	Op  string
	Err error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("browser session unusable during %s: %v", e.Op, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

// ProviderErrorCode classifies a reasoning provider failure.
type ProviderErrorCode string

const (
	ProviderErrTransport       ProviderErrorCode = "TRANSPORT"
	ProviderErrInvalidResponse ProviderErrorCode = "INVALID_RESPONSE"
	ProviderErrSafetyRefusal   ProviderErrorCode = "SAFETY_REFUSAL"
	ProviderErrInvalidDecision ProviderErrorCode = "INVALID_DECISION"
	ProviderErrTimeout         ProviderErrorCode = "TIMEOUT"
)

// ProviderError reports a reasoning call that failed or produced output that
// could not be parsed into the action vocabulary.
type ProviderError struct {
	Provider string
	Code     ProviderErrorCode
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s failed (%s): %v", e.Provider, e.Code, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// StepError is the serializable form of a failure recorded in a Step.
type StepError struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// NewStepError converts an error from the taxonomy into its recorded form.
func NewStepError(err error) *StepError {
	if err == nil {
		return nil
	}
	var (
		actionErr   *ActionError
		providerErr *ProviderError
		sessionErr  *SessionError
	)
	switch {
	case errors.As(err, &actionErr):
		return &StepError{Type: "action", Code: string(actionErr.Code), Message: err.Error()}
	case errors.As(err, &providerErr):
		return &StepError{Type: "provider", Code: string(providerErr.Code), Message: err.Error()}
	case errors.As(err, &sessionErr):
		return &StepError{Type: "session", Message: err.Error()}
	default:
		return &StepError{Type: "internal", Message: err.Error()}
	}
}
