package browser

import (
	"context"
	"errors"
	"strings"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// sessionFailureMarkers identify errors meaning the browser or page is gone.
var sessionFailureMarkers = []string{
	"target closed",
	"session closed",
	"websocket: close",
	"use of closed network connection",
	"connection reset by peer",
	"broken pipe",
	"no target with given id",
	"invalid context",
	"chrome failed to start",
}

var elementMissingMarkers = []string{
	"could not find node",
	"no node",
	"node not found",
	"element not found",
}

// classify maps a chromedp failure onto the error taxonomy. A dead session
// context or a connection-level failure yields *SessionError; everything else
// is an *ActionError.
func classify(session context.Context, kind schemas.ActionKind, err error) error {
	if err == nil {
		return nil
	}
	var (
		actionErr  *schemas.ActionError
		sessionErr *schemas.SessionError
	)
	if errors.As(err, &actionErr) || errors.As(err, &sessionErr) {
		return err
	}

	msg := strings.ToLower(err.Error())
	if session != nil && session.Err() != nil {
		return &schemas.SessionError{Op: string(kind), Err: err}
	}
	for _, marker := range sessionFailureMarkers {
		if strings.Contains(msg, marker) {
			return &schemas.SessionError{Op: string(kind), Err: err}
		}
	}

	newErr := func(code schemas.ErrorCode, reason string) error {
		return &schemas.ActionError{Action: kind, Code: code, Reason: reason, Err: err}
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return newErr(schemas.ErrCodeTimeout, "action did not complete before its deadline")
	case errors.Is(err, context.Canceled):
		return newErr(schemas.ErrCodeExecutionFailure, "action canceled")
	case strings.Contains(msg, "net::err") || strings.Contains(msg, "page load error"):
		return newErr(schemas.ErrCodeNavigation, "navigation failed")
	case strings.Contains(msg, "syntaxerror") || strings.Contains(msg, "is not a valid selector"):
		return newErr(schemas.ErrCodeInvalidParameters, "selector is not valid CSS")
	}
	for _, marker := range elementMissingMarkers {
		if strings.Contains(msg, marker) {
			return newErr(schemas.ErrCodeElementNotFound, "no element matched")
		}
	}
	if strings.Contains(msg, "detached") {
		return newErr(schemas.ErrCodeDetachedPage, "element or frame detached from the page")
	}
	return newErr(schemas.ErrCodeExecutionFailure, "browser rejected the action")
}

func elementNotFound(kind schemas.ActionKind, selector string) error {
	return &schemas.ActionError{Action: kind, Code: schemas.ErrCodeElementNotFound, Reason: "no element matches selector " + selector}
}
