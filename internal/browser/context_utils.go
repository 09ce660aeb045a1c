package browser

import (
	"context"
	"time"
)

// CombineContext derives a context from session (which carries the chromedp
// target) that is also canceled when op is done. Deadlines on op are honored
// through the cancellation link.
func CombineContext(session, op context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(session)
	if deadline, ok := op.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		combined, cancelDeadline = context.WithDeadline(combined, deadline)
		prev := cancel
		cancel = func() { cancelDeadline(); prev() }
	}

	go func() {
		select {
		case <-op.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}

// withTimeout combines session and op, then bounds the result by d.
func withTimeout(session, op context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	combined, cancelCombined := CombineContext(session, op)
	bounded, cancelBounded := context.WithTimeout(combined, d)
	return bounded, func() {
		cancelBounded()
		cancelCombined()
	}
}
