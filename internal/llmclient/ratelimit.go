package llmclient

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// RateLimited throttles calls to a wrapped provider.
type RateLimited struct {
	next    schemas.ReasoningProvider
	limiter *rate.Limiter
}

var _ schemas.ReasoningProvider = (*RateLimited)(nil)

// NewRateLimited allows at most rpm decisions per minute. A non-positive rpm
// returns p unchanged.
func NewRateLimited(p schemas.ReasoningProvider, rpm int) schemas.ReasoningProvider {
	if rpm <= 0 {
		return p
	}
	return &RateLimited{
		next:    p,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1),
	}
}

// Name reports the wrapped provider's name.
func (r *RateLimited) Name() string { return r.next.Name() }

// Decide waits for a token, then delegates.
func (r *RateLimited) Decide(ctx context.Context, conv schemas.Conversation) (schemas.Action, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return schemas.Action{}, &schemas.ProviderError{Provider: r.next.Name(), Code: schemas.ProviderErrTimeout, Err: err}
	}
	return r.next.Decide(ctx, conv)
}
