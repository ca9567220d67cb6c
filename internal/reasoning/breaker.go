package reasoning

import (
	"context"

	"github.com/sells-group/insight-cli/internal/resilience"
)

type breakerReasoner struct {
	next Reasoner
	cb   *resilience.CircuitBreaker
}

// WithBreaker guards r with cb. While the circuit is open, Complete fails
// fast with resilience.ErrCircuitOpen.
func WithBreaker(r Reasoner, cb *resilience.CircuitBreaker) Reasoner {
	if cb == nil {
		return r
	}
	return &breakerReasoner{next: r, cb: cb}
}

func (b *breakerReasoner) Complete(ctx context.Context, req Request) (*Response, error) {
	return resilience.ExecuteVal(ctx, b.cb, func(ctx context.Context) (*Response, error) {
		return b.next.Complete(ctx, req)
	})
}
