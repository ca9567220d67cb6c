// Package reasoning adapts remote text-generation providers to the single
// Complete call the planner depends on.
package reasoning

import (
	"context"
	"net/http"

	"github.com/rotisserie/eris"

	"github.com/sells-group/insight-cli/internal/resilience"
)

// ErrEmptyResponse is returned when a provider answers with no text.
var ErrEmptyResponse = eris.New("reasoning: empty response")

// Request is one system + user prompt with a bounded token budget.
type Request struct {
	System      string
	User        string
	MaxTokens   int64
	Temperature float64
}

// Response is the provider's raw text answer.
type Response struct {
	Text         string
	Model        string
	InputTokens  int64
	OutputTokens int64
}

// Reasoner is implemented by every provider adapter.
type Reasoner interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// classify marks provider errors that are worth retrying or counting against
// the circuit breaker.
func classify(err error, status int) error {
	if err == nil {
		return nil
	}
	if status != 0 && (status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500) {
		return resilience.NewTransientError(err, status)
	}
	return err
}
