package reasoning

import "context"

// UsageFunc receives the token usage of one successful call.
type UsageFunc func(model string, inputTokens, outputTokens int64)

type usageReasoner struct {
	next  Reasoner
	model string
	fn    UsageFunc
}

// WithUsage reports token usage of successful calls to fn. Responses that
// do not echo a model are attributed to model.
func WithUsage(r Reasoner, model string, fn UsageFunc) Reasoner {
	if fn == nil {
		return r
	}
	return &usageReasoner{next: r, model: model, fn: fn}
}

func (u *usageReasoner) Complete(ctx context.Context, req Request) (*Response, error) {
	resp, err := u.next.Complete(ctx, req)
	if err != nil || resp == nil {
		return resp, err
	}
	model := resp.Model
	if model == "" {
		model = u.model
	}
	u.fn(model, resp.InputTokens, resp.OutputTokens)
	return resp, nil
}
