package reasoning

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/insight-cli/pkg/anthropic"
)

// Anthropic adapts the Anthropic Messages API.
type Anthropic struct {
	client anthropic.Client
	model  string
}

// NewAnthropic creates a reasoner that calls model through client.
func NewAnthropic(client anthropic.Client, model string) *Anthropic {
	return &Anthropic{client: client, model: model}
}

// Complete sends req as a single-turn message.
func (a *Anthropic) Complete(ctx context.Context, req Request) (*Response, error) {
	temp := req.Temperature
	resp, err := a.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       a.model,
		MaxTokens:   req.MaxTokens,
		System:      req.System,
		Messages:    []anthropic.Message{{Role: "user", Content: req.User}},
		Temperature: &temp,
	})
	if err != nil {
		return nil, classify(eris.Wrap(err, "reasoning: anthropic complete"), anthropic.StatusCode(err))
	}

	resp.Usage.LogUsage(a.model, "plan")

	text := resp.Text()
	if text == "" {
		return nil, ErrEmptyResponse
	}
	return &Response{
		Text:         text,
		Model:        resp.Model,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}, nil
}
