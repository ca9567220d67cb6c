package reasoning

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/insight-cli/pkg/openai"
)

// OpenAI adapts OpenAI and Azure OpenAI chat completions.
type OpenAI struct {
	client openai.Client
	model  string
}

// NewOpenAI creates a reasoner for the given model or Azure deployment.
func NewOpenAI(client openai.Client, model string) *OpenAI {
	return &OpenAI{client: client, model: model}
}

// Complete sends req as a system + user chat completion.
func (o *OpenAI) Complete(ctx context.Context, req Request) (*Response, error) {
	resp, err := o.client.Complete(ctx, openai.ChatRequest{
		Model:       o.model,
		System:      req.System,
		User:        req.User,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, classify(eris.Wrap(err, "reasoning: openai complete"), openai.StatusCode(err))
	}
	if resp.Content == "" {
		return nil, ErrEmptyResponse
	}
	return &Response{
		Text:         resp.Content,
		Model:        resp.Model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}
