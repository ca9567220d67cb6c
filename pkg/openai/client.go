// Package openai wraps chat completions for OpenAI and Azure OpenAI
// deployments behind a small interface.
package openai

import (
	"context"
	"errors"
	"net/http"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"
	"github.com/rotisserie/eris"
)

// Client defines the chat completion operations used by the reasoning layer.
type Client interface {
	Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// ChatRequest is a single system + user completion.
type ChatRequest struct {
	Model       string
	System      string
	User        string
	MaxTokens   int64
	Temperature float64
}

// ChatResponse carries the first choice and token usage.
type ChatResponse struct {
	Content      string
	FinishReason string
	Model        string
	Usage        Usage
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}

// StatusCode extracts the HTTP status from an API error, or 0.
func StatusCode(err error) int {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// Option configures the client.
type Option func(*options)

type options struct {
	baseURL    string
	azureURL   string
	apiVersion string
	httpClient *http.Client
}

// WithBaseURL targets an OpenAI-compatible endpoint.
func WithBaseURL(u string) Option {
	return func(o *options) { o.baseURL = u }
}

// WithAzure targets an Azure OpenAI resource endpoint with the given API
// version. The model in each request is the deployment name.
func WithAzure(endpoint, apiVersion string) Option {
	return func(o *options) {
		o.azureURL = endpoint
		o.apiVersion = apiVersion
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

type sdkClient struct {
	client *sdk.Client
}

// NewClient creates a chat completion client.
func NewClient(apiKey string, opts ...Option) Client {
	o := &options{}
	for _, fn := range opts {
		fn(o)
	}

	var reqOpts []option.RequestOption
	if o.azureURL != "" {
		reqOpts = append(reqOpts,
			azure.WithEndpoint(o.azureURL, o.apiVersion),
			azure.WithAPIKey(apiKey),
		)
	} else {
		reqOpts = append(reqOpts, option.WithAPIKey(apiKey))
		if o.baseURL != "" {
			reqOpts = append(reqOpts, option.WithBaseURL(o.baseURL))
		}
	}
	reqOpts = append(reqOpts, option.WithMaxRetries(0))
	if o.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(o.httpClient))
	}

	return &sdkClient{client: sdk.NewClient(reqOpts...)}
}

func (c *sdkClient) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	params := sdk.ChatCompletionNewParams{
		Model: sdk.F(req.Model),
		Messages: sdk.F([]sdk.ChatCompletionMessageParamUnion{
			sdk.SystemMessage(req.System),
			sdk.UserMessage(req.User),
		}),
		Temperature: sdk.F(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = sdk.F(req.MaxTokens)
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, eris.Wrap(err, "openai: chat completion")
	}

	out := &ChatResponse{
		Model: resp.Model,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	if len(resp.Choices) > 0 {
		out.Content = resp.Choices[0].Message.Content
		out.FinishReason = string(resp.Choices[0].FinishReason)
	}
	return out, nil
}
