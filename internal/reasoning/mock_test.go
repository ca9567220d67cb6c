package reasoning

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/insight-cli/pkg/anthropic"
	"github.com/sells-group/insight-cli/pkg/openai"
)

type mockAnthropic struct {
	mock.Mock
}

func (m *mockAnthropic) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if v := args.Get(0); v != nil {
		return v.(*anthropic.MessageResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockOpenAI struct {
	mock.Mock
}

func (m *mockOpenAI) Complete(ctx context.Context, req openai.ChatRequest) (*openai.ChatResponse, error) {
	args := m.Called(ctx, req)
	if v := args.Get(0); v != nil {
		return v.(*openai.ChatResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

type funcReasoner func(ctx context.Context, req Request) (*Response, error)

func (f funcReasoner) Complete(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}
