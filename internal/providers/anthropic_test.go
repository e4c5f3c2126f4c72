package providers

import (
	"context"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/stretchr/testify/require"
)

type stubMessagesClient struct {
	lastParams sdk.MessageNewParams
	resp       *sdk.Message
	err        error
}

func (s *stubMessagesClient) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	s.lastParams = body
	return s.resp, s.err
}

func (s *stubMessagesClient) NewStreaming(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion] {
	s.lastParams = body
	return nil
}

func TestChatTranslatesTextResponse(t *testing.T) {
	stub := &stubMessagesClient{resp: &sdk.Message{
		Content: []sdk.ContentBlockUnion{
			{Type: "text", Text: "hello there"},
		},
		StopReason: sdk.StopReasonEndTurn,
		Usage:      sdk.Usage{InputTokens: 10, OutputTokens: 5},
	}}
	p := newAnthropicProvider(stub, "claude-sonnet-4-5")

	resp, err := p.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	require.Equal(t, "hello there", resp.Content)
	require.Equal(t, "end_turn", resp.FinishReason)
	require.Equal(t, 10, resp.Usage.PromptTokens)
	require.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestChatTranslatesToolUseResponse(t *testing.T) {
	stub := &stubMessagesClient{resp: &sdk.Message{
		Content: []sdk.ContentBlockUnion{
			{Type: "tool_use", ID: "call_1", Name: "bash", Input: []byte(`{"command":"ls"}`)},
		},
		StopReason: sdk.StopReasonToolUse,
	}}
	p := newAnthropicProvider(stub, "claude-sonnet-4-5")

	resp, err := p.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "run ls"}},
		Tools: []ToolDefinition{{Type: "function", Function: ToolFunctionSchema{
			Name: "bash", Description: "run a command", Parameters: map[string]interface{}{"type": "object"},
		}}},
	})
	require.NoError(t, err)
	require.Equal(t, "tool_calls", resp.FinishReason)
	require.Len(t, resp.ToolCalls, 1)
	require.Equal(t, "bash", resp.ToolCalls[0].Name)
	require.Equal(t, "ls", resp.ToolCalls[0].Arguments["command"])
}

func TestChatRejectsEmptyMessages(t *testing.T) {
	p := newAnthropicProvider(&stubMessagesClient{}, "claude-sonnet-4-5")
	_, err := p.Chat(context.Background(), ChatRequest{})
	require.Error(t, err)
}

func TestChatSurfacesNonRetriableErrorImmediately(t *testing.T) {
	wantErr := &sdk.Error{StatusCode: 400}
	stub := &stubMessagesClient{err: wantErr}
	p := newAnthropicProvider(stub, "claude-sonnet-4-5", WithAnthropicRetryConfig(RetryConfig{MaxAttempts: 3}))

	_, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
	require.Error(t, err)
}
