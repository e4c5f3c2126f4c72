package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

// messagesClient captures the subset of the Anthropic SDK used by
// AnthropicProvider, so tests can substitute a stub for the real client.
type messagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// AnthropicProvider is the only Provider implementation this module ships.
// Model identity is a per-request parameter (ChatRequest.Model); the
// provider only supplies a fallback when a request leaves it blank.
type AnthropicProvider struct {
	client       messagesClient
	defaultModel string
	maxTokens    int64
	retry        RetryConfig
}

type AnthropicOption func(*AnthropicProvider)

func WithAnthropicMaxTokens(n int64) AnthropicOption {
	return func(p *AnthropicProvider) { p.maxTokens = n }
}

func WithAnthropicRetryConfig(cfg RetryConfig) AnthropicOption {
	return func(p *AnthropicProvider) { p.retry = cfg }
}

func NewAnthropicProvider(apiKey, defaultModel string, opts ...AnthropicOption) *AnthropicProvider {
	c := sdk.NewClient(option.WithAPIKey(apiKey))
	return newAnthropicProvider(&c.Messages, defaultModel, opts...)
}

// Credential carries exactly one of an API key or an OAuth bearer token,
// plus an optional base URL override. Construction from config picks
// whichever the environment supplied (spec §6: "Exactly one of
// ANTHROPIC_API_KEY or ANTHROPIC_OAUTH_TOKEN").
type Credential struct {
	APIKey     string
	OAuthToken string
	BaseURL    string
}

// NewAnthropicProviderFromCredential builds a client authenticated with
// either an API key (x-api-key header) or an OAuth bearer token
// (Authorization header), since the SDK's own option set only covers the
// former directly.
func NewAnthropicProviderFromCredential(cred Credential, defaultModel string, opts ...AnthropicOption) *AnthropicProvider {
	var clientOpts []option.RequestOption
	if cred.OAuthToken != "" {
		clientOpts = append(clientOpts, option.WithHeader("Authorization", "Bearer "+cred.OAuthToken))
	} else {
		clientOpts = append(clientOpts, option.WithAPIKey(cred.APIKey))
	}
	if cred.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cred.BaseURL))
	}
	c := sdk.NewClient(clientOpts...)
	return newAnthropicProvider(&c.Messages, defaultModel, opts...)
}

func newAnthropicProvider(client messagesClient, defaultModel string, opts ...AnthropicOption) *AnthropicProvider {
	p := &AnthropicProvider{
		client:       client,
		defaultModel: defaultModel,
		maxTokens:    4096,
		retry:        DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *AnthropicProvider) Name() string         { return "anthropic" }
func (p *AnthropicProvider) DefaultModel() string { return p.defaultModel }

func (p *AnthropicProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}
	msg, err := RetryDo(ctx, p.retry, func() (*sdk.Message, error) {
		m, err := p.client.New(ctx, *params)
		if err != nil {
			return nil, classifyErr(err)
		}
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic messages.new: %w", err)
	}
	return translateMessage(msg), nil
}

func (p *AnthropicProvider) ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	var final *ChatResponse
	_, err = RetryDo(ctx, p.retry, func() (struct{}, error) {
		stream := p.client.NewStreaming(ctx, *params)

		var textBuf strings.Builder
		toolCalls := map[int]*ToolCall{}
		toolJSON := map[int]*strings.Builder{}
		var order []int
		var usage Usage
		var stopReason string

		for stream.Next() {
			event := stream.Current()
			switch ev := event.AsAny().(type) {
			case sdk.ContentBlockStartEvent:
				if tu, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
					idx := int(ev.Index)
					toolCalls[idx] = &ToolCall{ID: tu.ID, Name: tu.Name}
					toolJSON[idx] = &strings.Builder{}
					order = append(order, idx)
				}
			case sdk.ContentBlockDeltaEvent:
				idx := int(ev.Index)
				switch delta := ev.Delta.AsAny().(type) {
				case sdk.TextDelta:
					if delta.Text != "" {
						textBuf.WriteString(delta.Text)
						onChunk(StreamChunk{Content: delta.Text})
					}
				case sdk.InputJSONDelta:
					if b := toolJSON[idx]; b != nil && delta.PartialJSON != "" {
						b.WriteString(delta.PartialJSON)
					}
				}
			case sdk.MessageDeltaEvent:
				stopReason = string(ev.Delta.StopReason)
				usage.PromptTokens = int(ev.Usage.InputTokens)
				usage.CompletionTokens = int(ev.Usage.OutputTokens)
				usage.CacheCreationTokens = int(ev.Usage.CacheCreationInputTokens)
				usage.CacheReadTokens = int(ev.Usage.CacheReadInputTokens)
			case sdk.MessageStopEvent:
				onChunk(StreamChunk{Done: true})
			}
		}
		if err := stream.Err(); err != nil {
			return struct{}{}, classifyErr(err)
		}

		resp := &ChatResponse{Content: textBuf.String(), FinishReason: stopReason}
		for _, idx := range order {
			tc := toolCalls[idx]
			var args map[string]interface{}
			_ = json.Unmarshal([]byte(toolJSON[idx].String()), &args)
			tc.Arguments = args
			resp.ToolCalls = append(resp.ToolCalls, *tc)
		}
		if len(resp.ToolCalls) > 0 {
			resp.FinishReason = "tool_calls"
		}
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
		resp.Usage = &usage
		final = resp
		return struct{}{}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic messages.new stream: %w", err)
	}
	return final, nil
}

func (p *AnthropicProvider) buildParams(req ChatRequest) (*sdk.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("anthropic: at least one message is required")
	}
	msgs, system, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, errors.New("anthropic: no non-system messages to send")
	}

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := p.maxTokens
	if v, ok := req.Options["max_tokens"].(int); ok && v > 0 {
		maxTokens = int64(v)
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: maxTokens,
		Messages:  msgs,
	}
	if len(system) > 0 {
		params.System = system
	}
	if len(req.Tools) > 0 {
		tools, err := encodeTools(req.Tools)
		if err != nil {
			return nil, err
		}
		params.Tools = tools
	}
	return &params, nil
}

func encodeMessages(msgs []Message) ([]sdk.MessageParam, []sdk.TextBlockParam, error) {
	out := make([]sdk.MessageParam, 0, len(msgs))
	var system []sdk.TextBlockParam

	for _, m := range msgs {
		switch m.Role {
		case "system":
			if m.Content != "" {
				system = append(system, sdk.TextBlockParam{Text: m.Content})
			}
		case "user":
			blocks := []sdk.ContentBlockParamUnion{}
			if m.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Content))
			}
			for _, img := range m.Images {
				blocks = append(blocks, sdk.NewImageBlockBase64(img.MimeType, img.Data))
			}
			if m.ToolCallID != "" {
				blocks = append(blocks, sdk.NewToolResultBlock(m.ToolCallID, m.Content, false))
			}
			if len(blocks) > 0 {
				out = append(out, sdk.NewUserMessage(blocks...))
			}
		case "assistant":
			blocks := []sdk.ContentBlockParamUnion{}
			if m.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, tc.Arguments, tc.Name))
			}
			if len(blocks) > 0 {
				out = append(out, sdk.NewAssistantMessage(blocks...))
			}
		case "tool":
			out = append(out, sdk.NewUserMessage(sdk.NewToolResultBlock(m.ToolCallID, m.Content, m.IsError)))
		default:
			return nil, nil, fmt.Errorf("anthropic: unsupported message role %q", m.Role)
		}
	}
	return out, system, nil
}

func encodeTools(defs []ToolDefinition) ([]sdk.ToolUnionParam, error) {
	out := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, d := range defs {
		data, err := json.Marshal(d.Function.Parameters)
		if err != nil {
			return nil, fmt.Errorf("anthropic: tool %q schema: %w", d.Function.Name, err)
		}
		var schema map[string]any
		if err := json.Unmarshal(data, &schema); err != nil {
			return nil, fmt.Errorf("anthropic: tool %q schema: %w", d.Function.Name, err)
		}
		u := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: schema}, d.Function.Name)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(d.Function.Description)
		}
		out = append(out, u)
	}
	return out, nil
}

func translateMessage(msg *sdk.Message) *ChatResponse {
	resp := &ChatResponse{FinishReason: string(msg.StopReason)}
	var text strings.Builder

	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			var args map[string]interface{}
			_ = json.Unmarshal(block.Input, &args)
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{ID: block.ID, Name: block.Name, Arguments: args})
		}
	}
	resp.Content = text.String()
	if len(resp.ToolCalls) > 0 {
		resp.FinishReason = "tool_calls"
	}

	u := msg.Usage
	resp.Usage = &Usage{
		PromptTokens:        int(u.InputTokens),
		CompletionTokens:    int(u.OutputTokens),
		TotalTokens:         int(u.InputTokens + u.OutputTokens),
		CacheCreationTokens: int(u.CacheCreationInputTokens),
		CacheReadTokens:     int(u.CacheReadInputTokens),
	}
	return resp
}

// classifyErr wraps transport-layer errors (429/5xx/timeouts) as
// RetriableError so RetryDo knows to back off and retry; a 4xx request
// error (bad schema, auth failure) passes through unwrapped so RetryDo
// gives up immediately.
func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 408, 409, 429, 500, 502, 503, 504:
			return &RetriableError{Err: err}
		}
		return err
	}
	// Connection resets, DNS failures, etc. arrive as plain errors from the
	// underlying http.Client — always worth a retry.
	return &RetriableError{Err: err}
}
