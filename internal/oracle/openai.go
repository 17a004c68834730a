package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"manifold/internal/config"
	"manifold/internal/observability"
)

// openAIProvider wraps the OpenAI chat completions API (and any
// OpenAI-compatible self-hosted endpoint configured via BaseURL).
type openAIProvider struct {
	sdk   sdk.Client
	model string
	extra map[string]any
}

// NewOpenAI wires a Provider onto the OpenAI SDK using cfg.BaseURL when set,
// so the same client serves both the hosted API and local OpenAI-compatible
// servers (llama.cpp, vLLM, mlx_lm).
func NewOpenAI(cfg config.OpenAIConfig, httpClient *http.Client) Provider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithHTTPClient(httpClient)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &openAIProvider{sdk: sdk.NewClient(opts...), model: cfg.Model, extra: cfg.ExtraParams}
}

func adaptMessages(model string, msgs []Message) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system":
			out = append(out, sdk.SystemMessage(m.Content))
		case "assistant":
			out = append(out, sdk.AssistantMessage(m.Content))
		case "tool":
			out = append(out, sdk.ToolMessage(m.Content, m.ToolID))
		default:
			out = append(out, sdk.UserMessage(m.Content))
		}
	}
	return out
}

func adaptSchemas(tools []ToolSchema) []sdk.ChatCompletionToolUnionParam {
	out := make([]sdk.ChatCompletionToolUnionParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, sdk.ChatCompletionFunctionTool(sdk.FunctionDefinitionParam{
			Name:        t.Name,
			Description: sdk.String(t.Description),
			Parameters:  t.Parameters,
		}))
	}
	return out
}

func (p *openAIProvider) params(msgs []Message, tools []ToolSchema, model string) sdk.ChatCompletionNewParams {
	m := model
	if m == "" {
		m = p.model
	}
	params := sdk.ChatCompletionNewParams{Model: sdk.ChatModel(m), Messages: adaptMessages(m, msgs)}
	if len(tools) > 0 {
		params.Tools = adaptSchemas(tools)
	}
	if len(p.extra) > 0 {
		params.SetExtraFields(p.extra)
	}
	return params
}

func (p *openAIProvider) Chat(ctx context.Context, msgs []Message, tools []ToolSchema, model string) (Message, error) {
	log := observability.LoggerWithTrace(ctx)
	params := p.params(msgs, tools, model)
	start := time.Now()
	comp, err := p.sdk.Chat.Completions.New(ctx, params)
	dur := time.Since(start)
	if err != nil {
		log.Error().Err(err).Str("model", string(params.Model)).Dur("duration", dur).Msg("oracle_chat_error")
		return Message{}, err
	}
	log.Debug().Str("model", string(params.Model)).Dur("duration", dur).
		Int("prompt_tokens", int(comp.Usage.PromptTokens)).
		Int("completion_tokens", int(comp.Usage.CompletionTokens)).
		Msg("oracle_chat_ok")
	if len(comp.Choices) == 0 {
		return Message{}, nil
	}
	msg := comp.Choices[0].Message
	out := Message{Role: "assistant", Content: msg.Content}
	for _, tc := range msg.ToolCalls {
		if fn, ok := tc.AsAny().(sdk.ChatCompletionMessageFunctionToolCall); ok {
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				Name: fn.Function.Name,
				Args: json.RawMessage(fn.Function.Arguments),
				ID:   fn.ID,
			})
		}
	}
	return out, nil
}

func (p *openAIProvider) ChatStream(ctx context.Context, msgs []Message, tools []ToolSchema, model string, h StreamHandler) error {
	log := observability.LoggerWithTrace(ctx)
	params := p.params(msgs, tools, model)
	stream := p.sdk.Chat.Completions.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	toolCalls := make(map[int]*ToolCall)
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			h.OnDelta(delta.Content)
		}
		for _, tc := range delta.ToolCalls {
			idx := int(tc.Index)
			if toolCalls[idx] == nil {
				toolCalls[idx] = &ToolCall{ID: tc.ID}
			}
			if tc.Function.Name != "" {
				toolCalls[idx].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				toolCalls[idx].Args = json.RawMessage(string(toolCalls[idx].Args) + tc.Function.Arguments)
			}
		}
		if len(chunk.Choices) > 0 && chunk.Choices[0].FinishReason != "" {
			for _, tc := range toolCalls {
				if tc != nil && tc.Name != "" {
					h.OnToolCall(*tc)
				}
			}
			toolCalls = make(map[int]*ToolCall)
		}
	}
	if err := stream.Err(); err != nil {
		log.Error().Err(err).Msg("oracle_chat_stream_error")
		return err
	}
	return nil
}
