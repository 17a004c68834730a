package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"manifold/internal/config"
	"manifold/internal/observability"
)

const defaultAnthropicMaxTokens int64 = 1024

// anthropicProvider wraps the Anthropic Messages API. The prompt-cache
// config is stored on the provider but not applied: requests carry no
// cache-control markers on the system block, tools, or messages. Extended
// thinking is not carried over (no component in this system's scope
// streams model thought summaries).
type anthropicProvider struct {
	sdk       anthropic.Client
	model     string
	maxTokens int64
	cacheCfg  config.AnthropicPromptCacheConfig
	extra     map[string]any
}

func NewAnthropic(cfg config.AnthropicConfig, httpClient *http.Client) Provider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []anthropic.Option{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithHTTPClient(httpClient),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(base, "/")))
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = string(anthropic.ModelClaude3_7SonnetLatest)
	}
	return &anthropicProvider{
		sdk:       anthropic.NewClient(opts...),
		model:     model,
		maxTokens: defaultAnthropicMaxTokens,
		cacheCfg:  cfg.PromptCache,
		extra:     cfg.ExtraParams,
	}
}

func (p *anthropicProvider) adaptMessages(msgs []Message) (string, []anthropic.MessageParam) {
	var sys strings.Builder
	var out []anthropic.MessageParam
	for _, m := range msgs {
		switch m.Role {
		case "system":
			if sys.Len() > 0 {
				sys.WriteString("\n")
			}
			sys.WriteString(m.Content)
		case "assistant":
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return sys.String(), out
}

func (p *anthropicProvider) adaptTools(tools []ToolSchema) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, anthropic.ToolUnionParamOfTool(anthropic.ToolInputSchemaParam{
			Properties: t.Parameters["properties"],
		}, t.Name))
	}
	return out
}

func (p *anthropicProvider) params(msgs []Message, tools []ToolSchema, model string) anthropic.MessageNewParams {
	sys, converted := p.adaptMessages(msgs)
	m := model
	if m == "" {
		m = p.model
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(m),
		Messages:  converted,
		MaxTokens: p.maxTokens,
	}
	if sys != "" {
		params.System = []anthropic.TextBlockParam{{Text: sys}}
	}
	if len(tools) > 0 {
		params.Tools = p.adaptTools(tools)
	}
	if len(p.extra) > 0 {
		params.SetExtraFields(p.extra)
	}
	return params
}

func (p *anthropicProvider) Chat(ctx context.Context, msgs []Message, tools []ToolSchema, model string) (Message, error) {
	log := observability.LoggerWithTrace(ctx)
	params := p.params(msgs, tools, model)
	start := time.Now()
	resp, err := p.sdk.Messages.New(ctx, params)
	dur := time.Since(start)
	if err != nil {
		log.Error().Err(err).Str("model", string(params.Model)).Dur("duration", dur).Msg("oracle_chat_error")
		return Message{}, err
	}
	log.Debug().Str("model", string(params.Model)).Dur("duration", dur).
		Int64("input_tokens", resp.Usage.InputTokens).
		Int64("output_tokens", resp.Usage.OutputTokens).
		Msg("oracle_chat_ok")

	out := Message{Role: "assistant"}
	for _, block := range resp.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			out.Content += b.Text
		case anthropic.ToolUseBlock:
			args, _ := json.Marshal(b.Input)
			out.ToolCalls = append(out.ToolCalls, ToolCall{Name: b.Name, Args: args, ID: b.ID})
		}
	}
	return out, nil
}

func (p *anthropicProvider) ChatStream(ctx context.Context, msgs []Message, tools []ToolSchema, model string, h StreamHandler) error {
	log := observability.LoggerWithTrace(ctx)
	params := p.params(msgs, tools, model)
	stream := p.sdk.Messages.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	toolName := map[int64]string{}
	toolID := map[int64]string{}
	toolArgs := map[int64]*strings.Builder{}

	for stream.Next() {
		event := stream.Current()
		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			if b, ok := ev.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
				toolName[ev.Index] = b.Name
				toolID[ev.Index] = b.ID
				toolArgs[ev.Index] = &strings.Builder{}
			}
		case anthropic.ContentBlockDeltaEvent:
			switch d := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				h.OnDelta(d.Text)
			case anthropic.InputJSONDelta:
				if b, ok := toolArgs[ev.Index]; ok {
					b.WriteString(d.PartialJSON)
				}
			}
		case anthropic.ContentBlockStopEvent:
			if name, ok := toolName[ev.Index]; ok {
				h.OnToolCall(ToolCall{Name: name, ID: toolID[ev.Index], Args: json.RawMessage(toolArgs[ev.Index].String())})
			}
		}
	}
	if err := stream.Err(); err != nil {
		log.Error().Err(err).Msg("oracle_chat_stream_error")
		return err
	}
	return nil
}
