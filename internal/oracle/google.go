package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	genai "google.golang.org/genai"

	"manifold/internal/config"
	"manifold/internal/observability"
)

type googleProvider struct {
	client *genai.Client
	model  string
}

func NewGoogle(cfg config.GoogleConfig, httpClient *http.Client) (Provider, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemini-1.5-flash"
	}
	httpOpts := genai.HTTPOptions{}
	if cfg.Timeout > 0 {
		t := time.Duration(cfg.Timeout) * time.Second
		httpOpts.Timeout = &t
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		httpOpts.BaseURL = strings.TrimSuffix(base, "/") + "/"
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:      strings.TrimSpace(cfg.APIKey),
		HTTPClient:  httpClient,
		HTTPOptions: httpOpts,
	})
	if err != nil {
		return nil, err
	}
	return &googleProvider{client: client, model: model}, nil
}

func toContents(msgs []Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		role := genai.RoleUser
		if m.Role == "assistant" {
			role = genai.RoleModel
		}
		if m.Role == "system" {
			continue
		}
		out = append(out, genai.NewContentFromText(m.Content, role))
	}
	return out
}

func systemInstruction(msgs []Message) *genai.Content {
	var sys strings.Builder
	for _, m := range msgs {
		if m.Role == "system" {
			if sys.Len() > 0 {
				sys.WriteString("\n")
			}
			sys.WriteString(m.Content)
		}
	}
	if sys.Len() == 0 {
		return nil
	}
	return genai.NewContentFromText(sys.String(), genai.RoleUser)
}

func adaptGoogleTools(tools []ToolSchema) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:                 t.Name,
			Description:          t.Description,
			ParametersJsonSchema: t.Parameters,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func (p *googleProvider) config(msgs []Message, tools []ToolSchema) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{SystemInstruction: systemInstruction(msgs)}
	if decls := adaptGoogleTools(tools); decls != nil {
		cfg.Tools = decls
	}
	return cfg
}

func (p *googleProvider) Chat(ctx context.Context, msgs []Message, tools []ToolSchema, model string) (Message, error) {
	log := observability.LoggerWithTrace(ctx)
	m := model
	if m == "" {
		m = p.model
	}
	start := time.Now()
	resp, err := p.client.Models.GenerateContent(ctx, m, toContents(msgs), p.config(msgs, tools))
	dur := time.Since(start)
	if err != nil {
		log.Error().Err(err).Str("model", m).Dur("duration", dur).Msg("oracle_chat_error")
		return Message{}, err
	}
	log.Debug().Str("model", m).Dur("duration", dur).Msg("oracle_chat_ok")
	out := Message{Role: "assistant"}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out, nil
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			out.Content += part.Text
		}
		if part.FunctionCall != nil {
			args, _ := json.Marshal(part.FunctionCall.Args)
			out.ToolCalls = append(out.ToolCalls, ToolCall{Name: part.FunctionCall.Name, Args: args, ID: part.FunctionCall.ID})
		}
	}
	return out, nil
}

func (p *googleProvider) ChatStream(ctx context.Context, msgs []Message, tools []ToolSchema, model string, h StreamHandler) error {
	log := observability.LoggerWithTrace(ctx)
	m := model
	if m == "" {
		m = p.model
	}
	stream := p.client.Models.GenerateContentStream(ctx, m, toContents(msgs), p.config(msgs, tools))
	for resp, err := range stream {
		if err != nil {
			log.Error().Err(err).Str("model", m).Msg("oracle_chat_stream_error")
			return err
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			continue
		}
		for _, part := range resp.Candidates[0].Content.Parts {
			if part.Text != "" {
				h.OnDelta(part.Text)
			}
			if part.FunctionCall != nil {
				args, _ := json.Marshal(part.FunctionCall.Args)
				h.OnToolCall(ToolCall{Name: part.FunctionCall.Name, Args: args, ID: part.FunctionCall.ID})
			}
		}
	}
	return nil
}
