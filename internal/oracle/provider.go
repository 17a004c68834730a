// Package oracle wraps the external generation and embedding services this
// system treats as oracles: a chat-capable LLM for reply generation and
// structured extraction, and an embedding endpoint for vector search.
package oracle

import (
	"context"
	"encoding/json"
)

// ToolCall is a single function-call request emitted by the model.
type ToolCall struct {
	Name string
	Args json.RawMessage
	ID   string
}

// Message is one turn of a chat-style exchange with a Provider.
type Message struct {
	Role      string // "system" | "user" | "assistant" | "tool"
	Content   string
	ToolID    string
	ToolCalls []ToolCall
}

// ToolSchema describes a callable tool for structured extraction (e.g. the
// IR emission tool) via JSON Schema parameters.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// StreamHandler receives incremental output from ChatStream.
type StreamHandler interface {
	OnDelta(content string)
	OnToolCall(tc ToolCall)
}

// Provider is the generation oracle: any chat-completion-capable backend.
type Provider interface {
	Chat(ctx context.Context, msgs []Message, tools []ToolSchema, model string) (Message, error)
	ChatStream(ctx context.Context, msgs []Message, tools []ToolSchema, model string, h StreamHandler) error
}

// Embedder is the embedding oracle: converts text into fixed-dimension
// vectors for the Vector store.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Name() string
	Dimension() int
	Ping(ctx context.Context) error
}
