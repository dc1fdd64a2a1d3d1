// Package llm defines the language model boundary used by the dispatcher,
// its agents, the decomposer, and the formatter.
package llm

import (
	"context"
	"encoding/json"
)

// Role is the author of a message sent to a model.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ToolCall is a structured request from the model to run a tool.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ToolResult is the outcome of a ToolCall, fed back to the model.
type ToolResult struct {
	CallID  string `json:"call_id"`
	Name    string `json:"name"`
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// Message is one entry of the conversation sent to a model.
// Assistant messages may carry ToolCalls; user messages may carry
// ToolResults answering the previous assistant message.
type Message struct {
	Role        Role         `json:"role"`
	Content     string       `json:"content,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

// ToolSpec describes a tool the model may call.
type ToolSpec struct {
	Name        string
	Description string
	// Parameters maps property names to JSON schema fragments.
	Parameters map[string]any
	Required   []string
}

// Schema requests structured output. Definition is a JSON schema object.
type Schema struct {
	Name        string
	Description string
	Definition  map[string]any
}

// Request is a single generation pass.
type Request struct {
	System    string
	Messages  []Message
	Tools     []ToolSpec
	Schema    *Schema
	MaxTokens int
}

// StopReason reports why generation ended.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
)

// Generation is the accumulated result of one pass.
type Generation struct {
	Text       string
	ToolCalls  []ToolCall
	Structured json.RawMessage
	StopReason StopReason
}

// Terminal reports whether the model produced a final answer rather than
// asking for tools.
func (g *Generation) Terminal() bool {
	return len(g.ToolCalls) == 0
}

// LanguageModel generates text, tool calls, or structured values.
//
// In free-text mode each text chunk is handed to onChunk as soon as the
// provider produces it; onChunk may be nil. When req.Schema is set the
// model returns a typed value in Generation.Structured and streams nothing.
type LanguageModel interface {
	Generate(ctx context.Context, req Request, onChunk func(string)) (*Generation, error)
}

// ModelFunc adapts a function to LanguageModel.
type ModelFunc func(ctx context.Context, req Request, onChunk func(string)) (*Generation, error)

// Generate calls f.
func (f ModelFunc) Generate(ctx context.Context, req Request, onChunk func(string)) (*Generation, error) {
	return f(ctx, req, onChunk)
}
