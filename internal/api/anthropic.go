package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/ShayCichocki/relay/internal/llm"
)

// Generate implements llm.LanguageModel over the streaming Messages API.
// Schema requests force a tool named after the schema and return its input
// as the structured value.
func (c *Client) Generate(ctx context.Context, req llm.Request, onChunk func(string)) (*llm.Generation, error) {
	params := c.messageParams(req)

	stream := c.inner.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return nil, fmt.Errorf("accumulate stream event: %w", err)
		}

		if req.Schema != nil || onChunk == nil {
			continue
		}
		if delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if text, ok := delta.Delta.AsAny().(anthropic.TextDelta); ok && text.Text != "" {
				onChunk(text.Text)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, classifyAnthropicError(err)
	}

	c.tracker.Add(message.Usage.InputTokens, message.Usage.OutputTokens)
	return generationFromMessage(&message, req.Schema)
}

func (c *Client) messageParams(req llm.Request) anthropic.MessageNewParams {
	maxTokens := c.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: maxTokens,
		Messages:  toAnthropicMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	if req.Schema != nil {
		params.Tools = []anthropic.ToolUnionParam{schemaTool(*req.Schema)}
		params.ToolChoice = anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: req.Schema.Name},
		}
		return params
	}
	for _, spec := range req.Tools {
		params.Tools = append(params.Tools, toAnthropicTool(spec))
	}
	return params
}

func toAnthropicTool(spec llm.ToolSpec) anthropic.ToolUnionParam {
	props := spec.Parameters
	if props == nil {
		props = map[string]any{}
	}
	return anthropic.ToolUnionParam{
		OfTool: &anthropic.ToolParam{
			Name:        spec.Name,
			Description: anthropic.String(spec.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: props,
				Required:   spec.Required,
			},
		},
	}
}

func schemaTool(schema llm.Schema) anthropic.ToolUnionParam {
	return anthropic.ToolUnionParam{
		OfTool: &anthropic.ToolParam{
			Name:        schema.Name,
			Description: anthropic.String(schema.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: schema.Definition["properties"],
				Required:   requiredFields(schema.Definition["required"]),
			},
		},
	}
}

func requiredFields(v any) []string {
	switch r := v.(type) {
	case []string:
		return r
	case []any:
		out := make([]string, 0, len(r))
		for _, item := range r {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// toAnthropicMessages converts the conversation. Tool results travel in a
// user message right after the assistant message that requested them.
func toAnthropicMessages(msgs []llm.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		var blocks []anthropic.ContentBlockParamUnion
		switch m.Role {
		case llm.RoleAssistant:
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, call := range m.ToolCalls {
				args := call.Args
				if args == nil {
					args = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, args, call.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		default:
			for _, res := range m.ToolResults {
				blocks = append(blocks, anthropic.NewToolResultBlock(res.CallID, res.Content, res.IsError))
			}
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewUserMessage(blocks...))
			}
		}
	}
	return out
}

func generationFromMessage(msg *anthropic.Message, schema *llm.Schema) (*llm.Generation, error) {
	gen := &llm.Generation{StopReason: stopReason(msg.StopReason)}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			gen.Text += block.Text
		case "tool_use":
			if schema != nil && block.Name == schema.Name {
				gen.Structured = json.RawMessage(block.Input)
				continue
			}
			gen.ToolCalls = append(gen.ToolCalls, llm.ToolCall{
				ID:   block.ID,
				Name: block.Name,
				Args: decodeArgs(block.Input),
			})
		}
	}

	if schema != nil {
		gen.ToolCalls = nil
		if len(gen.Structured) == 0 {
			return nil, llm.ErrNoStructuredOutput
		}
		gen.StopReason = llm.StopEndTurn
	}
	return gen, nil
}

func stopReason(r anthropic.StopReason) llm.StopReason {
	switch r {
	case anthropic.StopReasonToolUse:
		return llm.StopToolUse
	case anthropic.StopReasonMaxTokens:
		return llm.StopMaxTokens
	default:
		return llm.StopEndTurn
	}
}

// decodeArgs parses tool input. Malformed input yields empty args so the
// tool reports the missing argument back to the model.
func decodeArgs(raw []byte) map[string]any {
	args := map[string]any{}
	if len(raw) == 0 {
		return args
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return map[string]any{}
	}
	return args
}

func classifyAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return llm.ClassifyStatus(apiErr.StatusCode, fmt.Errorf("anthropic: %w", err))
	}
	return fmt.Errorf("anthropic: %w", err)
}

var _ llm.LanguageModel = (*Client)(nil)
