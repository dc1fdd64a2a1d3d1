package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ShayCichocki/relay/internal/llm"
)

const defaultOpenAIModel = openai.GPT4oMini

// OpenAIClient implements llm.LanguageModel over an OpenAI-compatible
// chat completions endpoint.
type OpenAIClient struct {
	inner     *openai.Client
	model     string
	maxTokens int
	tracker   *TokenTracker
}

// OpenAIConfig contains configuration for creating an OpenAIClient.
type OpenAIConfig struct {
	// Model defaults to gpt-4o-mini.
	Model string
	// APIKey is the API key. If empty, uses OPENAI_API_KEY env var.
	APIKey string
	// BaseURL points at an OpenAI-compatible server, e.g. a local gateway.
	BaseURL string
	// MaxTokens is used when a request does not set its own limit.
	MaxTokens int
}

// NewOpenAIClient creates an OpenAIClient.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" && cfg.BaseURL == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable is not set")
	}

	oc := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return &OpenAIClient{
		inner:     openai.NewClientWithConfig(oc),
		model:     model,
		maxTokens: maxTokens,
		tracker:   newTracker(openAIPricing),
	}, nil
}

// Model returns the configured model name.
func (c *OpenAIClient) Model() string {
	return c.model
}

// Tracker returns the token tracker for this client.
func (c *OpenAIClient) Tracker() *TokenTracker {
	return c.tracker
}

// Generate implements llm.LanguageModel. Schema requests use a strict
// json_schema response format and return the content as the structured value.
func (c *OpenAIClient) Generate(ctx context.Context, req llm.Request, onChunk func(string)) (*llm.Generation, error) {
	chatReq, err := c.chatRequest(req)
	if err != nil {
		return nil, err
	}

	stream, err := c.inner.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	defer stream.Close()

	var (
		text   strings.Builder
		finish openai.FinishReason
		calls  = map[int]*openai.ToolCall{}
	)
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, classifyOpenAIError(err)
		}
		if resp.Usage != nil {
			c.tracker.Add(int64(resp.Usage.PromptTokens), int64(resp.Usage.CompletionTokens))
		}
		if len(resp.Choices) == 0 {
			continue
		}

		choice := resp.Choices[0]
		if choice.FinishReason != "" {
			finish = choice.FinishReason
		}
		if choice.Delta.Content != "" {
			text.WriteString(choice.Delta.Content)
			if req.Schema == nil && onChunk != nil {
				onChunk(choice.Delta.Content)
			}
		}
		mergeToolCallDeltas(calls, choice.Delta.ToolCalls)
	}

	gen := &llm.Generation{
		Text:       text.String(),
		ToolCalls:  orderedToolCalls(calls),
		StopReason: openAIStopReason(finish),
	}
	if req.Schema != nil {
		content := strings.TrimSpace(gen.Text)
		if content == "" {
			return nil, llm.ErrNoStructuredOutput
		}
		gen.Structured = json.RawMessage(content)
		gen.ToolCalls = nil
		gen.StopReason = llm.StopEndTurn
	}
	return gen, nil
}

func (c *OpenAIClient) chatRequest(req llm.Request) (openai.ChatCompletionRequest, error) {
	maxTokens := c.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	chatReq := openai.ChatCompletionRequest{
		Model:         c.model,
		MaxTokens:     maxTokens,
		Messages:      toOpenAIMessages(req.System, req.Messages),
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}

	if req.Schema != nil {
		schema, err := json.Marshal(req.Schema.Definition)
		if err != nil {
			return chatReq, fmt.Errorf("encode schema %s: %w", req.Schema.Name, err)
		}
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:        req.Schema.Name,
				Description: req.Schema.Description,
				Schema:      json.RawMessage(schema),
				Strict:      true,
			},
		}
		return chatReq, nil
	}

	for _, spec := range req.Tools {
		props := spec.Parameters
		if props == nil {
			props = map[string]any{}
		}
		params := map[string]any{
			"type":       "object",
			"properties": props,
		}
		if len(spec.Required) > 0 {
			params["required"] = spec.Required
		}
		chatReq.Tools = append(chatReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  params,
			},
		})
	}
	return chatReq, nil
}

// toOpenAIMessages converts the conversation. Each tool result becomes its
// own tool-role message.
func toOpenAIMessages(system string, msgs []llm.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range msgs {
		if m.Role == llm.RoleAssistant {
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Content}
			for _, call := range m.ToolCalls {
				args, _ := json.Marshal(call.Args)
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   call.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      call.Name,
						Arguments: string(args),
					},
				})
			}
			out = append(out, msg)
			continue
		}
		for _, res := range m.ToolResults {
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    res.Content,
				ToolCallID: res.CallID,
			})
		}
		if m.Content != "" {
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.Content})
		}
	}
	return out
}

// mergeToolCallDeltas stitches streamed tool call fragments by index.
func mergeToolCallDeltas(calls map[int]*openai.ToolCall, deltas []openai.ToolCall) {
	for i, d := range deltas {
		idx := i
		if d.Index != nil {
			idx = *d.Index
		}
		call, ok := calls[idx]
		if !ok {
			call = &openai.ToolCall{Type: openai.ToolTypeFunction}
			calls[idx] = call
		}
		if d.ID != "" {
			call.ID = d.ID
		}
		if d.Function.Name != "" {
			call.Function.Name = d.Function.Name
		}
		call.Function.Arguments += d.Function.Arguments
	}
}

func orderedToolCalls(calls map[int]*openai.ToolCall) []llm.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	idx := make([]int, 0, len(calls))
	for i := range calls {
		idx = append(idx, i)
	}
	sort.Ints(idx)

	out := make([]llm.ToolCall, 0, len(calls))
	for _, i := range idx {
		call := calls[i]
		out = append(out, llm.ToolCall{
			ID:   call.ID,
			Name: call.Function.Name,
			Args: decodeArgs([]byte(call.Function.Arguments)),
		})
	}
	return out
}

func openAIStopReason(r openai.FinishReason) llm.StopReason {
	switch r {
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return llm.StopToolUse
	case openai.FinishReasonLength:
		return llm.StopMaxTokens
	default:
		return llm.StopEndTurn
	}
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return llm.ClassifyStatus(apiErr.HTTPStatusCode, fmt.Errorf("openai: %w", err))
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return llm.ClassifyStatus(reqErr.HTTPStatusCode, fmt.Errorf("openai: %w", err))
	}
	return fmt.Errorf("openai: %w", err)
}

var _ llm.LanguageModel = (*OpenAIClient)(nil)
