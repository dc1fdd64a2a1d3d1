package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ShayCichocki/relay/internal/llm"
)

// anthropicServer replays a canned Messages stream and records the request body.
func anthropicServer(t *testing.T, events []string, body *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		if body != nil {
			if err := json.Unmarshal(raw, body); err != nil {
				t.Errorf("request body is not JSON: %v", err)
			}
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, ev := range events {
			var typ struct {
				Type string `json:"type"`
			}
			_ = json.Unmarshal([]byte(ev), &typ)
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", typ.Type, ev)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func messageStart() string {
	return `{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-sonnet-4-20250514","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":12,"output_tokens":1}}}`
}

func newTestAnthropic(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient(ClientConfig{APIKey: "test-key", BaseURL: url})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestClient_GenerateStreamsText(t *testing.T) {
	var body map[string]any
	srv := anthropicServer(t, []string{
		messageStart(),
		`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"299"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":".4"}}`,
		`{"type":"content_block_stop","index":0}`,
		`{"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":3}}`,
		`{"type":"message_stop"}`,
	}, &body)
	c := newTestAnthropic(t, srv.URL)

	var chunks []string
	gen, err := c.Generate(context.Background(), llm.Request{
		System:   "Only numbers.",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "What is 3*99.8?"}},
		Tools:    []llm.ToolSpec{{Name: "calculator", Description: "math", Parameters: map[string]any{"expr": map[string]any{"type": "string"}}}},
	}, func(s string) { chunks = append(chunks, s) })
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if gen.Text != "299.4" || strings.Join(chunks, "|") != "299|.4" {
		t.Errorf("Text = %q, chunks = %v", gen.Text, chunks)
	}
	if !gen.Terminal() || gen.StopReason != llm.StopEndTurn {
		t.Errorf("generation = %+v, want terminal end_turn", gen)
	}
	if in, _ := c.Tracker().Total(); in != 12 {
		t.Errorf("input tokens = %d, want 12", in)
	}

	if body["stream"] != true {
		t.Errorf("request not streamed: %v", body["stream"])
	}
	if tools, _ := body["tools"].([]any); len(tools) != 1 {
		t.Errorf("tools = %v", body["tools"])
	}
}

func TestClient_GenerateToolUse(t *testing.T) {
	srv := anthropicServer(t, []string{
		messageStart(),
		`{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_1","name":"calculator","input":{"expr":"3*99.8"}}}`,
		`{"type":"content_block_stop","index":0}`,
		`{"type":"message_delta","delta":{"stop_reason":"tool_use","stop_sequence":null},"usage":{"output_tokens":9}}`,
		`{"type":"message_stop"}`,
	}, nil)
	c := newTestAnthropic(t, srv.URL)

	gen, err := c.Generate(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "What is 3*99.8?"}},
	}, nil)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(gen.ToolCalls) != 1 || gen.ToolCalls[0].ID != "toolu_1" || gen.ToolCalls[0].Args["expr"] != "3*99.8" {
		t.Fatalf("ToolCalls = %+v", gen.ToolCalls)
	}
	if gen.StopReason != llm.StopToolUse || gen.Terminal() {
		t.Errorf("generation = %+v, want tool_use", gen)
	}
}

func TestClient_GenerateStructured(t *testing.T) {
	var body map[string]any
	srv := anthropicServer(t, []string{
		messageStart(),
		`{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_1","name":"routing_plan","input":{"items":[{"sub_question":"What is 2+2?","agent":"math"}]}}}`,
		`{"type":"content_block_stop","index":0}`,
		`{"type":"message_delta","delta":{"stop_reason":"tool_use","stop_sequence":null},"usage":{"output_tokens":9}}`,
		`{"type":"message_stop"}`,
	}, &body)
	c := newTestAnthropic(t, srv.URL)

	gen, err := c.Generate(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "What is 2+2?"}},
		Schema: &llm.Schema{Name: "routing_plan", Definition: map[string]any{
			"type":       "object",
			"properties": map[string]any{"items": map[string]any{"type": "array"}},
			"required":   []string{"items"},
		}},
	}, nil)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if !strings.Contains(string(gen.Structured), `"sub_question":"What is 2+2?"`) {
		t.Errorf("Structured = %s", gen.Structured)
	}
	if len(gen.ToolCalls) != 0 {
		t.Errorf("structured output must not surface as tool calls: %+v", gen.ToolCalls)
	}

	choice, _ := body["tool_choice"].(map[string]any)
	if choice["type"] != "tool" || choice["name"] != "routing_plan" {
		t.Errorf("tool_choice = %v, want forced routing_plan", body["tool_choice"])
	}
}

func TestClient_GenerateClassifiesErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`)
	}))
	defer srv.Close()

	_, err := newTestAnthropic(t, srv.URL).Generate(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	}, nil)
	if err == nil {
		t.Fatal("Generate() should fail on 400")
	}
	if llm.IsTransient(err) {
		t.Errorf("400 should not be transient: %v", err)
	}
}

func TestToAnthropicMessages(t *testing.T) {
	msgs := toAnthropicMessages([]llm.Message{
		{Role: llm.RoleUser, Content: "What is 3*99.8?"},
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "t1", Name: "calculator", Args: map[string]any{"expr": "3*99.8"}}}},
		{Role: llm.RoleUser, ToolResults: []llm.ToolResult{{CallID: "t1", Content: "299.4"}}},
		{Role: llm.RoleAssistant},
	})
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3 (empty assistant dropped)", len(msgs))
	}

	raw, err := json.Marshal(msgs)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"type":"tool_use"`, `"tool_use_id":"t1"`, `"role":"assistant"`} {
		if !strings.Contains(string(raw), want) {
			t.Errorf("converted messages missing %s: %s", want, raw)
		}
	}
}
