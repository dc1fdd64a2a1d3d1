// Package llmtest provides a scripted llm.LanguageModel for tests.
package llmtest

import (
	"context"
	"strings"
	"sync"

	"github.com/ShayCichocki/relay/internal/llm"
)

// Reply is one scripted generation.
type Reply struct {
	// Chunks are streamed in order and concatenated into Generation.Text.
	Chunks []string
	// ToolCalls makes the generation non-terminal.
	ToolCalls []llm.ToolCall
	// Structured is returned as Generation.Structured for schema requests.
	Structured string
	// Err is returned after Chunks have been streamed.
	Err error
	// Block waits for the context to be cancelled and returns its error.
	Block bool
}

// Text returns a reply that streams s word by word.
func Text(s string) Reply {
	var chunks []string
	for _, w := range strings.SplitAfter(s, " ") {
		if w == "" {
			continue
		}
		chunks = append(chunks, w)
	}
	return Reply{Chunks: chunks}
}

// Model is a thread-safe scripted LanguageModel.
//
// Route, when set, is consulted first and may answer any request. Requests
// it declines are answered from Replies in order. Once Replies runs out the
// model answers "ok".
//
//	m := &llmtest.Model{Replies: []llmtest.Reply{
//	    {ToolCalls: []llm.ToolCall{{ID: "1", Name: "calculator", Args: args}}},
//	    llmtest.Text("299.4"),
//	}}
type Model struct {
	Route   func(req llm.Request) (Reply, bool)
	Replies []Reply

	mu       sync.Mutex
	next     int
	requests []llm.Request
}

// Generate implements llm.LanguageModel.
func (m *Model) Generate(ctx context.Context, req llm.Request, onChunk func(string)) (*llm.Generation, error) {
	reply := m.pick(req)

	if reply.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var text strings.Builder
	if req.Schema == nil {
		for _, chunk := range reply.Chunks {
			if onChunk != nil {
				onChunk(chunk)
			}
			text.WriteString(chunk)
		}
	}
	if reply.Err != nil {
		return nil, reply.Err
	}

	gen := &llm.Generation{
		Text:       text.String(),
		ToolCalls:  reply.ToolCalls,
		StopReason: llm.StopEndTurn,
	}
	if len(reply.ToolCalls) > 0 {
		gen.StopReason = llm.StopToolUse
	}
	if req.Schema != nil {
		if reply.Structured == "" {
			return nil, llm.ErrNoStructuredOutput
		}
		gen.Structured = []byte(reply.Structured)
	}
	return gen, nil
}

func (m *Model) pick(req llm.Request) Reply {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)
	if m.Route != nil {
		if reply, ok := m.Route(req); ok {
			return reply
		}
	}
	if m.next < len(m.Replies) {
		reply := m.Replies[m.next]
		m.next++
		return reply
	}
	return Reply{Chunks: []string{"ok"}}
}

// Requests returns every request received so far.
func (m *Model) Requests() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.Request(nil), m.requests...)
}

// CallCount returns the number of Generate calls.
func (m *Model) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

var _ llm.LanguageModel = (*Model)(nil)
