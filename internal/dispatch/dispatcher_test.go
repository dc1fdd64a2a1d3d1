package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ShayCichocki/relay/internal/agent"
	"github.com/ShayCichocki/relay/internal/llm"
	"github.com/ShayCichocki/relay/internal/llm/llmtest"
	"github.com/ShayCichocki/relay/internal/state"
	"github.com/ShayCichocki/relay/internal/stream"
	"github.com/ShayCichocki/relay/internal/tools"
	"github.com/ShayCichocki/relay/pkg/models"
)

// fakeDecomposer returns scripted plans keyed by query.
type fakeDecomposer struct {
	mu    sync.Mutex
	plans map[string][]models.PlanItem
	err   error
	calls []string
	// block waits for the context to end, like a hung model call.
	block bool
}

func (f *fakeDecomposer) Decompose(ctx context.Context, query string, _ []models.Turn) ([]models.PlanItem, error) {
	f.mu.Lock()
	f.calls = append(f.calls, query)
	block := f.block
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if items, ok := f.plans[query]; ok {
		return items, nil
	}
	return []models.PlanItem{{SubQuestion: query, Agent: models.AgentResearch}}, nil
}

func (f *fakeDecomposer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeFormatter joins results in order.
type fakeFormatter struct {
	mu       sync.Mutex
	err      error
	received [][]models.CompletedItem
}

func (f *fakeFormatter) Format(_ context.Context, _ []string, completed []models.CompletedItem, onToken func(string)) (string, error) {
	f.mu.Lock()
	f.received = append(f.received, append([]models.CompletedItem(nil), completed...))
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	parts := make([]string, 0, len(completed))
	for _, c := range completed {
		parts = append(parts, c.Result)
	}
	text := strings.Join(parts, " | ")
	onToken(text)
	return text, nil
}

func kindOf(req llm.Request) models.AgentKind {
	switch {
	case strings.HasPrefix(req.System, agent.MathSystemPrompt):
		return models.AgentMath
	case strings.HasPrefix(req.System, agent.CodeSystemPrompt):
		return models.AgentCode
	default:
		return models.AgentResearch
	}
}

func hasToolResults(req llm.Request) bool {
	last := req.Messages[len(req.Messages)-1]
	return len(last.ToolResults) > 0
}

// agentModel answers research with a fact and math through the calculator.
func agentModel() *llmtest.Model {
	return &llmtest.Model{Route: func(req llm.Request) (llmtest.Reply, bool) {
		switch kindOf(req) {
		case models.AgentMath:
			if hasToolResults(req) {
				return llmtest.Text(req.Messages[len(req.Messages)-1].ToolResults[0].Content), true
			}
			return llmtest.Reply{ToolCalls: []llm.ToolCall{{ID: "call_1", Name: "calculator", Args: map[string]any{"expr": "3*99.8"}}}}, true
		case models.AgentResearch:
			return llmtest.Text("Narendra Modi is the Prime Minister of India."), true
		}
		return llmtest.Text("print('hi')"), true
	}}
}

type harness struct {
	dispatcher *Dispatcher
	decomposer *fakeDecomposer
	formatter  *fakeFormatter
	model      *llmtest.Model
	store      *state.MemoryStore
}

func newHarness(t *testing.T, model *llmtest.Model, opts ...Option) *harness {
	t.Helper()
	return newHarnessWith(t, model, model, opts...)
}

// newHarnessWith drives agents through lm, which may wrap model.
func newHarnessWith(t *testing.T, model *llmtest.Model, lm llm.LanguageModel, opts ...Option) *harness {
	t.Helper()
	registry := tools.NewDefaultRegistry(tools.Options{})
	runner, err := agent.NewRunner(lm, registry, agent.DefaultProfiles())
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}
	h := &harness{
		decomposer: &fakeDecomposer{plans: map[string][]models.PlanItem{
			"Who is the PM of India and what is 3*99.8?": {
				{SubQuestion: "Who is the Prime Minister of India?", Agent: models.AgentResearch},
				{SubQuestion: "What is 3*99.8?", Agent: models.AgentMath},
			},
		}},
		formatter: &fakeFormatter{},
		model:     model,
		store:     state.NewMemoryStore(),
	}
	opts = append([]Option{WithIDGenerator(func() string { return "c1" })}, opts...)
	h.dispatcher, err = New(Deps{
		Decomposer: h.decomposer,
		Agents:     runner,
		Tools:      tools.NewExecutor(registry, nil),
		Formatter:  h.formatter,
		Store:      h.store,
	}, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return h
}

// collect drains ch, failing the test if the run does not finish.
func collect(t *testing.T, ch <-chan stream.Event) []stream.Event {
	t.Helper()
	var out []stream.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("run did not finish; events so far: %v", shape(out))
		}
	}
}

// shape renders events compactly, collapsing consecutive tokens per node.
func shape(events []stream.Event) []string {
	var out []string
	for _, ev := range events {
		var s string
		switch ev.Type {
		case stream.EventToken:
			s = "token:" + ev.Node
		case stream.EventToolCall:
			s = "tool_call:" + ev.Tool
		case stream.EventDone:
			s = "done"
		default:
			s = string(ev.Type) + ":" + ev.Content
		}
		if len(out) > 0 && out[len(out)-1] == s && ev.Type == stream.EventToken {
			continue
		}
		out = append(out, s)
	}
	return out
}

func tokensFrom(events []stream.Event, node string) string {
	var b strings.Builder
	for _, ev := range events {
		if ev.Type == stream.EventToken && ev.Node == node {
			b.WriteString(ev.Content)
		}
	}
	return b.String()
}

func mustRun(t *testing.T, d *Dispatcher, ctx context.Context, id, query string) []stream.Event {
	t.Helper()
	ch, err := d.Run(ctx, id, query)
	if err != nil {
		t.Fatalf("Run(%q, %q) error = %v", id, query, err)
	}
	return collect(t, ch)
}

func loadState(t *testing.T, store state.CheckpointStore, id string) *models.ConversationState {
	t.Helper()
	st, err := store.Load(context.Background(), id)
	if err != nil {
		t.Fatalf("Load(%s) error = %v", id, err)
	}
	return st
}

func TestRun_MultiIntentQuery(t *testing.T) {
	h := newHarness(t, agentModel())
	events := mustRun(t, h.dispatcher, context.Background(), "", "Who is the PM of India and what is 3*99.8?")

	want := []string{
		"conversation:c1",
		"node:router",
		"node:research",
		"token:research",
		"node:math",
		"node:tools",
		"tool_call:calculator",
		"token:math",
		"node:formatter",
		"token:formatter",
		"done",
	}
	if got := shape(events); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("events =\n%v\nwant\n%v", got, want)
	}

	for _, ev := range events {
		if ev.Type == stream.EventToolCall && (ev.Result != "299.4" || ev.IsError) {
			t.Errorf("tool call event = %+v, want calculator -> 299.4", ev)
		}
	}
	if got := tokensFrom(events, "research"); got != "Narendra Modi is the Prime Minister of India." {
		t.Errorf("research tokens = %q", got)
	}

	st := loadState(t, h.store, "c1")
	if len(st.History) != 2 || st.History[0].Role != models.RoleUser || st.History[1].Role != models.RoleAssistant {
		t.Fatalf("history = %+v", st.History)
	}
	if st.History[1].Content != "Narendra Modi is the Prime Minister of India. | 299.4" {
		t.Errorf("final answer = %q", st.History[1].Content)
	}
	if !st.Plan.Empty() || st.Plan.Active {
		t.Errorf("plan not reset: %+v", st.Plan)
	}
	// planning, two items, final
	if st.Revision != 4 {
		t.Errorf("Revision = %d, want 4", st.Revision)
	}
}

func TestRun_AgentFailureRetriesThenPlaceholder(t *testing.T) {
	tests := []struct {
		name       string
		maxRetries int
		wantCalls  int
	}{
		{"one retry", 1, 2},
		{"no retries", 0, 1},
		{"two retries", 2, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var mathCalls int
			var mu sync.Mutex
			model := &llmtest.Model{Route: func(req llm.Request) (llmtest.Reply, bool) {
				if kindOf(req) == models.AgentMath {
					mu.Lock()
					mathCalls++
					mu.Unlock()
					return llmtest.Reply{Err: errors.New("provider unavailable")}, true
				}
				return llmtest.Text("Narendra Modi"), true
			}}
			h := newHarness(t, model, WithMaxRetries(tt.maxRetries))

			events := mustRun(t, h.dispatcher, context.Background(), "", "Who is the PM of India and what is 3*99.8?")
			for _, ev := range events {
				if ev.Type == stream.EventError {
					t.Errorf("agent failure must not produce an error event: %+v", ev)
				}
			}
			if mathCalls != tt.wantCalls {
				t.Errorf("math agent called %d times, want %d", mathCalls, tt.wantCalls)
			}

			got := h.formatter.received[0]
			if len(got) != 2 || !got[1].Failed || !strings.HasPrefix(got[1].Result, "[error] could not answer:") {
				t.Errorf("formatter received %+v, want placeholder for the math item", got)
			}
			if got[0].Result != "Narendra Modi" {
				t.Errorf("research result = %q", got[0].Result)
			}
		})
	}
}

func TestRun_DecompositionFailureIsFatal(t *testing.T) {
	h := newHarness(t, agentModel())
	h.decomposer.err = errors.New("model unreachable")

	events := mustRun(t, h.dispatcher, context.Background(), "", "Tell me about Rome")
	got := shape(events)
	want := []string{"conversation:c1", "node:router", "error:model unreachable", "done"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", got, want)
	}
	if _, err := h.store.Load(context.Background(), "c1"); !errors.Is(err, state.ErrNotFound) {
		t.Errorf("failed run must not create a checkpoint, Load() error = %v", err)
	}
	if h.model.CallCount() != 0 {
		t.Error("no agent should run after a decomposition failure")
	}
}

func countErrors(events []stream.Event) int {
	n := 0
	for _, ev := range events {
		if ev.Type == stream.EventError {
			n++
		}
	}
	return n
}

func TestRun_DecompositionDeadlineIsFatal(t *testing.T) {
	h := newHarness(t, agentModel())
	h.decomposer.block = true

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	events := mustRun(t, h.dispatcher, ctx, "", "Tell me about Rome")

	got := shape(events)
	if len(got) != 4 || got[0] != "conversation:c1" || got[1] != "node:router" || got[3] != "done" {
		t.Fatalf("events = %v, want conversation, router, error, done", got)
	}
	if countErrors(events) != 1 || !strings.Contains(events[2].Content, "deadline") {
		t.Errorf("error event = %+v, want one deadline error", events[2])
	}
	if _, err := h.store.Load(context.Background(), "c1"); !errors.Is(err, state.ErrNotFound) {
		t.Errorf("nothing was planned, Load() error = %v", err)
	}
}

func TestRun_AgentDeadlineFailsAndKeepsProgress(t *testing.T) {
	base := agentModel()
	model := &llmtest.Model{Route: func(req llm.Request) (llmtest.Reply, bool) {
		if kindOf(req) == models.AgentMath {
			return llmtest.Reply{Block: true}, true
		}
		return base.Route(req)
	}}
	h := newHarness(t, model)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	events := mustRun(t, h.dispatcher, ctx, "", "Who is the PM of India and what is 3*99.8?")

	if n := countErrors(events); n != 1 {
		t.Fatalf("got %d error events, want 1: %v", n, shape(events))
	}
	last := events[len(events)-2]
	if last.Type != stream.EventError || !strings.Contains(last.Content, ErrRunDeadline.Error()) {
		t.Errorf("second to last event = %+v, want the run deadline error", last)
	}
	if events[len(events)-1].Type != stream.EventDone {
		t.Error("stream must end with done")
	}

	st := loadState(t, h.store, "c1")
	if len(st.Plan.Completed) != 1 || len(st.Plan.Pending) != 1 {
		t.Fatalf("plan = %+v, want the research answer kept and math pending", st.Plan)
	}
}

func TestRun_AgentRequestTimeoutBecomesPlaceholder(t *testing.T) {
	base := agentModel()
	model := &llmtest.Model{Route: func(req llm.Request) (llmtest.Reply, bool) {
		if kindOf(req) == models.AgentMath {
			return llmtest.Reply{Block: true}, true
		}
		return base.Route(req)
	}}
	h := newHarnessWith(t, model, llm.WithRequestTimeout(model, 30*time.Millisecond))

	events := mustRun(t, h.dispatcher, context.Background(), "", "Who is the PM of India and what is 3*99.8?")
	if n := countErrors(events); n != 0 {
		t.Fatalf("agent timeouts must not be fatal: %v", shape(events))
	}
	answer := tokensFrom(events, NodeFormatter)
	if !strings.Contains(answer, placeholderPrefix) || !strings.Contains(answer, "request timed out") {
		t.Errorf("formatted answer = %q, want a timeout placeholder for the math item", answer)
	}
}

func TestRun_FormatterFailureIsFatal(t *testing.T) {
	h := newHarness(t, agentModel())
	h.formatter.err = errors.New("formatter down")

	events := mustRun(t, h.dispatcher, context.Background(), "", "Who is the PM of India and what is 3*99.8?")
	var errorEvents int
	for _, ev := range events {
		if ev.Type == stream.EventError {
			errorEvents++
		}
	}
	if errorEvents != 1 {
		t.Errorf("got %d error events, want exactly 1", errorEvents)
	}

	// Both items were checkpointed; a resume only needs to format.
	st := loadState(t, h.store, "c1")
	if !st.Plan.Drained() || len(st.Plan.Completed) != 2 {
		t.Fatalf("plan = %+v, want drained with 2 completed", st.Plan)
	}

	h.formatter.err = nil
	calls := h.model.CallCount()
	events = mustRun(t, h.dispatcher, context.Background(), "c1", "")
	if got := shape(events); strings.Join(got, ",") != "conversation:c1,node:formatter,token:formatter,done" {
		t.Errorf("resume events = %v", got)
	}
	if h.model.CallCount() != calls {
		t.Error("resume re-ran completed items")
	}
}

func TestRun_CheckpointFailureIsFatal(t *testing.T) {
	h := newHarness(t, agentModel())
	h.store.FailSaves(errors.New("disk full"))

	events := mustRun(t, h.dispatcher, context.Background(), "", "Who is the PM of India and what is 3*99.8?")
	last := events[len(events)-2]
	if last.Type != stream.EventError || !strings.Contains(last.Content, "disk full") {
		t.Fatalf("second to last event = %+v, want checkpoint error", last)
	}
	if h.model.CallCount() != 0 {
		t.Error("no agent should run after the planning checkpoint failed")
	}
}

func TestRun_CancelThenResume(t *testing.T) {
	for _, eachItem := range []bool{true, false} {
		t.Run(fmt.Sprintf("checkpoint_each_item=%v", eachItem), func(t *testing.T) {
			var block sync.Mutex
			blocking := true
			base := agentModel()
			model := &llmtest.Model{Route: func(req llm.Request) (llmtest.Reply, bool) {
				block.Lock()
				b := blocking
				block.Unlock()
				if b && kindOf(req) == models.AgentMath {
					return llmtest.Reply{Block: true}, true
				}
				return base.Route(req)
			}}
			h := newHarness(t, model, WithCheckpointEachItem(eachItem))

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			ch, err := h.dispatcher.Run(ctx, "", "Who is the PM of India and what is 3*99.8?")
			if err != nil {
				t.Fatal(err)
			}
			for ev := range ch {
				if ev.Type == stream.EventNodeEntered && ev.Content == "math" {
					cancel()
				}
				if ev.Type == stream.EventError {
					t.Errorf("cancellation must not produce an error event: %+v", ev)
				}
			}

			st := loadState(t, h.store, "c1")
			if len(st.Plan.Completed) != 1 || len(st.Plan.Pending) != 1 {
				t.Fatalf("plan after cancel = %+v, want 1 completed, 1 pending", st.Plan)
			}
			if head, _ := st.Plan.Head(); head.Agent != models.AgentMath {
				t.Errorf("pending head = %+v, want the interrupted math item", head)
			}
			if h.dispatcher.Busy("c1") {
				t.Fatal("conversation still busy after the stream closed")
			}

			block.Lock()
			blocking = false
			block.Unlock()

			events := mustRun(t, h.dispatcher, context.Background(), "c1", "")
			if h.decomposer.callCount() != 1 {
				t.Errorf("resume decomposed again")
			}
			if got := tokensFrom(events, "research"); got != "" {
				t.Errorf("resume re-ran the completed research item: %q", got)
			}
			final := loadState(t, h.store, "c1")
			if len(final.History) != 2 || final.History[1].Content != "Narendra Modi is the Prime Minister of India. | 299.4" {
				t.Errorf("history after resume = %+v", final.History)
			}
		})
	}
}

func TestRun_ConversationBusy(t *testing.T) {
	model := &llmtest.Model{Route: func(llm.Request) (llmtest.Reply, bool) {
		return llmtest.Reply{Block: true}, true
	}}
	h := newHarness(t, model)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := h.dispatcher.Run(ctx, "c1", "Tell me about Rome")
	if err != nil {
		t.Fatal(err)
	}
	<-ch // conversation

	if _, err := h.dispatcher.Run(context.Background(), "c1", "another question"); !errors.Is(err, ErrConversationBusy) {
		t.Errorf("concurrent Run() error = %v, want ErrConversationBusy", err)
	}

	other, err := h.dispatcher.Run(ctx, "c2", "")
	if !errors.Is(err, ErrEmptyQuery) || other != nil {
		t.Errorf("Run(c2, empty) = %v, %v, want ErrEmptyQuery", other, err)
	}

	cancel()
	collect(t, ch)
	if h.dispatcher.Busy("c1") {
		t.Error("busy lock not released")
	}
}

func TestRun_NewQueryExtendsUnfinishedPlan(t *testing.T) {
	h := newHarness(t, agentModel())
	st := models.NewConversationState("c1")
	st.AppendTurn(models.RoleUser, "What is 3*99.8?")
	st.Plan.Append("What is 3*99.8?", models.PlanItem{SubQuestion: "What is 3*99.8?", Agent: models.AgentMath})
	if err := h.store.Save(context.Background(), st, 0); err != nil {
		t.Fatal(err)
	}

	events := mustRun(t, h.dispatcher, context.Background(), "c1", "Who is the PM of India?")

	var order []string
	for _, ev := range events {
		if ev.Type == stream.EventNodeEntered && (ev.Content == "math" || ev.Content == "research") {
			order = append(order, ev.Content)
		}
	}
	if strings.Join(order, ",") != "math,research" {
		t.Errorf("agent order = %v, want the unfinished item first", order)
	}
	got := h.formatter.received[0]
	if len(got) != 2 || got[0].Result != "299.4" {
		t.Errorf("formatter received %+v", got)
	}
}

func TestRun_AgentSeesEarlierResults(t *testing.T) {
	h := newHarness(t, agentModel())
	mustRun(t, h.dispatcher, context.Background(), "", "Who is the PM of India and what is 3*99.8?")

	for _, req := range h.model.Requests() {
		if kindOf(req) != models.AgentMath {
			continue
		}
		if !strings.Contains(req.Messages[0].Content, "Narendra Modi is the Prime Minister of India.") {
			t.Errorf("math agent did not see the research answer:\n%s", req.Messages[0].Content)
		}
		return
	}
	t.Fatal("math agent never ran")
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New() with no deps should fail")
	}
}
