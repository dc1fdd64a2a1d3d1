package tools

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ShayCichocki/relay/internal/llm"
)

// recordingTool records invocation order and optionally fails.
type recordingTool struct {
	name  string
	log   *[]string
	fail  bool
	reply string
}

func (r recordingTool) Name() string       { return r.name }
func (r recordingTool) Spec() llm.ToolSpec { return llm.ToolSpec{Name: r.name} }
func (r recordingTool) Invoke(_ context.Context, args map[string]any) (string, error) {
	*r.log = append(*r.log, r.name)
	if r.fail {
		return "", errors.New("kaboom")
	}
	return r.reply, nil
}

func TestExecutor_RunsSequentiallyInOrder(t *testing.T) {
	var log []string
	reg := NewRegistry(
		recordingTool{name: "first", log: &log, reply: "1"},
		recordingTool{name: "second", log: &log, reply: "2"},
	)
	exec := NewExecutor(reg, nil)

	calls := []llm.ToolCall{
		{ID: "a", Name: "second"},
		{ID: "b", Name: "first"},
		{ID: "c", Name: "second"},
	}
	var seen []string
	outcomes := exec.Execute(context.Background(), []string{"first", "second"}, calls, func(o Outcome) {
		seen = append(seen, o.Call.ID)
	})

	if got := strings.Join(log, ","); got != "second,first,second" {
		t.Errorf("invocation order = %s, want second,first,second", got)
	}
	if got := strings.Join(seen, ","); got != "a,b,c" {
		t.Errorf("outcome callback order = %s, want a,b,c", got)
	}
	if len(outcomes) != 3 || outcomes[1].Content != "1" {
		t.Errorf("outcomes = %+v", outcomes)
	}
}

func TestExecutor_NotPermittedIsResultNotFault(t *testing.T) {
	var log []string
	reg := NewRegistry(
		recordingTool{name: "calculator", log: &log, reply: "4"},
		recordingTool{name: "run_python", log: &log, reply: "x"},
	)
	exec := NewExecutor(reg, nil)

	outcomes := exec.Execute(context.Background(), []string{"calculator"}, []llm.ToolCall{
		{ID: "1", Name: "run_python"},
		{ID: "2", Name: "calculator"},
	}, nil)

	if !errors.Is(outcomes[0].Err, ErrToolNotPermitted) {
		t.Errorf("outcome[0].Err = %v, want ErrToolNotPermitted", outcomes[0].Err)
	}
	res := outcomes[0].Result()
	if !res.IsError || !strings.Contains(res.Content, "not permitted") {
		t.Errorf("Result() = %+v, want a not-permitted error message", res)
	}
	if outcomes[1].IsError() || outcomes[1].Content != "4" {
		t.Errorf("permitted call after a rejected one should still run, got %+v", outcomes[1])
	}
	if len(log) != 1 || log[0] != "calculator" {
		t.Errorf("invoked %v, want only calculator", log)
	}
}

func TestExecutor_ToolFailureIsFedBack(t *testing.T) {
	var log []string
	reg := NewRegistry(recordingTool{name: "web_search", log: &log, fail: true})
	outcomes := NewExecutor(reg, nil).Execute(context.Background(), []string{"web_search"}, []llm.ToolCall{{ID: "1", Name: "web_search"}}, nil)

	var execErr *ExecutionError
	if !errors.As(outcomes[0].Err, &execErr) || execErr.Tool != "web_search" {
		t.Fatalf("Err = %v, want ExecutionError for web_search", outcomes[0].Err)
	}
	if !strings.Contains(outcomes[0].Content, "kaboom") {
		t.Errorf("Content = %q, want the tool error", outcomes[0].Content)
	}
}

func TestExecutor_UnknownToolIsExecutionError(t *testing.T) {
	outcomes := NewExecutor(NewRegistry(), nil).Execute(context.Background(), []string{"ghost"}, []llm.ToolCall{{Name: "ghost"}}, nil)
	if !errors.Is(outcomes[0].Err, ErrUnknownTool) {
		t.Errorf("Err = %v, want ErrUnknownTool", outcomes[0].Err)
	}
}

func TestExecutor_StopsAfterCancel(t *testing.T) {
	var log []string
	reg := NewRegistry(recordingTool{name: "calculator", log: &log, reply: "1"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcomes := NewExecutor(reg, nil).Execute(ctx, []string{"calculator"}, []llm.ToolCall{{Name: "calculator"}, {Name: "calculator"}}, nil)
	if len(log) != 0 {
		t.Errorf("tools invoked after cancel: %v", log)
	}
	for i, o := range outcomes {
		if !errors.Is(o.Err, context.Canceled) {
			t.Errorf("outcome %d Err = %v, want context.Canceled", i, o.Err)
		}
	}
}

func TestRegistry_SpecsKeepsOrderAndSkipsMissing(t *testing.T) {
	reg := NewDefaultRegistry(Options{})
	specs := reg.Specs("web_search", "missing", "calculator")
	if len(specs) != 2 || specs[0].Name != "web_search" || specs[1].Name != "calculator" {
		t.Errorf("Specs() = %+v", specs)
	}
	if names := reg.Names(); len(names) != 8 {
		t.Errorf("Names() = %v, want 8 built-in tools", names)
	}
}
