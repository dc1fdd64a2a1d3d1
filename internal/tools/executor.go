package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ShayCichocki/relay/internal/llm"
)

// ErrToolNotPermitted is recorded when an agent calls a tool outside its
// allow-list.
var ErrToolNotPermitted = errors.New("tool not permitted")

// Invoker runs a tool by name. *Registry satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, name string, args map[string]any) (string, error)
}

// Outcome is the result of one tool call.
type Outcome struct {
	Call    llm.ToolCall
	Content string
	Err     error
}

// IsError reports whether the call failed.
func (o Outcome) IsError() bool {
	return o.Err != nil
}

// Result converts the outcome into the message fed back to the model.
func (o Outcome) Result() llm.ToolResult {
	return llm.ToolResult{
		CallID:  o.Call.ID,
		Name:    o.Call.Name,
		Content: o.Content,
		IsError: o.Err != nil,
	}
}

// Executor runs the tool calls requested by one agent step.
type Executor struct {
	invoker Invoker
	logger  *slog.Logger
}

// NewExecutor creates an executor. A nil logger uses slog.Default().
func NewExecutor(invoker Invoker, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{invoker: invoker, logger: logger}
}

// Execute runs calls sequentially in the order requested. A call to a tool
// outside allowed, or a tool that fails, yields an error string as its
// result rather than aborting the batch. onOutcome is called for every call
// before Execute returns. Once ctx is done the remaining calls are reported
// as cancelled without being invoked.
func (e *Executor) Execute(ctx context.Context, allowed []string, calls []llm.ToolCall, onOutcome func(Outcome)) []Outcome {
	permitted := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		permitted[name] = true
	}

	outcomes := make([]Outcome, 0, len(calls))
	for _, call := range calls {
		out := e.run(ctx, permitted, call)
		if onOutcome != nil {
			onOutcome(out)
		}
		outcomes = append(outcomes, out)
	}
	return outcomes
}

func (e *Executor) run(ctx context.Context, permitted map[string]bool, call llm.ToolCall) Outcome {
	if err := ctx.Err(); err != nil {
		return Outcome{Call: call, Content: "Tool call cancelled", Err: err}
	}
	if !permitted[call.Name] {
		e.logger.Warn("tool not permitted", "tool", call.Name)
		return Outcome{
			Call:    call,
			Content: fmt.Sprintf("Error: tool %q is not permitted for this agent", call.Name),
			Err:     fmt.Errorf("%w: %s", ErrToolNotPermitted, call.Name),
		}
	}

	content, err := e.invoker.Invoke(ctx, call.Name, call.Args)
	if err != nil {
		e.logger.Debug("tool failed", "tool", call.Name, "error", err)
		return Outcome{
			Call:    call,
			Content: fmt.Sprintf("Error: %s failed: %v", call.Name, err),
			Err:     &ExecutionError{Tool: call.Name, Err: err},
		}
	}
	return Outcome{Call: call, Content: content}
}

// ExecutionError wraps a failure raised by a tool.
type ExecutionError struct {
	Tool string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %s: %v", e.Tool, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
