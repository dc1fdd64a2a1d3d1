package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ShayCichocki/relay/internal/agent"
	"github.com/ShayCichocki/relay/internal/llm"
	"github.com/ShayCichocki/relay/internal/metrics"
	"github.com/ShayCichocki/relay/internal/stream"
	"github.com/ShayCichocki/relay/internal/tools"
	"github.com/ShayCichocki/relay/pkg/models"
)

// Node names reported in node and token events.
const (
	NodeRouter    = "router"
	NodeTools     = "tools"
	NodeFormatter = "formatter"
)

const placeholderPrefix = "[error] could not answer: "

// errCancelled marks the cancellation path inside a run.
var errCancelled = errors.New("run cancelled")

// interruption reports why ctx prevents the run from continuing. Only an
// explicit cancel is a cancellation; a passed deadline fails the run.
func interruption(ctx context.Context) error {
	switch err := ctx.Err(); {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return errCancelled
	default:
		return ErrRunDeadline
	}
}

func cancelled(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.Canceled)
}

// run is the state of one Dispatcher.Run invocation.
type run struct {
	d       *Dispatcher
	st      *models.ConversationState
	query   string
	emitter *stream.Emitter
	logger  *slog.Logger
	started time.Time

	// dirty is set when st has changes not yet persisted.
	dirty bool
	turn  *agent.Turn
}

func (r *run) execute(ctx context.Context) {
	outcome := metrics.OutcomeDone
	defer func() {
		r.d.metrics.ObserveRun(outcome, time.Since(r.started))
		r.d.release(r.st.ID)
		r.emitter.Close(ctx)
	}()

	err := r.drive(ctx)
	switch {
	case err == nil:
		r.logger.Info("run finished", "elapsed", time.Since(r.started))
	case errors.Is(err, errCancelled):
		outcome = metrics.OutcomeCancelled
		r.logger.Info("run cancelled", "pending", len(r.st.Plan.Pending), "completed", len(r.st.Plan.Completed))
		r.persistDetached(ctx)
	default:
		outcome = metrics.OutcomeFailed
		r.logger.Error("run failed", "error", err)
		if ctx.Err() != nil {
			r.persistDetached(ctx)
		}
		r.reportFailure(ctx, err)
	}
}

// reportFailure emits the single error event of a failed run. The run's
// context may already be past its deadline while the consumer still reads.
func (r *run) reportFailure(ctx context.Context, err error) {
	emitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.d.saveTimeout)
	defer cancel()
	if emitErr := r.emitter.Emit(emitCtx, stream.Error(err.Error())); emitErr != nil {
		r.logger.Debug("error event not delivered", "error", emitErr)
	}
}

// drive runs the state machine until Done, returning the fatal error or
// errCancelled otherwise.
func (r *run) drive(ctx context.Context) error {
	if err := r.emit(ctx, stream.Conversation(r.st.ID)); err != nil {
		return err
	}
	r.summarize(ctx)

	if r.query != "" {
		if err := r.plan(ctx); err != nil {
			return err
		}
	} else {
		r.logger.Info("resuming plan", "pending", len(r.st.Plan.Pending), "completed", len(r.st.Plan.Completed))
	}

	var (
		step    = Step{State: StateRouting}
		sig     = SignalEnter
		results []llm.ToolResult
	)
	for {
		next, err := Next(step, &r.st.Plan, sig)
		if err != nil {
			return err
		}
		r.logger.Debug("transition", "from", step, "signal", sig, "to", next)
		step = next
		if step.State.Terminal() {
			return nil
		}
		if err := interruption(ctx); err != nil {
			return err
		}

		switch step.State {
		case StateRouting:
			sig = SignalEnter

		case StateAgentExecuting:
			sig, err = r.agentStep(ctx, step.Agent, results)
			results = nil

		case StateToolExecuting:
			results, err = r.toolStep(ctx, step.Agent)
			sig = SignalToolResults

		case StateFormatting:
			err = r.formatStep(ctx)
			sig = SignalFormatted
		}
		if err != nil {
			return err
		}
	}
}

// summarize folds old history into the summary. Failures are not fatal.
func (r *run) summarize(ctx context.Context) {
	if r.d.deps.Summarizer == nil {
		return
	}
	changed, err := r.d.deps.Summarizer.Summarize(ctx, r.st)
	if err != nil {
		r.logger.Warn("summarization failed, keeping full history", "error", err)
		return
	}
	if changed {
		r.dirty = true
	}
}

// plan records the query and appends its decomposition to the plan.
func (r *run) plan(ctx context.Context) error {
	if err := r.emit(ctx, stream.NodeEntered(NodeRouter)); err != nil {
		return err
	}

	history := r.st.History
	items, err := r.d.deps.Decomposer.Decompose(ctx, r.query, history)
	if err != nil {
		if cancelled(ctx) {
			// Nothing was planned; the query is not recorded.
			return errCancelled
		}
		return err
	}

	r.st.AppendTurn(models.RoleUser, r.query)
	r.st.Plan.Append(r.query, items...)
	r.dirty = true
	r.logger.Info("planned query", "query", models.Label(r.query), "items", len(items), "pending", len(r.st.Plan.Pending))
	return r.checkpoint(ctx)
}

// agentStep performs one generation pass for the head item.
func (r *run) agentStep(ctx context.Context, kind models.AgentKind, results []llm.ToolResult) (Signal, error) {
	head, _ := r.st.Plan.Head()

	if r.turn == nil {
		if err := r.emit(ctx, stream.NodeEntered(string(kind))); err != nil {
			return SignalFatal, err
		}
		turn, err := r.d.deps.Agents.Begin(kind, head.SubQuestion, agent.Context{
			Summary:   r.st.Summary,
			History:   r.st.History,
			Completed: r.st.Plan.Completed,
		})
		if err != nil {
			return r.agentFailed(ctx, head, err)
		}
		r.turn = turn
	}

	var emitErr error
	onToken := func(text string) {
		if emitErr == nil {
			emitErr = r.emit(ctx, stream.Token(text, string(kind)))
		}
	}
	err := r.d.deps.Agents.Step(ctx, r.turn, results, onToken)
	if emitErr != nil {
		return SignalFatal, emitErr
	}
	if err != nil {
		if cancelled(ctx) {
			return SignalFatal, errCancelled
		}
		return r.agentFailed(ctx, head, err)
	}

	if !r.turn.Terminal {
		return SignalToolCalls, nil
	}

	r.st.Plan.Complete(r.turn.Answer)
	r.turn = nil
	r.dirty = true
	r.d.metrics.ObserveItem(string(kind), "ok")
	r.logger.Info("item completed", "agent", kind, "sub_question", models.Label(head.SubQuestion))
	if err := r.checkpoint(ctx); err != nil {
		return SignalFatal, err
	}
	return SignalAnswer, nil
}

// agentFailed applies retry accounting to the head item. Agent failures
// are not reported as error events.
func (r *run) agentFailed(ctx context.Context, head models.PlanItem, cause error) (Signal, error) {
	r.turn = nil
	exhausted := r.st.Plan.Fail(r.d.maxRetries, placeholderPrefix+cause.Error())
	r.dirty = true

	if !exhausted {
		r.d.metrics.ObserveItem(string(head.Agent), "retried")
		r.logger.Warn("agent failed, retrying", "agent", head.Agent, "attempt", head.Attempt+1, "error", cause)
		return SignalAgentError, nil
	}

	r.d.metrics.ObserveItem(string(head.Agent), "failed")
	r.logger.Warn("agent failed, giving up on item", "agent", head.Agent, "sub_question", models.Label(head.SubQuestion), "error", cause)
	if err := r.checkpoint(ctx); err != nil {
		return SignalFatal, err
	}
	return SignalAgentError, nil
}

// toolStep runs the tool calls of the current turn.
func (r *run) toolStep(ctx context.Context, kind models.AgentKind) ([]llm.ToolResult, error) {
	if err := r.emit(ctx, stream.NodeEntered(NodeTools)); err != nil {
		return nil, err
	}

	var emitErr error
	outcomes := r.d.deps.Tools.Execute(ctx, r.d.deps.Agents.AllowedTools(kind), r.turn.PendingToolCalls, func(o tools.Outcome) {
		r.d.metrics.ObserveToolCall(o.Call.Name, o.IsError())
		if emitErr == nil {
			emitErr = r.emit(ctx, stream.ToolCall(o.Call.Name, o.Call.Args, o.Content, o.IsError()))
		}
	})
	if emitErr != nil {
		return nil, emitErr
	}
	if err := interruption(ctx); err != nil {
		return nil, err
	}

	results := make([]llm.ToolResult, 0, len(outcomes))
	for _, o := range outcomes {
		results = append(results, o.Result())
	}
	return results, nil
}

// formatStep produces the final answer, records it and resets the plan.
func (r *run) formatStep(ctx context.Context) error {
	if err := r.emit(ctx, stream.NodeEntered(NodeFormatter)); err != nil {
		return err
	}

	var emitErr error
	text, err := r.d.deps.Formatter.Format(ctx, r.st.Plan.Queries, r.st.Plan.Completed, func(s string) {
		if emitErr == nil {
			emitErr = r.emit(ctx, stream.Token(s, NodeFormatter))
		}
	})
	if emitErr != nil {
		return emitErr
	}
	if err != nil {
		if cancelled(ctx) {
			return errCancelled
		}
		return err
	}

	r.st.AppendTurn(models.RoleAssistant, text)
	r.st.Plan.Reset()
	r.dirty = true
	return r.save(ctx)
}

// checkpoint saves intermediate progress when enabled.
func (r *run) checkpoint(ctx context.Context) error {
	if !r.d.checkpointEachItem {
		return nil
	}
	return r.save(ctx)
}

func (r *run) save(ctx context.Context) error {
	err := r.d.deps.Store.Save(ctx, r.st, r.st.Revision)
	r.d.metrics.ObserveCheckpoint(err)
	if err != nil {
		if cause := interruption(ctx); cause != nil {
			return cause
		}
		return &CheckpointWriteError{ConversationID: r.st.ID, Err: err}
	}
	r.dirty = false
	return nil
}

// persistDetached saves progress made before ctx ended with a context
// detached from it. The in-flight item stays pending.
func (r *run) persistDetached(ctx context.Context) {
	if !r.dirty {
		return
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.d.saveTimeout)
	defer cancel()
	err := r.d.deps.Store.Save(saveCtx, r.st, r.st.Revision)
	r.d.metrics.ObserveCheckpoint(err)
	if err != nil {
		r.logger.Error("save after interruption failed", "error", err)
		return
	}
	r.dirty = false
}

func (r *run) emit(ctx context.Context, ev stream.Event) error {
	if err := r.emitter.Emit(ctx, ev); err != nil {
		if cause := interruption(ctx); cause != nil {
			return cause
		}
		return fmt.Errorf("emit %s event: %w", ev.Type, err)
	}
	return nil
}
