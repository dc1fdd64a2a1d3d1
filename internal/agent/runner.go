package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ShayCichocki/relay/internal/llm"
	"github.com/ShayCichocki/relay/pkg/models"
)

const (
	defaultMaxSteps     = 6
	defaultHistoryTurns = 10
)

// ToolSpecs resolves tool names to the specs sent to the model.
// *tools.Registry satisfies it.
type ToolSpecs interface {
	Specs(names ...string) []llm.ToolSpec
}

// Context is what an agent sees besides its own sub-question.
type Context struct {
	Summary   string
	History   []models.Turn
	Completed []models.CompletedItem
}

// Turn is the transient state of one plan item's execution. It is created
// by Begin and discarded once the item completes.
type Turn struct {
	Kind             models.AgentKind
	SubQuestion      string
	Messages         []llm.Message
	PendingToolCalls []llm.ToolCall
	Terminal         bool
	Answer           string
	// Steps counts generation passes so far.
	Steps int
}

// Runner executes agent steps against a LanguageModel.
type Runner struct {
	model        llm.LanguageModel
	specs        map[models.AgentKind][]llm.ToolSpec
	profiles     Profiles
	maxSteps     int
	historyTurns int
	logger       *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithMaxSteps bounds generation passes per plan item.
func WithMaxSteps(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.maxSteps = n
		}
	}
}

// WithHistoryTurns bounds how many recent history turns are shown to agents.
func WithHistoryTurns(n int) Option {
	return func(r *Runner) {
		if n >= 0 {
			r.historyTurns = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRunner creates a Runner. Every profile's tools must resolve through
// specs; the bindings are fixed for the Runner's lifetime.
func NewRunner(model llm.LanguageModel, specs ToolSpecs, profiles Profiles, opts ...Option) (*Runner, error) {
	if model == nil {
		return nil, errors.New("agent: model must not be nil")
	}
	if specs == nil {
		return nil, errors.New("agent: tool specs must not be nil")
	}
	if profiles == nil {
		profiles = DefaultProfiles()
	}

	r := &Runner{
		model:        model,
		specs:        make(map[models.AgentKind][]llm.ToolSpec, len(profiles)),
		profiles:     profiles,
		maxSteps:     defaultMaxSteps,
		historyTurns: defaultHistoryTurns,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, kind := range models.AllAgentKinds {
		p, ok := profiles[kind]
		if !ok {
			return nil, fmt.Errorf("agent: no profile for %s agent", kind)
		}
		resolved := specs.Specs(p.Tools...)
		if len(resolved) != len(p.Tools) {
			return nil, fmt.Errorf("agent: %s agent references unknown tools in %v", kind, p.Tools)
		}
		r.specs[kind] = resolved
	}
	return r, nil
}

// AllowedTools returns the tool names the agent of kind may call.
func (r *Runner) AllowedTools(kind models.AgentKind) []string {
	return append([]string(nil), r.profiles[kind].Tools...)
}

// Begin starts a turn for a sub-question.
func (r *Runner) Begin(kind models.AgentKind, subQuestion string, c Context) (*Turn, error) {
	if _, ok := r.profiles[kind]; !ok {
		return nil, fmt.Errorf("agent: unknown agent kind %q", kind)
	}
	return &Turn{
		Kind:        kind,
		SubQuestion: subQuestion,
		Messages: []llm.Message{{
			Role:    llm.RoleUser,
			Content: r.buildTaskMessage(subQuestion, c),
		}},
	}, nil
}

// Step performs one generation pass. Tool results from the previous pass,
// if any, are appended to the turn first. Tokens are handed to onToken as
// the model produces them. On return the turn is either Terminal with an
// Answer or carries PendingToolCalls.
func (r *Runner) Step(ctx context.Context, turn *Turn, results []llm.ToolResult, onToken func(string)) error {
	if turn.Terminal {
		return ErrTurnFinished
	}
	if len(results) > 0 {
		turn.Messages = append(turn.Messages, llm.Message{Role: llm.RoleUser, ToolResults: results})
		turn.PendingToolCalls = nil
	}
	if turn.Steps >= r.maxSteps {
		return &GenerationError{Kind: turn.Kind, Err: ErrStepLimit}
	}

	profile := r.profiles[turn.Kind]
	req := llm.Request{
		System:    profile.SystemPrompt + sharedGuard,
		Messages:  turn.Messages,
		Tools:     r.specs[turn.Kind],
		MaxTokens: profile.MaxTokens,
	}

	turn.Steps++
	gen, err := r.model.Generate(ctx, req, onToken)
	if err != nil {
		return &GenerationError{Kind: turn.Kind, Err: err}
	}

	turn.Messages = append(turn.Messages, llm.Message{
		Role:      llm.RoleAssistant,
		Content:   gen.Text,
		ToolCalls: gen.ToolCalls,
	})

	if len(gen.ToolCalls) > 0 {
		turn.PendingToolCalls = gen.ToolCalls
		r.logger.Debug("agent requested tools", "agent", turn.Kind, "count", len(gen.ToolCalls), "step", turn.Steps)
		return nil
	}
	if strings.TrimSpace(gen.Text) == "" {
		return &GenerationError{Kind: turn.Kind, Err: ErrEmptyAnswer}
	}
	turn.Terminal = true
	turn.Answer = gen.Text
	return nil
}

// buildTaskMessage renders the context and sub-question as one user message.
func (r *Runner) buildTaskMessage(subQuestion string, c Context) string {
	var b strings.Builder

	if c.Summary != "" {
		b.WriteString("## Conversation summary\n")
		b.WriteString(c.Summary)
		b.WriteString("\n\n")
	}

	history := c.History
	if len(history) > r.historyTurns {
		history = history[len(history)-r.historyTurns:]
	}
	if len(history) > 0 {
		b.WriteString("## Recent conversation\n")
		for _, turn := range history {
			role := "User"
			if turn.Role == models.RoleAssistant {
				role = "Assistant"
			}
			fmt.Fprintf(&b, "%s: %s\n", role, turn.Content)
		}
		b.WriteString("\n")
	}

	if len(c.Completed) > 0 {
		b.WriteString("## Answers so far\n")
		for _, item := range c.Completed {
			fmt.Fprintf(&b, "- %s (%s): %s\n", item.SubQuestion, item.Agent, item.Result)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Your task\n")
	b.WriteString(subQuestion)
	return b.String()
}
