// Package dispatch drives a conversation turn from query to final answer.
//
// A run decomposes the query into a routing plan, executes the plan items
// one at a time through domain agents and their tools, and formats the
// collected answers into one response. Progress is streamed as events and
// checkpointed so an interrupted run can be resumed.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/relay/internal/agent"
	"github.com/ShayCichocki/relay/internal/llm"
	"github.com/ShayCichocki/relay/internal/metrics"
	"github.com/ShayCichocki/relay/internal/state"
	"github.com/ShayCichocki/relay/internal/stream"
	"github.com/ShayCichocki/relay/internal/tools"
	"github.com/ShayCichocki/relay/pkg/models"
)

const (
	defaultMaxRetries  = 1
	defaultSaveTimeout = 5 * time.Second
)

// Decomposer splits a query into plan items. *decompose.Decomposer
// satisfies it.
type Decomposer interface {
	Decompose(ctx context.Context, query string, history []models.Turn) ([]models.PlanItem, error)
}

// AgentRunner executes plan items. *agent.Runner satisfies it.
type AgentRunner interface {
	Begin(kind models.AgentKind, subQuestion string, c agent.Context) (*agent.Turn, error)
	Step(ctx context.Context, turn *agent.Turn, results []llm.ToolResult, onToken func(string)) error
	AllowedTools(kind models.AgentKind) []string
}

// ToolExecutor runs tool calls. *tools.Executor satisfies it.
type ToolExecutor interface {
	Execute(ctx context.Context, allowed []string, calls []llm.ToolCall, onOutcome func(tools.Outcome)) []tools.Outcome
}

// Formatter produces the final response. *format.Formatter satisfies it.
type Formatter interface {
	Format(ctx context.Context, queries []string, completed []models.CompletedItem, onToken func(string)) (string, error)
}

// Summarizer compresses long histories. *summarize.Summarizer satisfies it.
type Summarizer interface {
	Summarize(ctx context.Context, st *models.ConversationState) (bool, error)
}

// Deps are the collaborators a Dispatcher needs. Summarizer is optional.
type Deps struct {
	Decomposer Decomposer
	Agents     AgentRunner
	Tools      ToolExecutor
	Formatter  Formatter
	Store      state.CheckpointStore
	Summarizer Summarizer
}

// Dispatcher runs conversation turns. It is safe for concurrent use; runs
// for different conversations proceed independently and at most one run
// per conversation is active at a time.
type Dispatcher struct {
	deps Deps

	maxRetries         int
	checkpointEachItem bool
	saveTimeout        time.Duration
	eventBuffer        int
	metrics            *metrics.Metrics
	logger             *slog.Logger
	newID              func() string

	mu     sync.Mutex
	active map[string]struct{}
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMaxRetries sets how many times a failing plan item is retried before
// a placeholder answer is recorded.
func WithMaxRetries(n int) Option {
	return func(d *Dispatcher) {
		if n >= 0 {
			d.maxRetries = n
		}
	}
}

// WithCheckpointEachItem toggles saving after planning and after every
// completed item. The final save after formatting always happens.
func WithCheckpointEachItem(enabled bool) Option {
	return func(d *Dispatcher) { d.checkpointEachItem = enabled }
}

// WithSaveTimeout bounds the save made after a run is cancelled.
func WithSaveTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.saveTimeout = timeout
		}
	}
}

// WithEventBuffer sets how many events may queue ahead of the consumer.
func WithEventBuffer(n int) Option {
	return func(d *Dispatcher) { d.eventBuffer = n }
}

// WithMetrics records run, item and tool metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithIDGenerator overrides how new conversation ids are generated.
func WithIDGenerator(fn func() string) Option {
	return func(d *Dispatcher) {
		if fn != nil {
			d.newID = fn
		}
	}
}

// New creates a Dispatcher.
func New(deps Deps, opts ...Option) (*Dispatcher, error) {
	switch {
	case deps.Decomposer == nil:
		return nil, errors.New("dispatch: decomposer must not be nil")
	case deps.Agents == nil:
		return nil, errors.New("dispatch: agent runner must not be nil")
	case deps.Tools == nil:
		return nil, errors.New("dispatch: tool executor must not be nil")
	case deps.Formatter == nil:
		return nil, errors.New("dispatch: formatter must not be nil")
	case deps.Store == nil:
		return nil, errors.New("dispatch: checkpoint store must not be nil")
	}

	d := &Dispatcher{
		deps:               deps,
		maxRetries:         defaultMaxRetries,
		checkpointEachItem: true,
		saveTimeout:        defaultSaveTimeout,
		logger:             slog.Default(),
		newID:              uuid.NewString,
		active:             make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Run starts a turn of conversation conversationID (a new conversation
// when empty) and returns its event stream. The first event is always
// the conversation id and the channel is closed after the done event.
//
// A non-empty query is decomposed and its items are appended to any
// unfinished plan. An empty query resumes the unfinished plan.
//
// Errors are returned before streaming starts: ErrConversationBusy,
// ErrEmptyQuery and *LoadError. Failures after that are reported as a
// single error event. Cancelling ctx stops the run at the next suspension
// point and persists the progress made up to the last completed item.
func (d *Dispatcher) Run(ctx context.Context, conversationID, query string) (<-chan stream.Event, error) {
	id := strings.TrimSpace(conversationID)
	if id == "" {
		id = d.newID()
	}
	query = strings.TrimSpace(query)

	if !d.acquire(id) {
		return nil, ErrConversationBusy
	}

	st, err := d.deps.Store.Load(ctx, id)
	if errors.Is(err, state.ErrNotFound) {
		st, err = models.NewConversationState(id), nil
	}
	if err != nil {
		d.release(id)
		return nil, &LoadError{ConversationID: id, Err: err}
	}
	if query == "" && st.Plan.Empty() {
		d.release(id)
		return nil, ErrEmptyQuery
	}

	r := &run{
		d:       d,
		st:      st,
		query:   query,
		emitter: stream.NewEmitter(d.eventBuffer),
		logger:  d.logger.With("conversation", id),
		started: time.Now(),
	}
	go r.execute(ctx)
	return r.emitter.Events(), nil
}

// Busy reports whether a run is active for conversationID.
func (d *Dispatcher) Busy(conversationID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.active[conversationID]
	return ok
}

func (d *Dispatcher) acquire(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.active[id]; ok {
		return false
	}
	d.active[id] = struct{}{}
	return true
}

func (d *Dispatcher) release(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.active, id)
}
