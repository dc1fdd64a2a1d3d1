// Package decompose splits a user query into routed sub-questions.
package decompose

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ShayCichocki/relay/internal/llm"
	"github.com/ShayCichocki/relay/pkg/models"
)

const (
	// DefaultCacheTTL is how long a decomposition is reused for an identical query.
	DefaultCacheTTL = 5 * time.Minute

	defaultCacheSize    = 256
	defaultContextTurns = 4
	defaultMaxTokens    = 1024
)

// ErrNoItems is returned by ParseItems when the output holds no usable item.
var ErrNoItems = errors.New("no sub-questions in decomposition output")

// DecompositionError reports that the model could not be reached for
// decomposition. Malformed output is not an error; it falls back to a
// single research item.
type DecompositionError struct {
	Query string
	Err   error
}

func (e *DecompositionError) Error() string {
	return fmt.Sprintf("decompose %q: %v", models.Label(e.Query), e.Err)
}

func (e *DecompositionError) Unwrap() error {
	return e.Err
}

// rawItem is the JSON structure returned by the model for a single item.
type rawItem struct {
	SubQuestion string `json:"sub_question"`
	Agent       string `json:"agent"`
}

type rawPlan struct {
	Items []rawItem `json:"items"`
}

// Decomposer breaks queries into an ordered list of PlanItems.
type Decomposer struct {
	model        llm.LanguageModel
	cache        *planCache
	contextTurns int
	fastPath     bool
	logger       *slog.Logger
}

// Option configures a Decomposer.
type Option func(*Decomposer)

// WithCacheTTL sets the decomposition cache TTL. Zero disables the cache.
func WithCacheTTL(ttl time.Duration) Option {
	return func(d *Decomposer) {
		if ttl <= 0 {
			d.cache = nil
			return
		}
		d.cache = newPlanCache(ttl, defaultCacheSize)
	}
}

// WithFastPath toggles skipping the model for trivial queries.
func WithFastPath(enabled bool) Option {
	return func(d *Decomposer) { d.fastPath = enabled }
}

// WithContextTurns sets how many recent history turns are shown to the model.
func WithContextTurns(n int) Option {
	return func(d *Decomposer) {
		if n >= 0 {
			d.contextTurns = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Decomposer) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// New creates a Decomposer backed by model.
func New(model llm.LanguageModel, opts ...Option) *Decomposer {
	d := &Decomposer{
		model:        model,
		cache:        newPlanCache(DefaultCacheTTL, defaultCacheSize),
		contextTurns: defaultContextTurns,
		fastPath:     true,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decompose returns the sub-questions for query in the order they were
// asked. It always returns at least one item unless the model call itself
// fails, in which case the error is a *DecompositionError.
func (d *Decomposer) Decompose(ctx context.Context, query string, history []models.Turn) ([]models.PlanItem, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("decompose: query must not be empty")
	}

	if d.fastPath && isTrivial(query) {
		return []models.PlanItem{{SubQuestion: query, Agent: Classify(query)}}, nil
	}

	recent := d.renderHistory(history)
	key := query + "\x00" + recent
	if d.cache != nil {
		if items, ok := d.cache.get(key); ok {
			d.logger.Debug("decomposition cache hit", "query", models.Label(query))
			return items, nil
		}
	}

	gen, err := d.model.Generate(ctx, llm.Request{
		System:    decompositionPrompt,
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: buildUserPrompt(query, recent)}},
		MaxTokens: defaultMaxTokens,
		Schema: &llm.Schema{
			Name:        "routing_plan",
			Description: "Ordered sub-questions, each routed to one agent",
			Definition:  planSchema,
		},
	}, nil)
	if err != nil {
		if errors.Is(err, llm.ErrNoStructuredOutput) {
			d.logger.Warn("decomposition returned no structured output, using fallback", "query", models.Label(query))
			return fallback(query), nil
		}
		return nil, &DecompositionError{Query: query, Err: err}
	}

	items, err := ParseItems(gen.Structured)
	if err != nil {
		// Some providers ignore the schema and answer in text.
		items, err = ParseItems([]byte(gen.Text))
	}
	if err != nil {
		d.logger.Warn("decomposition output unusable, using fallback", "query", models.Label(query), "error", err)
		return fallback(query), nil
	}

	if d.cache != nil {
		d.cache.put(key, items)
	}
	d.logger.Debug("decomposed query", "query", models.Label(query), "items", len(items))
	return items, nil
}

// ParseItems extracts plan items from model output. It accepts the
// structured {"items": [...]} object or a bare JSON array, optionally
// surrounded by prose. Items with an empty sub-question are dropped and
// unknown agent names are resolved with Classify.
func ParseItems(raw []byte) ([]models.PlanItem, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return nil, ErrNoItems
	}

	var parsed []rawItem
	var plan rawPlan
	if err := json.Unmarshal([]byte(text), &plan); err == nil && plan.Items != nil {
		parsed = plan.Items
	} else {
		start := strings.Index(text, "[")
		end := strings.LastIndex(text, "]")
		if start == -1 || end <= start {
			return nil, fmt.Errorf("no JSON array found in output")
		}
		if err := json.Unmarshal([]byte(text[start:end+1]), &parsed); err != nil {
			return nil, fmt.Errorf("parse items: %w", err)
		}
	}

	items := make([]models.PlanItem, 0, len(parsed))
	for _, r := range parsed {
		q := strings.TrimSpace(r.SubQuestion)
		if q == "" {
			continue
		}
		kind, err := models.ParseAgentKind(r.Agent)
		if err != nil {
			kind = Classify(q)
		}
		items = append(items, models.PlanItem{SubQuestion: q, Agent: kind})
	}
	if len(items) == 0 {
		return nil, ErrNoItems
	}
	return items, nil
}

func fallback(query string) []models.PlanItem {
	return []models.PlanItem{{SubQuestion: query, Agent: models.AgentResearch}}
}

func (d *Decomposer) renderHistory(history []models.Turn) string {
	if d.contextTurns == 0 || len(history) == 0 {
		return ""
	}
	if len(history) > d.contextTurns {
		history = history[len(history)-d.contextTurns:]
	}
	var b strings.Builder
	for _, t := range history {
		role := "User"
		if t.Role == models.RoleAssistant {
			role = "Assistant"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, t.Content)
	}
	return b.String()
}

func buildUserPrompt(query, recent string) string {
	if recent == "" {
		return "Query: " + query
	}
	return "Earlier conversation:\n" + recent + "\nQuery: " + query
}
