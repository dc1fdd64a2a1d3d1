// Package summarize compresses old conversation history into a summary.
package summarize

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
	DefaultThreshold = 6
	DefaultKeep      = 3

	instructions = "Summarize the following conversation history concisely and faithfully. " +
		"Keep important facts and decisions, omit chit-chat."
)

// Summarizer folds older turns of a conversation into its Summary.
type Summarizer struct {
	model     llm.LanguageModel
	threshold int
	keep      int
	logger    *slog.Logger
}

// Option configures a Summarizer.
type Option func(*Summarizer)

// WithThreshold sets the history length above which summarization runs.
func WithThreshold(n int) Option {
	return func(s *Summarizer) {
		if n > 0 {
			s.threshold = n
		}
	}
}

// WithKeep sets how many recent turns survive summarization verbatim.
func WithKeep(n int) Option {
	return func(s *Summarizer) {
		if n > 0 {
			s.keep = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Summarizer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a Summarizer.
func New(model llm.LanguageModel, opts ...Option) *Summarizer {
	s := &Summarizer{
		model:     model,
		threshold: DefaultThreshold,
		keep:      DefaultKeep,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.keep >= s.threshold {
		s.keep = s.threshold - 1
	}
	return s
}

// Needed reports whether st has grown past the threshold.
func (s *Summarizer) Needed(st *models.ConversationState) bool {
	return len(st.History) > s.threshold
}

// Summarize replaces all but the most recent turns of st with a summary.
// It reports whether st changed. On error st is left untouched.
func (s *Summarizer) Summarize(ctx context.Context, st *models.ConversationState) (bool, error) {
	if !s.Needed(st) {
		return false, nil
	}

	cut := len(st.History) - s.keep
	older := st.History[:cut]

	gen, err := s.model.Generate(ctx, llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: buildPrompt(st.Summary, older)}},
	}, nil)
	if err != nil {
		return false, fmt.Errorf("summarize conversation %s: %w", st.ID, err)
	}
	summary := strings.TrimSpace(gen.Text)
	if summary == "" {
		return false, errors.New("summarize: empty summary")
	}

	st.Summary = summary
	st.History = append([]models.Turn(nil), st.History[cut:]...)
	s.logger.Debug("summarized conversation", "conversation", st.ID, "folded_turns", len(older))
	return true, nil
}

func buildPrompt(previous string, turns []models.Turn) string {
	var b strings.Builder
	b.WriteString(instructions)
	b.WriteString("\n\n")
	if previous != "" {
		b.WriteString("Earlier summary: ")
		b.WriteString(previous)
		b.WriteString("\n")
	}
	for _, t := range turns {
		role := "User"
		if t.Role == models.RoleAssistant {
			role = "Assistant"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, t.Content)
	}
	b.WriteString("\nSummary:")
	return b.String()
}
