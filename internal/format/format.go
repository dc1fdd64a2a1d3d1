// Package format turns completed plan items into one user-facing answer.
package format

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ShayCichocki/relay/internal/llm"
	"github.com/ShayCichocki/relay/pkg/models"
)

const defaultMaxTokens = 2048

const systemPrompt = `You are a helpful AI assistant responsible for creating a single, final, user-facing response.
The user's query has been broken down into sub-questions, and each one was answered by a specialist agent.

Synthesize the answers into one coherent, well-formatted response that directly answers the user's original question(s).

Guidelines:
1. Weave the answers together into a natural, easy-to-read answer instead of listing them.
2. Make sure every part of the original query is addressed.
3. Never include internal monologue, agent names, tool call syntax or other artifacts of the research process.
4. Base your answer strictly on the answers provided. Do not add outside information.
5. If a sub-question could not be answered, say so plainly for that part and still answer the rest.

Example:
Query: "Who is the PM of India and what is 2+2?"
Answers:
- Who is the Prime Minister of India? -> Narendra Modi is the Prime Minister of India.
- What is 2+2? -> 4
Response: "Narendra Modi is the Prime Minister of India, and 2 + 2 equals 4."`

// ErrNothingToFormat is returned when there is no completed item.
var ErrNothingToFormat = errors.New("format: no completed items")

// FormatError reports that the final response could not be produced.
type FormatError struct {
	Err error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("format final response: %v", e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// Formatter synthesizes the final response.
type Formatter struct {
	model     llm.LanguageModel
	maxTokens int
	logger    *slog.Logger
}

// Option configures a Formatter.
type Option func(*Formatter)

// WithMaxTokens bounds the length of the final response.
func WithMaxTokens(n int) Option {
	return func(f *Formatter) {
		if n > 0 {
			f.maxTokens = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Formatter) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// New creates a Formatter backed by model.
func New(model llm.LanguageModel, opts ...Option) *Formatter {
	f := &Formatter{
		model:     model,
		maxTokens: defaultMaxTokens,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Format makes a single generation over the original queries and completed
// items, streaming tokens to onToken. Every error is a *FormatError.
func (f *Formatter) Format(ctx context.Context, queries []string, completed []models.CompletedItem, onToken func(string)) (string, error) {
	if len(completed) == 0 {
		return "", &FormatError{Err: ErrNothingToFormat}
	}

	gen, err := f.model.Generate(ctx, llm.Request{
		System:    systemPrompt,
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: BuildPrompt(queries, completed)}},
		MaxTokens: f.maxTokens,
	}, onToken)
	if err != nil {
		return "", &FormatError{Err: err}
	}

	text := strings.TrimSpace(gen.Text)
	if text == "" {
		return "", &FormatError{Err: errors.New("empty response")}
	}
	f.logger.Debug("formatted final response", "items", len(completed), "chars", len(text))
	return gen.Text, nil
}

// BuildPrompt renders the queries and answers the formatter works from.
func BuildPrompt(queries []string, completed []models.CompletedItem) string {
	var b strings.Builder
	if len(queries) == 1 {
		fmt.Fprintf(&b, "Query: %q\n", queries[0])
	} else if len(queries) > 1 {
		b.WriteString("Queries:\n")
		for _, q := range queries {
			fmt.Fprintf(&b, "- %q\n", q)
		}
	}

	b.WriteString("Answers:\n")
	for _, item := range completed {
		if item.Failed {
			fmt.Fprintf(&b, "- %s -> (could not answer) %s\n", item.SubQuestion, item.Result)
			continue
		}
		fmt.Fprintf(&b, "- %s -> %s\n", item.SubQuestion, item.Result)
	}
	b.WriteString("Response:")
	return b.String()
}
