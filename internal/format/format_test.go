package format

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ShayCichocki/relay/internal/llm/llmtest"
	"github.com/ShayCichocki/relay/pkg/models"
)

func TestFormat_StreamsFinalResponse(t *testing.T) {
	model := &llmtest.Model{Replies: []llmtest.Reply{llmtest.Text("Narendra Modi is the PM, and 3*99.8 is 299.4.")}}
	f := New(model)

	var streamed strings.Builder
	out, err := f.Format(context.Background(),
		[]string{"Who is the PM of India and what is 3*99.8?"},
		[]models.CompletedItem{
			{SubQuestion: "Who is the Prime Minister of India?", Agent: models.AgentResearch, Result: "Narendra Modi"},
			{SubQuestion: "What is 3*99.8?", Agent: models.AgentMath, Result: "299.4"},
		},
		func(s string) { streamed.WriteString(s) })
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	if out != streamed.String() {
		t.Errorf("returned %q, streamed %q", out, streamed.String())
	}

	prompt := model.Requests()[0].Messages[0].Content
	for _, want := range []string{"Narendra Modi", "299.4", "Who is the PM of India"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestFormat_MarksFailedItems(t *testing.T) {
	prompt := BuildPrompt([]string{"a", "b"}, []models.CompletedItem{
		{SubQuestion: "What is x?", Result: "[error] could not answer: timeout", Failed: true},
	})
	if !strings.Contains(prompt, "(could not answer)") || !strings.Contains(prompt, "Queries:") {
		t.Errorf("prompt = %s", prompt)
	}
}

func TestFormat_Errors(t *testing.T) {
	boom := errors.New("provider down")
	tests := []struct {
		name      string
		model     *llmtest.Model
		completed []models.CompletedItem
		wantIs    error
	}{
		{"nothing completed", &llmtest.Model{}, nil, ErrNothingToFormat},
		{"provider failure", &llmtest.Model{Replies: []llmtest.Reply{{Err: boom}}}, []models.CompletedItem{{SubQuestion: "q", Result: "r"}}, boom},
		{"empty output", &llmtest.Model{Replies: []llmtest.Reply{{Chunks: []string{" "}}}}, []models.CompletedItem{{SubQuestion: "q", Result: "r"}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.model).Format(context.Background(), []string{"q"}, tt.completed, nil)
			var fmtErr *FormatError
			if !errors.As(err, &fmtErr) {
				t.Fatalf("Format() error = %v, want FormatError", err)
			}
			if tt.wantIs != nil && !errors.Is(err, tt.wantIs) {
				t.Errorf("Format() error = %v, want wrapping %v", err, tt.wantIs)
			}
		})
	}
}
