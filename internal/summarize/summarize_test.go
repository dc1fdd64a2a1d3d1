package summarize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/ShayCichocki/relay/internal/llm/llmtest"
	"github.com/ShayCichocki/relay/pkg/models"
)

func stateWithTurns(n int) *models.ConversationState {
	st := models.NewConversationState("c1")
	for i := 0; i < n; i++ {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		st.AppendTurn(role, fmt.Sprintf("turn %d", i))
	}
	return st
}

func TestSummarize_BelowThreshold(t *testing.T) {
	model := &llmtest.Model{}
	st := stateWithTurns(DefaultThreshold)

	changed, err := New(model).Summarize(context.Background(), st)
	if err != nil || changed {
		t.Fatalf("Summarize() = %v, %v, want no-op", changed, err)
	}
	if model.CallCount() != 0 {
		t.Error("model should not be called below the threshold")
	}
}

func TestSummarize_FoldsOlderTurns(t *testing.T) {
	model := &llmtest.Model{Replies: []llmtest.Reply{llmtest.Text("User asked about turns.")}}
	st := stateWithTurns(8)
	st.Summary = "Prior context."

	changed, err := New(model).Summarize(context.Background(), st)
	if err != nil || !changed {
		t.Fatalf("Summarize() = %v, %v", changed, err)
	}
	if st.Summary != "User asked about turns." {
		t.Errorf("Summary = %q", st.Summary)
	}
	if len(st.History) != DefaultKeep || st.History[0].Content != "turn 5" {
		t.Errorf("History = %+v, want last %d turns", st.History, DefaultKeep)
	}

	prompt := model.Requests()[0].Messages[0].Content
	if !strings.Contains(prompt, "Prior context.") || !strings.Contains(prompt, "turn 4") || strings.Contains(prompt, "turn 5") {
		t.Errorf("prompt = %s", prompt)
	}
}

func TestSummarize_FailureLeavesStateUntouched(t *testing.T) {
	boom := errors.New("provider down")
	st := stateWithTurns(8)

	changed, err := New(&llmtest.Model{Replies: []llmtest.Reply{{Err: boom}}}).Summarize(context.Background(), st)
	if !errors.Is(err, boom) || changed {
		t.Fatalf("Summarize() = %v, %v, want wrapped provider error", changed, err)
	}
	if len(st.History) != 8 || st.Summary != "" {
		t.Error("state modified on failure")
	}
}
