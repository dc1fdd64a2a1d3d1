package dispatch

import (
	"errors"
	"testing"

	"github.com/ShayCichocki/relay/pkg/models"
)

func TestNext(t *testing.T) {
	pending := &models.RoutingPlan{
		Pending: []models.PlanItem{{SubQuestion: "What is 3*99.8?", Agent: models.AgentMath}},
	}
	drained := &models.RoutingPlan{
		Completed: []models.CompletedItem{{SubQuestion: "q", Result: "r"}},
	}
	empty := &models.RoutingPlan{}

	math := Step{State: StateAgentExecuting, Agent: models.AgentMath}
	mathTools := Step{State: StateToolExecuting, Agent: models.AgentMath}

	tests := []struct {
		name    string
		cur     Step
		plan    *models.RoutingPlan
		sig     Signal
		want    Step
		wantErr bool
	}{
		{"router dispatches head", Step{State: StateRouting}, pending, SignalEnter, math, false},
		{"router formats drained plan", Step{State: StateRouting}, drained, SignalEnter, Step{State: StateFormatting}, false},
		{"router fails on empty plan", Step{State: StateRouting}, empty, SignalEnter, Step{State: StateFailed}, true},
		{"answer returns to router", math, pending, SignalAnswer, Step{State: StateRouting}, false},
		{"tool calls go to tools", math, pending, SignalToolCalls, mathTools, false},
		{"tool results return to agent", mathTools, pending, SignalToolResults, math, false},
		{"agent error returns to router", math, pending, SignalAgentError, Step{State: StateRouting}, false},
		{"formatted is done", Step{State: StateFormatting}, drained, SignalFormatted, Step{State: StateDone}, false},
		{"fatal fails from anywhere", mathTools, pending, SignalFatal, Step{State: StateFailed}, false},
		{"done is terminal", Step{State: StateDone}, empty, SignalFatal, Step{State: StateDone}, true},
		{"tools cannot answer", mathTools, pending, SignalAnswer, mathTools, true},
		{"router ignores answers", Step{State: StateRouting}, pending, SignalAnswer, Step{State: StateRouting}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Next(tt.cur, tt.plan, tt.sig)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Next() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("Next() error = %v, want ErrInvalidTransition", err)
			}
			if got != tt.want {
				t.Errorf("Next(%s, %s) = %s, want %s", tt.cur, tt.sig, got, tt.want)
			}
		})
	}
}

func TestNext_DoesNotMutatePlan(t *testing.T) {
	plan := &models.RoutingPlan{
		Pending: []models.PlanItem{{SubQuestion: "a", Agent: models.AgentCode}},
	}
	for i := 0; i < 3; i++ {
		if _, err := Next(Step{State: StateRouting}, plan, SignalEnter); err != nil {
			t.Fatal(err)
		}
	}
	if len(plan.Pending) != 1 {
		t.Error("Next must not consume plan items")
	}
}
