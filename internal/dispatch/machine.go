package dispatch

import (
	"errors"
	"fmt"

	"github.com/ShayCichocki/relay/pkg/models"
)

// State is a node of the dispatch state machine.
type State string

const (
	StateRouting        State = "routing"
	StateAgentExecuting State = "agent_executing"
	StateToolExecuting  State = "tool_executing"
	StateFormatting     State = "formatting"
	StateDone           State = "done"
	StateFailed         State = "failed"
)

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Step is the current position of a run. Agent is set for StateAgentExecuting
// and StateToolExecuting.
type Step struct {
	State State
	Agent models.AgentKind
}

func (s Step) String() string {
	if s.Agent != "" {
		return fmt.Sprintf("%s(%s)", s.State, s.Agent)
	}
	return string(s.State)
}

// Signal is what the work done in the current state produced.
type Signal int

const (
	// SignalEnter asks the router to pick the next step from the plan.
	SignalEnter Signal = iota
	// SignalAnswer means the agent produced a terminal answer.
	SignalAnswer
	// SignalToolCalls means the agent requested tools.
	SignalToolCalls
	// SignalToolResults means requested tools have run.
	SignalToolResults
	// SignalAgentError means the agent failed; retry accounting is done.
	SignalAgentError
	// SignalFormatted means the final response was produced and saved.
	SignalFormatted
	// SignalFatal means a system error ended the run.
	SignalFatal
)

var signalNames = map[Signal]string{
	SignalEnter:       "enter",
	SignalAnswer:      "answer",
	SignalToolCalls:   "tool_calls",
	SignalToolResults: "tool_results",
	SignalAgentError:  "agent_error",
	SignalFormatted:   "formatted",
	SignalFatal:       "fatal",
}

func (s Signal) String() string {
	if name, ok := signalNames[s]; ok {
		return name
	}
	return fmt.Sprintf("signal(%d)", int(s))
}

// ErrInvalidTransition is returned by Next for a signal the current state
// cannot receive.
var ErrInvalidTransition = errors.New("dispatch: invalid transition")

// Next is the transition function of the dispatcher. It depends only on
// its arguments: the router always runs the head of the plan, formats a
// drained plan, and fails on an empty one.
func Next(cur Step, plan *models.RoutingPlan, sig Signal) (Step, error) {
	if sig == SignalFatal && !cur.State.Terminal() {
		return Step{State: StateFailed}, nil
	}

	switch cur.State {
	case StateRouting:
		if sig != SignalEnter {
			break
		}
		if head, ok := plan.Head(); ok {
			return Step{State: StateAgentExecuting, Agent: head.Agent}, nil
		}
		if plan.Drained() {
			return Step{State: StateFormatting}, nil
		}
		return Step{State: StateFailed}, fmt.Errorf("%w: routing an empty plan", ErrInvalidTransition)

	case StateAgentExecuting:
		switch sig {
		case SignalAnswer, SignalAgentError:
			return Step{State: StateRouting}, nil
		case SignalToolCalls:
			return Step{State: StateToolExecuting, Agent: cur.Agent}, nil
		}

	case StateToolExecuting:
		if sig == SignalToolResults {
			return Step{State: StateAgentExecuting, Agent: cur.Agent}, nil
		}

	case StateFormatting:
		if sig == SignalFormatted {
			return Step{State: StateDone}, nil
		}
	}

	return cur, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, sig, cur)
}
