package agent

import (
	"errors"
	"fmt"

	"github.com/ShayCichocki/relay/pkg/models"
)

var (
	// ErrStepLimit is returned when an agent keeps calling tools past the
	// configured number of generation passes.
	ErrStepLimit = errors.New("agent: step limit reached without an answer")
	// ErrEmptyAnswer is returned when the model ends its turn with no text
	// and no tool calls.
	ErrEmptyAnswer = errors.New("agent: model returned an empty answer")
	// ErrTurnFinished is returned when Step is called on a terminal turn.
	ErrTurnFinished = errors.New("agent: turn already produced an answer")
)

// GenerationError reports that an agent could not complete a generation
// pass. The dispatcher treats it as recoverable and retries the item.
type GenerationError struct {
	Kind models.AgentKind
	Err  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s agent: %v", e.Kind, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}
