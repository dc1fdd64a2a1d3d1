package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrConversationBusy is returned by Run while another run holds the
	// same conversation.
	ErrConversationBusy = errors.New("dispatch: conversation is busy")
	// ErrEmptyQuery is returned by Run for an empty query when there is no
	// unfinished plan to resume.
	ErrEmptyQuery = errors.New("dispatch: empty query with nothing to resume")
	// ErrRunDeadline is reported when the run's context passes its deadline.
	ErrRunDeadline = errors.New("dispatch: run deadline exceeded")
)

// CheckpointWriteError reports that a checkpoint could not be persisted.
// It ends the run.
type CheckpointWriteError struct {
	ConversationID string
	Err            error
}

func (e *CheckpointWriteError) Error() string {
	return fmt.Sprintf("checkpoint conversation %s: %v", e.ConversationID, e.Err)
}

func (e *CheckpointWriteError) Unwrap() error {
	return e.Err
}

// LoadError reports that the stored state of a conversation could not be read.
type LoadError struct {
	ConversationID string
	Err            error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load conversation %s: %v", e.ConversationID, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}
