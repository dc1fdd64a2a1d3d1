package llm

import (
	"context"
	"errors"
	"net"
)

// ErrNoStructuredOutput is returned when a structured request came back
// without a structured value.
var ErrNoStructuredOutput = errors.New("llm: model returned no structured output")

// TransientError represents a temporary provider failure such as a timeout,
// a rate limit, or a 5xx response.
type TransientError struct {
	err error
}

func (e *TransientError) Error() string {
	return e.err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.err
}

// NewTransientError wraps an error as transient.
func NewTransientError(err error) error {
	return &TransientError{err: err}
}

// IsTransient returns true if the error is transient. Deadline and network
// timeout errors count as transient even when unwrapped.
func IsTransient(err error) bool {
	var transient *TransientError
	if errors.As(err, &transient) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// ClassifyStatus wraps err as transient for retryable HTTP status codes.
func ClassifyStatus(status int, err error) error {
	if status == 429 || status >= 500 {
		return NewTransientError(err)
	}
	return err
}
