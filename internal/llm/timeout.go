package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrRequestTimeout is returned when a single Generate call outlives the
// per-request timeout. It is transient.
var ErrRequestTimeout = errors.New("llm: request timed out")

type timeoutModel struct {
	inner   LanguageModel
	timeout time.Duration
}

// WithRequestTimeout bounds every Generate call on model by timeout. A call
// that hits the bound fails with a transient error wrapping
// ErrRequestTimeout, distinct from the caller's own context ending.
// A non-positive timeout returns model unchanged.
func WithRequestTimeout(model LanguageModel, timeout time.Duration) LanguageModel {
	if timeout <= 0 || model == nil {
		return model
	}
	return &timeoutModel{inner: model, timeout: timeout}
}

func (m *timeoutModel) Generate(ctx context.Context, req Request, onChunk func(string)) (*Generation, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	gen, err := m.inner.Generate(callCtx, req, onChunk)
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return nil, NewTransientError(fmt.Errorf("%w after %s", ErrRequestTimeout, m.timeout))
	}
	return gen, err
}
