package state

import (
	"context"
	"sync"
	"time"

	"github.com/ShayCichocki/relay/pkg/models"
)

// MemoryStore is an in-process CheckpointStore. It stores deep copies so
// callers can keep mutating the states they pass in.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]*models.ConversationState
	// failSave, when set, is returned by Save. Used by tests.
	failSave error
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]*models.ConversationState)}
}

// Load implements CheckpointStore.
func (m *MemoryStore) Load(_ context.Context, id string) (*models.ConversationState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[id]
	if !ok {
		return nil, ErrNotFound
	}
	return st.Clone(), nil
}

// Save implements CheckpointStore.
func (m *MemoryStore) Save(ctx context.Context, st *models.ConversationState, expectedRevision int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSave != nil {
		return m.failSave
	}

	var current int64
	if prev, ok := m.states[st.ID]; ok {
		current = prev.Revision
	}
	if current != expectedRevision {
		return ErrRevisionConflict
	}

	st.Revision = expectedRevision + 1
	st.UpdatedAt = time.Now().UTC()
	m.states[st.ID] = st.Clone()
	return nil
}

// FailSaves makes every subsequent Save return err (nil restores normal
// behaviour).
func (m *MemoryStore) FailSaves(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSave = err
}

// Close implements io.Closer.
func (m *MemoryStore) Close() error {
	return nil
}
