// Package state persists conversation checkpoints.
package state

import (
	"context"
	"errors"
	"io"

	"github.com/ShayCichocki/relay/pkg/models"
)

var (
	// ErrNotFound is returned by Load for an unknown conversation.
	ErrNotFound = errors.New("state: conversation not found")
	// ErrRevisionConflict is returned by Save when the stored revision is
	// not the one the caller last loaded.
	ErrRevisionConflict = errors.New("state: revision conflict")
)

// CheckpointStore loads and saves whole conversation states.
//
// Save is all-or-nothing. It succeeds only when the stored revision equals
// expectedRevision (0 for a conversation never saved) and on success sets
// st.Revision to expectedRevision+1.
type CheckpointStore interface {
	io.Closer
	Load(ctx context.Context, id string) (*models.ConversationState, error)
	Save(ctx context.Context, st *models.ConversationState, expectedRevision int64) error
}

// Compile-time verification that every backend implements CheckpointStore.
var (
	_ CheckpointStore = (*DB)(nil)
	_ CheckpointStore = (*DynamoStore)(nil)
	_ CheckpointStore = (*MemoryStore)(nil)
)
