package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ShayCichocki/relay/pkg/models"
)

// Load returns the stored state of conversation id.
func (db *DB) Load(ctx context.Context, id string) (*models.ConversationState, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var (
		revision int64
		raw      string
	)
	err := db.conn.QueryRowContext(ctx,
		"SELECT revision, state_json FROM conversations WHERE id = ?", id,
	).Scan(&revision, &raw)
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", id, err)
	}

	st, err := decodeState(id, []byte(raw))
	if err != nil {
		return nil, err
	}
	st.Revision = revision
	return st, nil
}

// Save writes st in one transaction, guarded by expectedRevision.
func (db *DB) Save(ctx context.Context, st *models.ConversationState, expectedRevision int64) error {
	next := expectedRevision + 1
	updated := time.Now().UTC()
	raw, err := encodeState(st, next, updated)
	if err != nil {
		return err
	}

	err = db.Transaction(ctx, func(tx *sql.Tx) error {
		var res sql.Result
		var err error
		if expectedRevision == 0 {
			res, err = tx.ExecContext(ctx, `
				INSERT INTO conversations (id, revision, state_json, updated_at, label, pending_items)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT(id) DO NOTHING
			`, st.ID, next, string(raw), formatTime(updated), st.Label(), len(st.Plan.Pending))
		} else {
			res, err = tx.ExecContext(ctx, `
				UPDATE conversations
				SET revision = ?, state_json = ?, updated_at = ?, label = ?, pending_items = ?
				WHERE id = ? AND revision = ?
			`, next, string(raw), formatTime(updated), st.Label(), len(st.Plan.Pending), st.ID, expectedRevision)
		}
		if err != nil {
			return fmt.Errorf("save conversation %s: %w", st.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if n != 1 {
			return ErrRevisionConflict
		}
		return nil
	})
	if err != nil {
		return err
	}

	st.Revision = next
	st.UpdatedAt = updated
	return nil
}

// encodeState serializes st as it will look once saved at revision.
func encodeState(st *models.ConversationState, revision int64, updated time.Time) ([]byte, error) {
	snapshot := st.Clone()
	snapshot.Revision = revision
	snapshot.UpdatedAt = updated
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("encode conversation %s: %w", st.ID, err)
	}
	return raw, nil
}

func decodeState(id string, raw []byte) (*models.ConversationState, error) {
	var st models.ConversationState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode conversation %s: %w", id, err)
	}
	if st.ID == "" {
		st.ID = id
	}
	if st.Plan.Pending == nil {
		st.Plan.Pending = []models.PlanItem{}
	}
	if st.Plan.Completed == nil {
		st.Plan.Completed = []models.CompletedItem{}
	}
	return &st, nil
}
