package state

import (
	"context"
	"fmt"
	"time"
)

// ConversationInfo describes a stored conversation without its full state.
type ConversationInfo struct {
	ID           string
	Label        string
	Revision     int64
	PendingItems int
	UpdatedAt    time.Time
}

// Interrupted reports whether the conversation has plan items left to run.
func (c ConversationInfo) Interrupted() bool {
	return c.PendingItems > 0
}

// ListConversations returns stored conversations, most recently updated
// first. With onlyInterrupted set, only conversations whose plan still has
// pending items are returned; re-running them with an empty query resumes
// the plan.
func (db *DB) ListConversations(ctx context.Context, onlyInterrupted bool, limit int) ([]ConversationInfo, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	query := "SELECT id, label, revision, pending_items, updated_at FROM conversations"
	if onlyInterrupted {
		query += " WHERE pending_items > 0"
	}
	query += " ORDER BY updated_at DESC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []ConversationInfo
	for rows.Next() {
		var (
			info    ConversationInfo
			updated string
		)
		if err := rows.Scan(&info.ID, &info.Label, &info.Revision, &info.PendingItems, &updated); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		info.UpdatedAt, err = parseTime(updated)
		if err != nil {
			return nil, fmt.Errorf("parse updated_at for %s: %w", info.ID, err)
		}
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return out, nil
}

// PurgeConversations deletes conversations not updated within olderThan.
// Returns the number of conversations deleted.
func (db *DB) PurgeConversations(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-olderThan))

	db.mu.Lock()
	defer db.mu.Unlock()
	result, err := db.conn.ExecContext(ctx, "DELETE FROM conversations WHERE updated_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge conversations: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return count, nil
}
