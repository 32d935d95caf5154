package localstore

import (
	"context"
	"time"
)

// Outbox operation types.
const (
	OpCreateChat    = "create_chat"
	OpDeleteChat    = "delete_chat"
	OpUpdateTitle   = "update_title"
	OpInsertMessage = "insert_message"
)

// Op is a pending remote-store operation recorded when a background mirror
// write fails. The outbox drain loop replays these with bounded retry.
type Op struct {
	ID        int64
	Type      string
	ChatID    string
	Payload   []byte
	Attempts  int
	CreatedAt time.Time
}

// EnqueueOp records a pending remote operation.
func (s *Store) EnqueueOp(ctx context.Context, opType, chatID string, payload []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outbox (op_type, chat_id, payload, created_at)
		VALUES (?, ?, ?, ?)`,
		opType, chatID, string(payload), time.Now().UnixMicro())
	if err != nil {
		return storageErr("failed to enqueue outbox op", err)
	}
	return nil
}

// PendingOps returns up to limit pending operations, oldest first.
func (s *Store) PendingOps(ctx context.Context, limit int) ([]Op, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, op_type, chat_id, payload, attempts, created_at
		FROM outbox ORDER BY id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, storageErr("failed to query outbox", err)
	}
	defer rows.Close()

	var ops []Op
	for rows.Next() {
		var op Op
		var payload string
		var createdAt int64
		if err := rows.Scan(&op.ID, &op.Type, &op.ChatID, &payload, &op.Attempts, &createdAt); err != nil {
			return nil, storageErr("failed to scan outbox row", err)
		}
		op.Payload = []byte(payload)
		op.CreatedAt = time.UnixMicro(createdAt)
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("error iterating outbox", err)
	}
	return ops, nil
}

// DeleteOp removes a completed (or abandoned) operation.
func (s *Store) DeleteOp(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM outbox WHERE id = ?`, id); err != nil {
		return storageErr("failed to delete outbox op", err)
	}
	return nil
}

// BumpOpAttempt increments the attempt counter after a failed replay.
func (s *Store) BumpOpAttempt(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE outbox SET attempts = attempts + 1 WHERE id = ?`, id); err != nil {
		return storageErr("failed to bump outbox attempt", err)
	}
	return nil
}

// ReassignOps moves pending operations to a new chat id after the chat was
// promoted from its provisional local id.
func (s *Store) ReassignOps(ctx context.Context, oldChatID, newChatID string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE outbox SET chat_id = ? WHERE chat_id = ?`, newChatID, oldChatID); err != nil {
		return storageErr("failed to reassign outbox ops", err)
	}
	return nil
}

// DeleteOpsForChat drops pending operations that became moot, e.g. after the
// chat itself was deleted.
func (s *Store) DeleteOpsForChat(ctx context.Context, chatID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM outbox WHERE chat_id = ?`, chatID); err != nil {
		return storageErr("failed to delete chat outbox ops", err)
	}
	return nil
}
