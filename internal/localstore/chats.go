package localstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"wayfarer/internal/model"
)

// PutChat inserts or overwrites a chat by identifier and recomputes the
// denormalized preview fields from the messages table. Idempotent.
func (s *Store) PutChat(ctx context.Context, chat *model.Chat) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("failed to begin chat write", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO chats (id, owner_id, title, created_at, updated_at, preview, message_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner_id = excluded.owner_id,
			title = excluded.title,
			updated_at = excluded.updated_at`,
		chat.ID, chat.OwnerID, chat.Title,
		chat.CreatedAt.UnixMicro(), chat.UpdatedAt.UnixMicro(),
		chat.Preview, chat.MessageCount,
	)
	if err != nil {
		return storageErr("failed to save chat", err)
	}

	if err := refreshChatDenorm(ctx, tx, chat.ID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return storageErr("failed to commit chat write", err)
	}
	return nil
}

// GetChat returns a chat by id, or ErrNotFound.
func (s *Store) GetChat(ctx context.Context, chatID string) (*model.Chat, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, title, created_at, updated_at, preview, message_count
		FROM chats WHERE id = ?`, chatID)

	chat, err := scanChat(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("chat %s: %w", chatID, ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("failed to query chat", err)
	}
	return chat, nil
}

// ListByOwner returns all chats for an owner ordered most-recently-updated
// first. An owner with no chats yields an empty slice, not an error.
func (s *Store) ListByOwner(ctx context.Context, ownerID int64) ([]model.Chat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, title, created_at, updated_at, preview, message_count
		FROM chats WHERE owner_id = ?
		ORDER BY updated_at DESC`, ownerID)
	if err != nil {
		return nil, storageErr("failed to query chats", err)
	}
	defer rows.Close()

	chats := []model.Chat{}
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, storageErr("failed to scan chat row", err)
		}
		chats = append(chats, *chat)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("error iterating chats", err)
	}
	return chats, nil
}

// DeleteChat removes the chat and cascades deletion of its messages. The
// delete is atomic: either the chat and all its messages go, or none do.
func (s *Store) DeleteChat(ctx context.Context, chatID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("failed to begin chat delete", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ?`, chatID); err != nil {
		return storageErr("failed to delete chat messages", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, chatID); err != nil {
		return storageErr("failed to delete chat", err)
	}

	if err := tx.Commit(); err != nil {
		return storageErr("failed to commit chat delete", err)
	}
	return nil
}

// UpdateChatTitle sets the title and bumps the update timestamp.
func (s *Store) UpdateChatTitle(ctx context.Context, chatID, title string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE chats SET title = ?, updated_at = ? WHERE id = ?`,
		title, time.Now().UnixMicro(), chatID)
	if err != nil {
		return storageErr("failed to update chat title", err)
	}
	return nil
}

// ReplaceChatID rewires a locally-originated chat to the identifier the
// remote store assigned, moving its messages along. If the remote id is
// already present locally (hydrated earlier), the local record is folded
// into it instead.
func (s *Store) ReplaceChatID(ctx context.Context, oldID, newID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("failed to begin id reconciliation", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM chats WHERE id = ?`, newID).Scan(&exists)
	if err != nil {
		return storageErr("failed to check chat id", err)
	}

	if exists > 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, oldID); err != nil {
			return storageErr("failed to fold local chat", err)
		}
	} else {
		res, err := tx.ExecContext(ctx, `UPDATE chats SET id = ? WHERE id = ?`, newID, oldID)
		if err != nil {
			return storageErr("failed to replace chat id", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("chat %s: %w", oldID, ErrNotFound)
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE messages SET chat_id = ? WHERE chat_id = ?`, newID, oldID); err != nil {
		return storageErr("failed to move chat messages", err)
	}
	if err := refreshChatDenorm(ctx, tx, newID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return storageErr("failed to commit id reconciliation", err)
	}
	return nil
}

// refreshChatDenorm recomputes message_count and preview from the messages
// table. Caller owns the transaction.
func refreshChatDenorm(ctx context.Context, tx *sql.Tx, chatID string) error {
	var count int
	var last sql.NullString
	err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*),
			(SELECT content FROM messages WHERE chat_id = ? ORDER BY created_at DESC, id DESC LIMIT 1)
		FROM messages WHERE chat_id = ?`, chatID, chatID).Scan(&count, &last)
	if err != nil {
		return storageErr("failed to compute chat preview", err)
	}

	preview := ""
	if last.Valid {
		preview = model.PreviewSnippet(last.String, 120)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE chats SET preview = ?, message_count = ? WHERE id = ?`,
		preview, count, chatID); err != nil {
		return storageErr("failed to update chat preview", err)
	}
	return nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanChat(sc scanner) (*model.Chat, error) {
	var chat model.Chat
	var createdAt, updatedAt int64
	err := sc.Scan(&chat.ID, &chat.OwnerID, &chat.Title, &createdAt, &updatedAt, &chat.Preview, &chat.MessageCount)
	if err != nil {
		return nil, err
	}
	chat.CreatedAt = time.UnixMicro(createdAt)
	chat.UpdatedAt = time.UnixMicro(updatedAt)
	return &chat, nil
}
