package localstore

import (
	"context"
	"encoding/json"
	"time"

	"wayfarer/internal/model"
)

// PutMessage inserts or overwrites a message and refreshes the owning chat's
// denormalized preview, message count and update timestamp.
func (s *Store) PutMessage(ctx context.Context, msg *model.Message) error {
	attachments, err := json.Marshal(msg.Attachments)
	if err != nil {
		return storageErr("failed to marshal attachments", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("failed to begin message write", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, chat_id, author_id, role, content, reasoning, attachments, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			reasoning = excluded.reasoning,
			attachments = excluded.attachments`,
		msg.ID, msg.ChatID, msg.AuthorID, string(msg.Role),
		msg.Content, msg.Reasoning, string(attachments), msg.CreatedAt.UnixMicro(),
	)
	if err != nil {
		return storageErr("failed to save message", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE chats SET updated_at = ? WHERE id = ?`,
		time.Now().UnixMicro(), msg.ChatID); err != nil {
		return storageErr("failed to touch chat", err)
	}
	if err := refreshChatDenorm(ctx, tx, msg.ChatID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return storageErr("failed to commit message write", err)
	}
	return nil
}

// ListMessages returns all messages of a chat ordered by creation timestamp
// ascending. A chat with no messages yields an empty slice.
func (s *Store) ListMessages(ctx context.Context, chatID string) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, author_id, role, content, reasoning, attachments, created_at
		FROM messages WHERE chat_id = ?
		ORDER BY created_at ASC, id ASC`, chatID)
	if err != nil {
		return nil, storageErr("failed to query messages", err)
	}
	defer rows.Close()

	messages := []model.Message{}
	for rows.Next() {
		var msg model.Message
		var role string
		var attachments string
		var createdAt int64
		err := rows.Scan(&msg.ID, &msg.ChatID, &msg.AuthorID, &role,
			&msg.Content, &msg.Reasoning, &attachments, &createdAt)
		if err != nil {
			return nil, storageErr("failed to scan message row", err)
		}
		msg.Role = model.Role(role)
		msg.CreatedAt = time.UnixMicro(createdAt)
		if attachments != "" && attachments != "[]" {
			if err := json.Unmarshal([]byte(attachments), &msg.Attachments); err != nil {
				return nil, storageErr("failed to unmarshal attachments", err)
			}
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("error iterating messages", err)
	}
	return messages, nil
}
