// Package remotestore talks to the hosted relational backend that mirrors
// the on-device chat state across devices. It is never on the hot path: the
// sync coordinator consults it only when the local store is empty, and all
// writes to it are background best-effort.
package remotestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"wayfarer/internal/logging"
	"wayfarer/internal/model"
)

// ErrNotFound is returned when a chat does not exist on the remote side.
var ErrNotFound = errors.New("not found")

// Store is a Postgres-backed chat mirror.
type Store struct {
	pool   *pgxpool.Pool
	logger *logging.Logger
}

// New creates a Store from a Postgres DSN. The pool connects lazily, so a
// backend that is down at startup only fails once it is actually used.
func New(ctx context.Context, dsn string, logger *logging.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// ListChats returns all chats for an owner, most recently updated first.
func (s *Store) ListChats(ctx context.Context, ownerID int64) ([]model.Chat, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, title, created_at, updated_at, COALESCE(preview, ''), message_count
		FROM chats
		WHERE owner_id = $1
		ORDER BY updated_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query remote chats: %w", err)
	}
	defer rows.Close()

	var chats []model.Chat
	for rows.Next() {
		var chat model.Chat
		if err := rows.Scan(&chat.ID, &chat.OwnerID, &chat.Title,
			&chat.CreatedAt, &chat.UpdatedAt, &chat.Preview, &chat.MessageCount); err != nil {
			return nil, fmt.Errorf("failed to scan remote chat: %w", err)
		}
		chats = append(chats, chat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating remote chats: %w", err)
	}
	return chats, nil
}

// CreateChat registers a chat remotely and returns the identifier and title
// the backend assigned. The local id is recorded as the chat's client
// reference so replays of the same create are idempotent.
func (s *Store) CreateChat(ctx context.Context, localID string, ownerID int64, title string) (id, assignedTitle string, err error) {
	err = s.pool.QueryRow(ctx, `
		INSERT INTO chats (client_ref, owner_id, title, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		ON CONFLICT (client_ref) DO UPDATE SET updated_at = now()
		RETURNING id, title`,
		localID, ownerID, title).Scan(&id, &assignedTitle)
	if err != nil {
		return "", "", fmt.Errorf("failed to create remote chat: %w", err)
	}
	return id, assignedTitle, nil
}

// DeleteChat removes a chat and its messages remotely.
func (s *Store) DeleteChat(ctx context.Context, chatID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin remote delete: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM messages WHERE chat_id = $1`, chatID); err != nil {
		return fmt.Errorf("failed to delete remote messages: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM chats WHERE id = $1`, chatID); err != nil {
		return fmt.Errorf("failed to delete remote chat: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit remote delete: %w", err)
	}
	return nil
}

// UpdateChatTitle sets the title of a remote chat.
func (s *Store) UpdateChatTitle(ctx context.Context, chatID, title string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE chats SET title = $1, updated_at = now() WHERE id = $2`, title, chatID)
	if err != nil {
		return fmt.Errorf("failed to update remote title: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("chat %s: %w", chatID, ErrNotFound)
	}
	return nil
}

// InsertMessage mirrors a finalized message. Attachments travel as jsonb.
func (s *Store) InsertMessage(ctx context.Context, msg *model.Message) error {
	attachments, err := json.Marshal(msg.Attachments)
	if err != nil {
		return fmt.Errorf("failed to marshal attachments: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO messages (id, chat_id, author_id, role, content, reasoning, attachments, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		msg.ID, msg.ChatID, msg.AuthorID, string(msg.Role),
		msg.Content, msg.Reasoning, attachments, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert remote message: %w", err)
	}

	_, err = s.pool.Exec(ctx, `UPDATE chats SET updated_at = now() WHERE id = $1`, msg.ChatID)
	if err != nil {
		return fmt.Errorf("failed to touch remote chat: %w", err)
	}
	return nil
}

// ListMessages returns a chat's messages ordered by creation time ascending.
func (s *Store) ListMessages(ctx context.Context, chatID string) ([]model.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, chat_id, author_id, role, content, COALESCE(reasoning, ''), attachments, created_at
		FROM messages
		WHERE chat_id = $1
		ORDER BY created_at ASC, id ASC`, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to query remote messages: %w", err)
	}
	defer rows.Close()

	var messages []model.Message
	for rows.Next() {
		var msg model.Message
		var role string
		var attachments []byte
		var createdAt time.Time
		if err := rows.Scan(&msg.ID, &msg.ChatID, &msg.AuthorID, &role,
			&msg.Content, &msg.Reasoning, &attachments, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan remote message: %w", err)
		}
		msg.Role = model.Role(role)
		msg.CreatedAt = createdAt
		if len(attachments) > 0 {
			if err := json.Unmarshal(attachments, &msg.Attachments); err != nil {
				s.logger.WithContext("message_id", msg.ID).Warn("dropping unreadable remote attachments: %v", err)
			}
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating remote messages: %w", err)
	}
	return messages, nil
}

// GetChat fetches one remote chat.
func (s *Store) GetChat(ctx context.Context, chatID string) (*model.Chat, error) {
	var chat model.Chat
	err := s.pool.QueryRow(ctx, `
		SELECT id, owner_id, title, created_at, updated_at, COALESCE(preview, ''), message_count
		FROM chats WHERE id = $1`, chatID).
		Scan(&chat.ID, &chat.OwnerID, &chat.Title, &chat.CreatedAt, &chat.UpdatedAt, &chat.Preview, &chat.MessageCount)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("chat %s: %w", chatID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query remote chat: %w", err)
	}
	return &chat, nil
}
