// Package sync keeps the local store authoritative for reads while
// mirroring writes to the remote store, queuing failed mirror writes in an
// outbox for replay.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"wayfarer/internal/assist"
	"wayfarer/internal/localstore"
	"wayfarer/internal/logging"
	"wayfarer/internal/model"
	"wayfarer/internal/remotestore"
)

// SessionContext identifies the authenticated caller for one request.
type SessionContext struct {
	UserID    int64
	SessionID string
}

// LocalStore is the embedded store the coordinator reads from and writes to
// first.
type LocalStore interface {
	PutChat(ctx context.Context, chat *model.Chat) error
	GetChat(ctx context.Context, chatID string) (*model.Chat, error)
	ListByOwner(ctx context.Context, ownerID int64) ([]model.Chat, error)
	DeleteChat(ctx context.Context, chatID string) error
	UpdateChatTitle(ctx context.Context, chatID, title string) error
	ReplaceChatID(ctx context.Context, oldID, newID string) error

	PutMessage(ctx context.Context, msg *model.Message) error
	ListMessages(ctx context.Context, chatID string) ([]model.Message, error)

	EnqueueOp(ctx context.Context, opType, chatID string, payload []byte) error
	PendingOps(ctx context.Context, limit int) ([]localstore.Op, error)
	DeleteOp(ctx context.Context, id int64) error
	BumpOpAttempt(ctx context.Context, id int64) error
	ReassignOps(ctx context.Context, oldChatID, newChatID string) error
	DeleteOpsForChat(ctx context.Context, chatID string) error
}

// RemoteStore is the hosted store writes are mirrored to.
type RemoteStore interface {
	ListChats(ctx context.Context, ownerID int64) ([]model.Chat, error)
	GetChat(ctx context.Context, chatID string) (*model.Chat, error)
	CreateChat(ctx context.Context, localID string, ownerID int64, title string) (id, assignedTitle string, err error)
	DeleteChat(ctx context.Context, chatID string) error
	UpdateChatTitle(ctx context.Context, chatID, title string) error
	InsertMessage(ctx context.Context, msg *model.Message) error
	ListMessages(ctx context.Context, chatID string) ([]model.Message, error)
}

// Streamer opens a streaming assistant response for a chat message.
type Streamer interface {
	OpenStream(ctx context.Context, req assist.ChatRequest) (io.ReadCloser, error)
}

// Notifier pushes state changes to connected clients.
type Notifier interface {
	ChatUpdated(chatID string)
	Thinking(chatID string, active bool)
}

// Options tune the coordinator.
type Options struct {
	OutboxInterval    time.Duration
	OutboxMaxAttempts int
	StrictSequence    bool
	StreamIdleTimeout time.Duration
}

// Coordinator mediates between the local store, the remote store and the
// inference backend. Reads are answered from the local store; writes land
// locally first and are mirrored to the remote store in the background.
type Coordinator struct {
	local    LocalStore
	remote   RemoteStore // nil when no remote store is configured
	streamer Streamer
	notifier Notifier
	logger   *logging.Logger
	opts     Options

	mu       sync.Mutex
	inflight map[string]inflightStream // chat id -> active stream
	nextGen  uint64

	stop chan struct{}
	done chan struct{}
}

// NewCoordinator creates a coordinator. remote may be nil for offline-only
// operation; notifier may be nil.
func NewCoordinator(local LocalStore, remote RemoteStore, streamer Streamer, notifier Notifier, opts Options, logger *logging.Logger) *Coordinator {
	if opts.OutboxInterval <= 0 {
		opts.OutboxInterval = 30 * time.Second
	}
	if opts.OutboxMaxAttempts <= 0 {
		opts.OutboxMaxAttempts = 5
	}
	if opts.StreamIdleTimeout <= 0 {
		opts.StreamIdleTimeout = 90 * time.Second
	}
	return &Coordinator{
		local:    local,
		remote:   remote,
		streamer: streamer,
		notifier: notifier,
		logger:   logger,
		opts:     opts,
		inflight: make(map[string]inflightStream),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// LoadChats returns the caller's chats from the local store. The remote
// store is consulted only when the local store has nothing for this owner,
// so a device with established data never blocks a list on the network. An
// empty result is topped up with a fresh chat so the caller always has one
// to select.
func (c *Coordinator) LoadChats(ctx context.Context, sess SessionContext) ([]model.Chat, error) {
	chats, err := c.local.ListByOwner(ctx, sess.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}

	if len(chats) == 0 && c.remote != nil {
		c.hydrateChats(ctx, sess.UserID)
		chats, err = c.local.ListByOwner(ctx, sess.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to list chats: %w", err)
		}
	}

	if len(chats) == 0 {
		chat, err := c.CreateChat(ctx, sess)
		if err != nil {
			return nil, err
		}
		chats = []model.Chat{*chat}
	}
	return chats, nil
}

// hydrateChats folds remote chats into the local store. Remote failures are
// logged and ignored; the local store remains the source of truth for reads.
func (c *Coordinator) hydrateChats(ctx context.Context, ownerID int64) {
	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	remoteChats, err := c.remote.ListChats(hctx, ownerID)
	if err != nil {
		c.logger.Warn("remote chat list unavailable, serving local: %v", err)
		return
	}

	for i := range remoteChats {
		chat := remoteChats[i]
		existing, err := c.local.GetChat(ctx, chat.ID)
		if err == nil {
			// Keep a locally renamed title; adopt the remote one only while
			// the local title is still the placeholder.
			if existing.Title != model.PlaceholderTitle {
				chat.Title = existing.Title
			}
		} else if !errors.Is(err, localstore.ErrNotFound) {
			continue
		}
		if err := c.local.PutChat(ctx, &chat); err != nil {
			c.logger.Warn("failed to hydrate chat %s: %v", chat.ID, err)
		}
	}
}

// LoadMessages returns a chat's messages from the local store, hydrating
// from the remote store the first time a remotely created chat is opened.
func (c *Coordinator) LoadMessages(ctx context.Context, sess SessionContext, chatID string) ([]model.Message, error) {
	chat, err := c.local.GetChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chat: %w", err)
	}
	if chat.OwnerID != sess.UserID {
		return nil, localstore.ErrNotFound
	}

	msgs, err := c.local.ListMessages(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	if len(msgs) == 0 && chat.MessageCount == 0 && !chat.IsLocalOnly() && c.remote != nil {
		remoteMsgs, err := c.remote.ListMessages(ctx, chatID)
		if err != nil {
			c.logger.Warn("remote messages unavailable for chat %s: %v", chatID, err)
			return msgs, nil
		}
		for i := range remoteMsgs {
			if err := c.local.PutMessage(ctx, &remoteMsgs[i]); err != nil {
				c.logger.Warn("failed to hydrate message %s: %v", remoteMsgs[i].ID, err)
			}
		}
		msgs = remoteMsgs
	}
	return msgs, nil
}

// CreateChat creates a chat in the local store under a provisional local id
// and promotes it to the remote id in the background. The caller gets the
// local chat back immediately.
func (c *Coordinator) CreateChat(ctx context.Context, sess SessionContext) (*model.Chat, error) {
	now := time.Now()
	chat := &model.Chat{
		ID:        model.NewLocalChatID(),
		OwnerID:   sess.UserID,
		Title:     model.PlaceholderTitle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.local.PutChat(ctx, chat); err != nil {
		return nil, fmt.Errorf("failed to create chat: %w", err)
	}
	c.logger.WithContext("chat_id", chat.ID).Info("created chat")

	if c.remote != nil {
		go c.promoteChat(chat.ID, sess.UserID, chat.Title)
	}
	return chat, nil
}

// promoteChat registers a locally created chat with the remote store and
// swaps the provisional id for the remote one. On failure the registration
// is queued in the outbox.
func (c *Coordinator) promoteChat(localID string, ownerID int64, title string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	remoteID, assignedTitle, err := c.remote.CreateChat(ctx, localID, ownerID, title)
	if err != nil {
		c.logger.Warn("remote chat create failed, queuing: %v", err)
		payload, _ := json.Marshal(createChatPayload{OwnerID: ownerID, Title: title})
		if err := c.local.EnqueueOp(ctx, localstore.OpCreateChat, localID, payload); err != nil {
			c.logger.Error("failed to queue chat create: %v", err)
		}
		return
	}

	c.adoptRemoteChat(ctx, localID, remoteID, assignedTitle)
}

// adoptRemoteChat replaces a provisional chat id with its remote id and
// takes the remote title when the local one is still the placeholder.
func (c *Coordinator) adoptRemoteChat(ctx context.Context, localID, remoteID, assignedTitle string) {
	if err := c.local.ReplaceChatID(ctx, localID, remoteID); err != nil {
		if errors.Is(err, localstore.ErrNotFound) {
			// Chat was deleted while the promotion was in flight.
			if err := c.remote.DeleteChat(ctx, remoteID); err != nil {
				c.logger.Warn("failed to clean up promoted chat %s: %v", remoteID, err)
			}
			return
		}
		c.logger.Error("failed to adopt remote chat id %s: %v", remoteID, err)
		return
	}
	if err := c.local.ReassignOps(ctx, localID, remoteID); err != nil {
		c.logger.Warn("failed to reassign queued ops for chat %s: %v", remoteID, err)
	}

	if assignedTitle != "" && assignedTitle != model.PlaceholderTitle {
		chat, err := c.local.GetChat(ctx, remoteID)
		if err == nil && chat.Title == model.PlaceholderTitle {
			if err := c.local.UpdateChatTitle(ctx, remoteID, assignedTitle); err != nil {
				c.logger.Warn("failed to adopt remote title for chat %s: %v", remoteID, err)
			}
		}
	}

	if c.notifier != nil {
		c.notifier.ChatUpdated(remoteID)
	}
	c.logger.WithFields(map[string]interface{}{
		"local_id":  localID,
		"remote_id": remoteID,
	}).Debug("promoted chat to remote id")
}

// DeleteChat removes a chat and its messages locally, cancels any stream
// running on it, and mirrors the delete to the remote store.
func (c *Coordinator) DeleteChat(ctx context.Context, sess SessionContext, chatID string) error {
	chat, err := c.local.GetChat(ctx, chatID)
	if err != nil {
		return fmt.Errorf("failed to load chat: %w", err)
	}
	if chat.OwnerID != sess.UserID {
		return localstore.ErrNotFound
	}

	c.cancelInflight(chatID)

	if err := c.local.DeleteChat(ctx, chatID); err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	if err := c.local.DeleteOpsForChat(ctx, chatID); err != nil {
		c.logger.Warn("failed to drop queued ops for chat %s: %v", chatID, err)
	}
	c.logger.WithContext("chat_id", chatID).Info("deleted chat")

	if c.remote != nil && !chat.IsLocalOnly() {
		go func() {
			dctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := c.remote.DeleteChat(dctx, chatID); err != nil && !errors.Is(err, remotestore.ErrNotFound) {
				c.logger.Warn("remote chat delete failed, queuing: %v", err)
				if err := c.local.EnqueueOp(dctx, localstore.OpDeleteChat, chatID, nil); err != nil {
					c.logger.Error("failed to queue chat delete: %v", err)
				}
			}
		}()
	}

	if c.notifier != nil {
		c.notifier.ChatUpdated(chatID)
	}
	return nil
}

// RenameChat updates a chat title locally and mirrors it to the remote
// store.
func (c *Coordinator) RenameChat(ctx context.Context, sess SessionContext, chatID, title string) error {
	chat, err := c.local.GetChat(ctx, chatID)
	if err != nil {
		return fmt.Errorf("failed to load chat: %w", err)
	}
	if chat.OwnerID != sess.UserID {
		return localstore.ErrNotFound
	}
	if err := c.local.UpdateChatTitle(ctx, chatID, title); err != nil {
		return fmt.Errorf("failed to rename chat: %w", err)
	}
	c.mirrorTitle(chatID, chat.IsLocalOnly(), title)
	if c.notifier != nil {
		c.notifier.ChatUpdated(chatID)
	}
	return nil
}

// mirrorTitle pushes a title change to the remote store, queuing it when
// the push fails or the chat has not been promoted yet.
func (c *Coordinator) mirrorTitle(chatID string, localOnly bool, title string) {
	if c.remote == nil {
		return
	}
	payload, _ := json.Marshal(titlePayload{Title: title})
	if localOnly {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.local.EnqueueOp(ctx, localstore.OpUpdateTitle, chatID, payload); err != nil {
			c.logger.Error("failed to queue title update: %v", err)
		}
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.remote.UpdateChatTitle(ctx, chatID, title); err != nil {
			if errors.Is(err, remotestore.ErrNotFound) {
				return
			}
			c.logger.Warn("remote title update failed, queuing: %v", err)
			if err := c.local.EnqueueOp(ctx, localstore.OpUpdateTitle, chatID, payload); err != nil {
				c.logger.Error("failed to queue title update: %v", err)
			}
		}
	}()
}

// mirrorMessage pushes a message to the remote store, queuing it when the
// push fails or the chat has not been promoted yet.
func (c *Coordinator) mirrorMessage(msg *model.Message, localOnly bool) {
	if c.remote == nil {
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to encode message for mirror: %v", err)
		return
	}
	if localOnly {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.local.EnqueueOp(ctx, localstore.OpInsertMessage, msg.ChatID, payload); err != nil {
			c.logger.Error("failed to queue message mirror: %v", err)
		}
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.remote.InsertMessage(ctx, msg); err != nil {
			c.logger.Warn("remote message insert failed, queuing: %v", err)
			if err := c.local.EnqueueOp(ctx, localstore.OpInsertMessage, msg.ChatID, payload); err != nil {
				c.logger.Error("failed to queue message mirror: %v", err)
			}
		}
	}()
}

type inflightStream struct {
	cancel context.CancelFunc
	gen    uint64
}

// cancelInflight cancels the active stream for a chat, if any.
func (c *Coordinator) cancelInflight(chatID string) {
	c.mu.Lock()
	active, ok := c.inflight[chatID]
	if ok {
		delete(c.inflight, chatID)
	}
	c.mu.Unlock()
	if ok {
		c.logger.WithContext("chat_id", chatID).Debug("cancelling in-flight stream")
		active.cancel()
	}
}

// registerInflight records the cancel func for a chat's active stream and
// returns a generation token for clearInflight.
func (c *Coordinator) registerInflight(chatID string, cancel context.CancelFunc) uint64 {
	c.mu.Lock()
	c.nextGen++
	gen := c.nextGen
	c.inflight[chatID] = inflightStream{cancel: cancel, gen: gen}
	c.mu.Unlock()
	return gen
}

// clearInflight removes the record if it still belongs to this stream.
func (c *Coordinator) clearInflight(chatID string, gen uint64) {
	c.mu.Lock()
	if active, ok := c.inflight[chatID]; ok && active.gen == gen {
		delete(c.inflight, chatID)
	}
	c.mu.Unlock()
}

// Close stops the outbox loop and waits for it to exit.
func (c *Coordinator) Close() {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
	<-c.done
}
