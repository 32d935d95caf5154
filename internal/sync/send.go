package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"wayfarer/internal/assist"
	"wayfarer/internal/localstore"
	"wayfarer/internal/model"
	"wayfarer/internal/stream"
)

// ErrEmptyMessage rejects a send with no visible content.
var ErrEmptyMessage = errors.New("message is empty")

// SendMessage persists the user message, streams the assistant response and
// persists the result. onEvent, if non-nil, is called for every applied
// stream event so the caller can relay them live. The user message survives
// any stream failure; a partial assistant response does not.
func (c *Coordinator) SendMessage(ctx context.Context, sess SessionContext, chatID, content string, attachments []model.Attachment, onEvent func(stream.Applied)) (*model.Message, error) {
	if strings.TrimSpace(content) == "" && len(attachments) == 0 {
		return nil, ErrEmptyMessage
	}

	chat, err := c.local.GetChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chat: %w", err)
	}
	if chat.OwnerID != sess.UserID {
		return nil, localstore.ErrNotFound
	}

	// A new send on the same chat supersedes any stream still running.
	c.cancelInflight(chatID)

	now := time.Now()
	userMsg := &model.Message{
		ID:          model.NewMessageID(now),
		ChatID:      chatID,
		AuthorID:    fmt.Sprintf("%d", sess.UserID),
		Role:        model.RoleUser,
		Content:     content,
		Attachments: attachments,
		CreatedAt:   now,
	}
	if err := c.local.PutMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("failed to store message: %w", err)
	}
	c.mirrorMessage(userMsg, chat.IsLocalOnly())

	if chat.Title == model.PlaceholderTitle && strings.TrimSpace(content) != "" {
		title := model.TitleFromMessage(content, 48)
		if err := c.local.UpdateChatTitle(ctx, chatID, title); err != nil {
			c.logger.Warn("failed to set chat title: %v", err)
		} else {
			c.mirrorTitle(chatID, chat.IsLocalOnly(), title)
		}
	}
	if c.notifier != nil {
		c.notifier.ChatUpdated(chatID)
	}

	assistantMsg, err := c.runStream(ctx, sess, chatID, content, attachments, onEvent)
	if err != nil {
		return nil, err
	}

	if err := c.local.PutMessage(ctx, assistantMsg); err != nil {
		return nil, fmt.Errorf("failed to store assistant message: %w", err)
	}
	c.mirrorMessage(assistantMsg, chat.IsLocalOnly())
	if c.notifier != nil {
		c.notifier.ChatUpdated(chatID)
	}
	return assistantMsg, nil
}

// runStream performs the streaming round trip with the inference backend.
// Nothing is persisted here; a failed or cancelled stream leaves no partial
// assistant message behind.
func (c *Coordinator) runStream(ctx context.Context, sess SessionContext, chatID, content string, attachments []model.Attachment, onEvent func(stream.Applied)) (*model.Message, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	gen := c.registerInflight(chatID, cancel)
	defer func() {
		c.clearInflight(chatID, gen)
		cancel()
	}()

	if c.notifier != nil {
		c.notifier.Thinking(chatID, true)
		defer c.notifier.Thinking(chatID, false)
	}

	body, err := c.streamer.OpenStream(streamCtx, assist.ChatRequest{
		UserID:      fmt.Sprintf("%d", sess.UserID),
		ChatID:      chatID,
		Message:     content,
		SessionID:   sess.SessionID,
		Attachments: assist.AttachmentRefs(attachments),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	defer body.Close()

	assembler := stream.NewAssembler(c.opts.StrictSequence, onEvent, c.logger.WithContext("chat_id", chatID))
	assembler.Begin()

	start := time.Now()
	result, err := stream.Consume(streamCtx, assembler, body, c.opts.StreamIdleTimeout)
	if err != nil {
		c.logger.WithFields(map[string]interface{}{
			"chat_id":    chatID,
			"error":      err.Error(),
			"latency_ms": time.Since(start).Milliseconds(),
		}).Warn("stream failed, discarding partial response")
		return nil, err
	}

	c.logger.WithFields(map[string]interface{}{
		"chat_id":    chatID,
		"task_id":    result.TaskID,
		"dropped":    result.Dropped,
		"latency_ms": time.Since(start).Milliseconds(),
	}).Info("stream complete")

	now := time.Now()
	return &model.Message{
		ID:        model.NewMessageID(now),
		ChatID:    chatID,
		AuthorID:  model.AssistantAuthor,
		Role:      model.RoleAssistant,
		Content:   result.Content,
		Reasoning: result.Reasoning,
		CreatedAt: now,
	}, nil
}
