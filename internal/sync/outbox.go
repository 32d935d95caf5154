package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"wayfarer/internal/localstore"
	"wayfarer/internal/model"
	"wayfarer/internal/remotestore"
)

type createChatPayload struct {
	OwnerID int64  `json:"owner_id"`
	Title   string `json:"title"`
}

type titlePayload struct {
	Title string `json:"title"`
}

// StartOutbox runs the outbox drain loop until Close is called. It is a
// no-op when no remote store is configured.
func (c *Coordinator) StartOutbox() {
	go func() {
		defer close(c.done)
		if c.remote == nil {
			<-c.stop
			return
		}

		ticker := time.NewTicker(c.opts.OutboxInterval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				c.drainOutbox()
			}
		}
	}()
}

// drainOutbox replays queued remote operations, oldest first. An op that
// keeps failing is abandoned after the attempt limit.
func (c *Coordinator) drainOutbox() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	ops, err := c.local.PendingOps(ctx, 50)
	if err != nil {
		c.logger.Warn("failed to read outbox: %v", err)
		return
	}
	if len(ops) == 0 {
		return
	}
	c.logger.WithContext("pending", len(ops)).Debug("draining outbox")

	for _, op := range ops {
		if err := c.replayOp(ctx, op); err != nil {
			c.logger.WithFields(map[string]interface{}{
				"op_id":    op.ID,
				"op_type":  op.Type,
				"chat_id":  op.ChatID,
				"attempts": op.Attempts + 1,
			}).Warn("outbox replay failed: %v", err)

			if op.Attempts+1 >= c.opts.OutboxMaxAttempts {
				c.logger.WithContext("op_id", op.ID).Error("abandoning outbox op after %d attempts", op.Attempts+1)
				if err := c.local.DeleteOp(ctx, op.ID); err != nil {
					c.logger.Error("failed to drop abandoned op: %v", err)
				}
			} else if err := c.local.BumpOpAttempt(ctx, op.ID); err != nil {
				c.logger.Error("failed to record op attempt: %v", err)
			}
			continue
		}
		if err := c.local.DeleteOp(ctx, op.ID); err != nil {
			c.logger.Error("failed to remove replayed op: %v", err)
		}
		if op.Type == localstore.OpCreateChat {
			// The chat id swap may have rewritten later ops in this batch;
			// re-read on the next tick instead of replaying stale ids.
			return
		}
	}
}

// replayOp applies a single queued operation against the remote store.
func (c *Coordinator) replayOp(ctx context.Context, op localstore.Op) error {
	switch op.Type {
	case localstore.OpCreateChat:
		var p createChatPayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return fmt.Errorf("bad payload: %w", err)
		}
		remoteID, assignedTitle, err := c.remote.CreateChat(ctx, op.ChatID, p.OwnerID, p.Title)
		if err != nil {
			return err
		}
		c.adoptRemoteChat(ctx, op.ChatID, remoteID, assignedTitle)
		return nil

	case localstore.OpDeleteChat:
		err := c.remote.DeleteChat(ctx, op.ChatID)
		if errors.Is(err, remotestore.ErrNotFound) {
			return nil
		}
		return err

	case localstore.OpUpdateTitle:
		var p titlePayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return fmt.Errorf("bad payload: %w", err)
		}
		err := c.remote.UpdateChatTitle(ctx, op.ChatID, p.Title)
		if errors.Is(err, remotestore.ErrNotFound) {
			return nil
		}
		return err

	case localstore.OpInsertMessage:
		var msg model.Message
		if err := json.Unmarshal(op.Payload, &msg); err != nil {
			return fmt.Errorf("bad payload: %w", err)
		}
		// The op row tracks chat id renames; the payload may predate one.
		msg.ChatID = op.ChatID
		return c.remote.InsertMessage(ctx, &msg)

	default:
		c.logger.WithContext("op_type", op.Type).Error("dropping outbox op of unknown type")
		return nil
	}
}
