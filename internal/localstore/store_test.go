package localstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"wayfarer/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testChat(id string, owner int64) *model.Chat {
	now := time.Now()
	return &model.Chat{
		ID:        id,
		OwnerID:   owner,
		Title:     model.PlaceholderTitle,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestNewStoreRunsMigrations(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "migrate.db")

	store, err := New(path)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	store.Close()

	// Reopening must not re-run applied migrations
	store, err = New(path)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	store.Close()
}

func TestPutGetChat(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	chat := testChat("local-abc", 1)
	chat.Title = "Trip to Lisbon"
	if err := store.PutChat(ctx, chat); err != nil {
		t.Fatalf("Failed to put chat: %v", err)
	}

	got, err := store.GetChat(ctx, "local-abc")
	if err != nil {
		t.Fatalf("Failed to get chat: %v", err)
	}
	if got.Title != "Trip to Lisbon" {
		t.Errorf("Title = %q, want %q", got.Title, "Trip to Lisbon")
	}
	if got.OwnerID != 1 {
		t.Errorf("OwnerID = %d, want 1", got.OwnerID)
	}

	// Writing the same chat again must not error or duplicate
	if err := store.PutChat(ctx, chat); err != nil {
		t.Fatalf("Second put failed: %v", err)
	}
	chats, err := store.ListByOwner(ctx, 1)
	if err != nil {
		t.Fatalf("Failed to list chats: %v", err)
	}
	if len(chats) != 1 {
		t.Errorf("Chat count after double put = %d, want 1", len(chats))
	}
}

func TestGetChatNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetChat(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestListByOwnerOrderAndIsolation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	older := testChat("chat-old", 1)
	older.UpdatedAt = time.Now().Add(-time.Hour)
	newer := testChat("chat-new", 1)
	other := testChat("chat-other", 2)

	for _, c := range []*model.Chat{older, newer, other} {
		if err := store.PutChat(ctx, c); err != nil {
			t.Fatalf("Failed to put chat %s: %v", c.ID, err)
		}
	}

	chats, err := store.ListByOwner(ctx, 1)
	if err != nil {
		t.Fatalf("Failed to list chats: %v", err)
	}
	if len(chats) != 2 {
		t.Fatalf("Chat count = %d, want 2", len(chats))
	}
	if chats[0].ID != "chat-new" || chats[1].ID != "chat-old" {
		t.Errorf("Order = [%s %s], want [chat-new chat-old]", chats[0].ID, chats[1].ID)
	}

	empty, err := store.ListByOwner(ctx, 99)
	if err != nil {
		t.Fatalf("Failed to list chats for empty owner: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("Expected no chats for unknown owner, got %d", len(empty))
	}
}

func TestPutMessageRefreshesChatPreview(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	chat := testChat("chat-1", 1)
	if err := store.PutChat(ctx, chat); err != nil {
		t.Fatalf("Failed to put chat: %v", err)
	}

	first := time.Now().Add(-time.Minute)
	msgs := []*model.Message{
		{ID: model.NewMessageID(first), ChatID: "chat-1", AuthorID: "1", Role: model.RoleUser, Content: "Where should I go in May?", CreatedAt: first},
		{ID: model.NewMessageID(time.Now()), ChatID: "chat-1", AuthorID: model.AssistantAuthor, Role: model.RoleAssistant, Content: "Lisbon is lovely in May.", CreatedAt: time.Now()},
	}
	for _, m := range msgs {
		if err := store.PutMessage(ctx, m); err != nil {
			t.Fatalf("Failed to put message: %v", err)
		}
	}

	got, err := store.GetChat(ctx, "chat-1")
	if err != nil {
		t.Fatalf("Failed to get chat: %v", err)
	}
	if got.MessageCount != 2 {
		t.Errorf("MessageCount = %d, want 2", got.MessageCount)
	}
	if got.Preview != "Lisbon is lovely in May." {
		t.Errorf("Preview = %q, want last message content", got.Preview)
	}

	listed, err := store.ListMessages(ctx, "chat-1")
	if err != nil {
		t.Fatalf("Failed to list messages: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("Message count = %d, want 2", len(listed))
	}
	if listed[0].Role != model.RoleUser || listed[1].Role != model.RoleAssistant {
		t.Errorf("Messages out of order: [%s %s]", listed[0].Role, listed[1].Role)
	}
}

func TestListMessagesOrdersByTimestamp(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.PutChat(ctx, testChat("chat-1", 1)); err != nil {
		t.Fatalf("Failed to put chat: %v", err)
	}

	base := time.Now().Add(-time.Hour)
	// Inserted newest first to exercise the ordering, not insertion order.
	for _, m := range []struct {
		id      string
		offset  time.Duration
		content string
	}{
		{"m3", 2 * time.Minute, "third"},
		{"m1", 0, "first"},
		{"m2", time.Minute, "second"},
	} {
		msg := &model.Message{
			ID:        m.id,
			ChatID:    "chat-1",
			AuthorID:  "1",
			Role:      model.RoleUser,
			Content:   m.content,
			CreatedAt: base.Add(m.offset),
		}
		if err := store.PutMessage(ctx, msg); err != nil {
			t.Fatalf("Failed to put message %s: %v", m.id, err)
		}
	}

	listed, err := store.ListMessages(ctx, "chat-1")
	if err != nil {
		t.Fatalf("Failed to list messages: %v", err)
	}
	if len(listed) != 3 {
		t.Fatalf("Message count = %d, want 3", len(listed))
	}
	for i, want := range []string{"first", "second", "third"} {
		if listed[i].Content != want {
			t.Errorf("Message %d = %q, want %q", i, listed[i].Content, want)
		}
	}
	for i := 1; i < len(listed); i++ {
		if listed[i].CreatedAt.Before(listed[i-1].CreatedAt) {
			t.Errorf("Timestamps not ascending at index %d", i)
		}
	}
}

func TestPutMessageIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.PutChat(ctx, testChat("chat-1", 1)); err != nil {
		t.Fatalf("Failed to put chat: %v", err)
	}

	msg := &model.Message{
		ID:        "msg-1",
		ChatID:    "chat-1",
		AuthorID:  "1",
		Role:      model.RoleUser,
		Content:   "hello",
		CreatedAt: time.Now(),
	}
	if err := store.PutMessage(ctx, msg); err != nil {
		t.Fatalf("First put failed: %v", err)
	}
	msg.Content = "hello again"
	if err := store.PutMessage(ctx, msg); err != nil {
		t.Fatalf("Second put failed: %v", err)
	}

	listed, err := store.ListMessages(ctx, "chat-1")
	if err != nil {
		t.Fatalf("Failed to list messages: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("Message count = %d, want 1", len(listed))
	}
	if listed[0].Content != "hello again" {
		t.Errorf("Content = %q, want updated content", listed[0].Content)
	}
}

func TestMessageAttachmentsRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.PutChat(ctx, testChat("chat-1", 1)); err != nil {
		t.Fatalf("Failed to put chat: %v", err)
	}

	msg := &model.Message{
		ID:       "msg-att",
		ChatID:   "chat-1",
		AuthorID: "1",
		Role:     model.RoleUser,
		Content:  "see attached",
		Attachments: []model.Attachment{
			{ID: "att-1", Name: "itinerary.pdf", Kind: model.KindDocument, Size: 2048, URL: "/files/itinerary.pdf"},
		},
		CreatedAt: time.Now(),
	}
	if err := store.PutMessage(ctx, msg); err != nil {
		t.Fatalf("Failed to put message: %v", err)
	}

	listed, err := store.ListMessages(ctx, "chat-1")
	if err != nil {
		t.Fatalf("Failed to list messages: %v", err)
	}
	if len(listed) != 1 || len(listed[0].Attachments) != 1 {
		t.Fatalf("Expected one message with one attachment, got %+v", listed)
	}
	att := listed[0].Attachments[0]
	if att.Name != "itinerary.pdf" || att.Kind != model.KindDocument || att.Size != 2048 {
		t.Errorf("Attachment round trip mismatch: %+v", att)
	}
}

func TestDeleteChatCascades(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.PutChat(ctx, testChat("chat-1", 1)); err != nil {
		t.Fatalf("Failed to put chat: %v", err)
	}
	msg := &model.Message{
		ID: "msg-1", ChatID: "chat-1", AuthorID: "1",
		Role: model.RoleUser, Content: "hi", CreatedAt: time.Now(),
	}
	if err := store.PutMessage(ctx, msg); err != nil {
		t.Fatalf("Failed to put message: %v", err)
	}

	if err := store.DeleteChat(ctx, "chat-1"); err != nil {
		t.Fatalf("Failed to delete chat: %v", err)
	}

	if _, err := store.GetChat(ctx, "chat-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
	msgs, err := store.ListMessages(ctx, "chat-1")
	if err != nil {
		t.Fatalf("Failed to list messages: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("Expected no messages after cascade, got %d", len(msgs))
	}
}

func TestReplaceChatID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.PutChat(ctx, testChat("local-xyz", 1)); err != nil {
		t.Fatalf("Failed to put chat: %v", err)
	}
	msg := &model.Message{
		ID: "msg-1", ChatID: "local-xyz", AuthorID: "1",
		Role: model.RoleUser, Content: "hi", CreatedAt: time.Now(),
	}
	if err := store.PutMessage(ctx, msg); err != nil {
		t.Fatalf("Failed to put message: %v", err)
	}

	if err := store.ReplaceChatID(ctx, "local-xyz", "remote-42"); err != nil {
		t.Fatalf("Failed to replace chat id: %v", err)
	}

	if _, err := store.GetChat(ctx, "local-xyz"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Old id still resolves: %v", err)
	}
	got, err := store.GetChat(ctx, "remote-42")
	if err != nil {
		t.Fatalf("New id not found: %v", err)
	}
	if got.MessageCount != 1 {
		t.Errorf("MessageCount = %d, want 1", got.MessageCount)
	}
	msgs, err := store.ListMessages(ctx, "remote-42")
	if err != nil {
		t.Fatalf("Failed to list messages: %v", err)
	}
	if len(msgs) != 1 {
		t.Errorf("Messages did not move with the chat: got %d", len(msgs))
	}
}

func TestReplaceChatIDFoldsIntoExisting(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// The remote id was hydrated before the local chat got promoted
	if err := store.PutChat(ctx, testChat("remote-42", 1)); err != nil {
		t.Fatalf("Failed to put hydrated chat: %v", err)
	}
	if err := store.PutChat(ctx, testChat("local-xyz", 1)); err != nil {
		t.Fatalf("Failed to put local chat: %v", err)
	}
	msg := &model.Message{
		ID: "msg-1", ChatID: "local-xyz", AuthorID: "1",
		Role: model.RoleUser, Content: "hi", CreatedAt: time.Now(),
	}
	if err := store.PutMessage(ctx, msg); err != nil {
		t.Fatalf("Failed to put message: %v", err)
	}

	if err := store.ReplaceChatID(ctx, "local-xyz", "remote-42"); err != nil {
		t.Fatalf("Failed to fold chat: %v", err)
	}

	chats, err := store.ListByOwner(ctx, 1)
	if err != nil {
		t.Fatalf("Failed to list chats: %v", err)
	}
	if len(chats) != 1 {
		t.Fatalf("Chat count after fold = %d, want 1", len(chats))
	}
	msgs, err := store.ListMessages(ctx, "remote-42")
	if err != nil {
		t.Fatalf("Failed to list messages: %v", err)
	}
	if len(msgs) != 1 {
		t.Errorf("Messages did not fold into surviving chat: got %d", len(msgs))
	}
}

func TestReplaceChatIDMissing(t *testing.T) {
	store := newTestStore(t)

	err := store.ReplaceChatID(context.Background(), "local-gone", "remote-1")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for missing chat, got %v", err)
	}
}

func TestOutboxLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.EnqueueOp(ctx, OpCreateChat, "local-1", []byte(`{"owner_id":1,"title":"New chat"}`)); err != nil {
		t.Fatalf("Failed to enqueue op: %v", err)
	}
	if err := store.EnqueueOp(ctx, OpInsertMessage, "local-1", []byte(`{"id":"msg-1"}`)); err != nil {
		t.Fatalf("Failed to enqueue op: %v", err)
	}

	ops, err := store.PendingOps(ctx, 10)
	if err != nil {
		t.Fatalf("Failed to read outbox: %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("Pending ops = %d, want 2", len(ops))
	}
	if ops[0].Type != OpCreateChat {
		t.Errorf("Ops not oldest first: got %s", ops[0].Type)
	}

	if err := store.BumpOpAttempt(ctx, ops[0].ID); err != nil {
		t.Fatalf("Failed to bump attempt: %v", err)
	}
	ops, _ = store.PendingOps(ctx, 10)
	if ops[0].Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", ops[0].Attempts)
	}

	if err := store.ReassignOps(ctx, "local-1", "remote-9"); err != nil {
		t.Fatalf("Failed to reassign ops: %v", err)
	}
	ops, _ = store.PendingOps(ctx, 10)
	for _, op := range ops {
		if op.ChatID != "remote-9" {
			t.Errorf("Op %d not reassigned: chat_id = %s", op.ID, op.ChatID)
		}
	}

	if err := store.DeleteOp(ctx, ops[0].ID); err != nil {
		t.Fatalf("Failed to delete op: %v", err)
	}
	if err := store.DeleteOpsForChat(ctx, "remote-9"); err != nil {
		t.Fatalf("Failed to delete chat ops: %v", err)
	}
	ops, _ = store.PendingOps(ctx, 10)
	if len(ops) != 0 {
		t.Errorf("Outbox not empty: %d ops remain", len(ops))
	}
}

func TestUserAndSessionLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	userID, err := store.CreateUser(ctx, "alice", "travel-far-2024", "alice@example.com")
	if err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}

	user, err := store.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("Failed to get user: %v", err)
	}
	if user.ID != userID {
		t.Errorf("User ID = %d, want %d", user.ID, userID)
	}
	if user.PasswordHash == "travel-far-2024" {
		t.Error("Password stored in plain text")
	}

	expires := time.Now().Add(time.Hour)
	if err := store.CreateSessionToken(ctx, "tok-1", userID, expires); err != nil {
		t.Fatalf("Failed to create session token: %v", err)
	}
	tok, err := store.GetSessionToken(ctx, "tok-1")
	if err != nil {
		t.Fatalf("Failed to get session token: %v", err)
	}
	if tok.UserID != userID {
		t.Errorf("Token user = %d, want %d", tok.UserID, userID)
	}

	if err := store.DeleteSessionToken(ctx, "tok-1"); err != nil {
		t.Fatalf("Failed to delete session token: %v", err)
	}
	if _, err := store.GetSessionToken(ctx, "tok-1"); err == nil {
		t.Error("Deleted token still resolves")
	}
}

func TestGetUserByID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	userID, err := store.CreateUser(ctx, "carol", "password123", "carol@example.com")
	if err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}

	user, err := store.GetUserByID(ctx, userID)
	if err != nil {
		t.Fatalf("Failed to get user by id: %v", err)
	}
	if user.Username != "carol" {
		t.Errorf("Username = %q, want carol", user.Username)
	}

	if _, err := store.GetUserByID(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("Missing user error = %v, want ErrNotFound", err)
	}
}

func TestCleanupExpiredTokens(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	userID, err := store.CreateUser(ctx, "dave", "password123", "")
	if err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}

	if err := store.CreateSessionToken(ctx, "tok-live", userID, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Failed to create live token: %v", err)
	}
	if err := store.CreateSessionToken(ctx, "tok-stale", userID, time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("Failed to create stale token: %v", err)
	}

	if err := store.CleanupExpiredTokens(ctx); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}

	if _, err := store.GetSessionToken(ctx, "tok-live"); err != nil {
		t.Errorf("Live token removed: %v", err)
	}
	if _, err := store.GetSessionToken(ctx, "tok-stale"); err == nil {
		t.Error("Stale token survived cleanup")
	}
}

func TestAccountLockout(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.CreateUser(ctx, "bob", "password123", ""); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := store.RecordFailedLogin(ctx, "bob", 3, 15*time.Minute); err != nil {
			t.Fatalf("Failed to record attempt %d: %v", i+1, err)
		}
	}

	locked, until := store.IsAccountLocked(ctx, "bob")
	if !locked {
		t.Fatal("Account not locked after threshold")
	}
	if !until.After(time.Now()) {
		t.Errorf("Lockout expiry %v is not in the future", until)
	}

	if err := store.ClearFailedLogins(ctx, "bob"); err != nil {
		t.Fatalf("Failed to clear attempts: %v", err)
	}
	if locked, _ := store.IsAccountLocked(ctx, "bob"); locked {
		t.Error("Account still locked after clear")
	}
}
