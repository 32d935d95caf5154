package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LocalIDPrefix marks chat identifiers that were generated on this device and
// have not yet been confirmed by the remote store.
const LocalIDPrefix = "local-"

// AssistantAuthor is the sentinel author id for assistant-generated messages.
const AssistantAuthor = "assistant"

// PlaceholderTitle is the title of a chat before its first user message.
const PlaceholderTitle = "New chat"

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the closed set of roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Chat is a conversation owned by a user.
type Chat struct {
	ID           string    `json:"id"`
	OwnerID      int64     `json:"owner_id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Preview      string    `json:"preview"`
	MessageCount int       `json:"message_count"`
}

// IsLocalOnly reports whether the chat has not been mirrored to the remote
// store yet (its identifier still carries the local prefix).
func (c *Chat) IsLocalOnly() bool {
	return strings.HasPrefix(c.ID, LocalIDPrefix)
}

// NewLocalChatID generates a chat identifier marked as locally originated.
func NewLocalChatID() string {
	return LocalIDPrefix + uuid.NewString()
}

// Message is a single chat message. Content is append-only while IsStreaming
// is set and immutable after finalization.
type Message struct {
	ID          string       `json:"id"`
	ChatID      string       `json:"chat_id"`
	AuthorID    string       `json:"author_id"`
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	Reasoning   string       `json:"reasoning,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	IsStreaming bool         `json:"is_streaming,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// NewMessageID generates a time-ordered message identifier. The nanosecond
// prefix keeps lexical order consistent with creation order.
func NewMessageID(at time.Time) string {
	return fmt.Sprintf("%020d-%s", at.UnixNano(), uuid.NewString()[:8])
}

// AttachmentKind is the coarse type of an attachment.
type AttachmentKind string

const (
	KindImage    AttachmentKind = "image"
	KindDocument AttachmentKind = "document"
	KindFile     AttachmentKind = "file"
)

// KindFromUploadType maps the upload service's type strings onto the coarse
// attachment kinds. The service distinguishes pdf/audio/video; we do not.
func KindFromUploadType(t string) AttachmentKind {
	switch t {
	case "image":
		return KindImage
	case "pdf":
		return KindDocument
	default:
		return KindFile
	}
}

// Attachment references an uploaded file. URL is a transient local handle
// until the upload round-trip succeeds, after which it is remote-durable.
type Attachment struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Kind    AttachmentKind `json:"type"`
	Size    int64          `json:"size"`
	URL     string         `json:"url"`
	Preview string         `json:"preview,omitempty"`
}

// PreviewSnippet derives the denormalized chat preview from message content:
// the trailing snippet of the most recent message, capped at maxRunes.
func PreviewSnippet(content string, maxRunes int) string {
	content = strings.TrimSpace(content)
	runes := []rune(content)
	if len(runes) <= maxRunes {
		return content
	}
	return "…" + string(runes[len(runes)-maxRunes:])
}

// TitleFromMessage derives a chat title from the first user message.
func TitleFromMessage(content string, maxRunes int) string {
	content = strings.TrimSpace(content)
	if content == "" {
		return PlaceholderTitle
	}
	if i := strings.IndexByte(content, '\n'); i >= 0 {
		content = content[:i]
	}
	runes := []rune(content)
	if len(runes) > maxRunes {
		content = string(runes[:maxRunes]) + "…"
	}
	return content
}
