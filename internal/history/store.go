// Package history persists and retrieves the ordered conversation turns of a
// chat session.
package history

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/capitalize-ai/chat-gateway/internal/model"
)

// InteractionType tags every row this package writes to a shared table.
const InteractionType = "ai_chat"

// Common errors for history store operations.
var (
	ErrInvalidEntry     = errors.New("history: invalid entry")
	ErrInvalidConfig    = errors.New("history: invalid configuration")
	ErrInvalidStoreType = errors.New("history: invalid store type")
)

// Entry is a single turn to append to a session.
type Entry struct {
	SessionID string
	UserID    string
	Role      model.Role
	Content   string
	Language  string
	CreatedAt time.Time
}

// Validate reports ErrInvalidEntry for an entry that could never be loaded
// back as a well-formed message.
func (e Entry) Validate() error {
	if strings.TrimSpace(e.SessionID) == "" {
		return ErrInvalidEntry
	}
	if !WellFormed(model.ChatMessage{Role: e.Role, Content: e.Content}) {
		return ErrInvalidEntry
	}
	return nil
}

// Message returns the entry as the chat message it represents.
func (e Entry) Message() model.ChatMessage {
	return model.ChatMessage{Role: e.Role, Content: e.Content, Language: e.Language}
}

// Store persists conversation turns. Load returns at most limit messages,
// oldest first, and silently drops rows that are not well-formed.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	Load(ctx context.Context, sessionID string, limit int) ([]model.ChatMessage, error)
	Ping(ctx context.Context) error
	Close() error
}

// WellFormed reports whether m is a conversational turn worth keeping: a
// user or assistant role with non-blank content.
func WellFormed(m model.ChatMessage) bool {
	if m.Role != model.RoleUser && m.Role != model.RoleAssistant {
		return false
	}
	return strings.TrimSpace(m.Content) != ""
}

// Sanitize returns the well-formed subset of msgs in their original order.
func Sanitize(msgs []model.ChatMessage) []model.ChatMessage {
	out := make([]model.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		if WellFormed(m) {
			out = append(out, m)
		}
	}
	return out
}

// Tail returns the last n messages of msgs. A non-positive n returns msgs
// unchanged.
func Tail(msgs []model.ChatMessage, n int) []model.ChatMessage {
	if n <= 0 || len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}
