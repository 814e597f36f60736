package history

import (
	"context"
	"sync"

	"github.com/capitalize-ai/chat-gateway/internal/model"
)

// MemoryStore implements Store using an in-memory map. Each session keeps at
// most maxEntries turns.
type MemoryStore struct {
	mu         sync.RWMutex
	sessions   map[string][]model.ChatMessage
	maxEntries int
}

// NewMemoryStore creates a new in-memory history store.
func NewMemoryStore(maxEntries int) *MemoryStore {
	return &MemoryStore{
		sessions:   make(map[string][]model.ChatMessage),
		maxEntries: maxEntries,
	}
}

// Append implements Store.
func (s *MemoryStore) Append(ctx context.Context, entry Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := append(s.sessions[entry.SessionID], entry.Message())
	if s.maxEntries > 0 && len(msgs) > s.maxEntries {
		msgs = append([]model.ChatMessage(nil), msgs[len(msgs)-s.maxEntries:]...)
	}
	s.sessions[entry.SessionID] = msgs
	return nil
}

// Load implements Store. The returned slice is a copy.
func (s *MemoryStore) Load(ctx context.Context, sessionID string, limit int) ([]model.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := Tail(s.sessions[sessionID], limit)
	out := make([]model.ChatMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions = make(map[string][]model.ChatMessage)
	return nil
}
