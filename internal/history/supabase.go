package history

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"

	"github.com/capitalize-ai/chat-gateway/internal/model"
)

// DefaultSupabaseTable is the shared interactions table chat turns live in.
const DefaultSupabaseTable = "user_interactions"

// SupabaseConfig holds Supabase connection configuration.
type SupabaseConfig struct {
	URL    string
	APIKey string
	Table  string
}

// SupabaseStore implements Store on a PostgREST table keyed by
// (interaction_type, session_id).
type SupabaseStore struct {
	client *supabase.Client
	table  string
}

type interactionRow struct {
	ID              string  `json:"id"`
	InteractionType string  `json:"interaction_type"`
	SessionID       string  `json:"session_id"`
	UserID          *string `json:"user_id,omitempty"`
	Role            string  `json:"role"`
	Content         string  `json:"content"`
	Language        *string `json:"language,omitempty"`
	CreatedAt       string  `json:"created_at"`
}

// NewSupabaseStore creates a new Supabase-backed store.
func NewSupabaseStore(cfg SupabaseConfig) (*SupabaseStore, error) {
	if cfg.URL == "" || cfg.APIKey == "" {
		return nil, fmt.Errorf("supabase URL and API key are required: %w", ErrInvalidConfig)
	}

	client, err := supabase.NewClient(cfg.URL, cfg.APIKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}
	return NewSupabaseStoreWithClient(client, cfg.Table), nil
}

// NewSupabaseStoreWithClient wraps an existing client.
func NewSupabaseStoreWithClient(client *supabase.Client, table string) *SupabaseStore {
	if table == "" {
		table = DefaultSupabaseTable
	}
	return &SupabaseStore{client: client, table: table}
}

// Append implements Store.
func (s *SupabaseStore) Append(ctx context.Context, entry Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}

	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	row := interactionRow{
		ID:              uuid.NewString(),
		InteractionType: InteractionType,
		SessionID:       entry.SessionID,
		UserID:          optional(entry.UserID),
		Role:            string(entry.Role),
		Content:         entry.Content,
		Language:        optional(entry.Language),
		CreatedAt:       createdAt.UTC().Format(time.RFC3339Nano),
	}

	_, _, err := s.client.From(s.table).
		Insert(row, false, "", "minimal", "").
		Execute()
	if err != nil {
		return fmt.Errorf("failed to insert chat message: %w", err)
	}
	return nil
}

// Load implements Store. Rows are fetched newest first so the limit keeps the
// most recent turns, then reversed.
func (s *SupabaseStore) Load(ctx context.Context, sessionID string, limit int) ([]model.ChatMessage, error) {
	query := s.client.From(s.table).
		Select("role,content,language,created_at", "", false).
		Eq("interaction_type", InteractionType).
		Eq("session_id", sessionID).
		Order("created_at", &postgrest.OrderOpts{Ascending: false})
	if limit > 0 {
		query = query.Limit(limit, "")
	}

	var rows []map[string]any
	if _, err := query.ExecuteTo(&rows); err != nil {
		return nil, fmt.Errorf("failed to load chat history: %w", err)
	}

	msgs := make([]model.ChatMessage, 0, len(rows))
	for _, row := range rows {
		if m, ok := messageFromRow(row); ok {
			msgs = append(msgs, m)
		}
	}
	slices.Reverse(msgs)
	return msgs, nil
}

// Ping implements Store with a one-row read.
func (s *SupabaseStore) Ping(ctx context.Context) error {
	_, _, err := s.client.From(s.table).
		Select("id", "", false).
		Limit(1, "").
		Execute()
	if err != nil {
		return fmt.Errorf("supabase ping: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SupabaseStore) Close() error { return nil }

func messageFromRow(row map[string]any) (model.ChatMessage, bool) {
	role, _ := row["role"].(string)
	content, _ := row["content"].(string)
	m := model.ChatMessage{Role: model.Role(role), Content: content}
	if lang, ok := row["language"].(string); ok {
		m.Language = lang
	}
	return m, WellFormed(m)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
