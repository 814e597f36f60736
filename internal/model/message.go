// Package model defines data structures shared by the chat gateway.
package model

import "strings"

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// ChatMessage is a single conversation turn. Immutable once created.
type ChatMessage struct {
	Role     Role   `json:"role"`
	Content  string `json:"content" validate:"maxbytes=32000"`
	Language string `json:"language,omitempty" validate:"maxbytes=16"`
}

// TelegramContext carries the Telegram identity of a mini-app caller.
type TelegramContext struct {
	ID        int64  `json:"id"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Username  string `json:"username,omitempty"`
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	SessionID string           `json:"sessionId" validate:"maxbytes=128"`
	Message   string           `json:"message" validate:"maxbytes=32000"`
	History   []ChatMessage    `json:"history" validate:"max=200,dive"`
	Telegram  *TelegramContext `json:"telegram,omitempty"`
	Language  string           `json:"language,omitempty" validate:"maxbytes=16"`
}

// Normalize trims the identifying fields in place.
func (r *ChatRequest) Normalize() {
	r.SessionID = strings.TrimSpace(r.SessionID)
	r.Message = strings.TrimSpace(r.Message)
}

// ChatResponse is the non-streaming 200 body of POST /chat.
type ChatResponse struct {
	OK               bool           `json:"ok"`
	AssistantMessage ChatMessage    `json:"assistantMessage"`
	History          []ChatMessage  `json:"history"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// HistoryResponse is the 200 body of GET /chat.
type HistoryResponse struct {
	OK       bool          `json:"ok"`
	Messages []ChatMessage `json:"messages"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	OK     bool                `json:"ok"`
	Error  string              `json:"error"`
	Limits []RateLimitDecision `json:"limits,omitempty"`
}
