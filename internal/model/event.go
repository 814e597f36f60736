package model

import "time"

// RateLimitScope names an independent admission counter family.
type RateLimitScope string

const (
	ScopeUser    RateLimitScope = "user"
	ScopeSession RateLimitScope = "session"
)

// RateLimitDecision is the outcome of one scope for one request.
type RateLimitDecision struct {
	Scope         RateLimitScope `json:"scope"`
	Limit         int            `json:"limit"`
	WindowSeconds int            `json:"windowSeconds"`
	Remaining     int            `json:"remaining"`
	Blocked       bool           `json:"blocked"`
	ResetSeconds  int            `json:"resetSeconds"`
}

// TelemetryEventType is the kind of telemetry record.
type TelemetryEventType string

const (
	TelemetryRateLimit  TelemetryEventType = "rate_limit"
	TelemetryCompletion TelemetryEventType = "completion"
)

// Rate limit telemetry statuses.
const (
	StatusAllowed = "allowed"
	StatusBlocked = "blocked"
)

// TelemetryEvent is an append-only record describing an admission decision
// or a completion outcome.
type TelemetryEvent struct {
	ID             string              `json:"id"`
	Event          TelemetryEventType  `json:"event"`
	SessionID      string              `json:"sessionId"`
	UserID         string              `json:"userId,omitempty"`
	TelegramUserID int64               `json:"telegramUserId,omitempty"`
	IPAddress      string              `json:"ipAddress,omitempty"`
	RequestID      string              `json:"requestId,omitempty"`
	RateLimits     []RateLimitDecision `json:"rateLimits"`

	// Status is set on rate_limit events.
	Status string `json:"status,omitempty"`

	// Completion fields.
	Success            *bool  `json:"success,omitempty"`
	Streamed           *bool  `json:"streamed,omitempty"`
	LatencyMs          int64  `json:"latencyMs,omitempty"`
	ErrorMessage       string `json:"errorMessage,omitempty"`
	AssistantPersisted *bool  `json:"assistantPersisted,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}
