package gateway

import (
	"fmt"
	"net/http"

	"github.com/capitalize-ai/chat-gateway/internal/model"
)

// Caller-facing messages.
const (
	MessageInvalidBody       = "Invalid request body"
	MessageRequired          = "sessionId and message are required"
	MessageSessionIDRequired = "sessionId is required"
	MessageRateLimited       = "Rate limit exceeded. Please try again later."
	MessagePersistFailed     = "Failed to save chat message."
	MessageBackendFailed     = "The assistant is unavailable right now. Please try again."
	MessageHistoryFailed     = "Failed to load chat history."
	HintRetry                = "Please try again in a moment."
)

// Kind classifies a request failure.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindAuth        Kind = "auth"
	KindRateLimited Kind = "rate_limited"
	KindPersistence Kind = "persistence"
	KindBackend     Kind = "backend"
	KindInternal    Kind = "internal"
)

// Error is a request outcome that ends the request. Message is safe to show
// the caller; Err is for logs only.
type Error struct {
	Kind       Kind
	Message    string
	Limits     []model.RateLimitDecision
	RetryAfter int
	Err        error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("gateway: %s (%s)", e.Kind, e.Message)
	}
	return fmt.Sprintf("gateway: %s (%s): %v", e.Kind, e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Status maps the error kind to an HTTP status code.
func (e *Error) Status() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindBackend:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Response renders the error as the JSON error body.
func (e *Error) Response() model.ErrorResponse {
	return model.ErrorResponse{OK: false, Error: e.Message, Limits: e.Limits}
}

func newError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}
