// Package llm provides the AI backend interface and its implementations.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ChatMessage represents a chat message sent to a backend.
type ChatMessage struct {
	Role     string `json:"role"`
	Content  string `json:"content"`
	Language string `json:"language,omitempty"`
}

// CompletionRequest represents a completion request.
type CompletionRequest struct {
	SessionID   string
	Messages    []ChatMessage
	Language    string
	Model       string
	MaxTokens   int
	Temperature float64
}

// CompletionResponse represents a completion response.
type CompletionResponse struct {
	Answer     string
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	LatencyMs  int64

	// Metadata is backend-provided data passed through to the caller.
	Metadata map[string]any
}

// ResponseMetadata merges backend metadata with the usage fields that are set.
func (r *CompletionResponse) ResponseMetadata() map[string]any {
	out := make(map[string]any, len(r.Metadata)+4)
	for k, v := range r.Metadata {
		out[k] = v
	}
	if r.Model != "" {
		out["model"] = r.Model
	}
	if r.TokensIn > 0 || r.TokensOut > 0 {
		out["tokensIn"] = r.TokensIn
		out["tokensOut"] = r.TokensOut
	}
	if r.StopReason != "" {
		out["stopReason"] = r.StopReason
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Backend is the interface for AI chat-completion services.
type Backend interface {
	// Complete sends a completion request and returns the full answer.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string
}

// Provider is the type of AI backend.
type Provider string

const (
	ProviderHTTP      Provider = "http"
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// ErrEmptyAnswer is returned when a backend answers with no text.
var ErrEmptyAnswer = errors.New("llm: empty answer")

// BackendError captures a failed backend call: transport errors, non-2xx
// responses and malformed bodies.
type BackendError struct {
	Provider   string
	StatusCode int
	Body       string
	Err        error
}

func (e *BackendError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("llm: %s returned status %d: %s", e.Provider, e.StatusCode, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("llm: %s: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("llm: %s failed", e.Provider)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the upstream status, or 0 when none was received.
func (e *BackendError) HTTPStatusCode() int {
	return e.StatusCode
}

// Config selects and configures a backend.
type Config struct {
	Provider Provider
	Timeout  time.Duration

	// http
	URL   string
	Token string

	// openai
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	// anthropic
	AnthropicAPIKey string
	AnthropicModel  string
}

// NewBackend creates the configured backend, wrapped with cfg.Timeout.
func NewBackend(cfg Config) (Backend, error) {
	var (
		b   Backend
		err error
	)
	switch cfg.Provider {
	case ProviderOpenAI:
		b, err = NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL)
	case ProviderAnthropic:
		b, err = NewAnthropicClient(cfg.AnthropicAPIKey, cfg.AnthropicModel)
	case ProviderHTTP, "":
		b, err = NewHTTPClient(cfg.URL, WithToken(cfg.Token))
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return WithTimeout(b, cfg.Timeout), nil
}

type timeoutBackend struct {
	Backend
	timeout time.Duration
}

// WithTimeout bounds every Complete call on b. A non-positive timeout returns
// b unchanged.
func WithTimeout(b Backend, timeout time.Duration) Backend {
	if timeout <= 0 {
		return b
	}
	return &timeoutBackend{Backend: b, timeout: timeout}
}

func (t *timeoutBackend) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	resp, err := t.Backend.Complete(ctx, req)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		var be *BackendError
		if !errors.As(err, &be) {
			err = &BackendError{Provider: t.Name(), Err: err}
		}
	}
	return resp, err
}

// splitSystem separates system messages, joined in order, from the
// conversational turns.
func splitSystem(messages []ChatMessage) (string, []ChatMessage) {
	var (
		system string
		turns  = make([]ChatMessage, 0, len(messages))
	)
	for _, m := range messages {
		if m.Role == "system" {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		turns = append(turns, m)
	}
	return system, turns
}
