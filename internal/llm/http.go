package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// httpRequest is the body posted to a generic chat backend.
type httpRequest struct {
	SessionID string        `json:"sessionId"`
	Messages  []ChatMessage `json:"messages"`
	Language  string        `json:"language,omitempty"`
}

// httpResponse is the body a generic chat backend answers with.
type httpResponse struct {
	Answer   *string        `json:"answer"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// HTTPClient calls a JSON chat endpoint: POST {sessionId, messages, language}
// answered by {answer, metadata}.
type HTTPClient struct {
	url        string
	token      string
	httpClient *http.Client
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithToken sets the bearer token sent to the backend.
func WithToken(token string) HTTPOption {
	return func(c *HTTPClient) {
		c.token = strings.TrimSpace(token)
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) HTTPOption {
	return func(c *HTTPClient) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// NewHTTPClient creates a client for the given endpoint.
func NewHTTPClient(url string, opts ...HTTPOption) (*HTTPClient, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("llm: backend URL is required")
	}
	c := &HTTPClient{
		url:        url,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Name returns the provider name.
func (c *HTTPClient) Name() string {
	return string(ProviderHTTP)
}

// Complete sends a completion request.
func (c *HTTPClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	body, err := json.Marshal(httpRequest{
		SessionID: req.SessionID,
		Messages:  req.Messages,
		Language:  req.Language,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llm: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	raw, err := c.doJSONRequest(httpReq)
	if err != nil {
		return nil, err
	}

	var payload httpResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &BackendError{Provider: c.Name(), Err: fmt.Errorf("decode response: %w", err)}
	}
	if payload.Answer == nil || strings.TrimSpace(*payload.Answer) == "" {
		return nil, &BackendError{Provider: c.Name(), Err: ErrEmptyAnswer}
	}

	return &CompletionResponse{
		Answer:    *payload.Answer,
		Metadata:  payload.Metadata,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

func (c *HTTPClient) doJSONRequest(req *http.Request) ([]byte, error) {
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &BackendError{Provider: c.Name(), Err: err}
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &BackendError{
			Provider:   c.Name(),
			StatusCode: res.StatusCode,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, &BackendError{Provider: c.Name(), Err: fmt.Errorf("read response body: %w", err)}
	}
	return buf, nil
}
