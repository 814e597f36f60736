package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/capitalize-ai/chat-gateway/internal/model"
	"github.com/capitalize-ai/chat-gateway/pkg/logger"
)

func TestLogging_AssignsCorrelationIDAndLogsUser(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	log := &logger.Logger{Logger: zap.New(core)}

	var seen string
	h := Logging(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetCorrelationID(r.Context())
		SetUserID(r.Context(), "u1")
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chat", nil))

	require.NotEmpty(t, seen)
	require.Equal(t, seen, rec.Header().Get(HeaderCorrelationID))

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "u1", fields["user_id"])
	require.Equal(t, int64(http.StatusTeapot), fields["status"])
	require.Equal(t, seen, fields["correlation_id"])
}

func TestLogging_KeepsIncomingCorrelationID(t *testing.T) {
	h := Logging(logger.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "abc-123", GetCorrelationID(r.Context()))
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(HeaderCorrelationID, "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, "abc-123", rec.Header().Get(HeaderCorrelationID))
}

func TestSetUserID_OutsideLoggingIsNoop(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	require.NotPanics(t, func() { SetUserID(req.Context(), "u1") })
	require.Empty(t, GetCorrelationID(req.Context()))
}

func TestIPFloodGuard(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	t.Run("disabled", func(t *testing.T) {
		h := IPFloodGuard(0, time.Minute)(ok)
		for i := 0; i < 5; i++ {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/chat", nil))
			require.Equal(t, http.StatusOK, rec.Code)
		}
	})

	t.Run("blocks after limit", func(t *testing.T) {
		h := IPFloodGuard(2, time.Minute)(ok)
		codes := make([]int, 0, 3)
		for i := 0; i < 3; i++ {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/chat", nil))
			codes = append(codes, rec.Code)
			if rec.Code == http.StatusTooManyRequests {
				require.Equal(t, "60", rec.Header().Get("Retry-After"))
				require.Contains(t, rec.Body.String(), `"ok":false`)
			}
		}
		require.Equal(t, []int{200, 200, 429}, codes)
	})
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestValidateChatRequest(t *testing.T) {
	tests := []struct {
		name string
		req  model.ChatRequest
		err  error
	}{
		{"valid", model.ChatRequest{SessionID: "S", Message: "hi"}, nil},
		{"blank is left to the gateway", model.ChatRequest{}, nil},
		{"long message", model.ChatRequest{SessionID: "S", Message: strings.Repeat("a", MaxMessageBytes+1)}, ErrMessageTooLong},
		{"long session", model.ChatRequest{SessionID: strings.Repeat("s", MaxSessionIDBytes+1), Message: "hi"}, ErrSessionIDTooLong},
		{"long language", model.ChatRequest{SessionID: "S", Message: "hi", Language: strings.Repeat("e", 17)}, ErrLanguageTooLong},
		{"long history entry", model.ChatRequest{SessionID: "S", Message: "hi", History: []model.ChatMessage{{Role: model.RoleUser, Content: strings.Repeat("a", MaxMessageBytes+1)}}}, ErrMessageTooLong},
		{"bad utf8", model.ChatRequest{SessionID: "S", Message: "\xff\xfe"}, ErrInvalidUTF8},
		{"too much history", model.ChatRequest{SessionID: "S", Message: "hi", History: make([]model.ChatMessage, MaxHistoryItems+1)}, ErrHistoryTooLong},
		{"bad history entry", model.ChatRequest{SessionID: "S", Message: "hi", History: []model.ChatMessage{{Role: model.RoleUser, Content: "\xff"}}}, ErrInvalidUTF8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateChatRequest(&tt.req)
			if tt.err == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.err)
		})
	}
}
