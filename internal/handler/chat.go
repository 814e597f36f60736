package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-gateway/internal/gateway"
	"github.com/capitalize-ai/chat-gateway/internal/middleware"
	"github.com/capitalize-ai/chat-gateway/internal/model"
	"github.com/capitalize-ai/chat-gateway/pkg/logger"
	"github.com/capitalize-ai/chat-gateway/pkg/metrics"
)

// ChatHandler handles the /chat endpoints.
type ChatHandler struct {
	gateway *gateway.Gateway
	logger  *logger.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(gw *gateway.Gateway, log *logger.Logger) *ChatHandler {
	return &ChatHandler{
		gateway: gw,
		logger:  log,
	}
}

// Send handles POST /chat. With ?stream=1 the answer is delivered as an
// event stream; otherwise as a single JSON body.
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	userID, gerr := h.gateway.Authenticate(r)
	if gerr != nil {
		writeGatewayError(w, gerr)
		return
	}
	middleware.SetUserID(r.Context(), userID)

	var req model.ChatRequest
	r.Body = http.MaxBytesReader(w, r.Body, middleware.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, gateway.MessageInvalidBody)
		return
	}
	if err := middleware.ValidateChatRequest(&req); err != nil {
		writeError(w, http.StatusBadRequest, gateway.MessageInvalidBody)
		return
	}

	in := gateway.Input{
		Request:   req,
		UserID:    userID,
		IPAddress: clientIP(r),
		RequestID: middleware.GetCorrelationID(r.Context()),
	}

	if streamRequested(r) {
		h.stream(w, r, in)
		return
	}

	resp, gerr := h.gateway.Complete(r.Context(), in)
	if gerr != nil {
		writeGatewayError(w, gerr)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *ChatHandler) stream(w http.ResponseWriter, r *http.Request, in gateway.Input) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, gerr := h.gateway.Stream(ctx, in)
	if gerr != nil {
		writeGatewayError(w, gerr)
		return
	}

	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	for ev := range events {
		if err := sendSSEEvent(w, flusher, ev); err != nil {
			// The producer sees the cancellation and stops; it does not
			// need draining.
			h.logger.Warn("SSE write failed",
				zap.String("request_id", in.RequestID),
				zap.String("session_id", in.Request.SessionID),
				zap.Error(err),
			)
			return
		}
	}
}

// History handles GET /chat?sessionId=...
func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	userID, gerr := h.gateway.Authenticate(r)
	if gerr != nil {
		writeGatewayError(w, gerr)
		return
	}
	middleware.SetUserID(r.Context(), userID)

	messages, gerr := h.gateway.History(r.Context(), r.URL.Query().Get("sessionId"))
	if gerr != nil {
		writeGatewayError(w, gerr)
		return
	}
	writeJSON(w, http.StatusOK, model.HistoryResponse{OK: true, Messages: messages})
}

func streamRequested(r *http.Request) bool {
	v := r.URL.Query().Get("stream")
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}
