package handler

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"

	"github.com/capitalize-ai/chat-gateway/internal/gateway"
	"github.com/capitalize-ai/chat-gateway/internal/model"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, model.ErrorResponse{OK: false, Error: message})
}

// writeGatewayError renders a gateway outcome, adding Retry-After when the
// limiter gave a positive reset.
func writeGatewayError(w http.ResponseWriter, gerr *gateway.Error) {
	if gerr.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(gerr.RetryAfter))
	}
	writeJSON(w, gerr.Status(), gerr.Response())
}

// clientIP returns the host part of RemoteAddr, which RealIP has already
// rewritten when a proxy header was present.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
