package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
)

// IPFloodGuard is a coarse per-IP brake in front of the chat endpoints. It is
// independent of the per-user and per-session admission limiter and reports
// no limit decisions. A non-positive limit or window disables it.
func IPFloodGuard(requestLimit int, windowLength time.Duration) func(http.Handler) http.Handler {
	if requestLimit <= 0 || windowLength <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	retryAfter := strconv.Itoa(int((windowLength + time.Second - 1) / time.Second))
	return httprate.Limit(
		requestLimit,
		windowLength,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", retryAfter)
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"ok":false,"error":"Rate limit exceeded. Please try again later."}`))
		}),
	)
}
