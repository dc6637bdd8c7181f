package httpapi

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// APIKeyHeader carries the shared secret on query requests.
const APIKeyHeader = "x-api-key"

// requireAPIKey rejects requests whose key is missing or wrong with 403.
func requireAPIKey(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !ValidAPIKey(expected, r.Header.Get(APIKeyHeader)) {
				writeError(w, http.StatusForbidden, "Could not validate credentials")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ValidAPIKey compares in constant time. An empty expected key rejects everything.
func ValidAPIKey(expected, got string) bool {
	if expected == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		log.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}
