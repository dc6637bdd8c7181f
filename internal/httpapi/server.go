// Package httpapi exposes the query endpoint, the Twilio webhooks and the
// operational endpoints over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lexiqai/voice-bridge/internal/observability"
	"github.com/lexiqai/voice-bridge/internal/session"
)

// Generator runs one query against a call.
type Generator interface {
	Generate(ctx context.Context, req session.GenerateRequest) (session.GenerateResult, error)
}

// Options wires the router's collaborators. Nil handlers are not mounted.
type Options struct {
	APIKey         string
	Sessions       Generator
	Media          http.Handler
	VoiceWebhook   http.Handler
	Readiness      map[string]observability.HealthCheckFunc
	MetricsEnabled bool
}

type Server struct {
	opts Options
}

func New(opts Options) *Server {
	return &Server{opts: opts}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", observability.HealthCheckHandler())
	r.Get("/ready", observability.ReadinessHandler(s.opts.Readiness))
	if s.opts.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	if s.opts.VoiceWebhook != nil {
		r.Post("/twilio-voice", s.opts.VoiceWebhook.ServeHTTP)
	}
	if s.opts.Media != nil {
		r.Get("/media", s.opts.Media.ServeHTTP)
	}

	r.Group(func(r chi.Router) {
		r.Use(requireAPIKey(s.opts.APIKey))
		r.Get("/generate", s.handleGenerate)
		r.Post("/generate", s.handleGenerate)
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
