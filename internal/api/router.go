// Package api exposes the matchmaking service over HTTP using the chi router.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/whisper/arena/internal/metrics"
	"github.com/whisper/arena/internal/ratelimit"
)

// RouterConfig holds the transport settings of the API.
type RouterConfig struct {
	CORSOrigins  []string
	IPLimit      int
	IPWindow     time.Duration
	QueryTimeout time.Duration
	ToggleRule   ratelimit.Rule
}

// DefaultRouterConfig returns sensible defaults.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		CORSOrigins:  []string{"*"},
		IPLimit:      300,
		IPWindow:     time.Minute,
		QueryTimeout: 5 * time.Second,
		ToggleRule:   ratelimit.ToggleRule(10, time.Minute),
	}
}

// NewRouter builds the HTTP handler. limiter and db may be nil: a nil
// limiter allows every toggle and a nil db makes /readyz always ready.
func NewRouter(arena Arena, limiter Limiter, db Pinger, cfg RouterConfig) http.Handler {
	h := &Handler{
		arena:      arena,
		limiter:    limiter,
		toggleRule: cfg.ToggleRule,
		db:         db,
	}

	r := chi.NewRouter()

	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", HeaderRateLimitRemaining},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Instrument)
		r.Use(httprate.LimitByIP(cfg.IPLimit, cfg.IPWindow))
		r.Use(chimiddleware.Timeout(cfg.QueryTimeout))

		r.Get("/queue/count", h.QueueCount)
		r.Post("/queue/toggle", h.ToggleQueue)
		r.Get("/queue/{userID}", h.QueueStatus)

		r.Post("/matches/{matchID}/voting", h.StartVoting)
		r.Post("/matches/{matchID}/votes", h.SubmitVote)

		r.Get("/users/{userID}/match", h.CurrentMatch)
		r.Get("/users/{userID}/history", h.History)
	})

	return r
}
