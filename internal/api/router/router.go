// Package router assembles the HTTP routing tree for the control surface.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/baitlab/scambaiter/internal/api"
	httpmiddleware "github.com/baitlab/scambaiter/internal/http/middleware"
	"github.com/baitlab/scambaiter/pkg/logging"
)

// Config holds everything the router needs to assemble routes.
type Config struct {
	Logger *logging.Logger

	// API is the wired handler set for every conversation route.
	API *api.Handler

	// AdminAuthSecret protects the control surface. When empty the routes
	// are left open, which is only sane for local development.
	AdminAuthSecret string

	// MetricsHandler serves GET /metrics when set (promhttp).
	MetricsHandler http.Handler

	// CORSAllowedOrigins lists origins allowed to call the API from a
	// browser. Empty disables CORS headers entirely.
	CORSAllowedOrigins []string

	// RateLimitPerSecond caps request throughput per client IP. Zero
	// disables rate limiting.
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// New builds the chi router with all routes mounted.
func New(cfg *Config) http.Handler {
	if cfg == nil || cfg.API == nil {
		panic("router: api handler cannot be nil")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(httpmiddleware.RequestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.RateLimitPerSecond > 0 {
		burst := cfg.RateLimitBurst
		if burst <= 0 {
			burst = int(cfg.RateLimitPerSecond)
		}
		r.Use(httpmiddleware.RateLimit(cfg.RateLimitPerSecond, burst))
	}

	// Public routes: liveness and scrape endpoints stay outside auth.
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		if cfg.AdminAuthSecret != "" {
			r.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
		}

		r.Get("/conversations", cfg.API.GetConversations)
		r.Route("/conversations/{conversationID}", func(r chi.Router) {
			r.Post("/events", cfg.API.PostEvent)
			r.Post("/forward-batches", cfg.API.PostForwardBatch)
			r.Get("/prompt-preview", cfg.API.GetPromptPreview)
			r.Get("/analysis", cfg.API.GetAnalysis)
			r.Patch("/analysis", cfg.API.PatchAnalysis)
			r.Get("/history", cfg.API.GetHistory)
			r.Post("/cycles", cfg.API.PostCycle)
			r.Post("/queue-actions", cfg.API.PostQueueActions)
			r.Post("/directives", cfg.API.PostDirective)
			r.Get("/directives", cfg.API.GetDirectives)
			r.Delete("/directives/{directiveID}", cfg.API.DeleteDirective)
		})

		r.Post("/feedback", cfg.API.PostFeedback)
		r.Get("/feedback/{traceID}", cfg.API.GetFeedback)
		r.Get("/jobs/{jobID}", cfg.API.GetJob)
	})

	return r
}
