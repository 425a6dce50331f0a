package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"duck-bi/internal/middleware"
)

// RouterConfig configures the middleware stack around the API routes.
type RouterConfig struct {
	AllowedOrigins []string
	RateLimiter    *middleware.RateLimiter // nil disables rate limiting
	Logger         *slog.Logger
}

// NewRouter builds the HTTP handler serving h behind the standard middleware.
// Requests are validated against the embedded OpenAPI document; a document
// that does not load is a build defect and panics.
func NewRouter(h *APIHandler, cfg RouterConfig) http.Handler {
	spec, err := loadRouter()
	if err != nil {
		panic(err)
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(cfg.Logger))
	r.Use(chimw.Recoverer)
	if cfg.RateLimiter != nil {
		r.Use(cfg.RateLimiter.Handler)
	}

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "Location"},
		MaxAge:         300,
	}))
	r.Use(h.validateRequests(spec))

	h.Routes(r)
	return r
}
