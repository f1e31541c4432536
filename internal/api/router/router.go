package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/adrd-care-assistant/internal/conversation"
	httpmiddleware "github.com/wolfman30/adrd-care-assistant/internal/http/middleware"
	"github.com/wolfman30/adrd-care-assistant/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger              *logging.Logger
	ConversationHandler *conversation.Handler
	MetricsHandler      http.Handler
	CORSAllowedOrigins  []string

	// ChatRateLimitPerMinute caps POST /chat per client IP; 0 disables it.
	ChatRateLimitPerMinute int

	// HealthChecks are probed by GET /health, keyed by component name.
	HealthChecks map[string]HealthCheck
	Version      string
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	if cfg == nil || cfg.ConversationHandler == nil {
		panic("router: conversation handler cannot be nil")
	}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	r.Get("/health", NewHealthHandler(cfg.Version, cfg.HealthChecks, cfg.Logger).ServeHTTP)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.With(httpmiddleware.RateLimit(cfg.ChatRateLimitPerMinute)).Post("/chat", cfg.ConversationHandler.Chat)
	r.Get("/conversations/{id}", cfg.ConversationHandler.GetConversation)

	return r
}
