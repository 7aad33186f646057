package server

import (
	"log/slog"
	"net/http"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
	}
}

// NewRouter creates a new HTTP router with all routes configured.
// It uses Go 1.22+ ServeMux with method-based routing.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)

	mux.HandleFunc("POST /sessions", h.CreateSession)
	mux.HandleFunc("GET /sessions", h.ListSessions)
	mux.HandleFunc("GET /sessions/{id}", h.GetSession)
	mux.HandleFunc("DELETE /sessions/{id}", h.AbandonSession)
	mux.HandleFunc("POST /sessions/{id}/generate", h.Generate)
	mux.HandleFunc("POST /sessions/{id}/regenerate", h.Regenerate)
	mux.HandleFunc("PATCH /sessions/{id}/draft", h.EditDraft)
	mux.HandleFunc("PATCH /sessions/{id}/scripts/{index}", h.EditScript)
	mux.HandleFunc("POST /sessions/{id}/confirm", h.Confirm)
	mux.HandleFunc("POST /sessions/{id}/render", h.StartRender)

	mux.HandleFunc("GET /tasks/{id}", h.GetTask)

	mux.HandleFunc("POST /payments/orders", h.CreateOrder)

	mux.HandleFunc("POST /users/{id}/bonus", h.SignupBonus)
	mux.HandleFunc("GET /users/{id}/balance", h.GetBalance)
	mux.HandleFunc("GET /users/{id}/transactions", h.GetTransactions)

	// Apply middleware chain
	chain := ChainMiddleware(
		RecoveryMiddleware(logger),
		RequestIDMiddleware(),
		LoggingMiddleware(logger),
		CORSMiddleware(cfg.AllowedOrigins),
	)

	return chain(mux)
}
