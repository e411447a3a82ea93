// Package server exposes the operator HTTP API: position inspection, risk
// controls, intent resolution, and quarantine management.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/stuartoffabean/sentinel/internal/server/handler"
	"github.com/stuartoffabean/sentinel/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
}

// Handlers aggregates the handlers the server registers.
type Handlers struct {
	Health    *handler.HealthHandler
	Positions *handler.PositionHandler
	Risk      *handler.RiskHandler
	Ops       *handler.OpsHandler
}

// Server is the operator API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers all routes and wires the middleware chain.
func NewServer(cfg Config, handlers Handlers, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	mux.HandleFunc("GET /api/positions", handlers.Positions.List)
	mux.HandleFunc("POST /api/positions", handlers.Positions.Declare)
	mux.HandleFunc("DELETE /api/positions/{asset}", handlers.Positions.Remove)
	mux.HandleFunc("PUT /api/positions/{asset}/limits", handlers.Positions.SetLimits)
	mux.HandleFunc("POST /api/positions/{asset}/sell", handlers.Positions.Sell)

	mux.HandleFunc("GET /api/risk", handlers.Risk.Get)
	mux.HandleFunc("POST /api/risk/breaker/reset", handlers.Risk.ResetBreaker)
	mux.HandleFunc("POST /api/risk/autoexec", handlers.Risk.SetAutoExecute)
	mux.HandleFunc("GET /api/alerts", handlers.Risk.Alerts)

	mux.HandleFunc("GET /api/wal/unresolved", handlers.Ops.UnresolvedIntents)
	mux.HandleFunc("POST /api/wal/{id}/resolve", handlers.Ops.ResolveIntent)
	mux.HandleFunc("GET /api/quarantine", handlers.Ops.Quarantined)
	mux.HandleFunc("DELETE /api/quarantine/{asset}", handlers.Ops.ClearQuarantineAsset)
	mux.HandleFunc("DELETE /api/quarantine", handlers.Ops.ClearQuarantineAll)
	mux.HandleFunc("GET /api/exits", handlers.Ops.Exits)
	mux.HandleFunc("GET /api/exits/summary", handlers.Ops.ExitSummary)

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.Logging(logger)(h)
	h = corsMiddleware(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      h,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger.With(slog.String("component", "api_server")),
	}
}

// Start blocks serving HTTP until the server errors or is shut down.
func (s *Server) Start() error {
	s.logger.Info("api server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("api server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// corsMiddleware sets CORS headers for the allowed origins. No configured
// origins means all origins are allowed.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				allowed := len(allowedOrigins) == 0
				for _, o := range allowedOrigins {
					if strings.EqualFold(o, "*") || strings.EqualFold(o, origin) {
						allowed = true
						break
					}
				}
				if allowed {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
					w.Header().Set("Access-Control-Max-Age", "86400")
				}
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
