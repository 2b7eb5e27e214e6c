package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/surveysync/internal/middleware"
	"github.com/ashureev/surveysync/internal/telemetry"
)

// RouterConfig collects the handlers mounted by NewRouter.
type RouterConfig struct {
	AllowedOrigins []string
	Client         *ClientHandler
	Management     *ManagementHandler
	Health         *HealthHandler
	RateLimiter    *middleware.RateLimiter
	AccessLog      bool
}

// NewRouter builds the HTTP router.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	if cfg.AccessLog {
		r.Use(chiMiddleware.Logger)
	}
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.Metrics)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	if cfg.Health != nil {
		cfg.Health.RegisterHealth(r)
	}
	r.Handle("/metrics", telemetry.MetricsHandler())

	r.Group(func(r chi.Router) {
		if cfg.RateLimiter != nil {
			r.Use(cfg.RateLimiter.Handler)
		}
		if cfg.Client != nil {
			cfg.Client.RegisterRoutes(r)
		}
	})

	if cfg.Management != nil {
		cfg.Management.RegisterRoutes(r)
	}

	return r
}
