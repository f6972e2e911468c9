package httpserver

import (
	"net/http"

	"github.com/yndnr/tablesync-go/internal/core/service"
	"github.com/yndnr/tablesync-go/internal/server/httpserver/handler"
	"github.com/yndnr/tablesync-go/internal/telemetry/logger"
	"github.com/yndnr/tablesync-go/internal/telemetry/metric"
)

// RouterConfig holds configuration for the HTTP router.
type RouterConfig struct {
	// Sessions backs the room endpoints.
	Sessions *service.SessionManager

	// WebSocket serves /ws. Nil leaves the route unregistered.
	WebSocket http.Handler

	// Metrics records request metrics and serves /metrics.
	Metrics *metric.Registry

	// Ready reports whether the server takes traffic. Nil means always ready.
	Ready handler.ReadinessFunc

	// Logger for request logging.
	Logger logger.Logger

	// CORSAllowedOrigins is the list of allowed CORS origins (empty = allow all).
	CORSAllowedOrigins []string

	// GlobalRateLimit is the rate limit per IP (requests/second); 0 disables it.
	GlobalRateLimit int

	// EnableAudit enables access logging for all requests.
	EnableAudit bool
}

// NewRouter creates and configures the HTTP router with all routes and middleware.
func NewRouter(cfg *RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	h := handler.New(cfg.Sessions, cfg.Ready, log)

	// Order: Recover -> RequestID -> CORS -> Actor -> RateLimit -> Audit -> Handler
	middlewares := []Middleware{Recover(log), RequestID()}
	probes := append([]Middleware(nil), middlewares...)

	middlewares = append(middlewares, CORS(cfg.CORSAllowedOrigins), Actor())
	if cfg.GlobalRateLimit > 0 {
		middlewares = append(middlewares, RateLimit(service.NewRateLimiterRegistry(), cfg.GlobalRateLimit))
	}
	if cfg.EnableAudit {
		middlewares = append(middlewares, Audit(log, cfg.Metrics))
	}

	mux := http.NewServeMux()

	// Probes skip rate limiting and access logs.
	probeHandler := Chain(h, probes...)
	mux.Handle("GET /health", probeHandler)
	mux.Handle("GET /ready", probeHandler)

	metricsHandler := metric.Handler()
	if cfg.Metrics != nil {
		metricsHandler = cfg.Metrics.Handler()
	}
	mux.Handle("GET /metrics", Chain(metricsHandler, probes...))

	apiHandler := Chain(h, middlewares...)
	mux.Handle("GET /rooms", apiHandler)
	mux.Handle("POST /rooms", apiHandler)
	mux.Handle("GET /rooms/{id}", apiHandler)
	mux.Handle("POST /rooms/{id}/close", apiHandler)
	mux.Handle("OPTIONS /rooms", apiHandler)
	mux.Handle("OPTIONS /rooms/{id}", apiHandler)
	mux.Handle("OPTIONS /rooms/{id}/close", apiHandler)

	if cfg.WebSocket != nil {
		// The upgrader checks origins itself.
		wsMiddlewares := []Middleware{Recover(log), RequestID(), Actor()}
		if cfg.GlobalRateLimit > 0 {
			wsMiddlewares = append(wsMiddlewares, RateLimit(service.NewRateLimiterRegistry(), cfg.GlobalRateLimit))
		}
		if cfg.EnableAudit {
			wsMiddlewares = append(wsMiddlewares, Audit(log, cfg.Metrics))
		}
		mux.Handle("GET /ws", Chain(cfg.WebSocket, wsMiddlewares...))
	}

	return mux
}

// DefaultRouterConfig returns default router configuration.
func DefaultRouterConfig() *RouterConfig {
	return &RouterConfig{
		GlobalRateLimit: 100, // requests/second per IP
		EnableAudit:     true,
	}
}
