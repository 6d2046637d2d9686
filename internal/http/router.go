// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, caller identity, logging, panic recovery,
// metrics, compression, CORS, and edge rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/shoutswap/go-shoutout-backend/internal/config"
	"github.com/shoutswap/go-shoutout-backend/internal/http/handlers"
	"github.com/shoutswap/go-shoutout-backend/internal/http/middleware"
	"github.com/shoutswap/go-shoutout-backend/internal/ratelimit"
	"github.com/shoutswap/go-shoutout-backend/internal/services"
)

// Services bundles the application services the router exposes. The same
// instances are shared with the background sweeper, so they are constructed
// by the caller and injected here.
type Services struct {
	Exchanges  *services.ExchangeService
	Compliance *services.ComplianceService
	Quota      *services.QuotaService
	Social     *ratelimit.Limiter
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine: observability (tracing, metrics), identity and correlation headers,
// rate limiting, CORS, compression, health and metrics endpoints, and the
// versioned public API under /api/v1.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. CallerIdentity: lift the gateway's X-User-ID into the context
//  4. Logger: structured access logs (sees the caller identity)
//  5. Recovery: capture panics after logger
//  6. Body size limiter
//  7. Metrics
//  8. Edge rate limiter (per user/IP)
//  9. CORS and gzip compression
func RegisterRoutes(r *gin.Engine, svcs Services, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Caller identity from the platform gateway
	r.Use(middleware.CallerIdentity())

	// 4) Structured access logging
	r.Use(middleware.Logger())

	// 5) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 6) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 7) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 8) Token-bucket rate limiter per user/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	// 9) CORS posture (safe defaults: allow all if none configured)
	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID"},
		ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.CORS.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	// Liveness/health
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	exh := handlers.NewExchangeHandlers(svcs.Exchanges)
	cph := handlers.NewComplianceHandlers(svcs.Compliance, svcs.Quota, svcs.Social, svcs.Social.Cfg.Capacity)

	// Public API
	api := r.Group("/api/v1")
	{
		// Exchanges
		api.POST("/exchanges", exh.CreateExchange)
		api.GET("/exchanges", exh.ListExchanges)
		api.GET("/exchanges/:id", exh.GetExchange)
		api.POST("/exchanges/:id/accept", exh.AcceptExchange)
		api.POST("/exchanges/:id/posts", exh.ConfirmPost)
		api.DELETE("/exchanges/:id", exh.CancelExchange)

		// Compliance and quotas
		api.GET("/users/:id/compliance", cph.GetCompliance)
		api.GET("/users/:id/quota", cph.GetQuota)
		api.GET("/identities/:id/banned", cph.GetIdentityBanned)
		api.GET("/identities/:id/rate-limit", cph.GetRateLimit)

		// Administrative overrides
		api.POST("/admin/users/:id/compliance/reset", cph.ResetCompliance)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints using http.MaxBytesReader. Requests exceeding the cap will cause
// downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
