// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, authentication, idempotency, and rate limiting.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/chat-relay/internal/auth"
	"github.com/tbourn/chat-relay/internal/config"
	"github.com/tbourn/chat-relay/internal/http/handlers"
	"github.com/tbourn/chat-relay/internal/http/middleware"
	"github.com/tbourn/chat-relay/internal/repo"
	"github.com/tbourn/chat-relay/internal/services"
)

// maxTextRunes caps a single prompt.
const maxTextRunes = 4000

// Deps are the collaborators built in main and injected into the router.
type Deps struct {
	DB       *gorm.DB
	Tokens   *auth.TokenService
	Resolver services.ReplyResolver
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine.
//
// Global middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger (Logger in debug mode): structured access logs
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. CORS and security headers
//
// Protected routes then run RequireAuth → IdempotencyValidator → rate limiter,
// so replays are detected per user and bypass the limiter.
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging: redacted headers in release, full detail in debug
	if cfg.GinMode == gin.DebugMode {
		r.Use(middleware.Logger())
	} else {
		r.Use(middleware.RedactingLogger(middleware.RedactOptions{LogHeaders: true}))
	}

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) CORS posture and security headers
	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins)...)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, handlers.MsgRouteNotFound)
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, handlers.MsgMethodNotAllowed)
	})

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db/auth/resolver
	users := services.NewUserService(deps.DB, cfg.Auth.BcryptCost)
	msgs := &services.MessageService{DB: deps.DB}
	sessions := &services.SessionService{
		Users:          users,
		Tokens:         deps.Tokens,
		Messages:       msgs,
		Resolver:       deps.Resolver,
		DB:             deps.DB,
		IdempotencyTTL: cfg.IdempotencyTTL,
		MaxTextRunes:   maxTextRunes,
	}
	h := handlers.New(sessions, msgs)

	// Liveness/health
	r.GET("/health", h.Health)

	// Public API
	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(gzip.Gzip(gzip.DefaultCompression))

	// Token buckets: per client IP before login, per user after.
	publicRL := middleware.NewRateLimiter("public", cfg.RateRPS, cfg.RateBurst, middleware.KeyByIP())
	userRL := middleware.NewRateLimiter("user", cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	if publicRL.Disabled() {
		log.Warn().Msg("RATE_RPS is 0; rate limiting disabled")
	}

	authGroup := api.Group("/auth", middleware.NoStore())
	{
		authGroup.POST("/register", publicRL.Handler(), h.Register)
		authGroup.POST("/login", publicRL.Handler(), h.Login)
	}

	protected := api.Group("",
		middleware.NoStore(),
		middleware.RequireAuth(deps.Tokens, users),
		middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, idempotencyLookup(deps.DB)),
		userRL.Handler(),
	)
	{
		protected.GET("/auth/profile", h.Profile)
		protected.POST("/message", h.PostMessage)
		protected.GET("/chat/history", h.History)
	}
}

// idempotencyLookup reports whether a live record exists for (user, key).
// Lookup errors are treated as a miss.
func idempotencyLookup(db *gorm.DB) middleware.IdempotencyLookup {
	return func(ctx context.Context, userID, key string, now time.Time) (bool, error) {
		_, err := repo.GetIdempotency(ctx, db, userID, key, now)
		if errors.Is(err, repo.ErrNotFound) {
			return false, nil
		}
		return err == nil, err
	}
}

// corsMiddleware returns the CORS chain: allow-all when no origins are
// configured, otherwise an allowlist echoing the request Origin.
func corsMiddleware(origins []string) []gin.HandlerFunc {
	base := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderIdempotencyKey, "If-None-Match"},
		ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "ETag", handlers.HeaderReplayed, handlers.HeaderReplySource},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}

	if len(origins) == 0 {
		base.AllowAllOrigins = true
		return []gin.HandlerFunc{
			// Force ACAO: * even for requests without an Origin header.
			func(c *gin.Context) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(base),
		}
	}

	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	base.AllowOrigins = origins
	return []gin.HandlerFunc{
		func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		},
		cors.New(base),
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
