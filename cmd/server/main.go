// Command server runs the chat relay HTTP API.
//
// @title                      Chat Relay API
// @version                    1.0
// @description                Authenticated chat relay: register, log in, send messages, read history.
// @BasePath                   /api
// @securityDefinitions.apikey BearerAuth
// @in                         header
// @name                       Authorization
// @description                Type "Bearer" followed by a space and JWT token.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	_ "github.com/tbourn/chat-relay/docs"
	"github.com/tbourn/chat-relay/internal/auth"
	"github.com/tbourn/chat-relay/internal/config"
	httpapi "github.com/tbourn/chat-relay/internal/http"
	"github.com/tbourn/chat-relay/internal/observability"
	"github.com/tbourn/chat-relay/internal/repo"
	"github.com/tbourn/chat-relay/internal/resolver"
	"github.com/tbourn/chat-relay/internal/sysutil"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	_ = godotenv.Load() // load .env if present

	cfg := config.MustLoad()
	sysutil.SetupLogger(cfg.LogLevel, cfg.LogPretty, cfg.OTEL.ServiceName, os.Stdout)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), version))
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}

	db, err := repo.OpenDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("token service")
	}

	res, err := buildResolver(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("reply resolver")
	}

	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{DB: db, Tokens: tokens, Resolver: res}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go purgeIdempotency(ctx, db, purgeInterval(cfg))

	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("base_path", cfg.APIBasePath).
			Bool("generator", res.HasGenerator()).
			Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("otel shutdown")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info().Msg("server exited properly")
}

// buildResolver assembles the reply resolver. Without an API key there is no
// remote generator and every reply comes from the fallback table.
func buildResolver(cfg config.Config) (*resolver.Resolver, error) {
	opts := []resolver.Option{
		resolver.WithTimeout(cfg.Generator.Timeout),
		resolver.WithStopMarker(cfg.Generator.StopMarker),
	}

	if cfg.FallbackTablePath != "" {
		table, err := resolver.LoadFallbackFile(cfg.FallbackTablePath)
		if err != nil {
			return nil, err
		}
		log.Info().Int("entries", table.Len()).Str("path", cfg.FallbackTablePath).Msg("fallback table loaded")
		opts = append(opts, resolver.WithFallbackTable(table))
	}

	if cfg.Generator.APIKey != "" {
		opts = append(opts, resolver.WithGenerator(
			resolver.NewHTTPGenerator(cfg.Generator.URL, cfg.Generator.APIKey, cfg.Generator.Timeout),
		))
	} else {
		log.Warn().Msg("GENERATOR_API_KEY not set; replies come from the fallback table only")
	}

	return resolver.New(opts...), nil
}

// purgeInterval is how often expired idempotency records are swept: once
// per IDEMPOTENCY_TTL, or hourly if the TTL is unset.
func purgeInterval(cfg config.Config) time.Duration {
	if cfg.IdempotencyTTL > 0 {
		return cfg.IdempotencyTTL
	}
	return time.Hour
}

// purgeIdempotency deletes expired idempotency records every interval until
// ctx is done.
func purgeIdempotency(ctx context.Context, db *gorm.DB, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := repo.PurgeExpiredIdempotency(ctx, db, now.UTC())
			if err != nil {
				log.Warn().Err(err).Msg("purge idempotency records")
				continue
			}
			if n > 0 {
				log.Debug().Int64("deleted", n).Msg("purged idempotency records")
			}
		}
	}
}
