// Package config loads the relay's settings from environment variables.
//
// Every setting has a default except DATABASE_URL and JWT_SECRET. Malformed
// values are not silently replaced by defaults: Load reports every unparsable
// or out-of-range variable at once, joined into a single error.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig lists the browser origins allowed to call the API. Empty means
// any origin.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig controls Strict-Transport-Security.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// AuthConfig holds the token-signing and password-hashing settings.
type AuthConfig struct {
	JWTSecret  string        // JWT_SECRET (required)
	TokenTTL   time.Duration // JWT_TTL, e.g. 168h
	BcryptCost int           // BCRYPT_COST in [4,31]
}

// GeneratorConfig describes the remote text-generation provider. An empty
// APIKey disables the remote call and every reply comes from the fallback table.
type GeneratorConfig struct {
	APIKey     string        // GENERATOR_API_KEY (alias DEEPAI_API_KEY)
	URL        string        // GENERATOR_URL
	Timeout    time.Duration // GENERATOR_TIMEOUT
	StopMarker string        // GENERATOR_STOP_MARKER, output is cut here when present
}

// OTELConfig holds the trace exporter settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (host:port)
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// Config is the complete runtime configuration.
type Config struct {
	Port              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	GinMode           string // debug|release|test

	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool
	SwaggerEnabled bool
	APIBasePath    string // "/api" by default; "/" mounts at the root

	// DATABASE_URL (alias DB_PATH): sqlite path/DSN or postgres:// URL
	DatabaseURL string

	Auth AuthConfig

	Generator         GeneratorConfig
	FallbackTablePath string // optional markdown table extending the built-in replies

	RateRPS   float64 // RATE_RPS; 0 disables rate limiting
	RateBurst int

	CORS     CORSConfig
	Security SecurityConfig

	// IdempotencyTTL is how long a send can be replayed by its key; expired
	// records are purged on the same period.
	IdempotencyTTL time.Duration

	OTEL OTELConfig
}

// DefaultGeneratorURL is the provider endpoint used when GENERATOR_URL is unset.
const DefaultGeneratorURL = "https://api.deepai.org/api/text-generator"

// MustLoad is Load for main: it panics on any configuration error.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads the environment, applies defaults and validates the result.
func Load() (Config, error) {
	var env envReader

	cfg := Config{
		Port:              strings.TrimSpace(env.getStr("PORT", "3000")),
		ReadTimeout:       env.getDur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: env.getDur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      env.getDur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       env.getDur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    env.getInt("MAX_HEADER_BYTES", 1<<20),
		GinMode:           ginMode(env.getStr("GIN_MODE", "release")),

		LogLevel:       logLevel(env.getStr("LOG_LEVEL", "info")),
		LogPretty:      env.getBool("LOG_PRETTY", false),
		SwaggerEnabled: env.getBool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(env.getStr("API_BASE_PATH", "/api")),

		DatabaseURL: strings.TrimSpace(env.getStr("DATABASE_URL", env.getStr("DB_PATH", ""))),

		Auth: AuthConfig{
			JWTSecret:  env.getStr("JWT_SECRET", ""),
			TokenTTL:   env.getDur("JWT_TTL", 7*24*time.Hour),
			BcryptCost: env.getInt("BCRYPT_COST", 12),
		},

		Generator: GeneratorConfig{
			APIKey:     strings.TrimSpace(env.getStr("GENERATOR_API_KEY", env.getStr("DEEPAI_API_KEY", ""))),
			URL:        strings.TrimSpace(env.getStr("GENERATOR_URL", DefaultGeneratorURL)),
			Timeout:    env.getDur("GENERATOR_TIMEOUT", 5*time.Second),
			StopMarker: env.getStr("GENERATOR_STOP_MARKER", ""),
		},
		FallbackTablePath: strings.TrimSpace(env.getStr("FALLBACK_TABLE_PATH", "")),

		RateRPS:   env.getFloat("RATE_RPS", 5.0),
		RateBurst: env.getInt("RATE_BURST", 10),

		CORS: CORSConfig{AllowedOrigins: splitCSV(env.getStr("CORS_ALLOWED_ORIGINS", ""))},
		Security: SecurityConfig{
			EnableHSTS: env.getBool("ENABLE_HSTS", false),
			HSTSMaxAge: env.getDur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		IdempotencyTTL: env.getDur("IDEMPOTENCY_TTL", 24*time.Hour),

		OTEL: OTELConfig{
			Enabled:     env.getBool("OTEL_ENABLED", false),
			Endpoint:    env.getStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    env.getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: env.getStr("OTEL_SERVICE_NAME", "chat-relay"),
			SampleRatio: env.getFloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	errs := append(env.errs, cfg.validate()...)
	return cfg, errors.Join(errs...)
}

// validate returns one error per violated constraint.
func (cfg Config) validate() []error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}

	check(cfg.LogLevel != "", "LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	check(cfg.Port != "", "PORT must not be empty")
	check(cfg.ReadTimeout > 0 && cfg.ReadHeaderTimeout > 0 && cfg.WriteTimeout > 0 && cfg.IdleTimeout > 0,
		"timeouts must be positive durations")
	check(cfg.MaxHeaderBytes > 0, "MAX_HEADER_BYTES must be > 0")
	check(cfg.DatabaseURL != "", "DATABASE_URL must not be empty")
	check(strings.TrimSpace(cfg.Auth.JWTSecret) != "", "JWT_SECRET must not be empty")
	check(cfg.Auth.TokenTTL > 0, "JWT_TTL must be > 0")
	check(cfg.Auth.BcryptCost >= 4 && cfg.Auth.BcryptCost <= 31, "BCRYPT_COST must be between 4 and 31")
	check(cfg.Generator.Timeout > 0, "GENERATOR_TIMEOUT must be > 0")
	check(cfg.Generator.URL != "", "GENERATOR_URL must not be empty")
	check(cfg.RateRPS >= 0, "RATE_RPS must be >= 0")
	check(cfg.RateBurst >= 1, "RATE_BURST must be >= 1")
	check(cfg.Security.HSTSMaxAge >= 0, "HSTS_MAX_AGE must be >= 0")
	check(cfg.IdempotencyTTL > 0, "IDEMPOTENCY_TTL must be > 0")
	check(cfg.OTEL.SampleRatio >= 0 && cfg.OTEL.SampleRatio <= 1, "OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	return errs
}

// envReader reads typed variables, keeping the default and recording an
// error when a set value does not parse.
type envReader struct {
	errs []error
}

func (e *envReader) lookup(k string) (string, bool) {
	v, ok := os.LookupEnv(k)
	return v, ok && v != ""
}

func (e *envReader) fail(k, v, want string) {
	e.errs = append(e.errs, fmt.Errorf("%s=%q is not a valid %s", k, v, want))
}

func (e *envReader) getStr(k, def string) string {
	if v, ok := e.lookup(k); ok {
		return v
	}
	return def
}

func (e *envReader) getInt(k string, def int) int {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		e.fail(k, v, "integer")
		return def
	}
	return i
}

func (e *envReader) getFloat(k string, def float64) float64 {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		e.fail(k, v, "number")
		return def
	}
	return f
}

func (e *envReader) getDur(k string, def time.Duration) time.Duration {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		e.fail(k, v, "duration")
		return def
	}
	return d
}

func (e *envReader) getBool(k string, def bool) bool {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	}
	e.fail(k, v, "boolean")
	return def
}

// ginMode maps unknown modes to release.
func ginMode(m string) string {
	switch m = strings.ToLower(strings.TrimSpace(m)); m {
	case "debug", "release", "test":
		return m
	}
	return "release"
}

// logLevel lowercases and accepts "warning"; it returns "" for anything
// zerolog would not understand.
func logLevel(l string) string {
	switch l = strings.ToLower(strings.TrimSpace(l)); l {
	case "warning":
		return "warn"
	case "debug", "info", "warn", "error", "fatal", "panic":
		return l
	}
	return ""
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// normalizeBasePath ensures a leading '/' and strips trailing ones; blank
// means the root.
func normalizeBasePath(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	return "/" + p
}
