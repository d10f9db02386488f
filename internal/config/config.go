// Package config loads server settings from the environment, an optional
// .env file and command-line flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

const (
	DefaultPort           = "8080"
	DefaultGeminiModel    = "gemini-2.0-flash-001"
	DefaultExtractTimeout = 30 * time.Second
	DefaultRateLimitRPS   = 2.0
	DefaultRateLimitBurst = 4
	DefaultTimezone       = "Asia/Kolkata"
)

// Config holds everything cmd/api needs at startup.
type Config struct {
	Port           string
	Bucket         string
	GeminiAPIKey   string
	GeminiModel    string
	AuthIssuerURL  string
	StoreURL       string
	ExtractTimeout time.Duration
	LogLevel       string
	LogJSON        bool
	// Location is the calendar zone for day-based filters, summaries and
	// report timestamps.
	Location *time.Location
	// CORSOrigins are the browser origins allowed to call the API. Empty
	// allows any origin.
	CORSOrigins []string
	RateLimiter struct {
		RPS     float64
		Burst   int
		Enabled bool
	}
}

// Load reads .env (when present), then the environment, then flags from args.
// Missing required settings are reported together in one error.
func Load(args []string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("Load: reading .env: %w", err)
	}
	return FromEnv(os.Getenv, args)
}

// FromEnv builds a Config from a lookup function and flag arguments.
func FromEnv(getenv func(string) string, args []string) (*Config, error) {
	cfg := &Config{}

	flags := flag.NewFlagSet("payscan", flag.ContinueOnError)
	flags.StringVar(&cfg.Port, "port", valueOr(getenv("PORT"), DefaultPort), "HTTP server port")
	flags.StringVar(&cfg.Bucket, "bucket", getenv("GCS_BUCKET"), "GCS bucket for archiving screenshots (or set GCS_BUCKET env)")
	flags.StringVar(&cfg.StoreURL, "store", getenv("STORE_URL"), "record store URL: bigquery://, postgres://, sqlite://, memory:// (or set STORE_URL env)")
	flags.StringVar(&cfg.LogLevel, "log-level", getenv("LOG_LEVEL"), "log level (debug, info, warn, error)")
	flags.BoolVar(&cfg.LogJSON, "log-json", getenv("LOG_FORMAT") == "json", "emit JSON log lines")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	cfg.GeminiAPIKey = getenv("GEMINI_API_KEY")
	cfg.GeminiModel = valueOr(getenv("GEMINI_MODEL"), DefaultGeminiModel)
	cfg.AuthIssuerURL = strings.TrimRight(getenv("AUTH_ISSUER_URL"), "/")

	var missing []string
	if cfg.GeminiAPIKey == "" {
		missing = append(missing, "GEMINI_API_KEY")
	}
	if cfg.AuthIssuerURL == "" {
		missing = append(missing, "AUTH_ISSUER_URL")
	}
	if cfg.StoreURL == "" {
		missing = append(missing, "STORE_URL")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	cfg.ExtractTimeout = DefaultExtractTimeout
	if raw := getenv("EXTRACT_TIMEOUT"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid EXTRACT_TIMEOUT %q", raw)
		}
		cfg.ExtractTimeout = d
	}

	tz := valueOr(getenv("TIMEZONE"), DefaultTimezone)
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", tz, err)
	}
	cfg.Location = loc

	for _, origin := range strings.Split(getenv("CORS_ORIGINS"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, origin)
		}
	}

	cfg.RateLimiter.Enabled = true
	cfg.RateLimiter.RPS = DefaultRateLimitRPS
	cfg.RateLimiter.Burst = DefaultRateLimitBurst
	if raw := getenv("RATE_LIMIT_RPS"); raw != "" {
		rps, err := strconv.ParseFloat(raw, 64)
		if err != nil || rps < 0 {
			return nil, fmt.Errorf("invalid RATE_LIMIT_RPS %q", raw)
		}
		// 0 turns the limiter off
		cfg.RateLimiter.RPS = rps
		cfg.RateLimiter.Enabled = rps > 0
	}
	if raw := getenv("RATE_LIMIT_BURST"); raw != "" {
		burst, err := strconv.Atoi(raw)
		if err != nil || burst < 1 {
			return nil, fmt.Errorf("invalid RATE_LIMIT_BURST %q", raw)
		}
		cfg.RateLimiter.Burst = burst
	}

	return cfg, nil
}

func valueOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
