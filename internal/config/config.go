package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Poll intervals observed for the review views stay inside this window.
const (
	minSyncInterval = 10 * time.Second
	maxSyncInterval = 60 * time.Second
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// HTTP client
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxConcurrency int

	// Cache
	CacheTTL time.Duration

	// Observability
	OTLPEndpoint   string
	TracingEnabled bool

	// Store: "supabase" or "memory"
	StoreDriver        string
	SupabaseURL        string
	SupabaseAnonKey    string
	SupabaseServiceKey string

	// JWT / Auth
	JWTSecret              string
	JWTAccessTTL           time.Duration
	BootstrapAdminEmail    string
	BootstrapAdminPassword string

	// Workflow timers
	AutosaveDelay       time.Duration
	SyncIntervalSeller  time.Duration
	SyncIntervalManager time.Duration
	SyncIntervalAdmin   time.Duration
	ViewIdleTimeout     time.Duration

	// Address lookup
	ViaCEPURL string
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),
		MaxBackoff:     getEnvDuration("MAX_BACKOFF", 2*time.Second),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 50),

		CacheTTL: getEnvDuration("CACHE_TTL", 24*time.Hour),

		OTLPEndpoint:   getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		TracingEnabled: getEnvBool("TRACING_ENABLED", false),

		StoreDriver:        strings.ToLower(getEnv("STORE_DRIVER", "supabase")),
		SupabaseURL:        getEnv("SUPABASE_URL", ""),
		SupabaseAnonKey:    getEnv("SUPABASE_ANON_KEY", ""),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),

		JWTSecret:              getEnv("JWT_SECRET", "intake-default-dev-secret-change-me"),
		JWTAccessTTL:           getEnvDuration("JWT_ACCESS_TTL", 8*time.Hour),
		BootstrapAdminEmail:    getEnv("BOOTSTRAP_ADMIN_EMAIL", ""),
		BootstrapAdminPassword: getEnv("BOOTSTRAP_ADMIN_PASSWORD", ""),

		AutosaveDelay:       getEnvDuration("AUTOSAVE_DELAY", 5*time.Second),
		SyncIntervalSeller:  clampSync(getEnvDuration("SYNC_INTERVAL_SELLER", 30*time.Second)),
		SyncIntervalManager: clampSync(getEnvDuration("SYNC_INTERVAL_MANAGER", 15*time.Second)),
		SyncIntervalAdmin:   clampSync(getEnvDuration("SYNC_INTERVAL_ADMIN", 15*time.Second)),
		ViewIdleTimeout:     getEnvDuration("VIEW_IDLE_TIMEOUT", 10*time.Minute),

		ViaCEPURL: getEnv("VIACEP_URL", "https://viacep.com.br"),
	}
}

// UseSupabase reports whether the Supabase store is selected and configured.
func (c *Config) UseSupabase() bool {
	return c.StoreDriver == "supabase" && c.SupabaseURL != ""
}

func clampSync(d time.Duration) time.Duration {
	switch {
	case d < minSyncInterval:
		return minSyncInterval
	case d > maxSyncInterval:
		return maxSyncInterval
	default:
		return d
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
