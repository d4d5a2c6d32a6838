package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Relay modes for cross-instance event fan-out.
const (
	RelayNone  = "none"
	RelayRedis = "redis"
	RelayNATS  = "nats"
)

// Config holds all application configuration
type Config struct {
	// Server
	Port       string
	BackendURL string // public base URL the tracking service calls back on

	// Database
	DatabaseURL string

	// Redis / NATS
	RedisAddr  string
	RedisDB    int
	NATSURL    string
	EventRelay string

	// Historian
	HistorianEnabled   bool
	HistorianQueueName string
	HistorianBatchSize int
	HistorianFlush     time.Duration

	// Match tracking
	TrackingServiceURL string
	TrackingTimeout    time.Duration
	WebhookSecret      string

	// Realtime
	KeepaliveInterval time.Duration

	// Start policy
	StartRequireFullLobby bool
	StartRequireAllReady  bool
	StartRequiredPlayers  int

	// Stale STARTING reaper
	StaleStartingTimeout time.Duration
	ReaperInterval       time.Duration

	// Auth
	JWTPrivateKeyPath string
	JWTPublicKeyPath  string

	// Environment
	Environment string // "development", "production" or "test"
	LogLevel    string
}

var (
	instance *Config
	once     sync.Once
)

// Get returns the global configuration instance
func Get() *Config {
	once.Do(func() {
		var err error
		instance, err = Load()
		if err != nil {
			panic(fmt.Sprintf("failed to load config: %v", err))
		}
	})
	return instance
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		Port:       getEnv("PORT", "8080"),
		BackendURL: strings.TrimRight(os.Getenv("BACKEND_URL"), "/"),

		DatabaseURL: databaseURL(),

		RedisAddr:  os.Getenv("REDIS_ADDR"),
		RedisDB:    getEnvInt("REDIS_DB", 0),
		NATSURL:    os.Getenv("NATS_URL"),
		EventRelay: strings.ToLower(getEnv("EVENT_RELAY", RelayNone)),

		HistorianEnabled:   os.Getenv("HISTORIAN_ENABLED") == "true",
		HistorianQueueName: getEnv("HISTORIAN_QUEUE_NAME", "lobby_events"),
		HistorianBatchSize: getEnvInt("HISTORIAN_BATCH_SIZE", 20),
		HistorianFlush:     time.Duration(getEnvInt("HISTORIAN_FLUSH_MS", 500)) * time.Millisecond,

		TrackingServiceURL: strings.TrimRight(os.Getenv("TRACKING_SERVICE_URL"), "/"),
		TrackingTimeout:    getEnvDuration("TRACKING_TIMEOUT", 10*time.Second),
		WebhookSecret:      os.Getenv("WEBHOOK_SECRET"),

		KeepaliveInterval: getEnvDuration("KEEPALIVE_INTERVAL", 30*time.Second),

		StartRequireFullLobby: os.Getenv("START_REQUIRE_FULL_LOBBY") == "true",
		StartRequireAllReady:  os.Getenv("START_REQUIRE_ALL_READY") == "true",
		StartRequiredPlayers:  getEnvInt("START_REQUIRED_PLAYERS", 10),

		StaleStartingTimeout: getEnvDuration("STALE_STARTING_TIMEOUT", 15*time.Minute),
		ReaperInterval:       getEnvDuration("REAPER_INTERVAL", time.Minute),

		JWTPrivateKeyPath: os.Getenv("JWT_PRIVATE_KEY_PATH"),
		JWTPublicKeyPath:  os.Getenv("JWT_PUBLIC_KEY_PATH"),

		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    os.Getenv("LOG_LEVEL"),
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
		if cfg.Environment == "development" {
			cfg.LogLevel = "debug"
		}
	}
	if cfg.BackendURL == "" {
		cfg.BackendURL = "http://localhost:" + cfg.Port
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.EventRelay {
	case RelayNone:
	case RelayRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when EVENT_RELAY=redis")
		}
	case RelayNATS:
		if c.NATSURL == "" {
			return fmt.Errorf("NATS_URL is required when EVENT_RELAY=nats")
		}
	default:
		return fmt.Errorf("unknown EVENT_RELAY %q", c.EventRelay)
	}
	if c.HistorianEnabled && c.RedisAddr == "" {
		return fmt.Errorf("REDIS_ADDR is required when HISTORIAN_ENABLED=true")
	}
	if c.StartRequiredPlayers <= 0 {
		return fmt.Errorf("START_REQUIRED_PLAYERS must be positive")
	}

	if c.Environment == "test" {
		return nil
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL (or POSTGRES_USER/PG_HOST/PG_DATABASE) is required")
	}
	return nil
}

// ValidateServer checks the settings only the API server needs.
func (c *Config) ValidateServer() error {
	if c.Environment != "test" && c.TrackingServiceURL == "" {
		return fmt.Errorf("TRACKING_SERVICE_URL is required")
	}
	return nil
}

// UnauthenticatedWebhooks reports whether tracking callbacks will be accepted
// without a shared secret outside local development.
func (c *Config) UnauthenticatedWebhooks() bool {
	return c.WebhookSecret == "" && c.Environment != "development" && c.Environment != "test"
}

// databaseURL prefers DATABASE_URL and falls back to the discrete PG_* variables.
func databaseURL() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}
	host := os.Getenv("PG_HOST")
	if host == "" {
		return ""
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		os.Getenv("POSTGRES_USER"),
		os.Getenv("POSTGRES_PASSWORD"),
		host,
		getEnv("PG_PORT", "5432"),
		os.Getenv("PG_DATABASE"),
	)
}

// getEnv is a helper to read an environment variable or return a default value.
func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvInt is a helper to parse an environment variable as integer, else a default value.
func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

// getEnvDuration accepts Go duration strings ("30s") or plain seconds ("30").
func getEnvDuration(key string, def time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}
