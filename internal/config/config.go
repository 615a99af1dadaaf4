package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Store drivers.
const (
	DriverSQLite  = "sqlite"
	DriverSurreal = "surreal"
)

// Auth modes.
const (
	AuthModeSession = "session"
	AuthModeHeader  = "header"
)

// Room policies.
const (
	RoomPolicyVerify = "verify"
	RoomPolicyTrust  = "trust"
)

// Config holds all configuration for the application.
type Config struct {
	HTTPAddr string `env:"PAIRCHAT_HTTP_ADDR" envDefault:":8080" validate:"required"`

	LogFormat string `env:"LOG_FORMAT" envDefault:"text" validate:"oneof=text json"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`

	StoreDriver    string        `env:"STORE_DRIVER" envDefault:"sqlite" validate:"oneof=sqlite surreal"`
	SQLitePath     string        `env:"SQLITE_PATH" envDefault:"pairchat.db"`
	SurrealURL     string        `env:"SURREAL_URL"`
	SurrealNS      string        `env:"SURREAL_NS"`
	SurrealDB      string        `env:"SURREAL_DB"`
	SurrealUser    string        `env:"SURREAL_USER"`
	SurrealPass    string        `env:"SURREAL_PASS"`
	DBQueryTimeout time.Duration `env:"DB_QUERY_TIMEOUT" envDefault:"5s" validate:"gt=0"`

	AuthMode      string `env:"AUTH_MODE" envDefault:"session" validate:"oneof=session header"`
	AuthHeader    string `env:"AUTH_HEADER" envDefault:"X-User-ID"`
	SessionSecret string `env:"SESSION_SECRET"`
	SessionName   string `env:"SESSION_NAME" envDefault:"session"`

	RoomPolicy       string        `env:"ROOM_POLICY" envDefault:"verify" validate:"oneof=verify trust"`
	SendBuffer       int           `env:"WS_SEND_BUFFER" envDefault:"256" validate:"gt=0"`
	WriteTimeout     time.Duration `env:"WS_WRITE_TIMEOUT" envDefault:"10s" validate:"gt=0"`
	ReadLimit        int64         `env:"WS_READ_LIMIT" envDefault:"65536" validate:"gt=0"`
	AllowedOrigins   []string      `env:"WS_ALLOWED_ORIGINS" envSeparator:","`
	MaxMessageLength int           `env:"CHAT_MAX_MESSAGE_LENGTH" envDefault:"4096" validate:"gt=0"`
	MaxReadIDs       int           `env:"CHAT_MAX_READ_IDS" envDefault:"1000" validate:"gt=0"`
	ConnectRate      float64       `env:"WS_CONNECT_RATE" envDefault:"1" validate:"gt=0"`
	ConnectBurst     int           `env:"WS_CONNECT_BURST" envDefault:"10" validate:"gt=0"`

	BrokerMirror     bool          `env:"BROKER_MIRROR" envDefault:"false"`
	PresenceDebounce time.Duration `env:"PRESENCE_OFFLINE_DEBOUNCE" envDefault:"5s" validate:"gte=0"`

	TracingEnabled     bool   `env:"PUBSUB_TRACING_ENABLED" envDefault:"false"`
	TracingServiceName string `env:"PUBSUB_TRACING_SERVICE_NAME" envDefault:"pairchat"`
	TracingZipkinURL   string `env:"PUBSUB_TRACING_ZIPKIN_URL" envDefault:"http://localhost:9411/api/v2/spans"`
}

var validate = validator.New()

// New loads configuration from a .env file (if present) and the process environment.
func New() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to load .env file, relying on environment variables", "error", err)
	}
	return Parse(nil)
}

// Parse builds a Config from the given environment map, or from the process
// environment when environ is nil.
func Parse(environ map[string]string) (*Config, error) {
	cfg := &Config{}
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and the cross-field requirements of the
// selected store driver and auth mode.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	switch c.StoreDriver {
	case DriverSQLite:
		if c.SQLitePath == "" {
			return errors.New("invalid configuration: SQLITE_PATH is required for the sqlite driver")
		}
	case DriverSurreal:
		if c.SurrealURL == "" || c.SurrealNS == "" || c.SurrealDB == "" {
			return errors.New("invalid configuration: SURREAL_URL, SURREAL_NS and SURREAL_DB are required for the surreal driver")
		}
	}

	switch c.AuthMode {
	case AuthModeSession:
		if c.SessionSecret == "" {
			return errors.New("invalid configuration: SESSION_SECRET is required when AUTH_MODE=session")
		}
	case AuthModeHeader:
		if c.AuthHeader == "" {
			return errors.New("invalid configuration: AUTH_HEADER is required when AUTH_MODE=header")
		}
	}

	return nil
}
