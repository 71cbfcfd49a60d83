package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix namespaces every environment variable, e.g. SARATHI_DB_PATH.
const EnvPrefix = "SARATHI"

const devJWTSecret = "dev-secret-change-me"

// Tracking modes.
const (
	TrackingModePush      = "push"
	TrackingModeSynthetic = "synthetic"
)

// Config holds all application configuration.
type Config struct {
	App      AppConfig
	Database DatabaseConfig
	HTTP     HTTPConfig
	GRPC     GRPCConfig
	Auth     AuthConfig
	Redis    RedisConfig
	Mapbox   MapboxConfig
	Twilio   TwilioConfig
	Tracking TrackingConfig
	Fallback FallbackConfig
}

// AppConfig contains process-wide settings.
type AppConfig struct {
	Env       string `envconfig:"SARATHI_APP_ENV" default:"dev"`
	LogLevel  string `envconfig:"SARATHI_LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"SARATHI_LOG_FORMAT" default:"json"`
}

// DatabaseConfig contains database-related settings.
type DatabaseConfig struct {
	Path string `envconfig:"SARATHI_DB_PATH" default:"sarathi.db"` // SQLite database file path
}

// HTTPConfig contains HTTP API settings.
type HTTPConfig struct {
	Address         string        `envconfig:"SARATHI_HTTP_ADDRESS" default:":8080"`
	ShutdownTimeout time.Duration `envconfig:"SARATHI_HTTP_SHUTDOWN_TIMEOUT" default:"5s"`
}

// GRPCConfig contains gRPC server settings.
type GRPCConfig struct {
	Address string `envconfig:"SARATHI_GRPC_ADDRESS" default:":50051"` // e.g. ":50051"
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	JWTSecret string `envconfig:"SARATHI_JWT_SECRET"`
}

// RedisConfig enables the Redis change feed when URL is set.
type RedisConfig struct {
	URL         string        `envconfig:"SARATHI_REDIS_URL"`
	DialTimeout time.Duration `envconfig:"SARATHI_REDIS_DIAL_TIMEOUT" default:"5s"`
}

// MapboxConfig enables Mapbox routing and geocoding when Token is set.
type MapboxConfig struct {
	Token   string `envconfig:"SARATHI_MAPBOX_TOKEN"`
	BaseURL string `envconfig:"SARATHI_MAPBOX_BASE_URL" default:"https://api.mapbox.com"`
}

// TwilioConfig enables SMS delivery when AccountSID and AuthToken are set.
type TwilioConfig struct {
	AccountSID string `envconfig:"SARATHI_TWILIO_ACCOUNT_SID"`
	AuthToken  string `envconfig:"SARATHI_TWILIO_AUTH_TOKEN"`
	From       string `envconfig:"SARATHI_TWILIO_FROM"`
	BaseURL    string `envconfig:"SARATHI_TWILIO_BASE_URL" default:"https://api.twilio.com"`
}

// TrackingConfig controls live tracking sessions.
type TrackingConfig struct {
	Mode              string        `envconfig:"SARATHI_TRACKING_MODE" default:"push"`
	SyntheticInterval time.Duration `envconfig:"SARATHI_TRACKING_SYNTHETIC_INTERVAL" default:"3s"`
	AverageSpeedKmh   float64       `envconfig:"SARATHI_TRACKING_AVERAGE_SPEED_KMH" default:"20"`
}

// FallbackConfig locates the local store used when the database is unreachable.
type FallbackConfig struct {
	Path string `envconfig:"SARATHI_FALLBACK_PATH" default:"sarathi-local.json"`
}

// Load loads configuration from the environment (and a .env file if present).
// The JWT secret is required.
func Load() (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("%s_JWT_SECRET environment variable is not set; required for production", EnvPrefix)
	}
	return cfg, nil
}

// LoadWithDefaults is like Load but uses a safe default for the JWT secret in development.
// WARNING: Only use in development! Use Load() in production.
func LoadWithDefaults() (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = devJWTSecret
	}
	return cfg, nil
}

func load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	c.Tracking.Mode = strings.ToLower(strings.TrimSpace(c.Tracking.Mode))
	switch c.Tracking.Mode {
	case TrackingModePush, TrackingModeSynthetic:
	default:
		return fmt.Errorf("invalid %s_TRACKING_MODE %q", EnvPrefix, c.Tracking.Mode)
	}
	if c.Tracking.AverageSpeedKmh <= 0 {
		return fmt.Errorf("%s_TRACKING_AVERAGE_SPEED_KMH must be positive", EnvPrefix)
	}
	return nil
}

// SMSEnabled reports whether Twilio credentials are configured.
func (t TwilioConfig) SMSEnabled() bool {
	return t.AccountSID != "" && t.AuthToken != ""
}

// String returns a string representation of the config (sensitive values are masked).
func (c *Config) String() string {
	return fmt.Sprintf("Config{Env: %s, DB: %s, HTTP: %s, gRPC: %s, Redis: %t, Mapbox: %t, SMS: %t, Tracking: %s, Auth: *** (masked) ***}",
		c.App.Env, c.Database.Path, c.HTTP.Address, c.GRPC.Address,
		c.Redis.URL != "", c.Mapbox.Token != "", c.Twilio.SMSEnabled(), c.Tracking.Mode)
}
