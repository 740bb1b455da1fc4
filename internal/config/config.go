// Package config loads and validates relay config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds relay configuration loaded from the environment.
type Config struct {
	// WSURL is the base address of the backend notification socket (e.g. ws://localhost:8000).
	WSURL string `mapstructure:"RELAY_WS_URL"`
	// APIURL is the base address of the dashboard REST API (e.g. http://localhost:8000).
	APIURL string `mapstructure:"RELAY_API_URL"`
	// APIToken is the dashboard access token sent as a bearer token on the socket dial and code submission.
	APIToken string `mapstructure:"RELAY_API_TOKEN"`
	// CountdownSeconds is how long an operator has to enter a code (default 60).
	CountdownSeconds int `mapstructure:"COUNTDOWN_SECONDS"`
	// SubmitTimeout bounds a single code submission request (e.g. "15s").
	SubmitTimeout string `mapstructure:"SUBMIT_TIMEOUT"`
	// WSPingInterval is the keepalive ping interval on the notification socket (e.g. "25s").
	WSPingInterval string `mapstructure:"WS_PING_INTERVAL"`
	// ClaimTTL is how long a submitted code stays claimed for its task so no other relay submits it again (e.g. "2m").
	ClaimTTL string `mapstructure:"CLAIM_TTL"`

	// DatabaseURL is the Postgres DSN for verification history; empty disables history.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisAddr enables the shared submission claim store when set (e.g. localhost:6379).
	RedisAddr string `mapstructure:"REDIS_ADDR"`
	// RedisPassword is the optional Redis password.
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	// RedisDB is the Redis logical database index.
	RedisDB int `mapstructure:"REDIS_DB"`

	// TelemetryKafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	TelemetryKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// TelemetryKafkaTopic is the Kafka topic for relay lifecycle events (default relay-telemetry).
	TelemetryKafkaTopic string `mapstructure:"TELEMETRY_KAFKA_TOPIC"`
	// Worker-only: Loki URL for the telemetry worker to push logs (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
	// KafkaGroupID is the consumer group ID for the telemetry worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// OTLPEndpoint is the OTLP gRPC collector endpoint; empty uses no-op providers.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext to the collector even for https endpoints.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// HealthAddr is the gRPC health server listen address; empty disables it.
	HealthAddr string `mapstructure:"HEALTH_ADDR"`
	// NotifyPolicyFile is an optional Rego file replacing the default notification filter policy.
	NotifyPolicyFile string `mapstructure:"NOTIFY_POLICY_FILE"`
	// LogLevel is the zap level (debug, info, warn, error).
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored. Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("RELAY_WS_URL", "ws://localhost:8000")
	v.SetDefault("RELAY_API_URL", "http://localhost:8000")
	v.SetDefault("RELAY_API_TOKEN", "")
	v.SetDefault("COUNTDOWN_SECONDS", 60)
	v.SetDefault("SUBMIT_TIMEOUT", "15s")
	v.SetDefault("WS_PING_INTERVAL", "25s")
	v.SetDefault("CLAIM_TTL", "2m")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("TELEMETRY_KAFKA_TOPIC", "relay-telemetry")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("KAFKA_GROUP_ID", "relay-telemetry-worker")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("HEALTH_ADDR", "")
	v.SetDefault("NOTIFY_POLICY_FILE", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := validateURL(cfg.WSURL, "ws", "wss"); err != nil {
		return nil, errors.New("config: RELAY_WS_URL must be a ws:// or wss:// URL")
	}
	if err := validateURL(cfg.APIURL, "http", "https"); err != nil {
		return nil, errors.New("config: RELAY_API_URL must be an http:// or https:// URL")
	}

	if cfg.CountdownSeconds == 0 {
		cfg.CountdownSeconds = 60
	}
	if cfg.CountdownSeconds < 10 || cfg.CountdownSeconds > 600 {
		return nil, errors.New("config: COUNTDOWN_SECONDS must be between 10 and 600")
	}

	return &cfg, nil
}

func validateURL(raw string, schemes ...string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return errors.New("unsupported scheme")
}

// Countdown returns CountdownSeconds as a time.Duration.
func (c *Config) Countdown() time.Duration {
	return time.Duration(c.CountdownSeconds) * time.Second
}

// SubmitTimeoutDuration parses SubmitTimeout. Returns 15s if unset or invalid.
func (c *Config) SubmitTimeoutDuration() time.Duration {
	return parseDurationOr(c.SubmitTimeout, 15*time.Second)
}

// PingInterval parses WSPingInterval. Returns 25s if unset or invalid.
func (c *Config) PingInterval() time.Duration {
	return parseDurationOr(c.WSPingInterval, 25*time.Second)
}

// ClaimTTLDuration parses ClaimTTL. Returns 2m if unset or invalid.
func (c *Config) ClaimTTLDuration() time.Duration {
	return parseDurationOr(c.ClaimTTL, 2*time.Minute)
}

func parseDurationOr(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// TelemetryKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if Kafka telemetry is enabled (non-empty list) and to create the producer.
func (c *Config) TelemetryKafkaBrokersList() []string {
	if c == nil || c.TelemetryKafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.TelemetryKafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Development reports whether APP_ENV selects development logging.
func (c *Config) Development() bool {
	return c.Env == "development" || c.Env == "dev"
}
