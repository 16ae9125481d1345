// Package config loads the runtime's typed configuration from environment
// variables (with an optional .env file for local development and an
// optional YAML overlay for static per-environment tuning).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig controls the ambient health/metrics HTTP surface.
type ServerConfig struct {
	Host string `yaml:"host" env:"SERVER_HOST"`
	Port int    `yaml:"port" env:"SERVER_PORT"`
}

// PostgresConfig controls the PostgreSQL-backed event store.
type PostgresConfig struct {
	DSN             string `yaml:"dsn" env:"POSTGRES_DSN"`
	MaxOpenConns    int    `yaml:"max_open_conns" env:"POSTGRES_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `yaml:"max_idle_conns" env:"POSTGRES_MAX_IDLE_CONNS"`
	ConnMaxLifeSecs int    `yaml:"conn_max_lifetime_seconds" env:"POSTGRES_CONN_MAX_LIFETIME_SECONDS"`
}

// NATSConfig controls the JetStream-backed bus, router, and consumer.
type NATSConfig struct {
	URL            string `yaml:"url" env:"NATS_URL"`
	CredsFile      string `yaml:"creds_file" env:"NATS_CREDS_FILE"`
	StreamPrefix   string `yaml:"stream_prefix" env:"NATS_STREAM_PREFIX"`
	ConnectTimeout int    `yaml:"connect_timeout_seconds" env:"NATS_CONNECT_TIMEOUT_SECONDS"`
}

// EngineConfig controls runtime-engine-wide tunables.
type EngineConfig struct {
	Deterministic   bool `yaml:"deterministic" env:"ENGINE_DETERMINISTIC"`
	IdempotencyLRU  int  `yaml:"idempotency_lru_size" env:"ENGINE_IDEMPOTENCY_LRU_SIZE"`
	TickIntervalSec int  `yaml:"tick_interval_seconds" env:"ENGINE_TICK_INTERVAL_SECONDS"`
}

// ConsumerConfig controls the durable consumer's redelivery policy.
type ConsumerConfig struct {
	MaxDeliver   int           `yaml:"max_deliver" env:"CONSUMER_MAX_DELIVER"`
	AckWait      time.Duration `yaml:"-" env:"CONSUMER_ACK_WAIT"`
	BackoffCSV   string        `yaml:"-" env:"CONSUMER_BACKOFF"`
	Backoff      []time.Duration `yaml:"backoff"`
	FetchLimitPS int           `yaml:"fetch_limit_per_second" env:"CONSUMER_FETCH_LIMIT_PER_SECOND"`
}

// LoggingConfig controls ambient logging.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

// TracingConfig configures OTLP trace export.
type TracingConfig struct {
	Endpoint           string            `yaml:"endpoint" env:"TRACING_OTLP_ENDPOINT"`
	Insecure           bool              `yaml:"insecure" env:"TRACING_OTLP_INSECURE"`
	ServiceName        string            `yaml:"service_name" env:"TRACING_SERVICE_NAME"`
	SampleRatio        float64           `yaml:"sample_ratio" env:"TRACING_SAMPLE_RATIO"`
	ResourceAttributes map[string]string `yaml:"resource_attributes"`
	AttributesEnv      string            `yaml:"-" env:"TRACING_OTLP_ATTRIBUTES"`
}

// SecurityConfig controls optional payload-encryption-at-rest.
type SecurityConfig struct {
	EncryptionKey string `yaml:"-" env:"SECURITY_ENCRYPTION_KEY"`
}

// Config is the top-level configuration structure for the agent runtime process.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Postgres PostgresConfig `yaml:"postgres"`
	NATS     NATSConfig     `yaml:"nats"`
	Engine   EngineConfig   `yaml:"engine"`
	Consumer ConsumerConfig `yaml:"consumer"`
	Logging  LoggingConfig  `yaml:"logging"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Security SecurityConfig `yaml:"security"`
}

// New returns a configuration populated with defaults.
func New() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Postgres: PostgresConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifeSecs: 300,
		},
		NATS: NATSConfig{
			StreamPrefix:   "agentrt",
			ConnectTimeout: 5,
		},
		Engine: EngineConfig{
			IdempotencyLRU:  4096,
			TickIntervalSec: 10,
		},
		Consumer: ConsumerConfig{
			MaxDeliver:   5,
			AckWait:      30 * time.Second,
			Backoff:      []time.Duration{time.Second, 5 * time.Second, 10 * time.Second, 30 * time.Second},
			FetchLimitPS: 50,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Tracing: TracingConfig{ServiceName: "agent-runtime", SampleRatio: 1.0},
	}
}

// Load loads configuration from an optional .env file, an optional YAML
// overlay named by CONFIG_FILE (or configs/config.yaml if present), then
// environment variables, which take final precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	path := strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	if path == "" {
		path = "configs/config.yaml"
	}
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}

	if err := envdecode.Decode(cfg); err != nil {
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	cfg.normalize()
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func (c *Config) normalize() {
	if c == nil {
		return
	}
	c.Tracing.normalize()
	if c.Consumer.BackoffCSV != "" {
		if parsed, err := parseDurationCSV(c.Consumer.BackoffCSV); err == nil && len(parsed) > 0 {
			c.Consumer.Backoff = parsed
		}
	}
}

func parseDurationCSV(raw string) ([]time.Duration, error) {
	parts := strings.Split(raw, ",")
	out := make([]time.Duration, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		d, err := time.ParseDuration(p)
		if err != nil {
			ms, convErr := strconv.Atoi(p)
			if convErr != nil {
				return nil, err
			}
			d = time.Duration(ms) * time.Millisecond
		}
		out = append(out, d)
	}
	return out, nil
}

func (t *TracingConfig) normalize() {
	if t == nil {
		return
	}
	t.MergeAttributes(t.AttributesEnv)
}

// MergeAttributes merges comma-separated key=value pairs into ResourceAttributes.
func (t *TracingConfig) MergeAttributes(raw string) {
	if t == nil {
		return
	}
	pairs := parseAttributePairs(raw)
	if len(pairs) == 0 {
		return
	}
	if t.ResourceAttributes == nil {
		t.ResourceAttributes = make(map[string]string, len(pairs))
	}
	for k, v := range pairs {
		if k == "" {
			continue
		}
		t.ResourceAttributes[k] = v
	}
}

func parseAttributePairs(raw string) map[string]string {
	result := make(map[string]string)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		key := strings.TrimSpace(kv[0])
		if key == "" {
			continue
		}
		val := ""
		if len(kv) > 1 {
			val = strings.TrimSpace(kv[1])
		}
		result[key] = val
	}
	return result
}
