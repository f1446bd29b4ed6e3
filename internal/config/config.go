// Package config loads salon-mcp configuration from an optional YAML file and
// the environment.
//
// Precedence, lowest first: built-in defaults, the YAML file (with ${VAR}
// references expanded), environment variables. Command-line flags are applied
// by the caller after Load returns.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"

	"github.com/ggoodman/salon-mcp/booking"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"

	FormatText = "text"
	FormatJSON = "json"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Sessions SessionsConfig `yaml:"sessions"`
	Redis    RedisConfig    `yaml:"redis"`
	Stream   StreamConfig   `yaml:"stream"`
	Database DatabaseConfig `yaml:"database"`
	Salon    SalonConfig    `yaml:"salon"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Addr                  string        `yaml:"addr" env:"SALON_ADDR"`
	Path                  string        `yaml:"path" env:"SALON_MCP_PATH"`
	ShutdownTimeout       time.Duration `yaml:"shutdown_timeout" env:"SALON_SHUTDOWN_TIMEOUT,strict"`
	StrictProtocolVersion bool          `yaml:"strict_protocol_version" env:"SALON_STRICT_PROTOCOL_VERSION,strict"`
}

type SessionsConfig struct {
	// Backend is BackendMemory or BackendRedis.
	Backend string        `yaml:"backend" env:"SALON_SESSION_BACKEND"`
	TTL     time.Duration `yaml:"ttl" env:"SALON_SESSION_TTL,strict"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr" env:"REDIS_ADDR"`
	KeyPrefix string `yaml:"key_prefix" env:"REDIS_KEY_PREFIX"`
}

type StreamConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env:"SALON_HEARTBEAT_INTERVAL,strict"`
}

type DatabaseConfig struct {
	Path string `yaml:"path" env:"SALON_DB_PATH"`
}

type SalonConfig struct {
	Timezone   string        `yaml:"timezone" env:"SALON_TIMEZONE"`
	OpenHour   int           `yaml:"open_hour" env:"SALON_OPEN_HOUR,strict"`
	CloseHour  int           `yaml:"close_hour" env:"SALON_CLOSE_HOUR,strict"`
	SlotStep   time.Duration `yaml:"slot_step" env:"SALON_SLOT_STEP,strict"`
	SearchDays int           `yaml:"search_days" env:"SALON_SEARCH_DAYS,strict"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	h := booking.DefaultHours()
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			Path:            "/mcp",
			ShutdownTimeout: 10 * time.Second,
		},
		Sessions: SessionsConfig{Backend: BackendMemory, TTL: time.Hour},
		Redis:    RedisConfig{Addr: "localhost:6379", KeyPrefix: "salon-mcp:"},
		Stream:   StreamConfig{HeartbeatInterval: 30 * time.Second},
		Database: DatabaseConfig{Path: "salon.db"},
		Salon: SalonConfig{
			Timezone:   "UTC",
			OpenHour:   h.Open,
			CloseHour:  h.Close,
			SlotStep:   h.Step,
			SearchDays: h.SearchDays,
		},
		Logging: LoggingConfig{Level: "info", Format: FormatText},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := decodeYAML(expandEnvVars(data), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

var envRef = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${NAME} with the value of NAME, or the empty string
// when it is unset.
func expandEnvVars(data []byte) []byte {
	return envRef.ReplaceAllFunc(data, func(match []byte) []byte {
		return []byte(os.Getenv(string(envRef.FindSubmatch(match)[1])))
	})
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		return fmt.Errorf("server.path must start with '/', got %q", c.Server.Path)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("server.shutdown_timeout must be positive")
	}

	switch c.Sessions.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.Addr == "" {
			return errors.New("redis.addr is required when sessions.backend is redis")
		}
	default:
		return fmt.Errorf("sessions.backend must be %q or %q, got %q", BackendMemory, BackendRedis, c.Sessions.Backend)
	}
	if c.Sessions.TTL <= 0 {
		return errors.New("sessions.ttl must be positive")
	}

	if c.Stream.HeartbeatInterval <= 0 {
		return errors.New("stream.heartbeat_interval must be positive")
	}
	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}

	if _, err := c.Hours(); err != nil {
		return err
	}

	if _, err := c.Logging.SlogLevel(); err != nil {
		return err
	}
	switch c.Logging.Format {
	case FormatText, FormatJSON:
	default:
		return fmt.Errorf("logging.format must be %q or %q, got %q", FormatText, FormatJSON, c.Logging.Format)
	}
	return nil
}

// Hours converts the salon section to booking.Hours.
func (c *Config) Hours() (booking.Hours, error) {
	loc, err := time.LoadLocation(c.Salon.Timezone)
	if err != nil {
		return booking.Hours{}, fmt.Errorf("salon.timezone: %w", err)
	}
	h := booking.Hours{
		Open:       c.Salon.OpenHour,
		Close:      c.Salon.CloseHour,
		Step:       c.Salon.SlotStep,
		SearchDays: c.Salon.SearchDays,
		Location:   loc,
	}
	if err := h.Validate(); err != nil {
		return booking.Hours{}, err
	}
	return h, nil
}

// SlogLevel parses Level. An empty level is info.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if l.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("logging.level: %w", err)
	}
	return lvl, nil
}
