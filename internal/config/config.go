// Package config loads the engine configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Persistence backends.
const (
	BackendNone     = "none"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

type Config struct {
	Version     int               `yaml:"version"`
	Engine      EngineConfig      `yaml:"engine"`
	Log         LogConfig         `yaml:"log"`
	API         APIConfig         `yaml:"api"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Redis       RedisConfig       `yaml:"redis"`
	Persistence PersistenceConfig `yaml:"persistence"`
}

type EngineConfig struct {
	// Asset is the tree document path; Tree selects the tree to run.
	Asset      string        `yaml:"asset"`
	Tree       string        `yaml:"tree"`
	InstanceID string        `yaml:"instance_id"`
	TickRate   time.Duration `yaml:"tick_rate"`
	// Seed fixes the random source when non-zero.
	Seed                 uint64 `yaml:"seed"`
	ThreadSafeBlackboard bool   `yaml:"thread_safe_blackboard"`
	EventBuffer          int    `yaml:"event_buffer"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	TLSCert string `yaml:"tls_cert"`
	TLSKey  string `yaml:"tls_key"`

	// Credentials come from SENTIENT_ADMIN_USER, SENTIENT_ADMIN_PASS,
	// SENTIENT_OPERATOR_USER and SENTIENT_OPERATOR_PASS.
	AdminUser    string `yaml:"-"`
	AdminPass    string `yaml:"-"`
	OperatorUser string `yaml:"-"`
	OperatorPass string `yaml:"-"`
}

type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	URL         string `yaml:"url"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	Username    string `yaml:"username"`
	// From SENTIENT_MQTT_PASSWORD.
	Password string `yaml:"-"`
}

// PostgresConfig enables Postgres. Connection settings come from the PG*
// environment variables.
type PostgresConfig struct {
	Enabled bool `yaml:"enabled"`
	// Events mirrors the engine event log into the events table.
	Events bool `yaml:"events"`
	// From PGPASSWORD.
	Password string `yaml:"-"`
}

type RedisConfig struct {
	Addr   string        `yaml:"addr"`
	DB     int           `yaml:"db"`
	Prefix string        `yaml:"prefix"`
	TTL    time.Duration `yaml:"ttl"`
	// From SENTIENT_REDIS_PASSWORD.
	Password string `yaml:"-"`
}

type PersistenceConfig struct {
	Backend      string        `yaml:"backend"`
	SaveInterval time.Duration `yaml:"save_interval"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{Version: 1}
	cfg.applyDefaults()
	return cfg
}

// Load reads, defaults and validates a config file, then resolves secrets
// from the environment.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if cfg.Version != 1 {
		return nil, fmt.Errorf("unsupported config.yaml version: %d", cfg.Version)
	}

	cfg.applyDefaults()
	if err := cfg.ResolveSecrets(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Engine.TickRate == 0 {
		c.Engine.TickRate = 100 * time.Millisecond
	}
	if c.Engine.EventBuffer == 0 {
		c.Engine.EventBuffer = 1000
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.MQTT.URL == "" {
		c.MQTT.URL = "tcp://localhost:1883"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "sentient/trees/"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "sentient:blackboard:"
	}
	if c.Persistence.Backend == "" {
		c.Persistence.Backend = BackendNone
	}
	if c.Persistence.SaveInterval == 0 {
		c.Persistence.SaveInterval = 30 * time.Second
	}
}

// InstanceID returns the configured instance id, defaulting to the tree id.
func (c *Config) InstanceID() string {
	if c.Engine.InstanceID != "" {
		return c.Engine.InstanceID
	}
	return c.Engine.Tree
}

// MQTTClientID returns the configured client id or one derived from the
// instance id.
func (c *Config) MQTTClientID() string {
	if c.MQTT.ClientID != "" {
		return c.MQTT.ClientID
	}
	return "sentient-tree-" + c.InstanceID()
}

// Validate checks settings that have no usable default. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error
	if c.Engine.Asset == "" {
		errs = append(errs, errors.New("engine.asset is required"))
	}
	if c.Engine.Tree == "" {
		errs = append(errs, errors.New("engine.tree is required"))
	}
	if c.Engine.TickRate < 0 {
		errs = append(errs, fmt.Errorf("engine.tick_rate must be positive, got %s", c.Engine.TickRate))
	}
	if c.API.Port < 0 || c.API.Port > 65535 {
		errs = append(errs, fmt.Errorf("api.port out of range: %d", c.API.Port))
	}
	if (c.API.TLSCert == "") != (c.API.TLSKey == "") {
		errs = append(errs, errors.New("api.tls_cert and api.tls_key must be set together"))
	}
	switch c.Persistence.Backend {
	case BackendNone, BackendRedis:
	case BackendPostgres:
		if !c.Postgres.Enabled {
			errs = append(errs, errors.New("persistence.backend postgres requires postgres.enabled"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown persistence.backend %q", c.Persistence.Backend))
	}
	if c.Persistence.SaveInterval < 0 {
		errs = append(errs, fmt.Errorf("persistence.save_interval must be positive, got %s", c.Persistence.SaveInterval))
	}
	return errors.Join(errs...)
}
