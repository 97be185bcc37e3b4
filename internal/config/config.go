package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"

	"github.com/aircode610/fuseai/internal/logger"
)

// Environment knobs. They override file values.
const (
	EnvRoot           = "FUSEAI_ROOT"
	EnvBasePort       = "FUSEAI_BASE_PORT"
	EnvRequestTimeout = "FUSEAI_AGENT_REQUEST_TIMEOUT"
)

const (
	DefaultListen         = "127.0.0.1:8000"
	DefaultBasePort       = 8001
	DefaultTimeoutSeconds = 300
	MinTimeoutSeconds     = 10
)

// Config is the top-level TOML structure for the orchestrator.
type Config struct {
	Listen string `toml:"listen" mapstructure:"listen"`
	// Root is the directory holding the registry, per-agent metrics/log
	// files and agent working directories.
	Root                 string         `toml:"root" mapstructure:"root"`
	BasePort             int            `toml:"base_port" mapstructure:"base_port"`
	AgentRequestTimeout  int            `toml:"agent_request_timeout" mapstructure:"agent_request_timeout"`
	ProbeIntervalSeconds int            `toml:"probe_interval" mapstructure:"probe_interval"`
	StopGraceSeconds     int            `toml:"stop_grace" mapstructure:"stop_grace"`
	HistoryDSNs          []string       `toml:"history_dsns" mapstructure:"history_dsns"`
	GeneratorCommand     []string       `toml:"generator_command" mapstructure:"generator_command"`
	Metrics              *MetricsConfig `toml:"metrics" mapstructure:"metrics"`
	Log                  *logger.Config `toml:"log" mapstructure:"log"`
}

type MetricsConfig struct {
	Enabled bool `toml:"enabled" mapstructure:"enabled"`
}

// Load reads the TOML file at path (optional, "" means defaults only),
// applies environment overrides and enforces floors.
func Load(path string) (Config, error) {
	var c Config
	if path != "" {
		v := viper.New()
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := v.Unmarshal(&c); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	c.applyEnv()
	c.applyDefaults()
	return c, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvRoot); v != "" {
		c.Root = v
	}
	if v := os.Getenv(EnvBasePort); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.BasePort = n
		}
	}
	if v := os.Getenv(EnvRequestTimeout); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.AgentRequestTimeout = n
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.Root == "" {
		wd, err := os.Getwd()
		if err != nil {
			wd = "."
		}
		c.Root = wd
	}
	if c.BasePort <= 0 {
		c.BasePort = DefaultBasePort
	}
	if c.AgentRequestTimeout <= 0 {
		c.AgentRequestTimeout = DefaultTimeoutSeconds
	}
	if c.AgentRequestTimeout < MinTimeoutSeconds {
		c.AgentRequestTimeout = MinTimeoutSeconds
	}
}

// RequestTimeout returns the proxied-call timeout with the floor applied.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.AgentRequestTimeout) * time.Second
}

// ProbeInterval returns the prober sweep interval, 0 meaning the default.
func (c Config) ProbeInterval() time.Duration {
	return time.Duration(c.ProbeIntervalSeconds) * time.Second
}

// StopGrace returns the graceful-stop wait, 0 meaning the default.
func (c Config) StopGrace() time.Duration {
	return time.Duration(c.StopGraceSeconds) * time.Second
}
