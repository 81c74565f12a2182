// Package config loads and validates the service configuration from a YAML
// file with environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/replyflow/errors"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "REPLYFLOW"

// Config is the complete service configuration.
type Config struct {
	NATS    NATSConfig    `yaml:"nats"`
	Buckets BucketConfig  `yaml:"buckets"`
	Streams StreamConfig  `yaml:"streams"`
	HTTP    HTTPConfig    `yaml:"http"`
	Engine  EngineConfig  `yaml:"engine"`
	Rules   RuleSetConfig `yaml:"rules"`
}

// NATSConfig describes the NATS connection.
type NATSConfig struct {
	URL            string        `yaml:"url"`
	Username       string        `yaml:"username,omitempty"`
	Password       string        `yaml:"password,omitempty"`
	Token          string        `yaml:"token,omitempty"`
	ConnectTimeout time.Duration `yaml:"connect_timeout,omitempty"`
	DrainTimeout   time.Duration `yaml:"drain_timeout,omitempty"`
}

// BucketConfig names the KV buckets the engine uses.
type BucketConfig struct {
	Debounce string `yaml:"debounce"`
	Sessions string `yaml:"sessions"`
	Rules    string `yaml:"rules"`
	Cancels  string `yaml:"cancels"`
}

// StreamConfig names the JetStream streams and subjects.
type StreamConfig struct {
	DispatchStream  string `yaml:"dispatch_stream"`
	DispatchSubject string `yaml:"dispatch_subject"`
	TimerStream     string `yaml:"timer_stream"`
	TimerSubject    string `yaml:"timer_subject"`
	InboundSubject  string `yaml:"inbound_subject"`
}

// HTTPConfig describes the metrics/health listener.
type HTTPConfig struct {
	ListenAddr  string `yaml:"listen_addr"`
	MetricsPath string `yaml:"metrics_path"`
}

// EngineConfig holds engine tunables.
type EngineConfig struct {
	DispatchRetryAttempts int           `yaml:"dispatch_retry_attempts"`
	DispatchRetryDelay    time.Duration `yaml:"dispatch_retry_delay"`
	ShutdownTimeout       time.Duration `yaml:"shutdown_timeout"`
}

// RuleSetConfig points at rule definition files.
type RuleSetConfig struct {
	ReplyRulesPath      string `yaml:"reply_rules_path"`
	ModerationRulesPath string `yaml:"moderation_rules_path,omitempty"`
}

// Default returns a configuration with working local-development values.
func Default() *Config {
	return &Config{
		NATS: NATSConfig{
			URL:            "nats://localhost:4222",
			ConnectTimeout: 5 * time.Second,
			DrainTimeout:   30 * time.Second,
		},
		Buckets: BucketConfig{
			Debounce: "replyflow-debounce",
			Sessions: "replyflow-sessions",
			Rules:    "replyflow-rules",
			Cancels:  "replyflow-cancels",
		},
		Streams: StreamConfig{
			DispatchStream:  "DISPATCH",
			DispatchSubject: "dispatch.jobs",
			TimerStream:     "NURTURE_TIMERS",
			TimerSubject:    "nurture.timers",
			InboundSubject:  "messages.inbound",
		},
		HTTP: HTTPConfig{
			ListenAddr:  ":9090",
			MetricsPath: "/metrics",
		},
		Engine: EngineConfig{
			DispatchRetryAttempts: 3,
			DispatchRetryDelay:    100 * time.Millisecond,
			ShutdownTimeout:       30 * time.Second,
		},
	}
}

// Load reads configuration from path, applies environment overrides, and
// validates the result. An empty path yields defaults plus overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Config", "Load", "read config file")
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapInvalid(err, "Config", "Load", "parse config file")
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for usable values.
func (c *Config) Validate() error {
	var problems []string

	if c.NATS.URL == "" {
		problems = append(problems, "nats.url is required")
	}
	if c.Streams.InboundSubject == "" {
		problems = append(problems, "streams.inbound_subject is required")
	}
	if c.Streams.DispatchStream == "" || c.Streams.DispatchSubject == "" {
		problems = append(problems, "streams.dispatch_stream and streams.dispatch_subject are required")
	}
	if c.Buckets.Debounce == "" || c.Buckets.Sessions == "" {
		problems = append(problems, "buckets.debounce and buckets.sessions are required")
	}
	if c.Engine.DispatchRetryAttempts < 1 {
		problems = append(problems, "engine.dispatch_retry_attempts must be at least 1")
	}

	if len(problems) > 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%s", strings.Join(problems, "; ")),
			"Config", "Validate", "invalid configuration")
	}
	return nil
}

// applyEnv overlays REPLYFLOW_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv(EnvPrefix + "_NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	if v := os.Getenv(EnvPrefix + "_NATS_USERNAME"); v != "" {
		c.NATS.Username = v
	}
	if v := os.Getenv(EnvPrefix + "_NATS_PASSWORD"); v != "" {
		c.NATS.Password = v
	}
	if v := os.Getenv(EnvPrefix + "_NATS_TOKEN"); v != "" {
		c.NATS.Token = v
	}
	if v := os.Getenv(EnvPrefix + "_HTTP_LISTEN_ADDR"); v != "" {
		c.HTTP.ListenAddr = v
	}
	if v := os.Getenv(EnvPrefix + "_INBOUND_SUBJECT"); v != "" {
		c.Streams.InboundSubject = v
	}
	if v := os.Getenv(EnvPrefix + "_REPLY_RULES_PATH"); v != "" {
		c.Rules.ReplyRulesPath = v
	}
	if v := os.Getenv(EnvPrefix + "_DISPATCH_RETRY_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Engine.DispatchRetryAttempts = n
		}
	}
}
