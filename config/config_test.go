package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
nats:
  url: nats://broker:4222
  connect_timeout: 10s
streams:
  inbound_subject: wa.messages
engine:
  dispatch_retry_attempts: 5
rules:
  reply_rules_path: /etc/replyflow/rules.json
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "nats://broker:4222", cfg.NATS.URL)
	assert.Equal(t, 10*time.Second, cfg.NATS.ConnectTimeout)
	assert.Equal(t, "wa.messages", cfg.Streams.InboundSubject)
	assert.Equal(t, 5, cfg.Engine.DispatchRetryAttempts)
	assert.Equal(t, "/etc/replyflow/rules.json", cfg.Rules.ReplyRulesPath)

	// Unset fields keep their defaults.
	assert.Equal(t, "DISPATCH", cfg.Streams.DispatchStream)
	assert.Equal(t, ":9090", cfg.HTTP.ListenAddr)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("REPLYFLOW_NATS_URL", "nats://override:4222")
	t.Setenv("REPLYFLOW_DISPATCH_RETRY_ATTEMPTS", "7")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "nats://override:4222", cfg.NATS.URL)
	assert.Equal(t, 7, cfg.Engine.DispatchRetryAttempts)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing nats url", func(c *Config) { c.NATS.URL = "" }},
		{"missing inbound subject", func(c *Config) { c.Streams.InboundSubject = "" }},
		{"missing dispatch stream", func(c *Config) { c.Streams.DispatchStream = "" }},
		{"zero retry attempts", func(c *Config) { c.Engine.DispatchRetryAttempts = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
