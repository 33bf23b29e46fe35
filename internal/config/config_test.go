package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Default()
	cfg.AgentID = "agent-1"
	cfg.InstanceID = "instance-1"
	cfg.HTTPSBase = "https://hub.example.com"
	cfg.CRDTWs = "wss://hub.example.com"
	cfg.StorageDir = "/tmp/replicant"
	return cfg
}

func TestConfig_Valid(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestConfig_MissingRequiredFlags(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		flag   string
	}{
		{"missing agentId", func(c *Config) { c.AgentID = "" }, "--agentId"},
		{"missing instanceId", func(c *Config) { c.InstanceID = "" }, "--instanceId"},
		{"missing httpsBase", func(c *Config) { c.HTTPSBase = "" }, "--httpsBase"},
		{"missing crdtWs", func(c *Config) { c.CRDTWs = "" }, "--crdtWs"},
		{"missing storageDir", func(c *Config) { c.StorageDir = "" }, "--storageDir"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.flag)
		})
	}
}

func TestConfig_QuorumBounds(t *testing.T) {
	cfg := validConfig()

	cfg.Quorum = 0
	assert.Error(t, cfg.Validate())

	cfg.Quorum = 1
	assert.Error(t, cfg.Validate())

	cfg.Quorum = 0.5
	assert.NoError(t, cfg.Validate())
}
