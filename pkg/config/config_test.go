package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTestConfig() *Config {
	cfg := Default()
	cfg.Model.Provider = ProviderMock
	return cfg
}

func TestDefaultValidatesWithMock(t *testing.T) {
	cfg := validTestConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "ai-approver", cfg.Approver.Name)
	assert.Equal(t, ModeCoApprover, cfg.Approver.Mode)
}

func TestValidateRejectsBadWiring(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero workers", func(c *Config) { c.Engine.Workers = 0 }},
		{"negative retries", func(c *Config) { c.Engine.MaxRetries = -1 }},
		{"cap below base", func(c *Config) { c.Engine.BackoffCap = c.Engine.BackoffBase / 2 }},
		{"deadline below evidence timeout", func(c *Config) { c.Engine.ReconcileDeadline = time.Second; c.Engine.EvidenceTimeout = time.Minute }},
		{"confidence out of range", func(c *Config) { c.Engine.ConfidenceThreshold = 1.5 }},
		{"unknown provider", func(c *Config) { c.Model.Provider = "cohere" }},
		{"bad mode", func(c *Config) { c.Approver.Mode = "solo" }},
		{"empty approver name", func(c *Config) { c.Approver.Name = "" }},
		{"empty base prompt", func(c *Config) { c.Prompt.Base = "  " }},
		{"rule with bad field", func(c *Config) {
			c.Prompt.Rules = []PromptRule{{Field: "labels", Contains: "x", Instruction: "y"}}
		}},
		{"deny rule missing reason", func(c *Config) {
			c.Deny = []DenyRule{{Field: "diff", Contains: "rm -rf"}}
		}},
		{"prometheus enabled without url", func(c *Config) { c.Providers.Prometheus.Enabled = true }},
		{"anthropic without key", func(c *Config) { c.Model.Provider = ProviderAnthropic; c.Model.APIKey = "" }},
		{"ollama without host", func(c *Config) { c.Model.Provider = ProviderOllama; c.Model.Host = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "approver.yaml")

	yaml := `
approver:
  name: pipeline-bot
  mode: autonomous
engine:
  workers: 8
  max_retries: 5
model:
  provider: mock
deny_rules:
  - field: diff
    contains: "AWS_SECRET_ACCESS_KEY"
    reason: "diff contains a hardcoded AWS secret"
prompt:
  rules:
    - field: pipeline
      contains: production
      instruction: "This is a production pipeline. Scrutinize stability impact."
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "pipeline-bot", cfg.Approver.Name)
	assert.Equal(t, ModeAutonomous, cfg.Approver.Mode)
	assert.Equal(t, 8, cfg.Engine.Workers)
	assert.Equal(t, 5, cfg.Engine.MaxRetries)

	// File values merge over defaults.
	assert.Equal(t, 500*time.Millisecond, cfg.Engine.BackoffBase)
	assert.NotEmpty(t, cfg.Prompt.Base)

	require.Len(t, cfg.Deny, 1)
	assert.Equal(t, "diff", cfg.Deny[0].Field)
	require.Len(t, cfg.Prompt.Rules, 1)
	assert.Equal(t, "production", cfg.Prompt.Rules[0].Contains)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  workers: -2\nmodel:\n  provider: mock\n"), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration error")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/approver.yaml")
	assert.Error(t, err)
}
