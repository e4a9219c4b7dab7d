// Package config loads and validates the engine configuration. The Config
// value is immutable after Load; components receive it by reference at
// construction time and never mutate it. Changing configuration means
// reloading the process, not editing a live object.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Mode selects how much autonomy the engine exercises.
type Mode string

const (
	// ModeCoApprover requires sufficient confidence before the engine
	// commits to approve/reject; low-confidence verdicts downgrade to defer.
	ModeCoApprover Mode = "co-approver"

	// ModeAutonomous applies the model verdict without the confidence downgrade.
	ModeAutonomous Mode = "autonomous"
)

// Provider names a model backend implementation.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderOllama    Provider = "ollama"
	ProviderGemini    Provider = "gemini"
	ProviderMock      Provider = "mock"
)

// Config is the root configuration for the approval engine.
type Config struct {
	Approver  ApproverConfig  `yaml:"approver"`
	Engine    EngineConfig    `yaml:"engine"`
	Model     ModelConfig     `yaml:"model"`
	Prompt    PromptConfig    `yaml:"prompt"`
	Deny      []DenyRule      `yaml:"deny_rules"`
	Providers ProvidersConfig `yaml:"providers"`
	Feedback  FeedbackConfig  `yaml:"feedback"`
}

// ApproverConfig identifies the engine on the resources it patches.
type ApproverConfig struct {
	// Name is the approver identity recorded in approval entries.
	Name string `yaml:"name"`
	Mode Mode   `yaml:"mode"`
}

// EngineConfig tunes the reconciler and decision engine.
type EngineConfig struct {
	Workers             int           `yaml:"workers"`
	MaxRetries          int           `yaml:"max_retries"`
	BackoffBase         time.Duration `yaml:"backoff_base"`
	BackoffCap          time.Duration `yaml:"backoff_cap"`
	ReconcileDeadline   time.Duration `yaml:"reconcile_deadline"`
	EvidenceTimeout     time.Duration `yaml:"evidence_timeout"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold"`
}

// ModelConfig selects and tunes the model-inference backend.
type ModelConfig struct {
	Provider    Provider `yaml:"provider"`
	Name        string   `yaml:"name"`
	APIKeyEnv   string   `yaml:"api_key_env"`
	Host        string   `yaml:"host"` // Ollama server URL
	MaxTokens   int      `yaml:"max_tokens"`
	Temperature float32  `yaml:"temperature"`
	MaxAttempts int      `yaml:"max_attempts"`

	// Rate limiting (token bucket, per model).
	MaxTokensPerMinute int `yaml:"max_tokens_per_minute"`
	MaxConcurrent      int `yaml:"max_concurrent"`

	// APIKey is resolved from APIKeyEnv at load time; never set in YAML.
	APIKey string `yaml:"-"`
}

// PromptRule adds an instruction to the prompt when a task field contains a substring.
type PromptRule struct {
	Field       string `yaml:"field"`    // "description" or "pipeline"
	Contains    string `yaml:"contains"` // case-insensitive substring
	Instruction string `yaml:"instruction"`
}

// PromptConfig shapes the structured prompt sent to the model backend.
type PromptConfig struct {
	Base           string       `yaml:"base"`
	Considerations []string     `yaml:"considerations"`
	OutputContract string       `yaml:"output_contract"`
	Rules          []PromptRule `yaml:"rules"`

	// MaxEvidenceTokens bounds the evidence summary included in the prompt.
	MaxEvidenceTokens int `yaml:"max_evidence_tokens"`
}

// DenyRule is a deterministic rule evaluated before the model. A firing deny
// rule forces a reject verdict and short-circuits model inference.
type DenyRule struct {
	Field    string `yaml:"field"`    // "description", "pipeline" or "diff"
	Contains string `yaml:"contains"` // case-insensitive substring
	Reason   string `yaml:"reason"`
}

// ProvidersConfig wires the built-in evidence providers.
type ProvidersConfig struct {
	Git struct {
		Enabled     bool   `yaml:"enabled"`
		APIBase     string `yaml:"api_base"` // defaults to https://api.github.com
		TokenEnv    string `yaml:"token_env"`
		Token       string `yaml:"-"`
		MaxPatchLen int    `yaml:"max_patch_len"`
	} `yaml:"git"`
	ClusterState struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"cluster_state"`
	Prometheus struct {
		Enabled bool   `yaml:"enabled"`
		URL     string `yaml:"url"`
		Query   string `yaml:"query"` // default load query dispatched per plan
	} `yaml:"prometheus"`
}

// FeedbackConfig locates the reward-sample sink and history store.
type FeedbackConfig struct {
	Dir    string `yaml:"dir"`
	DBPath string `yaml:"db_path"`
}

// Default returns a Config with working defaults for everything that has one.
// Secrets and provider endpoints still come from the config file/environment.
func Default() *Config {
	cfg := &Config{
		Approver: ApproverConfig{
			Name: "ai-approver",
			Mode: ModeCoApprover,
		},
		Engine: EngineConfig{
			Workers:             4,
			MaxRetries:          3,
			BackoffBase:         500 * time.Millisecond,
			BackoffCap:          30 * time.Second,
			ReconcileDeadline:   2 * time.Minute,
			EvidenceTimeout:     15 * time.Second,
			ConfidenceThreshold: 0.7,
		},
		Model: ModelConfig{
			Provider:           ProviderAnthropic,
			Name:               "claude-sonnet-4-5",
			APIKeyEnv:          "ANTHROPIC_API_KEY",
			MaxTokens:          2048,
			Temperature:        0.2,
			MaxAttempts:        3,
			MaxTokensPerMinute: 100000,
			MaxConcurrent:      4,
		},
		Prompt: PromptConfig{
			Base:              defaultBasePrompt,
			OutputContract:    defaultOutputContract,
			Considerations:    defaultConsiderations,
			MaxEvidenceTokens: 6000,
		},
		Feedback: FeedbackConfig{
			Dir:    "feedback",
			DBPath: "feedback/history.db",
		},
	}
	cfg.Providers.Git.APIBase = "https://api.github.com"
	cfg.Providers.Git.TokenEnv = "GITHUB_TOKEN"
	cfg.Providers.Git.MaxPatchLen = 20000
	cfg.Providers.ClusterState.Enabled = true
	cfg.Providers.Prometheus.Query = `sum(kube_pod_status_phase{phase="Pending"})`
	return cfg
}

// Load reads the YAML file at path over the defaults, resolves secrets from
// the environment and validates the result. Any validation failure is a
// configuration error and must prevent the engine from starting.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.Model.APIKey = os.Getenv(cfg.Model.APIKeyEnv)
	cfg.Providers.Git.Token = os.Getenv(cfg.Providers.Git.TokenEnv)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

// Validate checks rule/provider wiring. Invalid wiring is fatal at startup.
func (c *Config) Validate() error {
	if c.Approver.Name == "" {
		return fmt.Errorf("approver.name must be set")
	}
	if c.Approver.Mode != ModeCoApprover && c.Approver.Mode != ModeAutonomous {
		return fmt.Errorf("approver.mode must be %q or %q, got %q", ModeCoApprover, ModeAutonomous, c.Approver.Mode)
	}
	if c.Engine.Workers <= 0 {
		return fmt.Errorf("engine.workers must be positive, got %d", c.Engine.Workers)
	}
	if c.Engine.MaxRetries < 0 {
		return fmt.Errorf("engine.max_retries must be non-negative, got %d", c.Engine.MaxRetries)
	}
	if c.Engine.BackoffBase <= 0 || c.Engine.BackoffCap < c.Engine.BackoffBase {
		return fmt.Errorf("engine backoff misconfigured: base=%s cap=%s", c.Engine.BackoffBase, c.Engine.BackoffCap)
	}
	if c.Engine.EvidenceTimeout <= 0 || c.Engine.ReconcileDeadline <= c.Engine.EvidenceTimeout {
		return fmt.Errorf("engine.reconcile_deadline (%s) must exceed engine.evidence_timeout (%s)",
			c.Engine.ReconcileDeadline, c.Engine.EvidenceTimeout)
	}
	if c.Engine.ConfidenceThreshold < 0 || c.Engine.ConfidenceThreshold > 1 {
		return fmt.Errorf("engine.confidence_threshold %.3f outside [0,1]", c.Engine.ConfidenceThreshold)
	}

	switch c.Model.Provider {
	case ProviderAnthropic, ProviderOpenAI, ProviderGemini:
		if c.Model.APIKey == "" {
			return fmt.Errorf("model provider %s requires %s to be set", c.Model.Provider, c.Model.APIKeyEnv)
		}
	case ProviderOllama:
		if c.Model.Host == "" {
			return fmt.Errorf("model provider ollama requires model.host")
		}
	case ProviderMock:
		// No credentials; used by tests and dry runs.
	default:
		return fmt.Errorf("unknown model provider %q", c.Model.Provider)
	}
	if c.Model.Name == "" && c.Model.Provider != ProviderMock {
		return fmt.Errorf("model.name must be set")
	}
	if c.Model.MaxTokens <= 0 {
		return fmt.Errorf("model.max_tokens must be positive, got %d", c.Model.MaxTokens)
	}

	if strings.TrimSpace(c.Prompt.Base) == "" {
		return fmt.Errorf("prompt.base must be non-empty")
	}
	if strings.TrimSpace(c.Prompt.OutputContract) == "" {
		return fmt.Errorf("prompt.output_contract must be non-empty")
	}
	for i := range c.Prompt.Rules {
		if err := validateRuleField(c.Prompt.Rules[i].Field); err != nil {
			return fmt.Errorf("prompt.rules[%d]: %w", i, err)
		}
		if c.Prompt.Rules[i].Contains == "" || c.Prompt.Rules[i].Instruction == "" {
			return fmt.Errorf("prompt.rules[%d]: contains and instruction must be set", i)
		}
	}
	for i := range c.Deny {
		if err := validateDenyField(c.Deny[i].Field); err != nil {
			return fmt.Errorf("deny_rules[%d]: %w", i, err)
		}
		if c.Deny[i].Contains == "" || c.Deny[i].Reason == "" {
			return fmt.Errorf("deny_rules[%d]: contains and reason must be set", i)
		}
	}

	if c.Providers.Prometheus.Enabled && c.Providers.Prometheus.URL == "" {
		return fmt.Errorf("providers.prometheus.url must be set when the prometheus provider is enabled")
	}
	if c.Providers.Prometheus.Enabled && c.Providers.Prometheus.Query == "" {
		return fmt.Errorf("providers.prometheus.query must be set when the prometheus provider is enabled")
	}
	if c.Feedback.Dir == "" {
		return fmt.Errorf("feedback.dir must be set")
	}
	return nil
}

func validateRuleField(field string) error {
	switch field {
	case "description", "pipeline":
		return nil
	default:
		return fmt.Errorf("field must be \"description\" or \"pipeline\", got %q", field)
	}
}

func validateDenyField(field string) error {
	switch field {
	case "description", "pipeline", "diff":
		return nil
	default:
		return fmt.Errorf("field must be \"description\", \"pipeline\" or \"diff\", got %q", field)
	}
}

const defaultBasePrompt = `You are a senior DevOps engineer reviewing a paused CI/CD pipeline that is waiting for sign-off.

Analyze the approval task below and decide whether the change should proceed.

PipelineRun: %s
Pipeline: %s
Description: %s`

const defaultOutputContract = `Respond in exactly this format:

Decision: <approve|reject|defer>
Confidence: <0.0-1.0>
Reasoning: <your detailed reasoning>`

var defaultConsiderations = []string{
	"Security vulnerabilities introduced by the change",
	"Code quality and test coverage of the diff",
	"Breaking changes or deployment risk",
	"Current cluster load and resource availability",
}
