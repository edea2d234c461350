/*
PURPOSE:
  Defines the configuration structure and loading logic for deckfill.
  One flat mapping of named options covering the service endpoint,
  prompts, and processing behavior.

REQUIREMENTS:
  User-specified:
  - Configure base URL, credential, target field, prompts, retry policy.

  Implementation-discovered:
  - Needs to support YAML parsing.
  - Credential should be overridable via environment (DECKFILL_API_KEY).

ARCHITECTURE INTEGRATION:
  - Used by: internal/cli, internal/llm, internal/batch
  - Dependencies: gopkg.in/yaml.v3 (standard for Go config)

ERROR HANDLING:
  - Returns explicit error if config file is invalid.
  - Missing config file falls back to defaults.

IMPLEMENTATION RULES:
  - Config struct tags should support yaml.
  - Defaults mirror an out-of-the-box local LM Studio setup.

USAGE:
  cfg, err := config.Load("deckfill.yaml")

SELF-HEALING INSTRUCTIONS:
  - If new fields are needed, add to Config struct and update Load() defaults.

RELATED FILES:
  - internal/cli/root.go

MAINTENANCE:
  - Update when adding new tuning parameters.
*/

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the full configuration for deckfill.
type Config struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`

	TargetField    string `yaml:"target_field"`
	SkipExisting   bool   `yaml:"skip_existing"`
	BackupBefore   bool   `yaml:"backup_before"`
	PreferredModel string `yaml:"preferred_model"`

	SystemPrompt string  `yaml:"system_prompt"`
	UserPrompt   string  `yaml:"user_prompt"`
	Temperature  float64 `yaml:"temperature"`
	MaxTokens    int     `yaml:"max_tokens"`

	// Timeout covers one generation call; ListTimeout covers model
	// discovery, which should fail fast.
	Timeout     time.Duration `yaml:"timeout"`
	ListTimeout time.Duration `yaml:"list_timeout"`
	MaxRetries  int           `yaml:"max_retries"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:      "http://localhost:1234/v1",
		APIKey:       "lm-studio",
		TargetField:  "Answer",
		SkipExisting: true,
		BackupBefore: true,
		SystemPrompt: "You are a helpful tutor. Provide clear, concise explanations for students.",
		UserPrompt:   "Explain this concept: {{Question}}",
		Temperature:  0.3,
		MaxTokens:    200,
		Timeout:      60 * time.Second,
		ListTimeout:  10 * time.Second,
		MaxRetries:   3,
		RetryDelay:   time.Second,
	}
}

// Load reads configuration from a file.
// If path is specified, it attempts to load that file.
// If path is empty, it searches for default files in order.
// If no file found, returns default config.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	var data []byte
	var err error

	if path != "" {
		data, err = os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
	} else {
		defaults := []string{"deckfill.yaml", "deckfill.yml"}
		found := false
		for _, name := range defaults {
			data, err = os.ReadFile(name)
			if err == nil {
				path = name
				found = true
				break
			}
		}
		if !found {
			applyEnv(cfg)
			return cfg, nil
		}
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv applies environment overrides. Only the credential for now,
// so the key never has to live in a committed config file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("DECKFILL_API_KEY"); v != "" {
		cfg.APIKey = v
	}
}

// Validate checks the numeric ranges the generation service expects.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0.0 and 2.0, got %v", c.Temperature)
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be positive, got %d", c.MaxTokens)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1, got %d", c.MaxRetries)
	}
	if c.Timeout <= 0 || c.ListTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	return nil
}
