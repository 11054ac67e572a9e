package config

import (
	"fmt"
	"time"
)

// Config holds dbsketch configuration.
type Config struct {
	// APIToken authenticates against the inference endpoint.
	// Supports ${ENV_VAR} syntax.
	APIToken string `mapstructure:"api_token" yaml:"api_token"`
	// BaseURL is the OpenAI-compatible endpoint to call.
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	// VisionModel describes the uploaded diagram.
	VisionModel string `mapstructure:"vision_model" yaml:"vision_model"`
	// BrainModel turns the description into a typed schema.
	BrainModel string `mapstructure:"brain_model" yaml:"brain_model"`
	// CORSOrigins is the allow-list of origins permitted to call the API.
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
	// MaxAttempts bounds total extraction attempts per request.
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts"`
	// MaxTokens caps the vision response length.
	MaxTokens int `mapstructure:"max_tokens" yaml:"max_tokens"`
	// StageTimeoutSeconds bounds each external model call.
	StageTimeoutSeconds int `mapstructure:"stage_timeout_seconds" yaml:"stage_timeout_seconds"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		APIToken:            "${HF_ACCESS_TOKEN}",
		BaseURL:             "https://api-inference.huggingface.co/v1/",
		VisionModel:         "Qwen/Qwen2.5-VL-7B-Instruct",
		BrainModel:          "Qwen/Qwen2.5-Coder-7B-Instruct",
		CORSOrigins:         []string{"http://localhost:3000"},
		MaxAttempts:         3,
		MaxTokens:           2000,
		StageTimeoutSeconds: 120,
	}
}

// ResolvedToken returns the API token with ${ENV_VAR} references expanded.
func (c *Config) ResolvedToken() string {
	return ResolveEnvVars(c.APIToken)
}

// StageTimeout returns the per-call timeout as a duration.
func (c *Config) StageTimeout() time.Duration {
	return time.Duration(c.StageTimeoutSeconds) * time.Second
}

// Validate checks that required settings are present. A missing API token
// must prevent the service from starting at all, not fail at first request.
func (c *Config) Validate() error {
	if c.ResolvedToken() == "" {
		return fmt.Errorf("api_token is required (set HF_ACCESS_TOKEN or api_token in config)")
	}
	if c.VisionModel == "" {
		return fmt.Errorf("vision_model is required")
	}
	if c.BrainModel == "" {
		return fmt.Errorf("brain_model is required")
	}
	return nil
}
