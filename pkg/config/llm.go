package config

import (
	"fmt"
	"time"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o"

// LLMSettings configures the language model client.
type LLMSettings struct {
	Model   string `yaml:"model" json:"model"`
	BaseURL string `yaml:"base_url" json:"base_url"`
	APIKey  string `yaml:"api_key" json:"api_key"`

	// ExtractionModel is optional; if empty, content extraction uses Model.
	ExtractionModel string `yaml:"extraction_model" json:"extraction_model"`

	Temperature    float64       `yaml:"temperature" json:"temperature"`
	MaxTokens      int           `yaml:"max_tokens" json:"max_tokens"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`

	// EstimateUsage counts tokens locally when the provider reports none.
	EstimateUsage bool `yaml:"estimate_usage" json:"estimate_usage"`
}

// NewLLMSettings creates LLM settings with default values.
func NewLLMSettings() LLMSettings {
	return LLMSettings{
		Model:          DefaultModel,
		MaxTokens:      4096,
		RequestTimeout: 2 * time.Minute,
		EstimateUsage:  true,
	}
}

// Validate validates the LLM settings. A missing API key is not an error
// here; it is reported when a client is built.
func (s LLMSettings) Validate() error {
	if s.Temperature < 0 || s.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be between 0 and 2")
	}
	if s.MaxTokens < 0 {
		return fmt.Errorf("llm.max_tokens cannot be negative")
	}
	if s.RequestTimeout < 0 {
		return fmt.Errorf("llm.request_timeout cannot be negative")
	}
	return nil
}

// ExtractionModelOrDefault returns the model used for content extraction.
func (s LLMSettings) ExtractionModelOrDefault() string {
	if s.ExtractionModel != "" {
		return s.ExtractionModel
	}
	return s.Model
}
