package config

import (
	"fmt"
	"net/http"

	"github.com/entrhq/browseruse/pkg/llm/openai"
	"github.com/entrhq/browseruse/pkg/llm/tokenizer"
)

// BuildClient creates the LLM client described by the resolved settings.
// Precedence between flags, environment and file has already been applied
// by Load.
func BuildClient(s LLMSettings) (*openai.Client, error) {
	if s.APIKey == "" {
		return nil, fmt.Errorf("API key is required. Set OPENAI_API_KEY, use -api-key, or configure llm.api_key in ~/.browseruse/config.yaml")
	}

	opts := []openai.ClientOption{
		openai.WithModel(s.Model),
		openai.WithTemperature(s.Temperature),
		openai.WithMaxTokens(s.MaxTokens),
	}
	if s.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(s.BaseURL))
	}
	if s.RequestTimeout > 0 {
		opts = append(opts, openai.WithHTTPClient(&http.Client{Timeout: s.RequestTimeout}))
	}
	if s.EstimateUsage {
		if tok, err := tokenizer.ForModel(s.Model); err == nil {
			opts = append(opts, openai.WithTokenizer(tok))
		}
	}

	client, err := openai.NewClient(s.APIKey, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	return client, nil
}
