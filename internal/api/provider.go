package api

import (
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/ShayCichocki/relay/internal/llm"
)

// Supported providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// Model is a LanguageModel that tracks token usage.
type Model interface {
	llm.LanguageModel
	Tracker() *TokenTracker
}

// ProviderConfig selects and configures a provider.
type ProviderConfig struct {
	Provider   string
	Model      string
	APIKey     string
	BaseURL    string
	UseBedrock bool
	AWSRegion  string
	AWSProfile string
	MaxTokens  int
}

// NewModel creates the Model for cfg.Provider (anthropic when empty).
func NewModel(cfg ProviderConfig) (Model, error) {
	switch cfg.Provider {
	case "", ProviderAnthropic:
		return NewClient(ClientConfig{
			Model:         anthropic.Model(cfg.Model),
			APIKey:        cfg.APIKey,
			UseAWSBedrock: cfg.UseBedrock,
			AWSRegion:     cfg.AWSRegion,
			AWSProfile:    cfg.AWSProfile,
			BaseURL:       cfg.BaseURL,
			MaxTokens:     cfg.MaxTokens,
		})
	case ProviderOpenAI:
		return NewOpenAIClient(OpenAIConfig{
			Model:     cfg.Model,
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			MaxTokens: cfg.MaxTokens,
		})
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
