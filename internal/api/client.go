// Package api adapts hosted model providers to llm.LanguageModel.
package api

import (
	"context"
	"errors"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"
)

const (
	defaultMaxTokens = 4096
	defaultModel     = anthropic.ModelClaudeSonnet4_20250514
)

// ErrMissingAnthropicKey is returned by NewClient when no key is available
// for the direct API.
var ErrMissingAnthropicKey = errors.New("api: ANTHROPIC_API_KEY is not set")

// Client is the Anthropic Messages adapter. It is safe for concurrent use.
type Client struct {
	inner     anthropic.Client
	model     anthropic.Model
	maxTokens int64
	tracker   *TokenTracker
}

// ClientConfig configures NewClient.
type ClientConfig struct {
	// Model defaults to Claude Sonnet 4.
	Model anthropic.Model
	// APIKey falls back to ANTHROPIC_API_KEY. Unused with Bedrock.
	APIKey string
	// UseAWSBedrock routes requests through Bedrock with the default AWS
	// credential chain.
	UseAWSBedrock bool
	AWSRegion     string
	AWSProfile    string
	// BaseURL overrides the API endpoint. Ignored for Bedrock.
	BaseURL string
	// MaxTokens applies when a request does not set its own limit.
	MaxTokens int
}

// NewClient creates an Anthropic client.
func NewClient(cfg ClientConfig) (*Client, error) {
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}

	var opts []option.RequestOption
	if cfg.UseAWSBedrock {
		opts = append(opts, bedrockOption(cfg.AWSRegion, cfg.AWSProfile))
		model = translateModelForBedrock(model)
	} else {
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("ANTHROPIC_API_KEY")
		}
		if key == "" {
			return nil, ErrMissingAnthropicKey
		}
		opts = append(opts, option.WithAPIKey(key))
		if cfg.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.BaseURL))
		}
	}

	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return &Client{
		inner:     anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
		tracker:   newTracker(anthropicPricing),
	}, nil
}

func bedrockOption(region, profile string) option.RequestOption {
	var load []func(*config.LoadOptions) error
	if region != "" {
		load = append(load, config.WithRegion(region))
	}
	if profile != "" {
		load = append(load, config.WithSharedConfigProfile(profile))
	}
	return bedrock.WithLoadDefaultConfig(context.Background(), load...)
}

// bedrockModels maps API model names to cross-region inference profiles.
var bedrockModels = map[anthropic.Model]anthropic.Model{
	anthropic.ModelClaudeSonnet4_20250514:   "us.anthropic.claude-sonnet-4-20250514-v1:0",
	anthropic.ModelClaudeSonnet4_5_20250929: "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
	anthropic.ModelClaudeHaiku4_5_20251001:  "us.anthropic.claude-haiku-4-5-20251001-v1:0",
	anthropic.ModelClaudeOpus4_1_20250805:   "us.anthropic.claude-opus-4-1-20250805-v1:0",
	anthropic.ModelClaude3_5Haiku20241022:   "us.anthropic.claude-3-5-haiku-20241022-v1:0",
}

// translateModelForBedrock returns the inference profile for model, or model
// unchanged when it is unknown or already a Bedrock id.
func translateModelForBedrock(model anthropic.Model) anthropic.Model {
	if m, ok := bedrockModels[model]; ok {
		return m
	}
	return model
}

// Model returns the model requests are sent to.
func (c *Client) Model() anthropic.Model {
	return c.model
}

// Tracker returns the client's usage tracker.
func (c *Client) Tracker() *TokenTracker {
	return c.tracker
}
