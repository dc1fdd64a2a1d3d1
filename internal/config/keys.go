package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ErrNoAPIKey is returned when no API key is configured.
var ErrNoAPIKey = errors.New("no API key configured")

// ParameterStore is the slice of the SSM API used for key lookup.
// *ssm.Client satisfies it.
type ParameterStore interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// KeySource represents where an API key was loaded from.
type KeySource string

const (
	KeySourceEnv    KeySource = "environment"
	KeySourceConfig KeySource = "config_file"
	KeySourceSSM    KeySource = "ssm"
	KeySourceNone   KeySource = "none"
)

// ProviderEnvVar returns the environment variable holding the key for provider.
func ProviderEnvVar(provider string) string {
	if provider == "openai" {
		return "OPENAI_API_KEY"
	}
	return "ANTHROPIC_API_KEY"
}

// ResolveAPIKey returns the API key for the configured provider.
// It checks in order: provider environment variable, config file, SSM
// parameter. params may be nil when no parameter is configured.
func ResolveAPIKey(ctx context.Context, cfg *Config, params ParameterStore) (string, KeySource, error) {
	if cfg == nil {
		cfg = Default()
	}

	if key := os.Getenv(ProviderEnvVar(cfg.LLM.Provider)); key != "" {
		return key, KeySourceEnv, nil
	}

	if key := configuredKey(cfg); key != "" {
		return key, KeySourceConfig, nil
	}

	name := strings.TrimSpace(cfg.LLM.APIKeyParam)
	if name == "" {
		return "", KeySourceNone, ErrNoAPIKey
	}
	if params == nil {
		return "", KeySourceNone, fmt.Errorf("api key parameter %q set but no parameter store available", name)
	}

	withDecryption := true
	out, err := params.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		return "", KeySourceNone, fmt.Errorf("get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil || *out.Parameter.Value == "" {
		return "", KeySourceNone, fmt.Errorf("parameter %q has no value", name)
	}
	return *out.Parameter.Value, KeySourceSSM, nil
}

// configuredKey returns the config file key, ignoring unexpanded references.
func configuredKey(cfg *Config) string {
	key := os.ExpandEnv(cfg.LLM.APIKey)
	if key == "" || strings.HasPrefix(key, "${") {
		return ""
	}
	return key
}

// ValidateAPIKey performs basic validation on an API key.
// It checks format but does not verify the key with the provider.
func ValidateAPIKey(provider, key string) error {
	if key == "" {
		return ErrNoAPIKey
	}

	prefix := "sk-ant-"
	if provider == "openai" {
		prefix = "sk-"
	}
	if !strings.HasPrefix(key, prefix) {
		return fmt.Errorf("invalid API key format: expected %q prefix", prefix)
	}

	if len(key) < 20 {
		return errors.New("invalid API key format: key too short")
	}

	return nil
}

// MaskAPIKey returns a masked version of the API key for display.
// Shows the first 7 characters and last 4 characters.
func MaskAPIKey(key string) string {
	if key == "" {
		return "(not set)"
	}

	if len(key) <= 15 {
		return "***"
	}

	return key[:7] + "..." + key[len(key)-4:]
}
