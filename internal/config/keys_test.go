package config

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

type fakeParams struct {
	value *string
	err   error
	input *ssm.GetParameterInput
}

func (f *fakeParams) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: in.Name, Value: f.value}}, nil
}

func strPtr(s string) *string { return &s }

func TestResolveAPIKey(t *testing.T) {
	ctx := context.Background()

	t.Run("from environment variable", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test-key")

		cfg := Default()
		cfg.LLM.APIKey = "sk-ant-config-key"
		key, source, err := ResolveAPIKey(ctx, cfg, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if key != "sk-ant-test-key" || source != KeySourceEnv {
			t.Errorf("got %q from %s", key, source)
		}
	})

	t.Run("provider selects variable", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test-key")
		t.Setenv("OPENAI_API_KEY", "sk-openai-key")

		cfg := Default()
		cfg.LLM.Provider = "openai"
		key, _, err := ResolveAPIKey(ctx, cfg, nil)
		if err != nil || key != "sk-openai-key" {
			t.Errorf("got %q, %v", key, err)
		}
	})

	t.Run("from config", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "")

		cfg := Default()
		cfg.LLM.APIKey = "sk-ant-config-key"
		key, source, err := ResolveAPIKey(ctx, cfg, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if key != "sk-ant-config-key" || source != KeySourceConfig {
			t.Errorf("got %q from %s", key, source)
		}
	})

	t.Run("unexpanded reference ignored", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "")

		cfg := Default()
		cfg.LLM.APIKey = "${RELAY_UNSET_KEY_VAR}"
		if _, _, err := ResolveAPIKey(ctx, cfg, nil); !errors.Is(err, ErrNoAPIKey) {
			t.Errorf("expected ErrNoAPIKey, got %v", err)
		}
	})

	t.Run("from ssm parameter", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "")

		cfg := Default()
		cfg.LLM.APIKeyParam = "/relay/anthropic_key"
		params := &fakeParams{value: strPtr("sk-ant-from-ssm")}
		key, source, err := ResolveAPIKey(ctx, cfg, params)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if key != "sk-ant-from-ssm" || source != KeySourceSSM {
			t.Errorf("got %q from %s", key, source)
		}
		if params.input == nil || params.input.WithDecryption == nil || !*params.input.WithDecryption {
			t.Error("expected decrypted parameter lookup")
		}
	})

	t.Run("ssm failures", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "")

		cfg := Default()
		cfg.LLM.APIKeyParam = "/relay/anthropic_key"
		boom := errors.New("access denied")

		if _, _, err := ResolveAPIKey(ctx, cfg, &fakeParams{err: boom}); !errors.Is(err, boom) {
			t.Errorf("expected wrapped ssm error, got %v", err)
		}
		if _, _, err := ResolveAPIKey(ctx, cfg, &fakeParams{}); err == nil {
			t.Error("expected error for parameter without value")
		}
		if _, _, err := ResolveAPIKey(ctx, cfg, nil); err == nil {
			t.Error("expected error without a parameter store")
		}
	})

	t.Run("no key configured", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "")

		_, source, err := ResolveAPIKey(ctx, &Config{}, nil)
		if !errors.Is(err, ErrNoAPIKey) || source != KeySourceNone {
			t.Errorf("expected ErrNoAPIKey, got %v (%s)", err, source)
		}
	})
}

func TestValidateAPIKey(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		key      string
		wantErr  bool
	}{
		{"valid anthropic", "anthropic", "sk-ant-REDACTED", false},
		{"valid openai", "openai", "sk-proj-abcdefghijklmnopqrs", false},
		{"empty", "anthropic", "", true},
		{"wrong prefix", "anthropic", "sk-proj-abcdefghijklmnopqrs", true},
		{"too short", "anthropic", "sk-ant-short", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAPIKey(tt.provider, tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAPIKey() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMaskAPIKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"", "(not set)"},
		{"short", "***"},
		{"sk-ant-REDACTED", "sk-ant-...mnop"},
	}

	for _, tt := range tests {
		if got := MaskAPIKey(tt.key); got != tt.want {
			t.Errorf("MaskAPIKey(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}
