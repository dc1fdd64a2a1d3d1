// Package config handles configuration loading and management for relay.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	projectConfigName = ".relay.yaml"
	envPrefix         = "RELAY"
)

// Config holds all configuration for relay.
type Config struct {
	LLM        LLMConfig        `mapstructure:"llm"`
	Dispatch   DispatchConfig   `mapstructure:"dispatch"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Server     ServerConfig     `mapstructure:"server"`
	Tools      ToolsConfig      `mapstructure:"tools"`
	Agents     AgentsConfig     `mapstructure:"agents"`
	Log        LogConfig        `mapstructure:"log"`
}

// LLMConfig selects and configures the language model provider.
type LLMConfig struct {
	Provider string `mapstructure:"provider" validate:"oneof=anthropic openai"`
	// Model empty means the provider default.
	Model  string `mapstructure:"model"`
	APIKey string `mapstructure:"api_key"`
	// APIKeyParam names an SSM parameter holding the key.
	APIKeyParam string `mapstructure:"api_key_param"`
	BaseURL     string `mapstructure:"base_url" validate:"omitempty,url"`
	UseBedrock  bool   `mapstructure:"use_bedrock"`
	AWSRegion   string `mapstructure:"aws_region"`
	AWSProfile  string `mapstructure:"aws_profile"`
	MaxTokens   int    `mapstructure:"max_tokens" validate:"gte=1"`
	// RequestTimeout bounds each model call. Zero disables the bound.
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gte=0s"`
}

// DispatchConfig holds dispatcher, decomposer and summarizer settings.
type DispatchConfig struct {
	MaxRetries         int           `mapstructure:"max_retries" validate:"gte=0"`
	CheckpointEachItem bool          `mapstructure:"checkpoint_each_item"`
	SaveTimeout        time.Duration `mapstructure:"save_timeout" validate:"gte=0s"`
	EventBuffer        int           `mapstructure:"event_buffer" validate:"gte=0"`
	// SummarizeAfter is the history length that triggers summarization. Zero disables it.
	SummarizeAfter int           `mapstructure:"summarize_after" validate:"gte=0"`
	SummaryKeep    int           `mapstructure:"summary_keep" validate:"gte=1"`
	CacheTTL       time.Duration `mapstructure:"decompose_cache_ttl" validate:"gte=0s"`
	ContextTurns   int           `mapstructure:"context_turns" validate:"gte=0"`
	FastPath       bool          `mapstructure:"fast_path"`
}

// CheckpointConfig selects the conversation store.
type CheckpointConfig struct {
	Backend string `mapstructure:"backend" validate:"oneof=sqlite dynamodb memory"`
	// Path empty means the XDG data directory.
	Path          string        `mapstructure:"path"`
	Driver        string        `mapstructure:"driver" validate:"oneof=sqlite sqlite3"`
	DynamoDBTable string        `mapstructure:"dynamodb_table" validate:"required_if=Backend dynamodb"`
	TTL           time.Duration `mapstructure:"ttl" validate:"gte=0s"`
	AWSRegion     string        `mapstructure:"aws_region"`
}

// ServerConfig holds HTTP settings for relay serve.
type ServerConfig struct {
	Addr              string        `mapstructure:"addr" validate:"required"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" validate:"gte=0s"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" validate:"gte=0s"`
}

// ToolsConfig holds settings for the built-in tools.
type ToolsConfig struct {
	SearchEndpoint string        `mapstructure:"search_endpoint" validate:"omitempty,url"`
	MaxResults     int           `mapstructure:"max_results" validate:"gte=1"`
	HTTPTimeout    time.Duration `mapstructure:"http_timeout" validate:"gte=0s"`
	FetchMaxChars  int           `mapstructure:"fetch_max_chars" validate:"gte=0"`
	PythonBinary   string        `mapstructure:"python_binary" validate:"required"`
	PythonTimeout  time.Duration `mapstructure:"python_timeout" validate:"gte=0s"`
}

// AgentsConfig holds agent runner settings.
type AgentsConfig struct {
	// ProfilesPath points at a YAML file overriding agent prompts and tools.
	ProfilesPath string `mapstructure:"profiles_path"`
	MaxSteps     int    `mapstructure:"max_steps" validate:"gte=1"`
	HistoryTurns int    `mapstructure:"history_turns" validate:"gte=0"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (RELAY_*, e.g. RELAY_LLM_PROVIDER)
// 2. Project config (.relay.yaml in current directory or parent)
// 3. User config (~/.config/relay/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := newViper()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	return decode(v)
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := newViper()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.LLM.APIKey = expandEnv(cfg.LLM.APIKey)
	cfg.LLM.APIKeyParam = expandEnv(cfg.LLM.APIKeyParam)
	cfg.Checkpoint.Path = expandEnv(cfg.Checkpoint.Path)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and reports every violation at once.
func (c *Config) Validate() error {
	err := validator.New().Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validating config: %w", err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s: failed %s", field, fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values. Every key must have a default so
// AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("llm.provider", d.LLM.Provider)
	v.SetDefault("llm.model", d.LLM.Model)
	v.SetDefault("llm.api_key", d.LLM.APIKey)
	v.SetDefault("llm.api_key_param", d.LLM.APIKeyParam)
	v.SetDefault("llm.base_url", d.LLM.BaseURL)
	v.SetDefault("llm.use_bedrock", d.LLM.UseBedrock)
	v.SetDefault("llm.aws_region", d.LLM.AWSRegion)
	v.SetDefault("llm.aws_profile", d.LLM.AWSProfile)
	v.SetDefault("llm.max_tokens", d.LLM.MaxTokens)
	v.SetDefault("llm.request_timeout", d.LLM.RequestTimeout.String())

	v.SetDefault("dispatch.max_retries", d.Dispatch.MaxRetries)
	v.SetDefault("dispatch.checkpoint_each_item", d.Dispatch.CheckpointEachItem)
	v.SetDefault("dispatch.save_timeout", d.Dispatch.SaveTimeout.String())
	v.SetDefault("dispatch.event_buffer", d.Dispatch.EventBuffer)
	v.SetDefault("dispatch.summarize_after", d.Dispatch.SummarizeAfter)
	v.SetDefault("dispatch.summary_keep", d.Dispatch.SummaryKeep)
	v.SetDefault("dispatch.decompose_cache_ttl", d.Dispatch.CacheTTL.String())
	v.SetDefault("dispatch.context_turns", d.Dispatch.ContextTurns)
	v.SetDefault("dispatch.fast_path", d.Dispatch.FastPath)

	v.SetDefault("checkpoint.backend", d.Checkpoint.Backend)
	v.SetDefault("checkpoint.path", d.Checkpoint.Path)
	v.SetDefault("checkpoint.driver", d.Checkpoint.Driver)
	v.SetDefault("checkpoint.dynamodb_table", d.Checkpoint.DynamoDBTable)
	v.SetDefault("checkpoint.ttl", d.Checkpoint.TTL.String())
	v.SetDefault("checkpoint.aws_region", d.Checkpoint.AWSRegion)

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.read_header_timeout", d.Server.ReadHeaderTimeout.String())
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout.String())

	v.SetDefault("tools.search_endpoint", d.Tools.SearchEndpoint)
	v.SetDefault("tools.max_results", d.Tools.MaxResults)
	v.SetDefault("tools.http_timeout", d.Tools.HTTPTimeout.String())
	v.SetDefault("tools.fetch_max_chars", d.Tools.FetchMaxChars)
	v.SetDefault("tools.python_binary", d.Tools.PythonBinary)
	v.SetDefault("tools.python_timeout", d.Tools.PythonTimeout.String())

	v.SetDefault("agents.profiles_path", d.Agents.ProfilesPath)
	v.SetDefault("agents.max_steps", d.Agents.MaxSteps)
	v.SetDefault("agents.history_turns", d.Agents.HistoryTurns)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// getUserConfigDir returns the XDG config directory for relay.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "relay")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "relay")
	}
	return filepath.Join(home, ".config", "relay")
}

// findProjectConfig searches for .relay.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, projectConfigName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:       "anthropic",
			AWSRegion:      "us-east-1",
			MaxTokens:      4096,
			RequestTimeout: 2 * time.Minute,
		},
		Dispatch: DispatchConfig{
			MaxRetries:         1,
			CheckpointEachItem: true,
			SaveTimeout:        5 * time.Second,
			EventBuffer:        64,
			SummarizeAfter:     6,
			SummaryKeep:        3,
			CacheTTL:           5 * time.Minute,
			ContextTurns:       4,
			FastPath:           true,
		},
		Checkpoint: CheckpointConfig{
			Backend:       "sqlite",
			Driver:        "sqlite",
			DynamoDBTable: "relay-conversations",
			TTL:           30 * 24 * time.Hour,
			AWSRegion:     "us-east-1",
		},
		Server: ServerConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   15 * time.Second,
		},
		Tools: ToolsConfig{
			MaxResults:    5,
			HTTPTimeout:   15 * time.Second,
			FetchMaxChars: 8000,
			PythonBinary:  "python3",
			PythonTimeout: 10 * time.Second,
		},
		Agents: AgentsConfig{
			MaxSteps:     6,
			HistoryTurns: 10,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
