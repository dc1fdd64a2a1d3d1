package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/relay/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show effective configuration",
	Long: `Display the configuration relay would run with after merging
defaults, the user config, the project config and environment variables.

User configuration is read from ~/.config/relay/config.yaml
Project-specific overrides can be placed in .relay.yaml
Environment overrides use the RELAY_ prefix, e.g. RELAY_LLM_PROVIDER=openai`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		displayAllConfig(cmd.Context(), cmd.OutOrStdout(), cfg)
		return nil
	},
}

// displayAllConfig prints all configuration values. SSM parameters are
// not fetched; only the parameter name is shown.
func displayAllConfig(ctx context.Context, w io.Writer, cfg *config.Config) {
	key, source, err := config.ResolveAPIKey(ctx, cfg, nil)
	keyDisplay := config.MaskAPIKey(key)
	switch {
	case cfg.LLM.UseBedrock:
		keyDisplay = "(aws bedrock credentials)"
	case err != nil && cfg.LLM.APIKeyParam != "":
		keyDisplay, source = "ssm:"+cfg.LLM.APIKeyParam, config.KeySourceSSM
	}

	fmt.Fprintf(w, "config.user: %s\n", config.GetUserConfigPath())
	if p := config.GetProjectConfigPath(); p != "" {
		fmt.Fprintf(w, "config.project: %s\n", p)
	}
	if configPath != "" {
		fmt.Fprintf(w, "config.file: %s\n", configPath)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "llm.provider: %s\n", cfg.LLM.Provider)
	fmt.Fprintf(w, "llm.model: %s\n", valueOr(cfg.LLM.Model, "(provider default)"))
	fmt.Fprintf(w, "llm.api_key: %s (%s)\n", keyDisplay, source)
	fmt.Fprintf(w, "llm.base_url: %s\n", valueOr(cfg.LLM.BaseURL, "(default)"))
	fmt.Fprintf(w, "llm.use_bedrock: %t\n", cfg.LLM.UseBedrock)
	fmt.Fprintf(w, "llm.max_tokens: %d\n", cfg.LLM.MaxTokens)

	fmt.Fprintf(w, "dispatch.max_retries: %d\n", cfg.Dispatch.MaxRetries)
	fmt.Fprintf(w, "dispatch.checkpoint_each_item: %t\n", cfg.Dispatch.CheckpointEachItem)
	fmt.Fprintf(w, "dispatch.save_timeout: %s\n", cfg.Dispatch.SaveTimeout)
	fmt.Fprintf(w, "dispatch.summarize_after: %d\n", cfg.Dispatch.SummarizeAfter)
	fmt.Fprintf(w, "dispatch.decompose_cache_ttl: %s\n", cfg.Dispatch.CacheTTL)
	fmt.Fprintf(w, "dispatch.fast_path: %t\n", cfg.Dispatch.FastPath)

	fmt.Fprintf(w, "checkpoint.backend: %s\n", cfg.Checkpoint.Backend)
	switch cfg.Checkpoint.Backend {
	case "sqlite":
		fmt.Fprintf(w, "checkpoint.path: %s\n", valueOr(cfg.Checkpoint.Path, "(default)"))
		fmt.Fprintf(w, "checkpoint.driver: %s\n", cfg.Checkpoint.Driver)
	case "dynamodb":
		fmt.Fprintf(w, "checkpoint.dynamodb_table: %s\n", cfg.Checkpoint.DynamoDBTable)
		fmt.Fprintf(w, "checkpoint.ttl: %s\n", cfg.Checkpoint.TTL)
	}

	fmt.Fprintf(w, "server.addr: %s\n", cfg.Server.Addr)
	fmt.Fprintf(w, "tools.search_endpoint: %s\n", valueOr(cfg.Tools.SearchEndpoint, "(default)"))
	fmt.Fprintf(w, "tools.python_binary: %s\n", cfg.Tools.PythonBinary)
	fmt.Fprintf(w, "agents.profiles_path: %s\n", valueOr(cfg.Agents.ProfilesPath, "(built-in)"))
	fmt.Fprintf(w, "log.level: %s\n", cfg.Log.Level)
	fmt.Fprintf(w, "log.format: %s\n", cfg.Log.Format)
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

