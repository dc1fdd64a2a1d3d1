package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/ShayCichocki/relay/internal/agent"
	"github.com/ShayCichocki/relay/internal/api"
	"github.com/ShayCichocki/relay/internal/config"
	"github.com/ShayCichocki/relay/internal/decompose"
	"github.com/ShayCichocki/relay/internal/dispatch"
	"github.com/ShayCichocki/relay/internal/format"
	"github.com/ShayCichocki/relay/internal/llm"
	"github.com/ShayCichocki/relay/internal/metrics"
	"github.com/ShayCichocki/relay/internal/state"
	"github.com/ShayCichocki/relay/internal/summarize"
	"github.com/ShayCichocki/relay/internal/tools"
)

// app holds the wired components shared by ask, serve and recover.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	model      api.Model
	store      state.CheckpointStore
	metrics    *metrics.Metrics
	dispatcher *dispatch.Dispatcher
}

// newApp wires every component from cfg. The caller must Close the app.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	model, err := newModel(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	store, err := newStore(ctx, cfg.Checkpoint)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	d, err := newDispatcher(cfg, model, store, m, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	return &app{
		cfg:        cfg,
		logger:     logger,
		model:      model,
		store:      store,
		metrics:    m,
		dispatcher: d,
	}, nil
}

// Close releases the checkpoint store.
func (a *app) Close() error {
	return a.store.Close()
}

// newModel creates the language model client for the configured provider.
func newModel(ctx context.Context, cfg *config.Config, logger *slog.Logger) (api.Model, error) {
	var key string
	if !cfg.LLM.UseBedrock {
		params, err := newParameterStore(ctx, cfg.LLM)
		if err != nil {
			return nil, err
		}
		var source config.KeySource
		key, source, err = config.ResolveAPIKey(ctx, cfg, params)
		switch {
		case errors.Is(err, config.ErrNoAPIKey) && cfg.LLM.BaseURL != "":
			// Local gateways often run without a key.
		case err != nil:
			return nil, fmt.Errorf("resolve %s api key (set %s): %w", cfg.LLM.Provider, config.ProviderEnvVar(cfg.LLM.Provider), err)
		default:
			logger.Debug("resolved API key", "provider", cfg.LLM.Provider, "source", source, "key", config.MaskAPIKey(key))
		}
	}

	model, err := api.NewModel(api.ProviderConfig{
		Provider:   cfg.LLM.Provider,
		Model:      cfg.LLM.Model,
		APIKey:     key,
		BaseURL:    cfg.LLM.BaseURL,
		UseBedrock: cfg.LLM.UseBedrock,
		AWSRegion:  cfg.LLM.AWSRegion,
		AWSProfile: cfg.LLM.AWSProfile,
		MaxTokens:  cfg.LLM.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("create %s model: %w", cfg.LLM.Provider, err)
	}
	return model, nil
}

// newParameterStore returns an SSM client when the key lives in SSM.
func newParameterStore(ctx context.Context, cfg config.LLMConfig) (config.ParameterStore, error) {
	if cfg.APIKeyParam == "" {
		return nil, nil
	}
	awsCfg, err := loadAWSConfig(ctx, cfg.AWSRegion, cfg.AWSProfile)
	if err != nil {
		return nil, err
	}
	return ssm.NewFromConfig(awsCfg), nil
}

// newStore opens the configured checkpoint backend.
func newStore(ctx context.Context, cfg config.CheckpointConfig) (state.CheckpointStore, error) {
	switch cfg.Backend {
	case "memory":
		return state.NewMemoryStore(), nil
	case "dynamodb":
		awsCfg, err := loadAWSConfig(ctx, cfg.AWSRegion, "")
		if err != nil {
			return nil, err
		}
		store, err := state.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.DynamoDBTable, cfg.TTL)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		path := cfg.Path
		if path == "" {
			path = state.DefaultDBPath()
		}
		db, err := state.Open(path, cfg.Driver)
		if err != nil {
			return nil, fmt.Errorf("open checkpoint database: %w", err)
		}
		return db, nil
	}
}

func loadAWSConfig(ctx context.Context, region, profile string) (aws.Config, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	if profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(profile))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return awsCfg, fmt.Errorf("load aws config: %w", err)
	}
	return awsCfg, nil
}

// newDispatcher builds the agents, tools, decomposer, formatter and
// summarizer around model and hands them to a Dispatcher.
func newDispatcher(cfg *config.Config, model api.Model, store state.CheckpointStore, m *metrics.Metrics, logger *slog.Logger) (*dispatch.Dispatcher, error) {
	bounded := llm.WithRequestTimeout(model, cfg.LLM.RequestTimeout)

	registry := tools.NewDefaultRegistry(tools.Options{
		SearchEndpoint: cfg.Tools.SearchEndpoint,
		MaxResults:     cfg.Tools.MaxResults,
		HTTPTimeout:    cfg.Tools.HTTPTimeout,
		FetchMaxChars:  cfg.Tools.FetchMaxChars,
		PythonBinary:   cfg.Tools.PythonBinary,
		PythonTimeout:  cfg.Tools.PythonTimeout,
	})

	profiles := agent.DefaultProfiles()
	if cfg.Agents.ProfilesPath != "" {
		loaded, err := agent.LoadProfiles(cfg.Agents.ProfilesPath)
		if err != nil {
			return nil, err
		}
		profiles = loaded
	}

	runner, err := agent.NewRunner(bounded, registry, profiles,
		agent.WithMaxSteps(cfg.Agents.MaxSteps),
		agent.WithHistoryTurns(cfg.Agents.HistoryTurns),
		agent.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	deps := dispatch.Deps{
		Decomposer: decompose.New(bounded,
			decompose.WithCacheTTL(cfg.Dispatch.CacheTTL),
			decompose.WithFastPath(cfg.Dispatch.FastPath),
			decompose.WithContextTurns(cfg.Dispatch.ContextTurns),
			decompose.WithLogger(logger),
		),
		Agents:    runner,
		Tools:     tools.NewExecutor(registry, logger),
		Formatter: format.New(bounded, format.WithLogger(logger)),
		Store:     store,
	}
	if cfg.Dispatch.SummarizeAfter > 0 {
		deps.Summarizer = summarize.New(bounded,
			summarize.WithThreshold(cfg.Dispatch.SummarizeAfter),
			summarize.WithKeep(cfg.Dispatch.SummaryKeep),
			summarize.WithLogger(logger),
		)
	}

	return dispatch.New(deps,
		dispatch.WithMaxRetries(cfg.Dispatch.MaxRetries),
		dispatch.WithCheckpointEachItem(cfg.Dispatch.CheckpointEachItem),
		dispatch.WithSaveTimeout(cfg.Dispatch.SaveTimeout),
		dispatch.WithEventBuffer(cfg.Dispatch.EventBuffer),
		dispatch.WithMetrics(m),
		dispatch.WithLogger(logger),
	)
}
