package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ponder/internal/agent"
	"ponder/internal/chat"
	"ponder/internal/config"
	"ponder/internal/llm"
	"ponder/internal/logging"
	"ponder/internal/prompt"
	"ponder/internal/retrieval"
	"ponder/internal/sessions"
	"ponder/internal/store"
	"ponder/internal/store/memory"
	"ponder/internal/store/sqlite"
	"ponder/internal/tools"

	"go.uber.org/zap"
)

var errUnsupportedProvider = errors.New("unsupported provider")

// runtime is every long-lived component of one process, wired from config.
type runtime struct {
	cfg       config.Config
	log       *zap.Logger
	store     store.Store
	events    *chat.Broadcaster
	backend   llm.Backend
	retrieval *retrieval.Service
	sessions  *sessions.Manager
	agent     *agent.Agent
}

func openRuntime(ctx context.Context, configPath string) (*runtime, error) {
	cfg, err := config.Load(config.LoadOptions{Path: strings.TrimSpace(configPath)})
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logging.New(logging.Settings{
		Level:       cfg.Log.Level,
		Path:        cfg.Log.Path,
		Development: cfg.Log.Development,
	})
	if err != nil {
		return nil, err
	}

	st, err := openStore(ctx, cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	rt := &runtime{cfg: cfg, log: log, store: st, events: chat.NewBroadcaster()}
	if err := rt.wire(); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func openStore(ctx context.Context, path string) (store.Store, error) {
	if strings.TrimSpace(path) == config.MemoryStore {
		return memory.New(), nil
	}
	return sqlite.Open(ctx, path)
}

func (rt *runtime) wire() error {
	cfg := rt.cfg
	backend, model, err := buildBackend(cfg)
	if err != nil {
		return fmt.Errorf("build backend: %w", err)
	}
	rt.backend = backend

	chatSettings, err := cfg.ChatSettings()
	if err != nil {
		return err
	}

	rt.retrieval, err = buildRetrieval(cfg, rt.store, rt.log)
	if err != nil {
		rt.log.Warn("retrieval disabled", zap.Error(err))
	}

	rt.sessions, err = sessions.New(sessions.Config{
		Store:         rt.store,
		Events:        rt.events,
		Logger:        rt.log.Named("sessions"),
		RefreshWindow: chatSettings.RefreshWindow,
		TitleBudget:   chatSettings.TitleBudget,
		ListLimit:     chatSettings.SessionListLimit,
	})
	if err != nil {
		return fmt.Errorf("create session manager: %w", err)
	}

	asmCfg := prompt.Config{
		Journal:         rt.store,
		Examples:        prompt.DefaultExamples(),
		Logger:          rt.log.Named("prompt"),
		TopK:            cfg.Retrieval.TopK,
		Threshold:       cfg.Retrieval.Threshold,
		RecentFallback:  cfg.Retrieval.RecentFallback,
		MaxAlternatives: cfg.Retrieval.MaxAlternatives,
		ExampleCount:    cfg.Retrieval.Examples,
	}
	var searcher tools.Searcher
	if rt.retrieval != nil {
		asmCfg.Retriever = rt.retrieval
		searcher = rt.retrieval
	}
	asm, err := prompt.New(asmCfg)
	if err != nil {
		return fmt.Errorf("create assembler: %w", err)
	}

	registry, err := tools.NewBuiltinRegistry(searcher)
	if err != nil {
		return fmt.Errorf("build tool registry: %w", err)
	}

	retry, err := retryPolicy(cfg)
	if err != nil {
		return err
	}
	temperature := chatSettings.Temperature
	rt.agent, err = agent.New(agent.Config{
		Backend:               backend,
		Sessions:              rt.sessions,
		Messages:              rt.store,
		Journal:               rt.store,
		Assembler:             asm,
		Tools:                 registry,
		Events:                rt.events,
		Logger:                rt.log.Named("agent"),
		Model:                 model,
		MaxTokens:             chatSettings.MaxTokens,
		Temperature:           &temperature,
		Retry:                 retry,
		StabilizationDelay:    chatSettings.StabilizationDelay,
		StabilizationAttempts: chatSettings.StabilizationAttempts,
	})
	if err != nil {
		return fmt.Errorf("create agent: %w", err)
	}
	return nil
}

// Close stops background work and releases the store.
func (rt *runtime) Close() {
	if rt.agent != nil {
		rt.agent.Close()
	} else if rt.sessions != nil {
		rt.sessions.Close()
	}
	rt.events.Close()
	if err := rt.store.Close(); err != nil {
		rt.log.Warn("close store", zap.Error(err))
	}
	_ = rt.log.Sync()
}

func buildBackend(cfg config.Config) (llm.Backend, string, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider.Default)) {
	case "", config.ProviderOllama:
		settings, err := cfg.OllamaSettings()
		if err != nil {
			return nil, "", fmt.Errorf("resolve ollama settings: %w", err)
		}
		backend, err := llm.NewBackend(llm.BackendConfig{
			Name: llm.BackendOllama,
			Ollama: llm.OllamaConfig{
				Host:       settings.Host,
				EmbedModel: settings.EmbedModel,
				Retry:      retrySettings(settings.Retry),
			},
		})
		if err != nil {
			return nil, "", err
		}
		return backend, settings.Model, nil
	case config.ProviderAnthropic:
		settings, err := cfg.AnthropicSettings()
		if err != nil {
			return nil, "", fmt.Errorf("resolve anthropic settings: %w", err)
		}
		if strings.TrimSpace(settings.APIKey) == "" {
			return nil, "", llm.ErrMissingAPIKey
		}
		backend, err := llm.NewBackend(llm.BackendConfig{
			Name: llm.BackendAnthropic,
			Anthropic: llm.AnthropicConfig{
				APIKey:  settings.APIKey,
				BaseURL: settings.BaseURL,
				Version: settings.Version,
				Retry:   retrySettings(settings.Retry),
			},
		})
		if err != nil {
			return nil, "", err
		}
		return backend, settings.Model, nil
	default:
		return nil, "", fmt.Errorf("%w: %s", errUnsupportedProvider, cfg.Provider.Default)
	}
}

// buildRetrieval embeds with the local Ollama server whichever chat backend
// is selected.
func buildRetrieval(cfg config.Config, st store.Store, log *zap.Logger) (*retrieval.Service, error) {
	settings, err := cfg.OllamaSettings()
	if err != nil {
		return nil, err
	}
	if settings.EmbedModel == "" {
		return nil, errors.New("no embedding model configured")
	}
	embedder, err := llm.NewOllamaProvider(llm.OllamaConfig{
		Host:       settings.Host,
		EmbedModel: settings.EmbedModel,
		Retry:      retrySettings(settings.Retry),
	})
	if err != nil {
		return nil, err
	}
	return retrieval.New(retrieval.Config{
		Embedder: embedder,
		Index:    st,
		Model:    settings.EmbedModel,
		Logger:   log.Named("retrieval"),
	})
}

func retryPolicy(cfg config.Config) (llm.RetryPolicy, error) {
	if strings.EqualFold(cfg.Provider.Default, config.ProviderAnthropic) {
		settings, err := cfg.AnthropicSettings()
		if err != nil {
			return llm.RetryPolicy{}, err
		}
		return retrySettings(settings.Retry), nil
	}
	settings, err := cfg.OllamaSettings()
	if err != nil {
		return llm.RetryPolicy{}, err
	}
	return retrySettings(settings.Retry), nil
}

func retrySettings(s config.RetrySettings) llm.RetryPolicy {
	return llm.RetryPolicy{
		MaxRetries: s.MaxRetries,
		BaseDelay:  s.BaseDelay,
		MaxDelay:   s.MaxDelay,
	}
}
