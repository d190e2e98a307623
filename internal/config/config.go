// Package config loads ponder settings from a TOML file with PONDER_*
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	ProviderOllama    = "ollama"
	ProviderAnthropic = "anthropic"

	// MemoryStore as store.path keeps everything in process.
	MemoryStore = ":memory:"

	defaultProviderName       = ProviderOllama
	defaultOllamaHost         = "http://127.0.0.1:11434"
	defaultOllamaModel        = "llama3.2"
	defaultOllamaEmbedModel   = "nomic-embed-text"
	defaultAnthropicModel     = "claude-sonnet-4-20250514"
	defaultAnthropicVersion   = "2023-06-01"
	defaultRetryMaxRetries    = 3
	defaultRetryBaseDelay     = "300ms"
	defaultRetryMaxDelay      = "5s"
	defaultRefreshWindow      = "300ms"
	defaultStabilizeDelay     = "150ms"
	defaultStabilizeAttempts  = 3
	defaultTitleBudget        = 50
	defaultSessionListLimit   = 50
	defaultMaxTokens          = 1024
	defaultTemperature        = 0.7
	defaultTopK               = 3
	defaultThreshold          = 0.6
	defaultRecentFallback     = 5
	defaultMaxAlternatives    = 3
	defaultExamples           = 2
	defaultLogLevel           = "info"
	defaultTUITheme           = "dark"
	defaultConfigRelativePath = ".config/ponder/config.toml"
	defaultStoreRelativePath  = ".local/share/ponder/ponder.db"
	defaultLogRelativePath    = ".local/state/ponder/ponder.log"

	envProviderDefault  = "PONDER_PROVIDER_DEFAULT"
	envOllamaHost       = "PONDER_OLLAMA_HOST"
	envOllamaModel      = "PONDER_OLLAMA_MODEL"
	envOllamaEmbedModel = "PONDER_OLLAMA_EMBED_MODEL"
	envAnthropicAPIKey  = "ANTHROPIC_API_KEY"
	envAnthropicModel   = "PONDER_ANTHROPIC_MODEL"
	envAnthropicBaseURL = "PONDER_ANTHROPIC_BASE_URL"
	envAnthropicVersion = "PONDER_ANTHROPIC_VERSION"
	envStorePath        = "PONDER_STORE_PATH"
	envChatMaxTokens    = "PONDER_CHAT_MAX_TOKENS"
	envChatTemperature  = "PONDER_CHAT_TEMPERATURE"
	envLogLevel         = "PONDER_LOG_LEVEL"
	envLogPath          = "PONDER_LOG_PATH"
	envLogDevelopment   = "PONDER_LOG_DEVELOPMENT"
	envTUITheme         = "PONDER_TUI_THEME"
)

var (
	// ErrInvalidConfig indicates malformed configuration input.
	ErrInvalidConfig = errors.New("invalid config")
)

// Config is the application configuration root.
type Config struct {
	Provider  ProviderConfig  `toml:"provider"`
	Store     StoreConfig     `toml:"store"`
	Chat      ChatConfig      `toml:"chat"`
	Retrieval RetrievalConfig `toml:"retrieval"`
	Log       LogConfig       `toml:"log"`
	TUI       TUIConfig       `toml:"tui"`
}

// ProviderConfig configures model providers.
type ProviderConfig struct {
	Default   string                  `toml:"default"`
	Ollama    OllamaProviderConfig    `toml:"ollama"`
	Anthropic AnthropicProviderConfig `toml:"anthropic"`
}

// OllamaProviderConfig configures the local Ollama backend.
type OllamaProviderConfig struct {
	Host       string      `toml:"host"`
	Model      string      `toml:"model"`
	EmbedModel string      `toml:"embed_model"`
	Retry      RetryConfig `toml:"retry"`
}

// AnthropicProviderConfig configures Anthropic-specific runtime values.
type AnthropicProviderConfig struct {
	APIKey  string      `toml:"api_key"`
	Model   string      `toml:"model"`
	BaseURL string      `toml:"base_url"`
	Version string      `toml:"version"`
	Retry   RetryConfig `toml:"retry"`
}

// RetryConfig stores retry policy as config-friendly values.
type RetryConfig struct {
	MaxRetries int    `toml:"max_retries"`
	BaseDelay  string `toml:"base_delay"`
	MaxDelay   string `toml:"max_delay"`
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	Path string `toml:"path"`
}

// ChatConfig tunes the conversation pipeline.
type ChatConfig struct {
	RefreshWindow         string  `toml:"refresh_window"`
	StabilizationDelay    string  `toml:"stabilization_delay"`
	StabilizationAttempts int     `toml:"stabilization_attempts"`
	TitleBudget           int     `toml:"title_budget"`
	SessionListLimit      int     `toml:"session_list_limit"`
	MaxTokens             int     `toml:"max_tokens"`
	Temperature           float64 `toml:"temperature"`
}

// RetrievalConfig tunes context assembly.
type RetrievalConfig struct {
	TopK            int     `toml:"top_k"`
	Threshold       float64 `toml:"threshold"`
	RecentFallback  int     `toml:"recent_fallback"`
	MaxAlternatives int     `toml:"max_alternatives"`
	Examples        int     `toml:"examples"`
}

// LogConfig configures the log file.
type LogConfig struct {
	Level       string `toml:"level"`
	Path        string `toml:"path"`
	Development bool   `toml:"development"`
}

// TUIConfig configures terminal UI defaults.
type TUIConfig struct {
	Theme string `toml:"theme"`
}

// LoadOptions controls config loading behavior.
type LoadOptions struct {
	Path string
}

// RetrySettings is a parsed retry policy.
type RetrySettings struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// OllamaSettings is a validated Ollama runtime settings snapshot.
type OllamaSettings struct {
	Host       string
	Model      string
	EmbedModel string
	Retry      RetrySettings
}

// AnthropicSettings is a validated Anthropic runtime settings snapshot.
type AnthropicSettings struct {
	APIKey  string
	Model   string
	BaseURL string
	Version string
	Retry   RetrySettings
}

// ChatSettings is the parsed chat section.
type ChatSettings struct {
	RefreshWindow         time.Duration
	StabilizationDelay    time.Duration
	StabilizationAttempts int
	TitleBudget           int
	SessionListLimit      int
	MaxTokens             int
	Temperature           float64
}

// Default returns application defaults.
func Default() Config {
	retry := RetryConfig{
		MaxRetries: defaultRetryMaxRetries,
		BaseDelay:  defaultRetryBaseDelay,
		MaxDelay:   defaultRetryMaxDelay,
	}
	return Config{
		Provider: ProviderConfig{
			Default: defaultProviderName,
			Ollama: OllamaProviderConfig{
				Host:       defaultOllamaHost,
				Model:      defaultOllamaModel,
				EmbedModel: defaultOllamaEmbedModel,
				Retry:      retry,
			},
			Anthropic: AnthropicProviderConfig{
				Model:   defaultAnthropicModel,
				Version: defaultAnthropicVersion,
				Retry:   retry,
			},
		},
		Store: StoreConfig{Path: homePath(defaultStoreRelativePath)},
		Chat: ChatConfig{
			RefreshWindow:         defaultRefreshWindow,
			StabilizationDelay:    defaultStabilizeDelay,
			StabilizationAttempts: defaultStabilizeAttempts,
			TitleBudget:           defaultTitleBudget,
			SessionListLimit:      defaultSessionListLimit,
			MaxTokens:             defaultMaxTokens,
			Temperature:           defaultTemperature,
		},
		Retrieval: RetrievalConfig{
			TopK:            defaultTopK,
			Threshold:       defaultThreshold,
			RecentFallback:  defaultRecentFallback,
			MaxAlternatives: defaultMaxAlternatives,
			Examples:        defaultExamples,
		},
		Log: LogConfig{
			Level: defaultLogLevel,
			Path:  homePath(defaultLogRelativePath),
		},
		TUI: TUIConfig{Theme: defaultTUITheme},
	}
}

// Load reads config file then applies environment variable overrides.
func Load(opts LoadOptions) (Config, error) {
	cfg := Default()

	path := strings.TrimSpace(opts.Path)
	if path == "" {
		path = homePath(defaultConfigRelativePath)
	}

	if err := mergeConfigFile(&cfg, path); err != nil {
		return Config{}, err
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Model returns the chat model of the selected provider.
func (c Config) Model() string {
	if strings.EqualFold(c.Provider.Default, ProviderAnthropic) {
		return strings.TrimSpace(c.Provider.Anthropic.Model)
	}
	return strings.TrimSpace(c.Provider.Ollama.Model)
}

// OllamaSettings returns validated settings suitable for runtime wiring.
func (c Config) OllamaSettings() (OllamaSettings, error) {
	retry, err := c.Provider.Ollama.Retry.settings("ollama")
	if err != nil {
		return OllamaSettings{}, err
	}
	return OllamaSettings{
		Host:       strings.TrimSpace(c.Provider.Ollama.Host),
		Model:      strings.TrimSpace(c.Provider.Ollama.Model),
		EmbedModel: strings.TrimSpace(c.Provider.Ollama.EmbedModel),
		Retry:      retry,
	}, nil
}

// AnthropicSettings returns validated settings suitable for runtime wiring.
func (c Config) AnthropicSettings() (AnthropicSettings, error) {
	retry, err := c.Provider.Anthropic.Retry.settings("anthropic")
	if err != nil {
		return AnthropicSettings{}, err
	}
	return AnthropicSettings{
		APIKey:  strings.TrimSpace(c.Provider.Anthropic.APIKey),
		Model:   strings.TrimSpace(c.Provider.Anthropic.Model),
		BaseURL: strings.TrimSpace(c.Provider.Anthropic.BaseURL),
		Version: strings.TrimSpace(c.Provider.Anthropic.Version),
		Retry:   retry,
	}, nil
}

// ChatSettings parses the chat section.
func (c Config) ChatSettings() (ChatSettings, error) {
	window, err := time.ParseDuration(strings.TrimSpace(c.Chat.RefreshWindow))
	if err != nil {
		return ChatSettings{}, fmt.Errorf("%w: parse chat refresh_window: %v", ErrInvalidConfig, err)
	}
	delay, err := time.ParseDuration(strings.TrimSpace(c.Chat.StabilizationDelay))
	if err != nil {
		return ChatSettings{}, fmt.Errorf("%w: parse chat stabilization_delay: %v", ErrInvalidConfig, err)
	}
	return ChatSettings{
		RefreshWindow:         window,
		StabilizationDelay:    delay,
		StabilizationAttempts: c.Chat.StabilizationAttempts,
		TitleBudget:           c.Chat.TitleBudget,
		SessionListLimit:      c.Chat.SessionListLimit,
		MaxTokens:             c.Chat.MaxTokens,
		Temperature:           c.Chat.Temperature,
	}, nil
}

func (r RetryConfig) settings(provider string) (RetrySettings, error) {
	baseDelay, err := time.ParseDuration(strings.TrimSpace(r.BaseDelay))
	if err != nil {
		return RetrySettings{}, fmt.Errorf("%w: parse %s retry base_delay: %v", ErrInvalidConfig, provider, err)
	}
	maxDelay, err := time.ParseDuration(strings.TrimSpace(r.MaxDelay))
	if err != nil {
		return RetrySettings{}, fmt.Errorf("%w: parse %s retry max_delay: %v", ErrInvalidConfig, provider, err)
	}
	if r.MaxRetries < 0 {
		return RetrySettings{}, fmt.Errorf("%w: %s retry max_retries must be >= 0", ErrInvalidConfig, provider)
	}
	return RetrySettings{MaxRetries: r.MaxRetries, BaseDelay: baseDelay, MaxDelay: maxDelay}, nil
}

func mergeConfigFile(cfg *Config, path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString := func(key string, dst *string) {
		if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
			*dst = strings.TrimSpace(value)
		}
	}
	setString(envProviderDefault, &cfg.Provider.Default)
	setString(envOllamaHost, &cfg.Provider.Ollama.Host)
	setString(envOllamaModel, &cfg.Provider.Ollama.Model)
	setString(envOllamaEmbedModel, &cfg.Provider.Ollama.EmbedModel)
	if value, ok := os.LookupEnv(envAnthropicAPIKey); ok {
		cfg.Provider.Anthropic.APIKey = value
	}
	setString(envAnthropicModel, &cfg.Provider.Anthropic.Model)
	setString(envAnthropicBaseURL, &cfg.Provider.Anthropic.BaseURL)
	setString(envAnthropicVersion, &cfg.Provider.Anthropic.Version)
	setString(envStorePath, &cfg.Store.Path)
	setString(envLogLevel, &cfg.Log.Level)
	setString(envLogPath, &cfg.Log.Path)
	setString(envTUITheme, &cfg.TUI.Theme)

	if value, ok := os.LookupEnv(envChatMaxTokens); ok && strings.TrimSpace(value) != "" {
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, envChatMaxTokens, err)
		}
		cfg.Chat.MaxTokens = parsed
	}
	if value, ok := os.LookupEnv(envChatTemperature); ok && strings.TrimSpace(value) != "" {
		parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, envChatTemperature, err)
		}
		cfg.Chat.Temperature = parsed
	}
	if value, ok := os.LookupEnv(envLogDevelopment); ok && strings.TrimSpace(value) != "" {
		parsed, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, envLogDevelopment, err)
		}
		cfg.Log.Development = parsed
	}
	return nil
}

func validate(cfg Config) error {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider.Default)) {
	case ProviderOllama:
		if strings.TrimSpace(cfg.Provider.Ollama.Model) == "" {
			return fmt.Errorf("%w: provider.ollama.model is required", ErrInvalidConfig)
		}
		if _, err := cfg.OllamaSettings(); err != nil {
			return err
		}
	case ProviderAnthropic:
		if strings.TrimSpace(cfg.Provider.Anthropic.Model) == "" {
			return fmt.Errorf("%w: provider.anthropic.model is required", ErrInvalidConfig)
		}
		if _, err := cfg.AnthropicSettings(); err != nil {
			return err
		}
	case "":
		return fmt.Errorf("%w: provider.default is required", ErrInvalidConfig)
	default:
		return fmt.Errorf("%w: provider.default must be %q or %q, got %q", ErrInvalidConfig, ProviderOllama, ProviderAnthropic, cfg.Provider.Default)
	}

	if _, err := cfg.ChatSettings(); err != nil {
		return err
	}
	if cfg.Chat.MaxTokens <= 0 {
		return fmt.Errorf("%w: chat.max_tokens must be > 0", ErrInvalidConfig)
	}
	if cfg.Chat.Temperature < 0 || cfg.Chat.Temperature > 2 {
		return fmt.Errorf("%w: chat.temperature must be within [0, 2]", ErrInvalidConfig)
	}
	if cfg.Retrieval.Threshold < 0 || cfg.Retrieval.Threshold > 1 {
		return fmt.Errorf("%w: retrieval.threshold must be within [0, 1]", ErrInvalidConfig)
	}
	if cfg.Retrieval.TopK < 0 || cfg.Retrieval.RecentFallback < 0 {
		return fmt.Errorf("%w: retrieval counts must be >= 0", ErrInvalidConfig)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Log.Level)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: log.level must be debug, info, warn or error, got %q", ErrInvalidConfig, cfg.Log.Level)
	}
	return nil
}

func homePath(rel string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, rel)
}
