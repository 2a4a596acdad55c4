// Package config provides configuration loading, validation, and management for the helpdesk service.
//
// A single global Config instance is maintained in memory, protected by mutex.
// GetConfig() returns the config BY VALUE (copy, not reference) to prevent
// external mutation; reloads go through LoadConfig. Validation happens before
// the config is published, so consumers never observe a half-valid config.
//
// API keys are never stored in the config file. They are resolved from the
// environment at client construction time (see GetAPIKey).
package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"helpdesk/pkg/logx"
)

// Provider name constants.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderOllama    = "ollama"
	ProviderMock      = "mock"
)

// Defaults applied when the config file omits a field.
const (
	DefaultLLMProvider    = ProviderGoogle
	DefaultLLMModel       = "gemini-2.5-flash"
	DefaultTemperature    = 0.1
	DefaultMaxTokens      = 2048
	DefaultEmbedModel     = "gemini-embedding-001"
	DefaultSimilarityMin  = 0.4
	DefaultDatabasePath   = "helpdesk.db"
	DefaultKBPath         = "kb.txt"
	DefaultSessionIdle    = 30 * time.Minute
	DefaultHistoryTokens  = 6000
	DefaultLLMCallTimeout = 60 * time.Second
)

// LLMConfig selects and tunes the completion model.
type LLMConfig struct {
	Provider    string        `yaml:"provider"`
	Model       string        `yaml:"model"`
	Temperature float32       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	CallTimeout time.Duration `yaml:"call_timeout"`
	Host        string        `yaml:"host,omitempty"` // Ollama only
}

// EmbeddingConfig selects the embedding model used by the KB index.
type EmbeddingConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	Host     string `yaml:"host,omitempty"` // Ollama only
}

// RetrievalConfig tunes KB matching behavior.
type RetrievalConfig struct {
	// SimilarityMin is the cosine similarity a KB entry must reach to be
	// considered a match for a new incident.
	SimilarityMin float64 `yaml:"similarity_min"`
	// FailOpen controls behavior when the retriever itself is unavailable:
	// false (default) surfaces the error; true treats it as "no match".
	FailOpen bool `yaml:"fail_open"`
}

// StorageConfig locates the durable stores.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	KBPath       string `yaml:"kb_path"`
}

// SessionConfig tunes the conversation session layer.
type SessionConfig struct {
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	// HistoryTokenBudget caps how much conversation history is replayed into
	// each LLM prompt, measured in tokens.
	HistoryTokenBudget int `yaml:"history_token_budget"`
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Config is the top-level service configuration.
type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Storage   StorageConfig   `yaml:"storage"`
	Session   SessionConfig   `yaml:"session"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// Global config instance with mutex protection.
//
//nolint:gochecknoglobals // Intentional singleton pattern for config management
var (
	config *Config
	logger *logx.Logger
	mu     sync.RWMutex
)

// getLogger returns the config logger, initializing it if needed.
func getLogger() *logx.Logger {
	if logger == nil {
		logger = logx.NewLogger("config")
	}
	return logger
}

// DefaultConfig returns a config populated with all defaults. Used when no
// config file exists and as the base that file values overlay.
func DefaultConfig() Config {
	return Config{
		LLM: LLMConfig{
			Provider:    DefaultLLMProvider,
			Model:       DefaultLLMModel,
			Temperature: DefaultTemperature,
			MaxTokens:   DefaultMaxTokens,
			CallTimeout: DefaultLLMCallTimeout,
		},
		Embedding: EmbeddingConfig{
			Provider: ProviderGoogle,
			Model:    DefaultEmbedModel,
		},
		Retrieval: RetrievalConfig{
			SimilarityMin: DefaultSimilarityMin,
			FailOpen:      false,
		},
		Storage: StorageConfig{
			DatabasePath: DefaultDatabasePath,
			KBPath:       DefaultKBPath,
		},
		Session: SessionConfig{
			IdleTimeout:        DefaultSessionIdle,
			HistoryTokenBudget: DefaultHistoryTokens,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9090",
		},
	}
}

// LoadConfig reads the YAML config file at path, overlays it on the defaults,
// validates the result, and publishes it as the global config. A missing file
// is not an error: defaults are used.
func LoadConfig(path string) error {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		getLogger().Info("No config file at %s, using defaults", path)
	case err != nil:
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	config = &cfg

	getLogger().Info("⚙️  Config loaded: llm=%s/%s embedding=%s/%s",
		cfg.LLM.Provider, cfg.LLM.Model, cfg.Embedding.Provider, cfg.Embedding.Model)
	return nil
}

// SetConfig publishes a config directly, bypassing file loading. Intended for tests.
func SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	mu.Lock()
	defer mu.Unlock()
	config = &cfg
	return nil
}

// GetConfig returns a copy of the current config.
func GetConfig() (Config, error) {
	mu.RLock()
	defer mu.RUnlock()
	if config == nil {
		return Config{}, fmt.Errorf("config not loaded: call config.LoadConfig first")
	}
	return *config, nil
}

// Validate checks the config for internal consistency.
func (c *Config) Validate() error {
	if !isKnownProvider(c.LLM.Provider) {
		return fmt.Errorf("unknown llm provider: %q", c.LLM.Provider)
	}
	if !isKnownProvider(c.Embedding.Provider) {
		return fmt.Errorf("unknown embedding provider: %q", c.Embedding.Provider)
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm model must not be empty")
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("llm max_tokens must be positive, got %d", c.LLM.MaxTokens)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm temperature must be in [0, 2], got %f", c.LLM.Temperature)
	}
	if c.Retrieval.SimilarityMin < 0 || c.Retrieval.SimilarityMin > 1 {
		return fmt.Errorf("retrieval similarity_min must be in [0, 1], got %f", c.Retrieval.SimilarityMin)
	}
	if c.Storage.DatabasePath == "" {
		return fmt.Errorf("storage database_path must not be empty")
	}
	if c.Session.IdleTimeout <= 0 {
		return fmt.Errorf("session idle_timeout must be positive")
	}
	if c.Session.HistoryTokenBudget <= 0 {
		return fmt.Errorf("session history_token_budget must be positive")
	}
	return nil
}

func isKnownProvider(provider string) bool {
	switch provider {
	case ProviderAnthropic, ProviderOpenAI, ProviderGoogle, ProviderOllama, ProviderMock:
		return true
	default:
		return false
	}
}

// GetAPIKey resolves the API key for a provider from the environment.
// Returns an error for providers that require a key when none is set;
// Ollama and mock need no key.
func GetAPIKey(provider string) (string, error) {
	var envVars []string
	switch provider {
	case ProviderAnthropic:
		envVars = []string{"ANTHROPIC_API_KEY"}
	case ProviderOpenAI:
		envVars = []string{"OPENAI_API_KEY"}
	case ProviderGoogle:
		envVars = []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"}
	case ProviderOllama, ProviderMock:
		return "", nil
	default:
		return "", fmt.Errorf("unknown provider: %q", provider)
	}

	for _, envVar := range envVars {
		if key := os.Getenv(envVar); key != "" {
			return key, nil
		}
	}
	return "", fmt.Errorf("no API key for provider %s: set %s", provider, envVars[0])
}
