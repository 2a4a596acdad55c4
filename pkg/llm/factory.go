package llm

import (
	"fmt"

	"helpdesk/pkg/config"
)

// NewClient constructs a provider client from config, wrapped with the
// standard middleware chain (timeout innermost, retry outermost).
func NewClient(cfg *config.LLMConfig) (Client, error) {
	base, err := newBaseClient(cfg)
	if err != nil {
		return nil, err
	}

	return Chain(base,
		InstrumentMiddleware(),
		RetryMiddleware(),
		TimeoutMiddleware(cfg.CallTimeout),
	), nil
}

// newBaseClient constructs the raw provider client without middleware.
func newBaseClient(cfg *config.LLMConfig) (Client, error) {
	apiKey, err := config.GetAPIKey(cfg.Provider)
	if err != nil {
		return nil, fmt.Errorf("resolve API key: %w", err)
	}

	switch cfg.Provider {
	case config.ProviderGoogle:
		return NewGeminiClient(apiKey, cfg.Model), nil
	case config.ProviderAnthropic:
		return NewClaudeClient(apiKey, cfg.Model), nil
	case config.ProviderOpenAI:
		return NewOpenAIClient(apiKey, cfg.Model), nil
	case config.ProviderOllama:
		return NewOllamaClient(cfg.Host, cfg.Model), nil
	case config.ProviderMock:
		return NewMockClient(), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %q", cfg.Provider)
	}
}
