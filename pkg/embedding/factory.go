package embedding

import (
	"fmt"

	"helpdesk/pkg/config"
)

// NewEmbedder constructs an embedding engine from config. Real provider
// engines are wrapped with the capability retry budget; the mock is left
// bare so tests see every call.
func NewEmbedder(cfg *config.EmbeddingConfig) (Embedder, error) {
	switch cfg.Provider {
	case config.ProviderGoogle:
		apiKey, err := config.GetAPIKey(cfg.Provider)
		if err != nil {
			return nil, fmt.Errorf("resolve API key: %w", err)
		}
		engine, err := NewGenAIEngine(apiKey, cfg.Model)
		if err != nil {
			return nil, err
		}
		return WithRetry(engine), nil
	case config.ProviderOllama:
		engine, err := NewOllamaEngine(cfg.Host, cfg.Model)
		if err != nil {
			return nil, err
		}
		return WithRetry(engine), nil
	case config.ProviderMock:
		return NewMockEmbedder(), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %q", cfg.Provider)
	}
}
