package embed

import (
	"fmt"
	"strings"

	"github.com/Aman-CERP/regsearch/internal/config"
)

// New builds the configured embedder wrapped in a query cache.
func New(cfg config.EmbeddingsConfig) (Embedder, error) {
	var inner Embedder
	switch strings.ToLower(cfg.Provider) {
	case "", "static":
		inner = NewStaticEmbedder()
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai embedder needs REGSEARCH_OPENAI_API_KEY")
		}
		inner = NewOpenAIEmbedder(OpenAIConfig{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
		})
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", cfg.Provider)
	}
	return NewCachedEmbedder(inner, cfg.CacheSize), nil
}
