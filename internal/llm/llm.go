package llm

import (
	"github.com/sashabaranov/go-openai"

	"github.com/comigor/chatvault/internal/config"
)

// NewClient creates a new OpenAI client authenticated with apiKey. An empty
// base URL keeps the library default.
func NewClient(apiKey string, cfg config.EnrichConfig) *openai.Client {
	config := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	return openai.NewClientWithConfig(config)
}
