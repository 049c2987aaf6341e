package batch

import (
	"fmt"
	"strings"

	"github.com/comigor/chatvault/internal/config"
	"github.com/comigor/chatvault/internal/llm"
)

// New builds the backend named by cfg.Provider, authenticated with apiKey.
func New(apiKey string, cfg config.EnrichConfig) (Backend, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "openai":
		return NewOpenAI(llm.NewClient(apiKey, cfg), cfg), nil
	case "anthropic":
		return NewAnthropic(apiKey, cfg), nil
	default:
		return nil, fmt.Errorf("unknown enrichment provider %q", cfg.Provider)
	}
}
