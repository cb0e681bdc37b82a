package ai

import (
	"context"
	"fmt"

	"github.com/digiflow/invoice-digitization-service/internal/models"
)

// Provider abstracts one LLM vendor. Vision support is a capability, not a
// given: callers must check SupportsVision before sending images.
type Provider interface {
	Name() string
	SupportsVision() bool
	Chat(ctx context.Context, system, user string) (string, error)
	ChatVision(ctx context.Context, system, user string, images [][]byte) (string, error)
	Embed(ctx context.Context, text string) ([]float32, error)
}

// NewProvider builds the configured default provider.
func NewProvider(cfg models.AIConfig) (Provider, error) {
	switch cfg.DefaultProvider {
	case "openai", "":
		if cfg.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("openai provider selected but no api key configured")
		}
		return NewOpenAIProvider(cfg.OpenAI), nil
	case "gemini":
		if cfg.Gemini.APIKey == "" {
			return nil, fmt.Errorf("gemini provider selected but no api key configured")
		}
		return NewGeminiProvider(cfg.Gemini)
	default:
		return nil, fmt.Errorf("unknown ai provider %q", cfg.DefaultProvider)
	}
}
