package llm

import (
	"context"
	"fmt"

	"deepscout/internal/config"
	"deepscout/internal/logging"
)

// New creates a completion client from configuration.
func New(ctx context.Context, cfg config.LLMConfig, log logging.Sink) (Client, error) {
	switch cfg.Provider {
	case "genai", "":
		client, err := NewGenAIClient(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, err
		}
		log.Infow("completion client ready", "backend", client.Name())
		return client, nil
	case "ollama":
		client := NewOllamaClient(cfg.OllamaEndpoint, cfg.OllamaModel)
		log.Infow("completion client ready", "backend", client.Name())
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s (use 'genai' or 'ollama')", cfg.Provider)
	}
}
