// Package intel is the content-intelligence collaborator: it classifies,
// summarizes and embeds text. Two implementations exist: Local, a
// deterministic offline heuristic, and OpenAI, an OpenAI-compatible HTTP client.
package intel

import (
	"context"
	"fmt"
	"os"

	"github.com/hpungsan/cairn/internal/config"
	"github.com/hpungsan/cairn/internal/record"
	"go.uber.org/zap"
)

// Hints carries caller-supplied context for classification, such as
// "project" or "topic". Hints win over inferred values.
type Hints map[string]string

// Intelligence is implemented by every content-intelligence backend.
// Any method may fail; callers treat failures as collaborator errors.
type Intelligence interface {
	Classify(ctx context.Context, content string, hints Hints) (*record.Classification, error)
	Summarize(ctx context.Context, content string) (*record.Summary, error)
	Embed(ctx context.Context, text string) ([]float32, error)
	Dims() int
}

// Provider names accepted in config.
const (
	ProviderLocal  = "local"
	ProviderOpenAI = "openai"
)

// New builds the backend selected by cfg.Intelligence.Provider.
func New(cfg *config.Config, logger *zap.Logger) (Intelligence, error) {
	switch cfg.Intelligence.Provider {
	case "", ProviderLocal:
		return NewLocal(cfg.EmbedDims), nil
	case ProviderOpenAI:
		keyEnv := cfg.Intelligence.APIKeyEnv
		if keyEnv == "" {
			keyEnv = "OPENAI_API_KEY"
		}
		key := os.Getenv(keyEnv)
		if key == "" {
			return nil, fmt.Errorf("intelligence provider openai requires %s to be set", keyEnv)
		}
		return NewOpenAI(OpenAIOptions{
			BaseURL:    cfg.Intelligence.BaseURL,
			APIKey:     key,
			ChatModel:  cfg.Intelligence.ChatModel,
			EmbedModel: cfg.Intelligence.EmbedModel,
			Dims:       cfg.EmbedDims,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown intelligence provider %q", cfg.Intelligence.Provider)
	}
}
