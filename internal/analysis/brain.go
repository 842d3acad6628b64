// Package analysis turns a stored proposal into a vote recommendation by
// asking the configured reasoning model for a structured verdict.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/anthropic"
	"github.com/firebase/genkit/go/plugins/compat_oai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
)

// ErrNotConfigured is returned when no reasoning provider has an API key.
var ErrNotConfigured = errors.New("reasoning service not configured")

// Brain is the reasoning-service surface the pipeline depends on.
type Brain interface {
	// Complete sends one prompt and returns the raw model text.
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// BrainConfig selects the LLM provider and model.
type BrainConfig struct {
	// Provider is one of "google", "anthropic", "openai", "openrouter".
	Provider string
	Model    string
	APIKey   string
}

// GenkitBrain backs Brain with a Genkit instance for the selected provider.
type GenkitBrain struct {
	g     *genkit.Genkit
	cfg   BrainConfig
	llmOn bool
}

// NewGenkitBrain initializes Genkit with the configured provider. With no
// API key the brain still constructs but every Complete call returns
// ErrNotConfigured, so the rest of the agent keeps running.
func NewGenkitBrain(ctx context.Context, cfg BrainConfig) *GenkitBrain {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "google"
	}
	cfg.Provider = provider

	modelID := strings.TrimSpace(cfg.Model)
	if modelID == "" {
		modelID = defaultModelForProvider(provider)
	}
	cfg.Model = modelID

	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		apiKey = envAPIKeyForProvider(provider)
	}

	var g *genkit.Genkit
	llmOn := false

	switch provider {
	case "anthropic":
		if apiKey != "" {
			g = genkit.Init(ctx, genkit.WithPlugins(&anthropic.Anthropic{
				APIKey:  apiKey,
				BaseURL: os.Getenv("ANTHROPIC_BASE_URL"),
			}))
			llmOn = true
			slog.Info("reasoning brain initialized", "provider", "anthropic", "model", modelID)
		} else {
			g = genkit.Init(ctx)
			slog.Warn("Anthropic API key missing; analysis disabled")
		}

	case "openai":
		if apiKey != "" {
			g = genkit.Init(ctx, genkit.WithPlugins(&compat_oai.OpenAICompatible{
				Provider: "openai",
				APIKey:   apiKey,
				BaseURL:  os.Getenv("OPENAI_BASE_URL"),
			}))
			llmOn = true
			slog.Info("reasoning brain initialized", "provider", "openai", "model", modelID)
		} else {
			g = genkit.Init(ctx)
			slog.Warn("OpenAI API key missing; analysis disabled")
		}

	case "openrouter":
		if apiKey != "" {
			g = genkit.Init(ctx, genkit.WithPlugins(&compat_oai.OpenAICompatible{
				Provider: "openrouter",
				APIKey:   apiKey,
				BaseURL:  "https://openrouter.ai/api/v1",
			}))
			llmOn = true
			slog.Info("reasoning brain initialized", "provider", "openrouter", "model", modelID)
		} else {
			g = genkit.Init(ctx)
			slog.Warn("OpenRouter API key missing; analysis disabled")
		}

	case "google":
		if apiKey != "" {
			_ = os.Setenv("GEMINI_API_KEY", apiKey)
			g = genkit.Init(ctx,
				genkit.WithPlugins(&googlegenai.GoogleAI{}),
				genkit.WithDefaultModel("googleai/"+modelID),
			)
			llmOn = true
			slog.Info("reasoning brain initialized", "provider", "google", "model", "googleai/"+modelID)
		} else {
			g = genkit.Init(ctx)
			slog.Warn("Google API key missing; analysis disabled")
		}

	default:
		g = genkit.Init(ctx)
		slog.Warn("unknown LLM provider; analysis disabled", "provider", provider)
	}

	return &GenkitBrain{g: g, cfg: cfg, llmOn: llmOn}
}

// Configured reports whether Complete can produce real output.
func (b *GenkitBrain) Configured() bool { return b.llmOn }

func (b *GenkitBrain) Complete(ctx context.Context, system, prompt string) (string, error) {
	if !b.llmOn {
		return "", ErrNotConfigured
	}

	// Escape % so ai.WithSystem cannot misread format verbs in proposal text.
	system = strings.ReplaceAll(system, "%", "%%")

	opts := []ai.GenerateOption{
		ai.WithModelName(modelNameForProvider(b.cfg.Provider, b.cfg.Model)),
		ai.WithSystem(system),
		ai.WithPrompt(prompt),
	}
	resp, err := genkit.Generate(ctx, b.g, opts...)
	if err != nil {
		return "", fmt.Errorf("genkit generate: %w", err)
	}
	return resp.Text(), nil
}

func defaultModelForProvider(provider string) string {
	switch provider {
	case "anthropic":
		return "claude-sonnet-4-5-20250929"
	case "openai":
		return "gpt-4o"
	case "openrouter":
		return "anthropic/claude-sonnet-4-5-20250929"
	default:
		return "gemini-2.5-flash"
	}
}

func envAPIKeyForProvider(provider string) string {
	switch provider {
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "openrouter":
		return os.Getenv("OPENROUTER_API_KEY")
	default:
		if k := os.Getenv("GEMINI_API_KEY"); k != "" {
			return k
		}
		return os.Getenv("GOOGLE_API_KEY")
	}
}

func modelNameForProvider(provider, model string) string {
	switch provider {
	case "anthropic":
		return "anthropic/" + model
	case "openai":
		return "openai/" + model
	case "openrouter":
		// OpenRouter names already carry the vendor prefix.
		return model
	default:
		return "googleai/" + model
	}
}
