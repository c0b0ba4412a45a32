// Package cli holds the small bootstrap helpers shared by the archive
// engine's command-line entrypoints: logger setup and embedding provider
// construction from a loaded Config.
package cli

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/mbrichman/scry/internal/config"
	"github.com/mbrichman/scry/internal/embedding"
	"github.com/mbrichman/scry/internal/store"
)

// NewLogger builds a zerolog.Logger at the given level, optionally rendered
// through ConsoleWriter for interactive use.
func NewLogger(level string, pretty bool) zerolog.Logger {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	var w = os.Stderr
	if pretty {
		return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}).
			Level(parsed).With().Timestamp().Logger()
	}
	return zerolog.New(w).Level(parsed).With().Timestamp().Logger()
}

// BuildProvider constructs the embedding.Provider named by
// cfg.Embedding.Provider ("openai", "local", or "stub").
func BuildProvider(cfg *config.Config, log zerolog.Logger) (*embedding.Provider, error) {
	switch cfg.Embedding.Provider {
	case "openai":
		return embedding.NewOpenAIProvider(cfg.Embedding.OpenAI.APIKey, cfg.Embedding.OpenAI.BaseURL, cfg.Embedding.Model, nil)
	case "local":
		return embedding.NewLocalProvider(cfg.Embedding.Local.BaseURL, "", cfg.Embedding.Model, nil)
	case "stub":
		return embedding.NewStubProvider(), nil
	default:
		log.Warn().Str("provider", cfg.Embedding.Provider).Msg("unknown embedding provider, falling back to stub")
		return embedding.NewStubProvider(), nil
	}
}

// VectorConfig translates the config-file vector settings into the store
// package's OpenOption input.
func VectorConfig(cfg *config.Config) store.VectorConfig {
	return store.VectorConfig{
		Enabled:       cfg.Store.Vector.Enabled,
		ExtensionPath: cfg.Store.Vector.ExtensionPath,
	}
}

// MustProvider is BuildProvider with a fatal log on error, for commands
// whose main only wants a terminal failure rather than an error return.
func MustProvider(cfg *config.Config, log zerolog.Logger) *embedding.Provider {
	provider, err := BuildProvider(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("build embedding provider")
	}
	return provider
}
