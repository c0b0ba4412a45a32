// Command scry-import reads one archive export file, detects its source
// format, and persists every conversation it contains into the archive
// database, enqueueing an embedding job per message.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/mbrichman/scry/internal/cli"
	"github.com/mbrichman/scry/internal/config"
	"github.com/mbrichman/scry/internal/extract"
	"github.com/mbrichman/scry/internal/importer"
	"github.com/mbrichman/scry/internal/scrytype"
	"github.com/mbrichman/scry/internal/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config.yaml")
	inputPath := flag.String("input", "", "path to an export file (ChatGPT/Claude/OpenWebUI JSON, or a .docx)")
	extractorName := flag.String("extractor", "", "force a specific extractor by name instead of auto-detecting")
	youtubeIncludeChannel := flag.Bool("youtube-include-channel", true, "append the channel name to YouTube watch content")
	youtubeGroupByDay := flag.Bool("youtube-group-by-day", false, "group YouTube watch events from the same calendar day into one message")
	flag.Parse()

	log := cli.NewLogger("info", true)

	if *inputPath == "" {
		log.Fatal().Msg("-input is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("load config")
	}
	log = cli.NewLogger(cfg.Log.Level, cfg.Log.Pretty)

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "youtube-include-channel":
			cfg.Import.YouTube.IncludeChannel = youtubeIncludeChannel
		case "youtube-group-by-day":
			cfg.Import.YouTube.GroupByDay = *youtubeGroupByDay
		}
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, *inputPath, *extractorName, log); err != nil {
		log.Fatal().Err(err).Msg("import failed")
	}
}

func run(ctx context.Context, cfg *config.Config, inputPath, extractorName string, log zerolog.Logger) error {
	db, err := store.Open(ctx, cfg.Store.Path, log, store.WithVectorConfig(cli.VectorConfig(cfg)))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	provider, err := cli.BuildProvider(cfg, log)
	if err != nil {
		return fmt.Errorf("build embedding provider: %w", err)
	}
	log.Info().Str("provider", provider.ID()).Str("model", provider.Model()).Msg("embedding provider ready")

	im := importer.New(db, provider.Model(), log)
	if err := im.LoadGuard(ctx); err != nil {
		return fmt.Errorf("load duplicate guard: %w", err)
	}

	extractOpts := extract.Options{
		IncludeChannel: cfg.Import.YouTube.IncludeChannelOrDefault(),
		GroupByDay:     cfg.Import.YouTube.GroupByDay,
	}

	registry := extract.NewRegistry()
	extracted, source, err := extractConversations(ctx, registry, inputPath, extractorName, extractOpts)
	if err != nil {
		return err
	}
	if len(extracted) == 0 {
		log.Info().Str("input", inputPath).Msg("no conversations found")
		return nil
	}

	result, err := im.ImportAll(ctx, extracted, source)
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}
	log.Info().
		Int("imported", result.Imported).
		Int("skipped_duplicate", result.SkippedDuplicate).
		Int("skipped_changed", result.SkippedChanged).
		Msg("import complete")
	if summary := result.Summary(); summary != "" {
		log.Info().Msg(summary)
	}
	return nil
}

// extractConversations resolves an Extractor for inputPath, either forced by
// name, by file extension (.docx), or by sniffing the file's JSON shape, and
// runs it.
func extractConversations(ctx context.Context, registry *extract.Registry, inputPath, forcedName string, opts extract.Options) ([]extract.ExtractedConversation, scrytype.Source, error) {
	var ext extract.Extractor
	if forcedName != "" {
		e, ok := registry.ByName(forcedName)
		if !ok {
			return nil, "", fmt.Errorf("unknown extractor %q", forcedName)
		}
		ext = e
	}

	if filepath.Ext(inputPath) == ".docx" {
		if ext == nil {
			e, ok := registry.ByName("docx")
			if !ok {
				return nil, "", fmt.Errorf("docx extractor not registered")
			}
			ext = e
		}
		extracted, _, err := ext.ExtractFromFile(ctx, inputPath, filepath.Base(inputPath), opts)
		if err != nil {
			return nil, "", fmt.Errorf("extract %s: %w", inputPath, err)
		}
		if len(extracted) == 0 {
			return nil, "", nil
		}
		return extracted, extracted[0].Source, nil
	}

	raw, err := os.ReadFile(inputPath)
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", inputPath, err)
	}

	source := scrytype.Source(forcedName)
	if ext == nil {
		_, detected, ok := extract.DetectFormat(raw)
		if !ok {
			return nil, "", fmt.Errorf("could not detect export format for %s; pass -extractor", inputPath)
		}
		source = detected
		e, found := registry.ByName(string(detected))
		if !found {
			return nil, "", fmt.Errorf("no extractor registered for detected format %q", detected)
		}
		ext = e
	}

	extracted, err := ext.ExtractFromBytes(ctx, raw, opts)
	if err != nil {
		return nil, "", fmt.Errorf("extract %s: %w", inputPath, err)
	}
	if source == "" && len(extracted) > 0 {
		source = extracted[0].Source
	}
	return extracted, source, nil
}
