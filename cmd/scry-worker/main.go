// Command scry-worker runs the embedding job queue worker loop as a
// long-lived process, draining generate_embedding jobs enqueued by
// scry-import until terminated.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/mbrichman/scry/internal/cli"
	"github.com/mbrichman/scry/internal/config"
	"github.com/mbrichman/scry/internal/embedworker"
	"github.com/mbrichman/scry/internal/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config.yaml")
	flag.Parse()

	log := cli.NewLogger("info", true)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("load config")
	}
	log = cli.NewLogger(cfg.Log.Level, cfg.Log.Pretty)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := store.Open(ctx, cfg.Store.Path, log, store.WithVectorConfig(cli.VectorConfig(cfg)))
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	uow := store.NewUnitOfWork(db)

	provider := cli.MustProvider(cfg, log)
	log.Info().Str("provider", provider.ID()).Str("model", provider.Model()).Msg("embedding provider ready")

	worker := embedworker.New(uow, provider, embedworker.Options{
		PollInterval:     cfg.Worker.PollInterval(),
		LeaseDuration:    cfg.Worker.LeaseDuration(),
		ConcurrentLeases: cfg.Worker.ConcurrentLeases,
		BatchSize:        cfg.Worker.BatchSize,
	}, log)

	log.Info().
		Dur("poll_interval", cfg.Worker.PollInterval()).
		Dur("lease_duration", cfg.Worker.LeaseDuration()).
		Int("concurrent_leases", cfg.Worker.ConcurrentLeases).
		Int("batch_size", cfg.Worker.BatchSize).
		Msg("starting embedding worker")

	worker.Start(ctx)
	<-ctx.Done()
	log.Info().Msg("shutting down, waiting for in-flight jobs")
	worker.Stop()

	if stats, err := uow.Jobs.GetQueueStats(context.Background()); err == nil {
		log.Info().
			Int("pending", stats.Pending).
			Int("leased", stats.Leased).
			Int("completed", stats.Completed).
			Int("failed", stats.Failed).
			Msg("final queue stats")
	}
}
