// Command score runs the aesthetic/quality scoring pass over every embedded
// image that has no scores yet.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/styleatlas/style-engine/engine/pipeline"
	"github.com/styleatlas/style-engine/engine/scoring"
	"github.com/styleatlas/style-engine/engine/semantic"
	"github.com/styleatlas/style-engine/pkg/clipd"
	"github.com/styleatlas/style-engine/pkg/config"
)

func main() {
	var (
		configPath = flag.String("config", "", "TOML config file (defaults apply if empty)")
		batch      = flag.Int("batch", 32, "images per scoring call")
	)
	flag.Parse()

	log := slog.Default()
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("config load failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	store, err := semantic.New(semantic.Opts{
		Addr:        cfg.Store.Addr,
		Collection:  cfg.Store.Collection,
		Timeout:     cfg.Store.Timeout.Std(),
		UpsertChunk: cfg.Store.UpsertChunk,
		ScrollPage:  cfg.Store.ScrollPage,
		Logger:      log,
	})
	if err != nil {
		log.Error("qdrant connect failed", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	scorer := clipd.New(clipd.Opts{
		BaseURL:    cfg.Encoder.BaseURL,
		Dims:       cfg.Encoder.Dims,
		Timeout:    cfg.Encoder.Timeout.Std(),
		RatePerSec: cfg.Encoder.RatePerSec,
	})

	rep, err := scoring.Run(ctx, scoring.Deps{
		Store:  store,
		Scorer: scorer,
		Downloader: pipeline.NewDownloader(pipeline.DownloaderOpts{
			Concurrency: cfg.Pipeline.DownloadConcurrency,
			Timeout:     cfg.Pipeline.DownloadTimeout.Std(),
			Retries:     cfg.Pipeline.DownloadRetries,
			RatePerSec:  cfg.Pipeline.DownloadRatePerSec,
		}),
		BatchSize: *batch,
		Logger:    log,
	})
	if err != nil {
		log.Error("scoring pass failed", "error", err, "scored", rep.Scored)
		os.Exit(1)
	}
	log.Info("scoring pass complete",
		"unscored", rep.Unscored, "scored", rep.Scored, "failed", rep.Failed)
}
