// Command pipeline embeds scraped images into the vector store. It loads
// items from the data directory (and optionally live off NATS), downloads
// images, fuses image and text embeddings and upserts the result into
// Qdrant, checkpointing as it goes so interrupted runs resume cleanly.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/styleatlas/style-engine/engine/domain"
	"github.com/styleatlas/style-engine/engine/fusion"
	"github.com/styleatlas/style-engine/engine/pipeline"
	"github.com/styleatlas/style-engine/engine/semantic"
	"github.com/styleatlas/style-engine/pkg/clipd"
	"github.com/styleatlas/style-engine/pkg/config"
	"github.com/styleatlas/style-engine/pkg/fn"
	"github.com/styleatlas/style-engine/pkg/metrics"
)

var met = metrics.New()

func main() {
	var (
		configPath = flag.String("config", "", "TOML config file (defaults apply if empty)")
		interval   = flag.Duration("interval", 60*time.Second, "rescan interval between runs")
		once       = flag.Bool("once", false, "run a single pass and exit")
		reset      = flag.Bool("reset", false, "discard the checkpoint and reprocess everything")
		metricsPort = flag.Int("metrics-port", 9091, "Prometheus text endpoint port")
	)
	flag.Parse()

	log := slog.Default()
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("config load failed", "error", err)
		os.Exit(1)
	}

	met.CollectRuntime("style_pipeline", 15*time.Second)
	met.ServeAsync(*metricsPort)
	stats := pipeline.NewStats(met)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// Vector store
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
	if err := store.EnsureCollection(ctx, cfg.Encoder.Dims); err != nil {
		log.Error("qdrant ensure collection failed", "error", err)
		os.Exit(1)
	}
	log.Info("connected to Qdrant", "collection", cfg.Store.Collection, "dims", cfg.Encoder.Dims)

	// Fusion encoder over the clipd sidecar
	embedder := clipd.New(clipd.Opts{
		BaseURL:    cfg.Encoder.BaseURL,
		Dims:       cfg.Encoder.Dims,
		Timeout:    cfg.Encoder.Timeout.Std(),
		RatePerSec: cfg.Encoder.RatePerSec,
	})
	encoder := fusion.NewEncoder(embedder, fusion.Weights{
		Full:    cfg.Weights.Full,
		Partial: cfg.Weights.Partial,
		Minimal: cfg.Weights.Minimal,
	})

	checkpoint, err := pipeline.OpenCheckpoint(cfg.Pipeline.CheckpointFile, cfg.Pipeline.CheckpointEvery)
	if err != nil {
		log.Error("checkpoint open failed", "error", err)
		os.Exit(1)
	}
	if *reset {
		if err := checkpoint.Reset(); err != nil {
			log.Error("checkpoint reset failed", "error", err)
			os.Exit(1)
		}
		log.Info("checkpoint reset")
	}

	deps := pipeline.Deps{
		Encoder: encoder,
		Store:   store,
		Downloader: pipeline.NewDownloader(pipeline.DownloaderOpts{
			Concurrency: cfg.Pipeline.DownloadConcurrency,
			Timeout:     cfg.Pipeline.DownloadTimeout.Std(),
			Retries:     cfg.Pipeline.DownloadRetries,
			RatePerSec:  cfg.Pipeline.DownloadRatePerSec,
		}),
		Controller: pipeline.NewController(pipeline.ControllerOpts{
			Min:          cfg.Pipeline.BatchMin,
			Max:          cfg.Pipeline.BatchMax,
			Step:         cfg.Pipeline.BatchStep,
			StableStreak: cfg.Pipeline.StableStreak,
			CPUThreshold: cfg.Pipeline.CPUThreshold,
			MemThreshold: cfg.Pipeline.MemThreshold,
		}),
		Sampler:         pipeline.HostSampler{},
		Checkpoint:      checkpoint,
		Cooldown:        cfg.Pipeline.Cooldown.Std(),
		MaxItemAttempts: cfg.Pipeline.MaxItemAttempts,
		Logger:          log,
		Metrics:         stats,
	}

	// Optional live intake off NATS
	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name("style-pipeline"))
		if err != nil {
			log.Error("nats connect failed", "error", err)
			os.Exit(1)
		}
		defer nc.Close()
		items, err := pipeline.LoadItems(cfg.Pipeline.DataDir, log)
		if err != nil {
			log.Error("data dir load failed", "error", err)
			os.Exit(1)
		}
		seen := fn.Map(items, func(it domain.Item) string { return it.ContentHash })
		intake, err := pipeline.StartIntake(nc, cfg.NATS.Subject, cfg.Pipeline.DataDir, seen, log)
		if err != nil {
			log.Error("intake start failed", "error", err)
			os.Exit(1)
		}
		defer intake.Close()
	}

	for {
		items, err := pipeline.LoadItems(cfg.Pipeline.DataDir, log)
		if err != nil {
			log.Error("data dir load failed", "error", err)
			os.Exit(1)
		}
		rep, err := pipeline.Run(ctx, deps, items)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("shutting down", "processed", rep.Processed)
				return
			}
			log.Error("run failed", "error", err, "processed", rep.Processed)
		}
		if *once {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(*interval):
		}
	}
}
