// Command publish replays a scraped dataset file onto the NATS intake
// subject, feeding a live pipeline the same way the scrapers do.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/styleatlas/style-engine/engine/pipeline"
	"github.com/styleatlas/style-engine/pkg/config"
	"github.com/styleatlas/style-engine/pkg/natsutil"
)

func main() {
	var (
		configPath = flag.String("config", "", "TOML config file (defaults apply if empty)")
		dir        = flag.String("dir", "", "directory of dataset files to publish (defaults to the configured data dir)")
		delay      = flag.Duration("delay", 0, "pause between items, to pace the pipeline")
	)
	flag.Parse()

	log := slog.Default()
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("config load failed", "error", err)
		os.Exit(1)
	}
	if cfg.NATS.URL == "" {
		log.Error("nats url is required (config [nats] url or STYLE_NATS_URL)")
		os.Exit(2)
	}
	src := *dir
	if src == "" {
		src = cfg.Pipeline.DataDir
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	items, err := pipeline.LoadItems(src, log)
	if err != nil {
		log.Error("dataset load failed", "error", err)
		os.Exit(1)
	}

	nc, err := nats.Connect(cfg.NATS.URL, nats.Name("style-publish"))
	if err != nil {
		log.Error("nats connect failed", "error", err)
		os.Exit(1)
	}
	defer nc.Drain()

	var published int
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		if err := natsutil.Publish(ctx, nc, cfg.NATS.Subject, item); err != nil {
			log.Error("publish failed", "hash", item.ContentHash, "error", err)
			continue
		}
		published++
		if *delay > 0 {
			time.Sleep(*delay)
		}
	}
	log.Info("publish complete", "items", len(items), "published", published, "subject", cfg.NATS.Subject)
}
