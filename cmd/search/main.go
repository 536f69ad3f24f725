// Command search answers a free-text similarity query from the command line
// and prints the ranked hits as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/styleatlas/style-engine/engine/query"
	"github.com/styleatlas/style-engine/engine/semantic"
	"github.com/styleatlas/style-engine/pkg/clipd"
	"github.com/styleatlas/style-engine/pkg/config"
)

func main() {
	var (
		configPath   = flag.String("config", "", "TOML config file (defaults apply if empty)")
		text         = flag.String("text", "", "query text")
		k            = flag.Int("k", 0, "number of results (0 uses the default)")
		category     = flag.String("category", "", "restrict to a category")
		categoryType = flag.String("category-type", "", "restrict to a category type")
	)
	flag.Parse()

	log := slog.Default()
	if *text == "" {
		log.Error("missing -text")
		os.Exit(2)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("config load failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	store, err := semantic.New(semantic.Opts{
		Addr:       cfg.Store.Addr,
		Collection: cfg.Store.Collection,
		Timeout:    cfg.Store.Timeout.Std(),
		Logger:     log,
	})
	if err != nil {
		log.Error("qdrant connect failed", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	embedder := clipd.New(clipd.Opts{
		BaseURL: cfg.Encoder.BaseURL,
		Dims:    cfg.Encoder.Dims,
		Timeout: cfg.Encoder.Timeout.Std(),
	})
	svc := query.New(embedder, store, query.DefaultOptions(), log)

	hits, err := svc.Query(ctx, query.Request{
		Text:         *text,
		K:            *k,
		Category:     *category,
		CategoryType: *categoryType,
	})
	if err != nil {
		log.Error("query failed", "error", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(hits); err != nil {
		log.Error("encode results failed", "error", err)
		os.Exit(1)
	}
}
