// Command cluster groups every embedded image into style clusters. It pulls
// all vectors from Qdrant, fits k-means, writes the cluster artifact and tags
// each point with its cluster id. With -compare it sweeps the candidate K
// values and reports quality for each instead.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/styleatlas/style-engine/engine/cluster"
	"github.com/styleatlas/style-engine/engine/domain"
	"github.com/styleatlas/style-engine/engine/semantic"
	"github.com/styleatlas/style-engine/pkg/config"
	"github.com/styleatlas/style-engine/pkg/fn"
)

func main() {
	var (
		configPath = flag.String("config", "", "TOML config file (defaults apply if empty)")
		k          = flag.Int("k", 0, "number of clusters (0 uses the configured default)")
		compare    = flag.Bool("compare", false, "sweep candidate K values and report, without tagging")
		minAesthetic = flag.Float64("min-aesthetic", 0, "cluster only records with aesthetic score >= this (0 disables)")
		noDBUpdate   = flag.Bool("no-db-update", false, "write the artifact but skip tagging points")
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

	scroll := semantic.ScrollOpts{WithVectors: true}
	if *minAesthetic > 0 {
		scroll.MinAesthetic = minAesthetic
	}
	records, err := store.ScrollAll(ctx, scroll)
	if err != nil {
		log.Error("scroll failed", "error", err)
		os.Exit(1)
	}
	log.Info("loaded embeddings", "records", len(records))
	vectors := fn.Map(records, func(r domain.EmbeddingRecord) []float32 { return r.Embedding })

	if *compare {
		reports, err := cluster.CompareK(vectors, cluster.CompareOpts{
			Candidates: cfg.Cluster.KCandidates,
			Seed:       cfg.Cluster.Seed,
			MaxIter:    cfg.Cluster.MaxIter,
			NInit:      cfg.Cluster.NInit,
			SampleSize: cfg.Cluster.SilhouetteSample,
		})
		if err != nil {
			log.Error("compare failed", "error", err)
			os.Exit(1)
		}
		for _, r := range reports {
			fmt.Printf("k=%d inertia=%.2f silhouette=%.4f\n", r.K, r.Inertia, r.Silhouette)
		}
		best := cluster.Best(reports)
		fmt.Printf("best k=%d (silhouette %.4f)\n", best.K, best.Silhouette)
		return
	}

	useK := *k
	if useK <= 0 {
		useK = cfg.Cluster.DefaultK
	}
	res, err := cluster.KMeans(vectors, cluster.KMeansOpts{
		K:       useK,
		Seed:    cfg.Cluster.Seed,
		MaxIter: cfg.Cluster.MaxIter,
		NInit:   cfg.Cluster.NInit,
	})
	if err != nil {
		log.Error("kmeans failed", "error", err, "k", useK)
		os.Exit(1)
	}
	log.Info("clustering done", "k", useK, "inertia", res.Inertia)

	artifact := cluster.BuildArtifact(records, res, cfg.Cluster.Representatives)
	if err := cluster.WriteArtifact(artifact, cfg.Cluster.ArtifactPath); err != nil {
		log.Error("artifact write failed", "error", err)
		os.Exit(1)
	}
	log.Info("artifact written", "path", cfg.Cluster.ArtifactPath, "clusters", len(artifact.Clusters))

	if *noDBUpdate {
		log.Info("skipping cluster tagging (-no-db-update)")
		return
	}
	tagged, err := cluster.Apply(ctx, store, records, res)
	if err != nil {
		log.Error("cluster tagging failed", "error", err, "tagged", tagged)
		os.Exit(1)
	}
	log.Info("cluster ids applied", "tagged", tagged)
}
