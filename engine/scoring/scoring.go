// Package scoring runs the aesthetic and quality scoring pass: it scans the
// vector store for records that have no scores yet, re-downloads their
// images, scores them through the model service and writes the scores back
// as payload updates.
package scoring

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/styleatlas/style-engine/engine/domain"
	"github.com/styleatlas/style-engine/engine/pipeline"
	"github.com/styleatlas/style-engine/engine/semantic"
	"github.com/styleatlas/style-engine/pkg/fn"
)

// Scorer scores image bytes. Satisfied by *clipd.Client.
type Scorer interface {
	ScoreImages(ctx context.Context, images [][]byte) (aesthetic, quality []float64, err error)
}

// Store is the slice of the vector store the scoring pass needs.
type Store interface {
	ScrollAll(ctx context.Context, opts semantic.ScrollOpts) ([]domain.EmbeddingRecord, error)
	SetScores(ctx context.Context, updates []semantic.ScoreUpdate) (int, error)
}

// Deps wires the pass.
type Deps struct {
	Store      Store
	Scorer     Scorer
	Downloader pipeline.Fetcher
	BatchSize  int
	Logger     *slog.Logger
}

// Report summarises one scoring pass.
type Report struct {
	Unscored int
	Scored   int
	Failed   int
}

// Run scores every unscored record in batches. Download or scoring failures
// skip the affected items; they stay unscored and are retried next pass.
func Run(ctx context.Context, deps Deps) (Report, error) {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	size := deps.BatchSize
	if size <= 0 {
		size = 32
	}

	records, err := deps.Store.ScrollAll(ctx, semantic.ScrollOpts{UnscoredOnly: true})
	if err != nil {
		return Report{}, fmt.Errorf("scan unscored: %w", err)
	}
	rep := Report{Unscored: len(records)}
	log.Info("scoring pass starting", "unscored", len(records))

	for _, batch := range fn.Chunk(records, size) {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		items := fn.Map(batch, func(r domain.EmbeddingRecord) domain.Item {
			return domain.Item{ContentHash: r.ContentHash, ImageURL: r.ImageURL}
		})
		results := deps.Downloader.FetchAll(ctx, items)

		var (
			hashes []string
			images [][]byte
		)
		for i, r := range results {
			f, err := r.Unwrap()
			if err != nil {
				rep.Failed++
				log.Warn("score download failed", "hash", batch[i].ContentHash, "error", err)
				continue
			}
			hashes = append(hashes, f.Item.ContentHash)
			images = append(images, f.Bytes)
		}
		if len(images) == 0 {
			continue
		}

		aesthetic, quality, err := deps.Scorer.ScoreImages(ctx, images)
		if err != nil {
			rep.Failed += len(images)
			log.Error("score batch failed", "items", len(images), "error", err)
			continue
		}
		updates := make([]semantic.ScoreUpdate, len(hashes))
		for i, h := range hashes {
			updates[i] = semantic.ScoreUpdate{
				ContentHash: h,
				Aesthetic:   &aesthetic[i],
				Quality:     &quality[i],
			}
		}
		n, err := deps.Store.SetScores(ctx, updates)
		if err != nil {
			return rep, fmt.Errorf("write scores: %w", err)
		}
		rep.Scored += n
	}
	log.Info("scoring pass finished", "scored", rep.Scored, "failed", rep.Failed)
	return rep, nil
}
