package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/styleatlas/style-engine/engine/domain"
	"github.com/styleatlas/style-engine/pkg/fn"
	"github.com/styleatlas/style-engine/pkg/metrics"
)

// Encoder turns items plus their image bytes into embedding records.
type Encoder interface {
	EncodeBatch(ctx context.Context, items []domain.Item, images [][]byte) ([]domain.EmbeddingRecord, error)
}

// Store persists embedding records. UpsertBatch returns the content hashes
// that made it in; the error is non-nil only when nothing could be written.
type Store interface {
	UpsertBatch(ctx context.Context, records []domain.EmbeddingRecord) ([]string, error)
}

// Fetcher downloads image bytes for items. Satisfied by *Downloader.
type Fetcher interface {
	FetchAll(ctx context.Context, items []domain.Item) []fn.Result[Fetched]
}

// Deps wires the pipeline's collaborators. Everything is injected so tests
// can substitute fakes.
type Deps struct {
	Encoder    Encoder
	Store      Store
	Downloader Fetcher
	Controller *Controller
	Sampler    LoadSampler
	Checkpoint *Checkpoint

	// Cooldown is how long to pause after the controller throttles.
	Cooldown time.Duration
	// MaxItemAttempts bounds cross-run retries of a failing item.
	MaxItemAttempts int

	Logger  *slog.Logger
	Metrics *Stats
}

// Stats exposes pipeline counters on the metrics registry.
type Stats struct {
	Processed  *metrics.Counter
	Succeeded  *metrics.Counter
	FailedDown *metrics.Counter
	FailedEnc  *metrics.Counter
	BatchSize  *metrics.Gauge
}

// NewStats registers pipeline metrics on reg.
func NewStats(reg *metrics.Registry) *Stats {
	return &Stats{
		Processed:  reg.Counter("pipeline_items_processed_total", "Items taken off the queue"),
		Succeeded:  reg.Counter("pipeline_items_succeeded_total", "Items embedded and persisted"),
		FailedDown: reg.Counter("pipeline_download_failures_total", "Items whose image download failed"),
		FailedEnc:  reg.Counter("pipeline_encode_failures_total", "Items whose encoding failed"),
		BatchSize:  reg.Gauge("pipeline_batch_size", "Current adaptive batch size"),
	}
}

// Report summarises one pipeline run.
type Report struct {
	Processed      int
	Succeeded      int
	FailedDownload int
	FailedEncode   int
	Skipped        int
}

// Run works through items batch by batch: sample load, adapt batch size,
// download, encode, upsert, checkpoint. Items already done or permanently
// failed are skipped up front. A store failure aborts the run with the
// checkpoint flushed, so a rerun resumes cleanly.
func Run(ctx context.Context, deps Deps, items []domain.Item) (Report, error) {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	var rep Report

	pending := Pending(items, deps.Checkpoint, deps.MaxItemAttempts)
	rep.Skipped = len(items) - len(pending)
	log.Info("run starting", "items", len(items), "pending", len(pending), "skipped", rep.Skipped)

	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			return rep, finish(deps, rep, err)
		}

		if deps.Sampler != nil {
			load, err := deps.Sampler.Sample()
			if err != nil {
				log.Warn("load sample failed", "error", err)
			} else if deps.Controller.Observe(load) {
				log.Info("throttling",
					"cpu", load.CPU, "mem", load.Mem, "batch_size", deps.Controller.BatchSize())
				if deps.Cooldown > 0 {
					select {
					case <-ctx.Done():
						return rep, finish(deps, rep, ctx.Err())
					case <-time.After(deps.Cooldown):
					}
				}
			}
		}

		size := deps.Controller.BatchSize()
		if deps.Metrics != nil {
			deps.Metrics.BatchSize.Set(int64(size))
		}
		if size > len(pending) {
			size = len(pending)
		}
		batch := pending[:size]
		pending = pending[size:]
		rep.Processed += len(batch)
		if deps.Metrics != nil {
			deps.Metrics.Processed.Add(int64(len(batch)))
		}

		ok, err := runBatch(ctx, deps, batch, &rep)
		if err != nil {
			return rep, finish(deps, rep, err)
		}
		if ok {
			deps.Controller.RecordSuccess()
		} else {
			deps.Controller.RecordFailure()
		}
		if err := deps.Checkpoint.MaybeFlush(); err != nil {
			return rep, finish(deps, rep, fmt.Errorf("flush checkpoint: %w", err))
		}
	}
	return rep, finish(deps, rep, nil)
}

// runBatch processes one batch end to end. It returns false when any item in
// the batch failed, and an error only for store failures that must abort the
// run.
func runBatch(ctx context.Context, deps Deps, batch []domain.Item, rep *Report) (bool, error) {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	clean := true

	results := deps.Downloader.FetchAll(ctx, batch)
	var (
		items  []domain.Item
		images [][]byte
	)
	for i, r := range results {
		f, err := r.Unwrap()
		if err != nil {
			clean = false
			rep.FailedDownload++
			if deps.Metrics != nil {
				deps.Metrics.FailedDown.Inc()
			}
			attempts := deps.Checkpoint.MarkFailed(batch[i].ContentHash)
			if attempts >= deps.MaxItemAttempts {
				log.Warn("giving up on item",
					"hash", batch[i].ContentHash, "attempts", attempts, "error", err)
			} else {
				log.Warn("download failed", "hash", batch[i].ContentHash, "error", err)
			}
			continue
		}
		items = append(items, f.Item)
		images = append(images, f.Bytes)
	}
	if len(items) == 0 {
		return clean, nil
	}

	records, err := encodeWithSplit(ctx, deps.Encoder, items, images)
	if err != nil {
		clean = false
		rep.FailedEncode += len(items)
		if deps.Metrics != nil {
			deps.Metrics.FailedEnc.Add(int64(len(items)))
		}
		for _, it := range items {
			deps.Checkpoint.MarkFailed(it.ContentHash)
		}
		log.Error("batch encode failed", "items", len(items), "error", err)
		return false, nil
	}

	persisted, err := deps.Store.UpsertBatch(ctx, records)
	for _, hash := range persisted {
		deps.Checkpoint.MarkDone(hash)
		rep.Succeeded++
		if deps.Metrics != nil {
			deps.Metrics.Succeeded.Inc()
		}
	}
	if err != nil {
		return false, fmt.Errorf("upsert batch: %w", err)
	}
	if len(persisted) < len(records) {
		clean = false
	}
	return clean, nil
}

// encodeWithSplit encodes the batch, retrying once at half size if the whole
// batch fails. A transient encoder hiccup on a large batch should not sink
// every item in it.
func encodeWithSplit(ctx context.Context, enc Encoder, items []domain.Item, images [][]byte) ([]domain.EmbeddingRecord, error) {
	records, err := enc.EncodeBatch(ctx, items, images)
	if err == nil || len(items) <= 1 {
		return records, err
	}
	mid := len(items) / 2
	first, ferr := enc.EncodeBatch(ctx, items[:mid], images[:mid])
	if ferr != nil {
		return nil, err
	}
	second, serr := enc.EncodeBatch(ctx, items[mid:], images[mid:])
	if serr != nil {
		return nil, err
	}
	return append(first, second...), nil
}

func finish(deps Deps, rep Report, err error) error {
	if ferr := deps.Checkpoint.Flush(); ferr != nil && err == nil {
		err = fmt.Errorf("flush checkpoint: %w", ferr)
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	log.Info("run finished",
		"processed", rep.Processed, "succeeded", rep.Succeeded,
		"failed_download", rep.FailedDownload, "failed_encode", rep.FailedEncode,
		"skipped", rep.Skipped)
	return err
}
