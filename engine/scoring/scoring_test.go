package scoring

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/styleatlas/style-engine/engine/domain"
	"github.com/styleatlas/style-engine/engine/pipeline"
	"github.com/styleatlas/style-engine/engine/semantic"
	"github.com/styleatlas/style-engine/pkg/fn"
)

type fakeStore struct {
	unscored []domain.EmbeddingRecord
	updates  []semantic.ScoreUpdate
	failSet  bool
}

func (s *fakeStore) ScrollAll(_ context.Context, opts semantic.ScrollOpts) ([]domain.EmbeddingRecord, error) {
	if !opts.UnscoredOnly {
		return nil, errors.New("expected unscored-only scroll")
	}
	return s.unscored, nil
}

func (s *fakeStore) SetScores(_ context.Context, updates []semantic.ScoreUpdate) (int, error) {
	if s.failSet {
		return 0, errors.New("store down")
	}
	s.updates = append(s.updates, updates...)
	return len(updates), nil
}

type fakeScorer struct {
	fail bool
}

func (f *fakeScorer) ScoreImages(_ context.Context, images [][]byte) ([]float64, []float64, error) {
	if f.fail {
		return nil, nil, errors.New("scorer down")
	}
	a := make([]float64, len(images))
	q := make([]float64, len(images))
	for i := range images {
		a[i] = 5.0
		q[i] = 0.9
	}
	return a, q, nil
}

type fakeFetcher struct {
	failHash string
}

func (f *fakeFetcher) FetchAll(_ context.Context, items []domain.Item) []fn.Result[pipeline.Fetched] {
	out := make([]fn.Result[pipeline.Fetched], len(items))
	for i, it := range items {
		if it.ContentHash == f.failHash {
			out[i] = fn.Err[pipeline.Fetched](errors.New("gone"))
			continue
		}
		out[i] = fn.Ok(pipeline.Fetched{Item: it, Bytes: []byte("img")})
	}
	return out
}

func unscoredRecords(n int) []domain.EmbeddingRecord {
	recs := make([]domain.EmbeddingRecord, n)
	for i := range recs {
		recs[i] = domain.EmbeddingRecord{
			ContentHash: fmt.Sprintf("%012x", i),
			ImageURL:    fmt.Sprintf("https://cdn.example.com/%d.jpg", i),
		}
	}
	return recs
}

func TestRun_ScoresAllUnscored(t *testing.T) {
	store := &fakeStore{unscored: unscoredRecords(7)}
	rep, err := Run(context.Background(), Deps{
		Store: store, Scorer: &fakeScorer{}, Downloader: &fakeFetcher{}, BatchSize: 3,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Unscored != 7 || rep.Scored != 7 || rep.Failed != 0 {
		t.Fatalf("report = %+v", rep)
	}
	if len(store.updates) != 7 {
		t.Fatalf("updates = %d, want 7", len(store.updates))
	}
	u := store.updates[0]
	if u.Aesthetic == nil || *u.Aesthetic != 5.0 || u.Quality == nil || *u.Quality != 0.9 {
		t.Fatalf("update = %+v", u)
	}
}

func TestRun_SkipsFailedDownloads(t *testing.T) {
	recs := unscoredRecords(3)
	store := &fakeStore{unscored: recs}
	rep, err := Run(context.Background(), Deps{
		Store:      store,
		Scorer:     &fakeScorer{},
		Downloader: &fakeFetcher{failHash: recs[1].ContentHash},
		BatchSize:  10,
	})
	if err != nil {
		t.Fatal(err)
	}
	if rep.Scored != 2 || rep.Failed != 1 {
		t.Fatalf("report = %+v", rep)
	}
	for _, u := range store.updates {
		if u.ContentHash == recs[1].ContentHash {
			t.Fatal("failed download got scored")
		}
	}
}

func TestRun_ScorerFailureSkipsBatch(t *testing.T) {
	store := &fakeStore{unscored: unscoredRecords(4)}
	rep, err := Run(context.Background(), Deps{
		Store: store, Scorer: &fakeScorer{fail: true}, Downloader: &fakeFetcher{}, BatchSize: 2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if rep.Scored != 0 || rep.Failed != 4 {
		t.Fatalf("report = %+v", rep)
	}
}

func TestRun_StoreWriteFailureAborts(t *testing.T) {
	store := &fakeStore{unscored: unscoredRecords(2), failSet: true}
	_, err := Run(context.Background(), Deps{
		Store: store, Scorer: &fakeScorer{}, Downloader: &fakeFetcher{}, BatchSize: 2,
	})
	if err == nil {
		t.Fatal("expected abort on score write failure")
	}
}
