package cluster

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/styleatlas/style-engine/engine/domain"
)

func blobRecords(t *testing.T, n int) ([]domain.EmbeddingRecord, *Result) {
	t.Helper()
	vecs := threeBlobs(n, 7)
	records := make([]domain.EmbeddingRecord, n)
	for i, v := range vecs {
		records[i] = domain.EmbeddingRecord{
			ContentHash: fmt.Sprintf("%012x", i),
			ImageURL:    fmt.Sprintf("https://cdn.example.com/%d.jpg", i),
			Category:    "tops",
			Embedding:   v,
		}
	}
	res, err := KMeans(vecs, KMeansOpts{K: 3, Seed: 42})
	if err != nil {
		t.Fatal(err)
	}
	return records, res
}

func TestRepresentatives_OrderAndTruncation(t *testing.T) {
	records, res := blobRecords(t, 30)
	reps := Representatives(records, res, 5)
	if len(reps) != 3 {
		t.Fatalf("got %d clusters, want 3", len(reps))
	}
	for c, rs := range reps {
		if len(rs) != 5 {
			t.Fatalf("cluster %d: %d reps, want 5", c, len(rs))
		}
		for i := 1; i < len(rs); i++ {
			if rs[i].Distance < rs[i-1].Distance {
				t.Fatalf("cluster %d reps not sorted by distance", c)
			}
		}
	}
}

func TestRepresentatives_SmallClusterKeepsAll(t *testing.T) {
	records, res := blobRecords(t, 9)
	reps := Representatives(records, res, 10)
	for c, rs := range reps {
		if len(rs) != 3 {
			t.Fatalf("cluster %d: %d reps, want all 3 members", c, len(rs))
		}
	}
}

func TestArtifact_RoundTrip(t *testing.T) {
	records, res := blobRecords(t, 30)
	a := BuildArtifact(records, res, 5)
	if a.K != 3 || a.Items != 30 {
		t.Fatalf("artifact = K %d Items %d", a.K, a.Items)
	}
	var total int
	for _, c := range a.Clusters {
		total += c.Size
		if len(c.CenterEmbedding) != 2 {
			t.Fatalf("cluster %d centroid dims = %d", c.ClusterID, len(c.CenterEmbedding))
		}
	}
	if total != 30 {
		t.Fatalf("cluster sizes sum to %d, want 30", total)
	}

	path := filepath.Join(t.TempDir(), "clusters.json")
	if err := WriteArtifact(a, path); err != nil {
		t.Fatalf("WriteArtifact: %v", err)
	}
	back, err := ReadArtifact(path)
	if err != nil {
		t.Fatalf("ReadArtifact: %v", err)
	}
	if back.K != a.K || len(back.Clusters) != len(a.Clusters) {
		t.Fatalf("round trip lost clusters: %+v", back)
	}
}

func TestKOne_SingleClusterWithAllRepresentatives(t *testing.T) {
	records, _ := blobRecords(t, 3)
	vecs := make([][]float32, len(records))
	for i, r := range records {
		vecs[i] = r.Embedding
	}
	res, err := KMeans(vecs, KMeansOpts{K: 1, Seed: 42})
	if err != nil {
		t.Fatal(err)
	}
	a := BuildArtifact(records, res, 10)
	if len(a.Clusters) != 1 {
		t.Fatalf("got %d clusters, want 1", len(a.Clusters))
	}
	c := a.Clusters[0]
	if c.Size != 3 || len(c.Representatives) != 3 {
		t.Fatalf("cluster size %d reps %d, want 3 and 3", c.Size, len(c.Representatives))
	}
}

func TestBuildArtifact_RenumbersAfterEmptyCluster(t *testing.T) {
	records := []domain.EmbeddingRecord{
		{ContentHash: "000000000001", Embedding: []float32{0, 1}},
		{ContentHash: "000000000002", Embedding: []float32{1, 0}},
		{ContentHash: "000000000003", Embedding: []float32{1, 0.1}},
	}
	// centroid 1 ended up empty, so raw labels skip it
	res := &Result{
		Labels:    []int{0, 2, 2},
		Centroids: [][]float64{{0, 1}, {5, 5}, {1, 0.05}},
		Inertia:   0.01,
	}

	a := BuildArtifact(records, res, 5)
	if a.K != 2 || len(a.Clusters) != 2 {
		t.Fatalf("K = %d, clusters = %d, want 2 and 2", a.K, len(a.Clusters))
	}
	for i, c := range a.Clusters {
		if c.ClusterID != i {
			t.Fatalf("cluster ids not dense: %+v", a.Clusters)
		}
	}
	if a.Clusters[0].Size != 1 || a.Clusters[1].Size != 2 {
		t.Fatalf("sizes = %d, %d, want 1 and 2", a.Clusters[0].Size, a.Clusters[1].Size)
	}
	if len(a.Clusters[1].Representatives) != 2 {
		t.Fatalf("renumbered cluster lost representatives: %+v", a.Clusters[1])
	}

	got := Assignments(records, res)
	want := map[string]int{"000000000001": 0, "000000000002": 1, "000000000003": 1}
	for hash, id := range want {
		if got[hash] != id {
			t.Fatalf("assignment %s = %d, want %d", hash, got[hash], id)
		}
	}
}

type fakeTagger struct {
	got map[string]int
}

func (f *fakeTagger) SetClusterIDs(_ context.Context, assignments map[string]int) (int, error) {
	f.got = assignments
	return len(assignments), nil
}

func TestApply_TagsEveryRecord(t *testing.T) {
	records, res := blobRecords(t, 15)
	tagger := &fakeTagger{}
	n, err := Apply(context.Background(), tagger, records, res)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if n != 15 || len(tagger.got) != 15 {
		t.Fatalf("tagged %d, want 15", n)
	}
	for i, rec := range records {
		if tagger.got[rec.ContentHash] != res.Labels[i] {
			t.Fatalf("%s tagged %d, want %d", rec.ContentHash, tagger.got[rec.ContentHash], res.Labels[i])
		}
	}
}

func TestCompareK_PrefersTrueK(t *testing.T) {
	vecs := threeBlobs(120, 3)
	reports, err := CompareK(vecs, CompareOpts{
		Candidates: []int{2, 3, 6},
		Seed:       42,
		SampleSize: 100,
	})
	if err != nil {
		t.Fatalf("CompareK: %v", err)
	}
	if len(reports) != 3 {
		t.Fatalf("got %d reports, want 3", len(reports))
	}
	if best := Best(reports); best.K != 3 {
		t.Fatalf("Best K = %d, want 3", best.K)
	}
	// inertia must fall as K grows
	for i := 1; i < len(reports); i++ {
		if reports[i].Inertia >= reports[i-1].Inertia {
			t.Fatalf("inertia not decreasing: %v", reports)
		}
	}
}

func TestCompareK_SkipsImpossibleK(t *testing.T) {
	vecs := threeBlobs(9, 4)
	reports, err := CompareK(vecs, CompareOpts{Candidates: []int{3, 100}, Seed: 42})
	if err != nil {
		t.Fatal(err)
	}
	if len(reports) != 1 || reports[0].K != 3 {
		t.Fatalf("reports = %+v, want only K=3", reports)
	}
}
