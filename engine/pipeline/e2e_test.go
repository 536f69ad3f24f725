package pipeline

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/styleatlas/style-engine/engine/cluster"
	"github.com/styleatlas/style-engine/engine/domain"
	"github.com/styleatlas/style-engine/engine/fusion"
	"github.com/styleatlas/style-engine/engine/query"
)

// tableEmbedder returns fixed vectors keyed by image payload and text string,
// so fused outputs are fully predictable.
type tableEmbedder struct {
	images map[string][]float32
	texts  map[string][]float32
}

func (e *tableEmbedder) EmbedImages(_ context.Context, images [][]byte) ([][]float32, error) {
	out := make([][]float32, len(images))
	for i, img := range images {
		v, ok := e.images[string(img)]
		if !ok {
			return nil, fmt.Errorf("no vector for image payload %q", img)
		}
		out[i] = append([]float32(nil), v...)
	}
	return out, nil
}

func (e *tableEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, txt := range texts {
		v, ok := e.texts[txt]
		if !ok {
			return nil, fmt.Errorf("no vector for text %q", txt)
		}
		out[i] = append([]float32(nil), v...)
	}
	return out, nil
}

// memoryStore holds records in memory and answers searches with true cosine
// similarity, ranked descending.
type memoryStore struct {
	records []domain.EmbeddingRecord
}

func (s *memoryStore) UpsertBatch(_ context.Context, records []domain.EmbeddingRecord) ([]string, error) {
	hashes := make([]string, len(records))
	for i, r := range records {
		hashes[i] = r.ContentHash
		s.records = append(s.records, r)
	}
	return hashes, nil
}

func (s *memoryStore) Search(_ context.Context, embedding []float32, topK int, filters map[string]string) ([]domain.SearchHit, error) {
	hits := make([]domain.SearchHit, 0, len(s.records))
	for _, r := range s.records {
		if c, ok := filters["category"]; ok && r.Category != c {
			continue
		}
		if ct, ok := filters["category_type"]; ok && r.CategoryType != ct {
			continue
		}
		hits = append(hits, domain.SearchHit{
			ContentHash:  r.ContentHash,
			ImageURL:     r.ImageURL,
			Category:     r.Category,
			CategoryType: r.CategoryType,
			Similarity:   float32(cosine(embedding, r.Embedding)),
		})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func vecNorm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Walks three items through download, fusion, upsert, clustering and a
// similarity query, with real HTTP downloads and real cosine ranking. Only
// the embedding function itself is faked.
func TestIngestClusterQuery_EndToEnd(t *testing.T) {
	payloads := map[string][]byte{
		"/red.jpg":   []byte("red-dress-bytes"),
		"/blue.jpg":  []byte("blue-coat-bytes"),
		"/plain.jpg": []byte("plain-bytes"),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := payloads[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(body)
	}))
	defer srv.Close()

	items := []domain.Item{
		{
			ImageURL: srv.URL + "/red.jpg", Category: "dresses", CategoryType: "clothing",
			SearchTerm: "red dress", Title: "Silk evening dress", AltText: "model in a red silk dress",
		},
		{
			ImageURL: srv.URL + "/blue.jpg", Category: "coats", CategoryType: "clothing",
			SearchTerm: "wool coat", Title: "Navy wool coat", AltText: "navy coat on a hanger",
		},
		{
			ImageURL: srv.URL + "/plain.jpg", Category: "tops", CategoryType: "clothing",
			SearchTerm: "top",
		},
	}
	for i := range items {
		items[i].ContentHash = domain.ContentHash(items[i].ImageURL)
	}

	embedder := &tableEmbedder{
		images: map[string][]float32{
			"red-dress-bytes": {1, 0, 0, 0},
			"blue-coat-bytes": {0, 1, 0, 0},
			"plain-bytes":     {0, 0, 1, 0},
		},
		texts: map[string][]float32{
			fusion.BuildText(items[0]): {0, 0, 0, 1},
			fusion.BuildText(items[1]): {0.5, 0.5, 0, 0},
			fusion.BuildText(items[2]): {0, 0, 0.5, 0.5},
		},
	}

	cp, err := OpenCheckpoint(filepath.Join(t.TempDir(), "cp.json"), 1)
	if err != nil {
		t.Fatal(err)
	}
	store := &memoryStore{}
	deps := Deps{
		Encoder: fusion.NewEncoder(embedder, fusion.DefaultWeights),
		Store:   store,
		Downloader: NewDownloader(DownloaderOpts{
			Concurrency: 4, Timeout: 5 * time.Second, Retries: 1,
		}),
		Controller:      testController(),
		Sampler:         &fakeSampler{},
		Checkpoint:      cp,
		MaxItemAttempts: 3,
	}

	rep, err := Run(context.Background(), deps, items)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Succeeded != 3 || rep.FailedDownload != 0 || rep.FailedEncode != 0 {
		t.Fatalf("report = %+v", rep)
	}
	if len(store.records) != 3 {
		t.Fatalf("stored %d records, want 3", len(store.records))
	}

	byHash := make(map[string]domain.EmbeddingRecord, 3)
	for _, r := range store.records {
		if n := vecNorm(r.Embedding); math.Abs(n-1) > 1e-4 {
			t.Fatalf("%s embedding norm = %f, want 1", r.ContentHash, n)
		}
		byHash[r.ContentHash] = r
	}

	// both text fields informative, one text field missing entirely
	wants := []float64{0.30, 0.30, 0.05}
	for i, it := range items {
		img, _ := embedder.EmbedImages(context.Background(), [][]byte{payloads["/"+filepath.Base(it.ImageURL)]})
		txt, _ := embedder.EmbedTexts(context.Background(), []string{fusion.BuildText(it)})
		fusion.Normalize(img[0])
		fusion.Normalize(txt[0])
		want, err := fusion.Fuse(img[0], txt[0], wants[i])
		if err != nil {
			t.Fatal(err)
		}
		got := byHash[it.ContentHash].Embedding
		for d := range want {
			if math.Abs(float64(want[d]-got[d])) > 1e-5 {
				t.Fatalf("item %d dim %d = %f, want %f", i, d, got[d], want[d])
			}
		}
	}

	vecs := make([][]float32, len(store.records))
	for i, r := range store.records {
		vecs[i] = r.Embedding
	}
	res, err := cluster.KMeans(vecs, cluster.KMeansOpts{K: 1, Seed: 42})
	if err != nil {
		t.Fatalf("KMeans: %v", err)
	}
	art := cluster.BuildArtifact(store.records, res, 10)
	if len(art.Clusters) != 1 || art.Clusters[0].Size != 3 {
		t.Fatalf("artifact clusters = %+v", art.Clusters)
	}
	if len(art.Clusters[0].Representatives) != 3 {
		t.Fatalf("got %d representatives, want all 3", len(art.Clusters[0].Representatives))
	}

	// a query whose text embeds to item 0's fused vector must rank item 0 first
	target := byHash[items[0].ContentHash].Embedding
	embedder.texts["silk evening dress"] = append([]float32(nil), target...)
	svc := query.New(embedder, store, query.DefaultOptions(), nil)
	hits, err := svc.Query(context.Background(), query.Request{Text: "silk evening dress", K: 3})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("got %d hits, want 3", len(hits))
	}
	if hits[0].ContentHash != items[0].ContentHash {
		t.Fatalf("top hit = %s, want %s", hits[0].ContentHash, items[0].ContentHash)
	}
	if math.Abs(float64(hits[0].Similarity)-1) > 1e-4 {
		t.Fatalf("top similarity = %f, want 1", hits[0].Similarity)
	}
	if hits[1].Similarity > hits[0].Similarity || hits[2].Similarity > hits[1].Similarity {
		t.Fatalf("hits not ranked: %+v", hits)
	}
}
