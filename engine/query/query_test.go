package query

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/styleatlas/style-engine/engine/domain"
)

type mockEmbedder struct {
	vec   []float32
	err   error
	empty bool
}

func (m *mockEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.empty {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = append([]float32(nil), m.vec...)
	}
	return out, nil
}

type mockSearcher struct {
	hits    []domain.SearchHit
	err     error
	gotK    int
	gotVec  []float32
	filters map[string]string
}

func (m *mockSearcher) Search(_ context.Context, embedding []float32, topK int, filters map[string]string) ([]domain.SearchHit, error) {
	m.gotK = topK
	m.gotVec = embedding
	m.filters = filters
	return m.hits, m.err
}

func testService(embed *mockEmbedder, search *mockSearcher) *Service {
	return New(embed, search, DefaultOptions(), nil)
}

func TestQuery_ReturnsHits(t *testing.T) {
	search := &mockSearcher{hits: []domain.SearchHit{
		{ContentHash: "aaaaaaaaaaaa", Similarity: 0.91},
		{ContentHash: "bbbbbbbbbbbb", Similarity: 0.85},
	}}
	svc := testService(&mockEmbedder{vec: []float32{3, 4}}, search)

	hits, err := svc.Query(context.Background(), Request{Text: "red floral dress", K: 2})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) != 2 || hits[0].ContentHash != "aaaaaaaaaaaa" {
		t.Fatalf("hits = %+v", hits)
	}
	if search.gotK != 2 {
		t.Fatalf("topK = %d, want 2", search.gotK)
	}
	// embedding is normalised before search
	var norm float64
	for _, x := range search.gotVec {
		norm += float64(x) * float64(x)
	}
	if math.Abs(math.Sqrt(norm)-1) > 1e-4 {
		t.Fatalf("search vector not unit norm: %v", search.gotVec)
	}
}

func TestQuery_ClampsK(t *testing.T) {
	search := &mockSearcher{}
	svc := testService(&mockEmbedder{vec: []float32{1, 0}}, search)

	if _, err := svc.Query(context.Background(), Request{Text: "x", K: 0}); err != nil {
		t.Fatal(err)
	}
	if search.gotK != 20 {
		t.Fatalf("default K = %d, want 20", search.gotK)
	}
	if _, err := svc.Query(context.Background(), Request{Text: "x", K: 5000}); err != nil {
		t.Fatal(err)
	}
	if search.gotK != 100 {
		t.Fatalf("clamped K = %d, want 100", search.gotK)
	}
}

func TestQuery_CategoryFilters(t *testing.T) {
	search := &mockSearcher{}
	svc := testService(&mockEmbedder{vec: []float32{1, 0}}, search)

	_, err := svc.Query(context.Background(), Request{
		Text: "linen shirt", Category: "tops", CategoryType: "apparel",
	})
	if err != nil {
		t.Fatal(err)
	}
	if search.filters["category"] != "tops" || search.filters["category_type"] != "apparel" {
		t.Fatalf("filters = %v", search.filters)
	}
}

func TestQuery_EmptyTextRejected(t *testing.T) {
	svc := testService(&mockEmbedder{vec: []float32{1, 0}}, &mockSearcher{})
	if _, err := svc.Query(context.Background(), Request{Text: "   "}); err == nil {
		t.Fatal("expected error for blank text")
	}
}

func TestQuery_EmbedError(t *testing.T) {
	svc := testService(&mockEmbedder{err: errors.New("encoder down")}, &mockSearcher{})
	if _, err := svc.Query(context.Background(), Request{Text: "x"}); err == nil {
		t.Fatal("expected embed error to propagate")
	}
}

func TestQuery_NoEmbeddingReturned(t *testing.T) {
	search := &mockSearcher{}
	svc := testService(&mockEmbedder{empty: true}, search)
	if _, err := svc.Query(context.Background(), Request{Text: "x"}); err == nil {
		t.Fatal("expected error when embedder returns no vectors")
	}
	if search.gotVec != nil {
		t.Fatal("search should not run without an embedding")
	}
}

func TestQuery_SearchError(t *testing.T) {
	svc := testService(&mockEmbedder{vec: []float32{1, 0}}, &mockSearcher{err: errors.New("store down")})
	if _, err := svc.Query(context.Background(), Request{Text: "x"}); err == nil {
		t.Fatal("expected search error to propagate")
	}
}

func TestQuery_EmptyResultIsValid(t *testing.T) {
	svc := testService(&mockEmbedder{vec: []float32{1, 0}}, &mockSearcher{})
	hits, err := svc.Query(context.Background(), Request{Text: "nothing like this"})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Fatalf("hits = %+v, want none", hits)
	}
}
