package fusion

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/styleatlas/style-engine/engine/domain"
)

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func TestTextWeight_Tiers(t *testing.T) {
	w := DefaultWeights
	cases := []struct {
		title, alt string
		want       float64
	}{
		{"Minimal perfume bottle", "bottle on stone slab", 0.30},
		{"Minimal perfume bottle", "", 0.15},
		{"", "bottle on stone slab", 0.15},
		{"", "", 0.05},
		{"  ", "\t", 0.05},   // whitespace is not informative
		{"ad", "x", 0.05},    // too short to trust
		{"ad", "real alt text", 0.15},
	}
	for _, c := range cases {
		if got := w.TextWeight(c.title, c.alt); got != c.want {
			t.Errorf("TextWeight(%q, %q) = %v, want %v", c.title, c.alt, got, c.want)
		}
	}
}

func TestFuse_UnitNorm(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	dims := 64
	for _, w := range []float64{0, 0.05, 0.15, 0.30, 0.5, 1.0} {
		img := make([]float32, dims)
		txt := make([]float32, dims)
		for i := 0; i < dims; i++ {
			img[i] = float32(rng.NormFloat64())
			txt[i] = float32(rng.NormFloat64())
		}
		Normalize(img)
		Normalize(txt)

		fused, err := Fuse(img, txt, w)
		if err != nil {
			t.Fatalf("w=%v: %v", w, err)
		}
		if n := norm(fused); math.Abs(n-1) > 1e-5 {
			t.Errorf("w=%v: fused norm = %v, want 1", w, n)
		}
	}
}

func TestFuse_DimMismatch(t *testing.T) {
	if _, err := Fuse([]float32{1, 0}, []float32{1, 0, 0}, 0.3); err == nil {
		t.Fatal("expected dimension error")
	}
}

func TestFuse_ZeroVector(t *testing.T) {
	// img = -w*txt cancels exactly.
	img := []float32{1, 0}
	txt := []float32{-1, 0}
	if _, err := Fuse(img, txt, 1.0); err != ErrZeroVector {
		t.Fatalf("expected ErrZeroVector, got %v", err)
	}
}

func TestBuildText(t *testing.T) {
	it := domain.Item{
		Title:      "Bold poster",
		AltText:    "",
		Category:   "graphic design",
		SearchTerm: "swiss poster",
	}
	got := BuildText(it)
	want := "Bold poster | graphic design | swiss poster"
	if got != want {
		t.Fatalf("BuildText = %q, want %q", got, want)
	}
	if BuildText(domain.Item{}) != "" {
		t.Fatal("empty item should build empty text")
	}
}

// stubEmbedder returns fixed orthogonal unit vectors and records inputs.
type stubEmbedder struct {
	dims      int
	lastTexts []string
}

func (s *stubEmbedder) EmbedImages(_ context.Context, images [][]byte) ([][]float32, error) {
	out := make([][]float32, len(images))
	for i := range images {
		v := make([]float32, s.dims)
		v[0] = 1
		out[i] = v
	}
	return out, nil
}

func (s *stubEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	s.lastTexts = texts
	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, s.dims)
		v[1] = 1
		out[i] = v
	}
	return out, nil
}

func TestEncodeBatch(t *testing.T) {
	emb := &stubEmbedder{dims: 8}
	enc := NewEncoder(emb, DefaultWeights)

	items := []domain.Item{
		{ContentHash: "aaaaaaaaaaaa", ImageURL: "https://x/1.jpg", Category: "ads", Title: "Luxury watch ad", AltText: "watch on black"},
		{ContentHash: "bbbbbbbbbbbb", ImageURL: "https://x/2.jpg", Category: "ads"},
	}
	images := [][]byte{[]byte("img1"), []byte("img2")}

	records, err := enc.EncodeBatch(context.Background(), items, images)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records", len(records))
	}
	for _, r := range records {
		if err := domain.ValidateEmbedding(r.Embedding, 8); err != nil {
			t.Errorf("record %s: %v", r.ContentHash, err)
		}
	}
	// Text branch runs for textless items too; shapes must stay uniform.
	if len(emb.lastTexts) != 2 {
		t.Fatalf("text branch saw %d inputs, want 2", len(emb.lastTexts))
	}
	// Item with rich text leans further toward the text axis than the bare one.
	if records[0].Embedding[1] <= records[1].Embedding[1] {
		t.Error("rich-text item should have larger text component")
	}
}

func TestEncodeBatch_LengthMismatch(t *testing.T) {
	enc := NewEncoder(&stubEmbedder{dims: 4}, DefaultWeights)
	_, err := enc.EncodeBatch(context.Background(), []domain.Item{{}}, nil)
	if err == nil {
		t.Fatal("expected length mismatch error")
	}
}

func TestEncodeBatch_Empty(t *testing.T) {
	enc := NewEncoder(&stubEmbedder{dims: 4}, DefaultWeights)
	records, err := enc.EncodeBatch(context.Background(), nil, nil)
	if err != nil || records != nil {
		t.Fatalf("empty batch: records=%v err=%v", records, err)
	}
}
