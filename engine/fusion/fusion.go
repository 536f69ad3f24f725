// Package fusion combines per-item image and text embeddings into one
// unit-norm fused vector. The text branch's influence scales with how much
// trustworthy text metadata the item carries.
package fusion

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/styleatlas/style-engine/engine/domain"
)

// Embedder is the external embedding function contract. Implementations must
// return unit-norm vectors of a fixed dimension, one per input, in order.
type Embedder interface {
	EmbedImages(ctx context.Context, images [][]byte) ([][]float32, error)
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Weights are the text-weight tiers. Text metadata is noisy and often absent,
// so its weight tracks the evidence that it is trustworthy.
type Weights struct {
	Full    float64 // title and alt text both informative
	Partial float64 // exactly one informative
	Minimal float64 // neither informative
}

// DefaultWeights mirror the production tiers.
var DefaultWeights = Weights{Full: 0.30, Partial: 0.15, Minimal: 0.05}

// ErrZeroVector is returned when fusion would produce an unnormalizable vector.
var ErrZeroVector = errors.New("fusion: zero-norm vector")

// informative reports whether a text field carries usable signal.
func informative(s string) bool {
	return len([]rune(strings.TrimSpace(s))) >= 3
}

// TextWeight picks the per-item weight from the title and alt-text fields.
func (w Weights) TextWeight(title, altText string) float64 {
	switch {
	case informative(title) && informative(altText):
		return w.Full
	case informative(title) || informative(altText):
		return w.Partial
	default:
		return w.Minimal
	}
}

// BuildText joins an item's text fields into the encoder input string.
// Empty fields are dropped; an item with no text yields "".
func BuildText(it domain.Item) string {
	parts := make([]string, 0, 4)
	for _, p := range []string{it.Title, it.AltText, it.Category, it.SearchTerm} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " | ")
}

// Fuse computes f = img + w*txt and renormalizes to unit norm.
func Fuse(img, txt []float32, w float64) ([]float32, error) {
	if len(img) != len(txt) {
		return nil, fmt.Errorf("fusion: image dim %d != text dim %d", len(img), len(txt))
	}
	out := make([]float32, len(img))
	var sum float64
	for i := range img {
		v := float64(img[i]) + w*float64(txt[i])
		out[i] = float32(v)
		sum += v * v
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return nil, ErrZeroVector
	}
	inv := float32(1 / norm)
	for i := range out {
		out[i] *= inv
	}
	return out, nil
}

// Normalize scales v to unit norm in place. A zero vector is left untouched;
// encoder outputs are normalized defensively before fusion.
func Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}

// Encoder turns downloaded items into fused embedding records, one encoder
// call per batch for the image and text branches each.
type Encoder struct {
	embedder Embedder
	weights  Weights
}

// NewEncoder creates a fusion encoder over the external embedding function.
func NewEncoder(embedder Embedder, weights Weights) *Encoder {
	return &Encoder{embedder: embedder, weights: weights}
}

// EncodeBatch fuses one batch. images[i] must be the downloaded bytes for
// items[i]. The text branch is always computed, even for items with no text,
// to keep batch shapes uniform; weight falls to the minimal tier in that case.
func (e *Encoder) EncodeBatch(ctx context.Context, items []domain.Item, images [][]byte) ([]domain.EmbeddingRecord, error) {
	if len(items) != len(images) {
		return nil, fmt.Errorf("fusion: %d items but %d images", len(items), len(images))
	}
	if len(items) == 0 {
		return nil, nil
	}

	texts := make([]string, len(items))
	for i, it := range items {
		texts[i] = BuildText(it)
	}

	imgVecs, err := e.embedder.EmbedImages(ctx, images)
	if err != nil {
		return nil, fmt.Errorf("fusion: embed images: %w", err)
	}
	txtVecs, err := e.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("fusion: embed texts: %w", err)
	}
	if len(imgVecs) != len(items) || len(txtVecs) != len(items) {
		return nil, fmt.Errorf("fusion: embedder returned %d/%d vectors for %d items", len(imgVecs), len(txtVecs), len(items))
	}

	records := make([]domain.EmbeddingRecord, len(items))
	for i, it := range items {
		Normalize(imgVecs[i])
		Normalize(txtVecs[i])
		w := e.weights.TextWeight(it.Title, it.AltText)
		fused, err := Fuse(imgVecs[i], txtVecs[i], w)
		if err != nil {
			return nil, fmt.Errorf("fusion: item %s: %w", it.ContentHash, err)
		}
		records[i] = domain.EmbeddingRecord{
			ContentHash:  it.ContentHash,
			ImageURL:     it.ImageURL,
			Category:     it.Category,
			CategoryType: it.CategoryType,
			SearchTerm:   it.SearchTerm,
			Title:        it.Title,
			AltText:      it.AltText,
			Embedding:    fused,
		}
	}
	return records, nil
}
