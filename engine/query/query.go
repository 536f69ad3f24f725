// Package query answers free-text similarity queries. It embeds the query
// text with the fusion encoder's text branch, searches the vector store and
// returns ranked hits, optionally narrowed by category filters.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/styleatlas/style-engine/engine/domain"
	"github.com/styleatlas/style-engine/engine/fusion"
)

// Searcher abstracts the vector store's KNN search.
type Searcher interface {
	Search(ctx context.Context, embedding []float32, topK int, filters map[string]string) ([]domain.SearchHit, error)
}

// TextEmbedder embeds query text. Satisfied by *clipd.Client.
type TextEmbedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Options configures query behaviour.
type Options struct {
	DefaultK      int
	MaxK          int
	SearchTimeout time.Duration
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		DefaultK:      20,
		MaxK:          100,
		SearchTimeout: 5 * time.Second,
	}
}

// Service answers text queries against the embedded collection.
type Service struct {
	embed  TextEmbedder
	search Searcher
	opts   Options
	logger *slog.Logger
}

// New creates a query Service.
func New(embed TextEmbedder, search Searcher, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{embed: embed, search: search, opts: opts, logger: logger}
}

// Request is one similarity query.
type Request struct {
	Text         string `json:"text"`
	K            int    `json:"k"`
	Category     string `json:"category,omitempty"`
	CategoryType string `json:"category_type,omitempty"`
}

// Query embeds the request text and returns the K nearest items by cosine
// similarity. K is clamped to [1, MaxK]; K <= 0 uses the default. An empty
// result set is a valid answer, not an error.
func (s *Service) Query(ctx context.Context, req Request) ([]domain.SearchHit, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, fmt.Errorf("query: empty text")
	}
	k := req.K
	if k <= 0 {
		k = s.opts.DefaultK
	}
	if k > s.opts.MaxK {
		k = s.opts.MaxK
	}

	vecs, err := s.embed.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("query: embed text: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("query: embedder returned %d vectors for one text", len(vecs))
	}
	embedding := vecs[0]
	fusion.Normalize(embedding)

	filters := map[string]string{}
	if req.Category != "" {
		filters["category"] = req.Category
	}
	if req.CategoryType != "" {
		filters["category_type"] = req.CategoryType
	}

	searchCtx, cancel := context.WithTimeout(ctx, s.opts.SearchTimeout)
	defer cancel()

	hits, err := s.search.Search(searchCtx, embedding, k, filters)
	if err != nil {
		return nil, fmt.Errorf("query: search: %w", err)
	}
	s.logger.Info("query done", "text_len", len(text), "k", k, "hits", len(hits))
	return hits, nil
}
