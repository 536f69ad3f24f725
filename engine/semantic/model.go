package semantic

import "github.com/google/uuid"

// ScrollOpts narrows a full-collection scan.
type ScrollOpts struct {
	// WithVectors includes embeddings in the result (needed for clustering).
	WithVectors bool
	// MinAesthetic keeps only records whose aesthetic score is >= the value.
	MinAesthetic *float64
	// UnscoredOnly keeps only records with no aesthetic score yet.
	UnscoredOnly bool
}

// ScoreUpdate carries one quality-scoring result back to the store.
type ScoreUpdate struct {
	ContentHash string
	Aesthetic   *float64
	Quality     *float64
}

// PointID maps a content hash to its deterministic Qdrant point UUID.
// Identical hashes always map to the same point, which is what makes
// upsert idempotent by key.
func PointID(contentHash string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(contentHash)).String()
}
