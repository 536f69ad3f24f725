// Package domain defines the core data model shared across the engine —
// scraped items, embedding records, and cluster artifacts — and acts as the
// validation gate at pipeline entry points.
package domain

import "time"

// Item is one scraped image resource, as emitted by the scrapers.
// ContentHash is the primary key and dedup token; producers compute it from
// the canonical image URL via ContentHash().
type Item struct {
	ContentHash  string    `json:"content_hash"`
	ImageURL     string    `json:"url"`
	Category     string    `json:"category"`
	CategoryType string    `json:"category_type"`
	SearchTerm   string    `json:"search_term"`
	Title        string    `json:"title"`
	AltText      string    `json:"alt_text"`
	Source       string    `json:"source"`
	CollectedAt  time.Time `json:"collected_at"`
}

// EmbeddingRecord is one fused vector per Item, keyed by ContentHash.
// ClusterID and the score fields stay nil until populated by the clustering
// engine and the scoring pass respectively.
type EmbeddingRecord struct {
	ContentHash  string    `json:"content_hash"`
	ImageURL     string    `json:"image_url"`
	Category     string    `json:"category"`
	CategoryType string    `json:"category_type"`
	SearchTerm   string    `json:"search_term"`
	Title        string    `json:"title"`
	AltText      string    `json:"alt_text"`
	Embedding    []float32 `json:"embedding"`
	ClusterID    *int      `json:"cluster_id,omitempty"`
	Aesthetic    *float64  `json:"aesthetic,omitempty"`
	Quality      *float64  `json:"quality,omitempty"`
}

// Representative is a cluster member close to its centroid, retained with
// enough detail to summarize the cluster downstream.
type Representative struct {
	ContentHash string  `json:"content_hash"`
	ImageURL    string  `json:"image_url"`
	Category    string  `json:"category"`
	Distance    float64 `json:"distance"`
}

// Cluster is one group produced by a clustering run. A run fully replaces
// the prior cluster set; members beyond the representatives exist only as
// cluster_id tags on their embedding records.
type Cluster struct {
	ClusterID       int              `json:"cluster_id"`
	Size            int              `json:"size"`
	CenterEmbedding []float32        `json:"center_embedding"`
	Representatives []Representative `json:"representatives"`
}

// SearchHit is one ranked result from a KNN query. Similarity is cosine,
// in [-1, 1], descending within a result set.
type SearchHit struct {
	ContentHash  string  `json:"content_hash"`
	ImageURL     string  `json:"image_url"`
	Category     string  `json:"category"`
	CategoryType string  `json:"category_type"`
	Similarity   float32 `json:"similarity"`
}
