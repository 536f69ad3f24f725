package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/styleatlas/style-engine/engine/domain"
)

// Tagger pushes cluster assignments back to the vector store. Satisfied by
// *semantic.VectorStore.
type Tagger interface {
	SetClusterIDs(ctx context.Context, assignments map[string]int) (int, error)
}

// Artifact is the durable output of one clustering run. Each run fully
// replaces the previous artifact.
type Artifact struct {
	CreatedAt time.Time        `json:"created_at"`
	K         int              `json:"k"`
	Inertia   float64          `json:"inertia"`
	Items     int              `json:"items"`
	Clusters  []domain.Cluster `json:"clusters"`
}

// BuildArtifact assembles clusters from a fit. Empty clusters (possible after
// reseeding) are dropped and the remaining labels renumbered to 0..K-1, so
// artifact ids and Assignments always form a dense range.
func BuildArtifact(records []domain.EmbeddingRecord, res *Result, reps int) *Artifact {
	sizes := make(map[int]int)
	for _, l := range res.Labels {
		sizes[l]++
	}
	dense := denseIDs(res.Labels)
	repsByCluster := Representatives(records, res, reps)

	clusters := make([]domain.Cluster, 0, len(dense))
	for c, centroid := range res.Centroids {
		if sizes[c] == 0 {
			continue
		}
		center := make([]float32, len(centroid))
		for i, x := range centroid {
			center[i] = float32(x)
		}
		clusters = append(clusters, domain.Cluster{
			ClusterID:       dense[c],
			Size:            sizes[c],
			CenterEmbedding: center,
			Representatives: repsByCluster[c],
		})
	}
	return &Artifact{
		CreatedAt: time.Now().UTC(),
		K:         len(clusters),
		Inertia:   res.Inertia,
		Items:     len(records),
		Clusters:  clusters,
	}
}

// Assignments maps each record's content hash to its cluster id, using the
// same dense renumbering as BuildArtifact.
func Assignments(records []domain.EmbeddingRecord, res *Result) map[string]int {
	dense := denseIDs(res.Labels)
	out := make(map[string]int, len(records))
	for i, rec := range records {
		out[rec.ContentHash] = dense[res.Labels[i]]
	}
	return out
}

// denseIDs maps the labels that actually occur to 0..n-1 in ascending label
// order.
func denseIDs(labels []int) map[int]int {
	present := make([]int, 0)
	seen := make(map[int]bool)
	for _, l := range labels {
		if !seen[l] {
			seen[l] = true
			present = append(present, l)
		}
	}
	sort.Ints(present)
	out := make(map[int]int, len(present))
	for i, l := range present {
		out[l] = i
	}
	return out
}

// WriteArtifact writes the artifact to path via temp file and rename.
func WriteArtifact(a *Artifact, path string) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace artifact: %w", err)
	}
	return nil
}

// ReadArtifact loads a previously written artifact.
func ReadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("parse artifact %s: %w", path, err)
	}
	return &a, nil
}

// Apply tags every clustered record in the store with its cluster id.
func Apply(ctx context.Context, tagger Tagger, records []domain.EmbeddingRecord, res *Result) (int, error) {
	return tagger.SetClusterIDs(ctx, Assignments(records, res))
}
