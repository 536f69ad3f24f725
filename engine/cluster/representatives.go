package cluster

import (
	"math"
	"sort"

	"github.com/styleatlas/style-engine/engine/domain"
)

// Representatives picks, per cluster, the n members closest to the centroid,
// ordered by ascending distance. Clusters smaller than n return all members.
func Representatives(records []domain.EmbeddingRecord, res *Result, n int) map[int][]domain.Representative {
	type member struct {
		rec  domain.EmbeddingRecord
		dist float64
	}
	byCluster := make(map[int][]member)
	for i, rec := range records {
		c := res.Labels[i]
		d := math.Sqrt(sqDist(toRow(rec.Embedding), res.Centroids[c]))
		byCluster[c] = append(byCluster[c], member{rec: rec, dist: d})
	}

	out := make(map[int][]domain.Representative, len(byCluster))
	for c, members := range byCluster {
		sort.Slice(members, func(i, j int) bool {
			if members[i].dist != members[j].dist {
				return members[i].dist < members[j].dist
			}
			return members[i].rec.ContentHash < members[j].rec.ContentHash
		})
		if len(members) > n {
			members = members[:n]
		}
		reps := make([]domain.Representative, len(members))
		for i, m := range members {
			reps[i] = domain.Representative{
				ContentHash: m.rec.ContentHash,
				ImageURL:    m.rec.ImageURL,
				Category:    m.rec.Category,
				Distance:    m.dist,
			}
		}
		out[c] = reps
	}
	return out
}

func toRow(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
