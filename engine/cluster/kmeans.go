// Package cluster groups embedding vectors with k-means and derives the
// cluster artifacts the rest of the system consumes: centroids,
// representatives nearest each centroid, and a quality comparison across
// candidate K values.
package cluster

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

var (
	// ErrNoData is returned when there are no vectors to cluster.
	ErrNoData = errors.New("cluster: no vectors")
	// ErrBadK is returned for k < 1 or k greater than the number of
	// distinct vectors.
	ErrBadK = errors.New("cluster: invalid k")
)

// KMeansOpts tunes a clustering run. Runs with the same options and input
// are deterministic.
type KMeansOpts struct {
	K       int
	Seed    int64
	MaxIter int
	NInit   int
}

// Result is the output of one k-means fit.
type Result struct {
	// Labels[i] is the cluster assigned to vectors[i].
	Labels []int
	// Centroids are the final cluster centers, indexed by cluster id.
	Centroids [][]float64
	// Inertia is the sum of squared distances to assigned centroids.
	Inertia float64
}

// KMeans fits k clusters to the vectors with k-means++ seeding and Lloyd
// iterations, run NInit times from different deterministic seeds; the run
// with the lowest inertia wins, ties going to the earlier run.
func KMeans(vectors [][]float32, opts KMeansOpts) (*Result, error) {
	if len(vectors) == 0 {
		return nil, ErrNoData
	}
	if opts.K < 1 {
		return nil, fmt.Errorf("%w: k=%d", ErrBadK, opts.K)
	}
	if opts.MaxIter <= 0 {
		opts.MaxIter = 300
	}
	if opts.NInit <= 0 {
		opts.NInit = 10
	}
	data := toFloat64(vectors)
	if distinct := countDistinct(data); opts.K > distinct {
		return nil, fmt.Errorf("%w: k=%d exceeds %d distinct vectors", ErrBadK, opts.K, distinct)
	}

	var best *Result
	for run := 0; run < opts.NInit; run++ {
		rng := rand.New(rand.NewSource(opts.Seed + int64(run)))
		r := lloyd(data, opts.K, opts.MaxIter, rng)
		if best == nil || r.Inertia < best.Inertia {
			best = r
		}
	}
	return best, nil
}

func lloyd(data [][]float64, k, maxIter int, rng *rand.Rand) *Result {
	centroids := seedPlusPlus(data, k, rng)
	labels := make([]int, len(data))
	for iter := 0; iter < maxIter; iter++ {
		changed := assign(data, centroids, labels)
		recompute(data, labels, centroids, rng)
		if !changed {
			break
		}
	}
	return &Result{
		Labels:    labels,
		Centroids: centroids,
		Inertia:   inertia(data, centroids, labels),
	}
}

// seedPlusPlus picks initial centers with k-means++: the first uniformly,
// the rest weighted by squared distance to the nearest chosen center.
func seedPlusPlus(data [][]float64, k int, rng *rand.Rand) [][]float64 {
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, clone(data[rng.Intn(len(data))]))

	dists := make([]float64, len(data))
	for len(centroids) < k {
		var total float64
		for i, v := range data {
			d := sqDist(v, centroids[len(centroids)-1])
			if len(centroids) == 1 || d < dists[i] {
				dists[i] = d
			}
			total += dists[i]
		}
		if total == 0 {
			// all remaining points coincide with a center; pick any
			centroids = append(centroids, clone(data[rng.Intn(len(data))]))
			continue
		}
		target := rng.Float64() * total
		var acc float64
		pick := len(data) - 1
		for i, d := range dists {
			acc += d
			if acc >= target {
				pick = i
				break
			}
		}
		centroids = append(centroids, clone(data[pick]))
	}
	return centroids
}

func assign(data [][]float64, centroids [][]float64, labels []int) bool {
	changed := false
	for i, v := range data {
		bestIdx, bestD := 0, math.Inf(1)
		for c, cen := range centroids {
			if d := sqDist(v, cen); d < bestD {
				bestIdx, bestD = c, d
			}
		}
		if labels[i] != bestIdx {
			labels[i] = bestIdx
			changed = true
		}
	}
	return changed
}

func recompute(data [][]float64, labels []int, centroids [][]float64, rng *rand.Rand) {
	dim := len(data[0])
	counts := make([]int, len(centroids))
	sums := make([][]float64, len(centroids))
	for c := range sums {
		sums[c] = make([]float64, dim)
	}
	for i, v := range data {
		c := labels[i]
		counts[c]++
		for j, x := range v {
			sums[c][j] += x
		}
	}
	for c := range centroids {
		if counts[c] == 0 {
			// empty cluster: reseed from a random point
			centroids[c] = clone(data[rng.Intn(len(data))])
			continue
		}
		for j := range centroids[c] {
			centroids[c][j] = sums[c][j] / float64(counts[c])
		}
	}
}

func inertia(data [][]float64, centroids [][]float64, labels []int) float64 {
	var total float64
	for i, v := range data {
		total += sqDist(v, centroids[labels[i]])
	}
	return total
}

func sqDist(a, b []float64) float64 {
	var s float64
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}

func toFloat64(vectors [][]float32) [][]float64 {
	out := make([][]float64, len(vectors))
	for i, v := range vectors {
		row := make([]float64, len(v))
		for j, x := range v {
			row[j] = float64(x)
		}
		out[i] = row
	}
	return out
}

func countDistinct(data [][]float64) int {
	seen := make(map[string]struct{}, len(data))
	for _, v := range data {
		seen[fingerprint(v)] = struct{}{}
	}
	return len(seen)
}

func fingerprint(v []float64) string {
	b := make([]byte, 0, len(v)*8)
	for _, x := range v {
		bits := math.Float64bits(x)
		for s := 0; s < 64; s += 8 {
			b = append(b, byte(bits>>s))
		}
	}
	return string(b)
}

func clone(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	return out
}
