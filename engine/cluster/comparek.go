package cluster

import (
	"math"
	"math/rand"
)

// KReport scores one candidate K.
type KReport struct {
	K          int     `json:"k"`
	Inertia    float64 `json:"inertia"`
	Silhouette float64 `json:"silhouette"`
}

// CompareOpts configures a CompareK sweep.
type CompareOpts struct {
	Candidates []int
	Seed       int64
	MaxIter    int
	NInit      int
	// SampleSize caps the silhouette computation; silhouette is quadratic
	// in sample size so large collections are subsampled.
	SampleSize int
}

// CompareK fits every candidate K over the same vectors and reports inertia
// and a sampled silhouette score for each, in candidate order. Candidates
// that cannot be fit (k exceeds the distinct vector count) are skipped.
func CompareK(vectors [][]float32, opts CompareOpts) ([]KReport, error) {
	if len(vectors) == 0 {
		return nil, ErrNoData
	}
	if opts.SampleSize <= 0 {
		opts.SampleSize = 10000
	}
	data := toFloat64(vectors)
	sample := sampleIndices(len(data), opts.SampleSize, opts.Seed)

	var reports []KReport
	for _, k := range opts.Candidates {
		res, err := KMeans(vectors, KMeansOpts{
			K: k, Seed: opts.Seed, MaxIter: opts.MaxIter, NInit: opts.NInit,
		})
		if err != nil {
			continue
		}
		reports = append(reports, KReport{
			K:          k,
			Inertia:    res.Inertia,
			Silhouette: silhouette(data, res.Labels, sample),
		})
	}
	if len(reports) == 0 {
		return nil, ErrBadK
	}
	return reports, nil
}

// Best returns the report with the highest silhouette, ties going to the
// smaller K.
func Best(reports []KReport) KReport {
	best := reports[0]
	for _, r := range reports[1:] {
		if r.Silhouette > best.Silhouette {
			best = r
		}
	}
	return best
}

func sampleIndices(n, size int, seed int64) []int {
	if n <= size {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	rng := rand.New(rand.NewSource(seed))
	return rng.Perm(n)[:size]
}

// silhouette computes the mean silhouette coefficient over the sampled
// points, with distances measured within the sample.
func silhouette(data [][]float64, labels []int, sample []int) float64 {
	byCluster := make(map[int][]int)
	for _, i := range sample {
		byCluster[labels[i]] = append(byCluster[labels[i]], i)
	}
	if len(byCluster) < 2 {
		return 0
	}

	var total float64
	var counted int
	for _, i := range sample {
		own := labels[i]
		if len(byCluster[own]) < 2 {
			continue
		}
		a := meanDist(data, i, byCluster[own], true)
		b := math.Inf(1)
		for c, members := range byCluster {
			if c == own {
				continue
			}
			if d := meanDist(data, i, members, false); d < b {
				b = d
			}
		}
		if m := math.Max(a, b); m > 0 {
			total += (b - a) / m
		}
		counted++
	}
	if counted == 0 {
		return 0
	}
	return total / float64(counted)
}

func meanDist(data [][]float64, i int, members []int, excludeSelf bool) float64 {
	var sum float64
	var n int
	for _, j := range members {
		if excludeSelf && j == i {
			continue
		}
		sum += math.Sqrt(sqDist(data[i], data[j]))
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
