package cluster

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ErrTooFewSamples is returned when there are fewer points than clusters.
var ErrTooFewSamples = errors.New("cluster: fewer samples than clusters")

// Options configures k-means training.
type Options struct {
	K       int
	Seed    uint64
	MaxIter int
	// Tol is relative to the mean per-feature variance of the training data.
	Tol float64
}

// DefaultOptions returns five clusters seeded with 42.
func DefaultOptions() Options {
	return Options{K: 5, Seed: 42, MaxIter: 300, Tol: 1e-4}
}

// KMeans holds fitted centroids.
type KMeans struct {
	Centroids  [][]float64 `msgpack:"centroids"`
	Iterations int         `msgpack:"iterations"`
	Inertia    float64     `msgpack:"inertia"`
}

// FitKMeans clusters points with k-means++ seeding followed by Lloyd
// iterations. The same points and options always give the same centroids.
func FitKMeans(points [][]float64, opts Options) (*KMeans, error) {
	if opts.K <= 0 {
		return nil, fmt.Errorf("cluster: k must be positive, got %d", opts.K)
	}
	if len(points) < opts.K {
		return nil, fmt.Errorf("%w: %d samples, k=%d", ErrTooFewSamples, len(points), opts.K)
	}
	if opts.MaxIter <= 0 {
		opts.MaxIter = DefaultOptions().MaxIter
	}

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed))
	centroids := seedPlusPlus(points, opts.K, rng)
	threshold := opts.Tol * meanVariance(points)

	assign := make([]int, len(points))
	km := &KMeans{}
	for iter := 1; iter <= opts.MaxIter; iter++ {
		for i, p := range points {
			assign[i], _ = nearest(centroids, p)
		}
		next := recompute(points, assign, centroids)

		shift := 0.0
		for c := range centroids {
			d := floats.Distance(centroids[c], next[c], 2)
			shift += d * d
		}
		centroids = next
		km.Iterations = iter
		if shift <= threshold {
			break
		}
	}

	km.Centroids = centroids
	for _, p := range points {
		_, d := nearest(centroids, p)
		km.Inertia += d * d
	}
	return km, nil
}

// Nearest returns the index of the closest centroid to x. Ties go to the
// lowest index.
func (km *KMeans) Nearest(x []float64) int {
	idx, _ := nearest(km.Centroids, x)
	return idx
}

// K is the number of centroids.
func (km *KMeans) K() int {
	return len(km.Centroids)
}

func nearest(centroids [][]float64, x []float64) (int, float64) {
	best, bestDist := 0, math.Inf(1)
	for c, centroid := range centroids {
		if d := floats.Distance(centroid, x, 2); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best, bestDist
}

func seedPlusPlus(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, clone(points[rng.IntN(len(points))]))

	weights := make([]float64, len(points))
	for len(centroids) < k {
		for i, p := range points {
			_, d := nearest(centroids, p)
			weights[i] = d * d
		}
		total := floats.Sum(weights)
		if total == 0 {
			centroids = append(centroids, clone(points[rng.IntN(len(points))]))
			continue
		}

		target := rng.Float64() * total
		chosen := len(points) - 1
		acc := 0.0
		for i, w := range weights {
			acc += w
			if acc > target {
				chosen = i
				break
			}
		}
		centroids = append(centroids, clone(points[chosen]))
	}
	return centroids
}

// recompute moves each centroid to the mean of its points. A centroid left
// without points takes the point farthest from its current centroid.
func recompute(points [][]float64, assign []int, prev [][]float64) [][]float64 {
	dims := len(points[0])
	sums := make([][]float64, len(prev))
	counts := make([]int, len(prev))
	for c := range sums {
		sums[c] = make([]float64, dims)
	}
	for i, p := range points {
		floats.Add(sums[assign[i]], p)
		counts[assign[i]]++
	}

	taken := make(map[int]bool)
	for c := range sums {
		if counts[c] > 0 {
			floats.Scale(1/float64(counts[c]), sums[c])
			continue
		}
		far, farDist := -1, -1.0
		for i, p := range points {
			if taken[i] {
				continue
			}
			if d := floats.Distance(prev[assign[i]], p, 2); d > farDist {
				far, farDist = i, d
			}
		}
		taken[far] = true
		sums[c] = clone(points[far])
	}
	return sums
}

func meanVariance(points [][]float64) float64 {
	dims := len(points[0])
	column := make([]float64, len(points))
	total := 0.0
	for j := 0; j < dims; j++ {
		for i, p := range points {
			column[i] = p[j]
		}
		total += stat.Variance(column, nil)
	}
	v := total / float64(dims)
	if math.IsNaN(v) {
		return 0
	}
	return v
}

func clone(x []float64) []float64 {
	out := make([]float64, len(x))
	copy(out, x)
	return out
}
