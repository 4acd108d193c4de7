// Package cluster groups chunk embeddings into thematic clusters. The
// cluster count is chosen automatically by maximising the silhouette score
// over a k range, after optional L2 normalisation and PCA reduction.
package cluster

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Config tunes the automatic cluster-count search.
type Config struct {
	// KMin and KMax bound the candidate cluster counts. KMax is clamped to
	// the sample count.
	KMin int
	KMax int

	// Normalize applies row-wise L2 normalisation before clustering, making
	// Euclidean distance behave like cosine distance.
	Normalize bool

	// PCADims reduces dimensionality before clustering when the input
	// dimensionality exceeds it. Zero disables reduction.
	PCADims int
}

// DefaultConfig matches the podcast generator's grouping behaviour.
func DefaultConfig() Config {
	return Config{KMin: 2, KMax: 8, Normalize: true, PCADims: 50}
}

// Result carries the chosen clustering.
type Result struct {
	// K is the selected cluster count.
	K int

	// Labels assigns each input row a cluster in [0, K).
	Labels []int

	// Silhouette is the score of the selected clustering, or -1 when the
	// fallback k was used.
	Silhouette float64
}

// maxKMeansIterations bounds Lloyd's algorithm per fit.
const maxKMeansIterations = 100

// Cluster picks k in [cfg.KMin, min(cfg.KMax, n)] by silhouette score and
// returns the winning k-means assignment. Candidate fits whose smallest
// cluster has fewer than 2 members are skipped; when no candidate qualifies,
// the k = KMin fit is returned as-is.
func Cluster(embeddings [][]float32, cfg Config) (*Result, error) {
	n := len(embeddings)
	if n == 0 {
		return nil, fmt.Errorf("cluster: no embeddings")
	}
	if cfg.KMin < 1 {
		cfg.KMin = 1
	}
	if cfg.KMax < cfg.KMin {
		cfg.KMax = cfg.KMin
	}
	if n == 1 || cfg.KMin >= n {
		return &Result{K: 1, Labels: make([]int, n), Silhouette: -1}, nil
	}

	points := prepare(embeddings, cfg)
	// Deterministic seeding keeps repeated runs over the same library stable.
	rng := rand.New(rand.NewSource(1))

	kMax := cfg.KMax
	if kMax > n {
		kMax = n
	}

	best := &Result{K: 0, Silhouette: math.Inf(-1)}
	var fallback *Result
	for k := cfg.KMin; k <= kMax; k++ {
		labels := kmeans(points, k, rng)
		if k == cfg.KMin {
			fallback = &Result{K: k, Labels: labels, Silhouette: -1}
		}
		if smallestCluster(labels, k) < 2 {
			continue
		}
		score := silhouette(points, labels, k)
		if score > best.Silhouette {
			best = &Result{K: k, Labels: labels, Silhouette: score}
		}
	}

	if best.K == 0 {
		return fallback, nil
	}
	return best, nil
}

// prepare converts to float64 rows, optionally L2-normalises, and optionally
// projects onto the leading principal components.
func prepare(embeddings [][]float32, cfg Config) [][]float64 {
	n := len(embeddings)
	dim := len(embeddings[0])

	points := make([][]float64, n)
	for i, e := range embeddings {
		row := make([]float64, dim)
		for j, v := range e {
			row[j] = float64(v)
		}
		if cfg.Normalize {
			norm := 0.0
			for _, v := range row {
				norm += v * v
			}
			norm = math.Sqrt(norm)
			if norm > 0 {
				for j := range row {
					row[j] /= norm
				}
			}
		}
		points[i] = row
	}

	if cfg.PCADims <= 0 || dim <= cfg.PCADims || n < 2 {
		return points
	}
	return project(points, cfg.PCADims)
}

// project reduces the rows to dims dimensions via PCA. On a degenerate
// decomposition the original rows are returned unchanged.
func project(points [][]float64, dims int) [][]float64 {
	n, dim := len(points), len(points[0])
	data := mat.NewDense(n, dim, nil)
	for i, row := range points {
		data.SetRow(i, row)
	}

	var pc stat.PC
	if !pc.PrincipalComponents(data, nil) {
		return points
	}

	var vecs mat.Dense
	pc.VectorsTo(&vecs)
	// With fewer samples than dimensions the decomposition yields fewer
	// components than requested.
	if _, cols := vecs.Dims(); dims > cols {
		dims = cols
	}
	var projected mat.Dense
	projected.Mul(data, vecs.Slice(0, dim, 0, dims))

	out := make([][]float64, n)
	for i := range out {
		out[i] = mat.Row(nil, i, &projected)
	}
	return out
}

// kmeans runs k-means++ initialisation followed by Lloyd's iterations and
// returns the final assignment.
func kmeans(points [][]float64, k int, rng *rand.Rand) []int {
	n := len(points)
	centroids := initCentroids(points, k, rng)
	labels := make([]int, n)

	for iter := 0; iter < maxKMeansIterations; iter++ {
		changed := false
		for i, p := range points {
			bestIdx, bestDist := 0, math.Inf(1)
			for c, centroid := range centroids {
				if d := sqDist(p, centroid); d < bestDist {
					bestIdx, bestDist = c, d
				}
			}
			if labels[i] != bestIdx {
				labels[i] = bestIdx
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}

		// Recompute centroids; an emptied cluster keeps its previous centre.
		counts := make([]int, k)
		sums := make([][]float64, k)
		for c := range sums {
			sums[c] = make([]float64, len(points[0]))
		}
		for i, p := range points {
			c := labels[i]
			counts[c]++
			for j, v := range p {
				sums[c][j] += v
			}
		}
		for c := range centroids {
			if counts[c] == 0 {
				continue
			}
			for j := range sums[c] {
				sums[c][j] /= float64(counts[c])
			}
			centroids[c] = sums[c]
		}
	}
	return labels
}

// initCentroids implements k-means++ seeding.
func initCentroids(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	n := len(points)
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, points[rng.Intn(n)])

	dists := make([]float64, n)
	for len(centroids) < k {
		total := 0.0
		for i, p := range points {
			min := math.Inf(1)
			for _, c := range centroids {
				if d := sqDist(p, c); d < min {
					min = d
				}
			}
			dists[i] = min
			total += min
		}
		if total == 0 {
			// All remaining points coincide with a centroid.
			centroids = append(centroids, points[rng.Intn(n)])
			continue
		}
		target := rng.Float64() * total
		acc := 0.0
		idx := n - 1
		for i, d := range dists {
			acc += d
			if acc >= target {
				idx = i
				break
			}
		}
		centroids = append(centroids, points[idx])
	}
	return centroids
}

// smallestCluster returns the size of the smallest assigned cluster.
func smallestCluster(labels []int, k int) int {
	counts := make([]int, k)
	for _, l := range labels {
		counts[l]++
	}
	min := len(labels)
	for _, c := range counts {
		if c < min {
			min = c
		}
	}
	return min
}

// silhouette computes the mean silhouette coefficient of the assignment.
func silhouette(points [][]float64, labels []int, k int) float64 {
	n := len(points)
	counts := make([]int, k)
	for _, l := range labels {
		counts[l]++
	}

	total := 0.0
	for i, p := range points {
		// Mean distance to every cluster.
		sums := make([]float64, k)
		for j, q := range points {
			if i == j {
				continue
			}
			sums[labels[j]] += math.Sqrt(sqDist(p, q))
		}

		own := labels[i]
		a := sums[own] / float64(counts[own]-1)

		b := math.Inf(1)
		for c := 0; c < k; c++ {
			if c == own || counts[c] == 0 {
				continue
			}
			if m := sums[c] / float64(counts[c]); m < b {
				b = m
			}
		}

		if max := math.Max(a, b); max > 0 {
			total += (b - a) / max
		}
	}
	return total / float64(n)
}

func sqDist(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
