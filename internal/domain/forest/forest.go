// Package forest implements the fixed-configuration random forest used to
// classify match outcomes: bootstrap-sampled CART trees on Gini impurity with
// balanced class weights and sqrt feature sampling.
package forest

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
)

// Forest is a fitted ensemble. It is immutable and safe for concurrent use.
type Forest struct {
	trees    []*node
	classes  int
	features int
}

type node struct {
	feature   int
	threshold float64
	left      *node
	right     *node
	proba     []float64
}

func (n *node) leaf() bool { return n.left == nil }

// Fit trains a forest on X (rows of equal width) and class labels y in [0, classes).
func Fit(X [][]float64, y []int, classes int, cfg Config) (*Forest, error) {
	if len(X) == 0 {
		return nil, ErrEmptyTrainingSet
	}
	if cfg.Trees < 1 || cfg.MaxDepth < 1 {
		return nil, fmt.Errorf("%w: trees=%d max_depth=%d", ErrInvalidConfig, cfg.Trees, cfg.MaxDepth)
	}
	if len(X) != len(y) {
		return nil, fmt.Errorf("%w: %d rows, %d labels", ErrShapeMismatch, len(X), len(y))
	}
	width := len(X[0])
	for i, row := range X {
		if len(row) != width {
			return nil, fmt.Errorf("%w: row %d has %d features, want %d", ErrShapeMismatch, i, len(row), width)
		}
		if y[i] < 0 || y[i] >= classes {
			return nil, fmt.Errorf("%w: label %d out of range", ErrShapeMismatch, y[i])
		}
	}

	maxFeatures := cfg.MaxFeatures
	if maxFeatures <= 0 || maxFeatures > width {
		maxFeatures = int(math.Max(1, math.Floor(math.Sqrt(float64(width)))))
	}
	b := &builder{
		X:           X,
		y:           y,
		classes:     classes,
		weights:     balancedWeights(y, classes),
		maxDepth:    cfg.MaxDepth,
		minSplit:    cfg.MinSamplesSplit,
		maxFeatures: maxFeatures,
	}

	f := &Forest{trees: make([]*node, cfg.Trees), classes: classes, features: width}
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < cfg.workers(); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				// One source per tree keeps the result independent of scheduling.
				rng := rand.New(rand.NewSource(cfg.Seed + int64(i))) //nolint:gosec // reproducible model, not crypto
				f.trees[i] = b.tree(rng)
			}
		}()
	}
	for i := 0; i < cfg.Trees; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return f, nil
}

// Classes returns the number of classes.
func (f *Forest) Classes() int { return f.classes }

// Features returns the expected vector width.
func (f *Forest) Features() int { return f.features }

// PredictProba averages the leaf distributions of every tree for x.
func (f *Forest) PredictProba(x []float64) []float64 {
	out := make([]float64, f.classes)
	for _, t := range f.trees {
		n := t
		for !n.leaf() {
			if x[n.feature] <= n.threshold {
				n = n.left
			} else {
				n = n.right
			}
		}
		for c, p := range n.proba {
			out[c] += p
		}
	}
	for c := range out {
		out[c] /= float64(len(f.trees))
	}
	return out
}

// Predict returns the most probable class. Ties go to the lower index.
func (f *Forest) Predict(x []float64) int {
	return Argmax(f.PredictProba(x))
}

// Accuracy is the share of rows whose predicted class equals y.
func (f *Forest) Accuracy(X [][]float64, y []int) float64 {
	if len(X) == 0 {
		return 0
	}
	var hit int
	for i := range X {
		if f.Predict(X[i]) == y[i] {
			hit++
		}
	}
	return float64(hit) / float64(len(X))
}

// Argmax returns the index of the largest value, the first on ties.
func Argmax(p []float64) int {
	best := 0
	for i := 1; i < len(p); i++ {
		if p[i] > p[best] {
			best = i
		}
	}
	return best
}

// balancedWeights gives each present class n / (k * n_c).
func balancedWeights(y []int, classes int) []float64 {
	counts := make([]int, classes)
	for _, c := range y {
		counts[c]++
	}
	var present int
	for _, n := range counts {
		if n > 0 {
			present++
		}
	}
	w := make([]float64, classes)
	for c, n := range counts {
		if n > 0 {
			w[c] = float64(len(y)) / float64(present*n)
		}
	}
	return w
}

type builder struct {
	X           [][]float64
	y           []int
	classes     int
	weights     []float64
	maxDepth    int
	minSplit    int
	maxFeatures int
}

func (b *builder) tree(rng *rand.Rand) *node {
	n := len(b.X)
	sample := make([]int, n)
	for i := range sample {
		sample[i] = rng.Intn(n)
	}
	return b.grow(sample, 0, rng)
}

func (b *builder) distribution(idx []int) ([]float64, float64) {
	dist := make([]float64, b.classes)
	var total float64
	for _, i := range idx {
		w := b.weights[b.y[i]]
		dist[b.y[i]] += w
		total += w
	}
	return dist, total
}

func (b *builder) grow(idx []int, depth int, rng *rand.Rand) *node {
	dist, total := b.distribution(idx)
	if depth >= b.maxDepth || len(idx) < b.minSplit || gini(dist, total) == 0 {
		return leafOf(dist, total)
	}

	feature, threshold, ok := b.bestSplit(idx, dist, total, rng)
	if !ok {
		return leafOf(dist, total)
	}
	var left, right []int
	for _, i := range idx {
		if b.X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return &node{
		feature:   feature,
		threshold: threshold,
		left:      b.grow(left, depth+1, rng),
		right:     b.grow(right, depth+1, rng),
	}
}

// bestSplit scans maxFeatures random features for the threshold with the
// lowest weighted Gini impurity. ok is false when nothing improves on the parent.
func (b *builder) bestSplit(idx []int, parent []float64, total float64, rng *rand.Rand) (int, float64, bool) {
	width := len(b.X[0])
	candidates := rng.Perm(width)[:b.maxFeatures]

	bestScore := gini(parent, total) * total
	bestFeature, bestThreshold, found := -1, 0.0, false

	order := make([]int, len(idx))
	left := make([]float64, b.classes)
	right := make([]float64, b.classes)
	for _, f := range candidates {
		copy(order, idx)
		sort.Slice(order, func(i, j int) bool { return b.X[order[i]][f] < b.X[order[j]][f] })

		for c := range left {
			left[c] = 0
			right[c] = parent[c]
		}
		var wl float64
		for k := 0; k < len(order)-1; k++ {
			i := order[k]
			w := b.weights[b.y[i]]
			left[b.y[i]] += w
			right[b.y[i]] -= w
			wl += w

			cur, next := b.X[i][f], b.X[order[k+1]][f]
			if cur == next {
				continue
			}
			wr := total - wl
			score := gini(left, wl)*wl + gini(right, wr)*wr
			if score < bestScore-1e-12 {
				bestScore = score
				bestFeature = f
				bestThreshold = cur + (next-cur)/2
				found = true
			}
		}
	}
	return bestFeature, bestThreshold, found
}

func gini(dist []float64, total float64) float64 {
	if total <= 0 {
		return 0
	}
	g := 1.0
	for _, w := range dist {
		p := w / total
		g -= p * p
	}
	if g < 0 {
		return 0
	}
	return g
}

func leafOf(dist []float64, total float64) *node {
	proba := make([]float64, len(dist))
	if total > 0 {
		for c, w := range dist {
			proba[c] = w / total
		}
	}
	return &node{proba: proba}
}
