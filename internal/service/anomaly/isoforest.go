package anomaly

import (
	"math"
	"math/rand"
	"sync"
)

const (
	defaultTreeCount  = 100
	defaultSampleSize = 64
	defaultWindowSize = 512
	// minObservations before the forest starts scoring; earlier vectors
	// score 0 (no opinion).
	minObservations = 16
	// refitInterval is how many observations pass between forest rebuilds.
	refitInterval = 32
)

// IsolationForest is a self-fitting outlier model. Each scored vector joins a
// bounded observation window; the forest refits periodically from the window
// and isolates new vectors against it. Scores follow decision-function
// conventions: positive for inliers, approaching -1 for strong outliers.
// Deterministic for a fixed seed and observation order.
type IsolationForest struct {
	mu  sync.Mutex
	rng *rand.Rand

	window     [][]float64
	windowSize int
	sinceFit   int

	trees      []*isoTree
	treeCount  int
	sampleSize int
}

// NewIsolationForest creates a forest seeded for reproducible scoring.
func NewIsolationForest(seed int64) *IsolationForest {
	return &IsolationForest{
		rng:        rand.New(rand.NewSource(seed)),
		windowSize: defaultWindowSize,
		treeCount:  defaultTreeCount,
		sampleSize: defaultSampleSize,
	}
}

// Score records the vector and returns its outlier score against the current
// forest. Callers get 0 until enough observations accumulate.
func (f *IsolationForest) Score(vector []float64) float64 {
	if len(vector) == 0 {
		return 0
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	score := 0.0
	if len(f.trees) > 0 {
		score = f.decisionScore(vector)
	}

	f.observe(vector)
	return score
}

func (f *IsolationForest) observe(vector []float64) {
	v := make([]float64, len(vector))
	copy(v, vector)

	f.window = append(f.window, v)
	if len(f.window) > f.windowSize {
		f.window = f.window[1:]
	}

	f.sinceFit++
	needsFit := len(f.trees) == 0 && len(f.window) >= minObservations
	if needsFit || (len(f.trees) > 0 && f.sinceFit >= refitInterval) {
		f.fit()
		f.sinceFit = 0
	}
}

func (f *IsolationForest) fit() {
	f.trees = make([]*isoTree, 0, f.treeCount)

	sample := f.sampleSize
	if sample > len(f.window) {
		sample = len(f.window)
	}
	maxDepth := int(math.Ceil(math.Log2(float64(sample)))) + 1

	for t := 0; t < f.treeCount; t++ {
		subset := make([][]float64, sample)
		for i := range subset {
			subset[i] = f.window[f.rng.Intn(len(f.window))]
		}
		f.trees = append(f.trees, buildIsoTree(subset, 0, maxDepth, f.rng))
	}
}

// decisionScore maps the average isolation depth to [-1, 1]: 0 for points of
// average depth, negative for points isolated unusually fast.
func (f *IsolationForest) decisionScore(vector []float64) float64 {
	var total float64
	for _, tree := range f.trees {
		total += tree.pathLength(vector, 0)
	}
	avgPath := total / float64(len(f.trees))

	sample := f.sampleSize
	if sample > len(f.window) {
		sample = len(f.window)
	}
	c := avgPathLength(sample)
	if c == 0 {
		return 0
	}

	anomaly := math.Pow(2, -avgPath/c) // (0,1], 1 = most anomalous
	return 2 * (0.5 - anomaly)
}

type isoTree struct {
	feature    int
	split      float64
	left       *isoTree
	right      *isoTree
	size       int
	isExternal bool
}

func buildIsoTree(data [][]float64, depth, maxDepth int, rng *rand.Rand) *isoTree {
	if len(data) <= 1 || depth >= maxDepth {
		return &isoTree{size: len(data), isExternal: true}
	}

	// Only features that vary within this subset can split it. Behavioral
	// vectors often carry near-constant features; picking among those would
	// terminate trees at the root and flatten every path length.
	type span struct {
		feature  int
		min, max float64
	}
	var splittable []span
	for feature := range data[0] {
		min, max := data[0][feature], data[0][feature]
		for _, row := range data[1:] {
			if row[feature] < min {
				min = row[feature]
			}
			if row[feature] > max {
				max = row[feature]
			}
		}
		if min < max {
			splittable = append(splittable, span{feature: feature, min: min, max: max})
		}
	}
	if len(splittable) == 0 {
		return &isoTree{size: len(data), isExternal: true}
	}

	chosen := splittable[rng.Intn(len(splittable))]
	feature := chosen.feature
	split := chosen.min + rng.Float64()*(chosen.max-chosen.min)

	var left, right [][]float64
	for _, row := range data {
		if row[feature] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}

	return &isoTree{
		feature: feature,
		split:   split,
		left:    buildIsoTree(left, depth+1, maxDepth, rng),
		right:   buildIsoTree(right, depth+1, maxDepth, rng),
	}
}

func (t *isoTree) pathLength(vector []float64, depth int) float64 {
	if t.isExternal {
		return float64(depth) + avgPathLength(t.size)
	}
	if vector[t.feature] < t.split {
		return t.left.pathLength(vector, depth+1)
	}
	return t.right.pathLength(vector, depth+1)
}

// avgPathLength is the expected path length of an unsuccessful BST search
// over n points, the standard isolation-forest normalization term.
func avgPathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	h := math.Log(float64(n-1)) + 0.5772156649 // harmonic number approximation
	return 2*h - 2*float64(n-1)/float64(n)
}
