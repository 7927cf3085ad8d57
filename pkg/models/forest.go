package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strconv"
)

const (
	MinEstimators = 10
	MaxEstimators = 1000
	MinDepth      = 1
	MaxDepth      = 50

	// DefaultSeed matches the random_state used by every training run.
	DefaultSeed = 42
)

// Params are the random forest hyperparameters.
type Params struct {
	NEstimators int
	MaxDepth    int
	Seed        uint64
}

// Validate checks the hyperparameters against the bounds accepted by the
// training API.
func (p Params) Validate() error {
	if p.NEstimators < MinEstimators || p.NEstimators > MaxEstimators {
		return fmt.Errorf("n_estimators %d out of range [%d, %d]", p.NEstimators, MinEstimators, MaxEstimators)
	}
	if p.MaxDepth < MinDepth || p.MaxDepth > MaxDepth {
		return fmt.Errorf("max_depth %d out of range [%d, %d]", p.MaxDepth, MinDepth, MaxDepth)
	}
	return nil
}

// AsMap renders the parameters the way they are logged to the tracking server.
func (p Params) AsMap() map[string]string {
	return map[string]string{
		"n_estimators": strconv.Itoa(p.NEstimators),
		"max_depth":    strconv.Itoa(p.MaxDepth),
		"random_state": strconv.FormatUint(p.Seed, 10),
	}
}

// RandomForest is a bagged ensemble of CART trees using Gini impurity and
// sqrt(n_features) feature subsampling at every split.
//
// Fitting is fully determined by Params.Seed: the same data and parameters
// always produce the same forest.
type RandomForest struct {
	params      Params
	numFeatures int
	numClasses  int
	trees       []tree
}

// node is a flattened tree node. Leaves have Left == -1 and carry the class
// distribution of the training samples that reached them.
type node struct {
	Feature   int       `json:"f"`
	Threshold float64   `json:"t"`
	Left      int       `json:"l"`
	Right     int       `json:"r"`
	Value     []float64 `json:"v,omitempty"`
}

type tree struct {
	Nodes []node `json:"nodes"`
}

// NewRandomForest returns an unfitted forest. Params are not range-checked
// here so tests can train tiny forests; callers exposed to users should call
// Params.Validate first.
func NewRandomForest(p Params) *RandomForest {
	if p.NEstimators <= 0 {
		p.NEstimators = 100
	}
	if p.MaxDepth <= 0 {
		p.MaxDepth = 5
	}
	return &RandomForest{params: p}
}

// Name returns the model identifier.
func (f *RandomForest) Name() string {
	return "random_forest"
}

// Params returns the hyperparameters the forest was built with.
func (f *RandomForest) Params() Params {
	return f.params
}

// NumClasses returns the number of classes seen during Fit.
func (f *RandomForest) NumClasses() int {
	return f.numClasses
}

// NumFeatures returns the input width seen during Fit.
func (f *RandomForest) NumFeatures() int {
	return f.numFeatures
}

// Fitted reports whether Fit has completed.
func (f *RandomForest) Fitted() bool {
	return len(f.trees) > 0
}

// Fit trains the forest on X and integer labels y in [0, max(y)].
func (f *RandomForest) Fit(X [][]float64, y []int) error {
	if len(X) == 0 {
		return errors.New("random forest: training set is empty")
	}
	if len(X) != len(y) {
		return fmt.Errorf("random forest: %d samples but %d labels", len(X), len(y))
	}

	numFeatures := len(X[0])
	numClasses := 0
	for i, row := range X {
		if len(row) != numFeatures {
			return fmt.Errorf("random forest: row %d has %d features, want %d", i, len(row), numFeatures)
		}
		if y[i] < 0 {
			return fmt.Errorf("random forest: negative label %d at row %d", y[i], i)
		}
		if y[i]+1 > numClasses {
			numClasses = y[i] + 1
		}
	}

	f.numFeatures = numFeatures
	f.numClasses = numClasses
	f.trees = make([]tree, f.params.NEstimators)

	maxFeatures := int(math.Sqrt(float64(numFeatures)))
	if maxFeatures < 1 {
		maxFeatures = 1
	}

	n := len(X)
	for t := range f.trees {
		rng := rand.New(rand.NewPCG(f.params.Seed, uint64(t)))

		sample := make([]int, n)
		for i := range sample {
			sample[i] = rng.IntN(n)
		}

		b := &builder{
			X:           X,
			y:           y,
			numClasses:  numClasses,
			maxDepth:    f.params.MaxDepth,
			maxFeatures: maxFeatures,
			rng:         rng,
		}
		b.build(sample, 0)
		f.trees[t] = tree{Nodes: b.nodes}
	}
	return nil
}

// PredictProba averages the leaf class distributions of every tree.
func (f *RandomForest) PredictProba(x []float64) []float64 {
	proba := make([]float64, f.numClasses)
	if len(f.trees) == 0 {
		return proba
	}
	for i := range f.trees {
		leaf := f.trees[i].leaf(x)
		for c, p := range leaf {
			proba[c] += p
		}
	}
	for c := range proba {
		proba[c] /= float64(len(f.trees))
	}
	return proba
}

// Predict returns the class with the highest mean probability. Ties go to the
// lowest class index.
func (f *RandomForest) Predict(x []float64) int {
	proba := f.PredictProba(x)
	best := 0
	for c := 1; c < len(proba); c++ {
		if proba[c] > proba[best] {
			best = c
		}
	}
	return best
}

func (t *tree) leaf(x []float64) []float64 {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.Left < 0 {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

type builder struct {
	X           [][]float64
	y           []int
	numClasses  int
	maxDepth    int
	maxFeatures int
	rng         *rand.Rand
	nodes       []node
}

// build appends the subtree for samples and returns its root index.
func (b *builder) build(samples []int, depth int) int {
	counts := make([]float64, b.numClasses)
	for _, s := range samples {
		counts[b.y[s]]++
	}

	idx := len(b.nodes)
	b.nodes = append(b.nodes, node{Left: -1, Right: -1})

	if depth >= b.maxDepth || len(samples) < 2 || isPure(counts) {
		b.nodes[idx].Value = normalize(counts)
		return idx
	}

	feature, threshold, ok := b.bestSplit(samples, counts)
	if !ok {
		b.nodes[idx].Value = normalize(counts)
		return idx
	}

	var left, right []int
	for _, s := range samples {
		if b.X[s][feature] <= threshold {
			left = append(left, s)
		} else {
			right = append(right, s)
		}
	}

	l := b.build(left, depth+1)
	r := b.build(right, depth+1)
	b.nodes[idx].Feature = feature
	b.nodes[idx].Threshold = threshold
	b.nodes[idx].Left = l
	b.nodes[idx].Right = r
	return idx
}

// bestSplit searches a random subset of features for the threshold with the
// lowest weighted Gini impurity.
func (b *builder) bestSplit(samples []int, total []float64) (int, float64, bool) {
	numFeatures := len(b.X[0])
	candidates := b.rng.Perm(numFeatures)[:b.maxFeatures]

	n := float64(len(samples))
	bestScore := gini(total, n)
	bestFeature, bestThreshold, found := -1, 0.0, false

	sorted := append([]int(nil), samples...)
	left := make([]float64, b.numClasses)
	right := make([]float64, b.numClasses)

	for _, feat := range candidates {
		sort.Slice(sorted, func(i, j int) bool {
			return b.X[sorted[i]][feat] < b.X[sorted[j]][feat]
		})

		for c := range left {
			left[c] = 0
			right[c] = total[c]
		}

		for i := 0; i < len(sorted)-1; i++ {
			cls := b.y[sorted[i]]
			left[cls]++
			right[cls]--

			cur := b.X[sorted[i]][feat]
			next := b.X[sorted[i+1]][feat]
			if cur == next {
				continue
			}

			nl := float64(i + 1)
			nr := n - nl
			score := (nl*gini(left, nl) + nr*gini(right, nr)) / n
			if score < bestScore-1e-12 {
				bestScore = score
				bestFeature = feat
				bestThreshold = cur + (next-cur)/2
				found = true
			}
		}
	}

	return bestFeature, bestThreshold, found
}

func gini(counts []float64, n float64) float64 {
	if n == 0 {
		return 0
	}
	g := 1.0
	for _, c := range counts {
		p := c / n
		g -= p * p
	}
	return g
}

func isPure(counts []float64) bool {
	nonZero := 0
	for _, c := range counts {
		if c > 0 {
			nonZero++
		}
	}
	return nonZero <= 1
}

func normalize(counts []float64) []float64 {
	total := 0.0
	for _, c := range counts {
		total += c
	}
	out := make([]float64, len(counts))
	if total == 0 {
		return out
	}
	for i, c := range counts {
		out[i] = c / total
	}
	return out
}

type forestJSON struct {
	Algorithm   string `json:"algorithm"`
	NEstimators int    `json:"n_estimators"`
	MaxDepth    int    `json:"max_depth"`
	Seed        uint64 `json:"random_state"`
	NumFeatures int    `json:"n_features"`
	NumClasses  int    `json:"n_classes"`
	Trees       []tree `json:"trees"`
}

// MarshalJSON encodes the fitted forest.
func (f *RandomForest) MarshalJSON() ([]byte, error) {
	return json.Marshal(forestJSON{
		Algorithm:   f.Name(),
		NEstimators: f.params.NEstimators,
		MaxDepth:    f.params.MaxDepth,
		Seed:        f.params.Seed,
		NumFeatures: f.numFeatures,
		NumClasses:  f.numClasses,
		Trees:       f.trees,
	})
}

// UnmarshalJSON decodes a forest written by MarshalJSON and checks that every
// tree is well formed.
func (f *RandomForest) UnmarshalJSON(data []byte) error {
	var fj forestJSON
	if err := json.Unmarshal(data, &fj); err != nil {
		return err
	}
	if fj.Algorithm != "" && fj.Algorithm != "random_forest" {
		return fmt.Errorf("random forest: unsupported algorithm %q", fj.Algorithm)
	}
	if len(fj.Trees) == 0 {
		return errors.New("random forest: no trees")
	}
	if fj.NumClasses <= 0 || fj.NumFeatures <= 0 {
		return errors.New("random forest: missing shape")
	}

	for ti, t := range fj.Trees {
		if len(t.Nodes) == 0 {
			return fmt.Errorf("random forest: tree %d is empty", ti)
		}
		for ni, n := range t.Nodes {
			if n.Left < 0 {
				if len(n.Value) != fj.NumClasses {
					return fmt.Errorf("random forest: tree %d leaf %d has %d classes, want %d", ti, ni, len(n.Value), fj.NumClasses)
				}
				continue
			}
			if n.Left >= len(t.Nodes) || n.Right < 0 || n.Right >= len(t.Nodes) || n.Left <= ni || n.Right <= ni {
				return fmt.Errorf("random forest: tree %d node %d has invalid children", ti, ni)
			}
			if n.Feature < 0 || n.Feature >= fj.NumFeatures {
				return fmt.Errorf("random forest: tree %d node %d splits on feature %d", ti, ni, n.Feature)
			}
		}
	}

	f.params = Params{NEstimators: fj.NEstimators, MaxDepth: fj.MaxDepth, Seed: fj.Seed}
	f.numFeatures = fj.NumFeatures
	f.numClasses = fj.NumClasses
	f.trees = fj.Trees
	return nil
}
