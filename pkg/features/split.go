package features

import (
	"fmt"
	"math"
	"math/rand/v2"
)

const (
	// DefaultTestRatio is the share of samples held out for evaluation.
	DefaultTestRatio = 0.2

	// DefaultSeed makes the split reproducible across runs.
	DefaultSeed = 42
)

// Split is the result of a train/test split.
type Split struct {
	TrainX [][]float64
	TestX  [][]float64
	TrainY []int
	TestY  []int
}

// TrainTestSplit shuffles the dataset with a seeded PRNG and holds out
// ceil(n*testRatio) samples. The same input, ratio and seed always yield the
// same split.
func TrainTestSplit(ds Dataset, testRatio float64, seed uint64) (Split, error) {
	n := ds.Len()
	if n < 2 {
		return Split{}, fmt.Errorf("need at least 2 samples to split, got %d", n)
	}
	if testRatio <= 0 || testRatio >= 1 {
		return Split{}, fmt.Errorf("test ratio %v out of range (0, 1)", testRatio)
	}

	nTest := int(math.Ceil(float64(n) * testRatio))
	if nTest >= n {
		nTest = n - 1
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	perm := rng.Perm(n)

	s := Split{
		TestX:  make([][]float64, 0, nTest),
		TestY:  make([]int, 0, nTest),
		TrainX: make([][]float64, 0, n-nTest),
		TrainY: make([]int, 0, n-nTest),
	}
	for k, idx := range perm {
		if k < nTest {
			s.TestX = append(s.TestX, ds.X[idx])
			s.TestY = append(s.TestY, ds.Y[idx])
			continue
		}
		s.TrainX = append(s.TrainX, ds.X[idx])
		s.TrainY = append(s.TrainY, ds.Y[idx])
	}
	return s, nil
}
