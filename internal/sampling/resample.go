package sampling

import "math"

// Resampler draws indices in [0, N) with replacement, either uniformly
// or weight-indexed.
type Resampler struct {
	rng *RNG
}

// NewResampler returns a Resampler drawing from rng.
func NewResampler(rng *RNG) Resampler {
	return Resampler{rng: rng}
}

// SampleUniform returns k indices in [0, n), each drawn independently as
// floor(n * uniform01()).
func (r Resampler) SampleUniform(n, k int) []int {
	out := make([]int, k)
	for i := range out {
		out[i] = int(math.Floor(r.rng.Uniform01() * float64(n)))
	}
	return out
}

// SampleWeighted draws k indices into weights with replacement,
// proportional to weights. It panics if any weight is negative.
// Implements the cumulative-threshold search: W_i = sum_{j<=i} w_j; each
// draw picks the smallest j with W_j >= u*W_{n-1}, u ~ Uniform(0,1).
func (r Resampler) SampleWeighted(weights []float64, k int) []int {
	n := len(weights)
	cumulative := make([]float64, n)
	running := 0.0
	for i, w := range weights {
		if w < 0 {
			panic("sampling: resample weights must be non-negative")
		}
		running += w
		cumulative[i] = running
	}

	out := make([]int, k)
	total := cumulative[n-1]
	for i := range out {
		u := r.rng.Uniform01() * total
		j := 0
		for j < n-1 && cumulative[j] < u {
			j++
		}
		out[i] = j
	}
	return out
}
