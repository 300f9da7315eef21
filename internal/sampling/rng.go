// Package sampling provides the distributions and resampling primitive
// the particle filter uses: seedable uniform/normal/exponential random
// variables exposing pdf/log_pdf/sample, and a discrete resampler
// (unweighted or weight-indexed, with replacement).
package sampling

import "math/rand"

// RNG is a per-vehicle pseudo-random source. One instance is created per
// actor to avoid lock contention and to make replays deterministic
// given a seed.
type RNG struct {
	src *rand.Rand
}

// NewRNG returns an RNG seeded with seed.
func NewRNG(seed int64) *RNG {
	return &RNG{src: rand.New(rand.NewSource(seed))}
}

// SetSeed reseeds the generator.
func (r *RNG) SetSeed(seed int64) {
	r.src.Seed(seed)
}

// Uniform01 returns a draw from Uniform(0, 1).
func (r *RNG) Uniform01() float64 {
	return r.src.Float64()
}

// StandardNormal returns a draw from the standard normal distribution.
func (r *RNG) StandardNormal() float64 {
	return r.src.NormFloat64()
}

// source exposes the classic math/rand.Source gonum's distuv/sampleuv
// packages require.
func (r *RNG) source() rand.Source {
	return r.src
}
