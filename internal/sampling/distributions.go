package sampling

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// Uniform is a Uniform(a, b) distribution. Constructing one with a >= b
// is a programming error and panics, mirroring the original's
// std::invalid_argument.
type Uniform struct {
	dist distuv.Uniform
}

// NewUniform builds a Uniform(a, b) distribution bound to rng.
func NewUniform(a, b float64, rng *RNG) Uniform {
	if a >= b {
		panic("sampling: uniform distribution requires a < b")
	}
	return Uniform{dist: distuv.Uniform{Min: a, Max: b, Src: rng.source()}}
}

// PDF returns the probability density of x.
func (u Uniform) PDF(x float64) float64 { return u.dist.Prob(x) }

// LogPDF returns the log probability density of x.
func (u Uniform) LogPDF(x float64) float64 { return u.dist.LogProb(x) }

// Sample draws a random value from the distribution.
func (u Uniform) Sample() float64 { return u.dist.Rand() }

// Normal is a Normal(mu, sigma) distribution. Constructing one with
// sigma <= 0 is a programming error and panics.
type Normal struct {
	dist distuv.Normal
}

// NewNormal builds a Normal(mu, sigma) distribution bound to rng.
func NewNormal(mu, sigma float64, rng *RNG) Normal {
	if sigma <= 0 {
		panic("sampling: normal distribution requires sigma > 0")
	}
	return Normal{dist: distuv.Normal{Mu: mu, Sigma: sigma, Src: rng.source()}}
}

// PDF returns the probability density of x.
func (n Normal) PDF(x float64) float64 { return n.dist.Prob(x) }

// LogPDF returns the log probability density of x:
// -1/2 log(2 pi) - log(sigma) - (x-mu)^2 / (2 sigma^2)
func (n Normal) LogPDF(x float64) float64 { return n.dist.LogProb(x) }

// Sample draws a random value from the distribution.
func (n Normal) Sample() float64 { return n.dist.Rand() }

// Exponential is an Exponential(lambda) distribution. Constructing one
// with lambda <= 0 is a programming error and panics.
type Exponential struct {
	dist distuv.Exponential
}

// NewExponential builds an Exponential(lambda) distribution bound to rng.
func NewExponential(lambda float64, rng *RNG) Exponential {
	if lambda <= 0 {
		panic("sampling: exponential distribution requires lambda > 0")
	}
	return Exponential{dist: distuv.Exponential{Rate: lambda, Src: rng.source()}}
}

// PDF returns the probability density of x.
func (e Exponential) PDF(x float64) float64 {
	if x < 0 {
		return 0
	}
	return e.dist.Prob(x)
}

// LogPDF returns log(lambda) - lambda*x for x >= 0, else -Inf.
func (e Exponential) LogPDF(x float64) float64 {
	if x < 0 {
		return math.Inf(-1)
	}
	return e.dist.LogProb(x)
}

// Sample draws a random value from the distribution.
func (e Exponential) Sample() float64 { return e.dist.Rand() }
