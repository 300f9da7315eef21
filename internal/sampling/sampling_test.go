package sampling

import (
	"math"
	"reflect"
	"testing"
)

func TestUniformRejectsBadBounds(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("NewUniform(5, 1, ...) did not panic")
		}
	}()
	NewUniform(5, 1, NewRNG(1))
}

func TestNormalRejectsNonPositiveSigma(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("NewNormal(0, 0, ...) did not panic")
		}
	}()
	NewNormal(0, 0, NewRNG(1))
}

func TestExponentialLogPDFNegative(t *testing.T) {
	e := NewExponential(2, NewRNG(1))
	if got := e.LogPDF(-1); !math.IsInf(got, -1) {
		t.Errorf("LogPDF(-1) = %v, want -Inf", got)
	}
}

func TestUniformPDFBounds(t *testing.T) {
	u := NewUniform(0, 2, NewRNG(1))
	if got := u.PDF(1); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("PDF(1) = %v, want 0.5", got)
	}
	if got := u.PDF(3); got != 0 {
		t.Errorf("PDF(3) = %v, want 0", got)
	}
}

func TestResamplerDeterminismAcrossSeeds(t *testing.T) {
	items := []string{"A", "B", "C", "D", "E"}

	run := func(seed int64) []int {
		rng := NewRNG(seed)
		r := NewResampler(rng)
		return r.SampleUniform(len(items), 5)
	}

	first := run(10)
	second := run(10)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("reseeding with 10 produced different draws: %v != %v", first, second)
	}
}

func TestWeightedResampleCollapse(t *testing.T) {
	rng := NewRNG(42)
	r := NewResampler(rng)
	weights := []float64{1, 0, 0, 0, 0}
	indices := r.SampleWeighted(weights, 50)
	for _, idx := range indices {
		if idx != 0 {
			t.Fatalf("SampleWeighted with weights (1,0,0,0,0) produced index %d, want 0", idx)
		}
	}
}

func TestWeightedResampleRejectsNegative(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("SampleWeighted with a negative weight did not panic")
		}
	}()
	rng := NewRNG(1)
	r := NewResampler(rng)
	r.SampleWeighted([]float64{1, -1}, 1)
}

func TestWeightedResampleConvergesToWeights(t *testing.T) {
	rng := NewRNG(7)
	r := NewResampler(rng)
	weights := []float64{1, 2, 3, 4}
	total := 10.0
	const draws = 200000

	counts := make([]int, len(weights))
	for _, idx := range r.SampleWeighted(weights, draws) {
		counts[idx]++
	}

	for i, w := range weights {
		expected := w / total
		observed := float64(counts[i]) / float64(draws)
		if math.Abs(expected-observed) > 0.01 {
			t.Errorf("index %d: observed frequency %v, want close to %v", i, observed, expected)
		}
	}
}
