package spm

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

func TestSoftmin_BoundedByMinAndMean(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	betas := []float64{1e-6, 0.01, 0.5, 1, 3, 10, 100, 1e4}

	for trial := 0; trial < 200; trial++ {
		n := 1 + rng.Intn(12)
		d := make([]float64, n)
		for i := range d {
			d[i] = rng.Float64() * 10
		}
		lo, hi := floats.Min(d), stat.Mean(d, nil)
		for _, beta := range betas {
			got := Softmin(d, beta)
			if got < lo-1e-12 || got > hi+1e-12 {
				t.Fatalf("Softmin(%v, %g) = %g, outside [min=%g, mean=%g]", d, beta, got, lo, hi)
			}
		}
	}
}

func TestSoftmin_Limits(t *testing.T) {
	d := []float64{2.0, 3.0, 7.0}

	if got := Softmin(d, 1e4); math.Abs(got-2.0) > 1e-3 {
		t.Errorf("Softmin at large β = %g, want ≈ min 2.0", got)
	}
	if got := Softmin(d, 1e-8); math.Abs(got-4.0) > 1e-4 {
		t.Errorf("Softmin at small β = %g, want ≈ mean 4.0", got)
	}
	if got := Softmin(d, math.Inf(1)); got != 2.0 {
		t.Errorf("Softmin at β=+Inf = %g, want 2.0", got)
	}
	if got := Softmin(d, 0); got != 4.0 {
		t.Errorf("Softmin at β=0 = %g, want mean 4.0", got)
	}
}

func TestSoftmin_MonotoneInBeta(t *testing.T) {
	d := []float64{1.0, 4.0, 9.0, 9.5}
	prev := math.Inf(1)
	for _, beta := range []float64{0.01, 0.1, 0.5, 1, 2, 5, 20} {
		got := Softmin(d, beta)
		if got > prev+1e-12 {
			t.Errorf("Softmin increased from %g to %g at β=%g; sharper β must not move away from the minimum", prev, got, beta)
		}
		prev = got
	}
}

func TestSoftmin_EdgeCases(t *testing.T) {
	if !math.IsNaN(Softmin(nil, 1)) {
		t.Error("Softmin(nil) should be NaN")
	}
	if got := Softmin([]float64{3.5}, 7); got != 3.5 {
		t.Errorf("single-element Softmin = %g, want 3.5", got)
	}
	// Large distances and sharp β must not underflow to ±Inf.
	if got := Softmin([]float64{500, 600}, 50); math.IsInf(got, 0) || math.IsNaN(got) {
		t.Errorf("Softmin overflowed: %g", got)
	}
}

func TestSoftmax_BoundedByMeanAndMax(t *testing.T) {
	x := []float64{0.1, 0.2, 0.9}
	for _, beta := range []float64{1e-6, 1, 10, 1000} {
		got := Softmax(x, beta)
		if got < stat.Mean(x, nil)-1e-12 || got > 0.9+1e-12 {
			t.Errorf("Softmax(β=%g) = %g outside [mean, max]", beta, got)
		}
	}
	if got := Softmax(x, 1e4); math.Abs(got-0.9) > 1e-3 {
		t.Errorf("Softmax at large β = %g, want ≈ 0.9", got)
	}
}
