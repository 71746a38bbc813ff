package spm

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Softmin returns the temperature-controlled soft minimum of d:
//
//	-(1/β) · log( (1/n) · Σ exp(-β·dᵢ) )
//
// The 1/n normalisation keeps the result inside [min(d), mean(d)]: it tends
// to min(d) as β → ∞ and to mean(d) as β → 0. β ≤ 0 returns the mean and
// β = +Inf returns the minimum. Empty input returns NaN.
func Softmin(d []float64, beta float64) float64 {
	switch {
	case len(d) == 0:
		return math.NaN()
	case len(d) == 1:
		return d[0]
	case beta <= 0:
		return stat.Mean(d, nil)
	case math.IsInf(beta, 1):
		return floats.Min(d)
	}
	scaled := make([]float64, len(d))
	floats.ScaleTo(scaled, -beta, d)
	agg := -(floats.LogSumExp(scaled) - math.Log(float64(len(d)))) / beta
	return clampToRange(agg, floats.Min(d), stat.Mean(d, nil))
}

// Softmax is the mirror of Softmin: a soft maximum inside [mean(x), max(x)]
// that tends to max(x) as β → ∞ and to mean(x) as β → 0.
func Softmax(x []float64, beta float64) float64 {
	switch {
	case len(x) == 0:
		return math.NaN()
	case len(x) == 1:
		return x[0]
	case beta <= 0:
		return stat.Mean(x, nil)
	case math.IsInf(beta, 1):
		return floats.Max(x)
	}
	scaled := make([]float64, len(x))
	floats.ScaleTo(scaled, beta, x)
	agg := (floats.LogSumExp(scaled) - math.Log(float64(len(x)))) / beta
	return clampToRange(agg, stat.Mean(x, nil), floats.Max(x))
}

// clampToRange absorbs the last-ulp rounding of log-sum-exp so the bounds
// hold exactly.
func clampToRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
