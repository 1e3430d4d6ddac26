package tarch

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Variance bounds for the recursion. Every computed conditional variance is
// clamped into [MinVariance, MaxVariance] so the recursion can never produce
// a non-positive or unbounded value, whatever the exogenous inputs do.
const (
	MinVariance = 1e-8
	MaxVariance = 1e8
)

// Recurse computes the conditional-variance path and mean-centered residuals
// for the given parameters.
//
//	h_t = omega + alpha*e²_{t-1} + gamma*e²_{t-1}*1{e_{t-1}<0}
//	      + beta*h_{t-1} + sum_j coef_j * exog[t,j]
//
// The mean equation is a constant: residuals are returns minus the sample
// mean. h_0 is the sample variance of the residuals. The exogenous term is
// contemporaneous (exog[t], not lagged): an event is modeled as moving the
// variance of the period it occurs in. clamped counts how many steps hit the
// variance bounds; the clamping itself is silent.
//
// The recursion is inherently sequential (h_t needs h_{t-1}), so this is an
// explicit loop over index-addressed slices rather than anything recursive.
func Recurse(p Parameters, returns []float64, exog *mat.Dense) (variance, residuals []float64, clamped int) {
	n := len(returns)
	variance = make([]float64, n)
	residuals = make([]float64, n)

	mean := stat.Mean(returns, nil)
	for i, r := range returns {
		residuals[i] = r - mean
	}

	variance[0], clamped = clampVariance(stat.Variance(residuals, nil), clamped)

	nExog := 0
	if exog != nil {
		_, nExog = exog.Dims()
	}

	for t := 1; t < n; t++ {
		e := residuals[t-1]
		h := p.Omega + p.Alpha*e*e + p.Beta*variance[t-1]
		if e < 0 {
			h += p.Gamma * e * e
		}
		for j := 0; j < nExog; j++ {
			h += p.Exog[j] * exog.At(t, j)
		}
		variance[t], clamped = clampVariance(h, clamped)
	}
	return variance, residuals, clamped
}

func clampVariance(h float64, clamped int) (float64, int) {
	switch {
	case math.IsNaN(h):
		return MinVariance, clamped + 1
	case h < MinVariance:
		return MinVariance, clamped + 1
	case h > MaxVariance:
		return MaxVariance, clamped + 1
	}
	return h, clamped
}
