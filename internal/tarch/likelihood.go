package tarch

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// SentinelPenalty is returned by the likelihood for degenerate parameter
// regions and numerical blow-ups. It steers the optimizer back toward the
// feasible region without raising an error; the convergence check later
// rejects any "optimum" still sitting on this plateau.
const SentinelPenalty = 1e10

// NegLogLik is the negative log-likelihood of the mean-centered returns
// under Student-t innovations with p.Nu degrees of freedom and the TARCH-X
// conditional variance from Recurse.
func NegLogLik(p Parameters, returns []float64, exog *mat.Dense) float64 {
	// Short-circuit before running the recursion: outside this range the
	// t density is undefined or numerically useless.
	if p.Nu <= 2 || p.Nu > 100 {
		return SentinelPenalty
	}

	variance, residuals, _ := Recurse(p, returns, exog)

	// Terms constant across observations. math.Lgamma, not
	// log(math.Gamma(x)): Gamma overflows already at moderate nu.
	lgNum, _ := math.Lgamma((p.Nu + 1) / 2)
	lgDen, _ := math.Lgamma(p.Nu / 2)
	c := lgNum - lgDen - 0.5*math.Log(math.Pi*(p.Nu-2))

	logLik := 0.0
	for t := range returns {
		h := variance[t]
		if h <= 0 || math.IsNaN(h) {
			return SentinelPenalty
		}
		z2 := residuals[t] * residuals[t] / h
		logLik += c - 0.5*math.Log(h) - (p.Nu+1)/2*math.Log(1+z2/(p.Nu-2))
	}

	if math.IsNaN(logLik) || math.IsInf(logLik, 0) {
		return SentinelPenalty
	}
	return -logLik
}
