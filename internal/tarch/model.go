// Package tarch implements maximum-likelihood estimation of a threshold
// GARCH model with exogenous variance regressors (TARCH-X) under Student-t
// innovations, plus asymptotic standard errors for the fitted parameters.
package tarch

import (
	"math"

	"github.com/studiofarzulla/crypto-event-study-sub000/internal/timeseries"
)

// Spec selects the model family. Leverage toggles the threshold (gamma)
// term: false gives plain GARCH(1,1), true gives TARCH. Either family
// becomes the -X variant when an exogenous matrix is supplied to Fit.
type Spec struct {
	Leverage bool
}

// ParamNames returns the free-parameter names in optimization-vector order.
func (s Spec) ParamNames(exogNames []string) []string {
	names := make([]string, 0, 5+len(exogNames))
	names = append(names, "omega", "alpha")
	if s.Leverage {
		names = append(names, "gamma")
	}
	names = append(names, "beta", "nu")
	names = append(names, exogNames...)
	return names
}

// NumParams is the free-parameter count k used in AIC/BIC and degrees of
// freedom.
func (s Spec) NumParams(nExog int) int {
	k := 4 + nExog
	if s.Leverage {
		k++
	}
	return k
}

// Parameters is one point in the model's parameter space. Gamma is zero and
// ignored when the Spec has no leverage term. Exog holds one coefficient per
// exogenous column, in matrix column order.
type Parameters struct {
	Omega float64
	Alpha float64
	Gamma float64
	Beta  float64
	Nu    float64
	Exog  []float64
}

// Persistence is alpha + beta + gamma/2; must be below 1 for a stationary,
// mean-reverting volatility process.
func (p Parameters) Persistence() float64 {
	return p.Alpha + p.Beta + p.Gamma/2
}

// HalfLife is the number of periods for a volatility shock to decay by half.
// NaN when the process is non-stationary or persistence is not positive.
func (p Parameters) HalfLife() float64 {
	pers := p.Persistence()
	if pers <= 0 || pers >= 1 {
		return math.NaN()
	}
	return math.Log(0.5) / math.Log(pers)
}

// Dict flattens the parameters into a name -> value map, the shape the
// bootstrap ensemble aggregates over.
func (p Parameters) Dict(spec Spec, exogNames []string) map[string]float64 {
	d := map[string]float64{
		"omega": p.Omega,
		"alpha": p.Alpha,
		"beta":  p.Beta,
		"nu":    p.Nu,
	}
	if spec.Leverage {
		d["gamma"] = p.Gamma
	}
	for j, name := range exogNames {
		d[name] = p.Exog[j]
	}
	return d
}

// pack lays the free parameters out as the optimizer's vector.
func pack(p Parameters, spec Spec) []float64 {
	x := make([]float64, 0, 5+len(p.Exog))
	x = append(x, p.Omega, p.Alpha)
	if spec.Leverage {
		x = append(x, p.Gamma)
	}
	x = append(x, p.Beta, p.Nu)
	x = append(x, p.Exog...)
	return x
}

// unpack is the inverse of pack.
func unpack(x []float64, spec Spec, nExog int) Parameters {
	p := Parameters{Omega: x[0], Alpha: x[1]}
	i := 2
	if spec.Leverage {
		p.Gamma = x[i]
		i++
	}
	p.Beta = x[i]
	p.Nu = x[i+1]
	i += 2
	if nExog > 0 {
		p.Exog = make([]float64, nExog)
		copy(p.Exog, x[i:i+nExog])
	}
	return p
}

// EffectAttribution partitions the exogenous coefficients into named effect
// groups for reporting. Sentiment-tagged columns go to Sentiment; event and
// microstructure columns (and anything untagged) go to Event. A reporting
// convenience, not a modeling decision.
type EffectAttribution struct {
	Event          map[string]float64
	Sentiment      map[string]float64
	EventTotal     float64
	SentimentTotal float64
}

func attributeEffects(exog *timeseries.ExogenousMatrix, coefs []float64) EffectAttribution {
	attr := EffectAttribution{
		Event:     make(map[string]float64),
		Sentiment: make(map[string]float64),
	}
	for j, name := range exog.Names() {
		if exog.Kind(j) == timeseries.KindSentiment {
			attr.Sentiment[name] = coefs[j]
			attr.SentimentTotal += coefs[j]
		} else {
			attr.Event[name] = coefs[j]
			attr.EventTotal += coefs[j]
		}
	}
	return attr
}

// FitResult is the immutable outcome of one Fit call. A failed fit has
// Converged == false and NaN numeric fields rather than an error, so batch
// pipelines (the bootstrap in particular) can filter instead of abort.
type FitResult struct {
	Converged bool
	Spec      Spec
	ExogNames []string

	Params Parameters

	// StdErrors, TStats and PValues are aligned with Spec.ParamNames.
	// All-NaN when the fit failed or the inference could not be computed.
	StdErrors []float64
	TStats    []float64
	PValues   []float64
	// InsufficientDOF is set when n_obs <= n_params made standard errors
	// undefined. The point estimates remain valid.
	InsufficientDOF bool

	LogLikelihood float64
	AIC           float64
	BIC           float64

	// Volatility is the conditional standard deviation path sigma_t;
	// Residuals the mean-centered returns. Both have NumObs entries.
	Volatility []float64
	Residuals  []float64

	NumObs    int
	NumParams int
	// ClampCount is how many recursion steps hit the variance bounds.
	ClampCount int

	Effects EffectAttribution
}

// StandardizedResiduals returns residuals / volatility, the series the
// diagnostic battery runs on.
func (fr *FitResult) StandardizedResiduals() []float64 {
	z := make([]float64, len(fr.Residuals))
	for i := range z {
		z[i] = fr.Residuals[i] / fr.Volatility[i]
	}
	return z
}

// AnnualizedVolatility scales the daily conditional volatility to annual
// terms. Crypto markets trade every calendar day, hence sqrt(365).
func (fr *FitResult) AnnualizedVolatility() []float64 {
	out := make([]float64, len(fr.Volatility))
	for i, v := range fr.Volatility {
		out[i] = v * math.Sqrt(365)
	}
	return out
}

// failedFit builds the well-formed "not converged" result of the failure
// path: no NaN ever propagates out of the optimizer itself.
func failedFit(spec Spec, exogNames []string) *FitResult {
	nan := math.NaN()
	return &FitResult{
		Converged:     false,
		Spec:          spec,
		ExogNames:     exogNames,
		LogLikelihood: nan,
		AIC:           nan,
		BIC:           nan,
		NumParams:     spec.NumParams(len(exogNames)),
	}
}
