package tarch

import (
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/optimize"

	"github.com/studiofarzulla/crypto-event-study-sub000/internal/timeseries"
)

// boundEps keeps omega, alpha and beta strictly positive at the optimum.
const boundEps = 1e-6

// maxSaneObjective rejects fits whose final objective is still on the
// sentinel-penalty plateau: the optimizer "succeeded" without ever finding
// the likelihood surface.
const maxSaneObjective = 1e6

// Config is the estimator's full configuration surface. Everything is
// explicit; there is no process-wide state anywhere in the engine.
type Config struct {
	// Method selects the minimizer: "nelder-mead" (default) or "bfgs"
	// (finite-difference gradients).
	Method string
	// MaxIter bounds the optimizer's major iterations so a single fit
	// always terminates. Default 1000.
	MaxIter int
	// Tol is the absolute function-convergence tolerance. Default 1e-7.
	Tol float64
	// MinObservations overrides the series-length floor. Default 30.
	MinObservations int
	// ExogBound, when positive, imposes a symmetric box |coef| <= ExogBound
	// on the exogenous coefficients. Zero leaves them unbounded, matching
	// the modeled hypothesis that event effects may be arbitrarily large.
	ExogBound float64
}

// DefaultConfig returns the production configuration.
func DefaultConfig() Config {
	return Config{
		Method:          "nelder-mead",
		MaxIter:         1000,
		Tol:             1e-7,
		MinObservations: timeseries.DefaultMinObservations,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Method == "" {
		c.Method = d.Method
	}
	if c.MaxIter <= 0 {
		c.MaxIter = d.MaxIter
	}
	if c.Tol <= 0 {
		c.Tol = d.Tol
	}
	if c.MinObservations <= 0 {
		c.MinObservations = d.MinObservations
	}
	return c
}

// Estimator fits TARCH-X models by constrained maximum likelihood. One
// estimator is safe for concurrent use: Fit touches no estimator state
// beyond the read-only config and logger.
type Estimator struct {
	cfg Config
	log zerolog.Logger
}

// NewEstimator builds an estimator. Pass zerolog.Nop() to silence warnings.
func NewEstimator(cfg Config, log zerolog.Logger) *Estimator {
	return &Estimator{cfg: cfg.withDefaults(), log: log}
}

// bound is a box constraint on one optimization-vector entry.
type bound struct{ lo, hi float64 }

// bounds returns the per-parameter boxes in pack order.
func (e *Estimator) bounds(spec Spec, nExog int) []bound {
	unb := bound{lo: -1e12, hi: 1e12}
	if e.cfg.ExogBound > 0 {
		unb = bound{lo: -e.cfg.ExogBound, hi: e.cfg.ExogBound}
	}
	bs := make([]bound, 0, 5+nExog)
	bs = append(bs, bound{boundEps, 1e12}) // omega
	bs = append(bs, bound{boundEps, 0.3})  // alpha
	if spec.Leverage {
		bs = append(bs, bound{-0.5, 0.5}) // gamma
	}
	bs = append(bs, bound{boundEps, 0.95}) // beta
	bs = append(bs, bound{2.1, 50})        // nu
	for j := 0; j < nExog; j++ {
		bs = append(bs, unb)
	}
	return bs
}

// violation measures how far x sits outside the feasible region: box
// overshoot plus the stationarity constraint alpha + beta + |gamma|/2 <=
// 0.999. Zero inside the region.
func violation(x []float64, bs []bound, spec Spec) float64 {
	v := 0.0
	for i, b := range bs {
		if x[i] < b.lo {
			v += b.lo - x[i]
		} else if x[i] > b.hi {
			v += x[i] - b.hi
		}
	}
	p := unpack(x, spec, 0)
	gamma := p.Gamma
	if gamma < 0 {
		gamma = -gamma
	}
	if s := p.Alpha + p.Beta + gamma/2; s > 0.999 {
		v += s - 0.999
	}
	return v
}

// Fit estimates the model on the given series, with exog == nil for the
// plain GARCH/TARCH families. A DataError (misaligned or too-short input)
// surfaces as the returned error; every failure inside the optimization is
// converted into a FitResult with Converged == false instead.
func (e *Estimator) Fit(series *timeseries.ReturnSeries, exog *timeseries.ExogenousMatrix, spec Spec) (*FitResult, error) {
	if series == nil {
		return nil, &timeseries.DataError{Reason: "nil return series"}
	}
	if series.Len() < e.cfg.MinObservations {
		return nil, &timeseries.DataError{Reason: fmt.Sprintf(
			"series too short: %d observations, need at least %d", series.Len(), e.cfg.MinObservations)}
	}
	if exog != nil && exog.Rows() != series.Len() {
		return nil, &timeseries.DataError{Reason: fmt.Sprintf(
			"exogenous matrix misaligned: %d rows vs %d observations", exog.Rows(), series.Len())}
	}

	returns := series.Values()
	nExog := exog.NumColumns()
	exogNames := []string{}
	if exog != nil {
		exogNames = exog.Names()
	}
	X := exog.Data()

	bs := e.bounds(spec, nExog)
	objective := func(x []float64) float64 {
		// Outside the feasible region the sentinel grows with the
		// violation, so the simplex always has a way back in.
		if v := violation(x, bs, spec); v > 0 {
			return SentinelPenalty * (1 + v)
		}
		return NegLogLik(unpack(x, spec, nExog), returns, X)
	}

	start := Parameters{
		Omega: 0.1 * series.Variance(),
		Alpha: 0.05,
		Beta:  0.85,
		Nu:    5.0,
		Exog:  make([]float64, nExog),
	}
	if spec.Leverage {
		start.Gamma = 0.05
	}
	x0 := pack(start, spec)

	problem := optimize.Problem{Func: objective}
	var method optimize.Method
	switch strings.ToLower(e.cfg.Method) {
	case "nelder-mead":
		method = &optimize.NelderMead{}
	case "bfgs":
		problem.Grad = func(grad, x []float64) {
			fd.Gradient(grad, objective, x, nil)
		}
		method = &optimize.BFGS{}
	default:
		return nil, fmt.Errorf("unknown optimizer method %q", e.cfg.Method)
	}
	settings := &optimize.Settings{
		MajorIterations: e.cfg.MaxIter,
		Converger: &optimize.FunctionConverge{
			Absolute:   e.cfg.Tol,
			Iterations: 50,
		},
	}

	res, err := minimize(problem, x0, settings, method)
	converged := err == nil && res != nil &&
		res.Status != optimize.Failure &&
		res.Status != optimize.IterationLimit &&
		res.F < maxSaneObjective
	if !converged {
		if err != nil {
			e.log.Debug().Err(err).Msg("optimization failed")
		}
		return failedFit(spec, exogNames), nil
	}

	params := unpack(res.X, spec, nExog)
	variance, residuals, clamped := Recurse(params, returns, X)
	volatility := make([]float64, len(variance))
	for i, h := range variance {
		volatility[i] = math.Sqrt(h)
	}

	n := len(returns)
	k := spec.NumParams(nExog)
	logLik := -res.F

	fit := &FitResult{
		Converged:     true,
		Spec:          spec,
		ExogNames:     exogNames,
		Params:        params,
		LogLikelihood: logLik,
		AIC:           2*float64(k) - 2*logLik,
		BIC:           math.Log(float64(n))*float64(k) - 2*logLik,
		Volatility:    volatility,
		Residuals:     residuals,
		NumObs:        n,
		NumParams:     k,
		ClampCount:    clamped,
	}
	if nExog > 0 {
		fit.Effects = attributeEffects(exog, params.Exog)
	}

	e.attachAsymptoticErrors(fit, objective, res.X)
	return fit, nil
}

// minimize wraps optimize.Minimize so that a panic deep in the method (a
// singular simplex, a linesearch blow-up) is reported as an error rather
// than killing a bootstrap worker.
func minimize(problem optimize.Problem, x0 []float64, settings *optimize.Settings, method optimize.Method) (res *optimize.Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			res, err = nil, fmt.Errorf("optimizer panic: %v", rec)
		}
	}()
	return optimize.Minimize(problem, x0, settings, method)
}
