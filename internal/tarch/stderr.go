package tarch

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// ErrInsufficientDOF reports that n_obs <= n_params, so standard errors are
// undefined. The point estimates stay valid; only the uncertainty cannot be
// quantified.
var ErrInsufficientDOF = errors.New("insufficient degrees of freedom for standard errors")

const (
	// hessianStep is the finite-difference step of the diagonal fallback.
	hessianStep = 1e-5
	// seFloor keeps t-statistics finite when a standard error collapses.
	seFloor = 1e-12
)

// Inference holds per-parameter uncertainty: standard errors, t-statistics
// and two-sided p-values against a Student-t reference with DOF degrees of
// freedom. Names are aligned with the other slices. Produced by either of
// the two interchangeable strategies: asymptotic (Hessian curvature, here)
// or bootstrap (empirical parameter distribution, in the bootstrap package).
type Inference struct {
	Names     []string
	StdErrors []float64
	TStats    []float64
	PValues   []float64
	DOF       int
}

// TTest turns estimates and standard errors into t-statistics and two-sided
// Student-t p-values. Both standard-error strategies funnel through here so
// their outputs are directly comparable. ErrInsufficientDOF when dof <= 0.
func TTest(names []string, estimates, stdErrors []float64, dof int) (*Inference, error) {
	if dof <= 0 {
		return nil, ErrInsufficientDOF
	}
	inf := &Inference{
		Names:     names,
		StdErrors: make([]float64, len(estimates)),
		TStats:    make([]float64, len(estimates)),
		PValues:   make([]float64, len(estimates)),
		DOF:       dof,
	}
	tDist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(dof)}
	for i, est := range estimates {
		se := stdErrors[i]
		if math.IsNaN(se) {
			inf.StdErrors[i] = math.NaN()
			inf.TStats[i] = math.NaN()
			inf.PValues[i] = math.NaN()
			continue
		}
		if se < seFloor {
			se = seFloor
		}
		t := est / se
		p := 2 * (1 - tDist.CDF(math.Abs(t)))
		// clamp against floating-point leakage
		if p < 0 {
			p = 0
		}
		if p > 1 {
			p = 1
		}
		inf.StdErrors[i] = se
		inf.TStats[i] = t
		inf.PValues[i] = p
	}
	return inf, nil
}

// attachAsymptoticErrors fills the fit's standard-error fields from the
// curvature of the objective at the optimum.
func (e *Estimator) attachAsymptoticErrors(fit *FitResult, objective func([]float64) float64, x []float64) {
	names := fit.Spec.ParamNames(fit.ExogNames)
	dof := fit.NumObs - fit.NumParams
	if dof <= 0 {
		// Report the condition explicitly instead of a silently wrong
		// number: NaN fields plus the flag.
		e.log.Warn().Int("n_obs", fit.NumObs).Int("n_params", fit.NumParams).
			Msg("insufficient degrees of freedom, standard errors undefined")
		fit.InsufficientDOF = true
		fit.StdErrors = nanSlice(len(names))
		fit.TStats = nanSlice(len(names))
		fit.PValues = nanSlice(len(names))
		return
	}

	se := e.hessianStdErrors(objective, x)
	inf, err := TTest(names, x, se, dof)
	if err != nil {
		fit.InsufficientDOF = true
		fit.StdErrors = nanSlice(len(names))
		fit.TStats = nanSlice(len(names))
		fit.PValues = nanSlice(len(names))
		return
	}
	fit.StdErrors = inf.StdErrors
	fit.TStats = inf.TStats
	fit.PValues = inf.PValues
}

// hessianStdErrors computes standard errors as sqrt of the diagonal of the
// inverse Hessian of the negative log-likelihood. Ladder: full numerical
// Hessian inverted by Cholesky, then general inversion, then a diagonal
// finite-difference Hessian, then NaN. Inversion failure is a warning, not
// an error: the point estimates do not depend on it.
func (e *Estimator) hessianStdErrors(objective func([]float64) float64, x []float64) []float64 {
	k := len(x)
	se := func() []float64 {
		hess := mat.NewSymDense(k, nil)
		if !finiteHessian(hess, objective, x) {
			return nil
		}
		var inv mat.SymDense
		var chol mat.Cholesky
		if chol.Factorize(hess) {
			if err := chol.InverseTo(&inv); err == nil {
				return diagSqrt(&inv)
			}
		}
		// Not positive definite: try a general inverse before giving up
		// on the full matrix.
		var dense mat.Dense
		if err := dense.Inverse(hess); err != nil {
			return nil
		}
		out := make([]float64, k)
		for i := 0; i < k; i++ {
			out[i] = sqrtOrNaN(dense.At(i, i))
		}
		return out
	}()
	if se != nil {
		return se
	}

	e.log.Warn().Msg("hessian inversion failed, falling back to diagonal finite differences")
	se = make([]float64, k)
	f0 := objective(x)
	xi := make([]float64, k)
	for i := 0; i < k; i++ {
		copy(xi, x)
		xi[i] = x[i] + hessianStep
		fp := objective(xi)
		xi[i] = x[i] - hessianStep
		fm := objective(xi)
		d2 := (fp - 2*f0 + fm) / (hessianStep * hessianStep)
		if d2 > 0 {
			se[i] = 1 / math.Sqrt(d2)
		} else {
			se[i] = math.NaN()
		}
	}
	return se
}

// finiteHessian fills dst with the numerical Hessian and reports whether
// every entry came out finite.
func finiteHessian(dst *mat.SymDense, objective func([]float64) float64, x []float64) bool {
	defer func() { recover() }() // fd panics on pathological objectives
	fd.Hessian(dst, objective, x, nil)
	k := len(x)
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			v := dst.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

func diagSqrt(m *mat.SymDense) []float64 {
	k, _ := m.Dims()
	out := make([]float64, k)
	for i := 0; i < k; i++ {
		out[i] = sqrtOrNaN(m.At(i, i))
	}
	return out
}

func sqrtOrNaN(v float64) float64 {
	if v <= 0 || math.IsNaN(v) {
		return math.NaN()
	}
	return math.Sqrt(v)
}

func nanSlice(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}
