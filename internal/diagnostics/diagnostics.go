// Package diagnostics runs the post-fit residual battery: serial
// correlation, remaining ARCH effects, normality and structural stability.
// Diagnostics never alter a fit; they only characterize it.
package diagnostics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/studiofarzulla/crypto-event-study-sub000/internal/tarch"
)

// Default lag depths of the battery.
const (
	DefaultSerialLags = 10
	DefaultARCHLags   = 5
)

// Significance thresholds. Normality is deliberately lenient: Student-t
// residuals show fat tails even when the model is correctly specified.
const (
	passLevel      = 0.05
	normalityLevel = 0.01
)

// Verdict summarizes the battery.
type Verdict int

const (
	// Adequate: at least 3 of the 4 tests passed.
	Adequate Verdict = iota
	// Concerns: 2 or more tests failed.
	Concerns
)

func (v Verdict) String() string {
	if v == Adequate {
		return "adequate"
	}
	return "concerns"
}

// TestResult is one hypothesis test of the battery.
type TestResult struct {
	Name      string
	Statistic float64
	PValue    float64
	Passed    bool
}

// NormalityResult extends TestResult with the moments behind Jarque-Bera.
type NormalityResult struct {
	TestResult
	Skewness       float64
	ExcessKurtosis float64
}

// Report is the outcome of the full battery on one fitted model.
type Report struct {
	SerialCorrelation TestResult
	ARCHEffects       TestResult
	Normality         NormalityResult
	Stability         TestResult
	PassedCount       int
	Verdict           Verdict
}

// Evaluate runs the battery on a converged fit's standardized residuals
// with the default lag depths.
func Evaluate(fit *tarch.FitResult) (*Report, error) {
	return EvaluateLags(fit, DefaultSerialLags, DefaultARCHLags)
}

// EvaluateLags is Evaluate with explicit lag depths.
func EvaluateLags(fit *tarch.FitResult, serialLags, archLags int) (*Report, error) {
	if fit == nil || !fit.Converged {
		return nil, fmt.Errorf("diagnostics need a converged fit")
	}
	z := fit.StandardizedResiduals()
	if len(z) <= serialLags+1 || len(z) <= archLags+1 {
		return nil, fmt.Errorf("series too short for %d/%d diagnostic lags", serialLags, archLags)
	}

	rep := &Report{}

	lbStat, lbMinP := LjungBox(z, serialLags)
	rep.SerialCorrelation = TestResult{
		Name: "ljung-box", Statistic: lbStat, PValue: lbMinP, Passed: lbMinP > passLevel,
	}

	lmStat, lmP := ARCHLM(z, archLags)
	rep.ARCHEffects = TestResult{
		Name: "arch-lm", Statistic: lmStat, PValue: lmP, Passed: lmP > passLevel,
	}

	jbStat, jbP, skew, exkurt := JarqueBera(z)
	rep.Normality = NormalityResult{
		TestResult:     TestResult{Name: "jarque-bera", Statistic: jbStat, PValue: jbP, Passed: jbP > normalityLevel},
		Skewness:       skew,
		ExcessKurtosis: exkurt,
	}

	fStat, fP := StabilityF(fit.Volatility)
	rep.Stability = TestResult{
		Name: "variance-ratio", Statistic: fStat, PValue: fP, Passed: fP > passLevel,
	}

	for _, t := range []bool{rep.SerialCorrelation.Passed, rep.ARCHEffects.Passed, rep.Normality.Passed, rep.Stability.Passed} {
		if t {
			rep.PassedCount++
		}
	}
	if rep.PassedCount >= 3 {
		rep.Verdict = Adequate
	} else {
		rep.Verdict = Concerns
	}
	return rep, nil
}

// LjungBox tests for serial correlation: Q(m) = n(n+2) sum r_k^2/(n-k)
// against chi-squared(m), for m = 1..maxLag. Returns the statistic at the
// lag with the minimum p-value and that p-value; the null of no
// autocorrelation survives only if every tested lag's p-value clears the
// threshold.
func LjungBox(z []float64, maxLag int) (statistic, minP float64) {
	n := float64(len(z))
	r := autocorrelations(z, maxLag)

	minP = 1.0
	statistic = 0.0
	q := 0.0
	for m := 1; m <= maxLag; m++ {
		q += r[m] * r[m] / (n - float64(m))
		qStat := n * (n + 2) * q
		chi := distuv.ChiSquared{K: float64(m)}
		p := clampP(1 - chi.CDF(qStat))
		if p < minP {
			minP = p
			statistic = qStat
		}
	}
	return statistic, minP
}

// ARCHLM tests for remaining heteroskedasticity: regress z_t^2 on an
// intercept and its own lags, LM = n*R^2 against chi-squared(lags).
func ARCHLM(z []float64, lags int) (statistic, p float64) {
	n := len(z)
	rows := n - lags
	z2 := make([]float64, n)
	for i, v := range z {
		z2[i] = v * v
	}

	y := mat.NewVecDense(rows, nil)
	X := mat.NewDense(rows, lags+1, nil)
	for t := 0; t < rows; t++ {
		y.SetVec(t, z2[t+lags])
		X.Set(t, 0, 1.0)
		for j := 1; j <= lags; j++ {
			X.Set(t, j, z2[t+lags-j])
		}
	}

	beta := leastSquares(X, y)
	var yHat mat.VecDense
	yHat.MulVec(X, beta)

	meanY := stat.Mean(z2[lags:], nil)
	rss, tss := 0.0, 0.0
	for t := 0; t < rows; t++ {
		e := y.AtVec(t) - yHat.AtVec(t)
		rss += e * e
		d := y.AtVec(t) - meanY
		tss += d * d
	}
	if tss <= 0 {
		// constant squared residuals: nothing left to explain
		return 0, 1
	}
	r2 := 1 - rss/tss
	if r2 < 0 {
		r2 = 0
	}
	statistic = float64(rows) * r2
	chi := distuv.ChiSquared{K: float64(lags)}
	return statistic, clampP(1 - chi.CDF(statistic))
}

// JarqueBera tests normality from the third and fourth moments:
// JB = n/6 (S^2 + K^2/4) against chi-squared(2).
func JarqueBera(z []float64) (statistic, p, skewness, excessKurtosis float64) {
	n := float64(len(z))
	skewness = stat.Skew(z, nil)
	excessKurtosis = stat.ExKurtosis(z, nil)
	statistic = n / 6 * (skewness*skewness + excessKurtosis*excessKurtosis/4)
	chi := distuv.ChiSquared{K: 2}
	return statistic, clampP(1 - chi.CDF(statistic)), skewness, excessKurtosis
}

// StabilityF is a two-sample variance-ratio test: split the volatility
// series at the midpoint and compare the halves' variances with a two-sided
// F test. A rejected null means the volatility regime shifted in a way the
// model did not absorb.
func StabilityF(vol []float64) (statistic, p float64) {
	mid := len(vol) / 2
	first, second := vol[:mid], vol[mid:]
	v1 := stat.Variance(first, nil)
	v2 := stat.Variance(second, nil)
	if v1 <= 0 || v2 <= 0 {
		return 0, 1
	}
	statistic = v1 / v2
	f := distuv.F{D1: float64(len(first) - 1), D2: float64(len(second) - 1)}
	cdf := f.CDF(statistic)
	p = 2 * math.Min(cdf, 1-cdf)
	return statistic, clampP(p)
}

// autocorrelations returns r[0..maxLag] of the demeaned series.
func autocorrelations(z []float64, maxLag int) []float64 {
	n := len(z)
	mean := stat.Mean(z, nil)
	denom := 0.0
	for _, v := range z {
		d := v - mean
		denom += d * d
	}
	r := make([]float64, maxLag+1)
	r[0] = 1
	if denom == 0 {
		return r
	}
	for k := 1; k <= maxLag; k++ {
		num := 0.0
		for t := k; t < n; t++ {
			num += (z[t] - mean) * (z[t-k] - mean)
		}
		r[k] = num / denom
	}
	return r
}

// leastSquares solves X beta ~= y by the normal equations, falling back to
// an SVD pseudoinverse when X'X is singular.
func leastSquares(X *mat.Dense, y *mat.VecDense) *mat.VecDense {
	_, m := X.Dims()
	var xtx mat.Dense
	xtx.Mul(X.T(), X)

	var xtxInv mat.Dense
	if err := xtxInv.Inverse(&xtx); err == nil {
		var xty mat.VecDense
		xty.MulVec(X.T(), y)
		var beta mat.VecDense
		beta.MulVec(&xtxInv, &xty)
		return &beta
	}

	var svd mat.SVD
	if !svd.Factorize(X, mat.SVDThin) {
		return mat.NewVecDense(m, nil)
	}
	rank := svd.Rank(1e-12)
	if rank == 0 {
		return mat.NewVecDense(m, nil)
	}
	rows, _ := X.Dims()
	yMat := mat.NewDense(rows, 1, nil)
	for t := 0; t < rows; t++ {
		yMat.Set(t, 0, y.AtVec(t))
	}
	var b mat.Dense
	svd.SolveTo(&b, yMat, rank)
	beta := mat.NewVecDense(m, nil)
	for i := 0; i < m; i++ {
		beta.SetVec(i, b.At(i, 0))
	}
	return beta
}

func clampP(p float64) float64 {
	if math.IsNaN(p) || p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
