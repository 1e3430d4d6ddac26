package diagnostics

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiofarzulla/crypto-event-study-sub000/internal/tarch"
	"github.com/studiofarzulla/crypto-event-study-sub000/internal/timeseries"
)

func mustSeries(t *testing.T, n int, values []float64) *timeseries.ReturnSeries {
	t.Helper()
	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	dates := make([]time.Time, n)
	for i := range dates {
		dates[i] = base.AddDate(0, 0, i)
	}
	rs, err := timeseries.NewReturnSeries(dates, values, 0)
	require.NoError(t, err)
	return rs
}

// fitFromResiduals wraps a residual series in a converged FitResult with
// unit volatility, so the standardized residuals are the series itself.
func fitFromResiduals(z []float64) *tarch.FitResult {
	vol := make([]float64, len(z))
	for i := range vol {
		vol[i] = 1
	}
	return &tarch.FitResult{
		Converged:  true,
		Residuals:  z,
		Volatility: vol,
		NumObs:     len(z),
	}
}

func normalDraws(seed int64, n int) []float64 {
	rng := rand.New(rand.NewSource(seed))
	z := make([]float64, n)
	for i := range z {
		z[i] = rng.NormFloat64()
	}
	return z
}

func TestEvaluate_WellSpecifiedResiduals(t *testing.T) {
	rep, err := Evaluate(fitFromResiduals(normalDraws(31, 1000)))
	require.NoError(t, err)

	// under the null each test fires at its nominal level now and then,
	// so assert lenient p-value floors rather than the 0.05 flags
	assert.Greater(t, rep.ARCHEffects.PValue, 0.005, "no remaining ARCH effects expected")
	assert.Greater(t, rep.Normality.PValue, 0.001)
	assert.Greater(t, rep.Stability.PValue, 0.005)
	assert.GreaterOrEqual(t, rep.PassedCount, 2)
}

func TestEvaluate_RejectsUnconvergedFit(t *testing.T) {
	_, err := Evaluate(&tarch.FitResult{Converged: false})
	assert.Error(t, err)
}

func TestEvaluate_TooShortForLags(t *testing.T) {
	_, err := Evaluate(fitFromResiduals(normalDraws(32, 8)))
	assert.Error(t, err)
}

func TestLjungBox_DetectsAutocorrelation(t *testing.T) {
	// AR(1) with phi = 0.8 is blatantly serially correlated
	rng := rand.New(rand.NewSource(33))
	n := 800
	z := make([]float64, n)
	for i := 1; i < n; i++ {
		z[i] = 0.8*z[i-1] + rng.NormFloat64()
	}
	_, minP := LjungBox(z, 10)
	assert.Less(t, minP, 0.05)
}

func TestLjungBox_PassesWhiteNoise(t *testing.T) {
	// the minimum over 10 lags dips below 0.05 for a fair share of white
	// noise draws; only a very small minimum indicates a broken statistic
	_, minP := LjungBox(normalDraws(34, 1000), 10)
	assert.Greater(t, minP, 0.001)
}

func TestARCHLM_DetectsVolatilityClustering(t *testing.T) {
	// raw GARCH returns before any variance model: squared values are
	// strongly autocorrelated
	rng := rand.New(rand.NewSource(35))
	n := 1000
	h := 1.0
	z := make([]float64, n)
	for i := 0; i < n; i++ {
		e := math.Sqrt(h) * rng.NormFloat64()
		z[i] = e
		h = 0.05 + 0.25*e*e + 0.7*h
	}
	_, p := ARCHLM(z, 5)
	assert.Less(t, p, 0.05)
}

func TestARCHLM_PassesIIDNoise(t *testing.T) {
	_, p := ARCHLM(normalDraws(36, 1000), 5)
	assert.Greater(t, p, 0.005)
}

func TestARCHLM_ConstantSeries(t *testing.T) {
	z := make([]float64, 100)
	for i := range z {
		z[i] = 1
	}
	stat, p := ARCHLM(z, 5)
	assert.Equal(t, 0.0, stat)
	assert.Equal(t, 1.0, p)
}

func TestJarqueBera_RejectsFatTails(t *testing.T) {
	// t(3) draws have far too much kurtosis for a normal
	rng := rand.New(rand.NewSource(37))
	n := 2000
	z := make([]float64, n)
	for i := 0; i < n; i++ {
		chi := 0.0
		for j := 0; j < 3; j++ {
			x := rng.NormFloat64()
			chi += x * x
		}
		z[i] = rng.NormFloat64() / math.Sqrt(chi/3)
	}
	_, p, _, exkurt := JarqueBera(z)
	assert.Less(t, p, 0.01)
	assert.Greater(t, exkurt, 1.0)
}

func TestJarqueBera_AcceptsNormal(t *testing.T) {
	stat, p, skew, exkurt := JarqueBera(normalDraws(38, 2000))
	assert.Greater(t, p, 0.001)
	assert.InDelta(t, 0, skew, 0.2)
	assert.InDelta(t, 0, exkurt, 0.4)
	assert.GreaterOrEqual(t, stat, 0.0)
}

func TestStabilityF_DetectsRegimeShift(t *testing.T) {
	// second half of the volatility path is far more dispersed
	rng := rand.New(rand.NewSource(39))
	n := 600
	vol := make([]float64, n)
	for i := 0; i < n/2; i++ {
		vol[i] = 1 + 0.01*rng.NormFloat64()
	}
	for i := n / 2; i < n; i++ {
		vol[i] = 1 + 1.0*rng.NormFloat64()
	}
	_, p := StabilityF(vol)
	assert.Less(t, p, 0.05)
}

func TestStabilityF_PassesStableVolatility(t *testing.T) {
	rng := rand.New(rand.NewSource(40))
	n := 600
	vol := make([]float64, n)
	for i := range vol {
		vol[i] = 1 + 0.1*rng.NormFloat64()
	}
	_, p := StabilityF(vol)
	assert.Greater(t, p, 0.005)
}

func TestVerdictThreshold(t *testing.T) {
	assert.Equal(t, "adequate", Adequate.String())
	assert.Equal(t, "concerns", Concerns.String())
}

// end to end: fit a correctly specified model, then the battery should not
// find remaining ARCH effects in what the model already explained
func TestEvaluate_AfterRealFit(t *testing.T) {
	if testing.Short() {
		t.Skip("full fit in -short mode")
	}
	rng := rand.New(rand.NewSource(41))
	n := 1500
	h := 0.05 / (1 - 0.08 - 0.85)
	returns := make([]float64, n)
	for i := 0; i < n; i++ {
		e := math.Sqrt(h) * rng.NormFloat64()
		returns[i] = e
		h = 0.05 + 0.08*e*e + 0.85*h
	}
	series := mustSeries(t, n, returns)

	est := tarch.NewEstimator(tarch.DefaultConfig(), zerolog.Nop())
	fit, err := est.Fit(series, nil, tarch.Spec{Leverage: false})
	require.NoError(t, err)
	require.True(t, fit.Converged)

	rep, err := Evaluate(fit)
	require.NoError(t, err)
	assert.Greater(t, rep.ARCHEffects.PValue, 0.005, "model should absorb the ARCH structure")
}
