package bootstrap

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiofarzulla/crypto-event-study-sub000/internal/tarch"
)

func manualEnsemble(reps []map[string]float64) *Ensemble {
	return &Ensemble{
		Requested: len(reps),
		Converged: len(reps),
		Level:     0.95,
		Spec:      tarch.Spec{Leverage: true},
		ExogNames: nil,
		reps:      reps,
	}
}

func TestQuantile(t *testing.T) {
	samples := []float64{4, 1, 3, 2, 5}
	assert.Equal(t, 1.0, quantile(samples, 0))
	assert.Equal(t, 5.0, quantile(samples, 1))
	assert.Equal(t, 3.0, quantile(samples, 0.5))
	assert.InDelta(t, 1.1, quantile(samples, 0.025), 1e-12)
	assert.True(t, math.IsNaN(quantile(nil, 0.5)))
}

func TestEnsembleCI(t *testing.T) {
	reps := make([]map[string]float64, 100)
	for i := range reps {
		reps[i] = map[string]float64{"alpha": float64(i) / 100, "beta": 0.8, "gamma": 0.1}
	}
	ens := manualEnsemble(reps)

	ci, err := ens.CI("alpha")
	require.NoError(t, err)
	assert.InDelta(t, 0.0247, ci.Lower, 1e-3)
	assert.InDelta(t, 0.965, ci.Upper, 1e-2)
	assert.InDelta(t, 0.495, ci.Mean, 1e-12)

	_, err = ens.CI("missing")
	assert.Error(t, err)
}

func TestEnsemblePersistenceCI_PerReplication(t *testing.T) {
	// persistence is computed replication-by-replication, not assembled
	// from per-parameter intervals
	reps := []map[string]float64{
		{"alpha": 0.10, "beta": 0.80, "gamma": 0.00}, // 0.90
		{"alpha": 0.02, "beta": 0.90, "gamma": 0.04}, // 0.94
		{"alpha": 0.05, "beta": 0.85, "gamma": 0.02}, // 0.91
	}
	ens := manualEnsemble(reps)
	ci, err := ens.PersistenceCI()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, ci.Lower, 0.90)
	assert.LessOrEqual(t, ci.Upper, 0.94)
	assert.InDelta(t, (0.90+0.94+0.91)/3, ci.Mean, 1e-12)
}

func TestEnsembleHalfLifeCI_DropsNonStationary(t *testing.T) {
	reps := []map[string]float64{
		{"alpha": 0.10, "beta": 0.85, "gamma": 0.00}, // persistence 0.95
		{"alpha": 0.50, "beta": 0.60, "gamma": 0.00}, // 1.10: dropped
		{"alpha": 0.05, "beta": 0.85, "gamma": 0.00}, // 0.90
	}
	ens := manualEnsemble(reps)
	ci, err := ens.HalfLifeCI()
	require.NoError(t, err)
	assert.Greater(t, ci.Lower, 0.0)
	assert.False(t, math.IsNaN(ci.Upper))

	all := manualEnsemble([]map[string]float64{{"alpha": 0.6, "beta": 0.6, "gamma": 0}})
	_, err = all.HalfLifeCI()
	assert.Error(t, err)
}

func TestEnsembleInference_BootstrapStandardErrors(t *testing.T) {
	spec := tarch.Spec{Leverage: false}
	reps := make([]map[string]float64, 50)
	for i := range reps {
		jitter := float64(i%10) / 100
		reps[i] = map[string]float64{
			"omega": 0.05 + jitter/10,
			"alpha": 0.08 + jitter,
			"beta":  0.85 - jitter/2,
			"nu":    8,
		}
	}
	ens := &Ensemble{Requested: 50, Converged: 50, Level: 0.95, Spec: spec, reps: reps}

	fit := &tarch.FitResult{
		Converged: true,
		Spec:      spec,
		Params:    tarch.Parameters{Omega: 0.05, Alpha: 0.08, Beta: 0.85, Nu: 8},
		NumObs:    500,
		NumParams: 4,
	}
	inf, err := ens.Inference(fit)
	require.NoError(t, err)
	require.Equal(t, []string{"omega", "alpha", "beta", "nu"}, inf.Names)
	assert.Equal(t, 496, inf.DOF)

	// nu is constant across replications: its SE collapses to the floor
	// and the p-value goes to zero rather than dividing by zero
	for i, name := range inf.Names {
		assert.False(t, math.IsNaN(inf.TStats[i]), name)
		assert.GreaterOrEqual(t, inf.PValues[i], 0.0)
		assert.LessOrEqual(t, inf.PValues[i], 1.0)
	}
}

func TestEnsembleInference_NeedsReplications(t *testing.T) {
	ens := manualEnsemble([]map[string]float64{{"alpha": 0.1}})
	_, err := ens.Inference(&tarch.FitResult{})
	assert.Error(t, err)
}

func TestConvergenceRate(t *testing.T) {
	ens := &Ensemble{Requested: 40, Converged: 30}
	assert.InDelta(t, 0.75, ens.ConvergenceRate(), 1e-12)
	assert.Equal(t, 0.0, (&Ensemble{}).ConvergenceRate())
}
