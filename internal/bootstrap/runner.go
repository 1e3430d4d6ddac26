// Package bootstrap quantifies estimation uncertainty by re-running the
// TARCH-X estimator over many resampled series and aggregating the refitted
// parameters into percentile confidence intervals.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/studiofarzulla/crypto-event-study-sub000/internal/tarch"
	"github.com/studiofarzulla/crypto-event-study-sub000/internal/timeseries"
)

// ErrTooFewReplications reports that fewer replications converged than the
// configured minimum, so the ensemble is too thin to aggregate. The partial
// ensemble is still returned alongside it.
var ErrTooFewReplications = errors.New("too few converged bootstrap replications")

// warnConvergenceRate is the rate below which the runner logs a warning: a
// model whose replications routinely fail to converge is telling you
// something about the model, and that signal must not be absorbed silently.
const warnConvergenceRate = 0.8

// Options configures a bootstrap run.
type Options struct {
	// Replications requested. Default 500.
	Replications int
	// Seed is the base seed; replication i uses Seed + i so the full run
	// is reproducible regardless of worker count or completion order.
	// Zero picks a time-based seed.
	Seed int64
	// BlockSize is the contiguous block length of the block bootstrap.
	// Default 20.
	BlockSize int
	// MinReplications is the converged count below which the run reports
	// ErrTooFewReplications. Default 1.
	MinReplications int
	// Workers caps the worker pool. Default NumCPU.
	Workers int
	// ConfidenceLevel of the percentile intervals. Default 0.95.
	ConfidenceLevel float64
}

func (o Options) withDefaults() Options {
	if o.Replications <= 0 {
		o.Replications = 500
	}
	if o.Seed == 0 {
		o.Seed = time.Now().UnixNano()
	}
	if o.BlockSize <= 0 {
		o.BlockSize = 20
	}
	if o.MinReplications <= 0 {
		o.MinReplications = 1
	}
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	if o.Workers > o.Replications {
		o.Workers = o.Replications
	}
	if o.ConfidenceLevel <= 0 || o.ConfidenceLevel >= 1 {
		o.ConfidenceLevel = 0.95
	}
	return o
}

// Runner dispatches independent replications to a worker pool. Replications
// share nothing mutable: each owns its own seeded random stream and its own
// full estimator fit.
type Runner struct {
	est  *tarch.Estimator
	opts Options
	log  zerolog.Logger
}

// NewRunner builds a runner around an estimator.
func NewRunner(est *tarch.Estimator, opts Options, log zerolog.Logger) *Runner {
	return &Runner{est: est, opts: opts.withDefaults(), log: log}
}

// replication is one worker result: the refitted parameter dictionary, or
// ok == false when the replication failed to converge (or errored).
type replication struct {
	ok     bool
	params map[string]float64
}

// Residual runs a residual bootstrap for model-parameter inference: draw
// standardized residuals of the original fit with replacement, rebuild a
// synthetic return series on the fitted volatility path, and refit the same
// model family. Requires a converged fit.
func (r *Runner) Residual(ctx context.Context, fit *tarch.FitResult, series *timeseries.ReturnSeries) (*Ensemble, error) {
	if fit == nil || !fit.Converged {
		return nil, fmt.Errorf("residual bootstrap needs a converged fit")
	}
	if series == nil || series.Len() != fit.NumObs {
		return nil, fmt.Errorf("series does not match the fitted sample")
	}
	n := fit.NumObs
	z := fit.StandardizedResiduals()
	sigma := fit.Volatility
	dates := series.Dates()

	return r.run(ctx, fit.Spec, fit.ExogNames, func(i int, rng *rand.Rand) replication {
		synth := make([]float64, n)
		for t := 0; t < n; t++ {
			synth[t] = z[rng.Intn(n)] * sigma[t]
		}
		return r.refit(dates, synth, nil, fit.Spec)
	})
}

// Block runs a block bootstrap for event-coefficient inference: resample
// contiguous blocks of the return series together with their exogenous rows,
// preserving the local autocorrelation an i.i.d. redraw would destroy, and
// refit the full exogenous model.
func (r *Runner) Block(ctx context.Context, series *timeseries.ReturnSeries, exog *timeseries.ExogenousMatrix, spec tarch.Spec) (*Ensemble, error) {
	n := series.Len()
	if r.opts.BlockSize >= n {
		return nil, fmt.Errorf("block size %d not below series length %d", r.opts.BlockSize, n)
	}
	returns := series.Values()
	dates := series.Dates()
	exogNames := []string{}
	if exog != nil {
		exogNames = exog.Names()
	}

	return r.run(ctx, spec, exogNames, func(i int, rng *rand.Rand) replication {
		idx := blockIndices(n, r.opts.BlockSize, rng)
		synth := make([]float64, n)
		for t, src := range idx {
			synth[t] = returns[src]
		}
		return r.refit(dates, synth, exog.SelectRows(idx), spec)
	})
}

// blockIndices draws block start positions with replacement and concatenates
// the blocks, trimmed to the original length.
func blockIndices(n, blockSize int, rng *rand.Rand) []int {
	idx := make([]int, 0, n)
	for len(idx) < n {
		start := rng.Intn(n - blockSize + 1)
		for b := 0; b < blockSize && len(idx) < n; b++ {
			idx = append(idx, start+b)
		}
	}
	return idx
}

// refit estimates the model on a synthetic sample, converting every failure
// mode (data rejection, non-convergence) into a failed replication.
func (r *Runner) refit(dates []time.Time, synth []float64, exog *timeseries.ExogenousMatrix, spec tarch.Spec) replication {
	synthSeries, err := timeseries.NewReturnSeries(dates, synth, 0)
	if err != nil {
		return replication{}
	}
	fit, err := r.est.Fit(synthSeries, exog, spec)
	if err != nil || !fit.Converged {
		return replication{}
	}
	return replication{ok: true, params: fit.Params.Dict(spec, fit.ExogNames)}
}

// run dispatches replications across the worker pool and aggregates whatever
// completed. Cancelling ctx stops dispatch; results already in flight still
// count, so a partial run remains usable down to MinReplications.
func (r *Runner) run(ctx context.Context, spec tarch.Spec, exogNames []string, job func(i int, rng *rand.Rand) replication) (*Ensemble, error) {
	jobs := make(chan int)
	results := make(chan replication, r.opts.Replications)

	var wg sync.WaitGroup
	wg.Add(r.opts.Workers)
	for w := 0; w < r.opts.Workers; w++ {
		go func() {
			defer wg.Done()
			for i := range jobs {
				rng := rand.New(rand.NewSource(r.opts.Seed + int64(i)))
				results <- runSafe(job, i, rng)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := 0; i < r.opts.Replications; i++ {
			// checked separately so an already-cancelled context never
			// races a ready worker in the select below
			select {
			case <-ctx.Done():
				return
			default:
			}
			select {
			case <-ctx.Done():
				return
			case jobs <- i:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	ens := &Ensemble{
		Requested: r.opts.Replications,
		Seed:      r.opts.Seed,
		Level:     r.opts.ConfidenceLevel,
		Spec:      spec,
		ExogNames: exogNames,
	}
	for rep := range results {
		if rep.ok {
			ens.reps = append(ens.reps, rep.params)
		}
	}
	ens.Converged = len(ens.reps)

	rate := ens.ConvergenceRate()
	if rate < warnConvergenceRate {
		r.log.Warn().
			Int("requested", ens.Requested).
			Int("converged", ens.Converged).
			Float64("rate", rate).
			Msg("bootstrap convergence rate below threshold")
	}
	if ens.Converged < r.opts.MinReplications {
		return ens, fmt.Errorf("%w: %d of %d converged, need %d",
			ErrTooFewReplications, ens.Converged, ens.Requested, r.opts.MinReplications)
	}
	return ens, nil
}

// runSafe keeps a panicking replication from taking down the pool; it is
// recorded as failed like any other non-convergence.
func runSafe(job func(int, *rand.Rand) replication, i int, rng *rand.Rand) (rep replication) {
	defer func() {
		if rec := recover(); rec != nil {
			rep = replication{}
		}
	}()
	return job(i, rng)
}
