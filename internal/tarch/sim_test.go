package tarch

import (
	"math"
	"math/rand"
	"time"

	"github.com/studiofarzulla/crypto-event-study-sub000/internal/timeseries"
)

// studentT draws a unit-variance Student-t variate with integer nu via the
// normal / chi-squared representation, keeping the tests on plain math/rand
// streams.
func studentT(rng *rand.Rand, nu int) float64 {
	chi := 0.0
	for i := 0; i < nu; i++ {
		x := rng.NormFloat64()
		chi += x * x
	}
	t := rng.NormFloat64() / math.Sqrt(chi/float64(nu))
	return t * math.Sqrt(float64(nu-2)/float64(nu))
}

// simTARCH simulates a TARCH process with unit-variance Student-t(nu)
// innovations. gamma = 0 gives plain GARCH.
func simTARCH(rng *rand.Rand, n int, omega, alpha, gamma, beta float64, nu int) []float64 {
	h := omega / (1 - alpha - beta - gamma/2)
	returns := make([]float64, n)
	for t := 0; t < n; t++ {
		e := math.Sqrt(h) * studentT(rng, nu)
		returns[t] = e
		h = omega + alpha*e*e + beta*h
		if e < 0 {
			h += gamma * e * e
		}
	}
	return returns
}

func simDates(n int) []time.Time {
	base := time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)
	dates := make([]time.Time, n)
	for i := range dates {
		dates[i] = base.AddDate(0, 0, i)
	}
	return dates
}

// simReturns1000 is a fixed moderate-persistence sample shared by tests
// that only need realistic-looking returns.
func simReturns1000() []float64 {
	rng := rand.New(rand.NewSource(99))
	return simTARCH(rng, 1000, 0.05, 0.06, 0, 0.85, 8)
}

func mustSeries(n int, values []float64) *timeseries.ReturnSeries {
	rs, err := timeseries.NewReturnSeries(simDates(n), values, 0)
	if err != nil {
		panic(err)
	}
	return rs
}
