// Package timeseries holds the aligned in-memory inputs of the volatility
// engine: a return series and an optional matrix of exogenous regressors.
// The engine never reads files or the network; callers hand it data that is
// already aligned by timestamp.
package timeseries

import (
	"fmt"
	"math"
	"strings"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// DefaultMinObservations is the shortest return series the engine accepts.
// Anything below this cannot support a 5+ parameter variance model.
const DefaultMinObservations = 30

// DataError reports invalid input data. It is raised before any numerical
// work starts and is never coerced into a silent default.
type DataError struct {
	Reason string
}

func (e *DataError) Error() string { return "data error: " + e.Reason }

func dataErrorf(format string, args ...any) *DataError {
	return &DataError{Reason: fmt.Sprintf(format, args...)}
}

// ReturnSeries is an ordered sequence of percentage log returns indexed by
// strictly increasing timestamps. Immutable once constructed.
type ReturnSeries struct {
	dates  []time.Time
	values []float64
}

// NewReturnSeries validates and wraps a return series. minObs <= 0 selects
// DefaultMinObservations. The slices are copied so later mutation by the
// caller cannot reach into the engine.
func NewReturnSeries(dates []time.Time, values []float64, minObs int) (*ReturnSeries, error) {
	if minObs <= 0 {
		minObs = DefaultMinObservations
	}
	if len(dates) != len(values) {
		return nil, dataErrorf("dates and values misaligned: %d dates vs %d values", len(dates), len(values))
	}
	if len(values) < minObs {
		return nil, dataErrorf("series too short: %d observations, need at least %d", len(values), minObs)
	}
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, dataErrorf("non-finite return at index %d (%s)", i, dates[i].Format("2006-01-02"))
		}
	}
	for i := 1; i < len(dates); i++ {
		if !dates[i].After(dates[i-1]) {
			return nil, dataErrorf("timestamps not strictly increasing at index %d (%s)", i, dates[i].Format("2006-01-02"))
		}
	}
	rs := &ReturnSeries{
		dates:  make([]time.Time, len(dates)),
		values: make([]float64, len(values)),
	}
	copy(rs.dates, dates)
	copy(rs.values, values)
	return rs, nil
}

// Len returns the number of observations.
func (rs *ReturnSeries) Len() int { return len(rs.values) }

// Dates returns the timestamp index. The slice must not be modified.
func (rs *ReturnSeries) Dates() []time.Time { return rs.dates }

// Values returns the return values. The slice must not be modified.
func (rs *ReturnSeries) Values() []float64 { return rs.values }

// Mean returns the sample mean of the returns.
func (rs *ReturnSeries) Mean() float64 { return stat.Mean(rs.values, nil) }

// Variance returns the sample variance of the returns.
func (rs *ReturnSeries) Variance() float64 { return stat.Variance(rs.values, nil) }

// ColumnKind tags an exogenous column for effect attribution in reporting.
// The estimator itself is agnostic to the kind.
type ColumnKind int

const (
	// KindEvent marks event dummies / indicator columns.
	KindEvent ColumnKind = iota
	// KindSentiment marks continuous sentiment measures.
	KindSentiment
	// KindMicrostructure marks liquidity / trading-activity controls.
	KindMicrostructure
)

func (k ColumnKind) String() string {
	switch k {
	case KindSentiment:
		return "sentiment"
	case KindMicrostructure:
		return "microstructure"
	default:
		return "event"
	}
}

// ClassifyName infers a ColumnKind from a column name by case-insensitive
// substring match. Names containing "sentiment", "gdelt" or "tone" are
// sentiment; everything else, including unrecognized names, is event. Prefer
// supplying an explicit kind; this exists for callers that only have names.
func ClassifyName(name string) ColumnKind {
	lower := strings.ToLower(name)
	for _, marker := range []string{"sentiment", "gdelt", "tone"} {
		if strings.Contains(lower, marker) {
			return KindSentiment
		}
	}
	return KindEvent
}

// Column is one named exogenous regressor aligned 1:1 with the return series.
type Column struct {
	Name   string
	Kind   ColumnKind
	Values []float64
}

// ExogenousMatrix is an n x k matrix of exogenous regressors. NaN cells are
// coerced to zero at construction: a missing event dummy or sentiment reading
// means "no effect that period", not an error.
type ExogenousMatrix struct {
	names []string
	kinds []ColumnKind
	x     *mat.Dense
}

// NewExogenousMatrix builds the matrix from columns, validating that every
// column has exactly n rows.
func NewExogenousMatrix(n int, cols []Column) (*ExogenousMatrix, error) {
	if len(cols) == 0 {
		return nil, dataErrorf("exogenous matrix needs at least one column")
	}
	em := &ExogenousMatrix{
		names: make([]string, len(cols)),
		kinds: make([]ColumnKind, len(cols)),
		x:     mat.NewDense(n, len(cols), nil),
	}
	for j, col := range cols {
		if len(col.Values) != n {
			return nil, dataErrorf("column %q misaligned: %d rows, series has %d", col.Name, len(col.Values), n)
		}
		em.names[j] = col.Name
		em.kinds[j] = col.Kind
		for i, v := range col.Values {
			if math.IsNaN(v) {
				v = 0 // missing = zero, by policy
			}
			if math.IsInf(v, 0) {
				return nil, dataErrorf("infinite value in column %q at row %d", col.Name, i)
			}
			em.x.Set(i, j, v)
		}
	}
	return em, nil
}

// NumColumns returns k.
func (em *ExogenousMatrix) NumColumns() int {
	if em == nil {
		return 0
	}
	return len(em.names)
}

// Names returns the column names in matrix order.
func (em *ExogenousMatrix) Names() []string { return em.names }

// Kind returns the tag of column j.
func (em *ExogenousMatrix) Kind(j int) ColumnKind { return em.kinds[j] }

// Data returns the underlying n x k matrix. Must not be modified.
func (em *ExogenousMatrix) Data() *mat.Dense {
	if em == nil {
		return nil
	}
	return em.x
}

// Rows returns n, the number of aligned observations.
func (em *ExogenousMatrix) Rows() int {
	if em == nil {
		return 0
	}
	r, _ := em.x.Dims()
	return r
}

// SelectRows builds a new matrix whose row i is row idx[i] of the original.
// Used by the block bootstrap to keep regressors aligned with resampled
// returns.
func (em *ExogenousMatrix) SelectRows(idx []int) *ExogenousMatrix {
	if em == nil {
		return nil
	}
	out := &ExogenousMatrix{
		names: em.names,
		kinds: em.kinds,
		x:     mat.NewDense(len(idx), len(em.names), nil),
	}
	for i, src := range idx {
		for j := range em.names {
			out.x.Set(i, j, em.x.At(src, j))
		}
	}
	return out
}
