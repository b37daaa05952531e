package esda

import (
	"strings"

	"github.com/montanaflynn/stats"
	"github.com/rotisserie/eris"

	"github.com/sells-group/county-esda/internal/table"
	"github.com/sells-group/county-esda/internal/weights"
)

// sample is the listwise-complete view of one or two table columns.
type sample struct {
	w    *weights.Matrix // restricted to rows, re-standardized if row-standardized
	rows []int           // table row of each sample unit
	cols [][]float64     // one slice per requested column, aligned with rows
}

// prepare aligns w with t, drops units that are null in any requested
// column, and restricts w to the survivors.
func prepare(t *table.Table, w *weights.Matrix, opts Options, columns ...string) (*sample, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := aligned(t, w); err != nil {
		return nil, err
	}

	n := t.Len()
	keep := make([]bool, n)
	for i := range keep {
		keep[i] = true
	}
	raw := make([][]float64, len(columns))
	for c, name := range columns {
		x, valid, err := t.Floats(name)
		if err != nil {
			return nil, eris.Wrapf(err, "esda: read %s", name)
		}
		raw[c] = x
		for i, ok := range valid {
			keep[i] = keep[i] && ok
		}
	}

	var rows []int
	for i, k := range keep {
		if k {
			rows = append(rows, i)
		}
	}
	if len(rows) < opts.MinUnits || len(rows) == 0 {
		return nil, &InsufficientDataError{Variable: strings.Join(columns, "×"), Have: len(rows), Need: max(opts.MinUnits, 1)}
	}

	sub := w
	if len(rows) < n {
		var err error
		if sub, err = w.Subset(keep); err != nil {
			return nil, eris.Wrap(err, "esda: restrict weights")
		}
	}

	cols := make([][]float64, len(columns))
	for c := range columns {
		cols[c] = make([]float64, len(rows))
		for k, i := range rows {
			cols[c][k] = raw[c][i]
		}
	}
	return &sample{w: sub, rows: rows, cols: cols}, nil
}

func aligned(t *table.Table, w *weights.Matrix) error {
	if t == nil || w == nil {
		return eris.New("esda: nil table or weights")
	}
	if t.Len() != w.N() {
		return eris.Errorf("esda: table has %d rows, weights have %d units", t.Len(), w.N())
	}
	for i := 0; i < w.N(); i++ {
		if t.Key(i) != w.Key(i) {
			return eris.Errorf("esda: row %d key %s does not match weights key %s", i, t.Key(i), w.Key(i))
		}
	}
	return nil
}

// center returns x − mean(x) and the population variance of x.
func center(x []float64) ([]float64, float64) {
	data := stats.Float64Data(x)
	mean, _ := data.Mean()
	z := make([]float64, len(x))
	var ss float64
	for i, v := range x {
		z[i] = v - mean
		ss += z[i] * z[i]
	}
	return z, ss / float64(len(x))
}

// constant reports whether every element of x is identical.
func constant(x []float64) bool {
	for _, v := range x[1:] {
		if v != x[0] {
			return false
		}
	}
	return true
}

// standardize returns (x − mean)/sd with the population standard deviation,
// or false when x has zero variance.
func standardize(x []float64) ([]float64, bool) {
	if len(x) == 0 || constant(x) {
		return nil, false
	}
	z, _ := center(x)
	sd, _ := stats.Float64Data(x).StandardDeviationPopulation()
	for i := range z {
		z[i] /= sd
	}
	return z, true
}
