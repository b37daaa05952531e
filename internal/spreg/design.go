package spreg

import (
	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/mat"

	"github.com/sells-group/county-esda/internal/table"
	"github.com/sells-group/county-esda/internal/weights"
)

// ConstantName labels the intercept.
const ConstantName = "CONSTANT"

// rcond is the relative singular-value cutoff for the rank check.
const rcond = 1e-10

// design is the fitting sample: y, X with a leading constant column, and a
// factorization of X'X.
type design struct {
	dependent string
	names     []string
	keys      []string
	n, k      int

	y    *mat.VecDense
	x    *mat.Dense
	chol mat.Cholesky
}

func newDesign(t *table.Table, dependent string, predictors []string) (*design, error) {
	if t == nil {
		return nil, eris.New("spreg: nil table")
	}
	if dependent == "" {
		return nil, eris.New("spreg: no dependent variable")
	}
	if len(predictors) == 0 {
		return nil, eris.New("spreg: no predictors")
	}

	n := t.Len()
	k := len(predictors) + 1
	columns := append([]string{dependent}, predictors...)
	data := make([][]float64, len(columns))
	var nullCols []string
	nullRow := make([]bool, n)
	for c, name := range columns {
		vals, valid, err := t.Floats(name)
		if err != nil {
			return nil, eris.Wrapf(err, "spreg: read %s", name)
		}
		data[c] = vals
		hasNull := false
		for i, ok := range valid {
			if !ok {
				nullRow[i] = true
				hasNull = true
			}
		}
		if hasNull {
			nullCols = append(nullCols, name)
		}
	}
	if len(nullCols) > 0 {
		var keys []string
		for i, bad := range nullRow {
			if bad {
				keys = append(keys, t.Key(i))
			}
		}
		return nil, &IncompleteDataError{Columns: nullCols, Keys: keys}
	}
	if n <= k {
		return nil, eris.Errorf("spreg: %d units cannot identify %d parameters", n, k)
	}

	x := mat.NewDense(n, k, nil)
	for i := 0; i < n; i++ {
		x.Set(i, 0, 1)
		for c := 1; c < k; c++ {
			x.Set(i, c, data[c][i])
		}
	}
	d := &design{
		dependent: dependent,
		names:     append([]string{ConstantName}, predictors...),
		keys:      t.Keys(),
		n:         n,
		k:         k,
		y:         mat.NewVecDense(n, data[0]),
		x:         x,
	}
	if err := d.factorize(); err != nil {
		return nil, err
	}
	return d, nil
}

// factorize checks that X has full column rank and factors X'X.
func (d *design) factorize() error {
	var svd mat.SVD
	if !svd.Factorize(d.x, mat.SVDNone) {
		return eris.New("spreg: singular value decomposition of X failed")
	}
	if r := svd.Rank(rcond); r < d.k {
		return &SingularMatrixError{Rank: r, Cols: d.k, Cond: svd.Cond()}
	}

	xtx := mat.NewSymDense(d.k, nil)
	xtx.SymOuterK(1, d.x.T())
	if !d.chol.Factorize(xtx) {
		return &SingularMatrixError{Rank: d.k, Cols: d.k, Cond: svd.Cond()}
	}
	return nil
}

// project returns the least squares coefficients of v on X.
func (d *design) project(v mat.Vector) *mat.VecDense {
	var xtv mat.VecDense
	xtv.MulVec(d.x.T(), v)
	var b mat.VecDense
	// After a successful factorization only a condition warning can come
	// back, and b is still the solution.
	_ = d.chol.SolveVecTo(&b, &xtv)
	return &b
}

// residual returns v − X·project(v).
func (d *design) residual(v mat.Vector) *mat.VecDense {
	b := d.project(v)
	var fitted mat.VecDense
	fitted.MulVec(d.x, b)
	var r mat.VecDense
	r.SubVec(v, &fitted)
	return &r
}

// aligned checks that w indexes the same units in the same order as the
// fitting sample.
func (d *design) aligned(w *weights.Matrix) error {
	if w == nil {
		return eris.New("spreg: spatial specification needs a weight matrix")
	}
	if w.N() != d.n {
		return eris.Errorf("spreg: sample has %d units, weights have %d", d.n, w.N())
	}
	for i, key := range d.keys {
		if w.Key(i) != key {
			return eris.Errorf("spreg: weights unit %d is %q, sample has %q", i, w.Key(i), key)
		}
	}
	return nil
}

func lagVec(w *weights.Matrix, v mat.Vector) *mat.VecDense {
	raw := make([]float64, v.Len())
	for i := range raw {
		raw[i] = v.AtVec(i)
	}
	return mat.NewVecDense(len(raw), w.Lag(raw))
}

func lagCols(w *weights.Matrix, x *mat.Dense) *mat.Dense {
	r, c := x.Dims()
	out := mat.NewDense(r, c, nil)
	for j := 0; j < c; j++ {
		out.SetCol(j, w.Lag(mat.Col(nil, j, x)))
	}
	return out
}
