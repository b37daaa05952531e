package spreg

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/sells-group/county-esda/internal/table"
	"github.com/sells-group/county-esda/internal/weights"
)

func rookGrid(t *testing.T, rows, cols int) *weights.Matrix {
	t.Helper()
	n := rows * cols
	keys := make([]string, n)
	nbrs := make([][]int, n)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			i := r*cols + c
			keys[i] = fmt.Sprintf("u%03d", i)
			if r > 0 {
				nbrs[i] = append(nbrs[i], i-cols)
			}
			if c > 0 {
				nbrs[i] = append(nbrs[i], i-1)
			}
			if c < cols-1 {
				nbrs[i] = append(nbrs[i], i+1)
			}
			if r < rows-1 {
				nbrs[i] = append(nbrs[i], i+cols)
			}
		}
	}
	m, err := weights.FromAdjacency(keys, nbrs)
	require.NoError(t, err)
	return m.RowStandardize()
}

// frame builds a table keyed like w from named columns.
func frame(t *testing.T, keys []string, names []string, cols ...[]float64) *table.Table {
	t.Helper()
	var columns []table.Column
	for _, name := range names {
		columns = append(columns, table.NumberColumn(name))
	}
	b := table.NewBuilder("test", "fips", columns...)
	for i, key := range keys {
		vals := make([]table.Value, len(cols))
		for c := range cols {
			if math.IsNaN(cols[c][i]) {
				vals[c] = table.Null()
			} else {
				vals[c] = table.Number(cols[c][i])
			}
		}
		b.Append(key, vals...)
	}
	tbl, err := b.Build()
	require.NoError(t, err)
	return tbl
}

// simulate draws x ~ N(0,1) and ε ~ N(0, 0.5²), then returns
// y = (I − ρW)⁻¹(1 + 2x + ε) when lag is true, or
// y = 1 + 2x + (I − ρW)⁻¹ε otherwise.
func simulate(t *testing.T, w *weights.Matrix, rho float64, lag bool) (x, y []float64) {
	t.Helper()
	n := w.N()
	rng := rand.New(rand.NewPCG(7, 11))
	x = make([]float64, n)
	eps := make([]float64, n)
	for i := range x {
		x[i] = rng.NormFloat64()
		eps[i] = 0.5 * rng.NormFloat64()
	}

	a := mat.NewDense(n, n, nil)
	a.Scale(-rho, w.Dense())
	for i := 0; i < n; i++ {
		a.Set(i, i, a.At(i, i)+1)
	}
	rhs := make([]float64, n)
	for i := range rhs {
		if lag {
			rhs[i] = 1 + 2*x[i] + eps[i]
		} else {
			rhs[i] = eps[i]
		}
	}
	var sol mat.VecDense
	require.NoError(t, sol.SolveVec(a, mat.NewVecDense(n, rhs)))

	y = make([]float64, n)
	for i := range y {
		if lag {
			y[i] = sol.AtVec(i)
		} else {
			y[i] = 1 + 2*x[i] + sol.AtVec(i)
		}
	}
	return x, y
}

func TestFit_OLSKnownCoefficients(t *testing.T) {
	keys := []string{"a", "b", "c", "d", "e"}
	tbl := frame(t, keys, []string{"y", "x"},
		[]float64{2, 4, 5, 4, 5},
		[]float64{1, 2, 3, 4, 5})

	res, err := Fit(tbl, nil, "y", []string{"x"}, OLS, DefaultOptions())
	require.NoError(t, err)
	ols, ok := res.(*OLSResult)
	require.True(t, ok)

	coefs := ols.Coefficients()
	require.Len(t, coefs, 2)
	assert.Equal(t, ConstantName, coefs[0].Name)
	assert.InDelta(t, 2.2, coefs[0].Estimate, 1e-9)
	assert.InDelta(t, math.Sqrt(0.88), coefs[0].StdErr, 1e-9)
	assert.Equal(t, "x", coefs[1].Name)
	assert.InDelta(t, 0.6, coefs[1].Estimate, 1e-9)
	assert.InDelta(t, math.Sqrt(0.08), coefs[1].StdErr, 1e-9)
	assert.InDelta(t, 0.6/math.Sqrt(0.08), coefs[1].Z, 1e-9)

	assert.InDelta(t, 0.6, ols.R2, 1e-9)
	assert.InDelta(t, 0.8, ols.Sigma2(), 1e-9)
	wantLL := -2.5 * (math.Log(2*math.Pi) + math.Log(2.4/5) + 1)
	assert.InDelta(t, wantLL, ols.LogLik(), 1e-9)
	assert.InDelta(t, -2*wantLL+4, ols.AIC(), 1e-9)
	assert.InDeltaSlice(t, []float64{-0.8, 0.6, 1.0, -0.6, -0.2}, ols.Residuals(), 1e-9)

	assert.Equal(t, OLS, ols.Kind())
	assert.True(t, ols.Converged())
	_, spatial := ols.Spatial()
	assert.False(t, spatial)
	assert.Nil(t, ols.Diagnostics)
}

func TestFit_SingularDesign(t *testing.T) {
	keys := []string{"a", "b", "c", "d", "e", "f"}
	x1 := []float64{1, 2, 3, 4, 5, 7}
	x2 := make([]float64, len(x1))
	for i, v := range x1 {
		x2[i] = 2 * v
	}
	tbl := frame(t, keys, []string{"y", "x1", "x2"},
		[]float64{3, 1, 4, 1, 5, 9}, x1, x2)

	_, err := Fit(tbl, nil, "y", []string{"x1", "x2"}, OLS, DefaultOptions())
	var se *SingularMatrixError
	require.True(t, errors.As(err, &se), "got %v", err)
	assert.Equal(t, 2, se.Rank)
	assert.Equal(t, 3, se.Cols)
	assert.Contains(t, err.Error(), "singular")
}

func TestFit_IncompleteData(t *testing.T) {
	keys := []string{"a", "b", "c", "d", "e"}
	tbl := frame(t, keys, []string{"y", "x"},
		[]float64{2, 4, 5, 4, 5},
		[]float64{1, 2, math.NaN(), 4, 5})

	for _, spec := range []Spec{OLS, Lag, Error} {
		t.Run(string(spec), func(t *testing.T) {
			_, err := Fit(tbl, nil, "y", []string{"x"}, spec, DefaultOptions())
			var ie *IncompleteDataError
			require.True(t, errors.As(err, &ie), "got %v", err)
			assert.Equal(t, []string{"x"}, ie.Columns)
			assert.Equal(t, []string{"c"}, ie.Keys)
		})
	}
}

func TestFit_Errors(t *testing.T) {
	keys := []string{"a", "b", "c", "d", "e"}
	tbl := frame(t, keys, []string{"y", "x"},
		[]float64{2, 4, 5, 4, 5},
		[]float64{1, 2, 3, 4, 5})
	small := frame(t, []string{"a", "b"}, []string{"y", "x"},
		[]float64{1, 2}, []float64{3, 5})
	other := rookGrid(t, 2, 2)

	tests := []struct {
		name   string
		tbl    *table.Table
		w      *weights.Matrix
		dep    string
		preds  []string
		spec   Spec
		opts   Options
		errMsg string
	}{
		{"unknown spec", tbl, nil, "y", []string{"x"}, "probit", DefaultOptions(), "unknown specification"},
		{"missing column", tbl, nil, "y", []string{"z"}, OLS, DefaultOptions(), "read z"},
		{"no predictors", tbl, nil, "y", nil, OLS, DefaultOptions(), "no predictors"},
		{"no dependent", tbl, nil, "", []string{"x"}, OLS, DefaultOptions(), "no dependent"},
		{"nil table", nil, nil, "y", []string{"x"}, OLS, DefaultOptions(), "nil table"},
		{"too few units", small, nil, "y", []string{"x"}, OLS, DefaultOptions(), "cannot identify"},
		{"lag without weights", tbl, nil, "y", []string{"x"}, Lag, DefaultOptions(), "needs a weight matrix"},
		{"misaligned weights", tbl, other, "y", []string{"x"}, Error, DefaultOptions(), "weights have 4"},
		{"bad max iter", tbl, nil, "y", []string{"x"}, OLS, Options{MaxIter: 0, Tolerance: 1e-8}, "max_iter"},
		{"bad tolerance", tbl, nil, "y", []string{"x"}, OLS, Options{MaxIter: 10}, "tolerance"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Fit(tt.tbl, tt.w, tt.dep, tt.preds, tt.spec, tt.opts)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestFit_Lag(t *testing.T) {
	w := rookGrid(t, 10, 10)
	x, y := simulate(t, w, 0.6, true)
	tbl := frame(t, w.Keys(), []string{"y", "x"}, y, x)

	olsRes, err := Fit(tbl, w, "y", []string{"x"}, OLS, DefaultOptions())
	require.NoError(t, err)
	res, err := Fit(tbl, w, "y", []string{"x"}, Lag, DefaultOptions())
	require.NoError(t, err)

	lag, ok := res.(*LagResult)
	require.True(t, ok)
	assert.Equal(t, Lag, lag.Kind())
	assert.True(t, lag.Converged())
	assert.Nil(t, lag.Convergence)

	rho, ok := lag.Spatial()
	require.True(t, ok)
	assert.Equal(t, "W_y", rho.Name)
	assert.InDelta(t, 0.6, rho.Estimate, 0.2)
	assert.Greater(t, rho.StdErr, 0.0)
	assert.Less(t, rho.P, 0.01)

	coefs := lag.Coefficients()
	require.Len(t, coefs, 3)
	assert.InDelta(t, 2.0, coefs[1].Estimate, 0.3)
	assert.Equal(t, rho, coefs[2])

	assert.GreaterOrEqual(t, lag.LogLik(), olsRes.LogLik()-1e-9)
	assert.InDelta(t, -2*lag.LogLik()+6, lag.AIC(), 1e-9)
	assert.Greater(t, lag.PseudoR2, 0.5)
	assert.LessOrEqual(t, lag.PseudoR2, 1.0)
	assert.Equal(t, 100, lag.N())
}

func TestFit_Error(t *testing.T) {
	w := rookGrid(t, 10, 10)
	x, y := simulate(t, w, 0.6, false)
	tbl := frame(t, w.Keys(), []string{"y", "x"}, y, x)

	olsRes, err := Fit(tbl, w, "y", []string{"x"}, OLS, DefaultOptions())
	require.NoError(t, err)
	res, err := Fit(tbl, w, "y", []string{"x"}, Error, DefaultOptions())
	require.NoError(t, err)

	em, ok := res.(*ErrorResult)
	require.True(t, ok)
	assert.Equal(t, Error, em.Kind())
	assert.True(t, em.Converged())

	lambda, ok := em.Spatial()
	require.True(t, ok)
	assert.Equal(t, "lambda", lambda.Name)
	assert.InDelta(t, 0.6, lambda.Estimate, 0.25)
	assert.Greater(t, lambda.StdErr, 0.0)

	coefs := em.Coefficients()
	require.Len(t, coefs, 3)
	assert.InDelta(t, 2.0, coefs[1].Estimate, 0.3)
	assert.GreaterOrEqual(t, em.LogLik(), olsRes.LogLik()-1e-9)
	assert.InDelta(t, -2*em.LogLik()+6, em.AIC(), 1e-9)
}

func TestFit_ConvergenceFlag(t *testing.T) {
	w := rookGrid(t, 6, 6)
	x, y := simulate(t, w, 0.5, true)
	tbl := frame(t, w.Keys(), []string{"y", "x"}, y, x)
	opts := Options{MaxIter: 1, Tolerance: 1e-8}

	for _, spec := range []Spec{Lag, Error} {
		t.Run(string(spec), func(t *testing.T) {
			res, err := Fit(tbl, w, "y", []string{"x"}, spec, opts)
			require.NoError(t, err)
			assert.False(t, res.Converged())

			rep := NewReport(res)
			assert.False(t, rep.Converged)
			assert.Contains(t, rep.Warning, "did not converge in 1 iterations")

			var ce *ConvergenceError
			switch r := res.(type) {
			case *LagResult:
				ce = r.Convergence
			case *ErrorResult:
				ce = r.Convergence
			}
			require.NotNil(t, ce)
			assert.Equal(t, 1, ce.Iterations)
		})
	}
}

func TestDiagnose(t *testing.T) {
	w := rookGrid(t, 10, 10)
	x, y := simulate(t, w, 0.7, true)
	tbl := frame(t, w.Keys(), []string{"y", "x"}, y, x)

	res, err := Fit(tbl, w, "y", []string{"x"}, OLS, DefaultOptions())
	require.NoError(t, err)
	ols := res.(*OLSResult)
	require.NotNil(t, ols.Diagnostics)

	lm := *ols.Diagnostics
	for _, test := range []LMTest{lm.LMLag, lm.LMError, lm.RLMLag, lm.RLMError} {
		assert.GreaterOrEqual(t, test.Statistic, 0.0)
		assert.GreaterOrEqual(t, test.P, 0.0)
		assert.LessOrEqual(t, test.P, 1.0)
	}
	assert.Less(t, lm.LMLag.P, 0.05)

	again, err := Diagnose(ols, w)
	require.NoError(t, err)
	assert.Equal(t, lm, again)

	_, err = Diagnose(ols, rookGrid(t, 3, 3))
	assert.Error(t, err)
	_, err = Diagnose(nil, w)
	assert.Error(t, err)
}

func TestDiagnose_NoLinks(t *testing.T) {
	n := 20
	keys := make([]string, n)
	xs := make([]float64, n)
	ys := make([]float64, n)
	for i := range keys {
		keys[i] = fmt.Sprintf("u%03d", i)
		xs[i] = float64(i)
		ys[i] = 3 + 0.5*float64(i) + float64(i%3)
	}
	w, err := weights.FromAdjacency(keys, make([][]int, n))
	require.NoError(t, err)
	tbl := frame(t, keys, []string{"y", "x"}, ys, xs)

	res, err := Fit(tbl, w, "y", []string{"x"}, OLS, DefaultOptions())
	require.NoError(t, err)
	lm := res.(*OLSResult).Diagnostics
	require.NotNil(t, lm)
	for _, test := range []LMTest{lm.LMLag, lm.LMError, lm.RLMLag, lm.RLMError} {
		assert.Equal(t, 0.0, test.Statistic)
		assert.Equal(t, 1.0, test.P)
	}
	assert.Equal(t, OLS, Select(*lm, 0.05))

	data, err := json.Marshal(NewReport(res))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"lm_lag":{"statistic":0,"p":1}`)
}

func TestReport_MarshalJSONConstantDependent(t *testing.T) {
	w := rookGrid(t, 4, 4)
	ys := make([]float64, w.N())
	xs := make([]float64, w.N())
	for i := range ys {
		ys[i] = 7
		xs[i] = float64(i)
	}
	tbl := frame(t, w.Keys(), []string{"y", "x"}, ys, xs)

	res, err := Fit(tbl, w, "y", []string{"x"}, OLS, DefaultOptions())
	require.NoError(t, err)

	data, err := json.Marshal(NewReport(res))
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.NotContains(t, decoded, "r2")
	assert.Equal(t, "ols", decoded["spec"])
	assert.Contains(t, decoded, "diagnostics")

	data, err = json.Marshal(Report{Spec: OLS, LogLik: math.Inf(1), AIC: math.NaN()})
	require.NoError(t, err)
	decoded = nil
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Contains(t, decoded, "log_likelihood")
	assert.Nil(t, decoded["log_likelihood"])
	assert.Nil(t, decoded["aic"])

	data, err = json.Marshal(LMTest{Statistic: math.NaN(), P: math.Inf(1)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"statistic":null,"p":null}`, string(data))
}

func TestSelect(t *testing.T) {
	lm := func(lag, errP, rlag, rerr float64, rlagStat, rerrStat float64) LMTests {
		return LMTests{
			LMLag:    LMTest{Statistic: 1, P: lag},
			LMError:  LMTest{Statistic: 1, P: errP},
			RLMLag:   LMTest{Statistic: rlagStat, P: rlag},
			RLMError: LMTest{Statistic: rerrStat, P: rerr},
		}
	}
	tests := []struct {
		name string
		lm   LMTests
		want Spec
	}{
		{"neither significant", lm(0.3, 0.4, 0.01, 0.01, 9, 9), OLS},
		{"only lag", lm(0.01, 0.4, 0.5, 0.5, 0, 0), Lag},
		{"only error", lm(0.4, 0.01, 0.5, 0.5, 0, 0), Error},
		{"both, robust lag", lm(0.01, 0.01, 0.01, 0.3, 7, 1), Lag},
		{"both, robust error", lm(0.01, 0.01, 0.3, 0.01, 1, 7), Error},
		{"both robust, larger lag", lm(0.01, 0.01, 0.01, 0.02, 8, 5), Lag},
		{"both robust, larger error", lm(0.01, 0.01, 0.02, 0.01, 5, 8), Error},
		{"neither robust, larger error", lm(0.01, 0.01, 0.5, 0.4, 0.3, 0.6), Error},
		{"NaN is not significant", lm(math.NaN(), math.NaN(), 0, 0, 0, 0), OLS},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Select(tt.lm, 0.05))
		})
	}
}

func TestFitAll(t *testing.T) {
	w := rookGrid(t, 10, 10)
	x, y := simulate(t, w, 0.7, true)
	tbl := frame(t, w.Keys(), []string{"y", "x"}, y, x)

	suite, err := FitAll(tbl, w, "y", []string{"x"}, 0.05, DefaultOptions())
	require.NoError(t, err)
	require.NotNil(t, suite.OLS)
	require.NotNil(t, suite.Lag)
	require.NotNil(t, suite.Error)
	assert.NotEqual(t, OLS, suite.Selected)
	assert.Equal(t, Select(*suite.OLS.Diagnostics, 0.05), suite.Selected)

	results := suite.Results()
	require.Len(t, results, 3)
	assert.Equal(t, []Spec{OLS, Lag, Error}, []Spec{results[0].Kind(), results[1].Kind(), results[2].Kind()})

	_, err = FitAll(tbl, nil, "y", []string{"x"}, 0.05, DefaultOptions())
	assert.Error(t, err)
}

func TestNewReport(t *testing.T) {
	w := rookGrid(t, 6, 6)
	x, y := simulate(t, w, 0.4, true)
	tbl := frame(t, w.Keys(), []string{"y", "x"}, y, x)

	res, err := Fit(tbl, w, "y", []string{"x"}, Lag, DefaultOptions())
	require.NoError(t, err)
	rep := NewReport(res)
	assert.Equal(t, Lag, rep.Spec)
	assert.Equal(t, "y", rep.Dependent)
	assert.Equal(t, 36, rep.N)
	require.Len(t, rep.Coefficients, 2)
	require.NotNil(t, rep.Spatial)
	assert.Equal(t, "W_y", rep.Spatial.Name)
	assert.Nil(t, rep.R2)
	require.NotNil(t, rep.PseudoR2)
	assert.Empty(t, rep.Warning)

	res, err = Fit(tbl, w, "y", []string{"x"}, OLS, DefaultOptions())
	require.NoError(t, err)
	rep = NewReport(res)
	assert.Nil(t, rep.Spatial)
	require.NotNil(t, rep.R2)
	require.NotNil(t, rep.Diagnostics)
}

func TestParseSpec(t *testing.T) {
	for _, s := range []string{"ols", "lag", "error"} {
		got, err := ParseSpec(s)
		require.NoError(t, err)
		assert.Equal(t, Spec(s), got)
	}
	_, err := ParseSpec("sdm")
	assert.Error(t, err)
}
