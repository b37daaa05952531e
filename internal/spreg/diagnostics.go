package spreg

import (
	"encoding/json"
	"math"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/sells-group/county-esda/internal/weights"
)

// LMTest is one Lagrange multiplier statistic with its χ²(1) p-value.
type LMTest struct {
	Statistic float64 `json:"statistic" yaml:"statistic"`
	P         float64 `json:"p" yaml:"p"`
}

func chi1(stat float64) LMTest {
	return LMTest{Statistic: stat, P: distuv.ChiSquared{K: 1}.Survival(stat)}
}

// MarshalJSON writes non-finite statistics as null.
func (t LMTest) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Statistic *float64 `json:"statistic"`
		P         *float64 `json:"p"`
	}{finite(t.Statistic), finite(t.P)})
}

// ratio is num/den, or 0 when den is not positive or the quotient is not
// finite.
func ratio(num, den float64) float64 {
	if den <= 0 {
		return 0
	}
	q := num / den
	if math.IsNaN(q) || math.IsInf(q, 0) {
		return 0
	}
	return q
}

// LMTests are the spatial dependence diagnostics of an OLS fit.
type LMTests struct {
	LMLag    LMTest `json:"lm_lag" yaml:"lm_lag"`
	LMError  LMTest `json:"lm_error" yaml:"lm_error"`
	RLMLag   LMTest `json:"robust_lm_lag" yaml:"robust_lm_lag"`
	RLMError LMTest `json:"robust_lm_error" yaml:"robust_lm_error"`
}

// Diagnose computes LM-lag, LM-error and their robust forms from the OLS
// residuals e and w (Anselin 1988):
//
//	T        = tr(W'W + WW)
//	D        = (WXβ)'M(WXβ)/σ² + T
//	LM-error = (e'We/σ²)² / T
//	LM-lag   = (e'Wy/σ²)² / D
//
// with σ² = e'e/n and M the residual maker of X. When w has no links or the
// fit is exact there is no dependence to measure: every statistic is 0 with
// p = 1, and Select keeps OLS.
func Diagnose(ols *OLSResult, w *weights.Matrix) (LMTests, error) {
	if ols == nil || ols.d == nil {
		return LMTests{}, eris.New("spreg: diagnose needs an OLS fit")
	}
	d := ols.d
	if err := d.aligned(w); err != nil {
		return LMTests{}, err
	}

	n := float64(d.n)
	e := ols.resid
	s2 := mat.Dot(e, e) / n

	var trace float64
	for i := 0; i < w.N(); i++ {
		for k, j := range w.Neighbors(i) {
			wij := w.Weights(i)[k]
			trace += wij*wij + wij*w.Weight(j, i)
		}
	}

	if trace == 0 || s2 == 0 {
		none := LMTest{P: 1}
		return LMTests{LMLag: none, LMError: none, RLMLag: none, RLMError: none}, nil
	}

	we := lagVec(w, e)
	wy := lagVec(w, d.y)
	lmErr := mat.Dot(e, we) / s2
	lmLag := mat.Dot(e, wy) / s2

	var xb mat.VecDense
	xb.MulVec(d.x, ols.beta)
	wxb := lagVec(w, &xb)
	mwxb := d.residual(wxb)
	dd := mat.Dot(wxb, mwxb)/s2 + trace

	out := LMTests{
		LMError:  chi1(ratio(lmErr*lmErr, trace)),
		LMLag:    chi1(ratio(lmLag*lmLag, dd)),
		RLMLag:   chi1(ratio(math.Pow(lmLag-lmErr, 2), dd-trace)),
		RLMError: chi1(ratio(math.Pow(lmErr-trace/dd*lmLag, 2), trace*(1-trace/dd))),
	}
	return out, nil
}

// Select applies the standard decision rule to the diagnostics at level
// alpha: with neither LM test significant keep OLS; with one, take that
// specification; with both, defer to the robust tests and, when they agree,
// to the larger robust statistic.
func Select(lm LMTests, alpha float64) Spec {
	lag := lm.LMLag.P < alpha
	errSig := lm.LMError.P < alpha
	switch {
	case !lag && !errSig:
		return OLS
	case lag && !errSig:
		return Lag
	case errSig && !lag:
		return Error
	}

	rlag := lm.RLMLag.P < alpha
	rerr := lm.RLMError.P < alpha
	switch {
	case rlag && !rerr:
		return Lag
	case rerr && !rlag:
		return Error
	case lm.RLMLag.Statistic >= lm.RLMError.Statistic:
		return Lag
	default:
		return Error
	}
}
