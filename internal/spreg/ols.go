package spreg

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// fitOLS estimates y = Xβ + ε by least squares. Coefficient Z holds the
// t statistic and P its two-sided Student-t probability on n−k degrees of
// freedom.
func fitOLS(d *design) *OLSResult {
	beta := d.project(d.y)
	var fitted mat.VecDense
	fitted.MulVec(d.x, beta)
	var resid mat.VecDense
	resid.SubVec(d.y, &fitted)

	n, k := float64(d.n), float64(d.k)
	sse := mat.Dot(&resid, &resid)
	sigma2 := sse / (n - k)

	var inv mat.SymDense
	_ = d.chol.InverseTo(&inv)

	df := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: n - k}
	coefs := make([]Coefficient, d.k)
	for j := range coefs {
		est := beta.AtVec(j)
		se := math.Sqrt(sigma2 * inv.At(j, j))
		c := Coefficient{Name: d.names[j], Estimate: est, StdErr: se, Z: est / se}
		c.P = 2 * df.Survival(math.Abs(c.Z))
		coefs[j] = c
	}

	ybar := mat.Sum(d.y) / n
	var sst float64
	for i := 0; i < d.n; i++ {
		dev := d.y.AtVec(i) - ybar
		sst += dev * dev
	}
	r2 := 1 - sse/sst
	adj := 1 - (1-r2)*(n-1)/(n-k)

	ll := -n / 2 * (math.Log(2*math.Pi) + math.Log(sse/n) + 1)
	return &OLSResult{
		fit: fit{
			dependent: d.dependent,
			betas:     coefs,
			logLik:    ll,
			aic:       -2*ll + 2*k,
			n:         d.n,
			sigma2:    sigma2,
		},
		R2:    r2,
		AdjR2: adj,
		d:     d,
		beta:  beta,
		resid: &resid,
	}
}
