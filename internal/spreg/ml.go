package spreg

import (
	"errors"
	"math"
	"math/cmplx"

	"github.com/montanaflynn/stats"
	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/mat"

	"github.com/sells-group/county-esda/internal/weights"
)

// spectrum holds the eigenvalues of W, which give the Jacobian term
// log|I − ρW| = Σ log|1 − ρλᵢ| for any ρ without refactoring.
type spectrum struct {
	values []complex128
	lo, hi float64
}

func newSpectrum(w *weights.Matrix) (*spectrum, error) {
	n := w.N()
	var values []complex128

	if w.IsSymmetric() && w.RowUniform() {
		// W = D·A with A symmetric is similar to the symmetric matrix with
		// entries √(wᵢⱼ·wⱼᵢ).
		s := mat.NewSymDense(n, nil)
		for i := 0; i < n; i++ {
			for k, j := range w.Neighbors(i) {
				if j >= i {
					s.SetSym(i, j, math.Sqrt(w.Weights(i)[k]*w.Weight(j, i)))
				}
			}
		}
		var es mat.EigenSym
		if !es.Factorize(s, false) {
			return nil, eris.New("spreg: eigendecomposition of W failed")
		}
		for _, v := range es.Values(nil) {
			values = append(values, complex(v, 0))
		}
	} else {
		var eig mat.Eigen
		if !eig.Factorize(w.Dense(), mat.EigenNone) {
			return nil, eris.New("spreg: eigendecomposition of W failed")
		}
		values = eig.Values(nil)
	}

	minRe, maxRe := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		minRe = math.Min(minRe, real(v))
		maxRe = math.Max(maxRe, real(v))
	}
	sp := &spectrum{values: values, lo: -1, hi: 1}
	if minRe < 0 {
		sp.lo = 1 / minRe
	}
	if maxRe > 0 {
		sp.hi = 1 / maxRe
	}
	// The determinant vanishes at the endpoints.
	pad := 1e-6 * (sp.hi - sp.lo)
	sp.lo += pad
	sp.hi -= pad
	return sp, nil
}

func (s *spectrum) logDet(rho float64) float64 {
	var sum float64
	for _, v := range s.values {
		sum += math.Log(cmplx.Abs(1 - complex(rho, 0)*v))
	}
	return sum
}

// traces returns tr(WA), tr(WA·WA) and tr((WA)'WA) for A = (I − ρW)⁻¹,
// along with WA itself.
func traces(w *weights.Matrix, rho float64) (wa *mat.Dense, tr1, tr2, tr3 float64, err error) {
	n := w.N()
	wd := w.Dense()
	a := mat.NewDense(n, n, nil)
	a.Scale(-rho, wd)
	for i := 0; i < n; i++ {
		a.Set(i, i, a.At(i, i)+1)
	}
	var ai mat.Dense
	if err := ai.Inverse(a); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, 0, 0, 0, eris.Wrap(err, "spreg: invert I - rho*W")
		}
	}
	wa = new(mat.Dense)
	wa.Mul(wd, &ai)

	var sq mat.Dense
	sq.Mul(wa, wa)
	var inner mat.Dense
	inner.Mul(wa.T(), wa)
	return wa, mat.Trace(wa), mat.Trace(&sq), mat.Trace(&inner), nil
}

func logLik(n int, sigma2, logDet float64) float64 {
	fn := float64(n)
	return -fn/2*(math.Log(2*math.Pi)+math.Log(sigma2)+1) + logDet
}

func pseudoR2(y, fitted *mat.VecDense) float64 {
	r, err := stats.Pearson(y.RawVector().Data, fitted.RawVector().Data)
	if err != nil {
		return math.NaN()
	}
	return r * r
}

// fitLag estimates y = ρWy + Xβ + ε by maximizing the likelihood
// concentrated on ρ. With e₀ and e_L the OLS residuals of y and Wy on X,
// the residual at ρ is e₀ − ρe_L.
func fitLag(d *design, w *weights.Matrix, sp *spectrum, opts Options) (*LagResult, error) {
	n := float64(d.n)
	wy := lagVec(w, d.y)
	b0 := d.project(d.y)
	bl := d.project(wy)
	e0 := d.residual(d.y)
	el := d.residual(wy)

	var e mat.VecDense
	negLL := func(rho float64) float64 {
		e.CopyVec(e0)
		e.AddScaledVec(&e, -rho, el)
		return n/2*math.Log(mat.Dot(&e, &e)/n) - sp.logDet(rho)
	}
	m := minimizeBounded(negLL, sp.lo, sp.hi, opts.Tolerance, opts.MaxIter)
	rho := m.x

	var beta mat.VecDense
	beta.AddScaledVec(b0, -rho, bl)
	e.CopyVec(e0)
	e.AddScaledVec(&e, -rho, el)
	sigma2 := mat.Dot(&e, &e) / n

	var xb mat.VecDense
	xb.MulVec(d.x, &beta)
	wa, tr1, tr2, tr3, err := traces(w, rho)
	if err != nil {
		return nil, err
	}

	// Information matrix ordered β, ρ, σ².
	var wpy mat.VecDense
	wpy.MulVec(wa, &xb)
	var xtwpy mat.VecDense
	xtwpy.MulVec(d.x.T(), &wpy)
	k := d.k
	info := mat.NewDense(k+2, k+2, nil)
	var xtx mat.Dense
	xtx.Mul(d.x.T(), d.x)
	for i := 0; i < k; i++ {
		for j := 0; j < k; j++ {
			info.Set(i, j, xtx.At(i, j)/sigma2)
		}
		info.Set(i, k, xtwpy.AtVec(i)/sigma2)
		info.Set(k, i, xtwpy.AtVec(i)/sigma2)
	}
	info.Set(k, k, tr2+tr3+mat.Dot(&wpy, &wpy)/sigma2)
	info.Set(k, k+1, tr1/sigma2)
	info.Set(k+1, k, tr1/sigma2)
	info.Set(k+1, k+1, n/(2*sigma2*sigma2))
	vm, err := invert(info)
	if err != nil {
		return nil, err
	}

	coefs := make([]Coefficient, k)
	for j := range coefs {
		coefs[j] = normalCoef(d.names[j], beta.AtVec(j), vm.At(j, j))
	}
	ll := logLik(d.n, sigma2, sp.logDet(rho))

	var fitted mat.VecDense
	fitted.AddScaledVec(&xb, rho, wy)

	res := &LagResult{
		fit: fit{
			dependent: d.dependent,
			betas:     coefs,
			logLik:    ll,
			aic:       -2*ll + 2*float64(k+1),
			n:         d.n,
			sigma2:    sigma2,
		},
		Rho:        normalCoef("W_"+d.dependent, rho, vm.At(k, k)),
		PseudoR2:   pseudoR2(d.y, &fitted),
		Iterations: m.evals,
	}
	if !m.converged {
		res.Convergence = &ConvergenceError{Parameter: "rho", Iterations: m.evals}
	}
	return res, nil
}

// fitError estimates y = Xβ + u, u = λWu + ε. For each λ the model is OLS
// on the filtered data y − λWy and X − λWX.
func fitError(d *design, w *weights.Matrix, sp *spectrum, opts Options) (*ErrorResult, error) {
	n := float64(d.n)
	wy := lagVec(w, d.y)
	wx := lagCols(w, d.x)

	filter := func(lambda float64) (*mat.VecDense, *mat.Dense) {
		var ys mat.VecDense
		ys.AddScaledVec(d.y, -lambda, wy)
		var xs mat.Dense
		xs.Apply(func(i, j int, v float64) float64 { return v - lambda*wx.At(i, j) }, d.x)
		return &ys, &xs
	}
	sse := func(lambda float64) (float64, *mat.VecDense, *mat.Dense) {
		ys, xs := filter(lambda)
		var beta mat.VecDense
		if err := beta.SolveVec(xs, ys); err != nil {
			return math.NaN(), nil, nil
		}
		var e mat.VecDense
		e.MulVec(xs, &beta)
		e.SubVec(ys, &e)
		return mat.Dot(&e, &e), &beta, xs
	}

	negLL := func(lambda float64) float64 {
		s, _, _ := sse(lambda)
		if math.IsNaN(s) {
			return math.Inf(1)
		}
		return n/2*math.Log(s/n) - sp.logDet(lambda)
	}
	m := minimizeBounded(negLL, sp.lo, sp.hi, opts.Tolerance, opts.MaxIter)
	lambda := m.x

	s, beta, xs := sse(lambda)
	if beta == nil {
		return nil, &SingularMatrixError{Cols: d.k, Cond: math.Inf(1)}
	}
	sigma2 := s / n

	var xtx mat.Dense
	xtx.Mul(xs.T(), xs)
	xtxInv, err := invert(&xtx)
	if err != nil {
		return nil, err
	}
	coefs := make([]Coefficient, d.k)
	for j := range coefs {
		coefs[j] = normalCoef(d.names[j], beta.AtVec(j), sigma2*xtxInv.At(j, j))
	}

	_, tr1, tr2, tr3, err := traces(w, lambda)
	if err != nil {
		return nil, err
	}
	info := mat.NewDense(2, 2, []float64{
		tr2 + tr3, tr1 / sigma2,
		tr1 / sigma2, n / (2 * sigma2 * sigma2),
	})
	vm, err := invert(info)
	if err != nil {
		return nil, err
	}

	ll := logLik(d.n, sigma2, sp.logDet(lambda))
	var fitted mat.VecDense
	fitted.MulVec(d.x, beta)

	res := &ErrorResult{
		fit: fit{
			dependent: d.dependent,
			betas:     coefs,
			logLik:    ll,
			aic:       -2*ll + 2*float64(d.k+1),
			n:         d.n,
			sigma2:    sigma2,
		},
		Lambda:     normalCoef("lambda", lambda, vm.At(0, 0)),
		PseudoR2:   pseudoR2(d.y, &fitted),
		Iterations: m.evals,
	}
	if !m.converged {
		res.Convergence = &ConvergenceError{Parameter: "lambda", Iterations: m.evals}
	}
	return res, nil
}

func invert(a mat.Matrix) (*mat.Dense, error) {
	var inv mat.Dense
	if err := inv.Inverse(a); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, eris.Wrap(err, "spreg: invert information matrix")
		}
	}
	return &inv, nil
}
