package spreg

import (
	"encoding/json"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Spec names a regression specification.
type Spec string

// Supported specifications.
const (
	OLS   Spec = "ols"
	Lag   Spec = "lag"
	Error Spec = "error"
)

// Coefficient is one estimated parameter.
type Coefficient struct {
	Name     string  `json:"name" yaml:"name"`
	Estimate float64 `json:"estimate" yaml:"estimate"`
	StdErr   float64 `json:"std_err" yaml:"std_err"`
	Z        float64 `json:"z" yaml:"z"`
	P        float64 `json:"p" yaml:"p"`
}

// MarshalJSON writes non-finite statistics, which a degenerate information
// matrix can produce, as null.
func (c Coefficient) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name     string   `json:"name"`
		Estimate *float64 `json:"estimate"`
		StdErr   *float64 `json:"std_err"`
		Z        *float64 `json:"z"`
		P        *float64 `json:"p"`
	}{c.Name, finite(c.Estimate), finite(c.StdErr), finite(c.Z), finite(c.P)})
}

func finite(f float64) *float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func normalCoef(name string, est, variance float64) Coefficient {
	c := Coefficient{Name: name, Estimate: est, StdErr: math.Sqrt(variance)}
	c.Z = est / c.StdErr
	c.P = 2 * distuv.UnitNormal.Survival(math.Abs(c.Z))
	return c
}

// Result is the shape shared by every fitted specification.
type Result interface {
	Kind() Spec
	Dependent() string
	// Coefficients lists the β estimates, then the spatial parameter for
	// spatial specifications.
	Coefficients() []Coefficient
	// Spatial returns ρ or λ; ok is false for OLS.
	Spatial() (c Coefficient, ok bool)
	LogLik() float64
	AIC() float64
	N() int
	Converged() bool
}

type fit struct {
	dependent string
	betas     []Coefficient
	logLik    float64
	aic       float64
	n         int
	sigma2    float64
}

func (f *fit) Dependent() string { return f.dependent }
func (f *fit) LogLik() float64   { return f.logLik }
func (f *fit) AIC() float64      { return f.aic }
func (f *fit) N() int            { return f.n }

// Sigma2 returns the residual variance estimate.
func (f *fit) Sigma2() float64 { return f.sigma2 }

// OLSResult is an ordinary least squares fit.
type OLSResult struct {
	fit
	R2    float64
	AdjR2 float64

	// Diagnostics holds the LM tests when the fit was given a weight matrix.
	Diagnostics *LMTests

	d     *design
	beta  *mat.VecDense
	resid *mat.VecDense
}

func (r *OLSResult) Kind() Spec                   { return OLS }
func (r *OLSResult) Coefficients() []Coefficient  { return append([]Coefficient(nil), r.betas...) }
func (r *OLSResult) Spatial() (Coefficient, bool) { return Coefficient{}, false }
func (r *OLSResult) Converged() bool              { return true }

// Residuals returns y − Xβ in design row order.
func (r *OLSResult) Residuals() []float64 { return mat.Col(nil, 0, r.resid) }

// LagResult is a maximum-likelihood spatial lag fit, y = ρWy + Xβ + ε.
type LagResult struct {
	fit
	Rho        Coefficient
	PseudoR2   float64
	Iterations int
	// Convergence is non-nil when the ρ search hit its iteration budget.
	Convergence *ConvergenceError
}

func (r *LagResult) Kind() Spec { return Lag }
func (r *LagResult) Coefficients() []Coefficient {
	return append(append([]Coefficient(nil), r.betas...), r.Rho)
}
func (r *LagResult) Spatial() (Coefficient, bool) { return r.Rho, true }
func (r *LagResult) Converged() bool              { return r.Convergence == nil }

// ErrorResult is a maximum-likelihood spatial error fit, y = Xβ + u,
// u = λWu + ε.
type ErrorResult struct {
	fit
	Lambda     Coefficient
	PseudoR2   float64
	Iterations int
	// Convergence is non-nil when the λ search hit its iteration budget.
	Convergence *ConvergenceError
}

func (r *ErrorResult) Kind() Spec { return Error }
func (r *ErrorResult) Coefficients() []Coefficient {
	return append(append([]Coefficient(nil), r.betas...), r.Lambda)
}
func (r *ErrorResult) Spatial() (Coefficient, bool) { return r.Lambda, true }
func (r *ErrorResult) Converged() bool              { return r.Convergence == nil }

// Report is the serializable summary of any Result.
type Report struct {
	Spec         Spec          `json:"spec" yaml:"spec"`
	Dependent    string        `json:"dependent" yaml:"dependent"`
	N            int           `json:"n" yaml:"n"`
	Coefficients []Coefficient `json:"coefficients" yaml:"coefficients"`
	Spatial      *Coefficient  `json:"spatial,omitempty" yaml:"spatial,omitempty"`
	LogLik       float64       `json:"log_likelihood" yaml:"log_likelihood"`
	AIC          float64       `json:"aic" yaml:"aic"`
	Converged    bool          `json:"converged" yaml:"converged"`
	R2           *float64      `json:"r2,omitempty" yaml:"r2,omitempty"`
	PseudoR2     *float64      `json:"pseudo_r2,omitempty" yaml:"pseudo_r2,omitempty"`
	Diagnostics  *LMTests      `json:"diagnostics,omitempty" yaml:"diagnostics,omitempty"`
	Warning      string        `json:"warning,omitempty" yaml:"warning,omitempty"`
}

// MarshalJSON writes non-finite fit statistics, such as the likelihood of a
// constant dependent, as null.
func (r Report) MarshalJSON() ([]byte, error) {
	type alias Report
	var r2, pr2 *float64
	if r.R2 != nil {
		r2 = finite(*r.R2)
	}
	if r.PseudoR2 != nil {
		pr2 = finite(*r.PseudoR2)
	}
	return json.Marshal(struct {
		alias
		LogLik   *float64 `json:"log_likelihood"`
		AIC      *float64 `json:"aic"`
		R2       *float64 `json:"r2,omitempty"`
		PseudoR2 *float64 `json:"pseudo_r2,omitempty"`
	}{alias(r), finite(r.LogLik), finite(r.AIC), r2, pr2})
}

// NewReport flattens a Result.
func NewReport(r Result) Report {
	rep := Report{
		Spec:      r.Kind(),
		Dependent: r.Dependent(),
		N:         r.N(),
		LogLik:    r.LogLik(),
		AIC:       r.AIC(),
		Converged: r.Converged(),
	}
	coefs := r.Coefficients()
	if sp, ok := r.Spatial(); ok {
		rep.Spatial = &sp
		coefs = coefs[:len(coefs)-1]
	}
	rep.Coefficients = coefs

	switch v := r.(type) {
	case *OLSResult:
		r2 := v.R2
		rep.R2 = &r2
		rep.Diagnostics = v.Diagnostics
	case *LagResult:
		pr2 := v.PseudoR2
		rep.PseudoR2 = &pr2
		if v.Convergence != nil {
			rep.Warning = v.Convergence.Error()
		}
	case *ErrorResult:
		pr2 := v.PseudoR2
		rep.PseudoR2 = &pr2
		if v.Convergence != nil {
			rep.Warning = v.Convergence.Error()
		}
	}
	return rep
}
