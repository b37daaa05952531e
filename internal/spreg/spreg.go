// Package spreg fits the regression suite: an OLS baseline with Lagrange
// multiplier diagnostics, and maximum-likelihood spatial lag and spatial
// error models sharing one result shape.
package spreg

import (
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/county-esda/internal/table"
	"github.com/sells-group/county-esda/internal/weights"
)

// Options bound the likelihood search.
type Options struct {
	// MaxIter caps likelihood evaluations in the ρ or λ search.
	MaxIter int `mapstructure:"max_iter" json:"max_iter" yaml:"max_iter"`
	// Tolerance is the absolute tolerance on the spatial parameter.
	Tolerance float64 `mapstructure:"tolerance" json:"tolerance" yaml:"tolerance"`
}

// DefaultOptions returns the standard search budget.
func DefaultOptions() Options {
	return Options{MaxIter: 100, Tolerance: 1e-8}
}

// Validate checks the option values.
func (o Options) Validate() error {
	if o.MaxIter < 1 {
		return eris.Errorf("spreg: max_iter must be positive, got %d", o.MaxIter)
	}
	if o.Tolerance <= 0 {
		return eris.Errorf("spreg: tolerance must be positive, got %g", o.Tolerance)
	}
	return nil
}

// ParseSpec maps a configured name to a Spec.
func ParseSpec(s string) (Spec, error) {
	switch Spec(s) {
	case OLS, Lag, Error:
		return Spec(s), nil
	}
	return "", eris.Errorf("spreg: unknown specification %q", s)
}

// Fit estimates spec for dependent on predictors over every row of t. Any
// null in the sample is an IncompleteDataError. w is required for the
// spatial specifications; for OLS it is optional and, when given, the
// result carries the LM diagnostics.
func Fit(t *table.Table, w *weights.Matrix, dependent string, predictors []string, spec Spec, opts Options) (Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if _, err := ParseSpec(string(spec)); err != nil {
		return nil, err
	}
	d, err := newDesign(t, dependent, predictors)
	if err != nil {
		return nil, err
	}
	log := zap.L().With(zap.String("component", "spreg"), zap.String("spec", string(spec)), zap.String("dependent", dependent))

	if spec == OLS {
		ols := fitOLS(d)
		if w != nil {
			lm, err := Diagnose(ols, w)
			if err != nil {
				return nil, err
			}
			ols.Diagnostics = &lm
		}
		log.Debug("ols fitted", zap.Float64("r2", ols.R2), zap.Int("n", d.n))
		return ols, nil
	}

	if err := d.aligned(w); err != nil {
		return nil, err
	}
	sp, err := newSpectrum(w)
	if err != nil {
		return nil, err
	}

	var res Result
	if spec == Lag {
		res, err = fitLag(d, w, sp, opts)
	} else {
		res, err = fitError(d, w, sp, opts)
	}
	if err != nil {
		return nil, err
	}
	if !res.Converged() {
		log.Warn("likelihood search did not converge", zap.Int("max_iter", opts.MaxIter))
	}
	c, _ := res.Spatial()
	log.Debug("spatial model fitted", zap.Float64("parameter", c.Estimate), zap.Float64("log_lik", res.LogLik()))
	return res, nil
}

// Suite is the outcome of fitting every specification.
type Suite struct {
	OLS      *OLSResult
	Lag      *LagResult
	Error    *ErrorResult
	Selected Spec
}

// Results lists the fits in OLS, lag, error order.
func (s *Suite) Results() []Result {
	return []Result{s.OLS, s.Lag, s.Error}
}

// FitAll fits OLS with diagnostics and both spatial models, then picks a
// specification with Select at level alpha.
func FitAll(t *table.Table, w *weights.Matrix, dependent string, predictors []string, alpha float64, opts Options) (*Suite, error) {
	if w == nil {
		return nil, eris.New("spreg: suite needs a weight matrix")
	}
	s := &Suite{}
	for _, spec := range []Spec{OLS, Lag, Error} {
		res, err := Fit(t, w, dependent, predictors, spec, opts)
		if err != nil {
			return nil, eris.Wrapf(err, "spreg: fit %s", spec)
		}
		switch r := res.(type) {
		case *OLSResult:
			s.OLS = r
		case *LagResult:
			s.Lag = r
		case *ErrorResult:
			s.Error = r
		}
	}
	s.Selected = Select(*s.OLS.Diagnostics, alpha)
	return s, nil
}
