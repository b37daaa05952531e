// Package pipeline runs the county analysis end to end: fusion, derived
// metrics, spatial weights, ESDA statistics and the regression suite.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/county-esda/internal/config"
	"github.com/sells-group/county-esda/internal/esda"
	"github.com/sells-group/county-esda/internal/fusion"
	"github.com/sells-group/county-esda/internal/geo"
	"github.com/sells-group/county-esda/internal/spreg"
	"github.com/sells-group/county-esda/internal/table"
	"github.com/sells-group/county-esda/internal/weights"
)

// Column suffixes appended to the fused table.
const (
	LagSuffix       = "_lag"
	ClusterSuffix   = "_lisa_cluster"
	HotspotSuffix   = "_hotspot_conf"
	BivariateColumn = "bv_cluster"
)

// Stage names.
const (
	StageFuse       = "fuse"
	StageDerive     = "derive"
	StageWeights    = "weights"
	StageUnivariate = "univariate"
	StageBivariate  = "bivariate"
	StageRegression = "regression"
)

// Inputs are the attribute tables and the geometry anchor of one run.
type Inputs struct {
	Sources []*table.Table
	Layer   *geo.Layer
	// Sample marks the synthetic dataset.
	Sample bool
}

// Failure records a statistic that could not be computed. Failures do not
// stop the run.
type Failure struct {
	Stage    string `json:"stage" yaml:"stage"`
	Variable string `json:"variable" yaml:"variable"`
	Error    string `json:"error" yaml:"error"`
}

// StageResult is the timing and outcome of one stage.
type StageResult struct {
	Name       string `json:"name" yaml:"name"`
	DurationMS int64  `json:"duration_ms" yaml:"duration_ms"`
	Failed     bool   `json:"failed,omitempty" yaml:"failed,omitempty"`
}

// VariableResult holds every univariate statistic of one variable.
type VariableResult struct {
	Variable string
	Global   *esda.AutocorrelationResult
	Local    []esda.LocalRecord
	Hotspots []esda.HotspotRecord
}

// BivariateResult holds the statistics of one variable pair.
type BivariateResult struct {
	X, Y   string
	Column string
	Global *esda.AutocorrelationResult
	Local  []esda.LocalRecord
}

// Result is the outcome of Run.
type Result struct {
	RunID string
	// Table is the fused table with derived and computed columns and the
	// unit geometries attached.
	Table    *table.Table
	Weights  *weights.Matrix
	Excluded []string
	Matched  map[string]int
	// Skipped lists derivations whose inputs were absent.
	Skipped    []string
	Variables  []VariableResult
	Bivariate  []BivariateResult
	Regression *spreg.Suite
	// Regressions are the fits requested by regression.specs.
	Regressions []spreg.Result
	Failures    []Failure
	Stages      []StageResult
	Sample      bool
}

type runner struct {
	cfg *config.Config
	log *zap.Logger
	res *Result

	mu sync.Mutex
}

func (r *runner) fail(stage, variable string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.res.Failures = append(r.res.Failures, Failure{Stage: stage, Variable: variable, Error: err.Error()})
	r.log.Warn("pipeline: statistic failed",
		zap.String("stage", stage),
		zap.String("variable", variable),
		zap.Error(err),
	)
}

func (r *runner) stage(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	sr := StageResult{Name: name, DurationMS: time.Since(start).Milliseconds(), Failed: err != nil}
	r.res.Stages = append(r.res.Stages, sr)
	if err != nil {
		r.log.Error("pipeline: stage failed", zap.String("stage", name), zap.Int64("duration_ms", sr.DurationMS), zap.Error(err))
		return err
	}
	r.log.Info("pipeline: stage complete", zap.String("stage", name), zap.Int64("duration_ms", sr.DurationMS))
	return nil
}

// Run fuses the inputs and computes every configured statistic. Errors in
// fusion or the weights build abort the run; a statistic that fails for
// one variable is recorded in Result.Failures and the run continues.
func Run(ctx context.Context, cfg *config.Config, in Inputs) (*Result, error) {
	if cfg == nil {
		return nil, eris.New("pipeline: nil config")
	}
	if in.Layer == nil {
		return nil, eris.New("pipeline: no geometry layer")
	}
	r := &runner{
		cfg: cfg,
		log: zap.L().With(zap.String("component", "pipeline")),
		res: &Result{Sample: in.Sample},
	}
	r.log.Info("pipeline: starting run",
		zap.Int("sources", len(in.Sources)),
		zap.Int("units", in.Layer.Len()),
		zap.Bool("sample", in.Sample),
	)

	var fused *fusion.Result
	err := r.stage(StageFuse, func() error {
		var err error
		fused, err = fusion.Fuse(in.Sources, in.Layer, fusion.Options{
			Exclusions:  cfg.Fusion.ExcludePrefixes,
			AnchorAttrs: cfg.Fusion.AnchorAttrs,
		})
		return err
	})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: fuse")
	}
	r.res.Excluded = fused.Excluded
	r.res.Matched = fused.Matched

	t := fused.Table
	err = r.stage(StageDerive, func() error {
		var err error
		t, r.res.Skipped, err = fusion.Derive(t, cfg.Fusion.AllDerivations())
		if err != nil {
			return err
		}
		t, err = t.WithGeometry(fused.Layer.Shapes())
		return err
	})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: derive")
	}

	err = r.stage(StageWeights, func() error {
		var err error
		r.res.Weights, err = weights.Build(fused.Layer, cfg.Weights.Params())
		return err
	})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: weights")
	}

	opts := cfg.Analysis.ESDAOptions()
	if err := r.stage(StageUnivariate, func() error { return r.univariate(ctx, t, opts) }); err != nil {
		return nil, eris.Wrap(err, "pipeline: univariate statistics")
	}
	if err := r.stage(StageBivariate, func() error { return r.bivariate(ctx, t, opts) }); err != nil {
		return nil, eris.Wrap(err, "pipeline: bivariate statistics")
	}

	if t, err = r.appendColumns(t); err != nil {
		return nil, err
	}
	r.res.Table = t

	if cfg.Regression.Dependent != "" {
		_ = r.stage(StageRegression, func() error { return r.regression(t) })
	}

	r.log.Info("pipeline: run complete",
		zap.Int("units", t.Len()),
		zap.Int("excluded", len(r.res.Excluded)),
		zap.Int("failures", len(r.res.Failures)),
	)
	return r.res, nil
}

// univariate computes global Moran's I, LISA and Gi* for every configured
// variable, at most Analysis.Concurrency variables at a time.
func (r *runner) univariate(ctx context.Context, t *table.Table, opts esda.Options) error {
	vars := r.cfg.Analysis.Variables
	out := make([]VariableResult, len(vars))
	w := r.res.Weights

	g, gCtx := errgroup.WithContext(ctx)
	if r.cfg.Analysis.Concurrency > 0 {
		g.SetLimit(r.cfg.Analysis.Concurrency)
	}
	for i, v := range vars {
		out[i].Variable = v
		g.Go(func() error {
			if !t.HasColumn(v) {
				r.fail(StageUnivariate, v, eris.Errorf("pipeline: column %q not in fused table", v))
				return nil
			}
			global, err := esda.Global(t, w, v, "", opts)
			if err != nil {
				r.fail(StageUnivariate, v, err)
				return nil
			}
			out[i].Global = global

			local, err := esda.Local(gCtx, t, w, v, "", opts)
			if err != nil {
				if gCtx.Err() != nil {
					return gCtx.Err()
				}
				r.fail(StageUnivariate, v, err)
				return nil
			}
			out[i].Local = local

			hot, err := esda.Hotspots(t, w, v, opts)
			if err != nil {
				r.fail(StageUnivariate, v, err)
				return nil
			}
			out[i].Hotspots = hot
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	r.res.Variables = out
	return nil
}

func (r *runner) bivariate(ctx context.Context, t *table.Table, opts esda.Options) error {
	w := r.res.Weights
	for i, p := range r.cfg.Analysis.Bivariate {
		name := p.X + ":" + p.Y
		column := BivariateColumn
		if i > 0 {
			column = p.X + "_" + p.Y + "_" + BivariateColumn
		}
		br := BivariateResult{X: p.X, Y: p.Y, Column: column}

		if m := missing(t, p.X, p.Y); m != "" {
			r.fail(StageBivariate, name, eris.Errorf("pipeline: column %q not in fused table", m))
			continue
		}
		global, err := esda.Global(t, w, p.X, p.Y, opts)
		if err != nil {
			r.fail(StageBivariate, name, err)
			continue
		}
		br.Global = global
		local, err := esda.Local(ctx, t, w, p.X, p.Y, opts)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.fail(StageBivariate, name, err)
			continue
		}
		br.Local = local
		r.res.Bivariate = append(r.res.Bivariate, br)
	}
	return nil
}

// appendColumns adds the spatial lag, cluster and hotspot labels of every
// analyzed variable to t. Nulls enter the lag as 0.
func (r *runner) appendColumns(t *table.Table) (*table.Table, error) {
	src := t
	var err error
	for _, vr := range r.res.Variables {
		if src.HasColumn(vr.Variable) {
			lag, lerr := esda.SpatialLag(src, r.res.Weights, vr.Variable)
			if lerr != nil {
				r.fail(StageUnivariate, vr.Variable, lerr)
			} else if t, err = t.WithColumn(table.NumberColumn(vr.Variable+LagSuffix), lag); err != nil {
				return nil, eris.Wrapf(err, "pipeline: append %s lag", vr.Variable)
			}
		}
		if vr.Local != nil {
			if t, err = t.WithColumn(table.TextColumn(vr.Variable+ClusterSuffix), clusterValues(vr.Local)); err != nil {
				return nil, eris.Wrapf(err, "pipeline: append %s clusters", vr.Variable)
			}
		}
		if vr.Hotspots != nil {
			vals := make([]table.Value, len(vr.Hotspots))
			for i, h := range vr.Hotspots {
				vals[i] = table.Text(string(h.Band))
			}
			if t, err = t.WithColumn(table.TextColumn(vr.Variable+HotspotSuffix), vals); err != nil {
				return nil, eris.Wrapf(err, "pipeline: append %s hotspots", vr.Variable)
			}
		}
	}
	for _, br := range r.res.Bivariate {
		if t, err = t.WithColumn(table.TextColumn(br.Column), clusterValues(br.Local)); err != nil {
			return nil, eris.Wrapf(err, "pipeline: append %s", br.Column)
		}
	}
	return t, nil
}

func clusterValues(recs []esda.LocalRecord) []table.Value {
	vals := make([]table.Value, len(recs))
	for i, rec := range recs {
		vals[i] = table.Text(string(rec.Label))
	}
	return vals
}

// regression fits the configured specifications on the complete cases.
// The weights are restricted to those units and re-standardized.
func (r *runner) regression(t *table.Table) error {
	rc := r.cfg.Regression
	dep := rc.Dependent
	if m := missing(t, append([]string{dep}, rc.Predictors...)...); m != "" {
		err := eris.Errorf("pipeline: column %q not in fused table", m)
		r.fail(StageRegression, dep, err)
		return err
	}

	keep := make([]bool, t.Len())
	for i := range keep {
		keep[i] = true
	}
	for _, col := range append([]string{dep}, rc.Predictors...) {
		_, valid, err := t.Floats(col)
		if err != nil {
			r.fail(StageRegression, dep, err)
			return err
		}
		for i, ok := range valid {
			keep[i] = keep[i] && ok
		}
	}
	sample, err := t.Filter(keep)
	if err != nil {
		r.fail(StageRegression, dep, err)
		return err
	}
	w, err := r.res.Weights.Subset(keep)
	if err != nil {
		r.fail(StageRegression, dep, err)
		return err
	}
	r.log.Info("pipeline: regression sample",
		zap.String("dependent", dep),
		zap.Int("units", sample.Len()),
		zap.Int("dropped", t.Len()-sample.Len()),
	)

	specs := make(map[spreg.Spec]bool, len(rc.Specs))
	spatial := false
	for _, s := range rc.Specs {
		spec, err := spreg.ParseSpec(s)
		if err != nil {
			r.fail(StageRegression, dep, err)
			return err
		}
		specs[spec] = true
		spatial = spatial || spec != spreg.OLS
	}

	if !spatial {
		res, err := spreg.Fit(sample, w, dep, rc.Predictors, spreg.OLS, rc.Options())
		if err != nil {
			r.fail(StageRegression, dep, err)
			return err
		}
		r.res.Regressions = []spreg.Result{res}
		return nil
	}

	suite, err := spreg.FitAll(sample, w, dep, rc.Predictors, r.cfg.Analysis.Significance, rc.Options())
	if err != nil {
		r.fail(StageRegression, dep, err)
		return err
	}
	r.res.Regression = suite
	for _, res := range suite.Results() {
		if specs[res.Kind()] {
			r.res.Regressions = append(r.res.Regressions, res)
		}
	}
	r.log.Info("pipeline: regression suite fitted", zap.String("selected", string(suite.Selected)))
	return nil
}

func missing(t *table.Table, cols ...string) string {
	for _, c := range cols {
		if !t.HasColumn(c) {
			return c
		}
	}
	return ""
}

// Globals lists every global statistic computed, univariate first.
func (r *Result) Globals() []esda.AutocorrelationResult {
	var out []esda.AutocorrelationResult
	for _, v := range r.Variables {
		if v.Global != nil {
			out = append(out, *v.Global)
		}
	}
	for _, b := range r.Bivariate {
		if b.Global != nil {
			out = append(out, *b.Global)
		}
	}
	return out
}
