package pipeline

import (
	"context"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/county-esda/internal/config"
	"github.com/sells-group/county-esda/internal/db"
	"github.com/sells-group/county-esda/internal/geospatial"
	"github.com/sells-group/county-esda/internal/store"
)

// Pipeline wraps Run with run-history bookkeeping and optional PostGIS
// publication of the per-county results.
type Pipeline struct {
	cfg   *config.Config
	store store.Store
	pool  db.Pool
}

// New creates a Pipeline. st and pool may be nil: without a store no run
// is recorded, without a pool nothing is published.
func New(cfg *config.Config, st store.Store, pool db.Pool) *Pipeline {
	return &Pipeline{cfg: cfg, store: st, pool: pool}
}

// Run executes the analysis and records its outcome.
func (p *Pipeline) Run(ctx context.Context, in Inputs) (*Result, error) {
	log := zap.L().With(zap.String("component", "pipeline"))

	runID := uuid.New().String()
	if p.store != nil {
		run, err := p.store.CreateRun(ctx, p.cfg)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: create run")
		}
		runID = run.ID
	}
	log = log.With(zap.String("run_id", runID))

	res, err := Run(ctx, p.cfg, in)
	if err == nil {
		res.RunID = runID
		if p.cfg.Output.PostGIS {
			err = p.publish(ctx, res)
		}
	}
	if err != nil {
		if p.store != nil {
			if failErr := p.store.FailRun(ctx, runID, err); failErr != nil {
				log.Warn("pipeline: failed to record run failure", zap.Error(failErr))
			}
		}
		return nil, err
	}

	if p.store != nil {
		if err := p.store.CompleteRun(ctx, runID, res.Summary()); err != nil {
			return nil, eris.Wrap(err, "pipeline: complete run")
		}
	}
	return res, nil
}

// publish writes every local and global statistic to the geo schema.
func (p *Pipeline) publish(ctx context.Context, res *Result) error {
	if p.pool == nil {
		return eris.New("pipeline: postgis output needs a database pool")
	}
	log := zap.L().With(zap.String("component", "pipeline"), zap.String("run_id", res.RunID))

	var rows int64
	for _, v := range res.Variables {
		if v.Local != nil {
			n, err := geospatial.WriteClusters(ctx, p.pool, res.RunID, v.Variable, geospatial.KindLISA, v.Local)
			if err != nil {
				return eris.Wrap(err, "pipeline: publish")
			}
			rows += n
		}
		if v.Hotspots != nil {
			n, err := geospatial.WriteHotspots(ctx, p.pool, res.RunID, v.Variable, v.Hotspots)
			if err != nil {
				return eris.Wrap(err, "pipeline: publish")
			}
			rows += n
		}
	}
	for _, b := range res.Bivariate {
		n, err := geospatial.WriteClusters(ctx, p.pool, res.RunID, b.X+":"+b.Y, geospatial.KindBVLISA, b.Local)
		if err != nil {
			return eris.Wrap(err, "pipeline: publish")
		}
		rows += n
	}
	if globals := res.Globals(); len(globals) > 0 {
		n, err := geospatial.WriteGlobal(ctx, p.pool, res.RunID, globals)
		if err != nil {
			return eris.Wrap(err, "pipeline: publish")
		}
		rows += n
	}
	log.Info("pipeline: results published", zap.Int64("rows", rows))
	return nil
}
