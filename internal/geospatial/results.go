package geospatial

import (
	"context"
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/county-esda/internal/db"
	"github.com/sells-group/county-esda/internal/esda"
)

// Kind distinguishes the statistic stored in a geo.county_esda row.
type Kind string

// Statistic kinds.
const (
	KindLISA   Kind = "lisa"
	KindBVLISA Kind = "bv_lisa"
	KindGiStar Kind = "gi_star"
)

const countyESDATable = "geo.county_esda"

var countyESDAColumns = []string{"run_id", "geoid", "variable", "kind", "stat", "lag", "z", "p", "label"}

// WriteClusters replaces the local Moran rows of one run and variable.
// Bivariate records are stored under "x:y" with KindBVLISA.
func WriteClusters(ctx context.Context, pool db.Pool, runID, variable string, kind Kind, records []esda.LocalRecord) (int64, error) {
	rows := make([][]any, 0, len(records))
	for _, r := range records {
		rows = append(rows, []any{
			runID, r.Key, variable, string(kind),
			nullable(r.I), nullable(r.Lag), nil, nullable(r.P), string(r.Label),
		})
	}
	return replace(ctx, pool, runID, variable, kind, rows)
}

// WriteHotspots replaces the Gi* rows of one run and variable.
func WriteHotspots(ctx context.Context, pool db.Pool, runID, variable string, records []esda.HotspotRecord) (int64, error) {
	rows := make([][]any, 0, len(records))
	for _, r := range records {
		rows = append(rows, []any{
			runID, r.Key, variable, string(KindGiStar),
			nullable(r.G), nil, nullable(r.Z), nullable(r.P), string(r.Band),
		})
	}
	return replace(ctx, pool, runID, variable, KindGiStar, rows)
}

func replace(ctx context.Context, pool db.Pool, runID, variable string, kind Kind, rows [][]any) (int64, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "geospatial: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		"DELETE FROM geo.county_esda WHERE run_id = $1 AND variable = $2 AND kind = $3",
		runID, variable, string(kind),
	); err != nil {
		return 0, eris.Wrapf(err, "geospatial: clear %s %s", kind, variable)
	}
	n, err := db.CopyFrom(ctx, tx, countyESDATable, countyESDAColumns, rows)
	if err != nil {
		return 0, eris.Wrapf(err, "geospatial: write %s %s", kind, variable)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "geospatial: commit tx")
	}

	zap.L().With(zap.String("component", "geospatial")).Debug("county statistics written",
		zap.String("run_id", runID),
		zap.String("variable", variable),
		zap.String("kind", string(kind)),
		zap.Int64("rows", n),
	)
	return n, nil
}

// WriteGlobal upserts one global Moran result per (run, variable, variable2).
func WriteGlobal(ctx context.Context, pool db.Pool, runID string, results []esda.AutocorrelationResult) (int64, error) {
	rows := make([][]any, 0, len(results))
	for _, r := range results {
		rows = append(rows, []any{
			runID, r.Variable, r.Variable2,
			nullable(r.I), nullable(r.EI), nullable(r.VarI), nullable(r.Z),
			nullable(r.PNorm), nullable(r.PSim), r.N, r.Excluded, r.Permutations, r.Seed,
		})
	}
	n, err := db.BulkUpsert(ctx, pool, db.UpsertConfig{
		Table: "geo.esda_global",
		Columns: []string{
			"run_id", "variable", "variable2",
			"i", "expected_i", "variance", "z",
			"p_norm", "p_sim", "n", "excluded", "permutations", "seed",
		},
		ConflictKeys: []string{"run_id", "variable", "variable2"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "geospatial: write global statistics")
	}
	return n, nil
}

// nullable maps NaN, which marks excluded units and degenerate statistics,
// to SQL NULL.
func nullable(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}
