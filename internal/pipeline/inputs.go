package pipeline

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/county-esda/internal/config"
	"github.com/sells-group/county-esda/internal/db"
	"github.com/sells-group/county-esda/internal/geo"
	"github.com/sells-group/county-esda/internal/geospatial"
	"github.com/sells-group/county-esda/internal/source"
	"github.com/sells-group/county-esda/internal/table"
	"github.com/sells-group/county-esda/internal/weights"
)

// MissingAssetsError lists configured input files that do not exist.
type MissingAssetsError struct {
	Paths []string
}

func (e *MissingAssetsError) Error() string {
	return fmt.Sprintf("pipeline: missing input files: %s", strings.Join(e.Paths, ", "))
}

// CheckAssets returns a MissingAssetsError naming every configured file
// that is absent. PostGIS geometry has no file to check.
func CheckAssets(cfg *config.Config) error {
	var paths []string
	if cfg.Geometry.Driver == config.GeometryShapefile {
		paths = append(paths, cfg.Geometry.Path)
	}
	for _, s := range cfg.Sources.Tables {
		paths = append(paths, s.Path)
	}
	for _, s := range cfg.Sources.Elections {
		paths = append(paths, s.Path)
	}
	for _, s := range cfg.Sources.Wonder {
		paths = append(paths, s.Path)
	}

	var missing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		return &MissingAssetsError{Paths: missing}
	}
	return nil
}

// LoadInputs reads the configured geometry and attribute sources. Sources
// are read concurrently. pool is only used for PostGIS geometry.
func LoadInputs(ctx context.Context, cfg *config.Config, pool db.Pool) (Inputs, error) {
	log := zap.L().With(zap.String("component", "pipeline"))
	if err := CheckAssets(cfg); err != nil {
		return Inputs{}, err
	}

	layer, err := loadGeometry(ctx, cfg, pool)
	if err != nil {
		return Inputs{}, err
	}

	type loader func(context.Context) (*table.Table, error)
	var loaders []loader
	for _, spec := range cfg.Sources.Tables {
		loaders = append(loaders, func(ctx context.Context) (*table.Table, error) {
			return source.Read(ctx, spec)
		})
	}
	for _, e := range cfg.Sources.Elections {
		loaders = append(loaders, func(ctx context.Context) (*table.Table, error) {
			fh, err := os.Open(e.Path)
			if err != nil {
				return nil, eris.Wrapf(err, "pipeline: open %s", e.Path)
			}
			defer fh.Close() //nolint:errcheck
			return source.ReadElection(ctx, fh, e.Year)
		})
	}
	for _, w := range cfg.Sources.Wonder {
		loaders = append(loaders, func(ctx context.Context) (*table.Table, error) {
			fh, err := os.Open(w.Path)
			if err != nil {
				return nil, eris.Wrapf(err, "pipeline: open %s", w.Path)
			}
			defer fh.Close() //nolint:errcheck
			return source.ReadWonder(ctx, fh, w.Metric)
		})
	}

	tables := make([]*table.Table, len(loaders))
	g, gCtx := errgroup.WithContext(ctx)
	if cfg.Analysis.Concurrency > 0 {
		g.SetLimit(cfg.Analysis.Concurrency)
	}
	for i, load := range loaders {
		g.Go(func() error {
			t, err := load(gCtx)
			if err != nil {
				return err
			}
			tables[i] = t
			log.Info("pipeline: source loaded", zap.String("source", t.Name()), zap.Int("rows", t.Len()))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Inputs{}, eris.Wrap(err, "pipeline: load sources")
	}
	return Inputs{Sources: tables, Layer: layer}, nil
}

func loadGeometry(ctx context.Context, cfg *config.Config, pool db.Pool) (*geo.Layer, error) {
	switch cfg.Geometry.Driver {
	case config.GeometryPostGIS:
		if pool == nil {
			return nil, eris.New("pipeline: postgis geometry needs a database pool")
		}
		layer, err := geospatial.LoadCounties(ctx, pool, nil)
		return layer, eris.Wrap(err, "pipeline: load geometry")
	default:
		layer, err := geo.LoadShapefile(cfg.Geometry.Path, geo.ShapefileOptions{
			KeyField:   cfg.Geometry.KeyField,
			AttrFields: cfg.Geometry.AttrFields,
		})
		return layer, eris.Wrap(err, "pipeline: load geometry")
	}
}

type sampleCounty struct {
	fips, name           string
	trump2016, trump2020 float64
	od1316, od1720       float64
	distress, arthritis  float64
	rural, rucc          float64
	baPlus, medianIncome float64
}

var sampleCounties = []sampleCounty{
	{"01001", "Autauga", 73.9, 74.4, 16.5, 20.4, 13.2, 28.3, 0, 2, 20.8, 50764},
	{"01003", "Baldwin", 78.8, 79.2, 19.1, 24.6, 12.1, 27.2, 0, 3, 17.4, 51526},
	{"01005", "Barbour", 68.5, 70.1, 25.3, 32.8, 17.6, 31.2, 1, 6, 21.9, 51893},
	{"01007", "Bibb", 76.5, 77.6, 14.7, 18.1, 15.2, 30.5, 1, 7, 22.4, 51941},
	{"01009", "Blount", 84.9, 85.5, 21.4, 27.0, 14.6, 33.0, 1, 6, 15.1, 48467},
}

// SampleInputs builds a synthetic five-county dataset with the real schema,
// used when raw assets are unavailable. Counties are disjoint unit squares
// 1.5° apart, so contiguity weights leave every unit an island.
func SampleInputs() (Inputs, error) {
	units := make([]geo.Unit, len(sampleCounties))
	b := table.NewBuilder("sample", "fips",
		table.NumberColumn("trump_share_2016"),
		table.NumberColumn("trump_share_2020"),
		table.NumberColumn("od_1316_rate"),
		table.NumberColumn("od_1720_rate"),
		table.NumberColumn("freq_phys_distress_pct"),
		table.NumberColumn("arthritis_pct"),
		table.NumberColumn("rural"),
		table.NumberColumn("rucc"),
		table.NumberColumn("ba_plus_pct"),
		table.NumberColumn("median_income"),
	)
	for i, c := range sampleCounties {
		x := float64(i) * 1.5
		shape := geom.NewMultiPolygon(geom.XY).MustSetCoords([][][]geom.Coord{{{
			{x, 32}, {x + 1, 32}, {x + 1, 33}, {x, 33}, {x, 32},
		}}})
		shape.SetSRID(geo.SRID)
		units[i] = geo.Unit{
			Key:   c.fips,
			Shape: shape,
			Attrs: map[string]string{geospatial.AttrName: c.name, geospatial.AttrState: c.fips[:2]},
		}
		b.Append(c.fips,
			table.Number(c.trump2016), table.Number(c.trump2020),
			table.Number(c.od1316), table.Number(c.od1720),
			table.Number(c.distress), table.Number(c.arthritis),
			table.Number(c.rural), table.Number(c.rucc),
			table.Number(c.baPlus), table.Number(c.medianIncome),
		)
	}
	t, err := b.Build()
	if err != nil {
		return Inputs{}, eris.Wrap(err, "pipeline: build sample table")
	}
	layer, err := geo.NewLayer("sample", units)
	if err != nil {
		return Inputs{}, eris.Wrap(err, "pipeline: build sample layer")
	}
	return Inputs{Sources: []*table.Table{t}, Layer: layer, Sample: true}, nil
}

// SampleConfig adapts cfg to the sample dataset: the unit floor drops to
// the sample size and contiguity weights become 2-nearest-neighbor weights.
// cfg is not modified.
func SampleConfig(cfg *config.Config) *config.Config {
	out := *cfg
	if out.Analysis.MinUnits > len(sampleCounties) {
		out.Analysis.MinUnits = len(sampleCounties)
	}
	switch weights.Mode(strings.ToLower(out.Weights.Mode)) {
	case weights.Queen, weights.Rook, "":
		out.Weights.Mode = string(weights.KNN)
		out.Weights.K = 2
	}
	out.Output.PostGIS = false
	return &out
}
