package geo

import (
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
)

// ShapefileOptions configures LoadShapefile.
type ShapefileOptions struct {
	KeyField   string   // attribute holding the unit key (e.g. GEOID)
	AttrFields []string // extra attributes copied onto each unit (e.g. NAME, STATEFP)
}

// LoadShapefile reads polygon boundaries from a shapefile into a Layer.
// Records with an empty key or no usable polygon are skipped.
func LoadShapefile(path string, opts ShapefileOptions) (*Layer, error) {
	if opts.KeyField == "" {
		opts.KeyField = "GEOID"
	}

	log := zap.L().With(zap.String("component", "geo.loader"), zap.String("path", path))

	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "geo: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	fields := fieldIndexes(reader)
	keyIdx, ok := fields[strings.ToLower(opts.KeyField)]
	if !ok {
		return nil, eris.Errorf("geo: shapefile %s has no %s field", path, opts.KeyField)
	}

	var units []Unit
	var skipped int
	for reader.Next() {
		_, shape := reader.Shape()

		key := attribute(reader, keyIdx)
		if key == "" {
			skipped++
			continue
		}

		poly, isPoly := shape.(*shp.Polygon)
		if !isPoly {
			skipped++
			continue
		}
		g := PolygonToMultiPolygon(poly)
		if g == nil {
			skipped++
			continue
		}

		attrs := make(map[string]string, len(opts.AttrFields))
		for _, name := range opts.AttrFields {
			if idx, ok := fields[strings.ToLower(name)]; ok {
				attrs[name] = attribute(reader, idx)
			}
		}

		units = append(units, Unit{Key: key, Shape: g, Attrs: attrs})
	}

	if skipped > 0 {
		log.Debug("geo: skipped shapefile records", zap.Int("skipped", skipped))
	}
	log.Info("shapefile loaded", zap.Int("units", len(units)))

	return NewLayer(path, units)
}

// fieldIndexes maps lower-cased field names to attribute indexes.
func fieldIndexes(reader *shp.Reader) map[string]int {
	fields := reader.Fields()
	out := make(map[string]int, len(fields))
	for i, f := range fields {
		name := strings.TrimRight(f.String(), "\x00")
		out[strings.ToLower(name)] = i
	}
	return out
}

func attribute(reader *shp.Reader, idx int) string {
	return strings.TrimSpace(strings.TrimRight(reader.Attribute(idx), "\x00"))
}

// PolygonToMultiPolygon converts a shapefile polygon into a MultiPolygon with
// one polygon per part. Malformed parts are dropped.
func PolygonToMultiPolygon(p *shp.Polygon) *geom.MultiPolygon {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(SRID)

	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		if end-start < 4 {
			continue
		}

		flat := make([]float64, 0, 2*(end-start))
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}

		poly := geom.NewPolygon(geom.XY)
		if err := poly.Push(geom.NewLinearRingFlat(geom.XY, flat)); err != nil {
			zap.L().Debug("geo: skipping malformed polygon ring", zap.Int32("part", i), zap.Error(err))
			continue
		}
		if err := mp.Push(poly); err != nil {
			zap.L().Debug("geo: skipping malformed polygon part", zap.Int32("part", i), zap.Error(err))
			continue
		}
	}

	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}
