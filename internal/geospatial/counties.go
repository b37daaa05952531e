// Package geospatial reads county boundaries from PostGIS and writes
// per-county statistics back to it.
package geospatial

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
	"go.uber.org/zap"

	"github.com/sells-group/county-esda/internal/db"
	"github.com/sells-group/county-esda/internal/geo"
)

// Unit attribute names set by LoadCounties.
const (
	AttrName  = "NAME"
	AttrState = "STATEFP"
)

const countiesSQL = `SELECT geoid, name, state_fips, ST_AsBinary(geom)
FROM geo.counties
ORDER BY geoid`

// LoadCounties reads every county boundary from geo.counties into a layer
// ordered by GEOID. Counties whose GEOID starts with one of excludeStates
// are dropped. Polygons are promoted to single-part multipolygons.
func LoadCounties(ctx context.Context, pool db.Pool, excludeStates []string) (*geo.Layer, error) {
	log := zap.L().With(zap.String("component", "geospatial"))

	rows, err := pool.Query(ctx, countiesSQL)
	if err != nil {
		return nil, eris.Wrap(err, "geospatial: query counties")
	}
	defer rows.Close()

	var units []geo.Unit
	var skipped int
	for rows.Next() {
		var (
			geoid, name, state string
			raw                []byte
		)
		if err := rows.Scan(&geoid, &name, &state, &raw); err != nil {
			return nil, eris.Wrap(err, "geospatial: scan county")
		}
		shape, err := decodeBoundary(raw)
		if err != nil {
			return nil, eris.Wrapf(err, "geospatial: decode county %s", geoid)
		}
		if shape == nil {
			skipped++
			continue
		}
		units = append(units, geo.Unit{
			Key:   geoid,
			Shape: shape,
			Attrs: map[string]string{AttrName: name, AttrState: state},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "geospatial: iterate counties")
	}

	layer, err := geo.NewLayer("geo.counties", units)
	if err != nil {
		return nil, err
	}
	layer, removed, err := layer.Exclude(excludeStates)
	if err != nil {
		return nil, err
	}
	log.Info("counties loaded",
		zap.Int("units", layer.Len()),
		zap.Int("excluded", len(removed)),
		zap.Int("skipped", skipped),
	)
	return layer, nil
}

// decodeBoundary parses WKB into a MultiPolygon. Empty input and
// non-polygonal geometries yield nil.
func decodeBoundary(raw []byte) (*geom.MultiPolygon, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	g, err := wkb.Unmarshal(raw)
	if err != nil {
		return nil, err
	}
	switch s := g.(type) {
	case *geom.MultiPolygon:
		if s.Empty() {
			return nil, nil
		}
		return s.SetSRID(geo.SRID), nil
	case *geom.Polygon:
		if s.Empty() {
			return nil, nil
		}
		mp := geom.NewMultiPolygon(s.Layout())
		if err := mp.Push(s); err != nil {
			return nil, err
		}
		return mp.SetSRID(geo.SRID), nil
	default:
		return nil, nil
	}
}
