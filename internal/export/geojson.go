// Package export writes analysis artifacts: the per-county GeoJSON layer
// and the regression and summary reports.
package export

import (
	"encoding/json"
	"io"
	"math"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/county-esda/internal/esda"
	"github.com/sells-group/county-esda/internal/table"
)

// HotspotSuffix marks columns holding Gi* band names.
const HotspotSuffix = "_hotspot_conf"

// GeoJSONOptions configures WriteGeoJSON.
type GeoJSONOptions struct {
	// Precision is the number of decimals numeric properties are rounded
	// to. Negative disables rounding.
	Precision int
	// Columns limits and orders the exported properties. Empty exports
	// every column. Names not in the table are ignored.
	Columns []string
	// DisplayBands rewrites hotspot band names to their map labels.
	DisplayBands bool
}

// DefaultGeoJSONOptions rounds to two decimals and uses map labels.
func DefaultGeoJSONOptions() GeoJSONOptions {
	return GeoJSONOptions{Precision: 2, DisplayBands: true}
}

// WriteGeoJSON writes one feature per row of t, with the row key as the
// feature id and every selected column as a property. Null values are
// written as JSON null; rows without geometry get a null geometry.
func WriteGeoJSON(w io.Writer, t *table.Table, opts GeoJSONOptions) error {
	if t == nil {
		return eris.New("export: nil table")
	}
	if len(opts.Columns) > 0 {
		names := slices.DeleteFunc(slices.Clone(opts.Columns), func(n string) bool { return !t.HasColumn(n) })
		var err error
		if t, err = t.Select(names...); err != nil {
			return eris.Wrap(err, "export: select columns")
		}
	}
	cols := t.Columns()
	values := make([][]table.Value, len(cols))
	for c, col := range cols {
		vals, err := t.Values(col.Name)
		if err != nil {
			return eris.Wrap(err, "export: read column")
		}
		values[c] = vals
	}

	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, t.Len())}
	for i := 0; i < t.Len(); i++ {
		props := make(map[string]any, len(cols)+1)
		props[t.KeyColumn()] = t.Key(i)
		for c, col := range cols {
			props[col.Name] = property(values[c][i], col.Name, opts)
		}
		f := &geojson.Feature{ID: t.Key(i), Properties: props}
		if t.HasGeometry() {
			f.Geometry = t.Geometry(i)
		}
		fc.Features = append(fc.Features, f)
	}

	data, err := json.Marshal(fc)
	if err != nil {
		return eris.Wrap(err, "export: encode geojson")
	}
	if _, err := w.Write(data); err != nil {
		return eris.Wrap(err, "export: write geojson")
	}
	return nil
}

func property(v table.Value, column string, opts GeoJSONOptions) any {
	if f, ok := v.Float(); ok {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return Round(f, opts.Precision)
	}
	if v.IsNull() {
		return nil
	}
	s := v.String()
	if opts.DisplayBands && strings.HasSuffix(column, HotspotSuffix) {
		return esda.Band(s).Display()
	}
	return s
}

// Round rounds f half away from zero to the given number of decimals.
func Round(f float64, decimals int) float64 {
	if decimals < 0 {
		return f
	}
	p := math.Pow10(decimals)
	return math.Round(f*p) / p
}
