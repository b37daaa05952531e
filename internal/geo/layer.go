// Package geo holds county geometries, their loaders, and the small amount of
// planar and spherical math the weights builder needs.
package geo

import (
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"

	"github.com/sells-group/county-esda/internal/table"
)

// SRID is the geographic reference system all layers are expected in (WGS84).
const SRID = 4326

// Unit is one geographic unit: a key, its boundary, and any descriptive
// attributes that came with the geometry source (name, state code).
type Unit struct {
	Key   string
	Shape geom.T
	Attrs map[string]string
}

// Layer is an ordered, key-unique collection of units. Unit order is the
// index space every weights matrix built from the layer refers to.
type Layer struct {
	name  string
	units []Unit
	index map[string]int
}

// NewLayer validates key uniqueness and returns the layer.
func NewLayer(name string, units []Unit) (*Layer, error) {
	index := make(map[string]int, len(units))
	var dups []string
	for i, u := range units {
		if u.Key == "" {
			return nil, eris.Errorf("geo: layer %s: unit %d has empty key", name, i)
		}
		if _, ok := index[u.Key]; ok {
			dups = append(dups, u.Key)
			continue
		}
		index[u.Key] = i
	}
	if len(dups) > 0 {
		sort.Strings(dups)
		return nil, &table.DuplicateKeyError{Source: name, Keys: dups}
	}
	return &Layer{name: name, units: append([]Unit(nil), units...), index: index}, nil
}

// Name returns the layer's source name.
func (l *Layer) Name() string { return l.name }

// Len returns the number of units.
func (l *Layer) Len() int { return len(l.units) }

// Unit returns unit i.
func (l *Layer) Unit(i int) Unit { return l.units[i] }

// Keys returns unit keys in layer order.
func (l *Layer) Keys() []string {
	keys := make([]string, len(l.units))
	for i, u := range l.units {
		keys[i] = u.Key
	}
	return keys
}

// Lookup returns the index of a key.
func (l *Layer) Lookup(key string) (int, bool) {
	i, ok := l.index[key]
	return i, ok
}

// Shapes returns the geometries in layer order.
func (l *Layer) Shapes() []geom.T {
	out := make([]geom.T, len(l.units))
	for i, u := range l.units {
		out[i] = u.Shape
	}
	return out
}

// Exclude returns a new layer without units whose key starts with any of the
// given prefixes, plus the removed keys in layer order.
func (l *Layer) Exclude(prefixes []string) (*Layer, []string, error) {
	if len(prefixes) == 0 {
		out, err := NewLayer(l.name, l.units)
		return out, nil, err
	}
	kept := make([]Unit, 0, len(l.units))
	var removed []string
	for _, u := range l.units {
		if hasAnyPrefix(u.Key, prefixes) {
			removed = append(removed, u.Key)
			continue
		}
		kept = append(kept, u)
	}
	out, err := NewLayer(l.name, kept)
	if err != nil {
		return nil, nil, err
	}
	return out, removed, nil
}

func hasAnyPrefix(key string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

// Centroids returns the planar centroid of every unit as (x=lng, y=lat).
func (l *Layer) Centroids() ([]geom.Coord, error) {
	out := make([]geom.Coord, len(l.units))
	for i, u := range l.units {
		if u.Shape == nil {
			return nil, eris.Errorf("geo: unit %s has no geometry", u.Key)
		}
		c, err := xy.Centroid(u.Shape)
		if err != nil {
			return nil, eris.Wrapf(err, "geo: centroid of %s", u.Key)
		}
		out[i] = c
	}
	return out, nil
}

// Rings returns every linear ring of a polygonal geometry as coordinate
// sequences. Non-polygonal geometries yield no rings.
func Rings(g geom.T) [][]geom.Coord {
	switch s := g.(type) {
	case *geom.Polygon:
		return s.Coords()
	case *geom.MultiPolygon:
		var rings [][]geom.Coord
		for _, poly := range s.Coords() {
			rings = append(rings, poly...)
		}
		return rings
	default:
		return nil
	}
}
