package geo

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/county-esda/internal/table"
)

func box(x, y, size float64) *geom.MultiPolygon {
	ring := []geom.Coord{{x, y}, {x + size, y}, {x + size, y + size}, {x, y + size}, {x, y}}
	return geom.NewMultiPolygon(geom.XY).MustSetCoords([][][]geom.Coord{{ring}}).SetSRID(SRID)
}

func TestNewLayer_DuplicateKeys(t *testing.T) {
	_, err := NewLayer("counties", []Unit{
		{Key: "01003", Shape: box(0, 0, 1)},
		{Key: "01001", Shape: box(1, 0, 1)},
		{Key: "01003", Shape: box(2, 0, 1)},
	})
	require.Error(t, err)

	var dup *table.DuplicateKeyError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, []string{"01003"}, dup.Keys)
	assert.Equal(t, "counties", dup.Source)
}

func TestNewLayer_EmptyKey(t *testing.T) {
	_, err := NewLayer("counties", []Unit{{Key: "", Shape: box(0, 0, 1)}})
	require.Error(t, err)
}

func TestLayer_Accessors(t *testing.T) {
	layer, err := NewLayer("counties", []Unit{
		{Key: "01001", Shape: box(0, 0, 1), Attrs: map[string]string{"NAME": "Autauga"}},
		{Key: "01003", Shape: box(1, 0, 1)},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, layer.Len())
	assert.Equal(t, []string{"01001", "01003"}, layer.Keys())
	i, ok := layer.Lookup("01003")
	assert.True(t, ok)
	assert.Equal(t, 1, i)
	_, ok = layer.Lookup("99999")
	assert.False(t, ok)
	assert.Equal(t, "Autauga", layer.Unit(0).Attrs["NAME"])
	assert.Len(t, layer.Shapes(), 2)
}

func TestLayer_Exclude(t *testing.T) {
	layer, err := NewLayer("counties", []Unit{
		{Key: "01001", Shape: box(0, 0, 1)},
		{Key: "02013", Shape: box(1, 0, 1)},
		{Key: "15001", Shape: box(2, 0, 1)},
		{Key: "48201", Shape: box(3, 0, 1)},
	})
	require.NoError(t, err)

	out, removed, err := layer.Exclude(ExcludedStateFIPS)
	require.NoError(t, err)
	assert.Equal(t, []string{"01001", "48201"}, out.Keys())
	assert.Equal(t, []string{"02013", "15001"}, removed)

	same, removed, err := layer.Exclude(nil)
	require.NoError(t, err)
	assert.Nil(t, removed)
	assert.Equal(t, layer.Keys(), same.Keys())
}

func TestLayer_Centroids(t *testing.T) {
	layer, err := NewLayer("counties", []Unit{
		{Key: "a", Shape: box(0, 0, 2)},
		{Key: "b", Shape: box(10, 20, 2)},
	})
	require.NoError(t, err)

	c, err := layer.Centroids()
	require.NoError(t, err)
	assert.InDelta(t, 1.0, c[0].X(), 1e-9)
	assert.InDelta(t, 1.0, c[0].Y(), 1e-9)
	assert.InDelta(t, 11.0, c[1].X(), 1e-9)
	assert.InDelta(t, 21.0, c[1].Y(), 1e-9)
}

func TestLayer_CentroidsMissingGeometry(t *testing.T) {
	layer, err := NewLayer("counties", []Unit{{Key: "a"}})
	require.NoError(t, err)
	_, err = layer.Centroids()
	require.Error(t, err)
}

func TestRings(t *testing.T) {
	assert.Len(t, Rings(box(0, 0, 1)), 1)

	poly := geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}})
	assert.Len(t, Rings(poly), 1)

	assert.Nil(t, Rings(geom.NewPoint(geom.XY).MustSetCoords(geom.Coord{1, 2})))
}

func TestHaversineKM(t *testing.T) {
	// One degree of latitude is ~111.2 km.
	d := HaversineKM(geom.Coord{-86.0, 32.0}, geom.Coord{-86.0, 33.0})
	assert.InDelta(t, 111.2, d, 0.2)
	assert.Equal(t, 0.0, HaversineKM(geom.Coord{1, 1}, geom.Coord{1, 1}))
}
