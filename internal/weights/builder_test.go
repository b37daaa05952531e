package weights

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/county-esda/internal/geo"
)

func square(x, y, size float64) *geom.MultiPolygon {
	ring := []geom.Coord{{x, y}, {x + size, y}, {x + size, y + size}, {x, y + size}, {x, y}}
	return geom.NewMultiPolygon(geom.XY).MustSetCoords([][][]geom.Coord{{ring}}).SetSRID(geo.SRID)
}

// gridLayer builds rows×cols unit squares keyed "r{row}c{col}" in row-major order.
func gridLayer(t *testing.T, rows, cols int) *geo.Layer {
	t.Helper()
	var units []geo.Unit
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			units = append(units, geo.Unit{
				Key:   fmt.Sprintf("r%dc%d", r, c),
				Shape: square(float64(c)*0.1, float64(r)*0.1, 0.1),
			})
		}
	}
	layer, err := geo.NewLayer("grid", units)
	require.NoError(t, err)
	return layer
}

func TestBuild_QueenCollinear(t *testing.T) {
	layer, err := geo.NewLayer("abc", []geo.Unit{
		{Key: "A", Shape: square(0, 0, 1)},
		{Key: "B", Shape: square(1, 0, 1)},
		{Key: "C", Shape: square(2, 0, 1)},
	})
	require.NoError(t, err)

	m, err := Build(layer, Params{Mode: Queen, RowStandardize: true})
	require.NoError(t, err)

	assert.Equal(t, []int{1}, m.Neighbors(0))
	assert.Equal(t, []float64{1.0}, m.Weights(0))
	assert.Equal(t, []int{0, 2}, m.Neighbors(1))
	assert.Equal(t, []float64{0.5, 0.5}, m.Weights(1))
	assert.Equal(t, []int{1}, m.Neighbors(2))
	assert.Equal(t, []float64{1.0}, m.Weights(2))
	assert.Nil(t, m.Warning())
	assert.Equal(t, Row, m.Transform())
}

func TestBuild_QueenVersusRook(t *testing.T) {
	layer := gridLayer(t, 3, 3)

	queen, err := Build(layer, Params{Mode: Queen})
	require.NoError(t, err)
	rook, err := Build(layer, Params{Mode: Rook})
	require.NoError(t, err)

	center, _ := layer.Lookup("r1c1")
	corner, _ := layer.Lookup("r0c0")

	assert.Len(t, queen.Neighbors(center), 8)
	assert.Len(t, rook.Neighbors(center), 4)
	assert.Len(t, queen.Neighbors(corner), 3)
	assert.Len(t, rook.Neighbors(corner), 2)
	assert.True(t, queen.IsSymmetric())
	assert.True(t, rook.IsSymmetric())
	assert.Equal(t, Binary, queen.Transform())
}

func TestBuild_RowSumsEqualOne(t *testing.T) {
	layer := gridLayer(t, 4, 5)
	for _, mode := range []Mode{Queen, Rook} {
		m, err := Build(layer, Params{Mode: mode, RowStandardize: true})
		require.NoError(t, err)
		for i := 0; i < m.N(); i++ {
			if m.IsIsland(i) {
				continue
			}
			assert.InDelta(t, 1.0, m.RowSum(i), 1e-12, "mode %s row %d", mode, i)
		}
	}
}

func TestBuild_KNN(t *testing.T) {
	layer := gridLayer(t, 3, 3)

	m, err := Build(layer, Params{Mode: KNN, K: 2})
	require.NoError(t, err)
	for i := 0; i < m.N(); i++ {
		assert.Len(t, m.Neighbors(i), 2)
		assert.NotContains(t, m.Neighbors(i), i)
	}

	_, err = Build(layer, Params{Mode: KNN, K: 9})
	require.Error(t, err)
	_, err = Build(layer, Params{Mode: KNN, K: 0})
	require.Error(t, err)
}

func TestBuild_DistanceIslands(t *testing.T) {
	layer, err := geo.NewLayer("spread", []geo.Unit{
		{Key: "A", Shape: square(0, 0, 0.1)},
		{Key: "B", Shape: square(0.1, 0, 0.1)},
		{Key: "far", Shape: square(10, 10, 0.1)},
	})
	require.NoError(t, err)

	m, err := Build(layer, Params{Mode: Distance, ThresholdKM: 20, RowStandardize: true})
	require.NoError(t, err)

	assert.Equal(t, []int{2}, m.Islands())
	warn := m.Warning()
	require.NotNil(t, warn)
	assert.Equal(t, 1, warn.Count)
	assert.Equal(t, []string{"far"}, warn.Keys)
	assert.Empty(t, m.Neighbors(2))
	assert.InDelta(t, 1.0, m.RowSum(0), 1e-12)

	_, err = Build(layer, Params{Mode: Distance})
	require.Error(t, err)
}

func TestBuild_Reproducible(t *testing.T) {
	layer := gridLayer(t, 5, 5)
	a, err := Build(layer, DefaultParams())
	require.NoError(t, err)
	b, err := Build(layer, DefaultParams())
	require.NoError(t, err)

	for i := 0; i < a.N(); i++ {
		assert.Equal(t, a.Neighbors(i), b.Neighbors(i))
		assert.Equal(t, a.Weights(i), b.Weights(i))
	}
}

func TestBuild_Errors(t *testing.T) {
	_, err := Build(nil, DefaultParams())
	require.Error(t, err)

	layer := gridLayer(t, 2, 2)
	_, err = Build(layer, Params{Mode: "hexagon"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported mode")
}
