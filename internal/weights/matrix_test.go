package weights

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chain returns the binary path graph a–b–c–d.
func chain(t *testing.T) *Matrix {
	t.Helper()
	m, err := FromAdjacency([]string{"a", "b", "c", "d"}, [][]int{{1}, {0, 2}, {1, 3}, {2}})
	require.NoError(t, err)
	return m
}

func TestNew_Validation(t *testing.T) {
	_, err := New([]string{"a"}, [][]int{{0, 0}}, [][]float64{{1, 1}}, Binary)
	require.Error(t, err)

	_, err = New([]string{"a", "b"}, [][]int{{5}, {}}, [][]float64{{1}, {}}, Binary)
	require.Error(t, err)

	_, err = New([]string{"a", "b"}, [][]int{{1}, {0}}, [][]float64{{-1}, {1}}, Binary)
	require.Error(t, err)

	_, err = New([]string{"a", "b"}, [][]int{{1}}, [][]float64{{1}}, Binary)
	require.Error(t, err)
}

func TestNew_SortsNeighbors(t *testing.T) {
	m, err := New([]string{"a", "b", "c"}, [][]int{{2, 1}, {0}, {0}}, [][]float64{{3, 2}, {1}, {1}}, Binary)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, m.Neighbors(0))
	assert.Equal(t, []float64{2, 3}, m.Weights(0))
	assert.Equal(t, 3.0, m.Weight(0, 2))
	assert.Equal(t, 0.0, m.Weight(1, 2))
}

func TestMatrix_Lag(t *testing.T) {
	m := chain(t).RowStandardize()
	lag := m.Lag([]float64{1, 2, 3, 4})
	assert.Equal(t, []float64{2, 2, 3, 3}, lag)
}

func TestMatrix_LagIslandIsZero(t *testing.T) {
	m, err := FromAdjacency([]string{"a", "b", "c"}, [][]int{{1}, {0}, {}})
	require.NoError(t, err)
	lag := m.RowStandardize().Lag([]float64{5, 7, 100})
	assert.Equal(t, 0.0, lag[2])
	assert.Equal(t, []int{2}, m.Islands())
}

func TestMatrix_SumsOfWeights(t *testing.T) {
	m := chain(t)
	assert.Equal(t, 6.0, m.S0())
	// S1 = ½ Σ (w_ij + w_ji)² = ½ · 6 · 4
	assert.Equal(t, 12.0, m.S1())
	// degrees 1,2,2,1 → (2d)² = 4+16+16+4
	assert.Equal(t, 40.0, m.S2())
}

func TestMatrix_S1Asymmetric(t *testing.T) {
	m, err := FromAdjacency([]string{"a", "b"}, [][]int{{1}, {}})
	require.NoError(t, err)
	// (w_ab + w_ba)² counted for (a,b) and (b,a): ½·(1+1) = 1
	assert.Equal(t, 1.0, m.S1())
}

func TestMatrix_SubsetRenormalizes(t *testing.T) {
	m := chain(t).RowStandardize()

	sub, err := m.Subset([]bool{true, true, false, true})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "d"}, sub.Keys())
	assert.Equal(t, []int{1}, sub.Neighbors(0))
	assert.Equal(t, []int{0}, sub.Neighbors(1))
	assert.InDelta(t, 1.0, sub.RowSum(1), 1e-12)
	assert.True(t, sub.IsIsland(2))
	assert.Equal(t, Row, sub.Transform())

	_, err = m.Subset([]bool{true})
	require.Error(t, err)
}

func TestMatrix_WithSelf(t *testing.T) {
	m := chain(t).RowStandardize().WithSelf()
	assert.Equal(t, []int{0, 1}, m.Neighbors(0))
	assert.Equal(t, []float64{1, 1}, m.Weights(0))
	assert.Equal(t, []int{1, 2, 3}, m.Neighbors(2))
	assert.Equal(t, Binary, m.Transform())
}

func TestMatrix_Summary(t *testing.T) {
	s := chain(t).Summary()
	assert.Equal(t, 4, s.N)
	assert.Equal(t, 6, s.Links)
	assert.Equal(t, 1, s.MinNeighbors)
	assert.Equal(t, 2, s.MaxNeighbors)
	assert.InDelta(t, 1.5, s.MeanNeighbors, 1e-12)
	assert.True(t, s.Symmetric)
	assert.Equal(t, 0, s.Islands)
}

func TestMatrix_BinarizeRoundTrip(t *testing.T) {
	m := chain(t).RowStandardize().Binarize()
	assert.Equal(t, []float64{1, 1}, m.Weights(1))
	assert.Equal(t, Binary, m.Transform())
}

func TestMatrix_Dense(t *testing.T) {
	d := chain(t).RowStandardize().Dense()
	r, c := d.Dims()
	assert.Equal(t, 4, r)
	assert.Equal(t, 4, c)
	assert.Equal(t, 0.5, d.At(1, 0))
	assert.Equal(t, 0.5, d.At(1, 2))
	assert.Equal(t, 0.0, d.At(1, 3))
	assert.Equal(t, 1.0, d.At(0, 1))
}

func TestMatrix_RowUniform(t *testing.T) {
	assert.True(t, chain(t).RowUniform())
	assert.True(t, chain(t).RowStandardize().RowUniform())

	m, err := New([]string{"a", "b", "c"}, [][]int{{1, 2}, {0}, {0}}, [][]float64{{1, 2}, {1}, {1}}, Binary)
	require.NoError(t, err)
	assert.False(t, m.RowUniform())
}
