// Package weights builds and manipulates sparse spatial weight matrices.
//
// A Matrix is an arena of integer-indexed adjacency lists. String keys are
// mapped to indices once, when the matrix is built, and every downstream
// computation works on indices. Matrices are immutable: transforms return a
// new Matrix and the accessors hand out read-only views.
package weights

import (
	"fmt"
	"sort"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/mat"
)

// Transform describes how weights in a matrix are scaled.
type Transform string

// Supported transforms.
const (
	Binary Transform = "B"
	Row    Transform = "R"
)

// IslandWarning is the non-fatal report attached to a matrix that has units
// with no neighbors.
type IslandWarning struct {
	Count int
	Keys  []string
}

func (w *IslandWarning) Error() string {
	return fmt.Sprintf("weights: %d island(s) with no neighbors", w.Count)
}

// Matrix is a sparse, non-negative spatial weight matrix with no self-links
// unless built with WithSelf.
type Matrix struct {
	keys      []string
	neighbors [][]int
	weights   [][]float64
	islands   []int
	transform Transform
}

// New builds a matrix from explicit adjacency lists and weights. Neighbor
// lists are sorted by index; duplicate links are rejected.
func New(keys []string, neighbors [][]int, w [][]float64, transform Transform) (*Matrix, error) {
	n := len(keys)
	if len(neighbors) != n || len(w) != n {
		return nil, eris.Errorf("weights: %d keys, %d neighbor rows, %d weight rows", n, len(neighbors), len(w))
	}
	m := &Matrix{
		keys:      append([]string(nil), keys...),
		neighbors: make([][]int, n),
		weights:   make([][]float64, n),
		transform: transform,
	}
	for i := range neighbors {
		if len(neighbors[i]) != len(w[i]) {
			return nil, eris.Errorf("weights: row %d has %d neighbors and %d weights", i, len(neighbors[i]), len(w[i]))
		}
		row := make([]link, len(neighbors[i]))
		for k, j := range neighbors[i] {
			if j < 0 || j >= n {
				return nil, eris.Errorf("weights: row %d neighbor %d out of range", i, j)
			}
			if w[i][k] < 0 {
				return nil, eris.Errorf("weights: row %d has negative weight", i)
			}
			row[k] = link{j: j, w: w[i][k]}
		}
		sort.Slice(row, func(a, b int) bool { return row[a].j < row[b].j })
		for k := 1; k < len(row); k++ {
			if row[k].j == row[k-1].j {
				return nil, eris.Errorf("weights: row %d lists neighbor %d twice", i, row[k].j)
			}
		}
		m.neighbors[i] = make([]int, len(row))
		m.weights[i] = make([]float64, len(row))
		for k, l := range row {
			m.neighbors[i][k] = l.j
			m.weights[i][k] = l.w
		}
	}
	m.islands = findIslands(m.neighbors)
	return m, nil
}

type link struct {
	j int
	w float64
}

// FromAdjacency builds a binary matrix from neighbor lists.
func FromAdjacency(keys []string, neighbors [][]int) (*Matrix, error) {
	w := make([][]float64, len(neighbors))
	for i, row := range neighbors {
		w[i] = make([]float64, len(row))
		for k := range row {
			w[i][k] = 1
		}
	}
	return New(keys, neighbors, w, Binary)
}

func findIslands(neighbors [][]int) []int {
	var islands []int
	for i, row := range neighbors {
		if len(row) == 0 {
			islands = append(islands, i)
		}
	}
	return islands
}

// N returns the number of units.
func (m *Matrix) N() int { return len(m.keys) }

// Key returns the key of unit i.
func (m *Matrix) Key(i int) string { return m.keys[i] }

// Keys returns a copy of the unit keys.
func (m *Matrix) Keys() []string { return append([]string(nil), m.keys...) }

// Neighbors returns the sorted neighbor indexes of unit i. The slice is
// shared; callers must not modify it.
func (m *Matrix) Neighbors(i int) []int { return m.neighbors[i] }

// Weights returns the weights aligned with Neighbors(i). The slice is
// shared; callers must not modify it.
func (m *Matrix) Weights(i int) []float64 { return m.weights[i] }

// Transform returns the weight scaling of the matrix.
func (m *Matrix) Transform() Transform { return m.transform }

// Islands returns the indexes of units with no neighbors.
func (m *Matrix) Islands() []int { return append([]int(nil), m.islands...) }

// IsIsland reports whether unit i has no neighbors.
func (m *Matrix) IsIsland(i int) bool { return len(m.neighbors[i]) == 0 }

// Warning returns the island warning, or nil when every unit has a neighbor.
func (m *Matrix) Warning() *IslandWarning {
	if len(m.islands) == 0 {
		return nil
	}
	keys := make([]string, len(m.islands))
	for k, i := range m.islands {
		keys[k] = m.keys[i]
	}
	return &IslandWarning{Count: len(m.islands), Keys: keys}
}

// RowSum returns the sum of weights in row i.
func (m *Matrix) RowSum(i int) float64 {
	var s float64
	for _, w := range m.weights[i] {
		s += w
	}
	return s
}

// Weight returns w_ij, or 0 when j is not a neighbor of i.
func (m *Matrix) Weight(i, j int) float64 {
	row := m.neighbors[i]
	k := sort.SearchInts(row, j)
	if k < len(row) && row[k] == j {
		return m.weights[i][k]
	}
	return 0
}

// RowStandardize returns a copy whose non-island rows sum to 1. Island rows
// stay empty.
func (m *Matrix) RowStandardize() *Matrix {
	out := m.clone()
	for i := range out.weights {
		s := m.RowSum(i)
		if s == 0 {
			continue
		}
		for k := range out.weights[i] {
			out.weights[i][k] = m.weights[i][k] / s
		}
	}
	out.transform = Row
	return out
}

// Binarize returns a copy with every link weighted 1.
func (m *Matrix) Binarize() *Matrix {
	out := m.clone()
	for i := range out.weights {
		for k := range out.weights[i] {
			out.weights[i][k] = 1
		}
	}
	out.transform = Binary
	return out
}

func (m *Matrix) clone() *Matrix {
	out := &Matrix{
		keys:      m.keys,
		neighbors: m.neighbors,
		weights:   make([][]float64, len(m.weights)),
		islands:   m.islands,
		transform: m.transform,
	}
	for i, row := range m.weights {
		out.weights[i] = append([]float64(nil), row...)
	}
	return out
}

// Lag returns the spatial lag Σ_j w_ij x_j for every unit. Island lags are 0.
func (m *Matrix) Lag(x []float64) []float64 {
	out := make([]float64, len(m.keys))
	for i, row := range m.neighbors {
		var s float64
		for k, j := range row {
			s += m.weights[i][k] * x[j]
		}
		out[i] = s
	}
	return out
}

// S0 returns the sum of all weights.
func (m *Matrix) S0() float64 {
	var s float64
	for i := range m.weights {
		s += m.RowSum(i)
	}
	return s
}

// S1 returns ½ Σ_ij (w_ij + w_ji)².
func (m *Matrix) S1() float64 {
	var s float64
	for i, row := range m.neighbors {
		for k, j := range row {
			back := m.Weight(j, i)
			v := m.weights[i][k] + back
			s += v * v
			// The (j,i) term is never visited when the link is one-way.
			if back == 0 {
				s += v * v
			}
		}
	}
	return s / 2
}

// S2 returns Σ_i (Σ_j w_ij + Σ_j w_ji)².
func (m *Matrix) S2() float64 {
	out := make([]float64, len(m.keys))
	for i, row := range m.neighbors {
		for k, j := range row {
			out[i] += m.weights[i][k]
			out[j] += m.weights[i][k]
		}
	}
	var s float64
	for _, v := range out {
		s += v * v
	}
	return s
}

// Subset returns the matrix restricted to units with keep[i] set. Links to
// dropped units are removed; a row-standardized matrix is re-standardized
// over the surviving neighbors so every non-island row still sums to 1.
func (m *Matrix) Subset(keep []bool) (*Matrix, error) {
	if len(keep) != len(m.keys) {
		return nil, eris.Errorf("weights: subset mask has %d entries, want %d", len(keep), len(m.keys))
	}
	remap := make([]int, len(m.keys))
	var keys []string
	for i, k := range keep {
		remap[i] = -1
		if k {
			remap[i] = len(keys)
			keys = append(keys, m.keys[i])
		}
	}
	neighbors := make([][]int, 0, len(keys))
	w := make([][]float64, 0, len(keys))
	for i := range m.keys {
		if !keep[i] {
			continue
		}
		var row []int
		var rw []float64
		for k, j := range m.neighbors[i] {
			if remap[j] < 0 {
				continue
			}
			row = append(row, remap[j])
			rw = append(rw, m.weights[i][k])
		}
		neighbors = append(neighbors, row)
		w = append(w, rw)
	}
	out, err := New(keys, neighbors, w, m.transform)
	if err != nil {
		return nil, err
	}
	if m.transform == Row {
		return out.RowStandardize(), nil
	}
	return out, nil
}

// WithSelf returns a binary copy in which every unit is also its own
// neighbor, as used by the Getis-Ord Gi* statistic.
func (m *Matrix) WithSelf() *Matrix {
	neighbors := make([][]int, len(m.keys))
	w := make([][]float64, len(m.keys))
	for i, row := range m.neighbors {
		neighbors[i] = append([]int(nil), row...)
		if m.Weight(i, i) == 0 {
			neighbors[i] = append(neighbors[i], i)
		}
		w[i] = make([]float64, len(neighbors[i]))
		for k := range w[i] {
			w[i][k] = 1
		}
	}
	out, err := New(m.keys, neighbors, w, Binary)
	if err != nil {
		// Rows come from a validated matrix plus at most one self-link each.
		panic(err)
	}
	return out
}

// Dense returns the matrix as an n×n dense matrix.
func (m *Matrix) Dense() *mat.Dense {
	n := len(m.keys)
	d := mat.NewDense(n, n, nil)
	for i, row := range m.neighbors {
		for k, j := range row {
			d.Set(i, j, m.weights[i][k])
		}
	}
	return d
}

// IsSymmetric reports whether j ∈ N(i) ⇔ i ∈ N(j) for every pair.
func (m *Matrix) IsSymmetric() bool {
	for i, row := range m.neighbors {
		for _, j := range row {
			other := m.neighbors[j]
			k := sort.SearchInts(other, i)
			if k >= len(other) || other[k] != i {
				return false
			}
		}
	}
	return true
}

// RowUniform reports whether every row's weights are equal, as they are for
// any binary matrix and its row-standardized form.
func (m *Matrix) RowUniform() bool {
	for _, row := range m.weights {
		for k := 1; k < len(row); k++ {
			if row[k] != row[0] {
				return false
			}
		}
	}
	return true
}

// Summary describes the connectivity of a matrix.
type Summary struct {
	N             int       `json:"n" yaml:"n"`
	Transform     Transform `json:"transform" yaml:"transform"`
	Links         int       `json:"links" yaml:"links"`
	Islands       int       `json:"islands" yaml:"islands"`
	MinNeighbors  int       `json:"min_neighbors" yaml:"min_neighbors"`
	MaxNeighbors  int       `json:"max_neighbors" yaml:"max_neighbors"`
	MeanNeighbors float64   `json:"mean_neighbors" yaml:"mean_neighbors"`
	PctNonzero    float64   `json:"pct_nonzero" yaml:"pct_nonzero"`
	Symmetric     bool      `json:"symmetric" yaml:"symmetric"`
}

// Summary computes connectivity statistics.
func (m *Matrix) Summary() Summary {
	s := Summary{N: len(m.keys), Transform: m.transform, Islands: len(m.islands), Symmetric: m.IsSymmetric()}
	if s.N == 0 {
		return s
	}
	s.MinNeighbors = len(m.neighbors[0])
	for _, row := range m.neighbors {
		c := len(row)
		s.Links += c
		if c < s.MinNeighbors {
			s.MinNeighbors = c
		}
		if c > s.MaxNeighbors {
			s.MaxNeighbors = c
		}
	}
	s.MeanNeighbors = float64(s.Links) / float64(s.N)
	s.PctNonzero = 100 * float64(s.Links) / float64(s.N*s.N)
	return s
}
