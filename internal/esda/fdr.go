package esda

import (
	"math"
	"sort"
)

// BenjaminiHochberg returns step-up adjusted p-values controlling the false
// discovery rate. NaN entries are left as NaN and do not count toward the
// number of tests.
func BenjaminiHochberg(p []float64) []float64 {
	out := make([]float64, len(p))
	idx := make([]int, 0, len(p))
	for i, v := range p {
		out[i] = math.NaN()
		if !math.IsNaN(v) {
			idx = append(idx, i)
		}
	}
	m := len(idx)
	if m == 0 {
		return out
	}
	sort.SliceStable(idx, func(a, b int) bool { return p[idx[a]] < p[idx[b]] })

	running := 1.0
	for r := m - 1; r >= 0; r-- {
		i := idx[r]
		adj := p[i] * float64(m) / float64(r+1)
		if adj < running {
			running = adj
		}
		out[i] = running
	}
	return out
}
