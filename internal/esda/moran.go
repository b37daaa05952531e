package esda

import (
	"encoding/json"
	"math"
	"math/rand/v2"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/sells-group/county-esda/internal/table"
	"github.com/sells-group/county-esda/internal/weights"
)

// AutocorrelationResult is a global Moran's I with its inference.
type AutocorrelationResult struct {
	Variable     string  `json:"variable" yaml:"variable"`
	Variable2    string  `json:"variable2,omitempty" yaml:"variable2,omitempty"`
	I            float64 `json:"i" yaml:"i"`
	EI           float64 `json:"expected_i" yaml:"expected_i"`
	VarI         float64 `json:"variance" yaml:"variance"`
	Z            float64 `json:"z" yaml:"z"`
	PNorm        float64 `json:"p_norm" yaml:"p_norm"`
	PSim         float64 `json:"p_sim" yaml:"p_sim"`
	N            int     `json:"n" yaml:"n"`
	Excluded     int     `json:"excluded" yaml:"excluded"`
	Seed         int64   `json:"seed" yaml:"seed"`
	Permutations int     `json:"permutations" yaml:"permutations"`
}

// MarshalJSON writes undefined statistics as null.
func (r AutocorrelationResult) MarshalJSON() ([]byte, error) {
	type alias AutocorrelationResult
	return json.Marshal(struct {
		alias
		I     *float64 `json:"i"`
		EI    *float64 `json:"expected_i"`
		VarI  *float64 `json:"variance"`
		Z     *float64 `json:"z"`
		PNorm *float64 `json:"p_norm"`
		PSim  *float64 `json:"p_sim"`
	}{
		alias: alias(r),
		I:     finite(r.I),
		EI:    finite(r.EI),
		VarI:  finite(r.VarI),
		Z:     finite(r.Z),
		PNorm: finite(r.PNorm),
		PSim:  finite(r.PSim),
	})
}

func finite(f float64) *float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// Global computes Moran's I for variable x, or bivariate Moran's I between
// x and y when y is non-empty. Units null in either variable are excluded
// listwise and w is re-standardized over the survivors.
func Global(t *table.Table, w *weights.Matrix, x, y string, opts Options) (*AutocorrelationResult, error) {
	columns := []string{x}
	if y != "" {
		columns = append(columns, y)
	}
	s, err := prepare(t, w, opts, columns...)
	if err != nil {
		return nil, err
	}

	var res AutocorrelationResult
	if y == "" {
		res = Moran(s.w, s.cols[0], opts)
	} else {
		res = MoranBV(s.w, s.cols[0], s.cols[1], opts)
	}
	res.Variable = x
	res.Variable2 = y
	res.Excluded = t.Len() - len(s.rows)
	return &res, nil
}

// Moran computes univariate Moran's I with the randomization variance and,
// when opts.Permutations > 0, a permutation pseudo p-value. A constant x
// or a matrix with no links yields NaN for every statistic.
func Moran(w *weights.Matrix, x []float64, opts Options) AutocorrelationResult {
	n := len(x)
	res := AutocorrelationResult{
		N:            n,
		EI:           -1 / float64(n-1),
		Seed:         opts.Seed,
		Permutations: opts.Permutations,
		PSim:         math.NaN(),
	}
	s0 := w.S0()
	if n < 2 || s0 == 0 || constant(x) {
		res.I, res.VarI, res.Z, res.PNorm = math.NaN(), math.NaN(), math.NaN(), math.NaN()
		return res
	}

	z, _ := center(x)
	var den float64
	for _, v := range z {
		den += v * v
	}
	res.I = moranI(w, z, z, s0, den)

	if n > 3 {
		res.VarI = randomizationVariance(w, z, s0) - res.EI*res.EI
		res.Z = (res.I - res.EI) / math.Sqrt(res.VarI)
		res.PNorm = twoTailed(res.Z)
	} else {
		res.VarI, res.Z, res.PNorm = math.NaN(), math.NaN(), math.NaN()
	}

	if opts.Permutations > 0 {
		rng := rand.New(rand.NewPCG(uint64(opts.Seed), 0))
		perm := append([]float64(nil), z...)
		sims := make([]float64, opts.Permutations)
		for p := range sims {
			rng.Shuffle(len(perm), func(a, b int) { perm[a], perm[b] = perm[b], perm[a] })
			sims[p] = moranI(w, perm, perm, s0, den)
		}
		res.PSim = pseudoP(sims, res.I)
	}
	return res
}

// MoranBV computes bivariate Moran's I between x and the spatial lag of y,
// (n/S0)·Σᵢⱼ wᵢⱼ zxᵢ zyⱼ / n with z standardized by the population standard
// deviation. Its null distribution comes from permuting y: Z and VarI are
// the permutation z-score and variance, and are NaN when permutations are
// disabled.
func MoranBV(w *weights.Matrix, x, y []float64, opts Options) AutocorrelationResult {
	n := len(x)
	res := AutocorrelationResult{
		N:            n,
		EI:           -1 / float64(n-1),
		Seed:         opts.Seed,
		Permutations: opts.Permutations,
		I:            math.NaN(),
		VarI:         math.NaN(),
		Z:            math.NaN(),
		PNorm:        math.NaN(),
		PSim:         math.NaN(),
	}
	zx, okx := standardize(x)
	zy, oky := standardize(y)
	s0 := w.S0()
	if n < 2 || s0 == 0 || !okx || !oky {
		return res
	}

	den := float64(n)
	res.I = moranI(w, zx, zy, s0, den)

	if opts.Permutations > 0 {
		rng := rand.New(rand.NewPCG(uint64(opts.Seed), 0))
		perm := append([]float64(nil), zy...)
		sims := make([]float64, opts.Permutations)
		for p := range sims {
			rng.Shuffle(len(perm), func(a, b int) { perm[a], perm[b] = perm[b], perm[a] })
			sims[p] = moranI(w, zx, perm, s0, den)
		}
		res.PSim = pseudoP(sims, res.I)

		mean, variance := meanVar(sims)
		res.VarI = variance
		if variance > 0 {
			res.Z = (res.I - mean) / math.Sqrt(variance)
			res.PNorm = twoTailed(res.Z)
		}
	}
	return res
}

// moranI returns (n/S0)·Σᵢ zxᵢ·(W zy)ᵢ / den.
func moranI(w *weights.Matrix, zx, zy []float64, s0, den float64) float64 {
	lag := w.Lag(zy)
	var num float64
	for i, v := range zx {
		num += v * lag[i]
	}
	return float64(len(zx)) / s0 * num / den
}

// randomizationVariance returns E[I²] under the randomization assumption
// (Cliff and Ord).
func randomizationVariance(w *weights.Matrix, z []float64, s0 float64) float64 {
	n := float64(len(z))
	s1, s2 := w.S1(), w.S2()
	s02 := s0 * s0

	var m2, m4 float64
	for _, v := range z {
		v2 := v * v
		m2 += v2
		m4 += v2 * v2
	}
	m2 /= n
	m4 /= n
	k := m4 / (m2 * m2)

	a := n * ((n*n-3*n+3)*s1 - n*s2 + 3*s02)
	b := k * ((n*n-n)*s1 - 2*n*s2 + 6*s02)
	return (a - b) / ((n - 1) * (n - 2) * (n - 3) * s02)
}

// pseudoP returns the folded permutation p-value (larger+1)/(perms+1),
// where larger counts simulated values at least as extreme as observed on
// the observed side of the reference distribution.
func pseudoP(sims []float64, observed float64) float64 {
	perms := len(sims)
	larger := 0
	for _, s := range sims {
		if s >= observed {
			larger++
		}
	}
	if perms-larger < larger {
		larger = perms - larger
	}
	return float64(larger+1) / float64(perms+1)
}

func meanVar(x []float64) (float64, float64) {
	data := stats.Float64Data(x)
	mean, _ := data.Mean()
	variance, _ := data.PopulationVariance()
	return mean, variance
}

// twoTailed returns the two-sided standard normal p-value of z.
func twoTailed(z float64) float64 {
	if math.IsNaN(z) {
		return math.NaN()
	}
	return 2 * distuv.UnitNormal.Survival(math.Abs(z))
}
