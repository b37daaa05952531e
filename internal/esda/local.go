package esda

import (
	"context"
	"math"
	"math/rand/v2"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/county-esda/internal/table"
	"github.com/sells-group/county-esda/internal/weights"
)

// Cluster is a LISA classification.
type Cluster string

// The five cluster labels.
const (
	HH             Cluster = "HH"
	HL             Cluster = "HL"
	LH             Cluster = "LH"
	LL             Cluster = "LL"
	NotSignificant Cluster = "NotSignificant"
)

// Clusters lists every cluster label.
var Clusters = []Cluster{HH, HL, LH, LL, NotSignificant}

// LocalRecord is the local Moran statistic of one unit.
type LocalRecord struct {
	Key      string  `json:"key" yaml:"key"`
	I        float64 `json:"i" yaml:"i"`
	Lag      float64 `json:"lag" yaml:"lag"`
	Quadrant Cluster `json:"quadrant" yaml:"quadrant"`
	P        float64 `json:"p" yaml:"p"`
	Label    Cluster `json:"label" yaml:"label"`

	// Excluded marks units dropped listwise for a null input. Their
	// statistics are NaN and their label is NotSignificant.
	Excluded bool `json:"excluded,omitempty" yaml:"excluded,omitempty"`
	Island   bool `json:"island,omitempty" yaml:"island,omitempty"`
}

// Local computes local Moran's I for every row of t. With y empty the
// statistic is univariate on x; otherwise it is bivariate, pairing x at the
// unit with the spatial lag of y. The result has one record per table row,
// in table order.
func Local(ctx context.Context, t *table.Table, w *weights.Matrix, x, y string, opts Options) ([]LocalRecord, error) {
	if opts.Permutations < 1 {
		return nil, eris.New("esda: local statistics need at least one permutation")
	}
	columns := []string{x}
	if y != "" {
		columns = append(columns, y)
	}
	s, err := prepare(t, w, opts, columns...)
	if err != nil {
		return nil, err
	}

	var recs []LocalRecord
	if y == "" {
		recs, err = LocalMoran(ctx, s.w, s.cols[0], opts)
	} else {
		recs, err = LocalMoranBV(ctx, s.w, s.cols[0], s.cols[1], opts)
	}
	if err != nil {
		return nil, err
	}

	out := make([]LocalRecord, t.Len())
	for i := range out {
		out[i] = LocalRecord{
			Key:      t.Key(i),
			I:        math.NaN(),
			Lag:      math.NaN(),
			Quadrant: NotSignificant,
			P:        math.NaN(),
			Label:    NotSignificant,
			Excluded: true,
		}
	}
	for k, row := range s.rows {
		out[row] = recs[k]
	}
	return out, nil
}

// LocalMoran computes Iᵢ = zᵢ·Σⱼ wᵢⱼ zⱼ on the standardized x with
// conditional-permutation pseudo p-values. Keys come from w.
func LocalMoran(ctx context.Context, w *weights.Matrix, x []float64, opts Options) ([]LocalRecord, error) {
	z, ok := standardize(x)
	if !ok {
		return flat(w), nil
	}
	return localStat(ctx, w, z, z, opts)
}

// LocalMoranBV computes Iᵢ = zxᵢ·Σⱼ wᵢⱼ zyⱼ with both variables
// standardized. Permutations relabel y around each unit.
func LocalMoranBV(ctx context.Context, w *weights.Matrix, x, y []float64, opts Options) ([]LocalRecord, error) {
	zx, okx := standardize(x)
	zy, oky := standardize(y)
	if !okx || !oky {
		return flat(w), nil
	}
	return localStat(ctx, w, zx, zy, opts)
}

// flat is the outcome for a constant input: no unit is significant.
func flat(w *weights.Matrix) []LocalRecord {
	out := make([]LocalRecord, w.N())
	for i := range out {
		out[i] = LocalRecord{
			Key:      w.Key(i),
			I:        math.NaN(),
			Lag:      math.NaN(),
			Quadrant: NotSignificant,
			P:        math.NaN(),
			Label:    NotSignificant,
			Island:   w.IsIsland(i),
		}
	}
	return out
}

func localStat(ctx context.Context, w *weights.Matrix, zx, zy []float64, opts Options) ([]LocalRecord, error) {
	n := w.N()
	lag := w.Lag(zy)
	out := make([]LocalRecord, n)
	for i := range out {
		out[i] = LocalRecord{
			Key:      w.Key(i),
			I:        zx[i] * lag[i],
			Lag:      lag[i],
			Quadrant: quadrant(zx[i], lag[i]),
			P:        1,
			Island:   w.IsIsland(i),
		}
	}

	err := parallelUnits(ctx, n, opts.workers(), func(i int) {
		if out[i].Island {
			return
		}
		out[i].P = conditionalP(w, zx, zy, i, out[i].I, opts)
	})
	if err != nil {
		return nil, err
	}

	p := make([]float64, n)
	for i := range out {
		p[i] = out[i].P
	}
	if opts.FDR {
		p = BenjaminiHochberg(p)
	}
	for i := range out {
		out[i].P = p[i]
		out[i].Label = NotSignificant
		if !out[i].Island && p[i] <= opts.Significance {
			out[i].Label = out[i].Quadrant
		}
	}
	return out, nil
}

// quadrant classifies by the sign of the value and of its lag. Zero counts
// as low.
func quadrant(z, lag float64) Cluster {
	switch {
	case z > 0 && lag > 0:
		return HH
	case z > 0:
		return HL
	case lag > 0:
		return LH
	default:
		return LL
	}
}

// conditionalP holds unit i fixed and draws its neighbors' y values from
// the other n−1 units without replacement. The stream for unit i is seeded
// by (Seed, i), so results do not depend on scheduling.
func conditionalP(w *weights.Matrix, zx, zy []float64, i int, observed float64, opts Options) float64 {
	n := w.N()
	wts := w.Weights(i)
	k := len(wts)
	if k > n-1 {
		k = n - 1
	}

	pool := make([]int, 0, n-1)
	for j := 0; j < n; j++ {
		if j != i {
			pool = append(pool, j)
		}
	}
	rng := rand.New(rand.NewPCG(uint64(opts.Seed), uint64(i)))

	sims := make([]float64, opts.Permutations)
	for p := range sims {
		var lag float64
		for c := 0; c < k; c++ {
			r := c + rng.IntN(len(pool)-c)
			pool[c], pool[r] = pool[r], pool[c]
			lag += wts[c] * zy[pool[c]]
		}
		sims[p] = zx[i] * lag
	}
	return pseudoP(sims, observed)
}

// parallelUnits runs fn for every unit index on a bounded worker pool.
func parallelUnits(ctx context.Context, n, workers int, fn func(i int)) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	chunk := (n + workers - 1) / workers
	if chunk < 1 {
		chunk = 1
	}
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				fn(i)
			}
			return nil
		})
	}
	return eris.Wrap(g.Wait(), "esda: local permutations")
}
