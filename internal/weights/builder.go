package weights

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/county-esda/internal/geo"
)

// Mode selects the neighbor definition.
type Mode string

// Neighbor definitions.
const (
	Queen    Mode = "queen"    // share at least one boundary vertex
	Rook     Mode = "rook"     // share at least one boundary edge
	KNN      Mode = "knn"      // k nearest centroids
	Distance Mode = "distance" // centroids within a distance band
)

// DefaultPrecision is the coordinate snapping grid (degrees) used to decide
// whether two boundary vertices coincide.
const DefaultPrecision = 1e-7

// Params configures Build.
type Params struct {
	Mode           Mode
	K              int     // neighbors for KNN
	ThresholdKM    float64 // band for Distance
	RowStandardize bool
	Precision      float64 // vertex snapping grid; 0 means DefaultPrecision
}

// DefaultParams returns row-standardized queen contiguity.
func DefaultParams() Params {
	return Params{Mode: Queen, K: 8, RowStandardize: true, Precision: DefaultPrecision}
}

// Build derives a weight matrix from a layer. The result depends only on the
// layer's unit order, geometries and params.
func Build(layer *geo.Layer, p Params) (*Matrix, error) {
	if layer == nil || layer.Len() == 0 {
		return nil, eris.New("weights: empty layer")
	}
	if p.Precision <= 0 {
		p.Precision = DefaultPrecision
	}

	var (
		neighbors [][]int
		w         [][]float64
		err       error
	)
	switch p.Mode {
	case Queen, "":
		neighbors, err = contiguity(layer, p.Precision, false)
	case Rook:
		neighbors, err = contiguity(layer, p.Precision, true)
	case KNN:
		neighbors, w, err = knn(layer, p.K)
	case Distance:
		neighbors, w, err = band(layer, p.ThresholdKM)
	default:
		return nil, eris.Errorf("weights: unsupported mode %q", p.Mode)
	}
	if err != nil {
		return nil, err
	}

	var m *Matrix
	if w == nil {
		m, err = FromAdjacency(layer.Keys(), neighbors)
	} else {
		m, err = New(layer.Keys(), neighbors, w, Binary)
	}
	if err != nil {
		return nil, err
	}
	if p.RowStandardize {
		m = m.RowStandardize()
	}

	if warn := m.Warning(); warn != nil {
		zap.L().Warn("weights: matrix has islands",
			zap.String("mode", string(p.Mode)),
			zap.Int("islands", warn.Count),
			zap.Strings("keys", warn.Keys),
		)
	}
	return m, nil
}

type vertexKey struct {
	x, y int64
}

type edgeKey struct {
	a, b vertexKey
}

func snap(c geom.Coord, precision float64) vertexKey {
	return vertexKey{
		x: int64(math.Round(c.X() / precision)),
		y: int64(math.Round(c.Y() / precision)),
	}
}

func lessVertex(a, b vertexKey) bool {
	if a.x != b.x {
		return a.x < b.x
	}
	return a.y < b.y
}

// contiguity links units that share a snapped boundary vertex (queen) or a
// snapped boundary edge (rook).
func contiguity(layer *geo.Layer, precision float64, rook bool) ([][]int, error) {
	n := layer.Len()
	vertexOwners := make(map[vertexKey][]int)
	edgeOwners := make(map[edgeKey][]int)

	for i := 0; i < n; i++ {
		u := layer.Unit(i)
		if u.Shape == nil {
			return nil, eris.Errorf("weights: unit %s has no geometry", u.Key)
		}
		for _, ring := range geo.Rings(u.Shape) {
			for k := range ring {
				v := snap(ring[k], precision)
				if !rook {
					vertexOwners[v] = appendOwner(vertexOwners[v], i)
					continue
				}
				if k == 0 {
					continue
				}
				prev := snap(ring[k-1], precision)
				if prev == v {
					continue
				}
				e := edgeKey{a: prev, b: v}
				if lessVertex(v, prev) {
					e = edgeKey{a: v, b: prev}
				}
				edgeOwners[e] = appendOwner(edgeOwners[e], i)
			}
		}
	}

	sets := make([]map[int]struct{}, n)
	for i := range sets {
		sets[i] = make(map[int]struct{})
	}
	link := func(owners []int) {
		for a := 0; a < len(owners); a++ {
			for b := a + 1; b < len(owners); b++ {
				sets[owners[a]][owners[b]] = struct{}{}
				sets[owners[b]][owners[a]] = struct{}{}
			}
		}
	}
	for _, owners := range vertexOwners {
		link(owners)
	}
	for _, owners := range edgeOwners {
		link(owners)
	}

	neighbors := make([][]int, n)
	for i, set := range sets {
		row := make([]int, 0, len(set))
		for j := range set {
			row = append(row, j)
		}
		sort.Ints(row)
		neighbors[i] = row
	}
	return neighbors, nil
}

// appendOwner adds unit i to an owner list, skipping repeats from the same
// unit (units are visited in index order).
func appendOwner(owners []int, i int) []int {
	if len(owners) > 0 && owners[len(owners)-1] == i {
		return owners
	}
	return append(owners, i)
}

type candidate struct {
	j int
	d float64
}

func distances(centroids []geom.Coord, i int) []candidate {
	out := make([]candidate, 0, len(centroids)-1)
	for j, c := range centroids {
		if j == i {
			continue
		}
		out = append(out, candidate{j: j, d: geo.HaversineKM(centroids[i], c)})
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].d != out[b].d {
			return out[a].d < out[b].d
		}
		return out[a].j < out[b].j
	})
	return out
}

// knn links each unit to its k nearest centroids; ties resolve to the lower
// index. The relation is not necessarily symmetric.
func knn(layer *geo.Layer, k int) ([][]int, [][]float64, error) {
	n := layer.Len()
	if k <= 0 {
		return nil, nil, eris.Errorf("weights: knn requires k > 0, got %d", k)
	}
	if k >= n {
		return nil, nil, eris.Errorf("weights: knn k=%d needs more than %d units", k, n)
	}
	centroids, err := layer.Centroids()
	if err != nil {
		return nil, nil, eris.Wrap(err, "weights: knn centroids")
	}

	neighbors := make([][]int, n)
	w := make([][]float64, n)
	for i := 0; i < n; i++ {
		cands := distances(centroids, i)[:k]
		neighbors[i] = make([]int, k)
		w[i] = make([]float64, k)
		for c, cand := range cands {
			neighbors[i][c] = cand.j
			w[i][c] = 1
		}
	}
	return neighbors, w, nil
}

// band links units whose centroids lie within thresholdKM of each other.
func band(layer *geo.Layer, thresholdKM float64) ([][]int, [][]float64, error) {
	if thresholdKM <= 0 {
		return nil, nil, eris.Errorf("weights: distance band requires a positive threshold, got %g", thresholdKM)
	}
	centroids, err := layer.Centroids()
	if err != nil {
		return nil, nil, eris.Wrap(err, "weights: distance centroids")
	}

	n := layer.Len()
	neighbors := make([][]int, n)
	w := make([][]float64, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			if geo.HaversineKM(centroids[i], centroids[j]) <= thresholdKM {
				neighbors[i] = append(neighbors[i], j)
				w[i] = append(w[i], 1)
			}
		}
	}
	return neighbors, w, nil
}
