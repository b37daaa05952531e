package esda

import (
	"math"

	"github.com/montanaflynn/stats"

	"github.com/sells-group/county-esda/internal/table"
	"github.com/sells-group/county-esda/internal/weights"
)

// Band is a Gi* confidence classification.
type Band string

// The seven hotspot bands.
const (
	Hot99              Band = "Hot99"
	Hot95              Band = "Hot95"
	Hot90              Band = "Hot90"
	Cold99             Band = "Cold99"
	Cold95             Band = "Cold95"
	Cold90             Band = "Cold90"
	BandNotSignificant Band = "NotSignificant"
)

// Bands lists every hotspot band.
var Bands = []Band{Hot99, Hot95, Hot90, Cold99, Cold95, Cold90, BandNotSignificant}

// Display returns the label used on published maps.
func (b Band) Display() string {
	switch b {
	case Hot99:
		return "Hot Spot - 99% Conf"
	case Hot95:
		return "Hot Spot - 95% Conf"
	case Hot90:
		return "Hot Spot - 90% Conf"
	case Cold99:
		return "Cold Spot - 99% Conf"
	case Cold95:
		return "Cold Spot - 95% Conf"
	case Cold90:
		return "Cold Spot - 90% Conf"
	default:
		return "Not Significant"
	}
}

// Critical |z| values for the confidence bands.
const (
	z99 = 2.58
	z95 = 1.96
	z90 = 1.65
)

// Classify maps a Gi* z-score to its band.
func Classify(z float64) Band {
	a := math.Abs(z)
	switch {
	case math.IsNaN(z):
		return BandNotSignificant
	case a >= z99:
		return signed(z, Hot99, Cold99)
	case a >= z95:
		return signed(z, Hot95, Cold95)
	case a >= z90:
		return signed(z, Hot90, Cold90)
	default:
		return BandNotSignificant
	}
}

func signed(z float64, hot, cold Band) Band {
	if z > 0 {
		return hot
	}
	return cold
}

// HotspotRecord is the Gi* statistic of one unit.
type HotspotRecord struct {
	Key      string  `json:"key" yaml:"key"`
	G        float64 `json:"g" yaml:"g"`
	Z        float64 `json:"z" yaml:"z"`
	P        float64 `json:"p" yaml:"p"`
	Band     Band    `json:"band" yaml:"band"`
	Excluded bool    `json:"excluded,omitempty" yaml:"excluded,omitempty"`

	// Island marks units without neighbors. Their neighborhood is the
	// unit alone, so G, Z and P are NaN and the band is NotSignificant.
	Island bool `json:"island,omitempty" yaml:"island,omitempty"`
}

// Hotspots computes Gi* for every row of t after listwise exclusion of
// null x. One record per row, in table order.
func Hotspots(t *table.Table, w *weights.Matrix, x string, opts Options) ([]HotspotRecord, error) {
	s, err := prepare(t, w, opts, x)
	if err != nil {
		return nil, err
	}
	recs := GetisOrd(s.w, s.cols[0])

	out := make([]HotspotRecord, t.Len())
	for i := range out {
		out[i] = HotspotRecord{
			Key:      t.Key(i),
			G:        math.NaN(),
			Z:        math.NaN(),
			P:        math.NaN(),
			Band:     BandNotSignificant,
			Excluded: true,
		}
	}
	for k, row := range s.rows {
		out[row] = recs[k]
	}
	return out, nil
}

// GetisOrd computes the Gi* statistic with each unit included in its own
// neighborhood and binary weights:
//
//	Gi* = (Σⱼ wᵢⱼxⱼ − x̄ Wᵢ) / (S·√[(n Σⱼ wᵢⱼ² − Wᵢ²)/(n−1)])
//
// where x̄ and S are the global mean and population standard deviation.
// With S = 0 every unit is NotSignificant, as is every island of w.
func GetisOrd(w *weights.Matrix, x []float64) []HotspotRecord {
	n := len(x)
	ws := w.Binarize().WithSelf()

	data := stats.Float64Data(x)
	mean, _ := data.Mean()
	sd, _ := data.StandardDeviationPopulation()
	total, _ := data.Sum()
	flatInput := n < 2 || constant(x)

	out := make([]HotspotRecord, n)
	for i := 0; i < n; i++ {
		rec := HotspotRecord{Key: w.Key(i), G: math.NaN(), Z: math.NaN(), P: math.NaN(), Band: BandNotSignificant}
		if w.IsIsland(i) {
			rec.Island = true
			out[i] = rec
			continue
		}

		var sum, wi, wi2 float64
		for k, j := range ws.Neighbors(i) {
			wij := ws.Weights(i)[k]
			sum += wij * x[j]
			wi += wij
			wi2 += wij * wij
		}
		if total != 0 {
			rec.G = sum / total
		}

		if !flatInput {
			den := sd * math.Sqrt((float64(n)*wi2-wi*wi)/float64(n-1))
			if den > 0 {
				rec.Z = (sum - mean*wi) / den
				rec.P = twoTailed(rec.Z)
				rec.Band = Classify(rec.Z)
			}
		}
		out[i] = rec
	}
	return out
}
