package esda

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/county-esda/internal/table"
	"github.com/sells-group/county-esda/internal/weights"
)

// SpatialLag returns Σⱼ wᵢⱼ xⱼ for every row of t, reading null x as 0.
func SpatialLag(t *table.Table, w *weights.Matrix, x string) ([]table.Value, error) {
	if err := aligned(t, w); err != nil {
		return nil, err
	}
	vals, _, err := t.Floats(x)
	if err != nil {
		return nil, eris.Wrapf(err, "esda: lag %s", x)
	}
	lag := w.Lag(vals)
	out := make([]table.Value, len(lag))
	for i, v := range lag {
		out[i] = table.Number(v)
	}
	return out, nil
}
