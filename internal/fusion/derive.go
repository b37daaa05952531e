package fusion

import (
	"github.com/montanaflynn/stats"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/county-esda/internal/geo"
	"github.com/sells-group/county-esda/internal/table"
)

// Delta derives Later − Earlier. The result is null when either operand is.
type Delta struct {
	Name    string `mapstructure:"name" json:"name" yaml:"name"`
	Later   string `mapstructure:"later" json:"later" yaml:"later"`
	Earlier string `mapstructure:"earlier" json:"earlier" yaml:"earlier"`
}

// Composite derives the mean of per-input z-scores. Inputs are standardized
// over their non-null values with the population standard deviation. A unit
// gets a score only when at least MinValid of its inputs are usable.
type Composite struct {
	Name     string   `mapstructure:"name" json:"name" yaml:"name"`
	Inputs   []string `mapstructure:"inputs" json:"inputs" yaml:"inputs"`
	MinValid int      `mapstructure:"min_valid" json:"min_valid" yaml:"min_valid"`
}

// Bin is one right-closed interval of a Classify derivation.
type Bin struct {
	Upper float64 `mapstructure:"upper" json:"upper" yaml:"upper"`
	Label string  `mapstructure:"label" json:"label" yaml:"label"`
}

// Classify derives a categorical column by banding a numeric input into
// (Min, Bins[0].Upper], (Bins[0].Upper, Bins[1].Upper], ... Values outside
// every band are null.
type Classify struct {
	Name  string  `mapstructure:"name" json:"name" yaml:"name"`
	Input string  `mapstructure:"input" json:"input" yaml:"input"`
	Min   float64 `mapstructure:"min" json:"min" yaml:"min"`
	Bins  []Bin   `mapstructure:"bins" json:"bins" yaml:"bins"`
}

// Derivations is the set of derived metrics to compute, applied in order:
// deltas, composites, classifications.
type Derivations struct {
	Deltas     []Delta     `mapstructure:"deltas" json:"deltas" yaml:"deltas"`
	Composites []Composite `mapstructure:"composites" json:"composites" yaml:"composites"`
	Classes    []Classify  `mapstructure:"classes" json:"classes" yaml:"classes"`
}

// RUCCBins bands USDA Rural-Urban Continuum codes into Metro (1–3),
// Micropolitan (4–6) and Rural (7–9).
func RUCCBins() []Bin {
	return []Bin{
		{Upper: 3, Label: geo.ClassMetro},
		{Upper: 6, Label: geo.ClassMicropolitan},
		{Upper: 9, Label: geo.ClassRural},
	}
}

// DefaultDerivations returns the county study's standard metrics.
func DefaultDerivations() Derivations {
	return Derivations{
		Deltas: []Delta{
			{Name: "trump_shift_16_20", Later: "trump_share_2020", Earlier: "trump_share_2016"},
			{Name: "od_rate_change", Later: "od_1720_rate", Earlier: "od_1316_rate"},
			{Name: "chr_drug_overdose_change_16_24", Later: "chr_drug_overdose_deaths_per_100k", Earlier: "chr_drug_overdose_deaths_per_100k_2016"},
			{Name: "chr_poor_physical_health_days_change_16_24", Later: "chr_poor_physical_health_days", Earlier: "chr_poor_physical_health_days_2016"},
			{Name: "chr_poor_mental_health_days_change_16_24", Later: "chr_poor_mental_health_days", Earlier: "chr_poor_mental_health_days_2016"},
		},
		Composites: []Composite{
			{Name: "distress_trump_zscore", Inputs: []string{"freq_phys_distress_pct", "trump_share_2016"}, MinValid: 2},
		},
		Classes: []Classify{
			{Name: "rucc_category", Input: "rucc", Bins: RUCCBins()},
		},
	}
}

// Derive returns a new table with the derived columns appended, plus the
// names of derivations skipped because an input column is absent. A
// derivation whose inputs exist but are not numeric is a SchemaError.
func Derive(t *table.Table, d Derivations) (*table.Table, []string, error) {
	log := zap.L().With(zap.String("component", "fusion"))
	var skipped []string
	skip := func(name string, missing string) {
		skipped = append(skipped, name)
		log.Debug("fusion: derivation skipped", zap.String("name", name), zap.String("missing", missing))
	}

	var err error
	for _, spec := range d.Deltas {
		if m := firstMissing(t, spec.Later, spec.Earlier); m != "" {
			skip(spec.Name, m)
			continue
		}
		var vals []table.Value
		if vals, err = delta(t, spec); err != nil {
			return nil, nil, err
		}
		if t, err = t.WithColumn(table.NumberColumn(spec.Name), vals); err != nil {
			return nil, nil, eris.Wrapf(err, "fusion: add %s", spec.Name)
		}
	}

	for _, spec := range d.Composites {
		if m := firstMissing(t, spec.Inputs...); m != "" {
			skip(spec.Name, m)
			continue
		}
		var vals []table.Value
		if vals, err = composite(t, spec); err != nil {
			return nil, nil, err
		}
		if t, err = t.WithColumn(table.NumberColumn(spec.Name), vals); err != nil {
			return nil, nil, eris.Wrapf(err, "fusion: add %s", spec.Name)
		}
	}

	for _, spec := range d.Classes {
		if m := firstMissing(t, spec.Input); m != "" {
			skip(spec.Name, m)
			continue
		}
		var vals []table.Value
		if vals, err = classify(t, spec); err != nil {
			return nil, nil, err
		}
		if t, err = t.WithColumn(table.TextColumn(spec.Name), vals); err != nil {
			return nil, nil, eris.Wrapf(err, "fusion: add %s", spec.Name)
		}
	}

	return t, skipped, nil
}

func firstMissing(t *table.Table, cols ...string) string {
	for _, c := range cols {
		if !t.HasColumn(c) {
			return c
		}
	}
	return ""
}

func delta(t *table.Table, spec Delta) ([]table.Value, error) {
	later, lv, err := t.Floats(spec.Later)
	if err != nil {
		return nil, eris.Wrapf(err, "fusion: delta %s", spec.Name)
	}
	earlier, ev, err := t.Floats(spec.Earlier)
	if err != nil {
		return nil, eris.Wrapf(err, "fusion: delta %s", spec.Name)
	}
	out := make([]table.Value, t.Len())
	for i := range out {
		if lv[i] && ev[i] {
			out[i] = table.Number(later[i] - earlier[i])
		}
	}
	return out, nil
}

// Standardize z-scores the valid entries of x with the population standard
// deviation. It reports false when fewer than one valid value exists or the
// valid values have zero variance.
func Standardize(x []float64, valid []bool) ([]float64, bool) {
	var data stats.Float64Data
	for i, v := range x {
		if valid[i] {
			data = append(data, v)
		}
	}
	if len(data) == 0 {
		return nil, false
	}
	mean, err := data.Mean()
	if err != nil {
		return nil, false
	}
	sd, err := data.StandardDeviationPopulation()
	if err != nil || sd == 0 {
		return nil, false
	}
	z := make([]float64, len(x))
	for i, v := range x {
		if valid[i] {
			z[i] = (v - mean) / sd
		}
	}
	return z, true
}

func composite(t *table.Table, spec Composite) ([]table.Value, error) {
	if len(spec.Inputs) == 0 {
		return nil, eris.Errorf("fusion: composite %s has no inputs", spec.Name)
	}
	minValid := spec.MinValid
	if minValid <= 0 || minValid > len(spec.Inputs) {
		minValid = len(spec.Inputs)
	}

	n := t.Len()
	sum := make([]float64, n)
	count := make([]int, n)
	for _, col := range spec.Inputs {
		x, valid, err := t.Floats(col)
		if err != nil {
			return nil, eris.Wrapf(err, "fusion: composite %s", spec.Name)
		}
		z, ok := Standardize(x, valid)
		if !ok {
			zap.L().Warn("fusion: composite input has no variance",
				zap.String("composite", spec.Name),
				zap.String("input", col),
			)
			continue
		}
		for i := 0; i < n; i++ {
			if valid[i] {
				sum[i] += z[i]
				count[i]++
			}
		}
	}

	out := make([]table.Value, n)
	for i := range out {
		if count[i] >= minValid {
			out[i] = table.Number(sum[i] / float64(count[i]))
		}
	}
	return out, nil
}

func classify(t *table.Table, spec Classify) ([]table.Value, error) {
	if len(spec.Bins) == 0 {
		return nil, eris.Errorf("fusion: classification %s has no bins", spec.Name)
	}
	x, valid, err := t.Floats(spec.Input)
	if err != nil {
		return nil, eris.Wrapf(err, "fusion: classification %s", spec.Name)
	}
	out := make([]table.Value, t.Len())
	for i := range out {
		if !valid[i] {
			continue
		}
		lower := spec.Min
		for _, b := range spec.Bins {
			if x[i] > lower && x[i] <= b.Upper {
				out[i] = table.Text(b.Label)
				break
			}
			lower = b.Upper
		}
	}
	return out, nil
}
