package pipeline

import (
	"github.com/sells-group/county-esda/internal/esda"
	"github.com/sells-group/county-esda/internal/spreg"
	"github.com/sells-group/county-esda/internal/weights"
)

// Summary is the serializable digest of a Result, stored with the run and
// printed by the CLI.
type Summary struct {
	RunID              string                          `json:"run_id" yaml:"run_id"`
	Sample             bool                            `json:"sample,omitempty" yaml:"sample,omitempty"`
	Units              int                             `json:"units" yaml:"units"`
	Excluded           int                             `json:"excluded" yaml:"excluded"`
	Matched            map[string]int                  `json:"matched,omitempty" yaml:"matched,omitempty"`
	SkippedDerivations []string                        `json:"skipped_derivations,omitempty" yaml:"skipped_derivations,omitempty"`
	Weights            *weights.Summary                `json:"weights,omitempty" yaml:"weights,omitempty"`
	Global             []esda.AutocorrelationResult    `json:"global,omitempty" yaml:"global,omitempty"`
	Clusters           map[string]map[esda.Cluster]int `json:"clusters,omitempty" yaml:"clusters,omitempty"`
	Hotspots           map[string]map[esda.Band]int    `json:"hotspots,omitempty" yaml:"hotspots,omitempty"`
	Selected           spreg.Spec                      `json:"selected,omitempty" yaml:"selected,omitempty"`
	Regression         []spreg.Report                  `json:"regression,omitempty" yaml:"regression,omitempty"`
	Failures           []Failure                       `json:"failures,omitempty" yaml:"failures,omitempty"`
	Stages             []StageResult                   `json:"stages" yaml:"stages"`
}

// Summary digests the result.
func (r *Result) Summary() Summary {
	s := Summary{
		RunID:              r.RunID,
		Sample:             r.Sample,
		Excluded:           len(r.Excluded),
		Matched:            r.Matched,
		SkippedDerivations: r.Skipped,
		Global:             r.Globals(),
		Failures:           r.Failures,
		Stages:             r.Stages,
	}
	if r.Table != nil {
		s.Units = r.Table.Len()
	}
	if r.Weights != nil {
		ws := r.Weights.Summary()
		s.Weights = &ws
	}

	for _, v := range r.Variables {
		if v.Local != nil {
			if s.Clusters == nil {
				s.Clusters = make(map[string]map[esda.Cluster]int)
			}
			s.Clusters[v.Variable] = ClusterCounts(v.Local)
		}
		if v.Hotspots != nil {
			if s.Hotspots == nil {
				s.Hotspots = make(map[string]map[esda.Band]int)
			}
			s.Hotspots[v.Variable] = BandCounts(v.Hotspots)
		}
	}
	for _, b := range r.Bivariate {
		if s.Clusters == nil {
			s.Clusters = make(map[string]map[esda.Cluster]int)
		}
		s.Clusters[b.Column] = ClusterCounts(b.Local)
	}

	if r.Regression != nil {
		s.Selected = r.Regression.Selected
	}
	for _, res := range r.Regressions {
		s.Regression = append(s.Regression, spreg.NewReport(res))
	}
	return s
}

// ClusterCounts tallies LISA labels. Every label is present.
func ClusterCounts(recs []esda.LocalRecord) map[esda.Cluster]int {
	out := make(map[esda.Cluster]int, len(esda.Clusters))
	for _, c := range esda.Clusters {
		out[c] = 0
	}
	for _, rec := range recs {
		out[rec.Label]++
	}
	return out
}

// BandCounts tallies Gi* bands. Every band is present.
func BandCounts(recs []esda.HotspotRecord) map[esda.Band]int {
	out := make(map[esda.Band]int, len(esda.Bands))
	for _, b := range esda.Bands {
		out[b] = 0
	}
	for _, rec := range recs {
		out[rec.Band]++
	}
	return out
}
