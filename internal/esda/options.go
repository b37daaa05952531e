// Package esda implements exploratory spatial data analysis statistics:
// global and local Moran's I (univariate and bivariate) and the Getis-Ord
// Gi* hotspot statistic, with seeded permutation inference.
package esda

import (
	"fmt"

	"github.com/rotisserie/eris"
)

// Options controls inference for every analyzer in the package.
type Options struct {
	// Permutations is the number of random relabelings used for pseudo
	// p-values. Zero disables permutation inference for global statistics.
	Permutations int
	// Seed fixes the random streams. Equal seeds give identical p-values.
	Seed int64
	// Significance is the pseudo p-value at or below which a local cluster
	// keeps its quadrant label.
	Significance float64
	// FDR applies a Benjamini–Hochberg adjustment to local p-values before
	// classification.
	FDR bool
	// MinUnits is the fewest complete units a statistic will run on.
	MinUnits int
	// Concurrency bounds the goroutines used for local permutations.
	Concurrency int
}

// DefaultOptions returns 999 permutations, α = 0.05, no FDR adjustment and
// a 30-unit minimum.
func DefaultOptions() Options {
	return Options{
		Permutations: 999,
		Seed:         12345,
		Significance: 0.05,
		FDR:          false,
		MinUnits:     30,
		Concurrency:  4,
	}
}

// Validate checks option ranges.
func (o Options) Validate() error {
	if o.Permutations < 0 {
		return eris.Errorf("esda: permutations must be >= 0, got %d", o.Permutations)
	}
	if o.Significance <= 0 || o.Significance >= 1 {
		return eris.Errorf("esda: significance must be in (0, 1), got %g", o.Significance)
	}
	if o.MinUnits < 0 {
		return eris.Errorf("esda: min units must be >= 0, got %d", o.MinUnits)
	}
	return nil
}

func (o Options) workers() int {
	if o.Concurrency < 1 {
		return 1
	}
	return o.Concurrency
}

// InsufficientDataError reports too few complete units after listwise
// exclusion.
type InsufficientDataError struct {
	Variable string
	Have     int
	Need     int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("esda: %s has %d complete units, need at least %d", e.Variable, e.Have, e.Need)
}
