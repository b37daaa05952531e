package spreg

import (
	"fmt"
	"strings"
)

// SingularMatrixError reports a design matrix without full column rank.
type SingularMatrixError struct {
	Rank int
	Cols int
	Cond float64
}

func (e *SingularMatrixError) Error() string {
	return fmt.Sprintf("spreg: design matrix is singular (rank %d of %d columns, condition number %.3g)", e.Rank, e.Cols, e.Cond)
}

// IncompleteDataError reports nulls in the fitting sample. The suite never
// imputes or drops units; callers resolve nulls first.
type IncompleteDataError struct {
	Columns []string
	Keys    []string
}

func (e *IncompleteDataError) Error() string {
	shown := e.Keys
	if len(shown) > 10 {
		shown = shown[:10]
	}
	msg := fmt.Sprintf("spreg: %d unit(s) have nulls in %s: %s", len(e.Keys), strings.Join(e.Columns, ", "), strings.Join(shown, ", "))
	if len(e.Keys) > len(shown) {
		msg += ", ..."
	}
	return msg
}

// ConvergenceError is attached to a spatial fit whose optimizer exhausted
// its iteration budget. It is never returned as a failure.
type ConvergenceError struct {
	Parameter  string
	Iterations int
}

func (e *ConvergenceError) Error() string {
	return fmt.Sprintf("spreg: %s search did not converge in %d iterations", e.Parameter, e.Iterations)
}
