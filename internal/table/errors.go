package table

import (
	"fmt"
	"strings"
)

// SchemaError reports a source that does not match its declared schema,
// typically a missing key column or a column-name collision during a join.
type SchemaError struct {
	Source string
	Column string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("table %q: missing column %q", e.Source, e.Column)
	}
	return fmt.Sprintf("table %q: column %q: %s", e.Source, e.Column, e.Reason)
}

// DuplicateKeyError reports keys that occur more than once in a single table.
type DuplicateKeyError struct {
	Source string
	Keys   []string
}

func (e *DuplicateKeyError) Error() string {
	shown := e.Keys
	if len(shown) > 10 {
		shown = shown[:10]
	}
	msg := fmt.Sprintf("table %q: %d duplicate key(s): %s", e.Source, len(e.Keys), strings.Join(shown, ", "))
	if len(e.Keys) > len(shown) {
		msg += ", ..."
	}
	return msg
}
