// Package table provides the typed, key-unique table used to carry county
// attributes through fusion and analysis.
package table

import (
	"math"
	"strconv"
)

// Kind identifies what a Value holds.
type Kind uint8

// Value kinds.
const (
	KindNull Kind = iota
	KindNumber
	KindText
)

// Type is the declared type of a column.
type Type uint8

// Column types.
const (
	TypeNumber Type = iota + 1
	TypeText
)

// String returns the column type name.
func (t Type) String() string {
	switch t {
	case TypeNumber:
		return "number"
	case TypeText:
		return "text"
	default:
		return "unknown"
	}
}

// Value is a nullable table cell.
type Value struct {
	kind Kind
	num  float64
	text string
}

// Null returns an empty cell.
func Null() Value { return Value{} }

// Number returns a numeric cell. NaN and infinities are stored as null.
func Number(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}
	}
	return Value{kind: KindNumber, num: f}
}

// Text returns a categorical cell.
func Text(s string) Value { return Value{kind: KindText, text: s} }

// Kind reports what the cell holds.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the cell is empty.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Float returns the numeric content and whether it is present.
func (v Value) Float() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	return v.num, true
}

// String renders the cell; nulls render as the empty string.
func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindText:
		return v.text
	default:
		return ""
	}
}

// Interface returns the cell as float64, string or nil for serialization.
func (v Value) Interface() any {
	switch v.kind {
	case KindNumber:
		return v.num
	case KindText:
		return v.text
	default:
		return nil
	}
}

// Column is a named, typed column.
type Column struct {
	Name string `json:"name" yaml:"name"`
	Type Type   `json:"type" yaml:"type"`
}

// NumberColumn declares a numeric column.
func NumberColumn(name string) Column { return Column{Name: name, Type: TypeNumber} }

// TextColumn declares a categorical column.
func TextColumn(name string) Column { return Column{Name: name, Type: TypeText} }
