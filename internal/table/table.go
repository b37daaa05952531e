package table

import (
	"sort"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// Table is an immutable, column-major set of unit records keyed by a unique
// string identifier. Derived tables share column storage with their parent;
// no method mutates an existing Table.
type Table struct {
	name    string
	key     string
	keys    []string
	index   map[string]int
	columns []Column
	colIdx  map[string]int
	data    [][]Value // data[col][row]
	geoms   []geom.T
}

// Builder accumulates rows for a new Table.
type Builder struct {
	name    string
	key     string
	columns []Column
	keys    []string
	rows    [][]Value
	err     error
}

// NewBuilder starts a table with the given key column and value columns.
func NewBuilder(name, keyColumn string, columns ...Column) *Builder {
	b := &Builder{name: name, key: keyColumn, columns: append([]Column(nil), columns...)}
	seen := make(map[string]bool, len(columns)+1)
	seen[keyColumn] = true
	for _, c := range columns {
		if seen[c.Name] {
			b.err = &SchemaError{Source: name, Column: c.Name, Reason: "declared twice"}
			break
		}
		seen[c.Name] = true
	}
	return b
}

// Append adds a row. values must match the declared columns in order.
func (b *Builder) Append(key string, values ...Value) *Builder {
	if b.err != nil {
		return b
	}
	if len(values) != len(b.columns) {
		b.err = eris.Errorf("table: %s: row %q has %d values, want %d", b.name, key, len(values), len(b.columns))
		return b
	}
	b.keys = append(b.keys, key)
	b.rows = append(b.rows, append([]Value(nil), values...))
	return b
}

// Build validates key uniqueness and returns the table.
func (b *Builder) Build() (*Table, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.key == "" {
		return nil, &SchemaError{Source: b.name, Column: "", Reason: "no key column declared"}
	}

	index := make(map[string]int, len(b.keys))
	var dups []string
	dupSeen := make(map[string]bool)
	for i, k := range b.keys {
		if _, ok := index[k]; ok {
			if !dupSeen[k] {
				dups = append(dups, k)
				dupSeen[k] = true
			}
			continue
		}
		index[k] = i
	}
	if len(dups) > 0 {
		sort.Strings(dups)
		return nil, &DuplicateKeyError{Source: b.name, Keys: dups}
	}

	data := make([][]Value, len(b.columns))
	for c := range b.columns {
		col := make([]Value, len(b.rows))
		for r, row := range b.rows {
			v := row[c]
			if b.columns[c].Type == TypeNumber && v.kind == KindText {
				return nil, &SchemaError{Source: b.name, Column: b.columns[c].Name, Reason: "text value in numeric column"}
			}
			col[r] = v
		}
		data[c] = col
	}

	return &Table{
		name:    b.name,
		key:     b.key,
		keys:    append([]string(nil), b.keys...),
		index:   index,
		columns: append([]Column(nil), b.columns...),
		colIdx:  columnIndex(b.columns),
		data:    data,
	}, nil
}

func columnIndex(cols []Column) map[string]int {
	m := make(map[string]int, len(cols))
	for i, c := range cols {
		m[c.Name] = i
	}
	return m
}

// Name returns the table's source name.
func (t *Table) Name() string { return t.name }

// KeyColumn returns the name of the key column.
func (t *Table) KeyColumn() string { return t.key }

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.keys) }

// Key returns the key of row i.
func (t *Table) Key(i int) string { return t.keys[i] }

// Keys returns a copy of the row keys in order.
func (t *Table) Keys() []string { return append([]string(nil), t.keys...) }

// Lookup returns the row index for a key.
func (t *Table) Lookup(key string) (int, bool) {
	i, ok := t.index[key]
	return i, ok
}

// Columns returns a copy of the value columns in order.
func (t *Table) Columns() []Column { return append([]Column(nil), t.columns...) }

// Column returns the declared column with the given name.
func (t *Table) Column(name string) (Column, bool) {
	i, ok := t.colIdx[name]
	if !ok {
		return Column{}, false
	}
	return t.columns[i], true
}

// HasColumn reports whether a value column exists.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.colIdx[name]
	return ok
}

// Value returns the cell at row i for the named column; unknown columns read as null.
func (t *Table) Value(i int, column string) Value {
	c, ok := t.colIdx[column]
	if !ok {
		return Null()
	}
	return t.data[c][i]
}

// Values returns a copy of a whole column.
func (t *Table) Values(column string) ([]Value, error) {
	c, ok := t.colIdx[column]
	if !ok {
		return nil, &SchemaError{Source: t.name, Column: column}
	}
	return append([]Value(nil), t.data[c]...), nil
}

// Floats returns a numeric column as floats plus a validity mask. Null
// cells read as 0 with valid[i] == false.
func (t *Table) Floats(column string) ([]float64, []bool, error) {
	c, ok := t.colIdx[column]
	if !ok {
		return nil, nil, &SchemaError{Source: t.name, Column: column}
	}
	if t.columns[c].Type != TypeNumber {
		return nil, nil, &SchemaError{Source: t.name, Column: column, Reason: "not numeric"}
	}
	out := make([]float64, len(t.keys))
	valid := make([]bool, len(t.keys))
	for i, v := range t.data[c] {
		out[i], valid[i] = v.Float()
	}
	return out, valid, nil
}

// Geometry returns the geometry attached to row i, or nil.
func (t *Table) Geometry(i int) geom.T {
	if t.geoms == nil {
		return nil
	}
	return t.geoms[i]
}

// HasGeometry reports whether geometries are attached.
func (t *Table) HasGeometry() bool { return t.geoms != nil }

func (t *Table) derive() *Table {
	return &Table{
		name:    t.name,
		key:     t.key,
		keys:    t.keys,
		index:   t.index,
		columns: append([]Column(nil), t.columns...),
		colIdx:  columnIndex(t.columns),
		data:    append([][]Value(nil), t.data...),
		geoms:   t.geoms,
	}
}

// WithColumn returns a new table with an added (or replaced) column.
func (t *Table) WithColumn(col Column, values []Value) (*Table, error) {
	if len(values) != len(t.keys) {
		return nil, eris.Errorf("table: %s: column %q has %d values, want %d", t.name, col.Name, len(values), len(t.keys))
	}
	if col.Name == t.key {
		return nil, &SchemaError{Source: t.name, Column: col.Name, Reason: "collides with key column"}
	}
	for _, v := range values {
		if col.Type == TypeNumber && v.kind == KindText {
			return nil, &SchemaError{Source: t.name, Column: col.Name, Reason: "text value in numeric column"}
		}
	}
	out := t.derive()
	stored := append([]Value(nil), values...)
	if c, ok := out.colIdx[col.Name]; ok {
		out.columns[c] = col
		out.data[c] = stored
		return out, nil
	}
	out.columns = append(out.columns, col)
	out.data = append(out.data, stored)
	out.colIdx[col.Name] = len(out.columns) - 1
	return out, nil
}

// WithGeometry returns a new table with geometries attached row-for-row.
func (t *Table) WithGeometry(geoms []geom.T) (*Table, error) {
	if len(geoms) != len(t.keys) {
		return nil, eris.Errorf("table: %s: %d geometries for %d rows", t.name, len(geoms), len(t.keys))
	}
	out := t.derive()
	out.geoms = append([]geom.T(nil), geoms...)
	return out, nil
}

// Select returns a new table restricted to the named columns, in that order.
func (t *Table) Select(columns ...string) (*Table, error) {
	out := t.derive()
	out.columns = out.columns[:0:0]
	out.data = nil
	for _, name := range columns {
		c, ok := t.colIdx[name]
		if !ok {
			return nil, &SchemaError{Source: t.name, Column: name}
		}
		out.columns = append(out.columns, t.columns[c])
		out.data = append(out.data, t.data[c])
	}
	out.colIdx = columnIndex(out.columns)
	return out, nil
}

// Filter returns a new table holding only the rows with keep[i] set, in
// their original order.
func (t *Table) Filter(keep []bool) (*Table, error) {
	if len(keep) != len(t.keys) {
		return nil, eris.Errorf("table: %s: filter mask has %d entries, want %d", t.name, len(keep), len(t.keys))
	}
	out := &Table{
		name:    t.name,
		key:     t.key,
		index:   make(map[string]int),
		columns: append([]Column(nil), t.columns...),
		colIdx:  columnIndex(t.columns),
		data:    make([][]Value, len(t.data)),
	}
	if t.geoms != nil {
		out.geoms = []geom.T{}
	}
	for i, k := range keep {
		if !k {
			continue
		}
		out.index[t.keys[i]] = len(out.keys)
		out.keys = append(out.keys, t.keys[i])
		for c := range t.data {
			out.data[c] = append(out.data[c], t.data[c][i])
		}
		if t.geoms != nil {
			out.geoms = append(out.geoms, t.geoms[i])
		}
	}
	return out, nil
}
