package table

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
)

func sample(t *testing.T) *Table {
	t.Helper()
	tbl, err := NewBuilder("votes", "fips", NumberColumn("share"), TextColumn("state")).
		Append("01001", Number(0.73), Text("AL")).
		Append("01003", Null(), Text("AL")).
		Append("01005", Number(0.57), Null()).
		Build()
	require.NoError(t, err)
	return tbl
}

func TestBuilder_Build(t *testing.T) {
	tbl := sample(t)

	assert.Equal(t, "votes", tbl.Name())
	assert.Equal(t, "fips", tbl.KeyColumn())
	assert.Equal(t, 3, tbl.Len())
	assert.Equal(t, []string{"01001", "01003", "01005"}, tbl.Keys())
	assert.True(t, tbl.HasColumn("share"))
	assert.False(t, tbl.HasColumn("fips"))

	i, ok := tbl.Lookup("01005")
	require.True(t, ok)
	assert.Equal(t, 2, i)
	assert.Equal(t, "0.57", tbl.Value(i, "share").String())
	assert.True(t, tbl.Value(i, "state").IsNull())
	assert.True(t, tbl.Value(0, "missing").IsNull())
}

func TestBuilder_DuplicateKeys(t *testing.T) {
	_, err := NewBuilder("votes", "fips", NumberColumn("share")).
		Append("b", Number(1)).
		Append("a", Number(2)).
		Append("b", Number(3)).
		Append("a", Number(4)).
		Append("c", Number(5)).
		Build()
	require.Error(t, err)

	var dup *DuplicateKeyError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, []string{"a", "b"}, dup.Keys)
	assert.Contains(t, err.Error(), "2 duplicate key(s)")
}

func TestBuilder_SchemaErrors(t *testing.T) {
	tests := []struct {
		name    string
		builder *Builder
	}{
		{
			name:    "no key column",
			builder: NewBuilder("x", "", NumberColumn("a")),
		},
		{
			name:    "column declared twice",
			builder: NewBuilder("x", "k", NumberColumn("a"), TextColumn("a")),
		},
		{
			name:    "value column named like key",
			builder: NewBuilder("x", "k", NumberColumn("k")),
		},
		{
			name:    "text in numeric column",
			builder: NewBuilder("x", "k", NumberColumn("a")).Append("1", Text("high")),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.builder.Build()
			require.Error(t, err)
			var schema *SchemaError
			assert.True(t, errors.As(err, &schema))
		})
	}
}

func TestBuilder_WrongArity(t *testing.T) {
	_, err := NewBuilder("x", "k", NumberColumn("a"), NumberColumn("b")).
		Append("1", Number(1)).
		Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has 1 values, want 2")
}

func TestTable_Floats(t *testing.T) {
	tbl := sample(t)

	x, valid, err := tbl.Floats("share")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.73, 0, 0.57}, x)
	assert.Equal(t, []bool{true, false, true}, valid)

	_, _, err = tbl.Floats("state")
	require.Error(t, err)
	_, _, err = tbl.Floats("nope")
	var schema *SchemaError
	require.True(t, errors.As(err, &schema))
	assert.Equal(t, "nope", schema.Column)
}

func TestTable_WithColumnIsImmutable(t *testing.T) {
	tbl := sample(t)

	out, err := tbl.WithColumn(NumberColumn("turnout"), []Value{Number(1), Number(2), Number(3)})
	require.NoError(t, err)

	assert.False(t, tbl.HasColumn("turnout"))
	assert.True(t, out.HasColumn("turnout"))
	assert.Len(t, out.Columns(), 3)

	replaced, err := out.WithColumn(NumberColumn("share"), []Value{Null(), Null(), Null()})
	require.NoError(t, err)
	assert.True(t, replaced.Value(0, "share").IsNull())
	assert.Equal(t, "0.73", out.Value(0, "share").String())

	_, err = tbl.WithColumn(NumberColumn("fips"), []Value{Null(), Null(), Null()})
	require.Error(t, err)
	_, err = tbl.WithColumn(NumberColumn("short"), []Value{Null()})
	require.Error(t, err)
}

func TestTable_Select(t *testing.T) {
	tbl := sample(t)

	out, err := tbl.Select("state")
	require.NoError(t, err)
	assert.Equal(t, []Column{TextColumn("state")}, out.Columns())
	assert.Equal(t, "AL", out.Value(0, "state").String())
	assert.Len(t, tbl.Columns(), 2)

	_, err = tbl.Select("nope")
	require.Error(t, err)
}

func TestTable_Filter(t *testing.T) {
	tbl := sample(t)

	out, err := tbl.Filter([]bool{true, false, true})
	require.NoError(t, err)
	assert.Equal(t, []string{"01001", "01005"}, out.Keys())
	assert.Equal(t, "0.57", out.Value(1, "share").String())
	i, ok := out.Lookup("01005")
	require.True(t, ok)
	assert.Equal(t, 1, i)
	_, ok = out.Lookup("01003")
	assert.False(t, ok)
	assert.Equal(t, 3, tbl.Len())

	_, err = tbl.Filter([]bool{true})
	require.Error(t, err)
}

func TestTable_WithGeometry(t *testing.T) {
	tbl := sample(t)
	assert.False(t, tbl.HasGeometry())
	assert.Nil(t, tbl.Geometry(0))

	pt := geom.NewPoint(geom.XY).MustSetCoords(geom.Coord{-86.6, 32.5})
	out, err := tbl.WithGeometry([]geom.T{pt, nil, nil})
	require.NoError(t, err)
	assert.True(t, out.HasGeometry())
	assert.Equal(t, pt, out.Geometry(0))

	_, err = tbl.WithGeometry([]geom.T{pt})
	require.Error(t, err)
}

func TestValue(t *testing.T) {
	assert.True(t, Number(math.NaN()).IsNull())
	assert.True(t, Number(math.Inf(1)).IsNull())

	f, ok := Number(2.5).Float()
	assert.True(t, ok)
	assert.Equal(t, 2.5, f)

	_, ok = Text("x").Float()
	assert.False(t, ok)

	assert.Equal(t, KindText, Text("x").Kind())
	assert.Nil(t, Null().Interface())
	assert.Equal(t, "x", Text("x").Interface())
	assert.Equal(t, 3.0, Number(3).Interface())
	assert.Equal(t, "", Null().String())
	assert.Equal(t, "number", TypeNumber.String())
	assert.Equal(t, "text", TypeText.String())
}
