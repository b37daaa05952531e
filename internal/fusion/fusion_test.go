package fusion

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/county-esda/internal/geo"
	"github.com/sells-group/county-esda/internal/table"
)

func square(x float64) *geom.MultiPolygon {
	ring := []geom.Coord{{x, 32}, {x + 1, 32}, {x + 1, 33}, {x, 33}, {x, 32}}
	return geom.NewMultiPolygon(geom.XY).MustSetCoords([][][]geom.Coord{{ring}}).SetSRID(geo.SRID)
}

func anchor(t *testing.T, keys ...string) *geo.Layer {
	t.Helper()
	units := make([]geo.Unit, len(keys))
	for i, k := range keys {
		units[i] = geo.Unit{Key: k, Shape: square(float64(i) * 1.5), Attrs: map[string]string{"NAME": "County " + k}}
	}
	layer, err := geo.NewLayer("counties", units)
	require.NoError(t, err)
	return layer
}

func TestFuse_LeftJoinKeepsEveryUnit(t *testing.T) {
	layer := anchor(t, "01001", "01003", "01005", "01007", "01009")
	votes, err := table.NewBuilder("votes", "fips", table.NumberColumn("trump_share_2016")).
		Append("01001", table.Number(73.9)).
		Append("01005", table.Number(68.5)).
		Append("01009", table.Number(84.9)).
		Build()
	require.NoError(t, err)

	res, err := Fuse([]*table.Table{votes}, layer, Options{})
	require.NoError(t, err)

	out := res.Table
	assert.Equal(t, 5, out.Len())
	assert.Equal(t, layer.Keys(), out.Keys())
	assert.Equal(t, DefaultKeyColumn, out.KeyColumn())

	_, valid, err := out.Floats("trump_share_2016")
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, true, false, true}, valid)
	assert.Equal(t, 3, res.Matched["votes"])
	assert.True(t, out.HasGeometry())
	assert.NotNil(t, out.Geometry(1))
}

func TestFuse_Exclusions(t *testing.T) {
	layer := anchor(t, "01001", "02013", "15001", "72001", "48201")
	src, err := table.NewBuilder("rucc", "fips", table.NumberColumn("rucc")).
		Append("02013", table.Number(9)).
		Append("48201", table.Number(1)).
		Build()
	require.NoError(t, err)

	res, err := Fuse([]*table.Table{src}, layer, Options{Exclusions: geo.ExcludedStateFIPS})
	require.NoError(t, err)

	assert.Equal(t, []string{"01001", "48201"}, res.Table.Keys())
	assert.Equal(t, []string{"02013", "15001", "72001"}, res.Excluded)
	assert.Equal(t, 1, res.Matched["rucc"])
	assert.Equal(t, 2, res.Layer.Len())
}

func TestFuse_AnchorAttrs(t *testing.T) {
	layer := anchor(t, "01001", "01003")
	res, err := Fuse(nil, layer, Options{AnchorAttrs: []AnchorAttr{
		{Attr: "NAME", Column: "county_name"},
		{Attr: "STATEFP", Column: "state_fips"},
	}})
	require.NoError(t, err)

	assert.Equal(t, "County 01003", res.Table.Value(1, "county_name").String())
	assert.True(t, res.Table.Value(0, "state_fips").IsNull())
}

func TestFuse_ColumnCollision(t *testing.T) {
	layer := anchor(t, "01001")
	a, err := table.NewBuilder("a", "fips", table.NumberColumn("rate")).Append("01001", table.Number(1)).Build()
	require.NoError(t, err)
	b, err := table.NewBuilder("b", "fips", table.NumberColumn("rate")).Append("01001", table.Number(2)).Build()
	require.NoError(t, err)

	_, err = Fuse([]*table.Table{a, b}, layer, Options{})
	require.Error(t, err)

	var schema *table.SchemaError
	require.True(t, errors.As(err, &schema))
	assert.Equal(t, "b", schema.Source)
	assert.Equal(t, "rate", schema.Column)
}

func TestFuse_Errors(t *testing.T) {
	_, err := Fuse(nil, nil, Options{})
	require.Error(t, err)

	_, err = Fuse([]*table.Table{nil}, anchor(t, "01001"), Options{})
	require.Error(t, err)
}

func TestFuse_DuplicateKeysSurfaceFromSource(t *testing.T) {
	_, err := table.NewBuilder("places", "fips", table.NumberColumn("arthritis_pct")).
		Append("01001", table.Number(28.3)).
		Append("01001", table.Number(27.2)).
		Build()
	require.Error(t, err)

	var dup *table.DuplicateKeyError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, []string{"01001"}, dup.Keys)
}

func derivationTable(t *testing.T) *table.Table {
	t.Helper()
	tbl, err := table.NewBuilder("fused", "fips",
		table.NumberColumn("a"),
		table.NumberColumn("b"),
		table.NumberColumn("c"),
		table.NumberColumn("rucc"),
	).
		Append("1", table.Number(1), table.Number(10), table.Number(5), table.Number(2)).
		Append("2", table.Number(2), table.Number(20), table.Null(), table.Number(5)).
		Append("3", table.Number(3), table.Null(), table.Null(), table.Number(9)).
		Append("4", table.Null(), table.Number(40), table.Number(7), table.Null()).
		Build()
	require.NoError(t, err)
	return tbl
}

func TestDerive_Delta(t *testing.T) {
	tbl := derivationTable(t)
	out, skipped, err := Derive(tbl, Derivations{Deltas: []Delta{{Name: "b_minus_a", Later: "b", Earlier: "a"}}})
	require.NoError(t, err)
	assert.Empty(t, skipped)

	x, valid, err := out.Floats("b_minus_a")
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true, false, false}, valid)
	assert.Equal(t, 9.0, x[0])
	assert.Equal(t, 18.0, x[1])
	assert.False(t, tbl.HasColumn("b_minus_a"))
}

func TestDerive_CompositeMinValid(t *testing.T) {
	tbl := derivationTable(t)
	out, _, err := Derive(tbl, Derivations{Composites: []Composite{
		{Name: "score", Inputs: []string{"a", "b", "c"}, MinValid: 2},
	}})
	require.NoError(t, err)

	x, valid, err := out.Floats("score")
	require.NoError(t, err)
	// Unit 2 misses c only, unit 4 misses a only: both still score.
	assert.Equal(t, []bool{true, true, false, true}, valid)

	// a over {1,2,3}: mean 2, pop sd sqrt(2/3).
	sdA := math.Sqrt(2.0 / 3.0)
	// b over {10,20,40}: mean 70/3.
	bData := []float64{10, 20, 40}
	meanB := 70.0 / 3.0
	var ss float64
	for _, v := range bData {
		ss += (v - meanB) * (v - meanB)
	}
	sdB := math.Sqrt(ss / 3)
	want := ((2-2)/sdA + (20-meanB)/sdB) / 2
	assert.InDelta(t, want, x[1], 1e-12)
}

func TestDerive_CompositeDefaultsToAllInputs(t *testing.T) {
	tbl := derivationTable(t)
	out, _, err := Derive(tbl, Derivations{Composites: []Composite{
		{Name: "score", Inputs: []string{"a", "b"}},
	}})
	require.NoError(t, err)

	_, valid, err := out.Floats("score")
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true, false, false}, valid)
}

func TestDerive_CompositeZeroVarianceInputIgnored(t *testing.T) {
	tbl, err := table.NewBuilder("flat", "fips", table.NumberColumn("x"), table.NumberColumn("y")).
		Append("1", table.Number(5), table.Number(1)).
		Append("2", table.Number(5), table.Number(3)).
		Build()
	require.NoError(t, err)

	out, _, err := Derive(tbl, Derivations{Composites: []Composite{
		{Name: "score", Inputs: []string{"x", "y"}, MinValid: 1},
	}})
	require.NoError(t, err)

	x, valid, err := out.Floats("score")
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true}, valid)
	assert.InDelta(t, -1.0, x[0], 1e-12)
	assert.InDelta(t, 1.0, x[1], 1e-12)
}

func TestDerive_Classify(t *testing.T) {
	tbl := derivationTable(t)
	out, _, err := Derive(tbl, Derivations{Classes: []Classify{
		{Name: "rucc_category", Input: "rucc", Bins: RUCCBins()},
	}})
	require.NoError(t, err)

	assert.Equal(t, geo.ClassMetro, out.Value(0, "rucc_category").String())
	assert.Equal(t, geo.ClassMicropolitan, out.Value(1, "rucc_category").String())
	assert.Equal(t, geo.ClassRural, out.Value(2, "rucc_category").String())
	assert.True(t, out.Value(3, "rucc_category").IsNull())
}

func TestRUCCBins_MatchClassifier(t *testing.T) {
	for code := 1; code <= 9; code++ {
		tbl, err := table.NewBuilder("r", "fips", table.NumberColumn("rucc")).
			Append("x", table.Number(float64(code))).
			Build()
		require.NoError(t, err)
		out, _, err := Derive(tbl, Derivations{Classes: []Classify{{Name: "cat", Input: "rucc", Bins: RUCCBins()}}})
		require.NoError(t, err)
		assert.Equal(t, geo.ClassifyRUCC(code), out.Value(0, "cat").String(), "code %d", code)
	}
}

func TestDerive_SkipsMissingInputs(t *testing.T) {
	tbl := derivationTable(t)
	out, skipped, err := Derive(tbl, DefaultDerivations())
	require.NoError(t, err)

	assert.Contains(t, skipped, "trump_shift_16_20")
	assert.Contains(t, skipped, "distress_trump_zscore")
	assert.NotContains(t, skipped, "rucc_category")
	assert.True(t, out.HasColumn("rucc_category"))
}

func TestDerive_NonNumericInput(t *testing.T) {
	tbl, err := table.NewBuilder("t", "fips", table.TextColumn("label"), table.NumberColumn("x")).
		Append("1", table.Text("a"), table.Number(1)).
		Build()
	require.NoError(t, err)

	_, _, err = Derive(tbl, Derivations{Deltas: []Delta{{Name: "d", Later: "x", Earlier: "label"}}})
	require.Error(t, err)
	var schema *table.SchemaError
	assert.True(t, errors.As(err, &schema))
}

func TestStandardize(t *testing.T) {
	z, ok := Standardize([]float64{1, 2, 3}, []bool{true, true, true})
	require.True(t, ok)
	assert.InDelta(t, 0.0, z[1], 1e-12)
	assert.InDelta(t, -z[0], z[2], 1e-12)

	_, ok = Standardize([]float64{4, 4}, []bool{true, true})
	assert.False(t, ok)
	_, ok = Standardize([]float64{1}, []bool{false})
	assert.False(t, ok)
}
