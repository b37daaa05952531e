package source

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/county-esda/internal/geo"
	"github.com/sells-group/county-esda/internal/table"
)

// Format is the on-disk layout of a source.
type Format string

// Supported formats.
const (
	CSV  Format = "csv"
	TSV  Format = "tsv"
	XLSX Format = "xlsx"
)

// Spec declares how one attribute file maps onto a keyed table.
type Spec struct {
	Name   string `mapstructure:"name" json:"name" yaml:"name"`
	Path   string `mapstructure:"path" json:"path" yaml:"path"`
	Format Format `mapstructure:"format" json:"format" yaml:"format"`
	Sheet  string `mapstructure:"sheet" json:"sheet,omitempty" yaml:"sheet,omitempty"`

	// KeyColumn holds a full 5-digit county code. When empty, StateColumn
	// and CountyColumn are combined instead.
	KeyColumn    string `mapstructure:"key_column" json:"key_column,omitempty" yaml:"key_column,omitempty"`
	StateColumn  string `mapstructure:"state_column" json:"state_column,omitempty" yaml:"state_column,omitempty"`
	CountyColumn string `mapstructure:"county_column" json:"county_column,omitempty" yaml:"county_column,omitempty"`

	// Columns renames source headers to output columns. Headers not listed
	// are dropped; an empty map keeps every header under its own name.
	Columns map[string]string `mapstructure:"columns" json:"columns,omitempty" yaml:"columns,omitempty"`
	// Text lists output columns kept as text. All others are numeric.
	Text []string `mapstructure:"text" json:"text,omitempty" yaml:"text,omitempty"`

	// NormalizeHeaders rewrites headers to snake_case before matching.
	NormalizeHeaders bool `mapstructure:"normalize_headers" json:"normalize_headers,omitempty" yaml:"normalize_headers,omitempty"`
	// DropAggregates removes national and state summary rows.
	DropAggregates bool `mapstructure:"drop_aggregates" json:"drop_aggregates,omitempty" yaml:"drop_aggregates,omitempty"`
}

func (s Spec) format() Format {
	if s.Format != "" {
		return s.Format
	}
	switch strings.ToLower(filepath.Ext(s.Path)) {
	case ".xlsx":
		return XLSX
	case ".txt", ".tsv":
		return TSV
	default:
		return CSV
	}
}

func (s Spec) name() string {
	if s.Name != "" {
		return s.Name
	}
	return strings.TrimSuffix(filepath.Base(s.Path), filepath.Ext(s.Path))
}

// Read loads the file named by spec.Path.
func Read(ctx context.Context, spec Spec) (*table.Table, error) {
	switch f := spec.format(); f {
	case CSV, TSV:
		fh, err := os.Open(spec.Path)
		if err != nil {
			return nil, eris.Wrapf(err, "source: open %s", spec.Path)
		}
		defer fh.Close() //nolint:errcheck
		return ReadCSV(ctx, fh, spec)
	case XLSX:
		return ReadXLSX(spec.Path, spec)
	default:
		return nil, eris.Errorf("source: unsupported format %q", f)
	}
}

// ReadCSV parses delimited text. TSV specs split on tabs.
func ReadCSV(ctx context.Context, r io.Reader, spec Spec) (*table.Table, error) {
	opts := CSVOptions{LazyQuotes: true, TrimSpace: true}
	if spec.format() == TSV {
		opts.Delimiter = '\t'
	}
	rows, err := collect(StreamCSV(ctx, r, opts))
	if err != nil {
		return nil, eris.Wrapf(err, "source: read %s", spec.name())
	}
	return FromRows(spec, rows)
}

// ReadXLSX parses one sheet of a workbook.
func ReadXLSX(path string, spec Spec) (*table.Table, error) {
	rows, err := readXLSXRows(path, spec.Sheet)
	if err != nil {
		return nil, eris.Wrapf(err, "source: read %s", spec.name())
	}
	return FromRows(spec, rows)
}

// FromRows converts a header row plus data rows into a table keyed by
// county code. Rows whose key is not a numeric code (footers, notes,
// repeated header lines) are skipped. Numeric cells that do not parse
// become null.
func FromRows(spec Spec, rows [][]string) (*table.Table, error) {
	name := spec.name()
	log := zap.L().With(zap.String("component", "source"), zap.String("source", name))
	if len(rows) == 0 {
		return nil, &table.SchemaError{Source: name, Column: spec.KeyColumn, Reason: "no header row"}
	}

	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}
	if spec.NormalizeHeaders {
		header = NormalizeHeaders(header)
	}

	var keyCols []int
	if spec.KeyColumn != "" {
		keyCols = []int{slices.Index(header, spec.KeyColumn)}
		if keyCols[0] < 0 {
			return nil, &table.SchemaError{Source: name, Column: spec.KeyColumn}
		}
	} else {
		if spec.StateColumn == "" || spec.CountyColumn == "" {
			return nil, eris.Errorf("source: %s declares no key column", name)
		}
		for _, c := range []string{spec.StateColumn, spec.CountyColumn} {
			j := slices.Index(header, c)
			if j < 0 {
				return nil, &table.SchemaError{Source: name, Column: c}
			}
			keyCols = append(keyCols, j)
		}
	}

	type plan struct {
		src int
		col table.Column
	}
	var plans []plan
	for j, h := range header {
		if h == "" || slices.Contains(keyCols, j) {
			continue
		}
		target := h
		if len(spec.Columns) > 0 {
			var ok bool
			if target, ok = spec.Columns[h]; !ok {
				continue
			}
		}
		col := table.NumberColumn(target)
		if slices.Contains(spec.Text, target) {
			col = table.TextColumn(target)
		}
		plans = append(plans, plan{src: j, col: col})
	}
	for src := range spec.Columns {
		if !slices.Contains(header, src) {
			log.Debug("declared column not in source", zap.String("column", src))
		}
	}

	columns := make([]table.Column, len(plans))
	for i, p := range plans {
		columns[i] = p.col
	}
	b := table.NewBuilder(name, geoKeyColumn, columns...)

	var skipped, aggregates int
	for _, row := range rows[1:] {
		key := rowKey(row, keyCols)
		if !isCode(key) {
			skipped++
			continue
		}
		if spec.DropAggregates && strings.HasSuffix(key, "000") {
			aggregates++
			continue
		}
		vals := make([]table.Value, len(plans))
		for i, p := range plans {
			vals[i] = cell(row, p.src, p.col.Type)
		}
		b.Append(key, vals...)
	}

	t, err := b.Build()
	if err != nil {
		return nil, err
	}
	log.Debug("source loaded",
		zap.Int("rows", t.Len()),
		zap.Int("columns", len(columns)),
		zap.Int("skipped", skipped),
		zap.Int("aggregates", aggregates),
	)
	return t, nil
}

// geoKeyColumn is the key column name of every table this package builds.
const geoKeyColumn = "fips"

func rowKey(row []string, cols []int) string {
	get := func(j int) string {
		if j < len(row) {
			return strings.TrimSpace(row[j])
		}
		return ""
	}
	if len(cols) == 1 {
		return geo.PadFIPS(get(cols[0]))
	}
	return geo.CombineFIPS(strings.TrimSuffix(get(cols[0]), ".0"), strings.TrimSuffix(get(cols[1]), ".0"))
}

func isCode(key string) bool {
	if len(key) != 5 {
		return false
	}
	for _, r := range key {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func cell(row []string, j int, typ table.Type) table.Value {
	if j >= len(row) {
		return table.Null()
	}
	raw := strings.TrimSpace(row[j])
	if typ == table.TypeText {
		if raw == "" {
			return table.Null()
		}
		return table.Text(raw)
	}
	f, ok := ParseNumber(raw)
	if !ok {
		return table.Null()
	}
	return table.Number(f)
}

// ParseNumber reads a numeric cell, accepting thousands separators, a
// trailing percent sign and the "(Unreliable)" marker of mortality exports.
// Suppressed, missing and non-numeric cells report false.
func ParseNumber(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	s = strings.TrimSpace(strings.TrimSuffix(s, "(Unreliable)"))
	s = strings.TrimSuffix(s, "%")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
