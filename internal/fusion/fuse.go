// Package fusion joins keyed attribute tables onto a geometry layer and
// computes derived metrics over the fused table.
package fusion

import (
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/county-esda/internal/geo"
	"github.com/sells-group/county-esda/internal/table"
)

// DefaultKeyColumn names the key column of a fused table.
const DefaultKeyColumn = "fips"

// Options configures Fuse.
type Options struct {
	// KeyColumn names the output key column. Defaults to DefaultKeyColumn.
	KeyColumn string
	// Exclusions are key prefixes removed from the anchor before joining.
	Exclusions []string
	// AnchorAttrs are unit attributes of the anchor layer carried into the
	// output as text columns, keyed by output column name.
	AnchorAttrs []AnchorAttr
}

// AnchorAttr maps a geometry attribute onto an output column.
type AnchorAttr struct {
	Attr   string `mapstructure:"attr" json:"attr" yaml:"attr"`
	Column string `mapstructure:"column" json:"column" yaml:"column"`
}

// Result is the fused table plus what the join did.
type Result struct {
	Table *table.Table
	// Layer is the anchor after exclusions; its unit order is the table's row order.
	Layer *geo.Layer
	// Excluded lists anchor keys removed by Options.Exclusions, in anchor order.
	Excluded []string
	// Matched counts anchor units found in each source, by source name.
	Matched map[string]int
}

// Fuse left-joins sources onto the anchor layer. Every anchor unit (after
// exclusions) appears exactly once, in anchor order; units missing from a
// source get null values for that source's columns. Source rows whose key
// is not in the anchor are dropped. Keys are compared verbatim: callers
// normalize key formats beforehand.
func Fuse(sources []*table.Table, anchor *geo.Layer, opts Options) (*Result, error) {
	if anchor == nil {
		return nil, eris.New("fusion: nil anchor layer")
	}
	if opts.KeyColumn == "" {
		opts.KeyColumn = DefaultKeyColumn
	}
	log := zap.L().With(zap.String("component", "fusion"))

	layer, excluded, err := anchor.Exclude(opts.Exclusions)
	if err != nil {
		return nil, eris.Wrap(err, "fusion: apply exclusions")
	}

	cols, err := outputColumns(sources, opts)
	if err != nil {
		return nil, err
	}

	n := layer.Len()
	rows := make([][]table.Value, n)
	for i := range rows {
		rows[i] = make([]table.Value, 0, len(cols))
		u := layer.Unit(i)
		for _, a := range opts.AnchorAttrs {
			if v, ok := u.Attrs[a.Attr]; ok && v != "" {
				rows[i] = append(rows[i], table.Text(v))
			} else {
				rows[i] = append(rows[i], table.Null())
			}
		}
	}

	matched := make(map[string]int, len(sources))
	for _, src := range sources {
		srcCols := src.Columns()
		hits := 0
		for i := 0; i < n; i++ {
			r, ok := src.Lookup(layer.Unit(i).Key)
			if ok {
				hits++
			}
			for _, c := range srcCols {
				if ok {
					rows[i] = append(rows[i], src.Value(r, c.Name))
				} else {
					rows[i] = append(rows[i], table.Null())
				}
			}
		}
		matched[src.Name()] = hits
		if orphans := src.Len() - hits; orphans > 0 {
			log.Debug("fusion: source rows outside anchor",
				zap.String("source", src.Name()),
				zap.Int("orphans", orphans),
			)
		}
	}

	b := table.NewBuilder(layer.Name(), opts.KeyColumn, cols...)
	for i := 0; i < n; i++ {
		b.Append(layer.Unit(i).Key, rows[i]...)
	}
	t, err := b.Build()
	if err != nil {
		return nil, eris.Wrap(err, "fusion: build fused table")
	}
	t, err = t.WithGeometry(layer.Shapes())
	if err != nil {
		return nil, eris.Wrap(err, "fusion: attach geometry")
	}

	log.Info("fusion: tables fused",
		zap.Int("units", n),
		zap.Int("sources", len(sources)),
		zap.Int("columns", len(cols)),
		zap.Int("excluded", len(excluded)),
	)

	return &Result{Table: t, Layer: layer, Excluded: excluded, Matched: matched}, nil
}

// outputColumns lists anchor attribute columns followed by every source's
// columns in source order, rejecting name collisions.
func outputColumns(sources []*table.Table, opts Options) ([]table.Column, error) {
	owner := map[string]string{opts.KeyColumn: "anchor"}
	var cols []table.Column
	for _, a := range opts.AnchorAttrs {
		if _, dup := owner[a.Column]; dup {
			return nil, &table.SchemaError{Source: "anchor", Column: a.Column, Reason: "declared twice"}
		}
		owner[a.Column] = "anchor"
		cols = append(cols, table.TextColumn(a.Column))
	}
	for _, src := range sources {
		if src == nil {
			return nil, eris.New("fusion: nil source table")
		}
		if src.KeyColumn() == "" {
			return nil, &table.SchemaError{Source: src.Name(), Reason: "no key column declared"}
		}
		for _, c := range src.Columns() {
			if prev, dup := owner[c.Name]; dup {
				return nil, &table.SchemaError{
					Source: src.Name(),
					Column: c.Name,
					Reason: "collides with column from " + prev,
				}
			}
			owner[c.Name] = src.Name()
			cols = append(cols, c)
		}
	}
	return cols, nil
}
