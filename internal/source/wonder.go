package source

import (
	"context"
	"io"
	"slices"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/county-esda/internal/geo"
	"github.com/sells-group/county-esda/internal/table"
)

// Mortality export headers.
const (
	wonderCode   = "County Code"
	wonderName   = "County"
	wonderDeaths = "Deaths"
	wonderPop    = "Population"
	wonderAAR    = "Age Adjusted Rate"
	wonderCrude  = "Crude Rate"
)

// WonderColumns returns the output columns ReadWonder produces for metric.
func WonderColumns(metric string) []string {
	return []string{metric + "_deaths", metric + "_population", metric + "_aar", metric + "_rate"}
}

type wonderTally struct {
	deaths, pop     float64
	deathsOK, popOK bool
	aarSum          float64
	aarN            int
}

// ReadWonder reads a tab-delimited mortality export. Rows for the same
// county (one per year or cause) are collapsed: deaths and population are
// summed, the age-adjusted rate is averaged, and <metric>_rate is deaths
// per 100,000 population. Footer rows, "Total" rows and suppressed cells
// are ignored. A crude-rate column stands in for a missing age-adjusted
// one.
func ReadWonder(ctx context.Context, r io.Reader, metric string) (*table.Table, error) {
	name := "cdc_wonder_" + metric
	rows, err := collect(StreamCSV(ctx, r, CSVOptions{Delimiter: '\t', TrimSpace: true, LazyQuotes: true}))
	if err != nil {
		return nil, eris.Wrapf(err, "source: read %s", name)
	}
	if len(rows) == 0 {
		return nil, &table.SchemaError{Source: name, Column: wonderCode, Reason: "no header row"}
	}
	header := rows[0]
	col := func(c string) int { return slices.Index(header, c) }
	iCode := col(wonderCode)
	if iCode < 0 {
		return nil, &table.SchemaError{Source: name, Column: wonderCode}
	}
	iName, iDeaths, iPop, iAAR := col(wonderName), col(wonderDeaths), col(wonderPop), col(wonderAAR)
	if iAAR < 0 {
		iAAR = col(wonderCrude)
	}

	var order []string
	tallies := make(map[string]*wonderTally)
	for _, row := range rows[1:] {
		field := func(j int) string {
			if j >= 0 && j < len(row) {
				return row[j]
			}
			return ""
		}
		if strings.Contains(strings.ToLower(field(iName)), "total") {
			continue
		}
		key := geo.PadFIPS(field(iCode))
		if !isCode(key) {
			continue
		}
		tl, ok := tallies[key]
		if !ok {
			tl = &wonderTally{}
			tallies[key] = tl
			order = append(order, key)
		}
		if v, ok := ParseNumber(field(iDeaths)); ok {
			tl.deaths += v
			tl.deathsOK = true
		}
		if v, ok := ParseNumber(field(iPop)); ok {
			tl.pop += v
			tl.popOK = true
		}
		if v, ok := ParseNumber(field(iAAR)); ok {
			tl.aarSum += v
			tl.aarN++
		}
	}

	names := WonderColumns(metric)
	columns := make([]table.Column, len(names))
	for i, n := range names {
		columns[i] = table.NumberColumn(n)
	}
	b := table.NewBuilder(name, geoKeyColumn, columns...)
	for _, key := range order {
		tl := tallies[key]
		deaths, pop, aar, rate := table.Null(), table.Null(), table.Null(), table.Null()
		if tl.deathsOK {
			deaths = table.Number(tl.deaths)
		}
		if tl.popOK {
			pop = table.Number(tl.pop)
		}
		if tl.aarN > 0 {
			aar = table.Number(tl.aarSum / float64(tl.aarN))
		}
		if tl.deathsOK && tl.popOK && tl.pop > 0 {
			rate = table.Number(tl.deaths / tl.pop * 100_000)
		}
		b.Append(key, deaths, pop, aar, rate)
	}
	return b.Build()
}
