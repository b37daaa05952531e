package source

import (
	"context"
	"fmt"
	"io"
	"math"
	"slices"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/county-esda/internal/geo"
	"github.com/sells-group/county-esda/internal/table"
)

// ElectionColumns returns the output columns ReadElection produces for year.
func ElectionColumns(year int) []string {
	return []string{
		fmt.Sprintf("trump_votes_%d", year),
		fmt.Sprintf("opponent_votes_%d", year),
		fmt.Sprintf("two_party_votes_%d", year),
		fmt.Sprintf("total_votes_%d", year),
		fmt.Sprintf("trump_share_%d", year),
		fmt.Sprintf("trump_margin_%d", year),
	}
}

// Opponent names the major-party challenger matched in a given year.
func Opponent(year int) string {
	if year == 2016 {
		return "CLINTON"
	}
	return "BIDEN"
}

type tally struct {
	trump, opponent, total float64
}

// ReadElection reads county presidential returns in long form (one row
// per candidate per county, possibly split by voting mode) and pivots them
// to one row per county. Share and margin are percentages of the two-party
// vote and are null when that vote is zero.
func ReadElection(ctx context.Context, r io.Reader, year int) (*table.Table, error) {
	name := fmt.Sprintf("elections_%d", year)
	rows, err := collect(StreamCSV(ctx, r, CSVOptions{TrimSpace: true, LazyQuotes: true}))
	if err != nil {
		return nil, eris.Wrapf(err, "source: read %s", name)
	}
	if len(rows) == 0 {
		return nil, &table.SchemaError{Source: name, Column: "candidate", Reason: "no header row"}
	}

	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.ToLower(strings.TrimSpace(h))
	}
	col := func(c string) int { return slices.Index(header, c) }
	for _, c := range []string{"candidate", "candidatevotes", "totalvotes", "county_fips"} {
		if col(c) < 0 {
			return nil, &table.SchemaError{Source: name, Column: c}
		}
	}
	iCand, iVotes, iTotal, iCounty, iState := col("candidate"), col("candidatevotes"), col("totalvotes"), col("county_fips"), col("state_fips")

	opponent := Opponent(year)
	var order []string
	tallies := make(map[string]*tally)
	for _, row := range rows[1:] {
		field := func(j int) string {
			if j >= 0 && j < len(row) {
				return row[j]
			}
			return ""
		}
		var key string
		if iState >= 0 {
			key = geo.CombineFIPS(field(iState), strings.TrimSuffix(field(iCounty), ".0"))
		} else {
			key = geo.PadFIPS(field(iCounty))
		}
		if !isCode(key) {
			continue
		}
		tl, ok := tallies[key]
		if !ok {
			tl = &tally{}
			tallies[key] = tl
			order = append(order, key)
		}

		votes, _ := ParseNumber(field(iVotes))
		cand := strings.ToUpper(field(iCand))
		switch {
		case strings.Contains(cand, "TRUMP"):
			tl.trump += votes
		case strings.Contains(cand, opponent):
			tl.opponent += votes
		}
		// Every candidate row repeats the county total.
		if total, ok := ParseNumber(field(iTotal)); ok {
			tl.total = math.Max(tl.total, total)
		}
	}

	names := ElectionColumns(year)
	columns := make([]table.Column, len(names))
	for i, n := range names {
		columns[i] = table.NumberColumn(n)
	}
	b := table.NewBuilder(name, geoKeyColumn, columns...)
	for _, key := range order {
		tl := tallies[key]
		two := tl.trump + tl.opponent
		share, margin := table.Null(), table.Null()
		if two > 0 {
			share = table.Number(tl.trump / two * 100)
			margin = table.Number((tl.trump - tl.opponent) / two * 100)
		}
		b.Append(key,
			table.Number(tl.trump),
			table.Number(tl.opponent),
			table.Number(two),
			table.Number(tl.total),
			share,
			margin,
		)
	}
	return b.Build()
}
