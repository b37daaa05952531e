package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/county-esda/internal/config"
	"github.com/sells-group/county-esda/internal/db"
	"github.com/sells-group/county-esda/internal/export"
	"github.com/sells-group/county-esda/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the county analysis",
	Long:  "Fuses the configured sources onto the county geometry, computes every configured statistic, and writes the GeoJSON layer and regression report. Falls back to the synthetic sample when raw inputs are missing.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		opts := runOptions{}
		opts.sample, _ = cmd.Flags().GetBool("sample")
		opts.geometry, _ = cmd.Flags().GetString("geometry")
		opts.outDir, _ = cmd.Flags().GetString("out")

		res, err := runAnalysis(ctx, cfg, opts)
		if err != nil {
			return err
		}
		formatSummary(os.Stdout, res.Summary())
		return nil
	},
}

func init() {
	runCmd.Flags().Bool("sample", false, "use the synthetic five-county sample instead of raw inputs")
	runCmd.Flags().String("geometry", "", "county boundary shapefile (overrides geometry.path)")
	runCmd.Flags().String("out", "", "output directory (overrides output.dir)")
	rootCmd.AddCommand(runCmd)
}

type runOptions struct {
	sample   bool
	geometry string
	outDir   string
}

// applyFlags returns a copy of c with the command-line overrides applied.
func (o runOptions) applyFlags(c *config.Config) *config.Config {
	out := *c
	if o.geometry != "" {
		out.Geometry.Driver = config.GeometryShapefile
		out.Geometry.Path = o.geometry
	}
	if o.outDir != "" {
		out.Output.Dir = o.outDir
	}
	return &out
}

func runAnalysis(ctx context.Context, base *config.Config, opts runOptions) (*pipeline.Result, error) {
	log := zap.L().With(zap.String("command", "run"))
	c := opts.applyFlags(base)
	if err := c.Validate(); err != nil {
		return nil, err
	}

	var pool db.Pool
	if c.NeedsDatabase() && !opts.sample {
		p, err := openPool(ctx, c)
		if err != nil {
			return nil, err
		}
		defer p.Close()
		pool = p
	}

	var in pipeline.Inputs
	if !opts.sample {
		var err error
		in, err = pipeline.LoadInputs(ctx, c, pool)
		var missing *pipeline.MissingAssetsError
		switch {
		case errors.As(err, &missing):
			log.Warn("missing raw inputs; falling back to sample data", zap.Strings("paths", missing.Paths))
			opts.sample = true
		case err != nil:
			return nil, eris.Wrap(err, "load inputs")
		}
	}
	if opts.sample {
		var err error
		if in, err = pipeline.SampleInputs(); err != nil {
			return nil, err
		}
		c = pipeline.SampleConfig(c)
	}

	st, err := initStore(ctx, c, pool)
	if err != nil {
		return nil, err
	}
	if st != nil {
		defer st.Close() //nolint:errcheck
	}

	res, err := pipeline.New(c, st, pool).Run(ctx, in)
	if err != nil {
		return nil, eris.Wrap(err, "run pipeline")
	}
	if err := writeArtifacts(c, res); err != nil {
		return nil, err
	}
	return res, nil
}

// writeArtifacts writes the GeoJSON layer, the regression report and the
// run summary into the output directory.
func writeArtifacts(c *config.Config, res *pipeline.Result) error {
	log := zap.L().With(zap.String("command", "run"))
	format, err := export.ParseFormat(c.Output.ReportFormat)
	if err != nil {
		return err
	}

	geoOpts := export.DefaultGeoJSONOptions()
	geoOpts.Precision = c.Output.Precision
	geoPath := filepath.Join(c.Output.Dir, c.Output.GeoJSON)
	if err := export.WriteFile(geoPath, func(w io.Writer) error {
		return export.WriteGeoJSON(w, res.Table, geoOpts)
	}); err != nil {
		return eris.Wrap(err, "write geojson")
	}
	log.Info("geojson written", zap.String("path", geoPath), zap.Int("features", res.Table.Len()))

	if len(res.Regressions) > 0 {
		reportPath := filepath.Join(c.Output.Dir, c.Output.Report+format.Ext())
		if err := export.WriteFile(reportPath, func(w io.Writer) error {
			return export.WriteRegression(w, res.Regressions, format)
		}); err != nil {
			return eris.Wrap(err, "write regression report")
		}
		log.Info("regression report written", zap.String("path", reportPath))
	}

	summaryPath := filepath.Join(c.Output.Dir, "summary"+format.Ext())
	if err := export.WriteFile(summaryPath, func(w io.Writer) error {
		return export.Write(w, res.Summary(), format)
	}); err != nil {
		return eris.Wrap(err, "write summary")
	}
	return nil
}

// formatSummary writes a compact table of global statistics and failures.
func formatSummary(out io.Writer, s pipeline.Summary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Run:\t%s\n", truncateID(s.RunID))
	_, _ = fmt.Fprintf(w, "Units:\t%d (%d excluded)\n", s.Units, s.Excluded)
	if s.Sample {
		_, _ = fmt.Fprintln(w, "Data:\tsynthetic sample")
	}
	if s.Weights != nil {
		_, _ = fmt.Fprintf(w, "Weights:\t%s, mean %.2f neighbors, %d islands\n", s.Weights.Transform, s.Weights.MeanNeighbors, s.Weights.Islands)
	}
	_ = w.Flush()

	if len(s.Global) > 0 {
		_, _ = fmt.Fprintln(out)
		w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "VARIABLE\tMORAN_I\tZ\tP_SIM\tN")
		for _, g := range s.Global {
			name := g.Variable
			if g.Variable2 != "" {
				name += " x " + g.Variable2
			}
			_, _ = fmt.Fprintf(w, "%s\t%.4f\t%.3f\t%.4f\t%d\n", name, g.I, g.Z, g.PSim, g.N)
		}
		_ = w.Flush()
	}

	if len(s.Clusters) > 0 {
		_, _ = fmt.Fprintln(out)
		w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "CLUSTERS\tHH\tLL\tHL\tLH\tNS")
		names := make([]string, 0, len(s.Clusters))
		for name := range s.Clusters {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			c := s.Clusters[name]
			_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\n", name, c["HH"], c["LL"], c["HL"], c["LH"], c["NotSignificant"])
		}
		_ = w.Flush()
	}

	if s.Selected != "" {
		_, _ = fmt.Fprintf(out, "\nSelected regression: %s\n", s.Selected)
	}
	if len(s.Failures) > 0 {
		_, _ = fmt.Fprintf(out, "\n%d statistic(s) failed:\n", len(s.Failures))
		for _, f := range s.Failures {
			_, _ = fmt.Fprintf(out, "  %s %s: %s\n", f.Stage, f.Variable, f.Error)
		}
	}
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
