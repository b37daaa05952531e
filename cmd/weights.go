package main

import (
	"context"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/county-esda/internal/config"
	"github.com/sells-group/county-esda/internal/export"
	"github.com/sells-group/county-esda/internal/geo"
	"github.com/sells-group/county-esda/internal/geospatial"
	"github.com/sells-group/county-esda/internal/weights"
)

var weightsCmd = &cobra.Command{
	Use:   "weights",
	Short: "Build a spatial weight matrix and print its connectivity",
	Long:  "Loads the county geometry, applies the configured exclusions, builds the configured weight matrix and prints its summary: links, islands and neighbor cardinalities.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		opts := weightsOptions{}
		opts.geometry, _ = cmd.Flags().GetString("geometry")
		opts.mode, _ = cmd.Flags().GetString("mode")
		opts.k, _ = cmd.Flags().GetInt("k")
		opts.thresholdKM, _ = cmd.Flags().GetFloat64("threshold-km")
		format, _ := cmd.Flags().GetString("format")

		summary, err := summarizeWeights(ctx, cfg, opts)
		if err != nil {
			return err
		}
		return writeWeightsSummary(os.Stdout, summary, format)
	},
}

func init() {
	weightsCmd.Flags().String("geometry", "", "county boundary shapefile (overrides geometry.path)")
	weightsCmd.Flags().String("mode", "", "queen, rook, knn or distance (overrides weights.mode)")
	weightsCmd.Flags().Int("k", 0, "neighbors for knn weights (overrides weights.k)")
	weightsCmd.Flags().Float64("threshold-km", 0, "distance band in kilometers (overrides weights.threshold_km)")
	weightsCmd.Flags().String("format", "json", "output format: json or yaml")
	rootCmd.AddCommand(weightsCmd)
}

type weightsOptions struct {
	geometry    string
	mode        string
	k           int
	thresholdKM float64
}

func (o weightsOptions) applyFlags(c *config.Config) *config.Config {
	out := *c
	if o.geometry != "" {
		out.Geometry.Driver = config.GeometryShapefile
		out.Geometry.Path = o.geometry
	}
	if o.mode != "" {
		out.Weights.Mode = o.mode
	}
	if o.k > 0 {
		out.Weights.K = o.k
	}
	if o.thresholdKM > 0 {
		out.Weights.ThresholdKM = o.thresholdKM
	}
	return &out
}

func summarizeWeights(ctx context.Context, base *config.Config, opts weightsOptions) (weights.Summary, error) {
	c := opts.applyFlags(base)
	if err := c.Validate(); err != nil {
		return weights.Summary{}, err
	}

	var (
		layer *geo.Layer
		err   error
	)
	if c.Geometry.Driver == config.GeometryPostGIS {
		pool, perr := openPool(ctx, c)
		if perr != nil {
			return weights.Summary{}, perr
		}
		defer pool.Close()
		layer, err = geospatial.LoadCounties(ctx, pool, nil)
	} else {
		layer, err = geo.LoadShapefile(c.Geometry.Path, geo.ShapefileOptions{
			KeyField:   c.Geometry.KeyField,
			AttrFields: c.Geometry.AttrFields,
		})
	}
	if err != nil {
		return weights.Summary{}, eris.Wrap(err, "load geometry")
	}

	layer, excluded, err := layer.Exclude(c.Fusion.ExcludePrefixes)
	if err != nil {
		return weights.Summary{}, eris.Wrap(err, "apply exclusions")
	}
	w, err := weights.Build(layer, c.Weights.Params())
	if err != nil {
		return weights.Summary{}, eris.Wrap(err, "build weights")
	}
	zap.L().Info("weights built",
		zap.String("mode", c.Weights.Mode),
		zap.Int("units", w.N()),
		zap.Int("excluded", len(excluded)),
	)
	return w.Summary(), nil
}

func writeWeightsSummary(out io.Writer, s weights.Summary, format string) error {
	f, err := export.ParseFormat(format)
	if err != nil {
		return err
	}
	return export.Write(out, s, f)
}
