package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/county-esda/internal/geospatial"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply geo schema migrations",
	Long:  "Applies all pending SQL migrations to the geo schema in lexicographic order, then creates the run-history table of the configured store.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		pool, err := openPool(ctx, cfg)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := geospatial.Migrate(ctx, pool); err != nil {
			return eris.Wrap(err, "geo migrate")
		}

		st, err := initStore(ctx, cfg, pool)
		if err != nil {
			return err
		}
		if st != nil {
			_ = st.Close()
		}

		zap.L().Info("all geo migrations applied successfully")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
