package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/county-esda/internal/config"
	"github.com/sells-group/county-esda/internal/db"
	"github.com/sells-group/county-esda/internal/store"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "esda",
	Short: "County data fusion and spatial statistics",
	Long:  "Fuses county attribute sources onto boundary geometries, builds spatial weights, and computes global and local Moran's I, Getis-Ord Gi* hotspots and spatial regressions.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openPool connects to store.database_url.
func openPool(ctx context.Context, c *config.Config) (*pgxpool.Pool, error) {
	if c.Store.DatabaseURL == "" {
		return nil, eris.New("database URL is required (ESDA_STORE_DATABASE_URL)")
	}
	pool, err := db.Connect(ctx, c.Store.DatabaseURL, c.Store.Pool)
	if err != nil {
		return nil, eris.Wrap(err, "connect database")
	}
	return pool, nil
}

// initStore opens the configured run-history store. It returns nil for
// the "none" driver. A postgres store reuses pool when one is given.
func initStore(ctx context.Context, c *config.Config, pool db.Pool) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch c.Store.Driver {
	case "none":
		return nil, nil
	case "sqlite":
		path := c.Store.SQLitePath
		if path == "" {
			path = "esda.db"
		}
		st, err = store.NewSQLite(path)
	case "postgres":
		if pool != nil {
			st = store.NewPostgresFromPool(pool)
		} else {
			st, err = store.NewPostgres(ctx, c.Store.DatabaseURL, c.Store.Pool)
		}
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}
