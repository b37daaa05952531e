// Package config loads the run configuration from config.yaml and ESDA_*
// environment variables and installs the global logger.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/county-esda/internal/db"
	"github.com/sells-group/county-esda/internal/esda"
	"github.com/sells-group/county-esda/internal/fusion"
	"github.com/sells-group/county-esda/internal/source"
	"github.com/sells-group/county-esda/internal/spreg"
	"github.com/sells-group/county-esda/internal/weights"
)

// Config is the top-level configuration.
type Config struct {
	Log        LogConfig        `yaml:"log" mapstructure:"log" json:"log"`
	Analysis   AnalysisConfig   `yaml:"analysis" mapstructure:"analysis" json:"analysis"`
	Weights    WeightsConfig    `yaml:"weights" mapstructure:"weights" json:"weights"`
	Regression RegressionConfig `yaml:"regression" mapstructure:"regression" json:"regression"`
	Fusion     FusionConfig     `yaml:"fusion" mapstructure:"fusion" json:"fusion"`
	Sources    SourcesConfig    `yaml:"sources" mapstructure:"sources" json:"sources"`
	Geometry   GeometryConfig   `yaml:"geometry" mapstructure:"geometry" json:"geometry"`
	Output     OutputConfig     `yaml:"output" mapstructure:"output" json:"output"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store" json:"store"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level" json:"level"`
	Format string `yaml:"format" mapstructure:"format" json:"format"`
}

// Pair names the two variables of a bivariate statistic.
type Pair struct {
	X string `yaml:"x" mapstructure:"x" json:"x"`
	Y string `yaml:"y" mapstructure:"y" json:"y"`
}

// AnalysisConfig configures the ESDA stage.
type AnalysisConfig struct {
	Variables    []string `yaml:"variables" mapstructure:"variables" json:"variables"`
	Bivariate    []Pair   `yaml:"bivariate" mapstructure:"bivariate" json:"bivariate"`
	Significance float64  `yaml:"significance" mapstructure:"significance" json:"significance"`
	Permutations int      `yaml:"permutations" mapstructure:"permutations" json:"permutations"`
	Seed         int64    `yaml:"seed" mapstructure:"seed" json:"seed"`
	FDR          bool     `yaml:"fdr" mapstructure:"fdr" json:"fdr"`
	MinUnits     int      `yaml:"min_units" mapstructure:"min_units" json:"min_units"`
	Concurrency  int      `yaml:"concurrency" mapstructure:"concurrency" json:"concurrency"`
}

// ESDAOptions converts the analysis section.
func (a AnalysisConfig) ESDAOptions() esda.Options {
	return esda.Options{
		Permutations: a.Permutations,
		Seed:         a.Seed,
		Significance: a.Significance,
		FDR:          a.FDR,
		MinUnits:     a.MinUnits,
		Concurrency:  a.Concurrency,
	}
}

// WeightsConfig configures the weights builder.
type WeightsConfig struct {
	Mode           string  `yaml:"mode" mapstructure:"mode" json:"mode"`
	K              int     `yaml:"k" mapstructure:"k" json:"k"`
	ThresholdKM    float64 `yaml:"threshold_km" mapstructure:"threshold_km" json:"threshold_km"`
	RowStandardize bool    `yaml:"row_standardize" mapstructure:"row_standardize" json:"row_standardize"`
	Precision      float64 `yaml:"precision" mapstructure:"precision" json:"precision"`
}

// Params converts the weights section.
func (w WeightsConfig) Params() weights.Params {
	return weights.Params{
		Mode:           weights.Mode(strings.ToLower(w.Mode)),
		K:              w.K,
		ThresholdKM:    w.ThresholdKM,
		RowStandardize: w.RowStandardize,
		Precision:      w.Precision,
	}
}

// RegressionConfig configures the regression stage. An empty dependent
// skips the stage.
type RegressionConfig struct {
	Dependent  string   `yaml:"dependent" mapstructure:"dependent" json:"dependent"`
	Predictors []string `yaml:"predictors" mapstructure:"predictors" json:"predictors"`
	Specs      []string `yaml:"specs" mapstructure:"specs" json:"specs"`
	MaxIter    int      `yaml:"max_iter" mapstructure:"max_iter" json:"max_iter"`
	Tolerance  float64  `yaml:"tolerance" mapstructure:"tolerance" json:"tolerance"`
}

// Options converts the search settings.
func (r RegressionConfig) Options() spreg.Options {
	return spreg.Options{MaxIter: r.MaxIter, Tolerance: r.Tolerance}
}

// FusionConfig configures the join and derived metrics.
type FusionConfig struct {
	ExcludePrefixes []string            `yaml:"exclude_prefixes" mapstructure:"exclude_prefixes" json:"exclude_prefixes"`
	AnchorAttrs     []fusion.AnchorAttr `yaml:"anchor_attrs" mapstructure:"anchor_attrs" json:"anchor_attrs"`
	// StandardDerivations prepends fusion.DefaultDerivations to the
	// configured ones.
	StandardDerivations bool               `yaml:"standard_derivations" mapstructure:"standard_derivations" json:"standard_derivations"`
	Derivations         fusion.Derivations `yaml:"derivations" mapstructure:"derivations" json:"derivations"`
}

// AllDerivations returns the derivations to apply, standard ones first.
func (f FusionConfig) AllDerivations() fusion.Derivations {
	if !f.StandardDerivations {
		return f.Derivations
	}
	d := fusion.DefaultDerivations()
	d.Deltas = append(d.Deltas, f.Derivations.Deltas...)
	d.Composites = append(d.Composites, f.Derivations.Composites...)
	d.Classes = append(d.Classes, f.Derivations.Classes...)
	return d
}

// ElectionSource is one year of county presidential returns.
type ElectionSource struct {
	Path string `yaml:"path" mapstructure:"path" json:"path"`
	Year int    `yaml:"year" mapstructure:"year" json:"year"`
}

// WonderSource is one mortality export.
type WonderSource struct {
	Path   string `yaml:"path" mapstructure:"path" json:"path"`
	Metric string `yaml:"metric" mapstructure:"metric" json:"metric"`
}

// SourcesConfig lists the attribute files to fuse.
type SourcesConfig struct {
	Tables    []source.Spec    `yaml:"tables" mapstructure:"tables" json:"tables"`
	Elections []ElectionSource `yaml:"elections" mapstructure:"elections" json:"elections"`
	Wonder    []WonderSource   `yaml:"wonder" mapstructure:"wonder" json:"wonder"`
}

// Empty reports whether no source is configured.
func (s SourcesConfig) Empty() bool {
	return len(s.Tables) == 0 && len(s.Elections) == 0 && len(s.Wonder) == 0
}

// Geometry drivers.
const (
	GeometryShapefile = "shapefile"
	GeometryPostGIS   = "postgis"
)

// GeometryConfig selects the boundary source.
type GeometryConfig struct {
	Driver     string   `yaml:"driver" mapstructure:"driver" json:"driver"`
	Path       string   `yaml:"path" mapstructure:"path" json:"path"`
	KeyField   string   `yaml:"key_field" mapstructure:"key_field" json:"key_field"`
	AttrFields []string `yaml:"attr_fields" mapstructure:"attr_fields" json:"attr_fields"`
}

// OutputConfig configures artifacts.
type OutputConfig struct {
	Dir          string `yaml:"dir" mapstructure:"dir" json:"dir"`
	GeoJSON      string `yaml:"geojson" mapstructure:"geojson" json:"geojson"`
	Report       string `yaml:"report" mapstructure:"report" json:"report"`
	ReportFormat string `yaml:"report_format" mapstructure:"report_format" json:"report_format"`
	Precision    int    `yaml:"precision" mapstructure:"precision" json:"precision"`
	// PostGIS writes per-county statistics to geo.county_esda.
	PostGIS bool `yaml:"postgis" mapstructure:"postgis" json:"postgis"`
}

// StoreConfig selects the run-history backend.
type StoreConfig struct {
	Driver      string        `yaml:"driver" mapstructure:"driver" json:"driver"`
	SQLitePath  string        `yaml:"sqlite_path" mapstructure:"sqlite_path" json:"sqlite_path"`
	DatabaseURL string        `yaml:"database_url" mapstructure:"database_url" json:"-"`
	Pool        db.PoolConfig `yaml:"pool" mapstructure:"pool" json:"pool"`
}

// Validate checks cross-field constraints viper cannot express.
func (c *Config) Validate() error {
	if err := c.Analysis.ESDAOptions().Validate(); err != nil {
		return eris.Wrap(err, "config: analysis")
	}
	p := c.Weights.Params()
	switch p.Mode {
	case weights.Queen, weights.Rook:
	case weights.KNN:
		if p.K < 1 {
			return eris.Errorf("config: weights.k must be >= 1, got %d", p.K)
		}
	case weights.Distance:
		if p.ThresholdKM <= 0 {
			return eris.New("config: weights.threshold_km is required for distance weights")
		}
	default:
		return eris.Errorf("config: unknown weights.mode %q", c.Weights.Mode)
	}
	if c.Regression.Dependent != "" {
		if len(c.Regression.Predictors) == 0 {
			return eris.New("config: regression.predictors is empty")
		}
		for _, s := range c.Regression.Specs {
			if _, err := spreg.ParseSpec(s); err != nil {
				return eris.Wrap(err, "config: regression.specs")
			}
		}
		if err := c.Regression.Options().Validate(); err != nil {
			return eris.Wrap(err, "config: regression")
		}
	}
	switch c.Geometry.Driver {
	case GeometryShapefile, GeometryPostGIS:
	default:
		return eris.Errorf("config: unknown geometry.driver %q", c.Geometry.Driver)
	}
	switch c.Store.Driver {
	case "sqlite", "postgres", "none":
	default:
		return eris.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}
	if c.NeedsDatabase() && c.Store.DatabaseURL == "" {
		return eris.New("config: store.database_url is required for postgis geometry, postgis output or the postgres store")
	}
	return nil
}

// NeedsDatabase reports whether any component talks to PostgreSQL.
func (c *Config) NeedsDatabase() bool {
	return c.Store.Driver == "postgres" || c.Geometry.Driver == GeometryPostGIS || c.Output.PostGIS
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ESDA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("analysis.variables", []string{"trump_share_2016", "freq_phys_distress_pct"})
	v.SetDefault("analysis.bivariate", []map[string]string{
		{"x": "freq_phys_distress_pct", "y": "trump_share_2016"},
	})
	v.SetDefault("analysis.significance", 0.05)
	v.SetDefault("analysis.permutations", 999)
	v.SetDefault("analysis.seed", 12345)
	v.SetDefault("analysis.fdr", false)
	v.SetDefault("analysis.min_units", 30)
	v.SetDefault("analysis.concurrency", 4)

	v.SetDefault("weights.mode", string(weights.Queen))
	v.SetDefault("weights.k", 8)
	v.SetDefault("weights.threshold_km", 0)
	v.SetDefault("weights.row_standardize", true)
	v.SetDefault("weights.precision", weights.DefaultPrecision)

	v.SetDefault("regression.dependent", "trump_share_2016")
	v.SetDefault("regression.predictors", []string{"freq_phys_distress_pct", "od_1316_rate", "rural"})
	v.SetDefault("regression.specs", []string{string(spreg.OLS), string(spreg.Lag), string(spreg.Error)})
	v.SetDefault("regression.max_iter", spreg.DefaultOptions().MaxIter)
	v.SetDefault("regression.tolerance", spreg.DefaultOptions().Tolerance)

	v.SetDefault("fusion.exclude_prefixes", []string{"02", "15", "60", "66", "69", "72", "78"})
	v.SetDefault("fusion.anchor_attrs", []map[string]string{
		{"attr": "NAME", "column": "NAME"},
		{"attr": "STATEFP", "column": "state_fips"},
	})
	v.SetDefault("fusion.standard_derivations", true)

	v.SetDefault("geometry.driver", GeometryShapefile)
	v.SetDefault("geometry.path", "data/raw/cb_2018_us_county_500k.shp")
	v.SetDefault("geometry.key_field", "GEOID")
	v.SetDefault("geometry.attr_fields", []string{"NAME", "STATEFP"})

	v.SetDefault("output.dir", "out")
	v.SetDefault("output.geojson", "counties_esda.geojson")
	v.SetDefault("output.report", "regression")
	v.SetDefault("output.report_format", "json")
	v.SetDefault("output.precision", 2)
	v.SetDefault("output.postgis", false)

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "esda.db")
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
