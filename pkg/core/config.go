package core

import (
	"bytes"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// Catalog persistence formats
const (
	CatalogFormatSQLite = "sqlite"
	CatalogFormatJSON   = "json"
)

// Config is the full semlake configuration
type Config struct {
	Database  string        `yaml:"database"`  // SQLite file holding the reference model and, by default, the catalog
	Reference string        `yaml:"reference"` // Optional N-Triples file imported at boot
	Datasets  string        `yaml:"datasets"`  // Base folder for relative mount paths
	Catalog   CatalogConfig `yaml:"catalog"`
	Sketch    SketchConfig  `yaml:"sketch"`
	Index     IndexConfig   `yaml:"index"`
	Mapping   MappingConfig `yaml:"mapping"`
	Join      JoinConfig    `yaml:"join"`
	Log       LogConfig     `yaml:"log"`
	Metrics   MetricsConfig `yaml:"metrics"`
}

// CatalogConfig selects where the catalog is persisted
type CatalogConfig struct {
	Format string `yaml:"format"` // "sqlite" (inside Database) or "json"
	File   string `yaml:"file"`   // JSON file path when Format is "json"
}

// SketchConfig configures MinHash sketches
type SketchConfig struct {
	NumPerm int   `yaml:"num_perm"`
	Seed    int64 `yaml:"seed"`
}

// IndexConfig configures the ensemble index
type IndexConfig struct {
	NumPart             int     `yaml:"num_part"`
	MaxR                int     `yaml:"max_r"`
	FalsePositiveWeight float64 `yaml:"fp_weight"`
	FalseNegativeWeight float64 `yaml:"fn_weight"`
}

// MappingConfig configures the schema mapper
type MappingConfig struct {
	Threshold float64 `yaml:"threshold"` // Containment needed to map a column to a level
	Workers   int     `yaml:"workers"`   // Concurrent column sketches, 0 = unbounded
}

// JoinConfig configures the joinability estimator
type JoinConfig struct {
	Delta float64 `yaml:"delta"` // Bisection stops once the interval is narrower than this
}

// LogConfig configures logging
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Addr string `yaml:"addr"` // Listen address, empty disables the endpoint
}

// DefaultConfig returns the configuration used when no file is given
func DefaultConfig() Config {
	return Config{
		Database: "semlake.db",
		Datasets: ".",
		Catalog: CatalogConfig{
			Format: CatalogFormatSQLite,
		},
		Sketch: SketchConfig{
			NumPerm: 256,
			Seed:    1,
		},
		Index: IndexConfig{
			NumPart:             32,
			MaxR:                8,
			FalsePositiveWeight: 0.5,
			FalseNegativeWeight: 0.5,
		},
		Mapping: MappingConfig{
			Threshold: 0.8,
		},
		Join: JoinConfig{
			Delta: 0.049,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig and validates the result.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "read config %s", path)
	}
	if err := cfg.Decode(data); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, cfg.Validate()
}

// Decode overlays YAML data onto the receiver. Unknown keys are rejected.
func (c *Config) Decode(data []byte) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(c)
}

// Validate checks value ranges
func (c Config) Validate() error {
	if c.Database == "" {
		return errors.New("database path cannot be empty")
	}
	switch strings.ToLower(c.Catalog.Format) {
	case CatalogFormatSQLite:
	case CatalogFormatJSON:
		if c.Catalog.File == "" {
			return errors.New("catalog.file is required for the json catalog format")
		}
	default:
		return errors.Newf("unknown catalog format %q", c.Catalog.Format)
	}
	if c.Sketch.NumPerm <= 0 {
		return errors.Newf("sketch.num_perm must be positive, got %d", c.Sketch.NumPerm)
	}
	if c.Index.NumPart <= 0 {
		return errors.Newf("index.num_part must be positive, got %d", c.Index.NumPart)
	}
	if c.Index.MaxR <= 0 || c.Index.MaxR > c.Sketch.NumPerm {
		return errors.Newf("index.max_r must be in [1, %d], got %d", c.Sketch.NumPerm, c.Index.MaxR)
	}
	if c.Index.FalsePositiveWeight < 0 || c.Index.FalseNegativeWeight < 0 ||
		c.Index.FalsePositiveWeight+c.Index.FalseNegativeWeight == 0 {
		return errors.New("index weights must be non-negative and not both zero")
	}
	if c.Mapping.Threshold <= 0 || c.Mapping.Threshold > 1 {
		return errors.Newf("mapping.threshold must be in (0, 1], got %g", c.Mapping.Threshold)
	}
	if c.Mapping.Workers < 0 {
		return errors.Newf("mapping.workers must be non-negative, got %d", c.Mapping.Workers)
	}
	if c.Join.Delta <= 0 || c.Join.Delta >= 1 {
		return errors.Newf("join.delta must be in (0, 1), got %g", c.Join.Delta)
	}
	if _, err := ParseLogLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}
