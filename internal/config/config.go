package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds one geoweaver invocation's settings. Model sections are only
// read by the model being run.
type Config struct {
	// Workspace is the root directory for intermediate and output files.
	Workspace string `yaml:"workspace"`
	// Suffix is appended to every output file name.
	Suffix string `yaml:"suffix"`

	Execution ExecutionConfig `yaml:"execution"`
	Logging   LoggingConfig   `yaml:"logging"`

	Carbon    CarbonConfig    `yaml:"carbon"`
	Streams   StreamsConfig   `yaml:"streams"`
	Fisheries FisheriesConfig `yaml:"fisheries"`
}

// ExecutionConfig controls the coordinator and the block-parallel primitives.
type ExecutionConfig struct {
	// Workers bounds concurrent tasks; 1 runs serially.
	Workers int `yaml:"workers"`
	// BlockSize overrides the block edge used by map operations. Zero keeps
	// each raster's native block size.
	BlockSize int `yaml:"block_size"`
	// Strict turns per-pixel numerical failures into task failures.
	Strict bool `yaml:"strict"`
	// Ledger is "json" or "sqlite".
	Ledger string `yaml:"ledger"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// CarbonConfig configures the carbon storage model.
type CarbonConfig struct {
	// LandCover is an integer land-cover raster.
	LandCover string `yaml:"land_cover"`
	// Pools is a table keyed by lucode with c_above, c_below, c_soil and
	// c_dead columns in Mg/ha.
	Pools string `yaml:"pools"`
	// AOI optionally clips the result and receives per-polygon totals.
	AOI string `yaml:"aoi"`
	// MissingCodes is "error" or "zero".
	MissingCodes string `yaml:"missing_codes"`
}

// StreamsConfig configures the flow routing model.
type StreamsConfig struct {
	DEM string `yaml:"dem"`
	// Method is "d8" or "dinf".
	Method       string  `yaml:"method"`
	ResolveFlats bool    `yaml:"resolve_flats"`
	Threshold    float64 `yaml:"threshold"`
	// Smoothing is the Gaussian sigma, in pixels, applied to the distance to
	// stream raster. Zero disables it.
	Smoothing float64 `yaml:"smoothing"`
	// DistanceInMapUnits scales the distance raster by the pixel size.
	DistanceInMapUnits bool `yaml:"distance_in_map_units"`
	// Watersheds optionally receives per-polygon accumulation statistics.
	Watersheds string   `yaml:"watersheds"`
	Stats      []string `yaml:"stats"`
}

// FisheriesConfig configures the population model.
type FisheriesConfig struct {
	Params string `yaml:"params"`
	// Population is "age" or "stage".
	Population string `yaml:"population"`
	Sexes      int    `yaml:"sexes"`
	Timesteps  int    `yaml:"timesteps"`

	Recruitment   string  `yaml:"recruitment"`
	Alpha         float64 `yaml:"alpha"`
	Beta          float64 `yaml:"beta"`
	FixedRecruits float64 `yaml:"fixed_recruits"`

	InitialRecruits float64 `yaml:"initial_recruits"`
	SpawnUnits      string  `yaml:"spawn_units"`
	HarvestUnits    string  `yaml:"harvest_units"`

	// Migration maps class names to migration matrix tables.
	Migration map[string]string `yaml:"migration"`

	FracPostProcess float64 `yaml:"frac_post_process"`
	UnitPrice       float64 `yaml:"unit_price"`
}

var (
	validLedgers      = []string{"json", "sqlite"}
	validLevels       = []string{"debug", "info", "warn", "error"}
	validFormats      = []string{"json", "console"}
	validMissing      = []string{"error", "zero"}
	validFlowMethods  = []string{"d8", "dinf"}
	validPopulations  = []string{"age", "stage"}
	validRecruitments = []string{"beverton-holt", "ricker", "fecundity", "fixed"}
	validUnits        = []string{"individuals", "weight"}
)

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Workspace == "" {
		c.Workspace = "."
	}
	if c.Execution.Workers <= 0 {
		c.Execution.Workers = 1
	}
	if c.Execution.Ledger == "" {
		c.Execution.Ledger = "json"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	if c.Carbon.MissingCodes == "" {
		c.Carbon.MissingCodes = "error"
	}
	if c.Streams.Method == "" {
		c.Streams.Method = "d8"
	}
	if c.Streams.Threshold == 0 {
		c.Streams.Threshold = 1000
	}
	if len(c.Streams.Stats) == 0 {
		c.Streams.Stats = []string{"count", "sum", "mean", "max"}
	}
	if c.Fisheries.Population == "" {
		c.Fisheries.Population = "age"
	}
	if c.Fisheries.Sexes == 0 {
		c.Fisheries.Sexes = 1
	}
	if c.Fisheries.Timesteps == 0 {
		c.Fisheries.Timesteps = 100
	}
	if c.Fisheries.Recruitment == "" {
		c.Fisheries.Recruitment = "beverton-holt"
	}
	if c.Fisheries.SpawnUnits == "" {
		c.Fisheries.SpawnUnits = "individuals"
	}
	if c.Fisheries.HarvestUnits == "" {
		c.Fisheries.HarvestUnits = "individuals"
	}
}

// Load reads a YAML configuration file. A missing file yields the defaults.
// Relative paths in the file are resolved against the file's directory.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	cfg.Resolve(filepath.Dir(path))
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Resolve makes every relative file path absolute against base.
func (c *Config) Resolve(base string) {
	abs := func(p *string) {
		if *p == "" || filepath.IsAbs(*p) {
			return
		}
		*p = filepath.Join(base, *p)
	}
	abs(&c.Workspace)
	abs(&c.Carbon.LandCover)
	abs(&c.Carbon.Pools)
	abs(&c.Carbon.AOI)
	abs(&c.Streams.DEM)
	abs(&c.Streams.Watersheds)
	abs(&c.Fisheries.Params)
	for k, v := range c.Fisheries.Migration {
		abs(&v)
		c.Fisheries.Migration[k] = v
	}
}

// Validate checks the shared sections. Model sections are checked by the
// model's own Validate method before it runs.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Workspace) == "" {
		errs = append(errs, errors.New("workspace is required"))
	}
	if strings.ContainsAny(c.Suffix, `/\`) {
		errs = append(errs, fmt.Errorf("suffix %q must not contain path separators", c.Suffix))
	}
	if c.Execution.Workers < 1 {
		errs = append(errs, fmt.Errorf("execution.workers must be >= 1, got %d", c.Execution.Workers))
	}
	if c.Execution.BlockSize < 0 {
		errs = append(errs, fmt.Errorf("execution.block_size must be >= 0, got %d", c.Execution.BlockSize))
	}
	errs = append(errs,
		oneOf("execution.ledger", c.Execution.Ledger, validLedgers),
		oneOf("logging.level", c.Logging.Level, validLevels),
		oneOf("logging.format", c.Logging.Format, validFormats),
	)
	return errors.Join(errs...)
}

// Validate checks the carbon section.
func (c *CarbonConfig) Validate() error {
	return errors.Join(
		required("carbon.land_cover", c.LandCover),
		required("carbon.pools", c.Pools),
		oneOf("carbon.missing_codes", c.MissingCodes, validMissing),
	)
}

// Validate checks the streams section.
func (c *StreamsConfig) Validate() error {
	errs := []error{
		required("streams.dem", c.DEM),
		oneOf("streams.method", c.Method, validFlowMethods),
	}
	if c.Threshold <= 0 {
		errs = append(errs, fmt.Errorf("streams.threshold must be > 0, got %v", c.Threshold))
	}
	if c.Smoothing < 0 {
		errs = append(errs, fmt.Errorf("streams.smoothing must be >= 0, got %v", c.Smoothing))
	}
	return errors.Join(errs...)
}

// Validate checks the fisheries section.
func (c *FisheriesConfig) Validate() error {
	errs := []error{
		required("fisheries.params", c.Params),
		oneOf("fisheries.population", c.Population, validPopulations),
		oneOf("fisheries.recruitment", c.Recruitment, validRecruitments),
		oneOf("fisheries.spawn_units", c.SpawnUnits, validUnits),
		oneOf("fisheries.harvest_units", c.HarvestUnits, validUnits),
	}
	if c.Sexes != 1 && c.Sexes != 2 {
		errs = append(errs, fmt.Errorf("fisheries.sexes must be 1 or 2, got %d", c.Sexes))
	}
	if c.Timesteps < 1 {
		errs = append(errs, fmt.Errorf("fisheries.timesteps must be >= 1, got %d", c.Timesteps))
	}
	if c.FracPostProcess < 0 || c.FracPostProcess > 1 {
		errs = append(errs, fmt.Errorf("fisheries.frac_post_process must be in [0, 1], got %v", c.FracPostProcess))
	}
	return errors.Join(errs...)
}

func required(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("%s is required", field)
	}
	return nil
}

func oneOf(field, v string, valid []string) error {
	if slices.Contains(valid, strings.ToLower(v)) {
		return nil
	}
	return fmt.Errorf("invalid %s: %q (valid: %v)", field, v, valid)
}
