// Package config handles configuration loading for the parcel server.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Data   DataConfig   `yaml:"data"`
	Cache  CacheConfig  `yaml:"cache"`
	Query  QueryConfig  `yaml:"query"`
	Render RenderConfig `yaml:"render"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port" validate:"min=1,max=65535"`
	CORSOrigins []string `yaml:"cors_origins"`
	Title       string   `yaml:"title"`
	// LoadWorkers bounds how many datasets are read concurrently at startup.
	LoadWorkers int `yaml:"load_workers" validate:"min=1"`
}

// DataConfig holds the datasets in file order. The first one is the default
// unless "default" names another.
type DataConfig struct {
	DefaultDataset string
	Datasets       map[string]DatasetConfig `validate:"min=1,dive"`
	order          []string
}

// DatasetConfig describes one parcel file.
type DatasetConfig struct {
	Path       string          `yaml:"path" validate:"required"`
	Layer      string          `yaml:"layer"`
	Title      string          `yaml:"title"`
	Attributes AttributeConfig `yaml:"attributes"`
	// Properties lists the attributes emitted per feature; all when empty.
	Properties []string `yaml:"properties"`
}

// AttributeConfig maps logical roles to dataset columns.
type AttributeConfig struct {
	Category       string `yaml:"category" validate:"required"`
	Classification string `yaml:"classification"`
	ID             string `yaml:"id"`
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	QuerySize          int    `yaml:"query_size" validate:"min=1"`
	Policy             string `yaml:"policy" validate:"oneof=lru 2q"`
	ResponseSizeMB     int    `yaml:"response_size_mb" validate:"min=1"`
	ResponseTTLMinutes int    `yaml:"response_ttl_minutes" validate:"min=1"`
}

// ResponseTTL returns the response cache TTL as a duration.
func (c CacheConfig) ResponseTTL() time.Duration {
	return time.Duration(c.ResponseTTLMinutes) * time.Minute
}

// QueryConfig contains viewport query settings.
type QueryConfig struct {
	DefaultMaxFeatures int    `yaml:"default_max_features" validate:"min=0"`
	MaxFeaturesLimit   int    `yaml:"max_features_limit" validate:"min=1,gtefield=DefaultMaxFeatures"`
	Seed               uint64 `yaml:"seed"`
	Precision          int    `yaml:"precision" validate:"min=1,max=10"`
}

// RenderConfig contains preview rendering settings.
type RenderConfig struct {
	PreviewSize    int `yaml:"preview_size" validate:"min=16"`
	MaxPreviewSize int `yaml:"max_preview_size" validate:"min=16,gtefield=PreviewSize"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
}

// UnmarshalYAML accepts either a mapping of dataset id to dataset, or a
// single dataset written directly under data (stored as "default").
func (d *DataConfig) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode && value.Tag == "!!null" {
		return nil
	}
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: data must be a mapping", value.Line)
	}

	d.Datasets = make(map[string]DatasetConfig)
	d.order = nil

	for i := 0; i+1 < len(value.Content); i += 2 {
		if value.Content[i].Value == "path" && value.Content[i+1].Kind == yaml.ScalarNode {
			var ds DatasetConfig
			if err := value.Decode(&ds); err != nil {
				return err
			}
			d.DefaultDataset = "default"
			d.Datasets["default"] = ds
			d.order = []string{"default"}
			return nil
		}
	}

	for i := 0; i+1 < len(value.Content); i += 2 {
		key, node := value.Content[i], value.Content[i+1]
		if key.Value == "default" && node.Kind == yaml.ScalarNode {
			d.DefaultDataset = node.Value
			continue
		}
		var ds DatasetConfig
		if err := node.Decode(&ds); err != nil {
			return fmt.Errorf("dataset %q: %w", key.Value, err)
		}
		if _, dup := d.Datasets[key.Value]; dup {
			return fmt.Errorf("line %d: duplicate dataset %q", key.Line, key.Value)
		}
		d.Datasets[key.Value] = ds
		d.order = append(d.order, key.Value)
	}
	if d.DefaultDataset == "" && len(d.order) > 0 {
		d.DefaultDataset = d.order[0]
	}
	return nil
}

// DatasetIDs returns dataset ids in configuration order.
func (d DataConfig) DatasetIDs() []string {
	return append([]string(nil), d.order...)
}

// Load reads configuration from a YAML file, applies defaults and
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// Return default config if file doesn't exist
		cfg = DefaultConfig()
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	// Apply defaults for missing values
	applyDefaults(cfg)
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"*"},
			Title:       "Agricultural Parcels",
			LoadWorkers: 2,
		},
		Data: DataConfig{
			DefaultDataset: "default",
			Datasets: map[string]DatasetConfig{
				"default": defaultDataset(),
			},
			order: []string{"default"},
		},
		Cache: CacheConfig{
			QuerySize:          256,
			Policy:             "lru",
			ResponseSizeMB:     64,
			ResponseTTLMinutes: 10,
		},
		Query: QueryConfig{
			DefaultMaxFeatures: 1000,
			MaxFeaturesLimit:   20000,
			Seed:               42,
			Precision:          4,
		},
		Render: RenderConfig{
			PreviewSize:    512,
			MaxPreviewSize: 2048,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataset() DatasetConfig {
	return DatasetConfig{
		Path: "./data/merged_geodata.gpkg",
		Attributes: AttributeConfig{
			Category:       "English_Name",
			Classification: "HCAT2_Name",
			ID:             "gsa_par_id",
		},
		Properties: []string{
			"English_Name", "Italian_Name", "HCAT2_Name", "HCAT2_Code",
			"main_crop_clean", "Direct_Match", "Reason", "gsa_par_id",
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if cfg.Server.Title == "" {
		cfg.Server.Title = defaults.Server.Title
	}
	if cfg.Server.LoadWorkers == 0 {
		cfg.Server.LoadWorkers = defaults.Server.LoadWorkers
	}
	if len(cfg.Data.Datasets) == 0 {
		cfg.Data = defaults.Data
	}
	if cfg.Cache.QuerySize == 0 {
		cfg.Cache.QuerySize = defaults.Cache.QuerySize
	}
	if cfg.Cache.Policy == "" {
		cfg.Cache.Policy = defaults.Cache.Policy
	}
	cfg.Cache.Policy = strings.ToLower(cfg.Cache.Policy)
	if cfg.Cache.ResponseSizeMB == 0 {
		cfg.Cache.ResponseSizeMB = defaults.Cache.ResponseSizeMB
	}
	if cfg.Cache.ResponseTTLMinutes == 0 {
		cfg.Cache.ResponseTTLMinutes = defaults.Cache.ResponseTTLMinutes
	}
	if cfg.Query.DefaultMaxFeatures == 0 {
		cfg.Query.DefaultMaxFeatures = defaults.Query.DefaultMaxFeatures
	}
	if cfg.Query.MaxFeaturesLimit == 0 {
		cfg.Query.MaxFeaturesLimit = defaults.Query.MaxFeaturesLimit
	}
	if cfg.Query.Seed == 0 {
		cfg.Query.Seed = defaults.Query.Seed
	}
	if cfg.Query.Precision == 0 {
		cfg.Query.Precision = defaults.Query.Precision
	}
	if cfg.Render.PreviewSize == 0 {
		cfg.Render.PreviewSize = defaults.Render.PreviewSize
	}
	if cfg.Render.MaxPreviewSize == 0 {
		cfg.Render.MaxPreviewSize = defaults.Render.MaxPreviewSize
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
}

// applyEnv applies PARCELS_PORT, PARCELS_LOG_LEVEL and PARCELS_DATA_PATH
// (the path of the default dataset).
func applyEnv(cfg *Config) error {
	if v := os.Getenv("PARCELS_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PARCELS_PORT %q: %w", v, err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("PARCELS_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("PARCELS_DATA_PATH"); v != "" {
		id := cfg.Data.DefaultDataset
		ds := cfg.Data.Datasets[id]
		ds.Path = v
		cfg.Data.Datasets[id] = ds
	}
	return nil
}

var validate = validator.New()

// Validate checks field constraints and that the default dataset exists.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, ok := c.Data.Datasets[c.Data.DefaultDataset]; !ok {
		return fmt.Errorf("invalid config: default dataset %q is not defined", c.Data.DefaultDataset)
	}
	return nil
}
