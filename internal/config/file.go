package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig is the YAML run-configuration file. All fields are optional;
// set fields override the corresponding Config defaults but not explicit
// command-line flags (flags are applied after the file is loaded).
type FileConfig struct {
	DataDir      string   `yaml:"data_dir,omitempty"`
	CacheFile    string   `yaml:"cache_file,omitempty"`
	NominatimURL string   `yaml:"nominatim_url,omitempty"`
	OverpassURL  string   `yaml:"overpass_url,omitempty"`
	UserAgent    string   `yaml:"user_agent,omitempty"`
	TileSize     float64  `yaml:"tile_size,omitempty"`
	FetchDelay   string   `yaml:"fetch_delay,omitempty"`
	Epsilon      float64  `yaml:"epsilon,omitempty"`
	EngineBinary string   `yaml:"engine,omitempty"`
	DrivingSide  string   `yaml:"driving_side,omitempty"`
	Outputs      []string `yaml:"outputs,omitempty"`
	Workers      int      `yaml:"workers,omitempty"`
}

// LoadFile loads a run-configuration file from a YAML file.
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	return &fc, nil
}

// Apply copies the set fields of the file configuration onto cfg.
func (fc *FileConfig) Apply(cfg *Config) error {
	if fc.DataDir != "" {
		cfg.DataDir = fc.DataDir
	}
	if fc.CacheFile != "" {
		cfg.CacheFile = fc.CacheFile
	}
	if fc.NominatimURL != "" {
		cfg.NominatimURL = fc.NominatimURL
	}
	if fc.OverpassURL != "" {
		cfg.OverpassURL = fc.OverpassURL
	}
	if fc.UserAgent != "" {
		cfg.UserAgent = fc.UserAgent
	}
	if fc.TileSize != 0 {
		cfg.TileSize = fc.TileSize
	}
	if fc.FetchDelay != "" {
		d, err := time.ParseDuration(fc.FetchDelay)
		if err != nil {
			return fmt.Errorf("invalid fetch_delay %q: %w", fc.FetchDelay, err)
		}
		cfg.FetchDelay = d
	}
	if fc.Epsilon != 0 {
		cfg.Epsilon = fc.Epsilon
	}
	if fc.EngineBinary != "" {
		cfg.EngineBinary = fc.EngineBinary
	}
	if fc.DrivingSide != "" {
		cfg.DrivingSide = fc.DrivingSide
	}
	if len(fc.Outputs) > 0 {
		var out Outputs
		for _, kind := range fc.Outputs {
			parsed, err := ParseOutputs(kind)
			if err != nil {
				return err
			}
			out.Network = out.Network || parsed.Network
			out.Lanes = out.Lanes || parsed.Lanes
			out.Intersections = out.Intersections || parsed.Intersections
		}
		cfg.Outputs = out
	}
	if fc.Workers != 0 {
		cfg.Workers = fc.Workers
	}
	return nil
}
