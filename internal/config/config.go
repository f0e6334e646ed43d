package config

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// BBox represents a geographic bounding box in WGS84 degrees.
type BBox struct {
	MinLat, MaxLat, MinLon, MaxLon float64
}

// Contains checks if a point is within the bounding box.
func (b BBox) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// Validate checks the bounding box invariants required for tiling.
func (b BBox) Validate() error {
	if b.MinLat >= b.MaxLat {
		return fmt.Errorf("min_lat (%f) must be < max_lat (%f)", b.MinLat, b.MaxLat)
	}
	if b.MinLon >= b.MaxLon {
		return fmt.Errorf("min_lon (%f) must be < max_lon (%f)", b.MinLon, b.MaxLon)
	}
	return nil
}

// ParseBBox parses a bbox string in format "minlat,minlon,maxlat,maxlon".
func ParseBBox(s string) (BBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return BBox{}, fmt.Errorf("bbox must have 4 values: minlat,minlon,maxlat,maxlon")
	}

	var coords [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return BBox{}, fmt.Errorf("invalid bbox coordinate %q: %w", p, err)
		}
		coords[i] = v
	}

	bbox := BBox{
		MinLat: coords[0],
		MinLon: coords[1],
		MaxLat: coords[2],
		MaxLon: coords[3],
	}

	if err := bbox.Validate(); err != nil {
		return BBox{}, err
	}

	return bbox, nil
}

// Outputs selects which combined outputs the pipeline produces.
type Outputs struct {
	Network       bool
	Lanes         bool
	Intersections bool
}

// AllOutputs returns an Outputs with every kind enabled.
func AllOutputs() Outputs {
	return Outputs{Network: true, Lanes: true, Intersections: true}
}

// Any reports whether at least one output kind is selected.
func (o Outputs) Any() bool {
	return o.Network || o.Lanes || o.Intersections
}

// ParseOutputs parses a comma-separated output selection,
// e.g. "network,lanes". An empty string selects all outputs.
func ParseOutputs(s string) (Outputs, error) {
	if strings.TrimSpace(s) == "" {
		return AllOutputs(), nil
	}

	var out Outputs
	for _, part := range strings.Split(s, ",") {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "network":
			out.Network = true
		case "lanes":
			out.Lanes = true
		case "intersections":
			out.Intersections = true
		default:
			return Outputs{}, fmt.Errorf("unknown output kind %q (want network, lanes or intersections)", part)
		}
	}
	return out, nil
}

// Config holds the global configuration for a pipeline run.
type Config struct {
	// Storage settings
	DataDir   string // Base directory for per-place tile and output directories
	CacheFile string // Path to the persistent place cache (JSON)

	// Remote endpoints
	NominatimURL string
	OverpassURL  string
	UserAgent    string

	// Tiling settings
	TileSize   float64       // Tile edge length in degrees
	BBox       *BBox         // Optional override of the geocoded bounding box
	FetchDelay time.Duration // Courtesy delay between tile requests

	// Repair settings
	Epsilon float64 // Minimum segment length in degrees

	// Extraction settings
	EngineBinary string // Path to the street-network extraction binary
	DrivingSide  string // "Right" or "Left"
	Outputs      Outputs

	// Processing settings
	Workers int

	// Logging and metrics
	Verbose         bool
	LogFile         string
	MetricsInterval time.Duration
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir:      "./kerbside_data",
		CacheFile:    "./kerbside_data/location_cache.json",
		NominatimURL: "https://nominatim.openstreetmap.org/search",
		OverpassURL:  "https://lz4.overpass-api.de/api/interpreter",
		UserAgent:    "kerbside/1.0",
		TileSize:     0.01,
		FetchDelay:   time.Second,
		Epsilon:      1e-5,
		EngineBinary: "osm2streets",
		DrivingSide:  "Right",
		Outputs:      AllOutputs(),
		Workers:      runtime.NumCPU(),
	}
}

// Validate checks that the configuration is valid. It rejects anything
// the pipeline would otherwise fail on after I/O has already started.
func (c *Config) Validate() error {
	if c.TileSize <= 0 {
		return fmt.Errorf("tile size must be positive, got %f", c.TileSize)
	}
	if c.Epsilon <= 0 {
		return fmt.Errorf("epsilon must be positive, got %g", c.Epsilon)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if c.DrivingSide != "Right" && c.DrivingSide != "Left" {
		return fmt.Errorf("driving side must be \"Right\" or \"Left\", got %q", c.DrivingSide)
	}
	if !c.Outputs.Any() {
		return fmt.Errorf("at least one output kind must be selected")
	}
	return nil
}
