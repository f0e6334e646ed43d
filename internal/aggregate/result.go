package aggregate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb/geojson"

	"github.com/lukasbeuster/KerbSide/internal/config"
)

// Output file names inside the processed directory.
const (
	NetworkFile       = "combined_network.geojson"
	LanesFile         = "combined_lanes.geojson"
	IntersectionsFile = "combined_intersections.geojson"
	FailedTilesFile   = "failed_tiles.txt"
)

// Result accumulates combined feature collections across tiles plus the
// ordered list of failed tiles. A collection is nil when its output kind
// was not selected. Merging is order-preserving, append-only concatenation;
// duplicate features along shared tile edges are accepted.
type Result struct {
	Network       *geojson.FeatureCollection
	Lanes         *geojson.FeatureCollection
	Intersections *geojson.FeatureCollection
	FailedTiles   []string
}

// NewResult creates an accumulator with empty collections for every
// selected output kind.
func NewResult(outputs config.Outputs) *Result {
	r := &Result{}
	if outputs.Network {
		r.Network = NewCollection()
	}
	if outputs.Lanes {
		r.Lanes = NewCollection()
	}
	if outputs.Intersections {
		r.Intersections = NewCollection()
	}
	return r
}

// Append concatenates one tile's validated collections onto the combined
// collections. Nil or unselected collections are skipped.
func (r *Result) Append(network, lanes, intersections *geojson.FeatureCollection) {
	appendFeatures(r.Network, network)
	appendFeatures(r.Lanes, lanes)
	appendFeatures(r.Intersections, intersections)
}

func appendFeatures(dst, src *geojson.FeatureCollection) {
	if dst == nil || src == nil || len(src.Features) == 0 {
		return
	}
	dst.Features = append(dst.Features, src.Features...)
}

// RecordFailure adds a tile to the failure log.
func (r *Result) RecordFailure(tileName string) {
	r.FailedTiles = append(r.FailedTiles, tileName)
}

// FeatureCount returns the total number of combined features.
func (r *Result) FeatureCount() int {
	count := 0
	for _, fc := range []*geojson.FeatureCollection{r.Network, r.Lanes, r.Intersections} {
		if fc != nil {
			count += len(fc.Features)
		}
	}
	return count
}

// WriteOutputs writes the combined collections and, when at least one tile
// failed, the failure log into dir. The failure log is omitted entirely for
// a clean run.
func (r *Result) WriteOutputs(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	outputs := []struct {
		name string
		fc   *geojson.FeatureCollection
	}{
		{NetworkFile, r.Network},
		{LanesFile, r.Lanes},
		{IntersectionsFile, r.Intersections},
	}

	for _, out := range outputs {
		if out.fc == nil {
			continue
		}
		data, err := out.fc.MarshalJSON()
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", out.name, err)
		}
		if err := os.WriteFile(filepath.Join(dir, out.name), data, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", out.name, err)
		}
	}

	if len(r.FailedTiles) > 0 {
		content := strings.Join(r.FailedTiles, "\n") + "\n"
		if err := os.WriteFile(filepath.Join(dir, FailedTilesFile), []byte(content), 0644); err != nil {
			return fmt.Errorf("failed to write failure log: %w", err)
		}
	}

	return nil
}
