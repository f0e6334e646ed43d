// Package extract wraps the external street-network extraction engine
// behind a narrow interface so the pipeline can substitute a fake
// implementation in tests.
package extract

import (
	"context"
	"fmt"

	"github.com/lukasbeuster/KerbSide/internal/config"
)

// Options is the JSON options object consumed by the extraction engine.
type Options struct {
	DebugEachStep             bool    `json:"debug_each_step"`
	DualCarriagewayExperiment bool    `json:"dual_carriageway_experiment"`
	SidepathZippingExperiment bool    `json:"sidepath_zipping_experiment"`
	InferredSidewalks         bool    `json:"inferred_sidewalks"`
	InferredKerbs             bool    `json:"inferred_kerbs"`
	DateTime                  *string `json:"date_time"`
	OverrideDrivingSide       string  `json:"override_driving_side"`
}

// DefaultOptions returns the standard engine options for a driving side.
func DefaultOptions(drivingSide string) Options {
	return Options{
		InferredSidewalks:   true,
		InferredKerbs:       true,
		OverrideDrivingSide: drivingSide,
	}
}

// Result holds the raw GeoJSON documents produced for one tile. A field is
// nil when the corresponding output kind was not requested.
type Result struct {
	Network       []byte
	Lanes         []byte
	Intersections []byte
}

// Engine turns a repaired OSM XML document into street-network feature
// collections. Implementations perform no retry; a tile the engine cannot
// process is reported back as failed.
type Engine interface {
	Extract(ctx context.Context, osmXML []byte, opts Options, want config.Outputs) (*Result, error)
}

// Error is an extraction failure for a specific tile.
type Error struct {
	Tile string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("extraction failed for tile %s: %v", e.Tile, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
