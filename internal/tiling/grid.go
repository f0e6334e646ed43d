// Package tiling splits a geographic bounding box into a regular grid of
// tiles and tracks their on-disk layout.
package tiling

import (
	"errors"
	"fmt"
	"math"

	"github.com/lukasbeuster/KerbSide/internal/config"
)

// ErrInvalidArgument is returned for a malformed bounding box or a
// non-positive tile size.
var ErrInvalidArgument = errors.New("invalid argument")

// Tile is one rectangular sub-region of a partitioned bounding box.
// Tiles cover the parent box fully and disjointly except for shared edges.
type Tile struct {
	Index int
	BBox  config.BBox
}

// Steps returns the number of grid rows and columns a bounding box
// partitions into for the given tile size.
func Steps(b config.BBox, tileSize float64) (latSteps, lonSteps int) {
	latSteps = int(math.Floor((b.MaxLat-b.MinLat)/tileSize)) + 1
	lonSteps = int(math.Floor((b.MaxLon-b.MinLon)/tileSize)) + 1
	return latSteps, lonSteps
}

// Partition splits a bounding box into a grid of tiles of the given angular
// size. Tiles are returned in row-major order (latitude outer, longitude
// inner) with sequential indexes starting at 0. The last row and column may
// be narrower than tileSize.
func Partition(b config.BBox, tileSize float64) ([]Tile, error) {
	if tileSize <= 0 {
		return nil, fmt.Errorf("%w: tile size must be positive, got %f", ErrInvalidArgument, tileSize)
	}
	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	latSteps, lonSteps := Steps(b, tileSize)
	tiles := make([]Tile, 0, latSteps*lonSteps)

	for i := 0; i < latSteps; i++ {
		minLat := b.MinLat + float64(i)*tileSize
		maxLat := math.Min(minLat+tileSize, b.MaxLat)

		for j := 0; j < lonSteps; j++ {
			minLon := b.MinLon + float64(j)*tileSize
			maxLon := math.Min(minLon+tileSize, b.MaxLon)

			tiles = append(tiles, Tile{
				Index: len(tiles),
				BBox: config.BBox{
					MinLat: minLat,
					MaxLat: maxLat,
					MinLon: minLon,
					MaxLon: maxLon,
				},
			})
		}
	}

	return tiles, nil
}
