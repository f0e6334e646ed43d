package mapdoc

import (
	"fmt"
	"math"
	"os"

	"github.com/paulmach/osm"
)

// DefaultEpsilon is the minimum allowed consecutive-point distance, in raw
// lat/lon degrees. Segments shorter than this are degenerate.
const DefaultEpsilon = 1e-5

// HasRepeatNonAdjacentPoints reports whether a point value recurs at a
// non-adjacent position in the sequence. Immediately repeated points are
// tolerated. Detection is order-sensitive: each point is compared only
// against the immediately preceding point, so a point repeating after a
// single intervening different point still counts as non-adjacent.
func HasRepeatNonAdjacentPoints(coords []Coord) bool {
	seen := make(map[Coord]struct{}, len(coords))
	for i, c := range coords {
		if _, dup := seen[c]; dup && c != coords[i-1] {
			return true
		}
		seen[c] = struct{}{}
	}
	return false
}

// FindProblematicWays flags every way that has a repeat non-adjacent point
// or a degenerate segment shorter than epsilon. Flags appear in document
// order; the two checks run independently, so a way failing both appears
// twice.
func (d *Document) FindProblematicWays(epsilon float64) []osm.WayID {
	var problematic []osm.WayID

	for _, way := range d.root.Ways {
		coords := d.WayCoords(way)

		if HasRepeatNonAdjacentPoints(coords) {
			problematic = append(problematic, way.ID)
		}

		for i := 0; i+1 < len(coords); i++ {
			dLat := coords[i].Lat - coords[i+1].Lat
			dLon := coords[i].Lon - coords[i+1].Lon
			if math.Sqrt(dLat*dLat+dLon*dLon) < epsilon {
				problematic = append(problematic, way.ID)
				break
			}
		}
	}

	return problematic
}

// FixOrRemoveInvalidWays repairs every way with repeat non-adjacent points
// in place. Points that repeat non-adjacently are dropped; any way left
// with fewer than 2 points after filtering is removed from the document
// entirely. Returned way ids are the removed ways, in document order.
//
// Degenerate segments are left as-is: only the repeat-point defect is
// corrected here, matching the detection/repair split documented for this
// pipeline.
func (d *Document) FixOrRemoveInvalidWays() []osm.WayID {
	// Reverse node lookup, first node in file order wins for coordinate
	// collisions.
	nodeByCoord := make(map[Coord]osm.NodeID, len(d.nodes))
	for _, node := range d.root.Nodes {
		c := Coord{Lat: node.Lat, Lon: node.Lon}
		if _, ok := nodeByCoord[c]; !ok {
			nodeByCoord[c] = node.ID
		}
	}

	var removed []osm.WayID
	kept := make(osm.Ways, 0, len(d.root.Ways))

	for _, way := range d.root.Ways {
		coords := d.WayCoords(way)

		seen := make(map[Coord]struct{}, len(coords))
		fixed := make([]Coord, 0, len(coords))
		hasProblem := false

		for i, c := range coords {
			if _, dup := seen[c]; dup && c != coords[i-1] {
				hasProblem = true
			} else {
				fixed = append(fixed, c)
			}
			seen[c] = struct{}{}
		}

		if len(fixed) < 2 {
			removed = append(removed, way.ID)
			continue
		}

		if !hasProblem {
			kept = append(kept, way)
			continue
		}

		refs := make(osm.WayNodes, len(fixed))
		for i, c := range fixed {
			refs[i] = osm.WayNode{ID: nodeByCoord[c]}
		}
		way.Nodes = refs
		kept = append(kept, way)
	}

	d.root.Ways = kept
	return removed
}

// RepairReport describes the outcome of repairing one tile file.
type RepairReport struct {
	// Skipped is true when a repaired artifact already existed and the
	// repair pass was not run again.
	Skipped bool
	// Nodes is the document's node count. Zero for a skipped pass.
	Nodes int
	// Problematic lists the flagged way ids (duplicates possible).
	Problematic []osm.WayID
	// Removed lists the ways dropped from the document.
	Removed []osm.WayID
	// ProcessPath is the file the extraction stage should consume: the
	// repaired artifact when one exists, the original tile otherwise.
	ProcessPath string
}

// RepairFile detects problematic ways in the tile document at tilePath and,
// when any are found, writes a repaired document to fixedPath. Repair is
// skipped entirely when fixedPath already exists, making the pass safe to
// re-run over a tile directory.
func RepairFile(tilePath, fixedPath string, epsilon float64) (*RepairReport, error) {
	if _, err := os.Stat(fixedPath); err == nil {
		return &RepairReport{Skipped: true, ProcessPath: fixedPath}, nil
	}

	data, err := os.ReadFile(tilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read tile file: %w", err)
	}

	doc, err := Parse(data)
	if err != nil {
		return nil, err
	}

	problematic := doc.FindProblematicWays(epsilon)
	if len(problematic) == 0 {
		return &RepairReport{Nodes: doc.NodeCount(), ProcessPath: tilePath}, nil
	}

	removed := doc.FixOrRemoveInvalidWays()

	out, err := doc.Marshal()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(fixedPath, out, 0644); err != nil {
		return nil, fmt.Errorf("failed to write repaired tile: %w", err)
	}

	return &RepairReport{
		Nodes:       doc.NodeCount(),
		Problematic: problematic,
		Removed:     removed,
		ProcessPath: fixedPath,
	}, nil
}
