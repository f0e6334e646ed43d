package tiling

import (
	"errors"
	"math"
	"testing"

	"github.com/lukasbeuster/KerbSide/internal/config"
)

func TestPartitionCount(t *testing.T) {
	tests := []struct {
		name     string
		bbox     config.BBox
		tileSize float64
		want     int
	}{
		{
			name:     "unit box with half-degree tiles",
			bbox:     config.BBox{MinLat: 0, MaxLat: 1, MinLon: 0, MaxLon: 1},
			tileSize: 0.5,
			want:     9, // floor(1/0.5)+1 = 3 per axis
		},
		{
			name:     "box smaller than one tile",
			bbox:     config.BBox{MinLat: 52.0, MaxLat: 52.005, MinLon: 4.0, MaxLon: 4.005},
			tileSize: 0.01,
			want:     1,
		},
		{
			name:     "asymmetric box",
			bbox:     config.BBox{MinLat: 0, MaxLat: 0.025, MinLon: 0, MaxLon: 0.045},
			tileSize: 0.01,
			want:     3 * 5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tiles, err := Partition(tt.bbox, tt.tileSize)
			if err != nil {
				t.Fatalf("Partition returned error: %v", err)
			}
			if len(tiles) != tt.want {
				t.Errorf("got %d tiles, want %d", len(tiles), tt.want)
			}

			latSteps, lonSteps := Steps(tt.bbox, tt.tileSize)
			if latSteps*lonSteps != tt.want {
				t.Errorf("Steps gave %d x %d, want product %d", latSteps, lonSteps, tt.want)
			}
		})
	}
}

func TestPartitionBoundsAndOrder(t *testing.T) {
	bbox := config.BBox{MinLat: 10, MaxLat: 10.025, MinLon: 20, MaxLon: 20.015}
	tileSize := 0.01

	tiles, err := Partition(bbox, tileSize)
	if err != nil {
		t.Fatalf("Partition returned error: %v", err)
	}

	_, lonSteps := Steps(bbox, tileSize)

	for i, tile := range tiles {
		if tile.Index != i {
			t.Errorf("tile %d has index %d", i, tile.Index)
		}

		b := tile.BBox
		if b.MinLat < bbox.MinLat || b.MaxLat > bbox.MaxLat ||
			b.MinLon < bbox.MinLon || b.MaxLon > bbox.MaxLon {
			t.Errorf("tile %d bounds %+v outside parent %+v", i, b, bbox)
		}
		if b.MinLat >= b.MaxLat || b.MinLon >= b.MaxLon {
			t.Errorf("tile %d has degenerate bounds %+v", i, b)
		}

		// Row-major: latitude outer, longitude inner.
		row := i / lonSteps
		col := i % lonSteps
		wantMinLat := bbox.MinLat + float64(row)*tileSize
		wantMinLon := bbox.MinLon + float64(col)*tileSize
		if math.Abs(b.MinLat-wantMinLat) > 1e-12 || math.Abs(b.MinLon-wantMinLon) > 1e-12 {
			t.Errorf("tile %d origin (%f, %f), want (%f, %f)", i, b.MinLat, b.MinLon, wantMinLat, wantMinLon)
		}
	}

	// Union covers the parent box: the last tile must reach the far corner.
	last := tiles[len(tiles)-1].BBox
	if last.MaxLat != bbox.MaxLat || last.MaxLon != bbox.MaxLon {
		t.Errorf("last tile ends at (%f, %f), want (%f, %f)", last.MaxLat, last.MaxLon, bbox.MaxLat, bbox.MaxLon)
	}
}

func TestPartitionClampsLastRowAndColumn(t *testing.T) {
	bbox := config.BBox{MinLat: 0, MaxLat: 0.015, MinLon: 0, MaxLon: 0.015}

	tiles, err := Partition(bbox, 0.01)
	if err != nil {
		t.Fatalf("Partition returned error: %v", err)
	}
	if len(tiles) != 4 {
		t.Fatalf("got %d tiles, want 4", len(tiles))
	}

	last := tiles[3].BBox
	if last.MaxLat-last.MinLat >= 0.01 || last.MaxLon-last.MinLon >= 0.01 {
		t.Errorf("last tile not clamped: %+v", last)
	}
}

func TestPartitionInvalidArguments(t *testing.T) {
	valid := config.BBox{MinLat: 0, MaxLat: 1, MinLon: 0, MaxLon: 1}

	tests := []struct {
		name     string
		bbox     config.BBox
		tileSize float64
	}{
		{"zero tile size", valid, 0},
		{"negative tile size", valid, -0.01},
		{"inverted latitude", config.BBox{MinLat: 1, MaxLat: 0, MinLon: 0, MaxLon: 1}, 0.1},
		{"inverted longitude", config.BBox{MinLat: 0, MaxLat: 1, MinLon: 1, MaxLon: 0}, 0.1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Partition(tt.bbox, tt.tileSize)
			if !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("got error %v, want ErrInvalidArgument", err)
			}
		})
	}
}
