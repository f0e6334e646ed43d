package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lukasbeuster/KerbSide/internal/config"
	"github.com/lukasbeuster/KerbSide/internal/extract"
	"github.com/lukasbeuster/KerbSide/internal/geocode"
	"github.com/lukasbeuster/KerbSide/internal/overpass"
	"github.com/lukasbeuster/KerbSide/internal/tiling"
)

// fakeEngine returns a one-feature collection per requested kind, tagged
// with the tile's index so merge ordering can be asserted. Tiles whose
// index is in failOn fail extraction.
type fakeEngine struct {
	failOn map[int]bool

	mu     sync.Mutex
	inputs [][]byte
}

func (e *fakeEngine) Extract(ctx context.Context, osmXML []byte, opts extract.Options, want config.Outputs) (*extract.Result, error) {
	e.mu.Lock()
	e.inputs = append(e.inputs, osmXML)
	e.mu.Unlock()

	index := tileIndexFromXML(osmXML)
	if e.failOn[index] {
		return nil, fmt.Errorf("engine cannot parse input")
	}

	doc := []byte(fmt.Sprintf(`{"type":"FeatureCollection","features":[`+
		`{"type":"Feature","geometry":{"type":"LineString","coordinates":[[0,0],[1,1]]},"properties":{"tile":%d}}]}`, index))

	result := &extract.Result{}
	if want.Network {
		result.Network = doc
	}
	if want.Lanes {
		result.Lanes = doc
	}
	if want.Intersections {
		result.Intersections = doc
	}
	return result, nil
}

// tileIndexFromXML recovers the marker the test fixtures embed as the
// generator attribute.
func tileIndexFromXML(data []byte) int {
	s := string(data)
	pos := strings.Index(s, `generator="tile-`)
	if pos < 0 {
		return -1
	}
	var index int
	fmt.Sscanf(s[pos:], `generator="tile-%d"`, &index)
	return index
}

func tileXML(index int) string {
	return fmt.Sprintf(`<osm version="0.6" generator="tile-%d">
<node id="1" lat="0" lon="0"/>
<node id="2" lat="1" lon="1"/>
<way id="10"><nd ref="1"/><nd ref="2"/></way>
</osm>`, index)
}

func writeTiles(t *testing.T, dir string, count int) {
	t.Helper()
	for i := 0; i < count; i++ {
		name := tiling.TileFileName(1, i)
		if err := os.WriteFile(filepath.Join(dir, name), []byte(tileXML(i)), 0644); err != nil {
			t.Fatalf("failed to write tile %d: %v", i, err)
		}
	}
}

func testConfig(dir string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.Workers = 4
	return cfg
}

func makeTiles(count int) []tiling.Tile {
	tiles := make([]tiling.Tile, count)
	for i := range tiles {
		tiles[i] = tiling.Tile{
			Index: i,
			BBox:  config.BBox{MinLat: float64(i), MaxLat: float64(i) + 0.01, MinLon: 0, MaxLon: 0.01},
		}
	}
	return tiles
}

func TestFetchTilesFailedTileIsSkipped(t *testing.T) {
	dir := t.TempDir()

	// Fetching is sequential, so the second request is tile 1. A 400 is
	// not retried by the client.
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests == 2 {
			http.Error(w, "bad query", http.StatusBadRequest)
			return
		}
		w.Write([]byte(tileXML(requests - 1)))
	}))
	defer server.Close()

	fetcher := overpass.NewClient(server.URL, "kerbside-test/1.0", time.Millisecond)
	orch := New(testConfig(dir), nil, fetcher, nil)

	fetched, skipped, err := orch.FetchTiles(context.Background(), 1, makeTiles(3), dir)
	if err != nil {
		t.Fatalf("FetchTiles returned error: %v", err)
	}
	if skipped {
		t.Error("incomplete set reported as skipped")
	}
	if fetched != 2 {
		t.Errorf("fetched = %d, want 2", fetched)
	}

	for _, i := range []int{0, 2} {
		if _, err := os.Stat(filepath.Join(dir, tiling.TileFileName(1, i))); err != nil {
			t.Errorf("tile %d missing: %v", i, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, tiling.TileFileName(1, 1))); !os.IsNotExist(err) {
		t.Error("failed tile should leave no file behind")
	}
}

func TestFetchTilesSkipsCompleteSet(t *testing.T) {
	dir := t.TempDir()
	writeTiles(t, dir, 3)

	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Write([]byte("<osm/>"))
	}))
	defer server.Close()

	fetcher := overpass.NewClient(server.URL, "kerbside-test/1.0", time.Millisecond)
	orch := New(testConfig(dir), nil, fetcher, nil)

	fetched, skipped, err := orch.FetchTiles(context.Background(), 1, makeTiles(3), dir)
	if err != nil {
		t.Fatalf("FetchTiles returned error: %v", err)
	}
	if !skipped {
		t.Error("complete set not skipped")
	}
	if fetched != 0 {
		t.Errorf("fetched = %d, want 0", fetched)
	}
	if requests != 0 {
		t.Errorf("endpoint called %d times, want 0", requests)
	}
}

func TestPartitionPlaceBBoxOverride(t *testing.T) {
	place := &geocode.Place{ID: 1, BBox: config.BBox{MinLat: 0, MaxLat: 1, MinLon: 0, MaxLon: 1}}

	cfg := testConfig(t.TempDir())
	cfg.TileSize = 1.0
	orch := New(cfg, nil, nil, nil)

	tiles, err := orch.PartitionPlace(place)
	if err != nil {
		t.Fatalf("PartitionPlace returned error: %v", err)
	}
	if len(tiles) != 4 {
		t.Errorf("got %d tiles from the geocoded box, want 4", len(tiles))
	}

	override := config.BBox{MinLat: 0.2, MaxLat: 0.4, MinLon: 0.2, MaxLon: 0.4}
	cfg.BBox = &override

	tiles, err = orch.PartitionPlace(place)
	if err != nil {
		t.Fatalf("PartitionPlace with override returned error: %v", err)
	}
	if len(tiles) != 1 {
		t.Fatalf("got %d tiles from the override box, want 1", len(tiles))
	}
	if tiles[0].BBox != override {
		t.Errorf("override tile bbox = %+v, want %+v", tiles[0].BBox, override)
	}
}

func TestProcessTilesFailedTileDoesNotAbortRun(t *testing.T) {
	dir := t.TempDir()
	writeTiles(t, dir, 3)

	engine := &fakeEngine{failOn: map[int]bool{1: true}}
	orch := New(testConfig(dir), nil, nil, engine)

	result, stats, err := orch.ProcessTiles(context.Background(), dir)
	if err != nil {
		t.Fatalf("ProcessTiles returned error: %v", err)
	}
	if stats.Tiles != 3 {
		t.Errorf("stats.Tiles = %d, want 3", stats.Tiles)
	}

	// Tiles 0 and 2 contribute features; tile 1 is the only failure.
	if len(result.FailedTiles) != 1 || result.FailedTiles[0] != tiling.TileFileName(1, 1) {
		t.Errorf("FailedTiles = %v, want [%s]", result.FailedTiles, tiling.TileFileName(1, 1))
	}
	if len(result.Network.Features) != 2 {
		t.Fatalf("network has %d features, want 2", len(result.Network.Features))
	}

	wantTiles := []int{0, 2}
	for i, f := range result.Network.Features {
		tile, _ := f.Properties["tile"].(float64)
		if int(tile) != wantTiles[i] {
			t.Errorf("features[%d] from tile %v, want %d", i, f.Properties["tile"], wantTiles[i])
		}
	}
}

func TestProcessTilesDeterministicOrder(t *testing.T) {
	dir := t.TempDir()
	writeTiles(t, dir, 12)

	engine := &fakeEngine{}
	orch := New(testConfig(dir), nil, nil, engine)

	result, _, err := orch.ProcessTiles(context.Background(), dir)
	if err != nil {
		t.Fatalf("ProcessTiles returned error: %v", err)
	}

	// Regardless of worker completion order, features are merged in
	// ascending tile-index order.
	if len(result.Network.Features) != 12 {
		t.Fatalf("network has %d features, want 12", len(result.Network.Features))
	}
	for i, f := range result.Network.Features {
		tile, _ := f.Properties["tile"].(float64)
		if int(tile) != i {
			t.Errorf("features[%d] from tile %v, want %d", i, f.Properties["tile"], i)
		}
	}
}

func TestProcessTilesFailureLogAscendingOrder(t *testing.T) {
	dir := t.TempDir()
	writeTiles(t, dir, 8)

	engine := &fakeEngine{failOn: map[int]bool{6: true, 2: true, 4: true}}
	orch := New(testConfig(dir), nil, nil, engine)

	result, _, err := orch.ProcessTiles(context.Background(), dir)
	if err != nil {
		t.Fatalf("ProcessTiles returned error: %v", err)
	}

	want := []string{
		tiling.TileFileName(1, 2),
		tiling.TileFileName(1, 4),
		tiling.TileFileName(1, 6),
	}
	if len(result.FailedTiles) != len(want) {
		t.Fatalf("FailedTiles = %v, want %v", result.FailedTiles, want)
	}
	for i := range want {
		if result.FailedTiles[i] != want[i] {
			t.Errorf("FailedTiles[%d] = %q, want %q", i, result.FailedTiles[i], want[i])
		}
	}
}

func TestProcessTilesRepairsBeforeExtraction(t *testing.T) {
	dir := t.TempDir()

	// One tile with a repeat non-adjacent point.
	brokenXML := `<osm version="0.6" generator="tile-0">
<node id="1" lat="0" lon="0"/>
<node id="2" lat="1" lon="1"/>
<node id="3" lat="2" lon="2"/>
<way id="10"><nd ref="1"/><nd ref="2"/><nd ref="1"/><nd ref="3"/></way>
</osm>`
	name := tiling.TileFileName(1, 0)
	if err := os.WriteFile(filepath.Join(dir, name), []byte(brokenXML), 0644); err != nil {
		t.Fatalf("failed to write tile: %v", err)
	}

	engine := &fakeEngine{}
	orch := New(testConfig(dir), nil, nil, engine)

	_, stats, err := orch.ProcessTiles(context.Background(), dir)
	if err != nil {
		t.Fatalf("ProcessTiles returned error: %v", err)
	}
	if stats.Repaired != 1 {
		t.Errorf("stats.Repaired = %d, want 1", stats.Repaired)
	}

	// Repaired artifact written next to the tile.
	fixedPath := tiling.RepairedPath(filepath.Join(dir, name))
	if _, err := os.Stat(fixedPath); err != nil {
		t.Errorf("repaired artifact missing: %v", err)
	}

	// The engine must receive the repaired document, header included.
	if len(engine.inputs) != 1 {
		t.Fatalf("engine called %d times, want 1", len(engine.inputs))
	}
	input := string(engine.inputs[0])
	if !strings.HasPrefix(input, `<?xml version="1.0" encoding="UTF-8"?>`) {
		t.Errorf("engine input missing XML header: %.60q", input)
	}
	if refs := strings.Count(input, "<nd ref"); refs != 3 {
		t.Errorf("engine input has %d node refs, want 3 (repeat dropped)", refs)
	}
}

func TestProcessTilesMalformedTileRecordedAsFailed(t *testing.T) {
	dir := t.TempDir()
	writeTiles(t, dir, 2)

	name := tiling.TileFileName(1, 1)
	if err := os.WriteFile(filepath.Join(dir, name), []byte("<osm><node id="), 0644); err != nil {
		t.Fatalf("failed to write tile: %v", err)
	}

	engine := &fakeEngine{}
	orch := New(testConfig(dir), nil, nil, engine)

	result, _, err := orch.ProcessTiles(context.Background(), dir)
	if err != nil {
		t.Fatalf("ProcessTiles returned error: %v", err)
	}
	if len(result.FailedTiles) != 1 || result.FailedTiles[0] != name {
		t.Errorf("FailedTiles = %v, want [%s]", result.FailedTiles, name)
	}
	if len(result.Network.Features) != 1 {
		t.Errorf("network has %d features, want 1", len(result.Network.Features))
	}
}

func TestProcessTilesUnselectedOutputsStayNil(t *testing.T) {
	dir := t.TempDir()
	writeTiles(t, dir, 2)

	cfg := testConfig(dir)
	cfg.Outputs = config.Outputs{Lanes: true}

	orch := New(cfg, nil, nil, &fakeEngine{})

	result, _, err := orch.ProcessTiles(context.Background(), dir)
	if err != nil {
		t.Fatalf("ProcessTiles returned error: %v", err)
	}
	if result.Network != nil || result.Intersections != nil {
		t.Error("unselected outputs should be nil")
	}
	if len(result.Lanes.Features) != 2 {
		t.Errorf("lanes has %d features, want 2", len(result.Lanes.Features))
	}
}
