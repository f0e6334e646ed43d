// Package pipeline sequences tile acquisition, geometry repair, extraction
// and aggregation for one place.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lukasbeuster/KerbSide/internal/aggregate"
	"github.com/lukasbeuster/KerbSide/internal/config"
	"github.com/lukasbeuster/KerbSide/internal/extract"
	"github.com/lukasbeuster/KerbSide/internal/geocode"
	"github.com/lukasbeuster/KerbSide/internal/logger"
	"github.com/lukasbeuster/KerbSide/internal/mapdoc"
	"github.com/lukasbeuster/KerbSide/internal/metrics"
	"github.com/lukasbeuster/KerbSide/internal/overpass"
	"github.com/lukasbeuster/KerbSide/internal/tiling"
)

// Orchestrator runs the full acquisition and repair pipeline for a place.
type Orchestrator struct {
	cfg      *config.Config
	resolver *geocode.Resolver
	fetcher  *overpass.Client
	engine   extract.Engine
}

// New creates an orchestrator from its collaborators.
func New(cfg *config.Config, resolver *geocode.Resolver, fetcher *overpass.Client, engine extract.Engine) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		resolver: resolver,
		fetcher:  fetcher,
		engine:   engine,
	}
}

// RunStats summarizes one completed pipeline run. Partial success is the
// normal case: failed tiles are counted here and listed in the failure log,
// they never abort the run.
type RunStats struct {
	PlaceID       int64
	TileCount     int
	FetchedTiles  int
	FetchSkipped  bool
	RepairedTiles int
	RemovedWays   int
	FailedTiles   int
	Features      int
	Duration      time.Duration
}

// Run executes the pipeline for a named place: geocode, partition, fetch,
// per-tile repair/extract/validate, merge, write outputs. Only errors
// raised before the per-tile loop are fatal.
func (o *Orchestrator) Run(ctx context.Context, placeName string) (*RunStats, error) {
	log := logger.Get()
	start := time.Now()

	var collector *metrics.Collector
	if o.cfg.MetricsInterval > 0 {
		metricsCtx, cancelMetrics := context.WithCancel(ctx)
		defer cancelMetrics()

		collector = metrics.NewCollector(o.cfg.MetricsInterval, log)
		go collector.Start(metricsCtx)
	}

	place, err := o.resolver.Resolve(ctx, placeName)
	if err != nil {
		return nil, err
	}

	tiles, err := o.PartitionPlace(place)
	if err != nil {
		return nil, err
	}

	baseDir := filepath.Join(o.cfg.DataDir, strconv.FormatInt(place.ID, 10))
	tileDir := filepath.Join(baseDir, "tiles")
	processedDir := filepath.Join(baseDir, "processed")

	if err := os.MkdirAll(tileDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create tile directory: %w", err)
	}

	log.Info("Starting pipeline run",
		zap.String("place", placeName),
		zap.Int64("osm_id", place.ID),
		zap.Int("tiles", len(tiles)),
		zap.Float64("tile_size", o.cfg.TileSize))

	fetched, skipped, err := o.FetchTiles(ctx, place.ID, tiles, tileDir)
	if err != nil {
		return nil, err
	}

	result, procStats, err := o.ProcessTiles(ctx, tileDir)
	if err != nil {
		return nil, err
	}

	if err := result.WriteOutputs(processedDir); err != nil {
		return nil, err
	}

	stats := &RunStats{
		PlaceID:       place.ID,
		TileCount:     len(tiles),
		FetchedTiles:  fetched,
		FetchSkipped:  skipped,
		RepairedTiles: procStats.Repaired,
		RemovedWays:   procStats.RemovedWays,
		FailedTiles:   len(result.FailedTiles),
		Features:      result.FeatureCount(),
		Duration:      time.Since(start),
	}

	log.Info("Pipeline run complete",
		zap.Int64("osm_id", stats.PlaceID),
		zap.Int("tiles", stats.TileCount),
		zap.Int("fetched", stats.FetchedTiles),
		zap.Int("repaired", stats.RepairedTiles),
		zap.Int("removed_ways", stats.RemovedWays),
		zap.Int("failed_tiles", stats.FailedTiles),
		zap.Int("features", stats.Features),
		zap.Duration("duration", stats.Duration.Round(time.Second)))

	if collector != nil {
		if snap := collector.Last(); snap != nil {
			log.Info("Final resource usage",
				zap.Float64("proc_cpu", snap.ProcessCPUPercent),
				zap.Float64("mem_pct", snap.MemoryPercent),
				zap.Float64("mem_used_mb", snap.MemoryUsedMB))
		}
	}

	return stats, nil
}

// PartitionPlace splits a place's bounding box into tiles, applying the
// configured bounding-box override when one is set.
func (o *Orchestrator) PartitionPlace(place *geocode.Place) ([]tiling.Tile, error) {
	bbox := place.BBox
	if o.cfg.BBox != nil {
		bbox = *o.cfg.BBox
		if !place.BBox.Contains(bbox.MinLat, bbox.MinLon) || !place.BBox.Contains(bbox.MaxLat, bbox.MaxLon) {
			logger.Get().Warn("Bounding-box override extends outside the geocoded place",
				zap.Int64("osm_id", place.ID))
		}
	}
	return tiling.Partition(bbox, o.cfg.TileSize)
}

// FetchTiles downloads every tile of the set into dir, one request per
// tile. The whole fetch is skipped when the directory already holds a
// complete set. A failed tile is logged and skipped; its file is simply
// absent. Returns the number of tiles fetched and whether the fetch was
// skipped.
func (o *Orchestrator) FetchTiles(ctx context.Context, placeID int64, tiles []tiling.Tile, dir string) (int, bool, error) {
	log := logger.Get()

	present, err := tiling.TilesAlreadyPresent(dir, len(tiles))
	if err != nil {
		return 0, false, err
	}
	if present {
		log.Info("Tile set already complete, skipping fetch",
			zap.Int64("osm_id", placeID),
			zap.Int("tiles", len(tiles)))
		return 0, true, nil
	}

	fetched := 0
	for _, tile := range tiles {
		data, err := o.fetcher.FetchTile(ctx, tile.BBox)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return fetched, false, err
			}
			log.Warn("Tile fetch failed, skipping",
				zap.Int("tile", tile.Index),
				zap.Error(err))
			continue
		}

		name := tiling.TileFileName(placeID, tile.Index)
		if err := tiling.WriteTileFile(dir, name, data); err != nil {
			return fetched, false, err
		}

		fetched++
		log.Debug("Tile fetched",
			zap.Int("tile", tile.Index),
			zap.Int("total", len(tiles)),
			zap.Int("bytes", len(data)))
	}

	log.Info("Tile fetch complete",
		zap.Int("fetched", fetched),
		zap.Int("tiles", len(tiles)))
	return fetched, false, nil
}

// ProcessStats summarizes the per-tile stage.
type ProcessStats struct {
	Tiles       int
	Repaired    int
	RemovedWays int
}

// tileResult is the outcome of one tile's repair/extract/validate stage.
type tileResult struct {
	name          string
	network       *geojson.FeatureCollection
	lanes         *geojson.FeatureCollection
	intersections *geojson.FeatureCollection
	repaired      bool
	removedWays   int
	err           error
}

// ProcessTiles repairs, extracts and validates every tile document in
// tileDir across a worker pool, then merges the results in ascending
// tile-index order so the combined outputs and the failure log are
// deterministic regardless of completion order. Per-tile errors become
// failure-log entries; only a cancelled context aborts the stage.
func (o *Orchestrator) ProcessTiles(ctx context.Context, tileDir string) (*aggregate.Result, *ProcessStats, error) {
	log := logger.Get()

	names, err := tiling.ListTileFiles(tileDir)
	if err != nil {
		return nil, nil, err
	}

	results := make([]*tileResult, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Workers)

	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = o.processTile(gctx, tileDir, name)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	// Single-writer merge stage: the accumulator is only touched here,
	// in tile-index order.
	result := aggregate.NewResult(o.cfg.Outputs)
	stats := &ProcessStats{Tiles: len(names)}

	for _, r := range results {
		if r == nil {
			continue
		}
		if r.err != nil {
			log.Warn("Tile failed",
				zap.String("tile", r.name),
				zap.Error(r.err))
			result.RecordFailure(r.name)
			continue
		}
		if r.repaired {
			stats.Repaired++
			stats.RemovedWays += r.removedWays
		}
		result.Append(r.network, r.lanes, r.intersections)
	}

	return result, stats, nil
}

// processTile runs one tile through repair, extraction and validation.
// Every failure is captured in the returned result instead of propagating.
func (o *Orchestrator) processTile(ctx context.Context, tileDir, name string) *tileResult {
	log := logger.Get()
	res := &tileResult{name: name}

	tilePath := filepath.Join(tileDir, name)
	fixedPath := tiling.RepairedPath(tilePath)

	report, err := mapdoc.RepairFile(tilePath, fixedPath, o.cfg.Epsilon)
	if err != nil {
		res.err = err
		return res
	}
	if len(report.Problematic) > 0 {
		log.Info("Repaired problematic ways",
			zap.String("tile", name),
			zap.Int("nodes", report.Nodes),
			zap.Int("flagged", len(report.Problematic)),
			zap.Int("removed", len(report.Removed)))
	}
	res.repaired = !report.Skipped && len(report.Problematic) > 0
	res.removedWays = len(report.Removed)

	data, err := os.ReadFile(report.ProcessPath)
	if err != nil {
		res.err = fmt.Errorf("failed to read tile document: %w", err)
		return res
	}

	extracted, err := o.engine.Extract(ctx, data, extract.DefaultOptions(o.cfg.DrivingSide), o.cfg.Outputs)
	if err != nil {
		res.err = &extract.Error{Tile: name, Err: err}
		return res
	}

	// A collection that fails validation yields an empty collection for
	// this tile; the tile itself is not failed.
	if o.cfg.Outputs.Network {
		res.network = o.validate(name, "network", extracted.Network)
	}
	if o.cfg.Outputs.Lanes {
		res.lanes = o.validate(name, "lanes", extracted.Lanes)
	}
	if o.cfg.Outputs.Intersections {
		res.intersections = o.validate(name, "intersections", extracted.Intersections)
	}

	return res
}

func (o *Orchestrator) validate(tile, kind string, raw []byte) *geojson.FeatureCollection {
	fc, err := aggregate.ValidateAndMerge(raw)
	if err != nil {
		logger.Get().Warn("Geometry validation failed",
			zap.String("tile", tile),
			zap.String("kind", kind),
			zap.Error(err))
	}
	return fc
}
