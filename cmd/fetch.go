package cmd

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/lukasbeuster/KerbSide/internal/config"
	"github.com/lukasbeuster/KerbSide/internal/geocode"
	"github.com/lukasbeuster/KerbSide/internal/logger"
	"github.com/lukasbeuster/KerbSide/internal/overpass"
	"github.com/lukasbeuster/KerbSide/internal/pipeline"
	"github.com/spf13/cobra"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <place name>",
	Short: "Download the tile set for a place without processing it",
	Long: `Geocode a place, partition its bounding box into tiles and download the
raw OSM tile documents. The download is skipped entirely when the tile
directory already holds a complete set.`,
	Args: cobra.ExactArgs(1),
	Run:  runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)

	fetchCmd.Flags().Float64Var(&runTileSize, "tile-size", cfg.TileSize, "Tile size in degrees")
	fetchCmd.Flags().StringVar(&runBBox, "bbox", "", "Override the geocoded bounding box: minlat,minlon,maxlat,maxlon")
	fetchCmd.Flags().DurationVar(&runFetchDelay, "fetch-delay", cfg.FetchDelay, "Delay between tile requests")
}

func runFetch(cmd *cobra.Command, args []string) {
	placeName := args[0]
	log := logger.Get()

	if cmd.Flags().Changed("tile-size") {
		cfg.TileSize = runTileSize
	}
	if cmd.Flags().Changed("bbox") {
		bbox, err := config.ParseBBox(runBBox)
		if err != nil {
			exitWithError("invalid flags", err)
		}
		cfg.BBox = &bbox
	}
	if cmd.Flags().Changed("fetch-delay") {
		cfg.FetchDelay = runFetchDelay
	}
	if err := cfg.Validate(); err != nil {
		exitWithError("invalid configuration", err)
	}

	ctx := context.Background()
	start := time.Now()

	cache, err := geocode.LoadCache(cfg.CacheFile)
	if err != nil {
		exitWithError("failed to load place cache", err)
	}
	resolver := geocode.NewResolver(geocode.NewClient(cfg.NominatimURL, cfg.UserAgent), cache)

	place, err := resolver.Resolve(ctx, placeName)
	if err != nil {
		exitWithError("failed to resolve place", err)
	}

	fetcher := overpass.NewClient(cfg.OverpassURL, cfg.UserAgent, cfg.FetchDelay)
	orch := pipeline.New(cfg, resolver, fetcher, nil)

	tiles, err := orch.PartitionPlace(place)
	if err != nil {
		exitWithError("failed to partition bounding box", err)
	}

	tileDir := filepath.Join(cfg.DataDir, strconv.FormatInt(place.ID, 10), "tiles")
	if err := os.MkdirAll(tileDir, 0755); err != nil {
		exitWithError("failed to create tile directory", err)
	}

	fetched, skipped, err := orch.FetchTiles(ctx, place.ID, tiles, tileDir)
	if err != nil {
		exitWithError("tile fetch failed", err)
	}

	log.Info("Fetch complete",
		zap.Int64("osm_id", place.ID),
		zap.Int("tiles", len(tiles)),
		zap.Int("fetched", fetched),
		zap.Bool("skipped", skipped),
		zap.String("dir", tileDir),
		zap.Duration("duration", time.Since(start).Round(time.Second)))
}
