package cmd

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lukasbeuster/KerbSide/internal/config"
	"github.com/lukasbeuster/KerbSide/internal/extract"
	"github.com/lukasbeuster/KerbSide/internal/geocode"
	"github.com/lukasbeuster/KerbSide/internal/logger"
	"github.com/lukasbeuster/KerbSide/internal/overpass"
	"github.com/lukasbeuster/KerbSide/internal/pipeline"
	"github.com/spf13/cobra"
)

var (
	runTileSize    float64
	runBBox        string
	runDrivingSide string
	runOutputs     string
	runFetchDelay  time.Duration
	runEngine      string
	runEpsilon     float64
)

var runCmd = &cobra.Command{
	Use:   "run <place name>",
	Short: "Run the full pipeline for a place",
	Long: `Run the full pipeline for a named place (e.g. "West, Amsterdam"):
geocode, partition into tiles, fetch, repair invalid way geometry, extract
street-network features and write the combined GeoJSON outputs.

Tiles that fail are listed in failed_tiles.txt next to the combined outputs;
partial success is the normal case and does not abort the run.`,
	Args: cobra.ExactArgs(1),
	Run:  runPipeline,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().Float64Var(&runTileSize, "tile-size", cfg.TileSize, "Tile size in degrees")
	runCmd.Flags().StringVar(&runBBox, "bbox", "", "Override the geocoded bounding box: minlat,minlon,maxlat,maxlon")
	runCmd.Flags().StringVar(&runDrivingSide, "driving-side", cfg.DrivingSide, "Driving side (Right or Left)")
	runCmd.Flags().StringVar(&runOutputs, "outputs", "", "Comma-separated outputs to produce: network,lanes,intersections (default all)")
	runCmd.Flags().DurationVar(&runFetchDelay, "fetch-delay", cfg.FetchDelay, "Delay between tile requests")
	runCmd.Flags().StringVar(&runEngine, "engine", cfg.EngineBinary, "Path to the street-network extraction binary")
	runCmd.Flags().Float64Var(&runEpsilon, "epsilon", cfg.Epsilon, "Minimum segment length in degrees for repair detection")
}

// applyRunFlags copies explicitly set run flags onto the configuration.
func applyRunFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	if flags.Changed("tile-size") {
		cfg.TileSize = runTileSize
	}
	if flags.Changed("bbox") {
		bbox, err := config.ParseBBox(runBBox)
		if err != nil {
			return err
		}
		cfg.BBox = &bbox
	}
	if flags.Changed("driving-side") {
		cfg.DrivingSide = runDrivingSide
	}
	if flags.Changed("fetch-delay") {
		cfg.FetchDelay = runFetchDelay
	}
	if flags.Changed("engine") {
		cfg.EngineBinary = runEngine
	}
	if flags.Changed("epsilon") {
		cfg.Epsilon = runEpsilon
	}
	if flags.Changed("outputs") {
		outputs, err := config.ParseOutputs(runOutputs)
		if err != nil {
			return err
		}
		cfg.Outputs = outputs
	}
	return nil
}

func runPipeline(cmd *cobra.Command, args []string) {
	placeName := args[0]
	log := logger.Get()

	if err := applyRunFlags(cmd); err != nil {
		exitWithError("invalid flags", err)
	}
	if err := cfg.Validate(); err != nil {
		exitWithError("invalid configuration", err)
	}

	orch, err := newOrchestrator()
	if err != nil {
		exitWithError("failed to initialize pipeline", err)
	}

	stats, err := orch.Run(context.Background(), placeName)
	if err != nil {
		exitWithError("pipeline run failed", err)
	}

	if stats.FailedTiles > 0 {
		log.Warn("Run completed with failed tiles",
			zap.Int("failed_tiles", stats.FailedTiles))
	}
}

// newOrchestrator wires the pipeline collaborators from the configuration.
func newOrchestrator() (*pipeline.Orchestrator, error) {
	cache, err := geocode.LoadCache(cfg.CacheFile)
	if err != nil {
		return nil, err
	}

	resolver := geocode.NewResolver(geocode.NewClient(cfg.NominatimURL, cfg.UserAgent), cache)
	fetcher := overpass.NewClient(cfg.OverpassURL, cfg.UserAgent, cfg.FetchDelay)
	engine := extract.NewCommandEngine(cfg.EngineBinary)

	return pipeline.New(cfg, resolver, fetcher, engine), nil
}
