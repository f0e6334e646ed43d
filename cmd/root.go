package cmd

import (
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/lukasbeuster/KerbSide/internal/config"
	"github.com/lukasbeuster/KerbSide/internal/logger"
	"github.com/spf13/cobra"
)

var (
	cfg             = config.DefaultConfig()
	verbose         bool
	logFile         string
	configFile      string
	metricsInterval time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "kerbside",
	Short: "Street-map tile acquisition and geometry-repair pipeline",
	Long: `kerbside fetches raw OSM data for a named place, repairs topologically
invalid way geometry in it, and merges the per-tile street-network outputs
into combined GeoJSON files.

Stages:
  - Geocode the place name into an OSM id and bounding box (cached)
  - Partition the bounding box into a grid of tiles
  - Fetch each tile from an Overpass endpoint (idempotent per tile set)
  - Repair or remove ways with invalid geometry
  - Extract street-network features per tile and merge them`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configFile != "" {
			fc, err := config.LoadFile(configFile)
			if err != nil {
				return err
			}
			if err := fc.Apply(cfg); err != nil {
				return err
			}
			// Explicit flags win over the config file.
			if f := cmd.Flags().Lookup("data-dir"); f != nil && f.Changed {
				cfg.DataDir = f.Value.String()
			}
			if f := cmd.Flags().Lookup("workers"); f != nil && f.Changed {
				if n, err := cmd.Flags().GetInt("workers"); err == nil {
					cfg.Workers = n
				}
			}
		}

		cfg.Verbose = verbose
		cfg.LogFile = logFile
		cfg.MetricsInterval = metricsInterval

		if logFile != "" {
			logger.InitWithFile(verbose, logFile)
		} else {
			logger.Init(verbose)
		}
		return nil
	},
}

func Execute() error {
	defer logger.Sync()
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to YAML run-configuration file")
	rootCmd.PersistentFlags().StringVarP(&cfg.DataDir, "data-dir", "o", cfg.DataDir, "Base directory for tile and output data")
	rootCmd.PersistentFlags().IntVarP(&cfg.Workers, "workers", "j", cfg.Workers, "Number of parallel tile workers")

	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Path to log file for persistent logging (JSON format)")
	rootCmd.PersistentFlags().DurationVar(&metricsInterval, "metrics-interval", 0, "Interval for resource usage logging (0 disables, e.g. 30s)")
}

func exitWithError(msg string, err error) {
	log := logger.Get()
	if err != nil {
		log.Error(msg, zap.Error(err))
	} else {
		log.Error(msg)
	}
	os.Exit(1)
}
