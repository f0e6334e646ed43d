package cmd

import (
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/lukasbeuster/KerbSide/internal/logger"
	"github.com/lukasbeuster/KerbSide/internal/mapdoc"
	"github.com/lukasbeuster/KerbSide/internal/tiling"
	"github.com/spf13/cobra"
)

var repairCmd = &cobra.Command{
	Use:   "repair <tile directory>",
	Short: "Repair invalid way geometry in an existing tile directory",
	Long: `Scan every tile document in a directory for ways with repeat
non-adjacent points or degenerate segments and write repaired sibling
documents. Tiles that already have a repaired artifact are skipped.`,
	Args: cobra.ExactArgs(1),
	Run:  runRepair,
}

func init() {
	rootCmd.AddCommand(repairCmd)

	repairCmd.Flags().Float64Var(&runEpsilon, "epsilon", cfg.Epsilon, "Minimum segment length in degrees for repair detection")
}

func runRepair(cmd *cobra.Command, args []string) {
	tileDir := args[0]
	log := logger.Get()

	if cmd.Flags().Changed("epsilon") {
		cfg.Epsilon = runEpsilon
	}

	names, err := tiling.ListTileFiles(tileDir)
	if err != nil {
		exitWithError("failed to list tile files", err)
	}

	start := time.Now()
	var repaired, skipped, failed, removedWays int

	for _, name := range names {
		tilePath := filepath.Join(tileDir, name)
		fixedPath := tiling.RepairedPath(tilePath)

		report, err := mapdoc.RepairFile(tilePath, fixedPath, cfg.Epsilon)
		if err != nil {
			log.Warn("Tile repair failed",
				zap.String("tile", name),
				zap.Error(err))
			failed++
			continue
		}

		switch {
		case report.Skipped:
			skipped++
		case len(report.Problematic) > 0:
			repaired++
			removedWays += len(report.Removed)
			log.Info("Tile repaired",
				zap.String("tile", name),
				zap.Int("nodes", report.Nodes),
				zap.Int("flagged", len(report.Problematic)),
				zap.Int("removed", len(report.Removed)))
		}
	}

	log.Info("Repair pass complete",
		zap.Int("tiles", len(names)),
		zap.Int("repaired", repaired),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed),
		zap.Int("removed_ways", removedWays),
		zap.Duration("duration", time.Since(start).Round(time.Second)))
}
