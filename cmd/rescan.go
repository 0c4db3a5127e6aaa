package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/reunite/internal/registry"
)

var rescanCmd = &cobra.Command{
	Use:   "rescan",
	Short: "Rematch every active record of a pool against the opposite pool",
	Long: `Run a full rescan of one pool. Every active, valid record is matched
against the current opposite pool and qualifying candidates are stored.
Running it again is safe: candidates are updated, never duplicated.

Use it after changing thresholds or after importing records in bulk.
Press Ctrl+C to stop; records already processed keep their candidates.

Examples:
  # Rematch all missing persons
  reunite rescan --pool missing

  # Use a stricter distance threshold for this run
  reunite rescan --pool sighting --threshold 0.45`,
	RunE: runRescan,
}

func init() {
	rootCmd.AddCommand(rescanCmd)

	rescanCmd.Flags().String("pool", "", "Pool to rescan: missing or sighting (required)")
	rescanCmd.Flags().Float64("threshold", 0, "Maximum cosine distance for this run (0 = configured value)")
	rescanCmd.Flags().Bool("json", false, "Output result as JSON")
}

func runRescan(cmd *cobra.Command, args []string) error {
	pool, err := poolFlag(cmd, true)
	if err != nil {
		return err
	}
	threshold := mustGetFloat64(cmd, "threshold")
	jsonOutput := mustGetBool(cmd, "json")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	th := a.registry.Thresholds().WithMaxDistance(threshold)
	if !jsonOutput {
		fmt.Printf("Rescanning %s pool (max distance %.2f, strong >= %.0f%%, potential >= %.0f%%)\n",
			pool, th.MaxDistance, th.StrongConfidence, th.PotentialConfidence)
	}

	var bar *progressbar.ProgressBar
	progress := func(p registry.RescanProgress) {
		if jsonOutput {
			return
		}
		if bar == nil {
			bar = progressbar.NewOptions(p.Total,
				progressbar.OptionSetDescription("Matching"),
				progressbar.OptionShowCount(),
				progressbar.OptionShowIts(),
				progressbar.OptionSetItsString("records"),
				progressbar.OptionShowElapsedTimeOnFinish(),
				progressbar.OptionSetPredictTime(true),
				progressbar.OptionFullWidth(),
			)
		}
		_ = bar.Set(p.Done)
	}

	result, err := a.registry.RunFullRescan(ctx, pool, threshold, progress)
	if err != nil {
		return fmt.Errorf("rescan failed: %w", err)
	}
	if bar != nil {
		_ = bar.Finish()
		fmt.Println()
	}

	if jsonOutput {
		return outputJSON(result)
	}

	if result.Cancelled {
		fmt.Printf("Rescan interrupted after %d of %d records\n", result.Processed+result.Skipped+result.Failed, result.Total)
	} else {
		fmt.Printf("Rescan finished in %s\n", result.Duration.Round(time.Millisecond))
	}
	fmt.Printf("  Records:    %d\n", result.Total)
	fmt.Printf("  Processed:  %d\n", result.Processed)
	fmt.Printf("  Skipped:    %d (already being matched)\n", result.Skipped)
	fmt.Printf("  Failed:     %d\n", result.Failed)
	fmt.Printf("  Candidates: %d\n", result.Candidates)

	if result.Failed > 0 {
		return fmt.Errorf("%d records failed to match", result.Failed)
	}
	return nil
}
