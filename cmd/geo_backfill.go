package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var geoBackfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Geocode logs that have no coordinates",
	Long: `Geocodes each distinct pending address once and writes the result to every row
sharing it. Progress is checkpointed after every address, so an interrupted run resumes
where it stopped. Use "geo reset" to start over.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		strategy, _ := cmd.Flags().GetString("strategy")
		batchSize, _ := cmd.Flags().GetInt("batch-size")
		limit, _ := cmd.Flags().GetInt("limit")
		if strategy == "" {
			strategy = cfg.Backfill.Strategy
		}
		if batchSize <= 0 {
			batchSize = cfg.Backfill.BatchSize
		}
		opts, err := backfillOptions(strategy, batchSize, limit)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "backfill")
		if err != nil {
			return err
		}
		defer env.Close()

		sched, err := newScheduler(env)
		if err != nil {
			return err
		}

		a, err := sched.Analyze(ctx)
		if err != nil {
			return err
		}
		if a.UniquePendingAddresses == 0 {
			fmt.Println("No addresses need geocoding")
			return nil
		}
		logger("geo.backfill").Info("starting geocode backfill",
			zap.Int64("pending_records", a.PendingRecords),
			zap.Int64("pending_addresses", a.UniquePendingAddresses),
			zap.Int64("checkpoint", a.Checkpoint),
			zap.Float64("estimated_hours", a.EstimatedHours),
		)

		stats, err := sched.Run(ctx, opts)
		if stats != nil {
			fmt.Printf("Backfill %s: %d addresses (%d successful, %d failed, %d skipped), %d records updated, checkpoint %d, %s\n",
				stats.RunID, stats.AddressesProcessed, stats.Successful, stats.Failed, stats.Skipped,
				stats.RecordsUpdated, stats.Checkpoint, stats.Elapsed.Round(time.Second))
		}
		if err != nil && ctx.Err() != nil {
			fmt.Println("Interrupted; progress saved. Run the command again to resume.")
			return nil
		}
		return err
	},
}

func init() {
	geoBackfillCmd.Flags().String("strategy", "", "address order: recent_first, most_common_first or id_order (default from config)")
	geoBackfillCmd.Flags().Int("batch-size", 0, "addresses per batch (default from config)")
	geoBackfillCmd.Flags().Int("limit", 0, "maximum number of addresses to process (0 = no limit)")
	geoCmd.AddCommand(geoBackfillCmd)
}
