package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chanzer0/tififn-times/internal/backfill"
	"github.com/chanzer0/tififn-times/internal/model"
)

var geoStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show geocoding progress",
	Long:  "Display how many stored logs still need coordinates, the checkpoint and the estimated time to finish.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

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
		printAnalysis(a)
		return nil
	},
}

var geoResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the backfill checkpoint",
	Long:  "Clears the backfill checkpoint so the next backfill considers every pending log again.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "backfill")
		if err != nil {
			return err
		}
		defer env.Close()

		sched, err := newScheduler(env)
		if err != nil {
			return err
		}
		if err := sched.Reset(ctx); err != nil {
			return err
		}
		fmt.Println("Checkpoint cleared")
		return nil
	},
}

func printAnalysis(a *backfill.Analysis) {
	fmt.Println("Geocoding Status")
	fmt.Println("================")
	fmt.Printf("Total records:           %d\n", a.TotalRecords)
	fmt.Printf("Geocoded records:        %d\n", a.GeocodedRecords)
	fmt.Printf("Records needing geocode: %d\n", a.PendingRecords)
	fmt.Printf("Pending addresses:       %d\n", a.UniquePendingAddresses)
	if a.MostRecentPending != nil {
		fmt.Printf("Most recent pending:     %s\n", a.MostRecentPending.Format(model.DateLayout))
	}
	if a.TotalRecords > 0 {
		fmt.Printf("Coverage:                %.1f%%\n", float64(a.GeocodedRecords)/float64(a.TotalRecords)*100)
	}
	fmt.Printf("Checkpoint:              %d\n", a.Checkpoint)
	fmt.Printf("Estimated time:          %.1f hours\n", a.EstimatedHours)
}

func init() {
	geoCmd.AddCommand(geoStatusCmd)
	geoCmd.AddCommand(geoResetCmd)
}
