package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chanzer0/tififn-times/internal/export"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export geocoded logs to XLSX or a shapefile",
	Example: `  jecc-logs export --format xlsx --start-date 2024-03-01 --end-date 2024-03-31 --out march.xlsx
  jecc-logs export --format shp --days 7 --out last_week.shp`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		formatName, _ := cmd.Flags().GetString("format")
		startDate, _ := cmd.Flags().GetString("start-date")
		endDate, _ := cmd.Flags().GetString("end-date")
		days, _ := cmd.Flags().GetInt("days")
		out, _ := cmd.Flags().GetString("out")

		format, err := export.ParseFormat(formatName)
		if err != nil {
			return err
		}
		start, end, err := dateWindow("", startDate, endDate, days, time.Now())
		if err != nil {
			return err
		}
		if out == "" {
			out = "jecc_logs." + string(format)
		}

		env, err := initEnv(ctx, "export")
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := export.Export(ctx, env.Store, format, start, end, out)
		if err != nil {
			return err
		}
		fmt.Printf("Exported %d geocoded logs to %s\n", n, out)
		return nil
	},
}

func init() {
	exportCmd.Flags().String("format", "xlsx", "output format: xlsx or shp")
	exportCmd.Flags().String("start-date", "", "first day (YYYY-MM-DD)")
	exportCmd.Flags().String("end-date", "", "last day, inclusive (YYYY-MM-DD)")
	exportCmd.Flags().Int("days", 7, "number of most recent days when no dates are given")
	exportCmd.Flags().String("out", "", "output path (default jecc_logs.<format>)")
	rootCmd.AddCommand(exportCmd)
}
