package main

import "github.com/spf13/cobra"

var geoCmd = &cobra.Command{
	Use:   "geo",
	Short: "Geocode stored dispatch logs",
	Long:  "Backfill coordinates for stored logs and inspect or reset the backfill checkpoint.",
}

func init() { rootCmd.AddCommand(geoCmd) }
