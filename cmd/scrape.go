package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chanzer0/tififn-times/internal/ingest"
	"github.com/chanzer0/tififn-times/internal/model"
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Scrape dispatch logs into the store",
	Long: `Fetches the dispatch log page for one day, a date range, or the most recent days
and upserts every parsed row. Re-running a day is safe: rows are keyed by case number and date.`,
	Example: `  jecc-logs scrape --date 2024-03-01
  jecc-logs scrape --start-date 2024-01-01 --end-date 2024-01-31
  jecc-logs scrape --days 3`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		date, _ := cmd.Flags().GetString("date")
		startDate, _ := cmd.Flags().GetString("start-date")
		endDate, _ := cmd.Flags().GetString("end-date")
		days, _ := cmd.Flags().GetInt("days")

		start, end, err := dateWindow(date, startDate, endDate, days, time.Now())
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "ingest")
		if err != nil {
			return err
		}
		defer env.Close()

		log := logger("scrape")
		log.Info("scraping",
			zap.String("start", start.Format(model.DateLayout)),
			zap.String("end", end.Format(model.DateLayout)),
		)

		res, err := newPipeline(env).ScrapeRange(ctx, start, end)
		if res != nil {
			printRangeResult(res)
		}
		return err
	},
}

// dateWindow resolves the date flags into an inclusive date range.
// --date wins over --start-date/--end-date, which win over --days.
func dateWindow(date, startDate, endDate string, days int, now time.Time) (time.Time, time.Time, error) {
	switch {
	case date != "":
		d, err := model.ParseDate(date)
		if err != nil {
			return time.Time{}, time.Time{}, eris.Wrapf(err, "dates: invalid --date %q", date)
		}
		return d, d, nil
	case startDate != "" || endDate != "":
		if startDate == "" || endDate == "" {
			return time.Time{}, time.Time{}, eris.New("dates: --start-date and --end-date must be given together")
		}
		s, err := model.ParseDate(startDate)
		if err != nil {
			return time.Time{}, time.Time{}, eris.Wrapf(err, "dates: invalid --start-date %q", startDate)
		}
		e, err := model.ParseDate(endDate)
		if err != nil {
			return time.Time{}, time.Time{}, eris.Wrapf(err, "dates: invalid --end-date %q", endDate)
		}
		if s.After(e) {
			return time.Time{}, time.Time{}, eris.Errorf("dates: --start-date %s is after --end-date %s", startDate, endDate)
		}
		return s, e, nil
	default:
		if days < 1 {
			return time.Time{}, time.Time{}, eris.New("dates: --days must be >= 1")
		}
		e := model.Date(now)
		return e.AddDate(0, 0, -(days - 1)), e, nil
	}
}

func printRangeResult(res *ingest.RangeResult) {
	for _, d := range res.Days {
		status := "ok"
		if d.Err != nil {
			status = "failed: " + d.Err.Error()
		}
		fmt.Printf("%s  parsed=%d inserted=%d updated=%d reused=%d  %s\n",
			d.Date.Format(model.DateLayout), d.Parsed, d.Inserted, d.Updated, d.Reused, status)
	}
	fmt.Printf("Scrape complete: %d inserted, %d updated, %d failed days (%s)\n",
		res.Inserted, res.Updated, res.Failed, res.Elapsed.Round(time.Millisecond))
}

func init() {
	scrapeCmd.Flags().String("date", "", "single day to scrape (YYYY-MM-DD)")
	scrapeCmd.Flags().String("start-date", "", "first day of a range (YYYY-MM-DD)")
	scrapeCmd.Flags().String("end-date", "", "last day of a range, inclusive (YYYY-MM-DD)")
	scrapeCmd.Flags().Int("days", 1, "number of most recent days to scrape, ending today")
	rootCmd.AddCommand(scrapeCmd)
}
