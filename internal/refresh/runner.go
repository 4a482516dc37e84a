// Package refresh serializes ingest and backfill runs within one process.
package refresh

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/chanzer0/tififn-times/internal/backfill"
	"github.com/chanzer0/tififn-times/internal/ingest"
	"github.com/chanzer0/tififn-times/internal/store"
)

// ErrBusy is returned when another run holds the runner.
var ErrBusy = eris.New("refresh: run already in progress")

// Ingester scrapes the most recent days.
type Ingester interface {
	ScrapeRecent(ctx context.Context, days int) (*ingest.RangeResult, error)
}

// Backfiller geocodes pending addresses without moving the persisted checkpoint.
type Backfiller interface {
	RunAdHoc(ctx context.Context, opts backfill.Options) (*backfill.Stats, error)
}

// Result of a combined refresh.
type Result struct {
	Ingest  *ingest.RangeResult `json:"ingest,omitempty"`
	Geocode *backfill.Stats     `json:"geocode,omitempty"`
}

// Runner admits at most one ingest or backfill run at a time. Callers that
// find it busy get ErrBusy instead of queueing.
type Runner struct {
	mu       sync.Mutex
	wg       sync.WaitGroup
	ingest   Ingester
	backfill Backfiller
	log      *zap.Logger
}

// New creates a Runner.
func New(in Ingester, bf Backfiller) *Runner {
	return &Runner{
		ingest:   in,
		backfill: bf,
		log:      zap.L().With(zap.String("component", "refresh")),
	}
}

// Scrape ingests the last days days.
func (r *Runner) Scrape(ctx context.Context, days int) (*ingest.RangeResult, error) {
	if !r.mu.TryLock() {
		return nil, ErrBusy
	}
	defer r.mu.Unlock()
	return r.ingest.ScrapeRecent(ctx, days)
}

// Geocode backfills up to limit addresses, most recent first.
func (r *Runner) Geocode(ctx context.Context, limit int) (*backfill.Stats, error) {
	if !r.mu.TryLock() {
		return nil, ErrBusy
	}
	defer r.mu.Unlock()
	return r.geocode(ctx, limit)
}

// Refresh scrapes recent days and then geocodes what they added. A geocode
// limit of zero skips the backfill step.
func (r *Runner) Refresh(ctx context.Context, days, limit int) (*Result, error) {
	if !r.mu.TryLock() {
		return nil, ErrBusy
	}
	defer r.mu.Unlock()

	var res Result
	in, err := r.ingest.ScrapeRecent(ctx, days)
	res.Ingest = in
	if err != nil {
		return &res, err
	}
	if limit <= 0 {
		return &res, nil
	}
	res.Geocode, err = r.geocode(ctx, limit)
	return &res, err
}

func (r *Runner) geocode(ctx context.Context, limit int) (*backfill.Stats, error) {
	return r.backfill.RunAdHoc(ctx, backfill.Options{
		Strategy:     store.StrategyRecentFirst,
		MaxAddresses: limit,
	})
}

// StartScrape runs Scrape in the background on ctx. It returns ErrBusy
// immediately rather than starting a second run.
func (r *Runner) StartScrape(ctx context.Context, days int) error {
	return r.start(func() {
		res, err := r.ingest.ScrapeRecent(ctx, days)
		if err != nil {
			r.log.Error("background scrape failed", zap.Int("days", days), zap.Error(err))
			return
		}
		r.log.Info("background scrape complete",
			zap.String("run_id", res.RunID),
			zap.Int("inserted", res.Inserted),
			zap.Int("failed_days", res.Failed),
		)
	})
}

// StartGeocode runs Geocode in the background on ctx.
func (r *Runner) StartGeocode(ctx context.Context, limit int) error {
	return r.start(func() {
		st, err := r.geocode(ctx, limit)
		if err != nil {
			r.log.Error("background geocode failed", zap.Int("limit", limit), zap.Error(err))
			return
		}
		r.log.Info("background geocode complete",
			zap.String("run_id", st.RunID),
			zap.Int("successful", st.Successful),
			zap.Int64("records_updated", st.RecordsUpdated),
		)
	})
}

func (r *Runner) start(fn func()) error {
	if !r.mu.TryLock() {
		return ErrBusy
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.mu.Unlock()
		fn()
	}()
	return nil
}

// Wait blocks until background runs have finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}
