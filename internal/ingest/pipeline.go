// Package ingest turns daily dispatch log pages into stored log records.
package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/chanzer0/tififn-times/internal/metrics"
	"github.com/chanzer0/tififn-times/internal/model"
	"github.com/chanzer0/tififn-times/internal/scrape"
	"github.com/chanzer0/tififn-times/internal/store"
)

// PageFetcher returns the raw log page for one day.
type PageFetcher interface {
	Fetch(ctx context.Context, date time.Time) (string, error)
}

// Invalidator drops cached log reads after a write.
type Invalidator interface {
	InvalidateLogs(ctx context.Context) error
}

// DayResult reports the outcome of one day.
type DayResult struct {
	Date     time.Time `json:"date"`
	Parsed   int       `json:"parsed"`
	Inserted int       `json:"inserted"`
	Updated  int       `json:"updated"`
	Reused   int       `json:"reused"`
	Err      error     `json:"-"`
}

// RangeResult aggregates a multi-day run.
type RangeResult struct {
	RunID    string        `json:"run_id"`
	Inserted int           `json:"inserted"`
	Updated  int           `json:"updated"`
	Failed   int           `json:"failed_days"`
	Days     []DayResult   `json:"days"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Pipeline fetches, parses and upserts dispatch logs one day at a time.
type Pipeline struct {
	store      store.Store
	fetcher    PageFetcher
	invalidate Invalidator
	now        func() time.Time
	log        *zap.Logger
}

// New creates a Pipeline. inv may be nil when no read cache is in use.
func New(st store.Store, f PageFetcher, inv Invalidator) *Pipeline {
	return &Pipeline{
		store:      st,
		fetcher:    f,
		invalidate: inv,
		now:        time.Now,
		log:        zap.L().With(zap.String("component", "ingest")),
	}
}

// IngestDay parses page and upserts its rows for logDate in one transaction.
// On a persistence error nothing from the page is kept and the returned
// result counts zero inserted.
func (p *Pipeline) IngestDay(ctx context.Context, page string, logDate time.Time) (DayResult, error) {
	logDate = model.Date(logDate)
	res := DayResult{Date: logDate}

	records, err := scrape.ParseString(page)
	if err != nil {
		p.log.Debug("unparseable page", zap.Time("date", logDate), zap.Error(err))
		records = nil
	}
	res.Parsed = len(records)
	if len(records) == 0 {
		p.log.Info("no logs for day", zap.String("date", logDate.Format(model.DateLayout)))
		metrics.IngestDays.WithLabelValues("empty").Inc()
		return res, nil
	}
	for i := range records {
		records[i].LogDate = logDate
	}

	out, err := p.store.UpsertDay(ctx, logDate, records)
	if err != nil {
		metrics.IngestDays.WithLabelValues("persist_failed").Inc()
		res.Err = err
		return res, eris.Wrapf(err, "ingest: persist %s", logDate.Format(model.DateLayout))
	}
	res.Inserted, res.Updated, res.Reused = out.Inserted, out.Updated, out.Reused

	metrics.IngestDays.WithLabelValues("ok").Inc()
	metrics.IngestRows.WithLabelValues("inserted").Add(float64(out.Inserted))
	metrics.IngestRows.WithLabelValues("updated").Add(float64(out.Updated))
	metrics.IngestRows.WithLabelValues("reused_geocode").Add(float64(out.Reused))

	p.log.Info("ingested day",
		zap.String("date", logDate.Format(model.DateLayout)),
		zap.Int("parsed", res.Parsed),
		zap.Int("inserted", out.Inserted),
		zap.Int("updated", out.Updated),
		zap.Int("reused_geocode", out.Reused),
	)

	if p.invalidate != nil {
		if err := p.invalidate.InvalidateLogs(ctx); err != nil {
			p.log.Warn("cache invalidation failed", zap.Error(err))
		}
	}
	return res, nil
}

// ScrapeDay fetches and ingests a single day.
func (p *Pipeline) ScrapeDay(ctx context.Context, date time.Time) (DayResult, error) {
	date = model.Date(date)
	page, err := p.fetcher.Fetch(ctx, date)
	if err != nil {
		if errors.Is(err, scrape.ErrSourceUnavailable) {
			metrics.IngestDays.WithLabelValues("source_unavailable").Inc()
		}
		return DayResult{Date: date, Err: err}, err
	}
	return p.IngestDay(ctx, page, date)
}

// ScrapeRange ingests every day from start to end inclusive, in order. A
// failed day is recorded and skipped; only cancellation stops the range.
func (p *Pipeline) ScrapeRange(ctx context.Context, start, end time.Time) (*RangeResult, error) {
	start, end = model.Date(start), model.Date(end)
	if end.Before(start) {
		return nil, eris.Errorf("ingest: end %s before start %s",
			end.Format(model.DateLayout), start.Format(model.DateLayout))
	}

	began := time.Now()
	out := &RangeResult{RunID: uuid.New().String()}
	log := p.log.With(zap.String("run_id", out.RunID))
	log.Info("scrape range started",
		zap.String("start", start.Format(model.DateLayout)),
		zap.String("end", end.Format(model.DateLayout)),
	)

	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			out.Elapsed = time.Since(began)
			return out, err
		}

		res, err := p.ScrapeDay(ctx, d)
		out.Days = append(out.Days, res)
		if err != nil {
			if ctx.Err() != nil {
				out.Elapsed = time.Since(began)
				return out, ctx.Err()
			}
			out.Failed++
			log.Warn("day failed", zap.String("date", d.Format(model.DateLayout)), zap.Error(err))
			continue
		}
		out.Inserted += res.Inserted
		out.Updated += res.Updated
	}

	out.Elapsed = time.Since(began)
	log.Info("scrape range complete",
		zap.Int("days", len(out.Days)),
		zap.Int("inserted", out.Inserted),
		zap.Int("updated", out.Updated),
		zap.Int("failed_days", out.Failed),
		zap.Duration("elapsed", out.Elapsed),
	)
	return out, nil
}

// ScrapeRecent ingests the last days days, ending today.
func (p *Pipeline) ScrapeRecent(ctx context.Context, days int) (*RangeResult, error) {
	if days < 1 {
		return nil, eris.Errorf("ingest: days must be >= 1, got %d", days)
	}
	end := model.Date(p.now())
	return p.ScrapeRange(ctx, end.AddDate(0, 0, -(days-1)), end)
}
