// Package backfill geocodes stored log records that are still missing
// coordinates, one distinct address at a time, with a resumable checkpoint.
package backfill

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/chanzer0/tififn-times/internal/metrics"
	"github.com/chanzer0/tififn-times/internal/model"
	"github.com/chanzer0/tififn-times/internal/store"
	"github.com/chanzer0/tififn-times/pkg/geocode"
)

// DefaultDelay spaces consecutive geocoding attempts.
const DefaultDelay = 1100 * time.Millisecond

// DefaultBatchSize is the number of addresses fetched per batch.
const DefaultBatchSize = 1000

// Geocoder resolves one raw address. An unresolvable address is an
// unmatched result, not an error.
type Geocoder interface {
	Geocode(ctx context.Context, raw string) (*geocode.Result, error)
}

// Invalidator drops cached log reads after coordinates are written.
type Invalidator interface {
	InvalidateLogs(ctx context.Context) error
}

// Options controls a single run.
type Options struct {
	Strategy  store.Strategy
	BatchSize int
	// MaxAddresses caps how many addresses this run handles. Zero means no cap.
	MaxAddresses int
}

// Stats summarizes a run.
type Stats struct {
	RunID              string        `json:"run_id"`
	AddressesProcessed int           `json:"addresses_processed"`
	Successful         int           `json:"successful"`
	Failed             int           `json:"failed"`
	Skipped            int           `json:"skipped"`
	RecordsUpdated     int64         `json:"records_updated"`
	StartCheckpoint    int64         `json:"start_checkpoint"`
	Checkpoint         int64         `json:"checkpoint"`
	Elapsed            time.Duration `json:"elapsed"`
}

// Analysis describes the outstanding backfill work.
type Analysis struct {
	model.DatasetStats
	Checkpoint     int64   `json:"checkpoint"`
	EstimatedHours float64 `json:"estimated_hours"`
}

// Scheduler drives pending addresses through the geocoder.
type Scheduler struct {
	store      store.Store
	geocoder   Geocoder
	checkpoint Checkpoint
	invalidate Invalidator
	delay      time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
	log        *zap.Logger
}

// New creates a Scheduler. inv may be nil. A negative delay selects DefaultDelay.
func New(st store.Store, g Geocoder, cp Checkpoint, inv Invalidator, delay time.Duration) *Scheduler {
	if delay < 0 {
		delay = DefaultDelay
	}
	return &Scheduler{
		store:      st,
		geocoder:   g,
		checkpoint: cp,
		invalidate: inv,
		delay:      delay,
		sleep:      sleepCtx,
		log:        zap.L().With(zap.String("component", "backfill")),
	}
}

// WithCheckpoint returns a copy of s that reads and writes cp instead.
func (s *Scheduler) WithCheckpoint(cp Checkpoint) *Scheduler {
	c := *s
	c.checkpoint = cp
	return &c
}

// RunAdHoc runs with a fresh in-memory checkpoint, leaving the persisted
// one untouched.
func (s *Scheduler) RunAdHoc(ctx context.Context, opts Options) (*Stats, error) {
	return s.WithCheckpoint(&MemoryCheckpoint{}).Run(ctx, opts)
}

// Analyze reports pending work and the estimated time to clear it.
func (s *Scheduler) Analyze(ctx context.Context) (*Analysis, error) {
	ds, err := s.store.DatasetStats(ctx)
	if err != nil {
		return nil, err
	}
	cp, err := s.checkpoint.Load(ctx)
	if err != nil {
		return nil, err
	}
	return &Analysis{
		DatasetStats:   *ds,
		Checkpoint:     cp,
		EstimatedHours: float64(ds.UniquePendingAddresses) * s.delay.Seconds() / 3600,
	}, nil
}

// Reset clears the checkpoint so the next run starts from the beginning.
func (s *Scheduler) Reset(ctx context.Context) error {
	if err := s.checkpoint.Reset(ctx); err != nil {
		return err
	}
	metrics.BackfillCheckpoint.Set(0)
	s.log.Info("checkpoint reset")
	return nil
}

// outcome of a single address.
type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeSuccess
	outcomeFailed
)

// Run geocodes pending addresses batch by batch in strategy order. Only rows
// above the checkpoint read at start are considered. After each address the
// checkpoint advances to the highest row id seen for it and never moves
// backwards. Per-address failures are counted and skipped; the returned
// error is non-nil only for store query failures or cancellation.
func (s *Scheduler) Run(ctx context.Context, opts Options) (*Stats, error) {
	if opts.Strategy == "" {
		opts.Strategy = store.StrategyRecentFirst
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}

	start, err := s.checkpoint.Load(ctx)
	if err != nil {
		return nil, err
	}
	began := time.Now()
	stats := &Stats{RunID: uuid.New().String(), StartCheckpoint: start, Checkpoint: start}
	log := s.log.With(zap.String("run_id", stats.RunID))

	var pendingAtStart int64
	if ds, err := s.store.DatasetStats(ctx); err == nil {
		pendingAtStart = ds.UniquePendingAddresses
	}
	log.Info("backfill started",
		zap.String("strategy", string(opts.Strategy)),
		zap.Int("batch_size", opts.BatchSize),
		zap.Int("max_addresses", opts.MaxAddresses),
		zap.Int64("checkpoint", start),
		zap.Int64("pending_addresses", pendingAtStart),
	)

	// Addresses handled this run that are still pending. They are filtered
	// out of later batches, which are over-fetched to compensate.
	unresolved := make(map[string]bool)

	for batchNo := 1; ; batchNo++ {
		handled := stats.AddressesProcessed + stats.Skipped
		limit := opts.BatchSize
		if opts.MaxAddresses > 0 {
			if handled >= opts.MaxAddresses {
				break
			}
			limit = min(limit, opts.MaxAddresses-handled)
		}

		groups, err := s.store.PendingAddresses(ctx, opts.Strategy, start, limit+len(unresolved))
		if err != nil {
			stats.Elapsed = time.Since(began)
			return stats, eris.Wrap(err, "backfill: fetch batch")
		}
		batch := make([]model.AddressGroup, 0, limit)
		for _, g := range groups {
			if !unresolved[g.Address] && len(batch) < limit {
				batch = append(batch, g)
			}
		}
		if len(batch) == 0 {
			break
		}

		var successes int
		for _, g := range batch {
			out, err := s.processAddress(ctx, log, g, stats)
			if err != nil {
				stats.Elapsed = time.Since(began)
				return stats, err
			}
			if out == outcomeSuccess {
				successes++
			} else {
				unresolved[g.Address] = true
			}
		}

		if successes > 0 && s.invalidate != nil {
			if err := s.invalidate.InvalidateLogs(ctx); err != nil {
				log.Warn("cache invalidation failed", zap.Error(err))
			}
		}
		s.logProgress(log, batchNo, stats, began, pendingAtStart)
	}

	stats.Elapsed = time.Since(began)
	log.Info("backfill complete",
		zap.Int("addresses_processed", stats.AddressesProcessed),
		zap.Int("successful", stats.Successful),
		zap.Int("failed", stats.Failed),
		zap.Int("skipped", stats.Skipped),
		zap.Int64("records_updated", stats.RecordsUpdated),
		zap.Int64("checkpoint", stats.Checkpoint),
		zap.Duration("elapsed", stats.Elapsed),
	)
	return stats, nil
}

// processAddress geocodes one address once and fans the result out to every
// pending row sharing it. Only cancellation is returned as an error.
func (s *Scheduler) processAddress(ctx context.Context, log *zap.Logger, g model.AddressGroup, stats *Stats) (outcome, error) {
	if err := ctx.Err(); err != nil {
		return outcomeSkipped, err
	}
	log = log.With(zap.String("address", g.Address))
	highest := g.MaxID

	if strings.TrimSpace(g.Address) == "" {
		stats.Skipped++
		metrics.BackfillAddresses.WithLabelValues("skipped").Inc()
		return outcomeSkipped, s.advance(ctx, log, stats, highest)
	}

	ids, err := s.store.PendingRecordIDs(ctx, g.Address)
	if err != nil {
		if ctx.Err() != nil {
			return outcomeSkipped, ctx.Err()
		}
		log.Warn("load pending records failed", zap.Error(err))
		stats.Skipped++
		metrics.BackfillAddresses.WithLabelValues("skipped").Inc()
		return outcomeSkipped, s.advance(ctx, log, stats, highest)
	}
	if len(ids) == 0 {
		stats.Skipped++
		metrics.BackfillAddresses.WithLabelValues("skipped").Inc()
		return outcomeSkipped, s.advance(ctx, log, stats, highest)
	}
	for _, id := range ids {
		highest = max(highest, id)
	}

	res, err := s.geocoder.Geocode(ctx, g.Address)
	if err != nil {
		return outcomeFailed, err
	}
	stats.AddressesProcessed++

	out := outcomeFailed
	if res.Matched {
		n, err := s.store.ApplyGeocode(ctx, g.Address, res.GeocodeResult())
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return outcomeFailed, ctx.Err()
			}
			log.Warn("apply geocode failed", zap.Error(err))
		default:
			out = outcomeSuccess
			stats.RecordsUpdated += n
			log.Debug("geocoded",
				zap.String("tier", string(res.Tier)),
				zap.String("formatted", res.FormattedAddress),
				zap.Int64("records", n),
			)
		}
	} else {
		log.Debug("address not found")
	}

	if out == outcomeSuccess {
		stats.Successful++
		metrics.BackfillAddresses.WithLabelValues("success").Inc()
	} else {
		stats.Failed++
		metrics.BackfillAddresses.WithLabelValues("failed").Inc()
	}

	if err := s.advance(ctx, log, stats, highest); err != nil {
		return out, err
	}
	if err := s.sleep(ctx, s.delay); err != nil {
		return out, err
	}
	return out, nil
}

// advance moves the checkpoint forward to id and persists it. A failed
// write is logged; the in-memory value still advances.
func (s *Scheduler) advance(ctx context.Context, log *zap.Logger, stats *Stats, id int64) error {
	if id <= stats.Checkpoint {
		return nil
	}
	stats.Checkpoint = id
	if err := s.checkpoint.Save(ctx, id); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("persist checkpoint failed", zap.Int64("checkpoint", id), zap.Error(err))
		return nil
	}
	metrics.BackfillCheckpoint.Set(float64(id))
	return nil
}

func (s *Scheduler) logProgress(log *zap.Logger, batchNo int, stats *Stats, began time.Time, pendingAtStart int64) {
	elapsed := time.Since(began)
	handled := stats.AddressesProcessed + stats.Skipped
	fields := []zap.Field{
		zap.Int("batch", batchNo),
		zap.Int("addresses_processed", stats.AddressesProcessed),
		zap.Int("successful", stats.Successful),
		zap.Int("failed", stats.Failed),
		zap.Int64("records_updated", stats.RecordsUpdated),
		zap.Int64("checkpoint", stats.Checkpoint),
	}
	if perAddr := elapsed / time.Duration(max(handled, 1)); handled > 0 && perAddr > 0 {
		fields = append(fields, zap.Float64("addresses_per_min", time.Minute.Seconds()/perAddr.Seconds()))
		if remaining := pendingAtStart - int64(handled); remaining > 0 {
			fields = append(fields, zap.Duration("eta", perAddr*time.Duration(remaining)))
		}
	}
	log.Info("batch complete", fields...)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
