package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/chanzer0/tififn-times/internal/address"
	"github.com/chanzer0/tififn-times/internal/backfill"
	"github.com/chanzer0/tififn-times/internal/cache"
	"github.com/chanzer0/tififn-times/internal/ingest"
	"github.com/chanzer0/tififn-times/internal/resilience"
	"github.com/chanzer0/tififn-times/internal/scrape"
	"github.com/chanzer0/tififn-times/internal/store"
	"github.com/chanzer0/tififn-times/pkg/geocode"
)

// appEnv holds the store and cache shared by every command.
type appEnv struct {
	Store store.Store
	Cache cache.Cache
	redis *cache.Redis // nil when caching is disabled
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.redis != nil {
		_ = e.redis.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv validates config for mode, opens and migrates the store, and
// connects the cache when enabled. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	env := &appEnv{Store: st, Cache: cache.Noop{}}
	if cfg.Cache.Enabled || cfg.Backfill.Checkpoint == "redis" {
		r, err := cache.NewRedis(ctx, cfg.Cache.RedisURL, time.Duration(cfg.Cache.TTLSecs)*time.Second)
		if err != nil {
			env.Close()
			return nil, err
		}
		env.redis = r
		if cfg.Cache.Enabled {
			env.Cache = r
		}
	}
	return env, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "jecc_logs.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func newPipeline(env *appEnv) *ingest.Pipeline {
	f := scrape.NewFetcher(scrape.FetchOptions{
		URL:       cfg.Source.URL,
		Agency:    cfg.Source.Agency,
		UserAgent: cfg.Source.UserAgent,
		Timeout:   time.Duration(cfg.Source.TimeoutSecs) * time.Second,
		Retry:     resilience.DefaultRetryConfig().WithMaxAttempts(cfg.Source.MaxAttempts),
	})
	return ingest.New(env.Store, f, env.Cache)
}

func newGeocoder() (*geocode.Geocoder, error) {
	region, err := address.LoadRegion(cfg.Geocode.RegionFile)
	if err != nil {
		return nil, err
	}
	c := geocode.NewClient(
		geocode.WithBaseURL(cfg.Geocode.BaseURL),
		geocode.WithUserAgent(cfg.Geocode.UserAgent),
		geocode.WithDelay(time.Duration(cfg.Geocode.DelayMs)*time.Millisecond),
		geocode.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Geocode.TimeoutSecs) * time.Second}),
	)
	return geocode.NewGeocoder(c, region), nil
}

func newCheckpoint(env *appEnv) backfill.Checkpoint {
	if cfg.Backfill.Checkpoint == "redis" && env.redis != nil {
		return backfill.NewRedisCheckpoint(env.redis.Client(), cfg.Backfill.CheckpointKey)
	}
	return backfill.NewFileCheckpoint(cfg.Backfill.CheckpointFile)
}

func newScheduler(env *appEnv) (*backfill.Scheduler, error) {
	g, err := newGeocoder()
	if err != nil {
		return nil, err
	}
	delay := time.Duration(cfg.Backfill.DelayMs) * time.Millisecond
	if cfg.Backfill.DelayMs <= 0 {
		delay = backfill.DefaultDelay
	}
	return backfill.New(env.Store, g, newCheckpoint(env), env.Cache, delay), nil
}

func backfillOptions(strategy string, batchSize, maxAddresses int) (backfill.Options, error) {
	s, err := store.ParseStrategy(strategy)
	if err != nil {
		return backfill.Options{}, err
	}
	return backfill.Options{Strategy: s, BatchSize: batchSize, MaxAddresses: maxAddresses}, nil
}

// logger returns the command-scoped logger.
func logger(command string) *zap.Logger {
	return zap.L().With(zap.String("command", command))
}
