// Package store persists dispatch log records. PostgresStore is the
// production backend; SQLiteStore serves local runs and tests.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/chanzer0/tififn-times/internal/model"
)

// ErrNotFound is returned when a requested log record does not exist.
var ErrNotFound = eris.New("store: not found")

// Strategy orders the distinct pending addresses handed to the backfill.
type Strategy string

const (
	// StrategyRecentFirst orders by latest log date, then highest id.
	StrategyRecentFirst Strategy = "recent_first"
	// StrategyMostCommonFirst orders by affected row count, then highest id.
	StrategyMostCommonFirst Strategy = "most_common_first"
	// StrategyIDOrder orders lexically by address.
	StrategyIDOrder Strategy = "id_order"
)

// ParseStrategy validates a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case StrategyRecentFirst, StrategyMostCommonFirst, StrategyIDOrder:
		return st, nil
	}
	return "", eris.Errorf("store: unknown strategy %q", s)
}

// UpsertResult counts what happened to a day's rows.
type UpsertResult struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	// Reused counts rows that received coordinates from an existing
	// record with the same address.
	Reused int `json:"reused"`
}

// Store defines the persistence boundary for ingest, backfill and the read API.
type Store interface {
	// UpsertDay writes one day's parsed rows in a single transaction keyed by
	// (case number, log date). Any error rolls back the whole day.
	UpsertDay(ctx context.Context, logDate time.Time, records []model.LogRecord) (UpsertResult, error)

	// Backfill
	PendingAddresses(ctx context.Context, strategy Strategy, afterID int64, limit int) ([]model.AddressGroup, error)
	PendingRecordIDs(ctx context.Context, address string) ([]int64, error)
	ApplyGeocode(ctx context.Context, address string, res model.GeocodeResult) (int64, error)
	DatasetStats(ctx context.Context) (*model.DatasetStats, error)

	// Reads
	ListLogs(ctx context.Context, filter model.LogFilter) (*model.LogPage, error)
	GetLog(ctx context.Context, id int64) (*model.LogRecord, error)
	ListGeocoded(ctx context.Context, start, end time.Time) ([]model.LogRecord, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
