package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rotisserie/eris"

	"github.com/chanzer0/tififn-times/internal/db"
	"github.com/chanzer0/tififn-times/internal/model"
)

// PostgresStore implements Store on a pgx pool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
}

// NewPostgres connects to databaseURL and returns a PostgresStore.
func NewPostgres(ctx context.Context, databaseURL string, poolCfg *PoolConfig) (*PostgresStore, error) {
	maxConns := int32(10)
	if poolCfg != nil && poolCfg.MaxConns > 0 {
		maxConns = poolCfg.MaxConns
	}
	pool, err := db.Connect(ctx, databaseURL, maxConns)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	s := NewPostgresFromPool(pool)
	s.closeFn = pool.Close
	return s, nil
}

// NewPostgresFromPool wraps an existing pool. The caller keeps ownership.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const logColumns = `id, cfs_number, log_date, log_time, address, call_type, apt_suite, agency,
	disposition, incident_number, latitude::float8, longitude::float8, geocoded_address,
	geocoded_at, created_at, updated_at`

// upsertLogSQL inserts or overwrites a row by its natural key. A changed
// address invalidates the geocoding group. It returns whether the row was
// newly inserted and whether it still lacks coordinates.
const upsertLogSQL = `
INSERT INTO jecc_logs (cfs_number, log_date, log_time, address, call_type, apt_suite, agency,
	disposition, incident_number, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
ON CONFLICT (cfs_number, log_date) DO UPDATE SET
	log_time = EXCLUDED.log_time,
	address = EXCLUDED.address,
	call_type = EXCLUDED.call_type,
	apt_suite = EXCLUDED.apt_suite,
	agency = EXCLUDED.agency,
	disposition = EXCLUDED.disposition,
	incident_number = EXCLUDED.incident_number,
	latitude = CASE WHEN jecc_logs.address IS DISTINCT FROM EXCLUDED.address THEN NULL ELSE jecc_logs.latitude END,
	longitude = CASE WHEN jecc_logs.address IS DISTINCT FROM EXCLUDED.address THEN NULL ELSE jecc_logs.longitude END,
	geocoded_address = CASE WHEN jecc_logs.address IS DISTINCT FROM EXCLUDED.address THEN NULL ELSE jecc_logs.geocoded_address END,
	geocoded_at = CASE WHEN jecc_logs.address IS DISTINCT FROM EXCLUDED.address THEN NULL ELSE jecc_logs.geocoded_at END,
	updated_at = now()
RETURNING id, (xmax = 0) AS inserted, latitude IS NULL AS pending`

// reuseGeocodeSQL copies the most recent geocoding for the same address
// string onto row $1.
const reuseGeocodeSQL = `
UPDATE jecc_logs AS t SET
	latitude = s.latitude,
	longitude = s.longitude,
	geocoded_address = s.geocoded_address,
	geocoded_at = now()
FROM (
	SELECT latitude, longitude, geocoded_address FROM jecc_logs
	WHERE address = $2 AND latitude IS NOT NULL
	ORDER BY geocoded_at DESC NULLS LAST, id DESC
	LIMIT 1
) AS s
WHERE t.id = $1`

// UpsertDay implements Store.
func (s *PostgresStore) UpsertDay(ctx context.Context, logDate time.Time, records []model.LogRecord) (UpsertResult, error) {
	var out UpsertResult
	day := model.Date(logDate)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return UpsertResult{}, eris.Wrap(err, "postgres: begin upsert")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for i := range records {
		r := &records[i]
		var (
			id                int64
			inserted, pending bool
		)
		err := tx.QueryRow(ctx, upsertLogSQL,
			r.CaseNumber, day, pgTime(r.LogTime), r.Address, r.CallType, r.AptSuite,
			r.Agency, r.Disposition, r.IncidentNumber,
		).Scan(&id, &inserted, &pending)
		if err != nil {
			return UpsertResult{}, eris.Wrapf(err, "postgres: upsert cfs %d", r.CaseNumber)
		}
		if inserted {
			out.Inserted++
		} else {
			out.Updated++
		}

		if !pending || r.Address == nil {
			continue
		}
		tag, err := tx.Exec(ctx, reuseGeocodeSQL, id, *r.Address)
		if err != nil {
			return UpsertResult{}, eris.Wrapf(err, "postgres: reuse geocode for cfs %d", r.CaseNumber)
		}
		if tag.RowsAffected() > 0 {
			out.Reused++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return UpsertResult{}, eris.Wrap(err, "postgres: commit upsert")
	}
	return out, nil
}

// pendingAddressSQL holds the strategy-specific orderings. All of them group
// pending rows above the checkpoint by their exact address string.
var pendingAddressSQL = map[Strategy]string{
	StrategyRecentFirst: `
SELECT address, count(*), max(id), max(log_date) FROM jecc_logs
WHERE address IS NOT NULL AND latitude IS NULL AND id > $1
GROUP BY address
ORDER BY max(log_date) DESC, max(id) DESC
LIMIT $2`,
	StrategyMostCommonFirst: `
SELECT address, count(*), max(id), max(log_date) FROM jecc_logs
WHERE address IS NOT NULL AND latitude IS NULL AND id > $1
GROUP BY address
ORDER BY count(*) DESC, max(id) DESC
LIMIT $2`,
	StrategyIDOrder: `
SELECT address, count(*), max(id), max(log_date) FROM jecc_logs
WHERE address IS NOT NULL AND latitude IS NULL AND id > $1
GROUP BY address
ORDER BY address
LIMIT $2`,
}

// PendingAddresses implements Store.
func (s *PostgresStore) PendingAddresses(ctx context.Context, strategy Strategy, afterID int64, limit int) ([]model.AddressGroup, error) {
	q, ok := pendingAddressSQL[strategy]
	if !ok {
		return nil, eris.Errorf("postgres: unknown strategy %q", strategy)
	}
	rows, err := s.pool.Query(ctx, q, afterID, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query pending addresses")
	}
	defer rows.Close()

	var groups []model.AddressGroup
	for rows.Next() {
		var g model.AddressGroup
		if err := rows.Scan(&g.Address, &g.RecordCount, &g.MaxID, &g.LatestDate); err != nil {
			return nil, eris.Wrap(err, "postgres: scan pending address")
		}
		groups = append(groups, g)
	}
	return groups, eris.Wrap(rows.Err(), "postgres: iterate pending addresses")
}

// PendingRecordIDs implements Store.
func (s *PostgresStore) PendingRecordIDs(ctx context.Context, address string) ([]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM jecc_logs WHERE address = $1 AND latitude IS NULL ORDER BY id`, address)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query pending records")
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan pending record")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "postgres: iterate pending records")
}

// ApplyGeocode implements Store. The single UPDATE sets all four geocoding
// columns together for every pending row with the address.
func (s *PostgresStore) ApplyGeocode(ctx context.Context, address string, res model.GeocodeResult) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jecc_logs SET latitude = $2, longitude = $3, geocoded_address = $4,
			geocoded_at = now(), updated_at = now()
		WHERE address = $1 AND latitude IS NULL`,
		address, res.Latitude, res.Longitude, res.FormattedAddress,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: apply geocode to %q", address)
	}
	return tag.RowsAffected(), nil
}

// DatasetStats implements Store.
func (s *PostgresStore) DatasetStats(ctx context.Context) (*model.DatasetStats, error) {
	var (
		st     model.DatasetStats
		recent *time.Time
	)
	err := s.pool.QueryRow(ctx, `
		SELECT
			count(*),
			count(*) FILTER (WHERE latitude IS NOT NULL),
			count(*) FILTER (WHERE latitude IS NULL),
			count(DISTINCT address) FILTER (WHERE latitude IS NULL AND address IS NOT NULL),
			max(log_date) FILTER (WHERE latitude IS NULL AND address IS NOT NULL)
		FROM jecc_logs`,
	).Scan(&st.TotalRecords, &st.GeocodedRecords, &st.PendingRecords, &st.UniquePendingAddresses, &recent)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: dataset stats")
	}
	st.MostRecentPending = recent
	return &st, nil
}

// logWhere builds the WHERE clause shared by the count and page queries.
func logWhere(f model.LogFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.StartDate != nil {
		add("log_date >= $%d", model.Date(*f.StartDate))
	}
	if f.EndDate != nil {
		add("log_date <= $%d", model.Date(*f.EndDate))
	}
	if f.Agency != "" {
		add("agency ILIKE $%d", "%"+f.Agency+"%")
	}
	if f.CallType != "" {
		add("call_type ILIKE $%d", "%"+f.CallType+"%")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// ListLogs implements Store.
func (s *PostgresStore) ListLogs(ctx context.Context, f model.LogFilter) (*model.LogPage, error) {
	where, args := logWhere(f)

	var total int64
	if err := s.pool.QueryRow(ctx, "SELECT count(*) FROM jecc_logs"+where, args...).Scan(&total); err != nil {
		return nil, eris.Wrap(err, "postgres: count logs")
	}

	n := len(args)
	q := fmt.Sprintf("SELECT %s FROM jecc_logs%s ORDER BY log_date DESC, log_time DESC NULLS LAST, id DESC LIMIT $%d OFFSET $%d",
		logColumns, where, n+1, n+2)
	logs, err := s.queryLogs(ctx, q, append(args, f.PerPage, f.Offset())...)
	if err != nil {
		return nil, err
	}
	return model.NewLogPage(logs, total, f), nil
}

// GetLog implements Store.
func (s *PostgresStore) GetLog(ctx context.Context, id int64) (*model.LogRecord, error) {
	rec, err := scanPGLog(s.pool.QueryRow(ctx, "SELECT "+logColumns+" FROM jecc_logs WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get log %d", id)
	}
	return rec, nil
}

// ListGeocoded implements Store.
func (s *PostgresStore) ListGeocoded(ctx context.Context, start, end time.Time) ([]model.LogRecord, error) {
	return s.queryLogs(ctx, "SELECT "+logColumns+` FROM jecc_logs
		WHERE latitude IS NOT NULL AND longitude IS NOT NULL AND log_date >= $1 AND log_date <= $2
		ORDER BY log_date DESC, log_time DESC NULLS LAST, id DESC`,
		model.Date(start), model.Date(end))
}

func (s *PostgresStore) queryLogs(ctx context.Context, q string, args ...any) ([]model.LogRecord, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query logs")
	}
	defer rows.Close()

	var logs []model.LogRecord
	for rows.Next() {
		rec, err := scanPGLog(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan log")
		}
		logs = append(logs, *rec)
	}
	return logs, eris.Wrap(rows.Err(), "postgres: iterate logs")
}

func scanPGLog(row pgx.Row) (*model.LogRecord, error) {
	var (
		r       model.LogRecord
		logTime pgtype.Time
	)
	err := row.Scan(&r.ID, &r.CaseNumber, &r.LogDate, &logTime, &r.Address, &r.CallType, &r.AptSuite,
		&r.Agency, &r.Disposition, &r.IncidentNumber, &r.Latitude, &r.Longitude, &r.GeocodedAddress,
		&r.GeocodedAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if logTime.Valid {
		t := model.TimeOfDayFromDuration(time.Duration(logTime.Microseconds) * time.Microsecond)
		r.LogTime = &t
	}
	return &r, nil
}

func pgTime(t *model.TimeOfDay) pgtype.Time {
	if t == nil {
		return pgtype.Time{}
	}
	return pgtype.Time{Microseconds: t.Duration().Microseconds(), Valid: true}
}

// Ping implements Store.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

// Migrate implements Store.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	return db.Migrate(ctx, s.pool)
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}
