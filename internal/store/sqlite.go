package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/chanzer0/tififn-times/internal/model"
)

// tsLayout is fixed-width so stored timestamps sort lexically.
const tsLayout = "2006-01-02T15:04:05.000000Z"

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One writer keeps day transactions from tripping over each other.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS jecc_logs (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	cfs_number       INTEGER NOT NULL,
	log_date         TEXT NOT NULL,
	log_time         TEXT,
	address          TEXT,
	call_type        TEXT,
	apt_suite        TEXT,
	agency           TEXT,
	disposition      TEXT,
	incident_number  TEXT,
	latitude         REAL,
	longitude        REAL,
	geocoded_address TEXT,
	geocoded_at      TEXT,
	created_at       TEXT NOT NULL,
	updated_at       TEXT NOT NULL,
	UNIQUE (cfs_number, log_date)
);

CREATE INDEX IF NOT EXISTS idx_jecc_logs_log_date ON jecc_logs(log_date);
CREATE INDEX IF NOT EXISTS idx_jecc_logs_address ON jecc_logs(address);
CREATE INDEX IF NOT EXISTS idx_jecc_logs_pending ON jecc_logs(address, id) WHERE latitude IS NULL AND address IS NOT NULL;
`

// Migrate implements Store.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping implements Store.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

// UpsertDay implements Store.
func (s *SQLiteStore) UpsertDay(ctx context.Context, logDate time.Time, records []model.LogRecord) (UpsertResult, error) {
	var out UpsertResult
	day := model.Date(logDate).Format(model.DateLayout)
	now := s.now().Format(tsLayout)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return UpsertResult{}, eris.Wrap(err, "sqlite: begin upsert")
	}
	defer tx.Rollback() //nolint:errcheck

	for i := range records {
		r := &records[i]

		var (
			id       int64
			existing sql.NullString
			lat      sql.NullFloat64
		)
		err := tx.QueryRowContext(ctx,
			`SELECT id, address, latitude FROM jecc_logs WHERE cfs_number = ? AND log_date = ?`,
			r.CaseNumber, day,
		).Scan(&id, &existing, &lat)

		switch {
		case errors.Is(err, sql.ErrNoRows):
			res, err := tx.ExecContext(ctx, `
				INSERT INTO jecc_logs (cfs_number, log_date, log_time, address, call_type, apt_suite,
					agency, disposition, incident_number, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				r.CaseNumber, day, timeText(r.LogTime), r.Address, r.CallType, r.AptSuite,
				r.Agency, r.Disposition, r.IncidentNumber, now, now,
			)
			if err != nil {
				return UpsertResult{}, eris.Wrapf(err, "sqlite: insert cfs %d", r.CaseNumber)
			}
			if id, err = res.LastInsertId(); err != nil {
				return UpsertResult{}, eris.Wrap(err, "sqlite: last insert id")
			}
			lat = sql.NullFloat64{}
			out.Inserted++
		case err != nil:
			return UpsertResult{}, eris.Wrapf(err, "sqlite: lookup cfs %d", r.CaseNumber)
		default:
			changed := existing.Valid != (r.Address != nil) || (r.Address != nil && existing.String != *r.Address)
			q := `UPDATE jecc_logs SET log_time = ?, address = ?, call_type = ?, apt_suite = ?, agency = ?,
				disposition = ?, incident_number = ?, updated_at = ?`
			if changed {
				q += `, latitude = NULL, longitude = NULL, geocoded_address = NULL, geocoded_at = NULL`
				lat = sql.NullFloat64{}
			}
			if _, err := tx.ExecContext(ctx, q+` WHERE id = ?`,
				timeText(r.LogTime), r.Address, r.CallType, r.AptSuite, r.Agency,
				r.Disposition, r.IncidentNumber, now, id,
			); err != nil {
				return UpsertResult{}, eris.Wrapf(err, "sqlite: update cfs %d", r.CaseNumber)
			}
			out.Updated++
		}

		if lat.Valid || r.Address == nil {
			continue
		}
		reused, err := reuseGeocode(ctx, tx, id, *r.Address, now)
		if err != nil {
			return UpsertResult{}, eris.Wrapf(err, "sqlite: reuse geocode for cfs %d", r.CaseNumber)
		}
		if reused {
			out.Reused++
		}
	}

	if err := tx.Commit(); err != nil {
		return UpsertResult{}, eris.Wrap(err, "sqlite: commit upsert")
	}
	return out, nil
}

// reuseGeocode copies the most recent geocoding for address onto row id.
func reuseGeocode(ctx context.Context, tx *sql.Tx, id int64, address, now string) (bool, error) {
	var (
		lat, lon  float64
		formatted sql.NullString
	)
	err := tx.QueryRowContext(ctx, `
		SELECT latitude, longitude, geocoded_address FROM jecc_logs
		WHERE address = ? AND latitude IS NOT NULL AND id <> ?
		ORDER BY geocoded_at DESC, id DESC LIMIT 1`,
		address, id,
	).Scan(&lat, &lon, &formatted)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE jecc_logs SET latitude = ?, longitude = ?, geocoded_address = ?, geocoded_at = ? WHERE id = ?`,
		lat, lon, formatted, now, id,
	)
	return err == nil, err
}

var sqlitePendingOrder = map[Strategy]string{
	StrategyRecentFirst:     "max(log_date) DESC, max(id) DESC",
	StrategyMostCommonFirst: "count(*) DESC, max(id) DESC",
	StrategyIDOrder:         "address",
}

// PendingAddresses implements Store.
func (s *SQLiteStore) PendingAddresses(ctx context.Context, strategy Strategy, afterID int64, limit int) ([]model.AddressGroup, error) {
	order, ok := sqlitePendingOrder[strategy]
	if !ok {
		return nil, eris.Errorf("sqlite: unknown strategy %q", strategy)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT address, count(*), max(id), max(log_date) FROM jecc_logs
		WHERE address IS NOT NULL AND latitude IS NULL AND id > ?
		GROUP BY address
		ORDER BY `+order+`
		LIMIT ?`,
		afterID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query pending addresses")
	}
	defer rows.Close() //nolint:errcheck

	var groups []model.AddressGroup
	for rows.Next() {
		var (
			g      model.AddressGroup
			latest string
		)
		if err := rows.Scan(&g.Address, &g.RecordCount, &g.MaxID, &latest); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan pending address")
		}
		if g.LatestDate, err = model.ParseDate(latest); err != nil {
			return nil, eris.Wrapf(err, "sqlite: parse log date %q", latest)
		}
		groups = append(groups, g)
	}
	return groups, eris.Wrap(rows.Err(), "sqlite: iterate pending addresses")
}

// PendingRecordIDs implements Store.
func (s *SQLiteStore) PendingRecordIDs(ctx context.Context, address string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM jecc_logs WHERE address = ? AND latitude IS NULL ORDER BY id`, address)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query pending records")
	}
	defer rows.Close() //nolint:errcheck

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan pending record")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "sqlite: iterate pending records")
}

// ApplyGeocode implements Store.
func (s *SQLiteStore) ApplyGeocode(ctx context.Context, address string, res model.GeocodeResult) (int64, error) {
	now := s.now().Format(tsLayout)
	out, err := s.db.ExecContext(ctx, `
		UPDATE jecc_logs SET latitude = ?, longitude = ?, geocoded_address = ?, geocoded_at = ?, updated_at = ?
		WHERE address = ? AND latitude IS NULL`,
		res.Latitude, res.Longitude, res.FormattedAddress, now, now, address,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: apply geocode to %q", address)
	}
	n, err := out.RowsAffected()
	return n, eris.Wrap(err, "sqlite: rows affected")
}

// DatasetStats implements Store.
func (s *SQLiteStore) DatasetStats(ctx context.Context) (*model.DatasetStats, error) {
	var (
		st     model.DatasetStats
		recent sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT
			count(*),
			coalesce(sum(CASE WHEN latitude IS NOT NULL THEN 1 ELSE 0 END), 0),
			coalesce(sum(CASE WHEN latitude IS NULL THEN 1 ELSE 0 END), 0),
			count(DISTINCT CASE WHEN latitude IS NULL THEN address END),
			max(CASE WHEN latitude IS NULL AND address IS NOT NULL THEN log_date END)
		FROM jecc_logs`,
	).Scan(&st.TotalRecords, &st.GeocodedRecords, &st.PendingRecords, &st.UniquePendingAddresses, &recent)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: dataset stats")
	}
	if recent.Valid {
		d, err := model.ParseDate(recent.String)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: parse log date %q", recent.String)
		}
		st.MostRecentPending = &d
	}
	return &st, nil
}

const sqliteLogColumns = `id, cfs_number, log_date, log_time, address, call_type, apt_suite, agency,
	disposition, incident_number, latitude, longitude, geocoded_address, geocoded_at, created_at, updated_at`

// ListLogs implements Store.
func (s *SQLiteStore) ListLogs(ctx context.Context, f model.LogFilter) (*model.LogPage, error) {
	var (
		conds []string
		args  []any
	)
	if f.StartDate != nil {
		conds = append(conds, "log_date >= ?")
		args = append(args, model.Date(*f.StartDate).Format(model.DateLayout))
	}
	if f.EndDate != nil {
		conds = append(conds, "log_date <= ?")
		args = append(args, model.Date(*f.EndDate).Format(model.DateLayout))
	}
	if f.Agency != "" {
		conds = append(conds, "agency LIKE ?")
		args = append(args, "%"+f.Agency+"%")
	}
	if f.CallType != "" {
		conds = append(conds, "call_type LIKE ?")
		args = append(args, "%"+f.CallType+"%")
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM jecc_logs"+where, args...).Scan(&total); err != nil {
		return nil, eris.Wrap(err, "sqlite: count logs")
	}

	q := fmt.Sprintf("SELECT %s FROM jecc_logs%s ORDER BY log_date DESC, log_time DESC NULLS LAST, id DESC LIMIT ? OFFSET ?",
		sqliteLogColumns, where)
	logs, err := s.queryLogs(ctx, q, append(args, f.PerPage, f.Offset())...)
	if err != nil {
		return nil, err
	}
	return model.NewLogPage(logs, total, f), nil
}

// GetLog implements Store.
func (s *SQLiteStore) GetLog(ctx context.Context, id int64) (*model.LogRecord, error) {
	rec, err := scanSQLiteLog(s.db.QueryRowContext(ctx, "SELECT "+sqliteLogColumns+" FROM jecc_logs WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get log %d", id)
	}
	return rec, nil
}

// ListGeocoded implements Store.
func (s *SQLiteStore) ListGeocoded(ctx context.Context, start, end time.Time) ([]model.LogRecord, error) {
	return s.queryLogs(ctx, "SELECT "+sqliteLogColumns+` FROM jecc_logs
		WHERE latitude IS NOT NULL AND longitude IS NOT NULL AND log_date >= ? AND log_date <= ?
		ORDER BY log_date DESC, log_time DESC NULLS LAST, id DESC`,
		model.Date(start).Format(model.DateLayout), model.Date(end).Format(model.DateLayout))
}

func (s *SQLiteStore) queryLogs(ctx context.Context, q string, args ...any) ([]model.LogRecord, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query logs")
	}
	defer rows.Close() //nolint:errcheck

	var logs []model.LogRecord
	for rows.Next() {
		rec, err := scanSQLiteLog(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan log")
		}
		logs = append(logs, *rec)
	}
	return logs, eris.Wrap(rows.Err(), "sqlite: iterate logs")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteLog(row scannable) (*model.LogRecord, error) {
	var (
		r                    model.LogRecord
		logDate              string
		logTime, geocodedAt  sql.NullString
		createdAt, updatedAt string
		lat, lon             sql.NullFloat64
	)
	err := row.Scan(&r.ID, &r.CaseNumber, &logDate, &logTime, &r.Address, &r.CallType, &r.AptSuite,
		&r.Agency, &r.Disposition, &r.IncidentNumber, &lat, &lon, &r.GeocodedAddress,
		&geocodedAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if r.LogDate, err = model.ParseDate(logDate); err != nil {
		return nil, eris.Wrapf(err, "parse log date %q", logDate)
	}
	if logTime.Valid {
		if t, ok := model.ParseTimeOfDay(logTime.String); ok {
			r.LogTime = &t
		}
	}
	if lat.Valid && lon.Valid {
		r.Latitude, r.Longitude = &lat.Float64, &lon.Float64
	}
	if geocodedAt.Valid {
		t, err := time.Parse(tsLayout, geocodedAt.String)
		if err != nil {
			return nil, eris.Wrapf(err, "parse geocoded_at %q", geocodedAt.String)
		}
		r.GeocodedAt = &t
	}
	if r.CreatedAt, err = time.Parse(tsLayout, createdAt); err != nil {
		return nil, eris.Wrapf(err, "parse created_at %q", createdAt)
	}
	if r.UpdatedAt, err = time.Parse(tsLayout, updatedAt); err != nil {
		return nil, eris.Wrapf(err, "parse updated_at %q", updatedAt)
	}
	return &r, nil
}

func timeText(t *model.TimeOfDay) any {
	if t == nil {
		return nil
	}
	return t.String()
}
