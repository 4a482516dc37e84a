package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chanzer0/tififn-times/internal/cache"
	"github.com/chanzer0/tififn-times/internal/model"
	"github.com/chanzer0/tififn-times/internal/refresh"
	"github.com/chanzer0/tififn-times/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeTrigger struct {
	err         error
	scrapeDays  int
	geocodeLims int
}

func (f *fakeTrigger) StartScrape(_ context.Context, days int) error {
	f.scrapeDays = days
	return f.err
}

func (f *fakeTrigger) StartGeocode(_ context.Context, limit int) error {
	f.geocodeLims = limit
	return f.err
}

type fixture struct {
	store   *store.SQLiteStore
	mr      *miniredis.Miniredis
	trigger *fakeTrigger
	srv     *Server
	handler http.Handler
}

func newFixture(t *testing.T, withCache bool) *fixture {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	f := &fixture{store: st, trigger: &fakeTrigger{}}
	var c cache.Cache
	if withCache {
		f.mr = miniredis.RunT(t)
		rc := cache.NewRedisFromClient(redis.NewClient(&redis.Options{Addr: f.mr.Addr(), MaxRetries: -1}), time.Minute)
		t.Cleanup(func() { _ = rc.Close() })
		c = rc
	}
	f.srv = New(context.Background(), st, c, f.trigger, Options{})
	f.srv.now = func() time.Time { return time.Date(2024, 3, 5, 15, 0, 0, 0, time.UTC) }
	f.handler = f.srv.Handler()
	return f
}

func (f *fixture) seed(t *testing.T, date string, recs ...model.LogRecord) {
	t.Helper()
	d, err := model.ParseDate(date)
	require.NoError(t, err)
	_, err = f.store.UpsertDay(context.Background(), d, recs)
	require.NoError(t, err)
}

func (f *fixture) do(t *testing.T, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func logRec(cfs int64, address, agency, callType string) model.LogRecord {
	return model.LogRecord{
		CaseNumber: cfs,
		Address:    model.StringPtr(address),
		Agency:     model.StringPtr(agency),
		CallType:   model.StringPtr(callType),
	}
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealth_CacheDisabled(t *testing.T) {
	f := newFixture(t, false)
	w := f.do(t, http.MethodGet, "/api/v1/health")
	require.Equal(t, http.StatusOK, w.Code)
	h := decode[healthResponse](t, w)
	assert.Equal(t, healthResponse{Status: "healthy", Database: "healthy", Cache: "disabled"}, h)
}

func TestHealth_CacheDown(t *testing.T) {
	f := newFixture(t, true)
	f.mr.Close()
	w := f.do(t, http.MethodGet, "/api/v1/health")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	h := decode[healthResponse](t, w)
	assert.Equal(t, "unhealthy", h.Status)
	assert.Equal(t, "healthy", h.Database)
	assert.Equal(t, "unhealthy", h.Cache)
}

func TestListLogs_PagingAndFilters(t *testing.T) {
	f := newFixture(t, false)
	f.seed(t, "2024-03-01", logRec(1, "1 A St", "ICPD", "TRAFFIC STOP"), logRec(2, "2 B St", "CPD", "ALARM"))
	f.seed(t, "2024-03-02", logRec(3, "3 C St", "ICPD", "Traffic Accident"))

	w := f.do(t, http.MethodGet, "/api/v1/logs?per_page=2")
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[model.LogPage](t, w)
	assert.EqualValues(t, 3, page.Total)
	assert.Len(t, page.Logs, 2)
	assert.True(t, page.HasNext)
	assert.False(t, page.HasPrev)
	assert.EqualValues(t, 3, page.Logs[0].CaseNumber, "newest date first")

	w = f.do(t, http.MethodGet, "/api/v1/logs?agency=icpd&call_type=traffic")
	require.Equal(t, http.StatusOK, w.Code)
	page = decode[model.LogPage](t, w)
	assert.EqualValues(t, 2, page.Total)

	w = f.do(t, http.MethodGet, "/api/v1/logs?start_date=2024-03-02&end_date=2024-03-02")
	page = decode[model.LogPage](t, w)
	assert.EqualValues(t, 1, page.Total)
}

func TestListLogs_BadParams(t *testing.T) {
	f := newFixture(t, false)
	for _, q := range []string{"page=0", "page=x", "per_page=0", "per_page=1001", "start_date=03/01/2024", "end_date=nope"} {
		w := f.do(t, http.MethodGet, "/api/v1/logs?"+q)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestListLogs_CachedUntilRefresh(t *testing.T) {
	f := newFixture(t, true)
	f.seed(t, "2024-03-01", logRec(1, "1 A St", "ICPD", "ALARM"))

	w := f.do(t, http.MethodGet, "/api/v1/logs")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode[model.LogPage](t, w).Total)

	var cached []string
	for _, k := range f.mr.Keys() {
		if strings.HasPrefix(k, cache.PrefixLogs) {
			cached = append(cached, k)
		}
	}
	assert.Len(t, cached, 1)

	f.seed(t, "2024-03-02", logRec(2, "2 B St", "ICPD", "ALARM"))
	w = f.do(t, http.MethodGet, "/api/v1/logs")
	assert.EqualValues(t, 1, decode[model.LogPage](t, w).Total, "served from cache")

	w = f.do(t, http.MethodPost, "/api/v1/logs/refresh")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, f.mr.Keys())

	w = f.do(t, http.MethodGet, "/api/v1/logs")
	assert.EqualValues(t, 2, decode[model.LogPage](t, w).Total)
}

func TestGetLog(t *testing.T) {
	f := newFixture(t, true)
	f.seed(t, "2024-03-01", logRec(77, "1 A St", "ICPD", "ALARM"))

	w := f.do(t, http.MethodGet, "/api/v1/logs/1")
	require.Equal(t, http.StatusOK, w.Code)
	rec := decode[model.LogRecord](t, w)
	assert.EqualValues(t, 77, rec.CaseNumber)
	assert.True(t, f.mr.Exists("log:1"))

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/v1/logs/99").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/v1/logs/abc").Code)
}

func TestMapLogs_DefaultWindow(t *testing.T) {
	f := newFixture(t, true)
	f.seed(t, "2024-02-20", logRec(1, "1 A St", "ICPD", "ALARM"))
	f.seed(t, "2024-03-01", logRec(2, "1 A St", "ICPD", "ALARM"), logRec(3, "9 Z St", "ICPD", "ALARM"))
	_, err := f.store.ApplyGeocode(context.Background(), "1 A St", model.GeocodeResult{Latitude: 41.66, Longitude: -91.53, FormattedAddress: "1 A St, Iowa City"})
	require.NoError(t, err)

	w := f.do(t, http.MethodGet, "/api/v1/logs/map")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[mapResponse](t, w)
	assert.Equal(t, "2024-02-28", resp.StartDate)
	assert.Equal(t, "2024-03-05", resp.EndDate)
	require.Equal(t, 1, resp.Total)
	assert.EqualValues(t, 2, resp.Logs[0].CaseNumber)
	require.NotNil(t, resp.Logs[0].Latitude)
	assert.InDelta(t, 41.66, *resp.Logs[0].Latitude, 1e-9)

	var mapKeys int
	for _, k := range f.mr.Keys() {
		if strings.HasPrefix(k, "logs:map:") {
			mapKeys++
		}
	}
	assert.Equal(t, 1, mapKeys)

	w = f.do(t, http.MethodGet, "/api/v1/logs/map?start_date=2024-02-01&end_date=2024-03-01")
	assert.Equal(t, 2, decode[mapResponse](t, w).Total)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/v1/logs/map?start_date=2024-03-09").Code)
}

func TestTriggers(t *testing.T) {
	f := newFixture(t, false)

	w := f.do(t, http.MethodPost, "/api/v1/scraper/run?days=5")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, 5, f.trigger.scrapeDays)

	w = f.do(t, http.MethodPost, "/api/v1/geocoder/run")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, DefaultGeocodeLimit, f.trigger.geocodeLims)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/v1/scraper/run?days=0").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/v1/geocoder/run?limit=x").Code)

	f.trigger.err = refresh.ErrBusy
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/api/v1/scraper/run").Code)
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/api/v1/geocoder/run").Code)
}

func TestTriggers_WrongMethod(t *testing.T) {
	f := newFixture(t, false)
	assert.Equal(t, http.StatusMethodNotAllowed, f.do(t, http.MethodGet, "/api/v1/scraper/run").Code)
}

func TestCORS(t *testing.T) {
	f := newFixture(t, false)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	assert.NotEmpty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, false)
	w := f.do(t, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}
