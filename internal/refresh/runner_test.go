package refresh

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chanzer0/tififn-times/internal/backfill"
	"github.com/chanzer0/tififn-times/internal/ingest"
	"github.com/chanzer0/tififn-times/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeIngester struct {
	started chan struct{}
	release chan struct{}
	days    atomic.Int64
	err     error
}

func (f *fakeIngester) ScrapeRecent(_ context.Context, days int) (*ingest.RangeResult, error) {
	f.days.Store(int64(days))
	if f.started != nil {
		close(f.started)
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	return &ingest.RangeResult{RunID: "run", Inserted: days}, nil
}

type fakeBackfiller struct {
	calls int
	opts  backfill.Options
}

func (f *fakeBackfiller) RunAdHoc(_ context.Context, opts backfill.Options) (*backfill.Stats, error) {
	f.calls++
	f.opts = opts
	return &backfill.Stats{RunID: "bf", Successful: 1}, nil
}

func TestRefresh_ScrapesThenGeocodes(t *testing.T) {
	in := &fakeIngester{}
	bf := &fakeBackfiller{}
	r := New(in, bf)

	res, err := r.Refresh(context.Background(), 3, 25)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Ingest.Inserted)
	require.NotNil(t, res.Geocode)
	assert.Equal(t, 1, bf.calls)
	assert.Equal(t, store.StrategyRecentFirst, bf.opts.Strategy)
	assert.Equal(t, 25, bf.opts.MaxAddresses)
}

func TestRefresh_ZeroLimitSkipsGeocode(t *testing.T) {
	bf := &fakeBackfiller{}
	res, err := New(&fakeIngester{}, bf).Refresh(context.Background(), 1, 0)
	require.NoError(t, err)
	assert.Nil(t, res.Geocode)
	assert.Zero(t, bf.calls)
}

func TestRefresh_IngestErrorStopsRun(t *testing.T) {
	bf := &fakeBackfiller{}
	_, err := New(&fakeIngester{err: errors.New("boom")}, bf).Refresh(context.Background(), 1, 10)
	assert.EqualError(t, err, "boom")
	assert.Zero(t, bf.calls)
}

func TestRunner_BusyWhileBackgroundRunActive(t *testing.T) {
	in := &fakeIngester{started: make(chan struct{}), release: make(chan struct{})}
	bf := &fakeBackfiller{}
	r := New(in, bf)

	require.NoError(t, r.StartScrape(context.Background(), 7))
	<-in.started

	assert.ErrorIs(t, r.StartGeocode(context.Background(), 5), ErrBusy)
	_, err := r.Geocode(context.Background(), 5)
	assert.ErrorIs(t, err, ErrBusy)
	_, err = r.Refresh(context.Background(), 1, 1)
	assert.ErrorIs(t, err, ErrBusy)

	close(in.release)
	r.Wait()
	assert.EqualValues(t, 7, in.days.Load())

	st, err := r.Geocode(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, "bf", st.RunID)
}

func TestRunner_StartGeocode(t *testing.T) {
	bf := &fakeBackfiller{}
	r := New(&fakeIngester{}, bf)
	require.NoError(t, r.StartGeocode(context.Background(), 9))
	r.Wait()
	assert.Equal(t, 1, bf.calls)
	assert.Equal(t, 9, bf.opts.MaxAddresses)
}
