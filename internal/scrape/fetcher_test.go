package scrape

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chanzer0/tififn-times/internal/resilience"
)

func fastRetry(attempts int) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		Multiplier:     1,
	}
}

func TestFetcher_PostsForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "03/07/2024", r.PostForm.Get("SelectedDate"))
		assert.Equal(t, "ICPD", r.PostForm.Get("SelectedAgency"))
		assert.Equal(t, "Select", r.PostForm.Get("Submit"))
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	f := NewFetcher(FetchOptions{URL: srv.URL, Agency: "ICPD", Retry: fastRetry(1)})
	body, err := f.Fetch(context.Background(), time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "<html>ok</html>", body)
}

func TestFetcher_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("page"))
	}))
	defer srv.Close()

	f := NewFetcher(FetchOptions{URL: srv.URL, Retry: fastRetry(3)})
	body, err := f.Fetch(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, "page", body)
	assert.EqualValues(t, 3, calls.Load())
}

func TestFetcher_PermanentStatusIsUnavailable(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewFetcher(FetchOptions{URL: srv.URL, Retry: fastRetry(3)})
	_, err := f.Fetch(context.Background(), time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSourceUnavailable))
	assert.EqualValues(t, 1, calls.Load())
}

func TestFetcher_ExhaustedRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := NewFetcher(FetchOptions{URL: srv.URL, Retry: fastRetry(2)})
	_, err := f.Fetch(context.Background(), time.Now())
	assert.ErrorIs(t, err, ErrSourceUnavailable)
}

func TestFetcher_OversizedPageIsUnavailable(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(strings.Repeat("x", 65)))
	}))
	defer srv.Close()

	f := NewFetcher(FetchOptions{URL: srv.URL, MaxPageBytes: 64, Retry: fastRetry(3)})
	_, err := f.Fetch(context.Background(), time.Now())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSourceUnavailable)
	assert.Contains(t, err.Error(), "exceeds 64 bytes")
	assert.EqualValues(t, 1, calls.Load())
}

func TestFetcher_PageAtLimitIsAccepted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer srv.Close()

	f := NewFetcher(FetchOptions{URL: srv.URL, MaxPageBytes: 64, Retry: fastRetry(1)})
	body, err := f.Fetch(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Len(t, body, 64)
}

func TestFetcher_CanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("page"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := NewFetcher(FetchOptions{URL: srv.URL, Retry: fastRetry(1)})
	_, err := f.Fetch(ctx, time.Now())
	assert.ErrorIs(t, err, context.Canceled)
}
