// Package scrape fetches the dispatch center's daily log page and parses it
// into log records.
package scrape

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/chanzer0/tififn-times/internal/metrics"
	"github.com/chanzer0/tififn-times/internal/resilience"
)

const (
	// DefaultURL is the public dispatch log page.
	DefaultURL = "http://www.jecc-ema.org/jecc/jecccfs.php"
	// DefaultUserAgent identifies the scraper to the source.
	DefaultUserAgent = "TiffinTimes/1.0 (emergency-logs-scraper)"
	// AllAgencies selects every agency on the log page.
	AllAgencies = "All"

	// DefaultMaxPageBytes caps the size of one day's page.
	DefaultMaxPageBytes = 8 << 20

	formDateLayout = "01/02/2006"
)

// ErrSourceUnavailable is returned when the log page could not be fetched.
var ErrSourceUnavailable = eris.New("scrape: source unavailable")

// FetchOptions configures the Fetcher.
type FetchOptions struct {
	URL       string
	Agency    string
	UserAgent string
	Timeout   time.Duration
	Retry     resilience.RetryConfig

	// MaxPageBytes rejects larger pages instead of parsing a truncated table.
	MaxPageBytes int64
}

// Fetcher posts the log page form for a single day.
type Fetcher struct {
	opts   FetchOptions
	client *http.Client
	log    *zap.Logger
}

// NewFetcher creates a Fetcher, filling unset options with defaults.
func NewFetcher(opts FetchOptions) *Fetcher {
	if opts.URL == "" {
		opts.URL = DefaultURL
	}
	if opts.Agency == "" {
		opts.Agency = AllAgencies
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxPageBytes <= 0 {
		opts.MaxPageBytes = DefaultMaxPageBytes
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = resilience.DefaultRetryConfig()
	}
	if opts.Retry.OnRetry == nil {
		opts.Retry.OnRetry = resilience.RetryLogger("scrape.fetch")
	}
	return &Fetcher{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		log:    zap.L().With(zap.String("component", "scrape.fetcher")),
	}
}

// Fetch returns the raw HTML for date. Transient failures are retried;
// anything still failing is reported as ErrSourceUnavailable.
func (f *Fetcher) Fetch(ctx context.Context, date time.Time) (string, error) {
	form := url.Values{
		"SelectedDate":   {date.Format(formDateLayout)},
		"SelectedAgency": {f.opts.Agency},
		"Submit":         {"Select"},
	}

	body, err := resilience.DoVal(ctx, f.opts.Retry, func(ctx context.Context) (string, error) {
		return f.post(ctx, form)
	})
	if err != nil {
		metrics.SourceFetches.WithLabelValues("unavailable").Inc()
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", eris.Wrapf(ErrSourceUnavailable, "fetch %s: %v", date.Format(formDateLayout), err)
	}
	metrics.SourceFetches.WithLabelValues("ok").Inc()
	return body, nil
}

func (f *Fetcher) post(ctx context.Context, form url.Values) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.opts.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", eris.Wrap(err, "scrape: create request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "scrape: post")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("scrape: status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return "", resilience.NewTransientError(err, resp.StatusCode)
		}
		return "", err
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxPageBytes+1))
	if err != nil {
		return "", resilience.NewTransientError(eris.Wrap(err, "scrape: read body"), 0)
	}
	if int64(len(b)) > f.opts.MaxPageBytes {
		return "", eris.Errorf("scrape: page exceeds %d bytes", f.opts.MaxPageBytes)
	}
	return string(b), nil
}
