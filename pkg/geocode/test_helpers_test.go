package geocode

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// newRewriteClient creates an HTTP client that rewrites requests to a test server URL.
// All requests matching the target prefix are redirected to the test server.
func newRewriteClient(testServerURL, targetPrefix string) *http.Client {
	return &http.Client{
		Transport: &rewriteTransport{
			base:         http.DefaultTransport,
			testServer:   testServerURL,
			targetPrefix: targetPrefix,
		},
	}
}

type rewriteTransport struct {
	base         http.RoundTripper
	testServer   string
	targetPrefix string
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	origURL := req.URL.String()
	if !strings.HasPrefix(origURL, t.targetPrefix) {
		return t.base.RoundTrip(req)
	}
	parsed, err := req.URL.Parse(t.testServer + origURL[len(t.targetPrefix):])
	if err != nil {
		return nil, err
	}
	newReq := req.Clone(req.Context())
	newReq.URL = parsed
	newReq.Host = parsed.Host
	return t.base.RoundTrip(newReq)
}

// scriptedSearcher answers queries from a fixed table and records every call.
type scriptedSearcher struct {
	mu      sync.Mutex
	answers map[string]*Result
	err     error
	calls   []string
}

func newScriptedSearcher(answers map[string]*Result) *scriptedSearcher {
	return &scriptedSearcher{answers: answers}
}

func (s *scriptedSearcher) Search(_ context.Context, query string) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, query)
	if s.err != nil {
		return nil, s.err
	}
	if r, ok := s.answers[query]; ok {
		out := *r
		out.Query = query
		out.Matched = true
		if out.Tier == "" {
			out.Tier = TierExact
		}
		return &out, nil
	}
	return &Result{Matched: false, Query: query}, nil
}

func (s *scriptedSearcher) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func point(lat, lon float64, name string) *Result {
	return &Result{Latitude: lat, Longitude: lon, FormattedAddress: name}
}
