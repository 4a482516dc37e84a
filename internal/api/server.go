// Package api serves the stored dispatch logs over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/chanzer0/tififn-times/internal/cache"
	"github.com/chanzer0/tififn-times/internal/model"
	"github.com/chanzer0/tififn-times/internal/refresh"
	"github.com/chanzer0/tififn-times/internal/store"
)

// Paging and trigger defaults.
const (
	DefaultPerPage      = 50
	MaxPerPage          = 1000
	DefaultMapDays      = 7
	DefaultScrapeDays   = 3
	DefaultGeocodeLimit = 50
)

// prefixMap keeps map listings under the logs: prefix so log invalidation drops them.
const prefixMap = cache.PrefixLogs + "map:"

// Trigger starts background refresh work. Both methods return
// refresh.ErrBusy when a run is already active.
type Trigger interface {
	StartScrape(ctx context.Context, days int) error
	StartGeocode(ctx context.Context, limit int) error
}

// Options configures a Server.
type Options struct {
	CORSOrigins []string
}

// Server holds the API dependencies.
type Server struct {
	store   store.Store
	cache   cache.Cache
	trigger Trigger
	// runCtx outlives requests; triggered runs use it.
	runCtx context.Context
	opts   Options
	now    func() time.Time
	log    *zap.Logger
}

// New creates a Server. c may be nil to disable caching. Background runs
// started through the API are bound to ctx.
func New(ctx context.Context, st store.Store, c cache.Cache, trig Trigger, opts Options) *Server {
	if c == nil {
		c = cache.Noop{}
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	return &Server{
		store:   st,
		cache:   c,
		trigger: trig,
		runCtx:  ctx,
		opts:    opts,
		now:     time.Now,
		log:     zap.L().With(zap.String("component", "api")),
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.health)
		r.Get("/logs", s.listLogs)
		r.Get("/logs/map", s.mapLogs)
		r.Get("/logs/{id}", s.getLog)
		r.Post("/logs/refresh", s.refreshCache)
		r.Post("/scraper/run", s.runScraper)
		r.Post("/geocoder/run", s.runGeocoder)
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Cache    string `json:"cache"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "healthy", Database: "healthy", Cache: "healthy"}
	if err := s.store.Ping(r.Context()); err != nil {
		s.log.Warn("database health check failed", zap.Error(err))
		resp.Database = "unhealthy"
	}
	if _, ok := s.cache.(cache.Noop); ok {
		resp.Cache = "disabled"
	} else if err := s.cache.Ping(r.Context()); err != nil {
		s.log.Warn("cache health check failed", zap.Error(err))
		resp.Cache = "unhealthy"
	}

	status := http.StatusOK
	if resp.Database == "unhealthy" || resp.Cache == "unhealthy" {
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// logsQuery is the normalized listing request; it doubles as the cache key input.
type logsQuery struct {
	Page      int    `json:"page"`
	PerPage   int    `json:"per_page"`
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
	Agency    string `json:"agency,omitempty"`
	CallType  string `json:"call_type,omitempty"`
}

func (s *Server) listLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := intParam(q.Get("page"), 1)
	if err != nil || page < 1 {
		writeError(w, http.StatusBadRequest, "page must be an integer >= 1")
		return
	}
	perPage, err := intParam(q.Get("per_page"), DefaultPerPage)
	if err != nil || perPage < 1 || perPage > MaxPerPage {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("per_page must be an integer between 1 and %d", MaxPerPage))
		return
	}
	start, err := dateParam(q.Get("start_date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "start_date must be YYYY-MM-DD")
		return
	}
	end, err := dateParam(q.Get("end_date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "end_date must be YYYY-MM-DD")
		return
	}

	lq := logsQuery{
		Page:      page,
		PerPage:   perPage,
		StartDate: q.Get("start_date"),
		EndDate:   q.Get("end_date"),
		Agency:    q.Get("agency"),
		CallType:  q.Get("call_type"),
	}
	key := cache.Key(cache.PrefixLogs, lq)

	var cached model.LogPage
	if s.cacheGet(r.Context(), key, &cached) {
		writeJSON(w, http.StatusOK, &cached)
		return
	}

	res, err := s.store.ListLogs(r.Context(), model.LogFilter{
		StartDate: start,
		EndDate:   end,
		Agency:    lq.Agency,
		CallType:  lq.CallType,
		Page:      page,
		PerPage:   perPage,
	})
	if err != nil {
		s.log.Error("list logs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	s.cacheSet(r.Context(), key, res)
	writeJSON(w, http.StatusOK, res)
}

type mapResponse struct {
	Logs      []model.LogRecord `json:"logs"`
	Total     int               `json:"total"`
	StartDate string            `json:"start_date"`
	EndDate   string            `json:"end_date"`
}

func (s *Server) mapLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	end, err := dateParam(q.Get("end_date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "end_date must be YYYY-MM-DD")
		return
	}
	start, err := dateParam(q.Get("start_date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "start_date must be YYYY-MM-DD")
		return
	}
	if end == nil {
		today := model.Date(s.now())
		end = &today
	}
	if start == nil {
		from := end.AddDate(0, 0, -(DefaultMapDays - 1))
		start = &from
	}
	if start.After(*end) {
		writeError(w, http.StatusBadRequest, "start_date is after end_date")
		return
	}

	resp := mapResponse{StartDate: start.Format(model.DateLayout), EndDate: end.Format(model.DateLayout)}
	key := cache.Key(prefixMap, []string{resp.StartDate, resp.EndDate})

	var cached mapResponse
	if s.cacheGet(r.Context(), key, &cached) {
		writeJSON(w, http.StatusOK, &cached)
		return
	}

	logs, err := s.store.ListGeocoded(r.Context(), *start, *end)
	if err != nil {
		s.log.Error("list geocoded logs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	if logs == nil {
		logs = []model.LogRecord{}
	}
	resp.Logs = logs
	resp.Total = len(logs)
	s.cacheSet(r.Context(), key, resp)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getLog(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, "id must be a positive integer")
		return
	}
	key := cache.PrefixLog + strconv.FormatInt(id, 10)

	var cached model.LogRecord
	if s.cacheGet(r.Context(), key, &cached) {
		writeJSON(w, http.StatusOK, &cached)
		return
	}

	rec, err := s.store.GetLog(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "log not found")
		return
	}
	if err != nil {
		s.log.Error("get log failed", zap.Int64("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	s.cacheSet(r.Context(), key, rec)
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) refreshCache(w http.ResponseWriter, r *http.Request) {
	if err := s.cache.InvalidateLogs(r.Context()); err != nil {
		s.log.Error("cache invalidation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "cache error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "cache cleared"})
}

func (s *Server) runScraper(w http.ResponseWriter, r *http.Request) {
	days, err := intParam(r.URL.Query().Get("days"), DefaultScrapeDays)
	if err != nil || days < 1 {
		writeError(w, http.StatusBadRequest, "days must be an integer >= 1")
		return
	}
	s.start(w, s.trigger.StartScrape(s.runCtx, days), map[string]any{"status": "started", "days": days})
}

func (s *Server) runGeocoder(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r.URL.Query().Get("limit"), DefaultGeocodeLimit)
	if err != nil || limit < 1 {
		writeError(w, http.StatusBadRequest, "limit must be an integer >= 1")
		return
	}
	s.start(w, s.trigger.StartGeocode(s.runCtx, limit), map[string]any{"status": "started", "limit": limit})
}

func (s *Server) start(w http.ResponseWriter, err error, body map[string]any) {
	switch {
	case errors.Is(err, refresh.ErrBusy):
		writeError(w, http.StatusConflict, "a run is already in progress")
	case err != nil:
		s.log.Error("start run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not start run")
	default:
		writeJSON(w, http.StatusAccepted, body)
	}
}

// cacheGet reports a hit. Cache errors are logged and read as misses.
func (s *Server) cacheGet(ctx context.Context, key string, dst any) bool {
	ok, err := s.cache.Get(ctx, key, dst)
	if err != nil {
		s.log.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return ok
}

func (s *Server) cacheSet(ctx context.Context, key string, v any) {
	if err := s.cache.Set(ctx, key, v); err != nil {
		s.log.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func intParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

func dateParam(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	d, err := model.ParseDate(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
