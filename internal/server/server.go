// Package server is the HTTP front-end: the public documentation API, the
// cache admin surface and the operational endpoints.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"github.com/cratedocs/proxy/internal/cache"
	"github.com/cratedocs/proxy/internal/config"
	"github.com/cratedocs/proxy/internal/docs"
	"github.com/cratedocs/proxy/internal/errors"
	"github.com/cratedocs/proxy/internal/logging"
	"github.com/cratedocs/proxy/internal/metrics"
)

// Server serves the documentation API over HTTP.
type Server struct {
	svc     *docs.Service
	metrics *metrics.Metrics
	cfg     config.ServerConfig
	router  *httprouter.Router
	http    *http.Server
}

// New wires the routes and builds the listener. metrics may be nil.
func New(cfg config.ServerConfig, svc *docs.Service, m *metrics.Metrics) *Server {
	s := &Server{
		svc:     svc,
		metrics: m,
		cfg:     cfg,
		router:  httprouter.New(),
	}

	s.route(http.MethodGet, "/api/v1/search", s.handleSearch)
	s.route(http.MethodGet, "/api/v1/releases", s.handleReleases)
	s.route(http.MethodGet, "/api/v1/crates/:name", s.handleMetadata)
	s.route(http.MethodGet, "/api/v1/crates/:name/docs", s.handleCrateDocs)
	s.route(http.MethodGet, "/api/v1/crates/:name/items/*path", s.handleItemDocs)

	s.route(http.MethodGet, "/admin/cache/stats", s.handleCacheStats)
	s.route(http.MethodPost, "/admin/cache/clear", s.handleCacheClear)
	s.route(http.MethodPost, "/admin/cache/maintenance", s.handleCacheMaintenance)
	s.route(http.MethodPost, "/admin/cache/invalidate", s.handleCacheInvalidate)

	s.route(http.MethodGet, "/health", s.handleHealth)
	if m != nil {
		s.router.Handler(http.MethodGet, "/metrics", m.Handler())
	}

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled, then drains within the shutdown
// timeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info("http server listening", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	logging.Info("http server draining")
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// route registers one handler behind the request-ID, logging and metrics
// middleware.
func (s *Server) route(method, path string, h httprouter.Handle) {
	s.router.Handle(method, path, s.instrument(path, h))
}

func (s *Server) instrument(route string, h httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		start := time.Now()
		requestID := newRequestID()
		w.Header().Set("X-Request-ID", requestID)

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		h(sw, r, ps)

		elapsed := time.Since(start)
		if s.metrics != nil {
			s.metrics.ObserveRequest(route, r.Method, sw.status, elapsed)
		}
		logging.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.Duration("elapsed", elapsed),
		)
	}
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	result, err := s.svc.Search(r.Context(), r.URL.Query().Get("q"), queryInt(r, "limit"))
	if err != nil {
		errors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleReleases(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	releases, err := s.svc.RecentReleases(r.Context(), queryInt(r, "limit"))
	if err != nil {
		errors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"releases": releases})
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	meta, err := s.svc.Metadata(r.Context(), ps.ByName("name"), r.URL.Query().Get("version"))
	if err != nil {
		errors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleCrateDocs(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	item, err := s.svc.CrateDocs(r.Context(), ps.ByName("name"), r.URL.Query().Get("version"))
	if err != nil {
		errors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleItemDocs(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	item, err := s.svc.ItemDocs(r.Context(), ps.ByName("name"), r.URL.Query().Get("version"), ps.ByName("path"))
	if err != nil {
		errors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, s.svc.Cache().Stats())
}

func (s *Server) handleCacheClear(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	s.svc.Cache().ClearAll()
	logging.Info("cache cleared by admin request")
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleCacheMaintenance(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	removed := s.svc.Cache().RunMaintenance()
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// invalidateRequest addresses one logical cache entry.
type invalidateRequest struct {
	Op       string `json:"op"`
	Crate    string `json:"crate,omitempty"`
	Version  string `json:"version,omitempty"`
	ItemPath string `json:"item_path,omitempty"`
	Query    string `json:"query,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

func (s *Server) handleCacheInvalidate(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req invalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteJSON(w, errors.Wrap(errors.KindInvalidRequest, "decoding invalidate request", err))
		return
	}

	var key cache.Key
	switch cache.Op(req.Op) {
	case cache.OpSearch:
		key = cache.SearchKey(req.Query, req.Limit)
	case cache.OpMetadata:
		key = cache.MetadataKey(req.Crate, req.Version)
	case cache.OpReleases:
		key = cache.ReleasesKey(req.Limit)
	case cache.OpCrateDocs:
		key = cache.CrateDocsKey(req.Crate, req.Version)
	case cache.OpItemDocs:
		key = cache.ItemDocsKey(req.Crate, req.Version, req.ItemPath)
	default:
		errors.WriteJSON(w, errors.Newf(errors.KindInvalidRequest, "unknown operation %q", req.Op))
		return
	}

	s.svc.Cache().Invalidate(key)
	writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated", "key": key.String()})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn("encoding response", zap.Error(err))
	}
}

func queryInt(r *http.Request, name string) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func newRequestID() string { return uuid.NewString() }

// statusWriter remembers the status code for logging and metrics.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
