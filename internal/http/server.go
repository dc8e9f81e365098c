// Package http exposes the reconciliation service as a JSON API.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"tally/internal/auth"
	"tally/internal/cache"
	"tally/internal/core"
	"tally/internal/ledger"
	"tally/internal/middleware/ratelimit"
	"tally/internal/middleware/security"
	"tally/internal/middleware/trace"
	"tally/internal/storage"
)

type Server struct {
	http.Server

	service *ledger.Service
	repo    storage.Repository

	// Summary caches, invalidated per owner on every mutation.
	monthCache *cache.LRUCache[core.MonthSummary]
	yearCache  *cache.LRUCache[core.YearSummary]

	tracer  *trace.Middleware
	limiter *ratelimit.Limiter

	stopCacheCleanup chan struct{}
	shutdownOnce     sync.Once
}

// NewServer configures routes and middleware, returning a
// ready-to-run server.
func NewServer(addr, jwtSecret string, service *ledger.Service, repo storage.Repository, limitConfig ratelimit.Config) *Server {
	s := &Server{
		service:          service,
		repo:             repo,
		monthCache:       cache.NewLRUCache[core.MonthSummary](200, 5*time.Minute),
		yearCache:        cache.NewLRUCache[core.YearSummary](100, 5*time.Minute),
		tracer:           trace.NewMiddleware(),
		limiter:          ratelimit.NewLimiter(limitConfig),
		stopCacheCleanup: make(chan struct{}),
	}

	api := http.NewServeMux()
	api.HandleFunc("POST /api/transactions", s.handleAddTransaction)
	api.HandleFunc("GET /api/transactions", s.handleListTransactions)
	api.HandleFunc("GET /api/transactions/{id}", s.handleGetTransaction)
	api.HandleFunc("PUT /api/transactions/{id}", s.handleEditTransaction)
	api.HandleFunc("DELETE /api/transactions/{id}", s.handleDeleteTransaction)
	api.HandleFunc("GET /api/summary/month", s.handleMonthSummary)
	api.HandleFunc("GET /api/summary/year", s.handleYearSummary)
	api.HandleFunc("GET /api/preferences", s.handleGetPreferences)
	api.HandleFunc("PUT /api/preferences", s.handlePutPreferences)

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	protected := s.tracer.Middleware(
		headers.Middleware(
			s.limiter.Middleware(trace.ClientIP)(
				auth.Middleware(jwtSecret)(api))))

	mux := http.NewServeMux()
	mux.Handle("/api/", protected)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go s.startCacheCleanup()

	return s
}

// startCacheCleanup runs periodic cleanup for both summary caches.
func (s *Server) startCacheCleanup() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			monthCleaned := s.monthCache.CleanExpired()
			yearCleaned := s.yearCache.CleanExpired()
			if monthCleaned > 0 || yearCleaned > 0 {
				slog.Debug("Cache cleanup completed",
					"month_entries_removed", monthCleaned,
					"year_entries_removed", yearCleaned)
			}
		case <-s.stopCacheCleanup:
			return
		}
	}
}

// Shutdown gracefully shuts down the server and cleanup routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		close(s.stopCacheCleanup)
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})

	return shutdownErr
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.repo == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("storage not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) monthCacheKey(owner string, year, month int) string {
	return owner + ":month:" + strconv.Itoa(year) + "-" + strconv.Itoa(month)
}

func (s *Server) yearCacheKey(owner string, year int) string {
	return owner + ":year:" + strconv.Itoa(year)
}

// invalidateSummaries drops every cached summary for the owner. Any
// mutation can shift any month the transaction's date lands in, so
// per-owner invalidation keeps it simple and correct.
func (s *Server) invalidateSummaries(owner string) {
	s.monthCache.DeletePrefix(owner + ":")
	s.yearCache.DeletePrefix(owner + ":")
}
