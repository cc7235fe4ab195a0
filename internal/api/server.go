// Package api serves the JSON dashboard API over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/wpptriage/internal/analysis"
	"github.com/matheus3301/wpptriage/internal/ingest"
	"github.com/matheus3301/wpptriage/internal/progress"
	"github.com/matheus3301/wpptriage/internal/scheduler"
	"github.com/matheus3301/wpptriage/internal/status"
	"github.com/matheus3301/wpptriage/internal/store"
)

// Deps are the components the handlers call into.
type Deps struct {
	Analysis   *analysis.Service
	DB         *store.DB
	Ingest     *ingest.Engine
	Tracker    *progress.Tracker
	Scheduler  *scheduler.Scheduler
	Status     *status.Machine // optional
	ConfigPath string // where POST /api/config persists; empty disables persisting
}

// Server provides the HTTP dashboard API.
type Server struct {
	deps   Deps
	logger *zap.Logger
	addr   string
	now    func() time.Time

	server   *http.Server
	listener net.Listener
}

// NewServer creates an API server listening on addr once started.
func NewServer(addr string, deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		deps:   deps,
		logger: logger,
		addr:   addr,
		now:    time.Now,
	}
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Analysis
	mux.HandleFunc("POST /api/analyze", s.handleAnalyze)
	mux.HandleFunc("GET /api/progress", s.handleProgress)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/connection", s.handleConnection)
	mux.HandleFunc("GET /api/account-settings", s.handleAccountSettings)

	// Messages
	mux.HandleFunc("POST /api/send-message", s.handleSendMessage)
	mux.HandleFunc("GET /api/messages", s.handleMessages)
	mux.HandleFunc("GET /api/messages/search", s.handleSearchMessages)
	mux.HandleFunc("GET /api/chats/{chat_id}/messages", s.handleChatMessages)
	mux.HandleFunc("GET /api/chats/{chat_id}/history", s.handleChatHistory)
	mux.HandleFunc("GET /api/outbox", s.handleOutbox)
	mux.HandleFunc("POST /api/refresh-from-provider", s.handleRefresh)
	mux.HandleFunc("POST /api/refresh-from-green", s.handleRefresh)

	// Stored data
	mux.HandleFunc("GET /api/database-stats", s.handleDatabaseStats)
	mux.HandleFunc("GET /api/urgent-conversations", s.handleUrgentConversations)
	mux.HandleFunc("GET /api/conversations", s.handleConversations)
	mux.HandleFunc("GET /api/reports", s.handleReports)
	mux.HandleFunc("GET /api/reports/{run_id}", s.handleReport)
	mux.HandleFunc("POST /api/stats/refresh-from-report", s.handleRefreshStats)

	// Settings
	mux.HandleFunc("POST /api/config", s.handleConfig)
	mux.HandleFunc("GET /api/models", s.handleModels)
	mux.HandleFunc("GET /api/cron/status", s.handleCronStatus)
	mux.HandleFunc("POST /api/cron/update", s.handleCronUpdate)

	mux.HandleFunc("GET /health", s.handleHealth)

	return s.logRequests(mux)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("HTTP API starting", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP API error", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("HTTP API stopping")
	return s.server.Shutdown(ctx)
}
