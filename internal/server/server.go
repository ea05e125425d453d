// Package server exposes the dashboard's REST and WebSocket surface.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/miloview/miloview/internal/block"
	"github.com/miloview/miloview/internal/bus"
	"github.com/miloview/miloview/internal/config"
	"github.com/miloview/miloview/internal/metrics"
	"github.com/miloview/miloview/internal/status"
	"github.com/miloview/miloview/internal/store"
	syncctl "github.com/miloview/miloview/internal/sync"
)

// Server serves the query API, the mutation endpoints, the messaging
// gateway webhook, Prometheus metrics and the WebSocket push feed.
type Server struct {
	addr       string
	lookback   time.Duration
	cache      *store.Cache
	controller *syncctl.Controller
	blocklist  *block.Manager
	machine    *status.Machine
	metrics    *metrics.Metrics
	bus        *bus.Bus
	limiter    *ipLimiter
	logger     *zap.Logger

	http    *http.Server
	lnAddr  string
	started time.Time
}

// NewServer wires the HTTP surface. machine may be nil.
func NewServer(
	cfg *config.Config,
	cache *store.Cache,
	controller *syncctl.Controller,
	blocklist *block.Manager,
	machine *status.Machine,
	m *metrics.Metrics,
	b *bus.Bus,
	logger *zap.Logger,
) *Server {
	return &Server{
		addr:       cfg.HTTPAddr,
		lookback:   time.Duration(cfg.Sync.LookbackDays) * 24 * time.Hour,
		cache:      cache,
		controller: controller,
		blocklist:  blocklist,
		machine:    machine,
		metrics:    m,
		bus:        b,
		limiter:    newIPLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
		logger:     logger,
		started:    time.Now(),
	}
}

// Handler builds the route table. Exposed so tests can drive the
// server through httptest without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/conversations", s.handleConversations)
	mux.HandleFunc("GET /api/conversation/{number}", s.handleConversation)
	mux.HandleFunc("GET /api/message/{sid}", s.handleMessage)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/blocked-numbers", s.handleBlockedNumbers)
	mux.HandleFunc("GET /api/check-blocked/{number}", s.handleCheckBlocked)

	mux.HandleFunc("POST /api/refresh", s.limited(s.handleRefresh))
	mux.HandleFunc("POST /api/sync-today", s.limited(s.handleSyncToday))
	mux.HandleFunc("POST /api/cache/clear", s.limited(s.handleCacheClear))
	mux.HandleFunc("POST /api/block-number", s.limited(s.handleBlockNumber))

	mux.HandleFunc("POST /api/sms-webhook", s.handleSMSWebhook)

	mux.Handle("GET /metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /ws", s.handleWS)

	return mux
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.lnAddr = ln.Addr().String()
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server stopped", zap.Error(err))
		}
	}()
	s.logger.Info("http server listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound listen address once Start has succeeded.
// Useful when the configured address has port 0.
func (s *Server) Addr() string {
	return s.lnAddr
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
