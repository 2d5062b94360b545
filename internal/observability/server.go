// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Alexandria Contributors

// Package observability provides HTTP endpoints for metrics and health checks.
package observability

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"
)

// ReadinessChecker returns whether the service is ready to accept requests.
type ReadinessChecker func() bool

// Registrar registers a package's collectors, e.g. eventbus.RegisterMetrics.
type Registrar func(prometheus.Registerer)

// Metrics contains the HTTP metrics for plugin routes.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers the route metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alexandria_http_requests_total",
				Help: "Total number of plugin route requests by method and status",
			},
			[]string{"method", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "alexandria_http_request_duration_seconds",
				Help:    "Plugin route request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
	}

	reg.MustRegister(m.RequestsTotal)
	reg.MustRegister(m.RequestDuration)

	return m
}

// Instrument wraps next, counting requests and observing their latency.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.RequestsTotal.WithLabelValues(r.Method, strconv.Itoa(status)).Inc()
		m.RequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}

// Error codes returned by Server.
const (
	CodeAlreadyRunning = "OBSERVABILITY_ALREADY_RUNNING"
	CodeListenFailed   = "OBSERVABILITY_LISTEN_FAILED"
	CodeShutdownFailed = "OBSERVABILITY_SHUTDOWN_FAILED"
)

// Server serves /metrics and the liveness and readiness probes on an
// address separate from plugin routes.
type Server struct {
	addr       string
	listener   net.Listener
	httpServer *http.Server
	registry   *prometheus.Registry
	metrics    *Metrics
	isReady    ReadinessChecker
	running    atomic.Bool
}

// NewServer creates a server listening on addr ("127.0.0.1:0" picks a free
// port). Each registrar is called once with the server's registry.
func NewServer(addr string, readinessChecker ReadinessChecker, registrars ...Registrar) *Server {
	// Own registry so repeated servers in tests do not collide.
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	metrics := NewMetrics(registry)
	for _, register := range registrars {
		register(registry)
	}

	return &Server{
		addr:     addr,
		registry: registry,
		metrics:  metrics,
		isReady:  readinessChecker,
	}
}

// Metrics returns the route metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	r.Route("/healthz", func(r chi.Router) {
		r.Get("/liveness", func(w http.ResponseWriter, _ *http.Request) {
			writeProbe(w, http.StatusOK, "ok")
		})
		r.Get("/readiness", func(w http.ResponseWriter, _ *http.Request) {
			if s.isReady == nil || s.isReady() {
				writeProbe(w, http.StatusOK, "ok")
				return
			}
			writeProbe(w, http.StatusServiceUnavailable, "not ready")
		})
	})
	return r
}

// Start listens and serves in the background. Serve failures after a
// successful start arrive on the returned channel, which is closed once the
// server stops.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.In("observability").Code(CodeAlreadyRunning).Errorf("observability server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.In("observability").Code(CodeListenFailed).With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	httpSrv := &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			slog.Error("observability server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	slog.Info("observability server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop shuts the server down. Stopping a server that is not running is a
// no-op.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			// Still running; allow another Stop.
			s.running.Store(true)
			return oops.In("observability").Code(CodeShutdownFailed).Wrap(err)
		}
	}

	slog.Info("observability server stopped")
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

func writeProbe(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	//nolint:errcheck // the prober may already have gone away
	io.WriteString(w, body+"\n")
}
