// Package health exposes the liveness/readiness endpoints every node
// serves alongside the control surface. Grounded on
// internal/agent.HealthServer/MetricsServer, adapted to key readiness off
// the registry's reconcile outcome (spec.md §4.2 step 7's READY/ERROR
// flag) instead of an initial-sync boolean.
package health

import (
	"context"
	"net/http"

	"github.com/go-logr/logr"
)

// ReadinessSource reports the current reconcile outcome.
type ReadinessSource interface {
	Ready() bool
}

// Server exposes /healthz and /readyz.
type Server struct {
	source ReadinessSource
	server *http.Server
	log    logr.Logger
}

// New creates a health server bound to addr.
func New(addr string, source ReadinessSource, log logr.Logger) *Server {
	hs := &Server{source: source, log: log.WithName("health")}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", hs.handleHealthz)
	mux.HandleFunc("/readyz", hs.handleReadyz)

	hs.server = &http.Server{Addr: addr, Handler: mux}
	return hs
}

// Run starts serving. Blocks until ctx is canceled.
func (hs *Server) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		_ = hs.server.Close()
	}()

	hs.log.Info("health server starting", "addr", hs.server.Addr)
	if err := hs.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		hs.log.Error(err, "health server error")
	}
}

func (hs *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (hs *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if hs.source.Ready() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

// MetricsServer serves /metrics on a dedicated port, separate from health
// probes.
type MetricsServer struct {
	server *http.Server
	log    logr.Logger
}

// NewMetricsServer creates a metrics server bound to addr.
func NewMetricsServer(addr string, handler http.Handler, log logr.Logger) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	return &MetricsServer{server: &http.Server{Addr: addr, Handler: mux}, log: log.WithName("metrics")}
}

// Run starts serving. Blocks until ctx is canceled.
func (ms *MetricsServer) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		_ = ms.server.Close()
	}()

	ms.log.Info("metrics server starting", "addr", ms.server.Addr)
	if err := ms.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		ms.log.Error(err, "metrics server error")
	}
}
