// Package httpapi implements the HTTP control surface spec.md §4.1
// describes. Grounded on internal/webhook.Receiver's server shape
// (net/http.ServeMux with Go 1.22+ method+pattern routes, graceful
// shutdown via context cancellation).
package httpapi

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-logr/logr"

	"github.com/camptocamp/shared-config-manager/internal/auth"
	"github.com/camptocamp/shared-config-manager/internal/bus"
	"github.com/camptocamp/shared-config-manager/internal/config"
	"github.com/camptocamp/shared-config-manager/internal/registry"
)

// Server is the HTTP control surface every node exposes identically.
type Server struct {
	cfg         *config.Config
	reg         *registry.Registry
	broadcaster *bus.Broadcaster
	oauth       auth.SessionVerifier
	log         logr.Logger
}

// New builds a Server. broadcaster and oauth may be nil (standalone node
// with no peers, or no browser sign-in configured).
func New(cfg *config.Config, reg *registry.Registry, broadcaster *bus.Broadcaster, oauth auth.SessionVerifier, log logr.Logger) *Server {
	return &Server{cfg: cfg, reg: reg, broadcaster: broadcaster, oauth: oauth, log: log.WithName("httpapi")}
}

// Handler builds the routed http.Handler, mounted under cfg.RoutePrefix.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	prefix := s.cfg.RoutePrefix

	mux.HandleFunc("GET "+prefix+"/1/refresh/{id}", s.withAuth(true, s.handleRefreshOne))
	mux.HandleFunc("POST "+prefix+"/1/refresh/{id}", s.withAuth(true, s.handleWebhookRefresh))
	mux.HandleFunc("GET "+prefix+"/1/refresh", s.withAuth(false, s.handleRefreshAllGet))
	mux.HandleFunc("POST "+prefix+"/1/refresh", s.withAuth(false, s.handleRefreshAllPost))
	mux.HandleFunc("GET "+prefix+"/1/status", s.withAuth(false, s.handleStatus))
	mux.HandleFunc("GET "+prefix+"/1/status/{id}", s.withAuth(false, s.handleStatusOne))
	mux.HandleFunc("GET "+prefix+"/1/tarball/{id}", s.withAuth(false, s.handleTarball))

	return mux
}

// Run starts the HTTP server and blocks until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("starting HTTP control surface", "addr", s.cfg.ListenAddr, "prefix", s.cfg.RoutePrefix)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
