package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler exposes the dedicated registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Server serves /metrics on its own listener.
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// Listen starts serving m on addr. Use ":0" to pick a free port.
func Listen(addr string, m *Metrics, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen metrics %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	logger.Info("metrics server enabled", slog.String("addr", ln.Addr().String()))
	return &Server{srv: srv, ln: ln}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Shutdown stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
