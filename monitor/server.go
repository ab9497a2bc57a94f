package monitor

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"

	"github.com/INLOpen/chunkbridge/config"
	"github.com/arl/statsviz"
)

// DebugServer serves pprof, expvar and the statsviz dashboard.
type DebugServer struct {
	server *http.Server
	logger *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	done     chan struct{}
}

// NewDebugServer builds the debug mux from cfg. Nothing listens until Start.
func NewDebugServer(cfg config.DebugConfig, logger *slog.Logger) *DebugServer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With("component", "DebugServer")
	mux := http.NewServeMux()

	if cfg.PProfEnabled {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", expvar.Handler())
		if cfg.MonitorUIEnabled {
			if err := statsviz.Register(mux,
				statsviz.Root("/viz"),
				statsviz.SendFrequency(250*time.Millisecond),
			); err != nil {
				logger.Warn("statsviz unavailable", "error", err)
			}
		}
	}

	addr := cfg.ListenAddress
	if addr == "" {
		addr = "127.0.0.1:6060"
	}
	return &DebugServer{
		server: &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		logger: logger,
	}
}

// Handler exposes the mux for tests.
func (s *DebugServer) Handler() http.Handler { return s.server.Handler }

// Start listens and serves in the background. It returns the bound address.
func (s *DebugServer) Start() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String(), nil
	}
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return "", fmt.Errorf("debug server listen: %w", err)
	}
	s.listener = ln
	s.done = make(chan struct{})
	s.logger.Info("Debug server listening", "address", ln.Addr().String())
	go func() {
		defer close(s.done)
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Debug server failed", "error", err)
		}
	}()
	return ln.Addr().String(), nil
}

// Stop shuts the server down gracefully.
func (s *DebugServer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("Debug server shutdown failed", "error", err)
	}
	<-s.done
	s.listener = nil
}
