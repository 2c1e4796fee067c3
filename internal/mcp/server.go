package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"memorybank/internal/logging"
	"memorybank/internal/memorybank"
	"memorybank/internal/metrics"
	"memorybank/internal/security"
	"memorybank/internal/session"
)

const (
	serverName = "memory-bank"

	// DefaultToolTimeout bounds a dispatched call when Options leaves it unset.
	DefaultToolTimeout = 30 * time.Second

	bodyOverhead    = 64 << 10
	shutdownTimeout = 5 * time.Second
)

// Options wires a Server. Store and Sessions are required.
type Options struct {
	Store    *memorybank.Store
	Sessions *session.Manager
	Metrics  *metrics.Metrics
	Logger   *logging.AppLogger
	// Version is reported by /health and get_status.
	Version string
	// ToolTimeout abandons a dispatched call that has not produced a result.
	ToolTimeout time.Duration
	// MaxBodyBytes caps POST /messages bodies. Zero derives it from the
	// gate's content size limit.
	MaxBodyBytes int64
}

// Server holds everything a handler needs. It is built once at startup and
// shared by the HTTP and stdio transports.
type Server struct {
	store    *memorybank.Store
	gate     *security.Gate
	sessions *session.Manager
	metrics  *metrics.Metrics
	logger   *logging.AppLogger

	version     string
	toolTimeout time.Duration
	maxBody     int64
	startedAt   time.Time
}

func NewServer(opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.Sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.GetDefault()
	}
	if opts.ToolTimeout <= 0 {
		opts.ToolTimeout = DefaultToolTimeout
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}

	gate := opts.Store.Gate()
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 2*gate.Policy().MaxContentSize + bodyOverhead
	}

	return &Server{
		store:       opts.Store,
		gate:        gate,
		sessions:    opts.Sessions,
		metrics:     opts.Metrics,
		logger:      opts.Logger.With("component", "protocol"),
		version:     opts.Version,
		toolTimeout: opts.ToolTimeout,
		maxBody:     opts.MaxBodyBytes,
		startedAt:   time.Now(),
	}, nil
}

// Handler returns the HTTP surface: the event stream, the command endpoint,
// the liveness endpoint and, when metrics are enabled, /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /sse", s.handleStream)
	mux.HandleFunc("POST /messages", s.handleMessage)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return mux
}

// Serve accepts connections on ln until ctx is done, then closes every
// stream and shuts the HTTP server down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Protocol server listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down protocol server")
	s.sessions.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown protocol server: %w", err)
	}
	return nil
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// RunBroadcaster forwards committed document changes to every open stream
// until ctx is done.
func (s *Server) RunBroadcaster(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case change := <-s.store.Changes():
			payload, err := json.Marshal(Event{Type: EventDocumentChanged, Result: change})
			if err != nil {
				s.logger.Error("Failed to encode change event", "error", err)
				continue
			}
			n := s.sessions.Broadcast(payload)
			s.logger.Debug("Change broadcast", "key", change.Key, "version", change.Version, "delivered", n)
		}
	}
}
