// Package session tracks open event-stream connections. It enforces the
// origin allow-list and the connection cap, fans change notifications out to
// every connection and closes connections that go idle.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"memorybank/internal/apperr"
	"memorybank/internal/logging"
	"memorybank/internal/metrics"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
)

// ErrAtCapacity is returned by Connect when the connection cap is reached.
// Callers should retry later; attempts are never queued.
var ErrAtCapacity = errors.New("connection limit reached")

// Sink delivers encoded events to one client.
type Sink interface {
	// Send queues payload for delivery. It must not block for long; an
	// error means the connection is unusable.
	Send(payload []byte) error
	// Close ends the underlying stream.
	Close()
}

// Connection is one open event stream.
type Connection struct {
	ID       string
	OpenedAt time.Time
	Origin   string

	sink       Sink
	lastActive atomic.Int64
	closeOnce  sync.Once
	done       chan struct{}
}

// Done is closed when the connection is removed from the manager.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Touch records client activity.
func (c *Connection) Touch() { c.lastActive.Store(time.Now().UnixNano()) }

func (c *Connection) LastActive() time.Time { return time.Unix(0, c.lastActive.Load()) }

// Send delivers payload to this connection only.
func (c *Connection) Send(payload []byte) error {
	select {
	case <-c.done:
		return fmt.Errorf("connection %s is closed", c.ID)
	default:
	}
	if err := c.sink.Send(payload); err != nil {
		return err
	}
	c.Touch()
	return nil
}

func (c *Connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.sink.Close()
	})
}

// Config bounds the manager.
type Config struct {
	// AllowedOrigins are glob patterns matched against the Origin header.
	AllowedOrigins []string
	// AllowEmptyOrigin admits clients that send no Origin header, which
	// browsers always do and local tools usually do not.
	AllowEmptyOrigin bool
	MaxConnections   int
	// IdleTimeout closes connections without activity. Zero disables it.
	IdleTimeout time.Duration
}

type Manager struct {
	cfg     Config
	logger  *logging.AppLogger
	metrics *metrics.Metrics

	mu    sync.Mutex
	conns map[string]*Connection
}

func NewManager(cfg Config, logger *logging.AppLogger, m *metrics.Metrics) *Manager {
	if logger == nil {
		logger = logging.GetDefault()
	}
	return &Manager{
		cfg:     cfg,
		logger:  logger.With("component", "session"),
		metrics: m,
		conns:   make(map[string]*Connection),
	}
}

// CheckOrigin reports whether origin is on the allow-list.
func (m *Manager) CheckOrigin(origin string) error {
	const op = "session.connect"

	origin = strings.ToLower(strings.TrimSpace(origin))
	if origin == "" {
		if m.cfg.AllowEmptyOrigin {
			return nil
		}
		return apperr.Security(op, "origin header is required")
	}
	for _, pattern := range m.cfg.AllowedOrigins {
		ok, err := doublestar.Match(strings.ToLower(pattern), origin)
		if err != nil {
			m.logger.Warn("Invalid origin pattern", "pattern", pattern, "error", err)
			continue
		}
		if ok {
			return nil
		}
	}
	return apperr.Security(op, "origin not allowed")
}

// Connect registers a new connection. It fails with a SecurityError for a
// disallowed origin and with ErrAtCapacity when the cap is reached.
func (m *Manager) Connect(origin string, sink Sink) (*Connection, error) {
	if err := m.CheckOrigin(origin); err != nil {
		m.metrics.ConnectionRejected("origin")
		m.logger.Warn("Connection rejected", "reason", "origin", "origin", origin)
		return nil, err
	}

	m.mu.Lock()
	if m.cfg.MaxConnections > 0 && len(m.conns) >= m.cfg.MaxConnections {
		m.mu.Unlock()
		m.metrics.ConnectionRejected("capacity")
		m.logger.Warn("Connection rejected", "reason", "capacity", "max", m.cfg.MaxConnections)
		return nil, ErrAtCapacity
	}

	conn := &Connection{
		ID:       uuid.New().String(),
		OpenedAt: time.Now().UTC(),
		Origin:   origin,
		sink:     sink,
		done:     make(chan struct{}),
	}
	conn.Touch()
	m.conns[conn.ID] = conn
	count := len(m.conns)
	m.mu.Unlock()

	m.metrics.ConnectionOpened()
	m.logger.Info("Connection opened", "id", conn.ID, "origin", origin, "open", count)
	return conn, nil
}

// Disconnect removes the connection. No further events are delivered to it.
func (m *Manager) Disconnect(id string) {
	m.mu.Lock()
	conn, ok := m.conns[id]
	if ok {
		delete(m.conns, id)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	conn.close()
	m.metrics.ConnectionClosed()
	m.logger.Info("Connection closed", "id", id)
}

// Get returns the open connection with id.
func (m *Manager) Get(id string) (*Connection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.conns[id]
	return conn, ok
}

// Count returns the number of open connections.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

func (m *Manager) snapshot() []*Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Connection, 0, len(m.conns))
	for _, c := range m.conns {
		out = append(out, c)
	}
	return out
}

// Broadcast sends payload to every open connection and returns how many
// accepted it. Connections whose send fails are dropped, not retried.
func (m *Manager) Broadcast(payload []byte) int {
	delivered := 0
	for _, conn := range m.snapshot() {
		if err := conn.Send(payload); err != nil {
			m.logger.Warn("Dropping connection after failed delivery", "id", conn.ID, "error", err)
			m.Disconnect(conn.ID)
			continue
		}
		delivered++
	}
	return delivered
}

// Sweep closes connections idle since before now minus IdleTimeout and
// returns how many were closed.
func (m *Manager) Sweep(now time.Time) int {
	if m.cfg.IdleTimeout <= 0 {
		return 0
	}
	cutoff := now.Add(-m.cfg.IdleTimeout)
	closed := 0
	for _, conn := range m.snapshot() {
		if conn.LastActive().Before(cutoff) {
			m.logger.Info("Closing idle connection", "id", conn.ID, "idle_since", conn.LastActive())
			m.Disconnect(conn.ID)
			closed++
		}
	}
	return closed
}

// Run sweeps idle connections until ctx is done, then closes everything.
func (m *Manager) Run(ctx context.Context) {
	defer m.CloseAll()
	if m.cfg.IdleTimeout <= 0 {
		<-ctx.Done()
		return
	}

	interval := m.cfg.IdleTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.Sweep(now)
		}
	}
}

// CloseAll disconnects every connection.
func (m *Manager) CloseAll() {
	for _, conn := range m.snapshot() {
		m.Disconnect(conn.ID)
	}
}
