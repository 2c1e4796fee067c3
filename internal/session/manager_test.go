package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"memorybank/internal/apperr"
	"memorybank/internal/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu       sync.Mutex
	payloads [][]byte
	fail     bool
	closed   bool
}

func (s *fakeSink) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("broken pipe")
	}
	s.payloads = append(s.payloads, payload)
	return nil
}

func (s *fakeSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *fakeSink) received() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payloads)
}

func (s *fakeSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func newTestManager(cfg Config) *Manager {
	logger, _ := logging.NewTestLogger()
	return NewManager(cfg, logger, nil)
}

func defaultTestConfig() Config {
	return Config{
		AllowedOrigins:   []string{"http://localhost:*", "http://127.0.0.1:*", "vscode-webview://*"},
		AllowEmptyOrigin: true,
		MaxConnections:   20,
	}
}

func TestCheckOrigin(t *testing.T) {
	m := newTestManager(defaultTestConfig())

	tests := []struct {
		origin  string
		allowed bool
	}{
		{"", true},
		{"http://localhost:3000", true},
		{"HTTP://LOCALHOST:8080", true},
		{"http://127.0.0.1:7331", true},
		{"vscode-webview://1a2b3c", true},
		{"https://evil.example.com", false},
		{"http://localhost.evil.com:80", false},
		{"http://localhost:3000/path", false},
		{"null", false},
	}

	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			err := m.CheckOrigin(tt.origin)
			if tt.allowed {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, apperr.KindSecurity, apperr.KindOf(err))
		})
	}
}

func TestCheckOriginRequiresHeaderWhenConfigured(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.AllowEmptyOrigin = false
	m := newTestManager(cfg)

	assert.Error(t, m.CheckOrigin(""))
}

func TestConnectRejectsOrigin(t *testing.T) {
	m := newTestManager(defaultTestConfig())

	conn, err := m.Connect("https://evil.example.com", &fakeSink{})
	assert.Nil(t, conn)
	assert.True(t, errors.Is(err, apperr.ErrSecurity))
	assert.Equal(t, 0, m.Count())
}

func TestConnectCapacityUnderConcurrency(t *testing.T) {
	m := newTestManager(defaultTestConfig())

	var (
		wg       sync.WaitGroup
		accepted atomic.Int32
		rejected atomic.Int32
	)
	start := make(chan struct{})
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := m.Connect("http://localhost:3000", &fakeSink{})
			switch {
			case err == nil:
				accepted.Add(1)
			case errors.Is(err, ErrAtCapacity):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(20), accepted.Load())
	assert.Equal(t, int32(30), rejected.Load())
	assert.Equal(t, 20, m.Count())
}

func TestDisconnectFreesCapacity(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.MaxConnections = 1
	m := newTestManager(cfg)

	sink := &fakeSink{}
	conn, err := m.Connect("", sink)
	require.NoError(t, err)

	_, err = m.Connect("", &fakeSink{})
	require.ErrorIs(t, err, ErrAtCapacity)

	m.Disconnect(conn.ID)
	m.Disconnect(conn.ID)
	assert.True(t, sink.isClosed())
	select {
	case <-conn.Done():
	default:
		t.Fatal("Done must be closed after disconnect")
	}
	assert.Error(t, conn.Send([]byte("late")), "no events after disconnect")

	_, err = m.Connect("", &fakeSink{})
	assert.NoError(t, err)
}

func TestBroadcastDropsFailedConnections(t *testing.T) {
	m := newTestManager(defaultTestConfig())

	healthy := &fakeSink{}
	broken := &fakeSink{fail: true}
	hc, err := m.Connect("", healthy)
	require.NoError(t, err)
	bc, err := m.Connect("", broken)
	require.NoError(t, err)

	delivered := m.Broadcast([]byte(`{"type":"document_changed"}`))

	assert.Equal(t, 1, delivered)
	assert.Equal(t, 1, healthy.received())
	assert.Equal(t, 1, m.Count())
	_, ok := m.Get(bc.ID)
	assert.False(t, ok, "failed connection must be dropped")
	_, ok = m.Get(hc.ID)
	assert.True(t, ok)
	assert.True(t, broken.isClosed())
}

func TestSweepClosesIdleConnections(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.IdleTimeout = time.Minute
	m := newTestManager(cfg)

	idle, err := m.Connect("", &fakeSink{})
	require.NoError(t, err)
	active, err := m.Connect("", &fakeSink{})
	require.NoError(t, err)

	idle.lastActive.Store(time.Now().Add(-2 * time.Minute).UnixNano())
	active.Touch()

	assert.Equal(t, 1, m.Sweep(time.Now()))
	_, ok := m.Get(idle.ID)
	assert.False(t, ok)
	_, ok = m.Get(active.ID)
	assert.True(t, ok)
}

func TestSweepDisabled(t *testing.T) {
	m := newTestManager(defaultTestConfig())
	conn, err := m.Connect("", &fakeSink{})
	require.NoError(t, err)
	conn.lastActive.Store(0)

	assert.Equal(t, 0, m.Sweep(time.Now()))
	assert.Equal(t, 1, m.Count())
}

func TestRunClosesAllOnShutdown(t *testing.T) {
	m := newTestManager(defaultTestConfig())
	sink := &fakeSink{}
	_, err := m.Connect("", sink)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, 0, m.Count())
	assert.True(t, sink.isClosed())
}
