package mcp

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"memorybank/internal/session"

	"github.com/tmaxmax/go-sse"
)

const (
	// streamBacklog is how many events may wait for a slow client before
	// the connection is considered broken.
	streamBacklog = 32

	retryAfterSeconds = 5
)

var (
	errStreamClosed  = errors.New("stream closed")
	errStreamBacklog = errors.New("stream backlog full")
)

// streamSink queues events for the goroutine that owns the HTTP response.
// Send never blocks: a client that does not keep up is dropped.
type streamSink struct {
	events    chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

var _ session.Sink = (*streamSink)(nil)

func newStreamSink() *streamSink {
	return &streamSink{
		events: make(chan []byte, streamBacklog),
		closed: make(chan struct{}),
	}
}

func (s *streamSink) Send(payload []byte) error {
	select {
	case <-s.closed:
		return errStreamClosed
	default:
	}
	select {
	case s.events <- payload:
		return nil
	default:
		return errStreamBacklog
	}
}

func (s *streamSink) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// handleStream registers the connection before upgrading so that origin and
// capacity rejections still get a proper status code.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	sink := newStreamSink()

	conn, err := s.sessions.Connect(origin, sink)
	if err != nil {
		if errors.Is(err, session.ErrAtCapacity) {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
			writeJSON(w, http.StatusServiceUnavailable, errorEvent(nil, capacityError()))
			return
		}
		writeJSON(w, http.StatusForbidden, errorEvent(nil, err))
		return
	}
	defer s.sessions.Disconnect(conn.ID)

	sess, err := sse.Upgrade(w, r)
	if err != nil {
		s.logger.Error("Failed to upgrade stream", "id", conn.ID, "error", err)
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	endpoint := sse.Message{Type: sse.Type(EventEndpoint)}
	endpoint.AppendData(fmt.Sprintf("/messages?sessionId=%s", conn.ID))
	if err := sess.Send(&endpoint); err != nil {
		s.logger.Warn("Failed to send endpoint event", "id", conn.ID, "error", err)
		return
	}
	if err := sess.Flush(); err != nil {
		s.logger.Warn("Failed to flush stream", "id", conn.ID, "error", err)
		return
	}

	for {
		select {
		case payload := <-sink.events:
			msg := sse.Message{Type: sse.Type("message")}
			msg.AppendData(string(payload))
			if err := sess.Send(&msg); err != nil {
				s.logger.Warn("Failed to write event", "id", conn.ID, "error", err)
				return
			}
			if err := sess.Flush(); err != nil {
				s.logger.Warn("Failed to flush stream", "id", conn.ID, "error", err)
				return
			}
		case <-conn.Done():
			return
		case <-r.Context().Done():
			return
		}
	}
}
