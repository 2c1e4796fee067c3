package security

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"memorybank/internal/logging"

	"github.com/rs/xid"
)

// Outcome is the result of an authorization decision.
type Outcome string

const (
	OutcomeAllowed Outcome = "allowed"
	OutcomeDenied  Outcome = "denied"
)

// AuditEntry records one authorization decision. Reason may carry internal
// detail and is never sent to clients.
type AuditEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Operation string    `json:"operation"`
	Target    string    `json:"target,omitempty"`
	Outcome   Outcome   `json:"outcome"`
	Reason    string    `json:"reason"`
}

// AuditSink receives every appended entry.
type AuditSink interface {
	Record(entry AuditEntry) error
}

// SinkFunc adapts a function to AuditSink.
type SinkFunc func(entry AuditEntry) error

func (f SinkFunc) Record(entry AuditEntry) error { return f(entry) }

// DefaultAuditRetention is how many entries AuditLog keeps in memory. Sinks
// see every entry.
const DefaultAuditRetention = 10000

// AuditLog is an append-only record of gate decisions. It keeps a bounded
// in-memory window and forwards each entry to its sinks.
type AuditLog struct {
	mu        sync.Mutex
	entries   []AuditEntry
	retention int
	allowed   int
	denied    int
	sinks     []AuditSink
	logger    *logging.AppLogger
}

// NewAuditLog creates an audit log forwarding to sinks.
func NewAuditLog(logger *logging.AppLogger, sinks ...AuditSink) *AuditLog {
	if logger == nil {
		logger = logging.GetDefault()
	}
	return &AuditLog{
		retention: DefaultAuditRetention,
		sinks:     sinks,
		logger:    logger.With("component", "audit"),
	}
}

// Append records entry, filling in its ID and timestamp when unset.
// Sink failures are logged and never fail the caller.
func (a *AuditLog) Append(entry AuditEntry) {
	if entry.ID == "" {
		entry.ID = xid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	a.mu.Lock()
	a.entries = append(a.entries, entry)
	if over := len(a.entries) - a.retention; over > 0 {
		a.entries = append(a.entries[:0:0], a.entries[over:]...)
	}
	if entry.Outcome == OutcomeDenied {
		a.denied++
	} else {
		a.allowed++
	}
	sinks := a.sinks
	a.mu.Unlock()

	for _, s := range sinks {
		if err := s.Record(entry); err != nil {
			a.logger.Error("Failed to record audit entry", "id", entry.ID, "error", err)
		}
	}
}

// Entries returns a copy of the retained entries, oldest first.
func (a *AuditLog) Entries() []AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]AuditEntry, len(a.entries))
	copy(out, a.entries)
	return out
}

// Recent returns up to n of the newest entries, oldest first.
func (a *AuditLog) Recent(n int) []AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n <= 0 {
		return nil
	}
	if n > len(a.entries) {
		n = len(a.entries)
	}
	out := make([]AuditEntry, n)
	copy(out, a.entries[len(a.entries)-n:])
	return out
}

// Counts returns the number of allowed and denied decisions since start.
func (a *AuditLog) Counts() (allowed, denied int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allowed, a.denied
}

// FileSink appends entries as JSON lines to a file.
type FileSink struct {
	mu   sync.Mutex
	file *os.File
}

// NewFileSink opens (or creates) path for appending.
func NewFileSink(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	return &FileSink{file: f}, nil
}

// Record writes entry as a single line in one write call.
func (s *FileSink) Record(entry AuditEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode audit entry: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return fmt.Errorf("audit log is closed")
	}
	if _, err := s.file.Write(line); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
