// Package memorybank implements the document store: six fixed, versioned,
// checksummed markdown documents persisted through a host.Host.
//
// Writes to one key are serialized; reads see the last committed version.
// Every write passes the security gate before anything is persisted, and a
// document is committed only after the host has accepted the new content.
package memorybank

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"memorybank/internal/apperr"
	"memorybank/internal/host"
	"memorybank/internal/logging"
	"memorybank/internal/metrics"
	"memorybank/internal/security"
	"memorybank/internal/validation"

	"github.com/cenkalti/backoff/v5"
)

// DefaultBankDir is the directory under the workspace root holding documents.
const DefaultBankDir = "memory-bank"

const (
	defaultIOAttempts = 3
	changeBuffer      = 64
)

// Document is a committed document. Values returned by the store are copies.
type Document struct {
	Key        Key       `json:"key"`
	Content    string    `json:"content"`
	Version    int64     `json:"version"`
	Checksum   string    `json:"checksum"`
	Size       int       `json:"size"`
	CreatedAt  time.Time `json:"createdAt"`
	ModifiedAt time.Time `json:"modifiedAt"`
}

// Source says where a committed change came from.
type Source string

const (
	SourceClient   Source = "client"
	SourceExternal Source = "external"
	SourceImport   Source = "import"
)

// ChangeEvent is published for every committed write.
type ChangeEvent struct {
	Key      Key    `json:"documentKey"`
	Version  int64  `json:"version"`
	Checksum string `json:"checksum"`
	Source   Source `json:"source"`
}

// Options configures a Store.
type Options struct {
	// BankDir is where documents live. Relative values are resolved against
	// the host's workspace root. Empty means DefaultBankDir.
	BankDir string
	Gate    *security.Gate
	Logger  *logging.AppLogger
	Metrics *metrics.Metrics
	// IOAttempts bounds retries of a failed host write. Zero means 3.
	IOAttempts uint
	// RetryInterval is the first backoff interval. Zero uses the backoff default.
	RetryInterval time.Duration
	Now           func() time.Time
}

type Store struct {
	host    host.Host
	gate    *security.Gate
	logger  *logging.AppLogger
	metrics *metrics.Metrics
	bankDir string

	ioAttempts    uint
	retryInterval time.Duration
	now           func() time.Time

	initMu      sync.Mutex
	initialized bool

	mu   sync.RWMutex
	docs map[Key]Document

	keyLocks map[Key]*sync.Mutex
	changes  chan ChangeEvent
}

// New creates a store over h. Call Initialize before use.
func New(h host.Host, opts Options) (*Store, error) {
	if h == nil {
		return nil, fmt.Errorf("host is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.GetDefault()
	}

	bankDir := opts.BankDir
	if bankDir == "" {
		bankDir = DefaultBankDir
	}
	if !filepath.IsAbs(bankDir) {
		bankDir = filepath.Join(h.WorkspaceRoot(), bankDir)
	}
	bankDir = filepath.Clean(bankDir)

	if opts.Gate == nil {
		opts.Gate = security.NewGate(security.DefaultPolicy(bankDir), nil, opts.Logger)
	}
	if opts.IOAttempts == 0 {
		opts.IOAttempts = defaultIOAttempts
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	locks := make(map[Key]*sync.Mutex, len(Keys()))
	for _, k := range Keys() {
		locks[k] = &sync.Mutex{}
	}

	return &Store{
		host:          h,
		gate:          opts.Gate,
		logger:        opts.Logger.With("component", "store"),
		metrics:       opts.Metrics,
		bankDir:       bankDir,
		ioAttempts:    opts.IOAttempts,
		retryInterval: opts.RetryInterval,
		now:           opts.Now,
		docs:          make(map[Key]Document, len(Keys())),
		keyLocks:      locks,
		changes:       make(chan ChangeEvent, changeBuffer),
	}, nil
}

// BankDir returns the absolute directory holding the documents.
func (s *Store) BankDir() string { return s.bankDir }

func (s *Store) Gate() *security.Gate { return s.gate }

// Changes delivers committed writes. Events are dropped when nobody keeps up.
func (s *Store) Changes() <-chan ChangeEvent { return s.changes }

func (s *Store) pathOf(key Key) string {
	return filepath.Join(s.bankDir, string(key))
}

// Initialize ensures the bank directory exists and loads every document,
// seeding missing ones from their template. Calling it again only re-checks
// the directory.
func (s *Store) Initialize(ctx context.Context) error {
	const op = "store.initialize"
	start := time.Now()
	defer s.logger.LogPerformance(op, start)

	s.initMu.Lock()
	defer s.initMu.Unlock()

	if err := s.ensureDir(ctx); err != nil {
		return apperr.IO(op, "cannot create memory bank directory", err)
	}
	if s.initialized {
		return nil
	}

	now := s.now().UTC()
	loaded := make(map[Key]Document, len(Keys()))
	for _, key := range Keys() {
		path := s.pathOf(key)

		var content string
		if s.host.FileExists(path) {
			c, err := s.host.ReadFile(path)
			if err != nil {
				return apperr.IO(op, fmt.Sprintf("cannot read %s", key), err)
			}
			content = c
			s.logger.Debug("Loaded document", "key", key, "size", len(content))
		} else {
			content = Template(key)
			if err := s.gate.AuthorizeOperation(security.CommandWrite, string(key), &content); err != nil {
				return err
			}
			if err := s.persist(ctx, path, content); err != nil {
				return apperr.IO(op, fmt.Sprintf("cannot seed %s", key), err)
			}
			s.logger.Info("Seeded document from template", "key", key)
		}

		loaded[key] = Document{
			Key:        key,
			Content:    content,
			Version:    1,
			Checksum:   Checksum(content),
			Size:       len(content),
			CreatedAt:  now,
			ModifiedAt: now,
		}
	}

	s.mu.Lock()
	s.docs = loaded
	s.mu.Unlock()
	s.initialized = true

	s.logger.Info("Memory bank initialized", "dir", s.bankDir, "documents", len(loaded))
	return nil
}

func (s *Store) requireInitialized(op string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.docs) == 0 {
		return apperr.Internal(op, "memory bank is not initialized", nil)
	}
	return nil
}

// Get returns the committed document for key.
func (s *Store) Get(key Key) (Document, error) {
	const op = "store.get"
	if !IsKey(string(key)) {
		return Document{}, apperr.NotFound(op, fmt.Sprintf("unknown document %q", key))
	}
	if err := s.requireInitialized(op); err != nil {
		return Document{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.docs[key], nil
}

// List returns every document in canonical order.
func (s *Store) List() []Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Document, 0, len(Keys()))
	for _, k := range Keys() {
		if d, ok := s.docs[k]; ok {
			out = append(out, d)
		}
	}
	return out
}

// Put authorizes, persists and commits new content for key. On any failure
// the committed document is left unchanged.
func (s *Store) Put(ctx context.Context, key Key, content string) (Document, error) {
	return s.put(ctx, key, content, SourceClient)
}

func (s *Store) put(ctx context.Context, key Key, content string, source Source) (Document, error) {
	const op = "store.put"
	start := time.Now()
	defer s.logger.LogPerformance(op, start)

	if !IsKey(string(key)) {
		s.metrics.DocumentWrite(string(source), "rejected")
		return Document{}, apperr.NotFound(op, fmt.Sprintf("unknown document %q", key))
	}
	if err := s.requireInitialized(op); err != nil {
		return Document{}, err
	}

	lock := s.keyLocks[key]
	lock.Lock()
	defer lock.Unlock()

	if err := s.gate.AuthorizeOperation(security.CommandWrite, string(key), &content); err != nil {
		s.metrics.DocumentWrite(string(source), "rejected")
		return Document{}, err
	}

	// Nothing has been persisted yet, so an abandoned call leaves no trace.
	if err := ctx.Err(); err != nil {
		s.metrics.DocumentWrite(string(source), "abandoned")
		return Document{}, apperr.Timeout(op, "write abandoned before persisting")
	}

	s.mu.RLock()
	previous := s.docs[key].Content
	s.mu.RUnlock()

	path := s.pathOf(key)
	if err := s.persist(ctx, path, content); err != nil {
		if ctx.Err() != nil {
			s.metrics.DocumentWrite(string(source), "abandoned")
			return Document{}, apperr.Timeout(op, "write abandoned")
		}
		s.metrics.DocumentWrite(string(source), "failed")
		s.host.Notify(host.LevelError, fmt.Sprintf("Failed to save %s", key))
		return Document{}, apperr.IO(op, fmt.Sprintf("cannot save %s", key), err)
	}

	// The caller may have given up while the host was writing. Whoever
	// claims first wins: either the write commits or the old content is
	// put back.
	if !claimCommit(ctx) {
		s.metrics.DocumentWrite(string(source), "abandoned")
		if err := s.persist(context.WithoutCancel(ctx), path, previous); err != nil {
			s.logger.Error("Failed to roll back abandoned write", "key", key, "error", err)
			s.host.Notify(host.LevelError, fmt.Sprintf("Failed to restore %s after an abandoned write", key))
		}
		return Document{}, apperr.Timeout(op, "write abandoned")
	}

	doc := s.commit(key, content)
	s.metrics.DocumentWrite(string(source), "ok")
	s.publish(ChangeEvent{Key: key, Version: doc.Version, Checksum: doc.Checksum, Source: source})

	s.logger.Info("Document updated", "key", key, "version", doc.Version, "size", doc.Size, "source", source)
	return doc, nil
}

type commitClaimKey struct{}

// WithCommitClaim returns a context whose writes commit only when claim
// returns true once the new content is on disk. A false claim rolls the
// write back. claim is called at most once per write.
func WithCommitClaim(ctx context.Context, claim func() bool) context.Context {
	return context.WithValue(ctx, commitClaimKey{}, claim)
}

func claimCommit(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	if claim, ok := ctx.Value(commitClaimKey{}).(func() bool); ok {
		return claim()
	}
	return true
}

// commit swaps in the new content. The caller holds the key lock.
func (s *Store) commit(key Key, content string) Document {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.docs[key]
	doc.Content = content
	doc.Version++
	doc.Checksum = Checksum(content)
	doc.Size = len(content)
	doc.ModifiedAt = s.now().UTC()
	s.docs[key] = doc
	return doc
}

func (s *Store) publish(ev ChangeEvent) {
	select {
	case s.changes <- ev:
	default:
		s.logger.Warn("Change feed full, dropping event", "key", ev.Key, "version", ev.Version)
	}
}

// Reload re-reads key from disk after an external edit. It commits a new
// version only when the checksum changed, and reports whether it did.
func (s *Store) Reload(key Key) (bool, error) {
	const op = "store.reload"
	if !IsKey(string(key)) {
		return false, apperr.NotFound(op, fmt.Sprintf("unknown document %q", key))
	}
	if err := s.requireInitialized(op); err != nil {
		return false, err
	}

	lock := s.keyLocks[key]
	lock.Lock()
	defer lock.Unlock()

	content, err := s.host.ReadFile(s.pathOf(key))
	if err != nil {
		return false, apperr.IO(op, fmt.Sprintf("cannot read %s", key), err)
	}

	s.mu.RLock()
	current := s.docs[key].Checksum
	s.mu.RUnlock()
	if Checksum(content) == current {
		return false, nil
	}

	if res := s.gate.ValidateContent(content); !res.IsValid {
		s.logger.Warn("Ignoring external edit that fails validation", "key", key, "errors", res.Errors)
		s.host.Notify(host.LevelWarning, fmt.Sprintf("External change to %s was ignored: %v", key, res.Errors))
		return false, apperr.Validation(op, "external edit failed validation", res.Errors...)
	}

	// Structure problems do not block an edit the user made by hand; they
	// are reported and show up as integrity warnings.
	if err := validation.ValidateMarkdown(content); err != nil {
		s.logger.Warn("External edit has structure problems", "key", key, "problem", err)
		s.host.Notify(host.LevelWarning, fmt.Sprintf("%s: %v", key, err))
	}

	doc := s.commit(key, content)
	s.metrics.DocumentWrite(string(SourceExternal), "ok")
	s.publish(ChangeEvent{Key: key, Version: doc.Version, Checksum: doc.Checksum, Source: SourceExternal})
	s.logger.Info("Document reloaded after external edit", "key", key, "version", doc.Version)
	return true, nil
}

// persist writes content through the host, retrying IO failures with
// exponential backoff. A missing directory is recreated between attempts.
func (s *Store) persist(ctx context.Context, path, content string) error {
	b := backoff.NewExponentialBackOff()
	if s.retryInterval > 0 {
		b.InitialInterval = s.retryInterval
	}

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := s.host.WriteFile(path, content)
		if err == nil {
			return struct{}{}, nil
		}
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("Backing directory missing, recreating", "dir", filepath.Dir(path))
			if mkErr := s.host.CreateDirectory(filepath.Dir(path)); mkErr != nil {
				return struct{}{}, mkErr
			}
		}
		if errors.Is(err, fs.ErrPermission) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(s.ioAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.logger.Warn("Write failed, retrying", "attempt", attempt, "retry_in", next, "error", err)
		}),
	)
	return err
}

func (s *Store) ensureDir(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	if s.retryInterval > 0 {
		b.InitialInterval = s.retryInterval
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, s.host.CreateDirectory(s.bankDir)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(s.ioAttempts))
	return err
}
