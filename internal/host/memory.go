package host

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Notification is a recorded call to Memory.Notify.
type Notification struct {
	Level   Level
	Message string
}

// Memory is an in-memory Host used by tests. Failures can be injected per
// path with FailWrites.
type Memory struct {
	mu            sync.Mutex
	root          string
	files         map[string]string
	dirs          map[string]bool
	failWrites    map[string]int
	notifications []Notification
	writes        int
	writeDelay    time.Duration
}

// NewMemory returns an empty in-memory host rooted at root.
func NewMemory(root string) *Memory {
	root = filepath.Clean(root)
	return &Memory{
		root:       root,
		files:      make(map[string]string),
		dirs:       map[string]bool{root: true},
		failWrites: make(map[string]int),
	}
}

func (m *Memory) ReadFile(path string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	content, ok := m.files[filepath.Clean(path)]
	if !ok {
		return "", &fs.PathError{Op: "read", Path: path, Err: fs.ErrNotExist}
	}
	return content, nil
}

func (m *Memory) WriteFile(path, content string) error {
	m.mu.Lock()
	delay := m.writeDelay
	m.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	path = filepath.Clean(path)
	if n := m.failWrites[path]; n > 0 {
		m.failWrites[path] = n - 1
		return &fs.PathError{Op: "write", Path: path, Err: fmt.Errorf("injected failure")}
	}
	if !m.dirs[filepath.Dir(path)] {
		return &fs.PathError{Op: "write", Path: path, Err: fs.ErrNotExist}
	}
	m.files[path] = content
	m.writes++
	return nil
}

func (m *Memory) FileExists(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	path = filepath.Clean(path)
	_, ok := m.files[path]
	return ok || m.dirs[path]
}

func (m *Memory) CreateDirectory(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	path = filepath.Clean(path)
	for p := path; ; p = filepath.Dir(p) {
		m.dirs[p] = true
		if p == m.root || p == filepath.Dir(p) {
			break
		}
	}
	return nil
}

func (m *Memory) WorkspaceRoot() string { return m.root }

func (m *Memory) Notify(level Level, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, Notification{Level: level, Message: message})
}

// FailWrites makes the next n writes to path fail.
func (m *Memory) FailWrites(path string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWrites[filepath.Clean(path)] = n
}

// SetWriteDelay makes every write sleep for d before it lands, simulating a
// slow disk.
func (m *Memory) SetWriteDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeDelay = d
}

// RemoveFile deletes path, simulating an out-of-band deletion.
func (m *Memory) RemoveFile(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, filepath.Clean(path))
}

// RemoveDirectory deletes dir and everything under it.
func (m *Memory) RemoveDirectory(dir string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dir = filepath.Clean(dir)
	prefix := dir + string(filepath.Separator)
	for p := range m.files {
		if strings.HasPrefix(p, prefix) {
			delete(m.files, p)
		}
	}
	for p := range m.dirs {
		if p == dir || strings.HasPrefix(p, prefix) {
			delete(m.dirs, p)
		}
	}
}

// SetFile writes content directly, bypassing failure injection.
func (m *Memory) SetFile(path, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	path = filepath.Clean(path)
	m.dirs[filepath.Dir(path)] = true
	m.files[path] = content
}

// Writes returns the number of successful WriteFile calls.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Notifications returns a copy of every notification received.
func (m *Memory) Notifications() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Notification, len(m.notifications))
	copy(out, m.notifications)
	return out
}
