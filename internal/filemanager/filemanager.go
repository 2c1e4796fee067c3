// Package filemanager is the disk-backed host.Host used by the CLI and the
// server. All file access goes through an os.Root opened on the workspace, so
// no path, symlink or rename can reach outside it.
package filemanager

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"memorybank/internal/host"
	"memorybank/internal/logging"
	"memorybank/pkg/fileops"

	"github.com/rs/xid"
)

// FileManager implements host.Host on the local filesystem.
type FileManager struct {
	workspace string
	root      *os.Root
	logger    *logging.AppLogger
	notify    func(level host.Level, message string)
}

var _ host.Host = (*FileManager)(nil)

// Option customizes a FileManager.
type Option func(*FileManager)

// WithNotifier routes Notify calls to fn in addition to the log.
func WithNotifier(fn func(level host.Level, message string)) Option {
	return func(fm *FileManager) { fm.notify = fn }
}

// NewFileManager opens workspaceDir, which must be an existing directory
// outside the reserved system locations.
func NewFileManager(workspaceDir string, logger *logging.AppLogger, opts ...Option) (*FileManager, error) {
	if logger == nil {
		logger = logging.GetDefault()
	}

	workspace, err := ResolveWorkspace(workspaceDir)
	if err != nil {
		return nil, err
	}

	root, err := os.OpenRoot(workspace)
	if err != nil {
		return nil, fmt.Errorf("cannot open workspace: %w", err)
	}

	fm := &FileManager{
		workspace: workspace,
		root:      root,
		logger:    logger.With("component", "filemanager"),
	}
	for _, opt := range opts {
		opt(fm)
	}

	fm.logger.Debug("Workspace opened", "workspace", workspace)
	return fm, nil
}

// ResolveWorkspace expands, absolutizes and validates a workspace directory.
func ResolveWorkspace(input string) (string, error) {
	path := strings.TrimSpace(input)
	if path == "" {
		return "", fmt.Errorf("workspace directory cannot be empty")
	}
	if strings.Contains(path, "..") {
		return "", fmt.Errorf("path traversal not allowed")
	}

	abs, err := filepath.Abs(fileops.ExpandPath(path))
	if err != nil {
		return "", fmt.Errorf("cannot resolve workspace: %w", err)
	}
	if fileops.IsReservedDirectory(abs) {
		return "", fmt.Errorf("cannot use system or reserved directories")
	}

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("workspace directory does not exist: %s", abs)
		}
		return "", fmt.Errorf("cannot access workspace: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("workspace is not a directory: %s", abs)
	}
	return abs, nil
}

// Close releases the workspace root.
func (fm *FileManager) Close() error {
	return fm.root.Close()
}

func (fm *FileManager) WorkspaceRoot() string { return fm.workspace }

// rel converts an absolute path under the workspace into a root-relative one.
func (fm *FileManager) rel(path string) (string, error) {
	if !filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}
	r, err := filepath.Rel(fm.workspace, path)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", &fs.PathError{Op: "resolve", Path: path, Err: fs.ErrPermission}
	}
	return r, nil
}

func (fm *FileManager) ReadFile(path string) (string, error) {
	r, err := fm.rel(path)
	if err != nil {
		return "", err
	}
	data, err := fm.root.ReadFile(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WriteFile replaces path atomically: the content goes to a temporary file in
// the same directory which is then renamed over the target. The parent
// directory must exist.
func (fm *FileManager) WriteFile(path, content string) error {
	r, err := fm.rel(path)
	if err != nil {
		return err
	}

	tmp := filepath.Join(filepath.Dir(r), "."+filepath.Base(r)+"."+xid.New().String()+".tmp")
	f, err := fm.root.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	var writeSuccess bool
	defer func() {
		if !writeSuccess {
			f.Close()
			fm.root.Remove(tmp)
		}
	}()

	if _, err := f.WriteString(content); err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file: %w", err)
	}
	if err := fm.root.Rename(tmp, r); err != nil {
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}

	writeSuccess = true
	return nil
}

func (fm *FileManager) FileExists(path string) bool {
	r, err := fm.rel(path)
	if err != nil {
		return false
	}
	_, err = fm.root.Stat(r)
	return err == nil
}

func (fm *FileManager) CreateDirectory(path string) error {
	r, err := fm.rel(path)
	if err != nil {
		return err
	}
	if r == "." {
		return nil
	}
	if err := fm.root.MkdirAll(r, 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
		return err
	}
	return nil
}

// Notify logs message at level and forwards it to the notifier, if any.
func (fm *FileManager) Notify(level host.Level, message string) {
	switch level {
	case host.LevelError:
		fm.logger.Error(message)
	case host.LevelWarning:
		fm.logger.Warn(message)
	default:
		fm.logger.Info(message)
	}
	if fm.notify != nil {
		fm.notify(level, message)
	}
}
