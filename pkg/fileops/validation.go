package fileops

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/dustin/go-humanize"
)

// DefaultMaxFilenameLength is the longest file name ValidateFilename accepts.
const DefaultMaxFilenameLength = 255

// ValidatePathSecurity performs static security validation on a file path.
// This function checks for common path traversal attacks and dangerous path patterns.
//
// The function validates:
//   - Empty or whitespace-only paths
//   - Null bytes anywhere in the path
//   - Path traversal attempts using ".." sequences, before and after cleaning
//   - Absolute paths that point into reserved system directories
//
// Parameters:
//   - path: The file path to validate
//
// Returns:
//   - error: Validation errors if the path is considered unsafe
//
// Usage example:
//
//	if err := fileops.ValidatePathSecurity("../../etc/passwd"); err != nil {
//	    return err
//	}
func ValidatePathSecurity(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("path cannot be empty")
	}

	if strings.ContainsRune(path, 0) {
		return fmt.Errorf("path contains null bytes")
	}

	// Check for path traversal in raw input
	if strings.Contains(path, "..") {
		return fmt.Errorf("path traversal not allowed")
	}

	// Clean and re-check for traversal
	cleanPath := filepath.Clean(path)
	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("path traversal not allowed")
	}

	if filepath.IsAbs(path) && IsReservedDirectory(cleanPath) {
		return fmt.Errorf("path points into a reserved directory")
	}

	return nil
}

// ValidateWithinBase checks that path resolves to a strict descendant of baseDir.
// Both paths are made absolute and cleaned before comparison. When path (or its
// nearest existing parent) exists on disk, symlinks are resolved and the
// resolved location must also stay inside baseDir.
//
// Parameters:
//   - path: Path to check; relative paths are resolved against the working directory
//   - baseDir: Directory that must contain path
//
// Returns:
//   - error: Containment errors. baseDir itself is not a valid target.
func ValidateWithinBase(path, baseDir string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("cannot resolve path: %w", err)
	}
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return fmt.Errorf("cannot resolve base directory: %w", err)
	}

	if !isStrictDescendant(absPath, absBase) {
		return fmt.Errorf("path is not within base directory")
	}

	// Resolve symlinks on the deepest existing ancestor so a link inside the
	// base cannot redirect writes outside of it.
	resolvedBase := absBase
	if rb, err := filepath.EvalSymlinks(absBase); err == nil {
		resolvedBase = rb
	}
	existing := absPath
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return nil
		}
		existing = parent
	}
	if !isStrictDescendant(existing, absBase) {
		// nothing below the base exists yet
		return nil
	}
	resolved, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return fmt.Errorf("cannot resolve symlink: %w", err)
	}
	if !isStrictDescendant(resolved, resolvedBase) {
		return fmt.Errorf("symlink resolves outside base directory")
	}
	return nil
}

func isStrictDescendant(path, base string) bool {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	return !filepath.IsAbs(rel)
}

// ValidateFilename checks the final element of a path: it must be non-empty,
// not a dot name and no longer than maxLength bytes (DefaultMaxFilenameLength
// when maxLength <= 0).
func ValidateFilename(name string, maxLength int) error {
	if maxLength <= 0 {
		maxLength = DefaultMaxFilenameLength
	}

	base := filepath.Base(name)
	if strings.TrimSpace(base) == "" || base == "." || base == ".." || base == string(filepath.Separator) {
		return fmt.Errorf("invalid filename: %q", base)
	}
	if len(base) > maxLength {
		return fmt.Errorf("filename exceeds %d characters", maxLength)
	}
	return nil
}

// ValidateExtension reports whether the extension of name is in allowed.
// Comparison is case-insensitive and entries may be given with or without
// the leading dot. An empty allowed list accepts everything.
func ValidateExtension(name string, allowed []string) error {
	if len(allowed) == 0 {
		return nil
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, a := range allowed {
		a = strings.ToLower(strings.TrimSpace(a))
		if !strings.HasPrefix(a, ".") {
			a = "." + a
		}
		if ext == a {
			return nil
		}
	}
	if ext == "" {
		return fmt.Errorf("file extension is required")
	}
	return fmt.Errorf("file extension %q is not allowed", ext)
}

// ValidateContentSecurity checks content for control characters and null
// bytes. Newlines, carriage returns and tabs are allowed.
//
// Markup-level patterns (script blocks, event handlers) are the concern of
// the caller's deny-list, not this function.
func ValidateContentSecurity(content string) error {
	if strings.Contains(content, "\x00") {
		return fmt.Errorf("content contains null bytes")
	}

	for _, r := range content {
		if r < 32 && r != '\n' && r != '\r' && r != '\t' {
			return fmt.Errorf("content contains control characters")
		}
	}

	return nil
}

// ValidateContentSize checks that size does not exceed maxSize bytes.
//
// Usage example:
//
//	if err := fileops.ValidateContentSize(int64(len(body)), 1<<20); err != nil {
//	    return err
//	}
func ValidateContentSize(size, maxSize int64) error {
	if maxSize <= 0 {
		return fmt.Errorf("invalid size limit: %d", maxSize)
	}
	if size > maxSize {
		return fmt.Errorf("content size %s exceeds limit %s",
			humanize.IBytes(uint64(size)), humanize.IBytes(uint64(maxSize)))
	}
	return nil
}

// ExpandPath expands a path that starts with "~/" to the user's home directory.
//
// Usage example:
//
//	expanded := fileops.ExpandPath("~/Documents/file.txt")
//	// Returns something like "/home/user/Documents/file.txt"
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// IsReservedDirectory checks if the path is a system or reserved directory
// that should not be used as a workspace. This function helps prevent the
// server from being pointed at critical system locations.
//
// The function checks:
//   - System directories (like /etc, /bin, C:\Windows, etc.)
//   - Critical user directories (like ~/.ssh, ~/.gnupg)
//   - Resolves symlinks to check final destinations
//   - Platform-specific reserved locations
func IsReservedDirectory(path string) bool {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return true // If we can't resolve it, treat as reserved
	}
	absPath = filepath.Clean(absPath)

	if resolvedPath, err := filepath.EvalSymlinks(absPath); err == nil {
		absPath = resolvedPath
	}

	// Always treat root as reserved
	if absPath == "/" || absPath == "\\" || absPath == "C:\\" {
		return true
	}

	for _, reserved := range getReservedDirectories() {
		reservedAbs, err := filepath.Abs(reserved)
		if err != nil {
			continue
		}
		if resolvedReserved, err := filepath.EvalSymlinks(reservedAbs); err == nil {
			reservedAbs = resolvedReserved
		}
		reservedAbs = filepath.Clean(reservedAbs)

		if strings.EqualFold(absPath, reservedAbs) {
			return true
		}

		reservedPrefix := strings.ToLower(reservedAbs) + string(os.PathSeparator)
		if strings.HasPrefix(strings.ToLower(absPath), reservedPrefix) {
			if isUserTempDirectory(absPath) {
				continue
			}
			return true
		}
	}

	return false
}

// getReservedDirectories returns platform-specific reserved directories
func getReservedDirectories() []string {
	var reservedDirs []string

	switch runtime.GOOS {
	case "windows":
		reservedDirs = []string{
			"C:\\Windows",
			"C:\\Program Files",
			"C:\\Program Files (x86)",
			"C:\\System32",
			"C:\\ProgramData\\Microsoft",
		}

	case "darwin":
		reservedDirs = []string{
			"/System",
			"/usr/bin",
			"/usr/sbin",
			"/bin",
			"/sbin",
			"/etc",
			"/var/log",
			"/var/db",
			"/var/root",
			"/Library/System",
			"/private/etc",
		}

	default: // Linux and other Unix
		reservedDirs = []string{
			"/bin",
			"/sbin",
			"/usr/bin",
			"/usr/sbin",
			"/etc",
			"/boot",
			"/dev",
			"/proc",
			"/sys",
			"/var/log",
			"/var/lib",
			"/var/cache",
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		reservedDirs = append(reservedDirs,
			filepath.Join(home, ".ssh"),
			filepath.Join(home, ".gnupg"),
		)
	}

	return reservedDirs
}

// isUserTempDirectory detects legitimate user temp directories
func isUserTempDirectory(path string) bool {
	// macOS: /var/folders/xx/yyyy/T/ are user temp dirs
	if runtime.GOOS == "darwin" && strings.Contains(path, "/var/folders/") {
		return true
	}

	if runtime.GOOS == "linux" && (strings.HasPrefix(path, "/tmp/") || path == "/tmp") {
		return true
	}

	if runtime.GOOS == "windows" {
		lower := strings.ToLower(path)
		if strings.Contains(lower, "\\temp\\") || strings.Contains(lower, "\\tmp\\") {
			return true
		}
	}

	return strings.HasPrefix(filepath.Clean(path), filepath.Clean(os.TempDir()))
}
