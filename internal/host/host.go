// Package host defines the narrow capability interface the core consumes from
// its embedding environment (an editor integration, the CLI, or tests).
//
// The core never talks to an editor SDK. Whatever hosts it supplies file I/O,
// the workspace root and a way to surface notifications to the user.
package host

import "strings"

// Level is the severity of a user-facing notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Host is implemented by the process boundary. Paths are absolute.
type Host interface {
	ReadFile(path string) (string, error)
	WriteFile(path, content string) error
	FileExists(path string) bool
	CreateDirectory(path string) error
	WorkspaceRoot() string
	Notify(level Level, message string)
}

// ParseLevel maps a loose level name onto a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "warn", "warning":
		return LevelWarning
	case "error", "err":
		return LevelError
	default:
		return LevelInfo
	}
}
