package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"memorybank/internal/logging"
	"memorybank/internal/memorybank"
	"memorybank/internal/security"
	"memorybank/internal/session"

	"github.com/adrg/xdg"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const APP_NAME = "memorybank" // application name used for config and state directories

// EnvPrefix prefixes every environment override, e.g. MEMORYBANK_LISTEN.
const EnvPrefix = "MEMORYBANK_"

// ConfigPathEnv points at an alternative config file.
const ConfigPathEnv = EnvPrefix + "CONFIG"

const currentVersion = "1.0"

// SecurityConfig is the gate policy.
type SecurityConfig struct {
	MaxContentSize        int64    `yaml:"max_content_size" env:"MAX_CONTENT_SIZE"`
	AllowedPathExtensions []string `yaml:"allowed_path_extensions" env:"ALLOWED_PATH_EXTENSIONS" envSeparator:","`
	// AllowedBasePaths defaults to the bank directory when empty.
	AllowedBasePaths    []string `yaml:"allowed_base_paths,omitempty" env:"ALLOWED_BASE_PATHS" envSeparator:","`
	SanitizationEnabled bool     `yaml:"sanitization_enabled" env:"SANITIZATION_ENABLED"`
}

// Config holds user configuration for the memory bank server.
type Config struct {
	// WorkspaceRoot is the project directory. Empty means the current directory.
	WorkspaceRoot string `yaml:"workspace_root,omitempty" env:"WORKSPACE_ROOT"`
	// BankDir holds the documents, relative to WorkspaceRoot unless absolute.
	BankDir string `yaml:"bank_dir" env:"BANK_DIR"`

	Listen         string        `yaml:"listen" env:"LISTEN"`
	AllowedOrigins []string      `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
	MaxConnections int           `yaml:"max_connections" env:"MAX_CONNECTIONS"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	ToolTimeout    time.Duration `yaml:"tool_timeout" env:"TOOL_TIMEOUT"`

	Watch   bool `yaml:"watch" env:"WATCH"`
	Metrics bool `yaml:"metrics" env:"METRICS"`
	// AuditLog is the JSONL audit file. Empty disables the file sink.
	AuditLog string `yaml:"audit_log" env:"AUDIT_LOG"`

	Security SecurityConfig `yaml:"security" envPrefix:"SECURITY_"`

	Version  string `yaml:"version"`   // Track config version
	InitTime int64  `yaml:"init_time"` // Unix timestamp of first save
}

// ConfigPath returns the config file location: $MEMORYBANK_CONFIG when set,
// otherwise config.yaml in the XDG config directory.
func ConfigPath() (string, error) {
	if p := os.Getenv(ConfigPathEnv); p != "" {
		return p, nil
	}
	configPath := filepath.Join(xdg.ConfigHome, APP_NAME, "config.yaml")

	logging.Debug("Determined config paths", "path", configPath)
	return configPath, nil
}

// DefaultAuditLogPath is audit.jsonl in the XDG state directory.
func DefaultAuditLogPath() string {
	return filepath.Join(xdg.StateHome, APP_NAME, "audit.jsonl")
}

// FindConfigFile returns the path to the config file, and whether it exists.
func FindConfigFile() (string, bool) {
	path, err := ConfigPath()
	if err != nil {
		logging.Error("Failed to get config path", "error", err)
		return "", false
	}
	if _, err := os.Stat(path); err == nil {
		logging.Debug("Config found", "path", path)
		return path, true
	}
	return path, false
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BankDir:        memorybank.DefaultBankDir,
		Listen:         "127.0.0.1:7331",
		AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*", "vscode-webview://*"},
		MaxConnections: 20,
		IdleTimeout:    10 * time.Minute,
		ToolTimeout:    30 * time.Second,
		Watch:          true,
		Metrics:        true,
		AuditLog:       DefaultAuditLogPath(),
		Security: SecurityConfig{
			MaxContentSize:        security.DefaultMaxContentSize,
			AllowedPathExtensions: []string{".md", ".json"},
			SanitizationEnabled:   true,
		},
		Version: currentVersion,
	}
}

// Load reads the config file if there is one and applies environment
// overrides. A missing file is not an error: the server has to start
// unattended, so defaults are used.
func Load() (*Config, error) {
	path, exists := FindConfigFile()

	cfg := DefaultConfig()
	if exists {
		loaded, err := LoadFrom(path)
		if err != nil {
			return nil, err
		}
		cfg = *loaded
	} else {
		logging.Debug("No config file, using defaults", "path", path)
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFrom loads config from a specific path. Fields missing from the file
// keep their defaults.
func LoadFrom(path string) (*Config, error) {
	logging.Debug("Reading config file", "path", path)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	cfg := DefaultConfig()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &cfg, nil
}

// ApplyEnv overrides fields from MEMORYBANK_* environment variables.
func (c *Config) ApplyEnv() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate reports every invalid field.
func (c *Config) Validate() error {
	var errs []error
	if c.Listen == "" {
		errs = append(errs, errors.New("listen address cannot be empty"))
	}
	if c.BankDir == "" {
		errs = append(errs, errors.New("bank_dir cannot be empty"))
	}
	if c.MaxConnections <= 0 {
		errs = append(errs, fmt.Errorf("max_connections must be positive, got %d", c.MaxConnections))
	}
	if c.IdleTimeout < 0 {
		errs = append(errs, fmt.Errorf("idle_timeout cannot be negative, got %s", c.IdleTimeout))
	}
	if c.ToolTimeout <= 0 {
		errs = append(errs, fmt.Errorf("tool_timeout must be positive, got %s", c.ToolTimeout))
	}
	if c.Security.MaxContentSize <= 0 {
		errs = append(errs, fmt.Errorf("security.max_content_size must be positive, got %d", c.Security.MaxContentSize))
	}
	if len(c.Security.AllowedPathExtensions) == 0 {
		errs = append(errs, errors.New("security.allowed_path_extensions cannot be empty"))
	}
	return errors.Join(errs...)
}

// Workspace returns the configured workspace root, or the current directory.
func (c *Config) Workspace() (string, error) {
	if c.WorkspaceRoot != "" {
		return c.WorkspaceRoot, nil
	}
	return os.Getwd()
}

// ResolveBankDir returns the absolute bank directory under workspace.
func (c *Config) ResolveBankDir(workspace string) string {
	if filepath.IsAbs(c.BankDir) {
		return filepath.Clean(c.BankDir)
	}
	return filepath.Join(workspace, c.BankDir)
}

// Policy builds the gate policy. bankDir is the only writable root unless
// allowed_base_paths is set.
func (c *Config) Policy(bankDir string) security.Policy {
	policy := security.DefaultPolicy(bankDir)
	policy.MaxContentSize = c.Security.MaxContentSize
	policy.SanitizationEnabled = c.Security.SanitizationEnabled
	if len(c.Security.AllowedPathExtensions) > 0 {
		policy.AllowedPathExtensions = append([]string(nil), c.Security.AllowedPathExtensions...)
	}
	if len(c.Security.AllowedBasePaths) > 0 {
		policy.AllowedBasePaths = append([]string(nil), c.Security.AllowedBasePaths...)
	}
	return policy
}

// SessionConfig builds the connection manager settings.
func (c *Config) SessionConfig() session.Config {
	return session.Config{
		AllowedOrigins:   append([]string(nil), c.AllowedOrigins...),
		AllowEmptyOrigin: true,
		MaxConnections:   c.MaxConnections,
		IdleTimeout:      c.IdleTimeout,
	}
}

// Save writes the config to the standard location
func (c *Config) Save() error {
	configPath, _ := FindConfigFile()
	return c.SaveTo(configPath)
}

// SaveTo writes the config to a specific path
func (c *Config) SaveTo(path string) error {
	// Set init time if this is the first save
	if c.InitTime == 0 {
		c.InitTime = time.Now().Unix()
	}
	if c.Version == "" {
		c.Version = currentVersion
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Create file with restrictive permissions (600) for security
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	enc := yaml.NewEncoder(f)
	defer enc.Close()

	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}
