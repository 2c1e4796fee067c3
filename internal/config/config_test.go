package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/adrg/xdg"
)

func TestConfigPath(t *testing.T) {
	t.Cleanup(xdg.Reload)

	t.Run("XDG config home", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv(ConfigPathEnv, "")
		t.Setenv("XDG_CONFIG_HOME", dir)
		xdg.Reload()

		path, err := ConfigPath()
		if err != nil {
			t.Fatalf("ConfigPath failed: %v", err)
		}
		want := filepath.Join(dir, "memorybank", "config.yaml")
		if path != want {
			t.Errorf("Expected config path %s, got %s", want, path)
		}
	})

	t.Run("explicit override", func(t *testing.T) {
		t.Setenv(ConfigPathEnv, "/custom/memorybank.yaml")

		path, err := ConfigPath()
		if err != nil {
			t.Fatalf("ConfigPath failed: %v", err)
		}
		if path != "/custom/memorybank.yaml" {
			t.Errorf("Expected override path, got %s", path)
		}
	})
}

func TestConfigSaveLoad(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	original := DefaultConfig()
	original.WorkspaceRoot = "/work/project"
	original.Listen = "127.0.0.1:9000"
	original.AllowedOrigins = []string{"http://localhost:*"}
	original.MaxConnections = 5
	original.IdleTimeout = 90 * time.Second
	original.Watch = false
	original.Security.MaxContentSize = 4096
	original.Security.AllowedBasePaths = []string{"/work/project/memory-bank"}

	if err := original.SaveTo(configPath); err != nil {
		t.Fatalf("Failed to save config: %s", err)
	}

	loaded, err := LoadFrom(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %s", err)
	}

	if !reflect.DeepEqual(*loaded, original) {
		t.Errorf("Loaded config differs:\n got  %+v\n want %+v", *loaded, original)
	}
}

func TestLoadFromKeepsDefaultsForMissingFields(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("listen: 0.0.0.0:8080\nidle_timeout: 2m\n"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %s", err)
	}

	if cfg.Listen != "0.0.0.0:8080" {
		t.Errorf("Expected listen from file, got %s", cfg.Listen)
	}
	if cfg.IdleTimeout != 2*time.Minute {
		t.Errorf("Expected idle_timeout 2m, got %s", cfg.IdleTimeout)
	}
	defaults := DefaultConfig()
	if cfg.MaxConnections != defaults.MaxConnections {
		t.Errorf("Expected default max_connections %d, got %d", defaults.MaxConnections, cfg.MaxConnections)
	}
	if !cfg.Security.SanitizationEnabled {
		t.Error("Sanitization should stay enabled by default")
	}
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	t.Setenv(ConfigPathEnv, filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load should not fail without a config file: %v", err)
	}
	if cfg.Listen != DefaultConfig().Listen {
		t.Errorf("Expected default listen address, got %s", cfg.Listen)
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("listen: 127.0.0.1:1111\nmax_connections: 3\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnv, configPath)
	t.Setenv("MEMORYBANK_LISTEN", "127.0.0.1:2222")
	t.Setenv("MEMORYBANK_ALLOWED_ORIGINS", "http://localhost:*,https://app.example.com")
	t.Setenv("MEMORYBANK_TOOL_TIMEOUT", "5s")
	t.Setenv("MEMORYBANK_SECURITY_MAX_CONTENT_SIZE", "2048")
	t.Setenv("MEMORYBANK_SECURITY_SANITIZATION_ENABLED", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Listen != "127.0.0.1:2222" {
		t.Errorf("Environment should override file, got listen %s", cfg.Listen)
	}
	if cfg.MaxConnections != 3 {
		t.Errorf("File value should survive when no env is set, got %d", cfg.MaxConnections)
	}
	if want := []string{"http://localhost:*", "https://app.example.com"}; !reflect.DeepEqual(cfg.AllowedOrigins, want) {
		t.Errorf("Expected origins %v, got %v", want, cfg.AllowedOrigins)
	}
	if cfg.ToolTimeout != 5*time.Second {
		t.Errorf("Expected tool timeout 5s, got %s", cfg.ToolTimeout)
	}
	if cfg.Security.MaxContentSize != 2048 {
		t.Errorf("Expected max content size 2048, got %d", cfg.Security.MaxContentSize)
	}
	if cfg.Security.SanitizationEnabled {
		t.Error("Expected sanitization disabled by env")
	}
}

func TestLoadRejectsBadEnv(t *testing.T) {
	t.Setenv(ConfigPathEnv, filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("MEMORYBANK_MAX_CONNECTIONS", "many")

	if _, err := Load(); err == nil {
		t.Error("Load should fail on an unparsable environment value")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"empty listen", func(c *Config) { c.Listen = "" }, "listen address"},
		{"zero connections", func(c *Config) { c.MaxConnections = 0 }, "max_connections"},
		{"zero tool timeout", func(c *Config) { c.ToolTimeout = 0 }, "tool_timeout"},
		{"negative idle timeout", func(c *Config) { c.IdleTimeout = -time.Second }, "idle_timeout"},
		{"idle timeout disabled", func(c *Config) { c.IdleTimeout = 0 }, ""},
		{"zero content size", func(c *Config) { c.Security.MaxContentSize = 0 }, "max_content_size"},
		{"no extensions", func(c *Config) { c.Security.AllowedPathExtensions = nil }, "allowed_path_extensions"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Expected valid config, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestPolicy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Security.MaxContentSize = 512
	cfg.Security.SanitizationEnabled = false

	policy := cfg.Policy("/work/memory-bank")
	if policy.MaxContentSize != 512 {
		t.Errorf("Expected max content size 512, got %d", policy.MaxContentSize)
	}
	if policy.SanitizationEnabled {
		t.Error("Expected sanitization disabled")
	}
	if !reflect.DeepEqual(policy.AllowedBasePaths, []string{"/work/memory-bank"}) {
		t.Errorf("Bank dir should be the only base path, got %v", policy.AllowedBasePaths)
	}

	cfg.Security.AllowedBasePaths = []string{"/elsewhere"}
	policy = cfg.Policy("/work/memory-bank")
	if !reflect.DeepEqual(policy.AllowedBasePaths, []string{"/elsewhere"}) {
		t.Errorf("Configured base paths should win, got %v", policy.AllowedBasePaths)
	}
}

func TestResolveBankDir(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.ResolveBankDir("/work"); got != filepath.Join("/work", "memory-bank") {
		t.Errorf("Unexpected bank dir %s", got)
	}
	cfg.BankDir = "/abs/bank/"
	if got := cfg.ResolveBankDir("/work"); got != "/abs/bank" {
		t.Errorf("Absolute bank dir should be kept, got %s", got)
	}
}

func TestConfigInitTime(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	config := DefaultConfig()

	before := time.Now().Unix()
	if err := config.SaveTo(configPath); err != nil {
		t.Fatalf("Failed to save config: %s", err)
	}
	after := time.Now().Unix()

	// InitTime should be set during save
	if config.InitTime < before || config.InitTime > after {
		t.Errorf("InitTime %d should be between %d and %d", config.InitTime, before, after)
	}
}

func TestConfigFilePermissions(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "config.yaml")

	config := DefaultConfig()
	if err := config.SaveTo(configPath); err != nil {
		t.Fatalf("Failed to save config: %s", err)
	}

	fileInfo, err := os.Stat(configPath)
	if err != nil {
		t.Fatalf("Failed to stat config file: %s", err)
	}

	mode := fileInfo.Mode()
	if mode&0077 != 0 {
		t.Errorf("Config file should not be readable by group/others, got mode %o", mode)
	}
}

func TestConfigErrorHandling(t *testing.T) {
	t.Run("load non-existent file", func(t *testing.T) {
		_, err := LoadFrom("/non/existent/file.yaml")
		if err == nil {
			t.Error("Should error when loading non-existent file")
		}
	})

	t.Run("load invalid YAML", func(t *testing.T) {
		invalidFile := filepath.Join(t.TempDir(), "invalid.yaml")
		os.WriteFile(invalidFile, []byte("invalid: yaml: content: ["), 0644)

		_, err := LoadFrom(invalidFile)
		if err == nil {
			t.Error("Should error when loading invalid YAML")
		}
	})

	t.Run("load unknown field", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "typo.yaml")
		os.WriteFile(file, []byte("max_conections: 5\n"), 0644)

		_, err := LoadFrom(file)
		if err == nil {
			t.Error("Should error on unknown fields")
		}
	})
}
