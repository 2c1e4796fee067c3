package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"memorybank/internal/config"
	"memorybank/internal/logging"
	"memorybank/internal/memorybank"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	c := config.DefaultConfig()
	c.WorkspaceRoot = t.TempDir()
	c.AuditLog = filepath.Join(t.TempDir(), "audit.jsonl")
	return &c
}

func TestParseKey(t *testing.T) {
	tests := []struct {
		in      string
		want    memorybank.Key
		wantErr bool
	}{
		{"progress.md", memorybank.Progress, false},
		{"progress", memorybank.Progress, false},
		{"activeContext", memorybank.ActiveContext, false},
		{"memory-bank://techContext.md", memorybank.TechContext, false},
		{"notes", "", true},
		{"../progress.md", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseKey(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOpenBankSeedsDocuments(t *testing.T) {
	c := testConfig(t)
	l, _ := logging.NewTestLogger()

	b, err := openBank(context.Background(), c, l, nil, nil)
	require.NoError(t, err)
	defer b.Close()

	docs := b.store.List()
	require.Len(t, docs, len(memorybank.Keys()))
	for _, key := range memorybank.Keys() {
		assert.FileExists(t, filepath.Join(c.WorkspaceRoot, memorybank.DefaultBankDir, string(key)))
	}

	allowed, _ := b.audit.Counts()
	assert.Positive(t, allowed, "seeding goes through the gate")

	require.NoError(t, b.Close())
	data, err := os.ReadFile(c.AuditLog)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"outcome":"allowed"`)
}

func TestOpenBankRejectsMissingWorkspace(t *testing.T) {
	c := testConfig(t)
	c.WorkspaceRoot = filepath.Join(c.WorkspaceRoot, "missing")
	l, _ := logging.NewTestLogger()

	_, err := openBank(context.Background(), c, l, nil, nil)
	assert.Error(t, err)
}

func TestRenderStatus(t *testing.T) {
	now := time.Now()
	docs := []memorybank.Document{
		{Key: memorybank.ProjectBrief, Version: 3, Size: 2048, Checksum: strings.Repeat("a", 64), ModifiedAt: now.Add(-time.Hour)},
		{Key: memorybank.Progress, Version: 1, Size: 12, Checksum: "abc", ModifiedAt: now},
	}

	out := renderStatus("/work/memory-bank", docs, now)
	assert.Contains(t, out, "/work/memory-bank")
	assert.Contains(t, out, "projectbrief.md")
	assert.Contains(t, out, "progress.md")
	assert.Contains(t, out, "2.0 KiB")
	assert.Contains(t, out, strings.Repeat("a", 12))
	assert.NotContains(t, out, strings.Repeat("a", 13))
	assert.Contains(t, out, "1 hour ago")
}

func TestRenderReport(t *testing.T) {
	out := renderReport(memorybank.IntegrityReport{Valid: true, Errors: []string{}, Warnings: []string{"progress.md: missing heading"}})
	assert.Contains(t, out, "Memory bank is valid")
	assert.Contains(t, out, "warning:")
	assert.Contains(t, out, "missing heading")

	out = renderReport(memorybank.IntegrityReport{Errors: []string{"techContext.md: file missing"}})
	assert.Contains(t, out, "Memory bank has errors")
	assert.Contains(t, out, "error:")
	assert.Contains(t, out, "file missing")
}

func TestRenderImport(t *testing.T) {
	out := renderImport(memorybank.ImportResult{
		Imported:   []memorybank.Key{memorybank.Progress},
		Skipped:    []memorybank.ImportIssue{{Key: "projectbrief.md", Reason: "document already exists"}},
		Failed:     []memorybank.ImportIssue{{Key: "techContext.md", Reason: "content rejected"}},
		BackupPath: "backups/memory-bank-backup.json",
	})
	assert.Contains(t, out, "Imported 1 documents: progress.md")
	assert.Contains(t, out, "skipped projectbrief.md: document already exists")
	assert.Contains(t, out, "failed techContext.md: content rejected")
	assert.Contains(t, out, "backups/memory-bank-backup.json")
}

func TestReadSnapshot(t *testing.T) {
	t.Run("stdin", func(t *testing.T) {
		data, err := readSnapshot(strings.NewReader(`{"documents":[]}`), "-", 1024)
		require.NoError(t, err)
		assert.Equal(t, `{"documents":[]}`, data)
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "snap.json")
		require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))
		data, err := readSnapshot(nil, path, 1024)
		require.NoError(t, err)
		assert.Equal(t, "{}", data)
	})

	t.Run("too large", func(t *testing.T) {
		big := strings.Repeat("x", 6*10+64<<10+1)
		_, err := readSnapshot(strings.NewReader(big), "-", 10)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := readSnapshot(nil, filepath.Join(t.TempDir(), "none.json"), 1024)
		assert.Error(t, err)
	})
}

func TestCommands(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(config.ConfigPathEnv, filepath.Join(dir, "missing.yaml"))
	t.Setenv("MEMORYBANK_AUDIT_LOG", filepath.Join(dir, "audit.jsonl"))
	t.Setenv("GLAMOUR_STYLE", "notty")
	workspaceDir := t.TempDir()

	run := func(t *testing.T, args ...string) (string, error) {
		t.Helper()
		var out bytes.Buffer
		rootCmd.SetOut(&out)
		rootCmd.SetErr(&out)
		rootCmd.SetArgs(append([]string{"--workspace", workspaceDir, "--log-file", filepath.Join(dir, "memorybank.log")}, args...))
		err := rootCmd.Execute()
		return out.String(), err
	}

	t.Run("show raw", func(t *testing.T) {
		out, err := run(t, "show", "--raw", "progress")
		require.NoError(t, err)
		assert.Equal(t, memorybank.Template(memorybank.Progress), out)
	})

	t.Run("validate", func(t *testing.T) {
		out, err := run(t, "validate")
		require.NoError(t, err)
		assert.Contains(t, out, "Memory bank is valid")
	})

	t.Run("export to file", func(t *testing.T) {
		path := filepath.Join(dir, "exports", "snapshot.md")
		_, err := run(t, "export", "--format", "markdown", "--output", path)
		require.NoError(t, err)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		for _, key := range memorybank.Keys() {
			assert.Contains(t, string(data), "## "+string(key))
		}
	})

	t.Run("show unknown", func(t *testing.T) {
		_, err := run(t, "show", "notes")
		assert.Error(t, err)
	})

	t.Run("version", func(t *testing.T) {
		out, err := run(t, "version")
		require.NoError(t, err)
		assert.Contains(t, out, "memorybank version dev")
	})

	t.Run("config init", func(t *testing.T) {
		path := filepath.Join(dir, "missing.yaml")
		out, err := run(t, "config", "init")
		require.NoError(t, err)
		assert.Contains(t, out, path)

		written, err := config.LoadFrom(path)
		require.NoError(t, err)
		defaults := config.DefaultConfig()
		assert.Equal(t, defaults.Listen, written.Listen)
		assert.Equal(t, defaults.MaxConnections, written.MaxConnections)
		assert.Positive(t, written.InitTime)

		_, err = run(t, "config", "init")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already exists")

		_, err = run(t, "config", "init", "--force")
		require.NoError(t, err)
	})

	t.Run("config init to path", func(t *testing.T) {
		path := filepath.Join(dir, "custom", "config.yaml")
		_, err := run(t, "config", "init", "--path", path)
		require.NoError(t, err)

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	})
}
