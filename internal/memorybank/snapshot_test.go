package memorybank

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"memorybank/internal/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func authorAll(t *testing.T, s *Store) {
	t.Helper()
	for i, key := range Keys() {
		_, err := s.Put(context.Background(), key, fmt.Sprintf("# %s\n\nAuthored content %d\n\n## Notes\n- a & b | c\n", key, i))
		require.NoError(t, err)
	}
}

func TestSnapshotJSONRoundTrip(t *testing.T) {
	src := newTestEnv(t)
	authorAll(t, src.store)

	data, err := src.store.ExportSnapshot(FormatJSON, false)
	require.NoError(t, err)

	dst := newTestEnv(t)
	result, err := dst.store.ImportSnapshot(context.Background(), data, DefaultImportOptions())
	require.NoError(t, err)
	assert.Equal(t, Keys(), result.Imported)
	assert.Empty(t, result.Skipped)
	assert.Empty(t, result.Failed)

	for _, key := range Keys() {
		want, err := src.store.Get(key)
		require.NoError(t, err)
		got, err := dst.store.Get(key)
		require.NoError(t, err)
		assert.Equal(t, want.Content, got.Content, key)
		assert.Equal(t, want.Checksum, got.Checksum, key)
	}
}

func TestExportJSONMetadata(t *testing.T) {
	env := newTestEnv(t)

	bare, err := env.store.ExportSnapshot(FormatJSON, false)
	require.NoError(t, err)
	assert.NotContains(t, bare, "checksum")
	assert.NotContains(t, bare, "exportedAt")

	full, err := env.store.ExportSnapshot(FormatJSON, true)
	require.NoError(t, err)

	var snap snapshotFile
	require.NoError(t, json.Unmarshal([]byte(full), &snap))
	assert.Equal(t, snapshotKind, snap.Kind)
	require.NotNil(t, snap.ExportedAt)
	require.Len(t, snap.Documents, 6)
	for i, key := range Keys() {
		assert.Equal(t, key, snap.Documents[i].Key)
		assert.Equal(t, int64(1), snap.Documents[i].Version)
		assert.Equal(t, Checksum(Template(key)), snap.Documents[i].Checksum)
	}
}

func TestExportMarkdown(t *testing.T) {
	env := newTestEnv(t)

	md, err := env.store.ExportSnapshot(FormatMarkdown, false)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(md, "## projectbrief.md\n\n# Project Brief"))

	last := -1
	for _, key := range Keys() {
		idx := strings.Index(md, "## "+string(key)+"\n")
		require.GreaterOrEqual(t, idx, 0, key)
		assert.Greater(t, idx, last, "sections must follow canonical order")
		last = idx
	}

	withMeta, err := env.store.ExportSnapshot(FormatMarkdown, true)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(withMeta, "---\nkind: memory-bank-snapshot\n"))
}

func TestSnapshotMarkdownRoundTrip(t *testing.T) {
	src := newTestEnv(t)
	authorAll(t, src.store)

	md, err := src.store.ExportSnapshot(FormatMarkdown, true)
	require.NoError(t, err)

	dst := newTestEnv(t)
	result, err := dst.store.ImportSnapshot(context.Background(), md, DefaultImportOptions())
	require.NoError(t, err)
	assert.Len(t, result.Imported, 6)

	for _, key := range Keys() {
		want, _ := src.store.Get(key)
		got, _ := dst.store.Get(key)
		assert.Equal(t, want.Content, got.Content, key)
	}
}

func TestImportSkipsExistingUnlessOverwrite(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.store.Put(context.Background(), Progress, "# Progress\nmine\n")
	require.NoError(t, err)

	snapshot := `{"documents":[{"key":"progress.md","content":"# Progress\ntheirs\n"},{"key":"techContext.md","content":"# Tech\nGo\n"}]}`

	result, err := env.store.ImportSnapshot(context.Background(), snapshot, DefaultImportOptions())
	require.NoError(t, err)
	assert.Equal(t, []Key{TechContext}, result.Imported)
	assert.Equal(t, []ImportIssue{{Key: "progress.md", Reason: "document already exists"}}, result.Skipped)

	doc, _ := env.store.Get(Progress)
	assert.Equal(t, "# Progress\nmine\n", doc.Content)

	opts := DefaultImportOptions()
	opts.OverwriteExisting = true
	result, err = env.store.ImportSnapshot(context.Background(), snapshot, opts)
	require.NoError(t, err)
	assert.Equal(t, []Key{Progress}, result.Imported)
	assert.Equal(t, []ImportIssue{{Key: "techContext.md", Reason: "unchanged"}}, result.Skipped)

	doc, _ = env.store.Get(Progress)
	assert.Equal(t, "# Progress\ntheirs\n", doc.Content)
}

func TestImportSkipsUnknownKeys(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.store.ImportSnapshot(context.Background(),
		`{"documents":[{"key":"../../etc/passwd","content":"x"},{"key":"notes.md","content":"# x"}]}`,
		DefaultImportOptions())
	require.NoError(t, err)
	assert.Empty(t, result.Imported)
	require.Len(t, result.Skipped, 2)
	for _, s := range result.Skipped {
		assert.Equal(t, "unknown document", s.Reason)
	}
}

func TestImportContentValidation(t *testing.T) {
	snapshot := `{"documents":[{"key":"progress.md","content":"<script>alert(1)</script>"}]}`

	t.Run("validated entries are skipped", func(t *testing.T) {
		env := newTestEnv(t)
		result, err := env.store.ImportSnapshot(context.Background(), snapshot, DefaultImportOptions())
		require.NoError(t, err)
		require.Len(t, result.Skipped, 1)
		assert.Contains(t, result.Skipped[0].Reason, "content failed validation")
		assert.Empty(t, result.Failed)
	})

	t.Run("unvalidated entries still meet the gate", func(t *testing.T) {
		env := newTestEnv(t)
		result, err := env.store.ImportSnapshot(context.Background(), snapshot, ImportOptions{})
		require.NoError(t, err)
		assert.Empty(t, result.Skipped)
		require.Len(t, result.Failed, 1)
		assert.Equal(t, "progress.md", result.Failed[0].Key)

		doc, _ := env.store.Get(Progress)
		assert.Equal(t, Template(Progress), doc.Content)
	})
}

func TestImportCreatesBackup(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.store.Put(context.Background(), Progress, "# Progress\nbefore import\n")
	require.NoError(t, err)

	opts := DefaultImportOptions()
	opts.CreateBackup = true
	opts.OverwriteExisting = true
	result, err := env.store.ImportSnapshot(context.Background(),
		`{"documents":[{"key":"progress.md","content":"# Progress\nafter import\n"}]}`, opts)
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(result.BackupPath, "backups/memory-bank-backup-"), result.BackupPath)
	assert.True(t, strings.HasSuffix(result.BackupPath, ".json"))

	backup, err := env.host.ReadFile(filepath.Join(env.dir, filepath.FromSlash(result.BackupPath)))
	require.NoError(t, err)
	assert.Contains(t, backup, "before import")
	assert.NotContains(t, backup, "after import")

	var snap snapshotFile
	require.NoError(t, json.Unmarshal([]byte(backup), &snap))
	assert.Len(t, snap.Documents, 6)
}

func TestImportMalformed(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		data string
	}{
		{"empty", "   "},
		{"broken json", `{"documents": [`},
		{"wrong kind", `{"kind":"something-else","documents":[]}`},
		{"markdown without sections", "# Just a heading\n\ntext\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.store.ImportSnapshot(context.Background(), tt.data, DefaultImportOptions())
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperr.ErrValidation))
		})
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("JSON")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	f, err = ParseFormat("md")
	require.NoError(t, err)
	assert.Equal(t, FormatMarkdown, f)

	_, err = ParseFormat("xml")
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}
