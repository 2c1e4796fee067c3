package memorybank

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateIntegrityFreshStore(t *testing.T) {
	env := newTestEnv(t)

	report := env.store.ValidateIntegrity()
	assert.True(t, report.Valid)
	assert.Empty(t, report.Errors)
	assert.Empty(t, report.Warnings)
}

func TestValidateIntegrityMissingFile(t *testing.T) {
	env := newTestEnv(t)
	env.host.RemoveFile(filepath.Join(env.dir, string(TechContext)))

	report := env.store.ValidateIntegrity()
	assert.False(t, report.Valid)
	assert.Equal(t, []string{"techContext.md: missing on disk"}, report.Errors)
}

func TestValidateIntegrityChecksumMismatchIsWarning(t *testing.T) {
	env := newTestEnv(t)
	env.host.SetFile(filepath.Join(env.dir, string(Progress)), "# Progress\nchanged behind our back\n")

	report := env.store.ValidateIntegrity()
	assert.True(t, report.Valid, "a mismatch alone does not fail integrity")
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "progress.md")
	assert.Contains(t, report.Warnings[0], "checksum mismatch")
}

func TestValidateIntegrityMarkdownWarnings(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.store.Put(context.Background(), ActiveContext, "no heading\n```\nopen fence\n")
	require.NoError(t, err)

	report := env.store.ValidateIntegrity()
	assert.True(t, report.Valid)
	joined := strings.Join(report.Warnings, "\n")
	assert.Contains(t, joined, "activeContext.md: first line should be a heading (#)")
	assert.Contains(t, joined, "activeContext.md: code fence opened on line 2 is never closed")
}

func TestValidateIntegrityReportsEverything(t *testing.T) {
	env := newTestEnv(t)
	env.host.RemoveFile(filepath.Join(env.dir, string(ProjectBrief)))
	env.host.RemoveFile(filepath.Join(env.dir, string(Progress)))
	env.host.SetFile(filepath.Join(env.dir, string(TechContext)), "# other\n")

	report := env.store.ValidateIntegrity()
	assert.False(t, report.Valid)
	assert.Len(t, report.Errors, 2)
	assert.Len(t, report.Warnings, 1)
}
