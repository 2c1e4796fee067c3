package memorybank

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"memorybank/internal/apperr"
	"memorybank/internal/security"

	"github.com/adrg/frontmatter"
	"gopkg.in/yaml.v3"
)

// Format is a snapshot encoding.
type Format string

const (
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// ParseFormat accepts "json", "markdown" or "md".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return FormatJSON, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	}
	return "", apperr.Validation("snapshot.format", fmt.Sprintf("unsupported format %q", s), `expected "json" or "markdown"`)
}

const (
	snapshotKind    = "memory-bank-snapshot"
	snapshotVersion = 1
	backupDir       = "backups"
)

type snapshotFile struct {
	Kind       string             `json:"kind,omitempty" yaml:"kind,omitempty"`
	Version    int                `json:"version,omitempty" yaml:"version,omitempty"`
	ExportedAt *time.Time         `json:"exportedAt,omitempty" yaml:"exportedAt,omitempty"`
	Documents  []snapshotDocument `json:"documents" yaml:"documents,omitempty"`
}

type snapshotDocument struct {
	Key        Key        `json:"key" yaml:"key"`
	Content    string     `json:"content,omitempty" yaml:"-"`
	Version    int64      `json:"version,omitempty" yaml:"version,omitempty"`
	Checksum   string     `json:"checksum,omitempty" yaml:"checksum,omitempty"`
	Size       int        `json:"size,omitempty" yaml:"size,omitempty"`
	ModifiedAt *time.Time `json:"modifiedAt,omitempty" yaml:"modifiedAt,omitempty"`
}

// ExportSnapshot serializes every document in canonical order. Metadata
// (export time, versions, checksums) is included only when requested.
// The audit log is never part of a snapshot.
func (s *Store) ExportSnapshot(format Format, includeMetadata bool) (string, error) {
	const op = "store.export"
	if err := s.requireInitialized(op); err != nil {
		return "", err
	}
	if err := s.gate.AuthorizeOperation(security.CommandExport, "", nil); err != nil {
		return "", err
	}

	snap := s.snapshot(includeMetadata)

	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return "", apperr.Internal(op, "cannot encode snapshot", err)
		}
		return string(data) + "\n", nil
	case FormatMarkdown:
		return renderMarkdown(snap, includeMetadata)
	default:
		return "", apperr.Validation(op, fmt.Sprintf("unsupported format %q", format))
	}
}

func (s *Store) snapshot(includeMetadata bool) snapshotFile {
	docs := s.List()
	snap := snapshotFile{Documents: make([]snapshotDocument, 0, len(docs))}
	if includeMetadata {
		now := s.now().UTC()
		snap.Kind = snapshotKind
		snap.Version = snapshotVersion
		snap.ExportedAt = &now
	}
	for _, d := range docs {
		sd := snapshotDocument{Key: d.Key, Content: d.Content}
		if includeMetadata {
			modified := d.ModifiedAt
			sd.Version = d.Version
			sd.Checksum = d.Checksum
			sd.Size = d.Size
			sd.ModifiedAt = &modified
		}
		snap.Documents = append(snap.Documents, sd)
	}
	return snap
}

func renderMarkdown(snap snapshotFile, includeMetadata bool) (string, error) {
	var b strings.Builder

	if includeMetadata {
		header, err := yaml.Marshal(snap)
		if err != nil {
			return "", apperr.Internal("store.export", "cannot encode snapshot header", err)
		}
		b.WriteString("---\n")
		b.Write(header)
		b.WriteString("---\n\n")
	}

	for i, d := range snap.Documents {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "## %s\n\n", d.Key)
		b.WriteString(d.Content)
		if !strings.HasSuffix(d.Content, "\n") {
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}

// ImportOptions controls ImportSnapshot.
type ImportOptions struct {
	// OverwriteExisting replaces documents that hold authored content.
	OverwriteExisting bool
	// ValidateContent skips entries the gate would reject instead of
	// attempting them. The gate still runs on every write either way.
	ValidateContent bool
	// CreateBackup writes a full JSON export under backups/ first.
	CreateBackup bool
}

// DefaultImportOptions validates content and keeps authored documents.
func DefaultImportOptions() ImportOptions {
	return ImportOptions{ValidateContent: true}
}

// ImportIssue explains why an entry was not imported.
type ImportIssue struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// ImportResult summarizes an import.
type ImportResult struct {
	Imported   []Key         `json:"imported"`
	Skipped    []ImportIssue `json:"skipped"`
	Failed     []ImportIssue `json:"failed"`
	BackupPath string        `json:"backupPath,omitempty"`
}

// ImportSnapshot applies a json or markdown snapshot. Unknown keys are
// skipped, as are documents holding authored content unless
// OverwriteExisting is set. A document is "existing" when its content
// differs from its seed template.
func (s *Store) ImportSnapshot(ctx context.Context, data string, opts ImportOptions) (ImportResult, error) {
	const op = "store.import"
	result := ImportResult{Imported: []Key{}, Skipped: []ImportIssue{}, Failed: []ImportIssue{}}

	if err := s.requireInitialized(op); err != nil {
		return result, err
	}
	if err := s.gate.AuthorizeOperation(security.CommandImport, "", nil); err != nil {
		return result, err
	}

	entries, err := parseSnapshot(data)
	if err != nil {
		return result, err
	}

	if opts.CreateBackup {
		backupPath, err := s.writeBackup(ctx)
		if err != nil {
			return result, err
		}
		result.BackupPath = backupPath
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return result, apperr.Timeout(op, "import abandoned")
		}

		if !IsKey(string(e.Key)) {
			result.Skipped = append(result.Skipped, ImportIssue{Key: string(e.Key), Reason: "unknown document"})
			continue
		}

		current, err := s.Get(e.Key)
		if err != nil {
			result.Failed = append(result.Failed, ImportIssue{Key: string(e.Key), Reason: apperr.ClientMessage(err)})
			continue
		}
		if current.Content == e.Content {
			result.Skipped = append(result.Skipped, ImportIssue{Key: string(e.Key), Reason: "unchanged"})
			continue
		}
		if current.Content != Template(e.Key) && !opts.OverwriteExisting {
			result.Skipped = append(result.Skipped, ImportIssue{Key: string(e.Key), Reason: "document already exists"})
			continue
		}
		if opts.ValidateContent {
			if res := s.gate.ValidateContent(e.Content); !res.IsValid {
				result.Skipped = append(result.Skipped, ImportIssue{
					Key:    string(e.Key),
					Reason: "content failed validation: " + strings.Join(res.Errors, "; "),
				})
				continue
			}
		}

		if _, err := s.put(ctx, e.Key, e.Content, SourceImport); err != nil {
			result.Failed = append(result.Failed, ImportIssue{Key: string(e.Key), Reason: apperr.ClientMessage(err)})
			continue
		}
		result.Imported = append(result.Imported, e.Key)
	}

	s.logger.Info("Snapshot imported",
		"imported", len(result.Imported),
		"skipped", len(result.Skipped),
		"failed", len(result.Failed),
		"backup", result.BackupPath,
	)
	return result, nil
}

// writeBackup stores a full JSON export and returns its path relative to the
// bank directory.
func (s *Store) writeBackup(ctx context.Context) (string, error) {
	const op = "store.backup"

	name := fmt.Sprintf("memory-bank-backup-%s.json", s.now().UTC().Format("2006-01-02T15-04-05.000Z"))
	rel := path.Join(backupDir, name)

	data, err := json.MarshalIndent(s.snapshot(true), "", "  ")
	if err != nil {
		return "", apperr.Internal(op, "cannot encode backup", err)
	}
	content := string(data) + "\n"

	if err := s.gate.AuthorizeOperation(security.CommandBackup, rel, nil); err != nil {
		return "", err
	}
	if err := s.host.CreateDirectory(filepath.Join(s.bankDir, backupDir)); err != nil {
		return "", apperr.IO(op, "cannot create backup directory", err)
	}
	if err := s.persist(ctx, filepath.Join(s.bankDir, filepath.FromSlash(rel)), content); err != nil {
		return "", apperr.IO(op, "cannot write backup", err)
	}

	s.logger.Info("Backup written", "path", rel)
	return rel, nil
}

// parseSnapshot detects the format from the first non-space byte.
func parseSnapshot(data string) ([]snapshotDocument, error) {
	trimmed := strings.TrimSpace(data)
	if trimmed == "" {
		return nil, apperr.Validation("store.import", "snapshot is empty")
	}
	if strings.HasPrefix(trimmed, "{") {
		return parseJSONSnapshot(trimmed)
	}
	return parseMarkdownSnapshot(data)
}

func parseJSONSnapshot(data string) ([]snapshotDocument, error) {
	var snap snapshotFile
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, apperr.Validation("store.import", "malformed JSON snapshot", err.Error())
	}
	if snap.Kind != "" && snap.Kind != snapshotKind {
		return nil, apperr.Validation("store.import", fmt.Sprintf("unsupported snapshot kind %q", snap.Kind))
	}
	return snap.Documents, nil
}

func parseMarkdownSnapshot(data string) ([]snapshotDocument, error) {
	var header snapshotFile
	body, err := frontmatter.Parse(strings.NewReader(data), &header)
	if err != nil {
		return nil, apperr.Validation("store.import", "malformed snapshot header", err.Error())
	}
	if header.Kind != "" && header.Kind != snapshotKind {
		return nil, apperr.Validation("store.import", fmt.Sprintf("unsupported snapshot kind %q", header.Kind))
	}

	var (
		docs    []snapshotDocument
		current *snapshotDocument
		section bytes.Buffer
	)
	flush := func() {
		if current == nil {
			return
		}
		content := strings.TrimLeft(section.String(), "\n")
		content = strings.TrimRight(content, " \t\r\n") + "\n"
		current.Content = content
		docs = append(docs, *current)
		section.Reset()
	}

	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), len(body)+1)
	for scanner.Scan() {
		line := scanner.Text()
		if name, ok := strings.CutPrefix(line, "## "); ok && IsKey(strings.TrimSpace(name)) {
			flush()
			current = &snapshotDocument{Key: Key(strings.TrimSpace(name))}
			continue
		}
		if current != nil {
			section.WriteString(line)
			section.WriteByte('\n')
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, apperr.Validation("store.import", "cannot read markdown snapshot", err.Error())
	}
	flush()

	if len(docs) == 0 {
		return nil, apperr.Validation("store.import", "snapshot contains no document sections")
	}
	return docs, nil
}
