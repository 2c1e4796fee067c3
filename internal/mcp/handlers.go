package mcp

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"memorybank/internal/apperr"
	"memorybank/internal/memorybank"
	"memorybank/internal/security"

	"github.com/mark3labs/mcp-go/mcp"
)

// Tool names.
const (
	ToolGetStatus         = "get_status"
	ToolUpdateDocument    = "update_document"
	ToolExportSnapshot    = "export_snapshot"
	ToolValidateIntegrity = "validate_integrity"
)

const markdownMIME = "text/markdown"

type resourceList struct {
	Resources []mcp.Resource `json:"resources"`
}

type resourceContents struct {
	Contents []mcp.TextResourceContents `json:"contents"`
}

type toolList struct {
	Tools []mcp.Tool `json:"tools"`
}

type documentStatus struct {
	Key        memorybank.Key `json:"key"`
	Version    int64          `json:"version"`
	Size       int            `json:"size"`
	Checksum   string         `json:"checksum"`
	ModifiedAt time.Time      `json:"modifiedAt"`
}

type statusResult struct {
	Status      string           `json:"status"`
	Version     string           `json:"version"`
	Platform    string           `json:"platform"`
	Uptime      string           `json:"uptime"`
	Connections int              `json:"connections"`
	Documents   []documentStatus `json:"documents"`
	AuditDenied int              `json:"auditDenied"`
	RecentAudit []auditSummary   `json:"recentAudit"`
}

// auditSummary is the client view of an audit entry. Reasons and targets
// stay server-side since they can carry absolute paths.
type auditSummary struct {
	Timestamp time.Time        `json:"timestamp"`
	Operation string           `json:"operation"`
	Outcome   security.Outcome `json:"outcome"`
}

const statusAuditEntries = 10

type updateResult struct {
	DocumentKey memorybank.Key `json:"documentKey"`
	Version     int64          `json:"version"`
	Checksum    string         `json:"checksum"`
	Size        int            `json:"size"`
}

type exportResult struct {
	Format  memorybank.Format `json:"format"`
	Content string            `json:"content"`
}

func platform() string { return runtime.GOOS + "/" + runtime.GOARCH }

// toolDefinitions is the closed tool table, shared by tools/list and the
// stdio transport.
func toolDefinitions() []mcp.Tool {
	keys := make([]string, 0, len(memorybank.Keys()))
	for _, k := range memorybank.Keys() {
		keys = append(keys, string(k))
	}

	return []mcp.Tool{
		mcp.NewTool(ToolGetStatus,
			mcp.WithDescription("Report server status, open connections and the version of every memory bank document"),
		),
		mcp.NewTool(ToolUpdateDocument,
			mcp.WithDescription("Replace the content of one memory bank document"),
			mcp.WithString("documentKey",
				mcp.Description("Document to update"),
				mcp.Required(),
				mcp.Enum(keys...),
			),
			mcp.WithString("content",
				mcp.Description("New markdown content of the document"),
				mcp.Required(),
			),
		),
		mcp.NewTool(ToolExportSnapshot,
			mcp.WithDescription("Export all memory bank documents as one snapshot"),
			mcp.WithString("format",
				mcp.Description("Snapshot format"),
				mcp.Enum(string(memorybank.FormatJSON), string(memorybank.FormatMarkdown)),
				mcp.DefaultString(string(memorybank.FormatJSON)),
			),
			mcp.WithBoolean("includeMetadata",
				mcp.Description("Include versions, checksums and timestamps"),
				mcp.DefaultBool(false),
			),
		),
		mcp.NewTool(ToolValidateIntegrity,
			mcp.WithDescription("Check every document against its file on disk"),
		),
	}
}

func (s *Server) listResources() []mcp.Resource {
	out := make([]mcp.Resource, 0, len(memorybank.Keys()))
	for _, key := range memorybank.Keys() {
		info, _ := memorybank.InfoFor(key)
		out = append(out, mcp.NewResource(key.URI(), info.Title,
			mcp.WithResourceDescription(info.Description),
			mcp.WithMIMEType(markdownMIME),
		))
	}
	return out
}

func (s *Server) readResource(uri string) ([]mcp.TextResourceContents, error) {
	const op = "resources.read"

	if err := s.gate.ScreenArguments(security.CommandRead, uri); err != nil {
		return nil, err
	}
	key, ok := memorybank.ParseURI(uri)
	if !ok {
		return nil, apperr.Validation(op, fmt.Sprintf("resource URI must have the form %s<document>", memorybank.URIScheme))
	}
	doc, err := s.store.Get(key)
	if err != nil {
		return nil, err
	}
	return []mcp.TextResourceContents{{
		URI:      key.URI(),
		MIMEType: markdownMIME,
		Text:     doc.Content,
	}}, nil
}

// callTool validates args and runs the named tool.
func (s *Server) callTool(ctx context.Context, name string, args map[string]any) (any, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveTool(name, time.Since(start)) }()

	switch name {
	case ToolGetStatus:
		return s.status()
	case ToolUpdateDocument:
		return s.updateDocument(ctx, args)
	case ToolExportSnapshot:
		return s.exportSnapshot(args)
	case ToolValidateIntegrity:
		if err := s.gate.ScreenArguments(security.CommandValidate); err != nil {
			return nil, err
		}
		return s.store.ValidateIntegrity(), nil
	default:
		return nil, apperr.NotFound("tools.call", fmt.Sprintf("unknown tool %q", name))
	}
}

func (s *Server) status() (statusResult, error) {
	if err := s.gate.ScreenArguments(security.CommandStatus); err != nil {
		return statusResult{}, err
	}

	docs := s.store.List()
	out := statusResult{
		Status:      "ok",
		Version:     s.version,
		Platform:    platform(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
		Connections: s.sessions.Count(),
		Documents:   make([]documentStatus, 0, len(docs)),
	}
	for _, d := range docs {
		out.Documents = append(out.Documents, documentStatus{
			Key:        d.Key,
			Version:    d.Version,
			Size:       d.Size,
			Checksum:   d.Checksum,
			ModifiedAt: d.ModifiedAt,
		})
	}
	_, out.AuditDenied = s.gate.Audit().Counts()
	recent := s.gate.Audit().Recent(statusAuditEntries)
	out.RecentAudit = make([]auditSummary, 0, len(recent))
	for _, e := range recent {
		out.RecentAudit = append(out.RecentAudit, auditSummary{
			Timestamp: e.Timestamp,
			Operation: e.Operation,
			Outcome:   e.Outcome,
		})
	}
	return out, nil
}

func (s *Server) updateDocument(ctx context.Context, args map[string]any) (updateResult, error) {
	const op = "tools.update_document"

	key, err := stringArg(op, args, "documentKey", true)
	if err != nil {
		return updateResult{}, err
	}
	content, err := stringArg(op, args, "content", true)
	if err != nil {
		return updateResult{}, err
	}
	if err := s.gate.ScreenArguments(security.CommandWrite, key); err != nil {
		return updateResult{}, err
	}
	if !memorybank.IsKey(key) {
		return updateResult{}, apperr.NotFound(op, fmt.Sprintf("unknown document %q", key))
	}

	doc, err := s.store.Put(ctx, memorybank.Key(key), content)
	if err != nil {
		return updateResult{}, err
	}
	return updateResult{
		DocumentKey: doc.Key,
		Version:     doc.Version,
		Checksum:    doc.Checksum,
		Size:        doc.Size,
	}, nil
}

func (s *Server) exportSnapshot(args map[string]any) (exportResult, error) {
	const op = "tools.export_snapshot"

	raw, err := stringArg(op, args, "format", false)
	if err != nil {
		return exportResult{}, err
	}
	if raw == "" {
		raw = string(memorybank.FormatJSON)
	}
	if err := s.gate.ScreenArguments(security.CommandExport, raw); err != nil {
		return exportResult{}, err
	}
	format, err := memorybank.ParseFormat(raw)
	if err != nil {
		return exportResult{}, err
	}

	includeMetadata := false
	if v, ok := args["includeMetadata"]; ok && v != nil {
		b, ok := v.(bool)
		if !ok {
			return exportResult{}, apperr.Validation(op, "includeMetadata must be a boolean")
		}
		includeMetadata = b
	}

	content, err := s.store.ExportSnapshot(format, includeMetadata)
	if err != nil {
		return exportResult{}, err
	}
	return exportResult{Format: format, Content: content}, nil
}

func stringArg(op string, args map[string]any, name string, required bool) (string, error) {
	v, ok := args[name]
	if !ok || v == nil {
		if required {
			return "", apperr.Validation(op, fmt.Sprintf("missing required argument %q", name))
		}
		return "", nil
	}
	str, ok := v.(string)
	if !ok {
		return "", apperr.Validation(op, fmt.Sprintf("argument %q must be a string", name))
	}
	return str, nil
}
