package security

import (
	"regexp"

	"memorybank/pkg/fileops"
)

// DefaultMaxContentSize is the per-document content limit (1 MiB).
const DefaultMaxContentSize int64 = 1 << 20

// Policy is the immutable configuration of a Gate.
type Policy struct {
	MaxContentSize        int64
	AllowedPathExtensions []string
	AllowedBasePaths      []string
	SanitizationEnabled   bool
	MaxFilenameLength     int
}

// DefaultPolicy returns the policy used when nothing is configured, with
// basePaths as the only writable roots.
func DefaultPolicy(basePaths ...string) Policy {
	return Policy{
		MaxContentSize:        DefaultMaxContentSize,
		AllowedPathExtensions: []string{".md", ".json"},
		AllowedBasePaths:      basePaths,
		SanitizationEnabled:   true,
		MaxFilenameLength:     fileops.DefaultMaxFilenameLength,
	}
}

// Commands the gate will authorize. Anything else is denied.
const (
	CommandRead     = "read"
	CommandWrite    = "write"
	CommandList     = "list"
	CommandExport   = "export"
	CommandImport   = "import"
	CommandValidate = "validate"
	CommandStatus   = "status"
	CommandBackup   = "backup"
)

var allowedCommands = map[string]bool{
	CommandRead:     true,
	CommandWrite:    true,
	CommandList:     true,
	CommandExport:   true,
	CommandImport:   true,
	CommandValidate: true,
	CommandStatus:   true,
	CommandBackup:   true,
}

// IsAllowedCommand reports whether op is on the command whitelist.
func IsAllowedCommand(op string) bool {
	return allowedCommands[op]
}

// shellMetachars are rejected in operation names and targets.
const shellMetachars = ";|&`"

// denyRule is one entry of the content deny-list. The regexp both detects and
// strips the construct; keep selects the submatch preserved on strip.
type denyRule struct {
	name string
	re   *regexp.Regexp
	keep string
}

// The deny-list blocks a known pattern set only. Anything rendering document
// content as HTML is still responsible for its own escaping.
var denyRules = []denyRule{
	{
		name: "embedded script block",
		re:   regexp.MustCompile(`(?is)<\s*script\b.*?(?:<\s*/\s*script\s*>|$)`),
	},
	{
		name: "embedded frame or object",
		re:   regexp.MustCompile(`(?i)<\s*/?\s*(?:iframe|object|embed)\b[^>]*>?`),
	},
	{
		name: "script URI",
		// Bare "javascript:x" anywhere, or a link target or attribute value
		// where whitespace may follow the colon.
		re:   regexp.MustCompile(`(?i)\b(?:javascript|vbscript|livescript)\s*:[^\s)"'>]+|([("'=<]\s*)(?:javascript|vbscript|livescript)\s*:\s*[^)"'>]*`),
		keep: "$1",
	},
	{
		name: "HTML data URI",
		re:   regexp.MustCompile(`(?i)\bdata\s*:\s*text/html[^\s)"'>]*`),
	},
	{
		name: "inline event handler",
		re:   regexp.MustCompile(`(?i)(<[^>]*?)[\s/]+on[a-z]+\s*=\s*(?:"[^"]*"|'[^']*'|[^\s>]+)`),
		keep: "$1",
	},
	{
		name: "style-based script injection",
		re:   regexp.MustCompile(`(?i)\bstyle\s*=\s*(?:"[^"]*(?:expression\s*\(|behavior\s*:|-moz-binding)[^"]*"|'[^']*(?:expression\s*\(|behavior\s*:|-moz-binding)[^']*')`),
	},
	{
		name: "style block",
		re:   regexp.MustCompile(`(?is)<\s*style\b.*?(?:<\s*/\s*style\s*>|$)`),
	},
}

// maxStripPasses bounds repeated stripping of constructs that can nest, such
// as several event handlers on one tag.
const maxStripPasses = 8
