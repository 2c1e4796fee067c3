// Package security implements the gate consulted before every mutating
// operation: content, path and command validation plus the audit log that
// records each decision.
package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"memorybank/internal/apperr"
	"memorybank/internal/logging"
	"memorybank/pkg/fileops"
)

// ContentResult is the outcome of ValidateContent.
type ContentResult struct {
	IsValid          bool
	Errors           []string
	SanitizedContent string
}

// PathResult is the outcome of ValidatePath.
type PathResult struct {
	IsValid bool
	Errors  []string
}

// Gate validates and authorizes operations against a Policy. It holds no
// state apart from the audit log it appends to.
type Gate struct {
	policy Policy
	audit  *AuditLog
	logger *logging.AppLogger
}

// NewGate creates a gate. A nil audit log gets a fresh in-memory one.
func NewGate(policy Policy, audit *AuditLog, logger *logging.AppLogger) *Gate {
	if policy.MaxContentSize <= 0 {
		policy.MaxContentSize = DefaultMaxContentSize
	}
	if policy.MaxFilenameLength <= 0 {
		policy.MaxFilenameLength = fileops.DefaultMaxFilenameLength
	}
	if logger == nil {
		logger = logging.GetDefault()
	}
	if audit == nil {
		audit = NewAuditLog(logger)
	}
	return &Gate{
		policy: policy,
		audit:  audit,
		logger: logger.With("component", "gate"),
	}
}

func (g *Gate) Policy() Policy { return g.policy }

func (g *Gate) Audit() *AuditLog { return g.audit }

// ValidateContent checks size, control characters and the deny-list. When
// the content is rejected for deny-listed constructs, SanitizedContent holds
// the content with only those constructs removed.
func (g *Gate) ValidateContent(content string) ContentResult {
	if err := fileops.ValidateContentSize(int64(len(content)), g.policy.MaxContentSize); err != nil {
		return ContentResult{Errors: []string{err.Error()}}
	}

	var errs []string
	if err := fileops.ValidateContentSecurity(content); err != nil {
		errs = append(errs, err.Error())
	}

	sanitized := content
	if g.policy.SanitizationEnabled {
		for _, rule := range denyRules {
			if !rule.re.MatchString(sanitized) {
				continue
			}
			errs = append(errs, "content contains "+rule.name)
			for i := 0; i < maxStripPasses && rule.re.MatchString(sanitized); i++ {
				sanitized = rule.re.ReplaceAllString(sanitized, rule.keep)
			}
		}
	}

	return ContentResult{
		IsValid:          len(errs) == 0,
		Errors:           errs,
		SanitizedContent: sanitized,
	}
}

// ValidatePath checks path against basePath. A relative path is resolved
// against basePath. Every finding is reported, not just the first.
func (g *Gate) ValidatePath(path, basePath string) PathResult {
	var errs []string

	if strings.TrimSpace(basePath) == "" {
		errs = append(errs, "base path cannot be empty")
	} else if strings.ContainsRune(basePath, 0) {
		errs = append(errs, "base path contains null bytes")
	}

	if err := fileops.ValidatePathSecurity(path); err != nil {
		errs = append(errs, err.Error())
	}
	if err := fileops.ValidateFilename(path, g.policy.MaxFilenameLength); err != nil {
		errs = append(errs, err.Error())
	}
	if err := fileops.ValidateExtension(path, g.policy.AllowedPathExtensions); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) == 0 {
		resolved := path
		if !filepath.IsAbs(resolved) {
			resolved = filepath.Join(basePath, resolved)
		}
		if err := fileops.ValidateWithinBase(resolved, basePath); err != nil {
			errs = append(errs, err.Error())
		}
	}

	return PathResult{IsValid: len(errs) == 0, Errors: errs}
}

// AuthorizeOperation runs the command whitelist, the shell metacharacter
// screen, the path checks (when target is set) and the content checks (when
// payload is non-nil), in that order. The first failing stage rejects the
// operation. An audit entry is appended for every call.
//
// Path failures, unknown commands and metacharacters are SecurityErrors;
// content failures are ValidationErrors.
func (g *Gate) AuthorizeOperation(op, target string, payload *string) error {
	const component = "gate"
	g.logger.LogStateTransition(component, "", "Received")

	err := g.authorize(op, target, payload)

	outcome := OutcomeAllowed
	reason := "authorized"
	if err != nil {
		outcome = OutcomeDenied
		reason = auditReason(err)
		g.logger.LogStateTransition(component, "Received", "Rejected")
		g.logger.Warn("Operation denied", "op", op, "target", target, "reason", reason)
	} else {
		g.logger.LogStateTransition(component, "ContentValidated", "Authorized")
	}

	g.audit.Append(AuditEntry{
		Operation: op,
		Target:    target,
		Outcome:   outcome,
		Reason:    reason,
	})
	return err
}

// ScreenArguments applies the command whitelist and the shell metacharacter
// screen to op and args without recording an audit entry. The protocol
// server uses it on tool arguments before they reach the store, which then
// authorizes the operation itself.
func (g *Gate) ScreenArguments(op string, args ...string) error {
	const opName = "security.screen"

	if !IsAllowedCommand(op) {
		return apperr.Security(opName, fmt.Sprintf("operation %q is not permitted", op))
	}
	for _, arg := range args {
		if strings.ContainsAny(arg, shellMetachars) {
			return apperr.Security(opName, "arguments contain shell metacharacters")
		}
		if strings.ContainsRune(arg, 0) {
			return apperr.Security(opName, "arguments contain null bytes")
		}
	}
	return nil
}

func (g *Gate) authorize(op, target string, payload *string) error {
	const opName = "security.authorize"

	if !IsAllowedCommand(op) {
		return apperr.Security(opName, fmt.Sprintf("operation %q is not permitted", op))
	}
	if strings.ContainsAny(op, shellMetachars) || strings.ContainsAny(target, shellMetachars) {
		return apperr.Security(opName, "arguments contain shell metacharacters")
	}

	if target != "" {
		if err := g.authorizePath(target); err != nil {
			return err
		}
	}
	g.logger.LogStateTransition("gate", "Received", "PathValidated")

	if payload != nil {
		res := g.ValidateContent(*payload)
		if !res.IsValid {
			return apperr.Validation(opName, "content failed validation", res.Errors...)
		}
	}
	g.logger.LogStateTransition("gate", "PathValidated", "ContentValidated")

	return nil
}

// authorizePath accepts target if it validates under any allowed base path.
func (g *Gate) authorizePath(target string) error {
	const opName = "security.authorize"

	if len(g.policy.AllowedBasePaths) == 0 {
		return apperr.Security(opName, "no base paths are configured")
	}

	var findings []string
	for _, base := range g.policy.AllowedBasePaths {
		res := g.ValidatePath(target, base)
		if res.IsValid {
			return nil
		}
		findings = res.Errors
	}
	err := apperr.Security(opName, "path failed validation", clientSafe(findings)...)
	err.Err = errors.New(strings.Join(findings, "; "))
	return err
}

// clientSafe drops findings that could carry resolved filesystem locations.
// The path checks in fileops never embed the path itself, so only the
// wrapped OS errors need removing.
func clientSafe(findings []string) []string {
	out := make([]string, 0, len(findings))
	for _, f := range findings {
		if i := strings.Index(f, ": "); i > 0 && strings.HasPrefix(f, "cannot resolve") {
			f = f[:i]
		}
		out = append(out, f)
	}
	return out
}

// auditReason is the full error, internal causes included. Audit entries
// never reach clients.
func auditReason(err error) string {
	return err.Error()
}
