package memorybank

import (
	"fmt"

	"memorybank/internal/security"
	"memorybank/internal/validation"
)

// IntegrityReport lists hard problems (Errors) and tolerated ones (Warnings).
type IntegrityReport struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// ValidateIntegrity checks each document against disk. A missing file is an
// error. A checksum mismatch is a warning, since a concurrent external edit
// can be in flight. Markdown structure problems are warnings.
func (s *Store) ValidateIntegrity() IntegrityReport {
	report := IntegrityReport{Errors: []string{}, Warnings: []string{}}

	if err := s.requireInitialized("store.validate"); err != nil {
		report.Errors = append(report.Errors, "memory bank is not initialized")
		return report
	}
	if err := s.gate.AuthorizeOperation(security.CommandValidate, "", nil); err != nil {
		report.Errors = append(report.Errors, "integrity check not permitted")
		return report
	}

	for _, doc := range s.List() {
		path := s.pathOf(doc.Key)

		if Checksum(doc.Content) != doc.Checksum {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: committed checksum does not match content", doc.Key))
		}

		if !s.host.FileExists(path) {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: missing on disk", doc.Key))
			continue
		}
		onDisk, err := s.host.ReadFile(path)
		if err != nil {
			s.logger.Warn("Integrity read failed", "key", doc.Key, "error", err)
			report.Errors = append(report.Errors, fmt.Sprintf("%s: cannot be read", doc.Key))
			continue
		}
		if Checksum(onDisk) != doc.Checksum {
			report.Warnings = append(report.Warnings, fmt.Sprintf("%s: on-disk content differs from version %d (checksum mismatch)", doc.Key, doc.Version))
		}

		for _, problem := range validation.MarkdownProblems(doc.Content) {
			report.Warnings = append(report.Warnings, fmt.Sprintf("%s: %s", doc.Key, problem))
		}
	}

	report.Valid = len(report.Errors) == 0
	return report
}
