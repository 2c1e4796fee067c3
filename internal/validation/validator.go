package validation

import (
	"bufio"
	"fmt"
	"strings"
)

// ValidateMarkdown checks that content looks like a context document.
// Returns nil if valid, or an error describing the first problem found.
func ValidateMarkdown(content string) error {
	if problems := MarkdownProblems(content); len(problems) > 0 {
		return fmt.Errorf("%s", problems[0])
	}
	return nil
}

// MarkdownProblems returns every structural problem found in content. None of
// them block a write; the integrity report surfaces them as warnings.
func MarkdownProblems(content string) []string {
	if strings.TrimSpace(content) == "" {
		return []string{"document is empty"}
	}

	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), len(content)+1)

	var problems []string
	inFence := false
	fenceLine := 0
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if line == 1 {
			switch {
			case text == "":
				problems = append(problems, "first line (title) is empty")
			case !strings.HasPrefix(text, "#"):
				problems = append(problems, "first line should be a heading (#)")
			}
		}
		if strings.HasPrefix(text, "```") || strings.HasPrefix(text, "~~~") {
			if !inFence {
				fenceLine = line
			}
			inFence = !inFence
		}
	}
	if err := scanner.Err(); err != nil {
		problems = append(problems, fmt.Sprintf("cannot scan document: %v", err))
	}
	if inFence {
		problems = append(problems, fmt.Sprintf("code fence opened on line %d is never closed", fenceLine))
	}
	return problems
}
