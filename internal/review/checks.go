package review

import (
	"context"
	"fmt"
	"strings"
)

// Check is one heuristic inspection. Implementations must be independent:
// they never rely on another check having run, and a failure in one is
// isolated by the orchestrator rather than aborting the pass.
type Check interface {
	ID() string
	Run(ctx context.Context, t *Target) ([]Event, error)
}

// DefaultChecks returns the ordered check set.
func DefaultChecks(maxLineLength, maxFileLines int) []Check {
	return []Check{
		&LineLengthCheck{Limit: maxLineLength},
		&TrailingSpaceCheck{},
		&FinalNewlineCheck{},
		&TodoCheck{},
		&DebugPrintCheck{},
		&ConflictMarkerCheck{},
		&LargeFileCheck{Limit: maxFileLines},
	}
}

// LineLengthCheck flags lines over the configured limit.
type LineLengthCheck struct {
	Limit int
}

func (c *LineLengthCheck) ID() string { return "style/line-length" }

func (c *LineLengthCheck) Run(ctx context.Context, t *Target) ([]Event, error) {
	limit := c.Limit
	if limit <= 0 {
		limit = 120
	}
	var events []Event
	for _, f := range t.Files {
		for i, line := range f.Lines {
			if len(line) > limit {
				events = append(events, Event{
					RuleID:   c.ID(),
					Severity: SeverityLow,
					FilePath: f.RelPath,
					Line:     i + 1,
					Message:  fmt.Sprintf("line is %d characters, limit is %d", len(line), limit),
				})
			}
		}
	}
	return events, nil
}

// TrailingSpaceCheck flags trailing whitespace; fixable.
type TrailingSpaceCheck struct{}

func (c *TrailingSpaceCheck) ID() string { return "style/trailing-space" }

func (c *TrailingSpaceCheck) Run(ctx context.Context, t *Target) ([]Event, error) {
	var events []Event
	for _, f := range t.Files {
		for i, line := range f.Lines {
			if line != strings.TrimRight(line, " \t") {
				events = append(events, Event{
					RuleID:   c.ID(),
					Severity: SeverityLow,
					FilePath: f.RelPath,
					Line:     i + 1,
					Message:  "trailing whitespace",
					Fixable:  true,
				})
			}
		}
	}
	return events, nil
}

// FinalNewlineCheck flags files missing a newline at EOF; fixable.
type FinalNewlineCheck struct{}

func (c *FinalNewlineCheck) ID() string { return "style/final-newline" }

func (c *FinalNewlineCheck) Run(ctx context.Context, t *Target) ([]Event, error) {
	var events []Event
	for _, f := range t.Files {
		if f.NoEOFNewline {
			events = append(events, Event{
				RuleID:   c.ID(),
				Severity: SeverityLow,
				FilePath: f.RelPath,
				Line:     len(f.Lines),
				Message:  "no newline at end of file",
				Fixable:  true,
			})
		}
	}
	return events, nil
}

// TodoCheck flags TODO and FIXME markers.
type TodoCheck struct{}

func (c *TodoCheck) ID() string { return "pattern/todo" }

func (c *TodoCheck) Run(ctx context.Context, t *Target) ([]Event, error) {
	var events []Event
	for _, f := range t.Files {
		for i, line := range f.Lines {
			if strings.Contains(line, "TODO") || strings.Contains(line, "FIXME") {
				events = append(events, Event{
					RuleID:   c.ID(),
					Severity: SeverityLow,
					FilePath: f.RelPath,
					Line:     i + 1,
					Message:  "unresolved TODO/FIXME marker",
				})
			}
		}
	}
	return events, nil
}

// DebugPrintCheck flags leftover debug printing per language.
type DebugPrintCheck struct{}

func (c *DebugPrintCheck) ID() string { return "pattern/debug-print" }

func (c *DebugPrintCheck) Run(ctx context.Context, t *Target) ([]Event, error) {
	var events []Event
	for _, f := range t.Files {
		var needle string
		switch f.Language {
		case "go":
			needle = "fmt.Println("
		case "python":
			needle = "print("
		case "javascript", "typescript":
			needle = "console.log("
		default:
			continue
		}
		if f.Language == "go" && (strings.HasSuffix(f.RelPath, "_test.go") || strings.HasPrefix(f.RelPath, "cmd/")) {
			continue
		}
		for i, line := range f.Lines {
			trimmed := strings.TrimSpace(line)
			if strings.HasPrefix(trimmed, "//") || strings.HasPrefix(trimmed, "#") {
				continue
			}
			if strings.Contains(line, needle) {
				events = append(events, Event{
					RuleID:   c.ID(),
					Severity: SeverityMedium,
					FilePath: f.RelPath,
					Line:     i + 1,
					Message:  "possible leftover debug print: " + strings.TrimSpace(line),
				})
			}
		}
	}
	return events, nil
}

// ConflictMarkerCheck flags unresolved merge conflict markers.
type ConflictMarkerCheck struct{}

func (c *ConflictMarkerCheck) ID() string { return "structure/conflict-marker" }

func (c *ConflictMarkerCheck) Run(ctx context.Context, t *Target) ([]Event, error) {
	var events []Event
	for _, f := range t.Files {
		for i, line := range f.Lines {
			if strings.HasPrefix(line, "<<<<<<< ") || strings.HasPrefix(line, ">>>>>>> ") || line == "=======" {
				if line == "=======" && !nearConflict(f.Lines, i) {
					continue
				}
				events = append(events, Event{
					RuleID:   c.ID(),
					Severity: SeverityHigh,
					FilePath: f.RelPath,
					Line:     i + 1,
					Message:  "unresolved merge conflict marker",
				})
			}
		}
	}
	return events, nil
}

// nearConflict confirms a bare ======= line sits between conflict markers.
func nearConflict(lines []string, idx int) bool {
	for i := idx - 1; i >= 0 && i >= idx-50; i-- {
		if strings.HasPrefix(lines[i], "<<<<<<< ") {
			return true
		}
	}
	return false
}

// LargeFileCheck flags files above a line-count ceiling.
type LargeFileCheck struct {
	Limit int
}

func (c *LargeFileCheck) ID() string { return "structure/large-file" }

func (c *LargeFileCheck) Run(ctx context.Context, t *Target) ([]Event, error) {
	limit := c.Limit
	if limit <= 0 {
		limit = 800
	}
	var events []Event
	for _, f := range t.Files {
		if len(f.Lines) > limit {
			events = append(events, Event{
				RuleID:   c.ID(),
				Severity: SeverityMedium,
				FilePath: f.RelPath,
				Line:     1,
				Message:  fmt.Sprintf("file has %d lines, consider splitting (limit %d)", len(f.Lines), limit),
			})
		}
	}
	return events, nil
}
