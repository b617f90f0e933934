package review

import (
	"os"
	"strings"

	"github.com/rs/zerolog/log"
)

// Fixer applies the deterministic formatting transformations behind the
// fixable rules: stripping trailing whitespace and restoring the final
// newline. Anything beyond that is left to the human.
type Fixer struct{}

// Apply rewrites the files named by fixable events. It returns the set of
// rule ids whose checks must re-run and the relative paths that were
// rewritten.
func (Fixer) Apply(t *Target, events []Event) (rules map[string]bool, fixed []string) {
	rules = map[string]bool{}
	byPath := map[string][]Event{}
	for _, e := range events {
		if !e.Fixable {
			continue
		}
		rules[e.RuleID] = true
		byPath[e.FilePath] = append(byPath[e.FilePath], e)
	}

	for _, f := range t.Files {
		evs, ok := byPath[f.RelPath]
		if !ok {
			continue
		}
		if err := rewrite(f, evs); err != nil {
			log.Warn().Err(err).Str("path", f.RelPath).Msg("auto-fix rewrite failed")
			continue
		}
		fixed = append(fixed, f.RelPath)
	}
	return rules, fixed
}

func rewrite(f TargetFile, events []Event) error {
	stripTrailing := false
	addNewline := false
	for _, e := range events {
		switch e.RuleID {
		case "style/trailing-space":
			stripTrailing = true
		case "style/final-newline":
			addNewline = true
		}
	}

	lines := make([]string, len(f.Lines))
	copy(lines, f.Lines)
	if stripTrailing {
		for i, line := range lines {
			lines[i] = strings.TrimRight(line, " \t")
		}
	}

	content := strings.Join(lines, "\n")
	if addNewline || !f.NoEOFNewline {
		content += "\n"
	}
	return os.WriteFile(f.AbsPath, []byte(content), 0o644)
}
