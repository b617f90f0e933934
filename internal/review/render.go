package review

import (
	"fmt"
	"sort"
	"strings"
)

const summarySystemPrompt = "You are a senior code reviewer. You will receive structured review findings " +
	"(rule id, severity, file, line, message). Produce a short human-readable report: a one-paragraph " +
	"summary, the issues that most need attention grouped by file, and a final verdict on whether the " +
	"changes look safe to merge. Plain text only, no code blocks."

// buildSummaryPrompt renders the aggregated findings for the model. Only the
// findings go in, never file contents, which keeps the prompt bounded by the
// number of events rather than the size of the repository.
func buildSummaryPrompt(r *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Total findings: %d (high: %d, medium: %d, low: %d)\n",
		r.Summary.Total, r.Summary.Counts[SeverityHigh], r.Summary.Counts[SeverityMedium], r.Summary.Counts[SeverityLow])
	if r.AutoFixApplied {
		fmt.Fprintf(&b, "Automatic fixes were applied: %d findings resolved, %d remain.\n", r.FixesResolved, r.FixesRemaining)
	}
	b.WriteString("\nFindings:\n")
	for _, e := range r.Events {
		fmt.Fprintf(&b, "- [%s] %s %s:%d %s\n", e.Severity, e.RuleID, e.FilePath, e.Line, e.Message)
	}
	if r.Summary.Total == 0 {
		b.WriteString("(none)\n")
	}
	return b.String()
}

// RenderText is the deterministic fallback rendering used when the model
// cannot produce a summary. The review endpoint never returns an empty
// formatted text.
func RenderText(r *Report) string {
	var b strings.Builder

	b.WriteString("Review summary\n")
	fmt.Fprintf(&b, "%d finding(s): %d high, %d medium, %d low\n",
		r.Summary.Total, r.Summary.Counts[SeverityHigh], r.Summary.Counts[SeverityMedium], r.Summary.Counts[SeverityLow])

	if r.AutoFixApplied {
		fmt.Fprintf(&b, "Auto-fix applied: %d resolved, %d remaining\n", r.FixesResolved, r.FixesRemaining)
	}

	if r.Summary.Total == 0 {
		b.WriteString("\nNo issues found. Looks good to merge.\n")
		return b.String()
	}

	byFile := map[string][]Event{}
	for _, e := range r.Events {
		byFile[e.FilePath] = append(byFile[e.FilePath], e)
	}
	files := make([]string, 0, len(byFile))
	for f := range byFile {
		files = append(files, f)
	}
	sort.Strings(files)

	for _, f := range files {
		name := f
		if name == "" {
			name = "(general)"
		}
		fmt.Fprintf(&b, "\n%s:\n", name)
		for _, e := range byFile[f] {
			fmt.Fprintf(&b, "  line %d [%s] %s: %s\n", e.Line, e.Severity, e.RuleID, e.Message)
		}
	}

	b.WriteString("\nVerdict: ")
	switch HighestSeverity(r.Events) {
	case SeverityHigh:
		b.WriteString("address the high-severity findings before merging.\n")
	case SeverityMedium:
		b.WriteString("review the flagged items before merging.\n")
	default:
		b.WriteString("minor style issues only; safe to merge after cleanup.\n")
	}
	return b.String()
}
