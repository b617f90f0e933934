package review

// Severity grades a finding.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// SeverityRank returns a numeric rank for sorting (higher = more severe).
func SeverityRank(s Severity) int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Event is one structured finding produced by a heuristic check. Events are
// never mutated after creation.
type Event struct {
	RuleID   string   `json:"rule_id"`
	Severity Severity `json:"severity"`
	FilePath string   `json:"file_path"`
	Line     int      `json:"line"`
	Message  string   `json:"message"`
	Fixable  bool     `json:"fixable"`
}

// Summary aggregates findings by severity.
type Summary struct {
	Counts map[Severity]int `json:"counts_by_severity"`
	Total  int              `json:"total"`
}

// Report is the terminal artifact of one review invocation.
type Report struct {
	Summary        Summary `json:"summary"`
	Events         []Event `json:"events"`
	Formatted      string  `json:"formatted"`
	AutoFixApplied bool    `json:"auto_fix_applied"`
	FixesResolved  int     `json:"fixes_resolved,omitempty"`
	FixesRemaining int     `json:"fixes_remaining,omitempty"`
}

// ComputeSummary calculates the summary from events.
func ComputeSummary(events []Event) Summary {
	s := Summary{Counts: map[Severity]int{}, Total: len(events)}
	for _, e := range events {
		s.Counts[e.Severity]++
	}
	return s
}

// HighestSeverity returns the most severe level present in events.
func HighestSeverity(events []Event) Severity {
	var highest Severity
	for _, e := range events {
		if SeverityRank(e.Severity) > SeverityRank(highest) {
			highest = e.Severity
		}
	}
	return highest
}
