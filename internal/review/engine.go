package review

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/repoagent/internal/ai"
	"github.com/seanblong/repoagent/internal/fetch"
)

// State names one phase of a review invocation.
type State string

const (
	StateStart         State = "START"
	StateFetchTarget   State = "FETCH_TARGET"
	StateRunHeuristics State = "RUN_HEURISTICS"
	StateAutoFix       State = "AUTO_FIX"
	StateSummarize     State = "SUMMARIZE"
	StateDone          State = "DONE"
	StateFailed        State = "FAILED"
)

// MetaRuleID tags the finding recorded when a check itself fails.
const MetaRuleID = "meta/check-failure"

// Orchestrator runs the review pass: fetch the target, run every check with
// partial-failure isolation, optionally auto-fix, and summarize. Every
// terminal state except a target-fetch failure yields a Report.
type Orchestrator struct {
	Client    ai.Client
	Fetcher   *fetch.Fetcher
	Checks    []Check
	Fixer     Fixer
	MaxTokens int
}

func NewOrchestrator(client ai.Client, fetcher *fetch.Fetcher, checks []Check) *Orchestrator {
	return &Orchestrator{
		Client:    client,
		Fetcher:   fetcher,
		Checks:    checks,
		MaxTokens: 2048,
	}
}

// Review executes one pass over the repository. staged narrows the target to
// the staged file set; autoFix applies the deterministic formatters to
// fixable findings and re-runs the affected checks.
func (o *Orchestrator) Review(ctx context.Context, urlOrPath string, staged, autoFix bool) (*Report, error) {
	o.transition(StateStart, StateFetchTarget)
	wc, err := o.Fetcher.Fetch(ctx, urlOrPath)
	if err != nil {
		log.Error().Err(err).Str("state", string(StateFailed)).Msg("review failed")
		return nil, err
	}
	target, err := buildTarget(ctx, o.Fetcher, wc, staged)
	if err != nil {
		log.Error().Err(err).Str("state", string(StateFailed)).Msg("review failed")
		return nil, &fetch.FetchError{Repo: urlOrPath, Err: err}
	}

	o.transition(StateFetchTarget, StateRunHeuristics)
	events := o.runChecks(ctx, target, o.Checks)

	state := StateRunHeuristics
	report := &Report{}
	if autoFix {
		o.transition(state, StateAutoFix)
		state = StateAutoFix
		events = o.autoFix(ctx, target, events, report)
	}

	o.transition(state, StateSummarize)
	report.Events = events
	report.Summary = ComputeSummary(events)
	report.Formatted = o.summarize(ctx, report)

	o.transition(StateSummarize, StateDone)
	log.Info().Str("repository", wc.Repository).
		Bool("staged", staged).
		Bool("auto_fix", autoFix).
		Int("findings", report.Summary.Total).
		Msg("review complete")
	return report, nil
}

func (o *Orchestrator) transition(from, to State) {
	log.Debug().Str("from", string(from)).Str("to", string(to)).Msg("review state")
}

// runChecks executes the given checks in order. One check's failure is
// recorded as a meta-finding and never aborts the others.
func (o *Orchestrator) runChecks(ctx context.Context, target *Target, checks []Check) []Event {
	var events []Event
	for _, check := range checks {
		evs, err := o.runOne(ctx, target, check)
		if err != nil {
			log.Warn().Err(err).Str("check", check.ID()).Msg("check failed, continuing")
			events = append(events, Event{
				RuleID:   MetaRuleID,
				Severity: SeverityMedium,
				Message:  fmt.Sprintf("check %s failed: %v", check.ID(), err),
			})
			continue
		}
		events = append(events, evs...)
	}
	return events
}

// runOne isolates a single check, converting panics into errors.
func (o *Orchestrator) runOne(ctx context.Context, target *Target, check Check) (evs []Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			evs = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return check.Run(ctx, target)
}

// autoFix applies the deterministic fixes, re-runs the checks whose findings
// were fixable, and swaps their events for the post-fix results.
func (o *Orchestrator) autoFix(ctx context.Context, target *Target, events []Event, report *Report) []Event {
	fixableBefore := 0
	for _, e := range events {
		if e.Fixable {
			fixableBefore++
		}
	}
	if fixableBefore == 0 {
		return events
	}

	affectedRules, fixed := o.Fixer.Apply(target, events)
	if len(fixed) == 0 {
		return events
	}
	report.AutoFixApplied = true
	target.reload()

	var affected []Check
	for _, c := range o.Checks {
		if affectedRules[c.ID()] {
			affected = append(affected, c)
		}
	}

	kept := events[:0:0]
	for _, e := range events {
		if !affectedRules[e.RuleID] {
			kept = append(kept, e)
		}
	}
	recheck := o.runChecks(ctx, target, affected)
	kept = append(kept, recheck...)

	remaining := 0
	for _, e := range recheck {
		if e.Fixable {
			remaining++
		}
	}
	report.FixesResolved = fixableBefore - remaining
	report.FixesRemaining = remaining
	log.Info().Int("resolved", report.FixesResolved).Int("remaining", remaining).
		Strs("files", fixed).Msg("auto-fix applied")
	return kept
}

// summarize asks the model for a human-readable report over the aggregated
// findings. Raw file contents never go into the prompt. On any provider
// failure the deterministic rendering takes over so the review still returns
// a formatted result.
func (o *Orchestrator) summarize(ctx context.Context, report *Report) string {
	prompt := buildSummaryPrompt(report)

	text, err := o.Client.Complete(ctx, summarySystemPrompt, prompt, o.MaxTokens)
	if err != nil && ai.IsRetryable(err) {
		log.Warn().Err(err).Msg("retrying review summarization once")
		text, err = o.Client.Complete(ctx, summarySystemPrompt, prompt, o.MaxTokens)
	}
	if err != nil || text == "" {
		log.Warn().Err(err).Msg("summarization failed, using deterministic rendering")
		return RenderText(report)
	}
	return text
}
