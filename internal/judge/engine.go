package judge

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// emergencyConfidence is the confidence at which a dangerous verdict
// forces block regardless of the rule table.
const emergencyConfidence = 0.5

// Result is the outcome of applying the rule table to a verdict.
type Result struct {
	Action    Action    `json:"action"`
	RuleID    string    `json:"rule_id"`
	Emergency bool      `json:"emergency"`
	Reason    string    `json:"reason"`
	DecidedAt time.Time `json:"decided_at"`
}

// Engine applies the rule table to verdicts. The table is replaced only
// through Reload; evaluation holds a read lock so no judgment observes
// a half-installed table.
type Engine struct {
	mu       sync.RWMutex
	rules    []Rule
	keywords []string
}

// NewEngine builds an engine from a rule table and emergency keyword
// list. The table is validated; an invalid table is an error, never a
// silently-permissive engine.
func NewEngine(rules []Rule, keywords []string) (*Engine, error) {
	if err := ValidateRules(rules); err != nil {
		return nil, fmt.Errorf("judgment rules: %w", err)
	}
	e := &Engine{keywords: keywords}
	e.install(rules)
	return e, nil
}

// Reload replaces the rule table. This is the only mutation path; the
// daemon calls it when the rules file changes on disk.
func (e *Engine) Reload(rules []Rule) error {
	if err := ValidateRules(rules); err != nil {
		return fmt.Errorf("judgment rules: %w", err)
	}
	e.mu.Lock()
	e.install(rules)
	e.mu.Unlock()
	return nil
}

func (e *Engine) install(rules []Rule) {
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	// Priority descending; ties prefer the more restrictive action so
	// the first match of a tie group is the winner.
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority > sorted[j].Priority
		}
		return sorted[i].Action.MoreRestrictive(sorted[j].Action)
	})
	e.rules = sorted
}

// Rules returns a copy of the installed table, in evaluation order.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Judge maps a verdict to an action under the active profile.
//
// Resolution order:
//  1. Emergency override: an emergency keyword hit, or category
//     dangerous with confidence >= 0.5, forces block absolutely.
//  2. Highest-priority matching rule; priority ties resolve to the
//     more restrictive action.
//  3. No match defaults to monitor, never allow.
func (e *Engine) Judge(v Verdict, inputText string, profile Profile, now time.Time) Result {
	if kw, hit := e.emergencyHit(v, inputText); hit {
		return Result{
			Action:    ActionBlock,
			RuleID:    "EMERGENCY",
			Emergency: true,
			Reason:    fmt.Sprintf("emergency override: %s", kw),
			DecidedAt: now,
		}
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, r := range e.rules {
		if !r.applies(v, profile) {
			continue
		}
		return Result{
			Action:    r.Action,
			RuleID:    r.ID,
			Emergency: r.Emergency,
			Reason: fmt.Sprintf("%s: %s (category %s, confidence %.2f)",
				r.Name, r.Description, v.Category, v.Confidence),
			DecidedAt: now,
		}
	}

	return Result{
		Action:    ActionMonitor,
		RuleID:    "DEFAULT",
		Reason:    fmt.Sprintf("no rule matched category %s; defaulting to monitor", v.Category),
		DecidedAt: now,
	}
}

// emergencyHit reports whether the verdict or raw text triggers the
// absolute emergency override, and what triggered it.
func (e *Engine) emergencyHit(v Verdict, inputText string) (string, bool) {
	if v.Category == CategoryDangerous && v.Confidence >= emergencyConfidence {
		return fmt.Sprintf("dangerous content at confidence %.2f", v.Confidence), true
	}

	e.mu.RLock()
	keywords := e.keywords
	e.mu.RUnlock()

	text := strings.ToLower(inputText)
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(text, strings.ToLower(kw)) {
			return fmt.Sprintf("keyword %q", kw), true
		}
		for _, detected := range v.Keywords {
			if strings.EqualFold(detected, kw) {
				return fmt.Sprintf("detected keyword %q", kw), true
			}
		}
	}
	return "", false
}

func (r Rule) applies(v Verdict, profile Profile) bool {
	if r.Disabled {
		return false
	}
	if len(r.AgeGroups) > 0 && !containsAge(r.AgeGroups, profile.AgeGroup) {
		return false
	}
	if len(r.Strictness) > 0 && !containsStrictness(r.Strictness, profile.Strictness) {
		return false
	}
	if r.Category != "" && r.Category != v.Category {
		return false
	}
	if r.MinConfidence != nil && v.Confidence < *r.MinConfidence {
		return false
	}
	if r.MaxConfidence != nil && v.Confidence > *r.MaxConfidence {
		return false
	}
	return true
}

func containsAge(groups []AgeGroup, g AgeGroup) bool {
	for _, x := range groups {
		if x == g {
			return true
		}
	}
	return false
}

func containsStrictness(levels []Strictness, s Strictness) bool {
	for _, x := range levels {
		if x == s {
			return true
		}
	}
	return false
}
