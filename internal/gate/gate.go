// Package gate implements the Complexity Gate: a pure regex-table
// classifier over the raw query string. It never calls an LLM — this is a
// deliberate departure from the teacher's R1 Perceiver (internal/roles/
// perceiver/perceiver.go), which classifies via an LLM call; spec.md §4.4
// and the REDESIGN FLAGS require rule-based routing with no model in the
// loop, so only the teacher's "classify, then route" framing survives.
package gate

import (
	"regexp"
	"strings"

	"github.com/hcwagner/orchestrator/internal/types"
)

// Decision is the gate's routing verdict.
type Decision struct {
	Complexity types.Complexity
	Agent      types.AgentKind // empty when the gate has no suggestion
}

type rule struct {
	pattern *regexp.Regexp
	agent   types.AgentKind
}

var trivialRules = []rule{
	{regexp.MustCompile(`(?i)^\s*open\s+youtube\b`), types.AgentWeb},
	{regexp.MustCompile(`(?i)what\s+time\s+is\s+it`), ""},
	{regexp.MustCompile(`(?i)^\s*quit\s*$`), ""},
	{regexp.MustCompile(`(?i)^\s*exit\s*$`), ""},
	{regexp.MustCompile(`(?i)^\s*hello\b`), ""},
}

var complexRules = []rule{
	{regexp.MustCompile(`(?i)\brefactor\b`), types.AgentCode},
	{regexp.MustCompile(`(?i)\brewrite\b`), types.AgentCode},
	{regexp.MustCompile(`(?i)\bexplain\s+how\b`), types.AgentCode},
	{regexp.MustCompile(`(?i)\banalyze\b`), types.AgentCode},
	{regexp.MustCompile(`(?i)\bcreate\s+new\s+file\b`), types.AgentFile},
}

var simpleRules = []rule{
	{regexp.MustCompile(`(?i)\bfind\s+\S+`), types.AgentFile},
	{regexp.MustCompile(`(?i)\bgit\s+status\b`), types.AgentShell},
}

var conjunctionRe = regexp.MustCompile(`(?i)\b(and|then|also|und|dann)\b`)
var fileExtRe = regexp.MustCompile(`\.\w{1,5}\b`)
var enumerationRe = regexp.MustCompile(`(?i)\b\d+[.)]\s`)

// Classify applies the trivial, complex, and simple regex tables in order
// and returns the first match's decision. If none match, it looks for
// multi-target signals (two or more file extensions, a conjunction word, or
// an enumerated list) to return MODERATE with no agent suggestion, and
// falls back to MODERATE with no suggestion otherwise. An empty query
// returns MODERATE with no agent suggestion (spec.md §8 boundary behavior).
func Classify(query string) Decision {
	q := strings.TrimSpace(query)
	if q == "" {
		return Decision{Complexity: types.Moderate}
	}

	for _, r := range trivialRules {
		if r.pattern.MatchString(q) {
			return Decision{Complexity: types.Trivial, Agent: r.agent}
		}
	}
	for _, r := range complexRules {
		if r.pattern.MatchString(q) {
			return Decision{Complexity: types.Complex, Agent: r.agent}
		}
	}
	for _, r := range simpleRules {
		if r.pattern.MatchString(q) {
			return Decision{Complexity: types.Simple, Agent: r.agent}
		}
	}

	extCount := len(fileExtRe.FindAllString(q, -1))
	if extCount >= 2 || conjunctionRe.MatchString(q) || enumerationRe.MatchString(q) {
		return Decision{Complexity: types.Moderate}
	}
	return Decision{Complexity: types.Moderate}
}
