package workflow

import (
	"strings"

	"github.com/Chative-core-poc-v1/advisor/internal/agent/model"
)

// Rule maps progress-signal keywords to the phase they announce.
type Rule struct {
	Keywords []string
	Target   model.Phase
}

// DefaultRules is the keyword → phase table. Complete is never reachable by
// keyword; only Machine.Complete ends a workflow.
var DefaultRules = []Rule{
	{Keywords: []string{"gathering", "searching", "retrieving", "looking up", "context"}, Target: model.PhaseContextGathering},
	{Keywords: []string{"processing", "reasoning", "planning", "analyzing context", "routing"}, Target: model.PhaseIntelligentProcessing},
	{Keywords: []string{"generating", "drafting", "composing", "continuation", "requesting"}, Target: model.PhaseResponseGeneration},
	{Keywords: []string{"validating", "verifying", "checking completeness", "classifying"}, Target: model.PhaseValidation},
}

// DefaultOptimizationKeywords flag a faster-than-normal path.
var DefaultOptimizationKeywords = []string{"cache", "fast path", "fast-path", "parallel", "optimized", "optimised"}

// Match returns the furthest forward phase announced by signal relative to
// current. ok is false when no rule points forward.
func Match(rules []Rule, signal string, current model.Phase) (model.Phase, bool) {
	s := strings.ToLower(signal)
	best, ok := current, false
	for _, r := range rules {
		if r.Target <= current || r.Target >= model.PhaseComplete {
			continue
		}
		if containsAny(s, r.Keywords) && r.Target > best {
			best, ok = r.Target, true
		}
	}
	return best, ok
}

// IsOptimizationSignal reports whether signal mentions any optimization keyword.
func IsOptimizationSignal(keywords []string, signal string) bool {
	return containsAny(strings.ToLower(signal), keywords)
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
