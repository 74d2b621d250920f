package decision

import (
	"fmt"
	"sort"
	"strings"
)

// Synthesiser collapses a Set into one FinalDecision. It is stateless and
// safe for concurrent use; every evaluation calls Synthesize exactly once
// on the full set of matched rule verdicts, after every policy has run —
// never per-policy.
type Synthesiser struct{}

// NewSynthesiser returns a ready-to-use Synthesiser.
func NewSynthesiser() *Synthesiser { return &Synthesiser{} }

// verbOrder lists every verb from highest to lowest priority.
var verbOrder = []Verb{Halt, Deny, Block, Ask, Modify, AllowOverride, Allow}

// Synthesize picks the highest-priority verb present in s, aggregates the
// reasons of every entry carrying that verb, and — for Modify — deep
// merges every entry's UpdatedInput in ascending priority order so that a
// higher-priority rule's edits win leaf conflicts. add_context entries
// never compete for the winning verb; they are always collected, and
// surfaced as the final Allow's context only when Allow wins.
func (y *Synthesiser) Synthesize(s *Set) FinalDecision {
	context := contextStrings(s.ByVerb(AddContext))

	if s.Empty() {
		return FinalDecision{Verb: Allow}
	}

	var winning Verb
	var entries []Entry
	found := false
	for _, v := range verbOrder {
		if v == Allow {
			continue
		}
		if e := s.ByVerb(v); len(e) > 0 {
			winning = v
			entries = e
			found = true
			break
		}
	}
	if !found {
		winning = Allow
	}

	fd := FinalDecision{Verb: winning}
	if winning != Allow {
		fd.Reason = aggregateReasons(entries)
		for _, e := range entries {
			fd.RuleIDs = append(fd.RuleIDs, e.RuleID)
		}
		fd.AgentMessages = agentMessages(entries)
	}

	if winning == Modify {
		fd.UpdatedInput = mergeModifications(entries)
	}
	if winning == Allow {
		fd.Context = context
	}

	return fd
}

// contextStrings extracts the contributed context string from every
// add_context entry, in iteration order.
func contextStrings(entries []Entry) []string {
	var out []string
	for _, e := range entries {
		for _, c := range e.AgentContext {
			out = append(out, c)
		}
	}
	return out
}

// agentMessages concatenates every winning entry's AgentContext, in
// iteration order, regardless of severity grouping.
func agentMessages(entries []Entry) []string {
	var out []string
	for _, e := range entries {
		out = append(out, e.AgentContext...)
	}
	return out
}

// severityRank ranks severities from most to least severe; unknown or
// absent severities rank lowest. Reason grouping uses severityGroup and
// the modification merge orders by Priority, so neither calls it.
func severityRank(sev Severity) int {
	switch sev {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium, SeverityModerate:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// severityGroup buckets a severity into one of the three aggregation
// groups the reason string reports separately: critical/high, medium/
// moderate, and everything else.
func severityGroup(sev Severity) string {
	switch sev {
	case SeverityCritical, SeverityHigh:
		return "HIGH"
	case SeverityMedium, SeverityModerate:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// aggregateReasons groups entries by severity bucket and joins their
// reasons; within a bucket, a reason is prefixed with "[rule_id] " only
// when more than one entry shares the bucket, so a single-cause decision
// reads as a plain sentence instead of "[only-rule] reason".
func aggregateReasons(entries []Entry) string {
	groups := map[string][]Entry{}
	var order []string
	for _, e := range entries {
		g := severityGroup(e.Severity)
		if _, seen := groups[g]; !seen {
			order = append(order, g)
		}
		groups[g] = append(groups[g], e)
	}

	// Stable, most-severe-first group ordering.
	sort.Slice(order, func(i, j int) bool {
		rank := map[string]int{"HIGH": 2, "MEDIUM": 1, "LOW": 0}
		return rank[order[i]] > rank[order[j]]
	})

	var parts []string
	for _, g := range order {
		es := groups[g]
		for _, e := range es {
			reason := e.Reason
			if len(es) > 1 && e.RuleID != "" {
				reason = fmt.Sprintf("[%s] %s", e.RuleID, reason)
			}
			parts = append(parts, reason)
		}
	}
	return strings.Join(parts, "; ")
}

// mergeModifications deep-merges every Modify entry's UpdatedInput, sorted
// by declared Priority ascending, so a higher-priority entry's leaves win.
// Objects recurse key by key; arrays and scalars are replaced wholesale.
func mergeModifications(entries []Entry) map[string]any {
	ordered := make([]Entry, len(entries))
	copy(ordered, entries)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})

	var merged map[string]any
	for _, e := range ordered {
		if e.UpdatedInput == nil {
			continue
		}
		if merged == nil {
			merged = deepCopyMap(e.UpdatedInput)
			continue
		}
		merged = deepMerge(merged, e.UpdatedInput)
	}
	return merged
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			out[k] = deepCopyMap(nested)
		} else {
			out[k] = v
		}
	}
	return out
}

// deepMerge merges overlay onto base, recursing into nested objects and
// replacing arrays and scalars wholesale on conflict.
func deepMerge(base, overlay map[string]any) map[string]any {
	out := deepCopyMap(base)
	for k, ov := range overlay {
		bv, exists := out[k]
		if !exists {
			out[k] = ov
			continue
		}
		bm, bIsMap := bv.(map[string]any)
		om, oIsMap := ov.(map[string]any)
		if bIsMap && oIsMap {
			out[k] = deepMerge(bm, om)
		} else {
			out[k] = ov
		}
	}
	return out
}
