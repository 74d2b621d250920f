// Package decision implements the seven-verb priority lattice and the
// synthesiser that collapses every matched policy's verdicts into one
// FinalDecision per evaluation.
package decision

// Verb is one of the seven decision verbs a policy rule can emit, plus the
// synthesiser's implicit terminal outcome Allow. Priority order, highest
// wins: Halt > Deny > Block > Ask > Modify > AllowOverride > Allow.
// AddContext sits outside the lattice entirely — a rule declaring it never
// competes for the winning verb, it only ever contributes a string to the
// eventual Allow's context array.
type Verb string

const (
	Halt          Verb = "halt"
	Deny          Verb = "deny"
	Block         Verb = "block"
	Ask           Verb = "ask"
	Modify        Verb = "modify"
	AllowOverride Verb = "allow_override"
	AddContext    Verb = "add_context"
	Allow         Verb = "allow"
)

// priority maps each lattice verb to its rank; higher wins. AddContext is
// deliberately absent — it never wins synthesis, so it has no rank.
var priority = map[Verb]int{
	Halt:          6,
	Deny:          5,
	Block:         4,
	Ask:           3,
	Modify:        2,
	AllowOverride: 1,
	Allow:         0,
}

// Priority returns v's rank in the lattice, or -1 for a verb outside it
// (AddContext, or an unknown verb).
func Priority(v Verb) int {
	p, ok := priority[v]
	if !ok {
		return -1
	}
	return p
}

// Severity is a policy rule's declared severity, used only to group
// reasons during synthesis — it plays no part in verb priority.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityModerate Severity = "MODERATE"
	SeverityLow      Severity = "LOW"
)

// Entry is one verdict emitted by one matched policy rule. Priority is
// only meaningful on a Modify entry (1..100, used to order the merge of
// concurrent modifications); it plays no part in verb priority, which is
// fixed by the lattice. AgentContext carries agent-facing messages: on a
// halt/deny/block/ask/allow_override entry it feeds agent_messages, on an
// add_context entry every element is a context string contributed to
// Allow.
type Entry struct {
	RuleID       string         `json:"rule_id"`
	Verb         Verb           `json:"verb"`
	Reason       string         `json:"reason,omitempty"`
	Severity     Severity       `json:"severity,omitempty"`
	Priority     int            `json:"priority,omitempty"`
	UpdatedInput map[string]any `json:"updated_input,omitempty"`
	AgentContext []string       `json:"agent_context,omitempty"`
}

// Set collects every Entry produced across every policy matched to an
// event, before synthesis. Order within each verb's slice is the order
// rules were evaluated in; synthesis must not depend on it beyond that.
type Set struct {
	Entries []Entry
}

// Add appends e to the set.
func (s *Set) Add(e Entry) { s.Entries = append(s.Entries, e) }

// ByVerb returns the subset of entries with the given verb, in evaluation
// order.
func (s *Set) ByVerb(v Verb) []Entry {
	var out []Entry
	for _, e := range s.Entries {
		if e.Verb == v {
			out = append(out, e)
		}
	}
	return out
}

// Empty reports whether no policy emitted any verdict at all.
func (s *Set) Empty() bool { return len(s.Entries) == 0 }

// FinalDecision is the single outcome returned to the caller of
// engine.Evaluate after synthesis. AgentMessages collects the winning
// entries' AgentContext, regardless of verb. Context is populated only
// when Verb is Allow: the concatenation, in iteration order, of every
// add_context entry's contributed string.
type FinalDecision struct {
	Verb          Verb           `json:"verb"`
	Reason        string         `json:"reason,omitempty"`
	UpdatedInput  map[string]any `json:"updated_input,omitempty"`
	RuleIDs       []string       `json:"rule_ids,omitempty"`
	Context       []string       `json:"context,omitempty"`
	AgentMessages []string       `json:"agent_messages,omitempty"`
}
