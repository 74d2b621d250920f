package policy

import "github.com/latticegate/sentry/internal/decision"

// Rule is one compiled, routable policy rule: its metadata (id, severity,
// routing) plus the compiled CEL condition and the static verdict shape
// it emits when that condition is true.
type Rule struct {
	Meta Metadata

	Verb             decision.Verb
	Reason           string
	Priority         int      // 1..100, only meaningful for Verb == Modify
	AgentContext     []string // agent-facing text: feeds agent_messages, or Allow's context for Verb == AddContext
	UpdatedInputExpr string   // CEL expression evaluating to a map, only used for Verb == Modify

	Condition        CompiledRule
	UpdatedInputRule *CompiledRule // nil unless UpdatedInputExpr is set

	// SourceFile is the path the rule was loaded from, used only for
	// load-time error messages.
	SourceFile string
}

// RuleSource is the raw, uncompiled declaration read from a policy file
// before the loader compiles its CEL expressions.
type RuleSource struct {
	Meta             Metadata
	Verb             decision.Verb
	Reason           string
	Priority         int
	AgentContext     []string
	Condition        string
	UpdatedInputExpr string
	SourceFile       string
}
