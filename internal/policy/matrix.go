package policy

import (
	"fmt"

	"github.com/latticegate/sentry/internal/decision"
	"github.com/latticegate/sentry/internal/event"
)

// compatibility lists, for every event kind, which verbs a rule bound to
// it may legally emit, per the authoritative decision/event compatibility
// table: only pre-tool gets the full lattice (deny, ask, and modify are
// each valid on exactly one event kind); post-tool, user-prompt, and
// stop/substop/notification share halt, block, and allow_override;
// session-start and pre-compact support only add_context; session-end
// supports no decision verb at all. Allow is always legal — it is the
// synthesiser's implicit terminal outcome, never a verb a rule declares.
var compatibility = map[event.Kind][]decision.Verb{
	event.KindPreTool: {
		decision.Halt, decision.Deny, decision.Block, decision.Ask,
		decision.Modify, decision.AllowOverride, decision.AddContext, decision.Allow,
	},
	event.KindPostTool: {
		decision.Halt, decision.Block, decision.AllowOverride, decision.AddContext, decision.Allow,
	},
	event.KindUserPrompt: {
		decision.Halt, decision.Block, decision.AllowOverride, decision.AddContext, decision.Allow,
	},
	event.KindSessionStart: {decision.AddContext, decision.Allow},
	event.KindSessionEnd:   {decision.Allow},
	event.KindStop: {
		decision.Halt, decision.Block, decision.AllowOverride, decision.Allow,
	},
	event.KindSubagentStop: {
		decision.Halt, decision.Block, decision.AllowOverride, decision.Allow,
	},
	event.KindPreCompact: {decision.AddContext, decision.Allow},
	event.KindNotification: {
		decision.Halt, decision.Block, decision.AllowOverride, decision.Allow,
	},
}

// ValidateVerbForEvents checks that verb is legal for every kind a rule
// declares as required_events. A rule with no required_events (matches
// every kind) is checked against every kind in the matrix, since it
// could fire on any of them.
func ValidateVerbForEvents(ruleID string, verb decision.Verb, kinds []event.Kind) error {
	check := kinds
	if len(check) == 0 {
		for k := range compatibility {
			check = append(check, k)
		}
	}
	for _, k := range check {
		allowed, ok := compatibility[k]
		if !ok {
			return fmt.Errorf("policy %q: unknown event kind %q in required_events", ruleID, k)
		}
		if !verbAllowed(verb, allowed) {
			return fmt.Errorf("policy %q: verb %q is not legal for event kind %q", ruleID, verb, k)
		}
	}
	return nil
}

func verbAllowed(v decision.Verb, allowed []decision.Verb) bool {
	for _, a := range allowed {
		if a == v {
			return true
		}
	}
	return false
}
