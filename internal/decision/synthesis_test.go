package decision

import "testing"

func TestSynthesize_HighestVerbWins(t *testing.T) {
	s := &Set{}
	s.Add(Entry{RuleID: "r1", Verb: Allow})
	s.Add(Entry{RuleID: "r2", Verb: Ask, Reason: "needs review"})
	s.Add(Entry{RuleID: "r3", Verb: Block, Reason: "blocked", Severity: SeverityHigh})

	fd := NewSynthesiser().Synthesize(s)
	if fd.Verb != Block {
		t.Fatalf("Verb = %v, want %v", fd.Verb, Block)
	}
	if fd.Reason != "blocked" {
		t.Errorf("Reason = %q, want %q", fd.Reason, "blocked")
	}
}

func TestSynthesize_EmptySetAllows(t *testing.T) {
	fd := NewSynthesiser().Synthesize(&Set{})
	if fd.Verb != Allow {
		t.Fatalf("Verb = %v, want %v", fd.Verb, Allow)
	}
}

func TestSynthesize_ReasonAggregation_SingleRuleNoPrefix(t *testing.T) {
	s := &Set{}
	s.Add(Entry{RuleID: "no-secrets", Verb: Deny, Reason: "secret detected", Severity: SeverityHigh})

	fd := NewSynthesiser().Synthesize(s)
	if fd.Reason != "secret detected" {
		t.Errorf("Reason = %q, want unprefixed single reason", fd.Reason)
	}
}

func TestSynthesize_ReasonAggregation_MultiRulePrefixed(t *testing.T) {
	s := &Set{}
	s.Add(Entry{RuleID: "no-secrets", Verb: Deny, Reason: "secret detected", Severity: SeverityHigh})
	s.Add(Entry{RuleID: "no-prod-db", Verb: Deny, Reason: "prod db write", Severity: SeverityCritical})

	fd := NewSynthesiser().Synthesize(s)
	want := "[no-secrets] secret detected; [no-prod-db] prod db write"
	if fd.Reason != want {
		t.Errorf("Reason = %q, want %q", fd.Reason, want)
	}
}

func TestSynthesize_ModifyDeepMerge(t *testing.T) {
	// Matches the worked example: priorities 80 and 50, merging
	// {path:"/safe", nested:{k1:"v1"}} and {timeout:30, nested:{k2:"v2"}}
	// into {path:"/safe", timeout:30, nested:{k1:"v1", k2:"v2"}}.
	s := &Set{}
	s.Add(Entry{
		RuleID: "p80", Verb: Modify, Priority: 80,
		UpdatedInput: map[string]any{
			"path":   "/safe",
			"nested": map[string]any{"k1": "v1"},
		},
	})
	s.Add(Entry{
		RuleID: "p50", Verb: Modify, Priority: 50,
		UpdatedInput: map[string]any{
			"timeout": 30,
			"nested":  map[string]any{"k2": "v2"},
		},
	})

	fd := NewSynthesiser().Synthesize(s)
	if fd.Verb != Modify {
		t.Fatalf("Verb = %v, want %v", fd.Verb, Modify)
	}
	if fd.UpdatedInput["path"] != "/safe" {
		t.Errorf("path = %v, want preserved higher-priority value", fd.UpdatedInput["path"])
	}
	if fd.UpdatedInput["timeout"] != 30 {
		t.Errorf("timeout = %v, want preserved lower-priority key", fd.UpdatedInput["timeout"])
	}
	nested := fd.UpdatedInput["nested"].(map[string]any)
	if nested["k1"] != "v1" || nested["k2"] != "v2" {
		t.Errorf("nested = %v, want both keys preserved by recursive merge", nested)
	}
}

func TestSynthesize_ModifyDeepMerge_HigherPriorityWinsLeafConflict(t *testing.T) {
	s := &Set{}
	s.Add(Entry{RuleID: "low", Verb: Modify, Priority: 50,
		UpdatedInput: map[string]any{"command": "npm test"}})
	s.Add(Entry{RuleID: "high", Verb: Modify, Priority: 80,
		UpdatedInput: map[string]any{"command": "npm test --silent"}})

	fd := NewSynthesiser().Synthesize(s)
	if fd.UpdatedInput["command"] != "npm test --silent" {
		t.Errorf("command = %v, want higher-priority value to win", fd.UpdatedInput["command"])
	}
}

func TestSynthesize_ModifyDeepMerge_ArrayReplacedWholesale(t *testing.T) {
	s := &Set{}
	s.Add(Entry{RuleID: "a", Verb: Modify, Priority: 50,
		UpdatedInput: map[string]any{"flags": []any{"--a", "--b"}}})
	s.Add(Entry{RuleID: "b", Verb: Modify, Priority: 80,
		UpdatedInput: map[string]any{"flags": []any{"--c"}}})

	fd := NewSynthesiser().Synthesize(s)
	flags := fd.UpdatedInput["flags"].([]any)
	if len(flags) != 1 || flags[0] != "--c" {
		t.Errorf("flags = %v, want wholesale replacement by higher priority", flags)
	}
}

func TestSynthesize_AddContextNeverWinsButFeedsAllowContext(t *testing.T) {
	s := &Set{}
	s.Add(Entry{RuleID: "ctx1", Verb: AddContext, AgentContext: []string{"repo uses trunk-based development"}})
	s.Add(Entry{RuleID: "ctx2", Verb: AddContext, AgentContext: []string{"tests must pass before merge"}})

	fd := NewSynthesiser().Synthesize(s)
	if fd.Verb != Allow {
		t.Fatalf("Verb = %v, want %v", fd.Verb, Allow)
	}
	want := []string{"repo uses trunk-based development", "tests must pass before merge"}
	if len(fd.Context) != len(want) || fd.Context[0] != want[0] || fd.Context[1] != want[1] {
		t.Errorf("Context = %v, want %v", fd.Context, want)
	}
}

func TestSynthesize_AddContextDroppedWhenHigherVerbFires(t *testing.T) {
	s := &Set{}
	s.Add(Entry{RuleID: "ctx", Verb: AddContext, AgentContext: []string{"some context"}})
	s.Add(Entry{RuleID: "deny-rule", Verb: Deny, Reason: "denied"})

	fd := NewSynthesiser().Synthesize(s)
	if fd.Verb != Deny {
		t.Fatalf("Verb = %v, want %v", fd.Verb, Deny)
	}
	if fd.Context != nil {
		t.Errorf("Context = %v, want nil when a higher verb wins", fd.Context)
	}
}

func TestSynthesize_AgentMessagesCollectedFromWinningEntries(t *testing.T) {
	s := &Set{}
	s.Add(Entry{RuleID: "r1", Verb: Block, Reason: "blocked", AgentContext: []string{"tell the agent why"}})
	s.Add(Entry{RuleID: "r2", Verb: Block, Reason: "also blocked", AgentContext: []string{"and this too"}})

	fd := NewSynthesiser().Synthesize(s)
	want := []string{"tell the agent why", "and this too"}
	if len(fd.AgentMessages) != len(want) || fd.AgentMessages[0] != want[0] || fd.AgentMessages[1] != want[1] {
		t.Errorf("AgentMessages = %v, want %v", fd.AgentMessages, want)
	}
}

func TestPriority_Ordering(t *testing.T) {
	verbs := []Verb{Allow, AllowOverride, Modify, Ask, Block, Deny, Halt}
	for i := 1; i < len(verbs); i++ {
		if Priority(verbs[i]) <= Priority(verbs[i-1]) {
			t.Errorf("Priority(%s)=%d not greater than Priority(%s)=%d",
				verbs[i], Priority(verbs[i]), verbs[i-1], Priority(verbs[i-1]))
		}
	}
}
