package policy

import (
	"testing"

	"github.com/latticegate/sentry/internal/decision"
)

const samplePolicySource = `# METADATA
# severity: HIGH
# routing:
#   required_events: ["pre-tool"]
#   required_tools: ["Bash"]

# METADATA
# id: block-rm-rf
# title: Block destructive rm invocations
verb: block
reason: "refusing to run rm -rf against the filesystem root"
condition: tool_input.command.contains("rm -rf /")

# METADATA
# id: ask-curl-pipe-sh
# title: Ask before piping a download into a shell
# severity: MEDIUM
verb: ask
condition: tool_input.command.contains("curl") && tool_input.command.contains("| sh")
`

func TestParseSource_PackageDefaultsMergeIntoRules(t *testing.T) {
	rules, err := ParseSource("sample.policy", samplePolicySource)
	if err != nil {
		t.Fatalf("ParseSource() error: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("got %d rules, want 2", len(rules))
	}

	first := rules[0]
	if first.Meta.ID != "block-rm-rf" {
		t.Errorf("first rule id = %q, want block-rm-rf", first.Meta.ID)
	}
	if first.Meta.Severity != decision.SeverityHigh {
		t.Errorf("first rule should inherit package default severity HIGH, got %q", first.Meta.Severity)
	}
	if len(first.Meta.Routing.RequiredTools) != 1 || first.Meta.Routing.RequiredTools[0] != "Bash" {
		t.Errorf("first rule should inherit package default routing, got %+v", first.Meta.Routing)
	}
	if first.Verb != decision.Block {
		t.Errorf("first rule verb = %q, want block", first.Verb)
	}

	second := rules[1]
	if second.Meta.Severity != decision.SeverityMedium {
		t.Errorf("second rule should override package default severity, got %q", second.Meta.Severity)
	}
	if len(second.Meta.Routing.RequiredTools) != 1 || second.Meta.Routing.RequiredTools[0] != "Bash" {
		t.Errorf("second rule should still inherit package default routing, got %+v", second.Meta.Routing)
	}
}

func TestParseSource_MissingConditionIsError(t *testing.T) {
	src := `# METADATA
# id: bad-rule
verb: block
reason: "no condition here"
`
	if _, err := ParseSource("bad.policy", src); err == nil {
		t.Error("expected error for rule missing a condition")
	}
}

func TestParseSource_MissingVerbIsError(t *testing.T) {
	src := `# METADATA
# id: bad-rule
condition: tool_name == "Bash"
`
	if _, err := ParseSource("bad.policy", src); err == nil {
		t.Error("expected error for rule missing a verb")
	}
}

func TestParseSource_NoMetadataBlockIsError(t *testing.T) {
	if _, err := ParseSource("empty.policy", "just some text\n"); err == nil {
		t.Error("expected error for a file with no METADATA block")
	}
}

func TestParseSource_ModifyRulePriorityParsed(t *testing.T) {
	src := `# METADATA
# id: rewrite-path
verb: modify
priority: 80
condition: tool_input.path.contains("/tmp")
updated_input: {"path": "/safe"}
`
	rules, err := ParseSource("rewrite.policy", src)
	if err != nil {
		t.Fatalf("ParseSource() error: %v", err)
	}
	if rules[0].Priority != 80 {
		t.Errorf("Priority = %d, want 80", rules[0].Priority)
	}
}

func TestParseSource_ModifyRuleMissingPriorityIsError(t *testing.T) {
	src := `# METADATA
# id: rewrite-path
verb: modify
condition: tool_input.path.contains("/tmp")
updated_input: {"path": "/safe"}
`
	if _, err := ParseSource("rewrite.policy", src); err == nil {
		t.Error("expected error for a modify rule with no priority")
	}
}

func TestParseSource_ModifyRulePriorityOutOfRangeIsError(t *testing.T) {
	src := `# METADATA
# id: rewrite-path
verb: modify
priority: 150
condition: tool_input.path.contains("/tmp")
updated_input: {"path": "/safe"}
`
	if _, err := ParseSource("rewrite.policy", src); err == nil {
		t.Error("expected error for a modify rule with priority out of 1..100")
	}
}

func TestParseSource_AgentContextParsed(t *testing.T) {
	src := `# METADATA
# id: note-context
verb: add_context
condition: "true"
agent_context: "repo uses trunk-based development"
`
	rules, err := ParseSource("context.policy", src)
	if err != nil {
		t.Fatalf("ParseSource() error: %v", err)
	}
	if len(rules[0].AgentContext) != 1 || rules[0].AgentContext[0] != "repo uses trunk-based development" {
		t.Errorf("AgentContext = %v, want one entry", rules[0].AgentContext)
	}
}
