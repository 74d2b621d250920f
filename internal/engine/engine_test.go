package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/latticegate/sentry/internal/action"
	"github.com/latticegate/sentry/internal/decision"
	"github.com/latticegate/sentry/internal/event"
	"github.com/latticegate/sentry/internal/policy"
	"github.com/latticegate/sentry/internal/preprocess"
)

func writePolicy(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func newTestEngine(t *testing.T, policyDir string) *Engine {
	t.Helper()
	cel, err := policy.NewCELEvaluator(nil)
	if err != nil {
		t.Fatalf("NewCELEvaluator: %v", err)
	}
	loader := policy.NewLoader(cel, nil)
	corpus, err := loader.Load(policyDir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	pre := preprocess.New(preprocess.Config{}, nil)
	dispatcher := action.New(nil, "", nil, nil)

	return New(pre, cel, policy.NewLiveCorpus(corpus), nil, nil, nil, dispatcher, nil)
}

func TestEngine_Evaluate_BlockOnMatchingRule(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "bash.policy", `# METADATA
# id: block-rm-rf
# severity: HIGH
# routing:
#   required_events: ["pre-tool"]
#   required_tools: ["Bash"]
verb: block
reason: "destructive command"
condition: tool_input.command.contains("rm -rf /")
`)

	eng := newTestEngine(t, dir)
	ev := &event.Event{
		Kind:      event.KindPreTool,
		ToolName:  "Bash",
		ToolInput: map[string]any{"command": "rm -rf /"},
	}

	fd, err := eng.Evaluate(context.Background(), ev)
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if fd.Verb != decision.Block {
		t.Errorf("Verb = %v, want Block", fd.Verb)
	}
	if len(fd.RuleIDs) != 1 || fd.RuleIDs[0] != "block-rm-rf" {
		t.Errorf("RuleIDs = %v, want [block-rm-rf]", fd.RuleIDs)
	}
}

func TestEngine_Evaluate_AllowWhenNoRuleMatches(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "bash.policy", `# METADATA
# id: block-rm-rf
# routing:
#   required_events: ["pre-tool"]
#   required_tools: ["Bash"]
verb: block
condition: tool_input.command.contains("rm -rf /")
`)

	eng := newTestEngine(t, dir)
	ev := &event.Event{
		Kind:      event.KindPreTool,
		ToolName:  "Bash",
		ToolInput: map[string]any{"command": "ls -la"},
	}

	fd, err := eng.Evaluate(context.Background(), ev)
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if fd.Verb != decision.Allow {
		t.Errorf("Verb = %v, want Allow", fd.Verb)
	}
}

func TestEngine_Evaluate_GuardrailHaltsBeforeCorpusRules(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "noop.policy", `# METADATA
# id: never-fires
# routing:
#   required_events: ["pre-tool"]
verb: allow_override
condition: false
`)

	cel, err := policy.NewCELEvaluator(nil)
	if err != nil {
		t.Fatalf("NewCELEvaluator: %v", err)
	}
	loader := policy.NewLoader(cel, nil)
	corpus, err := loader.Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	guardrail := policy.NewRulebookRootGuardrail(dir)
	dispatcher := action.New(nil, "", nil, nil)
	eng := New(nil, cel, policy.NewLiveCorpus(corpus), guardrail, nil, nil, dispatcher, nil)

	ev := &event.Event{
		Kind:             event.KindPreTool,
		ToolName:         "Write",
		ResolvedFilePath: filepath.Join(dir, "noop.policy"),
	}

	fd, err := eng.Evaluate(context.Background(), ev)
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if fd.Verb != decision.Halt {
		t.Errorf("Verb = %v, want Halt", fd.Verb)
	}
}

func TestChain_GlobalBlockShortCircuitsProject(t *testing.T) {
	globalDir := t.TempDir()
	writePolicy(t, globalDir, "global.policy", `# METADATA
# id: global-block-bash
# routing:
#   required_events: ["pre-tool"]
#   required_tools: ["Bash"]
verb: block
condition: true
`)
	projectDir := t.TempDir()
	writePolicy(t, projectDir, "project.policy", `# METADATA
# id: project-allow-override
# routing:
#   required_events: ["pre-tool"]
#   required_tools: ["Bash"]
verb: allow_override
condition: true
`)

	global := newTestEngine(t, globalDir)
	project := newTestEngine(t, projectDir)
	chain := NewChain(global, project)

	ev := &event.Event{Kind: event.KindPreTool, ToolName: "Bash", ToolInput: map[string]any{"command": "echo hi"}}
	fd, err := chain.Evaluate(context.Background(), ev)
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if fd.Verb != decision.Block {
		t.Errorf("Verb = %v, want Block (from global root)", fd.Verb)
	}
	if len(fd.RuleIDs) != 1 || fd.RuleIDs[0] != "global-block-bash" {
		t.Errorf("RuleIDs = %v, want [global-block-bash]", fd.RuleIDs)
	}
}

func TestChain_ProjectResultUsedWhenGlobalAllows(t *testing.T) {
	globalDir := t.TempDir()
	writePolicy(t, globalDir, "global.policy", `# METADATA
# id: global-noop
# routing:
#   required_events: ["pre-tool"]
verb: allow_override
condition: false
`)
	projectDir := t.TempDir()
	writePolicy(t, projectDir, "project.policy", `# METADATA
# id: project-ask
# routing:
#   required_events: ["pre-tool"]
#   required_tools: ["Bash"]
verb: ask
condition: true
`)

	global := newTestEngine(t, globalDir)
	project := newTestEngine(t, projectDir)
	chain := NewChain(global, project)

	ev := &event.Event{Kind: event.KindPreTool, ToolName: "Bash", ToolInput: map[string]any{"command": "echo hi"}}
	fd, err := chain.Evaluate(context.Background(), ev)
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if fd.Verb != decision.Ask {
		t.Errorf("Verb = %v, want Ask (from project root)", fd.Verb)
	}
}
