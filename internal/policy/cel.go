package policy

import (
	"fmt"
	"log/slog"
	"reflect"

	"github.com/google/cel-go/cel"

	"github.com/latticegate/sentry/internal/event"
)

var mapStringAnyType = reflect.TypeOf(map[string]any{})

// CompiledRule wraps a pre-compiled, pre-built CEL program. Programs are
// compiled once at load time and reused for every evaluation; a fresh
// activation (variable binding) is built per call, so the same program
// is safe for concurrent evaluation against different events.
type CompiledRule struct {
	Expression string
	program    cel.Program
}

// CELEvaluator compiles and evaluates CEL expressions against an Event.
// It is the sandboxed, pure-function evaluation backend standing in for
// a WASM module: expressions have no access to anything but the
// variables bound below, so a policy condition cannot perform I/O,
// spawn a process, or mutate engine state.
type CELEvaluator struct {
	env    *cel.Env
	logger *slog.Logger
}

// NewCELEvaluator creates a CELEvaluator with every variable a policy
// condition may reference.
func NewCELEvaluator(logger *slog.Logger) (*CELEvaluator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	env, err := cel.NewEnv(
		cel.Variable("kind", cel.StringType),
		cel.Variable("tool_name", cel.StringType),
		cel.Variable("tool_input", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("tool_response", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("prompt", cel.StringType),
		cel.Variable("cwd", cel.StringType),
		cel.Variable("session_id", cel.StringType),
		cel.Variable("agent_id", cel.StringType),
		cel.Variable("signals", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("is_symlink", cel.BoolType),
		cel.Variable("resolved_file_path", cel.StringType),
		cel.Variable("original_file_path", cel.StringType),
		cel.Variable("is_script_execution", cel.BoolType),
		cel.Variable("script_path", cel.StringType),
		cel.Variable("script_content", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("policy: failed to create CEL environment: %w", err)
	}

	return &CELEvaluator{env: env, logger: logger.With("component", "policy.CELEvaluator")}, nil
}

// CompileCondition compiles a boolean CEL expression. Must be called at
// load time; a compile error here is fatal to loading the corpus.
func (c *CELEvaluator) CompileCondition(expr string) (CompiledRule, error) {
	return c.compile(expr, cel.BoolType)
}

// CompileUpdatedInput compiles a CEL expression that must evaluate to a
// map, used by Modify rules to compute their updated_input.
func (c *CELEvaluator) CompileUpdatedInput(expr string) (CompiledRule, error) {
	return c.compile(expr, cel.MapType(cel.StringType, cel.DynType))
}

func (c *CELEvaluator) compile(expr string, want *cel.Type) (CompiledRule, error) {
	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return CompiledRule{}, fmt.Errorf("CEL compile error in %q: %w", expr, issues.Err())
	}
	if !ast.OutputType().IsExactType(want) {
		return CompiledRule{}, fmt.Errorf("CEL expression %q must evaluate to %s, got %s", expr, want, ast.OutputType())
	}
	prg, err := c.env.Program(ast)
	if err != nil {
		return CompiledRule{}, fmt.Errorf("CEL program creation failed for %q: %w", expr, err)
	}
	return CompiledRule{Expression: expr, program: prg}, nil
}

// activation builds the CEL variable bindings for one event.
func activation(e *event.Event) map[string]any {
	toolInput := e.ToolInput
	if toolInput == nil {
		toolInput = map[string]any{}
	}
	toolResponse := e.ToolResponse
	if toolResponse == nil {
		toolResponse = map[string]any{}
	}
	signals := e.Signals
	if signals == nil {
		signals = map[string]any{}
	}

	return map[string]any{
		"kind":                string(e.Kind),
		"tool_name":           e.ToolName,
		"tool_input":          toolInput,
		"tool_response":       toolResponse,
		"prompt":              e.Prompt,
		"cwd":                 e.CWD,
		"session_id":          e.SessionID,
		"agent_id":            e.AgentID,
		"signals":             signals,
		"is_symlink":          e.IsSymlink,
		"resolved_file_path":  e.ResolvedFilePath,
		"original_file_path":  e.OriginalFilePath,
		"is_script_execution": e.IsScriptExecution,
		"script_path":         e.ScriptPath,
		"script_content":      e.ScriptContent,
	}
}

// EvaluateCondition runs rule's condition program against e.
func (c *CELEvaluator) EvaluateCondition(rule CompiledRule, e *event.Event) (bool, error) {
	out, _, err := rule.program.Eval(activation(e))
	if err != nil {
		return false, fmt.Errorf("CEL evaluation error for %q: %w", rule.Expression, err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression %q returned non-bool: %T", rule.Expression, out.Value())
	}
	return result, nil
}

// EvaluateUpdatedInput runs rule's updated-input program against e and
// converts the result to a plain map[string]any.
func (c *CELEvaluator) EvaluateUpdatedInput(rule CompiledRule, e *event.Event) (map[string]any, error) {
	out, _, err := rule.program.Eval(activation(e))
	if err != nil {
		return nil, fmt.Errorf("CEL evaluation error for %q: %w", rule.Expression, err)
	}
	converted, err := out.ConvertToNative(mapStringAnyType)
	if err != nil {
		return nil, fmt.Errorf("CEL updated_input %q did not convert to map: %w", rule.Expression, err)
	}
	m, ok := converted.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("CEL updated_input %q produced %T, not map[string]any", rule.Expression, converted)
	}
	return m, nil
}
