// Package event defines the polymorphic document the engine evaluates:
// one shape covering every harness lifecycle moment, with loosely typed
// tool input/response payloads so new tools never require a schema change.
package event

// Kind identifies which harness lifecycle moment produced an Event.
type Kind string

const (
	KindPreTool      Kind = "pre-tool"
	KindPostTool     Kind = "post-tool"
	KindUserPrompt   Kind = "user-prompt"
	KindSessionStart Kind = "session-start"
	KindSessionEnd   Kind = "session-end"
	KindStop         Kind = "stop"
	KindSubagentStop Kind = "subagent-stop"
	KindPreCompact   Kind = "pre-compact"
	KindNotification Kind = "notification"
)

// Wildcard is the routing-index bucket for policies that declare no
// required_events and therefore match every event kind.
const Wildcard Kind = "*"

// Event is the single data shape passed through preprocessing, routing,
// signal gathering, and evaluation. ToolInput/ToolResponse/Prompt fields
// are populated only for the event kinds that carry them; accessors
// return the zero value rather than panicking when absent.
type Event struct {
	Kind         Kind           `json:"kind"`
	SessionID    string         `json:"session_id"`
	AgentID      string         `json:"agent_id,omitempty"`
	CWD          string         `json:"cwd"`
	TranscriptID string         `json:"transcript_id,omitempty"`
	ToolName     string         `json:"tool_name,omitempty"`
	ToolInput    map[string]any `json:"tool_input,omitempty"`
	ToolResponse map[string]any `json:"tool_response,omitempty"`
	Prompt       string         `json:"prompt,omitempty"`

	// Signals is populated by the signal runner before evaluation and
	// read by policy conditions; it is never set by the harness.
	Signals map[string]any `json:"signals,omitempty"`

	// Preprocessing-derived fields, set by internal/preprocess.
	IsSymlink         bool   `json:"is_symlink,omitempty"`
	ResolvedFilePath  string `json:"resolved_file_path,omitempty"`
	OriginalFilePath  string `json:"original_file_path,omitempty"`
	ScriptContent     string `json:"script_content,omitempty"`
	ScriptPath        string `json:"script_path,omitempty"`
	IsScriptExecution bool   `json:"is_script_execution,omitempty"`
}

// StringField returns a top-level tool-input field as a string, or "".
func (e *Event) StringField(name string) string {
	if e.ToolInput == nil {
		return ""
	}
	v, ok := e.ToolInput[name]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Command returns the shell command of a Bash-shaped tool input.
func (e *Event) Command() string { return e.StringField("command") }

// DefaultPathFields are the tool-input keys the preprocessor treats as
// filesystem paths, in priority order. Overridable via
// preprocess.Config.PathFields.
var DefaultPathFields = []string{"file_path", "path", "notebook_path"}

// PrimaryPath returns the first populated path-bearing field using the
// supplied field-name priority list.
func (e *Event) PrimaryPath(fields []string) (field, value string) {
	for _, f := range fields {
		if v := e.StringField(f); v != "" {
			return f, v
		}
	}
	return "", ""
}

// SetPath writes a resolved path back into the tool input under the
// field it was originally read from, so downstream consumers (and any
// re-serialisation back to the harness) see the canonicalised value.
func (e *Event) SetPath(field, value string) {
	if e.ToolInput == nil {
		e.ToolInput = map[string]any{}
	}
	e.ToolInput[field] = value
}
