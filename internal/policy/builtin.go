package policy

import (
	"path/filepath"
	"strings"

	"github.com/latticegate/sentry/internal/decision"
	"github.com/latticegate/sentry/internal/event"
)

// builtinRulebookRootID is the fixed rule ID the guardrail reports in
// synthesised decisions and in the debug routing stream, so operators
// can tell it apart from anything a rulebook author wrote.
const builtinRulebookRootID = "builtin.rulebook_root_guardrail"

// RulebookRootGuardrail is the one always-loaded policy that cannot be
// disabled by config: it halts any tool-call event (pre-tool or
// post-tool) whose resolved path falls inside the config root where the
// trust manifest and policy corpus live, regardless of event kind. It
// runs before every user rule and ignores routing — without it a
// compromised agent could edit the manifest that is supposed to prevent
// exactly that, either before the write (pre-tool) or by being let through
// and caught only after the fact (post-tool). Checked on the hot path, so
// it does no CEL compilation or allocation beyond a single path
// comparison.
type RulebookRootGuardrail struct {
	root string
}

// NewRulebookRootGuardrail builds the guardrail for the given config
// root directory (trust manifest + policy corpus location). root is
// made absolute-clean once at construction so every check is a cheap
// prefix comparison.
func NewRulebookRootGuardrail(root string) *RulebookRootGuardrail {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = filepath.Clean(root)
	}
	return &RulebookRootGuardrail{root: abs}
}

// Check returns a Halt entry if e is a pre-tool or post-tool event whose
// resolved path falls inside the guarded root, or the zero Entry and
// false otherwise.
func (g *RulebookRootGuardrail) Check(e *event.Event) (decision.Entry, bool) {
	if e.Kind != event.KindPreTool && e.Kind != event.KindPostTool {
		return decision.Entry{}, false
	}
	path := e.ResolvedFilePath
	if path == "" {
		_, path = e.PrimaryPath(event.DefaultPathFields)
	}
	if path == "" || !g.withinRoot(path) {
		return decision.Entry{}, false
	}
	return decision.Entry{
		RuleID:   builtinRulebookRootID,
		Verb:     decision.Halt,
		Severity: decision.SeverityCritical,
		Reason:   "refusing to modify the policy/trust manifest root",
	}, true
}

func (g *RulebookRootGuardrail) withinRoot(path string) bool {
	clean := filepath.Clean(path)
	if clean == g.root {
		return true
	}
	return strings.HasPrefix(clean, g.root+string(filepath.Separator))
}
