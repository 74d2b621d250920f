// Package action implements fire-and-forget dispatch of external scripts
// in response to fired policy rules — logging to Slack, rolling back a
// change, paging an on-call engineer, and similar side effects that must
// never delay the decision the engine returns.
package action

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/latticegate/sentry/internal/decision"
	"github.com/latticegate/sentry/internal/trust"
)

// OnAnyDenial is the synthetic rule-ID bucket for scripts that should
// fire whenever the final verb is Halt, Deny, or Block, regardless of
// which specific rule produced it.
const OnAnyDenial = "on_any_denial"

// Registration is one rulebook-declared action binding.
type Registration struct {
	RuleID  string
	Command string
}

// Dispatcher fires action scripts for the rule IDs present in a
// synthesized decision. Discovery unions two sources: explicit
// Registrations (from the rulebook) and a filesystem convention where
// any file under ActionsDir named "<rule-id>.<ext>" is treated as that
// rule's action, with no rulebook entry required.
type Dispatcher struct {
	mu        sync.RWMutex
	byRule    map[string][]string // ruleID -> commands
	verifier  *trust.Verifier
	actionsDir string
	logger    *slog.Logger
}

// New creates a Dispatcher. actionsDir may be "" to disable filesystem
// convention discovery.
func New(registrations []Registration, actionsDir string, verifier *trust.Verifier, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		byRule:     map[string][]string{},
		verifier:   verifier,
		actionsDir: actionsDir,
		logger:     logger.With("component", "action.Dispatcher"),
	}
	for _, r := range registrations {
		d.byRule[r.RuleID] = append(d.byRule[r.RuleID], r.Command)
	}
	d.discoverConvention()
	return d
}

// discoverConvention scans ActionsDir for "<rule-id>.<ext>" files and
// registers each as an action for that rule ID, in addition to (not
// instead of) any rulebook registrations for the same rule.
func (d *Dispatcher) discoverConvention() {
	if d.actionsDir == "" {
		return
	}
	entries, err := os.ReadDir(d.actionsDir)
	if err != nil {
		if !os.IsNotExist(err) {
			d.logger.Warn("failed to scan actions directory", "dir", d.actionsDir, "error", err)
		}
		return
	}
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		name := ent.Name()
		ext := filepath.Ext(name)
		ruleID := strings.TrimSuffix(name, ext)
		path := filepath.Join(d.actionsDir, name)
		d.byRule[ruleID] = append(d.byRule[ruleID], path)
	}
}

// Dispatch fires every action bound to a rule ID present in fd, plus
// every OnAnyDenial-bound action when fd's verb is Halt/Deny/Block. It
// returns immediately; scripts run in detached goroutines.
func (d *Dispatcher) Dispatch(fd decision.FinalDecision) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	seen := map[string]bool{}
	ruleIDs := append([]string{}, fd.RuleIDs...)
	if isDenial(fd.Verb) {
		ruleIDs = append(ruleIDs, OnAnyDenial)
	}

	payload, _ := json.Marshal(fd)

	for _, ruleID := range ruleIDs {
		for _, cmd := range d.byRule[ruleID] {
			key := ruleID + "|" + cmd
			if seen[key] {
				continue
			}
			seen[key] = true
			go d.run(ruleID, cmd, payload)
		}
	}
}

func isDenial(v decision.Verb) bool {
	return v == decision.Halt || v == decision.Deny || v == decision.Block
}

func (d *Dispatcher) run(ruleID, command string, payload []byte) {
	if d.verifier != nil {
		if err := d.verifier.Verify(trust.CategoryActions, ruleID, command); err != nil {
			d.logger.Error("action script failed trust verification, not running",
				"rule_id", ruleID, "error", err)
			return
		}
	}

	cmd := buildCommand(command)
	cmd.Stdin = strings.NewReader(string(payload))
	if out, err := cmd.CombinedOutput(); err != nil {
		d.logger.Error("action script failed",
			"rule_id", ruleID, "error", err, "output", string(out))
		return
	}
	d.logger.Info("action dispatched", "rule_id", ruleID)
}

// buildCommand prepares command for execution: if its first
// whitespace-delimited token resolves to an existing file, it is run
// directly (the remaining tokens become its arguments); otherwise the
// whole string is passed to a system shell, so a bound action can be
// either a bare executable path or an arbitrary shell pipeline.
func buildCommand(command string) *exec.Cmd {
	fields := strings.Fields(command)
	if len(fields) > 0 {
		if info, err := os.Stat(fields[0]); err == nil && !info.IsDir() {
			return exec.Command(fields[0], fields[1:]...)
		}
	}
	return exec.Command("sh", "-c", command)
}

// Describe returns a human-readable summary of registered bindings, used
// by the administrative CLI and the debug stream.
func (d *Dispatcher) Describe() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var b strings.Builder
	for ruleID, cmds := range d.byRule {
		fmt.Fprintf(&b, "%s: %d action(s)\n", ruleID, len(cmds))
	}
	return b.String()
}
