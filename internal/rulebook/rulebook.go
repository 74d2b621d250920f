// Package rulebook parses the top-level YAML document that declares a
// policy root's named signals, named actions, and builtin policy
// toggles, plus the file-convention discovery that lets an author skip
// explicit registration entirely.
package rulebook

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Signal is one named external script producing JSON (or a raw scalar)
// on stdout, gathered on demand per evaluation and never cached.
type Signal struct {
	Name    string        `yaml:"name"`
	Command string        `yaml:"command"`
	Timeout time.Duration `yaml:"timeout"`
}

// Action is one named external script bound either to a specific rule
// ID or to the reserved "on_any_denial" name, fired fire-and-forget when
// that rule (or any halt/deny/block) fires.
type Action struct {
	Name    string `yaml:"name"`
	Command string `yaml:"command"`
}

// Document is the parsed contents of <root>/rulebook.yml.
type Document struct {
	Signals []Signal `yaml:"signals"`
	Actions []Action `yaml:"actions"`

	// Builtins accepts toggles for forward compatibility with future
	// built-in policies. The rulebook-root guardrail is deliberately not
	// among them: it cannot be disabled from the rulebook, so a
	// "rulebook_root_guardrail" key here, if present, is ignored.
	Builtins map[string]bool `yaml:"builtins"`
}

// Load reads and parses <root>/rulebook.yml. A missing file is not an
// error — it is equivalent to an empty Document, since every signal and
// action may instead come from file-convention discovery.
func Load(root string) (*Document, error) {
	path := filepath.Join(root, "rulebook.yml")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rulebook: reading %s: %w", path, err)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("rulebook: parsing %s: %w", path, err)
	}
	return &doc, nil
}

// DiscoverSignals finds every "<root>/signals/<name>.sh" file not
// already named in explicit, returning one Signal per discovered file
// whose command is the script's path.
func DiscoverSignals(root string, explicit []Signal) ([]Signal, error) {
	named := make(map[string]bool, len(explicit))
	for _, s := range explicit {
		named[s.Name] = true
	}

	dir := filepath.Join(root, "signals")
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return explicit, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rulebook: scanning %s: %w", dir, err)
	}

	out := append([]Signal{}, explicit...)
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".sh" {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".sh")
		if named[name] {
			continue
		}
		out = append(out, Signal{Name: name, Command: filepath.Join(dir, e.Name())})
	}
	return out, nil
}

// DiscoverActions finds every "<root>/actions/<rule-id>.<ext>" file not
// already bound to ruleID in explicit, returning one Action per
// discovered file keyed by the rule ID embedded in its filename.
func DiscoverActions(root string, explicit []Action) ([]Action, error) {
	bound := make(map[string]bool, len(explicit))
	for _, a := range explicit {
		bound[a.Name] = true
	}

	dir := filepath.Join(root, "actions")
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return explicit, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rulebook: scanning %s: %w", dir, err)
	}

	out := append([]Action{}, explicit...)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		if bound[name] {
			continue
		}
		out = append(out, Action{Name: name, Command: filepath.Join(dir, e.Name())})
	}
	return out, nil
}
