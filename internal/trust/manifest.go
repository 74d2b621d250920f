// Package trust implements the trust manifest: a hashed inventory of
// every external script (signal or action) the engine is permitted to
// execute, keyed by category and script name, each entry recording a
// sha256 hash of the script's resolved content.
package trust

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ScriptKind distinguishes a trust entry whose Reference is a literal
// inline command from one whose Reference is a path to a script file.
type ScriptKind string

const (
	KindInline ScriptKind = "inline"
	KindFile   ScriptKind = "file"
)

// Category is one of the two namespaces the manifest keys entries under.
// A script registered only under one category is never trusted when
// invoked as the other — signals and actions are verified independently.
type Category string

const (
	CategorySignals Category = "signals"
	CategoryActions Category = "actions"
)

// Entry is one trusted script in the manifest. Size and ModTime are only
// populated for KindFile entries — an inline command has no backing file
// to stat.
type Entry struct {
	ScriptType ScriptKind `json:"script_type"`
	Reference  string     `json:"reference"` // command string (inline) or canonical absolute path (file)
	Hash       string     `json:"hash"`      // "sha256:<hex>"
	Size       int64      `json:"size,omitempty"`
	ModTime    time.Time  `json:"timestamp,omitempty"`
}

// Manifest is the on-disk trust document: a map of category to
// script-name to entry. It is written once by an out-of-band trust
// update operation and read only by the engine.
type Manifest struct {
	Signals map[string]Entry `json:"signals"`
	Actions map[string]Entry `json:"actions"`
}

// ManifestFileName is the conventional basename of the trust manifest
// inside a config root.
const ManifestFileName = ".trust"

// DefaultPath returns "<root>/.trust", the conventional manifest location.
func DefaultPath(root string) string {
	return filepath.Join(root, ManifestFileName)
}

// byCategory returns the mutable map backing category, initializing it
// on first use.
func (m *Manifest) byCategory(cat Category) map[string]Entry {
	switch cat {
	case CategoryActions:
		if m.Actions == nil {
			m.Actions = map[string]Entry{}
		}
		return m.Actions
	default:
		if m.Signals == nil {
			m.Signals = map[string]Entry{}
		}
		return m.Signals
	}
}

// Lookup returns the entry registered under (category, name), or
// ok=false if no such entry exists — including when name is registered
// only under the other category.
func (m *Manifest) Lookup(cat Category, name string) (Entry, bool) {
	var src map[string]Entry
	switch cat {
	case CategoryActions:
		src = m.Actions
	default:
		src = m.Signals
	}
	e, ok := src[name]
	return e, ok
}

// ParseScriptReference classifies a command string the way the rulebook
// registers signal/action scripts: if the first whitespace-delimited
// token names an existing file, it is a file reference (the file's
// contents are hashed); otherwise the whole string is hashed as an
// inline command.
func ParseScriptReference(command string) (kind ScriptKind, resolved string) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return KindInline, command
	}
	if info, err := os.Stat(fields[0]); err == nil && !info.IsDir() {
		abs, err := filepath.Abs(fields[0])
		if err != nil {
			abs = fields[0]
		}
		return KindFile, abs
	}
	return KindInline, command
}

// HashReference computes the "sha256:<hex>" digest for a script
// reference, reading file contents for KindFile and hashing the literal
// string for KindInline.
func HashReference(kind ScriptKind, resolved string) (string, error) {
	var data []byte
	if kind == KindFile {
		b, err := os.ReadFile(resolved)
		if err != nil {
			return "", fmt.Errorf("trust: reading %s: %w", resolved, err)
		}
		data = b
	} else {
		data = []byte(resolved)
	}
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// Load reads and parses a JSON manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("trust: parsing manifest %s: %w", path, err)
	}
	return &m, nil
}

// Save writes the manifest to path as JSON.
func (m *Manifest) Save(path string) error {
	if m.Signals == nil {
		m.Signals = map[string]Entry{}
	}
	if m.Actions == nil {
		m.Actions = map[string]Entry{}
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Put inserts or replaces the entry registered under (category, name).
// For KindFile, size and modtime are stat'd from resolved at call time.
func (m *Manifest) Put(cat Category, name string, kind ScriptKind, reference, hash string) error {
	entry := Entry{ScriptType: kind, Reference: reference, Hash: hash}
	if kind == KindFile {
		info, err := os.Stat(reference)
		if err != nil {
			return fmt.Errorf("trust: stat %s: %w", reference, err)
		}
		entry.Size = info.Size()
		entry.ModTime = info.ModTime()
	}
	m.byCategory(cat)[name] = entry
	return nil
}

// Remove deletes the entry registered under (category, name), reporting
// whether one existed.
func (m *Manifest) Remove(cat Category, name string) (Entry, bool) {
	src := m.byCategory(cat)
	e, ok := src[name]
	if ok {
		delete(src, name)
	}
	return e, ok
}
