package trust

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
)

// Sentinel errors distinguishing why a script failed verification; the
// caller (signal runner / action dispatcher) uses errors.Is to decide
// whether to skip the script silently or surface it as a misconfiguration.
var (
	// ErrScriptNotFound means a file-kind reference's backing file is
	// missing — the script can't even be hashed.
	ErrScriptNotFound = errors.New("trust: script file not found")
	// ErrScriptNotTrusted means no manifest entry exists for the
	// reference at all.
	ErrScriptNotTrusted = errors.New("trust: script not in manifest")
	// ErrScriptModified means a manifest entry exists but the script's
	// current hash no longer matches it.
	ErrScriptModified = errors.New("trust: script hash does not match manifest")
)

// Verifier checks script references against a loaded Manifest. Reads
// (Verify) take the read lock so concurrent signal/action dispatch never
// blocks on each other; Reload takes the write lock and atomically swaps
// the manifest. If no manifest was ever loaded, verification is disabled
// entirely and every Verify call succeeds — this lets an engine run
// without a trust layer during early setup, matching the trust manifest's
// optional status in the corpus.
type Verifier struct {
	mu       sync.RWMutex
	manifest *Manifest
	path     string
	logger   *slog.Logger
}

// NewVerifier constructs a Verifier. If path does not exist, verification
// starts disabled; call Reload later once a manifest is written.
func NewVerifier(path string, logger *slog.Logger) (*Verifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	v := &Verifier{path: path, logger: logger.With("component", "trust.Verifier")}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		v.logger.Info("no trust manifest present, verification disabled", "path", path)
		return v, nil
	}

	if err := v.Reload(); err != nil {
		return nil, err
	}
	return v, nil
}

// Reload re-reads the manifest file from disk and atomically replaces
// the in-memory copy. Existing in-flight Verify calls keep using the
// manifest snapshot they started with.
func (v *Verifier) Reload() error {
	m, err := Load(v.path)
	if err != nil {
		return fmt.Errorf("trust: reloading manifest: %w", err)
	}
	v.mu.Lock()
	v.manifest = m
	v.mu.Unlock()
	v.logger.Info("trust manifest reloaded", "signals", len(m.Signals), "actions", len(m.Actions))
	return nil
}

// Enabled reports whether a manifest has been loaded.
func (v *Verifier) Enabled() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.manifest != nil
}

// Verify checks name (the signal or action name it is registered under in
// the rulebook) against the manifest within category, confirming command
// is still the trusted reference and its hash is unchanged. It returns
// nil if verification is disabled, or if the script is present in that
// category and its hash matches; otherwise one of ErrScriptNotFound,
// ErrScriptNotTrusted, or ErrScriptModified. A script trusted only under
// the other category is treated as not trusted at all — the per-category
// lookup exists precisely so a signal script can't be invoked as an
// action, or vice versa, just because some entry shares its name.
func (v *Verifier) Verify(cat Category, name, command string) error {
	v.mu.RLock()
	m := v.manifest
	v.mu.RUnlock()

	if m == nil {
		return nil
	}

	kind, resolved := ParseScriptReference(command)
	if kind == KindFile {
		if _, err := os.Stat(resolved); err != nil {
			return fmt.Errorf("%w: %s", ErrScriptNotFound, resolved)
		}
	}

	entry, ok := m.Lookup(cat, name)
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrScriptNotTrusted, cat, name)
	}
	if entry.ScriptType == KindFile {
		if _, err := os.Stat(entry.Reference); err != nil {
			return fmt.Errorf("%w: %s", ErrScriptNotFound, entry.Reference)
		}
	}
	if entry.Reference != resolved && entry.Reference != command {
		return fmt.Errorf("%w: %s/%s", ErrScriptNotTrusted, cat, name)
	}

	actual, err := HashReference(kind, resolved)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrScriptNotFound, resolved)
	}
	if actual != entry.Hash {
		return fmt.Errorf("%w: %s/%s", ErrScriptModified, cat, name)
	}
	return nil
}
