package trust

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeManifest(t *testing.T, dir string, cat Category, name string, entry Entry) string {
	t.Helper()
	path := filepath.Join(dir, ManifestFileName)
	m := &Manifest{}
	m.byCategory(cat)[name] = entry
	if err := m.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	return path
}

func writeEmptyManifest(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, ManifestFileName)
	if err := (&Manifest{}).Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	return path
}

func TestVerifier_DisabledWithoutManifest(t *testing.T) {
	dir := t.TempDir()
	v, err := NewVerifier(filepath.Join(dir, "missing"), nil)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	if v.Enabled() {
		t.Fatal("verifier should be disabled with no manifest file")
	}
	if err := v.Verify(CategorySignals, "anything", "anything goes"); err != nil {
		t.Errorf("Verify with no manifest should always succeed, got %v", err)
	}
}

func TestVerifier_InlineScriptTrusted(t *testing.T) {
	dir := t.TempDir()
	const cmd = "echo hello"
	hash, _ := HashReference(KindInline, cmd)
	path := writeManifest(t, dir, CategorySignals, "greet", Entry{ScriptType: KindInline, Reference: cmd, Hash: hash})

	v, err := NewVerifier(path, nil)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	if err := v.Verify(CategorySignals, "greet", cmd); err != nil {
		t.Errorf("Verify(%q) = %v, want nil", cmd, err)
	}
}

func TestVerifier_WrongCategoryNotTrusted(t *testing.T) {
	dir := t.TempDir()
	const cmd = "echo hello"
	hash, _ := HashReference(KindInline, cmd)
	path := writeManifest(t, dir, CategoryActions, "greet", Entry{ScriptType: KindInline, Reference: cmd, Hash: hash})

	v, err := NewVerifier(path, nil)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	// "greet" is trusted as an action, not a signal — looking it up under
	// the wrong category must fail exactly like it was never registered.
	err = v.Verify(CategorySignals, "greet", cmd)
	if !errors.Is(err, ErrScriptNotTrusted) {
		t.Errorf("Verify under wrong category = %v, want ErrScriptNotTrusted", err)
	}
}

func TestVerifier_NotTrusted(t *testing.T) {
	dir := t.TempDir()
	path := writeEmptyManifest(t, dir)
	v, err := NewVerifier(path, nil)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	err = v.Verify(CategorySignals, "scan", "curl evil.example.com")
	if !errors.Is(err, ErrScriptNotTrusted) {
		t.Errorf("Verify = %v, want ErrScriptNotTrusted", err)
	}
}

func TestVerifier_FileScriptModified(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "check.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\necho v1\n"), 0o755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	hash, err := HashReference(KindFile, script)
	if err != nil {
		t.Fatalf("HashReference: %v", err)
	}
	path := writeManifest(t, dir, CategorySignals, "check", Entry{ScriptType: KindFile, Reference: script, Hash: hash})

	v, err := NewVerifier(path, nil)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	if err := v.Verify(CategorySignals, "check", script); err != nil {
		t.Fatalf("Verify before modification: %v", err)
	}

	if err := os.WriteFile(script, []byte("#!/bin/sh\necho v2\n"), 0o755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	err = v.Verify(CategorySignals, "check", script)
	if !errors.Is(err, ErrScriptModified) {
		t.Errorf("Verify after modification = %v, want ErrScriptModified", err)
	}
}

func TestVerifier_FileScriptMissing(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "gone.sh")
	path := writeManifest(t, dir, CategorySignals, "gone", Entry{ScriptType: KindFile, Reference: missing, Hash: "sha256:deadbeef"})

	v, err := NewVerifier(path, nil)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	err = v.Verify(CategorySignals, "gone", missing)
	if !errors.Is(err, ErrScriptNotFound) {
		t.Errorf("Verify = %v, want ErrScriptNotFound", err)
	}
}

func TestVerifier_Reload(t *testing.T) {
	dir := t.TempDir()
	path := writeEmptyManifest(t, dir)
	v, err := NewVerifier(path, nil)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	const cmd = "echo added-later"
	hash, _ := HashReference(KindInline, cmd)
	m := &Manifest{Signals: map[string]Entry{"added": {ScriptType: KindInline, Reference: cmd, Hash: hash}}}
	if err := m.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := v.Verify(CategorySignals, "added", cmd); !errors.Is(err, ErrScriptNotTrusted) {
		t.Fatalf("expected stale verifier to reject before Reload, got %v", err)
	}
	if err := v.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if err := v.Verify(CategorySignals, "added", cmd); err != nil {
		t.Errorf("Verify after Reload = %v, want nil", err)
	}
}

func TestParseScriptReference(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "s.sh")
	if err := os.WriteFile(script, []byte("echo hi"), 0o755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	kind, resolved := ParseScriptReference(script + " --flag")
	if kind != KindFile || resolved != script {
		t.Errorf("got kind=%v resolved=%q, want KindFile %q", kind, resolved, script)
	}

	kind, resolved = ParseScriptReference("echo not a file")
	if kind != KindInline || resolved != "echo not a file" {
		t.Errorf("got kind=%v resolved=%q, want KindInline", kind, resolved)
	}
}

func TestManifest_PutStampsSizeAndModTime(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "s.sh")
	if err := os.WriteFile(script, []byte("echo hi\n"), 0o755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	hash, err := HashReference(KindFile, script)
	if err != nil {
		t.Fatalf("HashReference: %v", err)
	}

	m := &Manifest{}
	if err := m.Put(CategoryActions, "notify", KindFile, script, hash); err != nil {
		t.Fatalf("Put: %v", err)
	}

	entry, ok := m.Lookup(CategoryActions, "notify")
	if !ok {
		t.Fatal("entry not found after Put")
	}
	if entry.Size == 0 {
		t.Error("Size was not stamped on a file-kind entry")
	}
	if entry.ModTime.IsZero() {
		t.Error("ModTime was not stamped on a file-kind entry")
	}
}
