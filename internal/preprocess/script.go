package preprocess

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// interpreters lists commands that execute a script file named as their
// first non-flag argument. Ranked like a pattern table, not by severity
// here, but kept as a table for the same reason sanitize.Scanner keeps
// one: new interpreters are a one-line addition.
var interpreters = map[string]bool{
	"python": true, "python2": true, "python3": true, "node": true, "ruby": true,
	"perl": true, "php": true, "bash": true, "sh": true, "zsh": true,
	"fish": true, "ksh": true, "dash": true,
}

// inlineFlag marks an interpreter invocation as executing a literal
// inline command rather than a script file (e.g. `bash -c '...'`); such
// commands are never treated as script executions.
var inlineFlag = regexp.MustCompile(`^-c$|^--command$`)

// scriptExtensions lists file extensions that make a bare `./`- or
// `/`-prefixed first token a script execution rather than a direct
// binary invocation.
var scriptExtensions = map[string]bool{
	".sh": true, ".bash": true, ".zsh": true, ".py": true, ".rb": true,
	".pl": true, ".js": true, ".php": true,
}

// scriptNames lists common extensionless script/build-entrypoint names
// that also count, even with no recognized extension.
var scriptNames = map[string]bool{
	"configure": true, "bootstrap": true, "gradlew": true, "mvnw": true,
	"manage": true, "make": true, "install": true, "deploy": true,
	"setup": true, "run": true, "test": true, "clean": true, "build": true,
}

// looksLikeScript reports whether a `./`- or `/`-prefixed first token
// names something likely to be a script rather than a compiled binary:
// either a known script extension, or one of the common extensionless
// script names. `./some_binary` does not match either and is left alone.
func looksLikeScript(token string) bool {
	base := filepath.Base(token)
	if ext := filepath.Ext(base); ext != "" && scriptExtensions[ext] {
		return true
	}
	return scriptNames[base]
}

// ScriptInfo describes a detected script execution.
type ScriptInfo struct {
	Path    string
	Content string
}

// DetectScript inspects a shell command and, if it directly invokes a
// script, returns its path. A `./`- or `/`-prefixed first token only
// counts if it also looks like a script (known extension or common
// script name) — `./some_binary --flag` is a direct binary invocation,
// not a script execution. An interpreter token (python, bash, ...)
// followed by a non-flag argument also counts. It returns ok=false for
// inline interpreter commands (`bash -c '...'`) and for commands with no
// script-file target.
func DetectScript(command string) (info ScriptInfo, ok bool) {
	tokens := tokenize(command)
	if len(tokens) == 0 {
		return ScriptInfo{}, false
	}

	first := tokens[0]
	if strings.HasPrefix(first, "./") || strings.HasPrefix(first, "/") {
		if looksLikeScript(first) {
			return ScriptInfo{Path: first}, true
		}
		return ScriptInfo{}, false
	}

	base := filepath.Base(first)
	if !interpreters[base] {
		return ScriptInfo{}, false
	}

	for _, arg := range tokens[1:] {
		if inlineFlag.MatchString(arg) {
			return ScriptInfo{}, false
		}
	}
	for _, arg := range tokens[1:] {
		if strings.HasPrefix(arg, "-") {
			continue
		}
		return ScriptInfo{Path: arg}, true
	}
	return ScriptInfo{}, false
}

// LoadScriptContent reads the script at path, returning "" if it cannot
// be read. A missing or unreadable script file does not fail detection —
// the path and IsScriptExecution flag are still attached to the event.
func LoadScriptContent(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

// tokenize splits a command into whitespace-separated tokens, respecting
// single and double quotes so `bash -c 'a b'` yields ["bash","-c","a b"].
func tokenize(command string) []string {
	var tokens []string
	var cur strings.Builder
	var quote rune
	has := false

	flush := func() {
		if has {
			tokens = append(tokens, cur.String())
			cur.Reset()
			has = false
		}
	}

	for _, r := range command {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			has = true
		case isShellSpace(r):
			flush()
		default:
			cur.WriteRune(r)
			has = true
		}
	}
	flush()
	return tokens
}
