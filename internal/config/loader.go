package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches "${NAME}" and "${NAME:-default}" references in a
// YAML document, substituted before parsing so operators can keep
// secrets (trust-manifest paths, debug-stream bind addresses) out of the
// checked-in config file.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-[^}]*)?\}`)

// substituteEnvVars replaces every "${NAME}" or "${NAME:-default}"
// reference in input with the environment variable's value, or its
// default if the variable is unset, or the empty string if neither is
// available.
func substituteEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		sub := envVarPattern.FindStringSubmatch(match)
		name, def := sub[1], sub[2]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		if strings.HasPrefix(def, ":-") {
			return strings.TrimPrefix(def, ":-")
		}
		return ""
	})
}

// Loader reads, caches, and hot-reloads a Config from a YAML file. Safe
// for concurrent use.
type Loader struct {
	mu       sync.RWMutex
	cfg      *Config
	filePath string

	watcher   *fsnotify.Watcher
	watchDone chan struct{}
	logger    *slog.Logger
}

// NewLoader creates a Loader pre-populated with DefaultConfig; Get
// returns the defaults until Load is called.
func NewLoader() *Loader {
	return &Loader{cfg: DefaultConfig()}
}

// Load reads path, substitutes environment variable references, parses
// the result as YAML on top of DefaultConfig, and stores it. The parsed
// path is remembered for Reload.
func (l *Loader) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(substituteEnvVars(string(data))), cfg); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}

	l.mu.Lock()
	l.cfg = cfg
	l.filePath = path
	l.mu.Unlock()
	return nil
}

// Get returns the current Config snapshot.
func (l *Loader) Get() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// FilePath returns the path last passed to Load, or "" if Load has not
// been called.
func (l *Loader) FilePath() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.filePath
}

// Reload re-reads the file previously passed to Load. Returns an error
// if Load was never called.
func (l *Loader) Reload() error {
	l.mu.RLock()
	path := l.filePath
	l.mu.RUnlock()

	if path == "" {
		return fmt.Errorf("config: Reload called before Load")
	}
	return l.Load(path)
}

// Watch starts an fsnotify watcher on the config file's directory (to
// survive editor rename-replace saves) and calls Reload, then onReload,
// whenever the file changes.
func (l *Loader) Watch(onReload func(*Config)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.filePath == "" {
		return fmt.Errorf("config: Watch called before Load")
	}
	if l.watcher != nil {
		l.stopWatchLocked()
	}

	logger := l.logger
	if logger == nil {
		logger = slog.Default()
	}

	absPath, err := filepath.Abs(l.filePath)
	if err != nil {
		return fmt.Errorf("config: resolving path: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: creating fsnotify watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(absPath)); err != nil {
		_ = w.Close()
		return fmt.Errorf("config: watching directory: %w", err)
	}

	l.watcher = w
	l.watchDone = make(chan struct{})
	go l.watchLoop(absPath, onReload, logger)
	return nil
}

func (l *Loader) watchLoop(targetPath string, onReload func(*Config), logger *slog.Logger) {
	defer close(l.watchDone)
	for {
		select {
		case ev, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			abs, _ := filepath.Abs(ev.Name)
			if abs != targetPath {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				if err := l.Reload(); err != nil {
					logger.Error("config reload failed", "error", err)
					continue
				}
				if onReload != nil {
					onReload(l.Get())
				}
			}
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			logger.Error("fsnotify error", "error", err)
		}
	}
}

// StopWatch stops the config file watcher, if running.
func (l *Loader) StopWatch() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopWatchLocked()
}

func (l *Loader) stopWatchLocked() {
	if l.watcher != nil {
		_ = l.watcher.Close()
		if l.watchDone != nil {
			<-l.watchDone
		}
		l.watcher = nil
		l.watchDone = nil
	}
}

// GenerateDefault writes a YAML-serialised DefaultConfig to path.
func GenerateDefault(path string) error {
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("config: marshalling default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: writing %s: %w", path, err)
	}
	return nil
}
