package policy

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Corpus is the immutable result of loading and validating an entire
// policy directory tree: every compiled rule plus the routing index
// built from their metadata. There is no distinguished "first match
// wins" rule; every rule a given event routes to is evaluated and its
// verdict collected, which structurally plays the role of a
// system-level aggregator without needing one as a separate policy.
type Corpus struct {
	Rules []*Rule
	Index *Index
}

// RuleByID returns the compiled rule with the given ID, or nil.
func (c *Corpus) RuleByID(id string) *Rule {
	for _, r := range c.Rules {
		if r.Meta.ID == id {
			return r
		}
	}
	return nil
}

// Loader reads a policy root directory, validates every rule, and
// compiles the CEL artifacts that make up a Corpus. Unlike the teacher's
// original policy loader, a rule that fails to parse, compile, or
// validate against the decision/event compatibility matrix aborts
// loading entirely (returns a fatal error) rather than being logged and
// skipped: an engine silently missing a safety rule is worse than an
// engine that refuses to start.
type Loader struct {
	cel    *CELEvaluator
	logger *slog.Logger

	mu        sync.Mutex
	watcher   *fsnotify.Watcher
	watchDone chan struct{}
}

// NewLoader creates a policy Loader.
func NewLoader(cel *CELEvaluator, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{cel: cel, logger: logger.With("component", "policy.Loader")}
}

// Load reads every ".policy" file under root (recursively), parses and
// validates every rule declaration, compiles its CEL artifacts, and
// builds the routing index. The first error aborts the whole load.
func (l *Loader) Load(root string) (*Corpus, error) {
	var sources []RuleSource

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".policy" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("policy: reading %s: %w", path, err)
		}
		rel, _ := filepath.Rel(root, path)
		parsed, err := ParseSource(rel, string(data))
		if err != nil {
			return err
		}
		sources = append(sources, parsed...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	rules, err := l.compileAndValidate(sources)
	if err != nil {
		return nil, err
	}

	corpus := &Corpus{Rules: rules, Index: NewIndex(rules)}
	l.logger.Info("policy corpus loaded", "root", root, "rules", len(rules))
	return corpus, nil
}

func (l *Loader) compileAndValidate(sources []RuleSource) ([]*Rule, error) {
	seen := map[string]string{} // id -> source file, for duplicate detection
	rules := make([]*Rule, 0, len(sources))

	for _, src := range sources {
		if existing, dup := seen[src.Meta.ID]; dup {
			return nil, fmt.Errorf("policy: duplicate rule id %q in %s (first defined in %s)",
				src.Meta.ID, src.SourceFile, existing)
		}
		seen[src.Meta.ID] = src.SourceFile

		if err := ValidateVerbForEvents(src.Meta.ID, src.Verb, src.Meta.Routing.RequiredEvents); err != nil {
			return nil, err
		}

		cond, err := l.cel.CompileCondition(src.Condition)
		if err != nil {
			return nil, fmt.Errorf("policy: rule %q in %s: %w", src.Meta.ID, src.SourceFile, err)
		}

		rule := &Rule{
			Meta:             src.Meta,
			Verb:             src.Verb,
			Reason:           src.Reason,
			Priority:         src.Priority,
			AgentContext:     src.AgentContext,
			UpdatedInputExpr: src.UpdatedInputExpr,
			Condition:        cond,
			SourceFile:       src.SourceFile,
		}

		if src.UpdatedInputExpr != "" {
			uiRule, err := l.cel.CompileUpdatedInput(src.UpdatedInputExpr)
			if err != nil {
				return nil, fmt.Errorf("policy: rule %q in %s: %w", src.Meta.ID, src.SourceFile, err)
			}
			rule.UpdatedInputRule = &uiRule
		}

		rules = append(rules, rule)
		l.logger.Debug("compiled rule", "id", rule.Meta.ID, "verb", rule.Verb, "source", rule.SourceFile)
	}

	return rules, nil
}

// WatchConfig starts an fsnotify watcher on the policy root directory
// tree. Because fsnotify does not recurse, every subdirectory present at
// watch-start time is added individually; a directory created later is
// not picked up until the next process restart or explicit WatchConfig
// call — rulebook authors are expected to keep policies in a flat or
// shallow-and-stable tree, the same convention the rest of this
// corpus's config/rulebook loaders assume.
func (l *Loader) WatchConfig(root string, onReload func(path string)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.watcher != nil {
		l.stopWatchLocked()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("policy: creating fsnotify watcher: %w", err)
	}

	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
	if err != nil {
		_ = w.Close()
		return fmt.Errorf("policy: watching %s: %w", root, err)
	}

	l.watcher = w
	l.watchDone = make(chan struct{})
	go l.watchLoop(root, onReload)

	l.logger.Info("watching policy root for changes", "root", root)
	return nil
}

func (l *Loader) watchLoop(root string, onReload func(string)) {
	defer close(l.watchDone)
	for {
		select {
		case ev, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(ev.Name, ".policy") {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				l.logger.Info("policy file changed, triggering reload", "path", ev.Name)
				onReload(root)
			}
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error("fsnotify error", "error", err)
		}
	}
}

// StopWatch stops the policy root watcher, if running.
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

// LiveCorpus holds an atomically-swappable *Corpus so a hot reload never
// blocks or races with in-flight evaluations reading the old snapshot.
type LiveCorpus struct {
	v atomic.Pointer[Corpus]
}

// NewLiveCorpus wraps an initial Corpus.
func NewLiveCorpus(c *Corpus) *LiveCorpus {
	lc := &LiveCorpus{}
	lc.v.Store(c)
	return lc
}

// Get returns the current Corpus snapshot.
func (lc *LiveCorpus) Get() *Corpus { return lc.v.Load() }

// Replace atomically swaps in a newly loaded Corpus.
func (lc *LiveCorpus) Replace(c *Corpus) { lc.v.Store(c) }
