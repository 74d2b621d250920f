package preprocess

import (
	"log/slog"

	"github.com/latticegate/sentry/internal/event"
)

// Config toggles each of the three transforms independently; any
// transform left disabled is simply skipped, never substituted.
type Config struct {
	NormalizeWhitespace bool `yaml:"normalize_whitespace" json:"normalize_whitespace"`
	InlineScripts        bool `yaml:"inline_scripts" json:"inline_scripts"`
	CanonicalizePaths    bool `yaml:"canonicalize_paths" json:"canonicalize_paths"`
	// PathFields overrides event.DefaultPathFields when non-empty.
	PathFields []string `yaml:"path_fields" json:"path_fields"`
}

// DefaultConfig enables all three transforms, matching the harness's
// out-of-the-box behaviour.
func DefaultConfig() Config {
	return Config{NormalizeWhitespace: true, InlineScripts: true, CanonicalizePaths: true}
}

// Preprocessor applies the configured transforms to an Event in place.
// A failure in any one transform (missing file, unreadable symlink
// target, I/O error) is logged and skipped — preprocessing errors are
// never fatal to evaluation.
type Preprocessor struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Preprocessor.
func New(cfg Config, logger *slog.Logger) *Preprocessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Preprocessor{cfg: cfg, logger: logger.With("component", "preprocess.Preprocessor")}
}

// Apply runs every enabled transform against e, mutating it in place.
func (p *Preprocessor) Apply(e *event.Event) {
	if p.cfg.NormalizeWhitespace {
		p.normalize(e)
	}
	if p.cfg.InlineScripts {
		p.inlineScript(e)
	}
	if p.cfg.CanonicalizePaths {
		p.canonicalizePaths(e)
	}
}

func (p *Preprocessor) normalize(e *event.Event) {
	cmd := e.Command()
	if cmd == "" {
		return
	}
	e.SetPath("command", NormalizeWhitespace(cmd))
}

func (p *Preprocessor) inlineScript(e *event.Event) {
	cmd := e.Command()
	if cmd == "" {
		return
	}
	info, ok := DetectScript(cmd)
	if !ok {
		return
	}
	e.IsScriptExecution = true
	e.ScriptPath = info.Path
	e.ScriptContent = LoadScriptContent(info.Path)
	if e.ScriptContent == "" {
		p.logger.Debug("script detected but content unreadable", "path", info.Path)
	}
}

func (p *Preprocessor) canonicalizePaths(e *event.Event) {
	fields := p.cfg.PathFields
	if len(fields) == 0 {
		fields = event.DefaultPathFields
	}
	field, value := e.PrimaryPath(fields)
	if field == "" {
		return
	}
	res := ResolvePath(value)
	e.IsSymlink = res.IsSymlink
	e.OriginalFilePath = res.OriginalPath
	e.ResolvedFilePath = res.ResolvedPath
}
