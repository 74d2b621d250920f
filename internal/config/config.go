// Package config defines the engine configuration record passed at
// construction time and the loader that reads, hot-reloads, and
// env-substitutes it from YAML.
package config

// Config is the top-level engine configuration record. Every field here
// corresponds to a recognised construction-time setting: where the
// policy/trust/rulebook root lives, an optional second root evaluated
// first (global + project layering), the CEL evaluation memory budget,
// the external policy-compiler path, the debug routing stream toggle,
// and which harness's policy subdirectory and path-bearing fields to
// use.
type Config struct {
	Root          string `yaml:"root"`
	GlobalConfig  string `yaml:"global_config"`
	WASMMaxMemory int64  `yaml:"wasm_max_memory"`
	OPAPath       string `yaml:"opa_path"`
	DebugRouting  bool   `yaml:"debug_routing"`
	Harness       string `yaml:"harness"`
	LogLevel      string `yaml:"log_level"`

	DebugStream DebugStreamConfig `yaml:"debug_stream"`
	Audit       AuditConfig       `yaml:"audit"`
}

// DebugStreamConfig configures the optional loopback-only websocket feed
// broadcasting one frame per evaluation when DebugRouting is enabled.
type DebugStreamConfig struct {
	Addr string `yaml:"addr"`
}

// AuditConfig configures the sqlite-backed trust-manifest update history.
type AuditConfig struct {
	DBPath string `yaml:"db_path"`
}

// DefaultConfig returns a Config with sensible defaults for zero-config
// startup: a 10MiB CEL evaluation budget, debug routing disabled, no
// global config layering, and the "claude-code" harness (the only
// harness this module ships field mappings for).
func DefaultConfig() *Config {
	return &Config{
		Root:          ".",
		WASMMaxMemory: 10 << 20,
		DebugRouting:  false,
		Harness:       "claude-code",
		LogLevel:      "info",
		DebugStream: DebugStreamConfig{
			Addr: "127.0.0.1:6779",
		},
		Audit: AuditConfig{
			DBPath: "./audit.db",
		},
	}
}
