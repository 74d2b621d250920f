package policy

import "log/slog"

// MinMemoryBudget and MaxMemoryBudget bound the CEL evaluation memory
// budget (the stand-in for the spec's WASM memory cap) to a sane range
// regardless of what a rulebook author configures.
const (
	MinMemoryBudget = 1 << 20   // 1 MiB
	MaxMemoryBudget = 100 << 20 // 100 MiB
)

// MemoryBudget clamps a configured wasm_max_memory-equivalent value into
// [MinMemoryBudget, MaxMemoryBudget]. It is intentionally stateless --
// the configured value is supplied by the caller (config.Config).
type MemoryBudget struct {
	logger *slog.Logger
}

// NewMemoryBudget creates a MemoryBudget.
func NewMemoryBudget(logger *slog.Logger) *MemoryBudget {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryBudget{logger: logger.With("component", "policy.MemoryBudget")}
}

// Clamp returns requested clamped into [MinMemoryBudget, MaxMemoryBudget],
// logging when the configured value was out of range.
func (m *MemoryBudget) Clamp(requested int64) int64 {
	switch {
	case requested < MinMemoryBudget:
		m.logger.Warn("configured memory budget below minimum, clamping up",
			"requested", requested, "minimum", MinMemoryBudget)
		return MinMemoryBudget
	case requested > MaxMemoryBudget:
		m.logger.Warn("configured memory budget above maximum, clamping down",
			"requested", requested, "maximum", MaxMemoryBudget)
		return MaxMemoryBudget
	default:
		return requested
	}
}
