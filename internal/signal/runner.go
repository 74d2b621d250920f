// Package signal runs the external scripts a policy's required_signals
// declares, concurrently and with a per-script timeout, and attaches
// their outputs to the event before policy evaluation.
package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/latticegate/sentry/internal/event"
	"github.com/latticegate/sentry/internal/trust"
)

// DefaultTimeout is the per-signal execution budget when a Spec does not
// override it.
const DefaultTimeout = 5 * time.Second

// DefaultMaxConcurrency, when <= 0, means a Gather call imposes no cap
// of its own: every required signal for that one event runs concurrently,
// bounded only by how many signals that event actually requires.
// Operators who want a process-count ceiling pass a positive
// maxConcurrency to New; it caps each Gather call separately, not the
// total across concurrent calls.
const DefaultMaxConcurrency = 0

// Spec declares one signal: a name it's bound under in event.Signals,
// the external command to run, and an optional timeout override.
type Spec struct {
	Name    string
	Command string
	Timeout time.Duration
}

// Runner gathers signals for an event. It never returns an error to the
// caller — a signal that times out, exits non-zero, fails trust
// verification, or is simply absent is omitted from the result and
// logged, matching the engine's fail-open stance on signal gathering.
type Runner struct {
	verifier       *trust.Verifier
	maxConcurrency int
	logger         *slog.Logger
}

// New creates a Runner. verifier may be nil to disable trust checks.
// maxConcurrency <= 0 (DefaultMaxConcurrency) means no cap is imposed —
// each Gather call sizes its own worker pool to exactly len(specs), so a
// single call's signals always run fully concurrently. A positive value
// bounds each Gather call's pool on its own.
func New(verifier *trust.Verifier, maxConcurrency int, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if maxConcurrency < 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	return &Runner{
		verifier:       verifier,
		maxConcurrency: maxConcurrency,
		logger:         logger.With("component", "signal.Runner"),
	}
}

// Gather runs every spec concurrently — by default every signal one call
// requires gets its own goroutine, capped only if the Runner was built
// with a positive maxConcurrency — and returns a name→value map of
// whatever signals produced usable output. Signal results are never
// cached: every call re-executes every script.
func (r *Runner) Gather(ctx context.Context, e *event.Event, specs []Spec) map[string]any {
	results := make(map[string]any, len(specs))
	if len(specs) == 0 {
		return results
	}

	limit := r.maxConcurrency
	if limit <= 0 {
		limit = len(specs)
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, limit)

	for _, spec := range specs {
		spec := spec
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			value, ok := r.run(ctx, e, spec)
			if !ok {
				return
			}
			mu.Lock()
			results[spec.Name] = value
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

func (r *Runner) run(ctx context.Context, e *event.Event, spec Spec) (any, bool) {
	if r.verifier != nil {
		if err := r.verifier.Verify(trust.CategorySignals, spec.Name, spec.Command); err != nil {
			r.logger.Warn("signal script failed trust verification, skipping",
				"signal", spec.Name, "error", err)
			return nil, false
		}
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := json.Marshal(e)
	if err != nil {
		r.logger.Error("failed to marshal event for signal", "signal", spec.Name, "error", err)
		return nil, false
	}

	cmd := exec.CommandContext(runCtx, "sh", "-c", spec.Command)
	cmd.Stdin = bytes.NewReader(payload)
	out, err := cmd.Output()
	if err != nil {
		if runCtx.Err() != nil {
			r.logger.Warn("signal timed out, omitting", "signal", spec.Name, "timeout", timeout)
		} else {
			r.logger.Warn("signal exited non-zero, omitting", "signal", spec.Name, "error", err)
		}
		return nil, false
	}

	return parseOutput(out), true
}

// parseOutput tries to decode stdout as JSON; on failure it falls back
// to the trimmed raw string, so a signal script can be as simple as
// `echo true` or as rich as a JSON object.
func parseOutput(out []byte) any {
	trimmed := strings.TrimSpace(string(out))
	if trimmed == "" {
		return ""
	}
	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
		return v
	}
	return trimmed
}
