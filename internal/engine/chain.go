package engine

import (
	"context"

	"github.com/latticegate/sentry/internal/decision"
	"github.com/latticegate/sentry/internal/event"
)

// Chain evaluates a global Engine before a project Engine, matching the
// "global + project layering" model: the global root's policies run
// first and a Halt/Deny/Block there short-circuits without ever
// evaluating the project root. Anything less severe (Ask, Modify,
// AllowOverride, Allow) falls through to the project Engine, whose
// result is what Evaluate returns.
type Chain struct {
	global  *Engine
	project *Engine
}

// NewChain builds a Chain. global may be nil, in which case Evaluate
// runs only the project Engine (no global_config was configured).
func NewChain(global, project *Engine) *Chain {
	return &Chain{global: global, project: project}
}

// Evaluate runs global first, when present, and short-circuits on a
// short-circuiting verb; otherwise it evaluates and returns the project
// Engine's decision.
func (c *Chain) Evaluate(ctx context.Context, ev *event.Event) (decision.FinalDecision, error) {
	if c.global != nil {
		fd, err := c.global.Evaluate(ctx, ev)
		if err != nil {
			return decision.FinalDecision{}, err
		}
		if shortCircuits(fd.Verb) {
			return fd, nil
		}
	}
	return c.project.Evaluate(ctx, ev)
}

func shortCircuits(v decision.Verb) bool {
	return v == decision.Halt || v == decision.Deny || v == decision.Block
}
