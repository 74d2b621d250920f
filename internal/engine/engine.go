// Package engine composes preprocessing, routing, signal gathering,
// policy evaluation, decision synthesis, and action dispatch into the
// single entrypoint a harness calls per lifecycle event.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/latticegate/sentry/internal/action"
	"github.com/latticegate/sentry/internal/decision"
	"github.com/latticegate/sentry/internal/event"
	"github.com/latticegate/sentry/internal/policy"
	"github.com/latticegate/sentry/internal/preprocess"
	"github.com/latticegate/sentry/internal/signal"
)

// Engine evaluates one policy root (one Corpus) against events. It is
// safe for concurrent use: the only mutable state is the LiveCorpus,
// which is swapped atomically on hot reload.
type Engine struct {
	pre         *preprocess.Preprocessor
	cel         *policy.CELEvaluator
	corpus      *policy.LiveCorpus
	guardrail   *policy.RulebookRootGuardrail
	signals     *signal.Runner
	signalSpecs map[string]signal.Spec
	synth       *decision.Synthesiser
	dispatcher  *action.Dispatcher
	onFrame     func(Frame)
	logger      *slog.Logger
}

// Frame is one debug-routing observation emitted after every Evaluate
// call, when a non-nil onFrame callback is configured.
type Frame struct {
	EventKind   event.Kind
	ToolName    string
	MatchedIDs  []string
	FinalVerb   decision.Verb
	SignalNames []string
}

// New builds an Engine from its already-constructed collaborators. cel
// and corpus must share the same compiled CEL environment (the Loader
// that produced corpus should be the one holding cel).
func New(
	pre *preprocess.Preprocessor,
	cel *policy.CELEvaluator,
	corpus *policy.LiveCorpus,
	guardrail *policy.RulebookRootGuardrail,
	signals *signal.Runner,
	signalSpecs map[string]signal.Spec,
	dispatcher *action.Dispatcher,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		pre:         pre,
		cel:         cel,
		corpus:      corpus,
		guardrail:   guardrail,
		signals:     signals,
		signalSpecs: signalSpecs,
		synth:       decision.NewSynthesiser(),
		dispatcher:  dispatcher,
		logger:      logger.With("component", "engine.Engine"),
	}
}

// OnFrame registers a callback invoked with a Frame after every
// Evaluate call; used by internal/debugstream to broadcast routing
// observations. Passing nil disables it.
func (e *Engine) OnFrame(fn func(Frame)) { e.onFrame = fn }

// Evaluate runs e through preprocessing, routing, signal gathering,
// policy evaluation, and synthesis, then fires any bound actions for
// the resulting verb. A CEL evaluation error aborts the call and is
// returned to the caller, who must fail closed per the engine's error
// handling contract — no partial verdict is synthesized from whatever
// rules happened to evaluate before the error.
func (en *Engine) Evaluate(ctx context.Context, ev *event.Event) (decision.FinalDecision, error) {
	if en.pre != nil {
		en.pre.Apply(ev)
	}

	if en.guardrail != nil {
		if entry, matched := en.guardrail.Check(ev); matched {
			set := &decision.Set{}
			set.Add(entry)
			fd := en.synth.Synthesize(set)
			en.dispatch(fd)
			en.emitFrame(ev, []string{entry.RuleID}, fd.Verb, nil)
			return fd, nil
		}
	}

	corpus := en.corpus.Get()
	matchedIDs := corpus.Index.Match(ev.Kind, ev.ToolName)

	var specs []signal.Spec
	seenSignal := map[string]bool{}
	for _, id := range matchedIDs {
		rule := corpus.RuleByID(id)
		if rule == nil {
			continue
		}
		for _, name := range rule.Meta.Routing.RequiredSignals {
			if seenSignal[name] {
				continue
			}
			seenSignal[name] = true
			if spec, ok := en.signalSpecs[name]; ok {
				specs = append(specs, spec)
			} else {
				en.logger.Warn("rule requires unregistered signal, omitting", "signal", name, "rule_id", rule.Meta.ID)
			}
		}
	}
	if en.signals != nil && len(specs) > 0 {
		ev.Signals = en.signals.Gather(ctx, ev, specs)
	}

	set := &decision.Set{}
	for _, id := range matchedIDs {
		rule := corpus.RuleByID(id)
		if rule == nil {
			continue
		}
		matched, err := en.cel.EvaluateCondition(rule.Condition, ev)
		if err != nil {
			return decision.FinalDecision{}, fmt.Errorf("engine: evaluating rule %q: %w", rule.Meta.ID, err)
		}
		if !matched {
			continue
		}

		entry := decision.Entry{
			RuleID:       rule.Meta.ID,
			Verb:         rule.Verb,
			Reason:       rule.Reason,
			Severity:     rule.Meta.Severity,
			Priority:     rule.Priority,
			AgentContext: rule.AgentContext,
		}
		if rule.Verb == decision.Modify && rule.UpdatedInputRule != nil {
			updated, err := en.cel.EvaluateUpdatedInput(*rule.UpdatedInputRule, ev)
			if err != nil {
				return decision.FinalDecision{}, fmt.Errorf("engine: evaluating updated_input for rule %q: %w", rule.Meta.ID, err)
			}
			entry.UpdatedInput = updated
		}
		set.Add(entry)
	}

	fd := en.synth.Synthesize(set)
	en.dispatch(fd)
	en.emitFrame(ev, matchedIDs, fd.Verb, specs)
	return fd, nil
}

func (en *Engine) dispatch(fd decision.FinalDecision) {
	if en.dispatcher == nil {
		return
	}
	en.dispatcher.Dispatch(fd)
}

func (en *Engine) emitFrame(ev *event.Event, matchedIDs []string, verb decision.Verb, specs []signal.Spec) {
	if en.onFrame == nil {
		return
	}
	names := make([]string, len(specs))
	for i, s := range specs {
		names[i] = s.Name
	}
	en.onFrame(Frame{
		EventKind:   ev.Kind,
		ToolName:    ev.ToolName,
		MatchedIDs:  matchedIDs,
		FinalVerb:   verb,
		SignalNames: names,
	})
}
