package policy

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/latticegate/sentry/internal/decision"
)

// ParseSource parses one ".policy" file's full text into its constituent
// rule declarations. Package-scoped metadata — a "# METADATA" block with
// no "id" field — sets defaults (severity, routing) for every rule-scoped
// block in the same file. Package-scoped blocks must all precede the first
// rule-scoped block (several are merged, later fields winning); one that
// follows a rule is a parse error. A rule-scoped block's own fields always
// win over the package defaults.
func ParseSource(path, source string) ([]RuleSource, error) {
	lines := strings.Split(source, "\n")
	blocks, err := scanMetadataBlocks(lines)
	if err != nil {
		return nil, fmt.Errorf("policy: %s: %w", path, err)
	}
	if len(blocks) == 0 {
		return nil, fmt.Errorf("policy: %s: no METADATA block found", path)
	}

	var pkgDefaults Metadata
	var rules []RuleSource

	for i, b := range blocks {
		if b.Meta.ID == "" {
			if len(rules) > 0 {
				return nil, fmt.Errorf("policy: %s: package-scoped METADATA block at line %d follows a rule", path, b.StartLine+1)
			}
			pkgDefaults = mergeDefaults(pkgDefaults, b.Meta)
			continue
		}

		meta := b.Meta
		if meta.Severity == "" {
			meta.Severity = pkgDefaults.Severity
		}
		if len(meta.Routing.RequiredEvents) == 0 {
			meta.Routing.RequiredEvents = pkgDefaults.Routing.RequiredEvents
		}
		if len(meta.Routing.RequiredTools) == 0 {
			meta.Routing.RequiredTools = pkgDefaults.Routing.RequiredTools
		}
		if len(meta.Routing.RequiredSignals) == 0 {
			meta.Routing.RequiredSignals = pkgDefaults.Routing.RequiredSignals
		}

		bodyEnd := len(lines)
		if i+1 < len(blocks) {
			bodyEnd = blocks[i+1].StartLine
		}
		body := lines[b.EndLine:bodyEnd]

		rule, err := parseRuleBody(meta, body)
		if err != nil {
			return nil, fmt.Errorf("policy: %s: rule %q: %w", path, meta.ID, err)
		}
		rule.SourceFile = path
		rules = append(rules, rule)
	}

	return rules, nil
}

func mergeDefaults(base, override Metadata) Metadata {
	if override.Severity != "" {
		base.Severity = override.Severity
	}
	if len(override.Routing.RequiredEvents) > 0 {
		base.Routing.RequiredEvents = override.Routing.RequiredEvents
	}
	if len(override.Routing.RequiredTools) > 0 {
		base.Routing.RequiredTools = override.Routing.RequiredTools
	}
	if len(override.Routing.RequiredSignals) > 0 {
		base.Routing.RequiredSignals = override.Routing.RequiredSignals
	}
	return base
}

// parseRuleBody parses the "key: value" lines that make up a rule's
// declaration (verb, reason, condition, updated_input), stopping at the
// next "# METADATA" line or end of slice.
func parseRuleBody(meta Metadata, body []string) (RuleSource, error) {
	rule := RuleSource{Meta: meta}

	for _, raw := range body {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == "# METADATA" {
			break
		}
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		value = strings.Trim(value, `"`)

		switch key {
		case "verb":
			rule.Verb = decision.Verb(value)
		case "reason":
			rule.Reason = value
		case "priority":
			p, err := strconv.Atoi(value)
			if err != nil {
				return RuleSource{}, fmt.Errorf("priority: %w", err)
			}
			rule.Priority = p
		case "agent_context":
			rule.AgentContext = append(rule.AgentContext, value)
		case "condition":
			rule.Condition = value
		case "updated_input":
			rule.UpdatedInputExpr = value
		}
	}

	if rule.Condition == "" {
		return RuleSource{}, fmt.Errorf("missing condition")
	}
	if rule.Verb == "" {
		return RuleSource{}, fmt.Errorf("missing verb")
	}
	if rule.Meta.ID == "" {
		return RuleSource{}, fmt.Errorf("missing id")
	}
	if rule.Verb == decision.Modify && (rule.Priority < 1 || rule.Priority > 100) {
		return RuleSource{}, fmt.Errorf("modify rule requires priority in 1..100, got %d", rule.Priority)
	}
	return rule, nil
}
