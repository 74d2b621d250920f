package policy

import "github.com/latticegate/sentry/internal/event"

// routeKey is the (event kind, tool name) pair the index is keyed on.
// ToolName is "" for event kinds that carry no tool (session-start, etc.)
// and for the wildcard tool bucket within a kind.
type routeKey struct {
	kind event.Kind
	tool string
}

// Index provides O(1) lookup from (event kind, tool name) to the set of
// rule IDs that might match, built once at load time. A rule with no
// required_events is indexed under the event.Wildcard kind (with each of
// its required_tools, or the "" tool bucket); a rule with no
// required_tools is unioned into the "" tool bucket for every kind it
// declares.
type Index struct {
	buckets map[routeKey][]string
}

// NewIndex builds a routing Index from every compiled rule's metadata.
func NewIndex(rules []*Rule) *Index {
	idx := &Index{buckets: map[routeKey][]string{}}
	for _, r := range rules {
		kinds := r.Meta.Routing.RequiredEvents
		if len(kinds) == 0 {
			kinds = []event.Kind{event.Wildcard}
		}
		tools := r.Meta.Routing.RequiredTools
		if len(tools) == 0 {
			tools = []string{""}
		}
		for _, k := range kinds {
			for _, tl := range tools {
				key := routeKey{kind: k, tool: tl}
				idx.buckets[key] = append(idx.buckets[key], r.Meta.ID)
			}
		}
	}
	return idx
}

// Match returns the union of every rule ID routed to (kind, tool),
// including rules registered against the wildcard event kind and/or the
// empty ("any tool") tool bucket, with duplicates removed.
func (idx *Index) Match(kind event.Kind, tool string) []string {
	seen := map[string]bool{}
	var out []string
	add := func(ids []string) {
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}

	add(idx.buckets[routeKey{kind: kind, tool: tool}])
	add(idx.buckets[routeKey{kind: kind, tool: ""}])
	add(idx.buckets[routeKey{kind: event.Wildcard, tool: tool}])
	add(idx.buckets[routeKey{kind: event.Wildcard, tool: ""}])
	return out
}
