// Package selector derives the ordered candidate provider list for an
// operation call: capability filter, source filter, allow-list, and a
// deterministic base ordering.
package selector

import (
	"sort"

	"github.com/coreframe/retrieval-runtime/config"
	"github.com/coreframe/retrieval-runtime/provider"
	"github.com/coreframe/retrieval-runtime/record"
)

// Select returns the ordered list of adapters supporting op, filtered
// by selection mode and an optional caller allow-list.
func Select(reg *provider.Registry, op config.Operation, selection config.Selection, allowIDs []string) []provider.Adapter {
	all := reg.List()

	supporting := make([]provider.Adapter, 0, len(all))
	for _, a := range all {
		if cap, ok := a.Capabilities()[op]; ok && cap.Supported {
			supporting = append(supporting, a)
		}
	}

	// Deterministic base ordering by id, so the registry's unordered
	// map never leaks iteration order to the caller.
	sort.Slice(supporting, func(i, j int) bool { return supporting[i].ID() < supporting[j].ID() })

	var filtered []provider.Adapter
	switch selection {
	case "", config.SelectionAuto, config.SelectionAll:
		filtered = supporting
	default:
		wantSource := record.Source(selection)
		for _, a := range supporting {
			if a.Source() == wantSource {
				filtered = append(filtered, a)
			}
		}
	}

	if len(allowIDs) == 0 {
		return filtered
	}
	allow := make(map[string]bool, len(allowIDs))
	for _, id := range allowIDs {
		allow[id] = true
	}
	out := make([]provider.Adapter, 0, len(filtered))
	for _, a := range filtered {
		if allow[a.ID()] {
			out = append(out, a)
		}
	}
	return out
}

// SelectExcluding behaves like Select but drops any adapter whose id
// is in exclude -- used by the Tier-A fallback path to avoid
// re-attempting providers the primary pass already tried.
func SelectExcluding(reg *provider.Registry, op config.Operation, selection config.Selection, allowIDs []string, exclude map[string]bool) []provider.Adapter {
	candidates := Select(reg, op, selection, allowIDs)
	if len(exclude) == 0 {
		return candidates
	}
	out := make([]provider.Adapter, 0, len(candidates))
	for _, a := range candidates {
		if !exclude[a.ID()] {
			out = append(out, a)
		}
	}
	return out
}
