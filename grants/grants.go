// Package grants computes the effective, deduplicated capability set
// delivered to an application from a verified license dependency tree.
// Resolve is a pure function: the same verified tree always produces
// byte-identical output, since the merge walks dependencies in their
// declared (DFS left-to-right) order rather than any incidental map
// iteration order.
package grants

import "github.com/dominionrnd/crypto-licensing/core"

// Resolve computes the effective grant set for a verified license tree:
// leaves first, merged upward key-wise, with each level's "override"
// sub-mapping replacing rather than merging into what came before, and the
// root's own grant entry for its own service always having final say.
// Merging is not commutative — a later dependency's ordinary keys replace
// an earlier one's, while their "override" stanzas merge recursively.
func Resolve(signed core.SignedLicense) (map[string]core.Grant, error) {
	lic := signed.License

	effective := make(map[string]core.Grant)
	for _, dep := range lic.Dependencies {
		depGrant, err := Resolve(dep)
		if err != nil {
			return nil, err
		}
		for svc, g := range depGrant {
			effective[svc] = mergeGrant(effective[svc], g)
		}
	}

	for svc, g := range lic.Grant {
		if svc == lic.Author.Service {
			continue
		}
		effective[svc] = applyOverride(effective[svc], g)
	}

	if own, ok := lic.Grant[lic.Author.Service]; ok {
		effective[lic.Author.Service] = own
	}

	return effective, nil
}

// mergeGrant merges b over a: ordinary keys from b replace a's wholesale, while
// an "override" key merges recursively rather than replacing wholesale, so
// that override stanzas from successive dependencies compose instead of
// clobbering each other.
func mergeGrant(a, b core.Grant) core.Grant {
	if a == nil {
		return cloneGrant(b)
	}
	out := cloneGrant(a)
	for k, v := range b {
		if k == "override" {
			out[k] = mergeValue(out[k], v)
			continue
		}
		out[k] = v
	}
	return out
}

// applyOverride replaces the leaf paths named under refinement's "override"
// stanza within base, leaving every other path in base untouched. A
// refinement with no "override" key, or a nil base (no corresponding
// dependency grant yet observed), is a no-op.
func applyOverride(base core.Grant, refinement core.Grant) core.Grant {
	override, ok := refinement["override"]
	if !ok || base == nil {
		return base
	}
	out := cloneGrant(base)
	replaceLeaves(out, override)
	return out
}

func replaceLeaves(dst map[string]interface{}, src interface{}) {
	m, ok := asMap(src)
	if !ok {
		return
	}
	for k, v := range m {
		if sub, ok := asMap(v); ok {
			child, ok2 := asMap(dst[k])
			if !ok2 {
				child = make(map[string]interface{})
			}
			replaceLeaves(child, sub)
			dst[k] = child
		} else {
			dst[k] = v
		}
	}
}

func mergeValue(a, b interface{}) interface{} {
	am, aok := asMap(a)
	bm, bok := asMap(b)
	if aok && bok {
		out := make(map[string]interface{}, len(am))
		for k, v := range am {
			out[k] = v
		}
		for k, v := range bm {
			out[k] = mergeValue(out[k], v)
		}
		return out
	}
	return b
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch t := v.(type) {
	case map[string]interface{}:
		return t, true
	case core.Grant:
		return map[string]interface{}(t), true
	default:
		return nil, false
	}
}

func cloneGrant(g core.Grant) core.Grant {
	out := make(core.Grant, len(g))
	for k, v := range g {
		out[k] = v
	}
	return out
}

// LeafPaths flattens a grant sub-tree into dot-separated leaf paths, used
// by Verifier's refinement check to confirm an "override" stanza only
// narrows paths a dependency actually grants.
func LeafPaths(v interface{}, prefix string) []string {
	m, ok := asMap(v)
	if !ok {
		if prefix == "" {
			return nil
		}
		return []string{prefix}
	}
	var paths []string
	for k, vv := range m {
		p := k
		if prefix != "" {
			p = prefix + "." + k
		}
		paths = append(paths, LeafPaths(vv, p)...)
	}
	return paths
}

// ContainsPath reports whether the dot-separated path resolves to a value
// within v.
func ContainsPath(v interface{}, path string) bool {
	cur := v
	for _, part := range splitPath(path) {
		m, ok := asMap(cur)
		if !ok {
			return false
		}
		next, ok := m[part]
		if !ok {
			return false
		}
		cur = next
	}
	return true
}

func splitPath(path string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			parts = append(parts, path[start:i])
			start = i + 1
		}
	}
	parts = append(parts, path[start:])
	return parts
}
