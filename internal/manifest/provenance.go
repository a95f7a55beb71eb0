package manifest

import (
	"sort"
	"strings"
)

// OverrideSource marks values set by composite overrides.
const OverrideSource = "override"

// Source identifies the fragment that set a value.
type Source struct {
	ProfileID string   `json:"profile_id" yaml:"profile_id"`
	Category  Category `json:"category,omitempty" yaml:"category,omitempty"`
}

// ProvenanceEntry is one leaf path with its source.
type ProvenanceEntry struct {
	Path      string   `json:"path" yaml:"path"`
	ProfileID string   `json:"profile_id" yaml:"profile_id"`
	Category  Category `json:"category,omitempty" yaml:"category,omitempty"`
}

// Provenance maps the JSON pointer of every leaf to its source.
type Provenance map[string]Source

// Record attributes every leaf of value, placed at pointer at, to src.
// Anything previously recorded at or beneath at is forgotten, and so are
// ancestors of at that had been leaves.
func (p Provenance) Record(value any, at string, src Source) {
	p.Clear(at)
	p.dropAncestors(at)
	walkLeaves(value, at, func(leaf string, _ any) {
		p[leaf] = src
	})
}

// Clear forgets every path at or beneath prefix.
func (p Provenance) Clear(prefix string) {
	for path := range p {
		if HasPointerPrefix(path, prefix) {
			delete(p, path)
		}
	}
}

func (p Provenance) dropAncestors(at string) {
	for at != "" {
		i := strings.LastIndex(at, "/")
		if i < 0 {
			return
		}
		at = at[:i]
		delete(p, at)
	}
}

// Lookup returns the source responsible for pointer: the exact entry, else
// the nearest ancestor, else the descendant from the earliest category in
// application order, which is the one that introduced the subtree. Ties go
// to the first path.
func (p Provenance) Lookup(pointer string) (Source, bool) {
	if src, ok := p[pointer]; ok {
		return src, true
	}
	for at := pointer; at != ""; {
		i := strings.LastIndex(at, "/")
		if i < 0 {
			break
		}
		at = at[:i]
		if src, ok := p[at]; ok {
			return src, true
		}
	}

	var first string
	found := false
	for path := range p {
		if !HasPointerPrefix(path, pointer) {
			continue
		}
		if !found || earlier(p[path], path, p[first], first) {
			first = path
			found = true
		}
	}
	if found {
		return p[first], true
	}
	return Source{}, false
}

// Entries returns the provenance sorted by path.
func (p Provenance) Entries() []ProvenanceEntry {
	out := make([]ProvenanceEntry, 0, len(p))
	for path, src := range p {
		out = append(out, ProvenanceEntry{Path: path, ProfileID: src.ProfileID, Category: src.Category})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Clone returns a copy of p.
func (p Provenance) Clone() Provenance {
	out := make(Provenance, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func earlier(a Source, aPath string, b Source, bPath string) bool {
	if ra, rb := categoryRank(a.Category), categoryRank(b.Category); ra != rb {
		return ra < rb
	}
	return aPath < bPath
}

// categoryRank orders categories by application order; anything else sorts last.
func categoryRank(c Category) int {
	for i, known := range ApplicationOrder {
		if c == known {
			return i
		}
	}
	return len(ApplicationOrder)
}
