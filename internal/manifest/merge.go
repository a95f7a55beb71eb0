package manifest

import (
	"fmt"
	"math"
	"sort"
)

// IdentityKeys are the keys used to match entries of two sequences of
// mappings under deep merge, tried in order. A sequence merges by identity
// only when every entry on both sides carries the key.
var IdentityKeys = []string{"name", "mountPath", "containerPort"}

// Fragment is one document to merge, tagged with where it came from.
type Fragment struct {
	ProfileID string
	Category  Category
	Document  any
	Strategy  Strategy
	Priority  int
}

// MergeResult is the output of Merge.
type MergeResult struct {
	Document   any
	Provenance Provenance
	Conflicts  []*MergeConflictError
}

// Merge combines fragments into one document.
//
// Fragments are applied in ascending priority; ties keep their input order.
// Each fragment's strategy decides how it combines with everything applied
// before it:
//   - deep: mappings merge recursively, sequences of mappings merge by
//     identity key, anything else is replaced
//   - shallow: top-level keys are replaced wholesale
//   - override: the accumulated document is discarded
//   - append: top-level sequences are concatenated, other keys replaced
//
// Inputs are never mutated. Shape mismatches are collected as conflicts and
// the later value is kept.
func Merge(fragments []Fragment) *MergeResult {
	ordered := make([]Fragment, len(fragments))
	copy(ordered, fragments)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})

	m := &merger{prov: Provenance{}}
	var doc any
	for i, f := range ordered {
		m.src = Source{ProfileID: f.ProfileID, Category: f.Category}
		incoming := DeepCopy(f.Document)

		if i == 0 {
			doc = incoming
			m.prov.Record(doc, "", m.src)
			continue
		}

		switch f.Strategy {
		case StrategyOverride:
			doc = incoming
			m.prov = Provenance{}
			m.prov.Record(doc, "", m.src)
		case StrategyShallow:
			doc = m.shallow(doc, incoming)
		case StrategyAppend:
			doc = m.append(doc, incoming)
		default:
			doc = m.deep(doc, incoming, "", "")
		}
	}

	return &MergeResult{Document: doc, Provenance: m.prov, Conflicts: m.conflicts}
}

// merger carries state across one Merge call. The accumulated document is
// owned by the merger and mutated in place.
//
// origin, when set, attributes overlay leaves by their pointer inside the
// overlay instead of to src. Placement uses it to keep the profile ids of
// an already merged category.
type merger struct {
	src       Source
	origin    Provenance
	prov      Provenance
	conflicts []*MergeConflictError
}

// sourceAt returns the source of the overlay value at pointer from.
func (m *merger) sourceAt(from string) Source {
	if m.origin != nil {
		if src, ok := m.origin.Lookup(from); ok {
			return src
		}
	}
	return m.src
}

// record attributes value, placed at pointer at, to its source. from is the
// pointer of value inside the overlay.
func (m *merger) record(value any, at, from string) {
	m.prov.Record(value, at, m.src)
	if m.origin == nil {
		return
	}
	walkLeaves(value, "", func(rel string, _ any) {
		m.prov[at+rel] = m.sourceAt(from + rel)
	})
}

func (m *merger) deep(base, overlay any, path, from string) any {
	// Both are maps - recursive merge
	baseMap, baseIsMap := base.(map[string]any)
	overlayMap, overlayIsMap := overlay.(map[string]any)
	if baseIsMap && overlayIsMap {
		for _, key := range sortedKeys(overlayMap) {
			child, childFrom := JoinPointer(path, key), JoinPointer(from, key)
			existing, exists := baseMap[key]
			if !exists {
				baseMap[key] = overlayMap[key]
				m.record(overlayMap[key], child, childFrom)
				continue
			}
			baseMap[key] = m.deep(existing, overlayMap[key], child, childFrom)
		}
		return baseMap
	}

	// Both are sequences - merge by identity when possible
	baseSeq, baseIsSeq := base.([]any)
	overlaySeq, overlayIsSeq := overlay.([]any)
	if baseIsSeq && overlayIsSeq {
		if key := identityKey(baseSeq, overlaySeq); key != "" {
			return m.mergeByIdentity(baseSeq, overlaySeq, key, path, from)
		}
		return m.replace(base, overlay, path, from)
	}

	return m.replace(base, overlay, path, from)
}

// replace puts overlay at path, recording a conflict when the shapes differ.
func (m *merger) replace(base, overlay any, path, from string) any {
	m.checkShapes(base, overlay, path, from)
	m.record(overlay, path, from)
	return overlay
}

func (m *merger) checkShapes(base, overlay any, path, from string) {
	existing, incoming := shapeOf(base), shapeOf(overlay)
	if existing == incoming || existing == shapeNull || incoming == shapeNull {
		return
	}
	prev, _ := m.prov.Lookup(path)
	src := m.sourceAt(from)
	m.conflicts = append(m.conflicts, &MergeConflictError{
		Path:              path,
		ProfileID:         src.ProfileID,
		PreviousProfileID: prev.ProfileID,
		Category:          src.Category,
		Existing:          existing,
		Incoming:          incoming,
	})
}

// mergeByIdentity merges overlay entries into the base entry with the same
// identity and appends the rest. Positions in the result differ from
// positions in overlay, so each entry carries its own overlay pointer.
func (m *merger) mergeByIdentity(base, overlay []any, key, path, from string) []any {
	index := make(map[string]int, len(base))
	for i, item := range base {
		id := identityOf(item, key)
		if _, seen := index[id]; !seen {
			index[id] = i
		}
	}

	result := base
	for j, item := range overlay {
		id := identityOf(item, key)
		itemFrom := IndexPointer(from, j)
		if pos, ok := index[id]; ok {
			result[pos] = m.deep(result[pos], item, IndexPointer(path, pos), itemFrom)
			continue
		}
		index[id] = len(result)
		m.record(item, IndexPointer(path, len(result)), itemFrom)
		result = append(result, item)
	}
	return result
}

// identityKey picks the first identity key shared by every entry of both
// sequences, or "" when the sequences must be replaced instead.
func identityKey(base, overlay []any) string {
	if len(base) == 0 || len(overlay) == 0 {
		return ""
	}
	for _, key := range IdentityKeys {
		if allHaveKey(base, key) && allHaveKey(overlay, key) {
			return key
		}
	}
	return ""
}

func allHaveKey(seq []any, key string) bool {
	for _, item := range seq {
		m, ok := item.(map[string]any)
		if !ok {
			return false
		}
		if v, ok := m[key]; !ok || v == nil {
			return false
		}
	}
	return true
}

// identityOf keys an entry by its identity value and that value's type, so
// name: 1 and name: "1" stay distinct. Whole floats count as ints.
func identityOf(item any, key string) string {
	v := item.(map[string]any)[key]
	if f, ok := v.(float64); ok && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		v = int(f)
	}
	return fmt.Sprintf("%T:%v", v, v)
}

func (m *merger) shallow(base, overlay any) any {
	baseMap, baseIsMap := base.(map[string]any)
	overlayMap, overlayIsMap := overlay.(map[string]any)
	if !baseIsMap || !overlayIsMap {
		return m.replace(base, overlay, "", "")
	}
	for _, key := range sortedKeys(overlayMap) {
		child := JoinPointer("", key)
		m.checkShapes(baseMap[key], overlayMap[key], child, child)
		baseMap[key] = overlayMap[key]
		m.record(overlayMap[key], child, child)
	}
	return baseMap
}

func (m *merger) append(base, overlay any) any {
	// Two top-level sequences - concatenate
	if baseSeq, ok := base.([]any); ok {
		if overlaySeq, ok := overlay.([]any); ok {
			return m.concat(baseSeq, overlaySeq, "", "")
		}
	}

	baseMap, baseIsMap := base.(map[string]any)
	overlayMap, overlayIsMap := overlay.(map[string]any)
	if !baseIsMap || !overlayIsMap {
		return m.replace(base, overlay, "", "")
	}

	for _, key := range sortedKeys(overlayMap) {
		child := JoinPointer("", key)
		incoming := overlayMap[key]
		existing, exists := baseMap[key]
		if !exists {
			baseMap[key] = incoming
			m.record(incoming, child, child)
			continue
		}
		existingSeq, existingIsSeq := existing.([]any)
		incomingSeq, incomingIsSeq := incoming.([]any)
		if existingIsSeq && incomingIsSeq {
			baseMap[key] = m.concat(existingSeq, incomingSeq, child, child)
			continue
		}
		baseMap[key] = m.replace(existing, incoming, child, child)
	}
	return baseMap
}

// concat appends overlay to base, keeping duplicates.
func (m *merger) concat(base, overlay []any, path, from string) []any {
	result := base
	for j, item := range overlay {
		m.record(item, IndexPointer(path, len(result)), IndexPointer(from, j))
		result = append(result, item)
	}
	return result
}

// DeepMerge merges overlay into a copy of base with deep semantics. It is a
// convenience for callers that do not need provenance or conflicts.
func DeepMerge(base, overlay map[string]any) map[string]any {
	res := Merge([]Fragment{
		{Document: base, Strategy: StrategyDeep},
		{Document: overlay, Strategy: StrategyDeep},
	})
	out, ok := res.Document.(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return out
}
