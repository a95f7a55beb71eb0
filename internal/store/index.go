package store

import (
	"sort"

	"github.com/cameronsjo/rigging/internal/manifest"
)

type consumerKey struct {
	id   string
	kind manifest.ConsumerKind
}

// Index is the reverse dependency index: for every profile, the consumers
// that reference it. It is not safe for concurrent use; callers hold the
// store's lock.
type Index struct {
	byProfile  map[string]map[consumerKey]struct{}
	byConsumer map[consumerKey][]string
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{
		byProfile:  make(map[string]map[consumerKey]struct{}),
		byConsumer: make(map[consumerKey][]string),
	}
}

// AddEdges records that the consumer references each profile.
func (ix *Index) AddEdges(consumerID string, kind manifest.ConsumerKind, profileIDs []string) {
	key := consumerKey{id: consumerID, kind: kind}
	existing := make(map[string]bool, len(ix.byConsumer[key]))
	for _, id := range ix.byConsumer[key] {
		existing[id] = true
	}
	for _, pid := range profileIDs {
		if existing[pid] {
			continue
		}
		existing[pid] = true
		ix.byConsumer[key] = append(ix.byConsumer[key], pid)
		consumers, ok := ix.byProfile[pid]
		if !ok {
			consumers = make(map[consumerKey]struct{})
			ix.byProfile[pid] = consumers
		}
		consumers[key] = struct{}{}
	}
}

// RemoveEdges drops every edge held by the consumer.
func (ix *Index) RemoveEdges(consumerID string, kind manifest.ConsumerKind) {
	key := consumerKey{id: consumerID, kind: kind}
	for _, pid := range ix.byConsumer[key] {
		consumers := ix.byProfile[pid]
		delete(consumers, key)
		if len(consumers) == 0 {
			delete(ix.byProfile, pid)
		}
	}
	delete(ix.byConsumer, key)
}

// ReplaceEdges swaps the consumer's edges for a new set.
func (ix *Index) ReplaceEdges(consumerID string, kind manifest.ConsumerKind, profileIDs []string) {
	ix.RemoveEdges(consumerID, kind)
	ix.AddEdges(consumerID, kind, profileIDs)
}

// ConsumersOf returns the consumers of a profile sorted by kind then id.
// Names are left empty; the store fills them in.
func (ix *Index) ConsumersOf(profileID string) []manifest.ConsumerRef {
	consumers := ix.byProfile[profileID]
	refs := make([]manifest.ConsumerRef, 0, len(consumers))
	for key := range consumers {
		refs = append(refs, manifest.ConsumerRef{ID: key.id, Kind: key.kind})
	}
	manifest.SortConsumers(refs)
	return refs
}

// Edges returns every edge sorted by profile, consumer kind and consumer id.
func (ix *Index) Edges() []manifest.DependencyEdge {
	var edges []manifest.DependencyEdge
	for pid, consumers := range ix.byProfile {
		for key := range consumers {
			edges = append(edges, manifest.DependencyEdge{ProfileID: pid, ConsumerID: key.id, ConsumerKind: key.kind})
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if a.ProfileID != b.ProfileID {
			return a.ProfileID < b.ProfileID
		}
		if a.ConsumerKind != b.ConsumerKind {
			return a.ConsumerKind < b.ConsumerKind
		}
		return a.ConsumerID < b.ConsumerID
	})
	return edges
}
