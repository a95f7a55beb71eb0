package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cameronsjo/rigging/internal/manifest"
)

// Memory is an in-memory Store guarded by a single RWMutex.
type Memory struct {
	mu         sync.RWMutex
	profiles   map[string]*manifest.Profile
	composites map[string]*manifest.CompositeResource
	index      *Index
	now        func() time.Time
}

// Compile-time interface check.
var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		profiles:   make(map[string]*manifest.Profile),
		composites: make(map[string]*manifest.CompositeResource),
		index:      NewIndex(),
		now:        time.Now,
	}
}

// GetProfile implements Store.
func (m *Memory) GetProfile(ctx context.Context, category manifest.Category, id string) (*manifest.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.profiles[id]
	if !ok || (category != "" && p.Category != category) {
		return nil, profileNotFound(id)
	}
	return p.Clone(), nil
}

// ListProfiles implements Store.
func (m *Memory) ListProfiles(ctx context.Context, filter ProfileFilter) ([]*manifest.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*manifest.Profile, 0, len(m.profiles))
	for _, p := range m.profiles {
		if filter.Category != "" && p.Category != filter.Category {
			continue
		}
		if filter.Namespace != "" && p.Namespace != filter.Namespace {
			continue
		}
		out = append(out, p.Clone())
	}
	sortProfiles(out)
	return out, nil
}

// PutProfile implements Store.
func (m *Memory) PutProfile(ctx context.Context, in *manifest.Profile) (*manifest.Profile, error) {
	return m.putProfile(ctx, in, false)
}

// CreateProfile implements Store.
func (m *Memory) CreateProfile(ctx context.Context, in *manifest.Profile) (*manifest.Profile, error) {
	return m.putProfile(ctx, in, true)
}

func (m *Memory) putProfile(ctx context.Context, in *manifest.Profile, create bool) (*manifest.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.profiles[in.ID]
	p, err := prepareProfile(in, existing, m.now(), create)
	if err != nil {
		return nil, err
	}

	for _, other := range m.profiles {
		if other.ID != p.ID && other.Namespace == p.Namespace && other.Category == p.Category && other.Name == p.Name {
			return nil, nameTaken("profile", p.Name, p.Namespace+"/"+string(p.Category))
		}
	}

	lookup := func(id string) (*manifest.Profile, bool) {
		found, ok := m.profiles[id]
		return found, ok
	}
	includesOf := func(id string) []string {
		if found, ok := m.profiles[id]; ok {
			return found.Includes
		}
		return nil
	}
	if err := checkIncludes(p, lookup, includesOf); err != nil {
		return nil, err
	}

	m.profiles[p.ID] = p
	m.index.ReplaceEdges(p.ID, manifest.ConsumerProfile, p.Includes)
	return p.Clone(), nil
}

// DeleteProfile implements Store.
func (m *Memory) DeleteProfile(ctx context.Context, category manifest.Category, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.profiles[id]
	if !ok || (category != "" && p.Category != category) {
		return profileNotFound(id)
	}

	if consumers := m.consumersLocked(id); len(consumers) > 0 {
		return &manifest.DependentsExistError{
			ResourceID:   p.ID,
			ResourceName: p.Name,
			ResourceType: p.Category,
			Dependents:   consumers,
		}
	}

	delete(m.profiles, id)
	m.index.RemoveEdges(id, manifest.ConsumerProfile)
	return nil
}

// Snapshot implements Store.
func (m *Memory) Snapshot(ctx context.Context, ids []string) (map[string]*manifest.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]*manifest.Profile, len(ids))
	queue := append([]string(nil), ids...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, done := out[id]; done {
			continue
		}
		p, ok := m.profiles[id]
		if !ok {
			continue
		}
		out[id] = p.Clone()
		queue = append(queue, p.Includes...)
	}
	return out, nil
}

// GetComposite implements Store.
func (m *Memory) GetComposite(ctx context.Context, id string) (*manifest.CompositeResource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.composites[id]
	if !ok {
		return nil, compositeNotFound(id)
	}
	return c.Clone(), nil
}

// ListComposites implements Store.
func (m *Memory) ListComposites(ctx context.Context, filter CompositeFilter) ([]*manifest.CompositeResource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*manifest.CompositeResource, 0, len(m.composites))
	for _, c := range m.composites {
		if filter.Namespace != "" && c.Namespace != filter.Namespace {
			continue
		}
		out = append(out, c.Clone())
	}
	sortComposites(out)
	return out, nil
}

// SaveComposite implements Store.
func (m *Memory) SaveComposite(ctx context.Context, in *manifest.CompositeResource) (*manifest.CompositeResource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := prepareComposite(in, m.composites[in.ID], m.now())
	if err != nil {
		return nil, err
	}

	for _, other := range m.composites {
		if other.ID != c.ID && other.Namespace == c.Namespace && other.Name == c.Name {
			return nil, nameTaken("composite", c.Name, c.Namespace)
		}
	}

	lookup := func(id string) (*manifest.Profile, bool) {
		p, ok := m.profiles[id]
		return p, ok
	}
	if err := checkSelection(c, lookup); err != nil {
		return nil, err
	}
	if err := checkVersions(in.ProfileVersions, lookup); err != nil {
		return nil, err
	}

	m.composites[c.ID] = c
	m.index.ReplaceEdges(c.ID, manifest.ConsumerComposite, c.ProfileIDs())
	return c.Clone(), nil
}

// DeleteComposite implements Store.
func (m *Memory) DeleteComposite(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.composites[id]; !ok {
		return compositeNotFound(id)
	}
	delete(m.composites, id)
	m.index.RemoveEdges(id, manifest.ConsumerComposite)
	return nil
}

// ConsumersOf implements Store.
func (m *Memory) ConsumersOf(ctx context.Context, profileID string) ([]manifest.ConsumerRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.consumersLocked(profileID), nil
}

func (m *Memory) consumersLocked(profileID string) []manifest.ConsumerRef {
	refs := m.index.ConsumersOf(profileID)
	for i := range refs {
		switch refs[i].Kind {
		case manifest.ConsumerComposite:
			if c, ok := m.composites[refs[i].ID]; ok {
				refs[i].Name = c.Name
			}
		case manifest.ConsumerProfile:
			if p, ok := m.profiles[refs[i].ID]; ok {
				refs[i].Name = p.Name
			}
		}
	}
	return refs
}

// Close implements Store.
func (m *Memory) Close() error {
	return nil
}

func sortProfiles(ps []*manifest.Profile) {
	sort.Slice(ps, func(i, j int) bool {
		a, b := ps[i], ps[j]
		if a.Namespace != b.Namespace {
			return a.Namespace < b.Namespace
		}
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})
}

func sortComposites(cs []*manifest.CompositeResource) {
	sort.Slice(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if a.Namespace != b.Namespace {
			return a.Namespace < b.Namespace
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})
}
