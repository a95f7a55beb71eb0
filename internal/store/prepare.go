package store

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/cameronsjo/rigging/internal/manifest"
)

// newID returns a time-ordered UUID.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// timestamp truncates to the precision both backends can store.
func timestamp(now time.Time) time.Time {
	return now.UTC().Truncate(time.Millisecond)
}

// prepareProfile normalizes and validates an incoming profile against the
// stored version (nil on create) and assigns id, version and timestamps.
// create rejects an id that is already stored.
func prepareProfile(in, existing *manifest.Profile, now time.Time, create bool) (*manifest.Profile, error) {
	if create && existing != nil {
		return nil, &manifest.ConflictError{Resource: "profile", ID: in.ID, Message: "id already exists"}
	}
	p := in.Clone()
	if err := p.Normalize(); err != nil {
		return nil, err
	}

	if existing == nil {
		if p.ID == "" {
			p.ID = newID()
		}
		p.Version = 1
		p.CreatedAt = timestamp(now)
		p.UpdatedAt = p.CreatedAt
	} else {
		if p.Category != existing.Category {
			return nil, &manifest.ValidationError{
				Field:     "category",
				Message:   fmt.Sprintf("category is immutable (stored as %s)", existing.Category),
				ProfileID: p.ID,
				Category:  existing.Category,
			}
		}
		if in.Version > 0 && in.Version != existing.Version {
			return nil, &manifest.ConflictError{
				Resource: "profile",
				ID:       p.ID,
				Message:  fmt.Sprintf("version %d is stale (current %d)", in.Version, existing.Version),
			}
		}
		p.Version = existing.Version + 1
		p.CreatedAt = existing.CreatedAt
		p.UpdatedAt = timestamp(now)
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// checkIncludes verifies that every include resolves to a profile of the same
// category and namespace and that the includes do not form a cycle.
// includesOf returns the stored includes of another profile.
func checkIncludes(p *manifest.Profile, lookup func(id string) (*manifest.Profile, bool), includesOf func(id string) []string) error {
	for _, inc := range p.Includes {
		target, ok := lookup(inc)
		if !ok {
			return &manifest.MissingProfileError{ProfileID: inc, Category: p.Category}
		}
		if target.Category != p.Category {
			return &manifest.ValidationError{
				Field:     "includes",
				Message:   fmt.Sprintf("profile %s is a %s profile, not %s", inc, target.Category, p.Category),
				ProfileID: p.ID,
				Category:  p.Category,
			}
		}
		if target.Namespace != p.Namespace {
			return &manifest.ValidationError{
				Field:     "includes",
				Message:   fmt.Sprintf("profile %s is in namespace %s, not %s", inc, target.Namespace, p.Namespace),
				ProfileID: p.ID,
				Category:  p.Category,
			}
		}
	}

	cycle := manifest.DetectCycle(p.ID, func(id string) []string {
		if id == p.ID {
			return p.Includes
		}
		return includesOf(id)
	})
	if cycle != nil {
		return &manifest.CyclicDependencyError{Cycle: cycle, Category: p.Category}
	}
	return nil
}

// prepareComposite normalizes and validates an incoming composite against the
// stored version (nil on create) and assigns id, version and timestamps.
func prepareComposite(in, existing *manifest.CompositeResource, now time.Time) (*manifest.CompositeResource, error) {
	c := in.Clone()
	c.ProfileVersions = nil
	if err := c.Normalize(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	if existing == nil {
		if c.ID == "" {
			c.ID = newID()
		}
		c.Version = 1
		c.CreatedAt = timestamp(now)
		c.UpdatedAt = c.CreatedAt
		return c, nil
	}

	if in.Version > 0 && in.Version != existing.Version {
		return nil, &manifest.ConflictError{
			Resource: "composite",
			ID:       c.ID,
			Message:  fmt.Sprintf("version %d is stale (current %d)", in.Version, existing.Version),
		}
	}
	c.Version = existing.Version + 1
	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = timestamp(now)
	return c, nil
}

// checkSelection verifies that every selected profile exists in the category
// it is selected under.
func checkSelection(c *manifest.CompositeResource, lookup func(id string) (*manifest.Profile, bool)) error {
	for _, cat := range manifest.ApplicationOrder {
		for _, id := range c.SelectedProfileIDs[cat] {
			p, ok := lookup(id)
			if !ok || p.Category != cat {
				return &manifest.MissingProfileError{ProfileID: id, Category: cat}
			}
		}
	}
	return nil
}

// checkVersions verifies that every profile in pinned is still stored at the
// given version.
func checkVersions(pinned map[string]int, lookup func(id string) (*manifest.Profile, bool)) error {
	ids := make([]string, 0, len(pinned))
	for id := range pinned {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		p, ok := lookup(id)
		if !ok {
			return &manifest.MissingProfileError{ProfileID: id}
		}
		if p.Version != pinned[id] {
			return &manifest.ConflictError{
				Resource: "profile",
				ID:       id,
				Message:  fmt.Sprintf("changed while composing (version %d, now %d)", pinned[id], p.Version),
			}
		}
	}
	return nil
}

func nameTaken(resource, name, scope string) error {
	return &manifest.ConflictError{
		Resource: resource,
		Message:  fmt.Sprintf("name %q already exists in %s", name, scope),
	}
}
