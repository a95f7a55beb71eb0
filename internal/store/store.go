// Package store persists profiles and composite resources and maintains the
// reverse dependency index that keeps referenced profiles from being deleted.
package store

import (
	"context"
	"fmt"

	"github.com/cameronsjo/rigging/internal/manifest"
)

// Supported store drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// ProfileFilter narrows ListProfiles. Zero fields match everything.
type ProfileFilter struct {
	Category  manifest.Category
	Namespace string
}

// CompositeFilter narrows ListComposites. Zero fields match everything.
type CompositeFilter struct {
	Namespace string
}

// Store is the fragment store. Implementations serialize writes so that every
// check-then-act sequence (reference checks before delete, existence checks
// before save) observes one consistent state.
type Store interface {
	// GetProfile returns a profile. An empty category matches any category.
	GetProfile(ctx context.Context, category manifest.Category, id string) (*manifest.Profile, error)
	ListProfiles(ctx context.Context, filter ProfileFilter) ([]*manifest.Profile, error)

	// PutProfile creates or updates a profile and returns the stored copy.
	PutProfile(ctx context.Context, p *manifest.Profile) (*manifest.Profile, error)

	// CreateProfile is PutProfile for new profiles only. It fails with
	// *manifest.ConflictError when p.ID is already stored.
	CreateProfile(ctx context.Context, p *manifest.Profile) (*manifest.Profile, error)

	// DeleteProfile fails with *manifest.DependentsExistError while anything
	// still references the profile.
	DeleteProfile(ctx context.Context, category manifest.Category, id string) error

	// Snapshot returns the requested profiles and everything they include,
	// read in one consistent view. Unknown ids are absent from the result.
	Snapshot(ctx context.Context, ids []string) (map[string]*manifest.Profile, error)

	GetComposite(ctx context.Context, id string) (*manifest.CompositeResource, error)
	ListComposites(ctx context.Context, filter CompositeFilter) ([]*manifest.CompositeResource, error)

	// SaveComposite creates or updates a composite and replaces its
	// dependency edges in the same write. When c.ProfileVersions is set it
	// fails with *manifest.ConflictError if any of those profiles has
	// changed.
	SaveComposite(ctx context.Context, c *manifest.CompositeResource) (*manifest.CompositeResource, error)
	DeleteComposite(ctx context.Context, id string) error

	// ConsumersOf lists everything that references a profile.
	ConsumersOf(ctx context.Context, profileID string) ([]manifest.ConsumerRef, error)

	Close() error
}

// Open opens a store for the given driver. path is ignored by the memory driver.
func Open(driver, path string) (Store, error) {
	switch driver {
	case DriverMemory:
		return NewMemory(), nil
	case DriverSQLite, "":
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("unknown store driver %q (supported: %s, %s)", driver, DriverMemory, DriverSQLite)
	}
}

func profileNotFound(id string) error {
	return fmt.Errorf("profile %s: %w", id, manifest.ErrNotFound)
}

func compositeNotFound(id string) error {
	return fmt.Errorf("composite %s: %w", id, manifest.ErrNotFound)
}
