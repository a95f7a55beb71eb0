package compose

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cameronsjo/rigging/internal/manifest"
	"github.com/cameronsjo/rigging/internal/store"
)

// Options configures a Service.
type Options struct {
	// ComposeTimeout bounds every composition. Zero means no limit.
	ComposeTimeout time.Duration

	// DefaultNamespace replaces an empty namespace on incoming resources.
	DefaultNamespace string
}

// Service is the composition API: profile and composite management plus
// preview and commit. Both the HTTP server and the local CLI drive it.
type Service struct {
	store    store.Store
	composer *Composer
	opts     Options
}

// NewService wires a Service to a store.
func NewService(s store.Store, opts Options) *Service {
	if opts.DefaultNamespace == "" {
		opts.DefaultNamespace = manifest.DefaultNamespace
	}
	return &Service{store: s, composer: NewComposer(s), opts: opts}
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.ComposeTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opts.ComposeTimeout)
}

func (s *Service) namespace(ns string) string {
	if strings.TrimSpace(ns) == "" {
		return s.opts.DefaultNamespace
	}
	return ns
}

// Preview composes without persisting anything.
func (s *Service) Preview(ctx context.Context, req Request) *Result {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.composer.Compose(ctx, req)
}

// CommitRequest is a composition to persist as a composite. ID and Version
// are set when updating an existing composite.
type CommitRequest struct {
	ID      string `json:"id,omitempty" yaml:"id,omitempty"`
	Version int    `json:"version,omitempty" yaml:"version,omitempty"`
	Request `yaml:",inline"`
}

// Commit composes and, when composition succeeds, saves the composite and its
// dependency edges. A failed composition returns the result with a nil
// composite and no error. err is only set when the save itself fails,
// including with a *manifest.ConflictError when a profile read by the
// composition changed before the save.
func (s *Service) Commit(ctx context.Context, req CommitRequest) (*Result, *manifest.CompositeResource, error) {
	req.Namespace = s.namespace(req.Namespace)
	if strings.TrimSpace(req.Name) == "" {
		res := &Result{
			ComposedDocument: map[string]any{},
			Errors:           []manifest.Message{manifest.MessageFromError(manifest.NewValidationError("name", "name is required"))},
			Warnings:         []manifest.Message{},
			Metadata:         Metadata{FragmentTypes: []manifest.Category{}},
		}
		return res, nil, nil
	}

	res := s.Preview(ctx, req.Request)
	if !res.Success {
		return res, nil, nil
	}

	saved, err := s.store.SaveComposite(ctx, &manifest.CompositeResource{
		ID:                 req.ID,
		Name:               req.Name,
		Namespace:          req.Namespace,
		Kind:               req.Kind,
		SelectedProfileIDs: req.ProfileIDsByCategory,
		Overrides:          req.Overrides,
		Version:            req.Version,
		ProfileVersions:    res.versions,
	})
	if err != nil {
		res.Success = false
		res.Errors = append(res.Errors, manifest.MessageFromError(err))
		return res, nil, err
	}
	return res, saved, nil
}

// RequestFor builds the composition request of a stored composite.
func RequestFor(c *manifest.CompositeResource) Request {
	return Request{
		Kind:                 c.Kind,
		Name:                 c.Name,
		Namespace:            c.Namespace,
		ProfileIDsByCategory: c.SelectedProfileIDs,
		Overrides:            c.Overrides,
	}
}

// Render composes a stored composite.
func (s *Service) Render(ctx context.Context, id string) (*Result, error) {
	c, err := s.store.GetComposite(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.Preview(ctx, RequestFor(c)), nil
}

// ListProfiles lists profiles of a category. An empty namespace lists all.
func (s *Service) ListProfiles(ctx context.Context, category manifest.Category, namespace string) ([]*manifest.Profile, error) {
	if category != "" && !category.Valid() {
		_, err := manifest.ParseCategory(string(category))
		return nil, err
	}
	return s.store.ListProfiles(ctx, store.ProfileFilter{Category: category, Namespace: namespace})
}

// GetProfile returns one profile.
func (s *Service) GetProfile(ctx context.Context, category manifest.Category, id string) (*manifest.Profile, error) {
	return s.store.GetProfile(ctx, category, id)
}

// CreateProfile stores a new profile under category.
func (s *Service) CreateProfile(ctx context.Context, category manifest.Category, p *manifest.Profile) (*manifest.Profile, error) {
	if _, err := manifest.ParseCategory(string(category)); err != nil {
		return nil, err
	}
	if p.Category != "" && p.Category != category {
		return nil, &manifest.ValidationError{
			Field:    "category",
			Message:  fmt.Sprintf("profile category %s does not match %s", p.Category, category),
			Category: category,
		}
	}
	in := p.Clone()
	in.Category = category
	in.Namespace = s.namespace(in.Namespace)
	in.Version = 0
	return s.store.CreateProfile(ctx, in)
}

// UpdateProfile replaces a stored profile. A non-zero Version must match the
// stored one.
func (s *Service) UpdateProfile(ctx context.Context, category manifest.Category, id string, p *manifest.Profile) (*manifest.Profile, error) {
	if _, err := s.store.GetProfile(ctx, category, id); err != nil {
		return nil, err
	}
	in := p.Clone()
	in.ID = id
	if in.Category == "" {
		in.Category = category
	}
	in.Namespace = s.namespace(in.Namespace)
	return s.store.PutProfile(ctx, in)
}

// ProfilePatch holds the fields of a partial update. Nil fields are left
// unchanged.
type ProfilePatch struct {
	Name          *string            `json:"name,omitempty" yaml:"name,omitempty"`
	Namespace     *string            `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	Description   *string            `json:"description,omitempty" yaml:"description,omitempty"`
	Config        any                `json:"config,omitempty" yaml:"config,omitempty"`
	MergeStrategy *manifest.Strategy `json:"merge_strategy,omitempty" yaml:"merge_strategy,omitempty"`
	Priority      *int               `json:"priority,omitempty" yaml:"priority,omitempty"`
	Includes      *[]string          `json:"includes,omitempty" yaml:"includes,omitempty"`
	Version       int                `json:"version,omitempty" yaml:"version,omitempty"`
}

// PatchProfile applies a partial update.
func (s *Service) PatchProfile(ctx context.Context, category manifest.Category, id string, patch ProfilePatch) (*manifest.Profile, error) {
	p, err := s.store.GetProfile(ctx, category, id)
	if err != nil {
		return nil, err
	}
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.Namespace != nil {
		p.Namespace = s.namespace(*patch.Namespace)
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	if patch.Config != nil {
		p.Config = patch.Config
	}
	if patch.MergeStrategy != nil {
		p.MergeStrategy = *patch.MergeStrategy
	}
	if patch.Priority != nil {
		p.Priority = *patch.Priority
	}
	if patch.Includes != nil {
		p.Includes = *patch.Includes
	}
	if patch.Version > 0 {
		p.Version = patch.Version
	}
	return s.store.PutProfile(ctx, p)
}

// DeleteProfile removes a profile nothing references.
func (s *Service) DeleteProfile(ctx context.Context, category manifest.Category, id string) error {
	return s.store.DeleteProfile(ctx, category, id)
}

// Dependents lists the consumers of a profile.
func (s *Service) Dependents(ctx context.Context, profileID string) ([]manifest.ConsumerRef, error) {
	if _, err := s.store.GetProfile(ctx, "", profileID); err != nil {
		return nil, err
	}
	return s.store.ConsumersOf(ctx, profileID)
}

// ListComposites lists composites. An empty namespace lists all.
func (s *Service) ListComposites(ctx context.Context, namespace string) ([]*manifest.CompositeResource, error) {
	return s.store.ListComposites(ctx, store.CompositeFilter{Namespace: namespace})
}

// GetComposite returns one composite.
func (s *Service) GetComposite(ctx context.Context, id string) (*manifest.CompositeResource, error) {
	return s.store.GetComposite(ctx, id)
}

// SaveComposite stores a composite without composing it.
func (s *Service) SaveComposite(ctx context.Context, c *manifest.CompositeResource) (*manifest.CompositeResource, error) {
	in := c.Clone()
	in.Namespace = s.namespace(in.Namespace)
	return s.store.SaveComposite(ctx, in)
}

// DeleteComposite removes a composite and its dependency edges.
func (s *Service) DeleteComposite(ctx context.Context, id string) error {
	return s.store.DeleteComposite(ctx, id)
}
