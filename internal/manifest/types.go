package manifest

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// DefaultNamespace is used for profiles and composites created without one.
const DefaultNamespace = "default"

// Category identifies which slice of a manifest a profile describes.
type Category string

// Profile categories.
const (
	CategoryContainer          Category = "container"
	CategoryVolume             Category = "volume"
	CategoryScheduling         Category = "scheduling"
	CategoryResource           Category = "resource"
	CategoryProbe              Category = "probe"
	CategoryEnv                Category = "env"
	CategoryLifecycle          Category = "lifecycle"
	CategoryPodMetadata        Category = "pod_metadata"
	CategoryServiceMetadata    Category = "service_metadata"
	CategoryServiceSelector    Category = "service_selector"
	CategoryDeploymentSelector Category = "deployment_selector"
)

// ApplicationOrder is the fixed order in which categories are composed.
// Composition never depends on the order a client submitted its selection in.
var ApplicationOrder = []Category{
	CategoryPodMetadata,
	CategoryServiceMetadata,
	CategoryServiceSelector,
	CategoryDeploymentSelector,
	CategoryContainer,
	CategoryVolume,
	CategoryScheduling,
	CategoryResource,
	CategoryProbe,
	CategoryEnv,
	CategoryLifecycle,
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, known := range ApplicationOrder {
		if c == known {
			return true
		}
	}
	return false
}

// ContainerScoped reports whether the category is applied to every container
// of the pod spec rather than at a fixed manifest path.
func (c Category) ContainerScoped() bool {
	switch c {
	case CategoryResource, CategoryProbe, CategoryEnv, CategoryLifecycle:
		return true
	}
	return false
}

// ParseCategory converts a string into a Category.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.TrimSpace(s))
	if !c.Valid() {
		return "", NewValidationError("category", fmt.Sprintf("unknown category %q", s), categoryNames()...)
	}
	return c, nil
}

func categoryNames() []string {
	names := make([]string, len(ApplicationOrder))
	for i, c := range ApplicationOrder {
		names[i] = string(c)
	}
	return names
}

// Strategy governs how a fragment combines with the fragments applied before it.
type Strategy string

// Merge strategies.
const (
	StrategyDeep     Strategy = "deep"
	StrategyShallow  Strategy = "shallow"
	StrategyOverride Strategy = "override"
	StrategyAppend   Strategy = "append"
)

// SupportedStrategies lists all valid merge strategies.
var SupportedStrategies = []Strategy{StrategyDeep, StrategyShallow, StrategyOverride, StrategyAppend}

// ParseStrategy converts a string into a Strategy. Empty means deep.
func ParseStrategy(s string) (Strategy, error) {
	if s == "" {
		return StrategyDeep, nil
	}
	for _, st := range SupportedStrategies {
		if Strategy(s) == st {
			return st, nil
		}
	}
	return "", NewValidationError("merge_strategy", fmt.Sprintf("unknown merge strategy %q (supported: %v)", s, SupportedStrategies))
}

// Kind is the type of manifest a composite resource produces.
type Kind string

// Supported manifest kinds.
const (
	KindDeployment Kind = "Deployment"
	KindPod        Kind = "Pod"
	KindService    Kind = "Service"
)

// SupportedKinds lists all kinds a composite can target.
var SupportedKinds = []Kind{KindDeployment, KindPod, KindService}

// ParseKind converts a string into a Kind. Empty means Deployment.
func ParseKind(s string) (Kind, error) {
	if s == "" {
		return KindDeployment, nil
	}
	for _, k := range SupportedKinds {
		if strings.EqualFold(s, string(k)) {
			return k, nil
		}
	}
	return "", NewValidationError("kind", fmt.Sprintf("unsupported kind %q (supported: %v)", s, SupportedKinds))
}

// Profile is one reusable configuration fragment.
type Profile struct {
	ID            string   `json:"id" yaml:"id"`
	Category      Category `json:"category" yaml:"category"`
	Name          string   `json:"name" yaml:"name"`
	Namespace     string   `json:"namespace" yaml:"namespace"`
	Description   string   `json:"description,omitempty" yaml:"description,omitempty"`
	Config        any      `json:"config" yaml:"config"`
	MergeStrategy Strategy `json:"merge_strategy" yaml:"merge_strategy"`
	Priority      int      `json:"priority" yaml:"priority"`

	// Includes lists profiles of the same category and namespace whose
	// documents are applied immediately before this one.
	Includes []string `json:"includes,omitempty" yaml:"includes,omitempty"`

	Version   int       `json:"version" yaml:"version"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// Normalize fills defaults and converts Config into the generic document model.
func (p *Profile) Normalize() error {
	p.Name = strings.TrimSpace(p.Name)
	p.Namespace = strings.TrimSpace(p.Namespace)
	if p.Namespace == "" {
		p.Namespace = DefaultNamespace
	}
	if p.MergeStrategy == "" {
		p.MergeStrategy = StrategyDeep
	}
	var (
		doc any
		err error
	)
	switch raw := p.Config.(type) {
	case nil:
		doc = map[string]any{}
	case string:
		// Config submitted as YAML or JSON text
		doc, err = ParseMapping([]byte(raw))
	default:
		doc, err = Normalize(raw)
	}
	if err != nil {
		return &ValidationError{Field: "config", Message: err.Error(), ProfileID: p.ID, Category: p.Category}
	}
	p.Config = doc
	return nil
}

// Validate checks the profile invariants that do not need a store.
func (p *Profile) Validate() error {
	if !p.Category.Valid() {
		return &ValidationError{Field: "category", Message: fmt.Sprintf("unknown category %q", p.Category), ProfileID: p.ID}
	}
	if p.Name == "" {
		return &ValidationError{Field: "name", Message: "name is required", ProfileID: p.ID, Category: p.Category}
	}
	if _, err := ParseStrategy(string(p.MergeStrategy)); err != nil {
		return &ValidationError{
			Field:     "merge_strategy",
			Message:   fmt.Sprintf("unknown merge strategy %q", p.MergeStrategy),
			ProfileID: p.ID,
			Category:  p.Category,
			Allowed:   []string{string(StrategyDeep), string(StrategyShallow), string(StrategyOverride), string(StrategyAppend)},
		}
	}
	if _, ok := p.Config.(map[string]any); !ok {
		return &ValidationError{Field: "config", Message: fmt.Sprintf("config must be a mapping, got %s", shapeOf(p.Config)), ProfileID: p.ID, Category: p.Category}
	}
	seen := make(map[string]bool, len(p.Includes))
	for _, inc := range p.Includes {
		if inc == "" {
			return &ValidationError{Field: "includes", Message: "empty profile id", ProfileID: p.ID, Category: p.Category}
		}
		if p.ID != "" && inc == p.ID {
			return &CyclicDependencyError{Cycle: []string{p.ID, p.ID}, Category: p.Category}
		}
		if seen[inc] {
			return &ValidationError{Field: "includes", Message: fmt.Sprintf("profile %s included twice", inc), ProfileID: p.ID, Category: p.Category}
		}
		seen[inc] = true
	}
	return nil
}

// Clone returns a deep copy of the profile.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Config = DeepCopy(p.Config)
	if p.Includes != nil {
		cp.Includes = append([]string(nil), p.Includes...)
	}
	return &cp
}

// CompositeResource is a named selection of profiles plus overrides that
// together describe one target manifest.
type CompositeResource struct {
	ID                 string                `json:"id" yaml:"id"`
	Name               string                `json:"name" yaml:"name"`
	Namespace          string                `json:"namespace" yaml:"namespace"`
	Kind               Kind                  `json:"kind" yaml:"kind"`
	SelectedProfileIDs map[Category][]string `json:"selected_profile_ids" yaml:"selected_profile_ids"`
	Overrides          map[string]any        `json:"overrides,omitempty" yaml:"overrides,omitempty"`

	Version   int       `json:"version" yaml:"version"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`

	// ProfileVersions pins the profile versions a save was composed from.
	// It is never stored.
	ProfileVersions map[string]int `json:"-" yaml:"-"`
}

// Normalize fills defaults for namespace and kind and normalizes overrides.
func (c *CompositeResource) Normalize() error {
	c.Name = strings.TrimSpace(c.Name)
	c.Namespace = strings.TrimSpace(c.Namespace)
	if c.Namespace == "" {
		c.Namespace = DefaultNamespace
	}
	kind, err := ParseKind(string(c.Kind))
	if err != nil {
		return err
	}
	c.Kind = kind
	if c.SelectedProfileIDs == nil {
		c.SelectedProfileIDs = map[Category][]string{}
	}
	if c.Overrides != nil {
		doc, err := Normalize(map[string]any(c.Overrides))
		if err != nil {
			return &ValidationError{Field: "overrides", Message: err.Error()}
		}
		c.Overrides = doc.(map[string]any)
	}
	return nil
}

// Validate checks the composite invariants that do not need a store.
func (c *CompositeResource) Validate() error {
	if c.Name == "" {
		return NewValidationError("name", "name is required")
	}
	for cat, ids := range c.SelectedProfileIDs {
		if !cat.Valid() {
			return &ValidationError{Field: "selected_profile_ids", Message: fmt.Sprintf("unknown category %q", cat), Category: cat}
		}
		for _, id := range ids {
			if id == "" {
				return &ValidationError{Field: "selected_profile_ids", Message: "empty profile id", Category: cat}
			}
		}
	}
	for key := range c.Overrides {
		if _, err := OverridePath(key); err != nil {
			return err
		}
	}
	return nil
}

// ProfileIDs returns every referenced profile id once, in application order.
func (c *CompositeResource) ProfileIDs() []string {
	return SelectionIDs(c.SelectedProfileIDs)
}

// Clone returns a deep copy of the composite.
func (c *CompositeResource) Clone() *CompositeResource {
	if c == nil {
		return nil
	}
	cp := *c
	cp.SelectedProfileIDs = make(map[Category][]string, len(c.SelectedProfileIDs))
	for cat, ids := range c.SelectedProfileIDs {
		cp.SelectedProfileIDs[cat] = append([]string(nil), ids...)
	}
	if c.Overrides != nil {
		cp.Overrides = DeepCopy(c.Overrides).(map[string]any)
	}
	return &cp
}

// SelectionIDs flattens a category selection into unique ids. Known categories
// come first in application order, unknown ones after in name order.
func SelectionIDs(selection map[Category][]string) []string {
	cats := make([]Category, 0, len(selection))
	cats = append(cats, ApplicationOrder...)
	var extra []Category
	for cat := range selection {
		if !cat.Valid() {
			extra = append(extra, cat)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	cats = append(cats, extra...)

	seen := make(map[string]bool)
	var ids []string
	for _, cat := range cats {
		for _, id := range selection[cat] {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// ConsumerKind identifies what kind of resource holds a dependency edge.
type ConsumerKind string

// Consumer kinds.
const (
	ConsumerComposite ConsumerKind = "composite"
	ConsumerProfile   ConsumerKind = "profile"
)

// ConsumerRef names a resource that references a profile.
type ConsumerRef struct {
	ID   string       `json:"id" yaml:"id"`
	Name string       `json:"name" yaml:"name"`
	Kind ConsumerKind `json:"kind" yaml:"kind"`
}

// DependencyEdge records that a consumer references a profile.
type DependencyEdge struct {
	ProfileID    string       `json:"profile_id"`
	ConsumerID   string       `json:"consumer_id"`
	ConsumerKind ConsumerKind `json:"consumer_kind"`
}

// SortConsumers orders consumers by kind, then id.
func SortConsumers(refs []ConsumerRef) {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Kind != refs[j].Kind {
			return refs[i].Kind < refs[j].Kind
		}
		return refs[i].ID < refs[j].ID
	})
}
