package manifest

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Placement errors. The composer reports both as warnings.
var (
	// ErrCategoryNotApplicable indicates a category has no place in a kind.
	ErrCategoryNotApplicable = errors.New("category not applicable")

	// ErrNoContainers indicates a container-scoped category found no containers.
	ErrNoContainers = errors.New("no containers to apply to")
)

// BuiltinSource marks values that come from a kind's skeleton.
const BuiltinSource = "builtin"

// KindSpec describes where each category lands in a manifest kind.
type KindSpec struct {
	Kind       Kind
	APIVersion string

	// ContainersPath points at the containers sequence that container-scoped
	// categories apply to. Empty when the kind has no containers.
	ContainersPath string

	// Placements maps non-container-scoped categories to the pointer their
	// document is merged into.
	Placements map[Category]string
}

var kindSpecs = map[Kind]KindSpec{
	KindDeployment: {
		Kind:           KindDeployment,
		APIVersion:     "apps/v1",
		ContainersPath: "/spec/template/spec/containers",
		Placements: map[Category]string{
			CategoryPodMetadata:        "/spec/template/metadata",
			CategoryDeploymentSelector: "/spec/selector",
			CategoryContainer:          "/spec/template/spec",
			CategoryVolume:             "/spec/template/spec",
			CategoryScheduling:         "/spec/template/spec",
		},
	},
	KindPod: {
		Kind:           KindPod,
		APIVersion:     "v1",
		ContainersPath: "/spec/containers",
		Placements: map[Category]string{
			CategoryPodMetadata: "/metadata",
			CategoryContainer:   "/spec",
			CategoryVolume:      "/spec",
			CategoryScheduling:  "/spec",
		},
	},
	KindService: {
		Kind:       KindService,
		APIVersion: "v1",
		Placements: map[Category]string{
			CategoryServiceMetadata: "/metadata",
			CategoryServiceSelector: "/spec/selector",
		},
	},
}

// SpecFor returns the placement rules of a kind.
func SpecFor(kind Kind) (KindSpec, error) {
	spec, ok := kindSpecs[kind]
	if !ok {
		return KindSpec{}, NewValidationError("kind", fmt.Sprintf("unsupported kind %q", kind))
	}
	return spec, nil
}

// Applies reports whether the category contributes to this kind.
func (s KindSpec) Applies(c Category) bool {
	if c.ContainerScoped() {
		return s.ContainersPath != ""
	}
	_, ok := s.Placements[c]
	return ok
}

// Categories returns the applicable categories in application order.
func (s KindSpec) Categories() []Category {
	var out []Category
	for _, c := range ApplicationOrder {
		if s.Applies(c) {
			out = append(out, c)
		}
	}
	return out
}

// Assembler builds one manifest by placing merged category documents into a
// kind's skeleton and then applying overrides.
type Assembler struct {
	spec      KindSpec
	doc       any
	prov      Provenance
	conflicts []*MergeConflictError
}

// NewAssembler starts a manifest of the given kind.
func NewAssembler(kind Kind) (*Assembler, error) {
	spec, err := SpecFor(kind)
	if err != nil {
		return nil, err
	}
	a := &Assembler{
		spec: spec,
		doc: map[string]any{
			"apiVersion": spec.APIVersion,
			"kind":       string(spec.Kind),
			"metadata":   map[string]any{},
		},
		prov: Provenance{},
	}
	a.prov.Record(a.doc, "", Source{ProfileID: BuiltinSource})
	return a, nil
}

// Place merges a category's merged document into the manifest.
func (a *Assembler) Place(category Category, res *MergeResult) error {
	if !a.spec.Applies(category) {
		return fmt.Errorf("%w: %s has no place in a %s", ErrCategoryNotApplicable, category, a.spec.Kind)
	}
	if res == nil || res.Document == nil {
		return nil
	}

	if !category.ContainerScoped() {
		return a.placeAt(a.spec.Placements[category], category, res)
	}

	containers, _ := GetPointer(a.doc, a.spec.ContainersPath)
	seq, _ := containers.([]any)
	placed := 0
	for i, c := range seq {
		if _, ok := c.(map[string]any); !ok {
			continue
		}
		if err := a.placeAt(IndexPointer(a.spec.ContainersPath, i), category, res); err != nil {
			return err
		}
		placed++
	}
	if placed == 0 {
		return fmt.Errorf("%w: %s", ErrNoContainers, category)
	}
	return nil
}

func (a *Assembler) placeAt(target string, category Category, res *MergeResult) error {
	m := &merger{src: Source{Category: category}, origin: res.Provenance, prov: a.prov}
	value := DeepCopy(res.Document)

	merged := value
	if existing, ok := GetPointer(a.doc, target); ok {
		merged = m.deep(existing, value, target, "")
	} else {
		m.record(value, target, "")
	}

	doc, err := SetPointer(a.doc, target, merged)
	if err != nil {
		return fmt.Errorf("place %s at %s: %w", category, target, err)
	}
	a.doc = doc
	a.conflicts = append(a.conflicts, m.conflicts...)
	return nil
}

// Override sets value at the path named by key, replacing whatever is there.
func (a *Assembler) Override(key string, value any) error {
	path, err := OverridePath(key)
	if err != nil {
		return err
	}
	value = DeepCopy(value)
	doc, err := SetPointer(a.doc, path, value)
	if err != nil {
		return &ValidationError{Field: "overrides", Path: path, Message: err.Error()}
	}
	a.doc = doc
	a.prov.Record(value, path, Source{ProfileID: OverrideSource})
	return nil
}

// ApplyOverrides applies overrides in pointer order and returns every failure.
func (a *Assembler) ApplyOverrides(overrides map[string]any) []error {
	type entry struct {
		path string
		key  string
	}
	entries := make([]entry, 0, len(overrides))
	var errs []error
	for key := range overrides {
		path, err := OverridePath(key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		entries = append(entries, entry{path: path, key: key})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].path != entries[j].path {
			return entries[i].path < entries[j].path
		}
		return entries[i].key < entries[j].key
	})
	for _, e := range entries {
		if err := a.Override(e.key, overrides[e.key]); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Document returns the manifest built so far.
func (a *Assembler) Document() map[string]any {
	m, _ := a.doc.(map[string]any)
	return m
}

// Provenance returns the source of every leaf in the manifest.
func (a *Assembler) Provenance() Provenance {
	return a.prov
}

// Conflicts returns shape conflicts found while placing categories.
func (a *Assembler) Conflicts() []*MergeConflictError {
	return a.conflicts
}

// Spec returns the kind the assembler builds.
func (a *Assembler) Spec() KindSpec {
	return a.spec
}

var overrideAliases = map[string]string{
	"name":        "/metadata/name",
	"namespace":   "/metadata/namespace",
	"replicas":    "/spec/replicas",
	"labels":      "/metadata/labels",
	"annotations": "/metadata/annotations",
}

// OverridePath resolves an override key to a JSON pointer.
func OverridePath(key string) (string, error) {
	if p, ok := overrideAliases[key]; ok {
		return p, nil
	}
	if !strings.HasPrefix(key, "/") || key == "/" {
		return "", &ValidationError{
			Field:   "overrides",
			Path:    key,
			Message: "override keys must be JSON pointers or one of name, namespace, replicas, labels, annotations",
		}
	}
	return key, nil
}
