// Package compose resolves profile selections into manifests. A Composer
// reads one consistent snapshot of the selected profiles, merges each
// category on its own, places the results into the skeleton of the target
// kind, applies overrides and validates the outcome. Service layers profile
// and composite management on top for the HTTP API and the CLI.
package compose

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cameronsjo/rigging/internal/manifest"
)

// Snapshotter reads a consistent set of profiles, including everything they
// transitively include. store.Store satisfies it.
type Snapshotter interface {
	Snapshot(ctx context.Context, ids []string) (map[string]*manifest.Profile, error)
}

// Request describes one composition.
type Request struct {
	Kind                 manifest.Kind                  `json:"kind,omitempty" yaml:"kind,omitempty"`
	Name                 string                         `json:"name,omitempty" yaml:"name,omitempty"`
	Namespace            string                         `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	ProfileIDsByCategory map[manifest.Category][]string `json:"profile_ids_by_category" yaml:"profile_ids_by_category"`
	Overrides            map[string]any                 `json:"overrides,omitempty" yaml:"overrides,omitempty"`
}

// Metadata summarizes a composition.
type Metadata struct {
	FragmentCount   int                 `json:"fragment_count" yaml:"fragment_count"`
	FragmentTypes   []manifest.Category `json:"fragment_types" yaml:"fragment_types"`
	CompositionTime Duration            `json:"composition_time" yaml:"composition_time"`
}

// Result is the outcome of a composition. Success is true only when Errors
// is empty; warnings never block.
type Result struct {
	Success          bool                       `json:"success" yaml:"success"`
	ComposedDocument map[string]any             `json:"composed_document" yaml:"composed_document"`
	Errors           []manifest.Message         `json:"errors" yaml:"errors"`
	Warnings         []manifest.Message         `json:"warnings" yaml:"warnings"`
	Provenance       []manifest.ProvenanceEntry `json:"provenance,omitempty" yaml:"provenance,omitempty"`
	Metadata         Metadata                   `json:"metadata" yaml:"metadata"`

	// versions are the versions of every profile read, by id.
	versions map[string]int
}

func (r *Result) addError(err error) {
	r.Errors = append(r.Errors, manifest.MessageFromError(err))
}

func (r *Result) warn(m manifest.Message) {
	r.Warnings = append(r.Warnings, m)
}

// Composer turns requests into manifests. It holds no mutable state and is
// safe for concurrent use.
type Composer struct {
	src Snapshotter
}

// NewComposer creates a Composer reading profiles from src.
func NewComposer(src Snapshotter) *Composer {
	return &Composer{src: src}
}

// Compose resolves, merges, places and validates. Problems are collected
// into the result rather than returned, so a single call reports as many of
// them as possible.
func (c *Composer) Compose(ctx context.Context, req Request) *Result {
	start := time.Now()
	res := &Result{
		ComposedDocument: map[string]any{},
		Errors:           []manifest.Message{},
		Warnings:         []manifest.Message{},
		Metadata:         Metadata{FragmentTypes: []manifest.Category{}},
	}
	defer func() {
		res.Success = len(res.Errors) == 0
		res.Metadata.CompositionTime = Duration(time.Since(start))
	}()

	kind, err := manifest.ParseKind(string(req.Kind))
	if err != nil {
		res.addError(err)
		return res
	}
	asm, err := manifest.NewAssembler(kind)
	if err != nil {
		res.addError(err)
		return res
	}

	overrides, err := manifest.Normalize(req.Overrides)
	if err != nil {
		res.addError(&manifest.ValidationError{Field: "overrides", Message: err.Error()})
		overrides = nil
	}

	selection := make(map[manifest.Category][]string, len(req.ProfileIDsByCategory))
	for cat, ids := range req.ProfileIDsByCategory {
		if !cat.Valid() {
			res.addError(&manifest.ValidationError{
				Field:    "profile_ids_by_category",
				Message:  fmt.Sprintf("unknown category %q", cat),
				Category: cat,
			})
			continue
		}
		selection[cat] = ids
	}

	snap, err := c.src.Snapshot(ctx, manifest.SelectionIDs(selection))
	if err != nil {
		if ctx.Err() != nil {
			res.addError(canceled(ctx))
		} else {
			res.addError(fmt.Errorf("resolve profiles: %w", err))
		}
		res.ComposedDocument = asm.Document()
		return res
	}

	res.versions = make(map[string]int, len(snap))
	for id, p := range snap {
		res.versions[id] = p.Version
	}

	plans := c.resolve(selection, snap, res)
	for _, p := range plans {
		res.Metadata.FragmentCount += len(p.fragments)
		if len(p.fragments) > 0 {
			res.Metadata.FragmentTypes = append(res.Metadata.FragmentTypes, p.category)
		}
	}
	sort.Slice(res.Metadata.FragmentTypes, func(i, j int) bool {
		return res.Metadata.FragmentTypes[i] < res.Metadata.FragmentTypes[j]
	})

	merged, err := mergeAll(ctx, plans)
	if err != nil {
		res.addError(canceled(ctx))
		res.ComposedDocument = asm.Document()
		return res
	}

	for i, p := range plans {
		if err := ctx.Err(); err != nil {
			res.addError(canceled(ctx))
			res.ComposedDocument = asm.Document()
			return res
		}
		if len(p.fragments) == 0 {
			continue
		}
		if !asm.Spec().Applies(p.category) {
			res.warn(manifest.Warning(manifest.CodeNotApplicable,
				fmt.Sprintf("%s profiles do not apply to a %s and were ignored", p.category, kind),
				p.category, "", ""))
			continue
		}
		for _, conflict := range merged[i].Conflicts {
			res.addError(conflict)
		}
		if err := asm.Place(p.category, merged[i]); err != nil {
			if errors.Is(err, manifest.ErrNoContainers) {
				res.warn(manifest.Warning(manifest.CodeNoContainers,
					fmt.Sprintf("no containers to apply %s profiles to", p.category),
					p.category, "", asm.Spec().ContainersPath))
				continue
			}
			res.addError(&manifest.ValidationError{Field: "placement", Message: err.Error(), Category: p.category})
		}
	}
	for _, conflict := range asm.Conflicts() {
		res.addError(conflict)
	}

	// name and namespace go first so an explicit /metadata override still wins.
	if req.Name != "" {
		if err := asm.Override("name", req.Name); err != nil {
			res.addError(err)
		}
	}
	if req.Namespace != "" {
		if err := asm.Override("namespace", req.Namespace); err != nil {
			res.addError(err)
		}
	}
	overrideMap, _ := overrides.(map[string]any)
	for _, err := range asm.ApplyOverrides(overrideMap) {
		res.addError(err)
	}

	doc := asm.Document()
	prov := asm.Provenance()
	res.ComposedDocument = doc
	res.Provenance = prov.Entries()

	issues, err := manifest.ValidateDocument(kind, doc)
	if err != nil {
		res.addError(err)
	}
	for _, issue := range issues {
		verr := &manifest.ValidationError{Field: "document", Path: issue.Path, Message: issue.Message}
		verr.ProfileID, verr.Category = attribute(prov, issue.Path)
		res.addError(verr)
	}

	for _, key := range manifest.SelectorMismatches(kind, doc) {
		path := manifest.JoinPointer("/spec/selector/matchLabels", key)
		profileID, category := attribute(prov, path)
		res.warn(manifest.Warning(manifest.CodeSelectorMismatch,
			fmt.Sprintf("selector label %q does not match the pod template labels", key),
			category, profileID, path))
	}
	return res
}

// attribute names the profile responsible for a path. The document root and
// the skeleton belong to no profile.
func attribute(prov manifest.Provenance, path string) (string, manifest.Category) {
	if path == "" {
		return "", ""
	}
	src, ok := prov.Lookup(path)
	if !ok || src.ProfileID == manifest.BuiltinSource {
		return "", ""
	}
	return src.ProfileID, src.Category
}

func canceled(ctx context.Context) error {
	return fmt.Errorf("%w: %v", manifest.ErrCanceled, context.Cause(ctx))
}

// plan holds the ordered fragments of one category.
type plan struct {
	category  manifest.Category
	fragments []manifest.Fragment
}

// resolve builds one plan per selected category in application order.
// Unresolvable references are reported and skipped.
func (c *Composer) resolve(selection map[manifest.Category][]string, snap map[string]*manifest.Profile, res *Result) []plan {
	var plans []plan
	for _, cat := range manifest.ApplicationOrder {
		ids, ok := selection[cat]
		if !ok {
			continue
		}
		x := &expander{category: cat, snap: snap, seen: map[string]bool{}, res: res}
		for _, id := range ids {
			p, ok := snap[id]
			if !ok {
				res.addError(&manifest.MissingProfileError{ProfileID: id, Category: cat})
				continue
			}
			if p.Category != cat {
				res.addError(&manifest.ValidationError{
					Field:     "profile_ids_by_category",
					Message:   fmt.Sprintf("profile %s is a %s profile", id, p.Category),
					ProfileID: id,
					Category:  cat,
				})
				continue
			}
			x.expand(p, p.Priority, nil)
		}
		plans = append(plans, plan{category: cat, fragments: x.fragments})
	}
	return plans
}

// expander flattens includes depth-first: included profiles come before
// their includer, carry the includer's priority, and appear at most once.
type expander struct {
	category  manifest.Category
	snap      map[string]*manifest.Profile
	seen      map[string]bool
	fragments []manifest.Fragment
	res       *Result
}

func (x *expander) expand(p *manifest.Profile, priority int, stack []string) {
	for i, id := range stack {
		if id == p.ID {
			cycle := append(append([]string(nil), stack[i:]...), p.ID)
			x.res.addError(&manifest.CyclicDependencyError{Cycle: cycle, Category: x.category})
			return
		}
	}
	if x.seen[p.ID] {
		return
	}
	stack = append(stack, p.ID)

	for _, inc := range p.Includes {
		child, ok := x.snap[inc]
		if !ok {
			x.res.addError(&manifest.MissingProfileError{ProfileID: inc, Category: x.category})
			continue
		}
		if child.Category != x.category {
			x.res.addError(&manifest.ValidationError{
				Field:     "includes",
				Message:   fmt.Sprintf("included profile %s is a %s profile", inc, child.Category),
				ProfileID: p.ID,
				Category:  x.category,
			})
			continue
		}
		x.expand(child, priority, stack)
	}

	x.seen[p.ID] = true
	for _, key := range manifest.UnknownKeys(x.category, p.Config) {
		x.res.warn(manifest.Warning(manifest.CodeUnknownKey,
			fmt.Sprintf("unknown key %q in %s profile %q", key, x.category, p.Name),
			x.category, p.ID, manifest.JoinPointer("", key)))
	}
	x.fragments = append(x.fragments, manifest.Fragment{
		ProfileID: p.ID,
		Category:  x.category,
		Document:  p.Config,
		Strategy:  p.MergeStrategy,
		Priority:  priority,
	})
}

// mergeAll merges every plan concurrently. Results line up with plans.
func mergeAll(ctx context.Context, plans []plan) ([]*manifest.MergeResult, error) {
	out := make([]*manifest.MergeResult, len(plans))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range plans {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if len(p.fragments) > 0 {
				out[i] = manifest.Merge(p.fragments)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, ctx.Err()
}
