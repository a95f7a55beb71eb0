package compose

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cameronsjo/rigging/internal/manifest"
	"github.com/cameronsjo/rigging/internal/store"
)

func TestService_CommitAndDependencySafeDelete(t *testing.T) {
	f := newFixture(t)
	svc := NewService(f.store, Options{ComposeTimeout: 5 * time.Second})
	ctx := context.Background()

	res, composite, err := svc.Commit(ctx, CommitRequest{Request: f.request()})
	require.NoError(t, err)
	require.True(t, res.Success, "errors: %v", res.Errors)
	require.NotNil(t, composite)
	assert.Equal(t, "web", composite.Name)
	assert.Equal(t, manifest.DefaultNamespace, composite.Namespace)

	err = svc.DeleteProfile(ctx, manifest.CategoryEnv, f.env.ID)
	var dependents *manifest.DependentsExistError
	require.ErrorAs(t, err, &dependents)
	require.Len(t, dependents.Dependents, 1)
	assert.Equal(t, composite.ID, dependents.Dependents[0].ID)
	assert.Equal(t, manifest.ConsumerComposite, dependents.Dependents[0].Kind)

	refs, err := svc.Dependents(ctx, f.env.ID)
	require.NoError(t, err)
	assert.Equal(t, dependents.Dependents, refs)

	require.NoError(t, svc.DeleteComposite(ctx, composite.ID))
	require.NoError(t, svc.DeleteProfile(ctx, manifest.CategoryEnv, f.env.ID))
}

func TestService_CommitFailureDoesNotPersist(t *testing.T) {
	f := newFixture(t)
	svc := NewService(f.store, Options{})
	ctx := context.Background()

	req := f.request()
	req.ProfileIDsByCategory[manifest.CategoryProbe] = []string{"missing"}
	res, composite, err := svc.Commit(ctx, CommitRequest{Request: req})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Nil(t, composite)

	list, err := svc.ListComposites(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, list)

	res, composite, err = svc.Commit(ctx, CommitRequest{Request: Request{}})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Nil(t, composite)
	assert.Equal(t, []string{manifest.CodeValidation}, codes(res.Errors))
}

func TestService_CommitUpdatesEdges(t *testing.T) {
	f := newFixture(t)
	svc := NewService(f.store, Options{})
	ctx := context.Background()

	_, first, err := svc.Commit(ctx, CommitRequest{Request: f.request()})
	require.NoError(t, err)

	req := f.request()
	delete(req.ProfileIDsByCategory, manifest.CategoryEnv)
	res, second, err := svc.Commit(ctx, CommitRequest{ID: first.ID, Version: first.Version, Request: req})
	require.NoError(t, err)
	require.True(t, res.Success, "errors: %v", res.Errors)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.Version)

	// env is no longer referenced.
	require.NoError(t, svc.DeleteProfile(ctx, manifest.CategoryEnv, f.env.ID))

	// A stale version is rejected and reported in the result.
	res, _, err = svc.Commit(ctx, CommitRequest{ID: first.ID, Version: first.Version, Request: req})
	var conflict *manifest.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.False(t, res.Success)
	assert.Equal(t, []string{manifest.CodeConflict}, codes(res.Errors))
}

// editBeforeSave runs edit once between composing and saving a composite.
type editBeforeSave struct {
	*store.Memory
	once sync.Once
	edit func(ctx context.Context) error
}

func (e *editBeforeSave) SaveComposite(ctx context.Context, c *manifest.CompositeResource) (*manifest.CompositeResource, error) {
	var err error
	e.once.Do(func() { err = e.edit(ctx) })
	if err != nil {
		return nil, err
	}
	return e.Memory.SaveComposite(ctx, c)
}

func TestService_CommitRejectsProfileChangedBeforeSave(t *testing.T) {
	f := newFixture(t)
	edited := &editBeforeSave{Memory: f.store, edit: func(ctx context.Context) error {
		p := f.env.Clone()
		p.Config = map[string]any{"env": []any{map[string]any{"name": "LOG_LEVEL", "value": "debug"}}}
		_, err := f.store.PutProfile(ctx, p)
		return err
	}}
	svc := NewService(edited, Options{})
	ctx := context.Background()

	res, composite, err := svc.Commit(ctx, CommitRequest{Request: f.request()})
	var conflict *manifest.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, f.env.ID, conflict.ID)
	assert.Nil(t, composite)
	assert.False(t, res.Success)
	assert.Contains(t, codes(res.Errors), manifest.CodeConflict)

	list, err := svc.ListComposites(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, list)

	// Composed again from the edited profile, the save goes through and the
	// stored composite renders what Commit returned.
	res, composite, err = svc.Commit(ctx, CommitRequest{Request: f.request()})
	require.NoError(t, err)
	require.True(t, res.Success, "errors: %v", res.Errors)
	value, _ := manifest.GetPointer(res.ComposedDocument, "/spec/template/spec/containers/0/env/0/value")
	assert.Equal(t, "debug", value)

	rendered, err := svc.Render(ctx, composite.ID)
	require.NoError(t, err)
	assert.Equal(t, res.ComposedDocument, rendered.ComposedDocument)
}

func TestService_CreateProfileSameIDConcurrently(t *testing.T) {
	svc := NewService(store.NewMemory(), Options{})
	ctx := context.Background()

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created []*manifest.Profile
		errs    []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := svc.CreateProfile(ctx, manifest.CategoryEnv, &manifest.Profile{
				ID:     "shared-id",
				Name:   "env-" + string(rune('a'+i)),
				Config: map[string]any{"env": []any{}},
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			created = append(created, p)
		}(i)
	}
	wg.Wait()

	require.Len(t, created, 1)
	require.Len(t, errs, workers-1)
	for _, err := range errs {
		var conflict *manifest.ConflictError
		assert.True(t, errors.As(err, &conflict), "%v", err)
	}

	stored, err := svc.GetProfile(ctx, manifest.CategoryEnv, "shared-id")
	require.NoError(t, err)
	assert.Equal(t, created[0].Name, stored.Name)
	assert.Equal(t, 1, stored.Version)
}

func TestService_RenderMatchesPreview(t *testing.T) {
	f := newFixture(t)
	svc := NewService(f.store, Options{})
	ctx := context.Background()

	req := f.request()
	req.Overrides = map[string]any{"replicas": 2}
	_, composite, err := svc.Commit(ctx, CommitRequest{Request: req})
	require.NoError(t, err)

	rendered, err := svc.Render(ctx, composite.ID)
	require.NoError(t, err)
	preview := svc.Preview(ctx, RequestFor(composite))
	assert.Equal(t, preview.ComposedDocument, rendered.ComposedDocument)

	replicas, _ := manifest.GetPointer(rendered.ComposedDocument, "/spec/replicas")
	assert.Equal(t, 2, replicas)

	_, err = svc.Render(ctx, "missing")
	assert.ErrorIs(t, err, manifest.ErrNotFound)
}

func TestService_ProfileCRUD(t *testing.T) {
	svc := NewService(newFixture(t).store, Options{DefaultNamespace: "platform"})
	ctx := context.Background()

	created, err := svc.CreateProfile(ctx, manifest.CategoryProbe, &manifest.Profile{
		Name:   "http-probe",
		Config: "livenessProbe:\n  httpGet:\n    path: /healthz\n    port: 8080\n",
	})
	require.NoError(t, err)
	assert.Equal(t, "platform", created.Namespace)
	assert.Equal(t, manifest.CategoryProbe, created.Category)

	_, err = svc.CreateProfile(ctx, manifest.CategoryProbe, &manifest.Profile{ID: created.ID, Name: "dup"})
	var conflict *manifest.ConflictError
	assert.ErrorAs(t, err, &conflict)

	_, err = svc.CreateProfile(ctx, manifest.CategoryProbe, &manifest.Profile{Name: "x", Category: manifest.CategoryEnv})
	var verr *manifest.ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = svc.CreateProfile(ctx, "network", &manifest.Profile{Name: "x"})
	assert.ErrorAs(t, err, &verr)

	priority := 10
	patched, err := svc.PatchProfile(ctx, manifest.CategoryProbe, created.ID, ProfilePatch{Priority: &priority})
	require.NoError(t, err)
	assert.Equal(t, 10, patched.Priority)
	assert.Equal(t, "http-probe", patched.Name)
	assert.Equal(t, created.Config, patched.Config)
	assert.Equal(t, 2, patched.Version)

	replaced, err := svc.UpdateProfile(ctx, manifest.CategoryProbe, created.ID, &manifest.Profile{
		Name:   "tcp-probe",
		Config: map[string]any{"livenessProbe": map[string]any{"tcpSocket": map[string]any{"port": 8080}}},
	})
	require.NoError(t, err)
	assert.Equal(t, "tcp-probe", replaced.Name)
	assert.Equal(t, 0, replaced.Priority)
	assert.Equal(t, 3, replaced.Version)

	_, err = svc.UpdateProfile(ctx, manifest.CategoryEnv, created.ID, replaced)
	assert.ErrorIs(t, err, manifest.ErrNotFound)

	list, err := svc.ListProfiles(ctx, manifest.CategoryProbe, "platform")
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = svc.ListProfiles(ctx, "network", "")
	assert.ErrorAs(t, err, &verr)

	require.NoError(t, svc.DeleteProfile(ctx, manifest.CategoryProbe, created.ID))
	_, err = svc.GetProfile(ctx, manifest.CategoryProbe, created.ID)
	assert.ErrorIs(t, err, manifest.ErrNotFound)
}

func TestResultJSON(t *testing.T) {
	res := &Result{
		Success:          true,
		ComposedDocument: map[string]any{"kind": "Pod"},
		Errors:           []manifest.Message{},
		Warnings:         []manifest.Message{},
		Metadata: Metadata{
			FragmentCount:   2,
			FragmentTypes:   []manifest.Category{manifest.CategoryContainer},
			CompositionTime: Duration(1500 * time.Microsecond),
		},
	}
	data, err := json.Marshal(res)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"composition_time":"1.5ms"`)
	assert.Contains(t, string(data), `"errors":[]`)

	var decoded Result
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, res.Metadata, decoded.Metadata)
}
