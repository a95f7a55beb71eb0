package manifest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mergeOne(id string, category Category, doc map[string]any) *MergeResult {
	return Merge([]Fragment{{ProfileID: id, Category: category, Document: doc, Strategy: StrategyDeep}})
}

func TestKindSpec_Applies(t *testing.T) {
	tests := []struct {
		kind     Kind
		category Category
		want     bool
	}{
		{KindDeployment, CategoryPodMetadata, true},
		{KindDeployment, CategoryDeploymentSelector, true},
		{KindDeployment, CategoryServiceSelector, false},
		{KindDeployment, CategoryEnv, true},
		{KindPod, CategoryDeploymentSelector, false},
		{KindPod, CategoryProbe, true},
		{KindService, CategoryServiceMetadata, true},
		{KindService, CategoryContainer, false},
		{KindService, CategoryResource, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind)+"/"+string(tt.category), func(t *testing.T) {
			spec, err := SpecFor(tt.kind)
			require.NoError(t, err)
			assert.Equal(t, tt.want, spec.Applies(tt.category))
		})
	}
}

func TestAssembler_Deployment(t *testing.T) {
	a, err := NewAssembler(KindDeployment)
	require.NoError(t, err)

	require.NoError(t, a.Place(CategoryPodMetadata, mergeOne("meta", CategoryPodMetadata, map[string]any{
		"labels": map[string]any{"app": "web"},
	})))
	require.NoError(t, a.Place(CategoryContainer, mergeOne("ctr", CategoryContainer, map[string]any{
		"containers": []any{
			map[string]any{"name": "web", "image": "web:1"},
			map[string]any{"name": "proxy", "image": "envoy:1"},
		},
	})))
	require.NoError(t, a.Place(CategoryResource, mergeOne("res", CategoryResource, map[string]any{
		"resources": map[string]any{"limits": map[string]any{"cpu": "500m"}},
	})))

	doc := a.Document()
	assert.Equal(t, "apps/v1", doc["apiVersion"])
	assert.Equal(t, "Deployment", doc["kind"])

	labels, ok := GetPointer(doc, "/spec/template/metadata/labels/app")
	require.True(t, ok)
	assert.Equal(t, "web", labels)

	for _, p := range []string{
		"/spec/template/spec/containers/0/resources/limits/cpu",
		"/spec/template/spec/containers/1/resources/limits/cpu",
	} {
		v, ok := GetPointer(doc, p)
		require.True(t, ok, p)
		assert.Equal(t, "500m", v)
		assert.Equal(t, Source{ProfileID: "res", Category: CategoryResource}, a.Provenance()[p])
	}

	assert.Equal(t, "ctr", a.Provenance()["/spec/template/spec/containers/0/image"].ProfileID)
	assert.Equal(t, BuiltinSource, a.Provenance()["/kind"].ProfileID)
}

func TestAssembler_PlacementProvenance(t *testing.T) {
	container := func(t *testing.T) *Assembler {
		t.Helper()
		a, err := NewAssembler(KindDeployment)
		require.NoError(t, err)
		require.NoError(t, a.Place(CategoryContainer, mergeOne("c1", CategoryContainer, map[string]any{
			"containers": []any{map[string]any{
				"name":  "web",
				"image": "web:1",
				"env":   []any{map[string]any{"name": "A", "value": "1"}},
			}},
		})))
		return a
	}
	const env = "/spec/template/spec/containers/0/env"

	t.Run("appended entries keep their profile", func(t *testing.T) {
		a := container(t)
		require.NoError(t, a.Place(CategoryEnv, mergeOne("e1", CategoryEnv, map[string]any{
			"env": []any{map[string]any{"name": "B", "value": "2"}},
		})))

		prov := a.Provenance()
		assert.Equal(t, Source{ProfileID: "c1", Category: CategoryContainer}, prov[env+"/0/name"])
		assert.Equal(t, Source{ProfileID: "c1", Category: CategoryContainer}, prov[env+"/0/value"])
		assert.Equal(t, Source{ProfileID: "e1", Category: CategoryEnv}, prov[env+"/1/name"])
		assert.Equal(t, Source{ProfileID: "e1", Category: CategoryEnv}, prov[env+"/1/value"])
	})

	t.Run("entries matched at another index", func(t *testing.T) {
		a := container(t)
		res := Merge([]Fragment{
			{ProfileID: "e1", Category: CategoryEnv, Strategy: StrategyDeep, Document: map[string]any{
				"env": []any{map[string]any{"name": "B", "value": "2"}},
			}},
			{ProfileID: "e2", Category: CategoryEnv, Strategy: StrategyDeep, Priority: 1, Document: map[string]any{
				"env": []any{map[string]any{"name": "A", "value": "3"}},
			}},
		})
		require.NoError(t, a.Place(CategoryEnv, res))

		v, ok := GetPointer(a.Document(), env+"/0/value")
		require.True(t, ok)
		assert.Equal(t, "3", v)

		prov := a.Provenance()
		assert.Equal(t, "e2", prov[env+"/0/value"].ProfileID)
		assert.Equal(t, "e1", prov[env+"/1/name"].ProfileID)
		assert.Equal(t, "e1", prov[env+"/1/value"].ProfileID)
		for path, src := range prov {
			assert.NotEmpty(t, src.ProfileID, path)
		}
	})

	t.Run("conflicts name the placed profile", func(t *testing.T) {
		a := container(t)
		require.NoError(t, a.Place(CategoryEnv, mergeOne("e1", CategoryEnv, map[string]any{
			"env": []any{map[string]any{"name": "A", "value": map[string]any{"bad": true}}},
		})))

		require.Len(t, a.Conflicts(), 1)
		c := a.Conflicts()[0]
		assert.Equal(t, env+"/0/value", c.Path)
		assert.Equal(t, "e1", c.ProfileID)
		assert.Equal(t, "c1", c.PreviousProfileID)
		assert.Equal(t, CategoryEnv, c.Category)
	})
}

func TestAssembler_Pod(t *testing.T) {
	a, err := NewAssembler(KindPod)
	require.NoError(t, err)

	require.NoError(t, a.Place(CategoryPodMetadata, mergeOne("meta", CategoryPodMetadata, map[string]any{
		"labels": map[string]any{"app": "job"},
	})))
	require.NoError(t, a.Place(CategoryScheduling, mergeOne("sched", CategoryScheduling, map[string]any{
		"nodeSelector": map[string]any{"disk": "ssd"},
	})))

	v, ok := GetPointer(a.Document(), "/metadata/labels/app")
	require.True(t, ok)
	assert.Equal(t, "job", v)

	v, ok = GetPointer(a.Document(), "/spec/nodeSelector/disk")
	require.True(t, ok)
	assert.Equal(t, "ssd", v)
}

func TestAssembler_PlacementErrors(t *testing.T) {
	t.Run("category not applicable", func(t *testing.T) {
		a, err := NewAssembler(KindService)
		require.NoError(t, err)

		err = a.Place(CategoryContainer, mergeOne("ctr", CategoryContainer, map[string]any{"containers": []any{}}))
		assert.True(t, errors.Is(err, ErrCategoryNotApplicable))
	})

	t.Run("container-scoped without containers", func(t *testing.T) {
		a, err := NewAssembler(KindDeployment)
		require.NoError(t, err)

		err = a.Place(CategoryEnv, mergeOne("env", CategoryEnv, map[string]any{
			"env": []any{map[string]any{"name": "A", "value": "1"}},
		}))
		assert.True(t, errors.Is(err, ErrNoContainers))
	})

	t.Run("unknown kind", func(t *testing.T) {
		_, err := NewAssembler(Kind("StatefulSet"))
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "kind", verr.Field)
	})
}

func TestAssembler_Overrides(t *testing.T) {
	a, err := NewAssembler(KindDeployment)
	require.NoError(t, err)
	require.NoError(t, a.Place(CategoryContainer, mergeOne("ctr", CategoryContainer, map[string]any{
		"containers": []any{map[string]any{"name": "web", "image": "web:1"}},
	})))

	errs := a.ApplyOverrides(map[string]any{
		"replicas":                               3,
		"/spec/template/spec/containers/0/image": "web:2",
		"labels":                                 map[string]any{"team": "core"},
	})
	require.Empty(t, errs)

	doc := a.Document()
	v, _ := GetPointer(doc, "/spec/replicas")
	assert.Equal(t, 3, v)
	v, _ = GetPointer(doc, "/spec/template/spec/containers/0/image")
	assert.Equal(t, "web:2", v)
	v, _ = GetPointer(doc, "/metadata/labels/team")
	assert.Equal(t, "core", v)

	assert.Equal(t, OverrideSource, a.Provenance()["/spec/template/spec/containers/0/image"].ProfileID)
	assert.Equal(t, "ctr", a.Provenance()["/spec/template/spec/containers/0/name"].ProfileID)

	t.Run("invalid keys are collected", func(t *testing.T) {
		errs := a.ApplyOverrides(map[string]any{
			"bogus":                                  1,
			"/spec/template/spec/containers/9/image": "x",
		})
		assert.Len(t, errs, 2)
	})
}

func TestOverridePath(t *testing.T) {
	tests := []struct {
		key     string
		want    string
		wantErr bool
	}{
		{key: "name", want: "/metadata/name"},
		{key: "namespace", want: "/metadata/namespace"},
		{key: "replicas", want: "/spec/replicas"},
		{key: "annotations", want: "/metadata/annotations"},
		{key: "/spec/template/spec/hostNetwork", want: "/spec/template/spec/hostNetwork"},
		{key: "spec.replicas", wantErr: true},
		{key: "/", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, err := OverridePath(tt.key)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
