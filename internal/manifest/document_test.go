package manifest

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDocument(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    any
		wantErr bool
	}{
		{
			name:  "yaml mapping",
			input: "image: web:1\nreplicas: 3\nenabled: true\n",
			want:  map[string]any{"image": "web:1", "replicas": 3, "enabled": true},
		},
		{
			name:  "json mapping",
			input: `{"limits": {"cpu": "500m", "memory": 512}}`,
			want:  map[string]any{"limits": map[string]any{"cpu": "500m", "memory": 512}},
		},
		{
			name:  "numeric keys become strings",
			input: "80: http\n",
			want:  map[string]any{"80": "http"},
		},
		{
			name:  "empty input",
			input: "   \n",
			want:  nil,
		},
		{
			name:    "malformed",
			input:   "key: [unclosed",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDocument([]byte(tt.input))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseMapping(t *testing.T) {
	t.Run("empty input yields empty mapping", func(t *testing.T) {
		got, err := ParseMapping(nil)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{}, got)
	})

	t.Run("sequence is rejected", func(t *testing.T) {
		_, err := ParseMapping([]byte("- a\n- b\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must be a mapping")
	})
}

func TestNormalize(t *testing.T) {
	t.Run("json numbers", func(t *testing.T) {
		got, err := Normalize(map[string]any{
			"int":   json.Number("42"),
			"float": json.Number("1.5"),
		})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"int": 42, "float": 1.5}, got)
	})

	t.Run("typed slices and maps", func(t *testing.T) {
		got, err := Normalize(map[string]any{
			"args":   []string{"a", "b"},
			"labels": map[string]string{"app": "web"},
			"port":   int64(8080),
		})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{
			"args":   []any{"a", "b"},
			"labels": map[string]any{"app": "web"},
			"port":   8080,
		}, got)
	})

	t.Run("unsupported type names the key", func(t *testing.T) {
		_, err := Normalize(map[string]any{"ch": make(chan int)})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ch")
	})
}

func TestDeepCopy(t *testing.T) {
	orig := map[string]any{
		"nested": map[string]any{"list": []any{map[string]any{"k": "v"}}},
	}
	cp := DeepCopy(orig).(map[string]any)
	cp["nested"].(map[string]any)["list"].([]any)[0].(map[string]any)["k"] = "changed"

	assert.Equal(t, "v", orig["nested"].(map[string]any)["list"].([]any)[0].(map[string]any)["k"])
}

func TestPointers(t *testing.T) {
	doc := map[string]any{
		"metadata": map[string]any{
			"annotations": map[string]any{"example.com/owner": "team~a"},
		},
		"spec": map[string]any{
			"containers": []any{map[string]any{"name": "web"}},
		},
	}

	t.Run("escape round trip", func(t *testing.T) {
		p := JoinPointer("/metadata/annotations", "example.com/owner")
		assert.Equal(t, "/metadata/annotations/example.com~1owner", p)

		tokens, err := SplitPointer(p)
		require.NoError(t, err)
		assert.Equal(t, []string{"metadata", "annotations", "example.com/owner"}, tokens)

		assert.Equal(t, "a~0b", EscapeToken("a~b"))
	})

	t.Run("get", func(t *testing.T) {
		v, ok := GetPointer(doc, "/spec/containers/0/name")
		require.True(t, ok)
		assert.Equal(t, "web", v)

		_, ok = GetPointer(doc, "/spec/containers/3/name")
		assert.False(t, ok)

		root, ok := GetPointer(doc, "")
		require.True(t, ok)
		assert.Equal(t, doc, root)
	})

	t.Run("set creates intermediate mappings", func(t *testing.T) {
		got, err := SetPointer(map[string]any{"spec": "scalar"}, "/spec/template/spec/replicas", 2)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{
			"spec": map[string]any{
				"template": map[string]any{"spec": map[string]any{"replicas": 2}},
			},
		}, got)
	})

	t.Run("set into sequence element", func(t *testing.T) {
		d := DeepCopy(doc)
		got, err := SetPointer(d, "/spec/containers/0/image", "web:2")
		require.NoError(t, err)
		v, _ := GetPointer(got, "/spec/containers/0/image")
		assert.Equal(t, "web:2", v)
	})

	t.Run("set out of range index fails", func(t *testing.T) {
		_, err := SetPointer(DeepCopy(doc), "/spec/containers/5/image", "x")
		require.Error(t, err)
	})

	t.Run("invalid pointer", func(t *testing.T) {
		_, err := SplitPointer("spec/replicas")
		require.Error(t, err)
	})

	t.Run("prefix", func(t *testing.T) {
		assert.True(t, HasPointerPrefix("/spec/replicas", "/spec"))
		assert.True(t, HasPointerPrefix("/spec", "/spec"))
		assert.False(t, HasPointerPrefix("/specs", "/spec"))
		assert.True(t, HasPointerPrefix("/anything", ""))
	})

	t.Run("leaves", func(t *testing.T) {
		assert.Equal(t, []string{
			"/metadata/annotations/example.com~1owner",
			"/spec/containers/0/name",
		}, Leaves(doc))
		assert.Equal(t, []string{"/empty"}, Leaves(map[string]any{"empty": []any{}}))
	})
}
