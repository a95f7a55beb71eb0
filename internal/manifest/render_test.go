package manifest

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToYAML(t *testing.T) {
	out, err := ToYAML(validDeployment())
	require.NoError(t, err)

	text := string(out)
	assert.True(t, strings.HasPrefix(text, "apiVersion: apps/v1\n"), text)
	assert.Contains(t, text, "\n  replicas: 2\n")
	assert.Less(t, strings.Index(text, "kind:"), strings.Index(text, "metadata:"), "keys are sorted")

	back, err := ParseDocument(out)
	require.NoError(t, err)
	assert.Equal(t, validDeployment(), back)
}

func TestToJSON(t *testing.T) {
	out, err := ToJSON(map[string]any{"b": 1, "a": []any{"x"}})
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"a\": [\n    \"x\"\n  ],\n  \"b\": 1\n}\n", string(out))
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatYAML, "YAML": FormatYAML, "yml": FormatYAML, "json": FormatJSON} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("toml")
	require.Error(t, err)
}

func TestWriteManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "web.json")
	require.NoError(t, WriteManifest(path, map[string]any{"kind": "Pod"}, FormatJSON))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind": "Pod"}`, string(data))

	// An unencodable document leaves the previous file in place.
	err = WriteManifest(path, map[string]any{"bad": make(chan int)}, FormatJSON)
	require.Error(t, err)
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind": "Pod"}`, string(data))
}

func TestRenderTemplate(t *testing.T) {
	tests := []struct {
		name    string
		tmpl    string
		data    any
		want    string
		wantErr bool
	}{
		{
			name: "sprig functions",
			tmpl: `{{ .name | upper }}-{{ default "x" .missing }}`,
			data: map[string]any{"name": "web"},
			want: "WEB-x",
		},
		{
			name: "pointer lookup",
			tmpl: `{{ pointer .doc "/spec/replicas" }}`,
			data: map[string]any{"doc": validDeployment()},
			want: "2",
		},
		{
			name: "toYaml",
			tmpl: `{{ toYaml .labels }}`,
			data: map[string]any{"labels": map[string]any{"app": "web"}},
			want: "app: web",
		},
		{
			name:    "parse error",
			tmpl:    `{{ .name `,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := RenderTemplate(&buf, "test", tt.tmpl, tt.data)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, buf.String())
		})
	}
}
