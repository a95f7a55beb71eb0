package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"gopkg.in/yaml.v3"

	"github.com/cameronsjo/rigging/internal/fileutil"
)

// Format is an output encoding for composed manifests.
type Format string

// Output formats.
const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// ParseFormat converts a string into a Format. Empty means YAML.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "yaml", "yml":
		return FormatYAML, nil
	case "json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unsupported output format %q (supported: yaml, json)", s)
}

// ToYAML encodes a document as YAML with two-space indentation.
func ToYAML(doc any) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	return buf.Bytes(), nil
}

// ToJSON encodes a document as indented JSON.
func ToJSON(doc any) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return append(data, '\n'), nil
}

// Encode encodes a document in the given format.
func Encode(doc any, format Format) ([]byte, error) {
	if format == FormatJSON {
		return ToJSON(doc)
	}
	return ToYAML(doc)
}

// WriteManifest encodes a document into path atomically. An encoding
// failure leaves an existing file untouched.
func WriteManifest(path string, doc any, format Format) error {
	err := fileutil.WriteAtomic(path, 0644, func(w io.Writer) error {
		data, err := Encode(doc, format)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	})
	if err != nil {
		return fmt.Errorf("write manifest %s: %w", path, err)
	}
	return nil
}

// RenderTemplate executes a text/template over data. Sprig functions are
// available, plus toYaml and pointer helpers for document values.
func RenderTemplate(w io.Writer, name, text string, data any) error {
	tmpl, err := template.New(name).
		Funcs(sprig.TxtFuncMap()).
		Funcs(renderFuncs()).
		Parse(text)
	if err != nil {
		return fmt.Errorf("parse template %s: %w", name, err)
	}
	if err := tmpl.Execute(w, data); err != nil {
		return fmt.Errorf("render template %s: %w", name, err)
	}
	return nil
}

func renderFuncs() template.FuncMap {
	return template.FuncMap{
		"toYaml": func(v any) (string, error) {
			data, err := ToYAML(v)
			if err != nil {
				return "", err
			}
			return strings.TrimSuffix(string(data), "\n"), nil
		},
		"pointer": func(doc any, p string) any {
			v, _ := GetPointer(doc, p)
			return v
		},
	}
}
