package manifest

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var schemaFiles = map[Kind]string{
	KindDeployment: "schemas/deployment.json",
	KindPod:        "schemas/pod.json",
	KindService:    "schemas/service.json",
}

var (
	schemaOnce sync.Once
	schemas    map[Kind]*jsonschema.Schema
	schemaErr  error
)

// loadSchemas compiles the embedded schemas once. Compiled schemas are safe
// for concurrent use.
func loadSchemas() (map[Kind]*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020

		for _, file := range schemaFiles {
			data, err := schemaFS.ReadFile(file)
			if err != nil {
				schemaErr = fmt.Errorf("read schema %s: %w", file, err)
				return
			}
			if err := compiler.AddResource(path.Base(file), bytes.NewReader(data)); err != nil {
				schemaErr = fmt.Errorf("add schema resource %s: %w", file, err)
				return
			}
		}

		compiled := make(map[Kind]*jsonschema.Schema, len(schemaFiles))
		for kind, file := range schemaFiles {
			s, err := compiler.Compile(path.Base(file))
			if err != nil {
				schemaErr = fmt.Errorf("compile schema %s: %w", file, err)
				return
			}
			compiled[kind] = s
		}
		schemas = compiled
	})
	return schemas, schemaErr
}

// CheckSchemas reports whether the embedded schemas compile.
func CheckSchemas() error {
	_, err := loadSchemas()
	return err
}

// Issue is one structural problem in a composed document.
type Issue struct {
	Path    string
	Message string
}

// ValidateDocument checks a composed manifest against the schema of its kind.
// A nil slice means the document is structurally valid.
func ValidateDocument(kind Kind, doc any) ([]Issue, error) {
	compiled, err := loadSchemas()
	if err != nil {
		return nil, err
	}
	schema, ok := compiled[kind]
	if !ok {
		return nil, NewValidationError("kind", fmt.Sprintf("no schema for kind %q", kind))
	}

	instance, err := toJSONValue(doc)
	if err != nil {
		return nil, err
	}

	if err := schema.Validate(instance); err != nil {
		var verr *jsonschema.ValidationError
		if !errors.As(err, &verr) {
			return nil, fmt.Errorf("validate %s: %w", kind, err)
		}
		return collectIssues(verr), nil
	}
	return nil, nil
}

// toJSONValue converts a document into the types the schema validator expects.
func toJSONValue(doc any) (any, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return out, nil
}

// collectIssues flattens a validation error tree into its leaf causes.
func collectIssues(err *jsonschema.ValidationError) []Issue {
	seen := make(map[Issue]bool)
	var issues []Issue

	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			issue := Issue{Path: e.InstanceLocation, Message: e.Message}
			if !seen[issue] {
				seen[issue] = true
				issues = append(issues, issue)
			}
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(err)

	sort.Slice(issues, func(i, j int) bool {
		if issues[i].Path != issues[j].Path {
			return issues[i].Path < issues[j].Path
		}
		return issues[i].Message < issues[j].Message
	})
	return issues
}

var metadataKeys = []string{"name", "namespace", "labels", "annotations"}

// KnownKeys lists the top-level keys each category's documents may use.
// Categories absent from the map accept any key.
var KnownKeys = map[Category][]string{
	CategoryContainer: {
		"containers", "initContainers", "imagePullSecrets", "serviceAccountName",
		"restartPolicy", "terminationGracePeriodSeconds", "securityContext",
		"hostNetwork", "dnsPolicy",
	},
	CategoryVolume: {"volumes"},
	CategoryScheduling: {
		"nodeSelector", "affinity", "tolerations", "nodeName",
		"priorityClassName", "schedulerName", "topologySpreadConstraints",
	},
	CategoryResource:           {"resources"},
	CategoryProbe:              {"livenessProbe", "readinessProbe", "startupProbe"},
	CategoryEnv:                {"env", "envFrom"},
	CategoryLifecycle:          {"lifecycle", "terminationMessagePath", "terminationMessagePolicy"},
	CategoryPodMetadata:        metadataKeys,
	CategoryServiceMetadata:    metadataKeys,
	CategoryDeploymentSelector: {"matchLabels", "matchExpressions"},
}

// UnknownKeys returns the top-level keys of doc that the category does not
// recognize, sorted.
func UnknownKeys(category Category, doc any) []string {
	known, ok := KnownKeys[category]
	if !ok {
		return nil
	}
	m, ok := doc.(map[string]any)
	if !ok {
		return nil
	}
	var unknown []string
	for _, key := range sortedKeys(m) {
		if !contains(known, key) {
			unknown = append(unknown, key)
		}
	}
	return unknown
}

// SelectorMismatches returns the matchLabels of a Deployment selector that
// the pod template labels do not satisfy, sorted by label key.
func SelectorMismatches(kind Kind, doc any) []string {
	if kind != KindDeployment {
		return nil
	}
	selector, _ := GetPointer(doc, "/spec/selector/matchLabels")
	matchLabels, ok := selector.(map[string]any)
	if !ok {
		return nil
	}
	labelsValue, _ := GetPointer(doc, "/spec/template/metadata/labels")
	labels, _ := labelsValue.(map[string]any)

	var missing []string
	for _, key := range sortedKeys(matchLabels) {
		got, ok := labels[key]
		if !ok || fmt.Sprint(got) != fmt.Sprint(matchLabels[key]) {
			missing = append(missing, key)
		}
	}
	return missing
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
