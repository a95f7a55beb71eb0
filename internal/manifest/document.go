package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Documents are trees of map[string]any, []any and scalars (string, bool,
// int, float64, nil). Every value entering the merge engine goes through
// Normalize first so that merging only ever sees those types.

// ParseDocument decodes YAML or JSON text into the document model.
func ParseDocument(data []byte) (any, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return Normalize(raw)
}

// ParseMapping decodes text that must hold a mapping. Empty input yields an
// empty mapping.
func ParseMapping(data []byte) (map[string]any, error) {
	doc, err := ParseDocument(data)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return map[string]any{}, nil
	}
	m, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("document must be a mapping, got %s", shapeOf(doc))
	}
	return m, nil
}

// Normalize converts decoded YAML or JSON values into the document model.
func Normalize(v any) (any, error) {
	switch t := v.(type) {
	case nil, string, bool, int, float64:
		return t, nil
	case int8:
		return int(t), nil
	case int16:
		return int(t), nil
	case int32:
		return int(t), nil
	case int64:
		return int(t), nil
	case uint:
		return uintToValue(uint64(t)), nil
	case uint8:
		return int(t), nil
	case uint16:
		return int(t), nil
	case uint32:
		return int(t), nil
	case uint64:
		return uintToValue(t), nil
	case float32:
		return float64(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return int(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", t.String())
		}
		return f, nil
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano), nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			n, err := Normalize(val)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = n
		}
		return out, nil
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			key := fmt.Sprint(k)
			n, err := Normalize(val)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			out[key] = n
		}
		return out, nil
	case map[string]string:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = val
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			n, err := Normalize(val)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = n
		}
		return out, nil
	case []string:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = val
		}
		return out, nil
	case []map[string]any:
		out := make([]any, len(t))
		for i, val := range t {
			n, err := Normalize(val)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = n
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value of type %T", v)
	}
}

func uintToValue(u uint64) any {
	if u > math.MaxInt64 {
		return float64(u)
	}
	return int(u)
}

// DeepCopy returns a copy of a document that shares no mutable state with it.
func DeepCopy(value any) any {
	switch v := value.(type) {
	case map[string]any:
		result := make(map[string]any, len(v))
		for k, val := range v {
			result[k] = DeepCopy(val)
		}
		return result
	case []any:
		result := make([]any, len(v))
		for i, val := range v {
			result[i] = DeepCopy(val)
		}
		return result
	default:
		// Scalars are immutable
		return value
	}
}

// shape names used in conflict messages.
const (
	shapeNull     = "null"
	shapeMapping  = "mapping"
	shapeSequence = "sequence"
	shapeScalar   = "scalar"
)

func shapeOf(v any) string {
	switch v.(type) {
	case nil:
		return shapeNull
	case map[string]any:
		return shapeMapping
	case []any:
		return shapeSequence
	default:
		return shapeScalar
	}
}

// sortedKeys returns the keys of m in lexical order.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// JSON pointers (RFC 6901) address values inside a document. The empty
// pointer is the whole document.

var pointerEscaper = strings.NewReplacer("~", "~0", "/", "~1")
var pointerUnescaper = strings.NewReplacer("~1", "/", "~0", "~")

// EscapeToken escapes a single reference token.
func EscapeToken(token string) string {
	return pointerEscaper.Replace(token)
}

// JoinPointer appends a key to a pointer.
func JoinPointer(base, key string) string {
	return base + "/" + EscapeToken(key)
}

// IndexPointer appends a sequence index to a pointer.
func IndexPointer(base string, i int) string {
	return base + "/" + strconv.Itoa(i)
}

// SplitPointer returns the unescaped reference tokens of a pointer.
func SplitPointer(pointer string) ([]string, error) {
	if pointer == "" {
		return nil, nil
	}
	if !strings.HasPrefix(pointer, "/") {
		return nil, fmt.Errorf("invalid JSON pointer %q: must start with /", pointer)
	}
	parts := strings.Split(pointer[1:], "/")
	for i, p := range parts {
		parts[i] = pointerUnescaper.Replace(p)
	}
	return parts, nil
}

// HasPointerPrefix reports whether pointer equals prefix or lies beneath it.
func HasPointerPrefix(pointer, prefix string) bool {
	if prefix == "" {
		return true
	}
	return pointer == prefix || strings.HasPrefix(pointer, prefix+"/")
}

// GetPointer resolves a pointer against a document.
func GetPointer(doc any, pointer string) (any, bool) {
	tokens, err := SplitPointer(pointer)
	if err != nil {
		return nil, false
	}
	cur := doc
	for _, tok := range tokens {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[tok]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(tok)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// SetPointer sets value at pointer and returns the (possibly new) root.
// Missing intermediate mappings are created; a scalar standing in the way is
// replaced by a mapping. Sequence elements are addressed by index and must exist.
func SetPointer(doc any, pointer string, value any) (any, error) {
	tokens, err := SplitPointer(pointer)
	if err != nil {
		return doc, err
	}
	if len(tokens) == 0 {
		return value, nil
	}
	return setTokens(doc, tokens, value, "")
}

func setTokens(node any, tokens []string, value any, at string) (any, error) {
	tok := tokens[0]
	rest := tokens[1:]
	here := JoinPointer(at, tok)

	if seq, ok := node.([]any); ok {
		i, err := strconv.Atoi(tok)
		if err != nil || i < 0 || i >= len(seq) {
			return node, fmt.Errorf("index %q out of range at %s", tok, displayPath(at))
		}
		if len(rest) == 0 {
			seq[i] = value
			return seq, nil
		}
		child, err := setTokens(seq[i], rest, value, here)
		if err != nil {
			return node, err
		}
		seq[i] = child
		return seq, nil
	}

	m, ok := node.(map[string]any)
	if !ok {
		m = map[string]any{}
	}
	if len(rest) == 0 {
		m[tok] = value
		return m, nil
	}
	child, err := setTokens(m[tok], rest, value, here)
	if err != nil {
		return m, err
	}
	m[tok] = child
	return m, nil
}

// Leaves returns the pointer of every leaf in doc in document order, with
// mapping keys sorted. Empty mappings and sequences count as leaves.
func Leaves(doc any) []string {
	var out []string
	walkLeaves(doc, "", func(p string, _ any) { out = append(out, p) })
	return out
}

func walkLeaves(node any, at string, fn func(string, any)) {
	switch v := node.(type) {
	case map[string]any:
		if len(v) == 0 {
			fn(at, v)
			return
		}
		for _, k := range sortedKeys(v) {
			walkLeaves(v[k], JoinPointer(at, k), fn)
		}
	case []any:
		if len(v) == 0 {
			fn(at, v)
			return
		}
		for i, item := range v {
			walkLeaves(item, IndexPointer(at, i), fn)
		}
	default:
		fn(at, v)
	}
}
