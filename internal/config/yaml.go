package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// yamlToJSON re-encodes a single YAML document as JSON so both formats go
// through the same strict decoder in Parse. A second document is rejected
// the same way trailing JSON is.
func yamlToJSON(data []byte) ([]byte, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var doc any
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return []byte("{}"), nil
		}
		return nil, fmt.Errorf("yaml: %w", err)
	}
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		if err == nil {
			return nil, errors.New("yaml: more than one document")
		}
		return nil, fmt.Errorf("yaml: %w", err)
	}

	j, err := json.Marshal(stringKeys(doc))
	if err != nil {
		return nil, fmt.Errorf("yaml: re-encode: %w", err)
	}
	return j, nil
}

// stringKeys rewrites non-string map keys (e.g. `1: x`) so the tree is
// JSON-encodable. An empty document becomes an empty object.
func stringKeys(in any) any {
	switch x := in.(type) {
	case nil:
		return map[string]any{}
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = keysIn(v)
		}
		return m
	default:
		return keysIn(in)
	}
}

func keysIn(in any) any {
	switch x := in.(type) {
	case map[any]any:
		return stringKeys(x)
	case map[string]any:
		for k, v := range x {
			x[k] = keysIn(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = keysIn(x[i])
		}
		return x
	default:
		return in
	}
}
