package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// toTree renders cfg as the generic JSON tree the dot-path helpers walk.
func toTree(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// GetByPath retrieves a config value by dot-notation path (e.g. "provider.model").
func GetByPath(cfg *Config, path string) (any, error) {
	tree, err := toTree(cfg)
	if err != nil {
		return nil, err
	}

	var current any = tree
	for _, key := range strings.Split(path, ".") {
		switch v := current.(type) {
		case map[string]any:
			val, ok := v[key]
			if !ok {
				return nil, fmt.Errorf("key not found: %s", path)
			}
			current = val
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, fmt.Errorf("invalid array index: %s", key)
			}
			current = v[idx]
		default:
			return nil, fmt.Errorf("cannot traverse into %T at %s", current, key)
		}
	}
	return current, nil
}

// SetByPath sets an existing config value by dot-notation path. String
// values are converted to bool or number when they parse as one; a
// comma-separated string sets a list.
func SetByPath(cfg *Config, path string, value any) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}
	tree, err := toTree(cfg)
	if err != nil {
		return err
	}

	parts := strings.Split(path, ".")
	parent := tree
	for _, key := range parts[:len(parts)-1] {
		child, ok := parent[key].(map[string]any)
		if !ok {
			return fmt.Errorf("unknown config section: %s", key)
		}
		parent = child
	}

	last := parts[len(parts)-1]
	old, ok := parent[last]
	if !ok && !isOmittable(path) {
		return fmt.Errorf("unknown config key: %s", path)
	}
	if _, isList := old.([]any); isList {
		parent[last] = splitList(value)
	} else {
		parent[last] = parseValue(value)
	}

	data, err := json.Marshal(tree)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, cfg)
}

// isOmittable reports keys tagged omitempty, which are absent from the tree
// while unset.
func isOmittable(path string) bool {
	switch path {
	case "general.logFile", "provider.apiKey", "provider.maxTokens", "provider.temperature":
		return true
	}
	return false
}

// parseValue tries to convert string values to appropriate Go types.
func parseValue(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	if s == "true" || s == "false" {
		return s == "true"
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

func splitList(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	if s == "" {
		return []string{}
	}
	items := strings.Split(s, ",")
	for i := range items {
		items[i] = strings.TrimSpace(items[i])
	}
	return items
}

// Sanitize returns a copy of the config with sensitive values masked.
func Sanitize(cfg *Config) *Config {
	cp := *cfg
	cp.Tools.Snapshot.Include = append([]string(nil), cfg.Tools.Snapshot.Include...)
	if cp.Provider.APIKey != "" {
		cp.Provider.APIKey = maskString(cp.Provider.APIKey)
	}
	return &cp
}

// maskString shows first 4 and last 4 chars, masks the rest.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths returns every leaf path with its value, sorted by path.
func ListPaths(cfg *Config) []PathValue {
	tree, err := toTree(cfg)
	if err != nil {
		return nil
	}
	var out []PathValue
	flatten("", tree, &out)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

type PathValue struct {
	Path  string
	Value any
}

func flatten(prefix string, m map[string]any, out *[]PathValue) {
	for k, v := range m {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if sub, ok := v.(map[string]any); ok {
			flatten(path, sub, out)
			continue
		}
		*out = append(*out, PathValue{Path: path, Value: v})
	}
}
