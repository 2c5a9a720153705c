package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// GetByPath reads a config value by dot-notation path using the JSON field
// names, e.g. "server.port" or "resolver.greetings.0".
func GetByPath(cfg *Config, path string) (any, error) {
	m, err := toMap(cfg)
	if err != nil {
		return nil, err
	}

	var current any = m
	for _, key := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			val, ok := node[key]
			if !ok {
				return nil, fmt.Errorf("key not found: %s", path)
			}
			current = val
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, fmt.Errorf("invalid list index %q in %s", key, path)
			}
			current = node[idx]
		default:
			return nil, fmt.Errorf("cannot traverse into %T at %q", current, key)
		}
	}
	return current, nil
}

// SetByPath writes a config value by dot-notation path. String values are
// coerced to bool or number where they parse as one, so "server.port 8080"
// lands as an int. The updated config must still validate.
func SetByPath(cfg *Config, path, value string) error {
	m, err := toMap(cfg)
	if err != nil {
		return err
	}

	parts := strings.Split(path, ".")
	parent := m
	for _, key := range parts[:len(parts)-1] {
		child, ok := parent[key]
		if !ok {
			next := make(map[string]any)
			parent[key] = next
			parent = next
			continue
		}
		childMap, ok := child.(map[string]any)
		if !ok {
			return fmt.Errorf("cannot traverse into %T at %q", child, key)
		}
		parent = childMap
	}
	parent[parts[len(parts)-1]] = coerce(value)

	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	updated := &Config{}
	if err := json.Unmarshal(data, updated); err != nil {
		return fmt.Errorf("value does not fit %s: %w", path, err)
	}
	if err := Validate(updated); err != nil {
		return err
	}
	*cfg = *updated
	return nil
}

func toMap(cfg *Config) (map[string]any, error) {
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

func coerce(s string) any {
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
