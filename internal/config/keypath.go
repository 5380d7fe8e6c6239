package config

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// sections are the top-level keys of config.yaml.
var sections = []string{
	"gateway", "logging", "store", "responder", "mailbox",
	"dispatch", "organizations", "hooks", "dev",
}

// ParseConfigPath splits a key like "organizations[0].mail.smtp.host" into
// segments. List indexes may be written as "[0]" or ".0". The first segment
// must name a config section.
func ParseConfigPath(raw string) ([]string, error) {
	if raw == "" {
		return nil, &ConfigError{Message: "empty config path"}
	}
	raw = strings.NewReplacer("[", ".", "]", "").Replace(raw)
	parts := strings.Split(raw, ".")
	for _, p := range parts {
		if p == "" {
			return nil, &ConfigError{Message: "config path contains empty segment"}
		}
	}
	if !slices.Contains(sections, parts[0]) {
		return nil, &ConfigError{Message: fmt.Sprintf("unknown config section %q", parts[0])}
	}
	return parts, nil
}

// GetValueAtPath walks maps and lists along path.
func GetValueAtPath(root map[string]any, path []string) (any, bool) {
	var cur any = root
	for _, key := range path {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[key]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, ok := index(key, len(node))
			if !ok {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// SetValueAtPath stores value at path, creating maps along the way. A list
// index equal to the list length appends.
func SetValueAtPath(root map[string]any, path []string, value any) error {
	_, err := set(root, path, value)
	return err
}

func set(node any, path []string, value any) (any, error) {
	if len(path) == 0 {
		return value, nil
	}
	key, rest := path[0], path[1:]
	switch n := node.(type) {
	case []any:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i > len(n) {
			return nil, &ConfigError{Message: fmt.Sprintf("list index %q out of range (len %d)", key, len(n))}
		}
		if i == len(n) {
			n = append(n, nil)
		}
		v, err := set(n[i], rest, value)
		if err != nil {
			return nil, err
		}
		n[i] = v
		return n, nil
	case map[string]any:
		v, err := set(n[key], rest, value)
		if err != nil {
			return nil, err
		}
		n[key] = v
		return n, nil
	default:
		// Missing or scalar: replace with a fresh map.
		m := map[string]any{}
		v, err := set(nil, rest, value)
		if err != nil {
			return nil, err
		}
		m[key] = v
		return m, nil
	}
}

// UnsetValueAtPath removes the map key or list element at path and reports
// whether anything was removed.
func UnsetValueAtPath(root map[string]any, path []string) bool {
	parentPath, last := path[:len(path)-1], path[len(path)-1]
	parent, ok := GetValueAtPath(root, parentPath)
	if !ok {
		return false
	}
	switch p := parent.(type) {
	case map[string]any:
		if _, ok := p[last]; !ok {
			return false
		}
		delete(p, last)
		return true
	case []any:
		i, ok := index(last, len(p))
		if !ok {
			return false
		}
		// The shortened list has to be written back into its parent.
		return SetValueAtPath(root, parentPath, slices.Delete(p, i, i+1)) == nil
	default:
		return false
	}
}

func index(key string, n int) (int, bool) {
	i, err := strconv.Atoi(key)
	if err != nil || i < 0 || i >= n {
		return 0, false
	}
	return i, true
}
