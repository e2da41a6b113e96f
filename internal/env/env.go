package env

import (
	"os"
	"sort"
	"strings"
)

// Merge builds a fresh environment slice for one spawn: the current OS
// environment as base, then global overrides, then per-instance
// overrides. Values may reference other variables as ${VAR}; expansion is
// a single pass over the composed map, no recursion. Nothing shared is
// ever mutated; each call returns a new slice.
func Merge(global, perInstance map[string]string) []string {
	m := make(map[string]string)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 && kv[:i] != "" {
			m[kv[:i]] = kv[i+1:]
		}
	}
	for k, v := range global {
		if k == "" {
			continue
		}
		m[k] = v
	}
	for k, v := range perInstance {
		if k == "" {
			continue
		}
		m[k] = v
	}

	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	sort.Strings(out)
	return out
}

// Parse splits "K=V" pairs into a map, skipping malformed entries.
func Parse(pairs []string) map[string]string {
	m := make(map[string]string, len(pairs))
	for _, kv := range pairs {
		if i := strings.IndexByte(kv, '='); i >= 0 && kv[:i] != "" {
			m[kv[:i]] = kv[i+1:]
		}
	}
	return m
}

func expand(s string, m map[string]string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	res := s
	for k, v := range m {
		res = strings.ReplaceAll(res, "${"+k+"}", v)
	}
	return res
}
