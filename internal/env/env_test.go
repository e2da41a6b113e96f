package env

import (
	"strings"
	"testing"
)

func lookup(envs []string, key string) (string, bool) {
	for _, kv := range envs {
		if strings.HasPrefix(kv, key+"=") {
			return strings.TrimPrefix(kv, key+"="), true
		}
	}
	return "", false
}

func TestMergePrecedence(t *testing.T) {
	t.Setenv("PW_BASE", "os")
	t.Setenv("PW_OVERRIDE", "os")

	envs := Merge(
		map[string]string{"PW_OVERRIDE": "global", "PW_GLOBAL": "g"},
		map[string]string{"PW_OVERRIDE": "instance"},
	)

	if v, _ := lookup(envs, "PW_BASE"); v != "os" {
		t.Fatalf("PW_BASE = %q", v)
	}
	if v, _ := lookup(envs, "PW_GLOBAL"); v != "g" {
		t.Fatalf("PW_GLOBAL = %q", v)
	}
	if v, _ := lookup(envs, "PW_OVERRIDE"); v != "instance" {
		t.Fatalf("PW_OVERRIDE = %q, want instance override to win", v)
	}
}

func TestMergeExpansion(t *testing.T) {
	t.Setenv("PW_ROOT", "/srv/app")
	envs := Merge(nil, map[string]string{"PW_LOGS": "${PW_ROOT}/logs"})
	if v, _ := lookup(envs, "PW_LOGS"); v != "/srv/app/logs" {
		t.Fatalf("PW_LOGS = %q", v)
	}
}

func TestMergeReturnsFreshSlice(t *testing.T) {
	a := Merge(nil, map[string]string{"PW_A": "1"})
	b := Merge(nil, map[string]string{"PW_A": "2"})
	va, _ := lookup(a, "PW_A")
	vb, _ := lookup(b, "PW_A")
	if va != "1" || vb != "2" {
		t.Fatalf("merges share state: %q %q", va, vb)
	}
}

func TestParse(t *testing.T) {
	m := Parse([]string{"A=1", "B=x=y", "malformed", "=empty"})
	if m["A"] != "1" || m["B"] != "x=y" {
		t.Fatalf("parse: %v", m)
	}
	if len(m) != 2 {
		t.Fatalf("malformed entries should be skipped: %v", m)
	}
}
