package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yoyosuperman/procwatch/internal/logfile"
)

func writeConfig(t *testing.T, logDir string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "procwatch.toml")
	content := `
[instance]
id = "cli-test"
command = "sleep"
args = ["30"]

[log]
dir = "` + logDir + `"
`
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := runCommand(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "procwatch") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestDrainCommand(t *testing.T) {
	logDir := t.TempDir()
	cfgPath := writeConfig(t, logDir)

	m := logfile.NewManager(logDir, "cli-test", logfile.Options{})
	if err := m.Append("stdout", "hello from child"); err != nil {
		t.Fatalf("append: %v", err)
	}

	out, err := runCommand(t, "--config", cfgPath, "drain")
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if !strings.Contains(out, "hello from child") {
		t.Fatalf("drained content missing line: %q", out)
	}

	// Second drain starts from a fresh file.
	out, err = runCommand(t, "--config", cfgPath, "drain")
	if err != nil {
		t.Fatalf("second drain: %v", err)
	}
	if strings.Contains(out, "hello from child") {
		t.Fatalf("drain returned already-drained content: %q", out)
	}
}

func TestCleanupCommand(t *testing.T) {
	logDir := t.TempDir()
	cfgPath := writeConfig(t, logDir)

	m := logfile.NewManager(logDir, "cli-test", logfile.Options{})
	if err := m.Append("stdout", "line"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := runCommand(t, "--config", cfgPath, "cleanup"); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if _, err := os.Stat(m.Path()); !os.IsNotExist(err) {
		t.Fatalf("log file still present after cleanup: %v", err)
	}
}

func TestRunRequiresValidConfig(t *testing.T) {
	if _, err := runCommand(t, "--config", "/nonexistent.toml", "run"); err == nil {
		t.Fatal("run with missing config should fail")
	}
	if _, err := runCommand(t, "--config", "/nonexistent.toml", "drain"); err == nil {
		t.Fatal("drain with missing config should fail")
	}
}
