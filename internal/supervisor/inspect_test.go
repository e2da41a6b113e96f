package supervisor

import (
	"context"
	"sync"
	"testing"

	"github.com/yoyosuperman/procwatch/internal/event"
	"github.com/yoyosuperman/procwatch/internal/sink"
)

func newInspectSup(t *testing.T) (*Supervisor, *sink.SQLiteSink, *[]event.Event) {
	t.Helper()
	sk, err := sink.NewSQLite("")
	if err != nil {
		t.Fatalf("sqlite sink: %v", err)
	}
	t.Cleanup(func() { _ = sk.Close() })
	s, err := New(Descriptor{InstanceID: "web", Command: "true"}, DefaultOptions(), nil, sk, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var mu sync.Mutex
	var evs []event.Event
	s.Subscribe(func(e event.Event) {
		mu.Lock()
		evs = append(evs, e)
		mu.Unlock()
	})
	return s, sk, &evs
}

func countType(evs []event.Event, typ event.Type) int {
	n := 0
	for _, e := range evs {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func TestInspectStoresErrorLevel(t *testing.T) {
	s, sk, evs := newInspectSup(t)
	s.inspectLine(`{"level":50,"msg":"db connection refused"}`)

	n, err := sk.CountByInstance(context.Background(), "web")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("stored %d records, want 1", n)
	}
	if got := countType(*evs, event.ErrorDetected); got != 1 {
		t.Fatalf("error_detected events = %d, want 1", got)
	}
}

func TestInspectIgnoresBelowThreshold(t *testing.T) {
	s, sk, evs := newInspectSup(t)
	s.inspectLine(`{"level":30,"msg":"listening on :3000"}`)
	s.inspectLine(`{"level":40,"msg":"slow query"}`)
	s.inspectLine(`plain text with {braces} inside`)
	s.inspectLine(`{"broken json`)

	n, err := sk.CountByInstance(context.Background(), "web")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("stored %d records, want 0", n)
	}
	if got := countType(*evs, event.ErrorDetected); got != 0 {
		t.Fatalf("error_detected events = %d, want 0", got)
	}
}

func TestInspectFatalLevelWhileStopped(t *testing.T) {
	// A fatal line seen outside the running state stores the record but
	// must not try to signal anything.
	s, sk, _ := newInspectSup(t)
	s.inspectLine(`{"level":60,"msg":"unrecoverable"}`)

	n, err := sk.CountByInstance(context.Background(), "web")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("stored %d records, want 1", n)
	}
	if s.State() != StateStopped {
		t.Fatalf("state = %s, want stopped", s.State())
	}
}

func TestFatalPatterns(t *testing.T) {
	fatal := []string{
		"FATAL ERROR: Reached heap limit Allocation failed - JavaScript heap out of memory",
		"Segmentation fault (core dumped)",
		"Error: listen EADDRINUSE: address already in use :::3000",
		"Error: Cannot find module 'express'",
		"RangeError: Maximum call stack size exceeded",
		"Failed to compile.",
	}
	for _, msg := range fatal {
		if !matchesFatalPattern(msg) {
			t.Errorf("expected fatal: %q", msg)
		}
	}
	benign := []string{
		"",
		"request completed in 12ms",
		"memory usage: 120MB",
		"module loaded",
	}
	for _, msg := range benign {
		if matchesFatalPattern(msg) {
			t.Errorf("unexpected fatal: %q", msg)
		}
	}
}

func TestSplitJSONLineSingleDetection(t *testing.T) {
	// A JSON log line arriving in two chunks is framed into exactly one
	// line, so inspection sees it once.
	s, sk, evs := newInspectSup(t)
	var d lineDecoder
	raw := `{"level":50,"msg":"boom"}` + "\n"
	if lines := d.feed([]byte(raw[:10])); len(lines) != 0 {
		t.Fatalf("partial chunk produced lines: %v", lines)
	}
	lines := d.feed([]byte(raw[10:]))
	if len(lines) != 1 {
		t.Fatalf("expected one framed line, got %v", lines)
	}
	for _, line := range lines {
		s.inspectLine(line)
	}

	n, err := sk.CountByInstance(context.Background(), "web")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("stored %d records, want 1", n)
	}
	if got := countType(*evs, event.ErrorDetected); got != 1 {
		t.Fatalf("error_detected events = %d, want 1", got)
	}
}
