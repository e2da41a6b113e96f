package sink

import (
	"context"
	"time"
)

// Severity thresholds used by the log inspector. A record at or above
// LevelError is persisted; at or above LevelFatal it additionally
// escalates to a graceful kill of the child.
const (
	LevelError = 50
	LevelFatal = 60
)

// ErrorRecord is one detected fatal/error-level condition from a
// supervised child: either a structured log line at error severity or an
// OS-level process failure.
type ErrorRecord struct {
	At      time.Time `json:"at"`
	Level   int       `json:"level"`
	Message string    `json:"message"`
	Raw     string    `json:"raw"` // the source line as captured
}

// Sink receives detected error records. Implementations must be safe
// for concurrent use. The supervisor treats sends as fire-and-forget:
// a failing sink degrades to a warning, never to a lifecycle error.
type Sink interface {
	StoreError(ctx context.Context, instanceID string, pid int, rec ErrorRecord) error
	Close() error
}

// Nop discards every record. Used when no sink DSN is configured.
type Nop struct{}

func (Nop) StoreError(context.Context, string, int, ErrorRecord) error { return nil }
func (Nop) Close() error                                               { return nil }
