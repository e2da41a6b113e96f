package flock

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"
)

// Lock is a cooperative cross-process lock backed by a marker file.
// Acquisition creates the marker exclusively; a marker whose recorded
// timestamp is older than the staleness window is presumed abandoned by
// a crashed holder and reclaimed. The lock is advisory: every process
// touching the protected file must go through it.
type Lock struct {
	path        string
	stale       time.Duration
	maxAttempts int
	retryDelay  time.Duration
}

type marker struct {
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
}

const (
	DefaultStale       = 30 * time.Second
	DefaultMaxAttempts = 50
	defaultRetryDelay  = 100 * time.Millisecond
)

// ErrNotAcquired is returned when all acquisition attempts are exhausted.
// Callers are expected to degrade gracefully (skip the protected
// operation) rather than fail hard.
var ErrNotAcquired = errors.New("flock: lock not acquired")

// New returns a lock whose marker lives at path + ".lock".
func New(path string) *Lock {
	return &Lock{
		path:        path + ".lock",
		stale:       DefaultStale,
		maxAttempts: DefaultMaxAttempts,
		retryDelay:  defaultRetryDelay,
	}
}

// WithStale overrides the staleness window.
func (l *Lock) WithStale(d time.Duration) *Lock {
	if d > 0 {
		l.stale = d
	}
	return l
}

// WithMaxAttempts overrides the bounded retry count.
func (l *Lock) WithMaxAttempts(n int) *Lock {
	if n > 0 {
		l.maxAttempts = n
	}
	return l
}

// Path returns the marker file path.
func (l *Lock) Path() string { return l.path }

// Acquire attempts to take the lock, retrying up to the configured
// attempt budget. A stale marker is deleted and retried immediately; a
// live one is retried after a short randomized delay.
func (l *Lock) Acquire() error {
	for attempt := 0; attempt < l.maxAttempts; attempt++ {
		ok, err := l.tryOnce()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if l.reclaimStale() {
			continue // retry immediately after removing a stale marker
		}
		// Randomize the wait so two contenders do not retry in lockstep.
		jitter := time.Duration(rand.Int63n(int64(l.retryDelay)))
		time.Sleep(l.retryDelay/2 + jitter)
	}
	return fmt.Errorf("%w after %d attempts: %s", ErrNotAcquired, l.maxAttempts, l.path)
}

// tryOnce attempts a single exclusive create of the marker.
func (l *Lock) tryOnce() (bool, error) {
	_ = os.MkdirAll(filepath.Dir(l.path), 0o750)
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, err
	}
	b, _ := json.Marshal(marker{PID: os.Getpid(), AcquiredAt: time.Now()})
	_, werr := f.Write(b)
	cerr := f.Close()
	if werr != nil || cerr != nil {
		_ = os.Remove(l.path)
		return false, errors.Join(werr, cerr)
	}
	return true, nil
}

// reclaimStale removes the marker when its holder looks abandoned.
// It reports whether a removal happened and the caller should retry now.
func (l *Lock) reclaimStale() bool {
	b, err := os.ReadFile(l.path)
	if err != nil {
		// Marker vanished between the create attempt and the read; the
		// next create attempt decides.
		return os.IsNotExist(err)
	}
	var m marker
	age := l.stale + 1 // unreadable marker counts as stale
	if err := json.Unmarshal(b, &m); err == nil && !m.AcquiredAt.IsZero() {
		age = time.Since(m.AcquiredAt)
	}
	if age <= l.stale {
		return false
	}
	return os.Remove(l.path) == nil
}

// Release deletes the marker, tolerating one that is already gone.
func (l *Lock) Release() error {
	err := os.Remove(l.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
