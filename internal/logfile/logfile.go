package logfile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/yoyosuperman/procwatch/internal/flock"
	"github.com/yoyosuperman/procwatch/internal/syncutil"
)

// Default trim policy. MaxBytes is the hard ceiling; once the file also
// exceeds CheckBytes, the line count is consulted against MaxLines.
const (
	DefaultMaxBytes   = 10 * 1024 * 1024
	DefaultCheckBytes = 2 * 1024 * 1024
	DefaultMaxLines   = 10000
	checkEvery        = 100 // appends between async trim checks
	keepRatio         = 0.7 // share of MaxLines kept after a trim
)

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Options tunes the trim policy. Zero values take defaults.
type Options struct {
	MaxBytes   int64
	CheckBytes int64
	MaxLines   int
}

// Manager owns the append-only log file of one supervised instance.
// Appends open the file per call, so out-of-process tooling can drain it
// atomically via the cross-process lock without stealing a held handle.
type Manager struct {
	path    string
	opts    Options
	appends atomic.Int64
	trimMu  *syncutil.AsyncMutex
	lock    *flock.Lock
}

// NewManager creates a manager for dir/<instanceID>.log.
func NewManager(dir, instanceID string, opts Options) *Manager {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.CheckBytes <= 0 {
		opts.CheckBytes = DefaultCheckBytes
	}
	if opts.MaxLines <= 0 {
		opts.MaxLines = DefaultMaxLines
	}
	path := filepath.Join(dir, instanceID+".log")
	return &Manager{
		path:   path,
		opts:   opts,
		trimMu: syncutil.NewAsyncMutex(),
		lock:   flock.New(path),
	}
}

// Path returns the live log file path.
func (m *Manager) Path() string { return m.path }

// Append writes one timestamped, stream-tagged line. Every checkEvery-th
// append kicks off a non-blocking trim check so the hot path never waits
// on file stats.
func (m *Manager) Append(stream, content string) error {
	line := fmt.Sprintf("[%s] [%s] %s\n", time.Now().UTC().Format(timestampLayout), stream, content)
	if err := m.appendRaw(line); err != nil {
		return err
	}
	if m.appends.Add(1)%checkEvery == 0 {
		go m.maybeTrim()
	}
	return nil
}

// AppendMonitor records an internal supervisor notice in the same file.
func (m *Manager) AppendMonitor(content string) error {
	return m.Append("monitor", "[MONITOR] "+content)
}

func (m *Manager) appendRaw(line string) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o750); err != nil {
		return err
	}
	f, err := os.OpenFile(m.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return err
	}
	_, werr := f.WriteString(line)
	cerr := f.Close()
	if werr != nil {
		return werr
	}
	return cerr
}

// maybeTrim checks size/line thresholds and trims when exceeded. Trims
// are serialized by the async mutex; when one is already running the
// check is simply skipped.
func (m *Manager) maybeTrim() {
	if !m.trimMu.TryLock() {
		return
	}
	defer m.trimMu.Unlock()

	fi, err := os.Stat(m.path)
	if err != nil {
		return
	}
	size := fi.Size()
	if size <= m.opts.CheckBytes {
		return
	}
	trim := size > m.opts.MaxBytes
	if !trim {
		n, err := countLines(m.path)
		if err != nil {
			return
		}
		trim = n > m.opts.MaxLines
	}
	if !trim {
		return
	}
	if err := m.trimLocked(); err != nil {
		slog.Warn("log trim failed", "path", m.path, "error", err)
	}
}

// trimLocked rewrites the file keeping the newest keepRatio*MaxLines
// lines, then renames over the original so readers never see a partial
// file. Caller holds trimMu.
func (m *Manager) trimLocked() error {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return err
	}
	lines := strings.Split(strings.TrimRight(string(b), "\n"), "\n")
	keep := int(float64(m.opts.MaxLines) * keepRatio)
	if len(lines) <= keep {
		return nil
	}
	kept := lines[len(lines)-keep:]

	tmp := m.path + ".trim.tmp"
	if err := os.WriteFile(tmp, []byte(strings.Join(kept, "\n")+"\n"), 0o640); err != nil {
		return err
	}
	return os.Rename(tmp, m.path)
}

// DrainAndReset atomically hands over everything written so far and
// leaves an empty live file behind. It is safe against concurrent
// appends from this or other processes: the live file is renamed away
// under the cross-process lock, so an append lands either in the drained
// batch or in the fresh file, never in both.
func (m *Manager) DrainAndReset() (string, error) {
	if err := m.lock.Acquire(); err != nil {
		// Lock exhaustion degrades to "nothing drained" rather than
		// failing the caller.
		slog.Warn("log drain skipped, lock not acquired", "path", m.path, "error", err)
		return "", nil
	}
	defer func() { _ = m.lock.Release() }()

	tmp := fmt.Sprintf("%s.drain.%d.%d", m.path, os.Getpid(), time.Now().UnixNano())
	if err := os.Rename(m.path, tmp); err != nil {
		if os.IsNotExist(err) {
			return "", nil // nothing to drain
		}
		return "", err
	}

	// Recreate the live file. A concurrent append may already have done
	// so; that race is benign.
	if f, err := os.OpenFile(m.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640); err == nil {
		_ = f.Close()
	} else if !os.IsExist(err) {
		slog.Warn("log recreate failed after drain", "path", m.path, "error", err)
	}

	b, err := os.ReadFile(tmp)
	if err != nil {
		return "", err
	}
	_ = os.Remove(tmp)
	return string(b), nil
}

// Cleanup deletes the log file under the same lock discipline as drains.
func (m *Manager) Cleanup() error {
	if err := m.lock.Acquire(); err != nil {
		return err
	}
	defer func() { _ = m.lock.Release() }()
	err := os.Remove(m.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func countLines(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range b {
		if c == '\n' {
			n++
		}
	}
	return n, nil
}
