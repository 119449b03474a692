// Package logtail tracks subscribed task logs and reports the bytes appended
// to them since the last observation.
package logtail

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/drewfead/pueue-webui/internal/logging"
)

// Default subscription limits.
const (
	DefaultMaxLines = 1000
	DefaultMaxBytes = 500000
)

var (
	// ErrNotSubscribed is returned when unsubscribing a task that has no
	// active subscription.
	ErrNotSubscribed = errors.New("not subscribed")
	// ErrInvalidTaskID is returned for ids that do not name a file in the
	// log directory.
	ErrInvalidTaskID = errors.New("invalid task id")
)

// Options bounds the initial snapshot. Zero or negative values disable the
// corresponding limit.
type Options struct {
	MaxLines int
	MaxBytes int64
}

// DefaultOptions returns the standard snapshot limits.
func DefaultOptions() Options {
	return Options{MaxLines: DefaultMaxLines, MaxBytes: DefaultMaxBytes}
}

// Snapshot is the tail of a log returned on subscribe. Start and End are
// the byte window read; Content may hold fewer lines than the window after
// line trimming.
type Snapshot struct {
	TaskID  string
	Start   int64
	End     int64
	Content string
}

// MarshalJSON encodes the snapshot as [taskId, start, end, content].
func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{s.TaskID, s.Start, s.End, s.Content})
}

// Update describes bytes appended to a subscribed log.
type Update struct {
	TaskID  string
	From    int64
	To      int64
	Content string
}

// Params returns the update as notification parameters.
func (u Update) Params() []any {
	return []any{u.TaskID, u.From, u.To, u.Content}
}

// Notifier receives log updates.
type Notifier func(Update)

const logExt = ".log"

// Tracker owns the subscription table: task id to the last byte offset
// delivered. The lock is never held across file I/O.
type Tracker struct {
	dir    string
	notify Notifier

	mu        sync.Mutex
	baselines map[string]int64
}

// NewTracker creates a tracker for logs named <taskID>.log in dir.
func NewTracker(dir string, notify Notifier) *Tracker {
	return &Tracker{
		dir:       dir,
		notify:    notify,
		baselines: make(map[string]int64),
	}
}

// Path returns the log file for taskID.
func (t *Tracker) Path(taskID string) string {
	return filepath.Join(t.dir, taskID+logExt)
}

// Subscribe reads the tail of the task's log and records its size as the
// baseline for later updates. A missing log yields an empty snapshot.
func (t *Tracker) Subscribe(taskID string, opts Options) (Snapshot, error) {
	if err := validateTaskID(taskID); err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{TaskID: taskID}
	path := t.Path(taskID)

	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return Snapshot{}, fmt.Errorf("stat %s: %w", path, err)
	default:
		snap.End = info.Size()
		if opts.MaxBytes > 0 && snap.End > opts.MaxBytes {
			snap.Start = snap.End - opts.MaxBytes
		}
		data, err := readRange(path, snap.Start, snap.End)
		if err != nil {
			return Snapshot{}, err
		}
		snap.Content = lastLines(decode(data), opts.MaxLines)
	}

	t.mu.Lock()
	t.baselines[taskID] = snap.End
	t.mu.Unlock()

	return snap, nil
}

// Unsubscribe removes the task's subscription.
func (t *Tracker) Unsubscribe(taskID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.baselines[taskID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotSubscribed, taskID)
	}
	delete(t.baselines, taskID)
	return nil
}

// Subscribed reports whether taskID has an active subscription.
func (t *Tracker) Subscribed(taskID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.baselines[taskID]
	return ok
}

// OnFileChanged handles a change to a file in the log directory. Changes to
// files other than task logs, unsubscribed tasks and vanished files are
// ignored.
func (t *Tracker) OnFileChanged(path string) {
	if filepath.Ext(path) != logExt {
		return
	}
	taskID := strings.TrimSuffix(filepath.Base(path), logExt)

	info, err := os.Stat(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logging.Warn("failed to stat log", "path", path, "error", err)
		}
		return
	}
	curr := info.Size()

	t.mu.Lock()
	prev, ok := t.baselines[taskID]
	if ok {
		t.baselines[taskID] = curr
	}
	t.mu.Unlock()
	if !ok {
		return
	}

	// Truncated or rotated.
	if prev > curr {
		prev = 0
	}
	if prev == curr {
		return
	}

	data, err := readRange(path, prev, curr)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logging.Warn("failed to read log delta", "task", taskID, "error", err)
		}
		return
	}
	logging.Debug("log updated", "task", taskID, "from", prev, "to", curr)
	if t.notify != nil {
		t.notify(Update{TaskID: taskID, From: prev, To: curr, Content: decode(data)})
	}
}

func validateTaskID(taskID string) error {
	if taskID == "" || taskID == "." || taskID == ".." || strings.ContainsAny(taskID, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidTaskID, taskID)
	}
	return nil
}

// readRange reads bytes [from, to) of path. A file that shrank meanwhile
// yields the bytes still present.
func readRange(path string, from, to int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.NewSectionReader(f, from, to-from))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// decode converts log bytes to text, replacing invalid UTF-8.
func decode(data []byte) string {
	return strings.ToValidUTF8(string(data), "\uFFFD")
}

// lastLines keeps the last n lines of s. A trailing newline terminates the
// final line rather than starting an empty one.
func lastLines(s string, n int) string {
	if n <= 0 {
		return s
	}
	body := strings.TrimSuffix(s, "\n")
	trailing := s[len(body):]

	count := 0
	for i := len(body) - 1; i >= 0; i-- {
		if body[i] != '\n' {
			continue
		}
		count++
		if count == n {
			return body[i+1:] + trailing
		}
	}
	return s
}
