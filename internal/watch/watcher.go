// Package watch observes the pueue state and task-log directories and turns
// filesystem changes into status and log callbacks.
//
// Two strategies are available: event-driven OS notifications through
// fsnotify, and directory polling for filesystems where notifications are
// unreliable. ModeAuto prefers the former and falls back to the latter.
package watch

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/drewfead/pueue-webui/internal/logging"
)

// Common errors returned by watchers.
var (
	ErrWatcherClosed = errors.New("watcher is closed")
	ErrPathNotExist  = errors.New("path does not exist")
	ErrNotDirectory  = errors.New("path is not a directory")
)

// Watch strategies.
const (
	ModeAuto   = "auto"
	ModeNotify = "notify"
	ModePoll   = "poll"
)

// Op is a bitmask of filesystem operations.
type Op uint32

const (
	OpCreate Op = 1 << iota
	OpWrite
	OpRemove
	OpRename
	OpChmod
)

func (op Op) String() string {
	var parts []string
	for _, o := range []struct {
		op   Op
		name string
	}{
		{OpCreate, "CREATE"},
		{OpWrite, "WRITE"},
		{OpRemove, "REMOVE"},
		{OpRename, "RENAME"},
		{OpChmod, "CHMOD"},
	} {
		if op.Has(o.op) {
			parts = append(parts, o.name)
		}
	}
	if len(parts) == 0 {
		return "UNKNOWN"
	}
	return strings.Join(parts, "|")
}

// Has reports whether op includes o.
func (op Op) Has(o Op) bool {
	return op&o == o
}

// Event is a change to an entry of a watched directory.
type Event struct {
	Path string
	Op   Op
}

// Watcher delivers events for the entries of one directory, non-recursively.
// Events is closed by Close.
type Watcher interface {
	Events() <-chan Event
	Errors() <-chan error
	Close() error
}

// Open watches dir with the given strategy. In ModeAuto, a directory that
// fsnotify cannot watch is polled instead.
func Open(mode, dir string, pollInterval time.Duration) (Watcher, error) {
	switch mode {
	case ModeNotify:
		return NewNotifyWatcher(dir)
	case ModePoll:
		return NewPollWatcher(dir, pollInterval)
	case ModeAuto, "":
		w, err := NewNotifyWatcher(dir)
		if err == nil {
			return w, nil
		}
		if errors.Is(err, ErrPathNotExist) || errors.Is(err, ErrNotDirectory) {
			return nil, err
		}
		logging.Warn("fsnotify unavailable, falling back to polling", "dir", dir, "error", err)
		return NewPollWatcher(dir, pollInterval)
	default:
		return nil, fmt.Errorf("unknown watch mode %q", mode)
	}
}
