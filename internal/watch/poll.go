package watch

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// DefaultPollInterval is used when no positive interval is given.
const DefaultPollInterval = time.Second

type fileState struct {
	size    int64
	modTime time.Time
	mode    os.FileMode
}

// PollWatcher implements Watcher by listing the directory on an interval
// and comparing each entry's size, modification time and mode.
type PollWatcher struct {
	dir      string
	interval time.Duration
	files    map[string]fileState

	events chan Event
	errors chan error

	mu       sync.Mutex
	closed   bool
	closeCh  chan struct{}
	closedWg sync.WaitGroup
}

// NewPollWatcher starts polling dir.
func NewPollWatcher(dir string, interval time.Duration) (*PollWatcher, error) {
	absDir, err := checkDir(dir)
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	files, err := scanDir(absDir)
	if err != nil {
		return nil, err
	}

	w := &PollWatcher{
		dir:      absDir,
		interval: interval,
		files:    files,
		events:   make(chan Event, 100),
		errors:   make(chan error, 10),
		closeCh:  make(chan struct{}),
	}
	w.closedWg.Add(1)
	go w.pollLoop()
	return w, nil
}

// Events returns the event channel.
func (w *PollWatcher) Events() <-chan Event {
	return w.events
}

// Errors returns the error channel.
func (w *PollWatcher) Errors() <-chan error {
	return w.errors
}

// Close stops polling and closes the channels.
func (w *PollWatcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	w.mu.Unlock()

	w.closedWg.Wait()
	close(w.events)
	close(w.errors)
	return nil
}

func (w *PollWatcher) pollLoop() {
	defer w.closedWg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.closeCh:
			return
		case <-ticker.C:
			if !w.poll() {
				return
			}
		}
	}
}

// poll emits events for every entry that changed since the last scan. It
// returns false once the watcher is closing.
func (w *PollWatcher) poll() bool {
	current, err := scanDir(w.dir)
	if err != nil {
		select {
		case w.errors <- err:
		default:
		}
		return true
	}

	var events []Event
	for name, state := range current {
		prev, existed := w.files[name]
		switch {
		case !existed:
			events = append(events, Event{Path: name, Op: OpCreate})
		case prev.size != state.size || !prev.modTime.Equal(state.modTime):
			events = append(events, Event{Path: name, Op: OpWrite})
		case prev.mode != state.mode:
			events = append(events, Event{Path: name, Op: OpChmod})
		}
	}
	for name := range w.files {
		if _, ok := current[name]; !ok {
			events = append(events, Event{Path: name, Op: OpRemove})
		}
	}
	w.files = current

	sort.Slice(events, func(i, j int) bool { return events[i].Path < events[j].Path })
	for _, ev := range events {
		select {
		case w.events <- ev:
		case <-w.closeCh:
			return false
		}
	}
	return true
}

func scanDir(dir string) (map[string]fileState, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}

	files := make(map[string]fileState, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			// Removed between listing and stat.
			continue
		}
		files[filepath.Join(dir, entry.Name())] = fileState{
			size:    info.Size(),
			modTime: info.ModTime(),
			mode:    info.Mode(),
		}
	}
	return files, nil
}
