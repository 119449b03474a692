package watch

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/drewfead/pueue-webui/internal/logging"
)

// DefaultStatusDebounce is the status notification window.
const DefaultStatusDebounce = 100 * time.Millisecond

// Config configures a Layer.
type Config struct {
	StateDir       string
	LogDir         string
	Mode           string
	PollInterval   time.Duration
	StatusDebounce time.Duration
}

// Layer watches the pueue state directory and the task-log directory.
// State changes are rate-limited into OnStatus calls; every log-directory
// event is forwarded to OnLog with the changed path.
type Layer struct {
	cfg      Config
	onStatus func()
	onLog    func(path string)
	log      *slog.Logger

	debouncer *Debouncer
	watchers  []Watcher
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

// NewLayer creates a layer. Callbacks run on the layer's goroutines.
func NewLayer(cfg Config, onStatus func(), onLog func(path string)) *Layer {
	if cfg.StatusDebounce <= 0 {
		cfg.StatusDebounce = DefaultStatusDebounce
	}
	l := &Layer{
		cfg:      cfg,
		onStatus: onStatus,
		onLog:    onLog,
		log:      logging.With("component", "watch"),
	}
	l.debouncer = NewDebouncer(cfg.StatusDebounce, func() {
		l.safeCall("status", "", l.onStatus)
	})
	return l
}

// Start begins watching both directories. A directory that cannot be
// watched is reported in the returned error while the other keeps running.
func (l *Layer) Start() error {
	var errs []error
	if err := l.watch("status", l.cfg.StateDir, func(ev Event) {
		l.debouncer.Trigger()
	}); err != nil {
		errs = append(errs, err)
	}
	if err := l.watch("log", l.cfg.LogDir, func(ev Event) {
		l.safeCall("log", ev.Path, func() { l.onLog(ev.Path) })
	}); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (l *Layer) watch(role, dir string, handle func(Event)) error {
	w, err := Open(l.cfg.Mode, dir, l.cfg.PollInterval)
	if err != nil {
		return fmt.Errorf("watch %s dir: %w", role, err)
	}
	l.watchers = append(l.watchers, w)
	l.log.Debug("watching", "role", role, "dir", dir, "strategy", fmt.Sprintf("%T", w))

	l.wg.Add(2)
	go func() {
		defer l.wg.Done()
		for ev := range w.Events() {
			l.log.Debug("fs event", "role", role, "path", ev.Path, "op", ev.Op)
			handle(ev)
		}
	}()
	go func() {
		defer l.wg.Done()
		for err := range w.Errors() {
			l.log.Warn("watch error", "role", role, "error", err)
		}
	}()
	return nil
}

// safeCall runs fn, logging instead of propagating a panic.
func (l *Layer) safeCall(role, path string, fn func()) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logging.CapturePanic(r, "role", role, "path", path)
		}
	}()
	fn()
}

// Stop closes the watchers and waits for their goroutines.
func (l *Layer) Stop() {
	l.stopOnce.Do(func() {
		l.debouncer.Stop()
		for _, w := range l.watchers {
			if err := w.Close(); err != nil {
				l.log.Warn("failed to close watcher", "error", err)
			}
		}
		l.wg.Wait()
	})
}
