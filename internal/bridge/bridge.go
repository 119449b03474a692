// Package bridge wires the pueue invoker, log tracker, watch layer and
// metadata store into protocol sessions.
package bridge

import (
	"context"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/drewfead/pueue-webui/internal/config"
	"github.com/drewfead/pueue-webui/internal/control"
	"github.com/drewfead/pueue-webui/internal/logging"
	"github.com/drewfead/pueue-webui/internal/logtail"
	"github.com/drewfead/pueue-webui/internal/meta"
	"github.com/drewfead/pueue-webui/internal/pueue"
	"github.com/drewfead/pueue-webui/internal/watch"
)

// Notification methods.
const (
	NotifyStatusUpdated = "onStatusUpdated"
	NotifyLogUpdated    = "onLogUpdated"
)

// Bridge holds what sessions share. Each session gets its own subscription
// table and watch layer.
type Bridge struct {
	cfg        *config.Config
	controller *pueue.Controller
	meta       *meta.Store
	editHelper []string
}

// New creates a bridge. editHelper is the command pueue should run as its
// editor for pueue_edit; it receives the value file and then the file to
// edit. An empty editHelper disables pueue_edit.
func New(cfg *config.Config, editHelper []string) *Bridge {
	controller := pueue.NewController(cfg.Pueue.Binary)
	controller.Timeout = cfg.Pueue.Timeout
	controller.ScrubField = cfg.Pueue.ScrubField

	return &Bridge{
		cfg:        cfg,
		controller: controller,
		meta:       meta.NewStore(cfg.Bridge.MetaFile),
		editHelper: editHelper,
	}
}

// session is one client connection.
type session struct {
	id      string
	bridge  *Bridge
	server  *control.Server
	tracker *logtail.Tracker
	layer   *watch.Layer
	log     *slog.Logger
}

func (b *Bridge) newSession(w io.Writer) *session {
	s := &session{
		id:     uuid.NewString(),
		bridge: b,
	}
	s.log = logging.With("session", s.id)

	reg := control.NewRegistry()
	s.registerHandlers(reg)
	s.server = control.NewServer(reg, control.NewOutput(w))

	s.tracker = logtail.NewTracker(b.cfg.Pueue.LogDir, s.onLogUpdated)
	s.layer = watch.NewLayer(watch.Config{
		StateDir:       b.cfg.Pueue.DataDir,
		LogDir:         b.cfg.Pueue.LogDir,
		Mode:           b.cfg.Watch.Mode,
		PollInterval:   b.cfg.Watch.PollInterval,
		StatusDebounce: b.cfg.Bridge.StatusDebounce,
	}, s.onStatusUpdated, s.tracker.OnFileChanged)
	return s
}

// Serve runs one session reading requests from r and writing to w until r
// is exhausted or ctx is cancelled. In-flight async calls are given the
// configured drain timeout to answer before the watch layer stops.
func (b *Bridge) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	s := b.newSession(w)
	s.log.Info("session started", "data_dir", b.cfg.Pueue.DataDir, "log_dir", b.cfg.Pueue.LogDir)

	if err := s.layer.Start(); err != nil {
		s.log.Warn("filesystem watching degraded", "error", err)
	}
	defer s.layer.Stop()

	err := s.server.Serve(ctx, r)

	if !s.server.Wait(b.cfg.Bridge.DrainTimeout) {
		s.log.Warn("drain timeout exceeded, some async calls were not answered")
	}
	s.log.Info("session ended")
	return err
}

func (s *session) registerHandlers(reg *control.Registry) {
	reg.Handle("pueue", s.handlePueue)
	reg.HandleAsync("run_local_command_async", s.handleRunLocalCommand)
	reg.Handle("pueue_log_subscription", s.handleLogSubscription)
	reg.Handle("pueue_webui_meta", s.handleMeta)
	reg.Handle("pueue_edit", s.handleEdit)
}

func (s *session) onStatusUpdated() {
	if err := s.server.Notify(NotifyStatusUpdated); err != nil {
		s.log.Warn("failed to send status notification", "error", err)
	}
}

func (s *session) onLogUpdated(u logtail.Update) {
	if err := s.server.Notify(NotifyLogUpdated, u.Params()...); err != nil {
		s.log.Warn("failed to send log notification", "task", u.TaskID, "error", err)
	}
}
