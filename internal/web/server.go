// Package web serves protocol sessions over WebSocket and the UI's static
// files over plain HTTP on the same address.
package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/drewfead/pueue-webui/internal/config"
	"github.com/drewfead/pueue-webui/internal/logging"
)

// ShutdownTimeout bounds the HTTP server shutdown.
const ShutdownTimeout = 5 * time.Second

// SessionServer runs one protocol session over a line stream.
type SessionServer interface {
	Serve(ctx context.Context, r io.Reader, w io.Writer) error
}

// Server accepts WebSocket connections, one session each.
type Server struct {
	cfg      config.WebSocketConfig
	sessions SessionServer
	auth     *authenticator
	upgrader websocket.Upgrader
	log      *slog.Logger

	// baseCtx parents every session; cancelled on shutdown.
	baseCtx context.Context
	cancel  context.CancelFunc
	conns   sync.WaitGroup
}

// NewServer creates a server dispatching connections to sessions.
func NewServer(cfg config.WebSocketConfig, sessions SessionServer) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		auth:     newAuthenticator(cfg.JWTSecret),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The UI may be served from elsewhere; auth is by token.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log:     logging.With("component", "web"),
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

// Handler upgrades WebSocket requests and serves static files otherwise.
func (s *Server) Handler() http.Handler {
	var static http.Handler = http.NotFoundHandler()
	if s.cfg.StaticDir != "" {
		static = http.FileServer(http.Dir(s.cfg.StaticDir))
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !websocket.IsWebSocketUpgrade(r) {
			static.ServeHTTP(w, r)
			return
		}
		s.handleWebSocket(w, r)
	})
}

// ListenAndServe serves until ctx is cancelled, then closes every session.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.log.Info("websocket server listening", "addr", ln.Addr().String(), "static_dir", s.cfg.StaticDir, "auth", s.auth != nil)

	select {
	case err := <-errCh:
		s.cancel()
		s.conns.Wait()
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	// Hijacked connections are not tracked by Shutdown.
	s.cancel()
	s.conns.Wait()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.check(r); err != nil {
		s.log.Warn("rejected connection", "remote", r.RemoteAddr, "error", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	s.conns.Add(1)
	defer s.conns.Done()
	s.serveConn(conn, r.RemoteAddr)
}

// serveConn runs one session on conn and closes it when the session ends.
func (s *Server) serveConn(conn *websocket.Conn, remote string) {
	connID := uuid.NewString()
	log := s.log.With("conn", connID, "remote", remote)
	log.Info("connection opened")

	pr, pw := io.Pipe()
	writer := &frameWriter{conn: conn}
	done := make(chan struct{})

	go readPump(conn, pw)
	go pingLoop(writer, done)

	if err := s.sessions.Serve(s.baseCtx, pr, writer); err != nil {
		log.Warn("session ended with error", "error", err)
	}

	close(done)
	writer.close()
	conn.Close()
	// Unblocks readPump if it is mid-write.
	pr.Close()
	log.Info("connection closed")
}
