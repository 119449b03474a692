package web

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/drewfead/pueue-webui/internal/config"
)

// echoSessions writes every received line back, upper-cased.
type echoSessions struct{}

func (echoSessions) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if _, err := io.WriteString(w, strings.ToUpper(scanner.Text())+"\n"); err != nil {
			return err
		}
	}
	return nil
}

func startServer(t *testing.T, cfg config.WebSocketConfig) *httptest.Server {
	t.Helper()
	srv := NewServer(cfg, echoSessions{})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func TestServer_RoundTrip(t *testing.T) {
	ts := startServer(t, config.WebSocketConfig{})

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	for _, msg := range []string{"hello", "world"} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			t.Fatalf("WriteMessage: %v", err)
		}
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, got, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage: %v", err)
		}
		if want := strings.ToUpper(msg); string(got) != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}
}

func TestServer_Auth(t *testing.T) {
	const secret = "s3cret"
	ts := startServer(t, config.WebSocketConfig{JWTSecret: secret})

	t.Run("missing token", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
		if err == nil {
			t.Fatal("expected dial to fail")
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %v", resp)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		token, err := SignToken("other", "ui")
		if err != nil {
			t.Fatalf("SignToken: %v", err)
		}
		header := http.Header{"Authorization": {"Bearer " + token}}
		_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), header)
		if err == nil {
			t.Fatal("expected dial to fail")
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %v", resp)
		}
	})

	t.Run("bearer header", func(t *testing.T) {
		token, err := SignToken(secret, "ui")
		if err != nil {
			t.Fatalf("SignToken: %v", err)
		}
		header := http.Header{"Authorization": {"Bearer " + token}}
		conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), header)
		if err != nil {
			t.Fatalf("Dial: %v", err)
		}
		conn.Close()
	})

	t.Run("query parameter", func(t *testing.T) {
		token, err := SignToken(secret, "ui")
		if err != nil {
			t.Fatalf("SignToken: %v", err)
		}
		conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts)+"/?token="+token, nil)
		if err != nil {
			t.Fatalf("Dial: %v", err)
		}
		conn.Close()
	})
}

func TestServer_Static(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>ui</html>"), 0644); err != nil {
		t.Fatal(err)
	}

	t.Run("serves files", func(t *testing.T) {
		ts := startServer(t, config.WebSocketConfig{StaticDir: dir})
		resp, err := http.Get(ts.URL + "/index.html")
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK || string(body) != "<html>ui</html>" {
			t.Errorf("got %d %q", resp.StatusCode, body)
		}
	})

	t.Run("no static dir", func(t *testing.T) {
		ts := startServer(t, config.WebSocketConfig{})
		resp, err := http.Get(ts.URL + "/index.html")
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("expected 404, got %d", resp.StatusCode)
		}
	})
}

func TestServer_ServeShutdown(t *testing.T) {
	srv := NewServer(config.WebSocketConfig{Host: "127.0.0.1", Port: 0}, echoSessions{})
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(ctx) }()

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("ListenAndServe: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}
