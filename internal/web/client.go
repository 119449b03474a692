package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Stream is a WebSocket connection seen as a line stream: each text frame
// read becomes one line, each line written is sent as one frame.
type Stream struct {
	conn   *websocket.Conn
	reader *io.PipeReader
	writer *frameWriter
}

// Dial connects to a pueue-webui WebSocket endpoint. A non-empty token is
// sent as a bearer token.
func Dial(ctx context.Context, url, token string) (*Stream, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (HTTP %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	pr, pw := io.Pipe()
	go readPump(conn, pw)
	return &Stream{conn: conn, reader: pr, writer: &frameWriter{conn: conn}}, nil
}

func (s *Stream) Read(p []byte) (int, error) {
	return s.reader.Read(p)
}

func (s *Stream) Write(p []byte) (int, error) {
	return s.writer.Write(p)
}

// Close sends a close frame and releases the connection.
func (s *Stream) Close() error {
	s.writer.close()
	err := s.conn.Close()
	s.reader.Close()
	return err
}
