package control

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/drewfead/pueue-webui/internal/logging"
)

// maxLineSize bounds a single request line.
var maxLineSize = 16 << 20

// Server reads requests from a line stream, dispatches them through a
// Registry and writes responses and notifications to an Output.
type Server struct {
	registry *Registry
	out      *Output
	log      *slog.Logger

	inflight sync.WaitGroup
}

// NewServer creates a server answering on out.
func NewServer(registry *Registry, out *Output) *Server {
	return &Server{
		registry: registry,
		out:      out,
		log:      logging.With("component", "control"),
	}
}

// Serve processes lines from r until EOF or ctx is cancelled. Sync methods
// complete before the next line is dispatched; async methods are answered
// from their own goroutine. Serve returns nil on EOF and on cancellation.
// Call Wait afterwards to drain in-flight async calls.
func (s *Server) Serve(ctx context.Context, r io.Reader) error {
	lines := make(chan inbound)
	readErr := make(chan error, 1)

	go func() {
		reader := bufio.NewReaderSize(r, 64*1024)
		for {
			line, err := readLine(reader)
			msg := inbound{line: line, tooLong: errors.Is(err, errLineTooLong)}
			if msg.tooLong || len(bytes.TrimSpace(line)) > 0 {
				select {
				case lines <- msg:
				case <-ctx.Done():
					return
				}
			}
			if msg.tooLong {
				continue
			}
			if err != nil {
				if errors.Is(err, io.EOF) {
					err = nil
				}
				readErr <- err
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("read requests: %w", err)
			}
			return nil
		case msg := <-lines:
			if msg.tooLong {
				s.replyError(nil, Errorf(KindInvalidRequest, "request line exceeds %d bytes", maxLineSize))
				continue
			}
			s.dispatch(ctx, msg.line)
		}
	}
}

type inbound struct {
	line    []byte
	tooLong bool
}

var errLineTooLong = errors.New("request line too long")

// readLine returns the next line. A line longer than maxLineSize is
// consumed up to its newline and reported as errLineTooLong; an EOF that
// ends an oversized line is left for the next call.
func readLine(reader *bufio.Reader) ([]byte, error) {
	var line []byte
	for {
		chunk, err := reader.ReadSlice('\n')
		if len(line)+len(chunk) > maxLineSize {
			return nil, discardLine(reader, err)
		}
		line = append(line, chunk...)
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return line, err
	}
}

func discardLine(reader *bufio.Reader, err error) error {
	for errors.Is(err, bufio.ErrBufferFull) {
		_, err = reader.ReadSlice('\n')
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return errLineTooLong
}

// Wait blocks until every in-flight async call has been answered or timeout
// elapses. It reports whether the drain completed.
func (s *Server) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Notify emits a server-initiated notification.
func (s *Server) Notify(method string, params ...any) error {
	if params == nil {
		params = []any{}
	}
	return s.out.Send(Notification{JSONRPC: Version, Method: method, Params: params})
}

func (s *Server) dispatch(ctx context.Context, line []byte) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		s.replyError(requestID(line), Errorf(KindInvalidRequest, "decode request: %v", err))
		return
	}
	if req.Method == "" {
		s.replyError(req.ID, Errorf(KindInvalidRequest, "missing method"))
		return
	}
	if len(req.ID) == 0 {
		s.replyError(nil, Errorf(KindInvalidRequest, "request %s has no id", req.Method))
		return
	}

	params, err := decodeParams(req.Params)
	if err != nil {
		s.replyError(req.ID, err)
		return
	}
	method, err := s.registry.Lookup(req.Method)
	if err != nil {
		s.replyError(req.ID, err)
		return
	}

	call := &Call{Method: req.Method, ID: req.ID, Params: params}
	s.log.Debug("dispatch", "request", req.String(), "kind", method.Kind)

	if method.Kind == MethodAsync {
		s.inflight.Add(1)
		go func() {
			defer s.inflight.Done()
			result, err := s.invoke(ctx, method, call)
			s.reply(call, result, err)
		}()
		return
	}

	result, err := s.invoke(ctx, method, call)
	s.reply(call, result, err)
}

// invoke runs the handler, converting a panic into an InternalError that
// carries the stack trace.
func (s *Server) invoke(ctx context.Context, method Method, call *Call) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := logging.CapturePanic(r, "method", call.Method)
			err = &Error{
				Kind: KindInternal,
				Data: fmt.Sprintf("panic: %v\n%s", r, stack),
				Err:  fmt.Errorf("panic: %v", r),
			}
		}
	}()
	return method.Handler(ctx, call)
}

func (s *Server) reply(call *Call, result any, err error) {
	if err != nil {
		s.log.Warn("request failed", "method", call.Method, "id", string(call.ID), "error", err)
		s.replyError(call.ID, err)
		return
	}
	sendErr := s.out.Send(Response{JSONRPC: Version, Result: result, ID: call.ID})
	if sendErr == nil {
		return
	}
	// An unencodable result still owes the client exactly one answer.
	s.log.Error("failed to send response", "method", call.Method, "error", sendErr)
	s.replyError(call.ID, NewError(KindInternal, sendErr))
}

func (s *Server) replyError(id json.RawMessage, err error) {
	if sendErr := s.out.Send(ErrorResponse{JSONRPC: Version, Error: toErrorObject(err), ID: id}); sendErr != nil {
		s.log.Error("failed to send error response", "error", sendErr)
	}
}

// requestID recovers the id of a line that failed to decode as a request,
// or nil when it cannot be determined.
func requestID(line []byte) json.RawMessage {
	if !gjson.ValidBytes(line) {
		return nil
	}
	id := gjson.GetBytes(line, "id")
	if !id.Exists() {
		return nil
	}
	switch id.Type {
	case gjson.String, gjson.Number:
		return json.RawMessage(id.Raw)
	}
	return nil
}
