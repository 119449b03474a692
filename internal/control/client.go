package control

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// Reply is a decoded response line.
type Reply struct {
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorObject    `json:"error,omitempty"`
}

// Err returns the reply's error object as an error, or nil.
func (r *Reply) Err() error {
	if r.Error == nil {
		return nil
	}
	return fmt.Errorf("%s (%d): %s", r.Error.Message, r.Error.Code, r.Error.Data)
}

// Client speaks the line protocol over a byte stream. Responses are matched
// to calls by id; notifications are delivered on Notifications.
type Client struct {
	conn    io.ReadWriteCloser
	wmu     sync.Mutex
	mu      sync.Mutex
	pending map[string]chan *Reply
	events  chan Notification
	done    chan struct{}
	closed  atomic.Bool
}

// NewClient starts reading replies from conn.
func NewClient(conn io.ReadWriteCloser) *Client {
	c := &Client{
		conn:    conn,
		pending: make(map[string]chan *Reply),
		events:  make(chan Notification, 100),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Close disconnects.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.conn.Close()
}

// Notifications returns server-initiated notifications. Notifications are
// dropped when the buffer is full.
func (c *Client) Notifications() <-chan Notification {
	return c.events
}

// Done is closed when the connection stops delivering replies.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Call sends method with positional params and waits for its reply.
func (c *Client) Call(ctx context.Context, method string, params ...any) (*Reply, error) {
	if params == nil {
		params = []any{}
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}

	id := uuid.NewString()
	idJSON, _ := json.Marshal(id)
	encoded, err := json.Marshal(Request{Method: method, Params: paramsJSON, ID: idJSON})
	if err != nil {
		return nil, err
	}

	replyChan := make(chan *Reply, 1)
	c.mu.Lock()
	c.pending[id] = replyChan
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	c.wmu.Lock()
	_, err = c.conn.Write(append(encoded, '\n'))
	c.wmu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case reply := <-replyChan:
		return reply, nil
	case <-c.done:
		return nil, fmt.Errorf("connection closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) readLoop() {
	defer close(c.done)

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if gjson.GetBytes(line, "method").Exists() {
			var n Notification
			if json.Unmarshal(line, &n) == nil {
				select {
				case c.events <- n:
				default:
				}
			}
			continue
		}

		var reply Reply
		if err := json.Unmarshal(line, &reply); err != nil {
			continue
		}
		var id string
		if json.Unmarshal(reply.ID, &id) != nil {
			continue
		}
		c.mu.Lock()
		if ch, ok := c.pending[id]; ok {
			ch <- &reply
		}
		c.mu.Unlock()
	}
}
