package control

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Output serializes every outgoing message onto one writer. Each Send
// writes exactly one line while holding the lock, so concurrent senders
// never interleave bytes.
type Output struct {
	mu sync.Mutex
	w  io.Writer
}

// NewOutput wraps w.
func NewOutput(w io.Writer) *Output {
	return &Output{w: w}
}

// Send marshals msg and writes it followed by a newline.
func (o *Output) Send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	data = append(data, '\n')

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, err := o.w.Write(data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}
