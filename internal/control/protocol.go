// Package control implements the bridge's line-delimited JSON-RPC protocol:
// wire types, the method registry, the shared output gate and the
// read/dispatch engine.
package control

import (
	"encoding/json"
	"fmt"
)

// Version is the protocol version stamped on every outgoing message.
const Version = "2.0"

// Request is one incoming line.
type Request struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
	ID     json.RawMessage `json:"id,omitempty"`
}

// Response carries a successful result. A nil ID encodes as null.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  any             `json:"result"`
	ID      json.RawMessage `json:"id"`
}

// ErrorResponse carries a failure.
type ErrorResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Error   *ErrorObject    `json:"error"`
	ID      json.RawMessage `json:"id"`
}

// ErrorObject is the wire form of an error.
type ErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data"`
}

// Notification is a server-initiated message without an id.
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// Params is the positional parameter list of a request.
type Params []json.RawMessage

func decodeParams(raw json.RawMessage) (Params, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return Params{}, nil
	}
	var p Params
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, Errorf(KindInvalidRequest, "params must be an array: %v", err)
	}
	return p, nil
}

// Len returns the number of parameters sent.
func (p Params) Len() int {
	return len(p)
}

// Has reports whether parameter i was sent and is not null.
func (p Params) Has(i int) bool {
	return i < len(p) && string(p[i]) != "null"
}

// Decode unmarshals required parameter i into v.
func (p Params) Decode(i int, v any) error {
	if i >= len(p) {
		return Errorf(KindInvalidParams, "missing parameter %d", i)
	}
	if err := json.Unmarshal(p[i], v); err != nil {
		return Errorf(KindInvalidParams, "parameter %d: %v", i, err)
	}
	return nil
}

// DecodeOptional unmarshals parameter i into v when present and not null.
// It reports whether a value was decoded.
func (p Params) DecodeOptional(i int, v any) (bool, error) {
	if !p.Has(i) {
		return false, nil
	}
	return true, p.Decode(i, v)
}

// Raw returns parameter i, or nil when absent.
func (p Params) Raw(i int) json.RawMessage {
	if i >= len(p) {
		return nil
	}
	return p[i]
}

func (r *Request) String() string {
	if len(r.ID) == 0 {
		return r.Method
	}
	return fmt.Sprintf("%s#%s", r.Method, r.ID)
}
