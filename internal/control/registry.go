package control

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// AsyncSuffix is the name suffix reserved for fire-and-forget methods.
const AsyncSuffix = "_async"

// MethodKind decides how the engine runs a handler.
type MethodKind int

const (
	// MethodSync handlers run on the read loop; the next request is not
	// dispatched until they return.
	MethodSync MethodKind = iota
	// MethodAsync handlers run on their own goroutine and the engine
	// writes their response whenever they finish.
	MethodAsync
)

func (k MethodKind) String() string {
	if k == MethodAsync {
		return "async"
	}
	return "sync"
}

// Call is one dispatched request.
type Call struct {
	Method string
	ID     json.RawMessage
	Params Params
}

// HandlerFunc is the signature for method handlers.
type HandlerFunc func(ctx context.Context, call *Call) (any, error)

// Method is a registered handler.
type Method struct {
	Name    string
	Kind    MethodKind
	Handler HandlerFunc
}

// Registry maps method names to handlers. Build one at startup and pass it
// to NewServer.
type Registry struct {
	mu      sync.RWMutex
	methods map[string]Method
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{methods: make(map[string]Method)}
}

// Register adds a handler. Async methods must carry AsyncSuffix and sync
// methods must not, so a name alone tells a client how it will be answered.
func (r *Registry) Register(name string, kind MethodKind, handler HandlerFunc) error {
	if name == "" {
		return fmt.Errorf("register: empty method name")
	}
	if handler == nil {
		return fmt.Errorf("register %s: nil handler", name)
	}
	if hasSuffix := strings.HasSuffix(name, AsyncSuffix); hasSuffix != (kind == MethodAsync) {
		return fmt.Errorf("register %s: %s method name must %s with %q", name, kind, suffixVerb(kind), AsyncSuffix)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.methods[name]; exists {
		return fmt.Errorf("register %s: already registered", name)
	}
	r.methods[name] = Method{Name: name, Kind: kind, Handler: handler}
	return nil
}

func suffixVerb(kind MethodKind) string {
	if kind == MethodAsync {
		return "end"
	}
	return "not end"
}

// Handle registers a sync handler. It panics on an invalid registration.
func (r *Registry) Handle(name string, handler HandlerFunc) {
	if err := r.Register(name, MethodSync, handler); err != nil {
		panic(err)
	}
}

// HandleAsync registers an async handler. It panics on an invalid registration.
func (r *Registry) HandleAsync(name string, handler HandlerFunc) {
	if err := r.Register(name, MethodAsync, handler); err != nil {
		panic(err)
	}
}

// Lookup returns the method registered under name.
func (r *Registry) Lookup(name string) (Method, error) {
	r.mu.RLock()
	m, ok := r.methods[name]
	r.mu.RUnlock()
	if !ok {
		return Method{}, NewError(KindMethodNotFound, fmt.Errorf("%w: %s", ErrMethodNotFound, name))
	}
	return m, nil
}

// Names returns the registered method names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.methods))
	for name := range r.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
