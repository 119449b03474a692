package control

import (
	"context"
	"errors"
	"testing"
)

func nopHandler(ctx context.Context, call *Call) (any, error) {
	return nil, nil
}

func TestRegister(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		kind    MethodKind
		wantErr bool
	}{
		{"SyncPlain", "pueue", MethodSync, false},
		{"AsyncSuffixed", "run_local_command_async", MethodAsync, false},
		{"AsyncWithoutSuffix", "run_local_command", MethodAsync, true},
		{"SyncWithSuffix", "pueue_async", MethodSync, true},
		{"Empty", "", MethodSync, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewRegistry().Register(tt.method, tt.kind, nopHandler)
			if (err != nil) != tt.wantErr {
				t.Errorf("Register(%q, %s) error = %v, wantErr %v", tt.method, tt.kind, err, tt.wantErr)
			}
		})
	}
}

func TestRegisterDuplicate(t *testing.T) {
	reg := NewRegistry()
	reg.Handle("pueue", nopHandler)
	if err := reg.Register("pueue", MethodSync, nopHandler); err == nil {
		t.Error("expected duplicate registration to fail")
	}
	if err := reg.Register("nil_handler", MethodSync, nil); err == nil {
		t.Error("expected nil handler to fail")
	}
}

func TestLookup(t *testing.T) {
	reg := NewRegistry()
	reg.Handle("pueue", nopHandler)
	reg.HandleAsync("run_local_command_async", nopHandler)

	m, err := reg.Lookup("run_local_command_async")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if m.Kind != MethodAsync {
		t.Errorf("expected async kind, got %s", m.Kind)
	}

	_, err = reg.Lookup("missing")
	if !errors.Is(err, ErrMethodNotFound) {
		t.Errorf("expected ErrMethodNotFound, got %v", err)
	}
	var e *Error
	if !errors.As(err, &e) || e.Kind != KindMethodNotFound {
		t.Errorf("expected MethodNotFound kind, got %v", err)
	}

	names := reg.Names()
	if len(names) != 2 || names[0] != "pueue" {
		t.Errorf("unexpected names %v", names)
	}
}

func TestParams(t *testing.T) {
	p, err := decodeParams([]byte(`["status", null, {"json": true}]`))
	if err != nil {
		t.Fatalf("decodeParams failed: %v", err)
	}
	if p.Len() != 3 || !p.Has(0) || p.Has(1) || p.Has(5) {
		t.Errorf("unexpected presence: len=%d", p.Len())
	}

	var s string
	if err := p.Decode(0, &s); err != nil || s != "status" {
		t.Errorf("Decode(0) = %q, %v", s, err)
	}
	var n int
	if ok, err := p.DecodeOptional(1, &n); ok || err != nil {
		t.Errorf("expected null parameter skipped, got %v %v", ok, err)
	}
	if err := p.Decode(7, &n); err == nil {
		t.Error("expected missing parameter error")
	}

	if p, err := decodeParams(nil); err != nil || p.Len() != 0 {
		t.Errorf("expected absent params to be empty, got %v %v", p, err)
	}
	if _, err := decodeParams([]byte(`{"a":1}`)); err == nil {
		t.Error("expected object params to be rejected")
	}
}
