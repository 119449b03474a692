// Package meta persists the small JSON object the web UI keeps next to the
// pueue state.
package meta

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// StoredMessage is returned by a successful Set.
const StoredMessage = "Meta stored"

// ErrNotObject is returned when the value to store is not a JSON object.
var ErrNotObject = errors.New("meta must be a JSON object")

// Store reads and writes the metadata file.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore creates a store backed by path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file.
func (s *Store) Path() string {
	return s.path
}

// Get returns the stored object with the process's current directory
// injected as "cwd" and "groups" defaulted to an empty object. A missing
// file is created empty first.
func (s *Store) Get() (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		data = []byte("{}")
		if err := s.write(data); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, fmt.Errorf("read meta: %w", err)
	}

	if !gjson.ValidBytes(data) || !gjson.ParseBytes(data).IsObject() {
		return nil, fmt.Errorf("read meta %s: stored value is not a JSON object", s.path)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}
	data, err = sjson.SetBytes(data, "cwd", cwd)
	if err != nil {
		return nil, fmt.Errorf("inject cwd: %w", err)
	}
	if !gjson.GetBytes(data, "groups").Exists() {
		data, err = sjson.SetRawBytes(data, "groups", []byte("{}"))
		if err != nil {
			return nil, fmt.Errorf("default groups: %w", err)
		}
	}
	return json.RawMessage(data), nil
}

// Set replaces the stored object.
func (s *Store) Set(data json.RawMessage) (string, error) {
	if !gjson.ValidBytes(data) || !gjson.ParseBytes(data).IsObject() {
		return "", ErrNotObject
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, data); err != nil {
		return "", fmt.Errorf("compact meta: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write(compact.Bytes()); err != nil {
		return "", err
	}
	return StoredMessage, nil
}

// write replaces the file atomically.
func (s *Store) write(data []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create meta dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".pueue_webui-*.json")
	if err != nil {
		return fmt.Errorf("create temp meta: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write meta: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write meta: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace meta: %w", err)
	}
	return nil
}
