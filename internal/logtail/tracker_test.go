package logtail

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

type recorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *recorder) notify(u Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *recorder) take() []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.updates
	r.updates = nil
	return out
}

func setupTracker(t *testing.T) (*Tracker, *recorder) {
	t.Helper()
	rec := &recorder{}
	return NewTracker(t.TempDir(), rec.notify), rec
}

func writeLog(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write log: %v", err)
	}
}

func appendLog(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("failed to open log: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("failed to append log: %v", err)
	}
}

func TestSubscribeSnapshot(t *testing.T) {
	tr, _ := setupTracker(t)
	writeLog(t, tr.Path("42"), "a\nb\nc\n")

	snap, err := tr.Subscribe("42", Options{MaxLines: 2, MaxBytes: 100})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(data) != `["42",0,6,"b\nc\n"]` {
		t.Errorf("unexpected snapshot %s", data)
	}
	if !tr.Subscribed("42") {
		t.Error("expected task to be subscribed")
	}
}

func TestSubscribeByteWindow(t *testing.T) {
	tr, _ := setupTracker(t)
	writeLog(t, tr.Path("1"), "0123456789")

	snap, err := tr.Subscribe("1", Options{MaxBytes: 4})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if snap.Start != 6 || snap.End != 10 || snap.Content != "6789" {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}

func TestSubscribeMissingFile(t *testing.T) {
	tr, _ := setupTracker(t)

	snap, err := tr.Subscribe("7", DefaultOptions())
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	data, _ := json.Marshal(snap)
	if string(data) != `["7",0,0,""]` {
		t.Errorf("unexpected snapshot %s", data)
	}
}

func TestSubscribeInvalidTaskID(t *testing.T) {
	tr, _ := setupTracker(t)
	for _, id := range []string{"", "..", "../etc/passwd", `a\b`} {
		if _, err := tr.Subscribe(id, DefaultOptions()); !errors.Is(err, ErrInvalidTaskID) {
			t.Errorf("Subscribe(%q): expected ErrInvalidTaskID, got %v", id, err)
		}
	}
}

func TestSubscribeInvalidUTF8(t *testing.T) {
	tr, _ := setupTracker(t)
	writeLog(t, tr.Path("3"), "ok\xff\xfe\n")

	snap, err := tr.Subscribe("3", DefaultOptions())
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if snap.Content != "ok\uFFFD\n" {
		t.Errorf("expected lossy decode, got %q", snap.Content)
	}
}

func TestOnFileChangedDelta(t *testing.T) {
	tr, rec := setupTracker(t)
	path := tr.Path("5")
	writeLog(t, path, "hello\n")

	if _, err := tr.Subscribe("5", DefaultOptions()); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	appendLog(t, path, "world\n")
	tr.OnFileChanged(path)

	updates := rec.take()
	if len(updates) != 1 {
		t.Fatalf("expected 1 update, got %d", len(updates))
	}
	want := Update{TaskID: "5", From: 6, To: 12, Content: "world\n"}
	if updates[0] != want {
		t.Errorf("expected %+v, got %+v", want, updates[0])
	}

	// Unchanged size is not an update.
	tr.OnFileChanged(path)
	if updates := rec.take(); len(updates) != 0 {
		t.Errorf("expected no update for unchanged file, got %+v", updates)
	}
}

func TestOnFileChangedTruncation(t *testing.T) {
	tr, rec := setupTracker(t)
	path := tr.Path("9")
	writeLog(t, path, "a long first run\n")

	if _, err := tr.Subscribe("9", DefaultOptions()); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	writeLog(t, path, "new\n")
	appendLog(t, path, "more\n")
	tr.OnFileChanged(path)

	updates := rec.take()
	if len(updates) != 1 {
		t.Fatalf("expected 1 update, got %d", len(updates))
	}
	if updates[0].From != 0 || updates[0].To != 9 || updates[0].Content != "new\nmore\n" {
		t.Errorf("expected delta from 0 after truncation, got %+v", updates[0])
	}
}

func TestUnsubscribe(t *testing.T) {
	tr, rec := setupTracker(t)
	path := tr.Path("11")
	writeLog(t, path, "x\n")

	if _, err := tr.Subscribe("11", DefaultOptions()); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := tr.Unsubscribe("11"); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}

	appendLog(t, path, "y\n")
	tr.OnFileChanged(path)
	if updates := rec.take(); len(updates) != 0 {
		t.Errorf("expected no update after unsubscribe, got %+v", updates)
	}

	if err := tr.Unsubscribe("11"); !errors.Is(err, ErrNotSubscribed) {
		t.Errorf("expected ErrNotSubscribed on double unsubscribe, got %v", err)
	}
}

func TestOnFileChangedIgnoresUnknownAndMissing(t *testing.T) {
	tr, rec := setupTracker(t)
	other := tr.Path("other")
	writeLog(t, other, "data")
	tr.OnFileChanged(other)

	if _, err := tr.Subscribe("gone", DefaultOptions()); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	tr.OnFileChanged(filepath.Join(filepath.Dir(other), "gone.log"))

	if updates := rec.take(); len(updates) != 0 {
		t.Errorf("expected no updates, got %+v", updates)
	}
}

func TestOnFileChangedIgnoresOtherExtensions(t *testing.T) {
	tr, rec := setupTracker(t)
	logPath := tr.Path("42")
	writeLog(t, logPath, "abc\n")
	if _, err := tr.Subscribe("42", DefaultOptions()); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	for _, name := range []string{"42.swp", "42", "42.log.tmp"} {
		other := filepath.Join(filepath.Dir(logPath), name)
		writeLog(t, other, "456789EDITOR-SWAP\n")
		tr.OnFileChanged(other)
	}
	if updates := rec.take(); len(updates) != 0 {
		t.Fatalf("expected no updates for non-log files, got %+v", updates)
	}

	appendLog(t, logPath, "def\n")
	tr.OnFileChanged(logPath)

	updates := rec.take()
	if len(updates) != 1 {
		t.Fatalf("expected 1 update, got %+v", updates)
	}
	want := Update{TaskID: "42", From: 4, To: 8, Content: "def\n"}
	if updates[0] != want {
		t.Errorf("got %+v, want %+v", updates[0], want)
	}
}

func TestLastLines(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"a\nb\nc\n", 2, "b\nc\n"},
		{"a\nb\nc", 2, "b\nc"},
		{"a\nb\nc\n", 5, "a\nb\nc\n"},
		{"a\nb\nc\n", 1, "c\n"},
		{"a\nb\n", 0, "a\nb\n"},
		{"", 3, ""},
		{"\n\n\n", 2, "\n\n"},
	}
	for _, tt := range tests {
		if got := lastLines(tt.in, tt.n); got != tt.want {
			t.Errorf("lastLines(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
