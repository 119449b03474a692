package pueue

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/tidwall/gjson"
)

// writeFakePueue writes an executable shell script standing in for pueue.
func writeFakePueue(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake pueue requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "pueue")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755); err != nil {
		t.Fatalf("failed to write fake pueue: %v", err)
	}
	return path
}

func TestInvokePlainText(t *testing.T) {
	c := NewController(writeFakePueue(t, `printf '%s|' "$@"; printf '\n'`))

	res, err := c.Invoke(context.Background(), Descriptor{
		Subcommands: []string{"status"},
		Options:     Options{{Key: "group", Value: "gpu"}},
		Args:        []any{"3"},
	})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if res.Value() != "status|--group|gpu|--|3|" {
		t.Errorf("expected one trailing newline trimmed, got %q", res.Value())
	}
	if res.Stdout != "status|--group|gpu|--|3|\n" {
		t.Errorf("expected raw stdout preserved, got %q", res.Stdout)
	}
}

func TestInvokeTrimsExactlyOneNewline(t *testing.T) {
	c := NewController(writeFakePueue(t, `printf 'a\n\n'`))

	res, err := c.Invoke(context.Background(), Descriptor{Subcommands: []string{"log"}})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if res.Text != "a\n" {
		t.Errorf("expected exactly one newline trimmed, got %q", res.Text)
	}

	res, err = c.Invoke(context.Background(), Descriptor{
		Subcommands: []string{"log"},
		Options:     Options{{Key: "__controller_remove_trailing_line_feed", Value: false}},
	})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if res.Text != "a\n\n" {
		t.Errorf("expected untrimmed output, got %q", res.Text)
	}
}

const statusJSON = `{"tasks":{"0":{"id":0,"envs":{"SECRET":"x"}},"1":{"id":1,"envs":{}}},"groups":{"default":{"status":"Running"}}}`

func TestInvokeJSON(t *testing.T) {
	c := NewController(writeFakePueue(t, `echo '`+statusJSON+`'`))

	t.Run("ParsedWithoutScrub", func(t *testing.T) {
		res, err := c.Invoke(context.Background(), Descriptor{
			Subcommands: []string{"status"},
			Options:     Options{{Key: "json", Value: true}},
		})
		if err != nil {
			t.Fatalf("Invoke failed: %v", err)
		}
		raw, ok := res.Value().(json.RawMessage)
		if !ok {
			t.Fatalf("expected parsed JSON, got %T", res.Value())
		}
		if !gjson.GetBytes(raw, "tasks.0.envs.SECRET").Exists() {
			t.Errorf("expected envs kept when scrubbing is off: %s", raw)
		}
	})

	t.Run("Scrubbed", func(t *testing.T) {
		res, err := c.Invoke(context.Background(), Descriptor{
			Subcommands: []string{"status"},
			Options: Options{
				{Key: "json", Value: true},
				{Key: "__controller_remove_envs", Value: true},
			},
		})
		if err != nil {
			t.Fatalf("Invoke failed: %v", err)
		}
		if gjson.GetBytes(res.Parsed, "tasks.0.envs").Exists() || gjson.GetBytes(res.Parsed, "tasks.1.envs").Exists() {
			t.Errorf("expected envs removed from every task: %s", res.Parsed)
		}
		if gjson.GetBytes(res.Parsed, "tasks.0.id").Int() != 0 || !gjson.GetBytes(res.Parsed, "groups.default").Exists() {
			t.Errorf("expected other fields intact: %s", res.Parsed)
		}
	})

	t.Run("ScrubDisabledByController", func(t *testing.T) {
		bare := NewController(c.Binary)
		bare.ScrubField = ""
		res, err := bare.Invoke(context.Background(), Descriptor{
			Subcommands: []string{"status"},
			Options:     Options{{Key: "__controller_as_json", Value: true}, {Key: "__controller_scrub", Value: true}},
		})
		if err != nil {
			t.Fatalf("Invoke failed: %v", err)
		}
		if !gjson.GetBytes(res.Parsed, "tasks.0.envs").Exists() {
			t.Errorf("expected no scrubbing without a configured field: %s", res.Parsed)
		}
	})
}

func TestInvokeInvalidJSON(t *testing.T) {
	c := NewController(writeFakePueue(t, `echo 'not json'`))

	_, err := c.Invoke(context.Background(), Descriptor{
		Subcommands: []string{"status"},
		Options:     Options{{Key: "json", Value: true}},
	})
	if err == nil || !strings.Contains(err.Error(), "invalid JSON") {
		t.Errorf("expected invalid JSON error, got %v", err)
	}
}

func TestInvokeCommandError(t *testing.T) {
	c := NewController(writeFakePueue(t, `echo 'partial'; echo 'no such task' >&2; exit 2`))

	res, err := c.Invoke(context.Background(), Descriptor{Subcommands: []string{"kill"}, Args: []any{"99"}})

	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected CommandError, got %v", err)
	}
	if cmdErr.ExitCode != 2 {
		t.Errorf("expected exit code 2, got %d", cmdErr.ExitCode)
	}
	if cmdErr.Output != "partial\nno such task\n" {
		t.Errorf("expected combined output verbatim, got %q", cmdErr.Output)
	}
	if res == nil || res.ExitCode != 2 {
		t.Errorf("expected partial result with exit code, got %+v", res)
	}
}

func TestInvokeTimeout(t *testing.T) {
	c := NewController(writeFakePueue(t, `exec sleep 5`))

	_, err := c.Invoke(context.Background(), Descriptor{
		Subcommands: []string{"wait"},
		Options:     Options{{Key: "__controller_timeout", Value: json.Number("0.05")}},
	})

	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if !strings.Contains(timeoutErr.Command, "wait") {
		t.Errorf("expected command in error, got %q", timeoutErr.Command)
	}
}

func TestInvokeEnvOverride(t *testing.T) {
	c := NewController(writeFakePueue(t, `printf %s "$EDITOR"`))

	res, err := c.Invoke(context.Background(), Descriptor{
		Subcommands: []string{"edit"},
		Options:     Options{{Key: "__controller_env_override", Value: map[string]string{"EDITOR": "helper value"}}},
	})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if res.Text != "helper value" {
		t.Errorf("expected EDITOR override visible to the child, got %q", res.Text)
	}
}

func TestInvokeMissingBinary(t *testing.T) {
	c := NewController(filepath.Join(t.TempDir(), "pueue"))
	if _, err := c.Invoke(context.Background(), Descriptor{Subcommands: []string{"status"}}); err == nil {
		t.Error("expected error for missing binary")
	}
}
