// Package pueue invokes the pueue queue-manager CLI from structured command descriptors.
package pueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/drewfead/pueue-webui/internal/executil"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Descriptor describes one CLI invocation.
type Descriptor struct {
	Subcommands []string
	Options     Options
	Args        []any
}

// Result is the outcome of a successful invocation.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	// Parsed holds the JSON payload when JSON output was requested.
	Parsed json.RawMessage
	// Text is stdout with one trailing newline trimmed (unless disabled).
	Text string
}

// Value returns the payload a caller should see: parsed JSON when present,
// otherwise the text output.
func (r *Result) Value() any {
	if r.Parsed != nil {
		return r.Parsed
	}
	return r.Text
}

// Controller runs the pueue executable.
type Controller struct {
	// Binary is the executable name or path.
	Binary string
	// Timeout applies when an invocation sets none. Zero waits forever.
	Timeout time.Duration
	// ScrubField is removed from each entry of a JSON "tasks" mapping when
	// an invocation asks for scrubbing.
	ScrubField string
}

// NewController creates a controller for binary.
func NewController(binary string) *Controller {
	return &Controller{Binary: binary, ScrubField: "envs"}
}

// Invoke runs the command described by d and post-processes its output.
// A non-zero exit returns the partial Result together with a *CommandError.
func (c *Controller) Invoke(ctx context.Context, d Descriptor) (*Result, error) {
	flags, ctl, err := d.Options.split()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOption, err)
	}

	argv := append([]string{c.Binary}, BuildArgs(d.Subcommands, flags, d.Args)...)

	timeout := c.Timeout
	if ctl.Timeout != nil {
		timeout = *ctl.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	out, err := executil.Run(ctx, argv, ctl.EnvOverride)
	if err != nil {
		if timeout > 0 && errors.Is(err, context.DeadlineExceeded) {
			return nil, &TimeoutError{Command: strings.Join(argv, " "), Timeout: timeout}
		}
		return nil, err
	}

	res := &Result{ExitCode: out.ExitCode, Stdout: out.Stdout, Stderr: out.Stderr}
	if out.ExitCode != 0 {
		return res, &CommandError{ExitCode: out.ExitCode, Output: out.Combined()}
	}

	if ctl.AsJSON {
		payload := []byte(out.Stdout)
		if !json.Valid(payload) {
			return res, fmt.Errorf("parse %s output: invalid JSON", strings.Join(d.Subcommands, " "))
		}
		if ctl.Scrub && c.ScrubField != "" {
			payload, err = scrubTasks(payload, c.ScrubField)
			if err != nil {
				return res, err
			}
		}
		res.Parsed = json.RawMessage(payload)
		return res, nil
	}

	res.Text = out.Stdout
	if ctl.TrimNewline {
		res.Text = strings.TrimSuffix(res.Text, "\n")
	}
	return res, nil
}

// scrubTasks removes field from every entry of the top-level "tasks" object.
func scrubTasks(data []byte, field string) ([]byte, error) {
	tasks := gjson.GetBytes(data, "tasks")
	if !tasks.IsObject() {
		return data, nil
	}

	var ids []string
	tasks.ForEach(func(key, _ gjson.Result) bool {
		ids = append(ids, key.String())
		return true
	})

	for _, id := range ids {
		path := "tasks." + gjson.Escape(id) + "." + gjson.Escape(field)
		var err error
		data, err = sjson.DeleteBytes(data, path)
		if err != nil {
			return nil, fmt.Errorf("scrub %s from task %s: %w", field, id, err)
		}
	}
	return data, nil
}
