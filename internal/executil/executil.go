// Package executil runs external commands and captures their output.
package executil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"
)

const waitDelay = 2 * time.Second

// Output is the captured result of a finished process.
type Output struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Combined returns stdout followed by stderr.
func (o *Output) Combined() string {
	return o.Stdout + o.Stderr
}

// Run executes argv with stdin bound to the null device and waits for it to
// exit. A non-zero exit status is reported through Output.ExitCode, not as an
// error; errors mean the process could not be started or ctx ended first.
// envOverrides are applied on top of the inherited environment.
func Run(ctx context.Context, argv []string, envOverrides map[string]string) (*Output, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty command")
	}

	cmd, err := CommandContext(ctx, argv[0], argv[1:]...)
	if err != nil {
		return nil, err
	}
	cmd.Env = MergeEnv(cmd.Env, envOverrides)
	// Orphaned grandchildren can hold the output pipes open after a kill.
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("%s: %w", argv[0], ctxErr)
	}

	out := &Output{Stdout: stdout.String(), Stderr: stderr.String()}
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, fmt.Errorf("run %s: %w", argv[0], runErr)
		}
		out.ExitCode = exitErr.ExitCode()
	}
	return out, nil
}

// CommandContext builds an exec.Cmd with context for a resolved executable.
// The child inherits the full process environment.
func CommandContext(ctx context.Context, name string, args ...string) (*exec.Cmd, error) {
	path, err := LookPath(name)
	if err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Env = os.Environ()
	return cmd, nil
}

// LookPath resolves name against PATH. Names containing a separator are
// checked directly.
func LookPath(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("executable not found: %s: %w", name, err)
	}
	return path, nil
}

// MergeEnv returns env with each override replacing any existing entry for
// the same key. Overrides are appended in key order so the result is stable.
func MergeEnv(env []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return env
	}
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := env
	for _, k := range keys {
		out = replaceEnv(out, k, overrides[k])
	}
	return out
}

func replaceEnv(env []string, key, value string) []string {
	prefix := key + "="
	out := make([]string, 0, len(env)+1)
	for _, entry := range env {
		if strings.HasPrefix(entry, prefix) {
			continue
		}
		out = append(out, entry)
	}
	if value != "" {
		out = append(out, prefix+value)
	}
	return out
}
