package bridge

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/drewfead/pueue-webui/internal/control"
	"github.com/drewfead/pueue-webui/internal/executil"
	"github.com/drewfead/pueue-webui/internal/logtail"
	"github.com/drewfead/pueue-webui/internal/pueue"
)

// LocalCommandResult is the result of run_local_command_async.
type LocalCommandResult struct {
	ReturnCode int    `json:"returncode"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
}

// LogSubscriptionOptions limits the initial log snapshot.
type LogSubscriptionOptions struct {
	Lines *int   `json:"lines"`
	Bytes *int64 `json:"bytes"`
}

// handlePueue runs pueue with [subcommands, options, args]. subcommands may
// be a single string or a list.
func (s *session) handlePueue(ctx context.Context, call *control.Call) (any, error) {
	subcommands, err := decodeSubcommands(call.Params)
	if err != nil {
		return nil, err
	}
	var opts pueue.Options
	if _, err := call.Params.DecodeOptional(1, &opts); err != nil {
		return nil, err
	}
	var args []any
	if _, err := call.Params.DecodeOptional(2, &args); err != nil {
		return nil, err
	}

	res, err := s.bridge.controller.Invoke(ctx, pueue.Descriptor{
		Subcommands: subcommands,
		Options:     opts,
		Args:        args,
	})
	if err != nil {
		return nil, classify(err)
	}
	return res.Value(), nil
}

func decodeSubcommands(params control.Params) ([]string, error) {
	var one string
	if err := json.Unmarshal(params.Raw(0), &one); err == nil {
		return []string{one}, nil
	}
	var many []string
	if err := params.Decode(0, &many); err != nil {
		return nil, err
	}
	return many, nil
}

// handleRunLocalCommand runs an arbitrary argv. A non-zero exit is a
// result, not an error.
func (s *session) handleRunLocalCommand(ctx context.Context, call *control.Call) (any, error) {
	var argv []string
	if err := call.Params.Decode(0, &argv); err != nil {
		return nil, err
	}
	if len(argv) == 0 {
		return nil, control.Errorf(control.KindInvalidParams, "empty command")
	}

	out, err := executil.Run(ctx, argv, nil)
	if err != nil {
		return nil, classify(err)
	}
	return LocalCommandResult{ReturnCode: out.ExitCode, Stdout: out.Stdout, Stderr: out.Stderr}, nil
}

// handleLogSubscription subscribes to ([taskId, true, options]) or
// unsubscribes from ([taskId, false]) a task's log.
func (s *session) handleLogSubscription(ctx context.Context, call *control.Call) (any, error) {
	taskID, err := decodeTaskID(call.Params, 0)
	if err != nil {
		return nil, err
	}
	var add bool
	if err := call.Params.Decode(1, &add); err != nil {
		return nil, err
	}

	if !add {
		if err := s.tracker.Unsubscribe(taskID); err != nil {
			return nil, classify(err)
		}
		return true, nil
	}

	opts := logtail.Options{
		MaxLines: s.bridge.cfg.Bridge.DefaultLogLines,
		MaxBytes: s.bridge.cfg.Bridge.DefaultLogBytes,
	}
	var limits LogSubscriptionOptions
	if _, err := call.Params.DecodeOptional(2, &limits); err != nil {
		return nil, err
	}
	if limits.Lines != nil {
		opts.MaxLines = *limits.Lines
	}
	if limits.Bytes != nil {
		opts.MaxBytes = *limits.Bytes
	}

	snap, err := s.tracker.Subscribe(taskID, opts)
	if err != nil {
		return nil, classify(err)
	}
	return snap, nil
}

// decodeTaskID accepts a task id sent as a string or a number.
func decodeTaskID(params control.Params, i int) (string, error) {
	var raw json.RawMessage
	if err := params.Decode(i, &raw); err != nil {
		return "", err
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", control.Errorf(control.KindInvalidParams, "task id must be a string or number, got %s", strings.TrimSpace(string(raw)))
}

// handleMeta returns the stored metadata when called without data and
// stores data otherwise.
func (s *session) handleMeta(ctx context.Context, call *control.Call) (any, error) {
	if !call.Params.Has(0) {
		data, err := s.bridge.meta.Get()
		if err != nil {
			return nil, classify(err)
		}
		return data, nil
	}

	msg, err := s.bridge.meta.Set(call.Params.Raw(0))
	if err != nil {
		return nil, classify(err)
	}
	return msg, nil
}
