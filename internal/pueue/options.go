package pueue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// ControllerPrefix marks options that configure the invocation itself and
// are never translated into command-line flags.
const ControllerPrefix = "__controller_"

// Option is one named option in insertion order.
type Option struct {
	Key   string
	Value any
}

// Options is an ordered option mapping. Flags are emitted in this order.
//
// Values may be bool (flag presence), nil (omitted), a list (repeated flag),
// or any scalar (flag followed by its value).
type Options []Option

// UnmarshalJSON decodes a JSON object while preserving key order.
// Numbers are kept as json.Number so they print exactly as sent.
func (o *Options) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return errors.New("options: invalid JSON")
	}
	root := gjson.ParseBytes(data)
	if root.Type == gjson.Null {
		*o = nil
		return nil
	}
	if !root.IsObject() {
		return fmt.Errorf("options: expected object, got %s", root.Type)
	}

	opts := Options{}
	root.ForEach(func(key, value gjson.Result) bool {
		opts = append(opts, Option{Key: key.String(), Value: fromResult(value)})
		return true
	})
	*o = opts
	return nil
}

// Get returns the value for key and whether it was present.
func (o Options) Get(key string) (any, bool) {
	for _, opt := range o {
		if opt.Key == key {
			return opt.Value, true
		}
	}
	return nil, false
}

func fromResult(r gjson.Result) any {
	switch r.Type {
	case gjson.Null:
		return nil
	case gjson.False:
		return false
	case gjson.True:
		return true
	case gjson.Number:
		return json.Number(r.Raw)
	case gjson.String:
		return r.Str
	default:
		if r.IsArray() {
			items := r.Array()
			out := make([]any, len(items))
			for i, item := range items {
				out[i] = fromResult(item)
			}
			return out
		}
		return json.RawMessage(r.Raw)
	}
}

// ControllerOptions configure one invocation without reaching the CLI.
type ControllerOptions struct {
	EnvOverride map[string]string
	Timeout     *time.Duration
	AsJSON      bool
	Scrub       bool
	TrimNewline bool
}

func defaultControllerOptions() ControllerOptions {
	return ControllerOptions{TrimNewline: true}
}

// split separates CLI flags from controller options. A truthy "json"
// option stays a flag and also turns on JSON parsing of the output.
func (o Options) split() (Options, ControllerOptions, error) {
	ctl := defaultControllerOptions()
	flags := make(Options, 0, len(o))

	for _, opt := range o {
		name, isController := strings.CutPrefix(opt.Key, ControllerPrefix)
		if !isController {
			if opt.Key == "json" && opt.Value == true {
				ctl.AsJSON = true
			}
			flags = append(flags, opt)
			continue
		}

		var err error
		switch name {
		case "env_override":
			ctl.EnvOverride, err = toEnv(opt.Value)
		case "timeout":
			ctl.Timeout, err = toTimeout(opt.Value)
		case "as_json":
			ctl.AsJSON, err = toBool(opt.Value, ctl.AsJSON)
		case "remove_envs", "scrub":
			ctl.Scrub, err = toBool(opt.Value, ctl.Scrub)
		case "remove_trailing_line_feed":
			ctl.TrimNewline, err = toBool(opt.Value, ctl.TrimNewline)
		default:
			err = fmt.Errorf("unknown controller option %q", opt.Key)
		}
		if err != nil {
			return nil, ctl, err
		}
	}
	return flags, ctl, nil
}

func toBool(v any, fallback bool) (bool, error) {
	switch b := v.(type) {
	case nil:
		return fallback, nil
	case bool:
		return b, nil
	default:
		return false, fmt.Errorf("expected boolean, got %T", v)
	}
}

func toTimeout(v any) (*time.Duration, error) {
	if v == nil {
		return nil, nil
	}
	secs, err := strconv.ParseFloat(formatValue(v), 64)
	if err != nil || secs < 0 {
		return nil, fmt.Errorf("invalid timeout %v", v)
	}
	d := time.Duration(secs * float64(time.Second))
	return &d, nil
}

func toEnv(v any) (map[string]string, error) {
	switch m := v.(type) {
	case nil:
		return nil, nil
	case map[string]string:
		return m, nil
	case json.RawMessage:
		var raw map[string]any
		if err := json.Unmarshal(m, &raw); err != nil {
			return nil, fmt.Errorf("env_override: %w", err)
		}
		env := make(map[string]string, len(raw))
		for k, val := range raw {
			env[k] = formatValue(val)
		}
		return env, nil
	default:
		return nil, fmt.Errorf("env_override: expected object, got %T", v)
	}
}

// BuildArgs translates a command descriptor into CLI arguments (without the
// executable). Option keys have underscores replaced with hyphens; true
// emits the bare flag; false and nil are omitted; lists repeat the flag per
// element. Positional args follow a literal "--".
func BuildArgs(subcommands []string, flags Options, args []any) []string {
	out := append([]string{}, subcommands...)

	for _, opt := range flags {
		flag := "--" + strings.ReplaceAll(opt.Key, "_", "-")
		switch v := opt.Value.(type) {
		case nil:
		case bool:
			if v {
				out = append(out, flag)
			}
		case []any:
			for _, item := range v {
				out = append(out, flag, formatValue(item))
			}
		case []string:
			for _, item := range v {
				out = append(out, flag, item)
			}
		default:
			out = append(out, flag, formatValue(v))
		}
	}

	if len(args) > 0 {
		out = append(out, "--")
		for _, a := range args {
			out = append(out, formatValue(a))
		}
	}
	return out
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case json.RawMessage:
		return string(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}
