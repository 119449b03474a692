package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/drewfead/pueue-webui/internal/control"
	"github.com/drewfead/pueue-webui/internal/pueue"
)

// handleEdit applies [taskId, {field: value, ...}] through `pueue edit`.
// pueue opens the field in $EDITOR, so EDITOR is pointed at the edit helper,
// which overwrites the opened file with the requested value. Empty values
// are skipped; edits run in the order given.
func (s *session) handleEdit(ctx context.Context, call *control.Call) (any, error) {
	if len(s.bridge.editHelper) == 0 {
		return nil, control.Errorf(control.KindInternal, "pueue_edit is not available: no edit helper configured")
	}

	taskID, err := decodeTaskID(call.Params, 0)
	if err != nil {
		return nil, err
	}
	var kvs pueue.Options
	if err := call.Params.Decode(1, &kvs); err != nil {
		return nil, err
	}

	valueFile, err := os.CreateTemp("", "pueue_webui-edit-*")
	if err != nil {
		return nil, classify(fmt.Errorf("create edit value file: %w", err))
	}
	valuePath := valueFile.Name()
	valueFile.Close()
	defer os.Remove(valuePath)

	editor := shellJoin(append(append([]string{}, s.bridge.editHelper...), valuePath))

	var out strings.Builder
	for _, kv := range kvs {
		value, ok := editValue(kv.Value)
		if !ok {
			continue
		}
		if err := os.WriteFile(valuePath, []byte(value), 0600); err != nil {
			return nil, classify(fmt.Errorf("write edit value: %w", err))
		}

		res, err := s.bridge.controller.Invoke(ctx, pueue.Descriptor{
			Subcommands: []string{"edit"},
			Options: pueue.Options{
				{Key: kv.Key, Value: true},
				{Key: pueue.ControllerPrefix + "env_override", Value: map[string]string{"EDITOR": editor}},
			},
			Args: []any{taskID},
		})
		if err != nil {
			return nil, classify(err)
		}
		fmt.Fprintf(&out, "%s: %s\n", kv.Key, res.Text)
	}
	return out.String(), nil
}

// editValue returns the text to write for an edit, or false for empty
// values that should be skipped.
func editValue(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case bool:
		if !val {
			return "", false
		}
		return "true", true
	case string:
		return val, val != ""
	case json.Number:
		f, err := val.Float64()
		return val.String(), err != nil || f != 0
	case []any:
		if len(val) == 0 {
			return "", false
		}
		data, _ := json.Marshal(val)
		return string(data), true
	case json.RawMessage:
		s := string(val)
		return s, s != "{}"
	default:
		s := fmt.Sprint(val)
		return s, s != ""
	}
}

// RunEditHelper copies the contents of valueFile into target. It is the
// body of the edit-helper command that pueue_edit installs as EDITOR.
func RunEditHelper(valueFile, target string) error {
	data, err := os.ReadFile(valueFile)
	if err != nil {
		return fmt.Errorf("read edit value: %w", err)
	}
	if err := os.WriteFile(target, data, 0600); err != nil {
		return fmt.Errorf("write %s: %w", target, err)
	}
	return nil
}

// shellJoin quotes words for a POSIX shell.
func shellJoin(words []string) string {
	quoted := make([]string, len(words))
	for i, w := range words {
		if w != "" && strings.IndexFunc(w, needsQuote) < 0 {
			quoted[i] = w
			continue
		}
		quoted[i] = "'" + strings.ReplaceAll(w, "'", `'"'"'`) + "'"
	}
	return strings.Join(quoted, " ")
}

func needsQuote(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	case strings.ContainsRune("-_./:=@%+,", r):
		return false
	}
	return true
}
