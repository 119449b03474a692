package bridge

import (
	"errors"

	"github.com/drewfead/pueue-webui/internal/control"
	"github.com/drewfead/pueue-webui/internal/logtail"
	"github.com/drewfead/pueue-webui/internal/meta"
	"github.com/drewfead/pueue-webui/internal/pueue"
)

// classify maps domain errors onto protocol error kinds.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var ctlErr *control.Error
	if errors.As(err, &ctlErr) {
		return err
	}
	var cmdErr *pueue.CommandError
	if errors.As(err, &cmdErr) {
		return control.CommandFailed(cmdErr.ExitCode, cmdErr.Output, err)
	}
	var timeoutErr *pueue.TimeoutError
	if errors.As(err, &timeoutErr) {
		return control.NewError(control.KindTimeout, err)
	}

	switch {
	case errors.Is(err, logtail.ErrNotSubscribed):
		return control.NewError(control.KindNotSubscribed, err)
	case errors.Is(err, logtail.ErrInvalidTaskID),
		errors.Is(err, pueue.ErrInvalidOption),
		errors.Is(err, meta.ErrNotObject):
		return control.NewError(control.KindInvalidParams, err)
	default:
		return control.NewError(control.KindInternal, err)
	}
}
