package pueue

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidOption is returned when an option cannot be applied.
var ErrInvalidOption = errors.New("invalid option")

// CommandError reports an executable that ran but exited non-zero.
// Output is stdout followed by stderr, verbatim.
type CommandError struct {
	ExitCode int
	Output   string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command exited with status %d", e.ExitCode)
}

// TimeoutError reports an invocation killed after exceeding its timeout.
type TimeoutError struct {
	Command string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Command, e.Timeout)
}
