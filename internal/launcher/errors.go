package launcher

import (
	"fmt"
	"time"
)

// LaunchError indicates the server process could not be started, or exited
// before it became ready.
type LaunchError struct {
	Command string
	Output  string
	Err     error
}

func (e *LaunchError) Error() string {
	msg := fmt.Sprintf("failed to launch %q", e.Command)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Output != "" {
		msg = fmt.Sprintf("%s\noutput: %s", msg, e.Output)
	}
	return msg
}

func (e *LaunchError) Unwrap() error { return e.Err }

// StartupTimeoutError indicates the launched process never became ready
// within the startup timeout. The process has already been terminated by the
// time this error is returned.
type StartupTimeoutError struct {
	Command string
	Timeout time.Duration
	Output  string
}

func (e *StartupTimeoutError) Error() string {
	msg := fmt.Sprintf("timeout waiting for %q to become ready after %s", e.Command, e.Timeout)
	if e.Output != "" {
		msg = fmt.Sprintf("%s\noutput: %s", msg, e.Output)
	}
	return msg
}
