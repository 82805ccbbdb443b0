package vehicle

import (
	"errors"
	"fmt"
)

// ErrNoReading is returned by a sensor getter that produced no value.
var ErrNoReading = errors.New("no sensor reading")

// CommandError reports a failed flight command at the driver boundary.
// These failures are fatal to a flight.
type CommandError struct {
	Command string
	Err     error
}

func NewCommandError(command string, err error) *CommandError {
	return &CommandError{Command: command, Err: err}
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("vehicle command %q failed: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// IsCommandError reports whether err carries a *CommandError.
func IsCommandError(err error) bool {
	var ce *CommandError
	return errors.As(err, &ce)
}
