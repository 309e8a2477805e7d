package kernel

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// StatusNotExited is the exit status of a child record whose process has
// not exited yet.
const StatusNotExited int32 = math.MinInt32

var (
	ErrUnknownFile      = errors.New("unknown file")
	ErrTooManyFiles     = errors.New("descriptor table full")
	ErrTooManyProcesses = errors.New("process limit reached")
	ErrHalt             = errors.New("machine halted")
)

// ExitError terminates the calling process with Status. A fault on an
// untrusted argument is an ExitError with status -1 and the fault as Cause.
type ExitError struct {
	Status int32
	Cause  error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("exit(%d): %s", e.Status, e.Cause)
	}

	return fmt.Sprintf("exit(%d)", e.Status)
}

func Terminate(status int32) error {
	return &ExitError{Status: status}
}

// Fault kills the process for touching memory it had no business handing
// to the kernel.
func Fault(err error) error {
	return &ExitError{Status: -1, Cause: err}
}

func AsExit(err error) (*ExitError, bool) {
	ee, ok := err.(*ExitError)
	return ee, ok
}
