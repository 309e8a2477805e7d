package syscalls

import (
	"context"

	"github.com/evanphx/userprog/kernel"
	hclog "github.com/hashicorp/go-hclog"
)

// Syscall numbers, in the order user programs are compiled against.
const (
	SysHalt = iota
	SysExit
	SysExec
	SysWait
	SysCreate
	SysRemove
	SysOpen
	SysFilesize
	SysRead
	SysWrite
	SysSeek
	SysTell
	SysClose

	NumSyscalls
)

// Handler services one syscall. The int32 is stored in the frame's return
// register when the entry says the call returns a value. A non-nil error
// ends the calling process (see kernel.ExitError).
type Handler func(ctx context.Context, l hclog.Logger, t *kernel.Task, args SysArgs) (int32, error)

type Entry struct {
	Name    string
	Args    int
	Returns bool
	Impl    Handler
}

var Syscalls [NumSyscalls]Entry

func Name(nr uint32) string {
	if nr < NumSyscalls && Syscalls[nr].Name != "" {
		return Syscalls[nr].Name
	}

	return "unknown"
}
