package syscalls

import (
	"context"

	"github.com/davecgh/go-spew/spew"
	"github.com/evanphx/userprog/kernel"
	"github.com/evanphx/userprog/log"
	hclog "github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

var ErrUnknownSyscall = errors.New("unknown syscall")

type Invoker struct {
	Kernel *kernel.Kernel
	L      hclog.Logger
}

func NewInvoker(k *kernel.Kernel) *Invoker {
	return &Invoker{
		Kernel: k,
		L:      log.L.Named("syscall"),
	}
}

// HandleTrap validates the frame's stack pointer, decodes the syscall
// number there and runs its handler. Unknown numbers kill the caller.
func (i *Invoker) HandleTrap(ctx context.Context, t *kernel.Task, f *kernel.Frame) error {
	v := t.Validator()

	nr, err := v.ReadWord(f.ESP)
	if err != nil {
		return kernel.Fault(errors.Wrap(err, "reading syscall number"))
	}

	if nr >= NumSyscalls || Syscalls[nr].Impl == nil {
		i.L.Debug("unknown syscall", "pid", t.Pid, "index", nr)
		return &kernel.ExitError{
			Status: -1,
			Cause:  errors.Wrapf(ErrUnknownSyscall, "index=%d", nr),
		}
	}

	ent := &Syscalls[nr]

	args := SysArgs{
		Index: nr,
		ESP:   f.ESP,
		v:     v,
	}

	if i.L.IsTrace() {
		words := make([]uint32, 0, ent.Args)
		for a := 1; a <= ent.Args; a++ {
			w, err := args.Word(a)
			if err != nil {
				break
			}
			words = append(words, w)
		}

		i.L.Trace("syscall-frame", "pid", t.Pid, "name", ent.Name, "args", words, "frame", spew.Sdump(f))
	}

	ret, err := ent.Impl(ctx, i.L, t, args)
	if err != nil {
		return err
	}

	if ent.Returns {
		f.EAX = uint32(ret)
	}

	i.L.Trace("syscall", "pid", t.Pid, "name", ent.Name, "ret", ret)

	return nil
}
