package syscalls

import (
	"context"

	"github.com/evanphx/userprog/kernel"
	hclog "github.com/hashicorp/go-hclog"
)

func sysHalt(ctx context.Context, l hclog.Logger, t *kernel.Task, args SysArgs) (int32, error) {
	l.Info("halt requested", "pid", t.Pid)
	t.Kernel.PowerOff()
	return 0, kernel.ErrHalt
}

func sysExit(ctx context.Context, l hclog.Logger, t *kernel.Task, args SysArgs) (int32, error) {
	status, err := args.Int(1)
	if err != nil {
		return 0, err
	}

	return 0, kernel.Terminate(status)
}

func sysExec(ctx context.Context, l hclog.Logger, t *kernel.Task, args SysArgs) (int32, error) {
	cmdline, err := args.String(1)
	if err != nil {
		return 0, err
	}

	return t.Spawn(ctx, cmdline), nil
}

func sysWait(ctx context.Context, l hclog.Logger, t *kernel.Task, args SysArgs) (int32, error) {
	pid, err := args.Int(1)
	if err != nil {
		return 0, err
	}

	return t.Wait(ctx, pid), nil
}

func init() {
	Syscalls[SysHalt] = Entry{"halt", 0, false, sysHalt}
	Syscalls[SysExit] = Entry{"exit", 1, false, sysExit}
	Syscalls[SysExec] = Entry{"exec", 1, true, sysExec}
	Syscalls[SysWait] = Entry{"wait", 1, true, sysWait}
}
