package syscalls

import (
	"context"

	"github.com/evanphx/userprog/fs"
	"github.com/evanphx/userprog/kernel"
	hclog "github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

func boolResult(err error) int32 {
	if err != nil {
		return 0
	}

	return 1
}

func sysCreate(ctx context.Context, l hclog.Logger, t *kernel.Task, args SysArgs) (int32, error) {
	name, err := args.String(1)
	if err != nil {
		return 0, err
	}

	size, err := args.Word(2)
	if err != nil {
		return 0, err
	}

	err = t.Kernel.FS().Create(ctx, name, int64(size))
	if err != nil {
		l.Trace("create failed", "pid", t.Pid, "name", name, "error", err)
	}

	return boolResult(err), nil
}

func sysRemove(ctx context.Context, l hclog.Logger, t *kernel.Task, args SysArgs) (int32, error) {
	name, err := args.String(1)
	if err != nil {
		return 0, err
	}

	err = t.Kernel.FS().Remove(ctx, name)
	if err != nil {
		l.Trace("remove failed", "pid", t.Pid, "name", name, "error", err)
	}

	return boolResult(err), nil
}

func sysOpen(ctx context.Context, l hclog.Logger, t *kernel.Task, args SysArgs) (int32, error) {
	name, err := args.String(1)
	if err != nil {
		return 0, err
	}

	f, err := t.Kernel.FS().Open(ctx, name)
	if err != nil {
		if errors.Cause(err) != fs.ErrUnknownPath {
			l.Error("error opening file", "pid", t.Pid, "name", name, "error", err)
		}

		return -1, nil
	}

	fd, err := t.Files.Install(f)
	if err != nil {
		l.Debug("descriptor table full", "pid", t.Pid, "name", name)
		f.Close()
		return -1, nil
	}

	l.Trace("open file", "pid", t.Pid, "name", name, "fd", fd)

	return int32(fd), nil
}

func sysFilesize(ctx context.Context, l hclog.Logger, t *kernel.Task, args SysArgs) (int32, error) {
	fd, err := args.Int(1)
	if err != nil {
		return 0, err
	}

	f, ok := t.Files.Get(int(fd))
	if !ok {
		return -1, nil
	}

	return int32(f.Length()), nil
}

func init() {
	Syscalls[SysCreate] = Entry{"create", 2, true, sysCreate}
	Syscalls[SysRemove] = Entry{"remove", 1, true, sysRemove}
	Syscalls[SysOpen] = Entry{"open", 1, true, sysOpen}
	Syscalls[SysFilesize] = Entry{"filesize", 1, true, sysFilesize}
}
