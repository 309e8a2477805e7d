package syscalls

import (
	"context"
	"io"

	"github.com/evanphx/userprog/kernel"
	hclog "github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

func sysRead(ctx context.Context, l hclog.Logger, t *kernel.Task, args SysArgs) (int32, error) {
	fd, err := args.Int(1)
	if err != nil {
		return 0, err
	}

	size, err := args.Word(3)
	if err != nil {
		return 0, err
	}

	buf, err := args.Buffer(2, size)
	if err != nil {
		return 0, err
	}

	v := t.Validator()

	if fd == kernel.StdinFD {
		console := t.Kernel.Console()

		for i := uint32(0); i < size; i++ {
			b, err := console.Getc(ctx)
			if err != nil {
				if t.Kernel.IsHalted() {
					return 0, kernel.ErrHalt
				}

				return 0, errors.Wrap(err, "reading console")
			}

			if err := v.WriteBytes(buf+i, []byte{b}); err != nil {
				return 0, kernel.Fault(err)
			}
		}

		return int32(size), nil
	}

	f, ok := t.Files.Get(int(fd))
	if !ok {
		return -1, nil
	}

	tmp := make([]byte, size)

	n, err := f.Read(tmp)
	if err != nil && err != io.EOF {
		l.Error("error reading", "pid", t.Pid, "fd", fd, "error", err)
		return -1, nil
	}

	if err := v.WriteBytes(buf, tmp[:n]); err != nil {
		return 0, kernel.Fault(err)
	}

	return int32(n), nil
}

func sysWrite(ctx context.Context, l hclog.Logger, t *kernel.Task, args SysArgs) (int32, error) {
	fd, err := args.Int(1)
	if err != nil {
		return 0, err
	}

	size, err := args.Word(3)
	if err != nil {
		return 0, err
	}

	buf, err := args.Buffer(2, size)
	if err != nil {
		return 0, err
	}

	data := make([]byte, size)

	if err := t.Validator().ReadBytes(buf, data); err != nil {
		return 0, kernel.Fault(err)
	}

	if fd == kernel.StdoutFD {
		t.Kernel.Console().PutBytes(data)
		return int32(size), nil
	}

	f, ok := t.Files.Get(int(fd))
	if !ok {
		return -1, nil
	}

	n, err := f.Write(data)
	if err != nil && err != io.ErrShortWrite {
		l.Error("error writing", "pid", t.Pid, "fd", fd, "error", err)
		return -1, nil
	}

	return int32(n), nil
}

func sysSeek(ctx context.Context, l hclog.Logger, t *kernel.Task, args SysArgs) (int32, error) {
	fd, err := args.Int(1)
	if err != nil {
		return 0, err
	}

	pos, err := args.Word(2)
	if err != nil {
		return 0, err
	}

	f, ok := t.Files.Get(int(fd))
	if !ok {
		l.Trace("seek on unknown fd", "pid", t.Pid, "fd", fd)
		return 0, nil
	}

	f.Seek(int64(pos))

	return 0, nil
}

func sysTell(ctx context.Context, l hclog.Logger, t *kernel.Task, args SysArgs) (int32, error) {
	fd, err := args.Int(1)
	if err != nil {
		return 0, err
	}

	f, ok := t.Files.Get(int(fd))
	if !ok {
		return -1, nil
	}

	return int32(f.Tell()), nil
}

func sysClose(ctx context.Context, l hclog.Logger, t *kernel.Task, args SysArgs) (int32, error) {
	fd, err := args.Int(1)
	if err != nil {
		return 0, err
	}

	err = t.Files.Close(int(fd))
	if err != nil {
		l.Trace("close failed", "pid", t.Pid, "fd", fd, "error", err)
	}

	return 0, nil
}

func init() {
	Syscalls[SysRead] = Entry{"read", 3, true, sysRead}
	Syscalls[SysWrite] = Entry{"write", 3, true, sysWrite}
	Syscalls[SysSeek] = Entry{"seek", 2, false, sysSeek}
	Syscalls[SysTell] = Entry{"tell", 1, true, sysTell}
	Syscalls[SysClose] = Entry{"close", 1, false, sysClose}
}
