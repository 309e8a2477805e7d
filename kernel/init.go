package kernel

import (
	"context"

	"github.com/evanphx/userprog/memory"
	"github.com/pkg/errors"
)

var ErrInitFailed = errors.New("unable to start init process")

// Boot registers the kernel's own main thread as a process. It owns no
// user memory and runs no program; it exists to be the parent of init.
func (k *Kernel) Boot() (*Task, error) {
	if k.traps == nil {
		return nil, errors.New("no trap handler installed")
	}

	proc := &Process{
		Kernel:    k,
		ParentPid: 0,
		Name:      "main",
		Mem:       memory.NewVirtualMemory(),
		Files:     NewFileTable(k.cfg.Kernel.MaxFiles),
	}

	pid, err := k.processes.Register(proc, 0)
	if err != nil {
		return nil, err
	}

	proc.L = k.L.With("pid", pid, "name", proc.Name)

	task := &Task{Process: proc}
	task.ctx = SetTask(k.ctx, task)

	k.L.Debug("kernel-booted", "pid", pid)

	return task, nil
}

// RunInit boots the kernel, runs cmdline as the initial user process, and
// waits for it to exit. The main thread then exits itself, dropping the
// records of anything init left behind.
func (k *Kernel) RunInit(ctx context.Context, cmdline string) (int32, error) {
	main, err := k.Boot()
	if err != nil {
		return -1, err
	}

	defer main.exit(0, false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-k.Halted():
			cancel()
		case <-ctx.Done():
		}
	}()

	pid := main.Spawn(ctx, cmdline)
	if pid == -1 {
		return -1, errors.Wrapf(ErrInitFailed, "cmdline: %q", cmdline)
	}

	k.L.Info("init started", "pid", pid, "cmdline", cmdline)

	status := main.Wait(ctx, pid)

	k.L.Info("init exited", "pid", pid, "status", status)

	return status, nil
}
