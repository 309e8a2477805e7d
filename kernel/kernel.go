package kernel

import (
	"context"
	"sync"

	"github.com/evanphx/userprog/config"
	"github.com/evanphx/userprog/device"
	"github.com/evanphx/userprog/fs"
	"github.com/evanphx/userprog/log"
	"github.com/evanphx/userprog/memory"
	"github.com/evanphx/userprog/pkg/waiter"
	hclog "github.com/hashicorp/go-hclog"
	"github.com/pborman/uuid"
	"github.com/pkg/errors"
)

// Frame is the part of the trapped register state the syscall layer reads
// and writes: the user stack pointer and the return value register.
type Frame struct {
	ESP uint32
	EAX uint32
}

// TrapHandler services a trap from user mode. A returned *ExitError
// terminates the calling process.
type TrapHandler interface {
	HandleTrap(ctx context.Context, t *Task, f *Frame) error
}

// Program is the text of a user program. Its return value becomes the
// process's exit status.
type Program func(t *Task) int32

// Image is a program loaded into an address space and ready to run.
type Image struct {
	Name  string
	Entry Program

	// ESP is the initial user stack pointer, pointing at the fake return
	// address below argc.
	ESP uint32
}

// Loader is the load half of process creation: it maps the program named
// by cmdline into mem and builds its initial stack.
type Loader interface {
	Load(ctx context.Context, fsys fs.FileSystem, mem *memory.VirtualMemory, cmdline string) (*Image, error)
}

type Options struct {
	Config  *config.Config
	FS      fs.FileSystem
	Console device.Console
	Loader  Loader
}

type Kernel struct {
	L      hclog.Logger
	BootID string

	cfg     *config.Config
	fs      fs.FileSystem
	console device.Console
	loader  Loader
	traps   TrapHandler

	processes *Registry

	ctx     context.Context
	cancel  func()
	halted  waiter.Latch
	threads sync.WaitGroup
}

func NewKernel(opts Options) (*Kernel, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if opts.FS == nil || opts.Console == nil || opts.Loader == nil {
		return nil, errors.New("kernel requires a file system, console and loader")
	}

	bootID := uuid.New()

	ctx, cancel := context.WithCancel(context.Background())

	k := &Kernel{
		L:         log.L.Named("kernel").With("boot", bootID),
		BootID:    bootID,
		cfg:       cfg,
		fs:        fs.NewLocked(opts.FS),
		console:   opts.Console,
		loader:    opts.Loader,
		processes: NewRegistry(),
		ctx:       ctx,
		cancel:    cancel,
	}

	return k, nil
}

func (k *Kernel) SetTrapHandler(h TrapHandler) {
	k.traps = h
}

// FS returns the file system behind the global file system lock.
func (k *Kernel) FS() fs.FileSystem {
	return k.fs
}

func (k *Kernel) Console() device.Console {
	return k.console
}

func (k *Kernel) Config() *config.Config {
	return k.cfg
}

func (k *Kernel) Processes() *Registry {
	return k.processes
}

// PowerOff halts the machine. Blocked waits return and every process is
// terminated the next time it traps.
func (k *Kernel) PowerOff() {
	if k.halted.Set() {
		k.L.Info("powering off")
		k.cancel()
	}
}

func (k *Kernel) Halted() <-chan struct{} {
	return k.halted.Done()
}

func (k *Kernel) IsHalted() bool {
	return k.halted.IsSet()
}

// Drain waits for every process thread to finish.
func (k *Kernel) Drain(ctx context.Context) error {
	done := make(chan struct{})

	go func() {
		k.threads.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
