package kernel

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/evanphx/userprog/memory"
	hclog "github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

type prockey struct{}

func GetTask(ctx context.Context) (*Task, bool) {
	if v := ctx.Value(prockey{}); v != nil {
		return v.(*Task), true
	}

	return nil, false
}

func SetTask(ctx context.Context, t *Task) context.Context {
	return context.WithValue(ctx, prockey{}, t)
}

// Task is a process as seen from the thread running it.
type Task struct {
	*Process

	ctx context.Context
}

func (t *Task) Context() context.Context {
	return t.ctx
}

// Trap enters the kernel with the syscall frame f. If the kernel decides the
// process is done, Trap tears the process down and never returns.
func (t *Task) Trap(f *Frame) {
	if t.Kernel.IsHalted() {
		t.exit(-1, false)
		runtime.Goexit()
	}

	err := t.Kernel.traps.HandleTrap(t.ctx, t, f)
	if err == nil {
		return
	}

	if ee, ok := AsExit(err); ok {
		if ee.Cause != nil {
			t.L.Debug("process-fault", "error", ee.Cause)
		}

		t.exit(ee.Status, true)
		runtime.Goexit()
	}

	if errors.Cause(err) == ErrHalt {
		t.exit(-1, false)
		runtime.Goexit()
	}

	t.L.Error("unexpected trap error", "error", err)
	t.exit(-1, true)
	runtime.Goexit()
}

// PageFault kills the process for a user mode access to unmapped memory.
func (t *Task) PageFault(err error) {
	t.L.Debug("page-fault", "error", err)
	t.exit(-1, true)
	runtime.Goexit()
}

// Process is the kernel's record of a running program. The record is
// registered from the moment the process is created until its exit has
// completed.
type Process struct {
	Kernel *Kernel
	L      hclog.Logger

	Pid       int32
	ParentPid int32
	Name      string

	Mem   *memory.VirtualMemory
	Files *FileTable

	// mu guards children.
	mu       sync.Mutex
	children []*Child

	// self is this process's entry in its parent's child collection. It is
	// written through but never freed from this side.
	self *Child

	initialSP  uint32
	exitStatus int32
	exitOnce   sync.Once
}

func (p *Process) InitialSP() uint32 {
	return p.initialSP
}

func (p *Process) ExitStatus() int32 {
	return p.exitStatus
}

func (p *Process) Validator() memory.Validator {
	return memory.Validator{PD: p.Mem}
}

// exit runs once per process. The status goes into the child record and
// the record is signaled before anything is torn down.
func (p *Process) exit(status int32, announce bool) {
	p.exitOnce.Do(func() {
		p.exitStatus = status

		if announce && p.Kernel.cfg.Kernel.ExitMessages {
			p.Kernel.console.PutBytes([]byte(fmt.Sprintf("%s: exit(%d)\n", p.Name, status)))
		}

		if p.self != nil {
			p.self.status = status
			p.self.exited.Set()
		}

		p.Files.CloseAll()

		p.mu.Lock()
		for _, c := range p.children {
			p.L.Trace("drop-orphan-record", "child", c.Pid)
		}
		p.children = nil
		p.mu.Unlock()

		p.Mem.Release()

		p.Kernel.processes.Remove(p.Pid)

		p.L.Trace("process-exit", "code", status)
	})
}

// Registry maps pids to live processes.
type Registry struct {
	mu        sync.RWMutex
	highWater int32
	processes map[int32]*Process
}

func NewRegistry() *Registry {
	return &Registry{
		processes: make(map[int32]*Process),
	}
}

// Register assigns proc the next pid and records it. Pids are not reused.
func (r *Registry) Register(proc *Process, limit int) (int32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit > 0 && len(r.processes) >= limit {
		return -1, errors.Wrapf(ErrTooManyProcesses, "limit=%d", limit)
	}

	r.highWater++
	pid := r.highWater

	proc.Pid = pid
	r.processes[pid] = proc

	return pid, nil
}

func (r *Registry) Lookup(pid int32) (*Process, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.processes[pid]
	return p, ok
}

func (r *Registry) Remove(pid int32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.processes, pid)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.processes)
}

func (r *Registry) Pids() []int32 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pids := make([]int32, 0, len(r.processes))
	for pid := range r.processes {
		pids = append(pids, pid)
	}

	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })

	return pids
}
