package kernel

import (
	"context"
	"strings"

	"github.com/evanphx/userprog/memory"
	"github.com/evanphx/userprog/pkg/waiter"
	"github.com/google/shlex"
	hclog "github.com/hashicorp/go-hclog"
)

// Child is a parent's view of one child process. It lives in the parent's
// child collection and only the parent removes it, either in Wait or when
// the parent exits. The child holds a handle to it so it can publish its
// exit status; the status is written before exited is set and read only
// after waiting on exited.
type Child struct {
	Pid       int32
	ParentPid int32

	status int32
	exited waiter.Latch

	loaded waiter.Latch
	loadOK bool
}

// CreateChild allocates a child record and links it into p's collection.
func (p *Process) CreateChild() *Child {
	c := &Child{
		Pid:       -1,
		ParentPid: p.Pid,
		status:    StatusNotExited,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.children = append(p.children, c)

	return c
}

func (p *Process) findChildLocked(pid int32) (*Child, bool) {
	for _, c := range p.children {
		if c.Pid == pid {
			return c, true
		}
	}

	return nil, false
}

func (p *Process) removeChildLocked(c *Child) bool {
	for i, o := range p.children {
		if o == c {
			p.children = append(p.children[:i], p.children[i+1:]...)
			return true
		}
	}

	return false
}

func (p *Process) removeChild(c *Child) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.removeChildLocked(c)
}

// Children returns the pids of the child records p still holds, in
// creation order.
func (p *Process) Children() []int32 {
	p.mu.Lock()
	defer p.mu.Unlock()

	pids := make([]int32, 0, len(p.children))
	for _, c := range p.children {
		pids = append(pids, c.Pid)
	}

	return pids
}

// Spawn starts the program named by cmdline as a child of p and blocks
// until it has finished loading. It returns the child's pid, or -1 if the
// process could not be created or the program failed to load. The child
// record is cleaned up on both failure paths.
func (p *Process) Spawn(ctx context.Context, cmdline string) int32 {
	c := p.CreateChild()

	child, err := p.Kernel.execute(p, c, cmdline)
	if err != nil {
		p.L.Debug("exec-failed", "cmdline", cmdline, "error", err)
		p.removeChild(c)
		return -1
	}

	if err := c.loaded.Wait(ctx); err != nil {
		p.removeChild(c)
		return -1
	}

	if !c.loadOK {
		p.L.Debug("exec-load-failed", "cmdline", cmdline, "child", child.Pid)
		p.removeChild(c)
		return -1
	}

	return child.Pid
}

// Wait blocks until the direct child pid exits and returns its exit
// status. Each child can be waited for once; waiting on anything else,
// including -1, returns -1 without blocking.
func (p *Process) Wait(ctx context.Context, pid int32) int32 {
	if pid == -1 {
		return -1
	}

	p.mu.Lock()
	c, ok := p.findChildLocked(pid)
	p.mu.Unlock()

	if !ok {
		p.L.Trace("wait-not-child", "child", pid)
		return -1
	}

	p.L.Trace("wait-child", "child", pid)

	if err := c.exited.Wait(ctx); err != nil {
		return -1
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.removeChildLocked(c) {
		return -1
	}

	return c.status
}

// commandName is argv[0] of cmdline, split the way the loader splits it.
func commandName(cmdline string) string {
	fields, err := shlex.Split(cmdline)
	if err != nil || len(fields) == 0 {
		fields = strings.Fields(cmdline)
	}

	if len(fields) == 0 {
		return cmdline
	}

	return fields[0]
}

// execute creates the process for c and starts its thread. The thread
// loads the program and reports the result through c.loaded before
// running anything.
func (k *Kernel) execute(parent *Process, c *Child, cmdline string) (*Process, error) {
	proc := &Process{
		Kernel:    k,
		ParentPid: parent.Pid,
		Name:      commandName(cmdline),
		Mem:       memory.NewVirtualMemory(),
		Files:     NewFileTable(k.cfg.Kernel.MaxFiles),
		self:      c,
	}

	pid, err := k.processes.Register(proc, k.cfg.Kernel.MaxProcesses)
	if err != nil {
		return nil, err
	}

	proc.L = k.L.With("pid", pid, "name", proc.Name)

	// c is already visible in the parent's collection.
	parent.mu.Lock()
	c.Pid = pid
	parent.mu.Unlock()

	task := &Task{Process: proc}
	task.ctx = SetTask(k.ctx, task)

	k.threads.Add(1)
	go k.run(task, cmdline)

	return proc, nil
}

func (k *Kernel) run(t *Task, cmdline string) {
	defer k.threads.Done()

	status := int32(-1)

	defer func() {
		if r := recover(); r != nil {
			t.L.Error("process panicked", "panic", r)
			status = -1
		}

		t.exit(status, true)
	}()

	img, err := k.loader.Load(t.ctx, k.fs, t.Mem, cmdline)

	if t.self != nil {
		t.self.loadOK = err == nil
		t.self.loaded.Set()
	}

	if err != nil {
		t.L.Debug("load-failed", "error", err)
		return
	}

	t.Name = img.Name
	t.initialSP = img.ESP

	t.L.Trace("process-start", "esp", hclog.Fmt("%#x", img.ESP))

	status = img.Entry(t)
}
