// Package ulib is the user side of the syscall interface: the stubs a user
// program calls to push a syscall frame onto its own stack and trap into
// the kernel.
package ulib

import (
	"encoding/binary"

	"github.com/evanphx/userprog/kernel"
	"github.com/evanphx/userprog/loader"
	"github.com/evanphx/userprog/memory"
	"github.com/evanphx/userprog/syscalls"
)

// Proc is a running user program's register state and memory.
type Proc struct {
	t  *kernel.Task
	sp uint32
}

func New(t *kernel.Task) *Proc {
	return &Proc{t: t, sp: t.InitialSP()}
}

// Main adapts a user program's main function into a kernel.Program.
func Main(fn func(u *Proc) int32) kernel.Program {
	return func(t *kernel.Task) int32 {
		return fn(New(t))
	}
}

func (u *Proc) Pid() int32 {
	return u.t.Pid
}

func (u *Proc) Mem() *memory.VirtualMemory {
	return u.t.Mem
}

func (u *Proc) SP() uint32 {
	return u.sp
}

// Args returns argv as the loader laid it out on the initial stack.
func (u *Proc) Args() []string {
	args, err := loader.ReadArgs(u.t.Mem, u.t.InitialSP())
	if err != nil {
		u.t.PageFault(err)
	}

	return args
}

// Poke stores b at addr the way a user mode store would: an unmapped
// address kills the process.
func (u *Proc) Poke(addr uint32, b []byte) {
	if _, err := u.t.Mem.WriteAt(b, int64(addr)); err != nil {
		u.t.PageFault(err)
	}
}

func (u *Proc) Peek(addr uint32, n int) []byte {
	b := make([]byte, n)

	if _, err := u.t.Mem.ReadAt(b, int64(addr)); err != nil {
		u.t.PageFault(err)
	}

	return b
}

func (u *Proc) push(b []byte) uint32 {
	u.sp -= uint32(len(b))
	u.sp &^= 3

	u.Poke(u.sp, b)

	return u.sp
}

func (u *Proc) pushString(s string) uint32 {
	return u.push(append([]byte(s), 0))
}

// Syscall pushes nr and its argument words and traps. Stack space used
// for the frame and anything pushed before it is released afterwards.
func (u *Proc) Syscall(nr uint32, args ...uint32) int32 {
	buf := make([]byte, 4*(len(args)+1))

	binary.LittleEndian.PutUint32(buf, nr)
	for i, a := range args {
		binary.LittleEndian.PutUint32(buf[4*(i+1):], a)
	}

	return u.Trap(u.push(buf))
}

// Trap enters the kernel with an arbitrary stack pointer.
func (u *Proc) Trap(esp uint32) int32 {
	f := &kernel.Frame{ESP: esp}
	u.t.Trap(f)

	return int32(f.EAX)
}

func (u *Proc) mark() func() {
	sp := u.sp
	return func() { u.sp = sp }
}

func (u *Proc) Halt() {
	u.Syscall(syscalls.SysHalt)
}

func (u *Proc) Exit(status int32) {
	u.Syscall(syscalls.SysExit, uint32(status))
}

func (u *Proc) Exec(cmdline string) int32 {
	defer u.mark()()

	return u.Syscall(syscalls.SysExec, u.pushString(cmdline))
}

func (u *Proc) Wait(pid int32) int32 {
	defer u.mark()()

	return u.Syscall(syscalls.SysWait, uint32(pid))
}

func (u *Proc) Create(name string, size uint32) bool {
	defer u.mark()()

	return u.Syscall(syscalls.SysCreate, u.pushString(name), size) != 0
}

func (u *Proc) Remove(name string) bool {
	defer u.mark()()

	return u.Syscall(syscalls.SysRemove, u.pushString(name)) != 0
}

func (u *Proc) Open(name string) int32 {
	defer u.mark()()

	return u.Syscall(syscalls.SysOpen, u.pushString(name))
}

func (u *Proc) Filesize(fd int32) int32 {
	defer u.mark()()

	return u.Syscall(syscalls.SysFilesize, uint32(fd))
}

// Read reads into a user stack buffer and copies what arrived into buf.
func (u *Proc) Read(fd int32, buf []byte) int32 {
	defer u.mark()()

	addr := u.push(make([]byte, len(buf)))

	n := u.Syscall(syscalls.SysRead, uint32(fd), addr, uint32(len(buf)))
	if n > 0 {
		copy(buf, u.Peek(addr, int(n)))
	}

	return n
}

func (u *Proc) Write(fd int32, data []byte) int32 {
	defer u.mark()()

	addr := u.push(data)

	return u.Syscall(syscalls.SysWrite, uint32(fd), addr, uint32(len(data)))
}

func (u *Proc) Seek(fd int32, pos uint32) {
	defer u.mark()()

	u.Syscall(syscalls.SysSeek, uint32(fd), pos)
}

func (u *Proc) Tell(fd int32) uint32 {
	defer u.mark()()

	return uint32(u.Syscall(syscalls.SysTell, uint32(fd)))
}

func (u *Proc) Close(fd int32) {
	defer u.mark()()

	u.Syscall(syscalls.SysClose, uint32(fd))
}

// Puts writes s to the console.
func (u *Proc) Puts(s string) {
	u.Write(kernel.StdoutFD, []byte(s))
}
