package syscalls

import (
	"github.com/evanphx/userprog/kernel"
	"github.com/evanphx/userprog/memory"
	"github.com/pkg/errors"
)

// MaxString bounds file names and command lines copied in from user space.
const MaxString = memory.PageSize

// SysArgs extracts the arguments of a trapped syscall. Argument i is the
// word at ESP + 4*i; word 0 is the syscall number itself. Every accessor
// validates what it reads and returns a kernel.Fault on failure, never a
// partially checked value.
type SysArgs struct {
	Index uint32
	ESP   uint32

	v memory.Validator
}

func (a SysArgs) addr(i int) (uint32, error) {
	addr := uint64(a.ESP) + 4*uint64(i)
	if addr >= memory.PhysBase {
		return 0, errors.Wrapf(memory.ErrKernelAddress, "argument %d at esp=%#x", i, a.ESP)
	}

	return uint32(addr), nil
}

func (a SysArgs) Word(i int) (uint32, error) {
	addr, err := a.addr(i)
	if err != nil {
		return 0, kernel.Fault(err)
	}

	w, err := a.v.ReadWord(addr)
	if err != nil {
		return 0, kernel.Fault(err)
	}

	return w, nil
}

func (a SysArgs) Int(i int) (int32, error) {
	w, err := a.Word(i)
	return int32(w), err
}

func (a SysArgs) Uint(i int) (uint32, error) {
	return a.Word(i)
}

// Pointer reads argument i as a user address and checks that it points at
// mapped user memory.
func (a SysArgs) Pointer(i int) (uint32, error) {
	return a.Buffer(i, 0)
}

// String reads the pointer in argument i and copies in the string it
// points at. A null pointer is a fault.
func (a SysArgs) String(i int) (string, error) {
	ptr, err := a.Word(i)
	if err != nil {
		return "", err
	}

	str, err := a.v.ReadCString(ptr, MaxString)
	if err != nil {
		return "", kernel.Fault(err)
	}

	return string(str), nil
}

// Buffer reads the pointer in argument i and validates size bytes behind
// it. A null pointer is a fault even when size is zero.
func (a SysArgs) Buffer(i int, size uint32) (uint32, error) {
	ptr, err := a.Word(i)
	if err != nil {
		return 0, err
	}

	if err := a.v.CheckRange(ptr, size); err != nil {
		return 0, kernel.Fault(err)
	}

	return ptr, nil
}
