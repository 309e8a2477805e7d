package memory

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// ReadAt and WriteAt give the user mode view of the address space: a load
// or store that touches an unmapped page faults.
func (vm *VirtualMemory) ReadAt(b []byte, off int64) (int, error) {
	if off < 0 || off >= PhysBase {
		return 0, errors.Wrapf(ErrKernelAddress, "read offset=%#x", off)
	}

	if err := (Validator{PD: vm}).ReadBytes(uint32(off), b); err != nil {
		return 0, err
	}

	return len(b), nil
}

func (vm *VirtualMemory) WriteAt(b []byte, off int64) (int, error) {
	if off < 0 || off >= PhysBase {
		return 0, errors.Wrapf(ErrKernelAddress, "write offset=%#x", off)
	}

	if err := (Validator{PD: vm}).WriteBytes(uint32(off), b); err != nil {
		return 0, err
	}

	return len(b), nil
}

type readAdapter struct {
	sub    io.ReaderAt
	offset int64
}

func (ra *readAdapter) Read(b []byte) (int, error) {
	n, err := ra.sub.ReadAt(b, ra.offset)
	ra.offset += int64(n)
	return n, err
}

type writeAdapter struct {
	sub    io.WriterAt
	offset int64
}

func (w *writeAdapter) Write(b []byte) (int, error) {
	n, err := w.sub.WriteAt(b, w.offset)
	w.offset += int64(n)
	return n, err
}

func (vm *VirtualMemory) CopyOut(addr uint32, val interface{}) error {
	return binary.Write(&writeAdapter{sub: vm, offset: int64(addr)}, binary.LittleEndian, val)
}

func (vm *VirtualMemory) CopyIn(addr uint32, val interface{}) error {
	return binary.Read(&readAdapter{sub: vm, offset: int64(addr)}, binary.LittleEndian, val)
}
