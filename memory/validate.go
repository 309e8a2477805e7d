package memory

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

var (
	ErrNullPointer   = errors.New("null user pointer")
	ErrKernelAddress = errors.New("address outside user space")
	ErrUnmapped      = errors.New("unmapped user address")
	ErrStringTooLong = errors.New("user string exceeds limit")
)

// IsFault reports whether err came out of user memory validation.
func IsFault(err error) bool {
	switch errors.Cause(err) {
	case ErrNullPointer, ErrKernelAddress, ErrUnmapped, ErrStringTooLong:
		return true
	default:
		return false
	}
}

// Validator checks untrusted user addresses against a page directory
// before the kernel touches them. Nothing it hands back has skipped a check.
type Validator struct {
	PD PageDirectory
}

func (v Validator) Translate(uaddr uint32) ([]byte, error) {
	if uaddr == 0 {
		return nil, ErrNullPointer
	}

	if !IsUserVaddr(uaddr) {
		return nil, errors.Wrapf(ErrKernelAddress, "address=%#x", uaddr)
	}

	b, ok := v.PD.Translate(uaddr)
	if !ok {
		return nil, errors.Wrapf(ErrUnmapped, "address=%#x", uaddr)
	}

	return b, nil
}

// CheckRange validates [uaddr, uaddr+size). The first byte, the last byte
// and every page in between must be mapped user memory.
func (v Validator) CheckRange(uaddr, size uint32) error {
	if _, err := v.Translate(uaddr); err != nil {
		return err
	}

	if size == 0 {
		return nil
	}

	end := uint64(uaddr) + uint64(size) - 1
	if end >= PhysBase {
		return errors.Wrapf(ErrKernelAddress, "range address=%#x, size=%#x", uaddr, size)
	}

	last := uint32(end)

	for pg := PageRound(uaddr) + PageSize; pg < PageRound(last); pg += PageSize {
		if _, err := v.Translate(pg); err != nil {
			return err
		}
	}

	_, err := v.Translate(last)
	return err
}

// ReadWord reads a little-endian machine word, validating both its first
// and last byte.
func (v Validator) ReadWord(uaddr uint32) (uint32, error) {
	var buf [4]byte

	if err := v.ReadBytes(uaddr, buf[:]); err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(buf[:]), nil
}

func (v Validator) ReadBytes(uaddr uint32, buf []byte) error {
	if err := v.CheckRange(uaddr, uint32(len(buf))); err != nil {
		return err
	}

	return v.transfer(uaddr, buf, false)
}

func (v Validator) WriteBytes(uaddr uint32, data []byte) error {
	if err := v.CheckRange(uaddr, uint32(len(data))); err != nil {
		return err
	}

	return v.transfer(uaddr, data, true)
}

// transfer copies page by page; a buffer is only contiguous within a page.
func (v Validator) transfer(uaddr uint32, buf []byte, write bool) error {
	for len(buf) != 0 {
		ubuf, err := v.Translate(uaddr)
		if err != nil {
			return err
		}

		var c int
		if write {
			c = copy(ubuf, buf)
		} else {
			c = copy(buf, ubuf)
		}

		buf = buf[c:]
		uaddr += uint32(c)
	}

	return nil
}

// ReadCString reads a NUL terminated string of at most max bytes (not
// counting the terminator). Every page the string touches is translated,
// and the terminator's own address is checked before the string is
// trusted.
func (v Validator) ReadCString(uaddr uint32, max int) ([]byte, error) {
	var out []byte

	addr := uaddr

	for {
		ubuf, err := v.Translate(addr)
		if err != nil {
			return nil, err
		}

		for i, b := range ubuf {
			if b == 0 {
				if _, err := v.Translate(addr + uint32(i)); err != nil {
					return nil, err
				}

				return out, nil
			}

			out = append(out, b)

			if len(out) > max {
				return nil, errors.Wrapf(ErrStringTooLong, "address=%#x, max=%d", uaddr, max)
			}
		}

		addr += uint32(len(ubuf))
	}
}
