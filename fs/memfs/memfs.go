// Package memfs is a flat, in-memory file system. Files have the length they
// were created with; writes stop at end of file rather than extending it.
package memfs

import (
	"context"
	"io"

	"github.com/evanphx/userprog/fs"
	"github.com/pkg/errors"
)

type inode struct {
	name string
	data []byte
}

// DefaultCapacity is the number of file bytes a new FS can hold.
const DefaultCapacity = 16 << 20

type FS struct {
	files map[string]*inode

	capacity int64
	used     int64
}

func New() *FS {
	return &FS{
		files:    make(map[string]*inode),
		capacity: DefaultCapacity,
	}
}

// SetCapacity bounds the bytes Create may allocate. Files already on the
// disk keep their space even if that puts it over the new limit.
func (m *FS) SetCapacity(n int64) {
	m.capacity = n
}

// Used is the number of bytes held by files that have not been removed.
func (m *FS) Used() int64 {
	return m.used
}

func (m *FS) Create(ctx context.Context, name string, size int64) error {
	if err := fs.ValidName(name); err != nil {
		return err
	}

	if size < 0 {
		return errors.Errorf("negative size %d", size)
	}

	if _, ok := m.files[name]; ok {
		return errors.Wrapf(fs.ErrExists, "name: %s", name)
	}

	if size > m.capacity-m.used {
		return errors.Wrapf(fs.ErrNoSpace, "name: %s, size: %d, free: %d", name, size, m.capacity-m.used)
	}

	m.files[name] = &inode{name: name, data: make([]byte, size)}
	m.used += size

	return nil
}

// WriteFile creates name holding exactly data, replacing any old file.
// It populates the disk from the host and is not held to the capacity.
func (m *FS) WriteFile(name string, data []byte) error {
	if err := fs.ValidName(name); err != nil {
		return err
	}

	if old, ok := m.files[name]; ok {
		m.used -= int64(len(old.data))
	}

	m.files[name] = &inode{name: name, data: append([]byte(nil), data...)}
	m.used += int64(len(data))

	return nil
}

// Remove unlinks name. Handles that are already open keep working.
func (m *FS) Remove(ctx context.Context, name string) error {
	ino, ok := m.files[name]
	if !ok {
		return errors.Wrapf(fs.ErrUnknownPath, "name: %s", name)
	}

	delete(m.files, name)
	m.used -= int64(len(ino.data))

	return nil
}

func (m *FS) Open(ctx context.Context, name string) (fs.File, error) {
	ino, ok := m.files[name]
	if !ok {
		return nil, errors.Wrapf(fs.ErrUnknownPath, "name: %s", name)
	}

	return &File{ino: ino}, nil
}

func (m *FS) Names() []string {
	var names []string

	for name := range m.files {
		names = append(names, name)
	}

	return names
}

type File struct {
	ino    *inode
	pos    int64
	closed bool
}

func (f *File) Read(b []byte) (int, error) {
	if f.closed {
		return 0, fs.ErrClosed
	}

	if f.pos >= int64(len(f.ino.data)) {
		if len(b) == 0 {
			return 0, nil
		}

		return 0, io.EOF
	}

	n := copy(b, f.ino.data[f.pos:])
	f.pos += int64(n)

	return n, nil
}

func (f *File) Write(b []byte) (int, error) {
	if f.closed {
		return 0, fs.ErrClosed
	}

	var n int

	if f.pos < int64(len(f.ino.data)) {
		n = copy(f.ino.data[f.pos:], b)
		f.pos += int64(n)
	}

	if n < len(b) {
		return n, io.ErrShortWrite
	}

	return n, nil
}

func (f *File) Seek(pos int64) {
	if pos < 0 {
		pos = 0
	}

	f.pos = pos
}

func (f *File) Tell() int64 {
	return f.pos
}

func (f *File) Length() int64 {
	return int64(len(f.ino.data))
}

func (f *File) Close() error {
	if f.closed {
		return fs.ErrClosed
	}

	f.closed = true

	return nil
}
