package kernel

import (
	"github.com/evanphx/userprog/fs"
	"github.com/evanphx/userprog/log"
)

const (
	StdinFD  = 0
	StdoutFD = 1

	// FirstFD is the first descriptor open hands out.
	FirstFD = 2
)

// FileTable maps small integers to open files. It belongs to one process
// and is only touched from that process's thread. Descriptors are handed
// out in increasing order and never reused; closing one only empties its
// slot.
type FileTable struct {
	files []fs.File
	next  int
}

func NewFileTable(size int) *FileTable {
	return &FileTable{
		files: make([]fs.File, size),
		next:  FirstFD,
	}
}

func (ft *FileTable) Install(f fs.File) (int, error) {
	if ft.next >= len(ft.files) {
		return -1, ErrTooManyFiles
	}

	fd := ft.next
	ft.files[fd] = f
	ft.next++

	return fd, nil
}

// Get returns the file open at fd. Console descriptors, descriptors that
// were never handed out and closed descriptors all miss.
func (ft *FileTable) Get(fd int) (fs.File, bool) {
	if fd < FirstFD || fd >= ft.next {
		return nil, false
	}

	f := ft.files[fd]
	if f == nil {
		return nil, false
	}

	return f, true
}

func (ft *FileTable) Close(fd int) error {
	f, ok := ft.Get(fd)
	if !ok {
		return ErrUnknownFile
	}

	ft.files[fd] = nil

	return f.Close()
}

func (ft *FileTable) Len() int {
	var n int

	for _, f := range ft.files {
		if f != nil {
			n++
		}
	}

	return n
}

func (ft *FileTable) CloseAll() {
	for fd, f := range ft.files {
		if f == nil {
			continue
		}

		ft.files[fd] = nil

		if err := f.Close(); err != nil {
			log.L.Error("error closing file during exit", "fd", fd, "error", err)
		}
	}
}
