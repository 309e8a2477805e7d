package fs

import (
	"context"
	"io"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrUnknownPath = errors.New("unknown path")
	ErrExists      = errors.New("file exists")
	ErrInvalidName = errors.New("invalid file name")
	ErrClosed      = errors.New("file already closed")
	ErrNoSpace     = errors.New("no space left on disk")
)

// NameMax is the longest file name the flat root directory accepts.
const NameMax = 14

// File is an open file handle. Reads and writes advance the position; a
// file's length is fixed when it is created.
type File interface {
	io.Reader
	io.Writer

	Seek(pos int64)
	Tell() int64
	Length() int64
	Close() error
}

// FileSystem is the file system collaborator the kernel consumes. It is not
// safe for concurrent use; wrap it with Locked.
type FileSystem interface {
	Create(ctx context.Context, name string, size int64) error
	Remove(ctx context.Context, name string) error
	Open(ctx context.Context, name string) (File, error)
}

func ValidName(name string) error {
	if name == "" || len(name) > NameMax || strings.ContainsRune(name, '/') {
		return errors.Wrapf(ErrInvalidName, "name: %q", name)
	}

	return nil
}
