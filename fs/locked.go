package fs

import (
	"context"
	"sync"
)

// Locked serializes every call into a FileSystem, including calls on the
// files it opened, behind one lock.
type Locked struct {
	mu    sync.Mutex
	inner FileSystem
}

func NewLocked(inner FileSystem) *Locked {
	return &Locked{inner: inner}
}

func (l *Locked) Create(ctx context.Context, name string, size int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.inner.Create(ctx, name, size)
}

func (l *Locked) Remove(ctx context.Context, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.inner.Remove(ctx, name)
}

func (l *Locked) Open(ctx context.Context, name string) (File, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := l.inner.Open(ctx, name)
	if err != nil {
		return nil, err
	}

	return &lockedFile{mu: &l.mu, inner: f}, nil
}

type lockedFile struct {
	mu    *sync.Mutex
	inner File
}

func (f *lockedFile) Read(b []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.inner.Read(b)
}

func (f *lockedFile) Write(b []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.inner.Write(b)
}

func (f *lockedFile) Seek(pos int64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.inner.Seek(pos)
}

func (f *lockedFile) Tell() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.inner.Tell()
}

func (f *lockedFile) Length() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.inner.Length()
}

func (f *lockedFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.inner.Close()
}
