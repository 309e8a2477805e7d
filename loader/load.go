package loader

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"sync"

	"github.com/evanphx/userprog/fs"
	"github.com/evanphx/userprog/kernel"
	"github.com/evanphx/userprog/log"
	"github.com/evanphx/userprog/memory"
	"github.com/google/shlex"
	hclog "github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

// Magic starts the first line of every executable image. The rest of the
// line names the entry point.
const Magic = "#!userprog "

var (
	ErrEmptyCommand = errors.New("empty command line")
	ErrBadImage     = errors.New("not an executable image")
	ErrUnknownEntry = errors.New("unknown entry point")
	ErrArgsTooLong  = errors.New("arguments do not fit on the stack")
)

type header struct {
	Entry string
}

func ParseCommandLine(cmdline string) ([]string, error) {
	argv, err := shlex.Split(cmdline)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %q", cmdline)
	}

	if len(argv) == 0 {
		return nil, ErrEmptyCommand
	}

	return argv, nil
}

type Loader struct {
	L hclog.Logger

	stackPages int
	cache      *Cache

	mu       sync.RWMutex
	programs map[string]kernel.Program
}

func NewLoader(cache *Cache, stackPages int) *Loader {
	if stackPages < 1 {
		stackPages = 1
	}

	return &Loader{
		L:          log.L.Named("loader"),
		stackPages: stackPages,
		cache:      cache,
		programs:   make(map[string]kernel.Program),
	}
}

// Register makes prog available as the entry point called entry.
func (l *Loader) Register(entry string, prog kernel.Program) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.programs[entry] = prog
}

func (l *Loader) lookupEntry(entry string) (kernel.Program, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	prog, ok := l.programs[entry]
	return prog, ok
}

func parseHeader(data []byte) (*header, error) {
	if !bytes.HasPrefix(data, []byte(Magic)) {
		return nil, ErrBadImage
	}

	line := data[len(Magic):]
	if i := bytes.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}

	entry := string(bytes.TrimSpace(line))
	if entry == "" {
		return nil, errors.Wrap(ErrBadImage, "missing entry point")
	}

	return &header{Entry: entry}, nil
}

func readImage(ctx context.Context, fsys fs.FileSystem, name string) ([]byte, error) {
	f, err := fsys.Open(ctx, name)
	if err != nil {
		return nil, err
	}

	defer f.Close()

	data := make([]byte, f.Length())

	_, err = io.ReadFull(f, data)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", name)
	}

	return data, nil
}

func (l *Loader) header(data []byte) (*header, error) {
	var key string

	if l.cache != nil {
		sum := blake2b.Sum256(data)
		key = base64.URLEncoding.EncodeToString(sum[:])

		if h, ok := l.cache.Lookup(key); ok {
			l.L.Trace("image-cache-hit", "key", key)
			return h, nil
		}
	}

	h, err := parseHeader(data)
	if err != nil {
		return nil, err
	}

	if l.cache != nil {
		l.cache.Set(key, h)
	}

	return h, nil
}

func (l *Loader) Load(ctx context.Context, fsys fs.FileSystem, mem *memory.VirtualMemory, cmdline string) (*kernel.Image, error) {
	argv, err := ParseCommandLine(cmdline)
	if err != nil {
		return nil, err
	}

	data, err := readImage(ctx, fsys, argv[0])
	if err != nil {
		return nil, err
	}

	h, err := l.header(data)
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s", argv[0])
	}

	prog, ok := l.lookupEntry(h.Entry)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownEntry, "%s wants %q", argv[0], h.Entry)
	}

	esp, err := setupStack(mem, argv, l.stackPages)
	if err != nil {
		return nil, err
	}

	l.L.Trace("image-loaded", "name", argv[0], "entry", h.Entry, "argc", len(argv))

	return &kernel.Image{
		Name:  argv[0],
		Entry: prog,
		ESP:   esp,
	}, nil
}

// setupStack maps the user stack just below PhysBase and lays out the
// arguments the way a C start routine expects them: the argument strings
// at the top, then word aligned argv[argc] = NULL, argv[argc-1] ... argv[0],
// a pointer to argv[0], argc, and a zero return address at the returned
// stack pointer.
func setupStack(mem *memory.VirtualMemory, argv []string, pages int) (uint32, error) {
	size := uint32(pages) * memory.PageSize
	bottom := uint32(memory.PhysBase) - size

	strSize := 0
	for _, arg := range argv {
		strSize += len(arg) + 1
	}

	frameSize := (strSize+3)&^3 +
		4*(len(argv)+1) + // argv[] and its NULL
		4 + // argv
		4 + // argc
		4 // return address

	if uint32(frameSize) > size {
		return 0, errors.Wrapf(ErrArgsTooLong, "need %d bytes, have %d", frameSize, size)
	}

	if err := mem.MapRange(bottom, size); err != nil {
		return 0, err
	}

	esp := uint32(memory.PhysBase)

	ptrs := make([]uint32, len(argv)+1)

	for i := len(argv) - 1; i >= 0; i-- {
		esp -= uint32(len(argv[i]) + 1)
		ptrs[i] = esp

		if _, err := mem.WriteAt(append([]byte(argv[i]), 0), int64(esp)); err != nil {
			return 0, err
		}
	}

	esp &^= 3

	esp -= uint32(4 * len(ptrs))
	argvAddr := esp

	if err := mem.CopyOut(argvAddr, ptrs); err != nil {
		return 0, err
	}

	esp -= 12

	var frame [3]uint32
	frame[1] = uint32(len(argv))
	frame[2] = argvAddr

	if err := mem.CopyOut(esp, frame); err != nil {
		return 0, err
	}

	return esp, nil
}

// ReadArgs recovers argv from a stack built by setupStack.
func ReadArgs(mem *memory.VirtualMemory, esp uint32) ([]string, error) {
	var frame [3]uint32

	if err := mem.CopyIn(esp, &frame); err != nil {
		return nil, err
	}

	v := memory.Validator{PD: mem}

	argc, argvAddr := frame[1], frame[2]

	args := make([]string, 0, argc)

	for i := uint32(0); i < argc; i++ {
		ptr, err := v.ReadWord(argvAddr + 4*i)
		if err != nil {
			return nil, err
		}

		str, err := v.ReadCString(ptr, memory.PageSize)
		if err != nil {
			return nil, err
		}

		args = append(args, string(str))
	}

	return args, nil
}
