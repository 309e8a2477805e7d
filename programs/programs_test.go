package programs

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/evanphx/userprog/config"
	"github.com/evanphx/userprog/device"
	"github.com/evanphx/userprog/fs/memfs"
	"github.com/evanphx/userprog/kernel"
	"github.com/evanphx/userprog/loader"
	"github.com/evanphx/userprog/syscalls"
	"github.com/stretchr/testify/require"
	"github.com/vektra/neko"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.buf.Write(b)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.buf.String()
}

func runInit(t *testing.T, disk *memfs.FS, cmdline string) (int32, string, *kernel.Kernel) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg := config.Default()

	ld := loader.NewLoader(loader.NewCache(cfg.Loader.CacheSize), cfg.Kernel.StackPages)
	require.NoError(t, Install(ctx, disk, ld))

	out := &syncBuffer{}

	k, err := kernel.NewKernel(kernel.Options{
		Config:  cfg,
		FS:      disk,
		Console: device.NewConsole(strings.NewReader(""), out),
		Loader:  ld,
	})
	require.NoError(t, err)

	k.SetTrapHandler(syscalls.NewInvoker(k))

	status, err := k.RunInit(ctx, cmdline)
	require.NoError(t, err)
	require.NoError(t, k.Drain(ctx))

	return status, out.String(), k
}

func TestBuiltins(t *testing.T) {
	n := neko.Modern(t)

	n.It("installs an image for each builtin", func(t *testing.T) {
		disk := memfs.New()
		require.NoError(t, disk.WriteFile("echo", []byte("mine")))

		ld := loader.NewLoader(nil, 1)
		require.NoError(t, Install(context.Background(), disk, ld))

		require.ElementsMatch(t, []string{"echo", "cat", "run", "halt", "exit"}, disk.Names())

		f, err := disk.Open(context.Background(), "echo")
		require.NoError(t, err)
		require.Equal(t, int64(4), f.Length())
	})

	n.It("echoes its arguments", func(t *testing.T) {
		status, out, _ := runInit(t, memfs.New(), `echo hello "big world"`)
		require.Equal(t, int32(0), status)
		require.Equal(t, "hello big world\necho: exit(0)\n", out)
	})

	n.It("prints files", func(t *testing.T) {
		disk := memfs.New()
		require.NoError(t, disk.WriteFile("a", []byte(strings.Repeat("a", 100))))
		require.NoError(t, disk.WriteFile("b", []byte("bee\n")))

		status, out, _ := runInit(t, disk, "cat a nope b")
		require.Equal(t, int32(1), status)
		require.Equal(t, strings.Repeat("a", 100)+"cat: nope: no such file\nbee\ncat: exit(1)\n", out)
	})

	n.It("runs a child and passes on its status", func(t *testing.T) {
		status, out, _ := runInit(t, memfs.New(), "run run exit 9")
		require.Equal(t, int32(9), status)
		require.Equal(t, "exit: exit(9)\nrun: exit(9)\nrun: exit(9)\n", out)
	})

	n.It("keeps quoted arguments intact when it runs a child", func(t *testing.T) {
		disk := memfs.New()
		require.NoError(t, disk.WriteFile("my file", []byte("inside\n")))

		status, out, _ := runInit(t, disk, `run cat "my file"`)
		require.Equal(t, int32(0), status)
		require.Equal(t, "inside\ncat: exit(0)\nrun: exit(0)\n", out)
	})

	n.It("quotes command lines so they split back into the same argv", func(t *testing.T) {
		argv := []string{"echo", "a b", "it's", "", `back\slash`, "#x", "plain"}

		line := commandLine(argv)

		split, err := loader.ParseCommandLine(line)
		require.NoError(t, err)
		require.Equal(t, argv, split)
	})

	n.It("halts", func(t *testing.T) {
		status, _, k := runInit(t, memfs.New(), "run halt")
		require.Equal(t, int32(-1), status)
		require.True(t, k.IsHalted())
	})

	n.Meow()
}
