package kernel

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/evanphx/userprog/config"
	"github.com/evanphx/userprog/device"
	"github.com/evanphx/userprog/fs"
	"github.com/evanphx/userprog/fs/memfs"
	"github.com/evanphx/userprog/memory"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/vektra/neko"
)

var errNoProgram = errors.New("no such program")

type fakeLoader struct {
	mu       sync.Mutex
	programs map[string]Program
}

func (l *fakeLoader) Load(ctx context.Context, fsys fs.FileSystem, mem *memory.VirtualMemory, cmdline string) (*Image, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	name := commandName(cmdline)

	prog, ok := l.programs[name]
	if !ok {
		return nil, errNoProgram
	}

	return &Image{Name: name, Entry: prog}, nil
}

// exitTraps treats the frame's EAX as an exit request.
type exitTraps struct{}

func (exitTraps) HandleTrap(ctx context.Context, t *Task, f *Frame) error {
	if f.ESP == 0 {
		return ErrHalt
	}

	return Terminate(int32(f.EAX))
}

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

func newTestKernel(t *testing.T, programs map[string]Program) (*Kernel, *syncBuffer) {
	cfg := config.Default()
	cfg.Kernel.MaxProcesses = 8

	out := &syncBuffer{}

	k, err := NewKernel(Options{
		Config:  cfg,
		FS:      memfs.New(),
		Console: device.NewConsole(strings.NewReader(""), out),
		Loader:  &fakeLoader{programs: programs},
	})
	require.NoError(t, err)

	k.SetTrapHandler(exitTraps{})

	return k, out
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	return ctx
}

func TestLifecycle(t *testing.T) {
	n := neko.Modern(t)

	n.It("returns the status a child exits with", func(t *testing.T) {
		k, out := newTestKernel(t, map[string]Program{
			"child": func(t *Task) int32 {
				t.Trap(&Frame{ESP: 1, EAX: 42})
				return 0
			},
		})

		main, err := k.Boot()
		require.NoError(t, err)

		ctx := testContext(t)

		pid := main.Spawn(ctx, "child arg")
		require.NotEqual(t, int32(-1), pid)

		require.Equal(t, int32(42), main.Wait(ctx, pid))
		require.Contains(t, out.String(), "child: exit(42)\n")
	})

	n.It("uses the program's return value as its status", func(t *testing.T) {
		k, _ := newTestKernel(t, map[string]Program{
			"child": func(t *Task) int32 { return 7 },
		})

		main, err := k.Boot()
		require.NoError(t, err)

		ctx := testContext(t)

		pid := main.Spawn(ctx, "child")
		require.Equal(t, int32(7), main.Wait(ctx, pid))
	})

	n.It("only lets a child be waited for once", func(t *testing.T) {
		k, _ := newTestKernel(t, map[string]Program{
			"child": func(t *Task) int32 { return 3 },
		})

		main, err := k.Boot()
		require.NoError(t, err)

		ctx := testContext(t)

		pid := main.Spawn(ctx, "child")

		require.Equal(t, int32(3), main.Wait(ctx, pid))
		require.Equal(t, int32(-1), main.Wait(ctx, pid))
		require.Empty(t, main.Children())
	})

	n.It("refuses to wait on -1 or a non-child", func(t *testing.T) {
		k, _ := newTestKernel(t, nil)

		main, err := k.Boot()
		require.NoError(t, err)

		ctx := testContext(t)

		require.Equal(t, int32(-1), main.Wait(ctx, -1))
		require.Equal(t, int32(-1), main.Wait(ctx, main.Pid))
		require.Equal(t, int32(-1), main.Wait(ctx, 12345))
	})

	n.It("does not let a grandparent wait on a grandchild", func(t *testing.T) {
		grandchild := make(chan int32, 1)
		release := make(chan struct{})

		k, _ := newTestKernel(t, map[string]Program{
			"leaf": func(t *Task) int32 {
				<-release
				return 1
			},
			"middle": func(t *Task) int32 {
				pid := t.Spawn(t.Context(), "leaf")
				grandchild <- pid
				return t.Wait(t.Context(), pid)
			},
		})

		main, err := k.Boot()
		require.NoError(t, err)

		ctx := testContext(t)

		pid := main.Spawn(ctx, "middle")

		gpid := <-grandchild
		require.Equal(t, int32(-1), main.Wait(ctx, gpid))

		close(release)

		require.Equal(t, int32(1), main.Wait(ctx, pid))
	})

	n.It("blocks the parent until the child exits", func(t *testing.T) {
		release := make(chan struct{})

		k, _ := newTestKernel(t, map[string]Program{
			"slow": func(t *Task) int32 {
				<-release
				return 9
			},
		})

		main, err := k.Boot()
		require.NoError(t, err)

		ctx := testContext(t)

		pid := main.Spawn(ctx, "slow")

		result := make(chan int32, 1)
		go func() { result <- main.Wait(ctx, pid) }()

		select {
		case <-result:
			t.Fatal("wait returned before the child exited")
		case <-time.After(20 * time.Millisecond):
		}

		close(release)

		require.Equal(t, int32(9), <-result)
	})

	n.It("returns -1 from exec when the program does not load", func(t *testing.T) {
		k, _ := newTestKernel(t, nil)

		main, err := k.Boot()
		require.NoError(t, err)

		ctx := testContext(t)

		require.Equal(t, int32(-1), main.Spawn(ctx, "missing"))
		require.Empty(t, main.Children())
	})

	n.It("returns -1 from exec when the process limit is reached", func(t *testing.T) {
		release := make(chan struct{})
		defer close(release)

		k, _ := newTestKernel(t, map[string]Program{
			"idle": func(t *Task) int32 {
				<-release
				return 0
			},
		})

		main, err := k.Boot()
		require.NoError(t, err)

		ctx := testContext(t)

		for i := 1; i < k.Config().Kernel.MaxProcesses; i++ {
			require.NotEqual(t, int32(-1), main.Spawn(ctx, "idle"))
		}

		require.Equal(t, int32(-1), main.Spawn(ctx, "idle"))
		require.Len(t, main.Children(), k.Config().Kernel.MaxProcesses-1)
	})

	n.It("terminates a panicking program with -1", func(t *testing.T) {
		k, out := newTestKernel(t, map[string]Program{
			"bad": func(t *Task) int32 { panic("boom") },
		})

		main, err := k.Boot()
		require.NoError(t, err)

		ctx := testContext(t)

		pid := main.Spawn(ctx, "bad")
		require.Equal(t, int32(-1), main.Wait(ctx, pid))
		require.Contains(t, out.String(), "bad: exit(-1)\n")
	})

	n.It("removes exited processes from the registry", func(t *testing.T) {
		k, _ := newTestKernel(t, map[string]Program{
			"child": func(t *Task) int32 { return 0 },
		})

		main, err := k.Boot()
		require.NoError(t, err)

		ctx := testContext(t)

		pid := main.Spawn(ctx, "child")
		main.Wait(ctx, pid)

		require.NoError(t, k.Drain(ctx))

		_, ok := k.Processes().Lookup(pid)
		require.False(t, ok)
		require.Equal(t, []int32{main.Pid}, k.Processes().Pids())
	})

	n.It("drops the records of children a parent never waited for", func(t *testing.T) {
		release := make(chan struct{})
		spawned := make(chan int32, 1)

		k, _ := newTestKernel(t, map[string]Program{
			"orphan": func(t *Task) int32 {
				<-release
				return 5
			},
			"parent": func(t *Task) int32 {
				spawned <- t.Spawn(t.Context(), "orphan")
				return 0
			},
		})

		main, err := k.Boot()
		require.NoError(t, err)

		ctx := testContext(t)

		pid := main.Spawn(ctx, "parent")
		orphan := <-spawned
		require.Equal(t, int32(0), main.Wait(ctx, pid))

		// The orphan outlives its parent and exits into a record nobody holds.
		close(release)

		require.NoError(t, k.Drain(ctx))

		_, ok := k.Processes().Lookup(orphan)
		require.False(t, ok)
	})

	n.It("keeps sibling exec calls apart", func(t *testing.T) {
		k, _ := newTestKernel(t, map[string]Program{
			"a": func(t *Task) int32 { return 10 },
			"b": func(t *Task) int32 { return 20 },
			"spawner": func(t *Task) int32 {
				name := "a"
				if t.Pid%2 == 0 {
					name = "b"
				}

				pid := t.Spawn(t.Context(), name)
				if pid == -1 {
					return -100
				}

				return t.Wait(t.Context(), pid)
			},
		})

		main, err := k.Boot()
		require.NoError(t, err)

		ctx := testContext(t)

		p1 := main.Spawn(ctx, "spawner")
		p2 := main.Spawn(ctx, "spawner")

		expect := func(pid int32) int32 {
			if pid%2 == 0 {
				return 20
			}
			return 10
		}

		require.Equal(t, expect(p1), main.Wait(ctx, p1))
		require.Equal(t, expect(p2), main.Wait(ctx, p2))
	})

	n.It("releases blocked waiters when the machine halts", func(t *testing.T) {
		k, out := newTestKernel(t, map[string]Program{
			"forever": func(t *Task) int32 {
				<-t.Kernel.Halted()
				t.Trap(&Frame{ESP: 1, EAX: 0})
				return 0
			},
			"halter": func(t *Task) int32 {
				t.Trap(&Frame{ESP: 0})
				return 0
			},
		})

		main, err := k.Boot()
		require.NoError(t, err)

		ctx := testContext(t)

		pid := main.Spawn(ctx, "forever")

		result := make(chan int32, 1)
		go func() { result <- main.Wait(main.Context(), pid) }()

		hpid := main.Spawn(ctx, "halter")
		require.NotEqual(t, int32(-1), hpid)

		// The halter's trap returns ErrHalt; power off the way the halt
		// syscall would.
		k.PowerOff()

		require.Equal(t, int32(-1), <-result)
		require.NoError(t, k.Drain(ctx))
		require.NotContains(t, out.String(), "forever: exit")
	})

	n.It("publishes child pids under the parent's lock", func(t *testing.T) {
		k, _ := newTestKernel(t, map[string]Program{
			"child": func(t *Task) int32 { return 0 },
		})

		main, err := k.Boot()
		require.NoError(t, err)

		ctx := testContext(t)

		stop := make(chan struct{})
		done := make(chan struct{})

		go func() {
			defer close(done)

			for {
				select {
				case <-stop:
					return
				default:
					main.Children()
				}
			}
		}()

		for i := 0; i < 5; i++ {
			pid := main.Spawn(ctx, "child")
			require.NotEqual(t, int32(-1), pid)
			require.Contains(t, main.Children(), pid)
			require.Equal(t, int32(0), main.Wait(ctx, pid))
		}

		close(stop)
		<-done
	})

	n.It("names a process by its quoted program name", func(t *testing.T) {
		k, out := newTestKernel(t, nil)

		main, err := k.Boot()
		require.NoError(t, err)

		ctx := testContext(t)

		require.Equal(t, int32(-1), main.Spawn(ctx, `"no such" arg`))
		require.NoError(t, k.Drain(ctx))
		require.Contains(t, out.String(), "no such: exit(-1)\n")
	})

	n.Meow()
}

func TestRunInit(t *testing.T) {
	n := neko.Modern(t)

	n.It("runs init to completion", func(t *testing.T) {
		k, _ := newTestKernel(t, map[string]Program{
			"init": func(t *Task) int32 { return 4 },
		})

		ctx := testContext(t)

		status, err := k.RunInit(ctx, "init")
		require.NoError(t, err)
		require.Equal(t, int32(4), status)

		require.NoError(t, k.Drain(ctx))
		require.Equal(t, 0, k.Processes().Len())
	})

	n.It("fails when init does not load", func(t *testing.T) {
		k, _ := newTestKernel(t, nil)

		_, err := k.RunInit(testContext(t), "nope")
		require.Equal(t, ErrInitFailed, errors.Cause(err))
	})

	n.Meow()
}
