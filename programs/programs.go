// Package programs holds the user programs that ship with the kernel.
package programs

import (
	"context"
	"strconv"
	"strings"

	"github.com/evanphx/userprog/fs"
	"github.com/evanphx/userprog/fs/memfs"
	"github.com/evanphx/userprog/kernel"
	"github.com/evanphx/userprog/loader"
	"github.com/evanphx/userprog/ulib"
	"github.com/pkg/errors"
)

var Builtin = map[string]func(u *ulib.Proc) int32{
	"echo": echo,
	"cat":  cat,
	"run":  run,
	"halt": halt,
	"exit": exit,
}

// Install registers every builtin with ld and gives each one an image on
// disk, unless the disk already carries a file by that name.
func Install(ctx context.Context, disk *memfs.FS, ld *loader.Loader) error {
	for name, fn := range Builtin {
		ld.Register(name, ulib.Main(fn))

		f, err := disk.Open(ctx, name)
		if err == nil {
			f.Close()
			continue
		}

		if errors.Cause(err) != fs.ErrUnknownPath {
			return err
		}

		if err := disk.WriteFile(name, []byte(loader.Magic+name+"\n")); err != nil {
			return errors.Wrapf(err, "installing %s", name)
		}
	}

	return nil
}

func echo(u *ulib.Proc) int32 {
	u.Puts(strings.Join(u.Args()[1:], " ") + "\n")
	return 0
}

func cat(u *ulib.Proc) int32 {
	var status int32

	buf := make([]byte, 64)

	for _, name := range u.Args()[1:] {
		fd := u.Open(name)
		if fd == -1 {
			u.Puts("cat: " + name + ": no such file\n")
			status = 1
			continue
		}

		for {
			n := u.Read(fd, buf)
			if n <= 0 {
				break
			}

			u.Write(kernel.StdoutFD, buf[:n])
		}

		u.Close(fd)
	}

	return status
}

// run execs the rest of its command line and exits with the child's status.
func run(u *ulib.Proc) int32 {
	args := u.Args()
	if len(args) < 2 {
		u.Puts("usage: run command [args...]\n")
		return -1
	}

	pid := u.Exec(commandLine(args[1:]))
	if pid == -1 {
		return -1
	}

	return u.Wait(pid)
}

// commandLine joins argv back into a command line that splits the same way.
func commandLine(argv []string) string {
	quoted := make([]string, len(argv))

	for i, arg := range argv {
		if arg != "" && !strings.ContainsAny(arg, " \t\n'\"\\#") {
			quoted[i] = arg
			continue
		}

		quoted[i] = "'" + strings.ReplaceAll(arg, "'", `'"'"'`) + "'"
	}

	return strings.Join(quoted, " ")
}

func halt(u *ulib.Proc) int32 {
	u.Halt()
	return 0
}

func exit(u *ulib.Proc) int32 {
	args := u.Args()
	if len(args) < 2 {
		return 0
	}

	status, err := strconv.ParseInt(args[1], 10, 32)
	if err != nil {
		return -1
	}

	u.Exit(int32(status))

	return 0
}
