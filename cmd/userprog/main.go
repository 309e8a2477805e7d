package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/evanphx/userprog/config"
	"github.com/evanphx/userprog/device"
	"github.com/evanphx/userprog/fs/memfs"
	"github.com/evanphx/userprog/fs/tarfs"
	"github.com/evanphx/userprog/kernel"
	"github.com/evanphx/userprog/loader"
	"github.com/evanphx/userprog/log"
	"github.com/evanphx/userprog/programs"
	"github.com/evanphx/userprog/syscalls"
	"github.com/spf13/pflag"
	"golang.org/x/term"
)

var (
	fConfig   = pflag.StringP("config", "c", "", "path to a TOML config file")
	fDisk     = pflag.StringP("disk", "d", "", "tar archive to use as the disk")
	fLogLevel = pflag.StringP("log-level", "l", "", "log level (trace, debug, info, warn, error)")
	fQuiet    = pflag.BoolP("quiet", "q", false, "don't print exit messages")
)

const drainTimeout = 2 * time.Second

// crlf translates newlines for a terminal in raw mode.
type crlf struct {
	w io.Writer
}

func (c crlf) Write(b []byte) (int, error) {
	_, err := c.w.Write(bytes.ReplaceAll(b, []byte("\n"), []byte("\r\n")))
	if err != nil {
		return 0, err
	}

	return len(b), nil
}

func loadConfig() (*config.Config, error) {
	cfg := config.Default()

	if *fConfig != "" {
		var err error

		cfg, err = config.Load(*fConfig)
		if err != nil {
			return nil, err
		}
	}

	if *fDisk != "" {
		cfg.Disk.Image = *fDisk
	}

	if *fLogLevel != "" {
		cfg.LogLevel = *fLogLevel
	}

	if *fQuiet {
		cfg.Kernel.ExitMessages = false
	}

	if args := pflag.Args(); len(args) > 0 {
		cfg.Init.Command = strings.Join(args, " ")
	}

	return cfg, nil
}

func loadDisk(path string) (*memfs.FS, error) {
	if path == "" {
		return memfs.New(), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	defer f.Close()

	return tarfs.NewTarFS(f)
}

func run() int {
	pflag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		log.L.Error("error loading config", "error", err)
		return 1
	}

	log.SetLevel(cfg.LogLevel)

	if cfg.Init.Command == "" {
		fmt.Fprintf(os.Stderr, "usage: userprog [flags] command [args...]\n")
		pflag.PrintDefaults()
		return 2
	}

	ctx := context.Background()

	disk, err := loadDisk(cfg.Disk.Image)
	if err != nil {
		log.L.Error("error loading disk", "path", cfg.Disk.Image, "error", err)
		return 1
	}

	disk.SetCapacity(cfg.Disk.Capacity)

	ld := loader.NewLoader(loader.NewCache(cfg.Loader.CacheSize), cfg.Kernel.StackPages)

	if err := programs.Install(ctx, disk, ld); err != nil {
		log.L.Error("error installing programs", "error", err)
		return 1
	}

	var out io.Writer = os.Stdout

	if fd := int(os.Stdin.Fd()); term.IsTerminal(fd) {
		state, err := term.MakeRaw(fd)
		if err != nil {
			log.L.Error("error setting up terminal", "error", err)
			return 1
		}

		defer term.Restore(fd, state)

		out = crlf{os.Stdout}
	}

	k, err := kernel.NewKernel(kernel.Options{
		Config:  cfg,
		FS:      disk,
		Console: device.NewConsole(os.Stdin, out),
		Loader:  ld,
	})
	if err != nil {
		log.L.Error("error creating kernel", "error", err)
		return 1
	}

	k.SetTrapHandler(syscalls.NewInvoker(k))

	status, err := k.RunInit(ctx, cfg.Init.Command)
	if err != nil {
		log.L.Error("error running init", "error", err)
		return 1
	}

	// Init is gone; anything it left running is stopped at its next trap.
	k.PowerOff()

	dctx, cancel := context.WithTimeout(ctx, drainTimeout)
	defer cancel()

	if err := k.Drain(dctx); err != nil {
		log.L.Warn("processes still running at power off", "error", err)
	}

	if status < 0 || status > 255 {
		return 1
	}

	return int(status)
}

func main() {
	os.Exit(run())
}
