package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vektra/neko"
)

func TestConfig(t *testing.T) {
	n := neko.Modern(t)

	write := func(t *testing.T, body string) string {
		dir, err := ioutil.TempDir("", "userprog")
		require.NoError(t, err)

		t.Cleanup(func() { os.RemoveAll(dir) })

		path := filepath.Join(dir, "userprog.toml")
		require.NoError(t, ioutil.WriteFile(path, []byte(body), 0644))

		return path
	}

	n.It("provides defaults", func(t *testing.T) {
		c := Default()

		require.Equal(t, "info", c.LogLevel)
		require.Equal(t, DefaultMaxFiles, c.Kernel.MaxFiles)
		require.Equal(t, DefaultStackPages, c.Kernel.StackPages)
		require.True(t, c.Kernel.ExitMessages)
		require.Equal(t, int64(DefaultDiskCapacity), c.Disk.Capacity)
	})

	n.It("loads a file over the defaults", func(t *testing.T) {
		path := write(t, `
log_level = "trace"

[kernel]
max_files = 16
exit_messages = false

[disk]
image = "disk.tar"
capacity = 4096

[init]
command = "echo hi"
`)

		c, err := Load(path)
		require.NoError(t, err)

		require.Equal(t, "trace", c.LogLevel)
		require.Equal(t, 16, c.Kernel.MaxFiles)
		require.False(t, c.Kernel.ExitMessages)
		require.Equal(t, DefaultMaxProcesses, c.Kernel.MaxProcesses)
		require.Equal(t, "disk.tar", c.Disk.Image)
		require.Equal(t, int64(4096), c.Disk.Capacity)
		require.Equal(t, "echo hi", c.Init.Command)
	})

	n.It("rejects a descriptor table with no room for files", func(t *testing.T) {
		path := write(t, "[kernel]\nmax_files = 2\n")

		_, err := Load(path)
		require.Error(t, err)
	})

	n.It("rejects a negative disk capacity", func(t *testing.T) {
		path := write(t, "[disk]\ncapacity = -1\n")

		_, err := Load(path)
		require.Error(t, err)
	})

	n.Meow()
}
