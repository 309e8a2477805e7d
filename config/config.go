package config

import (
	"io/ioutil"

	"github.com/naoina/toml"
	"github.com/pkg/errors"
)

const (
	DefaultMaxFiles     = 128
	DefaultMaxProcesses = 64
	DefaultStackPages   = 1
	DefaultCacheSize    = 32

	DefaultDiskCapacity = 16 << 20
)

type Kernel struct {
	// MaxFiles is the size of each process's descriptor table, including
	// the two console descriptors.
	MaxFiles int `toml:"max_files"`

	// MaxProcesses bounds the number of live processes; exec fails beyond it.
	MaxProcesses int `toml:"max_processes"`

	StackPages int `toml:"stack_pages"`

	// ExitMessages prints "name: exit(status)" when a process exits.
	ExitMessages bool `toml:"exit_messages"`
}

type Loader struct {
	CacheSize int `toml:"cache_size"`
}

type Config struct {
	LogLevel string `toml:"log_level"`

	Kernel Kernel `toml:"kernel"`
	Loader Loader `toml:"loader"`

	Disk struct {
		Image string `toml:"image"`

		// Capacity is the number of bytes user programs can create files
		// with.
		Capacity int64 `toml:"capacity"`
	} `toml:"disk"`

	Init struct {
		Command string `toml:"command"`
	} `toml:"init"`
}

func Default() *Config {
	c := &Config{}
	c.Kernel.ExitMessages = true
	c.Validate()

	return c
}

// Validate fills in defaults and rejects values the kernel can't run with.
func (c *Config) Validate() error {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	if c.Kernel.MaxFiles == 0 {
		c.Kernel.MaxFiles = DefaultMaxFiles
	}

	if c.Kernel.MaxProcesses == 0 {
		c.Kernel.MaxProcesses = DefaultMaxProcesses
	}

	if c.Kernel.StackPages == 0 {
		c.Kernel.StackPages = DefaultStackPages
	}

	if c.Loader.CacheSize == 0 {
		c.Loader.CacheSize = DefaultCacheSize
	}

	if c.Disk.Capacity == 0 {
		c.Disk.Capacity = DefaultDiskCapacity
	}

	if c.Disk.Capacity < 0 {
		return errors.Errorf("disk.capacity must be positive, got %d", c.Disk.Capacity)
	}

	if c.Kernel.MaxFiles < 3 {
		return errors.Errorf("kernel.max_files must leave room past the console descriptors, got %d", c.Kernel.MaxFiles)
	}

	if c.Kernel.MaxProcesses < 1 {
		return errors.Errorf("kernel.max_processes must be positive, got %d", c.Kernel.MaxProcesses)
	}

	if c.Kernel.StackPages < 1 {
		return errors.Errorf("kernel.stack_pages must be positive, got %d", c.Kernel.StackPages)
	}

	return nil
}

// Load reads a TOML config file on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}

	c := &Config{}
	c.Kernel.ExitMessages = true

	if err := toml.Unmarshal(data, c); err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}

	if err := c.Validate(); err != nil {
		return nil, errors.Wrapf(err, "validating %s", path)
	}

	return c, nil
}
